package visa

import (
	"io"
	"os"

	"github.com/gotmc/rfbench/lib/find"
	"github.com/pkg/errors"
)

// usbtmcNode finds the /dev/usbtmcN node of the device r names.
func usbtmcNode(r Resource, sysRoot string) (string, error) {
	filter := find.All(find.VIDPIDFilter(r.VID, r.PID), find.SerialFilter(r.Serial))
	dev, err := find.FindUSBTMC(sysRoot, filter)
	if err != nil {
		return "", errors.Wrapf(err, "locating usbtmc device %04x:%04x serial %s", r.VID, r.PID, r.Serial)
	}
	return dev, nil
}

func openUSBTMC(r Resource, o *options) (io.ReadWriteCloser, error) {
	dev, err := usbtmcNode(r, o.sysRoot)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(dev, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	if o.timeout > 0 {
		if err := setUSBTMCTimeout(f, o.timeout); err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "setting timeout on %s", dev)
		}
	}
	o.logger.Debug("usbtmc device", "dev", dev)
	return f, nil
}
