package visa

import (
	"io"

	"github.com/gotmc/rfbench/lib/find"
	"github.com/gotmc/rfbench/lib/prologix"
	"github.com/pkg/errors"
)

// FTDI FT232R, the USB bridge inside the Prologix GPIB-USB controller.
const (
	prologixVID = 0x0403
	prologixPID = 0x6001
)

// gpibLink reads and writes through the Prologix controller but closes the
// serial port underneath it.
type gpibLink struct {
	*prologix.Controller
	port io.Closer
}

func (l *gpibLink) Close() error { return l.port.Close() }

func openGPIB(s *Session, r Resource, o *options) error {
	adapter := o.gpibAdapter
	if adapter == "" {
		var err error
		adapter, err = find.FindSerial(find.VIDPIDFilter(prologixVID, prologixPID))
		if err != nil {
			return errors.Wrap(err, "locating Prologix adapter")
		}
	}
	port, err := openSerial(adapter, o)
	if err != nil {
		return err
	}
	ctrl, err := newGPIBController(port, r, o)
	if err != nil {
		port.Close()
		return err
	}
	s.link = &gpibLink{Controller: ctrl, port: port}
	s.releases = append(s.releases, ctrl.FrontPanel)
	return nil
}

func newGPIBController(rw io.ReadWriter, r Resource, o *options) (*prologix.Controller, error) {
	opts := []prologix.ControllerOption{prologix.WithLogger(o.logger)}
	if r.SecondaryAddr != NoAddress {
		// VISA numbers secondary addresses 0-30; on the bus they are 96-126
		opts = append(opts, prologix.WithSecondaryAddress(96+r.SecondaryAddr))
	}
	if o.debug {
		opts = append(opts, prologix.WithDebug())
	}
	return prologix.NewController(rw, r.PrimaryAddr, opts...)
}
