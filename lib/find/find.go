package find

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"go.bug.st/serial/enumerator"
)

// FilterFn selects devices.
type FilterFn func(*Device) bool

// VIDPIDFilter matches a USB vendor and product ID.
func VIDPIDFilter(vid, pid uint16) FilterFn {
	return func(d *Device) bool { return d.VID == vid && d.PID == pid }
}

// SerialFilter matches a USB serial number string.
func SerialFilter(s string) FilterFn {
	return func(d *Device) bool { return d.Serial == s }
}

// All matches devices every filter matches.
func All(filters ...FilterFn) FilterFn {
	return func(d *Device) bool {
		for _, f := range filters {
			if f != nil && !f(d) {
				return false
			}
		}
		return true
	}
}

// Device is a USB attached instrument or adapter node.
type Device struct {
	Dev       string // device node, e.g. /dev/usbtmc0 or /dev/ttyUSB0
	Path      string // resolved sysfs path, if known
	VID, PID  uint16
	Mfg, Prod string
	Serial    string
}

func (d Device) String() string {
	return fmt.Sprintf("dev %s path %s vid/pid %04x/%04x mfg/prod %s/%s serial %s",
		d.Dev, d.Path, d.VID, d.PID, d.Mfg, d.Prod, d.Serial)
}

// Devices is a list of devices, printed one per line.
type Devices []Device

func (ds Devices) String() string {
	s := make([]string, 0, len(ds))
	for _, d := range ds {
		s = append(s, d.String())
	}
	return strings.Join(s, "\n")
}

// pick returns the one device matching filter. With a nil filter the list
// itself must hold exactly one device.
func pick(ds Devices, filter FilterFn) (Device, error) {
	if filter != nil {
		var matched Devices
		for i := range ds {
			if filter(&ds[i]) {
				matched = append(matched, ds[i])
			}
		}
		ds = matched
	}
	switch len(ds) {
	case 0:
		return Device{}, errors.New("no matching devices found")
	case 1:
		return ds[0], nil
	}
	return Device{}, fmt.Errorf("multiple matching devices:\n%s", ds)
}

// USBTMC lists the USB test-and-measurement class devices the kernel's
// usbtmc driver has bound, by walking <sysRoot>/class/usbmisc. An empty
// sysRoot means /sys.
func USBTMC(sysRoot string) (Devices, error) {
	if sysRoot == "" {
		sysRoot = "/sys"
	}
	class := filepath.Join(sysRoot, "class", "usbmisc")
	entries, err := os.ReadDir(class)
	if err != nil {
		return nil, err
	}
	var devs Devices
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "usbtmc") {
			continue
		}
		if e.Type()&fs.ModeSymlink == 0 {
			continue
		}
		// /sys/class/usbmisc/usbtmc0 ->
		// /sys/devices/pci0000:00/0000:00:14.0/usb1/1-2/1-2:1.0/usbmisc/usbtmc0
		abs, err := filepath.EvalSymlinks(filepath.Join(class, e.Name()))
		if err != nil {
			log.Warn("skipping unresolvable usbtmc node", "name", e.Name(), "err", err)
			continue
		}
		intf, err := filepath.EvalSymlinks(filepath.Join(abs, "device"))
		if err != nil {
			log.Warn("usbtmc node lacks device link", "path", abs, "err", err)
			continue
		}
		// the interface directory sits one level below the usb device
		d, err := readUsbInfo(filepath.Dir(intf))
		if err != nil {
			log.Warn("incomplete usb info", "path", abs, "err", err)
		}
		d.Dev = "/dev/" + e.Name()
		d.Path = abs
		devs = append(devs, d)
	}
	return devs, nil
}

// FindUSBTMC returns the device node of the single usbtmc device matching
// filter.
func FindUSBTMC(sysRoot string, filter FilterFn) (string, error) {
	devs, err := USBTMC(sysRoot)
	if err != nil {
		return "", err
	}
	d, err := pick(devs, filter)
	if err != nil {
		return "", err
	}
	return d.Dev, nil
}

// SerialPorts lists USB serial ports, such as a Prologix GPIB-USB adapter.
func SerialPorts() (Devices, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	var devs Devices
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		devs = append(devs, Device{
			Dev:    p.Name,
			VID:    parseID(p.VID),
			PID:    parseID(p.PID),
			Prod:   p.Product,
			Serial: p.SerialNumber,
		})
	}
	return devs, nil
}

// FindSerial returns the name of the single USB serial port matching filter.
func FindSerial(filter FilterFn) (string, error) {
	devs, err := SerialPorts()
	if err != nil {
		return "", err
	}
	d, err := pick(devs, filter)
	if err != nil {
		return "", err
	}
	return d.Dev, nil
}

// readUsbInfo reads the vendor and product ids and the manufacturer,
// product and serial strings of the usb device at dev.
//
// It returns the last error encountered, ignoring os.ErrNotExist. Errors do
// not prevent reading the remaining files.
func readUsbInfo(dev string) (Device, error) {
	var (
		d   Device
		err error
	)
	read := func(name string) string {
		b, rerr := os.ReadFile(filepath.Join(dev, name))
		if rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			err = rerr
		}
		return strings.TrimSpace(string(b))
	}
	d.VID = parseID(read("idVendor"))
	d.PID = parseID(read("idProduct"))
	d.Mfg = read("manufacturer")
	d.Prod = read("product")
	d.Serial = read("serial")
	return d, err
}

func parseID(s string) uint16 {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0
	}
	return uint16(v)
}
