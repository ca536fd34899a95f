package visa

import (
	"fmt"
	"strconv"
	"strings"
)

// Interface is the transport family named by a resource string.
type Interface int

// Supported interface types.
const (
	USB Interface = iota + 1
	TCPIP
	ASRL
	GPIB
)

var interfaceDesc = map[Interface]string{
	USB:   "USB",
	TCPIP: "TCPIP",
	ASRL:  "ASRL",
	GPIB:  "GPIB",
}

func (i Interface) String() string {
	if s, ok := interfaceDesc[i]; ok {
		return s
	}
	return fmt.Sprintf("Interface(%d)", int(i))
}

// DefaultSocketPort is the raw SCPI port used for TCPIP INSTR resources.
const DefaultSocketPort = 5025

// NoAddress marks an unset GPIB secondary address or USB interface number.
const NoAddress = -1

// Resource is a parsed VISA resource string.
type Resource struct {
	Interface Interface
	Board     int

	// USB
	VID, PID     uint16
	Serial       string
	USBInterface int

	// TCPIP
	Host string
	Port int

	// ASRL
	Device string

	// GPIB
	PrimaryAddr   int
	SecondaryAddr int
}

// ResourceError reports a resource string that cannot be used.
type ResourceError struct {
	Resource string
	Reason   string
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("visa: resource %q: %s", e.Resource, e.Reason)
}

// ParseResource parses the resource forms
//
//	USB[board]::vid::pid::serial[::interface]::INSTR
//	TCPIP[board]::host::port::SOCKET
//	TCPIP[board]::host[::inst0]::INSTR
//	ASRL<device or number>::INSTR
//	GPIB[board]::primary[::secondary]::INSTR
//
// Keywords are case-insensitive.
func ParseResource(s string) (Resource, error) {
	bad := func(format string, a ...any) (Resource, error) {
		return Resource{}, &ResourceError{Resource: s, Reason: fmt.Sprintf(format, a...)}
	}
	f := strings.Split(strings.TrimSpace(s), "::")
	if len(f) < 2 {
		return bad("missing resource class")
	}
	class := strings.ToUpper(f[len(f)-1])
	f = f[:len(f)-1]
	head := f[0]
	upper := strings.ToUpper(head)

	r := Resource{USBInterface: NoAddress, SecondaryAddr: NoAddress}
	board := func(prefix string) (int, bool) {
		rest := head[len(prefix):]
		if rest == "" {
			return 0, true
		}
		n, err := strconv.Atoi(rest)
		return n, err == nil && n >= 0
	}

	var ok bool
	switch {
	case strings.HasPrefix(upper, "USB"):
		r.Interface = USB
		if r.Board, ok = board("USB"); !ok {
			return bad("invalid board %q", head)
		}
		if class != "INSTR" {
			return bad("USB supports INSTR only")
		}
		if len(f) != 4 && len(f) != 5 {
			return bad("want USB::vid::pid::serial[::interface]::INSTR")
		}
		vid, err := strconv.ParseUint(f[1], 0, 16)
		if err != nil {
			return bad("invalid vendor id %q", f[1])
		}
		pid, err := strconv.ParseUint(f[2], 0, 16)
		if err != nil {
			return bad("invalid product id %q", f[2])
		}
		r.VID, r.PID, r.Serial = uint16(vid), uint16(pid), f[3]
		if len(f) == 5 {
			n, err := strconv.Atoi(f[4])
			if err != nil || n < 0 {
				return bad("invalid USB interface %q", f[4])
			}
			r.USBInterface = n
		}

	case strings.HasPrefix(upper, "TCPIP"):
		r.Interface = TCPIP
		if r.Board, ok = board("TCPIP"); !ok {
			return bad("invalid board %q", head)
		}
		if len(f) < 2 || f[1] == "" {
			return bad("missing host")
		}
		r.Host = f[1]
		switch class {
		case "SOCKET":
			if len(f) != 3 {
				return bad("want TCPIP::host::port::SOCKET")
			}
			port, err := strconv.Atoi(f[2])
			if err != nil || port < 1 || port > 65535 {
				return bad("invalid port %q", f[2])
			}
			r.Port = port
		case "INSTR":
			if len(f) > 3 {
				return bad("want TCPIP::host[::inst0]::INSTR")
			}
			if len(f) == 3 && !strings.HasPrefix(strings.ToLower(f[2]), "inst") {
				return bad("LAN device %q not supported, only raw socket access", f[2])
			}
			r.Port = DefaultSocketPort
		default:
			return bad("unsupported resource class %q", class)
		}

	case strings.HasPrefix(upper, "ASRL"):
		r.Interface = ASRL
		if class != "INSTR" || len(f) != 1 {
			return bad("want ASRL<device>::INSTR")
		}
		rest := head[len("ASRL"):]
		if rest == "" {
			return bad("missing serial device")
		}
		if n, err := strconv.Atoi(rest); err == nil {
			if n < 1 {
				return bad("invalid serial port number %d", n)
			}
			r.Board = n
			r.Device = fmt.Sprintf("/dev/ttyS%d", n-1)
		} else {
			r.Device = rest
		}

	case strings.HasPrefix(upper, "GPIB"):
		r.Interface = GPIB
		if r.Board, ok = board("GPIB"); !ok {
			return bad("invalid board %q", head)
		}
		if class != "INSTR" || (len(f) != 2 && len(f) != 3) {
			return bad("want GPIB::primary[::secondary]::INSTR")
		}
		pad, err := strconv.Atoi(f[1])
		if err != nil || pad < 0 || pad > 30 {
			return bad("invalid primary address %q (must be 0-30)", f[1])
		}
		r.PrimaryAddr = pad
		if len(f) == 3 {
			sad, err := strconv.Atoi(f[2])
			if err != nil || sad < 0 || sad > 30 {
				return bad("invalid secondary address %q (must be 0-30)", f[2])
			}
			r.SecondaryAddr = sad
		}

	default:
		return bad("unsupported interface %q", head)
	}
	return r, nil
}

// String returns the canonical form of r.
func (r Resource) String() string {
	switch r.Interface {
	case USB:
		s := fmt.Sprintf("USB%d::0x%04X::0x%04X::%s", r.Board, r.VID, r.PID, r.Serial)
		if r.USBInterface != NoAddress {
			s += fmt.Sprintf("::%d", r.USBInterface)
		}
		return s + "::INSTR"
	case TCPIP:
		return fmt.Sprintf("TCPIP%d::%s::%d::SOCKET", r.Board, r.Host, r.Port)
	case ASRL:
		return fmt.Sprintf("ASRL%s::INSTR", r.Device)
	case GPIB:
		s := fmt.Sprintf("GPIB%d::%d", r.Board, r.PrimaryAddr)
		if r.SecondaryAddr != NoAddress {
			s += fmt.Sprintf("::%d", r.SecondaryAddr)
		}
		return s + "::INSTR"
	}
	return ""
}
