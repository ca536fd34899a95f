package visa

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// _IOW('[', 10, __u32) from linux/usb/tmc.h
const usbtmcIoctlSetTimeout = 0x40045b0a

// setUSBTMCTimeout replaces the usbtmc driver's default 5 s I/O timeout.
func setUSBTMCTimeout(f *os.File, d time.Duration) error {
	return unix.IoctlSetPointerInt(int(f.Fd()), usbtmcIoctlSetTimeout, int(d.Milliseconds()))
}
