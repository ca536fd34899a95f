package visa

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// timeoutPort turns the zero-byte read a serial port returns on timeout
// into os.ErrDeadlineExceeded, so buffered readers stop instead of spinning.
type timeoutPort struct {
	serial.Port
	timeout time.Duration
}

func (p *timeoutPort) Read(b []byte) (int, error) {
	n, err := p.Port.Read(b)
	if n == 0 && err == nil && len(b) > 0 {
		return 0, errors.Wrapf(os.ErrDeadlineExceeded, "no data within %s", p.timeout)
	}
	return n, err
}

func openSerial(dev string, o *options) (io.ReadWriteCloser, error) {
	port, err := serial.Open(dev, &serial.Mode{BaudRate: o.baudRate})
	if err != nil {
		return nil, err
	}
	timeout := o.timeout
	if timeout <= 0 {
		timeout = serial.NoTimeout
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, err
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, err
	}
	o.logger.Debug("serial port", "dev", dev, "baud", o.baudRate)
	return &timeoutPort{Port: port, timeout: timeout}, nil
}
