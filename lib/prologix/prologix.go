// Package prologix drives a Prologix GPIB-USB (or AR488) controller so an
// instrument on the GPIB bus can be used as a plain io.ReadWriter.
package prologix

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

const esc = 0x1b

// Controller models a GPIB controller-in-charge addressing one instrument.
type Controller struct {
	rw               io.ReadWriter
	br               *bufio.Reader
	primaryAddr      int
	hasSecondaryAddr bool
	secondaryAddr    int
	eotChar          byte
	term             GpibTerm
	readTimeout      time.Duration
	clear            bool
	ar488            bool // compatibility with Arduino AR488 - see WithAR488 documentation for details.
	debug            bool
	logger           *log.Logger
	readPending      bool
}

// ControllerOption applies an option to the controller.
type ControllerOption func(*Controller)

// NewController configures the Prologix controller on rw to talk to the
// instrument at the given primary address.
func NewController(rw io.ReadWriter, addr int, opts ...ControllerOption) (*Controller, error) {
	c := Controller{
		rw:          rw,
		br:          bufio.NewReader(rw),
		primaryAddr: addr,
		eotChar:     '\n',
		term:        AppendCRLF,
		readTimeout: 500 * time.Millisecond,
		logger:      log.Default(),
	}
	for _, opt := range opts {
		opt(&c)
	}

	if !isPrimaryAddressValid(c.primaryAddr) {
		return nil, errors.Errorf("invalid primary address %d (must be 0-30)", c.primaryAddr)
	}
	addrCmd := fmt.Sprintf("addr %d", c.primaryAddr)
	if c.hasSecondaryAddr {
		if !isSecondaryAddressValid(c.secondaryAddr) {
			return nil, errors.Errorf("invalid secondary address %d (must be 96-126)", c.secondaryAddr)
		}
		addrCmd = fmt.Sprintf("addr %d %d", c.primaryAddr, c.secondaryAddr)
	}

	cmds := []string{}
	if !c.ar488 {
		cmds = append(cmds,
			"verbose 0", // turn off verbosity if on
			"savecfg 0", // don't wear the EEPROM with our settings
		)
	}
	cmds = append(cmds,
		addrCmd,
		"mode 1", // controller mode
		"auto 0", // we ask for reads explicitly
		"eoi 1",  // assert EOI with the last byte
		fmt.Sprintf("eos %d", c.term),
		fmt.Sprintf("read_tmo_ms %d", c.readTimeout.Milliseconds()),
		fmt.Sprintf("eot_char %d", c.eotChar),
		"eot_enable 1",
	)
	if c.clear {
		cmds = append(cmds, "clr")
	}
	for _, cmd := range cmds {
		if err := c.CommandController(cmd); err != nil {
			return nil, errors.Wrapf(err, "configuring prologix (%s)", cmd)
		}
	}
	return &c, nil
}

// WithSecondaryAddress sets a secondary address, which must be in the range of
// 96 and 126, inclusive.
func WithSecondaryAddress(addr int) ControllerOption {
	return func(c *Controller) {
		c.hasSecondaryAddr = true
		c.secondaryAddr = addr
	}
}

// WithGPIBTermination sets the terminator the controller appends on the bus.
func WithGPIBTermination(term GpibTerm) ControllerOption {
	return func(c *Controller) { c.term = term }
}

// WithReadTimeout sets the inter-character timeout the controller applies to
// bus reads. Prologix accepts 1-3000 ms.
func WithReadTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) { c.readTimeout = d }
}

// WithClear sends the Selected Device Clear (SDC) message after configuring.
func WithClear() ControllerOption { return func(c *Controller) { c.clear = true } }

// WithDebug causes controller commands to be logged.
func WithDebug() ControllerOption { return func(c *Controller) { c.debug = true } }

// WithLogger sets the logger used for debug output.
func WithLogger(l *log.Logger) ControllerOption {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithAR488 slightly alters the init commands, for compatibility with the
// Arduino-based AR488. Specifically, we do not emit 'verbose 0', nor do
// we toggle savecfg.
func WithAR488() ControllerOption { return func(c *Controller) { c.ar488 = true } }

// Write sends p to the instrument. A trailing line feed ends the message;
// CR, LF, ESC and '+' inside it are escaped so the controller passes them
// through instead of treating them as framing.
func (c *Controller) Write(p []byte) (n int, err error) {
	body := p
	hasLF := len(body) > 0 && body[len(body)-1] == '\n'
	if hasLF {
		body = body[:len(body)-1]
	}
	out := make([]byte, 0, len(p)+8)
	for _, b := range body {
		switch b {
		case '\r', '\n', esc, '+':
			out = append(out, esc)
		}
		out = append(out, b)
	}
	out = append(out, '\n')
	if _, err := c.rw.Write(out); err != nil {
		return 0, err
	}
	c.readPending = true
	return len(p), nil
}

// Read reads the instrument's response. The first Read after a Write asks
// the controller to address the instrument to talk.
func (c *Controller) Read(p []byte) (n int, err error) {
	if c.readPending && c.br.Buffered() == 0 {
		c.readPending = false
		if err := c.CommandController("read eoi"); err != nil {
			return 0, err
		}
	}
	return c.br.Read(p)
}

// CommandController sends the given command to the Prologix controller. To
// indicate this is a command for the Prologix controller, thereby not
// transmitting to the instrument over GPIB, two plus signs `++` are prepended.
func (c *Controller) CommandController(cmd string) error {
	cmd = fmt.Sprintf("++%s\n", strings.ToLower(strings.TrimSpace(cmd)))
	if c.debug {
		c.logger.Info("prologix", "cmd", strings.TrimSpace(cmd))
	}
	_, err := c.rw.Write([]byte(cmd))
	return err
}

// QueryController sends cmd to the controller and returns its one-line reply.
func (c *Controller) QueryController(cmd string) (string, error) {
	if err := c.CommandController(cmd); err != nil {
		return "", err
	}
	s, err := c.br.ReadString('\n')
	if err == io.EOF && len(s) > 0 {
		err = nil
	}
	s = strings.TrimRight(s, "\r\n")
	if c.debug {
		c.logger.Info("prologix", "cmd", cmd, "resp", s)
	}
	return s, err
}

// Version returns the controller's version string.
func (c *Controller) Version() (string, error) {
	return c.QueryController("ver")
}

// ClearDevice sends the Selected Device Clear (SDC) message.
func (c *Controller) ClearDevice() error {
	return c.CommandController("clr")
}

// FrontPanel returns the instrument to local (front panel) control.
func (c *Controller) FrontPanel() error {
	return c.CommandController("loc")
}

// GpibTerm provides the type for the available GPIB terminators.
type GpibTerm int

// Available GPIB terminators for the Prologix Controller.
const (
	AppendCRLF GpibTerm = iota
	AppendCR
	AppendLF
	AppendNothing
)

var gpibTermDesc = map[GpibTerm]string{
	AppendCRLF:    `Append CR+LF (\r\n) to instrument commands`,
	AppendCR:      `Append CR (\r) to instrument commands`,
	AppendLF:      `Append LF (\n) to instrument commands`,
	AppendNothing: `Do not append anything to instrument commands`,
}

func (term GpibTerm) String() string {
	return gpibTermDesc[term]
}

func isPrimaryAddressValid(addr int) bool {
	return addr >= 0 && addr <= 30
}

func isSecondaryAddressValid(addr int) bool {
	return addr >= 96 && addr <= 126
}
