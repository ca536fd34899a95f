// Package visa opens instrument links from VISA resource strings and wraps
// them in an rfbench SCPI session whose Close always releases the link.
package visa

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gotmc/rfbench"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// DefaultTimeout bounds a single read from the instrument.
const DefaultTimeout = 25 * time.Second

type options struct {
	timeout     time.Duration
	debug       bool
	logger      *log.Logger
	sysRoot     string
	gpibAdapter string
	baudRate    int
	dialRetries uint64
	instOpts    []rfbench.Option

	dial func(ctx context.Context, network, addr string) (net.Conn, error) // tests only
}

// Option configures Open.
type Option func(*options)

// WithTimeout sets the per-read timeout. Zero disables it.
func WithTimeout(d time.Duration) Option { return func(o *options) { o.timeout = d } }

// WithDebug logs every command and response.
func WithDebug() Option { return func(o *options) { o.debug = true } }

// WithLogger sets the logger handed to the session.
func WithLogger(l *log.Logger) Option { return func(o *options) { o.logger = l } }

// WithSysfsRoot points USB lookups at a sysfs tree other than /sys.
func WithSysfsRoot(root string) Option { return func(o *options) { o.sysRoot = root } }

// WithGPIBAdapter names the serial port of the Prologix controller used for
// GPIB resources. When unset, a single FTDI-based adapter is looked up.
func WithGPIBAdapter(port string) Option { return func(o *options) { o.gpibAdapter = port } }

// WithBaudRate sets the serial rate for ASRL and GPIB adapter ports.
func WithBaudRate(baud int) Option { return func(o *options) { o.baudRate = baud } }

// WithDialRetries sets how many times a refused TCP connection is retried.
// Zero dials once.
func WithDialRetries(n uint64) Option { return func(o *options) { o.dialRetries = n } }

// WithInstrumentOptions passes extra options to rfbench.New.
func WithInstrumentOptions(opts ...rfbench.Option) Option {
	return func(o *options) { o.instOpts = append(o.instOpts, opts...) }
}

// Session is an open instrument link.
type Session struct {
	*rfbench.Instrument
	Resource Resource

	link     io.ReadWriteCloser
	releases []func() error
	closed   bool
}

// Open parses resource, opens its transport and starts a SCPI session.
func Open(ctx context.Context, resource string, opts ...Option) (*Session, error) {
	o := options{
		timeout:     DefaultTimeout,
		logger:      log.Default(),
		baudRate:    115200,
		dialRetries: 3,
	}
	for _, opt := range opts {
		opt(&o)
	}
	r, err := ParseResource(resource)
	if err != nil {
		return nil, err
	}

	s := &Session{Resource: r}
	switch r.Interface {
	case USB:
		s.link, err = openUSBTMC(r, &o)
	case TCPIP:
		s.link, err = dialSocket(ctx, r, &o)
	case ASRL:
		s.link, err = openSerial(r.Device, &o)
	case GPIB:
		err = openGPIB(s, r, &o)
	default:
		err = &ResourceError{Resource: resource, Reason: "no transport"}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", r)
	}

	instOpts := []rfbench.Option{rfbench.WithLogger(o.logger)}
	if o.debug {
		instOpts = append(instOpts, rfbench.WithDebug())
	}
	instOpts = append(instOpts, o.instOpts...)
	s.Instrument = rfbench.New(s.link, instOpts...)
	o.logger.Debug("opened instrument link", "resource", r)
	return s, nil
}

// Close runs the transport's release steps and closes the link. Calling it
// more than once is a no-op.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var err error
	for _, release := range s.releases {
		err = multierr.Append(err, release())
	}
	return multierr.Append(err, s.link.Close())
}

// With opens resource, hands the session to fn, and closes the session
// whatever fn returns. Errors from fn and Close are combined.
func With(ctx context.Context, resource string, fn func(*Session) error, opts ...Option) (err error) {
	s, err := Open(ctx, resource, opts...)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, s.Close())
	}()
	return fn(s)
}
