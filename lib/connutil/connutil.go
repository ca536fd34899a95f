// Package connutil holds the flag handling and session setup shared by the
// example programs.
package connutil

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gotmc/rfbench"
	"github.com/gotmc/rfbench/lib/find"
	"github.com/gotmc/rfbench/lib/profile"
	"github.com/gotmc/rfbench/lib/visa"
	"github.com/pkg/errors"
)

// Conn is the connection configuration an example program takes from its flags.
type Conn struct {
	// Pick selects the instrument's resource from the profile when
	// -resource is not given.
	Pick func(profile.Resources) string

	Resource    string
	ProfilePath string
	Timeout     time.Duration
	Delay       time.Duration
	GPIBAdapter string
	Debug       bool
	List        bool

	// Profile is loaded by Setup.
	Profile profile.Profile
}

// AddFlags is to be called before [flag.Parse].
func (c *Conn) AddFlags() { c.AddFlagSet(flag.CommandLine) }

// AddFlagSet registers the connection flags on fs.
func (c *Conn) AddFlagSet(fs *flag.FlagSet) {
	if c.Timeout == 0 {
		c.Timeout = visa.DefaultTimeout
	}
	fs.StringVar(&c.Resource, "resource", c.Resource, "VISA resource string; defaults to the profile's")
	fs.StringVar(&c.ProfilePath, "profile", c.ProfilePath, "bench profile (YAML)")
	fs.DurationVar(&c.Timeout, "timeout", c.Timeout, "read timeout")
	fs.DurationVar(&c.Delay, "delay", c.Delay, "delay between writes")
	fs.StringVar(&c.GPIBAdapter, "gpib-adapter", c.GPIBAdapter, "serial port of the Prologix GPIB controller (default: located by USB id)")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "log every command and response")
	fs.BoolVar(&c.List, "list", c.List, "list connected instruments and exit")
}

// SetupLogging configures the default logger.
func (c *Conn) SetupLogging() {
	log.SetReportTimestamp(true)
	log.SetTimeFormat("15:04:05.000000")
	if c.Debug {
		log.SetLevel(log.DebugLevel)
	}
}

// Setup is to be called after both [(*Conn).AddFlags] and [flag.Parse]. It
// loads the profile and opens the instrument. The session is closed by
// cleanup; its error is logged.
func (c *Conn) Setup(ctx context.Context) (sess *visa.Session, cleanup func(), err error) {
	nocleanup := func() {}
	c.SetupLogging()

	if c.Profile, err = profile.Load(c.ProfilePath); err != nil {
		return nil, nocleanup, err
	}
	resource := c.Resource
	if resource == "" && c.Pick != nil {
		resource = c.Pick(c.Profile.Resources)
	}
	if resource == "" {
		return nil, nocleanup, errors.New("no resource given")
	}
	log.Info("opening", "resource", resource)

	sess, err = visa.Open(ctx, resource, c.Options()...)
	if err != nil {
		return nil, nocleanup, err
	}
	cleanup = func() {
		if err := sess.Close(); err != nil {
			log.Error("closing instrument", "err", err)
		}
	}
	return sess, cleanup, nil
}

// ErrorQueue is an instrument whose SCPI error queue can be drained.
type ErrorQueue interface {
	DrainErrors(max int) error
}

// LogErrorQueue logs the entries of the instrument's error queue, up to 10.
// Example programs call it when a step fails, before exiting.
func LogErrorQueue(inst ErrorQueue) {
	if err := inst.DrainErrors(10); err != nil {
		log.Error("instrument error queue", "err", err)
	}
}

// Options returns the visa options the flags select.
func (c *Conn) Options() []visa.Option {
	opts := []visa.Option{visa.WithTimeout(c.Timeout), visa.WithLogger(log.Default())}
	if c.Debug {
		opts = append(opts, visa.WithDebug())
	}
	if c.GPIBAdapter != "" {
		opts = append(opts, visa.WithGPIBAdapter(c.GPIBAdapter))
	}
	if c.Delay > 0 {
		opts = append(opts, visa.WithInstrumentOptions(rfbench.WithWriteDelay(c.Delay)))
	}
	return opts
}

// ListInstruments prints USBTMC devices, serial ports and LXI instruments
// announced on the local network. Lookup failures are logged, not returned,
// so one missing subsystem does not hide the others.
func ListInstruments(ctx context.Context, w io.Writer) {
	if ds, err := find.USBTMC(""); err != nil {
		log.Warn("listing USBTMC devices", "err", err)
	} else {
		for _, d := range ds {
			fmt.Fprintf(w, "USB0::0x%04X::0x%04X::%s::INSTR\t%s %s\n", d.VID, d.PID, d.Serial, d.Mfg, d.Prod)
		}
	}
	if ds, err := find.SerialPorts(); err != nil {
		log.Warn("listing serial ports", "err", err)
	} else {
		for _, d := range ds {
			fmt.Fprintf(w, "ASRL%s::INSTR\t%s\n", d.Dev, d.Prod)
		}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if lxi, err := find.LXI(ctx, find.ServiceSCPIRaw); err != nil {
		log.Warn("browsing LXI instruments", "err", err)
	} else {
		for _, l := range lxi {
			fmt.Fprintf(w, "%s\t%s\n", l.Resource(), l.Name)
		}
	}
}

// Listed runs the list mode when -list was given and reports whether it
// did, in which case the program should exit.
func (c *Conn) Listed(ctx context.Context) bool {
	if !c.List {
		return false
	}
	c.SetupLogging()
	ListInstruments(ctx, os.Stdout)
	return true
}
