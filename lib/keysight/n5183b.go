// Package keysight drives the Keysight (Agilent) N5183B MXG analog signal
// generator.
package keysight

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// SCPI is the part of an instrument session the driver needs.
type SCPI interface {
	Command(format string, a ...any) error
	Query(cmd string) (string, error)
	QueryFloat64(cmd string) (float64, error)
	QueryBool(cmd string) (bool, error)
}

// N5183B frequency and power range.
const (
	MinFrequency = 9e3  // Hz
	MaxFrequency = 6e9  // Hz, option 506
	MinPower     = -110 // dBm
	MaxPower     = 23   // dBm
)

// Setpoint is a CW output setting.
type Setpoint struct {
	Frequency float64 `yaml:"frequency"` // Hz
	Power     float64 `yaml:"power"`     // dBm
}

// DefaultSetpoint returns 850 MHz at -10 dBm.
func DefaultSetpoint() Setpoint { return Setpoint{Frequency: 850e6, Power: -10} }

// Validate checks the setpoint against the generator's range.
func (sp Setpoint) Validate() error {
	if sp.Frequency < MinFrequency || sp.Frequency > MaxFrequency {
		return errors.Errorf("frequency %s out of range (must be %s-%s)",
			hz(sp.Frequency), hz(MinFrequency), hz(MaxFrequency))
	}
	if sp.Power < MinPower || sp.Power > MaxPower {
		return errors.Errorf("power %g dBm out of range (must be %d to %d dBm)", sp.Power, MinPower, MaxPower)
	}
	return nil
}

// Status is the generator state read back after configuring.
type Status struct {
	Identity  string
	Frequency float64 // Hz
	Power     float64 // dBm
	Output    bool
}

// N5183B is a signal generator session.
type N5183B struct {
	inst   SCPI
	logger *log.Logger
	sleep  func(context.Context, time.Duration) error
}

// Option configures the driver.
type Option func(*N5183B)

// WithLogger sets the logger sweep progress is reported to.
func WithLogger(l *log.Logger) Option {
	return func(g *N5183B) {
		if l != nil {
			g.logger = l
		}
	}
}

// New returns a driver using inst.
func New(inst SCPI, opts ...Option) *N5183B {
	g := N5183B{inst: inst, logger: log.Default(), sleep: sleepCtx}
	for _, opt := range opts {
		opt(&g)
	}
	return &g
}

// SetFrequency sets the CW frequency.
func (g *N5183B) SetFrequency(f float64) error {
	return g.inst.Command("FREQ %sMHZ", mhz(f))
}

// SetPower sets the output amplitude.
func (g *N5183B) SetPower(dbm float64) error {
	return g.inst.Command("POW %sDBM", strconv.FormatFloat(dbm, 'f', -1, 64))
}

// SetOutput switches the RF output.
func (g *N5183B) SetOutput(on bool) error {
	if on {
		return g.inst.Command("OUTP ON")
	}
	return g.inst.Command("OUTP OFF")
}

// Apply optionally resets the generator, then sets sp and turns the RF
// output on.
func (g *N5183B) Apply(sp Setpoint, reset bool) error {
	if err := sp.Validate(); err != nil {
		return err
	}
	if reset {
		if err := g.inst.Command("*RST"); err != nil {
			return err
		}
	}
	if err := g.SetFrequency(sp.Frequency); err != nil {
		return err
	}
	if err := g.SetPower(sp.Power); err != nil {
		return err
	}
	return g.SetOutput(true)
}

// Status reads the identity, frequency, power and output state.
func (g *N5183B) Status() (Status, error) {
	var (
		st  Status
		err error
	)
	if st.Identity, err = g.inst.Query("*IDN?"); err != nil {
		return Status{}, err
	}
	st.Identity = strings.TrimSpace(st.Identity)
	if st.Frequency, err = g.inst.QueryFloat64("FREQ?"); err != nil {
		return Status{}, errors.Wrap(err, "reading frequency")
	}
	if st.Power, err = g.inst.QueryFloat64("POW?"); err != nil {
		return Status{}, errors.Wrap(err, "reading power")
	}
	if st.Output, err = g.inst.QueryBool("OUTP?"); err != nil {
		return Status{}, errors.Wrap(err, "reading output state")
	}
	return st, nil
}

// SweepPlan is a stepped CW frequency sweep.
type SweepPlan struct {
	Start float64       `yaml:"start"` // Hz
	Stop  float64       `yaml:"stop"`  // Hz
	Step  float64       `yaml:"step"`  // Hz
	Power float64       `yaml:"power"` // dBm
	Dwell time.Duration `yaml:"dwell"`
}

// DefaultSweep returns the 800-900 MHz, 1 MHz step, -10 dBm sweep.
func DefaultSweep() SweepPlan {
	return SweepPlan{Start: 800e6, Stop: 900e6, Step: 1e6, Power: -10, Dwell: 500 * time.Millisecond}
}

// Validate checks the plan.
func (p SweepPlan) Validate() error {
	if p.Step <= 0 {
		return errors.Errorf("invalid step %g Hz", p.Step)
	}
	if p.Stop < p.Start {
		return errors.Errorf("stop %s below start %s", hz(p.Stop), hz(p.Start))
	}
	if p.Dwell < 0 {
		return errors.Errorf("invalid dwell %s", p.Dwell)
	}
	for _, f := range []float64{p.Start, p.Stop} {
		if err := (Setpoint{Frequency: f, Power: p.Power}).Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Frequencies returns every frequency of the plan, start and stop included.
func (p SweepPlan) Frequencies() []float64 {
	n := int(math.Floor((p.Stop-p.Start)/p.Step+1e-9)) + 1
	f := make([]float64, n)
	for i := range f {
		f[i] = p.Start + float64(i)*p.Step
	}
	return f
}

// Step is one point of a running sweep as read back from the generator.
type Step struct {
	Index     int
	Frequency float64 // Hz
	Power     float64 // dBm
	Output    bool
}

func (s Step) String() string {
	out := "OFF"
	if s.Output {
		out = "ON"
	}
	return fmt.Sprintf("Frequency: %.1f MHz, Power: %.1f dBm, Output: %s", s.Frequency/1e6, s.Power, out)
}

// Sweep resets and identifies the generator, then steps through plan. At
// each frequency it sets power, turns the output on, reads the state back,
// hands it to fn (which may be nil) and waits the dwell time. The output is
// turned off when the sweep ends, also on error or cancellation.
func (g *N5183B) Sweep(ctx context.Context, plan SweepPlan, fn func(Step) error) (err error) {
	if err := plan.Validate(); err != nil {
		return err
	}
	if err := g.inst.Command("*RST"); err != nil {
		return err
	}
	if err := g.inst.Command("*CLS"); err != nil {
		return err
	}
	idn, err := g.inst.Query("*IDN?")
	if err != nil {
		return errors.Wrap(err, "identifying instrument")
	}
	g.logger.Info("connected", "idn", strings.TrimSpace(idn))
	defer func() {
		err = multierr.Append(err, g.SetOutput(false))
	}()

	freqs := plan.Frequencies()
	g.logger.Info("starting sweep", "from", hz(plan.Start), "to", hz(plan.Stop), "points", len(freqs))
	for i, f := range freqs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := g.SetFrequency(f); err != nil {
			return err
		}
		if err := g.SetPower(plan.Power); err != nil {
			return err
		}
		if err := g.SetOutput(true); err != nil {
			return err
		}
		st := Step{Index: i}
		if st.Frequency, err = g.inst.QueryFloat64("FREQ?"); err != nil {
			return errors.Wrapf(err, "step %d: reading frequency", i)
		}
		if st.Power, err = g.inst.QueryFloat64("POW?"); err != nil {
			return errors.Wrapf(err, "step %d: reading power", i)
		}
		if st.Output, err = g.inst.QueryBool("OUTP?"); err != nil {
			return errors.Wrapf(err, "step %d: reading output state", i)
		}
		if fn != nil {
			if err := fn(st); err != nil {
				return err
			}
		}
		if err := g.sleep(ctx, plan.Dwell); err != nil {
			return err
		}
	}
	g.logger.Info("sweep completed, RF output turned off")
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// mhz formats f in MHz without trailing zeros, e.g. 850 or 865.25.
func mhz(f float64) string {
	return strconv.FormatFloat(math.Round(f)/1e6, 'f', -1, 64)
}

func hz(f float64) string { return humanize.SIWithDigits(f, 3, "Hz") }
