// Package anritsu drives the spectrum analyzer mode of the Anritsu MS2038C
// VNA Master.
package anritsu

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/gotmc/rfbench/lib/noisefloor"
	"github.com/gotmc/rfbench/lib/trace"
	"github.com/pkg/errors"
)

// SCPI is the part of an instrument session the driver needs.
type SCPI interface {
	Command(format string, a ...any) error
	Query(cmd string) (string, error)
	QueryFloat64(cmd string) (float64, error)
	QueryInt(cmd string) (int, error)
}

// Settings is the acquisition setup.
type Settings struct {
	Center   float64       `yaml:"center"`    // Hz
	Span     float64       `yaml:"span"`      // Hz
	RefLevel float64       `yaml:"ref_level"` // dBm
	RBW      float64       `yaml:"rbw"`       // Hz
	VBW      float64       `yaml:"vbw"`       // Hz
	Averages int           `yaml:"averages"`
	Detector string        `yaml:"detector"`
	Settle   time.Duration `yaml:"settle"` // time given to max hold and averaging before reading
}

// DefaultSettings returns the 865 MHz narrowband setup.
func DefaultSettings() Settings {
	return Settings{
		Center:   865e6,
		Span:     1e6,
		RefLevel: -21,
		RBW:      300,
		VBW:      100,
		Averages: 50,
		Detector: "MAXHold",
		Settle:   5 * time.Second,
	}
}

// Validate checks the settings before anything is sent.
func (s Settings) Validate() error {
	switch {
	case s.Center <= 0:
		return errors.Errorf("invalid center frequency %g Hz", s.Center)
	case s.Span <= 0:
		return errors.Errorf("invalid span %g Hz", s.Span)
	case s.Span/2 > s.Center:
		return errors.Errorf("span %g Hz reaches below 0 Hz at center %g Hz", s.Span, s.Center)
	case s.RBW <= 0 || s.VBW <= 0:
		return errors.Errorf("invalid bandwidths rbw %g Hz vbw %g Hz", s.RBW, s.VBW)
	case s.Averages < 1:
		return errors.Errorf("invalid average count %d", s.Averages)
	case s.Settle < 0:
		return errors.Errorf("invalid settle time %s", s.Settle)
	}
	return nil
}

// Marker names, in the order the peak markers are assigned.
const (
	MarkerMax   = "Max"
	MarkerLeft  = "Left"
	MarkerRight = "Right"
)

// MS2038C is a spectrum analyzer session.
type MS2038C struct {
	inst   SCPI
	logger *log.Logger
}

// Option configures the driver.
type Option func(*MS2038C)

// WithLogger sets the logger readbacks are reported to.
func WithLogger(l *log.Logger) Option {
	return func(a *MS2038C) {
		if l != nil {
			a.logger = l
		}
	}
}

// New returns a driver using inst.
func New(inst SCPI, opts ...Option) *MS2038C {
	a := MS2038C{inst: inst, logger: log.Default()}
	for _, opt := range opts {
		opt(&a)
	}
	return &a
}

// set writes cmd with value and reads the setting back.
func (a *MS2038C) set(cmd, value string) (float64, error) {
	if err := a.inst.Command("%s %s", cmd, value); err != nil {
		return 0, err
	}
	got, err := a.inst.QueryFloat64(cmd + "?")
	if err != nil {
		return 0, errors.Wrapf(err, "reading back %s", cmd)
	}
	return got, nil
}

// Configure applies s and returns the settings the instrument reports. The
// detector, average count and settle time are taken from s.
func (a *MS2038C) Configure(s Settings) (Settings, error) {
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	got := s
	detector := s.Detector
	if detector == "" {
		detector = "MAXHold"
	}
	if err := a.inst.Command(":TRACe1:DETector %s", detector); err != nil {
		return Settings{}, err
	}

	steps := []struct {
		cmd   string
		value string
		dst   *float64
		unit  string
	}{
		{":SENSe:FREQuency:CENTer", sci(s.Center), &got.Center, "Hz"},
		{":SENSe:FREQuency:SPAN", sci(s.Span), &got.Span, "Hz"},
		{":DISPlay:WINDow:TRACe:Y:SCALe:RLEVel", fmt.Sprint(s.RefLevel), &got.RefLevel, "dBm"},
		{":SENSe:BANDwidth:RESolution", fmt.Sprint(s.RBW), &got.RBW, "Hz"},
		{":SENSe:BANDwidth:VIDeo", fmt.Sprint(s.VBW), &got.VBW, "Hz"},
	}
	for _, st := range steps {
		v, err := a.set(st.cmd, st.value)
		if err != nil {
			return Settings{}, err
		}
		*st.dst = v
		if st.unit == "Hz" {
			a.logger.Info("set", "cmd", st.cmd, "value", humanize.SIWithDigits(v, 3, st.unit))
		} else {
			a.logger.Info("set", "cmd", st.cmd, "value", fmt.Sprintf("%g %s", v, st.unit))
		}
	}
	return got, nil
}

// PeakMarkers enables markers 1-3 and places them on the highest peak and
// the next peaks to its left and right.
func (a *MS2038C) PeakMarkers() error {
	cmds := []string{
		":CALCulate:MARKer1:STATe ON",
		":CALCulate:MARKer1:MAXimum",
		":CALCulate:MARKer2:STATe ON",
		":CALCulate:MARKer2:MAXimum:LEFT",
		":CALCulate:MARKer3:STATe ON",
		":CALCulate:MARKer3:MAXimum:RIGHt",
	}
	for _, cmd := range cmds {
		if err := a.inst.Command(cmd); err != nil {
			return err
		}
	}
	return nil
}

// SetAveraging sets the trace average count and returns the count read back.
func (a *MS2038C) SetAveraging(n int) (int, error) {
	if err := a.inst.Command(":SENSe:AVERage:COUNt %d", n); err != nil {
		return 0, err
	}
	got, err := a.inst.QueryInt(":SENSe:AVERage:COUNt?")
	if err != nil {
		return 0, errors.Wrap(err, "reading back average count")
	}
	a.logger.Info("averaging", "count", got)
	return got, nil
}

// Markers reads markers 1-3.
func (a *MS2038C) Markers() ([]trace.Marker, error) {
	names := []string{MarkerMax, MarkerLeft, MarkerRight}
	markers := make([]trace.Marker, 0, len(names))
	for i, name := range names {
		n := i + 1
		y, err := a.inst.QueryFloat64(fmt.Sprintf(":CALCulate:MARKer%d:Y?", n))
		if err != nil {
			return nil, errors.Wrapf(err, "reading marker %d amplitude", n)
		}
		x, err := a.inst.QueryFloat64(fmt.Sprintf(":CALCulate:MARKer%d:X?", n))
		if err != nil {
			return nil, errors.Wrapf(err, "reading marker %d frequency", n)
		}
		m := trace.Marker{Name: name, Freq: x, Power: y}
		a.logger.Info("marker", "n", n, "name", name,
			"freq", humanize.SIWithDigits(x, 6, "Hz"), "power", fmt.Sprintf("%.2f dBm", y))
		markers = append(markers, m)
	}
	return markers, nil
}

// TraceTokens reads trace 1 and splits it into unparsed sample tokens.
func (a *MS2038C) TraceTokens() ([]string, error) {
	resp, err := a.inst.Query(":TRACe:DATA? 1")
	if err != nil {
		return nil, errors.Wrap(err, "reading trace data")
	}
	tokens := trace.Split(resp)
	if len(tokens) == 0 {
		return nil, errors.New("empty trace response")
	}
	return tokens, nil
}

// Capture runs a full acquisition: configure, place peak markers, enable
// averaging, let the trace settle, read the markers and the trace, and
// estimate the noise floor. Corrupt trace samples are logged and repaired.
func (a *MS2038C) Capture(ctx context.Context, s Settings) (trace.Capture, error) {
	idn, err := a.inst.Query("*IDN?")
	if err != nil {
		return trace.Capture{}, errors.Wrap(err, "identifying instrument")
	}
	a.logger.Info("connected", "idn", strings.TrimSpace(idn))

	got, err := a.Configure(s)
	if err != nil {
		return trace.Capture{}, err
	}
	if err := a.PeakMarkers(); err != nil {
		return trace.Capture{}, err
	}
	if got.Averages, err = a.SetAveraging(s.Averages); err != nil {
		return trace.Capture{}, err
	}

	a.logger.Info("capturing", "for", s.Settle)
	select {
	case <-ctx.Done():
		return trace.Capture{}, ctx.Err()
	case <-time.After(s.Settle):
	}

	markers, err := a.Markers()
	if err != nil {
		return trace.Capture{}, err
	}
	tokens, err := a.TraceTokens()
	if err != nil {
		return trace.Capture{}, err
	}
	est, err := noisefloor.Estimate(tokens, noisefloor.WithParseObserver(func(pe *noisefloor.ParseError) {
		a.logger.Warn("corrupt trace sample", "index", pe.Index, "token", pe.Token)
	}))
	if err != nil {
		return trace.Capture{}, err
	}
	a.logger.Info("noise floor", "dBm", fmt.Sprintf("%.2f", est.NoiseFloor), "points", len(est.Cleaned))

	return trace.Capture{
		Time:       time.Now(),
		Instrument: strings.TrimSpace(idn),
		Center:     got.Center,
		Span:       got.Span,
		RefLevel:   got.RefLevel,
		RBW:        got.RBW,
		VBW:        got.VBW,
		Averages:   got.Averages,
		Markers:    markers,
		Samples:    est.Cleaned,
		Repaired:   est.Repaired,
		NoiseFloor: est.NoiseFloor,
	}, nil
}

// sci formats a frequency the way the front panel examples write it, e.g.
// 865E6.
func sci(hz float64) string {
	for _, exp := range []int{9, 6, 3} {
		p := math.Pow10(exp)
		if hz >= p && math.Mod(hz, p) == 0 {
			return fmt.Sprintf("%gE%d", hz/p, exp)
		}
	}
	return strconv.FormatFloat(hz, 'f', -1, 64)
}
