// Package tek drives the Tektronix AFG1022 arbitrary/function generator.
package tek

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// SCPI is the part of an instrument session the driver needs.
type SCPI interface {
	Command(format string, a ...any) error
	Query(cmd string) (string, error)
}

// Waveform is an output function mnemonic.
type Waveform string

// Waveforms the AFG1022 accepts for SOURce:FUNCtion.
const (
	Sine   Waveform = "SIN"
	Square Waveform = "SQU"
	Ramp   Waveform = "RAMP"
	Pulse  Waveform = "PULS"
	Noise  Waveform = "NOIS"
	DC     Waveform = "DC"
	Arb    Waveform = "ARB"
)

// Waveforms lists the valid waveforms.
var Waveforms = []Waveform{Sine, Square, Ramp, Pulse, Noise, DC, Arb}

type freqRange struct{ min, max float64 }

// frequency limits in Hz; noise and DC have no frequency
var freqLimits = map[Waveform]freqRange{
	Sine:   {1e-6, 25e6},
	Square: {1e-6, 25e6},
	Ramp:   {1e-6, 500e3},
	Pulse:  {1e-6, 12.5e6},
	Arb:    {1e-6, 10e6},
}

// HasFrequency reports whether the waveform takes a frequency setting.
func (w Waveform) HasFrequency() bool {
	_, ok := freqLimits[w]
	return ok
}

// Config is a channel setup.
type Config struct {
	Channel   int      `yaml:"channel"`
	Waveform  Waveform `yaml:"waveform"`
	Frequency float64  `yaml:"frequency"` // Hz
	Amplitude float64  `yaml:"amplitude"` // Vpp
	Offset    float64  `yaml:"offset"`    // V
	Output    string   `yaml:"output"`    // ON or OFF
	Reset     bool     `yaml:"reset"`
}

// DefaultConfig returns a 1 kHz, 2 Vpp sine on channel 1 after a reset.
func DefaultConfig() Config {
	return Config{
		Channel:   1,
		Waveform:  Sine,
		Frequency: 1000,
		Amplitude: 2,
		Offset:    0,
		Output:    "ON",
		Reset:     true,
	}
}

// ConfigError reports an invalid Config field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("afg1022: invalid %s: %s", e.Field, e.Reason)
}

// Normalize upper-cases the waveform and output state and validates the
// result.
func (c Config) Normalize() (Config, error) {
	if c.Channel != 1 && c.Channel != 2 {
		return Config{}, &ConfigError{Field: "channel", Reason: fmt.Sprintf("%d (must be 1 or 2)", c.Channel)}
	}
	c.Waveform = Waveform(strings.ToUpper(strings.TrimSpace(string(c.Waveform))))
	valid := false
	names := make([]string, len(Waveforms))
	for i, w := range Waveforms {
		names[i] = string(w)
		if w == c.Waveform {
			valid = true
		}
	}
	if !valid {
		return Config{}, &ConfigError{Field: "waveform",
			Reason: fmt.Sprintf("%q (choose from %s)", c.Waveform, strings.Join(names, ", "))}
	}
	if r, ok := freqLimits[c.Waveform]; ok && (c.Frequency < r.min || c.Frequency > r.max) {
		return Config{}, &ConfigError{Field: "frequency",
			Reason: fmt.Sprintf("%g Hz for %s (must be between %g Hz and %g Hz)", c.Frequency, c.Waveform, r.min, r.max)}
	}
	if c.Amplitude < 0 {
		return Config{}, &ConfigError{Field: "amplitude", Reason: fmt.Sprintf("%g Vpp is negative", c.Amplitude)}
	}
	c.Output = strings.ToUpper(strings.TrimSpace(c.Output))
	if c.Output != "ON" && c.Output != "OFF" {
		return Config{}, &ConfigError{Field: "output state", Reason: fmt.Sprintf("%q (must be ON or OFF)", c.Output)}
	}
	return c, nil
}

// NotApplicable is reported as the frequency of waveforms without one.
const NotApplicable = "N/A"

// Settings is the channel state read back after configuring, as the
// instrument reports it.
type Settings struct {
	Waveform    string
	Frequency   string
	Amplitude   string
	Offset      string
	OutputState string
	ErrorStatus string
}

// Fields returns the settings as label/value pairs in display order.
func (s Settings) Fields() [][2]string {
	return [][2]string{
		{"Waveform", s.Waveform},
		{"Frequency", s.Frequency},
		{"Amplitude", s.Amplitude},
		{"Offset", s.Offset},
		{"Output State", s.OutputState},
		{"Error Status", s.ErrorStatus},
	}
}

// AFG1022 is a function generator session.
type AFG1022 struct {
	inst   SCPI
	logger *log.Logger
}

// Option configures the driver.
type Option func(*AFG1022)

// WithLogger sets the logger configuration steps are reported to.
func WithLogger(l *log.Logger) Option {
	return func(g *AFG1022) {
		if l != nil {
			g.logger = l
		}
	}
}

// New returns a driver using inst.
func New(inst SCPI, opts ...Option) *AFG1022 {
	g := AFG1022{inst: inst, logger: log.Default()}
	for _, opt := range opts {
		opt(&g)
	}
	return &g
}

// Configure validates cfg, applies it and reads the channel back. Nothing
// is sent if cfg is invalid.
func (g *AFG1022) Configure(cfg Config) (Settings, error) {
	cfg, err := cfg.Normalize()
	if err != nil {
		return Settings{}, err
	}
	ch := fmt.Sprintf("SOUR%d", cfg.Channel)
	outp := fmt.Sprintf("OUTP%d", cfg.Channel)

	var cmds []string
	if cfg.Reset {
		cmds = append(cmds, "*RST")
	}
	cmds = append(cmds, fmt.Sprintf("%s:FUNC %s", ch, cfg.Waveform))
	if cfg.Waveform.HasFrequency() {
		cmds = append(cmds, fmt.Sprintf("%s:FREQ %s", ch, num(cfg.Frequency)))
	}
	cmds = append(cmds,
		fmt.Sprintf("%s:VOLT %s", ch, num(cfg.Amplitude)),
		fmt.Sprintf("%s:VOLT:OFFS %s", ch, num(cfg.Offset)),
		fmt.Sprintf("%s %s", outp, cfg.Output),
	)
	for _, cmd := range cmds {
		if err := g.inst.Command(cmd); err != nil {
			return Settings{}, errors.Wrap(err, "configuring afg1022")
		}
	}
	if cfg.Waveform.HasFrequency() {
		g.logger.Info("configured", "channel", cfg.Channel, "waveform", cfg.Waveform,
			"frequency", humanize.SIWithDigits(cfg.Frequency, 3, "Hz"), "amplitude", cfg.Amplitude)
	} else {
		g.logger.Info("configured", "channel", cfg.Channel, "waveform", cfg.Waveform, "amplitude", cfg.Amplitude)
	}

	var s Settings
	reads := []struct {
		cmd string
		dst *string
	}{
		{ch + ":FUNC?", &s.Waveform},
		{ch + ":FREQ?", &s.Frequency},
		{ch + ":VOLT?", &s.Amplitude},
		{ch + ":VOLT:OFFS?", &s.Offset},
		{outp + "?", &s.OutputState},
		{"SYST:ERR?", &s.ErrorStatus},
	}
	for _, r := range reads {
		if r.dst == &s.Frequency && !cfg.Waveform.HasFrequency() {
			s.Frequency = NotApplicable
			continue
		}
		v, err := g.inst.Query(r.cmd)
		if err != nil {
			return Settings{}, errors.Wrapf(err, "reading back %s", r.cmd)
		}
		*r.dst = strings.TrimSpace(v)
	}
	return s, nil
}

func num(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
