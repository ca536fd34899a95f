// Package profile loads bench profiles: which instruments to use and how to
// set them up.
package profile

import (
	"bytes"
	"os"

	"github.com/gotmc/rfbench/lib/anritsu"
	"github.com/gotmc/rfbench/lib/keysight"
	"github.com/gotmc/rfbench/lib/tek"
	"github.com/gotmc/rfbench/lib/visa"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Default resources of the bench instruments.
const (
	DefaultAnalyzer          = "USB0::0x0B5B::0xFFF9::2032023_1736_30::INSTR"
	DefaultGenerator         = "USB0::0x0957::0x1F01::MY53271615::INSTR"
	DefaultFunctionGenerator = "USB0::0x0699::0x0353::1525069::INSTR"
)

// Resources names the VISA resource of each instrument.
type Resources struct {
	Analyzer          string `yaml:"analyzer"`
	Generator         string `yaml:"generator"`
	FunctionGenerator string `yaml:"function_generator"`
}

// Generator is the signal generator setup.
type Generator struct {
	keysight.Setpoint `yaml:",inline"`
	Reset             bool               `yaml:"reset"`
	Sweep             keysight.SweepPlan `yaml:"sweep"`
}

// Profile is a bench setup.
type Profile struct {
	Resources         Resources        `yaml:"resources"`
	Analyzer          anritsu.Settings `yaml:"analyzer"`
	Generator         Generator        `yaml:"generator"`
	FunctionGenerator tek.Config       `yaml:"function_generator"`
	// Database is the capture store path; empty disables storing.
	Database string `yaml:"database"`
	// Plot is the file captures are plotted to; empty disables plotting.
	Plot string `yaml:"plot"`
}

// Default returns the profile used when no file is given.
func Default() Profile {
	return Profile{
		Resources: Resources{
			Analyzer:          DefaultAnalyzer,
			Generator:         DefaultGenerator,
			FunctionGenerator: DefaultFunctionGenerator,
		},
		Analyzer:          anritsu.DefaultSettings(),
		Generator:         Generator{Setpoint: keysight.DefaultSetpoint(), Reset: true, Sweep: keysight.DefaultSweep()},
		FunctionGenerator: tek.DefaultConfig(),
		Plot:              "trace.png",
	}
}

// Load reads the profile at path. Fields missing from the file keep their
// defaults. An empty path returns the defaults.
func Load(path string) (Profile, error) {
	p := Default()
	if path == "" {
		return p, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, errors.Wrap(err, "reading profile")
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Profile{}, errors.Wrapf(err, "parsing profile %s", path)
	}
	return p, p.Validate()
}

// Validate checks every resource string and instrument setup, reporting all
// problems found.
func (p Profile) Validate() error {
	var err error
	for _, r := range []string{p.Resources.Analyzer, p.Resources.Generator, p.Resources.FunctionGenerator} {
		if _, perr := visa.ParseResource(r); perr != nil {
			err = multierr.Append(err, perr)
		}
	}
	err = multierr.Append(err, errors.Wrap(p.Analyzer.Validate(), "analyzer"))
	err = multierr.Append(err, errors.Wrap(p.Generator.Setpoint.Validate(), "generator"))
	err = multierr.Append(err, errors.Wrap(p.Generator.Sweep.Validate(), "generator sweep"))
	if _, ferr := p.FunctionGenerator.Normalize(); ferr != nil {
		err = multierr.Append(err, ferr)
	}
	return err
}
