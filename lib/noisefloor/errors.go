package noisefloor

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrInsufficientData matches any *InsufficientDataError via errors.Is.
var ErrInsufficientData = errors.New("noisefloor: insufficient data")

// Step identifies the stage of the estimate that ran out of data.
type Step int

const (
	StepImputation Step = iota + 1 // no parseable sample to derive a substitute from
	StepReduction                  // no sample below the threshold to average
)

var stepDesc = map[Step]string{
	StepImputation: "imputation",
	StepReduction:  "reduction",
}

func (s Step) String() string {
	if d, ok := stepDesc[s]; ok {
		return d
	}
	return fmt.Sprintf("Step(%d)", int(s))
}

// InsufficientDataError is returned when a step of the estimate has an empty
// input set. No partial result accompanies it.
type InsufficientDataError struct {
	Step    Step
	Samples int // length of the trace handed to the failing step
}

func (e *InsufficientDataError) Error() string {
	switch e.Step {
	case StepImputation:
		return fmt.Sprintf("noisefloor: %s: none of %d samples parsed", e.Step, e.Samples)
	case StepReduction:
		return fmt.Sprintf("noisefloor: %s: no sample of %d below threshold", e.Step, e.Samples)
	}
	return fmt.Sprintf("noisefloor: %s: insufficient data", e.Step)
}

// Is reports whether target is ErrInsufficientData.
func (e *InsufficientDataError) Is(target error) bool { return target == ErrInsufficientData }

// ParseError describes a single malformed token. It never escapes Estimate;
// the token is replaced and the error is only handed to a parse observer.
type ParseError struct {
	Index int
	Token string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("noisefloor: sample %d %q: %s", e.Index, e.Token, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
