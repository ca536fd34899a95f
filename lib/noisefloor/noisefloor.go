// Package noisefloor estimates the noise floor of a swept power trace.
//
// Malformed samples are imputed with the median of the samples that did
// parse, so the repaired trace keeps its length and stays aligned with the
// frequency axis. The noise floor is the mean of the repaired samples lying
// strictly below the trace median plus ThresholdOffset.
package noisefloor

import (
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// ThresholdOffset is the distance in dB above the trace median at which a
// sample counts as signal rather than noise.
const ThresholdOffset = 10.0

var errNotFinite = errors.New("not a finite number")

// Result holds a successful estimate.
type Result struct {
	Cleaned    []float64 // repaired trace, same length as the input
	Repaired   []int     // indices that were substituted
	Median     float64   // median of Cleaned
	Threshold  float64   // Median + ThresholdOffset
	NoiseFloor float64
}

// Option configures Estimate.
type Option func(*estimator)

type estimator struct {
	observe func(*ParseError)
}

// WithParseObserver registers fn to be called once for every malformed token,
// in index order.
func WithParseObserver(fn func(*ParseError)) Option {
	return func(e *estimator) { e.observe = fn }
}

// Estimate repairs the raw trace tokens and reduces them to a noise floor.
// The returned error is always an *InsufficientDataError naming the step that
// failed.
func Estimate(tokens []string, opts ...Option) (Result, error) {
	var e estimator
	for _, opt := range opts {
		opt(&e)
	}

	cleaned, repaired, err := e.repair(tokens)
	if err != nil {
		return Result{}, err
	}

	med := median(cleaned)
	threshold := med + ThresholdOffset
	floor, err := reduce(cleaned, threshold)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Cleaned:    cleaned,
		Repaired:   repaired,
		Median:     med,
		Threshold:  threshold,
		NoiseFloor: floor,
	}, nil
}

// repair runs two passes over tokens. The first collects the parseable
// samples and takes their median; the second substitutes that median for
// every token that does not parse.
func (e *estimator) repair(tokens []string) ([]float64, []int, error) {
	valid := make([]float64, 0, len(tokens))
	for _, tok := range tokens {
		if v, err := parseSample(tok); err == nil {
			valid = append(valid, v)
		}
	}
	if len(valid) == 0 {
		return nil, nil, &InsufficientDataError{Step: StepImputation, Samples: len(tokens)}
	}
	fill := median(valid)

	cleaned := make([]float64, len(tokens))
	var repaired []int
	for i, tok := range tokens {
		v, err := parseSample(tok)
		if err != nil {
			if e.observe != nil {
				e.observe(&ParseError{Index: i, Token: tok, Err: err})
			}
			v = fill
			repaired = append(repaired, i)
		}
		cleaned[i] = v
	}
	return cleaned, repaired, nil
}

// reduce averages the samples strictly below threshold.
func reduce(cleaned []float64, threshold float64) (float64, error) {
	noise := make([]float64, 0, len(cleaned))
	for _, v := range cleaned {
		if v < threshold {
			noise = append(noise, v)
		}
	}
	if len(noise) == 0 {
		return 0, &InsufficientDataError{Step: StepReduction, Samples: len(cleaned)}
	}
	if m := stat.Mean(noise, nil); !math.IsInf(m, 0) {
		return m, nil
	}
	// the running sum overflowed; scaling each sample first keeps every
	// partial sum within the samples' range
	n := float64(len(noise))
	var m float64
	for _, v := range noise {
		m += v / n
	}
	return m, nil
}

func parseSample(tok string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(tok), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errNotFinite
	}
	return v, nil
}

// median returns the middle value of x, or the mean of the two middle values
// when len(x) is even. x is not modified. It panics on empty input.
func median(x []float64) float64 {
	s := slices.Clone(x)
	slices.Sort(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return s[n/2-1]/2 + s[n/2]/2
}
