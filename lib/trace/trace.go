// Package trace holds spectrum captures and the helpers that turn a
// :TRACe:DATA? response into samples on a frequency axis.
package trace

import (
	"strings"
	"time"

	"github.com/gotmc/rfbench"
)

// Marker is a marker reading in Hz and dBm.
type Marker struct {
	Name  string
	Freq  float64
	Power float64
}

// Capture is one acquired trace with the settings it was taken with.
type Capture struct {
	Time       time.Time
	Instrument string
	Center     float64 // Hz
	Span       float64 // Hz
	RefLevel   float64 // dBm
	RBW        float64 // Hz
	VBW        float64 // Hz
	Averages   int
	Markers    []Marker
	Samples    []float64 // dBm, repaired
	Repaired   []int     // indices of substituted samples
	NoiseFloor float64   // dBm
}

// Start returns the frequency of the first sample.
func (c Capture) Start() float64 { return c.Center - c.Span/2 }

// Stop returns the frequency of the last sample.
func (c Capture) Stop() float64 { return c.Start() + c.Span }

// Frequencies returns the frequency of every sample.
func (c Capture) Frequencies() []float64 {
	return Axis(c.Center, c.Span, len(c.Samples))
}

// Axis maps n sample positions onto evenly spaced frequencies from
// center-span/2 to center+span/2, both inclusive.
func Axis(center, span float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	start := center - span/2
	stop := start + span
	f := make([]float64, n)
	if n == 1 {
		f[0] = start
		return f
	}
	step := (stop - start) / float64(n-1)
	for i := range f {
		f[i] = start + float64(i)*step
	}
	f[n-1] = stop
	return f
}

// Split breaks a comma separated trace response into sample tokens. A block
// header in front of the first sample is removed. Tokens are not parsed, so
// malformed entries keep their position.
func Split(resp string) []string {
	resp = strings.TrimRight(resp, "\r\n")
	if resp == "" {
		return nil
	}
	if strings.HasPrefix(resp, "#") {
		if _, data, err := rfbench.ParseBlockHeader(resp); err == nil {
			resp = data
		}
	}
	tokens := strings.Split(resp, ",")
	for i := range tokens {
		tokens[i] = strings.TrimSpace(tokens[i])
	}
	return tokens
}
