// Package traceplot renders a noise floor capture as an image.
package traceplot

import (
	"fmt"
	"image/color"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/gotmc/rfbench/lib/trace"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// Default image size.
const (
	DefaultWidth  = 15 * vg.Inch
	DefaultHeight = 6 * vg.Inch
)

var (
	traceColor = color.Black
	floorColor = color.RGBA{G: 0x80, A: 0xff}

	markerColors = []color.Color{
		color.RGBA{R: 0xff, A: 0xff},
		color.RGBA{B: 0xff, A: 0xff},
		color.RGBA{R: 0xff, B: 0xff, A: 0xff},
	}
)

// New builds the plot of c: the trace, its markers and the noise floor.
func New(c trace.Capture) (*plot.Plot, error) {
	if len(c.Samples) == 0 {
		return nil, errors.New("capture has no samples")
	}
	p := plot.New()
	p.Title.Text = "Spectrum Analyzer Trace"
	p.X.Label.Text = "Frequency"
	p.Y.Label.Text = "Amplitude (dBm)"
	p.X.Min, p.X.Max = c.Start(), c.Stop()
	p.X.Tick.Marker = hzTicks{}
	p.Legend.Top = true
	p.Legend.Left = true
	p.Add(plotter.NewGrid())

	freqs := c.Frequencies()
	pts := make(plotter.XYs, len(c.Samples))
	for i, v := range c.Samples {
		pts[i].X, pts[i].Y = freqs[i], v
	}
	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return nil, errors.Wrap(err, "trace")
	}
	line.Color = traceColor
	line.Width = vg.Points(2)
	points.Color = traceColor
	points.Shape = draw.CircleGlyph{}
	points.Radius = vg.Points(2)
	p.Add(line, points)
	p.Legend.Add(fmt.Sprintf("Averaged Max Hold Trace (%d iterations)", c.Averages), line, points)

	for i, m := range c.Markers {
		s, err := plotter.NewScatter(plotter.XYs{{X: m.Freq, Y: m.Power}})
		if err != nil {
			return nil, errors.Wrapf(err, "marker %s", m.Name)
		}
		s.Shape = draw.PlusGlyph{}
		s.Radius = vg.Points(7)
		s.Color = markerColors[i%len(markerColors)]
		p.Add(s)
		p.Legend.Add(fmt.Sprintf("%s Marker: %s, %.2f dBm", m.Name, humanize.SIWithDigits(m.Freq, 6, "Hz"), m.Power), s)
	}

	floor, err := plotter.NewLine(plotter.XYs{{X: c.Start(), Y: c.NoiseFloor}, {X: c.Stop(), Y: c.NoiseFloor}})
	if err != nil {
		return nil, errors.Wrap(err, "noise floor")
	}
	floor.Color = floorColor
	floor.Width = vg.Points(1.8)
	floor.Dashes = []vg.Length{vg.Points(6), vg.Points(4)}
	p.Add(floor)
	p.Legend.Add(fmt.Sprintf("Noise Floor: %.2f dBm", c.NoiseFloor), floor)
	return p, nil
}

// Save renders c to file; the format follows the extension.
func Save(c trace.Capture, file string) error {
	p, err := New(c)
	if err != nil {
		return err
	}
	return errors.Wrapf(p.Save(DefaultWidth, DefaultHeight, file), "saving %s", file)
}

// WritePNG renders c as a PNG to w.
func WritePNG(w io.Writer, c trace.Capture) error {
	p, err := New(c)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(DefaultWidth, DefaultHeight, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// hzTicks labels a frequency axis in SI units, ten divisions across.
type hzTicks struct{}

func (hzTicks) Ticks(min, max float64) []plot.Tick {
	const n = 10
	step := (max - min) / n
	if step <= 0 {
		return []plot.Tick{{Value: min, Label: humanize.SIWithDigits(min, 4, "Hz")}}
	}
	ticks := make([]plot.Tick, 0, n+1)
	for i := 0; i <= n; i++ {
		v := min + float64(i)*step
		label := ""
		if i%2 == 0 {
			label = humanize.SIWithDigits(v, 4, "Hz")
		}
		ticks = append(ticks, plot.Tick{Value: v, Label: label})
	}
	return ticks
}
