package keysight

import (
	"context"
	"errors"
	"io"
	"slices"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gotmc/rfbench"
	"github.com/gotmc/rfbench/lib/scpitest"
)

func newTestGenerator(fake *scpitest.Fake) *N5183B {
	return New(rfbench.New(fake), WithLogger(log.New(io.Discard)))
}

func TestApplyAndStatus(t *testing.T) {
	fake := scpitest.New().
		Reply("*IDN?", "Agilent Technologies, N5183B, MY53271615, B.01.80").
		Reply("FREQ?", "+8.5000000000000E+08").
		Reply("POW?", "-1.00000000E+001").
		Reply("OUTP?", "1")
	g := newTestGenerator(fake)

	if err := g.Apply(Setpoint{Frequency: 850e6, Power: -10}, true); err != nil {
		t.Fatal(err)
	}
	st, err := g.Status()
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"*RST", "FREQ 850MHZ", "POW -10DBM", "OUTP ON", "*IDN?", "FREQ?", "POW?", "OUTP?"}
	if got := fake.Commands(); !slices.Equal(got, want) {
		t.Errorf("commands = %q, want %q", got, want)
	}
	wantSt := Status{
		Identity:  "Agilent Technologies, N5183B, MY53271615, B.01.80",
		Frequency: 850e6,
		Power:     -10,
		Output:    true,
	}
	if st != wantSt {
		t.Errorf("status = %+v, want %+v", st, wantSt)
	}
}

func TestApplyOutOfRange(t *testing.T) {
	testCases := []Setpoint{
		{Frequency: 1e3, Power: -10},
		{Frequency: 7e9, Power: -10},
		{Frequency: 850e6, Power: 30},
		{Frequency: 850e6, Power: -120},
	}
	for _, sp := range testCases {
		fake := scpitest.New()
		if err := newTestGenerator(fake).Apply(sp, true); err == nil {
			t.Errorf("%+v: expected error", sp)
		}
		if n := len(fake.Commands()); n != 0 {
			t.Errorf("%+v: %d commands sent", sp, n)
		}
	}
}

func sweepFake() *scpitest.Fake {
	return scpitest.New().
		Reply("*IDN?", "Agilent Technologies, N5183B, MY53271615, B.01.80").
		Reply("FREQ?", "800000000", "801000000", "802000000").
		Reply("POW?", "-10").
		Reply("OUTP?", "1")
}

func TestSweep(t *testing.T) {
	fake := sweepFake()
	g := newTestGenerator(fake)
	plan := SweepPlan{Start: 800e6, Stop: 802e6, Step: 1e6, Power: -10}

	var steps []Step
	err := g.Sweep(context.Background(), plan, func(s Step) error {
		steps = append(steps, s)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"*RST", "*CLS", "*IDN?"}
	for _, f := range []string{"800", "801", "802"} {
		want = append(want, "FREQ "+f+"MHZ", "POW -10DBM", "OUTP ON", "FREQ?", "POW?", "OUTP?")
	}
	want = append(want, "OUTP OFF")
	if got := fake.Commands(); !slices.Equal(got, want) {
		t.Errorf("commands:\n got %q\nwant %q", got, want)
	}

	if len(steps) != 3 {
		t.Fatalf("got %d steps, want 3", len(steps))
	}
	if steps[1].Frequency != 801e6 || steps[1].Index != 1 {
		t.Errorf("step 1 = %+v", steps[1])
	}
	if s := steps[2].String(); s != "Frequency: 802.0 MHz, Power: -10.0 dBm, Output: ON" {
		t.Errorf("step 2 = %q", s)
	}
}

func TestSweepCancelTurnsOutputOff(t *testing.T) {
	fake := sweepFake()
	g := newTestGenerator(fake)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := 0
	err := g.Sweep(ctx, DefaultSweep(), func(Step) error {
		n++
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if n != 1 {
		t.Errorf("callback ran %d times, want 1", n)
	}
	cmds := fake.Commands()
	if cmds[len(cmds)-1] != "OUTP OFF" {
		t.Errorf("last command = %q, want OUTP OFF", cmds[len(cmds)-1])
	}
}

func TestSweepCallbackError(t *testing.T) {
	fake := sweepFake()
	stop := errors.New("stop")
	err := newTestGenerator(fake).Sweep(context.Background(),
		SweepPlan{Start: 800e6, Stop: 810e6, Step: 1e6, Power: -10},
		func(Step) error { return stop })
	if !errors.Is(err, stop) {
		t.Errorf("err = %v, want stop", err)
	}
	cmds := fake.Commands()
	if cmds[len(cmds)-1] != "OUTP OFF" {
		t.Errorf("last command = %q, want OUTP OFF", cmds[len(cmds)-1])
	}
}

func TestSweepUnidentified(t *testing.T) {
	fake := scpitest.New()
	err := newTestGenerator(fake).Sweep(context.Background(), DefaultSweep(), nil)
	if err == nil {
		t.Fatal("expected error without *IDN? response")
	}
	want := []string{"*RST", "*CLS", "*IDN?"}
	if got := fake.Commands(); !slices.Equal(got, want) {
		t.Errorf("commands = %q, want %q", got, want)
	}
}

func TestSweepPlan(t *testing.T) {
	f := DefaultSweep().Frequencies()
	if len(f) != 101 || f[0] != 800e6 || f[100] != 900e6 {
		t.Errorf("default sweep: %d points from %g to %g", len(f), f[0], f[len(f)-1])
	}
	if f := (SweepPlan{Start: 1e9, Stop: 1e9, Step: 1e6}).Frequencies(); len(f) != 1 {
		t.Errorf("single point plan has %d points", len(f))
	}
	if f := (SweepPlan{Start: 1e9, Stop: 1.0025e9, Step: 1e6}).Frequencies(); len(f) != 3 {
		t.Errorf("partial last step: %d points, want 3", len(f))
	}

	bad := []SweepPlan{
		{Start: 800e6, Stop: 900e6, Step: 0, Power: -10},
		{Start: 900e6, Stop: 800e6, Step: 1e6, Power: -10},
		{Start: 800e6, Stop: 900e6, Step: 1e6, Power: -10, Dwell: -time.Second},
		{Start: 800e6, Stop: 7e9, Step: 1e6, Power: -10},
	}
	for _, p := range bad {
		if err := p.Validate(); err == nil {
			t.Errorf("%+v: expected error", p)
		}
	}
}

func TestMHz(t *testing.T) {
	for in, want := range map[float64]string{850e6: "850", 865.25e6: "865.25", 1e9: "1000", 9e3: "0.009"} {
		if got := mhz(in); got != want {
			t.Errorf("mhz(%g) = %q, want %q", in, got, want)
		}
	}
}
