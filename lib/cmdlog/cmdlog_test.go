package cmdlog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/gotmc/rfbench"
	"github.com/gotmc/rfbench/lib/scpitest"
)

func TestDescribe(t *testing.T) {
	testCases := []struct {
		in, want string
	}{
		{"", "<no response>"},
		{"\n", "<no response>"},
		{"1.000000000E+03\n", `[15] "1.000000000E+03"`},
		{"a\x01b", `[3] "a\x01b" (61 01 62)`},
		{strings.Repeat("\x80", 32), "[32] " + strings.TrimSpace(strings.Repeat("80 ", 32))},
	}
	for _, tc := range testCases {
		if got := Describe(tc.in); got != tc.want {
			t.Errorf("Describe(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTranscript(t *testing.T) {
	var buf bytes.Buffer
	fake := scpitest.New().Reply("SOUR1:FREQ?", "1.000000000E+03")
	tr := New(rfbench.New(fake), log.New(&buf))

	if err := tr.Command("SOUR1:FREQ %d", 1000); err != nil {
		t.Fatal(err)
	}
	resp, err := tr.Query("SOUR1:FREQ?")
	if err != nil {
		t.Fatal(err)
	}
	if resp != "1.000000000E+03" {
		t.Errorf("response = %q", resp)
	}
	if _, err := tr.Query("SYST:ERR?"); err == nil {
		t.Error("expected error for unanswered query")
	}

	out := buf.String()
	for _, want := range []string{"SOUR1:FREQ 1000()", `SOUR1:FREQ?: [15] "1.000000000E+03"`, "SYST:ERR?"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
	if got := fake.Commands(); len(got) != 3 || got[0] != "SOUR1:FREQ 1000" {
		t.Errorf("commands = %q", got)
	}
}
