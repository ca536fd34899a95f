// Package cmdlog wraps a SCPI session and logs every exchange with styled
// commands, for bench work and debugging drivers.
package cmdlog

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

func isASCII(s string) bool {
	return !strings.ContainsFunc(s, func(r rune) bool {
		switch {
		case r < 7:
			return true
		case r > 6 && r < 14:
			return false
		case r > 13 && r < 32:
			return true
		case r > 127:
			return true
		}
		return false
	})
}

var (
	CmdStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	R1Style  = lipgloss.NewStyle().Foreground(lipgloss.Color("35"))
	R2Style  = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	ErrStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// SCPI is the session being wrapped.
type SCPI interface {
	Command(format string, a ...any) error
	Query(cmd string) (string, error)
}

// Transcript passes commands and queries through to a session and logs
// them. It satisfies SCPI itself, so drivers can run on top of it.
type Transcript struct {
	inst   SCPI
	logger *log.Logger
}

// New wraps inst. A nil logger logs to the default logger.
func New(inst SCPI, logger *log.Logger) *Transcript {
	if logger == nil {
		logger = log.Default()
	}
	return &Transcript{inst: inst, logger: logger}
}

// Command sends a command and logs it.
func (t *Transcript) Command(format string, a ...any) error {
	c := strings.TrimSpace(fmt.Sprintf(format, a...))
	if err := t.inst.Command("%s", c); err != nil {
		t.logger.Errorf("%s: %s", CmdStyle.Render(c), ErrStyle.Render(err.Error()))
		return err
	}
	t.logger.Infof("%s()", CmdStyle.Render(c))
	return nil
}

// Query sends a query and logs it with the response.
func (t *Transcript) Query(q string) (string, error) {
	a, err := t.inst.Query(q)
	if err != nil {
		t.logger.Errorf("%s: %s", CmdStyle.Render(q), ErrStyle.Render(err.Error()))
		return a, err
	}
	t.logger.Info(CmdStyle.Render(q) + ": " + Describe(a))
	return a, nil
}

// Describe formats a response for the log: printable text is quoted,
// short binary is shown quoted and in hex, long binary in hex only.
func Describe(a string) string {
	a = strings.TrimSuffix(a, "\n")
	switch {
	case len(a) == 0:
		return R1Style.Render("<no response>")
	case isASCII(a):
		return fmt.Sprintf("[%d] %s", len(a), R2Style.Render(fmt.Sprintf("%q", a)))
	case len(a) < 32:
		return fmt.Sprintf("[%d] %q (% 2x)", len(a), a, []byte(a))
	default:
		return fmt.Sprintf("[%d] % 2x", len(a), []byte(a))
	}
}
