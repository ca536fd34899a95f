// Copyright (c) 2020–2026 The rfbench developers. All rights reserved.
// Project site: https://github.com/gotmc/rfbench
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package rfbench talks SCPI to bench instruments over any io.ReadWriter:
// a USBTMC device node, a raw TCP socket, a serial port, or a GPIB bus
// reached through a Prologix controller (see lib/visa).
package rfbench

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gotmc/query"
	"github.com/pkg/errors"
)

// Instrument is a SCPI session with a single instrument.
type Instrument struct {
	rw         io.ReadWriter
	br         *bufio.Reader
	term       byte
	writeDelay time.Duration
	lastWrite  time.Time
	debug      bool // if true, log commands and responses. Set via WithDebug().
	logger     *log.Logger
}

// Option applies an option to the instrument session.
type Option func(*Instrument)

// New creates a SCPI session over rw. The session does not own rw; closing
// the underlying link is the caller's job (see visa.Session).
func New(rw io.ReadWriter, opts ...Option) *Instrument {
	inst := Instrument{
		rw:     rw,
		term:   '\n',
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(&inst)
	}
	inst.br = bufio.NewReader(rw)
	return &inst
}

// WithTerminator sets the byte appended to commands and expected at the end
// of every response. The default is a line feed.
func WithTerminator(term byte) Option {
	return func(i *Instrument) { i.term = term }
}

// WithLogger sets the logger used for debug output.
func WithLogger(l *log.Logger) Option {
	return func(i *Instrument) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithDebug causes commands and responses to be logged.
func WithDebug() Option { return func(i *Instrument) { i.debug = true } }

// WithWriteDelay enforces a minimum gap between consecutive writes. Some
// instruments drop commands that arrive back to back.
func WithWriteDelay(d time.Duration) Option {
	return func(i *Instrument) { i.writeDelay = d }
}

// Write writes raw bytes to the instrument, honoring the write delay.
func (i *Instrument) Write(p []byte) (n int, err error) {
	if i.writeDelay > 0 && !i.lastWrite.IsZero() {
		if wait := i.writeDelay - time.Since(i.lastWrite); wait > 0 {
			time.Sleep(wait)
		}
	}
	n, err = i.rw.Write(p)
	i.lastWrite = time.Now()
	return n, err
}

// Read reads raw bytes from the instrument through the session buffer.
func (i *Instrument) Read(p []byte) (n int, err error) {
	return i.br.Read(p)
}

// Command formats according to a format specifier if provided and sends a
// SCPI command. Leading and trailing whitespace is removed before the
// terminator is appended.
func (i *Instrument) Command(format string, a ...any) error {
	cmd := format
	if a != nil {
		cmd = fmt.Sprintf(format, a...)
	}
	cmd = strings.TrimSpace(cmd)
	if i.debug {
		i.logger.Info("cmd", "scpi", cmd)
	}
	if _, err := i.Write([]byte(cmd + string(i.term))); err != nil {
		return errors.Wrapf(err, "writing %q", cmd)
	}
	return nil
}

// Query sends cmd and returns the response with the terminator and any
// carriage return removed. A response cut short by io.EOF is returned as is.
func (i *Instrument) Query(cmd string) (string, error) {
	cmd = strings.TrimSpace(cmd)
	if _, err := i.Write([]byte(cmd + string(i.term))); err != nil {
		return "", errors.Wrapf(err, "writing %q", cmd)
	}
	s, err := i.readResponse()
	if i.debug {
		i.logger.Info("query", "scpi", cmd, "resp", s)
	}
	if err != nil {
		return "", errors.Wrapf(err, "reading response to %q", cmd)
	}
	return s, nil
}

func (i *Instrument) readResponse() (string, error) {
	s, err := i.br.ReadString(i.term)
	if err == io.EOF && len(s) > 0 {
		err = nil
	}
	return strings.TrimRight(s, "\r\n"+string(i.term)), err
}

// QueryFloat64 queries cmd and parses the response as a float64.
func (i *Instrument) QueryFloat64(cmd string) (float64, error) {
	return query.Float64(i, cmd)
}

// QueryInt queries cmd and parses the response as an int.
func (i *Instrument) QueryInt(cmd string) (int, error) {
	return query.Int(i, cmd)
}

// QueryBool queries cmd and parses a 0/1 or OFF/ON response.
func (i *Instrument) QueryBool(cmd string) (bool, error) {
	s, err := i.Query(cmd)
	if err != nil {
		return false, err
	}
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "1", "ON":
		return true, nil
	case "0", "OFF":
		return false, nil
	}
	return false, errors.Errorf("query %q: cannot parse %q as bool", cmd, s)
}

// QueryString queries cmd and returns the trimmed response.
func (i *Instrument) QueryString(cmd string) (string, error) {
	s, err := query.String(i, cmd)
	return strings.TrimSpace(s), err
}
