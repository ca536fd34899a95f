// Package scpitest provides a scripted stand-in for a SCPI instrument link.
package scpitest

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// Fake records every line written to it and answers the lines it has replies
// for. Reads return io.EOF once all queued replies are consumed, so a query
// without a scripted reply fails instead of blocking.
type Fake struct {
	mu       sync.Mutex
	replies  map[string][]string
	commands []string
	out      bytes.Buffer
	closed   bool
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{replies: make(map[string][]string)}
}

// Reply scripts the responses to cmd. Each time cmd is written the next
// response is queued for reading with a line feed appended; the last one
// repeats.
func (f *Fake) Reply(cmd string, resp ...string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range resp {
		f.replies[cmd] = append(f.replies[cmd], r+"\n")
	}
	return f
}

// ReplyRaw is like Reply but queues resp byte for byte.
func (f *Fake) ReplyRaw(cmd string, resp string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[cmd] = append(f.replies[cmd], resp)
	return f
}

func (f *Fake) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, io.ErrClosedPipe
	}
	for _, line := range strings.Split(string(p), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		f.commands = append(f.commands, line)
		rs := f.replies[line]
		if len(rs) == 0 {
			continue
		}
		f.out.WriteString(rs[0])
		if len(rs) > 1 {
			f.replies[line] = rs[1:]
		}
	}
	return len(p), nil
}

func (f *Fake) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.out.Len() == 0 {
		return 0, io.EOF
	}
	return f.out.Read(p)
}

// Close marks the link closed; further writes fail.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Commands returns every non-empty line written so far, trimmed.
func (f *Fake) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}
