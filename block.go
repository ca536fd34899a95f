// Copyright (c) 2020–2026 The rfbench developers. All rights reserved.
// Project site: https://github.com/gotmc/rfbench
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package rfbench

import (
	"io"
	"strconv"

	"github.com/pkg/errors"
)

// IndefiniteLength is the block length reported for a #0 header, whose data
// runs until the response terminator.
const IndefiniteLength = -1

// ParseBlockHeader parses the IEEE 488.2 arbitrary block header at the start
// of s. A definite header is '#', one digit d (1-9), then d digits giving the
// data length. It returns the declared length and the remainder of s
// following the header.
func ParseBlockHeader(s string) (length int, data string, err error) {
	if len(s) < 2 || s[0] != '#' {
		return 0, "", errors.Errorf("missing block header in %.12q", s)
	}
	if s[1] == '0' {
		return IndefiniteLength, s[2:], nil
	}
	d := int(s[1] - '0')
	if d < 1 || d > 9 {
		return 0, "", errors.Errorf("invalid block header digit count %q", s[1])
	}
	if len(s) < 2+d {
		return 0, "", errors.Errorf("truncated block header %q", s)
	}
	length, err = strconv.Atoi(s[2 : 2+d])
	if err != nil || length < 0 {
		return 0, "", errors.Errorf("invalid block length %q", s[2:2+d])
	}
	return length, s[2+d:], nil
}

// QueryBlock sends cmd and reads a definite-length binary block response.
// A trailing terminator already in the read buffer is consumed.
func (i *Instrument) QueryBlock(cmd string) ([]byte, error) {
	if err := i.Command(cmd); err != nil {
		return nil, err
	}
	hdr := make([]byte, 2)
	if _, err := io.ReadFull(i.br, hdr); err != nil {
		return nil, errors.Wrapf(err, "reading block header for %q", cmd)
	}
	if hdr[0] != '#' {
		return nil, errors.Errorf("query %q: expected block header, got %q", cmd, hdr)
	}
	d := int(hdr[1] - '0')
	if d < 1 || d > 9 {
		return nil, errors.Errorf("query %q: unsupported block header %q", cmd, hdr)
	}
	digits := make([]byte, d)
	if _, err := io.ReadFull(i.br, digits); err != nil {
		return nil, errors.Wrapf(err, "reading block length for %q", cmd)
	}
	n, _, err := ParseBlockHeader(string(hdr) + string(digits))
	if err != nil {
		return nil, err
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(i.br, data); err != nil {
		return nil, errors.Wrapf(err, "reading %d byte block for %q", n, cmd)
	}
	if i.br.Buffered() > 0 {
		if b, err := i.br.Peek(1); err == nil && b[0] == i.term {
			_, _ = i.br.ReadByte()
		}
	}
	return data, nil
}
