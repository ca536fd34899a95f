// Copyright (c) 2020–2026 The rfbench developers. All rights reserved.
// Project site: https://github.com/gotmc/rfbench
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package rfbench

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Identity is the parsed response to *IDN?.
type Identity struct {
	Manufacturer string
	Model        string
	Serial       string
	Firmware     string
}

func (id Identity) String() string {
	return strings.Join([]string{id.Manufacturer, id.Model, id.Serial, id.Firmware}, ",")
}

// ParseIdentity splits an *IDN? response into its four IEEE 488.2 fields.
func ParseIdentity(s string) (Identity, error) {
	f := strings.Split(strings.TrimSpace(s), ",")
	if len(f) < 4 {
		return Identity{}, errors.Errorf("malformed *IDN? response %q (want 4 fields, got %d)", s, len(f))
	}
	for j := range f {
		f[j] = strings.TrimSpace(f[j])
	}
	return Identity{
		Manufacturer: f[0],
		Model:        f[1],
		Serial:       f[2],
		Firmware:     strings.Join(f[3:], ","),
	}, nil
}

// Identify queries *IDN?.
func (i *Instrument) Identify() (Identity, error) {
	s, err := i.Query("*IDN?")
	if err != nil {
		return Identity{}, err
	}
	return ParseIdentity(s)
}

// Reset sends *RST.
func (i *Instrument) Reset() error { return i.Command("*RST") }

// ClearStatus sends *CLS, which also empties the error queue.
func (i *Instrument) ClearStatus() error { return i.Command("*CLS") }

// WaitComplete blocks on *OPC? until all pending operations finish.
func (i *Instrument) WaitComplete() error {
	s, err := i.Query("*OPC?")
	if err != nil {
		return err
	}
	if strings.TrimSpace(s) != "1" {
		return errors.Errorf("unexpected *OPC? response %q", s)
	}
	return nil
}

// DeviceError is one entry of the instrument's SCPI error queue.
type DeviceError struct {
	Code    int
	Message string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("instrument error %d: %s", e.Code, e.Message)
}

// ParseDeviceError parses a SYSTem:ERRor? response such as
// `-113,"Undefined header"`. It returns nil for code 0.
func ParseDeviceError(s string) (*DeviceError, error) {
	code, msg, _ := strings.Cut(strings.TrimSpace(s), ",")
	n, err := strconv.Atoi(strings.TrimSpace(code))
	if err != nil {
		return nil, errors.Wrapf(err, "malformed error queue entry %q", s)
	}
	if n == 0 {
		return nil, nil
	}
	return &DeviceError{Code: n, Message: strings.Trim(strings.TrimSpace(msg), `"`)}, nil
}

// SystemError pops one entry off the error queue. A nil *DeviceError means
// the queue is empty.
func (i *Instrument) SystemError() (*DeviceError, error) {
	s, err := i.Query(":SYSTem:ERRor?")
	if err != nil {
		return nil, err
	}
	return ParseDeviceError(s)
}

// DrainErrors reads the error queue until it reports no error or max
// entries were read, and returns every entry combined into one error.
func (i *Instrument) DrainErrors(max int) error {
	var errs error
	for n := 0; n < max; n++ {
		de, err := i.SystemError()
		if err != nil {
			return multierr.Append(errs, err)
		}
		if de == nil {
			break
		}
		errs = multierr.Append(errs, de)
	}
	return errs
}
