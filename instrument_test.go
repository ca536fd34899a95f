// Copyright (c) 2020–2026 The rfbench developers. All rights reserved.
// Project site: https://github.com/gotmc/rfbench
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package rfbench

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/gotmc/rfbench/lib/scpitest"
	"go.uber.org/multierr"
)

func TestCommandTrimsAndTerminates(t *testing.T) {
	fake := scpitest.New()
	inst := New(fake)
	if err := inst.Command("  :SENSe:FREQuency:CENTer %gE6 ", 865.0); err != nil {
		t.Fatal(err)
	}
	if err := inst.Command(":TRACe1:DETector MAXHold"); err != nil {
		t.Fatal(err)
	}
	want := []string{":SENSe:FREQuency:CENTer 865E6", ":TRACe1:DETector MAXHold"}
	if got := fake.Commands(); !slices.Equal(got, want) {
		t.Errorf("commands = %q, want %q", got, want)
	}
}

func TestQuery(t *testing.T) {
	fake := scpitest.New().
		Reply(":SENSe:FREQuency:CENTer?", "8.65E+08").
		Reply(":SENSe:AVERage:COUNt?", "50").
		Reply("OUTP?", "1").
		ReplyRaw("POW?", "-10.00\r\n")
	inst := New(fake)

	center, err := inst.QueryFloat64(":SENSe:FREQuency:CENTer?")
	if err != nil {
		t.Fatal(err)
	}
	if center != 865e6 {
		t.Errorf("center = %g, want 865e6", center)
	}

	count, err := inst.QueryInt(":SENSe:AVERage:COUNt?")
	if err != nil {
		t.Fatal(err)
	}
	if count != 50 {
		t.Errorf("count = %d, want 50", count)
	}

	on, err := inst.QueryBool("OUTP?")
	if err != nil {
		t.Fatal(err)
	}
	if !on {
		t.Errorf("output = false, want true")
	}

	pow, err := inst.Query("POW?")
	if err != nil {
		t.Fatal(err)
	}
	if pow != "-10.00" {
		t.Errorf("power = %q, want %q", pow, "-10.00")
	}
}

func TestQueryWithoutResponse(t *testing.T) {
	inst := New(scpitest.New())
	if _, err := inst.Query("*IDN?"); err == nil {
		t.Fatal("expected error for unanswered query")
	}
}

func TestQueryBool(t *testing.T) {
	testCases := []struct {
		resp    string
		want    bool
		wantErr bool
	}{
		{"1", true, false},
		{"0", false, false},
		{"ON", true, false},
		{"off", false, false},
		{"maybe", false, true},
	}
	for _, tc := range testCases {
		inst := New(scpitest.New().Reply("OUTP1?", tc.resp))
		got, err := inst.QueryBool("OUTP1?")
		if (err != nil) != tc.wantErr {
			t.Errorf("%q: err = %v, wantErr %t", tc.resp, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("%q: got %t, want %t", tc.resp, got, tc.want)
		}
	}
}

func TestIdentify(t *testing.T) {
	inst := New(scpitest.New().Reply("*IDN?", "Anritsu,MS2038C/11,2032023,3.90"))
	id, err := inst.Identify()
	if err != nil {
		t.Fatal(err)
	}
	want := Identity{Manufacturer: "Anritsu", Model: "MS2038C/11", Serial: "2032023", Firmware: "3.90"}
	if id != want {
		t.Errorf("identity = %+v, want %+v", id, want)
	}
	if id.String() != "Anritsu,MS2038C/11,2032023,3.90" {
		t.Errorf("String() = %q", id.String())
	}
}

func TestParseIdentityMalformed(t *testing.T) {
	if _, err := ParseIdentity("Tektronix,AFG1022"); err == nil {
		t.Error("expected error for two-field identity")
	}
}

func TestParseDeviceError(t *testing.T) {
	testCases := []struct {
		resp    string
		want    *DeviceError
		wantErr bool
	}{
		{`0,"No error"`, nil, false},
		{`+0,"No error"`, nil, false},
		{`-113,"Undefined header"`, &DeviceError{Code: -113, Message: "Undefined header"}, false},
		{` -222,"Data out of range;FREQ 30000000" `, &DeviceError{Code: -222, Message: "Data out of range;FREQ 30000000"}, false},
		{`garbage`, nil, true},
	}
	for _, tc := range testCases {
		got, err := ParseDeviceError(tc.resp)
		if (err != nil) != tc.wantErr {
			t.Errorf("%q: err = %v, wantErr %t", tc.resp, err, tc.wantErr)
			continue
		}
		switch {
		case tc.want == nil && got != nil:
			t.Errorf("%q: got %+v, want nil", tc.resp, got)
		case tc.want != nil && (got == nil || *got != *tc.want):
			t.Errorf("%q: got %+v, want %+v", tc.resp, got, tc.want)
		}
	}
}

func TestDrainErrors(t *testing.T) {
	fake := scpitest.New().Reply(":SYSTem:ERRor?",
		`-113,"Undefined header"`,
		`-222,"Data out of range"`,
		`0,"No error"`,
	)
	inst := New(fake)
	err := inst.DrainErrors(10)
	errs := multierr.Errors(err)
	if len(errs) != 2 {
		t.Fatalf("got %d errors, want 2: %v", len(errs), err)
	}
	var de *DeviceError
	if !errors.As(errs[1], &de) || de.Code != -222 {
		t.Errorf("second error = %v, want code -222", errs[1])
	}

	if err := inst.DrainErrors(10); err != nil {
		t.Errorf("empty queue: got %v, want nil", err)
	}
}

func TestDrainErrorsStopsAtMax(t *testing.T) {
	fake := scpitest.New().Reply(":SYSTem:ERRor?", `-100,"Command error"`)
	inst := New(fake)
	errs := multierr.Errors(inst.DrainErrors(3))
	if len(errs) != 3 {
		t.Errorf("got %d errors, want 3", len(errs))
	}
}

func TestWaitComplete(t *testing.T) {
	if err := New(scpitest.New().Reply("*OPC?", "1")).WaitComplete(); err != nil {
		t.Errorf("unexpected error: %s", err)
	}
	if err := New(scpitest.New().Reply("*OPC?", "0")).WaitComplete(); err == nil {
		t.Error("expected error for *OPC? response 0")
	}
}

func TestWriteDelay(t *testing.T) {
	fake := scpitest.New()
	inst := New(fake, WithWriteDelay(20*time.Millisecond))
	start := time.Now()
	for _, cmd := range []string{"*RST", "*CLS", "OUTP ON"} {
		if err := inst.Command(cmd); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("three writes took %s, want at least 40ms", elapsed)
	}
}
