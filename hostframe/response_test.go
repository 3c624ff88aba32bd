// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package hostframe

import "testing"

var testVersion = [2]byte{0x00, 0x03}

func TestResponseRoundTrip(t *testing.T) {
	var r Response
	r.Init(MaxLength)

	r.Begin(7, RespOK, testVersion, 0x1234)
	r.F2(FieldMDBResult, 0x01, 0x00)
	r.FN(FieldMDBData, []byte{0x11, 0x22})
	out := r.Finish()

	req, outcome, _ := Parse(append([]byte(nil), out...))
	if outcome != OK {
		t.Fatalf("round-trip Parse outcome = %v, want OK", outcome)
	}

	if req.ID != 7 {
		t.Errorf("ID = %d, want 7", req.ID)
	}

	if req.Command != Command(RespOK) {
		t.Errorf("header = %#x, want %#x", req.Command, RespOK)
	}

	if int(out[0]) != len(out) {
		t.Errorf("length byte = %d, want %d", out[0], len(out))
	}
}

func TestResponseCapacityOverflowConvergesToSingleErrorField(t *testing.T) {
	var r Response
	r.Init(20)

	r.Begin(1, RespOK, testVersion, 0)

	ok1 := r.FN(FieldMDBData, make([]byte, 30))

	if ok1 {
		t.Fatal("expected first oversized field append to fail")
	}

	if !r.Overflowed() {
		t.Fatal("expected Overflowed() after capacity exceeded")
	}

	ok2 := r.F1(FieldTWIAddr, 0x78)
	if ok2 {
		t.Fatal("expected field append after overflow to be rejected")
	}

	out := r.Finish()

	fields := countFields(t, out)
	if fields != 1 {
		t.Fatalf("fields after overflow = %d, want 1", fields)
	}
}

func TestResponseLengthNeverExceedsMax(t *testing.T) {
	var r Response
	r.Init(MaxLength)

	r.Begin(1, RespOK, testVersion, 0)

	for i := 0; i < 20; i++ {
		r.FN(FieldErrorN, []byte{byte(i), byte(i), byte(i)})
	}

	out := r.Finish()

	if len(out) > MaxLength {
		t.Fatalf("len(out) = %d, want <= %d", len(out), MaxLength)
	}
}

// countFields walks the field list of a finished response, skipping the
// fixed-size mandatory FIRMWARE_VERSION/CLOCK10U prefix every Begin
// writes, and returns how many fields follow it.
func countFields(t *testing.T, resp []byte) int {
	t.Helper()

	const prefixBytes = (2 + 2) + (2 + 2) // FIRMWARE_VERSION + CLOCK10U
	i := HeaderLen + prefixBytes
	count := 0

	for i < len(resp)-CRCLen {
		fieldLen := int(resp[i+1])
		i += 2 + fieldLen
		count++
	}

	return count
}

func TestCountFieldsOnKnownFrame(t *testing.T) {
	var r Response
	r.Init(MaxLength)

	r.Begin(1, RespOK, testVersion, 0)
	out := r.Finish()

	if got, want := countFields(t, out), 0; got != want {
		t.Fatalf("countFields = %d, want %d", got, want)
	}
}
