// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package hostframe

// Request is a decoded host request: the request id the response must
// echo, the command byte, and the payload slice (which aliases the
// caller's buffer and must be consumed before it is overwritten).
type Request struct {
	ID      byte
	Command Command
	Payload []byte
}

// Outcome classifies what Parse found.
type Outcome int

const (
	// OK: req is valid, dispatch on req.Command.
	OK Outcome = iota
	// Keypad: the inbound buffer held exactly one byte, a passthrough
	// byte from a keypad sharing the secondary bus (spec.md §4.6). arg
	// carries that byte.
	Keypad
	// BadFrameLength: length < 4 or length > the number of bytes
	// available. No further fields are valid.
	BadFrameLength
	// BadCRC: the frame's CRC-8 did not match. arg carries the CRC this
	// firmware computed, for the ERROR2 diagnostic field.
	BadCRC
	// BadID: request_id (byte 1) was 0.
	BadID
)

// Parse decodes a complete frame out of raw, the bytes the secondary-bus
// driver accumulated for one host write session (spec.md §4.6). raw is
// aliased by the returned Request's Payload; the caller must finish
// acting on it before the inbound buffer is reused.
func Parse(raw []byte) (Request, Outcome, byte) {
	if len(raw) == 1 {
		return Request{}, Keypad, raw[0]
	}

	length := 0
	if len(raw) > 0 {
		length = int(raw[0])
	}

	if length < MinLength || length > len(raw) {
		return Request{}, BadFrameLength, 0
	}

	got := checksum8(raw[:length-1])
	want := raw[length-1]

	if got != want {
		return Request{}, BadCRC, got
	}

	id := raw[1]
	if id == 0 {
		return Request{}, BadID, 0
	}

	return Request{
		ID:      id,
		Command: Command(raw[2]),
		Payload: raw[HeaderLen : length-CRCLen],
	}, OK, 0
}
