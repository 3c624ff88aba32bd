// Diagnostic ring for the DEBUG host command
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package debugring implements the fixed-capacity, append-only diagnostic
// ring that backs the DEBUG host command (spec.md §4.6, §4.8): board and
// core code append short ASCII-ish markers as conditions are hit, and the
// host periodically flushes and clears them with a DEBUG request. There
// is no dynamic allocation, matching buffer.Buffer's design; a ring that
// is too full to take a whole write keeps whatever it already has
// instead of losing the append silently.
package debugring

import "github.com/withsecure/mdb-bridge/buffer"

// Ring is a byte-oriented diagnostic log of fixed capacity.
type Ring struct {
	buf      buffer.Buffer
	overflow bool
}

// Init reserves storage for cap bytes.
func (r *Ring) Init(capacity int) {
	r.buf.Init(capacity)
	r.overflow = false
}

// Mark appends a single diagnostic byte. If the ring is full the byte is
// dropped and Overflowed latches true, so a technician can tell a gap
// occurred instead of silently missing it.
func (r *Ring) Mark(b byte) {
	if !r.buf.Append(b) {
		r.overflow = true
	}
}

// MarkCode appends a (code, arg) pair as two bytes, the same shape as an
// MDB_RESULT or ERROR2 field, so debug markers can be decoded with the
// same table a human already has.
func (r *Ring) MarkCode(code, arg byte) {
	if !r.buf.AppendN([]byte{code, arg}, 2) {
		r.overflow = true
	}
}

// Bytes returns the accumulated content. The returned slice aliases the
// ring's storage and is only valid until the next Flush.
func (r *Ring) Bytes() []byte {
	return r.buf.Bytes()
}

// Len returns the number of accumulated bytes.
func (r *Ring) Len() int {
	return r.buf.Len()
}

// Overflowed reports whether a Mark was dropped since the last Flush.
func (r *Ring) Overflowed() bool {
	return r.overflow
}

// Flush returns the accumulated bytes and clears the ring for the next
// collection window. Unlike Bytes, the returned slice must be copied by
// the caller before the next Mark if it needs to outlive this call.
func (r *Ring) Flush() []byte {
	out := r.buf.Bytes()
	r.buf.ClearFast()
	r.overflow = false

	return out
}
