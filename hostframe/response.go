// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package hostframe

import "github.com/withsecure/mdb-bridge/buffer"

// overflowReserve is the number of bytes response field-appends must
// always leave free: a FIELD_ERROR2 entry (tag + length + 2-byte
// payload = 4 bytes) plus the closing CRC byte (spec.md §4.6 step 2).
const overflowReserve = 5

// Response builds one outbound frame: response_begin, zero or more
// field appends, response_finish (spec.md §4.6). A Response is reused
// across requests; Begin resets it.
type Response struct {
	buf        buffer.Buffer
	prefixEnd  int
	overflowed bool
}

// Init reserves storage for cap bytes (70, per spec.md §6).
func (r *Response) Init(capacity int) {
	r.buf.Init(capacity)
}

// Begin starts a new response: placeholder length, request id, header,
// then the mandatory FIELD_FIRMWARE_VERSION and FIELD_CLOCK10U prefix
// fields every response carries.
func (r *Response) Begin(requestID byte, header Header, firmwareVersion [2]byte, clock10u uint16) {
	r.buf.ClearFast()
	r.overflowed = false

	r.buf.Append(0) // length, patched in Finish
	r.buf.Append(requestID)
	r.buf.Append(byte(header))

	r.field(FieldFirmwareVersion, firmwareVersion[:])
	r.field(FieldClock10u, []byte{byte(clock10u >> 8), byte(clock10u)})

	r.prefixEnd = r.buf.Len()
}

// F0 appends a zero-length field (a bare tag marker).
func (r *Response) F0(tag FieldTag) bool {
	return r.field(tag, nil)
}

// F1 appends a 1-byte field.
func (r *Response) F1(tag FieldTag, b0 byte) bool {
	return r.field(tag, []byte{b0})
}

// F2 appends a 2-byte field.
func (r *Response) F2(tag FieldTag, b0, b1 byte) bool {
	return r.field(tag, []byte{b0, b1})
}

// FN appends a variable-length field.
func (r *Response) FN(tag FieldTag, data []byte) bool {
	return r.field(tag, data)
}

// field is the common path behind F0/F1/F2/FN. It enforces spec.md
// §4.6's capacity rule: every append must leave overflowReserve bytes
// free; a field that would not leaves the response truncated to its
// mandatory prefix plus a single FIELD_ERROR2(BUFFER_OVERFLOW, attempted)
// field, closed immediately.
func (r *Response) field(tag FieldTag, payload []byte) bool {
	if r.overflowed {
		return false
	}

	need := 2 + len(payload)

	if r.buf.Len()+need > r.buf.Cap()-overflowReserve {
		r.truncateToOverflow(need)
		return false
	}

	r.buf.Append(byte(tag))
	r.buf.Append(byte(len(payload)))
	r.buf.AppendN(payload, len(payload))

	return true
}

func (r *Response) truncateToOverflow(attempted int) {
	r.buf.Copy(r.buf.Bytes(), r.prefixEnd)
	r.overflowed = true

	arg := attempted
	if arg > 0xff {
		arg = 0xff
	}

	r.buf.Append(byte(FieldError2))
	r.buf.Append(2)
	r.buf.Append(byte(ErrBufferOverflow))
	r.buf.Append(byte(arg))
}

// Overflowed reports whether this response was truncated to a single
// BUFFER_OVERFLOW error field.
func (r *Response) Overflowed() bool {
	return r.overflowed
}

// Finish patches the length byte, appends the closing CRC-8, and
// returns the complete frame. The returned slice aliases the Response's
// storage and is only valid until the next Begin.
func (r *Response) Finish() []byte {
	length := r.buf.Len() + CRCLen
	bs := r.buf.Bytes()
	bs[0] = byte(length)

	crc := checksum8(bs)
	r.buf.Append(crc)

	return r.buf.Bytes()
}

// Error builds a complete RESP_ERROR frame in one call: begin, a single
// FIELD_ERROR2, finish.
func (r *Response) Error(requestID byte, firmwareVersion [2]byte, clock10u uint16, code ErrorCode, arg byte) []byte {
	r.Begin(requestID, RespError, firmwareVersion, clock10u)
	r.F2(FieldError2, byte(code), arg)

	return r.Finish()
}
