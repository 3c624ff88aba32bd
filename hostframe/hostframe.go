// Host request/response framing
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package hostframe implements the length-prefixed, CRC-8 protected host
// packet format of spec.md §3, §4.6 and §6: request decode, response
// encode, the typed tag/length/bytes field payload, and the command and
// field constant tables. It is pure Go and touches neither the MDB UART
// nor the secondary bus; board/vending/mk1 hands it raw bytes pulled out
// of the secondary-bus inbound buffer and takes raw bytes back for the
// outbound buffer.
package hostframe

import "github.com/withsecure/mdb-bridge/crc8"

// Wire limits (spec.md §6, original_source REQUEST_MAX_LENGTH /
// RESPONSE_MAX_LENGTH).
const (
	MinLength = 4
	MaxLength = 70

	HeaderLen = 3 // length, request_id, header/command
	CRCLen    = 1
)

// Command is data[2] of a request.
type Command byte

const (
	CmdStatus               Command = 0x01
	CmdConfig               Command = 0x02
	CmdReset                Command = 0x03
	CmdDebug                Command = 0x04
	CmdFlash                Command = 0x05
	CmdMDBBusReset          Command = 0x07
	CmdMDBTransactionSimple Command = 0x08
	CmdMDBTransactionCustom Command = 0x09
)

// Header is the response header byte (offset 2).
type Header byte

const (
	RespOK        Header = 0x01
	RespReset     Header = 0x02
	RespTWIListen Header = 0x03
	RespError     Header = 0x80
)

// FieldTag identifies a response field.
type FieldTag byte

const (
	FieldFirmwareVersion FieldTag = 0x01
	FieldClock10u        FieldTag = 0x02
	FieldMCUSR           FieldTag = 0x03
	FieldErrorN          FieldTag = 0x08
	FieldError2          FieldTag = 0x09
	FieldMDBResult       FieldTag = 0x10
	FieldMDBData         FieldTag = 0x11
	FieldMDBDuration10u  FieldTag = 0x12
	FieldTWIAddr         FieldTag = 0x20
	FieldTWIData         FieldTag = 0x21
)

// ErrorCode is the first byte of a FIELD_ERROR2/FIELD_ERRORN payload.
// spec.md §6 lists FrameLength and InvalidCRC with the same value
// (0x02); that duplication is preserved here verbatim rather than
// invented away (see DESIGN.md).
type ErrorCode byte

const (
	ErrFrameHeader      ErrorCode = 0x01
	ErrFrameLength      ErrorCode = 0x02
	ErrInvalidCRC       ErrorCode = 0x02
	ErrRequestOverwrite ErrorCode = 0x03
	ErrInvalidAck       ErrorCode = 0x04
	ErrBufferOverflow   ErrorCode = 0x05
	// ErrInvalidID is not in spec.md §6's error table, which enumerates
	// every other code §4.6's prose refers to ("request_id = data[1], 0
	// is illegal -> ERROR_INVALID_ID") except this one. 0x06 is the next
	// unused low value in that table's numbering.
	ErrInvalidID      ErrorCode = 0x06
	ErrUnknownCommand ErrorCode = 0x10
	ErrInvalidData    ErrorCode = 0x11
	ErrNotImplemented ErrorCode = 0x12
)

// Field is a single decoded tag/length/bytes entry.
type Field struct {
	Tag   FieldTag
	Bytes []byte
}

// checksum8 is CRC-8 poly 0x93 over a byte span; hostframe frames use the
// same CRC-8 that protects the secondary bus, as opposed to mdbproto's
// unrelated sum-mod-256 MDB checksum.
func checksum8(data []byte) byte {
	return crc8.Span(data)
}
