// MDB session result codes
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mdbproto

// ResultCode is the value placed in FIELD_MDB_RESULT[0] when a session
// reaches DONE (spec.md §4.5, §6). spec.md names these codes but does not
// assign wire values; the numbering below follows
// original_source/hardware/mega-firmware/protocol.h's mdb_result_t so
// that this firmware's FIELD_MDB_RESULT stays compatible with the
// original host-side tooling the protocol was distilled from.
type ResultCode byte

const (
	ResultSuccess            ResultCode = 0x01
	ResultBusy               ResultCode = 0x08
	ResultInvalidChk         ResultCode = 0x09
	ResultNAK                ResultCode = 0x0a
	ResultTimeout            ResultCode = 0x0b
	ResultInvalidEnd         ResultCode = 0x0c
	ResultReceiveOverflow    ResultCode = 0x0d
	ResultSendOverflow       ResultCode = 0x0e
	ResultCodeError          ResultCode = 0x0f
	ResultUARTReadUnexpected ResultCode = 0x10
	ResultUARTReadError      ResultCode = 0x11
	ResultUARTReadOverflow   ResultCode = 0x12
	ResultUARTReadParity     ResultCode = 0x13
	ResultUARTSendBusy       ResultCode = 0x14
	ResultUARTTXCUnexpected  ResultCode = 0x15
	ResultTimerCodeError     ResultCode = 0x18
)

func (c ResultCode) String() string {
	switch c {
	case ResultSuccess:
		return "SUCCESS"
	case ResultBusy:
		return "BUSY"
	case ResultInvalidChk:
		return "INVALID_CHK"
	case ResultNAK:
		return "NAK"
	case ResultTimeout:
		return "TIMEOUT"
	case ResultInvalidEnd:
		return "INVALID_END"
	case ResultReceiveOverflow:
		return "RECEIVE_OVERFLOW"
	case ResultSendOverflow:
		return "SEND_OVERFLOW"
	case ResultCodeError:
		return "CODE_ERROR"
	case ResultUARTReadUnexpected:
		return "UART_READ_UNEXPECTED"
	case ResultUARTReadError:
		return "UART_READ_ERROR"
	case ResultUARTReadOverflow:
		return "UART_READ_OVERFLOW"
	case ResultUARTReadParity:
		return "UART_READ_PARITY"
	case ResultUARTSendBusy:
		return "UART_SEND_BUSY"
	case ResultUARTTXCUnexpected:
		return "UART_TXC_UNEXPECTED"
	case ResultTimerCodeError:
		return "TIMER_CODE_ERROR"
	}

	return "UNKNOWN"
}

// Result is the (code, diagnostic byte) pair carried by FIELD_MDB_RESULT.
type Result struct {
	Code ResultCode
	Arg  byte
}

// State is a session state, spec.md §3. Numbering follows
// original_source/hardware/mega-firmware/protocol.h's mdb_state_t.
type State byte

const (
	StateIdle     State = 0
	StateError    State = 1
	StateSend     State = 2
	StateRecv     State = 3
	StateRecvEnd  State = 4
	StateBusReset State = 5
	StateDone     State = 6
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSend:
		return "SEND"
	case StateRecv:
		return "RECV"
	case StateRecvEnd:
		return "RECV_END"
	case StateBusReset:
		return "BUS_RESET"
	case StateDone:
		return "DONE"
	case StateError:
		return "ERROR"
	}

	return "UNKNOWN"
}
