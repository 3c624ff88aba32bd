// MDB master session engine
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package mdbproto implements the MDB master session state machine:
// address/checksum framing, the ACK/NAK/RET retry sub-protocol, and bus
// reset. It owns no registers; it drives an abstract UART and deadline
// timer and is driven in turn by ISR-entry methods (HandleRX, HandleUDRE,
// HandleTXC, HandleDeadline) that a board layer calls from its real
// interrupt vectors.
package mdbproto

import (
	"github.com/withsecure/mdb-bridge/buffer"
	"github.com/withsecure/mdb-bridge/clock"
)

// Minimum and maximum MDB payload length accepted by Begin (spec.md §4.5,
// §8). Begin rejects a payload outside this range with a SEND_OVERFLOW
// result carrying the rejected length; no BUFFER_OVERFLOW error frame is
// produced for it.
const (
	MinData = 1
	MaxData = 35

	mdbOutCap = MaxData + 1 // + checksum byte
	mdbInCap  = MaxData + 1 // + terminator byte

	// ByteTimeoutMillis is the MDB per-byte deadline (spec.md §4.3).
	ByteTimeoutMillis = 6
)

// UARTLine is the 9-N-1 UART collaborator the session engine drives.
// SendMark writes a single byte with the 9th bit set (address byte, or
// ACK/NAK/RET sent back to the peripheral); SendData writes a byte with
// the 9th bit clear. Implemented by soc/avr/uart9.Line.
type UARTLine interface {
	Ready() bool
	SendMark(b byte)
	SendData(b byte)
	EnableDataEmptyIRQ()
	DisableDataEmptyIRQ()
	EnableTxCompleteIRQ()
	DisableTxCompleteIRQ()
	DisableRxTx()
	EnableRxTx()
	DriveTxLow()
	ReleaseTxPin()
}

// Debugger records a (code, arg) diagnostic pair, implemented by
// debugring.Ring. A session with no Debugger set simply skips recording.
type Debugger interface {
	MarkCode(code, arg byte)
}

// ACK, NAK, RET are the MDB single-byte handshake values (spec.md §6,
// GLOSSARY).
const (
	ack byte = 0x00
	nak byte = 0xff
	ret byte = 0xaa
)

// site identifies the guard that produced a CODE_ERROR result, recorded
// as the diagnostic argument since this firmware has no stack unwinding
// (spec.md §7 "internal consistency... emit CODE_ERROR with a
// line-identifier or state byte").
type site byte

const (
	siteUDREUnexpected site = iota + 1
	siteTXCUnexpected
)

// Session is the MDB session record of spec.md §3.
type Session struct {
	uart     UARTLine
	clk      *clock.Ticks
	deadline *clock.Deadline

	mdbOut buffer.Buffer
	mdbIn  buffer.Buffer

	debug Debugger

	state         State
	requestID     byte
	result        Result
	inChk         byte
	retrying      bool
	startTick     uint16
	durationTicks uint16
}

// Init wires the session to its UART, tick source, and deadline timer,
// and reserves static storage for the MDB in/out frames. Must be called
// once before any other method.
func (s *Session) Init(uart UARTLine, clk *clock.Ticks, deadline *clock.Deadline) {
	s.uart = uart
	s.clk = clk
	s.deadline = deadline
	s.mdbOut.Init(mdbOutCap)
	s.mdbIn.Init(mdbInCap)
	s.state = StateIdle
}

// SetDebug attaches a diagnostic recorder; every result the session
// reaches DONE/ERROR with is mirrored into it (spec.md §4.8: "every
// MDB_RESULT... doubles as a structured log record"). Optional — a
// session with no Debugger attached behaves exactly as before.
func (s *Session) SetDebug(d Debugger) {
	s.debug = d
}

// State returns the current session state.
func (s *Session) State() State {
	return s.state
}

// Done reports whether the session has reached a terminal state awaiting
// publish.
func (s *Session) Done() bool {
	return s.state == StateDone || s.state == StateError
}

// Begin starts an MDB transaction (spec.md §4.5). data must hold 1..35
// bytes; the engine appends the checksum itself. Returns (true, Result{})
// if the session started, or (false, result) with the session left
// exactly as it was if it could not.
func (s *Session) Begin(requestID byte, data []byte) (bool, Result) {
	if s.state != StateIdle {
		return false, Result{Code: ResultBusy, Arg: byte(s.state)}
	}

	n := len(data)
	if n < MinData || n > MaxData {
		return false, Result{Code: ResultSendOverflow, Arg: byte(n)}
	}

	if !s.uart.Ready() {
		return false, Result{Code: ResultUARTSendBusy}
	}

	s.mdbOut.ClearFast()
	s.mdbOut.AppendN(data, n)
	s.mdbOut.Append(Checksum(data[:n]))

	s.requestID = requestID
	s.retrying = false
	s.startTick = s.clk.Now()
	s.state = StateSend

	s.deadline.SetMillis(ByteTimeoutMillis)
	s.uart.SendMark(s.mdbOut.At(0))
	s.mdbOut.Consume(1)
	s.uart.EnableDataEmptyIRQ()

	return true, Result{}
}

// BusReset drives the MDB bus reset sequence (spec.md §4.5).
func (s *Session) BusReset(requestID byte, durationMillis uint16) (bool, Result) {
	if s.state != StateIdle {
		return false, Result{Code: ResultBusy, Arg: byte(s.state)}
	}

	s.requestID = requestID
	s.startTick = s.clk.Now()
	s.uart.DisableRxTx()
	s.uart.DriveTxLow()
	s.state = StateBusReset
	s.deadline.SetMillis(durationMillis)

	return true, Result{}
}

// Publish drains a DONE (or ERROR) session: it returns the request id,
// result, received payload, and session duration, then resets the
// session to IDLE. The returned payload slice aliases internal storage
// and is only valid until the next Begin/BusReset call; the caller must
// encode it into a response before then.
func (s *Session) Publish() (requestID byte, result Result, payload []byte, durationTicks uint16) {
	requestID = s.requestID
	result = s.result
	durationTicks = s.durationTicks

	if result.Code == ResultSuccess && s.mdbIn.Len() > 0 {
		payload = s.mdbIn.Bytes()[:s.mdbIn.Len()-1]
	}

	s.state = StateIdle
	s.mdbIn.ClearFast()
	s.mdbOut.ClearFast()
	s.inChk = 0
	s.retrying = false
	s.result = Result{}

	return
}

// HandleUDRE is called from the UART data-register-empty interrupt.
func (s *Session) HandleUDRE() {
	if s.state != StateSend {
		s.finish(ResultCodeError, byte(siteUDREUnexpected))
		return
	}

	idx := s.mdbOut.Used()
	last := idx == s.mdbOut.Len()-1
	b := s.mdbOut.At(idx)

	s.uart.SendData(b)
	s.mdbOut.Consume(1)

	if last {
		s.uart.DisableDataEmptyIRQ()
		s.uart.EnableTxCompleteIRQ()
	} else {
		s.deadline.SetMillis(ByteTimeoutMillis)
	}
}

// HandleTXC is called from the UART transmit-complete interrupt.
func (s *Session) HandleTXC() {
	if s.state != StateSend {
		s.finish(ResultCodeError, byte(siteTXCUnexpected))
		return
	}

	s.mdbIn.ClearFast()
	s.inChk = 0
	s.state = StateRecv
	s.deadline.SetMillis(ByteTimeoutMillis)
}

// HandleRX is called from the UART receive-complete interrupt with the
// decoded status flags and data byte, in the order the hardware latches
// them (spec.md §4.4).
func (s *Session) HandleRX(b byte, ninth, frameErr, overrun, parityErr bool) {
	switch {
	case frameErr:
		s.finish(ResultUARTReadError, 0)
		return
	case overrun:
		s.finish(ResultUARTReadOverflow, 0)
		return
	case parityErr:
		s.finish(ResultUARTReadParity, 0)
		return
	}

	if s.state != StateSend && s.state != StateRecv {
		s.finish(ResultUARTReadUnexpected, b)
		return
	}

	if !s.mdbIn.Append(b) {
		s.finish(ResultReceiveOverflow, 0)
		return
	}

	if !ninth {
		s.inChk += b
		s.deadline.SetMillis(ByteTimeoutMillis)
		return
	}

	s.handleTerminator(b)
}

// handleTerminator implements spec.md §4.5's "Terminator handling"
// branch: b is the just-appended 9th-bit byte.
func (s *Session) handleTerminator(b byte) {
	if s.mdbIn.Len() == 1 {
		switch b {
		case ack:
			s.finish(ResultSuccess, 0)
		case nak:
			s.finish(ResultNAK, 0)
		default:
			s.finish(ResultInvalidEnd, b)
		}
		return
	}

	if s.inChk == b {
		s.uart.SendMark(ack)
		s.finish(ResultSuccess, 0)
		return
	}

	if !s.retrying {
		s.uart.SendMark(ret)
		s.mdbIn.ClearFast()
		s.inChk = 0
		s.retrying = true
		s.deadline.SetMillis(ByteTimeoutMillis)
		return
	}

	s.uart.SendMark(nak)
	s.finish(ResultInvalidChk, 0)
}

// HandleDeadline is called from the deadline timer interrupt. It is a
// no-op if the session has already ended, since the deadline can race a
// concurrent RX completion (spec.md §9 "Interrupt re-entrancy").
func (s *Session) HandleDeadline() {
	switch s.state {
	case StateSend, StateRecv:
		s.finish(ResultTimeout, byte(s.state))
	case StateBusReset:
		s.uart.ReleaseTxPin()
		s.uart.EnableRxTx()
		s.finish(ResultSuccess, 0)
	}
}

// finish moves the session to DONE, recording duration and result
// (spec.md §4.5 "Finish").
func (s *Session) finish(code ResultCode, arg byte) {
	s.deadline.Stop()
	s.result = Result{Code: code, Arg: arg}
	s.durationTicks = clock.Elapsed(s.startTick, s.clk.Now())
	s.state = StateDone

	if s.debug != nil {
		s.debug.MarkCode(byte(code), arg)
	}
}
