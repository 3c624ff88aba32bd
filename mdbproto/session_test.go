// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mdbproto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withsecure/mdb-bridge/clock"
)

// fakeUART is a software stand-in for soc/avr/uart9.Line: it records
// every write instead of touching registers, and lets a test script
// drive the session's ISR-entry methods as if bytes had actually been
// exchanged on the wire.
type fakeUART struct {
	ready    bool
	marks    []byte
	data     []byte
	udreOn   bool
	txcOn    bool
	rxtxOn   bool
	txLow    bool
}

func newFakeUART() *fakeUART {
	return &fakeUART{ready: true, rxtxOn: true}
}

func (f *fakeUART) Ready() bool             { return f.ready }
func (f *fakeUART) SendMark(b byte)         { f.marks = append(f.marks, b) }
func (f *fakeUART) SendData(b byte)         { f.data = append(f.data, b) }
func (f *fakeUART) EnableDataEmptyIRQ()     { f.udreOn = true }
func (f *fakeUART) DisableDataEmptyIRQ()    { f.udreOn = false }
func (f *fakeUART) EnableTxCompleteIRQ()    { f.txcOn = true }
func (f *fakeUART) DisableTxCompleteIRQ()   { f.txcOn = false }
func (f *fakeUART) DisableRxTx()            { f.rxtxOn = false }
func (f *fakeUART) EnableRxTx()             { f.rxtxOn = true }
func (f *fakeUART) DriveTxLow()             { f.txLow = true }
func (f *fakeUART) ReleaseTxPin()           { f.txLow = false }

type fakeTimer struct {
	armed bool
	ticks uint16
}

func (t *fakeTimer) Arm(ticks uint16) { t.armed = true; t.ticks = ticks }
func (t *fakeTimer) Stop()            { t.armed = false }

func newSession(t *testing.T) (*Session, *fakeUART, *fakeTimer) {
	t.Helper()

	uart := newFakeUART()
	timer := &fakeTimer{}

	var tk clock.Ticks
	var dl clock.Deadline

	s := &Session{}
	dl.Init(timer, s.HandleDeadline)
	s.Init(uart, &tk, &dl)

	return s, uart, timer
}

// sendFrame drives a full SEND sequence for a single-byte payload: UDRE
// fires once for the checksum byte, then TXC moves the session to RECV.
func sendFrame(s *Session, data []byte) {
	for i := 1; i < len(data)+1; i++ {
		s.HandleUDRE()
	}
	s.HandleTXC()
}

func TestBeginRejectsWhenBusy(t *testing.T) {
	s, _, _ := newSession(t)

	ok, _ := s.Begin(1, []byte{0x30})
	require.True(t, ok)

	ok, res := s.Begin(2, []byte{0x30})
	assert.False(t, ok)
	assert.Equal(t, ResultBusy, res.Code)
	assert.Equal(t, byte(StateSend), res.Arg)
}

func TestBeginRejectsOversizedPayload(t *testing.T) {
	s, _, _ := newSession(t)

	big := make([]byte, MaxData+1)
	ok, res := s.Begin(1, big)

	assert.False(t, ok)
	assert.Equal(t, ResultSendOverflow, res.Code)
	assert.Equal(t, StateIdle, s.State())
}

func TestBeginRejectsEmptyPayload(t *testing.T) {
	s, _, _ := newSession(t)

	ok, res := s.Begin(1, nil)

	assert.False(t, ok)
	assert.Equal(t, ResultSendOverflow, res.Code)
}

func TestBeginWhenUARTNotReadyStaysIdle(t *testing.T) {
	s, uart, _ := newSession(t)
	uart.ready = false

	ok, res := s.Begin(1, []byte{0x30})

	assert.False(t, ok)
	assert.Equal(t, ResultUARTSendBusy, res.Code)
	assert.Equal(t, StateIdle, s.State())
}

// TestBarePollACK reproduces spec.md §8 scenario 2: a 1-byte poll
// answered by a bare ACK.
func TestBarePollACK(t *testing.T) {
	s, uart, _ := newSession(t)

	ok, _ := s.Begin(2, []byte{0x30})
	require.True(t, ok)
	require.Equal(t, byte(0x30), uart.marks[0], "address byte carries bit-9 via SendMark")

	sendFrame(s, []byte{0x30})
	assert.Equal(t, StateRecv, s.State())

	s.HandleRX(0x00, true, false, false, false)
	require.True(t, s.Done())

	id, res, payload, _ := s.Publish()
	assert.Equal(t, byte(2), id)
	assert.Equal(t, ResultSuccess, res.Code)
	assert.Empty(t, payload)
	assert.Equal(t, StateIdle, s.State())
}

// TestMultiByteSuccess reproduces scenario 3.
func TestMultiByteSuccess(t *testing.T) {
	s, _, _ := newSession(t)

	ok, _ := s.Begin(3, []byte{0x30})
	require.True(t, ok)
	sendFrame(s, []byte{0x30})

	s.HandleRX(0x11, false, false, false, false)
	s.HandleRX(0x22, false, false, false, false)
	s.HandleRX(0x33, true, false, false, false)

	require.True(t, s.Done())
	_, res, payload, _ := s.Publish()
	assert.Equal(t, ResultSuccess, res.Code)
	assert.Equal(t, []byte{0x11, 0x22}, payload)
}

// TestBadChecksumThenRetrySucceeds reproduces scenario 4.
func TestBadChecksumThenRetrySucceeds(t *testing.T) {
	s, uart, _ := newSession(t)

	ok, _ := s.Begin(4, []byte{0x30})
	require.True(t, ok)
	sendFrame(s, []byte{0x30})

	s.HandleRX(0x11, false, false, false, false)
	s.HandleRX(0x22, false, false, false, false)
	s.HandleRX(0x34, true, false, false, false) // wrong checksum

	assert.Equal(t, StateRecv, s.State())
	assert.Contains(t, uart.marks, byte(0xaa))

	s.HandleRX(0x11, false, false, false, false)
	s.HandleRX(0x22, false, false, false, false)
	s.HandleRX(0x33, true, false, false, false)

	require.True(t, s.Done())
	_, res, payload, _ := s.Publish()
	assert.Equal(t, ResultSuccess, res.Code)
	assert.Equal(t, []byte{0x11, 0x22}, payload)
}

// TestBadChecksumTwiceIsInvalidChk reproduces scenario 5.
func TestBadChecksumTwiceIsInvalidChk(t *testing.T) {
	s, uart, _ := newSession(t)

	ok, _ := s.Begin(5, []byte{0x30})
	require.True(t, ok)
	sendFrame(s, []byte{0x30})

	s.HandleRX(0x11, false, false, false, false)
	s.HandleRX(0x22, false, false, false, false)
	s.HandleRX(0x34, true, false, false, false)

	s.HandleRX(0x11, false, false, false, false)
	s.HandleRX(0x22, false, false, false, false)
	s.HandleRX(0x34, true, false, false, false)

	require.True(t, s.Done())
	assert.Contains(t, uart.marks, byte(0xff))

	_, res, _, _ := s.Publish()
	assert.Equal(t, ResultInvalidChk, res.Code)
}

// TestTimeoutDuringRecv reproduces scenario 6.
func TestTimeoutDuringRecv(t *testing.T) {
	s, _, _ := newSession(t)

	ok, _ := s.Begin(6, []byte{0x30})
	require.True(t, ok)
	sendFrame(s, []byte{0x30})
	require.Equal(t, StateRecv, s.State())

	s.HandleDeadline()

	require.True(t, s.Done())
	_, res, _, _ := s.Publish()
	assert.Equal(t, ResultTimeout, res.Code)
	assert.Equal(t, byte(StateRecv), res.Arg)
}

func TestNAKFromPeripheral(t *testing.T) {
	s, _, _ := newSession(t)

	s.Begin(1, []byte{0x30})
	sendFrame(s, []byte{0x30})

	s.HandleRX(0xff, true, false, false, false)

	_, res, _, _ := s.Publish()
	assert.Equal(t, ResultNAK, res.Code)
}

func TestInvalidEndByte(t *testing.T) {
	s, _, _ := newSession(t)

	s.Begin(1, []byte{0x30})
	sendFrame(s, []byte{0x30})

	s.HandleRX(0x42, true, false, false, false)

	_, res, _, _ := s.Publish()
	assert.Equal(t, ResultInvalidEnd, res.Code)
	assert.Equal(t, byte(0x42), res.Arg)
}

func TestReceiveOverflow(t *testing.T) {
	s, _, _ := newSession(t)

	s.Begin(1, []byte{0x30})
	sendFrame(s, []byte{0x30})

	for i := 0; i < MaxData+1; i++ {
		s.HandleRX(0x01, false, false, false, false)
	}

	// 36 data bytes fill the in-buffer; the checksum byte has no room left.
	s.HandleRX(0x24, true, false, false, false)

	require.True(t, s.Done())
	_, res, _, _ := s.Publish()
	assert.Equal(t, ResultReceiveOverflow, res.Code)
}

func TestFramingErrorEndsSession(t *testing.T) {
	s, _, _ := newSession(t)

	s.Begin(1, []byte{0x30})
	sendFrame(s, []byte{0x30})

	s.HandleRX(0x00, false, true, false, false)

	_, res, _, _ := s.Publish()
	assert.Equal(t, ResultUARTReadError, res.Code)
}

func TestRXWhileIdleIsUnexpected(t *testing.T) {
	s, _, _ := newSession(t)

	s.HandleRX(0x55, false, false, false, false)

	require.True(t, s.Done())
	_, res, _, _ := s.Publish()
	assert.Equal(t, ResultUARTReadUnexpected, res.Code)
	assert.Equal(t, byte(0x55), res.Arg)
}

func TestBusResetSequence(t *testing.T) {
	s, uart, timer := newSession(t)

	ok, _ := s.BusReset(9, 150)
	require.True(t, ok)
	assert.False(t, uart.rxtxOn)
	assert.True(t, uart.txLow)
	assert.True(t, timer.armed)
	assert.Equal(t, StateBusReset, s.State())

	s.HandleDeadline()

	assert.True(t, uart.rxtxOn)
	assert.False(t, uart.txLow)

	id, res, _, _ := s.Publish()
	assert.Equal(t, byte(9), id)
	assert.Equal(t, ResultSuccess, res.Code)
}

func TestUDREAndTXCUnexpectedProduceCodeError(t *testing.T) {
	s, _, _ := newSession(t)

	s.HandleUDRE()
	require.True(t, s.Done())
	_, res, _, _ := s.Publish()
	assert.Equal(t, ResultCodeError, res.Code)

	s.HandleTXC()
	require.True(t, s.Done())
	_, res, _, _ = s.Publish()
	assert.Equal(t, ResultCodeError, res.Code)
}

func TestDeadlineNoopWhenSessionAlreadyDone(t *testing.T) {
	s, _, _ := newSession(t)

	s.Begin(1, []byte{0x30})
	sendFrame(s, []byte{0x30})
	s.HandleRX(0x00, true, false, false, false)
	require.True(t, s.Done())

	// A deadline racing a just-finished session must not disturb it.
	s.HandleDeadline()

	_, res, _, _ := s.Publish()
	assert.Equal(t, ResultSuccess, res.Code)
}
