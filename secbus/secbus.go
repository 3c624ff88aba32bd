// Secondary-bus slave driver
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package secbus implements the hardware-agnostic half of the secondary
// (two-wire, address 0x78) slave driver of spec.md §4.7: the
// address/data/stop event state diagram, feeding request bytes into an
// inbound buffer and draining response bytes out of an outbound one
// without ever blocking the interrupt that calls it. The concrete TWI
// register decode and ISR wiring live in soc/avr/twislave; this package
// only reacts to already-classified bus events so it can be driven from
// a fake in tests the same way it is driven from a real TWI ISR.
package secbus

import "github.com/withsecure/mdb-bridge/buffer"

// Ack is what the driver decides to answer a byte event with; the board
// layer turns this into the actual TWI acknowledge bit.
type Ack bool

const (
	NACK Ack = false
	ACK  Ack = true
)

// Driver is the secondary-bus slave state machine. Inbound and Outbound
// are exported so the main loop can read a completed inbound request
// (after observing Idle) and refill Outbound with a new response.
type Driver struct {
	Inbound  buffer.Buffer
	Outbound buffer.Buffer

	idle bool
}

// Init reserves storage for both buffers.
func (d *Driver) Init(inboundCap, outboundCap int) {
	d.Inbound.Init(inboundCap)
	d.Outbound.Init(outboundCap)
	d.idle = true
}

// Idle reports whether the bus is between sessions. The main loop may
// only parse Inbound after observing this true.
func (d *Driver) Idle() bool {
	return d.idle
}

// AddressReceivedWrite handles the host addressing the slave for a
// write. ACKs unless a prior request is still unconsumed (back-pressure:
// spec.md §4.7 "if inbound.length == 0, ACK; else NACK").
func (d *Driver) AddressReceivedWrite() Ack {
	d.idle = false

	if d.Inbound.Len() == 0 {
		return ACK
	}

	return NACK
}

// DataByteReceived appends a byte written by the host. NACKs (without
// appending) if Inbound is already full; the dropped byte is not
// recorded anywhere, so no buffer-overflow error is reported for it.
func (d *Driver) DataByteReceived(b byte) Ack {
	if d.Inbound.Append(b) {
		return ACK
	}

	return NACK
}

// Stop handles a bus STOP condition.
func (d *Driver) Stop() {
	d.idle = true
}

// AddressReceivedRead handles the host addressing the slave for a read.
// Transmits the first pending response byte if one is queued, otherwise
// transmits a sentinel 0 and NACKs so the host sees "no response yet".
func (d *Driver) AddressReceivedRead() (b byte, ack Ack) {
	d.idle = false

	if d.Outbound.Len() > 0 {
		return d.Outbound.At(0), ACK
	}

	return 0, NACK
}

// ByteSent handles the host ACKing a transmitted byte: advance to the
// next queued byte, or 0/NACK if none remain.
func (d *Driver) ByteSent() (b byte, ack Ack) {
	d.Outbound.Consume(1)

	if d.Outbound.Remaining() > 0 {
		return d.Outbound.At(d.Outbound.Used()), ACK
	}

	return 0, NACK
}

// LastByteSent handles the host NACKing (declining further bytes) after
// the final byte of a response: the response is fully delivered, clear
// it and go idle.
func (d *Driver) LastByteSent() {
	d.Outbound.ClearFast()
	d.idle = true
}

// BusError handles a bus-error condition: clear Inbound and go idle. The
// register-level STOP and the restored ACK expectation for the next
// address phase are written by the caller (soc/avr/twislave).
func (d *Driver) BusError() {
	d.Inbound.ClearFast()
	d.idle = true
}

// Fill loads a freshly built response into Outbound for the next read
// phase. The main loop calls this only while Idle, after Finish() has
// produced a complete, CRC-closed frame.
func (d *Driver) Fill(resp []byte) bool {
	d.Outbound.ClearFast()
	return d.Outbound.AppendN(resp, len(resp))
}

// ConsumeInbound clears Inbound after the main loop has finished parsing
// a completed request, making room for the next one.
func (d *Driver) ConsumeInbound() {
	d.Inbound.ClearFast()
}

// NotifyAsserted reports whether the host-notify GPIO should be driven
// high: a response is queued and the bus is not mid-session (spec.md
// §4.7's "set whenever outbound.length > 0 and idle == true").
func (d *Driver) NotifyAsserted() bool {
	return d.Outbound.Len() > 0 && d.idle
}
