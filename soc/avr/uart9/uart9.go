// AVR 9-bit USART driver
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package uart9 implements a driver for an ATmega-family USART run in
// 9-data-bit, no-parity, 1-stop (9-N-1) mode, the framing MDB requires:
// the 9th bit marks address and terminator bytes. Register layout
// follows the ATmega328P/2560 USART0 memory map. Grounded on
// soc/nxp/uart, adapted from a 32-bit MMIO peripheral to 8-bit AVR
// registers accessed through reg8.
package uart9

import (
	"github.com/withsecure/mdb-bridge/reg8"
	"periph.io/x/conn/v3/gpio"
)

// USART0 register offsets from UCSR0A, and their bit positions.
const (
	ucsr0a     = 0x00
	ucsr0aTXC  = 6
	ucsr0aUDRE = 5
	ucsr0aFE   = 4
	ucsr0aDOR  = 3
	ucsr0aUPE  = 2

	ucsr0b      = 0x01
	ucsr0bRXCIE = 7
	ucsr0bTXCIE = 6
	ucsr0bUDRIE = 5
	ucsr0bRXEN  = 4
	ucsr0bTXEN  = 3
	ucsr0bUCSZ2 = 2
	ucsr0bRXB8  = 1
	ucsr0bTXB8  = 0

	ucsr0c      = 0x02
	ucsr0cUCSZ1 = 2
	ucsr0cUCSZ0 = 1

	ubrr0l = 0x04
	ubrr0h = 0x05
	udr0   = 0x06
)

// Line is a 9-N-1 USART instance. It implements mdbproto.UARTLine.
type Line struct {
	// Base is the address of UCSR0A for this USART instance.
	Base uintptr
	// TxPin, when set, is driven low as a GPIO output during bus reset
	// instead of letting the USART hold the TX line (spec.md §4.5
	// "drives the TX pin low by making it a GPIO output at 0").
	TxPin gpio.PinOut
}

func (l *Line) reg(offset uintptr) uintptr {
	return l.Base + offset
}

// Init configures 9600 baud, 9 data bits, no parity, 1 stop, and enables
// RX, TX, and the RX-complete interrupt (spec.md §4.4).
func (l *Line) Init(ubrrValue uint16) {
	reg8.Write(l.reg(ubrr0h), byte(ubrrValue>>8))
	reg8.Write(l.reg(ubrr0l), byte(ubrrValue))

	// UCSZ2:0 = 111 selects 9 data bits.
	reg8.Set(l.reg(ucsr0b), ucsr0bUCSZ2)
	reg8.SetN(l.reg(ucsr0c), 1, 0x3, 0x3)

	reg8.Set(l.reg(ucsr0b), ucsr0bRXEN)
	reg8.Set(l.reg(ucsr0b), ucsr0bTXEN)
	reg8.Set(l.reg(ucsr0b), ucsr0bRXCIE)
}

// Ready reports whether UDR is free to accept the first byte of a new
// frame.
func (l *Line) Ready() bool {
	return reg8.Get(l.reg(ucsr0a), ucsr0aUDRE, 1) == 1
}

// SendMark writes a byte with the 9th bit set: an MDB address byte, or
// an ACK/NAK/RET handshake sent back to the peripheral.
func (l *Line) SendMark(b byte) {
	reg8.Set(l.reg(ucsr0b), ucsr0bTXB8)
	reg8.Write(l.reg(udr0), b)
}

// SendData writes a byte with the 9th bit clear.
func (l *Line) SendData(b byte) {
	reg8.Clear(l.reg(ucsr0b), ucsr0bTXB8)
	reg8.Write(l.reg(udr0), b)
}

// EnableDataEmptyIRQ / DisableDataEmptyIRQ toggle the UDRE interrupt
// (spec.md §4.4 step 2-3: UDRE drives the remaining bytes of a send).
func (l *Line) EnableDataEmptyIRQ() {
	reg8.Set(l.reg(ucsr0b), ucsr0bUDRIE)
}

func (l *Line) DisableDataEmptyIRQ() {
	reg8.Clear(l.reg(ucsr0b), ucsr0bUDRIE)
}

// EnableTxCompleteIRQ / DisableTxCompleteIRQ toggle the TXC interrupt,
// which the UDRE handler swaps to after the last byte (spec.md §4.4
// step 3).
func (l *Line) EnableTxCompleteIRQ() {
	reg8.Set(l.reg(ucsr0b), ucsr0bTXCIE)
}

func (l *Line) DisableTxCompleteIRQ() {
	reg8.Clear(l.reg(ucsr0b), ucsr0bTXCIE)
}

// DisableRxTx / EnableRxTx are used around a bus reset (spec.md §4.5).
func (l *Line) DisableRxTx() {
	reg8.Clear(l.reg(ucsr0b), ucsr0bRXEN)
	reg8.Clear(l.reg(ucsr0b), ucsr0bTXEN)
}

func (l *Line) EnableRxTx() {
	reg8.Set(l.reg(ucsr0b), ucsr0bRXEN)
	reg8.Set(l.reg(ucsr0b), ucsr0bTXEN)
}

// DriveTxLow takes over the TX pin as a GPIO output driven low, holding
// the MDB bus in reset.
func (l *Line) DriveTxLow() {
	if l.TxPin == nil {
		return
	}
	l.TxPin.Out(gpio.Low)
}

// ReleaseTxPin hands the TX pin back to the USART.
func (l *Line) ReleaseTxPin() {
	if l.TxPin == nil {
		return
	}
	l.TxPin.Out(gpio.High)
}

// Status is the classification of a received byte, read in the order
// the hardware latches it: UCSR0A, then UCSR0B (for the 9th bit), then
// UDR (spec.md §4.4).
type Status struct {
	Byte      byte
	Ninth     bool
	FrameErr  bool
	Overrun   bool
	ParityErr bool
}

// ReadStatus drains one received byte and its status flags. Called from
// the RX-complete ISR before handing the byte to the session engine.
func (l *Line) ReadStatus() Status {
	a := reg8.Read(l.reg(ucsr0a))
	b := reg8.Read(l.reg(ucsr0b))
	data := reg8.Read(l.reg(udr0))

	return Status{
		Byte:      data,
		Ninth:     b&(1<<ucsr0bRXB8) != 0,
		FrameErr:  a&(1<<ucsr0aFE) != 0,
		Overrun:   a&(1<<ucsr0aDOR) != 0,
		ParityErr: a&(1<<ucsr0aUPE) != 0,
	}
}
