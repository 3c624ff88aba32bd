// AVR TWI slave driver
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package twislave implements the register-level half of the secondary
// bus slave (spec.md §4.7): it decodes ATmega TWI status codes in its
// interrupt handler and drives secbus.Driver's already-classified event
// methods, translating the driver's ACK/NACK decisions back into TWCR
// bits. Grounded on soc/nxp/i2c, adapted from I2C master framing to TWI
// slave framing.
package twislave

import (
	"github.com/withsecure/mdb-bridge/reg8"
	"github.com/withsecure/mdb-bridge/secbus"
)

// TWI register offsets from TWBR, ATmega328P/2560 memory map.
const (
	twbr = 0x00
	twsr = 0x01
	twar = 0x02
	twdr = 0x03
	twcr = 0x04

	twcrTWINT = 7
	twcrTWEA  = 6
	twcrTWSTA = 5
	twcrTWSTO = 4
	twcrTWEN  = 2
	twcrTWIE  = 0
)

// TWI slave status codes (TWSR & 0xf8), ATmega datasheet table 22-3/22-4.
const (
	statusMask = 0xf8

	slaWReceivedACK  = 0x60
	dataReceivedACK  = 0x80
	dataReceivedNACK = 0x88
	stopOrRestart    = 0xa0
	slaRReceivedACK  = 0xa8
	dataSentACK      = 0xb8
	dataSentNACK     = 0xc0
	lastByteSentACK  = 0xc8
	busError         = 0x00
)

// Bus is a TWI controller run in slave mode at a fixed address.
type Bus struct {
	// Base is the address of TWBR for this TWI instance.
	Base uintptr
	// Address is the 7-bit slave address (0x78, spec.md §1).
	Address byte

	Driver *secbus.Driver
}

func (b *Bus) reg(offset uintptr) uintptr {
	return b.Base + offset
}

// Init configures the slave address and enables the TWI interrupt with
// acknowledgment enabled, ready to be addressed.
func (b *Bus) Init() {
	reg8.Write(b.reg(twar), b.Address<<1)
	reg8.Write(b.reg(twcr), (1<<twcrTWEA)|(1<<twcrTWEN)|(1<<twcrTWIE)|(1<<twcrTWINT))
}

// ack completes the current byte, optionally asserting TWEA to ACK the
// next one.
func (b *Bus) ack(ack secbus.Ack) {
	v := byte(1<<twcrTWINT | 1<<twcrTWEN | 1<<twcrTWIE)
	if ack == secbus.ACK {
		v |= 1 << twcrTWEA
	}
	reg8.Write(b.reg(twcr), v)
}

// Interrupt is the TWI ISR entry point: read TWSR, dispatch to the
// secondary-bus driver's event methods, and translate its ACK/NACK
// decision back into hardware.
func (b *Bus) Interrupt() {
	status := reg8.Read(b.reg(twsr)) & statusMask

	switch status {
	case slaWReceivedACK:
		b.ack(b.Driver.AddressReceivedWrite())

	case dataReceivedACK, dataReceivedNACK:
		data := reg8.Read(b.reg(twdr))
		b.ack(b.Driver.DataByteReceived(data))

	case stopOrRestart:
		b.Driver.Stop()
		b.ack(secbus.ACK)

	case slaRReceivedACK:
		data, a := b.Driver.AddressReceivedRead()
		reg8.Write(b.reg(twdr), data)
		b.ack(a)

	case dataSentACK:
		data, a := b.Driver.ByteSent()
		reg8.Write(b.reg(twdr), data)
		b.ack(a)

	case dataSentNACK, lastByteSentACK:
		b.Driver.LastByteSent()
		b.ack(secbus.ACK)

	case busError:
		b.Driver.BusError()
		reg8.Write(b.reg(twcr), (1<<twcrTWSTO)|(1<<twcrTWEA)|(1<<twcrTWEN)|(1<<twcrTWIE)|(1<<twcrTWINT))

	default:
		b.Driver.BusError()
		b.ack(secbus.ACK)
	}
}
