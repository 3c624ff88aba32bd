// AVR digital I/O pins
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package gpio implements a periph.io/x/conn/v3/gpio.PinOut over an ATmega
// PORTx/DDRx/PINx register triplet, grounded on board/usbarmory/mk2's LED
// pin wiring and adapted from imx6ul's 32-bit GPIO bank to AVR's 8-bit
// port registers. The host-notify pin (spec.md §4.7, secbus.NotifyAsserted)
// and the status LED are both instances of this type.
package gpio

import (
	"errors"
	"time"

	"github.com/withsecure/mdb-bridge/reg8"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// Pin is a single bit of an ATmega I/O port.
type Pin struct {
	// Base is the address of the port's PINx register; DDRx and PORTx sit
	// one and two bytes above it, respectively, on every ATmega328P/2560
	// port (PINx, DDRx, PORTx is the fixed ascending order of the three).
	Base uintptr
	// Bit is the pin's position within the port, 0-7.
	Bit int
	// Label names the pin for String/Name, e.g. "PD2" or "notify".
	Label string
}

const (
	pinROffset = 0x00
	ddrOffset  = 0x01
	portOffset = 0x02
)

// Out drives the pin, configuring it as an output first if needed.
func (p *Pin) Out(l gpio.Level) error {
	reg8.Set(p.Base+ddrOffset, p.Bit)

	if l {
		reg8.Set(p.Base+portOffset, p.Bit)
	} else {
		reg8.Clear(p.Base+portOffset, p.Bit)
	}

	return nil
}

// Read returns the pin's current input level, regardless of configured
// direction (an ATmega PINx register always reflects the physical level).
func (p *Pin) Read() gpio.Level {
	return reg8.Get(p.Base+pinROffset, p.Bit, 1) == 1
}

// In configures the pin as an input with the requested pull resistor.
// Only PullUp and PullNoChange are meaningful on an ATmega: the PUD bit in
// MCUCR is assumed left clear so that PORTx still enables pull-ups on
// input pins.
func (p *Pin) In(pull gpio.Pull, edge gpio.Edge) error {
	reg8.Clear(p.Base+ddrOffset, p.Bit)

	if pull == gpio.PullUp {
		reg8.Set(p.Base+portOffset, p.Bit)
	} else {
		reg8.Clear(p.Base+portOffset, p.Bit)
	}

	return nil
}

// WaitForEdge is not supported: the AVR pin-change interrupt is not wired
// up by this package, only polled reads and driven outputs are.
func (p *Pin) WaitForEdge(timeout time.Duration) bool {
	return false
}

// PWM is not supported: an ATmega PORTx pin toggled through this package
// has no timer/compare-output wired to it.
func (p *Pin) PWM(gpio.Duty, physic.Frequency) error {
	return errors.New("gpio: PWM not supported")
}

func (p *Pin) String() string {
	if p.Label != "" {
		return p.Label
	}
	return "gpio.Pin"
}

func (p *Pin) Halt() error { return nil }

func (p *Pin) Name() string { return p.String() }

func (p *Pin) Number() int { return p.Bit }

func (p *Pin) Function() string { return "Out/In" }

func (p *Pin) DefaultPull() gpio.Pull { return gpio.Float }

func (p *Pin) Pull() gpio.Pull { return gpio.Float }
