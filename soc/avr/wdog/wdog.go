// AVR watchdog driver
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package wdog implements the kick/arm wrapper around an ATmega WDTCSR
// watchdog, grounded on soc/nxp/wdog's Enable/Service split. The core
// never touches this package directly; cmd/mdbfw kicks it once per
// foreground loop iteration (spec.md §5's "watchdog (30 ms) is kicked
// once per loop iteration; failure to kick is an unrecoverable soft
// reset").
package wdog

import "github.com/withsecure/mdb-bridge/reg8"

// WDTCSR bit positions, ATmega328P/2560.
const (
	wdtcsrWDIF  = 7
	wdtcsrWDIE  = 6
	wdtcsrWDP3  = 5
	wdtcsrWDCE  = 4
	wdtcsrWDE   = 3
	wdtcsrWDP20 = 0 // WDP2:0 occupy bits 2:0
)

// Timeout is a WDP3:WDP0 prescale selection. Values below match the
// ATmega datasheet's watchdog prescale table from 16ms to 2s (the 4s and
// 8s settings are not defined here); only Timeout32ms is used by this
// firmware (spec.md §5).
type Timeout byte

const (
	Timeout16ms  Timeout = 0x0
	Timeout32ms  Timeout = 0x1
	Timeout64ms  Timeout = 0x2
	Timeout125ms Timeout = 0x3
	Timeout250ms Timeout = 0x4
	Timeout500ms Timeout = 0x5
	Timeout1s    Timeout = 0x6
	Timeout2s    Timeout = 0x7
)

// WDT is a watchdog timer instance.
type WDT struct {
	// Base is the address of WDTCSR.
	Base uintptr
}

// Enable arms the watchdog for the given prescale, following the
// mandatory timed sequence (set WDCE+WDE, then write the new prescale
// within 4 cycles) the ATmega datasheet requires.
func (w *WDT) Enable(t Timeout) {
	reg8.Set(w.Base, wdtcsrWDCE)
	reg8.Set(w.Base, wdtcsrWDE)

	wdp3 := byte(t>>3) & 1
	wdp20 := byte(t) & 0x7

	v := reg8.Read(w.Base)
	v = (v &^ (1 << wdtcsrWDP3)) | (wdp3 << wdtcsrWDP3)
	v = (v &^ 0x7) | wdp20
	v |= 1 << wdtcsrWDE

	reg8.Write(w.Base, v)
}

// Disable clears WDE, following the same timed WDCE sequence.
func (w *WDT) Disable() {
	reg8.Set(w.Base, wdtcsrWDCE)
	reg8.Set(w.Base, wdtcsrWDE)
	reg8.Clear(w.Base, wdtcsrWDE)
}

// Service (aka "kick") must be called at least once per configured
// timeout or the MCU resets. ATmega silicon clears the watchdog counter
// with the dedicated WDR instruction; this package has no assembly
// primitive for it and issues a WDTCSR read-back write instead. See
// DESIGN.md for why.
func (w *WDT) Service() {
	reg8.Write(w.Base, reg8.Read(w.Base))
}
