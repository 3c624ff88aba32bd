// Vending bridge Mk I board support
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mk1

import "github.com/withsecure/mdb-bridge/reg8"

// Timer1 (16-bit) register addresses, ATmega328P/2560 memory map. Timer1
// runs free with a /8 prescaler at 16 MHz, a 2 MHz count rate: 20 counts
// is 10 µs, the unit clock.Ticks counts in.
const (
	timer1Base = 0x80 // TCCR1A

	tccr1b = timer1Base + 0x01
	tcnt1l = timer1Base + 0x04
	tcnt1h = timer1Base + 0x05
	ocr1al = timer1Base + 0x06
	ocr1ah = timer1Base + 0x07

	timsk1       = 0x6f
	timsk1OCIE1A = 1

	tccr1bCS11 = 1

	ticksPerCount = 20 // 10 µs at 2 MHz (16 MHz / 8 prescaler)
)

// timer1 implements clock.TimerDriver on ATmega Timer1: OCR1A is the
// single deadline compare register. TCNT1 free-runs and is read directly
// rather than driving a separate overflow-counted tick, so there is only
// one place rollover arithmetic happens (clock.Ticks.Tick, called from
// Board.Tick10u).
type timer1 struct{}

func (t *timer1) init() {
	reg8.Write(tccr1b, 1<<tccr1bCS11)
}

// Arm schedules a compare-match interrupt ticks*ticksPerCount counts from
// now and enables its interrupt.
func (t *timer1) Arm(ticks uint16) {
	target := t.count() + ticks*ticksPerCount

	reg8.Write(ocr1al, byte(target))
	reg8.Write(ocr1ah, byte(target>>8))
	reg8.Set(timsk1, timsk1OCIE1A)
}

// Stop disables the compare-match interrupt.
func (t *timer1) Stop() {
	reg8.Clear(timsk1, timsk1OCIE1A)
}

func (t *timer1) count() uint16 {
	lo := reg8.Read(tcnt1l)
	hi := reg8.Read(tcnt1h)
	return uint16(hi)<<8 | uint16(lo)
}
