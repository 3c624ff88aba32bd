// Vending bridge Mk I board support
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package mk1 wires the register-level AVR drivers (soc/avr/uart9,
// soc/avr/twislave, soc/avr/wdog, soc/avr/gpio) into the core protocol
// engines (mdbproto.Session, secbus.Driver, debugring.Ring), the way
// board/usbarmory/mk2 wires soc/nxp/uart and soc/nxp/gpio into USB
// armory-specific peripherals. It targets an ATmega328P-class MCU: one
// USART for the MDB bus, one TWI for the secondary bus, Timer1 for the
// free-running 10 µs tick and deadline, and two GPIO pins (host-notify,
// status LED).
package mk1

import (
	"github.com/withsecure/mdb-bridge/clock"
	"github.com/withsecure/mdb-bridge/debugring"
	"github.com/withsecure/mdb-bridge/hostframe"
	"github.com/withsecure/mdb-bridge/mcu"
	"github.com/withsecure/mdb-bridge/mdbproto"
	"github.com/withsecure/mdb-bridge/secbus"
	avrgpio "github.com/withsecure/mdb-bridge/soc/avr/gpio"
	"github.com/withsecure/mdb-bridge/soc/avr/twislave"
	"github.com/withsecure/mdb-bridge/soc/avr/uart9"
	"github.com/withsecure/mdb-bridge/soc/avr/wdog"
	"periph.io/x/conn/v3/gpio"
)

// ATmega328P register base addresses (datasheet §"Register Summary").
const (
	mcusr = 0x54

	ucsr0a = 0xc0
	wdtcsr = 0x60
	twbr   = 0xb8

	// PORTD carries the USART pins: PD0 (RXD), PD1 (TXD).
	pind = 0x29

	// PORTB carries the status LED (PB5, the Arduino Uno "L" LED) and the
	// host-notify line (PB0).
	pinb = 0x23

	txdBit    = 1
	ledBit    = 5
	notifyBit = 0

	// SecondaryBusAddress is the MDB secondary-bus slave address
	// (spec.md §1).
	SecondaryBusAddress = 0x78

	debugRingCap = 64
)

// Board groups every peripheral instance and core engine this firmware
// needs. cmd/mdbfw constructs exactly one.
type Board struct {
	UART   uart9.Line
	TWI    twislave.Bus
	WDT    wdog.WDT
	LED    avrgpio.Pin
	Notify avrgpio.Pin

	Secondary secbus.Driver
	Session   mdbproto.Session
	Debug     debugring.Ring

	ticks    clock.Ticks
	deadline clock.Deadline
	timer    timer1
}

// Config holds the compile-time-fixed values a runtime CONFIG command
// would eventually read/write (spec.md §4.9); there is no EEPROM
// collaborator wired up yet, so these are constants.
type Config struct {
	FirmwareVersion [2]byte
	BusResetMillis  uint16
}

// DefaultConfig is the firmware's fixed configuration.
var DefaultConfig = Config{
	FirmwareVersion: [2]byte{0x00, 0x01},
	BusResetMillis:  200,
}

// New constructs and initializes a Board: GPIO pins, UART, secondary-bus
// driver and TWI, watchdog, debug ring, deadline timer, and the MDB
// session, in that order so that by
// the time interrupts are enabled every collaborator the ISRs touch is
// already live.
func New() *Board {
	b := &Board{}

	b.LED = avrgpio.Pin{Base: pinb, Bit: ledBit, Label: "led"}
	b.Notify = avrgpio.Pin{Base: pinb, Bit: notifyBit, Label: "notify"}

	b.UART = uart9.Line{Base: ucsr0a, TxPin: &avrgpio.Pin{Base: pind, Bit: txdBit, Label: "txd"}}
	b.UART.Init(avrUBRRValue())

	b.Secondary.Init(hostframe.MaxLength, hostframe.MaxLength)
	b.TWI = twislave.Bus{Base: twbr, Address: SecondaryBusAddress, Driver: &b.Secondary}
	b.TWI.Init()

	b.WDT = wdog.WDT{Base: wdtcsr}

	b.Debug.Init(debugRingCap)

	b.timer.init()
	b.deadline.Init(&b.timer, b.onDeadline)
	b.Session.Init(&b.UART, &b.ticks, &b.deadline)
	b.Session.SetDebug(&b.Debug)

	return b
}

// avrUBRRValue computes the UBRR register value for 9600 baud on a
// 16 MHz ATmega clock: F_CPU/(16*baud)-1 (datasheet §"USART Initialization").
func avrUBRRValue() uint16 {
	const fCPU = 16_000_000
	const baud = 9600
	return uint16(fCPU/(16*baud)) - 1
}

// onDeadline is the callback clock.Deadline invokes from the timer
// interrupt; it forwards to the session engine's deadline handler.
func (b *Board) onDeadline() {
	b.Session.HandleDeadline()
}

// TimerCompareMatch is the ISR entry point for Timer1's OCR1A
// compare-match, the deadline's sole interrupt source.
func (b *Board) TimerCompareMatch() {
	b.deadline.Fire()
}

// Tick10u is the ISR entry point for the board's free-running 10 µs
// source (a second, independently prescaled timer; Timer1 itself is
// reserved for the deadline above so the two never contend for OCR1A).
func (b *Board) Tick10u() {
	b.ticks.Tick()
}

// UARTRxComplete, UARTDataEmpty, and UARTTxComplete are the three USART
// ISR entry points, dispatched straight to the session engine per
// spec.md §4.4.
func (b *Board) UARTRxComplete() {
	st := b.UART.ReadStatus()
	b.Session.HandleRX(st.Byte, st.Ninth, st.FrameErr, st.Overrun, st.ParityErr)
}

func (b *Board) UARTDataEmpty() {
	b.Session.HandleUDRE()
}

func (b *Board) UARTTxComplete() {
	b.Session.HandleTXC()
}

// SecondaryBusInterrupt is the TWI ISR entry point.
func (b *Board) SecondaryBusInterrupt() {
	b.TWI.Interrupt()
}

// BootResetCause latches MCUSR before any watchdog is armed, per
// spec.md §6's FIELD_MCUSR and the original firmware's boot ordering
// (supplemented from original_source, see DESIGN.md). It must be called
// exactly once, from cmd/mdbfw's init, before ArmWatchdog: it clears the
// hardware register as a side effect, so calling it again later would
// read back zero.
func (b *Board) BootResetCause() uint8 {
	return mcu.LatchResetCause(mcusr)
}

// ResetCause returns the MCUSR value latched by the most recent
// BootResetCause call. Unlike BootResetCause, it is safe to call at any
// time after boot — responses that report FIELD_MCUSR after the initial
// boot sequence must use this instead.
func (b *Board) ResetCause() uint8 {
	return mcu.ResetCause()
}

// ArmWatchdog enables the watchdog at the firmware's fixed 32 ms prescale
// setting, the closest to spec.md §5's 30 ms.
func (b *Board) ArmWatchdog() {
	b.WDT.Enable(wdog.Timeout32ms)
}

// Kick services the watchdog; cmd/mdbfw calls this once per foreground
// loop iteration.
func (b *Board) Kick() {
	b.WDT.Service()
}

// Now returns the current 10 µs tick count, for stamping the CLOCK10U
// field of every response (spec.md §6).
func (b *Board) Now() uint16 {
	return b.ticks.Now()
}

// FirmwareVersion returns the fixed firmware version pair every response
// carries in its mandatory FIELD_FIRMWARE_VERSION prefix.
func (b *Board) FirmwareVersion() [2]byte {
	return DefaultConfig.FirmwareVersion
}

// NotifyAsserted reports whether the host-notify pin should be driven
// high, mirroring the secondary-bus driver's queued-response state.
func (b *Board) NotifyAsserted() bool {
	return b.Secondary.NotifyAsserted()
}

// SyncNotifyPin drives the notify GPIO to match NotifyAsserted. Called
// from the foreground loop, never from an interrupt (GPIO writes are not
// guaranteed atomic against a concurrent TWI ISR touching unrelated bits
// of the same port, so this intentionally runs with interrupts enabled
// and tolerates a one-iteration-late edge).
func (b *Board) SyncNotifyPin() {
	level := gpio.Low
	if b.NotifyAsserted() {
		level = gpio.High
	}
	b.Notify.Out(level)
}
