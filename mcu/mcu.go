// AVR processor support
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package mcu provides the critical-section and reset-cause primitives
// that the core session engine relies on, the AVR single-core equivalent of
// tamago's arm.CPU.{Enable,Disable}Interrupts.
package mcu

import "github.com/withsecure/mdb-bridge/reg8"

// SREG is the AVR status register; bit 7 is the global interrupt enable
// flag (I-bit). Unlike the watchdog's WDR, SREG is an ordinary
// memory-mapped SFR, so it is read and written through reg8 rather than a
// dedicated instruction.
const sreg uintptr = 0x5f

const sregI = 7

// CPU represents the microcontroller core.
type CPU struct{}

// EnableInterrupts sets the global interrupt enable flag (sei).
func (cpu *CPU) EnableInterrupts() {
	reg8.Set(sreg, sregI)
}

// DisableInterrupts clears the global interrupt enable flag (cli).
func (cpu *CPU) DisableInterrupts() {
	reg8.Clear(sreg, sregI)
}

// EnterCritical disables interrupts and returns the previous SREG value, to
// be restored by ExitCritical. Nesting-safe: an inner EnterCritical/
// ExitCritical pair around code that is itself called from within a
// critical section leaves the outer section's interrupt-disabled state
// intact, unlike an unconditional cli/sei pair.
func EnterCritical() (saved uint8) {
	saved = reg8.Read(sreg)
	reg8.Clear(sreg, sregI)
	return
}

// ExitCritical restores the SREG value captured by EnterCritical.
func ExitCritical(saved uint8) {
	reg8.Write(sreg, saved)
}

// resetCause and softReset are plain package state: no linker script or
// ".noinit" placement exists in this module, so the startup code
// zero-initializes them and their value does not survive a reset.
var (
	resetCause uint8
	softReset  uint8
)

// LatchResetCause copies the MCU status register's reset-cause bits into
// resetCause and clears the register, as required before any watchdog is
// (re-)armed during boot. Must run once, from cmd/mdbfw's init (through
// mk1.Board.BootResetCause), before interrupts are enabled.
func LatchResetCause(mcusr uintptr) (cause uint8) {
	cause = reg8.Read(mcusr)
	reg8.Write(mcusr, 0)
	resetCause = cause

	return
}

// ResetCause returns the MCUSR value latched at the most recent boot.
func ResetCause() uint8 {
	return resetCause
}

// MarkSoftReset records that the next watchdog-triggered reset was
// requested by the RESET host command (payload 0xFF), not a missed loop
// iteration.
func MarkSoftReset() {
	softReset = 1
}

// WasSoftReset reports and clears whether MarkSoftReset has been called.
// Because softReset is zeroed at startup (see above), it reports false
// after any reset.
func WasSoftReset() bool {
	was := softReset != 0
	softReset = 0
	return was
}
