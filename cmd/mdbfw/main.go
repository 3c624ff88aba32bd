// MDB bridge firmware
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && avr
// +build tamago,avr

// Command mdbfw is the vending bridge firmware entry point: it boots the
// board, wires the MDB session and secondary-bus drivers, and runs the
// cooperative foreground loop of spec.md §5 — parse a completed host
// request, dispatch it, publish a finished MDB session, kick the
// watchdog, repeat.
package main

import (
	"github.com/withsecure/mdb-bridge/board/vending/mk1"
	"github.com/withsecure/mdb-bridge/hostframe"
	"github.com/withsecure/mdb-bridge/mcu"
)

var board *mk1.Board
var resp hostframe.Response

// pending records which MDB command is in flight so the eventual
// session-done response can be framed correctly: spec.md §4.6 does not
// reply to MDB_TRANSACTION_SIMPLE / MDB_BUS_RESET until the MDB bus
// operation itself completes, unlike every other command.
type pendingKind int

const (
	pendingNone pendingKind = iota
	pendingTransaction
	pendingBusReset
)

var pending pendingKind

func init() {
	// BootResetCause must run before ArmWatchdog (original_source's boot
	// ordering, see DESIGN.md): a watchdog-triggered reset must not be
	// lost by re-arming before MCUSR is latched and cleared.
	board = mk1.New()
	board.BootResetCause()

	resp.Init(hostframe.MaxLength)

	board.ArmWatchdog()
}

func main() {
	cpu := &mcu.CPU{}
	cpu.EnableInterrupts()

	for {
		board.Kick()
		board.SyncNotifyPin()

		worked := false

		if board.Secondary.Idle() && board.Secondary.Inbound.Len() > 0 {
			handleRequest()
			worked = true
		}

		if board.Session.Done() && board.Secondary.Idle() {
			publishSession()
			worked = true
		}

		if !worked {
			idle()
		}
	}
}

// handleRequest parses and dispatches one complete host request out of
// the secondary-bus inbound buffer.
func handleRequest() {
	raw := append([]byte(nil), board.Secondary.Inbound.Bytes()[:board.Secondary.Inbound.Len()]...)
	board.Secondary.ConsumeInbound()

	req, outcome, arg := hostframe.Parse(raw)

	switch outcome {
	case hostframe.Keypad:
		resp.Begin(0, hostframe.RespTWIListen, board.FirmwareVersion(), board.Now())
		resp.F2(hostframe.FieldTWIData, 0, arg)
		board.Secondary.Fill(resp.Finish())
	case hostframe.BadFrameLength:
		board.Debug.MarkCode(byte(hostframe.ErrFrameLength), 0)
		board.Secondary.Fill(errorResponse(0, hostframe.ErrFrameLength, 0))
	case hostframe.BadCRC:
		board.Debug.MarkCode(byte(hostframe.ErrInvalidCRC), arg)
		board.Secondary.Fill(errorResponse(0, hostframe.ErrInvalidCRC, arg))
	case hostframe.BadID:
		board.Debug.MarkCode(byte(hostframe.ErrInvalidID), 0)
		board.Secondary.Fill(errorResponse(0, hostframe.ErrInvalidID, 0))
	default:
		dispatch(req)
	}
}

// dispatch handles one well-formed request (spec.md §4.6's command
// table).
func dispatch(req hostframe.Request) {
	switch req.Command {
	case hostframe.CmdStatus:
		if len(req.Payload) != 0 {
			board.Secondary.Fill(errorResponse(req.ID, hostframe.ErrInvalidData, 0))
			return
		}
		resp.Begin(req.ID, hostframe.RespOK, board.FirmwareVersion(), board.Now())
		resp.F1(hostframe.FieldMCUSR, board.ResetCause())
		board.Secondary.Fill(resp.Finish())

	case hostframe.CmdConfig:
		board.Secondary.Fill(errorResponse(req.ID, hostframe.ErrNotImplemented, 0))

	case hostframe.CmdReset:
		handleReset(req)

	case hostframe.CmdDebug:
		handleDebug(req)

	case hostframe.CmdFlash:
		board.Secondary.Fill(errorResponse(req.ID, hostframe.ErrNotImplemented, 0))

	case hostframe.CmdMDBBusReset:
		handleBusReset(req)

	case hostframe.CmdMDBTransactionSimple:
		handleTransaction(req)

	case hostframe.CmdMDBTransactionCustom:
		board.Secondary.Fill(errorResponse(req.ID, hostframe.ErrNotImplemented, 0))

	default:
		board.Secondary.Fill(errorResponse(req.ID, hostframe.ErrUnknownCommand, byte(req.Command)))
	}
}

func errorResponse(id byte, code hostframe.ErrorCode, arg byte) []byte {
	return resp.Error(id, board.FirmwareVersion(), board.Now(), code, arg)
}

// handleReset implements spec.md §4.6's RESET command: payload 0x01
// forgets any deferred MDB response and replies immediately with a
// RESET frame (the MDB session state itself is left as it is); 0xFF marks and
// triggers a full watchdog-mediated reboot (the firmware stops kicking
// the watchdog and spins, so the already-armed 30 ms timeout takes over);
// anything else is ERROR_INVALID_DATA.
func handleReset(req hostframe.Request) {
	if len(req.Payload) != 1 {
		board.Secondary.Fill(errorResponse(req.ID, hostframe.ErrInvalidData, 0))
		return
	}

	switch req.Payload[0] {
	case 0x01:
		pending = pendingNone
		resp.Begin(req.ID, hostframe.RespReset, board.FirmwareVersion(), board.Now())
		resp.F1(hostframe.FieldMCUSR, board.ResetCause())
		board.Secondary.Fill(resp.Finish())
	case 0xff:
		mcu.MarkSoftReset()
		for {
		}
	default:
		board.Secondary.Fill(errorResponse(req.ID, hostframe.ErrInvalidData, req.Payload[0]))
	}
}

func handleDebug(req hostframe.Request) {
	data := board.Debug.Flush()

	resp.Begin(req.ID, hostframe.RespOK, board.FirmwareVersion(), board.Now())
	resp.FN(hostframe.FieldErrorN, data)
	board.Secondary.Fill(resp.Finish())
}

// handleBusReset starts an MDB bus reset; the response is deferred until
// the session reaches DONE (publishSession).
func handleBusReset(req hostframe.Request) {
	if len(req.Payload) != 2 {
		board.Secondary.Fill(errorResponse(req.ID, hostframe.ErrInvalidData, 0))
		return
	}

	durationMillis := uint16(req.Payload[0])<<8 | uint16(req.Payload[1])

	if ok, result := board.Session.BusReset(req.ID, durationMillis); !ok {
		resp.Begin(req.ID, hostframe.RespOK, board.FirmwareVersion(), board.Now())
		resp.F2(hostframe.FieldMDBResult, byte(result.Code), result.Arg)
		board.Secondary.Fill(resp.Finish())
		return
	}

	pending = pendingBusReset
}

// handleTransaction starts an MDB transaction; the response is deferred
// until the session reaches DONE (publishSession).
func handleTransaction(req hostframe.Request) {
	if ok, result := board.Session.Begin(req.ID, req.Payload); !ok {
		resp.Begin(req.ID, hostframe.RespOK, board.FirmwareVersion(), board.Now())
		resp.F2(hostframe.FieldMDBResult, byte(result.Code), result.Arg)
		board.Secondary.Fill(resp.Finish())
		return
	}

	pending = pendingTransaction
}

// publishSession drains a finished MDB session and fills the deferred
// response that handleTransaction/handleBusReset owes the host.
func publishSession() {
	id, result, payload, durationTicks := board.Session.Publish()
	kind := pending
	pending = pendingNone

	resp.Begin(id, hostframe.RespOK, board.FirmwareVersion(), board.Now())
	resp.F2(hostframe.FieldMDBResult, byte(result.Code), result.Arg)
	resp.F2(hostframe.FieldMDBDuration10u, byte(durationTicks>>8), byte(durationTicks))

	if kind == pendingTransaction {
		resp.FN(hostframe.FieldMDBData, payload)
	}

	board.Secondary.Fill(resp.Finish())
}

// idle spins briefly when there is no pending host request or finished
// MDB session, per spec.md §5's "~300 µs idle delay when no work
// pending"; the loop still re-checks Kick/SyncNotifyPin every pass so the
// watchdog and notify line never lag by more than one idle period.
func idle() {
	for i := 0; i < 480; i++ {
	}
}
