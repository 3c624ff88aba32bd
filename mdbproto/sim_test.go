// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mdbproto

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestRandomizedISRInterleavingNeverCorruptsState drives the session with
// randomized RX, UDRE, TXC, deadline-expiry and mid-session Begin events
// (plus a fresh Begin whenever the session is idle) across many short
// runs. After every call it checks that the deadline is armed iff state
// is in {SEND, RECV, BUS_RESET}; it also checks that a mid-session Begin
// is rejected as BUSY and that Publish returns a DONE session to IDLE.
func TestRandomizedISRInterleavingNeverCorruptsState(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for run := 0; run < 200; run++ {
		s, _, timer := newSession(t)

		started := false
		events := 0

		for events < 40 {
			events++

			if !started {
				ok, _ := s.Begin(byte(run%255+1), []byte{0x30, byte(rng.Intn(256))})
				started = ok
				checkInvariants(t, s, timer)
				continue
			}

			switch rng.Intn(5) {
			case 0:
				s.HandleUDRE()
			case 1:
				s.HandleTXC()
			case 2:
				s.HandleRX(byte(rng.Intn(256)), rng.Intn(2) == 0, false, false, false)
			case 3:
				// Fire, not HandleDeadline directly: the real ISR path
				// goes through clock.Deadline.Fire, which clears the
				// armed flag before invoking the callback. Calling
				// HandleDeadline directly would desync that bookkeeping
				// from what checkInvariants observes below.
				s.deadline.Fire()
			case 4:
				// A spurious re-entrant call while mid-session: Begin
				// must reject it without disturbing in-flight state.
				ok, res := s.Begin(99, []byte{0x01})
				require.False(t, ok)
				require.Equal(t, ResultBusy, res.Code)
			}

			checkInvariants(t, s, timer)

			if s.Done() {
				_, _, _, _ = s.Publish()
				require.Equal(t, StateIdle, s.State())
				started = false
			}
		}
	}
}

// checkInvariants asserts spec.md §3's "the deadline timer is armed iff
// state in {SEND, RECV, BUS_RESET}" against the session's
// clock.Deadline.Armed() flag.
func checkInvariants(t *testing.T, s *Session, timer *fakeTimer) {
	t.Helper()

	switch s.State() {
	case StateSend, StateRecv, StateBusReset:
		require.True(t, s.deadline.Armed(), "state %v must have an armed deadline", s.State())
	case StateIdle, StateDone, StateError:
		require.False(t, s.deadline.Armed(), "state %v must not have an armed deadline", s.State())
	}
}
