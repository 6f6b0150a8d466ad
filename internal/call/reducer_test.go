package call

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"softsip/internal/engine"
)

// stubHandle is a placeholder engine handle; the reducer never calls into it.
type stubHandle struct {
	engine.Session
	name string
}

func testSession(id string, status CallStatus, active bool) Session {
	return Session{
		ID:        id,
		Status:    status,
		Direction: DirectionInbound,
		StartedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		Active:    active,
	}
}

func stateWith(sessions ...Session) State {
	s := NewState()
	for _, sess := range sessions {
		s.sessions[sess.ID] = sess
		s.handles[sess.ID] = &stubHandle{name: sess.ID}
	}
	return s
}

func TestNewCallInsertsPair(t *testing.T) {
	now := time.Now().UTC()
	h := &stubHandle{name: "a"}

	next, eff, changed := Reduce(NewState(), NewCall{
		ID:      "a",
		Handle:  h,
		Session: testSession("a", CallConnecting, false),
	}, now)

	require.True(t, changed)
	assert.Empty(t, eff.Hold)

	rec, ok := next.Session("a")
	require.True(t, ok)
	assert.Equal(t, CallConnecting, rec.Status)

	got, ok := next.Handle("a")
	require.True(t, ok)
	assert.Same(t, h, got)
}

func TestNewCallExistingIDIsNoOp(t *testing.T) {
	s := stateWith(testSession("a", CallRinging, false))

	next, _, changed := Reduce(s, NewCall{
		ID:      "a",
		Handle:  &stubHandle{},
		Session: testSession("a", CallConnecting, false),
	}, time.Now())

	assert.False(t, changed)
	rec, _ := next.Session("a")
	assert.Equal(t, CallRinging, rec.Status)
}

func TestConnectedForcesOthersToHold(t *testing.T) {
	s := stateWith(
		testSession("a", CallConnected, true),
		testSession("b", CallRinging, false),
	)
	now := time.Now().UTC()

	next, eff, changed := Reduce(s, UpdateCall{ID: "b", Status: CallConnected}, now)

	require.True(t, changed)
	assert.Equal(t, []string{"a"}, eff.Hold)

	a, _ := next.Session("a")
	assert.Equal(t, CallHold, a.Status)
	assert.False(t, a.Active)

	b, _ := next.Session("b")
	assert.Equal(t, CallConnected, b.Status)
	assert.True(t, b.Active)
	assert.Equal(t, now, b.JoinedAt)
}

func TestSingleActiveConnectedInvariant(t *testing.T) {
	s := stateWith(
		testSession("a", CallConnected, true),
		testSession("b", CallConnected, true), // should not happen, but must heal
		testSession("c", CallRinging, false),
	)

	next, eff, _ := Reduce(s, UpdateCall{ID: "c", Status: CallConnected}, time.Now())

	assert.ElementsMatch(t, []string{"a", "b"}, eff.Hold)
	activeConnected := 0
	for _, rec := range next.Snapshot().Sessions {
		if rec.Status == CallConnected && rec.Active {
			activeConnected++
		}
	}
	assert.Equal(t, 1, activeConnected)
}

func TestRingingDoesNotTouchActive(t *testing.T) {
	s := stateWith(testSession("a", CallConnecting, false))

	next, eff, changed := Reduce(s, UpdateCall{ID: "a", Status: CallRinging}, time.Now())

	require.True(t, changed)
	assert.Empty(t, eff.Hold)
	rec, _ := next.Session("a")
	assert.Equal(t, CallRinging, rec.Status)
	assert.False(t, rec.Active)
	assert.True(t, rec.JoinedAt.IsZero())
}

func TestHoldKeepsActiveFlag(t *testing.T) {
	s := stateWith(testSession("a", CallConnected, true))

	next, _, changed := Reduce(s, HoldCall{ID: "a"}, time.Now())

	require.True(t, changed)
	rec, _ := next.Session("a")
	assert.Equal(t, CallHold, rec.Status)
	assert.True(t, rec.Active)
}

func TestUnholdReconnectsAndForcesOthers(t *testing.T) {
	s := stateWith(
		testSession("a", CallHold, false),
		testSession("b", CallConnected, true),
	)
	now := time.Now().UTC()

	next, eff, _ := Reduce(s, UnholdCall{ID: "a"}, now)

	assert.Equal(t, []string{"b"}, eff.Hold)
	a, _ := next.Session("a")
	assert.Equal(t, CallConnected, a.Status)
	assert.True(t, a.Active)
	assert.Equal(t, now, a.JoinedAt)
	b, _ := next.Session("b")
	assert.Equal(t, CallHold, b.Status)
}

func TestUnmuteReconnectsWithoutForcingOthers(t *testing.T) {
	s := stateWith(
		testSession("a", CallMute, true),
		testSession("b", CallConnected, true),
	)

	next, eff, _ := Reduce(s, UnmuteCall{ID: "a"}, time.Now())

	assert.Empty(t, eff.Hold)
	a, _ := next.Session("a")
	assert.Equal(t, CallConnected, a.Status)
	b, _ := next.Session("b")
	assert.Equal(t, CallConnected, b.Status)
}

func TestJoinedAtRefreshedOnReconnect(t *testing.T) {
	t1 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(5 * time.Minute)

	s := stateWith(testSession("a", CallRinging, false))
	s, _, _ = Reduce(s, UpdateCall{ID: "a", Status: CallConnected}, t1)
	s, _, _ = Reduce(s, HoldCall{ID: "a"}, t1)
	s, _, _ = Reduce(s, UnholdCall{ID: "a"}, t2)

	rec, _ := s.Session("a")
	assert.Equal(t, t2, rec.JoinedAt)
}

func TestTerminalRemovesBothMaps(t *testing.T) {
	for _, a := range []Action{FailedCall{ID: "a"}, CompleteCall{ID: "a"}} {
		s := stateWith(testSession("a", CallConnected, true))

		next, _, changed := Reduce(s, a, time.Now())

		require.True(t, changed)
		_, ok := next.Session("a")
		assert.False(t, ok)
		_, ok = next.Handle("a")
		assert.False(t, ok)
		assert.Equal(t, 0, next.Len())
	}
}

func TestTerminalUnknownIDIsNoOp(t *testing.T) {
	s := stateWith(testSession("a", CallConnected, true))

	next, _, changed := Reduce(s, CompleteCall{ID: "zz"}, time.Now())

	assert.False(t, changed)
	assert.Equal(t, 1, next.Len())
}

func TestUnknownIDActionsAreNoOps(t *testing.T) {
	s := stateWith(testSession("a", CallConnected, true))
	actions := []Action{
		UpdateCall{ID: "zz", Status: CallConnected},
		HoldCall{ID: "zz"},
		UnholdCall{ID: "zz"},
		MuteCall{ID: "zz"},
		UnmuteCall{ID: "zz"},
		Recording{ID: "zz", Payload: 1},
		FailedCall{ID: "zz"},
	}
	for _, a := range actions {
		next, eff, changed := Reduce(s, a, time.Now())
		assert.False(t, changed, "%T", a)
		assert.Empty(t, eff.Hold, "%T", a)
		rec, ok := next.Session("a")
		require.True(t, ok)
		assert.Equal(t, CallConnected, rec.Status)
	}
}

func TestSpeakerActionsNeverChangeState(t *testing.T) {
	s := stateWith(testSession("a", CallConnected, true))

	_, _, changed := Reduce(s, SpeakerOn{ID: "a"}, time.Now())
	assert.False(t, changed)
	_, _, changed = Reduce(s, SpeakerOff{ID: "a"}, time.Now())
	assert.False(t, changed)
}

func TestRecordingStoresPayload(t *testing.T) {
	s := stateWith(testSession("a", CallConnected, true))

	next, _, changed := Reduce(s, Recording{ID: "a", Payload: "rec-42"}, time.Now())

	require.True(t, changed)
	rec, _ := next.Session("a")
	assert.Equal(t, "rec-42", rec.Recording)
}

func TestSetStatusAndNumber(t *testing.T) {
	s := NewState()

	s, _, changed := Reduce(s, SetStatus{Status: StatusRegistered}, time.Now())
	require.True(t, changed)
	assert.Equal(t, StatusRegistered, s.Status)

	_, _, changed = Reduce(s, SetStatus{Status: StatusRegistered}, time.Now())
	assert.False(t, changed)

	s, _, changed = Reduce(s, SetNumber{Number: "+1555"}, time.Now())
	require.True(t, changed)
	assert.Equal(t, "+1555", s.Number)
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	s := stateWith(
		testSession("a", CallConnected, true),
		testSession("b", CallRinging, false),
	)

	_, _, _ = Reduce(s, UpdateCall{ID: "b", Status: CallConnected}, time.Now())

	a, _ := s.Session("a")
	assert.Equal(t, CallConnected, a.Status)
	assert.True(t, a.Active)
	b, _ := s.Session("b")
	assert.Equal(t, CallRinging, b.Status)
}

func TestSnapshotIsIsolated(t *testing.T) {
	s := stateWith(testSession("a", CallConnected, true))

	snap := s.Snapshot()
	mod := snap.Sessions["a"]
	mod.Status = CallEnded
	snap.Sessions["a"] = mod
	delete(snap.Sessions, "a")

	rec, ok := s.Session("a")
	require.True(t, ok)
	assert.Equal(t, CallConnected, rec.Status)
}
