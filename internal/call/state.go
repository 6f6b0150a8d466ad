// Package call coordinates call sessions for a signaling engine: it owns the
// session registry, reduces engine events into state transitions and fans out
// snapshots to subscribers.
package call

import (
	"maps"
	"time"

	"softsip/internal/engine"
)

// Status is the registration status of the user agent connection, distinct
// from the per-call status.
type Status string

const (
	StatusNone               Status = ""
	StatusConnecting         Status = "connecting"
	StatusConnected          Status = "connected"
	StatusDisconnected       Status = "disconnected"
	StatusRegistered         Status = "registered"
	StatusUnregistered       Status = "unregistered"
	StatusRegistrationFailed Status = "registrationFailed"
)

// CallStatus is the observable status of one call leg.
type CallStatus string

const (
	CallConnecting CallStatus = "connecting"
	CallRinging    CallStatus = "ringing"
	CallConnected  CallStatus = "connected"
	CallHold       CallStatus = "hold"
	CallMute       CallStatus = "mute"
	CallFailed     CallStatus = "failed"
	CallEnded      CallStatus = "ended"
)

// Terminal reports whether the status removes the session from the registry.
func (s CallStatus) Terminal() bool {
	return s == CallFailed || s == CallEnded
}

// Direction is fixed at session creation.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	DirectionMissed   Direction = "missed"
)

// Session is the observable record of one call leg. Records are plain values;
// subscribers always receive copies, never a handle into the registry.
type Session struct {
	ID          string
	DisplayName string
	Number      string
	Status      CallStatus
	Direction   Direction
	StartedAt   time.Time

	// JoinedAt is zero until the session first reaches connected and is
	// refreshed on every later transition into connected.
	JoinedAt time.Time

	// Active marks the foreground call. At most one session registry-wide
	// is connected and active at a time.
	Active bool

	// Recording is the opaque payload of the engine's last recording event.
	Recording any
}

// State is the full registry state: registration status, default dial number
// and the paired session/handle maps. Session records and engine handles are
// inserted and removed together, so both maps always hold the same ids.
type State struct {
	Status Status
	Number string

	sessions map[string]Session
	handles  map[string]engine.Session
}

// NewState returns an empty registry state.
func NewState() State {
	return State{
		sessions: map[string]Session{},
		handles:  map[string]engine.Session{},
	}
}

// Session looks up one session record.
func (s State) Session(id string) (Session, bool) {
	sess, ok := s.sessions[id]
	return sess, ok
}

// Handle looks up the engine handle of a session.
func (s State) Handle(id string) (engine.Session, bool) {
	h, ok := s.handles[id]
	return h, ok
}

// Len returns the number of tracked sessions.
func (s State) Len() int { return len(s.sessions) }

// Snapshot is the subscriber-visible view of the registry. Engine handles are
// never part of it.
type Snapshot struct {
	Status   Status
	Number   string
	Sessions map[string]Session
}

// Snapshot copies the observable state.
func (s State) Snapshot() Snapshot {
	return Snapshot{
		Status:   s.Status,
		Number:   s.Number,
		Sessions: maps.Clone(s.sessions),
	}
}
