// Package engine defines the boundary to the external SIP/WebRTC engine.
// The rest of the application only ever talks to these interfaces; protocol
// exchange, SDP/ICE negotiation and media transport stay on the other side.
package engine

import "time"

// Originator tells which side created a session.
type Originator string

const (
	OriginatorLocal  Originator = "local"
	OriginatorRemote Originator = "remote"
)

// UAState is the connection/registration state of the user agent itself,
// as reported by the engine.
type UAState string

const (
	UAConnecting         UAState = "connecting"
	UAConnected          UAState = "connected"
	UADisconnected       UAState = "disconnected"
	UARegistered         UAState = "registered"
	UAUnregistered       UAState = "unregistered"
	UARegistrationFailed UAState = "registrationFailed"
)

// SessionEventKind enumerates per-session lifecycle events.
type SessionEventKind string

const (
	SessionConnecting   SessionEventKind = "connecting"
	SessionProgress     SessionEventKind = "progress"
	SessionConfirmed    SessionEventKind = "confirmed"
	SessionAccepted     SessionEventKind = "accepted"
	SessionFailed       SessionEventKind = "failed"
	SessionEnded        SessionEventKind = "ended"
	SessionHold         SessionEventKind = "hold"
	SessionUnhold       SessionEventKind = "unhold"
	SessionMuted        SessionEventKind = "muted"
	SessionUnmuted      SessionEventKind = "unmuted"
	SessionDTMF         SessionEventKind = "newDTMF"
	SessionInfo         SessionEventKind = "newInfo"
	SessionRecording    SessionEventKind = "recording"
	SessionICECandidate SessionEventKind = "icecandidate"
)

// Event is one engine notification. Implementations are value types so a
// single channel can carry the whole union.
type Event interface {
	isEvent()
}

// UAStateEvent reports a user agent state change.
type UAStateEvent struct {
	State UAState
}

func (UAStateEvent) isEvent() {}

// NewSessionEvent announces a new inbound or outbound call leg. The session
// handle stays valid until a failed or ended event for the same ID.
type NewSessionEvent struct {
	ID          string
	Originator  Originator
	Session     Session
	DisplayName string
	Number      string
}

func (NewSessionEvent) isEvent() {}

// SessionEvent is a lifecycle event for an existing session. Only the fields
// matching Kind are populated: Tone for DTMF, Body for info, Recording for
// recording events, Ready for ICE candidate events.
type SessionEvent struct {
	ID        string
	Kind      SessionEventKind
	Tone      string
	Body      string
	Recording any
	Ready     func()
}

func (SessionEvent) isEvent() {}

// CallOptions parameterizes an outbound call. Media is negotiated with the
// given constraints; ExtraHeaders are attached verbatim to the initial request.
type CallOptions struct {
	DisplayName  string
	Audio        bool
	Video        bool
	ICEServers   []ICEServer
	ExtraHeaders map[string]string
}

// AnswerOptions parameterizes answering an inbound session.
type AnswerOptions struct {
	ICEServers   []ICEServer
	ExtraHeaders map[string]string
}

// TerminateOptions selects how a session is torn down. A zero value means a
// normal termination; a non-zero StatusCode rejects an unanswered leg with
// that status.
type TerminateOptions struct {
	StatusCode int
	Reason     string
}

// DTMFOptions controls tone signaling.
type DTMFOptions struct {
	Duration     time.Duration
	InterToneGap time.Duration
	Transport    string
	ExtraHeaders map[string]string
}

// ReferOptions parameterizes a call transfer. A non-nil Replaces bridges the
// referred leg onto that session (attended transfer).
type ReferOptions struct {
	ExtraHeaders map[string]string
	Replaces     Session
}

// UserAgent is the engine-side user agent. Start/Stop manage its lifetime,
// Call places an outbound leg, Events delivers the typed event stream. Events
// for a single session arrive in order; no ordering holds across sessions.
type UserAgent interface {
	Start() error
	Stop()
	Call(target string, opts CallOptions) error
	Events() <-chan Event
}

// Session is the narrow capability surface of one engine call leg. All
// methods are fire-and-forget from the caller's perspective: resulting state
// changes are reported through the event stream, not through return values.
type Session interface {
	Answer(opts AnswerOptions) error
	Terminate(opts TerminateOptions) error
	Hold() error
	Unhold() error
	Mute() error
	Unmute() error
	Refer(target string, opts ReferOptions) error
	SendDTMF(tone string, opts DTMFOptions) error
	SendInfo(contentType, body string) error

	// LocalHold and LocalMuted report the local leg state, used to keep
	// hold/mute commands idempotent.
	LocalHold() bool
	LocalMuted() bool

	// Senders enumerates the outbound media senders of this leg.
	Senders() []MediaSender

	// RemoteTarget is the remote party URI, used as refer target for
	// replace-based transfers.
	RemoteTarget() string
}

// MediaSender is one outbound media track that can be gated without any
// signaling.
type MediaSender interface {
	Kind() string
	Enabled() bool
	SetEnabled(bool)
}
