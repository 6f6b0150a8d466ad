package call

import "softsip/internal/engine"

// Action is one reducer input. The set is closed; implementations are value
// types tagged by the unexported marker method.
type Action interface {
	isAction()
}

// SetStatus moves the registration status.
type SetStatus struct {
	Status Status
}

// SetNumber changes the default dial target.
type SetNumber struct {
	Number string
}

// NewCall inserts a session record together with its engine handle.
type NewCall struct {
	ID      string
	Handle  engine.Session
	Session Session
}

// UpdateCall moves a session to the given status. A move into connected
// forces every other connected session onto hold.
type UpdateCall struct {
	ID     string
	Status CallStatus
}

// HoldCall marks a session held; the active flag is left alone.
type HoldCall struct {
	ID string
}

// UnholdCall reconnects a held session, forcing other connected sessions
// onto hold.
type UnholdCall struct {
	ID string
}

// MuteCall marks a session muted.
type MuteCall struct {
	ID string
}

// UnmuteCall reconnects a muted session.
type UnmuteCall struct {
	ID string
}

// Recording stores the engine's recording payload on a session.
type Recording struct {
	ID      string
	Payload any
}

// FailedCall removes a failed session from the registry.
type FailedCall struct {
	ID string
}

// CompleteCall removes a normally ended session from the registry.
type CompleteCall struct {
	ID string
}

// SpeakerOn is a media-level signal; it never changes the registry.
type SpeakerOn struct {
	ID string
}

// SpeakerOff is a media-level signal; it never changes the registry.
type SpeakerOff struct {
	ID string
}

func (SetStatus) isAction()    {}
func (SetNumber) isAction()    {}
func (NewCall) isAction()      {}
func (UpdateCall) isAction()   {}
func (HoldCall) isAction()     {}
func (UnholdCall) isAction()   {}
func (MuteCall) isAction()     {}
func (UnmuteCall) isAction()   {}
func (Recording) isAction()    {}
func (FailedCall) isAction()   {}
func (CompleteCall) isAction() {}
func (SpeakerOn) isAction()    {}
func (SpeakerOff) isAction()   {}
