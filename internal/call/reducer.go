package call

import (
	"maps"
	"slices"
	"time"

	"softsip/internal/engine"
)

// Effects carries the engine work a reduction asks its caller to perform.
// The reducer itself never touches the engine.
type Effects struct {
	// Hold lists sessions that must be put on hold at the engine because
	// another session took the connected slot.
	Hold []string
}

// Reduce applies one action to the state and returns the next state. The
// input is never mutated; maps are cloned copy-on-write before changes.
// changed is false when the action does not alter the state (unknown action,
// absent id, or a value already in place) so callers can skip notification.
func Reduce(s State, a Action, now time.Time) (next State, eff Effects, changed bool) {
	switch a := a.(type) {
	case SetStatus:
		if s.Status == a.Status {
			return s, Effects{}, false
		}
		s.Status = a.Status
		return s, Effects{}, true

	case SetNumber:
		if s.Number == a.Number {
			return s, Effects{}, false
		}
		s.Number = a.Number
		return s, Effects{}, true

	case NewCall:
		if _, ok := s.sessions[a.ID]; ok {
			return s, Effects{}, false
		}
		sessions := maps.Clone(s.sessions)
		handles := maps.Clone(s.handles)
		if sessions == nil {
			sessions = map[string]Session{}
		}
		if handles == nil {
			handles = map[string]engine.Session{}
		}
		sessions[a.ID] = a.Session
		handles[a.ID] = a.Handle
		s.sessions = sessions
		s.handles = handles
		return s, Effects{}, true

	case UpdateCall:
		cur, ok := s.sessions[a.ID]
		if !ok {
			return s, Effects{}, false
		}
		sessions := maps.Clone(s.sessions)
		if a.Status == CallConnected {
			for id, other := range s.sessions {
				if id == a.ID || other.Status != CallConnected {
					continue
				}
				other.Status = CallHold
				other.Active = false
				sessions[id] = other
				eff.Hold = append(eff.Hold, id)
			}
			cur.Active = true
			cur.JoinedAt = now
		}
		cur.Status = a.Status
		sessions[a.ID] = cur
		s.sessions = sessions
		slices.Sort(eff.Hold)
		return s, eff, true

	case HoldCall:
		cur, ok := s.sessions[a.ID]
		if !ok {
			return s, Effects{}, false
		}
		cur.Status = CallHold
		sessions := maps.Clone(s.sessions)
		sessions[a.ID] = cur
		s.sessions = sessions
		return s, Effects{}, true

	case UnholdCall, UnmuteCall:
		id := actionID(a)
		cur, ok := s.sessions[id]
		if !ok {
			return s, Effects{}, false
		}
		sessions := maps.Clone(s.sessions)
		if _, unhold := a.(UnholdCall); unhold {
			for other, rec := range s.sessions {
				if other == id || rec.Status != CallConnected {
					continue
				}
				rec.Status = CallHold
				rec.Active = false
				sessions[other] = rec
				eff.Hold = append(eff.Hold, other)
			}
		}
		cur.Status = CallConnected
		cur.Active = true
		cur.JoinedAt = now
		sessions[id] = cur
		s.sessions = sessions
		slices.Sort(eff.Hold)
		return s, eff, true

	case MuteCall:
		cur, ok := s.sessions[a.ID]
		if !ok {
			return s, Effects{}, false
		}
		cur.Status = CallMute
		sessions := maps.Clone(s.sessions)
		sessions[a.ID] = cur
		s.sessions = sessions
		return s, Effects{}, true

	case Recording:
		cur, ok := s.sessions[a.ID]
		if !ok {
			return s, Effects{}, false
		}
		cur.Recording = a.Payload
		sessions := maps.Clone(s.sessions)
		sessions[a.ID] = cur
		s.sessions = sessions
		return s, Effects{}, true

	case FailedCall, CompleteCall:
		id := actionID(a)
		if _, ok := s.sessions[id]; !ok {
			return s, Effects{}, false
		}
		sessions := maps.Clone(s.sessions)
		handles := maps.Clone(s.handles)
		delete(sessions, id)
		delete(handles, id)
		s.sessions = sessions
		s.handles = handles
		return s, Effects{}, true

	case SpeakerOn, SpeakerOff:
		// Pure media-level signal, no registry change.
		return s, Effects{}, false

	default:
		return s, Effects{}, false
	}
}

// actionID extracts the session id from actions that carry only an id.
func actionID(a Action) string {
	switch a := a.(type) {
	case UnholdCall:
		return a.ID
	case UnmuteCall:
		return a.ID
	case FailedCall:
		return a.ID
	case CompleteCall:
		return a.ID
	default:
		return ""
	}
}
