package call

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"softsip/internal/engine"
)

const (
	defaultDTMFDuration     = 100 * time.Millisecond
	defaultDTMFInterToneGap = 500 * time.Millisecond
	defaultICESettleDelay   = 3 * time.Second

	stateEvent = "state"

	payloadHeader   = "X-Connection-Payload"
	callIDHeader    = "X-Call-ID"
	referTypeHeader = "X-Refer-Type"
)

// Payload is opaque billing metadata attached to outbound calls as a
// protocol header.
type Payload map[string]any

// pendingRefer remembers a referral that was staged but not yet accepted.
type pendingRefer struct {
	ID     string
	Number string
}

// Manager owns the session registry and is its only writer. Engine events
// and commands are serialized through one mutex, so reductions never
// interleave and the single-active-call rule can be checked and applied
// atomically across records.
//
// Commands are fire-and-forget towards the engine: state moves only when the
// engine reports back through its event stream. Precondition failures are
// silent no-ops surfaced on the Errors channel, never panics.
type Manager struct {
	ua  engine.UserAgent
	log *logrus.Entry

	mu        sync.Mutex
	state     State
	referred  *pendingRefer
	iceTimers map[string]*time.Timer

	// iceSettle is how long candidate gathering may stay quiet before a
	// session's ICE completion callback fires.
	iceSettle time.Duration

	// notifyMu serializes snapshot capture and emission so subscribers
	// observe changes in dispatch order. Always acquired before mu.
	notifyMu sync.Mutex

	notifier *Notifier[Snapshot]
	errs     chan error
}

// NewManager creates a Manager driving the given user agent. The agent may
// be nil; every command is then a reported no-op until a fresh Manager is
// built around a working engine.
func NewManager(ua engine.UserAgent, log *logrus.Entry) *Manager {
	return &Manager{
		ua:        ua,
		log:       log,
		state:     NewState(),
		iceTimers: map[string]*time.Timer{},
		iceSettle: defaultICESettleDelay,
		notifier:  NewNotifier[Snapshot](),
		errs:      make(chan error, 16),
	}
}

// Start starts the engine user agent. Failure is reported on the error
// channel as well as returned; the Manager stays usable for a retry with a
// fresh engine.
func (m *Manager) Start() error {
	if m.ua == nil {
		err := fmt.Errorf("no engine attached")
		m.reportError(err)
		return err
	}
	if err := m.ua.Start(); err != nil {
		err = fmt.Errorf("start user agent: %w", err)
		m.reportError(err)
		return err
	}
	return nil
}

// Stop stops the engine user agent.
func (m *Manager) Stop() {
	if m.ua != nil {
		m.ua.Stop()
	}
}

// Run pumps engine events until ctx is canceled or the event stream closes.
func (m *Manager) Run(ctx context.Context) error {
	if m.ua == nil {
		<-ctx.Done()
		return nil
	}
	events := m.ua.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			m.handleEvent(ev)
		case <-ctx.Done():
			m.cancelAllICETimers()
			return nil
		}
	}
}

// Subscribe registers cb for state changes. It is invoked immediately with
// the current snapshot, then on every observable change, always with a copy.
// The returned disposer unregisters it. cb runs with emission serialized and
// must not dispatch further commands synchronously.
func (m *Manager) Subscribe(cb func(Snapshot)) func() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	m.mu.Lock()
	snap := m.state.Snapshot()
	m.mu.Unlock()
	off := m.notifier.On(stateEvent, cb)
	cb(snap)
	return off
}

// Snapshot returns a copy of the current observable state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Snapshot()
}

// Errors exposes initialization and precondition failures. The channel is
// buffered; when nobody drains it, reports are dropped rather than blocking.
func (m *Manager) Errors() <-chan error { return m.errs }

// PendingRefer returns the referral staged by a not-yet-accepted ReferUser.
func (m *Manager) PendingRefer() (id, number string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.referred == nil {
		return "", "", false
	}
	return m.referred.ID, m.referred.Number, true
}

// SetNumber stores the default dial target used when PlaceCall gets no
// explicit number.
func (m *Manager) SetNumber(number string) {
	m.dispatch(SetNumber{Number: number})
}

// PlaceCall starts an outbound audio call. It requires a registered user
// agent and a target number, either explicit or the stored default. The
// billing payload, when present, travels as a JSON protocol header.
func (m *Manager) PlaceCall(displayName, number string, payload Payload, ice *engine.ICEConfig) {
	if m.ua == nil {
		m.reportError(fmt.Errorf("place call: no engine attached"))
		return
	}

	m.mu.Lock()
	status := m.state.Status
	target := number
	if target == "" {
		target = m.state.Number
	}
	m.mu.Unlock()

	if status != StatusRegistered || target == "" {
		m.reportError(fmt.Errorf("cannot place call: status %q, target %q", status, target))
		return
	}

	opts := engine.CallOptions{
		DisplayName: displayName,
		Audio:       true,
		Video:       false,
		ICEServers:  ice.Servers(),
	}
	if len(payload) > 0 {
		body, err := json.Marshal(payload)
		if err != nil {
			m.reportError(fmt.Errorf("encode connection payload: %w", err))
			return
		}
		opts.ExtraHeaders = map[string]string{payloadHeader: string(body)}
	}

	if err := m.ua.Call(target, opts); err != nil {
		m.reportError(fmt.Errorf("place call to %s: %w", target, err))
	}
}

// AnswerCall answers an inbound session.
func (m *Manager) AnswerCall(id string, ice *engine.ICEConfig) {
	h, _, ok := m.session(id)
	if !ok {
		return
	}
	if err := h.Answer(engine.AnswerOptions{ICEServers: ice.Servers()}); err != nil {
		m.reportError(fmt.Errorf("answer %s: %w", id, err))
	}
}

// TerminateCall ends a session. An inbound leg still ringing is rejected
// with 480 Temporarily Unavailable; anything else terminates normally.
func (m *Manager) TerminateCall(id string) {
	h, rec, ok := m.session(id)
	if !ok {
		return
	}
	opts := engine.TerminateOptions{}
	if rec.Direction == DirectionInbound && rec.Status == CallRinging {
		opts = engine.TerminateOptions{StatusCode: 480, Reason: "Temporarily Unavailable"}
	}
	if err := h.Terminate(opts); err != nil {
		m.reportError(fmt.Errorf("terminate %s: %w", id, err))
	}
}

// TerminateByNumber terminates the first session whose remote number matches.
// Nothing happens when no session matches.
func (m *Manager) TerminateByNumber(number string) {
	m.mu.Lock()
	var h engine.Session
	for id, rec := range m.state.sessions {
		if rec.Number == number {
			h, _ = m.state.Handle(id)
			break
		}
	}
	m.mu.Unlock()
	if h == nil {
		return
	}
	if err := h.Terminate(engine.TerminateOptions{}); err != nil {
		m.reportError(fmt.Errorf("terminate number %s: %w", number, err))
	}
}

// ToggleHold holds or resumes a session depending on its local hold state.
func (m *Manager) ToggleHold(id string) {
	h, _, ok := m.session(id)
	if !ok {
		return
	}
	if h.LocalHold() {
		m.engineOp(id, "unhold", h.Unhold)
	} else {
		m.engineOp(id, "hold", h.Hold)
	}
}

// Hold puts a session on hold. Already-held sessions are left alone.
func (m *Manager) Hold(id string) {
	h, _, ok := m.session(id)
	if !ok || h.LocalHold() {
		return
	}
	m.engineOp(id, "hold", h.Hold)
}

// Unhold resumes a held session. Sessions not on hold are left alone.
func (m *Manager) Unhold(id string) {
	h, _, ok := m.session(id)
	if !ok || !h.LocalHold() {
		return
	}
	m.engineOp(id, "unhold", h.Unhold)
}

// ToggleMute mutes or unmutes a session depending on its local mute state.
func (m *Manager) ToggleMute(id string) {
	h, _, ok := m.session(id)
	if !ok {
		return
	}
	if h.LocalMuted() {
		m.engineOp(id, "unmute", h.Unmute)
	} else {
		m.engineOp(id, "mute", h.Mute)
	}
}

// SendDTMF sends a tone over a session. With nil opts the documented
// defaults apply: 100ms duration, 500ms inter-tone gap, INFO transport and a
// header tagging the call id.
func (m *Manager) SendDTMF(id, tone string, opts *engine.DTMFOptions) {
	if tone == "" {
		return
	}
	h, _, ok := m.session(id)
	if !ok {
		return
	}
	var o engine.DTMFOptions
	if opts != nil {
		o = *opts
	} else {
		o = engine.DTMFOptions{
			Duration:     defaultDTMFDuration,
			InterToneGap: defaultDTMFInterToneGap,
			Transport:    "INFO",
			ExtraHeaders: map[string]string{callIDHeader: id},
		}
	}
	if err := h.SendDTMF(tone, o); err != nil {
		m.reportError(fmt.Errorf("send DTMF on %s: %w", id, err))
	}
}

// ReferUser initiates a call transfer. When accepted with a secondary
// session, the two legs are bridged with replace semantics; when accepted
// without one, the session is blind-transferred to number. When not yet
// accepted, the referral is staged and the inbound refer leg auto-answered.
func (m *Manager) ReferUser(id, number string, accepted bool, secondaryID string) {
	if number == "" {
		return
	}
	h, _, ok := m.session(id)
	if !ok {
		return
	}

	if !accepted {
		m.mu.Lock()
		m.referred = &pendingRefer{ID: id, Number: number}
		m.mu.Unlock()
		opts := engine.AnswerOptions{
			ExtraHeaders: map[string]string{
				callIDHeader:    id,
				referTypeHeader: "incoming_refer",
			},
		}
		if err := h.Answer(opts); err != nil {
			m.reportError(fmt.Errorf("answer refer leg %s: %w", id, err))
		}
		return
	}

	if secondaryID != "" {
		second, _, ok := m.session(secondaryID)
		if !ok {
			return
		}
		opts := engine.ReferOptions{Replaces: second}
		if err := h.Refer(second.RemoteTarget(), opts); err != nil {
			m.reportError(fmt.Errorf("attended refer %s onto %s: %w", id, secondaryID, err))
		}
		return
	}

	if err := h.Refer(number, engine.ReferOptions{}); err != nil {
		m.reportError(fmt.Errorf("refer %s to %s: %w", id, number, err))
	}
}

// AttendedTransfer holds the session and refers it to number with replace
// semantics on the held leg.
func (m *Manager) AttendedTransfer(id, number string) {
	if number == "" {
		return
	}
	h, _, ok := m.session(id)
	if !ok {
		return
	}
	if err := h.Hold(); err != nil {
		m.log.Warnf("hold before transfer of %s failed: %v", id, err)
	}
	opts := engine.ReferOptions{
		ExtraHeaders: map[string]string{"X-Transfer": "attended"},
		Replaces:     h,
	}
	if err := h.Refer(number, opts); err != nil {
		m.reportError(fmt.Errorf("attended transfer %s to %s: %w", id, number, err))
	}
}

// SendInfo forwards out-of-band application info over a session without
// touching its call status. An empty content type defaults to text/plain.
func (m *Manager) SendInfo(id, contentType, body string) {
	if body == "" {
		return
	}
	h, _, ok := m.session(id)
	if !ok {
		return
	}
	if contentType == "" {
		contentType = "text/plain"
	}
	if err := h.SendInfo(contentType, body); err != nil {
		m.reportError(fmt.Errorf("send info on %s: %w", id, err))
	}
}

// SpeakerOn enables the outbound audio tracks of a session.
func (m *Manager) SpeakerOn(id string) { m.setSpeaker(id, true) }

// SpeakerOff disables the outbound audio tracks of a session.
func (m *Manager) SpeakerOff(id string) { m.setSpeaker(id, false) }

func (m *Manager) setSpeaker(id string, on bool) {
	h, _, ok := m.session(id)
	if !ok {
		return
	}
	found := false
	for _, s := range h.Senders() {
		if s.Kind() == "audio" {
			s.SetEnabled(on)
			found = true
		}
	}
	if !found {
		m.log.Debugf("no audio sender on %s", id)
		return
	}
	if on {
		m.dispatch(SpeakerOn{ID: id})
	} else {
		m.dispatch(SpeakerOff{ID: id})
	}
}

// handleEvent translates one engine event into an action dispatch.
func (m *Manager) handleEvent(ev engine.Event) {
	switch ev := ev.(type) {
	case engine.UAStateEvent:
		m.log.Infof("user agent %s", ev.State)
		m.dispatch(SetStatus{Status: uaStatus(ev.State)})
	case engine.NewSessionEvent:
		m.handleNewSession(ev)
	case engine.SessionEvent:
		m.handleSessionEvent(ev)
	}
}

func (m *Manager) handleNewSession(ev engine.NewSessionEvent) {
	name := ev.DisplayName
	if name == "" {
		name = "Unknown Number"
	}
	dir := DirectionInbound
	if ev.Originator == engine.OriginatorLocal {
		dir = DirectionOutbound
	}
	m.log.WithField("call", ev.ID).Infof("new %s session %q <%s>", dir, name, ev.Number)
	m.dispatch(NewCall{
		ID:     ev.ID,
		Handle: ev.Session,
		Session: Session{
			ID:          ev.ID,
			DisplayName: name,
			Number:      ev.Number,
			Status:      CallConnecting,
			Direction:   dir,
			StartedAt:   time.Now().UTC(),
		},
	})
}

func (m *Manager) handleSessionEvent(ev engine.SessionEvent) {
	log := m.log.WithField("call", ev.ID)
	switch ev.Kind {
	case engine.SessionConnecting:
		m.dispatch(UpdateCall{ID: ev.ID, Status: CallConnecting})
	case engine.SessionProgress:
		m.dispatch(UpdateCall{ID: ev.ID, Status: CallRinging})
	case engine.SessionConfirmed, engine.SessionAccepted:
		m.dispatch(UpdateCall{ID: ev.ID, Status: CallConnected})
	case engine.SessionFailed:
		m.cancelICETimer(ev.ID)
		m.dispatch(FailedCall{ID: ev.ID})
	case engine.SessionEnded:
		m.cancelICETimer(ev.ID)
		m.dispatch(CompleteCall{ID: ev.ID})
	case engine.SessionHold:
		m.dispatch(HoldCall{ID: ev.ID})
	case engine.SessionUnhold:
		m.dispatch(UnholdCall{ID: ev.ID})
	case engine.SessionMuted:
		m.dispatch(MuteCall{ID: ev.ID})
	case engine.SessionUnmuted:
		m.dispatch(UnmuteCall{ID: ev.ID})
	case engine.SessionDTMF:
		log.Debugf("received DTMF %q", ev.Tone)
	case engine.SessionInfo:
		log.Debugf("received info: %s", ev.Body)
	case engine.SessionRecording:
		m.dispatch(Recording{ID: ev.ID, Payload: ev.Recording})
	case engine.SessionICECandidate:
		m.resetICETimer(ev.ID, ev.Ready)
	default:
		log.Debugf("ignoring engine event %q", ev.Kind)
	}
}

// dispatch applies one action under the registry lock and fans out the new
// snapshot when the reduction changed anything. notifyMu is held from before
// the reduction until after the emission, so two concurrent dispatches cannot
// deliver their snapshots out of order. Forced holds requested by the reducer
// are invoked against the engine after the registry update, so the registry
// never waits on the engine.
func (m *Manager) dispatch(a Action) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	next, eff, changed := Reduce(m.state, a, time.Now().UTC())
	if !changed {
		m.mu.Unlock()
		return
	}
	var holds []engine.Session
	for _, id := range eff.Hold {
		if h, ok := next.Handle(id); ok {
			holds = append(holds, h)
		}
	}
	m.state = next
	snap := next.Snapshot()
	m.mu.Unlock()

	for _, h := range holds {
		if err := h.Hold(); err != nil {
			m.log.Warnf("forced hold failed: %v", err)
		}
	}
	m.notifier.Emit(stateEvent, snap)
}

// session resolves an id into its engine handle and record. Empty or unknown
// ids are no-ops by design; callers check the snapshot before issuing
// commands.
func (m *Manager) session(id string) (engine.Session, Session, bool) {
	if id == "" {
		return nil, Session{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.state.Handle(id)
	if !ok {
		return nil, Session{}, false
	}
	rec, ok := m.state.Session(id)
	if !ok {
		return nil, Session{}, false
	}
	return h, rec, true
}

func (m *Manager) engineOp(id, name string, op func() error) {
	if err := op(); err != nil {
		m.reportError(fmt.Errorf("%s %s: %w", name, id, err))
	}
}

// resetICETimer restarts the per-session single-shot settle timer. When no
// further candidate arrives within the settle delay, ready fires.
func (m *Manager) resetICETimer(id string, ready func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.iceTimers[id]; ok {
		t.Stop()
		delete(m.iceTimers, id)
	}
	if _, ok := m.state.Session(id); !ok || ready == nil {
		return
	}
	m.iceTimers[id] = time.AfterFunc(m.iceSettle, func() {
		m.mu.Lock()
		delete(m.iceTimers, id)
		m.mu.Unlock()
		ready()
	})
}

// cancelICETimer stops a session's settle timer so it can never fire against
// a removed session.
func (m *Manager) cancelICETimer(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.iceTimers[id]; ok {
		t.Stop()
		delete(m.iceTimers, id)
	}
}

func (m *Manager) cancelAllICETimers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.iceTimers {
		t.Stop()
		delete(m.iceTimers, id)
	}
}

func (m *Manager) reportError(err error) {
	m.log.Warn(err)
	select {
	case m.errs <- err:
	default:
	}
}

// uaStatus maps engine-level user agent states onto registration statuses.
func uaStatus(s engine.UAState) Status {
	switch s {
	case engine.UAConnecting:
		return StatusConnecting
	case engine.UAConnected:
		return StatusConnected
	case engine.UADisconnected:
		return StatusDisconnected
	case engine.UARegistered:
		return StatusRegistered
	case engine.UAUnregistered:
		return StatusUnregistered
	case engine.UARegistrationFailed:
		return StatusRegistrationFailed
	default:
		return StatusNone
	}
}
