// Package gosipua implements the engine boundary on top of gosip. It covers
// the signaling side of a user agent: registration, INVITE dialogs, BYE,
// INFO and REFER. Media negotiation is announced with a minimal audio SDP;
// the actual audio path is owned by the media layer.
package gosipua

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	gosip "github.com/ghettovoice/gosip"
	"github.com/ghettovoice/gosip/sip"
	"github.com/ghettovoice/gosip/sip/parser"
	"github.com/ghettovoice/gosip/util"
	"github.com/sirupsen/logrus"

	"softsip/internal/engine"
)

const registerTimeout = 10 * time.Second

// Config carries the identity the user agent presents to the network.
type Config struct {
	// URI is the local identity, e.g. "sip:100@example.com".
	URI string
	// DisplayName is used on outbound requests when the caller supplies none.
	DisplayName string
	// Registrar is the address REGISTER is sent to. Empty skips
	// registration and reports the agent registered right away.
	Registrar string
	Password  string
	// Expires is the registration lifetime in seconds.
	Expires int
	// SessionTimers advertises session timer support on INVITEs.
	SessionTimers bool
}

// UserAgent drives a gosip server as an engine user agent.
type UserAgent struct {
	srv gosip.Server
	cfg Config
	log *logrus.Entry

	localURI sip.Uri
	events   chan engine.Event

	// done ends event delivery once Stop has run, so late request handlers
	// never block on an undrained stream.
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	sessions map[string]*session
}

// New creates a user agent on top of a listening gosip server.
func New(srv gosip.Server, cfg Config, log *logrus.Entry) *UserAgent {
	return &UserAgent{
		srv:      srv,
		cfg:      cfg,
		log:      log,
		events:   make(chan engine.Event, 16),
		done:     make(chan struct{}),
		sessions: map[string]*session{},
	}
}

// Events returns the event stream. The channel is never closed by the agent;
// consumers stop via their own context.
func (u *UserAgent) Events() <-chan engine.Event { return u.events }

// Start wires request handlers and begins registration.
func (u *UserAgent) Start() error {
	uri, err := parser.ParseUri(u.cfg.URI)
	if err != nil {
		return fmt.Errorf("parse identity uri: %w", err)
	}
	u.localURI = uri

	if err := u.srv.OnRequest(sip.INVITE, u.onInvite); err != nil {
		return err
	}
	if err := u.srv.OnRequest(sip.ACK, u.onAck); err != nil {
		return err
	}
	if err := u.srv.OnRequest(sip.BYE, u.onBye); err != nil {
		return err
	}
	if err := u.srv.OnRequest(sip.INFO, u.onInfo); err != nil {
		return err
	}

	u.emit(engine.UAStateEvent{State: engine.UAConnecting})
	go u.register()
	return nil
}

// Stop reports the agent unregistered and disconnected and ends event
// delivery. The underlying server is owned by the caller and shut down there.
func (u *UserAgent) Stop() {
	u.stopOnce.Do(func() {
		// Best effort; the consumer is often gone by the time Stop runs.
		select {
		case u.events <- engine.UAStateEvent{State: engine.UAUnregistered}:
		default:
		}
		select {
		case u.events <- engine.UAStateEvent{State: engine.UADisconnected}:
		default:
		}
		close(u.done)
	})
}

// emit delivers an event to the consumer, giving up once Stop has run.
func (u *UserAgent) emit(ev engine.Event) {
	select {
	case u.events <- ev:
	case <-u.done:
	}
}

// register sends REGISTER to the configured registrar and reports the
// outcome as user agent state events.
func (u *UserAgent) register() {
	if u.cfg.Registrar == "" {
		u.emit(engine.UAStateEvent{State: engine.UAConnected})
		u.emit(engine.UAStateEvent{State: engine.UARegistered})
		return
	}

	registrarURI, err := parser.ParseUri(u.cfg.Registrar)
	if err != nil {
		u.log.Warnf("parse registrar uri: %v", err)
		u.emit(engine.UAStateEvent{State: engine.UARegistrationFailed})
		return
	}

	tag := util.RandString(8)
	localAddr := &sip.Address{
		Uri:    u.localURI.Clone(),
		Params: sip.NewParams().Add("tag", sip.String{Str: tag}),
	}
	contact := &sip.Address{Uri: u.localURI.Clone()}

	expires := u.cfg.Expires
	if expires <= 0 {
		expires = 3600
	}

	rb := sip.NewRequestBuilder().
		SetMethod(sip.REGISTER).
		SetRecipient(registrarURI).
		SetFrom(localAddr).
		SetTo(&sip.Address{Uri: u.localURI.Clone()}).
		SetContact(contact).
		AddHeader(&sip.GenericHeader{HeaderName: "Expires", Contents: strconv.Itoa(expires)})

	req, err := rb.Build()
	if err != nil {
		u.log.Warnf("build REGISTER: %v", err)
		u.emit(engine.UAStateEvent{State: engine.UARegistrationFailed})
		return
	}

	u.emit(engine.UAStateEvent{State: engine.UAConnected})

	ctx, cancel := context.WithTimeout(context.Background(), registerTimeout)
	defer cancel()

	user := ""
	if us := u.localURI.User(); us != nil {
		user = us.String()
	}
	authorizer := sip.DefaultAuthorizer{
		User:     sip.String{Str: user},
		Password: sip.String{Str: u.cfg.Password},
	}

	res, err := u.srv.RequestWithContext(ctx, req, gosip.WithAuthorizer(&authorizer))
	if err != nil {
		u.log.Warnf("REGISTER failed: %v", err)
		u.emit(engine.UAStateEvent{State: engine.UARegistrationFailed})
		return
	}
	u.log.Infof("registered: %d %s", res.StatusCode(), res.Reason())
	u.emit(engine.UAStateEvent{State: engine.UARegistered})
}

// Call starts an outbound INVITE dialog.
func (u *UserAgent) Call(target string, opts engine.CallOptions) error {
	toURI, err := parser.ParseUri(target)
	if err != nil {
		// Bare numbers dial against the local identity's domain.
		host := u.localURI.Host()
		toURI, err = parser.ParseUri(fmt.Sprintf("sip:%s@%s", target, host))
		if err != nil {
			return fmt.Errorf("parse target %q: %w", target, err)
		}
	}

	displayName := opts.DisplayName
	if displayName == "" {
		displayName = u.cfg.DisplayName
	}

	tag := util.RandString(8)
	fromAddr := &sip.Address{
		DisplayName: sip.String{Str: displayName},
		Uri:         u.localURI.Clone(),
		Params:      sip.NewParams().Add("tag", sip.String{Str: tag}),
	}
	toAddr := &sip.Address{Uri: toURI}
	contactAddr := &sip.Address{Uri: u.localURI.Clone()}

	ctype := sip.ContentType("application/sdp")
	rb := sip.NewRequestBuilder().
		SetMethod(sip.INVITE).
		SetRecipient(toURI).
		SetFrom(fromAddr).
		SetTo(toAddr).
		SetContact(contactAddr).
		SetContentType(&ctype).
		SetBody(sdpBody(opts.Audio, "sendrecv"))

	if u.cfg.SessionTimers {
		for _, h := range sessionTimerHeaders() {
			rb.AddHeader(h)
		}
	}
	for k, v := range opts.ExtraHeaders {
		rb.AddHeader(&sip.GenericHeader{HeaderName: k, Contents: v})
	}

	req, err := rb.Build()
	if err != nil {
		return fmt.Errorf("build INVITE: %w", err)
	}

	cid, _ := req.CallID()
	if cid == nil {
		return fmt.Errorf("INVITE built without call id")
	}
	callID := cid.String()

	tx, err := u.srv.Request(req)
	if err != nil {
		return fmt.Errorf("send INVITE: %w", err)
	}

	sess := &session{
		ua:         u,
		id:         callID,
		localAddr:  fromAddr,
		remoteAddr: toAddr,
		cseq:       1,
		inviteReq:  req,
		iceServers: opts.ICEServers,
	}
	sess.initMedia()

	u.mu.Lock()
	u.sessions[callID] = sess
	u.mu.Unlock()

	number := ""
	if us := toURI.User(); us != nil {
		number = us.String()
	}
	u.emit(engine.NewSessionEvent{
		ID:          callID,
		Originator:  engine.OriginatorLocal,
		Session:     sess,
		DisplayName: displayName,
		Number:      number,
	})
	u.emit(engine.SessionEvent{ID: callID, Kind: engine.SessionConnecting})

	go u.watchInvite(sess, tx)
	return nil
}

// watchInvite follows the outbound INVITE transaction and turns responses
// into session events.
func (u *UserAgent) watchInvite(sess *session, tx sip.ClientTransaction) {
	for {
		select {
		case res := <-tx.Responses():
			if res == nil {
				continue
			}
			u.log.Debugf("call %s: %d %s", sess.id, res.StatusCode(), res.Reason())
			if toHdr, ok := res.To(); ok && toHdr.Params != nil {
				if tag, ok := toHdr.Params.Get("tag"); ok {
					sess.setRemoteTag(tag)
				}
			}
			switch {
			case res.IsProvisional():
				if res.StatusCode() >= 180 {
					u.emit(engine.SessionEvent{ID: sess.id, Kind: engine.SessionProgress})
				}
			case res.StatusCode() < 300:
				u.emit(engine.SessionEvent{ID: sess.id, Kind: engine.SessionAccepted})
				ack := sip.NewAckRequest("", sess.inviteReq, res, "", nil)
				if err := u.srv.Send(ack); err != nil {
					u.log.Warnf("send ACK for %s: %v", sess.id, err)
				}
				sess.markAnswered()
				u.emit(engine.SessionEvent{ID: sess.id, Kind: engine.SessionConfirmed})
				return
			default:
				u.dropSession(sess.id)
				u.emit(engine.SessionEvent{ID: sess.id, Kind: engine.SessionFailed})
				return
			}
		case err := <-tx.Errors():
			if err != nil {
				u.log.Warnf("INVITE transaction for %s: %v", sess.id, err)
			}
			u.dropSession(sess.id)
			u.emit(engine.SessionEvent{ID: sess.id, Kind: engine.SessionFailed})
			return
		case <-tx.Done():
			return
		}
	}
}

// onInvite tracks an inbound INVITE and announces the new session.
func (u *UserAgent) onInvite(req sip.Request, tx sip.ServerTransaction) {
	cid, _ := req.CallID()
	if cid == nil {
		return
	}
	callID := cid.String()

	fromHdr, _ := req.From()
	toHdr, _ := req.To()
	if fromHdr == nil || toHdr == nil {
		u.srv.RespondOnRequest(req, sip.StatusCode(400), "Bad Request", "", nil)
		return
	}

	sess := &session{
		ua:         u,
		id:         callID,
		localAddr:  sip.NewAddressFromToHeader(toHdr),
		remoteAddr: sip.NewAddressFromFromHeader(fromHdr),
		cseq:       1,
		inviteReq:  req,
		serverTx:   tx,
	}
	if fromHdr.Params != nil {
		if tag, ok := fromHdr.Params.Get("tag"); ok {
			sess.remoteAddr.Params = sess.remoteAddr.Params.Add("tag", tag)
		}
	}
	sess.initMedia()

	u.mu.Lock()
	u.sessions[callID] = sess
	u.mu.Unlock()

	displayName := ""
	if sess.remoteAddr.DisplayName != nil {
		displayName = sess.remoteAddr.DisplayName.String()
	}
	number := ""
	if us := sess.remoteAddr.Uri.User(); us != nil {
		number = us.String()
	}

	u.emit(engine.NewSessionEvent{
		ID:          callID,
		Originator:  engine.OriginatorRemote,
		Session:     sess,
		DisplayName: displayName,
		Number:      number,
	})

	u.srv.RespondOnRequest(req, sip.StatusCode(180), "Ringing", "", nil)
	u.emit(engine.SessionEvent{ID: callID, Kind: engine.SessionProgress})
}

// onAck confirms an answered inbound dialog.
func (u *UserAgent) onAck(req sip.Request, tx sip.ServerTransaction) {
	cid, _ := req.CallID()
	if cid == nil {
		return
	}
	callID := cid.String()
	u.mu.Lock()
	sess, ok := u.sessions[callID]
	u.mu.Unlock()
	if !ok || !sess.answered() {
		return
	}
	u.emit(engine.SessionEvent{ID: callID, Kind: engine.SessionConfirmed})
}

// onBye ends the dialog normally.
func (u *UserAgent) onBye(req sip.Request, tx sip.ServerTransaction) {
	cid, _ := req.CallID()
	if cid == nil {
		return
	}
	callID := cid.String()
	u.srv.RespondOnRequest(req, sip.StatusCode(200), "OK", "", nil)
	if u.dropSession(callID) {
		u.emit(engine.SessionEvent{ID: callID, Kind: engine.SessionEnded})
	}
}

// onInfo turns INFO bodies into DTMF or info events.
func (u *UserAgent) onInfo(req sip.Request, tx sip.ServerTransaction) {
	cid, _ := req.CallID()
	if cid == nil {
		return
	}
	callID := cid.String()
	u.srv.RespondOnRequest(req, sip.StatusCode(200), "OK", "", nil)

	u.mu.Lock()
	_, ok := u.sessions[callID]
	u.mu.Unlock()
	if !ok {
		return
	}

	body := req.Body()
	if tone, ok := parseDTMFRelay(body); ok {
		u.emit(engine.SessionEvent{ID: callID, Kind: engine.SessionDTMF, Tone: tone})
		return
	}
	u.emit(engine.SessionEvent{ID: callID, Kind: engine.SessionInfo, Body: body})
}

// dropSession removes a session from the map, reporting whether it was there.
func (u *UserAgent) dropSession(id string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.sessions[id]; !ok {
		return false
	}
	delete(u.sessions, id)
	return true
}

// sessionExpires is the session timer interval advertised on INVITEs.
const sessionExpires = 1800

// sessionTimerHeaders advertises session timer support with this side as the
// refresher.
func sessionTimerHeaders() []sip.Header {
	return []sip.Header{
		&sip.GenericHeader{HeaderName: "Supported", Contents: "timer"},
		&sip.GenericHeader{HeaderName: "Session-Expires", Contents: fmt.Sprintf("%d;refresher=uac", sessionExpires)},
	}
}

// parseDTMFRelay extracts the Signal value from an application/dtmf-relay
// body.
func parseDTMFRelay(body string) (string, bool) {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "Signal="); ok {
			return strings.TrimSpace(rest), true
		}
	}
	return "", false
}

// sdpBody builds the minimal session description advertised on INVITEs.
// direction is an SDP direction attribute such as sendrecv or sendonly.
func sdpBody(audio bool, direction string) string {
	var b strings.Builder
	b.WriteString("v=0\r\n")
	b.WriteString("o=- 0 0 IN IP4 0.0.0.0\r\n")
	b.WriteString("s=softsip\r\n")
	b.WriteString("c=IN IP4 0.0.0.0\r\n")
	b.WriteString("t=0 0\r\n")
	if audio {
		b.WriteString("m=audio 9 RTP/AVP 0 8 101\r\n")
		b.WriteString("a=rtpmap:101 telephone-event/8000\r\n")
		b.WriteString("a=" + direction + "\r\n")
	}
	return b.String()
}
