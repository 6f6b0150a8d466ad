package gosipua

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ghettovoice/gosip/sip"
	"github.com/ghettovoice/gosip/util"

	"softsip/internal/engine"
	"softsip/internal/media"
)

// session is one INVITE dialog tracked by the user agent.
type session struct {
	ua *UserAgent
	id string

	localAddr  *sip.Address
	remoteAddr *sip.Address
	inviteReq  sip.Request
	serverTx   sip.ServerTransaction

	// iceServers are negotiation hints for the media layer; the SIP
	// signaling path does not consume them.
	iceServers []engine.ICEServer

	mu       sync.Mutex
	cseq     uint
	hold     bool
	muted    bool
	isUp     bool
	senders  []engine.MediaSender
	audioOut *media.Track
}

var _ engine.Session = (*session)(nil)

func (s *session) initMedia() {
	s.audioOut = media.NewAudioTrack()
	s.senders = []engine.MediaSender{s.audioOut}
}

// Answer sends 200 OK with an SDP answer on the inbound INVITE.
func (s *session) Answer(opts engine.AnswerOptions) error {
	s.mu.Lock()
	tx := s.serverTx
	req := s.inviteReq
	s.mu.Unlock()
	if tx == nil || req == nil {
		return fmt.Errorf("session %s has no inbound transaction", s.id)
	}
	if len(opts.ICEServers) > 0 {
		s.iceServers = opts.ICEServers
	}

	res := sip.NewResponseFromRequest("", req, sip.StatusCode(200), "OK", sdpBody(true, "sendrecv"))
	tag := util.RandString(8)
	if toHdr, ok := res.To(); ok {
		toHdr.Params = toHdr.Params.Add("tag", sip.String{Str: tag})
		s.localAddr.Params = s.localAddr.Params.Add("tag", sip.String{Str: tag})
	}
	ctype := sip.ContentType("application/sdp")
	res.AppendHeader(&ctype)
	for k, v := range opts.ExtraHeaders {
		res.AppendHeader(&sip.GenericHeader{HeaderName: k, Contents: v})
	}

	if _, err := s.ua.srv.Respond(res); err != nil {
		return fmt.Errorf("send 200 OK: %w", err)
	}
	s.markAnswered()
	s.ua.emit(engine.SessionEvent{ID: s.id, Kind: engine.SessionAccepted})
	return nil
}

// Terminate tears the dialog down. With a status code and an unanswered
// inbound transaction the INVITE is rejected with that status; otherwise a
// BYE ends the dialog.
func (s *session) Terminate(opts engine.TerminateOptions) error {
	s.mu.Lock()
	tx := s.serverTx
	req := s.inviteReq
	up := s.isUp
	s.mu.Unlock()

	if opts.StatusCode != 0 && !up && tx != nil && req != nil {
		reason := opts.Reason
		if reason == "" {
			reason = "Temporarily Unavailable"
		}
		s.ua.srv.RespondOnRequest(req, sip.StatusCode(opts.StatusCode), reason, "", nil)
		s.ua.dropSession(s.id)
		s.ua.emit(engine.SessionEvent{ID: s.id, Kind: engine.SessionFailed})
		return nil
	}

	byeReq, err := s.request(sip.BYE).Build()
	if err != nil {
		return fmt.Errorf("build BYE: %w", err)
	}
	if _, err := s.ua.srv.Request(byeReq); err != nil {
		return fmt.Errorf("send BYE: %w", err)
	}
	s.ua.dropSession(s.id)
	s.ua.emit(engine.SessionEvent{ID: s.id, Kind: engine.SessionEnded})
	return nil
}

// Hold renegotiates the dialog sendonly. Holding a held session is a no-op.
func (s *session) Hold() error {
	s.mu.Lock()
	if s.hold {
		s.mu.Unlock()
		return nil
	}
	s.hold = true
	s.mu.Unlock()

	if err := s.reinvite("sendonly"); err != nil {
		return err
	}
	s.ua.emit(engine.SessionEvent{ID: s.id, Kind: engine.SessionHold})
	return nil
}

// Unhold renegotiates the dialog sendrecv.
func (s *session) Unhold() error {
	s.mu.Lock()
	if !s.hold {
		s.mu.Unlock()
		return nil
	}
	s.hold = false
	s.mu.Unlock()

	if err := s.reinvite("sendrecv"); err != nil {
		return err
	}
	s.ua.emit(engine.SessionEvent{ID: s.id, Kind: engine.SessionUnhold})
	return nil
}

// Mute gates the outbound audio locally; no signaling is involved.
func (s *session) Mute() error {
	s.mu.Lock()
	if s.muted {
		s.mu.Unlock()
		return nil
	}
	s.muted = true
	out := s.audioOut
	s.mu.Unlock()

	if out != nil {
		out.SetEnabled(false)
	}
	s.ua.emit(engine.SessionEvent{ID: s.id, Kind: engine.SessionMuted})
	return nil
}

// Unmute reopens the outbound audio.
func (s *session) Unmute() error {
	s.mu.Lock()
	if !s.muted {
		s.mu.Unlock()
		return nil
	}
	s.muted = false
	out := s.audioOut
	s.mu.Unlock()

	if out != nil {
		out.SetEnabled(true)
	}
	s.ua.emit(engine.SessionEvent{ID: s.id, Kind: engine.SessionUnmuted})
	return nil
}

// Refer sends REFER for a transfer. A Replaces session of this engine adds
// the Replaces parameter bridging both dialogs.
func (s *session) Refer(target string, opts engine.ReferOptions) error {
	rb := s.request(sip.REFER)

	referTo := target
	if other, ok := opts.Replaces.(*session); ok && other != nil {
		referTo = fmt.Sprintf("<%s?Replaces=%s>", target, other.replacesValue())
	}
	rb.AddHeader(&sip.GenericHeader{HeaderName: "Refer-To", Contents: referTo})
	rb.AddHeader(&sip.GenericHeader{HeaderName: "Referred-By", Contents: s.localAddr.Uri.String()})
	for k, v := range opts.ExtraHeaders {
		rb.AddHeader(&sip.GenericHeader{HeaderName: k, Contents: v})
	}

	req, err := rb.Build()
	if err != nil {
		return fmt.Errorf("build REFER: %w", err)
	}
	tx, err := s.ua.srv.Request(req)
	if err != nil {
		return fmt.Errorf("send REFER: %w", err)
	}
	go s.watchRefer(tx)
	return nil
}

// watchRefer logs transfer progress responses.
func (s *session) watchRefer(tx sip.ClientTransaction) {
	for {
		select {
		case res := <-tx.Responses():
			if res == nil {
				continue
			}
			s.ua.log.Debugf("refer on %s: %d %s", s.id, res.StatusCode(), res.Reason())
			if !res.IsProvisional() {
				return
			}
		case err := <-tx.Errors():
			if err != nil {
				s.ua.log.Warnf("refer on %s failed: %v", s.id, err)
			}
			return
		case <-tx.Done():
			return
		}
	}
}

// SendDTMF relays a tone as an INFO body.
func (s *session) SendDTMF(tone string, opts engine.DTMFOptions) error {
	duration := int(opts.Duration.Milliseconds())
	if duration <= 0 {
		duration = 100
	}

	body := fmt.Sprintf("Signal=%s\r\nDuration=%d\r\n", tone, duration)
	ctype := sip.ContentType("application/dtmf-relay")
	rb := s.request(sip.INFO).
		SetContentType(&ctype).
		SetBody(body)
	for k, v := range opts.ExtraHeaders {
		rb.AddHeader(&sip.GenericHeader{HeaderName: k, Contents: v})
	}

	req, err := rb.Build()
	if err != nil {
		return fmt.Errorf("build INFO: %w", err)
	}
	if _, err := s.ua.srv.Request(req); err != nil {
		return fmt.Errorf("send INFO: %w", err)
	}
	return nil
}

// SendInfo forwards an out-of-band body over the dialog.
func (s *session) SendInfo(contentType, body string) error {
	ctype := sip.ContentType(contentType)
	req, err := s.request(sip.INFO).
		SetContentType(&ctype).
		SetBody(body).
		Build()
	if err != nil {
		return fmt.Errorf("build INFO: %w", err)
	}
	if _, err := s.ua.srv.Request(req); err != nil {
		return fmt.Errorf("send INFO: %w", err)
	}
	return nil
}

func (s *session) LocalHold() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hold
}

func (s *session) LocalMuted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

func (s *session) Senders() []engine.MediaSender {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.senders
}

func (s *session) RemoteTarget() string {
	return s.remoteAddr.Uri.String()
}

// request starts an in-dialog request builder with the next sequence number.
func (s *session) request(method sip.RequestMethod) *sip.RequestBuilder {
	s.mu.Lock()
	s.cseq++
	cseq := s.cseq
	s.mu.Unlock()

	cid := sip.CallID(s.id)
	return sip.NewRequestBuilder().
		SetMethod(method).
		SetRecipient(s.remoteAddr.Uri).
		SetFrom(s.localAddr).
		SetTo(s.remoteAddr).
		SetContact(s.localAddr).
		SetCallID(&cid).
		SetSeqNo(cseq)
}

// reinvite renegotiates the media direction of the dialog.
func (s *session) reinvite(direction string) error {
	ctype := sip.ContentType("application/sdp")
	rb := s.request(sip.INVITE).
		SetContentType(&ctype).
		SetBody(sdpBody(true, direction))
	if s.ua.cfg.SessionTimers {
		for _, h := range sessionTimerHeaders() {
			rb.AddHeader(h)
		}
	}
	req, err := rb.Build()
	if err != nil {
		return fmt.Errorf("build re-INVITE: %w", err)
	}
	if _, err := s.ua.srv.Request(req); err != nil {
		return fmt.Errorf("send re-INVITE: %w", err)
	}
	return nil
}

// replacesValue renders the Replaces parameter for this dialog.
func (s *session) replacesValue() string {
	toTag := tagOf(s.remoteAddr)
	fromTag := tagOf(s.localAddr)
	v := s.id
	if toTag != "" {
		v += ";to-tag=" + toTag
	}
	if fromTag != "" {
		v += ";from-tag=" + fromTag
	}
	// Escaped since it travels inside a Refer-To URI header.
	return strings.ReplaceAll(v, ";", "%3B")
}

func tagOf(addr *sip.Address) string {
	if addr == nil || addr.Params == nil {
		return ""
	}
	if tag, ok := addr.Params.Get("tag"); ok && tag != nil {
		return tag.String()
	}
	return ""
}

func (s *session) setRemoteTag(tag sip.MaybeString) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteAddr.Params = s.remoteAddr.Params.Add("tag", tag)
}

func (s *session) markAnswered() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isUp = true
}

func (s *session) answered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isUp
}
