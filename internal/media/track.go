// Package media provides the local media plumbing behind a call leg:
// outbound tracks whose frames can be gated without touching signaling.
package media

import (
	"sync"

	"github.com/google/uuid"
)

// Track is one outbound media sender. Frames written while the track is
// disabled are dropped.
type Track struct {
	id   string
	kind string

	mu      sync.Mutex
	enabled bool
	onFrame func([]int16)
}

// NewAudioTrack creates an enabled audio track.
func NewAudioTrack() *Track {
	return &Track{
		id:      uuid.NewString(),
		kind:    "audio",
		enabled: true,
	}
}

// ID returns the track identifier.
func (t *Track) ID() string { return t.id }

// Kind returns the media kind, e.g. "audio".
func (t *Track) Kind() string { return t.kind }

// Enabled reports whether frames currently pass through.
func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// SetEnabled opens or closes the gate.
func (t *Track) SetEnabled(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = v
}

// OnFrame sets the downstream consumer for written frames.
func (t *Track) OnFrame(fn func([]int16)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onFrame = fn
}

// Write delivers one PCM frame downstream.
func (t *Track) Write(frame []int16) {
	t.mu.Lock()
	fn := t.onFrame
	ok := t.enabled
	t.mu.Unlock()
	if ok && fn != nil {
		fn(frame)
	}
}
