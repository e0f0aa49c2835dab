// Package audit records plugin lifecycle events for later inspection.
package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Kind names a lifecycle transition.
type Kind string

const (
	Accepted   Kind = "accepted"
	Rejected   Kind = "rejected"
	Registered Kind = "registered"
	Revoked    Kind = "revoked"
	Loaded     Kind = "loaded"
	Started    Kind = "started"
	Dropped    Kind = "dropped"
	Failed     Kind = "failed"
)

// Event is one recorded transition. Path and Digest are empty for events
// about the allow-list registration.
type Event struct {
	ID     string
	Time   time.Time
	Kind   Kind
	Path   string
	Digest string
	Err    error
}

// NewEvent stamps a transition with a fresh ID and the current time.
func NewEvent(kind Kind, path, digest string, err error) Event {
	return Event{ID: uuid.NewString(), Time: time.Now(), Kind: kind, Path: path, Digest: digest, Err: err}
}

// Recorder receives lifecycle events. Implementations must be safe for
// concurrent use and must not block.
type Recorder interface {
	Record(Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(Event) {}

// LogRecorder writes events to a logger.
type LogRecorder struct {
	logger zerolog.Logger
}

// NewLogRecorder returns a recorder logging at info level, or warn for
// events carrying an error.
func NewLogRecorder(l zerolog.Logger) *LogRecorder {
	return &LogRecorder{logger: l.With().Str("component", "audit").Logger()}
}

func (r *LogRecorder) Record(e Event) {
	ev := r.logger.Info()
	if e.Err != nil {
		ev = r.logger.Warn().Err(e.Err)
	}
	ev.Str("id", e.ID).Time("at", e.Time).Str("kind", string(e.Kind)).Str("path", e.Path).
		Str("digest", e.Digest).Msg("plugin lifecycle")
}

// Trail keeps the most recent events in memory.
type Trail struct {
	mu     sync.Mutex
	events []Event
	next   int
	full   bool
}

// NewTrail returns a trail holding up to size events.
func NewTrail(size int) *Trail {
	return &Trail{events: make([]Event, max(size, 1))}
}

func (t *Trail) Record(e Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events[t.next] = e
	t.next = (t.next + 1) % len(t.events)
	if t.next == 0 {
		t.full = true
	}
}

// Events returns the retained events, oldest first.
func (t *Trail) Events() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.full {
		return append([]Event(nil), t.events[:t.next]...)
	}
	out := make([]Event, 0, len(t.events))
	out = append(out, t.events[t.next:]...)
	return append(out, t.events[:t.next]...)
}

// Multi fans events out to several recorders.
type Multi []Recorder

func (m Multi) Record(e Event) {
	for _, r := range m {
		r.Record(e)
	}
}
