// Package aggregate owns the live scan session: it accumulates decoded
// events in arrival order and derives the sorted display view.
package aggregate

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	appLog "scancal/internal/log"
	"scancal/internal/model"
	"scancal/internal/stream"
)

// SessionID tags every frame with the session it belongs to so that frames
// of an abandoned scan can be recognized and ignored.
type SessionID string

var (
	// ErrStaleSession is returned for updates addressed to a session that is
	// no longer the active one.
	ErrStaleSession = errors.New("stale scan session")
	// ErrSessionClosed is returned for frames arriving after the session
	// reached Complete or Failed.
	ErrSessionClosed = errors.New("scan session already finished")
)

// Snapshot is a consistent read of the session for the display layer.
type Snapshot struct {
	SessionID SessionID
	Status    Status
	Events    []model.EventRecord
	StartedAt time.Time
	UpdatedAt time.Time
}

// Aggregator holds the single active ScanSession.
//
// Writes come from one pipeline at a time; the mutex exists so that display
// readers (the HTTP API) can take snapshots while a scan is streaming.
type Aggregator struct {
	mu        sync.RWMutex
	id        SessionID
	status    Status
	events    []model.EventRecord
	startedAt time.Time
	updatedAt time.Time

	loc *time.Location
	now func() time.Time
}

type Option func(*Aggregator)

// WithLocation sets the zone used to interpret event times that carry no
// UTC offset. Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(a *Aggregator) {
		if loc != nil {
			a.loc = loc
		}
	}
}

// WithClock overrides the time source for session timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		status: Idle{},
		loc:    time.Local,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// BeginSession discards the current session and starts a new one with no
// events and status InProgress(0, 0). Frames tagged with any earlier
// session id are ignored from now on.
func (a *Aggregator) BeginSession() SessionID {
	id := SessionID(uuid.NewString())

	a.mu.Lock()
	defer a.mu.Unlock()

	prev := a.id
	a.id = id
	a.status = InProgress{}
	a.events = nil
	a.startedAt = a.now()
	a.updatedAt = a.startedAt

	if prev != "" {
		appLog.Debug("aggregate: session superseded", "previous", prev, "session", id)
	}
	return id
}

// Ingest applies one decoded frame to session id: its events are appended
// in arrival order and the status advances to InProgress(chunk, total), or
// to Complete when the frame says so.
func (a *Aggregator) Ingest(id SessionID, frame stream.Frame) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id == "" || id != a.id {
		return ErrStaleSession
	}
	if !Busy(a.status) {
		return ErrSessionClosed
	}

	for _, ev := range frame.NewEvents {
		if err := ev.Validate(); err != nil {
			continue
		}
		a.events = append(a.events, ev.Clone())
	}

	if frame.Complete {
		a.status = Complete{}
	} else {
		a.status = InProgress{Processed: frame.ChunkIndex, Total: frame.TotalChunks}
	}
	a.updatedAt = a.now()
	return nil
}

// Finish marks session id Complete if it is still in progress. It is used
// when the stream ends cleanly without a final "complete" frame.
func (a *Aggregator) Finish(id SessionID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id == "" || id != a.id {
		return ErrStaleSession
	}
	if Busy(a.status) {
		a.status = Complete{}
		a.updatedAt = a.now()
	}
	return nil
}

// Fail marks session id Failed. Events already ingested are kept.
func (a *Aggregator) Fail(id SessionID, reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id == "" || id != a.id {
		return ErrStaleSession
	}
	if _, done := a.status.(Complete); done {
		return ErrSessionClosed
	}
	a.status = Failed{Reason: reason}
	a.updatedAt = a.now()
	return nil
}

// Append adds events that did not come from the stream (single-shot parse
// results) to the current collection. Status is left untouched. Untitled
// events are skipped; the number appended is returned.
func (a *Aggregator) Append(events ...model.EventRecord) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			continue
		}
		a.events = append(a.events, ev.Clone())
		n++
	}
	if n > 0 {
		a.updatedAt = a.now()
	}
	return n
}

// Status returns the status of the active session.
func (a *Aggregator) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

// SessionID returns the id of the active session, or "" before the first scan.
func (a *Aggregator) SessionID() SessionID {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.id
}

// Events returns the events in arrival order.
func (a *Aggregator) Events() []model.EventRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return cloneEvents(a.events)
}

// SortedView returns a freshly sorted copy of all current events. See
// SortEvents for the ordering.
func (a *Aggregator) SortedView() []model.EventRecord {
	a.mu.RLock()
	events := cloneEvents(a.events)
	loc := a.loc
	a.mu.RUnlock()

	SortEvents(events, loc)
	return events
}

// Snapshot returns the session state and its sorted view in one read.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	snap := Snapshot{
		SessionID: a.id,
		Status:    a.status,
		Events:    cloneEvents(a.events),
		StartedAt: a.startedAt,
		UpdatedAt: a.updatedAt,
	}
	loc := a.loc
	a.mu.RUnlock()

	SortEvents(snap.Events, loc)
	return snap
}

func cloneEvents(events []model.EventRecord) []model.EventRecord {
	out := slices.Clone(events)
	for i := range out {
		out[i] = out[i].Clone()
	}
	if out == nil {
		out = []model.EventRecord{}
	}
	return out
}
