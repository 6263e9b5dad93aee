package stt

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// EventType names a recognizer lifecycle notification.
type EventType string

const (
	EventStart        EventType = "start"
	EventEnd          EventType = "end"
	EventError        EventType = "error"
	EventResult       EventType = "result"
	EventSpeechResult EventType = "speechResult"
)

var (
	// ErrAborted is carried by the error event that follows Abort.
	ErrAborted = errors.New("recognition aborted")
	// ErrAlreadyStarted is returned by Start while a capture session runs.
	ErrAlreadyStarted = errors.New("recognition already started")
)

// Segment is one recognized phrase.
type Segment struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Event is emitted by recognizers. Result events carry every segment
// recognized since the session started, not only the new ones.
type Event struct {
	Type        EventType
	Results     []Segment
	ResultIndex int
	Err         error
	Time        time.Time
}

// Settings configure the next capture session.
type Settings struct {
	Lang           string
	Continuous     bool
	InterimResults bool
}

// Recognizer abstracts speech-to-text capture backends.
type Recognizer interface {
	Configure(Settings)
	Start(ctx context.Context) error
	Stop() error
	Abort() error
	Subscribe(fn func(Event)) (unsubscribe func())
}

type emitter struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(Event)
}

func (e *emitter) Subscribe(fn func(Event)) func() {
	e.mu.Lock()
	if e.subs == nil {
		e.subs = make(map[int]func(Event))
	}
	id := e.next
	e.next++
	e.subs[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

func (e *emitter) emit(evt Event) {
	if evt.Time.IsZero() {
		evt.Time = time.Now().UTC()
	}
	e.mu.RLock()
	ids := make([]int, 0, len(e.subs))
	for id := range e.subs {
		ids = append(ids, id)
	}
	fns := make([]func(Event), 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		fns = append(fns, e.subs[id])
	}
	e.mu.RUnlock()

	for _, fn := range fns {
		fn(evt)
	}
}
