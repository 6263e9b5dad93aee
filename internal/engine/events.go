package engine

import (
	"sync"
	"time"

	"github.com/loqalabs/loqa-voice/internal/stt"
)

// EventType names a notification emitted by the engine.
type EventType string

const (
	EventStart                  = EventType(stt.EventStart)
	EventEnd                    = EventType(stt.EventEnd)
	EventError                  = EventType(stt.EventError)
	EventResult                 = EventType(stt.EventResult)
	EventSpeechResult           = EventType(stt.EventSpeechResult)
	EventRecorded     EventType = "recorded"
	EventVoiceChanged EventType = "voice-changed"
)

// Event is delivered to listeners. Detail is the stt.Event for provider
// pass-through notifications, a Recording for EventRecorded and the chosen
// voice.Voice for EventVoiceChanged.
type Event struct {
	Type   EventType
	Detail any
	Time   time.Time
}

// Recording describes one append to the transcript.
type Recording struct {
	Appended string `json:"appended"`
	Text     string `json:"text"`
	Segments int    `json:"segments"`
}

// Listener receives engine notifications. Listeners run on the goroutine
// that produced the notification, after the engine released its lock.
type Listener func(Event)

type listenerEntry struct {
	id  int
	typ EventType
	fn  Listener
}

type listenerSet struct {
	mu      sync.RWMutex
	next    int
	entries []listenerEntry
}

// On registers fn for one notification type and returns its removal func.
func (e *Engine) On(typ EventType, fn Listener) func() {
	return e.listeners.add(typ, fn)
}

// Subscribe registers fn for every notification.
func (e *Engine) Subscribe(fn Listener) func() {
	return e.listeners.add("", fn)
}

func (s *listenerSet) add(typ EventType, fn Listener) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.entries = append(s.entries, listenerEntry{id: id, typ: typ, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, entry := range s.entries {
			if entry.id == id {
				s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
				return
			}
		}
	}
}

func (e *Engine) emit(evt Event) {
	if evt.Time.IsZero() {
		evt.Time = time.Now().UTC()
	}
	e.listeners.mu.RLock()
	targets := make([]Listener, 0, len(e.listeners.entries))
	for _, entry := range e.listeners.entries {
		if entry.typ == "" || entry.typ == evt.Type {
			targets = append(targets, entry.fn)
		}
	}
	e.listeners.mu.RUnlock()

	for _, fn := range targets {
		fn(evt)
	}
}
