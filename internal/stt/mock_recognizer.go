package stt

import (
	"context"
	"sync"
	"time"
)

// MockRecognizer is an in-process recognizer. Tests drive it through the
// Emit helpers; when phrases are configured, Start replays them as results.
type MockRecognizer struct {
	emitter

	phrases  []string
	interval time.Duration

	mu       sync.Mutex
	settings Settings
	running  bool
	segments []Segment
	cancel   context.CancelFunc
	starts   int
	stops    int
	aborts   int
}

func NewMockRecognizer(phrases []string, interval time.Duration) *MockRecognizer {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &MockRecognizer{phrases: phrases, interval: interval}
}

func (m *MockRecognizer) Configure(s Settings) {
	m.mu.Lock()
	m.settings = s
	m.mu.Unlock()
}

func (m *MockRecognizer) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

func (m *MockRecognizer) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.running = true
	m.segments = nil
	m.starts++
	var replayCtx context.Context
	if len(m.phrases) > 0 {
		replayCtx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	}
	m.mu.Unlock()

	m.emit(Event{Type: EventStart})
	if replayCtx != nil {
		go m.replay(replayCtx)
	}
	return nil
}

func (m *MockRecognizer) replay(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for _, phrase := range m.phrases {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		m.EmitSpeechResult()
		m.EmitResult(phrase)
	}
	if !m.Settings().Continuous {
		m.EmitEnd()
	}
}

func (m *MockRecognizer) Stop() error {
	if !m.finish(func() { m.stops++ }) {
		return nil
	}
	m.emit(Event{Type: EventEnd})
	return nil
}

func (m *MockRecognizer) Abort() error {
	if !m.finish(func() { m.aborts++ }) {
		return nil
	}
	m.emit(Event{Type: EventError, Err: ErrAborted})
	m.emit(Event{Type: EventEnd})
	return nil
}

func (m *MockRecognizer) finish(count func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return false
	}
	count()
	m.running = false
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	return true
}

// EmitResult appends segments and emits a result event with the full list.
func (m *MockRecognizer) EmitResult(transcripts ...string) {
	m.mu.Lock()
	for _, t := range transcripts {
		m.segments = append(m.segments, Segment{Transcript: t, Confidence: 1})
	}
	results := append([]Segment(nil), m.segments...)
	m.mu.Unlock()

	m.emit(Event{Type: EventResult, Results: results, ResultIndex: len(results) - len(transcripts)})
}

func (m *MockRecognizer) EmitSpeechResult() {
	m.emit(Event{Type: EventSpeechResult})
}

func (m *MockRecognizer) EmitError(err error) {
	m.emit(Event{Type: EventError, Err: err})
}

// EmitEnd simulates the provider ending the session on its own.
func (m *MockRecognizer) EmitEnd() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
	m.emit(Event{Type: EventEnd})
}

func (m *MockRecognizer) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Calls reports how often Start, Stop and Abort took effect.
func (m *MockRecognizer) Calls() (starts, stops, aborts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts, m.stops, m.aborts
}
