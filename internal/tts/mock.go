package tts

import (
	"context"
	"sync"
	"time"

	"github.com/loqalabs/loqa-voice/internal/voice"
)

// MockSynth is an in-process synthesizer. Its catalog only shows up after
// readyAfter calls to Voices, like platforms that load voices lazily. A zero
// duration keeps utterances speaking until Finish or Cancel.
type MockSynth struct {
	catalog    []voice.Voice
	readyAfter int
	duration   time.Duration

	mu      sync.Mutex
	calls   int
	current *mockPlayback
	paused  bool
	pauses  int
	resumes int
	cancels int
	spoken  []Utterance
}

type mockPlayback struct {
	done   chan error
	finish chan error
	once   sync.Once
}

func (p *mockPlayback) end(err error) {
	p.once.Do(func() { p.finish <- err })
}

func NewMockSynth(catalog []voice.Voice, readyAfter int, duration time.Duration) *MockSynth {
	return &MockSynth{
		catalog:    append([]voice.Voice(nil), catalog...),
		readyAfter: readyAfter,
		duration:   duration,
	}
}

func (m *MockSynth) Voices(_ context.Context) ([]voice.Voice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls <= m.readyAfter {
		return nil, nil
	}
	return append([]voice.Voice(nil), m.catalog...), nil
}

func (m *MockSynth) Speak(ctx context.Context, u Utterance) <-chan error {
	pb := &mockPlayback{done: make(chan error, 1), finish: make(chan error, 1)}

	m.mu.Lock()
	if m.current != nil {
		m.current.end(ErrCancelled)
	}
	m.current = pb
	m.paused = false
	m.spoken = append(m.spoken, u)
	m.mu.Unlock()

	go func() {
		var timer <-chan time.Time
		if m.duration > 0 {
			t := time.NewTimer(m.duration)
			defer t.Stop()
			timer = t.C
		}
		var err error
		select {
		case <-timer:
		case err = <-pb.finish:
		case <-ctx.Done():
			err = ctx.Err()
		}

		m.mu.Lock()
		if m.current == pb {
			m.current = nil
		}
		m.mu.Unlock()

		pb.done <- err
		close(pb.done)
	}()
	return pb.done
}

func (m *MockSynth) Pause() {
	m.mu.Lock()
	m.pauses++
	m.paused = true
	m.mu.Unlock()
}

func (m *MockSynth) Resume() {
	m.mu.Lock()
	m.resumes++
	m.paused = false
	m.mu.Unlock()
}

func (m *MockSynth) Cancel() {
	m.mu.Lock()
	m.cancels++
	if m.current != nil {
		m.current.end(ErrCancelled)
	}
	m.mu.Unlock()
}

func (m *MockSynth) Speaking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// Finish ends the current utterance normally.
func (m *MockSynth) Finish() {
	m.mu.Lock()
	if m.current != nil {
		m.current.end(nil)
	}
	m.mu.Unlock()
}

// Calls reports how often Pause, Resume and Cancel were invoked.
func (m *MockSynth) Calls() (pauses, resumes, cancels int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pauses, m.resumes, m.cancels
}

// Spoken returns every utterance submitted so far.
func (m *MockSynth) Spoken() []Utterance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Utterance(nil), m.spoken...)
}

func (m *MockSynth) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}
