package tts

import (
	"context"
	"errors"

	"github.com/loqalabs/loqa-voice/internal/voice"
)

// ErrCancelled is delivered on a Speak channel when Cancel interrupts it.
var ErrCancelled = errors.New("utterance cancelled")

// Utterance is one unit of text submitted for playback.
type Utterance struct {
	ID    string
	Text  string
	Lang  string
	Voice voice.Voice
}

// Synthesizer is the contract for speaking text. Speak returns immediately;
// the channel yields exactly one value (nil once the utterance ended) and is
// then closed.
type Synthesizer interface {
	Voices(ctx context.Context) ([]voice.Voice, error)
	Speak(ctx context.Context, u Utterance) <-chan error
	Pause()
	Resume()
	Cancel()
	Speaking() bool
}

// ReadyNotifier is implemented by synthesizers that can signal when their
// voice catalog is populated.
type ReadyNotifier interface {
	Ready() <-chan struct{}
}
