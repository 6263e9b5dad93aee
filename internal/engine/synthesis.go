package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-voice/internal/stt"
	"github.com/loqalabs/loqa-voice/internal/tts"
	"github.com/loqalabs/loqa-voice/internal/voice"
)

var errCatalogEmpty = errors.New("voice catalog empty")

// Init configures the recognizer and loads the voice catalog, then selects
// a voice for the current language. Synthesizers implementing
// tts.ReadyNotifier are awaited; others are polled.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	settings := stt.Settings{Lang: e.lang, Continuous: e.continuous}
	e.mu.Unlock()
	if e.recognizer != nil {
		e.recognizer.Configure(settings)
	}
	if e.synth == nil {
		return ErrSynthesisUnavailable
	}

	voices, err := e.loadVoices(ctx)
	if err != nil {
		e.log.Error("voices not loaded", slogError(err))
		return err
	}

	for i := range voices {
		voices[i].Lang = voice.NormalizeTag(voices[i].Lang)
	}
	e.mu.Lock()
	e.catalog = voice.SortCatalog(voices)
	e.mu.Unlock()
	e.log.Info("voice catalog loaded", slog.Int("voices", len(voices)))

	e.selectVoice()
	return nil
}

func (e *Engine) loadVoices(ctx context.Context) ([]voice.Voice, error) {
	if notifier, ok := e.synth.(tts.ReadyNotifier); ok {
		budget := e.pollInterval * time.Duration(e.pollAttempts)
		timer := time.NewTimer(budget)
		defer timer.Stop()
		select {
		case <-notifier.Ready():
		case <-timer.C:
			return nil, fmt.Errorf("%w: not ready within %s", ErrVoicesNotLoaded, budget)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		voices, err := e.synth.Voices(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrVoicesNotLoaded, err)
		}
		if len(voices) == 0 {
			return nil, fmt.Errorf("%w: %w", ErrVoicesNotLoaded, errCatalogEmpty)
		}
		return voices, nil
	}

	poll := func() ([]voice.Voice, error) {
		voices, err := e.synth.Voices(ctx)
		if err != nil {
			return nil, err
		}
		if len(voices) == 0 {
			e.log.Debug("waiting for voices to be loaded")
			return nil, errCatalogEmpty
		}
		return voices, nil
	}
	voices, err := backoff.Retry(ctx, poll,
		backoff.WithBackOff(backoff.NewConstantBackOff(e.pollInterval)),
		backoff.WithMaxTries(uint(e.pollAttempts)),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %d attempts: %w", ErrVoicesNotLoaded, e.pollAttempts, err)
	}
	return voices, nil
}

// selectVoice applies voice.Select to the current attributes. On success the
// voice name attribute is updated directly and voice-changed is emitted; on
// failure the previous selection is kept.
func (e *Engine) selectVoice() bool {
	e.mu.Lock()
	if len(e.catalog) == 0 {
		e.mu.Unlock()
		e.log.Debug("voice selection skipped, catalog not loaded")
		return false
	}
	prefs := voice.Preferences{Lang: e.lang, LocalService: e.localService, Voice: e.voiceName}
	chosen, ok := voice.Select(e.catalog, prefs)
	if !ok {
		e.mu.Unlock()
		e.log.Error("unable to select an appropriate voice", slog.String("lang", prefs.Lang))
		return false
	}
	e.selected = &chosen
	e.voiceName = chosen.Name
	settings := stt.Settings{Lang: e.lang, Continuous: e.continuous}
	e.mu.Unlock()

	if e.recognizer != nil {
		e.recognizer.Configure(settings)
	}
	e.metrics.voiceChanged(context.Background(), settings.Lang)
	e.log.Info("selected voice", slog.String("voice", chosen.Name), slog.String("lang", settings.Lang))
	e.emit(Event{Type: EventVoiceChanged, Detail: chosen})
	return true
}

// PlaySpeech cancels any activity, then speaks the Speech attribute and
// returns once the synthesizer reports the end of the utterance. It returns
// tts.ErrCancelled when Cancel interrupts playback.
func (e *Engine) PlaySpeech(ctx context.Context) error {
	if e.synth == nil {
		return ErrSynthesisUnavailable
	}
	e.Cancel()

	e.mu.Lock()
	needsVoice := e.selected == nil
	e.mu.Unlock()
	if needsVoice {
		e.selectVoice()
	}

	text := e.Speech()
	if text == "" {
		return nil
	}
	return e.speak(ctx, text)
}

// Play sets the Speech attribute and plays it.
func (e *Engine) Play(ctx context.Context, text string) error {
	e.SetSpeech(text)
	return e.PlaySpeech(ctx)
}

func (e *Engine) speak(ctx context.Context, text string) error {
	e.mu.Lock()
	u := tts.Utterance{ID: uuid.NewString(), Text: text, Lang: e.lang}
	if e.selected != nil {
		u.Voice = *e.selected
	}
	ka := startKeepAlive(e.synth, e.keepAliveInterval)
	e.keepAlive = ka
	e.mu.Unlock()

	ctx, span := e.tracer.Start(ctx, "voice.speak", trace.WithAttributes(
		attribute.String("utterance.id", u.ID),
		attribute.String("lang", u.Lang),
		attribute.String("voice", u.Voice.Name),
	))
	defer span.End()
	e.log.Debug("speaking", slog.String("voice", u.Voice.Name), slog.String("utterance", u.ID))

	done := e.synth.Speak(ctx, u)
	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		e.synth.Cancel()
		err = ctx.Err()
	}

	ka.stop()
	e.mu.Lock()
	if e.keepAlive == ka {
		e.keepAlive = nil
	}
	e.mu.Unlock()

	outcome := "completed"
	switch {
	case errors.Is(err, tts.ErrCancelled):
		outcome = "cancelled"
	case err != nil:
		outcome = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.log.Warn("speech synthesis failed", slogError(err))
	}
	e.metrics.utteranceSpoken(ctx, u.Lang, outcome)
	return err
}

// Cancel aborts recognition, cancels playback and stops the keep-alive
// timer. It is safe to call when nothing is in progress.
//
// The recording flag is cleared before the abort so that an end event the
// provider delivers later is ignored instead of pausing the next utterance.
// Listeners get the end of an aborted session from Cancel itself.
func (e *Engine) Cancel() {
	e.mu.Lock()
	wasRecording := e.recording
	e.recording = false
	e.mu.Unlock()

	if e.recognizer != nil {
		if err := e.recognizer.Abort(); err != nil {
			e.log.Warn("failed to abort recognition", slogError(err))
		}
		if wasRecording {
			e.emit(Event{Type: EventEnd, Detail: stt.Event{Type: stt.EventEnd}})
		}
	}
	if e.synth != nil {
		e.synth.Pause()
		e.synth.Cancel()
	}

	e.mu.Lock()
	ka := e.keepAlive
	e.keepAlive = nil
	e.mu.Unlock()
	if ka != nil {
		ka.stop()
	}
}

// keepAlive periodically pauses and resumes a speaking synthesizer, which
// resets the timeout some platforms apply to long utterances.
type keepAlive struct {
	stopCh chan struct{}
	done   chan struct{}
	once   sync.Once
}

func startKeepAlive(synth tts.Synthesizer, interval time.Duration) *keepAlive {
	ka := &keepAlive{stopCh: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(ka.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ka.stopCh:
				return
			case <-ticker.C:
				if !synth.Speaking() {
					return
				}
				synth.Pause()
				synth.Resume()
			}
		}
	}()
	return ka
}

// stop returns once the timer goroutine has exited.
func (k *keepAlive) stop() {
	k.once.Do(func() { close(k.stopCh) })
	<-k.done
}
