package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/loqalabs/loqa-voice/internal/stt"
)

// StartRecording starts a capture session, or stops the running one.
func (e *Engine) StartRecording(ctx context.Context) error {
	if err := e.BeginRecording(ctx); !errors.Is(err, ErrAlreadyRecording) {
		return err
	}
	return e.StopRecording()
}

// BeginRecording starts a capture session. Unlike StartRecording it never
// stops a running session; it returns ErrAlreadyRecording instead.
func (e *Engine) BeginRecording(ctx context.Context) error {
	if e.recognizer == nil {
		return ErrRecognitionUnavailable
	}

	e.mu.Lock()
	if e.recording {
		e.mu.Unlock()
		return ErrAlreadyRecording
	}
	e.recording = true
	e.recorded = ""
	e.recordIndex = 0
	settings := stt.Settings{Lang: e.lang, Continuous: e.continuous}
	e.mu.Unlock()

	e.recognizer.Configure(settings)
	if err := e.recognizer.Start(ctx); err != nil {
		e.mu.Lock()
		e.recording = false
		e.mu.Unlock()
		return fmt.Errorf("start recognition: %w", err)
	}
	e.metrics.recordingStarted(ctx, settings.Lang)
	e.log.Debug("recording started", slog.String("lang", settings.Lang), slog.Bool("continuous", settings.Continuous))
	return nil
}

// StopRecording ends the capture session and pauses any playback so
// capture and narration do not overlap.
func (e *Engine) StopRecording() error {
	if e.recognizer == nil {
		return ErrRecognitionUnavailable
	}

	e.mu.Lock()
	e.recording = false
	e.mu.Unlock()

	err := e.recognizer.Stop()
	if e.synth != nil {
		e.synth.Pause()
	}
	if err != nil {
		return fmt.Errorf("stop recognition: %w", err)
	}
	e.log.Debug("recording stopped")
	return nil
}

// Listen captures until the first phrase is recognized and returns it.
func (e *Engine) Listen(ctx context.Context) (string, error) {
	if e.recognizer == nil {
		return "", ErrRecognitionUnavailable
	}
	if e.IsRecording() {
		return "", stt.ErrAlreadyStarted
	}

	heard := make(chan string, 1)
	ended := make(chan struct{}, 1)
	removeResult := e.On(EventResult, func(evt Event) {
		detail, ok := evt.Detail.(stt.Event)
		if !ok || len(detail.Results) == 0 {
			return
		}
		idx := detail.ResultIndex
		if idx < 0 || idx >= len(detail.Results) {
			idx = len(detail.Results) - 1
		}
		select {
		case heard <- detail.Results[idx].Transcript:
		default:
		}
	})
	defer removeResult()
	removeEnd := e.On(EventEnd, func(Event) {
		select {
		case ended <- struct{}{}:
		default:
		}
	})
	defer removeEnd()

	if err := e.StartRecording(ctx); err != nil {
		return "", err
	}

	select {
	case transcript := <-heard:
		if err := e.StopRecording(); err != nil {
			e.log.Warn("failed to stop recognition", slogError(err))
		}
		return transcript, nil
	case <-ended:
		select {
		case transcript := <-heard:
			return transcript, nil
		default:
		}
		return "", ErrNoSpeech
	case <-ctx.Done():
		e.Cancel()
		return "", ctx.Err()
	}
}

func (e *Engine) handleRecognizerEvent(evt stt.Event) {
	e.log.Debug("recognizer event", slog.String("event", string(evt.Type)))

	switch evt.Type {
	case stt.EventEnd:
		if !e.IsRecording() {
			return
		}
		if err := e.StopRecording(); err != nil {
			e.log.Warn("failed to stop recognition", slogError(err))
		}
	case stt.EventResult:
		rec := e.appendResults(evt.Results)
		e.metrics.segmentsRecorded(context.Background(), rec)
		e.emit(Event{Type: EventRecorded, Detail: rec, Time: evt.Time})
	case stt.EventError:
		if evt.Err != nil && !errors.Is(evt.Err, stt.ErrAborted) {
			e.log.Warn("recognition error", slogError(evt.Err))
		}
	}

	e.emit(Event{Type: EventType(evt.Type), Detail: evt, Time: evt.Time})
}

// appendResults appends the segments not seen yet in this session. Result
// lists always start at the first segment of the session.
func (e *Engine) appendResults(results []stt.Segment) Recording {
	e.mu.Lock()
	defer e.mu.Unlock()

	var fresh []string
	if len(results) > e.recordIndex {
		for _, segment := range results[e.recordIndex:] {
			fresh = append(fresh, segment.Transcript)
		}
		e.recordIndex = len(results)
	}
	appended := strings.Join(fresh, " ")
	if appended != "" {
		if e.recorded != "" {
			e.recorded += " "
		}
		e.recorded += appended
	}
	return Recording{Appended: appended, Text: e.recorded, Segments: len(fresh)}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
