// Package engine implements the voice engine: a component that drives a
// speech recognizer for dictation and a speech synthesizer for narration,
// keeps the observable attributes in one place and re-emits provider
// lifecycle notifications to the host.
package engine

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/stt"
	"github.com/loqalabs/loqa-voice/internal/tts"
	"github.com/loqalabs/loqa-voice/internal/voice"
)

const (
	DefaultVoicePollInterval = time.Millisecond
	DefaultVoicePollAttempts = 100
	// DefaultKeepAliveInterval stays below the cut-off after which some
	// synthesizers silently truncate long utterances.
	DefaultKeepAliveInterval = 140 * time.Second
)

var (
	ErrRecognitionUnavailable = errors.New("speech recognition is not available")
	ErrSynthesisUnavailable   = errors.New("speech synthesis is not available")
	ErrVoicesNotLoaded        = errors.New("voices not loaded")
	ErrNoSpeech               = errors.New("recognition ended without speech")
	ErrAlreadyRecording       = errors.New("recording already in progress")
)

// Options carry the initial attributes and timing of an Engine.
type Options struct {
	Lang         string
	Continuous   bool
	LocalService bool
	Voice        string
	Speech       string

	VoicePollInterval time.Duration
	VoicePollAttempts int
	KeepAliveInterval time.Duration
}

func OptionsFromConfig(cfg config.EngineConfig) Options {
	return Options{
		Lang:              cfg.Lang,
		Continuous:        cfg.Continuous,
		LocalService:      cfg.LocalService,
		Voice:             cfg.Voice,
		Speech:            cfg.Speech,
		VoicePollInterval: time.Duration(cfg.VoicePollIntervalMS) * time.Millisecond,
		VoicePollAttempts: cfg.VoicePollAttempts,
		KeepAliveInterval: time.Duration(cfg.KeepAliveIntervalMS) * time.Millisecond,
	}
}

// State is a snapshot of the engine attributes.
type State struct {
	Lang          string `json:"lang"`
	Continuous    bool   `json:"continuous"`
	LocalService  bool   `json:"local_service"`
	Voice         string `json:"voice,omitempty"`
	Speech        string `json:"speech,omitempty"`
	IsRecording   bool   `json:"is_recording"`
	Recorded      string `json:"recorded"`
	Ready         bool   `json:"ready"`
	CanRecognize  bool   `json:"can_recognize"`
	CanSynthesize bool   `json:"can_synthesize"`
}

type Engine struct {
	log        *slog.Logger
	recognizer stt.Recognizer
	synth      tts.Synthesizer
	tracer     trace.Tracer
	metrics    *engineMetrics

	pollInterval      time.Duration
	pollAttempts      int
	keepAliveInterval time.Duration

	mu           sync.Mutex
	lang         string
	continuous   bool
	localService bool
	voiceName    string
	speech       string
	recording    bool
	recorded     string
	recordIndex  int
	catalog      []voice.Voice
	selected     *voice.Voice
	keepAlive    *keepAlive

	listeners   listenerSet
	unsubscribe func()
}

// New builds an engine. A nil recognizer or synthesizer marks that
// capability as unavailable; operations depending on it then return
// ErrRecognitionUnavailable or ErrSynthesisUnavailable.
func New(opts Options, recognizer stt.Recognizer, synth tts.Synthesizer, logger *slog.Logger) *Engine {
	if opts.VoicePollInterval <= 0 {
		opts.VoicePollInterval = DefaultVoicePollInterval
	}
	if opts.VoicePollAttempts <= 0 {
		opts.VoicePollAttempts = DefaultVoicePollAttempts
	}
	if opts.KeepAliveInterval <= 0 {
		opts.KeepAliveInterval = DefaultKeepAliveInterval
	}
	lang := voice.NormalizeTag(opts.Lang)
	if lang == "" {
		lang = voice.SystemLang()
	}

	e := &Engine{
		log:               logger.With(slog.String("component", "voice-engine")),
		recognizer:        recognizer,
		synth:             synth,
		tracer:            otel.Tracer("github.com/loqalabs/loqa-voice/engine"),
		pollInterval:      opts.VoicePollInterval,
		pollAttempts:      opts.VoicePollAttempts,
		keepAliveInterval: opts.KeepAliveInterval,
		lang:              lang,
		continuous:        opts.Continuous,
		localService:      opts.LocalService,
		voiceName:         opts.Voice,
		speech:            opts.Speech,
	}
	e.metrics = newEngineMetrics(e.log)

	if recognizer == nil {
		e.log.Error("speech recognition capability unavailable")
	} else {
		e.unsubscribe = recognizer.Subscribe(e.handleRecognizerEvent)
	}
	if synth == nil {
		e.log.Error("speech synthesis capability unavailable")
	}
	return e
}

// Close detaches the engine from its recognizer and stops any playback.
func (e *Engine) Close() {
	e.Cancel()
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
}

func (e *Engine) CanRecognize() bool  { return e.recognizer != nil }
func (e *Engine) CanSynthesize() bool { return e.synth != nil }

func (e *Engine) Lang() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lang
}

// SetLang normalizes lang and re-runs voice selection when it changed. An
// empty value resets to the process locale.
func (e *Engine) SetLang(lang string) {
	normalized := voice.NormalizeTag(lang)
	if normalized == "" {
		normalized = voice.SystemLang()
	}
	e.mu.Lock()
	changed := normalized != e.lang
	e.lang = normalized
	e.mu.Unlock()
	if changed {
		e.selectVoice()
	}
}

// Voice returns the name of the selected (or requested) voice.
func (e *Engine) Voice() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.voiceName
}

func (e *Engine) SetVoice(name string) {
	e.mu.Lock()
	changed := name != e.voiceName
	e.voiceName = name
	e.mu.Unlock()
	if changed {
		e.selectVoice()
	}
}

// SelectedVoice returns the voice used for playback, if any.
func (e *Engine) SelectedVoice() (voice.Voice, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.selected == nil {
		return voice.Voice{}, false
	}
	return *e.selected, true
}

func (e *Engine) Speech() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speech
}

func (e *Engine) SetSpeech(text string) {
	e.mu.Lock()
	e.speech = text
	e.mu.Unlock()
}

func (e *Engine) Continuous() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.continuous
}

// SetContinuous applies to the next recording session.
func (e *Engine) SetContinuous(continuous bool) {
	e.mu.Lock()
	e.continuous = continuous
	e.mu.Unlock()
}

func (e *Engine) LocalService() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.localService
}

// SetLocalService takes effect at the next voice selection.
func (e *Engine) SetLocalService(local bool) {
	e.mu.Lock()
	e.localService = local
	e.mu.Unlock()
}

func (e *Engine) IsRecording() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recording
}

// Recorded returns the transcript accumulated by the current or last
// recording session.
func (e *Engine) Recorded() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recorded
}

// Ready reports whether the voice catalog has been loaded.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.catalog) > 0
}

// Voices lists the catalog, voices matching the local-service preference first.
func (e *Engine) Voices() []voice.Info {
	e.mu.Lock()
	defer e.mu.Unlock()
	return voice.Infos(voice.OrderByLocalService(e.catalog, e.localService))
}

// VoicesByLang maps every language of the catalog to its voice names.
func (e *Engine) VoicesByLang() map[string][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return voice.GroupByLang(voice.OrderByLocalService(e.catalog, e.localService))
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		Lang:          e.lang,
		Continuous:    e.continuous,
		LocalService:  e.localService,
		Voice:         e.voiceName,
		Speech:        e.speech,
		IsRecording:   e.recording,
		Recorded:      e.recorded,
		Ready:         len(e.catalog) > 0,
		CanRecognize:  e.recognizer != nil,
		CanSynthesize: e.synth != nil,
	}
}
