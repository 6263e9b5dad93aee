// Package capability resolves the speech providers configured for this node.
// It is the only place that decides whether a capability exists; the engine
// receives the resulting interfaces, nil meaning unavailable.
package capability

import (
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/stt"
	"github.com/loqalabs/loqa-voice/internal/tts"
	"github.com/loqalabs/loqa-voice/internal/voice"
)

const (
	NameRecognition = "speech.recognition"
	NameSynthesis   = "speech.synthesis"
)

// Availability describes the outcome of resolving one capability.
type Availability struct {
	Name      string `json:"name"`
	Mode      string `json:"mode,omitempty"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

type Providers struct {
	Recognizer  stt.Recognizer
	Synthesizer tts.Synthesizer
	Report      []Availability
}

// lookPath is swapped in tests.
var lookPath = exec.LookPath

// Resolve builds each configured provider once.
func Resolve(cfg config.Config, log *slog.Logger) Providers {
	log = log.With(slog.String("component", "capability"))
	var p Providers

	recognizer, recAvail := resolveRecognizer(cfg.STT)
	p.Recognizer = recognizer
	p.Report = append(p.Report, recAvail)

	synth, synthAvail := resolveSynthesizer(cfg.TTS)
	p.Synthesizer = synth
	p.Report = append(p.Report, synthAvail)

	for _, a := range p.Report {
		if a.Available {
			log.Info("capability available", slog.String("name", a.Name), slog.String("mode", a.Mode))
		} else {
			log.Warn("capability unavailable", slog.String("name", a.Name), slog.String("reason", a.Reason))
		}
	}
	return p
}

func resolveRecognizer(cfg config.STTConfig) (stt.Recognizer, Availability) {
	a := Availability{Name: NameRecognition, Mode: cfg.Mode}
	if !cfg.Enabled {
		a.Reason = "disabled"
		return nil, a
	}
	switch cfg.Mode {
	case "mock":
		a.Available = true
		return stt.NewMockRecognizer(cfg.MockPhrases, time.Duration(cfg.MockPhraseMS)*time.Millisecond), a
	case "exec":
		if err := commandExists(cfg.Command); err != nil {
			a.Reason = err.Error()
			return nil, a
		}
		r, err := stt.NewExecRecognizer(cfg.Command)
		if err != nil {
			a.Reason = err.Error()
			return nil, a
		}
		a.Available = true
		return r, a
	default:
		a.Reason = fmt.Sprintf("unknown mode %q", cfg.Mode)
		return nil, a
	}
}

func resolveSynthesizer(cfg config.TTSConfig) (tts.Synthesizer, Availability) {
	a := Availability{Name: NameSynthesis, Mode: cfg.Mode}
	if !cfg.Enabled {
		a.Reason = "disabled"
		return nil, a
	}
	switch cfg.Mode {
	case "mock":
		voices := make([]voice.Voice, 0, len(cfg.MockVoices))
		for _, v := range cfg.MockVoices {
			voices = append(voices, voice.Voice{Name: v.Name, Lang: voice.NormalizeTag(v.Lang), LocalService: v.LocalService})
		}
		a.Available = true
		return tts.NewMockSynth(voices, cfg.MockReadyAfter, time.Duration(cfg.MockUtteranceMS)*time.Millisecond), a
	case "exec":
		if err := commandExists(cfg.Command); err != nil {
			a.Reason = err.Error()
			return nil, a
		}
		s, err := tts.NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels, cfg.OutputDir)
		if err != nil {
			a.Reason = err.Error()
			return nil, a
		}
		a.Available = true
		return s, a
	default:
		a.Reason = fmt.Sprintf("unknown mode %q", cfg.Mode)
		return nil, a
	}
}

func commandExists(command string) error {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return fmt.Errorf("parse command: %w", err)
	}
	if len(args) == 0 {
		return fmt.Errorf("command is empty")
	}
	if _, err := lookPath(args[0]); err != nil {
		return fmt.Errorf("command %q not found: %w", args[0], err)
	}
	return nil
}
