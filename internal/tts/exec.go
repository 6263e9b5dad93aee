package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-voice/internal/voice"
)

// execSynth runs an external synthesizer command per utterance. The command
// reads one JSON request on stdin and streams base64 PCM chunks as JSON
// lines. Invoked with --list-voices it prints its catalog as a JSON array.
type execSynth struct {
	cmd        []string
	sampleRate int
	channels   int
	outputDir  string

	loadOnce sync.Once
	ready    chan struct{}

	mu      sync.Mutex
	current *execPlayback
	catalog []voice.Voice
}

// catalogLoadTimeout bounds the background --list-voices run started by Ready.
const catalogLoadTimeout = 30 * time.Second

type execPlayback struct {
	cancel    context.CancelFunc
	gate      *gate
	cancelled bool
}

type execRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice"`
	Lang       string `json:"lang"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type execResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
}

func NewExecSynth(command string, sampleRate, channels int, outputDir string) (Synthesizer, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return &execSynth{
		cmd:        args,
		sampleRate: sampleRate,
		channels:   channels,
		outputDir:  outputDir,
		ready:      make(chan struct{}),
	}, nil
}

// Ready lists the catalog in the background on first use. The channel is
// closed once the listing finished, whatever its outcome; Voices then serves
// the cached catalog or reports why it is missing.
func (e *execSynth) Ready() <-chan struct{} {
	e.loadOnce.Do(func() {
		go func() {
			defer close(e.ready)
			ctx, cancel := context.WithTimeout(context.Background(), catalogLoadTimeout)
			defer cancel()
			_, _ = e.Voices(ctx)
		}()
	})
	return e.ready
}

func (e *execSynth) Voices(ctx context.Context) ([]voice.Voice, error) {
	e.mu.Lock()
	cached := e.catalog
	e.mu.Unlock()
	if len(cached) > 0 {
		return append([]voice.Voice(nil), cached...), nil
	}

	voices, err := e.listVoices(ctx)
	if err != nil || len(voices) == 0 {
		return voices, err
	}
	e.mu.Lock()
	e.catalog = voices
	e.mu.Unlock()
	return append([]voice.Voice(nil), voices...), nil
}

func (e *execSynth) listVoices(ctx context.Context) ([]voice.Voice, error) {
	args := append(append([]string{}, e.cmd[1:]...), "--list-voices")
	cmd := exec.CommandContext(ctx, e.cmd[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("list voices: %w: %s", err, stderr.String())
	}
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return nil, nil
	}
	var voices []voice.Voice
	if err := json.Unmarshal(out, &voices); err != nil {
		return nil, fmt.Errorf("decode voice list: %w", err)
	}
	return voices, nil
}

func (e *execSynth) Speak(ctx context.Context, u Utterance) <-chan error {
	done := make(chan error, 1)
	procCtx, cancel := context.WithCancel(ctx)
	pb := &execPlayback{cancel: cancel, gate: &gate{}}

	e.mu.Lock()
	if e.current != nil {
		e.current.cancelled = true
		e.current.cancel()
	}
	e.current = pb
	e.mu.Unlock()

	go func() {
		err := e.run(procCtx, pb, u)

		e.mu.Lock()
		if pb.cancelled {
			err = ErrCancelled
		}
		if e.current == pb {
			e.current = nil
		}
		e.mu.Unlock()
		cancel()

		done <- err
		close(done)
	}()
	return done
}

func (e *execSynth) run(ctx context.Context, pb *execPlayback, u Utterance) error {
	payload, err := json.Marshal(execRequest{
		Text:       u.Text,
		Voice:      u.Voice.Name,
		Lang:       u.Lang,
		SampleRate: e.sampleRate,
		Channels:   e.channels,
	})
	if err != nil {
		return err
	}

	var sink *wavSink
	if e.outputDir != "" {
		id := u.ID
		if id == "" {
			id = uuid.NewString()
		}
		sink, err = newWAVSink(filepath.Join(e.outputDir, id+".wav"), e.sampleRate, e.channels)
		if err != nil {
			return err
		}
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return closeSink(sink, err)
	}
	if err := cmd.Start(); err != nil {
		return closeSink(sink, fmt.Errorf("start tts command: %w", err))
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var streamErr error
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := pb.gate.wait(ctx); err != nil {
			streamErr = err
			break
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			streamErr = fmt.Errorf("decode tts chunk: %w", err)
			break
		}
		pcm, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			streamErr = fmt.Errorf("decode tts pcm: %w", err)
			break
		}
		if sink != nil {
			if err := sink.Write(pcm); err != nil {
				streamErr = err
				break
			}
		}
		if resp.Final {
			break
		}
	}
	if streamErr != nil {
		pb.cancel()
	}
	waitErr := cmd.Wait()
	if streamErr == nil {
		streamErr = scanner.Err()
	}
	if streamErr == nil && waitErr != nil && ctx.Err() == nil {
		streamErr = fmt.Errorf("tts command failed: %w", waitErr)
	}
	return closeSink(sink, streamErr)
}

func closeSink(sink *wavSink, err error) error {
	if sink == nil {
		return err
	}
	return errors.Join(err, sink.Close())
}

func (e *execSynth) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil {
		e.current.gate.pause()
	}
}

func (e *execSynth) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil {
		e.current.gate.resume()
	}
}

func (e *execSynth) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil {
		e.current.cancelled = true
		e.current.cancel()
	}
}

func (e *execSynth) Speaking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil
}

// gate blocks chunk consumption while paused.
type gate struct {
	mu      sync.Mutex
	resumed chan struct{}
}

func (g *gate) pause() {
	g.mu.Lock()
	if g.resumed == nil {
		g.resumed = make(chan struct{})
	}
	g.mu.Unlock()
}

func (g *gate) resume() {
	g.mu.Lock()
	if g.resumed != nil {
		close(g.resumed)
		g.resumed = nil
	}
	g.mu.Unlock()
}

func (g *gate) wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.resumed
	g.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
