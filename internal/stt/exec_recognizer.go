package stt

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/goccy/go-json"
	"github.com/mattn/go-shellwords"
)

// execRecognizer drives an external capture command. The command prints one
// JSON object per recognized phrase and exits once its stdin is closed.
type execRecognizer struct {
	emitter

	cmd []string

	mu       sync.Mutex
	settings Settings
	stdin    io.WriteCloser
	cancel   context.CancelFunc
	running  bool
	aborted  bool
}

type execLine struct {
	Event      string  `json:"event"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func NewExecRecognizer(command string) (Recognizer, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return &execRecognizer{cmd: args}, nil
}

func (r *execRecognizer) Configure(s Settings) {
	r.mu.Lock()
	r.settings = s
	r.mu.Unlock()
}

func (r *execRecognizer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrAlreadyStarted
	}

	args := append([]string{}, r.cmd[1:]...)
	if r.settings.Lang != "" {
		args = append(args, "--language", r.settings.Lang)
	}
	if r.settings.Continuous {
		args = append(args, "--continuous")
	}
	if r.settings.InterimResults {
		args = append(args, "--partial")
	}

	procCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	command := exec.CommandContext(procCtx, r.cmd[0], args...)
	var stderr bytes.Buffer
	command.Stderr = &stderr
	stdin, err := command.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stt stdin: %w", err)
	}
	stdout, err := command.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stt stdout: %w", err)
	}
	if err := command.Start(); err != nil {
		cancel()
		return fmt.Errorf("start stt command: %w", err)
	}

	r.stdin = stdin
	r.cancel = cancel
	r.running = true
	r.aborted = false

	go r.read(command, stdout, &stderr)
	return nil
}

func (r *execRecognizer) read(command *exec.Cmd, stdout io.Reader, stderr *bytes.Buffer) {
	r.emit(Event{Type: EventStart})

	var segments []Segment
	var decodeErr error
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var msg execLine
		if err := json.Unmarshal(line, &msg); err != nil {
			decodeErr = fmt.Errorf("decode stt output: %w", err)
			continue
		}
		if msg.Event == "speech" {
			r.emit(Event{Type: EventSpeechResult})
			continue
		}
		if msg.Text == "" {
			continue
		}
		segments = append(segments, Segment{Transcript: msg.Text, Confidence: msg.Confidence})
		r.emit(Event{
			Type:        EventResult,
			Results:     append([]Segment(nil), segments...),
			ResultIndex: len(segments) - 1,
		})
	}
	waitErr := command.Wait()

	r.mu.Lock()
	aborted := r.aborted
	r.running = false
	r.stdin = nil
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.mu.Unlock()

	switch {
	case aborted:
		r.emit(Event{Type: EventError, Err: ErrAborted})
	case waitErr != nil:
		r.emit(Event{Type: EventError, Err: fmt.Errorf("stt command failed: %w: %s", waitErr, stderr.String())})
	case decodeErr != nil:
		r.emit(Event{Type: EventError, Err: decodeErr})
	}
	r.emit(Event{Type: EventEnd})
}

// Stop closes the command's stdin; the command flushes its last phrase and exits.
func (r *execRecognizer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running || r.stdin == nil {
		return nil
	}
	err := r.stdin.Close()
	r.stdin = nil
	if err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("close stt stdin: %w", err)
	}
	return nil
}

func (r *execRecognizer) Abort() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return nil
	}
	r.aborted = true
	if r.cancel != nil {
		r.cancel()
	}
	return nil
}
