// Package control lets bus clients drive the voice engine with
// request/reply commands.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/loqalabs/loqa-voice/internal/bus"
	"github.com/loqalabs/loqa-voice/internal/engine"
	"github.com/loqalabs/loqa-voice/internal/protocol"
)

const commandTimeout = 2 * time.Minute

// RequestHandler is satisfied by *bus.Client.
type RequestHandler interface {
	HandleRequests(subject string, fn func(bus.Request)) (func() error, error)
}

type Service struct {
	prefix      string
	engine      *engine.Engine
	bus         RequestHandler
	unsubscribe func() error
	ctx         context.Context
	cancel      context.CancelFunc
	mu          sync.Mutex
	closed      bool
	wg          sync.WaitGroup
	logger      *slog.Logger
}

func NewService(parent context.Context, prefix string, eng *engine.Engine, busClient RequestHandler, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		prefix: prefix,
		engine: eng,
		bus:    busClient,
		ctx:    ctx,
		cancel: cancel,
		logger: log.With(slog.String("component", "control")),
	}
}

func (s *Service) Start() error {
	subject := protocol.CommandSubject(s.prefix, "*")
	unsubscribe, err := s.bus.HandleRequests(subject, s.handleRequest)
	if err != nil {
		return err
	}
	s.unsubscribe = unsubscribe
	s.logger.Info("accepting commands", slog.String("subject", subject))
	return nil
}

// Close stops accepting commands and cancels the ones in flight.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	if s.unsubscribe != nil {
		if err := s.unsubscribe(); err != nil {
			s.logger.Warn("failed to drain command subscription", slogError(err))
		}
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return s.unsubscribe != nil }

func (s *Service) handleRequest(req bus.Request) {
	name := protocol.CommandName(req.Subject)
	var cmd protocol.Command
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &cmd); err != nil {
			s.logger.Warn("failed to decode command", slog.String("command", name), slogError(err))
			s.reply(req, protocol.CommandReply{Error: "invalid command body: " + err.Error()})
			return
		}
	}

	switch name {
	case protocol.CommandSpeak, protocol.CommandListen:
		// Blocking commands run off the subscription goroutine so cancel
		// can still be delivered while they wait.
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			s.reply(req, protocol.CommandReply{Error: "shutting down"})
			return
		}
		s.wg.Add(1)
		s.mu.Unlock()
		go func() {
			defer s.wg.Done()
			ctx, cancel := context.WithTimeout(s.ctx, commandTimeout)
			defer cancel()
			s.reply(req, s.run(ctx, name, cmd))
		}()
	default:
		s.reply(req, s.run(s.ctx, name, cmd))
	}
}

func (s *Service) run(ctx context.Context, name string, cmd protocol.Command) protocol.CommandReply {
	var (
		err        error
		transcript string
	)
	switch name {
	case protocol.CommandStart:
		err = s.engine.BeginRecording(ctx)
	case protocol.CommandStop:
		err = s.engine.StopRecording()
	case protocol.CommandToggle:
		err = s.engine.StartRecording(ctx)
	case protocol.CommandListen:
		transcript, err = s.engine.Listen(ctx)
	case protocol.CommandSpeak:
		if cmd.Text != nil {
			err = s.engine.Play(ctx, *cmd.Text)
		} else {
			err = s.engine.PlaySpeech(ctx)
		}
	case protocol.CommandCancel:
		s.engine.Cancel()
	case protocol.CommandSettings:
		err = s.applySettings(cmd)
	case protocol.CommandState:
	default:
		err = fmt.Errorf("unknown command %q", name)
	}

	reply := protocol.CommandReply{OK: err == nil, Transcript: transcript, State: s.engine.State()}
	if err != nil {
		reply.Error = err.Error()
		s.logger.Debug("command failed", slog.String("command", name), slogError(err))
	}
	return reply
}

func (s *Service) applySettings(cmd protocol.Command) error {
	if cmd.Lang != nil && *cmd.Lang == "" {
		return errors.New("lang must not be empty")
	}
	if cmd.Continuous != nil {
		s.engine.SetContinuous(*cmd.Continuous)
	}
	if cmd.LocalService != nil {
		s.engine.SetLocalService(*cmd.LocalService)
	}
	if cmd.Speech != nil {
		s.engine.SetSpeech(*cmd.Speech)
	}
	if cmd.Lang != nil {
		s.engine.SetLang(*cmd.Lang)
	}
	if cmd.Voice != nil {
		s.engine.SetVoice(*cmd.Voice)
	}
	return nil
}

func (s *Service) reply(req bus.Request, reply protocol.CommandReply) {
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Warn("failed to marshal command reply", slogError(err))
		return
	}
	if err := req.Respond(data); err != nil {
		s.logger.Warn("failed to send command reply", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
