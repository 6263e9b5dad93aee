// Package bridge forwards voice engine notifications to the message bus and
// journals them into the event store.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/loqalabs/loqa-voice/internal/engine"
	"github.com/loqalabs/loqa-voice/internal/eventstore"
	"github.com/loqalabs/loqa-voice/internal/protocol"
	"github.com/loqalabs/loqa-voice/internal/stt"
	"github.com/loqalabs/loqa-voice/internal/voice"
)

const (
	KindRecording = "recording"
	KindRuntime   = "runtime"

	journalTimeout = 2 * time.Second
)

// Publisher is satisfied by *bus.Client.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Journal is satisfied by *eventstore.Store.
type Journal interface {
	OpenSession(ctx context.Context, kind, lang string) (string, error)
	CloseSession(ctx context.Context, sessionID string) error
	AppendEvent(ctx context.Context, evt eventstore.Event) error
}

type Options struct {
	Runtime       string
	SubjectPrefix string
}

type Service struct {
	opts    Options
	engine  *engine.Engine
	pub     Publisher
	journal Journal
	log     *slog.Logger

	mu             sync.Mutex
	ctx            context.Context
	session        string
	runtimeSession string
	unsubscribe    func()
}

// New returns a bridge; pub and journal may each be nil.
func New(opts Options, eng *engine.Engine, pub Publisher, journal Journal, log *slog.Logger) *Service {
	if opts.SubjectPrefix == "" {
		opts.SubjectPrefix = protocol.DefaultSubjectPrefix
	}
	return &Service{
		opts:    opts,
		engine:  eng,
		pub:     pub,
		journal: journal,
		log:     log.With(slog.String("component", "bridge")),
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribe != nil {
		return errors.New("bridge already started")
	}
	s.ctx = context.WithoutCancel(ctx)
	s.unsubscribe = s.engine.Subscribe(s.handle)
	s.log.Info("bridge started", slog.String("subject_prefix", s.opts.SubjectPrefix))
	return nil
}

// Stop detaches from the engine and closes any open session.
func (s *Service) Stop() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	sessions := []string{s.session, s.runtimeSession}
	s.session, s.runtimeSession = "", ""
	ctx := s.ctx
	s.mu.Unlock()

	if unsubscribe == nil {
		return
	}
	unsubscribe()
	for _, id := range sessions {
		if id != "" {
			s.closeSession(ctx, id)
		}
	}
}

// Session returns the recording session currently open, if any.
func (s *Service) Session() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *Service) handle(evt engine.Event) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		return
	}

	msg := s.message(evt)
	sessionID := s.sessionFor(ctx, evt.Type)
	msg.SessionID = sessionID

	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Warn("encode engine event failed", slog.String("event", msg.Event), slog.String("error", err.Error()))
		return
	}

	if s.pub != nil {
		subject := protocol.Subject(s.opts.SubjectPrefix, msg.Event)
		if err := s.pub.Publish(subject, data); err != nil {
			s.log.Warn("publish engine event failed", slog.String("subject", subject), slog.String("error", err.Error()))
		}
	}

	if s.journal != nil && sessionID != "" && journaled(evt.Type) {
		jctx, cancel := context.WithTimeout(ctx, journalTimeout)
		err := s.journal.AppendEvent(jctx, eventstore.Event{
			SessionID: sessionID,
			Type:      msg.Event,
			Payload:   data,
			CreatedAt: evt.Time,
		})
		cancel()
		if err != nil {
			s.log.Warn("journal engine event failed", slog.String("event", msg.Event), slog.String("error", err.Error()))
		}
	}

	if evt.Type == engine.EventEnd {
		s.mu.Lock()
		id := s.session
		if id == sessionID {
			s.session = ""
		}
		s.mu.Unlock()
		if id != "" && id == sessionID {
			s.closeSession(ctx, id)
		}
	}
}

// journaled filters out provider chatter that carries no state.
func journaled(typ engine.EventType) bool {
	switch typ {
	case engine.EventResult, engine.EventSpeechResult:
		return false
	default:
		return true
	}
}

// sessionFor picks the session an event belongs to, opening one when a
// recording starts or when a runtime event arrives outside any recording.
func (s *Service) sessionFor(ctx context.Context, typ engine.EventType) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch typ {
	case engine.EventStart:
		if s.session != "" {
			s.closeSession(ctx, s.session)
		}
		s.session = s.openSessionLocked(ctx, KindRecording)
		return s.session
	case engine.EventVoiceChanged, engine.EventError:
		if s.session != "" {
			return s.session
		}
		if s.runtimeSession == "" {
			s.runtimeSession = s.openSessionLocked(ctx, KindRuntime)
		}
		return s.runtimeSession
	default:
		return s.session
	}
}

func (s *Service) openSessionLocked(ctx context.Context, kind string) string {
	if s.journal == nil {
		return ""
	}
	jctx, cancel := context.WithTimeout(ctx, journalTimeout)
	defer cancel()
	id, err := s.journal.OpenSession(jctx, kind, s.engine.Lang())
	if err != nil {
		s.log.Warn("open session failed", slog.String("kind", kind), slog.String("error", err.Error()))
		return ""
	}
	return id
}

func (s *Service) closeSession(ctx context.Context, id string) {
	if s.journal == nil {
		return
	}
	jctx, cancel := context.WithTimeout(ctx, journalTimeout)
	defer cancel()
	if err := s.journal.CloseSession(jctx, id); err != nil {
		s.log.Warn("close session failed", slog.String("session_id", id), slog.String("error", err.Error()))
	}
}

func (s *Service) message(evt engine.Event) protocol.EngineEvent {
	msg := protocol.EngineEvent{
		Event:     string(evt.Type),
		Runtime:   s.opts.Runtime,
		Lang:      s.engine.Lang(),
		Voice:     s.engine.Voice(),
		Recording: s.engine.IsRecording(),
		Timestamp: evt.Time,
	}
	switch detail := evt.Detail.(type) {
	case engine.Recording:
		msg.Text = detail.Appended
		msg.Recorded = detail.Text
	case voice.Voice:
		msg.Voice = detail.Name
		msg.Lang = detail.Lang
	case stt.Event:
		for _, seg := range detail.Results {
			msg.Segments = append(msg.Segments, protocol.Segment{Transcript: seg.Transcript, Confidence: seg.Confidence})
		}
		if detail.Err != nil {
			msg.Error = detail.Err.Error()
		}
	}
	return msg
}
