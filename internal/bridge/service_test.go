package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/goccy/go-json"

	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/engine"
	"github.com/loqalabs/loqa-voice/internal/eventstore"
	"github.com/loqalabs/loqa-voice/internal/protocol"
	"github.com/loqalabs/loqa-voice/internal/stt"
	"github.com/loqalabs/loqa-voice/internal/tts"
	"github.com/loqalabs/loqa-voice/internal/voice"
)

type published struct {
	subject string
	event   protocol.EngineEvent
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	var evt protocol.EngineEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{subject: subject, event: evt})
	return f.err
}

func (f *fakePublisher) subjects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.msgs))
	for _, m := range f.msgs {
		out = append(out, m.subject)
	}
	return out
}

func (f *fakePublisher) find(subject string) (protocol.EngineEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.msgs {
		if m.subject == subject {
			return m.event, true
		}
	}
	return protocol.EngineEvent{}, false
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newFixture(t *testing.T) (*engine.Engine, *stt.MockRecognizer, *eventstore.Store) {
	t.Helper()
	rec := stt.NewMockRecognizer(nil, 0)
	synth := tts.NewMockSynth([]voice.Voice{
		{Name: "Samantha", Lang: "en-US", LocalService: true},
		{Name: "Amelie", Lang: "fr-CA", LocalService: true},
	}, 0, 0)
	eng := engine.New(engine.Options{Lang: "en-US", LocalService: true, VoicePollAttempts: 10}, rec, synth, newLogger())
	t.Cleanup(eng.Close)

	store, err := eventstore.Open(context.Background(), config.EventStoreConfig{
		Path:          filepath.Join(t.TempDir(), "voice.db"),
		RetentionMode: eventstore.RetentionSession,
	}, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return eng, rec, store
}

func TestBridgePublishesAndJournalsRecording(t *testing.T) {
	ctx := context.Background()
	eng, rec, store := newFixture(t)
	pub := &fakePublisher{}
	svc := New(Options{Runtime: "kitchen", SubjectPrefix: "voice.engine"}, eng, pub, store, newLogger())
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start bridge: %v", err)
	}
	defer svc.Stop()

	if err := eng.Init(ctx); err != nil {
		t.Fatalf("init engine: %v", err)
	}
	changed, ok := pub.find("voice.engine.voice-changed")
	if !ok || changed.Voice != "Samantha" || changed.Runtime != "kitchen" {
		t.Fatalf("expected voice-changed for Samantha, got %+v", changed)
	}

	if err := eng.StartRecording(ctx); err != nil {
		t.Fatalf("start recording: %v", err)
	}
	sessionID := svc.Session()
	if sessionID == "" {
		t.Fatal("expected recording session to be open")
	}
	rec.EmitResult("turn on")
	rec.EmitResult("the lights")
	rec.EmitEnd()

	if svc.Session() != "" {
		t.Fatal("expected session closed after end")
	}
	sess, err := store.Session(ctx, sessionID)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if sess.Kind != KindRecording || sess.Open() {
		t.Fatalf("unexpected session %+v", sess)
	}

	text, err := store.Transcript(ctx, sessionID)
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	if text != "turn on the lights" || text != eng.Recorded() {
		t.Fatalf("journal transcript %q does not match engine %q", text, eng.Recorded())
	}

	events, err := store.ListSessionEvents(ctx, sessionID, 20)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	var types []string
	for _, evt := range events {
		types = append(types, evt.Type)
	}
	want := []string{"start", "recorded", "recorded", "end"}
	if len(types) != len(want) {
		t.Fatalf("expected journal %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("expected journal %v, got %v", want, types)
		}
	}

	recorded, ok := pub.find("voice.engine.recorded")
	if !ok || recorded.Text != "turn on" || recorded.SessionID != sessionID {
		t.Fatalf("unexpected recorded message %+v", recorded)
	}
	result, ok := pub.find("voice.engine.result")
	if !ok || len(result.Segments) == 0 {
		t.Fatalf("expected result pass-through with segments, got %+v", result)
	}
	if _, ok := pub.find("voice.engine.end"); !ok {
		t.Fatalf("expected end published, got %v", pub.subjects())
	}
}

func TestBridgeRuntimeSessionForErrors(t *testing.T) {
	ctx := context.Background()
	eng, rec, store := newFixture(t)
	svc := New(Options{}, eng, nil, store, newLogger())
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start bridge: %v", err)
	}

	rec.EmitError(errors.New("microphone busy"))
	svc.Stop()

	sessions, err := store.ListSessions(ctx, 10)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Kind != KindRuntime || sessions[0].Open() {
		t.Fatalf("expected one closed runtime session, got %+v", sessions)
	}
	events, _ := store.ListSessionEvents(ctx, sessions[0].ID, 10)
	if len(events) != 1 || events[0].Type != "error" {
		t.Fatalf("expected journaled error, got %+v", events)
	}
	var payload protocol.EngineEvent
	if err := json.Unmarshal(events[0].Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Error != "microphone busy" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestBridgeFailuresDoNotReachEngine(t *testing.T) {
	ctx := context.Background()
	eng, rec, _ := newFixture(t)
	pub := &fakePublisher{err: errors.New("bus down")}
	svc := New(Options{}, eng, pub, nil, newLogger())
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start bridge: %v", err)
	}
	defer svc.Stop()
	if err := svc.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	if err := eng.StartRecording(ctx); err != nil {
		t.Fatalf("start recording: %v", err)
	}
	rec.EmitResult("hello")
	if eng.Recorded() != "hello" {
		t.Fatalf("unexpected transcript %q", eng.Recorded())
	}
	if _, ok := pub.find(protocol.Subject("", "recorded")); !ok {
		t.Fatalf("expected publish attempt under default prefix, got %v", pub.subjects())
	}
}
