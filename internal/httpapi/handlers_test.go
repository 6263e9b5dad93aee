package httpapi

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/engine"
	"github.com/loqalabs/loqa-voice/internal/eventstore"
	"github.com/loqalabs/loqa-voice/internal/stt"
	"github.com/loqalabs/loqa-voice/internal/tts"
	"github.com/loqalabs/loqa-voice/internal/voice"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixture struct {
	router chi.Router
	engine *engine.Engine
	rec    *stt.MockRecognizer
	synth  *tts.MockSynth
	store  *eventstore.Store
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	rec := stt.NewMockRecognizer(nil, 0)
	synth := tts.NewMockSynth([]voice.Voice{
		{Name: "Samantha", Lang: "en-US", LocalService: true},
		{Name: "Google US English", Lang: "en-US", LocalService: false},
		{Name: "Amelie", Lang: "fr-CA", LocalService: true},
	}, 0, 5*time.Millisecond)
	eng := engine.New(engine.Options{Lang: "en-US", LocalService: true, VoicePollAttempts: 10}, rec, synth, newLogger())
	t.Cleanup(eng.Close)
	if err := eng.Init(context.Background()); err != nil {
		t.Fatalf("init engine: %v", err)
	}

	store, err := eventstore.Open(context.Background(), config.EventStoreConfig{
		Path:          filepath.Join(t.TempDir(), "voice.db"),
		RetentionMode: eventstore.RetentionSession,
	}, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return fixture{
		router: NewRouter(NewHandler(eng, store, newLogger())),
		engine: eng,
		rec:    rec,
		synth:  synth,
		store:  store,
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestGetStateAndVoices(t *testing.T) {
	f := newFixture(t)

	rr := do(t, f.router, http.MethodGet, "/v1/state", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	state := decode[engine.State](t, rr)
	if state.Voice != "Samantha" || !state.Ready || !state.CanRecognize || !state.CanSynthesize {
		t.Fatalf("unexpected state %+v", state)
	}

	rr = do(t, f.router, http.MethodGet, "/v1/voices", "")
	voices := decode[voicesResponse](t, rr)
	if len(voices.Voices) != 3 {
		t.Fatalf("expected 3 voices, got %d", len(voices.Voices))
	}
	if voices.Voices[len(voices.Voices)-1].Name != "Google US English" {
		t.Fatalf("expected remote voice last, got %+v", voices.Voices)
	}
	if len(voices.ByLang["en-US"]) != 2 || voices.ByLang["fr-CA"][0] != "Amelie" {
		t.Fatalf("unexpected grouping %+v", voices.ByLang)
	}
}

func TestUpdateSettings(t *testing.T) {
	f := newFixture(t)

	rr := do(t, f.router, http.MethodPut, "/v1/settings", `{"lang":"fr_CA","continuous":true,"speech":"bonjour"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rr.Code, rr.Body.String())
	}
	state := decode[engine.State](t, rr)
	if state.Lang != "fr-CA" || state.Voice != "Amelie" || !state.Continuous || state.Speech != "bonjour" {
		t.Fatalf("unexpected state %+v", state)
	}

	for _, body := range []string{`{"lang":`, `{"lang":"  "}`, `{"volume":3}`, ``} {
		if rr := do(t, f.router, http.MethodPut, "/v1/settings", body); rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %q, got %d", body, rr.Code)
		}
	}
}

func TestRecordingLifecycle(t *testing.T) {
	f := newFixture(t)

	if rr := do(t, f.router, http.MethodPost, "/v1/recording/start", ""); rr.Code != http.StatusAccepted {
		t.Fatalf("unexpected start status %d", rr.Code)
	}
	if rr := do(t, f.router, http.MethodPost, "/v1/recording/start", ""); rr.Code != http.StatusConflict {
		t.Fatalf("expected conflict on second start, got %d", rr.Code)
	}
	if !f.engine.IsRecording() || !f.rec.Running() {
		t.Fatal("expected refused start to leave the session running")
	}
	f.rec.EmitResult("hello", "world")

	rr := do(t, f.router, http.MethodPost, "/v1/recording/stop", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected stop status %d", rr.Code)
	}
	state := decode[engine.State](t, rr)
	if state.IsRecording || state.Recorded != "hello world" {
		t.Fatalf("unexpected state %+v", state)
	}

	rr = do(t, f.router, http.MethodPost, "/v1/recording/toggle", "")
	if !decode[engine.State](t, rr).IsRecording {
		t.Fatal("expected toggle to start recording")
	}
	rr = do(t, f.router, http.MethodPost, "/v1/recording/toggle", "")
	if decode[engine.State](t, rr).IsRecording {
		t.Fatal("expected toggle to stop recording")
	}
}

func TestSpeech(t *testing.T) {
	f := newFixture(t)

	rr := do(t, f.router, http.MethodPost, "/v1/speech", `{"text":"hello there"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rr.Code, rr.Body.String())
	}
	spoken := f.synth.Spoken()
	if len(spoken) != 1 || spoken[0].Text != "hello there" || spoken[0].Voice.Name != "Samantha" {
		t.Fatalf("unexpected utterances %+v", spoken)
	}

	if rr := do(t, f.router, http.MethodPost, "/v1/speech", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected replay of speech attribute, got %d", rr.Code)
	}
	if len(f.synth.Spoken()) != 2 {
		t.Fatalf("expected second utterance, got %d", len(f.synth.Spoken()))
	}

	if rr := do(t, f.router, http.MethodPost, "/v1/cancel", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("unexpected cancel status %d", rr.Code)
	}
}

func TestUnavailableCapabilities(t *testing.T) {
	eng := engine.New(engine.Options{Lang: "en-US"}, nil, nil, newLogger())
	router := NewRouter(NewHandler(eng, nil, newLogger()))

	for _, path := range []string{"/v1/recording/start", "/v1/recording/stop", "/v1/speech", "/v1/listen"} {
		if rr := do(t, router, http.MethodPost, path, ""); rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503 for %s, got %d", path, rr.Code)
		}
	}
	if rr := do(t, router, http.MethodPost, "/v1/cancel", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("expected cancel to succeed, got %d", rr.Code)
	}
	rr := do(t, router, http.MethodGet, "/v1/voices", "")
	if got := decode[voicesResponse](t, rr); got.Voices == nil || len(got.Voices) != 0 {
		t.Fatalf("expected empty voice list, got %+v", got)
	}
}

func TestSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.store.OpenSession(ctx, "recording", "en-US")
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	if err := f.store.AppendEvent(ctx, eventstore.Event{SessionID: id, Type: eventstore.TypeRecorded, Payload: []byte(`{"text":"good morning"}`)}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	rr := do(t, f.router, http.MethodGet, "/v1/sessions/"+id, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	sess := decode[sessionResponse](t, rr)
	if sess.Transcript != "good morning" || len(sess.Events) != 1 || sess.EndedAt != "" {
		t.Fatalf("unexpected session %+v", sess)
	}

	rr = do(t, f.router, http.MethodGet, "/v1/sessions", "")
	list := decode[map[string][]sessionResponse](t, rr)
	if len(list["sessions"]) != 1 {
		t.Fatalf("expected one session, got %+v", list)
	}

	if rr := do(t, f.router, http.MethodGet, "/v1/sessions/missing", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
