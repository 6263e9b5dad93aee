package httpapi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/loqalabs/loqa-voice/internal/engine"
	"github.com/loqalabs/loqa-voice/internal/eventstore"
	"github.com/loqalabs/loqa-voice/internal/stt"
	"github.com/loqalabs/loqa-voice/internal/tts"
	"github.com/loqalabs/loqa-voice/internal/voice"
)

const maxBodyBytes = 64 << 10

type voicesResponse struct {
	Voices []voice.Info        `json:"voices"`
	ByLang map[string][]string `json:"by_lang"`
}

type settingsRequest struct {
	Lang         *string `json:"lang"`
	Voice        *string `json:"voice"`
	Speech       *string `json:"speech"`
	Continuous   *bool   `json:"continuous"`
	LocalService *bool   `json:"local_service"`
}

type speechRequest struct {
	Text *string `json:"text"`
}

type sessionResponse struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Lang       string          `json:"lang,omitempty"`
	StartedAt  string          `json:"started_at"`
	EndedAt    string          `json:"ended_at,omitempty"`
	Transcript string          `json:"transcript,omitempty"`
	Events     []eventResponse `json:"events,omitempty"`
}

type eventResponse struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt string          `json:"created_at"`
}

// GET /v1/state
func (h *Handler) GetState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.State())
}

// GET /v1/voices
func (h *Handler) ListVoices(w http.ResponseWriter, _ *http.Request) {
	voices := h.engine.Voices()
	if voices == nil {
		voices = []voice.Info{}
	}
	writeJSON(w, http.StatusOK, voicesResponse{Voices: voices, ByLang: h.engine.VoicesByLang()})
}

// PUT /v1/settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Lang != nil && strings.TrimSpace(*req.Lang) == "" {
		writeError(w, http.StatusBadRequest, "lang must not be empty")
		return
	}

	if req.Continuous != nil {
		h.engine.SetContinuous(*req.Continuous)
	}
	if req.LocalService != nil {
		h.engine.SetLocalService(*req.LocalService)
	}
	if req.Speech != nil {
		h.engine.SetSpeech(*req.Speech)
	}
	if req.Lang != nil {
		h.engine.SetLang(*req.Lang)
	}
	if req.Voice != nil {
		h.engine.SetVoice(*req.Voice)
	}
	writeJSON(w, http.StatusOK, h.engine.State())
}

// POST /v1/recording/start
func (h *Handler) StartRecording(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.BeginRecording(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.engine.State())
}

// POST /v1/recording/stop
func (h *Handler) StopRecording(w http.ResponseWriter, _ *http.Request) {
	if err := h.engine.StopRecording(); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.engine.State())
}

// POST /v1/recording/toggle
func (h *Handler) ToggleRecording(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.StartRecording(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.engine.State())
}

// POST /v1/listen
func (h *Handler) Listen(w http.ResponseWriter, r *http.Request) {
	transcript, err := h.engine.Listen(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"transcript": transcript})
}

// POST /v1/speech speaks the given text, or the current speech attribute
// when the body is empty. It returns once playback ends.
func (h *Handler) Speak(w http.ResponseWriter, r *http.Request) {
	var req speechRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var err error
	if req.Text != nil {
		err = h.engine.Play(r.Context(), *req.Text)
	} else {
		err = h.engine.PlaySpeech(r.Context())
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "spoken", "voice": h.engine.Voice()})
}

// POST /v1/cancel
func (h *Handler) Cancel(w http.ResponseWriter, _ *http.Request) {
	h.engine.Cancel()
	w.WriteHeader(http.StatusNoContent)
}

// GET /v1/sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.ListSessions(r.Context(), 50)
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, toSessionResponse(sess))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// GET /v1/sessions/{session_id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	sess, err := h.store.Session(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	resp := toSessionResponse(sess)
	if resp.Transcript, err = h.store.Transcript(r.Context(), id); err != nil {
		h.fail(w, err)
		return
	}
	events, err := h.store.ListSessionEvents(r.Context(), id, 500)
	if err != nil {
		h.fail(w, err)
		return
	}
	for _, evt := range events {
		resp.Events = append(resp.Events, eventResponse{
			Type:      evt.Type,
			Payload:   json.RawMessage(evt.Payload),
			CreatedAt: evt.CreatedAt.Format(timeLayout),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func toSessionResponse(sess eventstore.Session) sessionResponse {
	resp := sessionResponse{
		ID:        sess.ID,
		Kind:      sess.Kind,
		Lang:      sess.Lang,
		StartedAt: sess.StartedAt.Format(timeLayout),
	}
	if !sess.Open() {
		resp.EndedAt = sess.EndedAt.Format(timeLayout)
	}
	return resp
}

// fail maps engine errors onto status codes.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrRecognitionUnavailable),
		errors.Is(err, engine.ErrSynthesisUnavailable),
		errors.Is(err, engine.ErrVoicesNotLoaded):
		status = http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrAlreadyRecording),
		errors.Is(err, stt.ErrAlreadyStarted),
		errors.Is(err, tts.ErrCancelled):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrNoSpeech):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, eventstore.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusRequestTimeout
	}
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", slog.String("error", err.Error()))
	}
	writeError(w, status, err.Error())
}

var errEmptyBody = errors.New("request body is empty")

func decodeBody(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return errEmptyBody
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid json: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
