package engine

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type engineMetrics struct {
	recordings   metric.Int64Counter
	segments     metric.Int64Counter
	utterances   metric.Int64Counter
	voiceChanges metric.Int64Counter
}

func newEngineMetrics(log *slog.Logger) *engineMetrics {
	meter := otel.Meter("github.com/loqalabs/loqa-voice/engine")
	m := &engineMetrics{}
	var err error
	if m.recordings, err = meter.Int64Counter("loqa.voice.recordings", metric.WithDescription("Recording sessions started")); err != nil {
		log.Warn("failed to initialize metrics", slogError(err))
	}
	if m.segments, err = meter.Int64Counter("loqa.voice.segments", metric.WithDescription("Recognized segments appended to transcripts")); err != nil {
		log.Warn("failed to initialize metrics", slogError(err))
	}
	if m.utterances, err = meter.Int64Counter("loqa.voice.utterances", metric.WithDescription("Utterances spoken")); err != nil {
		log.Warn("failed to initialize metrics", slogError(err))
	}
	if m.voiceChanges, err = meter.Int64Counter("loqa.voice.voice_changes", metric.WithDescription("Voice selections applied")); err != nil {
		log.Warn("failed to initialize metrics", slogError(err))
	}
	return m
}

func (m *engineMetrics) recordingStarted(ctx context.Context, lang string) {
	if m.recordings != nil {
		m.recordings.Add(ctx, 1, metric.WithAttributes(attribute.String("lang", lang)))
	}
}

func (m *engineMetrics) segmentsRecorded(ctx context.Context, rec Recording) {
	if m.segments != nil && rec.Segments > 0 {
		m.segments.Add(ctx, int64(rec.Segments))
	}
}

func (m *engineMetrics) utteranceSpoken(ctx context.Context, lang, outcome string) {
	if m.utterances != nil {
		m.utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("lang", lang), attribute.String("outcome", outcome)))
	}
}

func (m *engineMetrics) voiceChanged(ctx context.Context, lang string) {
	if m.voiceChanges != nil {
		m.voiceChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("lang", lang)))
	}
}
