package stt

import (
	"context"
	"errors"
	"io"
)

// ErrEngineUnavailable marks timeouts and connection failures so the
// orchestrator can classify the job as retryable rather than bad input.
var ErrEngineUnavailable = errors.New("transcription engine unavailable")

// Result is the single, explicit return shape for a transcription. Text and
// Language always travel together; an empty Text never comes back as a
// success (the engine rejects it), so downstream extraction can rely on a
// non-empty transcript.
type Result struct {
	Text            string
	Language        string
	DurationSeconds float64
}

// Engine transcribes one audio stream. Implementations do not retry; the
// orchestrator owns retry policy. A hard timeout is enforced internally and
// surfaced as ErrEngineUnavailable.
type Engine interface {
	// Transcribe reads the audio and returns the transcript. language is a
	// hint ("ja", "en", ...); pass "" to let the engine detect it.
	Transcribe(ctx context.Context, audio io.Reader, filename, language string) (*Result, error)

	// Ping checks that the engine is reachable.
	Ping(ctx context.Context) error

	// Name identifies the engine implementation.
	Name() string
}
