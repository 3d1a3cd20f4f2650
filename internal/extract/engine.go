package extract

import (
	"context"
	"errors"

	"github.com/snditnz/verbumcare-demo-sub003/internal/model"
)

// ErrEngineUnavailable marks timeouts and connection failures against the
// language-model endpoint.
var ErrEngineUnavailable = errors.New("extraction engine unavailable")

// Context carries what the engine may rely on besides the transcript itself.
type Context struct {
	Recording model.RecordingContext
	Language  string
}

// Extraction is the structured output of one extraction run.
type Extraction struct {
	Categories        []model.Category
	OverallConfidence float64
	ModelVersion      string
}

// Engine turns a transcript into categorized clinical data. Implementations
// do not retry; the orchestrator owns retry policy.
type Engine interface {
	Extract(ctx context.Context, transcript string, ec Context) (*Extraction, error)
	Name() string
}
