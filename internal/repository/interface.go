// Package repository persists recordings and review items. Both stores come
// in a Postgres flavor and an in-memory flavor; the server falls back to
// memory when DATABASE_URL is unset so a laptop demo needs no database.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/snditnz/verbumcare-demo-sub003/internal/model"
)

// RecordingRepository is mutated only by the upload handler (Create/Delete)
// and the orchestrator (everything else).
type RecordingRepository interface {
	Create(ctx context.Context, rec *model.Recording) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Recording, error)

	// BeginProcessing is the compare-and-set acceptance gate: it moves
	// pending→processing atomically and returns the recording. It fails with
	// FaultNotFound for unknown ids, FaultConflict while another job holds
	// the recording (or after a failure that has not been reset), and
	// FaultAlreadyProcessed once completed.
	BeginProcessing(ctx context.Context, id uuid.UUID, at time.Time) (*model.Recording, error)

	// SaveTranscript persists the transcript as soon as transcription
	// finishes, so a later failure never loses it.
	SaveTranscript(ctx context.Context, id uuid.UUID, transcript, language string) error

	// CompleteProcessing moves processing→completed. It fails with
	// FaultConflict if the recording is no longer processing (abandoned),
	// which is how a late worker result gets dropped.
	CompleteProcessing(ctx context.Context, id uuid.UUID, at time.Time) error

	// FailProcessing moves processing→failed and records the classified
	// error so GetStatus can report whether a resubmission makes sense.
	FailProcessing(ctx context.Context, id uuid.UUID, kind model.FaultKind, message string, at time.Time) error

	// ResetToPending reverts failed→pending so a caller may resubmit. Also
	// used to roll back an acceptance whose enqueue failed.
	ResetToPending(ctx context.Context, id uuid.UUID) error

	Delete(ctx context.Context, id uuid.UUID) error
}

// ReviewRepository holds review items. Status moves are guarded by
// status-based optimistic checks, not row locks.
type ReviewRepository interface {
	Create(ctx context.Context, item *model.ReviewItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.ReviewItem, error)

	// GetByRecordingID resolves the 1:1 back-reference from a completed
	// recording to its review item.
	GetByRecordingID(ctx context.Context, recordingID uuid.UUID) (*model.ReviewItem, error)

	// ListByOwner returns items newest-first. status narrows the result when
	// non-nil.
	ListByOwner(ctx context.Context, ownerID uuid.UUID, status *model.ReviewStatus, limit, offset int) ([]model.ReviewItem, error)

	// UpdateExtraction replaces transcript/extraction fields after a
	// re-analysis. Guarded: only pending/in_review items accept it.
	UpdateExtraction(ctx context.Context, item *model.ReviewItem) error

	// MarkConfirmed moves pending/in_review→confirmed; FaultConflict
	// otherwise.
	MarkConfirmed(ctx context.Context, id uuid.UUID, at time.Time) error

	// RevertConfirmation moves confirmed→in_review and clears the
	// confirmation timestamp, so a confirm whose downstream write failed can
	// be retried. FaultConflict if the item is not confirmed.
	RevertConfirmation(ctx context.Context, id uuid.UUID) error

	// MarkDiscarded moves to discarded. Discarding an already-discarded item
	// is a no-op success; a confirmed item is FaultConflict.
	MarkDiscarded(ctx context.Context, id uuid.UUID, at time.Time) error
}
