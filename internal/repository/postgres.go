package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snditnz/verbumcare-demo-sub003/internal/model"
)

// PostgresRecordingRepository is the durable recording store.
type PostgresRecordingRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRecordingRepository(pool *pgxpool.Pool) *PostgresRecordingRepository {
	return &PostgresRecordingRepository{pool: pool}
}

const recordingColumns = `id, owner_id, context_kind, patient_id, audio_ref, filename,
	duration_seconds, processing_status, processing_started_at, processing_completed_at,
	processing_error, processing_error_kind, transcript, transcript_language, created_at`

func (r *PostgresRecordingRepository) Create(ctx context.Context, rec *model.Recording) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO recordings (`+recordingColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, rec.ID, rec.OwnerID, rec.Context.Kind, rec.Context.PatientID, rec.AudioRef, rec.Filename,
		rec.DurationSeconds, rec.ProcessingStatus, rec.ProcessingStartedAt, rec.ProcessingCompletedAt,
		rec.ProcessingError, rec.ProcessingErrorKind, rec.Transcript, rec.TranscriptLanguage, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert recording: %w", err)
	}
	return nil
}

func scanRecording(row pgx.Row) (*model.Recording, error) {
	var rec model.Recording
	err := row.Scan(&rec.ID, &rec.OwnerID, &rec.Context.Kind, &rec.Context.PatientID,
		&rec.AudioRef, &rec.Filename, &rec.DurationSeconds, &rec.ProcessingStatus,
		&rec.ProcessingStartedAt, &rec.ProcessingCompletedAt, &rec.ProcessingError,
		&rec.ProcessingErrorKind, &rec.Transcript, &rec.TranscriptLanguage, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NotFound("recording not found")
		}
		return nil, fmt.Errorf("scan recording: %w", err)
	}
	return &rec, nil
}

func (r *PostgresRecordingRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Recording, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE id=$1`, id)
	return scanRecording(row)
}

func (r *PostgresRecordingRepository) BeginProcessing(ctx context.Context, id uuid.UUID, at time.Time) (*model.Recording, error) {
	// Single-statement CAS: concurrent submissions race on the WHERE clause
	// and exactly one wins.
	row := r.pool.QueryRow(ctx, `
		UPDATE recordings
		SET processing_status=$2, processing_started_at=$3, processing_completed_at=NULL,
			processing_error=NULL, processing_error_kind=NULL
		WHERE id=$1 AND processing_status=$4
		RETURNING `+recordingColumns, id, model.ProcessingInProgress, at, model.ProcessingPending)
	rec, err := scanRecording(row)
	if err == nil {
		return rec, nil
	}
	if f, ok := model.AsFault(err); !ok || f.Kind != model.FaultNotFound {
		return nil, err
	}
	// Lost the race or not pending; report why.
	cur, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	switch cur.ProcessingStatus {
	case model.ProcessingInProgress:
		return nil, model.Conflict("recording is already being processed")
	case model.ProcessingCompleted:
		return nil, model.AlreadyProcessed("recording already processed; use re-analysis on its review item")
	default:
		return nil, model.Conflict("previous attempt failed; reset the recording to pending before resubmitting")
	}
}

func (r *PostgresRecordingRepository) SaveTranscript(ctx context.Context, id uuid.UUID, transcript, language string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE recordings SET transcript=$2, transcript_language=$3 WHERE id=$1
	`, id, transcript, language)
	if err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NotFound("recording not found")
	}
	return nil
}

func (r *PostgresRecordingRepository) CompleteProcessing(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.finishProcessing(ctx, id, model.ProcessingCompleted, nil, nil, at)
}

func (r *PostgresRecordingRepository) FailProcessing(ctx context.Context, id uuid.UUID, kind model.FaultKind, message string, at time.Time) error {
	k := string(kind)
	return r.finishProcessing(ctx, id, model.ProcessingFailed, &k, &message, at)
}

func (r *PostgresRecordingRepository) finishProcessing(ctx context.Context, id uuid.UUID, status model.ProcessingStatus, kind, message *string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE recordings
		SET processing_status=$2, processing_completed_at=$3, processing_error=$4, processing_error_kind=$5
		WHERE id=$1 AND processing_status=$6
	`, id, status, at, message, kind, model.ProcessingInProgress)
	if err != nil {
		return fmt.Errorf("finish processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return model.Conflict("recording is not processing")
	}
	return nil
}

func (r *PostgresRecordingRepository) ResetToPending(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE recordings
		SET processing_status=$2, processing_started_at=NULL, processing_completed_at=NULL,
			processing_error=NULL, processing_error_kind=NULL
		WHERE id=$1 AND processing_status <> $3
	`, id, model.ProcessingPending, model.ProcessingCompleted)
	if err != nil {
		return fmt.Errorf("reset recording: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return model.Conflict("completed recordings cannot be reset")
	}
	return nil
}

func (r *PostgresRecordingRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM recordings WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete recording: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NotFound("recording not found")
	}
	return nil
}

// PostgresReviewRepository is the durable review-item store.
type PostgresReviewRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresReviewRepository(pool *pgxpool.Pool) *PostgresReviewRepository {
	return &PostgresReviewRepository{pool: pool}
}

const reviewColumns = `id, recording_id, owner_id, context_kind, patient_id, transcript,
	transcript_language, categories, overall_confidence, status,
	reanalysis_count, model_version, created_at, confirmed_at, discarded_at`

func (r *PostgresReviewRepository) Create(ctx context.Context, item *model.ReviewItem) error {
	cats, err := json.Marshal(item.Categories)
	if err != nil {
		return fmt.Errorf("marshal categories: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO review_items (`+reviewColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, item.ID, item.RecordingID, item.OwnerID, item.Context.Kind, item.Context.PatientID,
		item.Transcript, item.TranscriptLanguage, cats, item.OverallConfidence, item.Status,
		item.ReanalysisCount, item.ModelVersion, item.CreatedAt, item.ConfirmedAt, item.DiscardedAt)
	if err != nil {
		return fmt.Errorf("insert review item: %w", err)
	}
	return nil
}

func scanReviewItem(row pgx.Row) (*model.ReviewItem, error) {
	var (
		item model.ReviewItem
		cats []byte
	)
	err := row.Scan(&item.ID, &item.RecordingID, &item.OwnerID, &item.Context.Kind,
		&item.Context.PatientID, &item.Transcript, &item.TranscriptLanguage, &cats,
		&item.OverallConfidence, &item.Status, &item.ReanalysisCount, &item.ModelVersion,
		&item.CreatedAt, &item.ConfirmedAt, &item.DiscardedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NotFound("review item not found")
		}
		return nil, fmt.Errorf("scan review item: %w", err)
	}
	if err := json.Unmarshal(cats, &item.Categories); err != nil {
		return nil, fmt.Errorf("unmarshal categories: %w", err)
	}
	return &item, nil
}

func (r *PostgresReviewRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ReviewItem, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+reviewColumns+` FROM review_items WHERE id=$1`, id)
	return scanReviewItem(row)
}

func (r *PostgresReviewRepository) GetByRecordingID(ctx context.Context, recordingID uuid.UUID) (*model.ReviewItem, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+reviewColumns+` FROM review_items WHERE recording_id=$1`, recordingID)
	return scanReviewItem(row)
}

func (r *PostgresReviewRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID, status *model.ReviewStatus, limit, offset int) ([]model.ReviewItem, error) {
	var statusArg *string
	if status != nil {
		s := string(*status)
		statusArg = &s
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+reviewColumns+` FROM review_items
		WHERE owner_id=$1 AND ($2::text IS NULL OR status=$2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, ownerID, statusArg, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list review items: %w", err)
	}
	defer rows.Close()

	items := make([]model.ReviewItem, 0)
	for rows.Next() {
		item, err := scanReviewItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list review items: %w", err)
	}
	return items, nil
}

func (r *PostgresReviewRepository) UpdateExtraction(ctx context.Context, item *model.ReviewItem) error {
	cats, err := json.Marshal(item.Categories)
	if err != nil {
		return fmt.Errorf("marshal categories: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE review_items
		SET transcript=$2, categories=$3, overall_confidence=$4,
			model_version=$5, reanalysis_count=$6, status=$7
		WHERE id=$1 AND status IN ($8, $9)
	`, item.ID, item.Transcript, cats, item.OverallConfidence,
		item.ModelVersion, item.ReanalysisCount, item.Status,
		model.ReviewPending, model.ReviewInReview)
	if err != nil {
		return fmt.Errorf("update extraction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		cur, getErr := r.GetByID(ctx, item.ID)
		if getErr != nil {
			return getErr
		}
		return model.Conflict("review item is " + string(cur.Status) + " and can no longer change")
	}
	return nil
}

func (r *PostgresReviewRepository) MarkConfirmed(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE review_items SET status=$2, confirmed_at=$3
		WHERE id=$1 AND status IN ($4, $5)
	`, id, model.ReviewConfirmed, at, model.ReviewPending, model.ReviewInReview)
	if err != nil {
		return fmt.Errorf("confirm review item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		cur, getErr := r.GetByID(ctx, id)
		if getErr != nil {
			return getErr
		}
		return model.Conflict("review item is already " + string(cur.Status))
	}
	return nil
}

func (r *PostgresReviewRepository) RevertConfirmation(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE review_items SET status=$2, confirmed_at=NULL
		WHERE id=$1 AND status=$3
	`, id, model.ReviewInReview, model.ReviewConfirmed)
	if err != nil {
		return fmt.Errorf("revert confirmation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		cur, getErr := r.GetByID(ctx, id)
		if getErr != nil {
			return getErr
		}
		return model.Conflict("review item is " + string(cur.Status) + ", not confirmed")
	}
	return nil
}

func (r *PostgresReviewRepository) MarkDiscarded(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE review_items SET status=$2, discarded_at=$3
		WHERE id=$1 AND status IN ($4, $5)
	`, id, model.ReviewDiscarded, at, model.ReviewPending, model.ReviewInReview)
	if err != nil {
		return fmt.Errorf("discard review item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		cur, getErr := r.GetByID(ctx, id)
		if getErr != nil {
			return getErr
		}
		if cur.Status == model.ReviewDiscarded {
			return nil
		}
		return model.Conflict("confirmed review items cannot be discarded")
	}
	return nil
}
