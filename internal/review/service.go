// Package review manages the human side of the pipeline: listing pending
// items, re-analysis with edited transcripts, and the validated
// confirm/discard decisions.
package review

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/snditnz/verbumcare-demo-sub003/internal/clinical"
	"github.com/snditnz/verbumcare-demo-sub003/internal/extract"
	"github.com/snditnz/verbumcare-demo-sub003/internal/model"
	"github.com/snditnz/verbumcare-demo-sub003/internal/pipeline"
	"github.com/snditnz/verbumcare-demo-sub003/internal/repository"
	"github.com/snditnz/verbumcare-demo-sub003/internal/validate"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Service wires the review queue to the extraction engine, the validator and
// the downstream clinical record writer.
type Service struct {
	reviews   repository.ReviewRepository
	extractor extract.Engine
	validator *validate.Validator
	writer    clinical.Writer
	gate      *pipeline.Gate
	log       *logrus.Entry
}

func NewService(
	reviews repository.ReviewRepository,
	extractor extract.Engine,
	validator *validate.Validator,
	writer clinical.Writer,
	gate *pipeline.Gate,
	log *logrus.Logger,
) *Service {
	return &Service{
		reviews:   reviews,
		extractor: extractor,
		validator: validator,
		writer:    writer,
		gate:      gate,
		log:       log.WithField("component", "review"),
	}
}

// List returns a page of the owner's review items, newest first.
func (s *Service) List(ctx context.Context, ownerID uuid.UUID, status *model.ReviewStatus, limit, offset int) ([]model.ReviewItem, error) {
	if limit < 1 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.reviews.ListByOwner(ctx, ownerID, status, limit, offset)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.ReviewItem, error) {
	return s.reviews.GetByID(ctx, id)
}

// Reanalyze re-runs extraction (never transcription) on an edited
// transcript. Identity fields are untouched; only the extraction payload,
// the transcript and the reanalysis counter change.
func (s *Service) Reanalyze(ctx context.Context, id uuid.UUID, editedTranscript string) (*model.ReviewItem, error) {
	if editedTranscript == "" {
		return nil, model.InvalidInput("edited transcript must not be empty")
	}
	item, err := s.reviews.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status == model.ReviewConfirmed || item.Status == model.ReviewDiscarded {
		return nil, model.Conflict("review item is " + string(item.Status) + " and can no longer change")
	}

	// Share the pipeline's concurrency cap so re-analysis cannot stack extra
	// load onto the extraction engine.
	if err := s.gate.Acquire(ctx); err != nil {
		return nil, model.Unavailable("extraction capacity unavailable")
	}
	extraction, err := s.extractor.Extract(ctx, editedTranscript, extract.Context{
		Recording: item.Context,
		Language:  item.TranscriptLanguage,
	})
	s.gate.Release()
	if err != nil {
		if f, ok := model.AsFault(err); ok {
			return nil, f
		}
		return nil, model.Unavailable(err.Error())
	}

	item.Transcript = editedTranscript
	item.Categories = extraction.Categories
	item.OverallConfidence = extraction.OverallConfidence
	item.ModelVersion = extraction.ModelVersion
	item.ReanalysisCount++
	if item.Status == model.ReviewPending {
		item.Status = model.ReviewInReview
	}
	if err := s.reviews.UpdateExtraction(ctx, item); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"review_id":  id,
		"reanalysis": item.ReanalysisCount,
	}).Info("review item re-analyzed")
	return item, nil
}

// Confirm validates every category and, only when all pass, commits the
// final data to the clinical record writer and marks the item confirmed.
// Validation failure mutates nothing so the caller can edit and retry.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID, finalData []model.Category, ownerID uuid.UUID) ([]clinical.RecordRef, error) {
	item, err := s.reviews.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.OwnerID != ownerID {
		return nil, model.NotFound("review item not found")
	}
	if item.Status == model.ReviewConfirmed || item.Status == model.ReviewDiscarded {
		return nil, model.Conflict("review item is already " + string(item.Status))
	}
	if len(finalData) == 0 {
		finalData = item.Categories
	}

	if fieldErrs := s.validator.Item(finalData); len(fieldErrs) > 0 {
		return nil, model.ValidationFailed(fieldErrs)
	}

	// Optimistic status check happens inside MarkConfirmed; a concurrent
	// confirm/discard loses here with Conflict before anything is written
	// downstream twice.
	if err := s.reviews.MarkConfirmed(ctx, id, time.Now().UTC()); err != nil {
		return nil, err
	}
	refs, err := s.writer.Write(ctx, item, finalData)
	if err != nil {
		// A confirmed item whose data never reached the record system would
		// be stuck: revert to in_review so the operator can retry.
		if rbErr := s.reviews.RevertConfirmation(ctx, id); rbErr != nil {
			s.log.WithError(rbErr).WithField("review_id", id).
				Error("failed to revert confirmation after write failure")
		}
		s.log.WithError(err).WithField("review_id", id).Error("clinical write failed, confirmation reverted")
		return nil, model.Unavailable("clinical record write failed: " + err.Error())
	}

	s.log.WithFields(logrus.Fields{
		"review_id": id,
		"records":   len(refs),
	}).Info("review item confirmed")
	return refs, nil
}

// Discard soft-archives the item. Discarding twice is a no-op success.
func (s *Service) Discard(ctx context.Context, id uuid.UUID) (*model.ReviewItem, error) {
	if err := s.reviews.MarkDiscarded(ctx, id, time.Now().UTC()); err != nil {
		return nil, err
	}
	return s.reviews.GetByID(ctx, id)
}
