package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/snditnz/verbumcare-demo-sub003/internal/model"
)

// MemoryRecordingRepository keeps recordings in a mutex-guarded map. Reads
// return copies so callers never share memory with the store.
type MemoryRecordingRepository struct {
	mu   sync.Mutex
	recs map[uuid.UUID]*model.Recording
}

func NewMemoryRecordingRepository() *MemoryRecordingRepository {
	return &MemoryRecordingRepository{recs: make(map[uuid.UUID]*model.Recording)}
}

func (r *MemoryRecordingRepository) Create(ctx context.Context, rec *model.Recording) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.recs[rec.ID] = &cp
	return nil
}

func (r *MemoryRecordingRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok {
		return nil, model.NotFound("recording not found")
	}
	cp := *rec
	return &cp, nil
}

func (r *MemoryRecordingRepository) BeginProcessing(ctx context.Context, id uuid.UUID, at time.Time) (*model.Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok {
		return nil, model.NotFound("recording not found")
	}
	switch rec.ProcessingStatus {
	case model.ProcessingInProgress:
		return nil, model.Conflict("recording is already being processed")
	case model.ProcessingCompleted:
		return nil, model.AlreadyProcessed("recording already processed; use re-analysis on its review item")
	case model.ProcessingFailed:
		return nil, model.Conflict("previous attempt failed; reset the recording to pending before resubmitting")
	}
	rec.ProcessingStatus = model.ProcessingInProgress
	rec.ProcessingStartedAt = &at
	rec.ProcessingCompletedAt = nil
	rec.ProcessingError = nil
	rec.ProcessingErrorKind = nil
	cp := *rec
	return &cp, nil
}

func (r *MemoryRecordingRepository) SaveTranscript(ctx context.Context, id uuid.UUID, transcript, language string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok {
		return model.NotFound("recording not found")
	}
	rec.Transcript = &transcript
	rec.TranscriptLanguage = &language
	return nil
}

func (r *MemoryRecordingRepository) CompleteProcessing(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok {
		return model.NotFound("recording not found")
	}
	if rec.ProcessingStatus != model.ProcessingInProgress {
		return model.Conflict("recording is not processing")
	}
	rec.ProcessingStatus = model.ProcessingCompleted
	rec.ProcessingCompletedAt = &at
	return nil
}

func (r *MemoryRecordingRepository) FailProcessing(ctx context.Context, id uuid.UUID, kind model.FaultKind, message string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok {
		return model.NotFound("recording not found")
	}
	if rec.ProcessingStatus != model.ProcessingInProgress {
		return model.Conflict("recording is not processing")
	}
	rec.ProcessingStatus = model.ProcessingFailed
	rec.ProcessingCompletedAt = &at
	rec.ProcessingError = &message
	rec.ProcessingErrorKind = &kind
	return nil
}

func (r *MemoryRecordingRepository) ResetToPending(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok {
		return model.NotFound("recording not found")
	}
	if rec.ProcessingStatus == model.ProcessingCompleted {
		return model.Conflict("completed recordings cannot be reset")
	}
	rec.ProcessingStatus = model.ProcessingPending
	rec.ProcessingStartedAt = nil
	rec.ProcessingCompletedAt = nil
	rec.ProcessingError = nil
	rec.ProcessingErrorKind = nil
	return nil
}

func (r *MemoryRecordingRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.recs[id]; !ok {
		return model.NotFound("recording not found")
	}
	delete(r.recs, id)
	return nil
}

// MemoryReviewRepository is the in-memory review-item store.
type MemoryReviewRepository struct {
	mu    sync.Mutex
	items map[uuid.UUID]*model.ReviewItem
}

func NewMemoryReviewRepository() *MemoryReviewRepository {
	return &MemoryReviewRepository{items: make(map[uuid.UUID]*model.ReviewItem)}
}

func cloneItem(item *model.ReviewItem) *model.ReviewItem {
	cp := *item
	cp.Categories = cloneCategories(item.Categories)
	return &cp
}

func cloneCategories(cats []model.Category) []model.Category {
	out := make([]model.Category, len(cats))
	for i, c := range cats {
		cc := c
		cc.Data = make(map[string]any, len(c.Data))
		for k, v := range c.Data {
			cc.Data[k] = v
		}
		if c.FieldConfidences != nil {
			cc.FieldConfidences = make(map[string]float64, len(c.FieldConfidences))
			for k, v := range c.FieldConfidences {
				cc.FieldConfidences[k] = v
			}
		}
		out[i] = cc
	}
	return out
}

func (r *MemoryReviewRepository) Create(ctx context.Context, item *model.ReviewItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[item.ID] = cloneItem(item)
	return nil
}

func (r *MemoryReviewRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ReviewItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return nil, model.NotFound("review item not found")
	}
	return cloneItem(item), nil
}

func (r *MemoryReviewRepository) GetByRecordingID(ctx context.Context, recordingID uuid.UUID) (*model.ReviewItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.items {
		if item.RecordingID == recordingID {
			return cloneItem(item), nil
		}
	}
	return nil, model.NotFound("review item not found")
}

func (r *MemoryReviewRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID, status *model.ReviewStatus, limit, offset int) ([]model.ReviewItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	matched := make([]*model.ReviewItem, 0, len(r.items))
	for _, item := range r.items {
		if item.OwnerID != ownerID {
			continue
		}
		if status != nil && item.Status != *status {
			continue
		}
		matched = append(matched, item)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if offset >= len(matched) {
		return []model.ReviewItem{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	out := make([]model.ReviewItem, len(matched))
	for i, item := range matched {
		out[i] = *cloneItem(item)
	}
	return out, nil
}

func (r *MemoryReviewRepository) UpdateExtraction(ctx context.Context, item *model.ReviewItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.items[item.ID]
	if !ok {
		return model.NotFound("review item not found")
	}
	if cur.Status != model.ReviewPending && cur.Status != model.ReviewInReview {
		return model.Conflict("review item is " + string(cur.Status) + " and can no longer change")
	}
	cur.Transcript = item.Transcript
	cur.Categories = cloneCategories(item.Categories)
	cur.OverallConfidence = item.OverallConfidence
	cur.ModelVersion = item.ModelVersion
	cur.ReanalysisCount = item.ReanalysisCount
	cur.Status = item.Status
	return nil
}

func (r *MemoryReviewRepository) MarkConfirmed(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.items[id]
	if !ok {
		return model.NotFound("review item not found")
	}
	if cur.Status != model.ReviewPending && cur.Status != model.ReviewInReview {
		return model.Conflict("review item is already " + string(cur.Status))
	}
	cur.Status = model.ReviewConfirmed
	cur.ConfirmedAt = &at
	return nil
}

func (r *MemoryReviewRepository) RevertConfirmation(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.items[id]
	if !ok {
		return model.NotFound("review item not found")
	}
	if cur.Status != model.ReviewConfirmed {
		return model.Conflict("review item is " + string(cur.Status) + ", not confirmed")
	}
	cur.Status = model.ReviewInReview
	cur.ConfirmedAt = nil
	return nil
}

func (r *MemoryReviewRepository) MarkDiscarded(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.items[id]
	if !ok {
		return model.NotFound("review item not found")
	}
	switch cur.Status {
	case model.ReviewDiscarded:
		return nil
	case model.ReviewConfirmed:
		return model.Conflict("confirmed review items cannot be discarded")
	}
	cur.Status = model.ReviewDiscarded
	cur.DiscardedAt = &at
	return nil
}
