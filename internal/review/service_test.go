package review

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
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

type stubExtractor struct {
	mu         sync.Mutex
	extraction extract.Extraction
	err        error
	lastText   string
}

func (s *stubExtractor) Extract(ctx context.Context, transcript string, ec extract.Context) (*extract.Extraction, error) {
	s.mu.Lock()
	s.lastText = transcript
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	e := s.extraction
	return &e, nil
}

func (s *stubExtractor) Name() string { return "stub" }

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// flakyWriter fails writes on demand, passing through to the in-memory
// writer otherwise.
type flakyWriter struct {
	mu    sync.Mutex
	inner *clinical.MemoryWriter
	err   error
}

func (w *flakyWriter) Write(ctx context.Context, item *model.ReviewItem, finalData []model.Category) ([]clinical.RecordRef, error) {
	w.mu.Lock()
	err := w.err
	w.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return w.inner.Write(ctx, item, finalData)
}

func (w *flakyWriter) setErr(err error) {
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
}

type harness struct {
	svc       *Service
	repo      *repository.MemoryReviewRepository
	extractor *stubExtractor
	writer    *clinical.MemoryWriter
	flaky     *flakyWriter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo: repository.NewMemoryReviewRepository(),
		extractor: &stubExtractor{
			extraction: extract.Extraction{
				Categories: []model.Category{{
					Type:       model.CategoryVitals,
					Confidence: 0.9,
					Data:       map[string]any{"systolic": 118.0},
				}},
				OverallConfidence: 0.9,
				ModelVersion:      "stub-2",
			},
		},
		writer: clinical.NewMemoryWriter(),
	}
	h.flaky = &flakyWriter{inner: h.writer}
	h.svc = NewService(h.repo, h.extractor, validate.New(), h.flaky,
		pipeline.NewGate(2), quietLogger())
	return h
}

func (h *harness) addItem(t *testing.T, status model.ReviewStatus) *model.ReviewItem {
	t.Helper()
	item := &model.ReviewItem{
		ID:                 uuid.New(),
		RecordingID:        uuid.New(),
		OwnerID:            uuid.New(),
		Context:            model.RecordingContext{Kind: model.ContextGlobal},
		Transcript:         "血圧120の80",
		TranscriptLanguage: "ja",
		Categories: []model.Category{{
			Type:       model.CategoryVitals,
			Confidence: 0.85,
			Data:       map[string]any{"systolic": 120.0, "diastolic": 80.0},
		}},
		OverallConfidence: 0.85,
		Status:            status,
		ModelVersion:      "stub-1",
		CreatedAt:         time.Now().UTC(),
	}
	if err := h.repo.Create(context.Background(), item); err != nil {
		t.Fatalf("create item: %v", err)
	}
	return item
}

func TestReanalyzePreservesIdentity(t *testing.T) {
	h := newHarness(t)
	item := h.addItem(t, model.ReviewPending)
	ctx := context.Background()

	got, err := h.svc.Reanalyze(ctx, item.ID, "血圧118の76")
	if err != nil {
		t.Fatalf("reanalyze: %v", err)
	}
	if got.ID != item.ID || got.RecordingID != item.RecordingID || got.OwnerID != item.OwnerID {
		t.Fatal("identity fields changed")
	}
	if got.Transcript != "血圧118の76" {
		t.Errorf("transcript = %q", got.Transcript)
	}
	if got.ReanalysisCount != 1 {
		t.Errorf("reanalysis count = %d, want 1", got.ReanalysisCount)
	}
	if got.Status != model.ReviewInReview {
		t.Errorf("status = %s, want in_review", got.Status)
	}
	if got.ModelVersion != "stub-2" {
		t.Errorf("model version = %q, want stub-2", got.ModelVersion)
	}

	h.extractor.mu.Lock()
	text := h.extractor.lastText
	h.extractor.mu.Unlock()
	if text != "血圧118の76" {
		t.Errorf("extraction ran on %q, want edited text", text)
	}
}

func TestReanalyzeFailureLeavesItemUntouched(t *testing.T) {
	h := newHarness(t)
	item := h.addItem(t, model.ReviewPending)
	h.extractor.err = fmt.Errorf("llm: %w", extract.ErrEngineUnavailable)
	ctx := context.Background()

	if _, err := h.svc.Reanalyze(ctx, item.ID, "edited"); err == nil {
		t.Fatal("expected extraction failure")
	}
	got, _ := h.repo.GetByID(ctx, item.ID)
	if got.Transcript != item.Transcript || got.ReanalysisCount != 0 {
		t.Fatal("failed reanalysis mutated the item")
	}
}

func TestReanalyzeTerminalStatesRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, status := range []model.ReviewStatus{model.ReviewConfirmed, model.ReviewDiscarded} {
		item := h.addItem(t, status)
		if _, err := h.svc.Reanalyze(ctx, item.ID, "edited"); model.FaultOf(err) != model.FaultConflict {
			t.Errorf("reanalyze %s = %v, want conflict", status, err)
		}
	}
}

func TestReanalyzeEmptyTranscript(t *testing.T) {
	h := newHarness(t)
	item := h.addItem(t, model.ReviewPending)
	if _, err := h.svc.Reanalyze(context.Background(), item.ID, ""); model.FaultOf(err) != model.FaultInvalidInput {
		t.Fatalf("expected invalid_input, got %v", err)
	}
}

func TestConfirmWritesRecords(t *testing.T) {
	h := newHarness(t)
	item := h.addItem(t, model.ReviewPending)
	ctx := context.Background()

	refs, err := h.svc.Confirm(ctx, item.ID, nil, item.OwnerID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(refs) != 1 || refs[0].Type != model.CategoryVitals {
		t.Fatalf("refs = %v", refs)
	}

	got, _ := h.repo.GetByID(ctx, item.ID)
	if got.Status != model.ReviewConfirmed || got.ConfirmedAt == nil {
		t.Fatalf("status = %s, want confirmed with timestamp", got.Status)
	}
	if _, ok := h.writer.Written[item.ID]; !ok {
		t.Fatal("nothing reached the clinical writer")
	}
}

func TestConfirmValidationGate(t *testing.T) {
	h := newHarness(t)
	item := h.addItem(t, model.ReviewPending)
	ctx := context.Background()

	bad := []model.Category{{
		Type: model.CategoryVitals,
		Data: map[string]any{"systolic": 400.0},
	}}
	_, err := h.svc.Confirm(ctx, item.ID, bad, item.OwnerID)
	f, ok := model.AsFault(err)
	if !ok || f.Kind != model.FaultValidationFailed {
		t.Fatalf("expected validation fault, got %v", err)
	}
	if len(f.Fields) != 1 || f.Fields[0].Field != "systolic" {
		t.Fatalf("fields = %v", f.Fields)
	}

	// Rejection mutates nothing downstream or in the store.
	got, _ := h.repo.GetByID(ctx, item.ID)
	if got.Status != model.ReviewPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
	if len(h.writer.Written) != 0 {
		t.Fatal("rejected data reached the clinical writer")
	}
}

// A failed clinical write must not leave the item stuck in confirmed with
// nothing committed downstream.
func TestConfirmWriteFailureReverts(t *testing.T) {
	h := newHarness(t)
	item := h.addItem(t, model.ReviewPending)
	h.flaky.setErr(fmt.Errorf("records service down"))
	ctx := context.Background()

	_, err := h.svc.Confirm(ctx, item.ID, nil, item.OwnerID)
	if model.FaultOf(err) != model.FaultServiceUnavailable {
		t.Fatalf("failed write = %v, want service_unavailable", err)
	}

	got, _ := h.repo.GetByID(ctx, item.ID)
	if got.Status != model.ReviewInReview || got.ConfirmedAt != nil {
		t.Fatalf("status = %s (confirmedAt %v), want in_review with cleared timestamp", got.Status, got.ConfirmedAt)
	}
	if len(h.writer.Written) != 0 {
		t.Fatal("failed write left data in the clinical store")
	}

	// The item is retryable once the record system recovers.
	h.flaky.setErr(nil)
	refs, err := h.svc.Confirm(ctx, item.ID, nil, item.OwnerID)
	if err != nil {
		t.Fatalf("retry confirm: %v", err)
	}
	if len(refs) != 1 {
		t.Fatalf("refs = %v", refs)
	}
	got, _ = h.repo.GetByID(ctx, item.ID)
	if got.Status != model.ReviewConfirmed {
		t.Fatalf("status = %s, want confirmed after retry", got.Status)
	}
}

func TestConfirmOwnershipMismatch(t *testing.T) {
	h := newHarness(t)
	item := h.addItem(t, model.ReviewPending)
	if _, err := h.svc.Confirm(context.Background(), item.ID, nil, uuid.New()); model.FaultOf(err) != model.FaultNotFound {
		t.Fatalf("foreign owner = %v, want not_found", err)
	}
}

func TestConfirmTerminalStates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, status := range []model.ReviewStatus{model.ReviewConfirmed, model.ReviewDiscarded} {
		item := h.addItem(t, status)
		if _, err := h.svc.Confirm(ctx, item.ID, nil, item.OwnerID); model.FaultOf(err) != model.FaultConflict {
			t.Errorf("confirm %s = %v, want conflict", status, err)
		}
	}
}

func TestDiscardIdempotent(t *testing.T) {
	h := newHarness(t)
	item := h.addItem(t, model.ReviewInReview)
	ctx := context.Background()

	got, err := h.svc.Discard(ctx, item.ID)
	if err != nil {
		t.Fatalf("discard: %v", err)
	}
	if got.Status != model.ReviewDiscarded || got.DiscardedAt == nil {
		t.Fatalf("status = %s, want discarded with timestamp", got.Status)
	}
	if _, err := h.svc.Discard(ctx, item.ID); err != nil {
		t.Fatalf("second discard = %v, want success", err)
	}
}

func TestListClampsLimit(t *testing.T) {
	h := newHarness(t)
	owner := uuid.New()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		item := h.addItem(t, model.ReviewPending)
		item.OwnerID = owner
		h.repo.Create(ctx, item)
	}

	items, err := h.svc.List(ctx, owner, nil, 0, -5)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("len = %d, want 3 with defaulted paging", len(items))
	}
}
