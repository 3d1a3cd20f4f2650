package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/snditnz/verbumcare-demo-sub003/internal/events"
	"github.com/snditnz/verbumcare-demo-sub003/internal/extract"
	"github.com/snditnz/verbumcare-demo-sub003/internal/model"
	"github.com/snditnz/verbumcare-demo-sub003/internal/repository"
	"github.com/snditnz/verbumcare-demo-sub003/internal/stt"
)

type fakeTranscriber struct {
	mu        sync.Mutex
	result    stt.Result
	err       error
	block     chan struct{} // when non-nil, Transcribe waits for a signal
	started   chan struct{}
	calls     int
	failFirst int // first N calls fail with an outage
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio io.Reader, filename, language string) (*stt.Result, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	block, started, failFirst := f.block, f.started, f.failFirst
	f.mu.Unlock()
	if n <= failFirst {
		return nil, fmt.Errorf("transcribe: %w", stt.ErrEngineUnavailable)
	}
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	r := f.result
	return &r, nil
}

func (f *fakeTranscriber) Ping(ctx context.Context) error { return nil }
func (f *fakeTranscriber) Name() string                   { return "fake-stt" }

type fakeExtractor struct {
	mu         sync.Mutex
	extraction extract.Extraction
	err        error
	block      chan struct{}
	started    chan struct{}
	lastText   string
}

func (f *fakeExtractor) Extract(ctx context.Context, transcript string, ec extract.Context) (*extract.Extraction, error) {
	f.mu.Lock()
	f.lastText = transcript
	block, started := f.block, f.started
	f.mu.Unlock()
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	e := f.extraction
	return &e, nil
}

func (f *fakeExtractor) Name() string { return "fake-extract" }

type fakeBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{blobs: make(map[string][]byte)}
}

func (f *fakeBlobs) Save(ctx context.Context, id, filename string, r io.Reader, size int64) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	ref := id + "_" + filename
	f.mu.Lock()
	f.blobs[ref] = data
	f.mu.Unlock()
	return ref, nil
}

func (f *fakeBlobs) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	f.mu.Lock()
	data, ok := f.blobs[ref]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("open %s: %w", ref, errBlobMissing)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeBlobs) Delete(ctx context.Context, ref string) error {
	f.mu.Lock()
	delete(f.blobs, ref)
	f.mu.Unlock()
	return nil
}

var errBlobMissing = fmt.Errorf("blob missing")

type fixture struct {
	orch        *Orchestrator
	recordings  *repository.MemoryRecordingRepository
	reviews     *repository.MemoryReviewRepository
	blobs       *fakeBlobs
	transcriber *fakeTranscriber
	extractor   *fakeExtractor
	hub         *events.Hub
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		recordings: repository.NewMemoryRecordingRepository(),
		reviews:    repository.NewMemoryReviewRepository(),
		blobs:      newFakeBlobs(),
		transcriber: &fakeTranscriber{
			result: stt.Result{Text: "血圧120の80、脈拍72", Language: "ja"},
		},
		extractor: &fakeExtractor{
			extraction: extract.Extraction{
				Categories: []model.Category{{
					Type:       model.CategoryVitals,
					Confidence: 0.93,
					Data:       map[string]any{"systolic": 120.0, "diastolic": 80.0},
				}},
				OverallConfidence: 0.93,
				ModelVersion:      "fake-1",
			},
		},
		hub: events.NewHub(),
	}
	if opts.Workers == 0 {
		opts.Workers = 2
	}
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = "ja"
	}
	f.orch = New(f.recordings, f.reviews, f.blobs, f.transcriber, f.extractor,
		f.hub, NewGate(opts.Workers), quietLogger(), opts)
	f.orch.Start(context.Background())
	t.Cleanup(f.orch.Stop)
	return f
}

func (f *fixture) addRecording(t *testing.T) *model.Recording {
	t.Helper()
	ctx := context.Background()
	rec := &model.Recording{
		ID:               uuid.New(),
		OwnerID:          uuid.New(),
		Context:          model.RecordingContext{Kind: model.ContextGlobal},
		Filename:         "round.m4a",
		DurationSeconds:  30,
		ProcessingStatus: model.ProcessingPending,
		CreatedAt:        time.Now().UTC(),
	}
	ref, err := f.blobs.Save(ctx, rec.ID.String(), rec.Filename, bytes.NewReader([]byte("audio-bytes")), 11)
	if err != nil {
		t.Fatalf("save blob: %v", err)
	}
	rec.AudioRef = ref
	if err := f.recordings.Create(ctx, rec); err != nil {
		t.Fatalf("create recording: %v", err)
	}
	return rec
}

// collect drains the subscription until a terminal phase or the timeout.
func collect(t *testing.T, sub *events.Subscription) []events.Event {
	t.Helper()
	var out []events.Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sub.C:
			out = append(out, ev)
			if ev.Phase == model.PhaseDone || ev.Phase == model.PhaseError {
				return out
			}
		case <-deadline:
			t.Fatalf("timed out waiting for terminal event, got %v", out)
		}
	}
}

func phases(evs []events.Event) []model.Phase {
	out := make([]model.Phase, len(evs))
	for i, ev := range evs {
		out[i] = ev.Phase
	}
	return out
}

func TestHappyPath(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.addRecording(t)
	ctx := context.Background()

	sub := f.hub.Subscribe(rec.OwnerID)
	defer sub.Close()

	job, err := f.orch.StartProcessing(ctx, rec.ID, StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if job.Phase != model.PhaseQueued {
		t.Errorf("initial phase = %s, want queued", job.Phase)
	}

	evs := collect(t, sub)
	want := []model.Phase{model.PhaseQueued, model.PhaseTranscribing, model.PhaseExtracting, model.PhaseSaving, model.PhaseDone}
	got := phases(evs)
	if len(got) != len(want) {
		t.Fatalf("phases = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("phases = %v, want %v", got, want)
		}
	}

	final := evs[len(evs)-1]
	if final.ReviewID == nil {
		t.Fatal("done event missing review id")
	}

	item, err := f.reviews.GetByID(ctx, *final.ReviewID)
	if err != nil {
		t.Fatalf("review item: %v", err)
	}
	if item.Status != model.ReviewPending {
		t.Errorf("review status = %s, want pending", item.Status)
	}
	if item.Transcript != "血圧120の80、脈拍72" {
		t.Errorf("transcript = %q", item.Transcript)
	}
	if item.OwnerID != rec.OwnerID {
		t.Error("review item owner mismatch")
	}

	st, err := f.orch.GetStatus(ctx, rec.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.ProcessingStatus != model.ProcessingCompleted || st.ProgressPercent != 100 {
		t.Errorf("status = %+v, want completed at 100%%", st)
	}
	if st.ReviewID == nil || *st.ReviewID != item.ID {
		t.Error("status should reference the review item")
	}
}

func TestProgressMonotonic(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.addRecording(t)

	sub := f.hub.Subscribe(rec.OwnerID)
	defer sub.Close()

	if _, err := f.orch.StartProcessing(context.Background(), rec.ID, StartOptions{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	evs := collect(t, sub)
	last := -1
	for _, ev := range evs {
		if ev.ProgressPercent < last {
			t.Fatalf("progress went backwards: %v", evs)
		}
		last = ev.ProgressPercent
	}
}

func TestConcurrentSubmissionsSingleWinner(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.addRecording(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.orch.StartProcessing(ctx, rec.ID, StartOptions{})
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, err := range errs {
		if err == nil {
			accepted++
			continue
		}
		kind := model.FaultOf(err)
		if kind != model.FaultConflict && kind != model.FaultAlreadyProcessed {
			t.Errorf("loser error = %v, want conflict", err)
		}
	}
	if accepted != 1 {
		t.Fatalf("accepted = %d, want exactly 1", accepted)
	}
}

func TestManualCorrectionsSkipTranscription(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.addRecording(t)
	ctx := context.Background()

	sub := f.hub.Subscribe(rec.OwnerID)
	defer sub.Close()

	_, err := f.orch.StartProcessing(ctx, rec.ID, StartOptions{
		CorrectedTranscript: "痛みスケール3、腰部",
		Language:            "ja",
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	evs := collect(t, sub)
	for _, ev := range evs {
		if ev.Phase == model.PhaseTranscribing {
			t.Fatal("transcribing event emitted on the manual-correction path")
		}
	}

	f.transcriber.mu.Lock()
	calls := f.transcriber.calls
	f.transcriber.mu.Unlock()
	if calls != 0 {
		t.Fatalf("transcriber called %d times, want 0", calls)
	}

	f.extractor.mu.Lock()
	text := f.extractor.lastText
	f.extractor.mu.Unlock()
	if text != "痛みスケール3、腰部" {
		t.Fatalf("extraction ran on %q, want the corrected text", text)
	}

	got, _ := f.recordings.GetByID(ctx, rec.ID)
	if got.Transcript == nil || *got.Transcript != "痛みスケール3、腰部" {
		t.Fatal("corrected transcript not persisted")
	}
}

func TestTranscriptionOutageIsRetryable(t *testing.T) {
	f := newFixture(t, Options{})
	f.transcriber.err = fmt.Errorf("post /transcribe: %w", stt.ErrEngineUnavailable)
	rec := f.addRecording(t)
	ctx := context.Background()

	sub := f.hub.Subscribe(rec.OwnerID)
	defer sub.Close()

	if _, err := f.orch.StartProcessing(ctx, rec.ID, StartOptions{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	evs := collect(t, sub)
	if evs[len(evs)-1].Phase != model.PhaseError {
		t.Fatalf("expected terminal error event, got %v", evs)
	}

	st, err := f.orch.GetStatus(ctx, rec.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.ProcessingStatus != model.ProcessingFailed {
		t.Fatalf("status = %s, want failed", st.ProcessingStatus)
	}
	if !st.Retryable {
		t.Fatal("outage failure should be marked retryable")
	}

	// Resubmission requires an explicit reset, then succeeds.
	if _, err := f.orch.StartProcessing(ctx, rec.ID, StartOptions{}); model.FaultOf(err) != model.FaultConflict {
		t.Fatalf("resubmit without reset = %v, want conflict", err)
	}
	f.transcriber.err = nil
	if err := f.orch.ResetForRetry(ctx, rec.ID); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := f.orch.StartProcessing(ctx, rec.ID, StartOptions{}); err != nil {
		t.Fatalf("resubmit after reset: %v", err)
	}
	evs = collect(t, sub)
	if evs[len(evs)-1].Phase != model.PhaseDone {
		t.Fatalf("retry did not complete: %v", evs)
	}
}

func TestExtractionFailureKeepsTranscript(t *testing.T) {
	f := newFixture(t, Options{})
	f.extractor.err = fmt.Errorf("llm: %w", extract.ErrEngineUnavailable)
	rec := f.addRecording(t)
	ctx := context.Background()

	sub := f.hub.Subscribe(rec.OwnerID)
	defer sub.Close()

	f.orch.StartProcessing(ctx, rec.ID, StartOptions{})
	collect(t, sub)

	got, _ := f.recordings.GetByID(ctx, rec.ID)
	if got.ProcessingStatus != model.ProcessingFailed {
		t.Fatalf("status = %s, want failed", got.ProcessingStatus)
	}
	if got.Transcript == nil {
		t.Fatal("transcript must survive an extraction failure")
	}
}

func TestAbandonDropsLateResult(t *testing.T) {
	f := newFixture(t, Options{})
	f.extractor.block = make(chan struct{})
	f.extractor.started = make(chan struct{}, 1)
	rec := f.addRecording(t)
	ctx := context.Background()

	if _, err := f.orch.StartProcessing(ctx, rec.ID, StartOptions{}); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case <-f.extractor.started:
	case <-time.After(5 * time.Second):
		t.Fatal("extraction never started")
	}

	if err := f.orch.Abandon(ctx, rec.ID); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	close(f.extractor.block)

	// Give the worker time to run past the save checkpoint.
	deadline := time.After(5 * time.Second)
	for {
		st, err := f.orch.GetStatus(ctx, rec.ID)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if st.ProcessingStatus == model.ProcessingFailed {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("recording never settled, status %+v", st)
		case <-time.After(20 * time.Millisecond):
		}
	}

	items, _ := f.reviews.ListByOwner(ctx, rec.OwnerID, nil, 10, 0)
	for _, item := range items {
		if item.RecordingID == rec.ID && item.Status != model.ReviewDiscarded {
			t.Fatalf("late result surfaced as %s review item", item.Status)
		}
	}
}

func TestConflictReportsCurrentPhase(t *testing.T) {
	f := newFixture(t, Options{})
	f.transcriber.block = make(chan struct{})
	f.transcriber.started = make(chan struct{}, 1)
	defer close(f.transcriber.block)
	rec := f.addRecording(t)
	ctx := context.Background()

	if _, err := f.orch.StartProcessing(ctx, rec.ID, StartOptions{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-f.transcriber.started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never reached transcription")
	}

	_, err := f.orch.StartProcessing(ctx, rec.ID, StartOptions{})
	if model.FaultOf(err) != model.FaultConflict {
		t.Fatalf("second submit = %v, want conflict", err)
	}
	if !strings.Contains(err.Error(), string(model.PhaseTranscribing)) {
		t.Fatalf("conflict message %q does not report the current phase", err.Error())
	}
}

func TestAbandonWithoutActiveJob(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.addRecording(t)
	if err := f.orch.Abandon(context.Background(), rec.ID); model.FaultOf(err) != model.FaultConflict {
		t.Fatalf("abandon idle = %v, want conflict", err)
	}
}

func TestFullQueueRollsBackAcceptance(t *testing.T) {
	f := newFixture(t, Options{Workers: 1, QueueSize: 1})
	f.transcriber.block = make(chan struct{})
	f.transcriber.started = make(chan struct{}, 1)
	defer close(f.transcriber.block)
	ctx := context.Background()

	busy := f.addRecording(t)
	if _, err := f.orch.StartProcessing(ctx, busy.ID, StartOptions{}); err != nil {
		t.Fatalf("start busy: %v", err)
	}
	select {
	case <-f.transcriber.started:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never picked up the job")
	}

	queued := f.addRecording(t)
	if _, err := f.orch.StartProcessing(ctx, queued.ID, StartOptions{}); err != nil {
		t.Fatalf("start queued: %v", err)
	}

	overflow := f.addRecording(t)
	_, err := f.orch.StartProcessing(ctx, overflow.ID, StartOptions{})
	if model.FaultOf(err) != model.FaultServiceUnavailable {
		t.Fatalf("overflow = %v, want service_unavailable", err)
	}

	got, _ := f.recordings.GetByID(ctx, overflow.ID)
	if got.ProcessingStatus != model.ProcessingPending {
		t.Fatalf("overflow status = %s, want pending after rollback", got.ProcessingStatus)
	}
}

func TestEstimateTotal(t *testing.T) {
	cases := []struct {
		duration float64
		want     int
	}{
		{0, 20},
		{30, 80},
		{1, 22},
	}
	for _, tc := range cases {
		if got := estimateTotal(tc.duration); got != tc.want {
			t.Errorf("estimateTotal(%v) = %d, want %d", tc.duration, got, tc.want)
		}
	}
}
