// Package pipeline drives a recording through transcription, extraction and
// review-item creation on a bounded worker pool.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/snditnz/verbumcare-demo-sub003/internal/events"
	"github.com/snditnz/verbumcare-demo-sub003/internal/extract"
	"github.com/snditnz/verbumcare-demo-sub003/internal/model"
	"github.com/snditnz/verbumcare-demo-sub003/internal/repository"
	"github.com/snditnz/verbumcare-demo-sub003/internal/storage"
	"github.com/snditnz/verbumcare-demo-sub003/internal/stt"
)

// StartOptions tunes one processing run.
type StartOptions struct {
	// CorrectedTranscript skips transcription and extracts directly from the
	// supplied text.
	CorrectedTranscript string
	// Language hints the transcription engine; empty means auto-detect with
	// the configured default.
	Language string
}

// Job is the live, in-memory state of one processing run. Only the status
// fields mirrored onto the recording survive a restart.
type Job struct {
	RecordingID               uuid.UUID   `json:"recording_id"`
	OwnerID                   uuid.UUID   `json:"owner_id"`
	Phase                     model.Phase `json:"phase"`
	ProgressPercent           int         `json:"progress_percent"`
	EstimatedRemainingSeconds int         `json:"estimated_remaining_seconds"`
	StartedAt                 time.Time   `json:"started_at"`
}

// Status is what GetStatus reports: the durable recording state overlaid
// with live job progress when a job is running.
type Status struct {
	RecordingID               uuid.UUID              `json:"recording_id"`
	ProcessingStatus          model.ProcessingStatus `json:"processing_status"`
	Phase                     model.Phase            `json:"phase"`
	ProgressPercent           int                    `json:"progress_percent"`
	EstimatedRemainingSeconds int                    `json:"estimated_remaining_seconds,omitempty"`
	Transcript                *string                `json:"transcript,omitempty"`
	TranscriptLanguage        *string                `json:"transcript_language,omitempty"`
	Error                     *string                `json:"error,omitempty"`
	ErrorKind                 *model.FaultKind       `json:"error_kind,omitempty"`
	Retryable                 bool                   `json:"retryable,omitempty"`
	ReviewID                  *uuid.UUID             `json:"review_id,omitempty"`
}

type task struct {
	recording *model.Recording
	opts      StartOptions
}

// Orchestrator owns the processing state machine. All collaborators are
// injected so tests can substitute deterministic fakes and so two
// differently-configured engines can serve different deployments.
type Orchestrator struct {
	recordings  repository.RecordingRepository
	reviews     repository.ReviewRepository
	blobs       storage.BlobStore
	transcriber stt.Engine
	extractor   extract.Engine
	hub         *events.Hub
	gate        *Gate
	log         *logrus.Entry

	workers         int
	defaultLanguage string
	queue           chan task

	mu        sync.Mutex
	jobs      map[uuid.UUID]*Job
	abandoned map[uuid.UUID]bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Options struct {
	Workers         int
	QueueSize       int
	DefaultLanguage string
}

func New(
	recordings repository.RecordingRepository,
	reviews repository.ReviewRepository,
	blobs storage.BlobStore,
	transcriber stt.Engine,
	extractor extract.Engine,
	hub *events.Hub,
	gate *Gate,
	log *logrus.Logger,
	opts Options,
) *Orchestrator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < opts.Workers {
		opts.QueueSize = opts.Workers * 4
	}
	return &Orchestrator{
		recordings:      recordings,
		reviews:         reviews,
		blobs:           blobs,
		transcriber:     transcriber,
		extractor:       extractor,
		hub:             hub,
		gate:            gate,
		log:             log.WithField("component", "pipeline"),
		workers:         opts.Workers,
		defaultLanguage: opts.DefaultLanguage,
		queue:           make(chan task, opts.QueueSize),
		jobs:            make(map[uuid.UUID]*Job),
		abandoned:       make(map[uuid.UUID]bool),
	}
}

// Start launches the worker pool.
func (o *Orchestrator) Start(ctx context.Context) {
	ctx, o.cancel = context.WithCancel(ctx)
	for i := 0; i < o.workers; i++ {
		o.wg.Add(1)
		go o.worker(ctx)
	}
	o.log.WithField("workers", o.workers).Info("pipeline started")
}

// Stop cancels the workers and waits for in-flight jobs to unwind.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

// StartProcessing is the acceptance gate. It performs only the atomic
// pending→processing transition and an enqueue, then returns; the slow work
// happens on a pool worker. Concurrent submissions for the same recording
// resolve to exactly one acceptance.
func (o *Orchestrator) StartProcessing(ctx context.Context, recordingID uuid.UUID, opts StartOptions) (*Job, error) {
	now := time.Now().UTC()
	rec, err := o.recordings.BeginProcessing(ctx, recordingID, now)
	if err != nil {
		// A conflict against a live job reports where that job currently is,
		// so the caller knows what it is waiting behind.
		if f, ok := model.AsFault(err); ok && f.Kind == model.FaultConflict {
			o.mu.Lock()
			job, live := o.jobs[recordingID]
			o.mu.Unlock()
			if live {
				return nil, model.Conflict(fmt.Sprintf(
					"recording is already being processed (phase %s)", job.Phase))
			}
		}
		return nil, err
	}

	job := &Job{
		RecordingID:               recordingID,
		OwnerID:                   rec.OwnerID,
		Phase:                     model.PhaseQueued,
		ProgressPercent:           progressQueued,
		EstimatedRemainingSeconds: estimateTotal(rec.DurationSeconds),
		StartedAt:                 now,
	}
	o.mu.Lock()
	o.jobs[recordingID] = job
	delete(o.abandoned, recordingID)
	o.mu.Unlock()

	// Publish before enqueueing so a fast worker cannot emit transcribing
	// ahead of queued.
	o.publish(rec.OwnerID, events.Event{
		RecordingID:               recordingID,
		Phase:                     model.PhaseQueued,
		ProgressPercent:           job.ProgressPercent,
		EstimatedRemainingSeconds: job.EstimatedRemainingSeconds,
	})

	select {
	case o.queue <- task{recording: rec, opts: opts}:
	default:
		// Queue full: roll the acceptance back rather than hold the caller.
		o.dropJob(recordingID)
		if rbErr := o.recordings.ResetToPending(ctx, recordingID); rbErr != nil {
			o.log.WithError(rbErr).WithField("recording_id", recordingID).
				Error("failed to roll back acceptance after full queue")
		}
		return nil, model.Unavailable("processing queue is full, try again shortly")
	}

	cp := *job
	return &cp, nil
}

// GetStatus reports the current phase or terminal result for a recording.
func (o *Orchestrator) GetStatus(ctx context.Context, recordingID uuid.UUID) (*Status, error) {
	rec, err := o.recordings.GetByID(ctx, recordingID)
	if err != nil {
		return nil, err
	}

	st := &Status{
		RecordingID:        recordingID,
		ProcessingStatus:   rec.ProcessingStatus,
		Transcript:         rec.Transcript,
		TranscriptLanguage: rec.TranscriptLanguage,
		Error:              rec.ProcessingError,
		ErrorKind:          rec.ProcessingErrorKind,
	}
	if rec.ProcessingErrorKind != nil && *rec.ProcessingErrorKind == model.FaultServiceUnavailable {
		st.Retryable = true
	}

	switch rec.ProcessingStatus {
	case model.ProcessingPending:
		st.Phase = model.PhaseQueued
	case model.ProcessingCompleted:
		st.Phase = model.PhaseDone
		st.ProgressPercent = 100
		if item, err := o.reviews.GetByRecordingID(ctx, recordingID); err == nil {
			st.ReviewID = &item.ID
		}
	case model.ProcessingFailed:
		st.Phase = model.PhaseError
	case model.ProcessingInProgress:
		o.mu.Lock()
		if job, ok := o.jobs[recordingID]; ok {
			st.Phase = job.Phase
			st.ProgressPercent = job.ProgressPercent
			st.EstimatedRemainingSeconds = job.EstimatedRemainingSeconds
		} else {
			// Processing in the durable state with no live job means the
			// process restarted mid-run; an operator reset is needed.
			st.Phase = model.PhaseQueued
		}
		o.mu.Unlock()
	}
	return st, nil
}

// Abandon stops the orchestrator from acting on a late result for an
// in-flight job and marks the recording failed. The underlying engines offer
// no mid-call cancellation, so the worker finishes its current call and then
// drops the result.
func (o *Orchestrator) Abandon(ctx context.Context, recordingID uuid.UUID) error {
	o.mu.Lock()
	job, running := o.jobs[recordingID]
	if running {
		o.abandoned[recordingID] = true
	}
	o.mu.Unlock()
	if !running {
		return model.Conflict("no active job for this recording")
	}

	err := o.recordings.FailProcessing(ctx, recordingID, model.FaultInternal,
		"abandoned by operator", time.Now().UTC())
	if err != nil {
		return err
	}
	o.publish(job.OwnerID, events.Event{
		RecordingID: recordingID,
		Phase:       model.PhaseError,
		Status:      "failed",
		Error:       "abandoned by operator",
	})
	return nil
}

// ResetForRetry reverts a failed recording to pending so a caller may submit
// it again. Used by operators and the resubmit policy, never automatically.
func (o *Orchestrator) ResetForRetry(ctx context.Context, recordingID uuid.UUID) error {
	o.mu.Lock()
	_, running := o.jobs[recordingID]
	o.mu.Unlock()
	if running {
		return model.Conflict("recording has an active job")
	}
	return o.recordings.ResetToPending(ctx, recordingID)
}

func (o *Orchestrator) worker(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case t := <-o.queue:
			o.run(ctx, t)
		case <-ctx.Done():
			return
		}
	}
}

// Phase progress checkpoints. Values only ever increase within a job.
const (
	progressQueued       = 5
	progressTranscribing = 10
	progressExtracting   = 60
	progressSaving       = 90
)

// estimateTotal guesses the full pipeline wall time in seconds from audio
// length. Transcription dominates and tracks audio duration; extraction is
// roughly flat.
func estimateTotal(durationSeconds float64) int {
	est := int(2*durationSeconds) + 20
	if est < 15 {
		est = 15
	}
	return est
}

func (o *Orchestrator) run(ctx context.Context, t task) {
	rec := t.recording
	log := o.log.WithField("recording_id", rec.ID)

	transcript := t.opts.CorrectedTranscript
	language := t.opts.Language
	if language == "" {
		language = o.defaultLanguage
	}

	if transcript == "" {
		o.setPhase(rec, model.PhaseTranscribing, progressTranscribing)

		audio, err := o.blobs.Open(ctx, rec.AudioRef)
		if err != nil {
			o.fail(ctx, rec, classify(err))
			return
		}
		result, err := o.transcriber.Transcribe(ctx, audio, rec.Filename, language)
		audio.Close()
		if err != nil {
			o.fail(ctx, rec, classify(err))
			return
		}
		transcript = result.Text
		language = result.Language

		// Persist immediately: a later failure must never lose the
		// transcript.
		if err := o.recordings.SaveTranscript(ctx, rec.ID, transcript, language); err != nil {
			o.fail(ctx, rec, classify(err))
			return
		}
		log.WithField("language", language).Debug("transcription phase done")
	} else {
		// Manual correction path: extraction runs on the supplied text and
		// the transcribing event is never emitted.
		if err := o.recordings.SaveTranscript(ctx, rec.ID, transcript, language); err != nil {
			o.fail(ctx, rec, classify(err))
			return
		}
	}

	o.setPhase(rec, model.PhaseExtracting, progressExtracting)

	if err := o.gate.Acquire(ctx); err != nil {
		o.fail(ctx, rec, model.Unavailable("shutting down before extraction"))
		return
	}
	extraction, err := o.extractor.Extract(ctx, transcript, extract.Context{
		Recording: rec.Context,
		Language:  language,
	})
	o.gate.Release()
	if err != nil {
		o.fail(ctx, rec, classify(err))
		return
	}

	o.setPhase(rec, model.PhaseSaving, progressSaving)

	if o.isAbandoned(rec.ID) {
		log.Warn("job abandoned, dropping late result")
		o.dropJob(rec.ID)
		return
	}

	item := &model.ReviewItem{
		ID:                 uuid.New(),
		RecordingID:        rec.ID,
		OwnerID:            rec.OwnerID,
		Context:            rec.Context,
		Transcript:         transcript,
		TranscriptLanguage: language,
		Categories:         extraction.Categories,
		OverallConfidence:  extraction.OverallConfidence,
		Status:             model.ReviewPending,
		ModelVersion:       extraction.ModelVersion,
		CreatedAt:          time.Now().UTC(),
	}
	if err := o.reviews.Create(ctx, item); err != nil {
		o.fail(ctx, rec, classify(err))
		return
	}
	if err := o.recordings.CompleteProcessing(ctx, rec.ID, time.Now().UTC()); err != nil {
		// Abandoned in the narrow window after the save check: archive the
		// orphaned item so it never surfaces in a review queue.
		log.WithError(err).Warn("completion rejected, archiving orphaned review item")
		_ = o.reviews.MarkDiscarded(ctx, item.ID, time.Now().UTC())
		o.dropJob(rec.ID)
		return
	}

	o.dropJob(rec.ID)
	o.publish(rec.OwnerID, events.Event{
		RecordingID:     rec.ID,
		Phase:           model.PhaseDone,
		ProgressPercent: 100,
		Status:          "completed",
		ReviewID:        &item.ID,
	})
	log.WithFields(logrus.Fields{
		"review_id":  item.ID,
		"categories": len(item.Categories),
	}).Info("processing completed")
}

func (o *Orchestrator) setPhase(rec *model.Recording, phase model.Phase, progress int) {
	remaining := 0
	o.mu.Lock()
	if job, ok := o.jobs[rec.ID]; ok {
		job.Phase = phase
		if progress > job.ProgressPercent {
			job.ProgressPercent = progress
		}
		total := estimateTotal(rec.DurationSeconds)
		job.EstimatedRemainingSeconds = total * (100 - job.ProgressPercent) / 100
		remaining = job.EstimatedRemainingSeconds
	}
	o.mu.Unlock()

	o.publish(rec.OwnerID, events.Event{
		RecordingID:               rec.ID,
		Phase:                     phase,
		ProgressPercent:           progress,
		EstimatedRemainingSeconds: remaining,
	})
}

// fail classifies and records a terminal failure. The audio blob and any
// saved transcript stay untouched for operator inspection.
func (o *Orchestrator) fail(ctx context.Context, rec *model.Recording, fault *model.Fault) {
	if o.isAbandoned(rec.ID) {
		o.dropJob(rec.ID)
		return
	}
	o.log.WithFields(logrus.Fields{
		"recording_id": rec.ID,
		"kind":         fault.Kind,
	}).WithError(fault).Error("processing failed")

	err := o.recordings.FailProcessing(ctx, rec.ID, fault.Kind, fault.Message, time.Now().UTC())
	if err != nil {
		o.log.WithError(err).WithField("recording_id", rec.ID).Error("failed to persist failure")
	}
	o.dropJob(rec.ID)
	o.publish(rec.OwnerID, events.Event{
		RecordingID: rec.ID,
		Phase:       model.PhaseError,
		Status:      "failed",
		Error:       fault.Message,
	})
}

func (o *Orchestrator) isAbandoned(id uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.abandoned[id]
}

func (o *Orchestrator) dropJob(id uuid.UUID) {
	o.mu.Lock()
	delete(o.jobs, id)
	delete(o.abandoned, id)
	o.mu.Unlock()
}

func (o *Orchestrator) publish(ownerID uuid.UUID, ev events.Event) {
	o.hub.Publish(ownerID, ev)
}

// classify maps adapter and store errors onto the fault taxonomy before
// anything is persisted or surfaced.
func classify(err error) *model.Fault {
	if f, ok := model.AsFault(err); ok {
		return f
	}
	if errors.Is(err, stt.ErrEngineUnavailable) || errors.Is(err, extract.ErrEngineUnavailable) {
		return model.Unavailable(err.Error())
	}
	if errors.Is(err, storage.ErrBlobNotFound) {
		return model.NotFound("audio blob is missing")
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return model.Unavailable(err.Error())
	}
	return &model.Fault{Kind: model.FaultInternal, Message: err.Error()}
}
