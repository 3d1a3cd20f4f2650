package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/snditnz/verbumcare-demo-sub003/internal/model"
)

// ResubmitPolicy layers automatic retry-with-backoff over StartProcessing
// for ServiceUnavailable failures. It lives outside the orchestrator's state
// machine on purpose: the core never retries, this wrapper resets the
// recording to pending and submits a fresh run.
type ResubmitPolicy struct {
	orch           *Orchestrator
	maxAttempts    int
	pollInterval   time.Duration
	initialBackoff time.Duration
	maxBackoff     time.Duration
	log            *logrus.Entry
}

func NewResubmitPolicy(orch *Orchestrator, maxAttempts int, log *logrus.Logger) *ResubmitPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &ResubmitPolicy{
		orch:           orch,
		maxAttempts:    maxAttempts,
		pollInterval:   time.Second,
		initialBackoff: 2 * time.Second,
		maxBackoff:     time.Minute,
		log:            log.WithField("component", "pipeline.policy"),
	}
}

// Run submits the recording and blocks until a terminal state, resubmitting
// after ServiceUnavailable failures with exponential backoff. It returns the
// final status, or an error when the context ends or attempts run out.
func (p *ResubmitPolicy) Run(ctx context.Context, recordingID uuid.UUID, opts StartOptions) (*Status, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.initialBackoff
	bo.MaxInterval = p.maxBackoff

	var last *Status
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if _, err := p.orch.StartProcessing(ctx, recordingID, opts); err != nil {
			return nil, err
		}
		st, err := p.await(ctx, recordingID)
		if err != nil {
			return nil, err
		}
		last = st
		if st.ProcessingStatus == model.ProcessingCompleted || !st.Retryable {
			return st, nil
		}
		if attempt == p.maxAttempts {
			break
		}

		wait := bo.NextBackOff()
		p.log.WithFields(logrus.Fields{
			"recording_id": recordingID,
			"attempt":      attempt,
			"backoff":      wait.String(),
		}).Warn("retryable failure, resubmitting")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return last, ctx.Err()
		}
		if err := p.orch.ResetForRetry(ctx, recordingID); err != nil {
			return last, err
		}
	}
	return last, fmt.Errorf("recording %s still failing after %d attempts", recordingID, p.maxAttempts)
}

func (p *ResubmitPolicy) await(ctx context.Context, recordingID uuid.UUID) (*Status, error) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		st, err := p.orch.GetStatus(ctx, recordingID)
		if err != nil {
			return nil, err
		}
		if st.ProcessingStatus == model.ProcessingCompleted || st.ProcessingStatus == model.ProcessingFailed {
			return st, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
