package api

import (
	"context"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/snditnz/verbumcare-demo-sub003/internal/config"
	"github.com/snditnz/verbumcare-demo-sub003/internal/model"
	"github.com/snditnz/verbumcare-demo-sub003/internal/pipeline"
	"github.com/snditnz/verbumcare-demo-sub003/internal/repository"
	"github.com/snditnz/verbumcare-demo-sub003/internal/review"
	"github.com/snditnz/verbumcare-demo-sub003/internal/storage"
	"github.com/snditnz/verbumcare-demo-sub003/internal/stt"
)

// Server holds the handler dependencies. Everything is injected so handlers
// are testable against in-memory fakes.
type Server struct {
	cfg        *config.Config
	recordings repository.RecordingRepository
	blobs      storage.BlobStore
	orch       *pipeline.Orchestrator
	policy     *pipeline.ResubmitPolicy
	reviews    *review.Service
	log        *logrus.Entry
}

func NewServer(
	cfg *config.Config,
	recordings repository.RecordingRepository,
	blobs storage.BlobStore,
	orch *pipeline.Orchestrator,
	policy *pipeline.ResubmitPolicy,
	reviews *review.Service,
	log *logrus.Logger,
) *Server {
	return &Server{
		cfg:        cfg,
		recordings: recordings,
		blobs:      blobs,
		orch:       orch,
		policy:     policy,
		reviews:    reviews,
		log:        log.WithField("component", "api"),
	}
}

// uploadVoice handles POST /api/voice/upload (multipart).
func (s *Server) uploadVoice(c *gin.Context) {
	ownerID, err := uuid.Parse(c.PostForm("owner_id"))
	if err != nil {
		failMsg(c, http.StatusBadRequest, "owner_id must be a valid UUID")
		return
	}

	rctx := model.RecordingContext{Kind: model.ContextGlobal}
	switch kind := c.DefaultPostForm("context_kind", string(model.ContextGlobal)); model.ContextKind(kind) {
	case model.ContextGlobal:
	case model.ContextPatient:
		pid, err := uuid.Parse(c.PostForm("patient_id"))
		if err != nil {
			failMsg(c, http.StatusBadRequest, "patient_id must be a valid UUID when context_kind is patient")
			return
		}
		rctx.Kind = model.ContextPatient
		rctx.PatientID = &pid
	default:
		failMsg(c, http.StatusBadRequest, "context_kind must be patient or global")
		return
	}

	header, err := c.FormFile("audio_file")
	if err != nil {
		failMsg(c, http.StatusBadRequest, "audio_file is required")
		return
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !s.formatAllowed(ext) {
		failMsg(c, http.StatusBadRequest, "unsupported audio format "+ext)
		return
	}
	if header.Size > s.cfg.MaxUploadBytes {
		failMsg(c, http.StatusBadRequest,
			"file exceeds the upload limit of "+strconv.FormatInt(s.cfg.MaxUploadBytes, 10)+" bytes")
		return
	}

	var duration float64
	if v := c.PostForm("duration_seconds"); v != "" {
		duration, err = strconv.ParseFloat(v, 64)
		if err != nil || duration < 0 {
			failMsg(c, http.StatusBadRequest, "duration_seconds must be a non-negative number")
			return
		}
	}

	file, err := header.Open()
	if err != nil {
		failMsg(c, http.StatusBadRequest, "could not read uploaded file")
		return
	}
	defer file.Close()

	rec := &model.Recording{
		ID:               uuid.New(),
		OwnerID:          ownerID,
		Context:          rctx,
		Filename:         header.Filename,
		DurationSeconds:  duration,
		ProcessingStatus: model.ProcessingPending,
		CreatedAt:        time.Now().UTC(),
	}

	ref, err := s.blobs.Save(c.Request.Context(), rec.ID.String(), header.Filename, file, header.Size)
	if err != nil {
		s.log.WithError(err).Error("blob save failed")
		failMsg(c, http.StatusInternalServerError, "failed to store audio")
		return
	}
	rec.AudioRef = ref

	if err := s.recordings.Create(c.Request.Context(), rec); err != nil {
		// Roll the blob back so failed uploads leave nothing behind.
		_ = s.blobs.Delete(c.Request.Context(), ref)
		fail(c, err)
		return
	}

	s.log.WithFields(logrus.Fields{
		"recording_id": rec.ID,
		"owner_id":     ownerID,
		"bytes":        header.Size,
	}).Info("recording uploaded")

	success(c, http.StatusCreated, gin.H{
		"recording": rec,
	})
}

type processRequest struct {
	RecordingID       uuid.UUID `json:"recording_id" binding:"required"`
	Async             *bool     `json:"async"`
	ManualCorrections string    `json:"manual_corrections"`
	Language          string    `json:"language"`
}

// processVoice handles POST /api/voice/process. Async (the default) returns
// 202 with a status URL; sync blocks until the pipeline reaches a terminal
// state, for clients that cannot poll.
func (s *Server) processVoice(c *gin.Context) {
	var req processRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failMsg(c, http.StatusBadRequest, "recording_id is required")
		return
	}

	opts := pipeline.StartOptions{
		CorrectedTranscript: req.ManualCorrections,
		Language:            req.Language,
	}
	job, err := s.orch.StartProcessing(c.Request.Context(), req.RecordingID, opts)
	if err != nil {
		fail(c, err)
		return
	}

	if req.Async == nil || *req.Async {
		success(c, http.StatusAccepted, gin.H{
			"job":       job,
			"statusUrl": "/api/voice/status/" + req.RecordingID.String(),
		})
		return
	}

	st, err := s.awaitTerminal(c, req.RecordingID)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"status": st})
}

func (s *Server) awaitTerminal(c *gin.Context, recordingID uuid.UUID) (*pipeline.Status, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		st, err := s.orch.GetStatus(c.Request.Context(), recordingID)
		if err != nil {
			return nil, err
		}
		if st.ProcessingStatus == model.ProcessingCompleted || st.ProcessingStatus == model.ProcessingFailed {
			return st, nil
		}
		select {
		case <-ticker.C:
		case <-c.Request.Context().Done():
			return nil, model.Unavailable("client disconnected while waiting")
		}
	}
}

// voiceStatus handles GET /api/voice/status/:recordingId.
func (s *Server) voiceStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("recordingId"))
	if err != nil {
		failMsg(c, http.StatusBadRequest, "invalid recording id")
		return
	}
	st, err := s.orch.GetStatus(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"status": st})
}

// reviewQueue handles GET /api/voice/review-queue/:ownerId.
func (s *Server) reviewQueue(c *gin.Context) {
	ownerID, err := uuid.Parse(c.Param("ownerId"))
	if err != nil {
		failMsg(c, http.StatusBadRequest, "invalid owner id")
		return
	}

	var status *model.ReviewStatus
	if v := c.Query("status"); v != "" {
		st := model.ReviewStatus(v)
		switch st {
		case model.ReviewPending, model.ReviewInReview, model.ReviewConfirmed, model.ReviewDiscarded:
			status = &st
		default:
			failMsg(c, http.StatusBadRequest, "unknown status filter "+v)
			return
		}
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	items, err := s.reviews.List(c.Request.Context(), ownerID, status, limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{
		"items":  items,
		"count":  len(items),
		"limit":  limit,
		"offset": offset,
	})
}

type reanalyzeRequest struct {
	EditedTranscript string `json:"edited_transcript" binding:"required"`
}

// reanalyzeReview handles POST /api/voice/review/:id/reanalyze.
func (s *Server) reanalyzeReview(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		failMsg(c, http.StatusBadRequest, "invalid review id")
		return
	}
	var req reanalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failMsg(c, http.StatusBadRequest, "edited_transcript is required")
		return
	}
	item, err := s.reviews.Reanalyze(c.Request.Context(), id, req.EditedTranscript)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"item": item})
}

type confirmRequest struct {
	OwnerID   uuid.UUID        `json:"owner_id" binding:"required"`
	FinalData []model.Category `json:"final_data"`
}

// confirmReview handles POST /api/voice/review/:id/confirm.
func (s *Server) confirmReview(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		failMsg(c, http.StatusBadRequest, "invalid review id")
		return
	}
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failMsg(c, http.StatusBadRequest, "owner_id is required")
		return
	}
	refs, err := s.reviews.Confirm(c.Request.Context(), id, req.FinalData, req.OwnerID)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{
		"insertedRecordRefs": refs,
		"status":             model.ReviewConfirmed,
	})
}

// discardReview handles DELETE /api/voice/review/:id.
func (s *Server) discardReview(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		failMsg(c, http.StatusBadRequest, "invalid review id")
		return
	}
	item, err := s.reviews.Discard(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"item": item})
}

// deleteRecording handles DELETE /api/voice/recordings/:id. The audio blob
// and the row go together; an in-flight recording must be abandoned first.
func (s *Server) deleteRecording(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		failMsg(c, http.StatusBadRequest, "invalid recording id")
		return
	}
	rec, err := s.recordings.GetByID(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	if rec.ProcessingStatus == model.ProcessingInProgress {
		fail(c, model.Conflict("recording is processing, abandon the job first"))
		return
	}
	if err := s.blobs.Delete(c.Request.Context(), rec.AudioRef); err != nil {
		s.log.WithError(err).WithField("recording_id", id).Warn("blob delete failed")
	}
	if err := s.recordings.Delete(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"deleted": id})
}

// abandonJob handles POST /api/voice/abandon/:recordingId.
func (s *Server) abandonJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("recordingId"))
	if err != nil {
		failMsg(c, http.StatusBadRequest, "invalid recording id")
		return
	}
	if err := s.orch.Abandon(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"abandoned": id})
}

// retryRecording handles POST /api/voice/retry/:recordingId. It resets a
// failed recording to pending and resubmits it once; with auto=true the
// resubmit policy keeps retrying retryable failures with backoff in the
// background.
func (s *Server) retryRecording(c *gin.Context) {
	id, err := uuid.Parse(c.Param("recordingId"))
	if err != nil {
		failMsg(c, http.StatusBadRequest, "invalid recording id")
		return
	}

	var req struct {
		Auto bool `json:"auto"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			failMsg(c, http.StatusBadRequest, "malformed retry request body")
			return
		}
	}

	if err := s.orch.ResetForRetry(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}

	if req.Auto {
		go func() {
			if _, err := s.policy.Run(context.Background(), id, pipeline.StartOptions{}); err != nil {
				s.log.WithError(err).WithField("recording_id", id).Warn("auto resubmit gave up")
			}
		}()
		success(c, http.StatusAccepted, gin.H{
			"auto":      true,
			"statusUrl": "/api/voice/status/" + id.String(),
		})
		return
	}

	job, err := s.orch.StartProcessing(c.Request.Context(), id, pipeline.StartOptions{})
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusAccepted, gin.H{
		"job":       job,
		"statusUrl": "/api/voice/status/" + id.String(),
	})
}

func (s *Server) formatAllowed(ext string) bool {
	for _, allowed := range s.cfg.AllowedFormats {
		if ext == allowed {
			return true
		}
	}
	return false
}

// health handles GET /health with a live check of the transcription sidecar.
func (s *Server) health(transcriber stt.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		whisper := "ok"
		overall := "ok"
		if err := transcriber.Ping(ctx); err != nil {
			whisper = err.Error()
			overall = "degraded"
		}
		c.JSON(http.StatusOK, gin.H{
			"status": overall,
			"checks": gin.H{
				"transcription": whisper,
			},
			"time": time.Now().UTC(),
		})
	}
}
