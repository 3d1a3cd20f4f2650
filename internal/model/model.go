package model

import (
	"time"

	"github.com/google/uuid"
)

// ProcessingStatus is the durable processing state of a recording. The same
// value is mirrored from the orchestrator's in-memory job so it survives a
// process restart.
type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "pending"
	ProcessingInProgress ProcessingStatus = "processing"
	ProcessingCompleted  ProcessingStatus = "completed"
	ProcessingFailed     ProcessingStatus = "failed"
)

// Phase is one step of the forward-only processing state machine.
type Phase string

const (
	PhaseQueued       Phase = "queued"
	PhaseTranscribing Phase = "transcribing"
	PhaseExtracting   Phase = "extracting"
	PhaseSaving       Phase = "saving"
	PhaseDone         Phase = "done"
	PhaseError        Phase = "error"
)

// ReviewStatus is the lifecycle of a review item.
type ReviewStatus string

const (
	ReviewPending   ReviewStatus = "pending"
	ReviewInReview  ReviewStatus = "in_review"
	ReviewConfirmed ReviewStatus = "confirmed"
	ReviewDiscarded ReviewStatus = "discarded"
)

// ContextKind tells whether a recording was taken for a specific patient or
// as a global (shift-level) note.
type ContextKind string

const (
	ContextPatient ContextKind = "patient"
	ContextGlobal  ContextKind = "global"
)

// RecordingContext is copied onto the review item at creation time so later
// changes to the recording never move an item under a reviewer.
type RecordingContext struct {
	Kind      ContextKind `json:"kind"`
	PatientID *uuid.UUID  `json:"patient_id,omitempty"`
}

// Recording is a persisted audio upload plus its processing-state metadata.
type Recording struct {
	ID                    uuid.UUID        `json:"id"`
	OwnerID               uuid.UUID        `json:"owner_id"`
	Context               RecordingContext `json:"context"`
	AudioRef              string           `json:"-"`
	Filename              string           `json:"filename"`
	DurationSeconds       float64          `json:"duration_seconds"`
	ProcessingStatus      ProcessingStatus `json:"processing_status"`
	ProcessingStartedAt   *time.Time       `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time       `json:"processing_completed_at,omitempty"`
	ProcessingError       *string          `json:"processing_error,omitempty"`
	ProcessingErrorKind   *FaultKind       `json:"processing_error_kind,omitempty"`
	Transcript            *string          `json:"transcript,omitempty"`
	TranscriptLanguage    *string          `json:"transcript_language,omitempty"`
	CreatedAt             time.Time        `json:"created_at"`
}

// Category is one typed slice of extracted clinical data within a review
// item. Data is kept schemaless here; the validator decodes it into typed
// rules per category type before confirmation.
type Category struct {
	Type             string             `json:"type"`
	Confidence       float64            `json:"confidence"`
	Data             map[string]any     `json:"data"`
	FieldConfidences map[string]float64 `json:"field_confidences,omitempty"`
}

// Known category types produced by the extraction engine.
const (
	CategoryVitals       = "vitals"
	CategoryMedication   = "medication"
	CategoryPain         = "pain_assessment"
	CategoryIntakeOutput = "intake_output"
	CategoryNote         = "note"
)

// ReviewItem is the confidence-scored structured output of one pipeline run,
// awaiting (or having received) human review.
type ReviewItem struct {
	ID                 uuid.UUID        `json:"id"`
	RecordingID        uuid.UUID        `json:"recording_id"`
	OwnerID            uuid.UUID        `json:"owner_id"`
	Context            RecordingContext `json:"context"`
	Transcript         string           `json:"transcript"`
	TranscriptLanguage string           `json:"transcript_language"`
	Categories         []Category       `json:"extracted_data"`
	OverallConfidence  float64          `json:"overall_confidence"`
	Status             ReviewStatus     `json:"status"`
	ReanalysisCount    int              `json:"reanalysis_count"`
	ModelVersion       string           `json:"model_version"`
	CreatedAt          time.Time        `json:"created_at"`
	ConfirmedAt        *time.Time       `json:"confirmed_at,omitempty"`
	DiscardedAt        *time.Time       `json:"discarded_at,omitempty"`
}
