package model

import "errors"

// FaultKind classifies failures for both the HTTP layer and the durable
// processing_error column. Adapter-level errors are classified into one of
// these at the orchestrator boundary; nothing below it reaches the API raw.
type FaultKind string

const (
	FaultNotFound           FaultKind = "not_found"
	FaultConflict           FaultKind = "conflict"
	FaultAlreadyProcessed   FaultKind = "already_processed"
	FaultServiceUnavailable FaultKind = "service_unavailable"
	FaultValidationFailed   FaultKind = "validation_failed"
	FaultInvalidInput       FaultKind = "invalid_input"
	FaultInternal           FaultKind = "internal"
)

// FieldError names one offending field of a category payload together with
// the violated bound, so the client can highlight it for correction.
type FieldError struct {
	Category string   `json:"category"`
	Field    string   `json:"field"`
	Message  string   `json:"message"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
}

// Fault is the single error type crossing component boundaries.
type Fault struct {
	Kind      FaultKind    `json:"kind"`
	Message   string       `json:"message"`
	Retryable bool         `json:"retryable"`
	Fields    []FieldError `json:"fields,omitempty"`
}

func (f *Fault) Error() string { return f.Message }

func NotFound(msg string) *Fault {
	return &Fault{Kind: FaultNotFound, Message: msg}
}

func Conflict(msg string) *Fault {
	return &Fault{Kind: FaultConflict, Message: msg}
}

func AlreadyProcessed(msg string) *Fault {
	return &Fault{Kind: FaultAlreadyProcessed, Message: msg}
}

// Unavailable marks a transcription/extraction outage. The job is terminal
// but the caller may resubmit once the recording is reset to pending, hence
// Retryable.
func Unavailable(msg string) *Fault {
	return &Fault{Kind: FaultServiceUnavailable, Message: msg, Retryable: true}
}

func InvalidInput(msg string) *Fault {
	return &Fault{Kind: FaultInvalidInput, Message: msg}
}

func ValidationFailed(fields []FieldError) *Fault {
	return &Fault{
		Kind:    FaultValidationFailed,
		Message: "extracted data failed validation",
		Fields:  fields,
	}
}

// AsFault unwraps err into a *Fault when one is anywhere in the chain.
func AsFault(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// FaultOf returns the fault kind of err, or FaultInternal for plain errors.
func FaultOf(err error) FaultKind {
	if f, ok := AsFault(err); ok {
		return f.Kind
	}
	return FaultInternal
}
