// Package validate gates review-item confirmation. Every category must pass
// before any extracted value reaches permanent clinical records.
package validate

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/snditnz/verbumcare-demo-sub003/internal/model"
)

// Typed payloads per category. Pointers distinguish "absent" from zero;
// bounds live in the validate tags so the error reporter can echo them back.
type vitalsPayload struct {
	Systolic        *float64 `json:"systolic" validate:"omitempty,gte=70,lte=250"`
	Diastolic       *float64 `json:"diastolic" validate:"omitempty,gte=40,lte=150"`
	HeartRate       *float64 `json:"heart_rate" validate:"omitempty,gte=30,lte=250"`
	Temperature     *float64 `json:"temperature" validate:"omitempty,gte=32,lte=45"`
	SpO2            *float64 `json:"spo2" validate:"omitempty,gte=50,lte=100"`
	RespiratoryRate *float64 `json:"respiratory_rate" validate:"omitempty,gte=5,lte=60"`
}

type medicationPayload struct {
	MedicationName string `json:"medication_name" validate:"required"`
	Dose           string `json:"dose" validate:"required"`
	Route          string `json:"route" validate:"required,oneof=oral IV IM SC topical inhalation sublingual rectal"`
	Time           string `json:"time" validate:"required"`
	Notes          string `json:"notes"`
}

type painPayload struct {
	Scale       *float64 `json:"scale" validate:"required,gte=0,lte=10"`
	Location    string   `json:"location"`
	Description string   `json:"description"`
}

type intakeOutputPayload struct {
	IntakeML *float64 `json:"intake_ml" validate:"omitempty,gte=0,lte=10000"`
	OutputML *float64 `json:"output_ml" validate:"omitempty,gte=0,lte=10000"`
	Kind     string   `json:"kind"`
	Time     string   `json:"time"`
}

type notePayload struct {
	Text string `json:"text" validate:"required"`
}

// Validator checks extracted category payloads against clinical bounds.
type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	v := validator.New()
	// Report errors under JSON field names, matching what clients sent.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{v: v}
}

// Category validates a single category and returns its field-level errors.
func (val *Validator) Category(c model.Category) []model.FieldError {
	var payload any
	switch c.Type {
	case model.CategoryVitals:
		payload = &vitalsPayload{}
	case model.CategoryMedication:
		payload = &medicationPayload{}
	case model.CategoryPain:
		payload = &painPayload{}
	case model.CategoryIntakeOutput:
		payload = &intakeOutputPayload{}
	case model.CategoryNote:
		payload = &notePayload{}
	default:
		return []model.FieldError{{
			Category: c.Type,
			Field:    "type",
			Message:  fmt.Sprintf("unknown category type %q", c.Type),
		}}
	}

	raw, err := json.Marshal(c.Data)
	if err != nil {
		return []model.FieldError{{Category: c.Type, Field: "data", Message: "category data is not serializable"}}
	}
	if err := json.Unmarshal(raw, payload); err != nil {
		return []model.FieldError{{
			Category: c.Type,
			Field:    "data",
			Message:  fmt.Sprintf("category data has wrong field types: %v", err),
		}}
	}

	err = val.v.Struct(payload)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []model.FieldError{{Category: c.Type, Field: "data", Message: err.Error()}}
	}

	out := make([]model.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, describe(c.Type, fe, payload))
	}
	return out
}

// Item validates every category of a review item; a single failing category
// blocks the whole confirmation.
func (val *Validator) Item(categories []model.Category) []model.FieldError {
	var all []model.FieldError
	for _, c := range categories {
		all = append(all, val.Category(c)...)
	}
	return all
}

func describe(category string, fe validator.FieldError, payload any) model.FieldError {
	fieldErr := model.FieldError{Category: category, Field: fe.Field()}
	switch fe.Tag() {
	case "required":
		fieldErr.Message = fmt.Sprintf("%s is required and must be non-empty", fe.Field())
	case "oneof":
		fieldErr.Message = fmt.Sprintf("%s must be one of: %s", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gte", "lte":
		min, max := bounds(payload, fe.StructField())
		fieldErr.Min = min
		fieldErr.Max = max
		fieldErr.Message = fmt.Sprintf("%s value %v is outside the valid range %s-%s",
			fe.Field(), fe.Value(), trimFloat(min), trimFloat(max))
	default:
		fieldErr.Message = fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
	return fieldErr
}

// bounds pulls the gte/lte parameters back out of the struct tag so the
// response can state the full permitted range, not only the violated side.
func bounds(payload any, structField string) (*float64, *float64) {
	t := reflect.TypeOf(payload)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	sf, ok := t.FieldByName(structField)
	if !ok {
		return nil, nil
	}
	var min, max *float64
	for _, rule := range strings.Split(sf.Tag.Get("validate"), ",") {
		if v, found := strings.CutPrefix(rule, "gte="); found {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				min = &f
			}
		}
		if v, found := strings.CutPrefix(rule, "lte="); found {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				max = &f
			}
		}
	}
	return min, max
}

func trimFloat(f *float64) string {
	if f == nil {
		return "?"
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}
