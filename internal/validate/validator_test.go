package validate

import (
	"testing"

	"github.com/snditnz/verbumcare-demo-sub003/internal/model"
)

func TestVitalsInRangePass(t *testing.T) {
	val := New()
	errs := val.Category(model.Category{
		Type: model.CategoryVitals,
		Data: map[string]any{
			"systolic":  120.0,
			"diastolic": 80.0,
			"spo2":      97.0,
		},
	})
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestVitalsOutOfRange(t *testing.T) {
	val := New()
	errs := val.Category(model.Category{
		Type: model.CategoryVitals,
		Data: map[string]any{"systolic": 400.0},
	})
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %v", errs)
	}
	fe := errs[0]
	if fe.Field != "systolic" {
		t.Errorf("field = %q, want systolic", fe.Field)
	}
	if fe.Min == nil || *fe.Min != 70 {
		t.Errorf("min = %v, want 70", fe.Min)
	}
	if fe.Max == nil || *fe.Max != 250 {
		t.Errorf("max = %v, want 250", fe.Max)
	}
}

func TestVitalsBoundaries(t *testing.T) {
	val := New()
	cases := []struct {
		name  string
		field string
		value float64
		ok    bool
	}{
		{"systolic lower bound", "systolic", 70, true},
		{"systolic below", "systolic", 69, false},
		{"spo2 upper bound", "spo2", 100, true},
		{"spo2 above", "spo2", 101, false},
		{"temperature low", "temperature", 31.5, false},
		{"temperature normal", "temperature", 36.8, true},
		{"heart rate high", "heart_rate", 251, false},
		{"respiratory rate", "respiratory_rate", 16, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			errs := val.Category(model.Category{
				Type: model.CategoryVitals,
				Data: map[string]any{tc.field: tc.value},
			})
			if tc.ok && len(errs) != 0 {
				t.Fatalf("expected pass, got %v", errs)
			}
			if !tc.ok && len(errs) == 0 {
				t.Fatal("expected a field error")
			}
		})
	}
}

func TestMedicationRequiredFields(t *testing.T) {
	val := New()
	errs := val.Category(model.Category{
		Type: model.CategoryMedication,
		Data: map[string]any{"medication_name": "acetaminophen"},
	})
	if len(errs) != 3 {
		t.Fatalf("expected 3 errors (dose, route, time), got %v", errs)
	}
}

func TestMedicationRouteOneOf(t *testing.T) {
	val := New()
	errs := val.Category(model.Category{
		Type: model.CategoryMedication,
		Data: map[string]any{
			"medication_name": "acetaminophen",
			"dose":            "500mg",
			"route":           "intrathecal",
			"time":            "08:00",
		},
	})
	if len(errs) != 1 || errs[0].Field != "route" {
		t.Fatalf("expected a single route error, got %v", errs)
	}
}

func TestPainScaleRange(t *testing.T) {
	val := New()
	if errs := val.Category(model.Category{
		Type: model.CategoryPain,
		Data: map[string]any{"scale": 7.0, "location": "lower back"},
	}); len(errs) != 0 {
		t.Fatalf("expected pass, got %v", errs)
	}
	if errs := val.Category(model.Category{
		Type: model.CategoryPain,
		Data: map[string]any{"scale": 11.0},
	}); len(errs) != 1 {
		t.Fatalf("expected scale error, got %v", errs)
	}
	if errs := val.Category(model.Category{
		Type: model.CategoryPain,
		Data: map[string]any{"location": "head"},
	}); len(errs) != 1 {
		t.Fatalf("scale is required, got %v", errs)
	}
}

func TestUnknownCategoryType(t *testing.T) {
	val := New()
	errs := val.Category(model.Category{Type: "diagnosis", Data: map[string]any{}})
	if len(errs) != 1 || errs[0].Field != "type" {
		t.Fatalf("expected unknown type error, got %v", errs)
	}
}

func TestWrongFieldType(t *testing.T) {
	val := New()
	errs := val.Category(model.Category{
		Type: model.CategoryVitals,
		Data: map[string]any{"systolic": "one twenty"},
	})
	if len(errs) != 1 || errs[0].Field != "data" {
		t.Fatalf("expected type mismatch error, got %v", errs)
	}
}

// A single failing category blocks the whole item.
func TestItemAllOrNothing(t *testing.T) {
	val := New()
	categories := []model.Category{
		{Type: model.CategoryNote, Data: map[string]any{"text": "patient resting"}},
		{Type: model.CategoryVitals, Data: map[string]any{"spo2": 30.0}},
	}
	errs := val.Item(categories)
	if len(errs) != 1 {
		t.Fatalf("expected the spo2 error to surface, got %v", errs)
	}
	if errs[0].Category != model.CategoryVitals {
		t.Errorf("category = %q, want vitals", errs[0].Category)
	}
}
