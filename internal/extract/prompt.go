package extract

import "fmt"

const systemPrompt = `You are a clinical documentation assistant for nursing voice memos.
You must be precise, neutral and strictly fact-based.
NEVER invent information. ONLY use what is present in the transcript.
The transcript may be in Japanese or English; keep extracted free-text values
in the transcript's language, but numeric values and field names as specified.
Return valid JSON only.`

const outputSchema = `{
  "categories": [
    {
      "type": "vitals | medication | pain_assessment | intake_output | note",
      "confidence": 0.0,
      "data": { },
      "field_confidences": { "fieldName": 0.0 }
    }
  ],
  "overall_confidence": 0.0
}`

const categoryRules = `Category data fields:
- vitals: systolic, diastolic, heart_rate, temperature (Celsius), spo2, respiratory_rate. Numbers only, omit fields not mentioned.
- medication: medication_name, dose, route (one of: oral, IV, IM, SC, topical, inhalation, sublingual, rectal), time, notes.
- pain_assessment: scale (0-10 number), location, description.
- intake_output: intake_ml, output_ml, kind (meal/fluid/urine/drain), time.
- note: text (anything clinically relevant that fits no other category).

Rules:
- Emit one category object per distinct observation; multiple objects of the same type are allowed.
- confidence and every field_confidences value are between 0.0 and 1.0.
- Do NOT emit a category whose data would be empty.
- overall_confidence reflects the weakest load-bearing extraction, not an average of everything.`

func buildUserPrompt(transcript string, ec Context) string {
	scope := "This memo is a global (shift-level) note, not tied to one patient."
	if ec.Recording.Kind == "patient" && ec.Recording.PatientID != nil {
		scope = fmt.Sprintf("This memo concerns a single patient (id %s).", ec.Recording.PatientID)
	}
	return fmt.Sprintf(`Transcript:
"""
%s
"""

%s

Extract all clinical data into the following JSON structure. Every field is required; use an empty array if nothing was said.

%s

%s`, transcript, scope, outputSchema, categoryRules)
}
