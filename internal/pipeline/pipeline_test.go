package pipeline

import (
	"regexp"
	"strings"
	"testing"

	"github.com/settler-hq/settler-edge/internal/redact"
)

func newTestPipeline() *Pipeline {
	return New(redact.NewService())
}

func TestProcess_SchemaAndRedaction(t *testing.T) {
	p := newTestPipeline()

	records := []map[string]interface{}{
		{"email": "a@b.com", "amount": float64(50), "date": "2024-01-01"},
	}

	result, err := p.Process(records, nil)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if !result.PIIDetected {
		t.Error("Expected piiDetected to be true")
	}

	schema := result.InferredSchema
	if schema["email"].PIIType != "email" {
		t.Errorf("Expected email field tagged as email PII, got %q", schema["email"].PIIType)
	}
	if schema["amount"].Type != "number" {
		t.Errorf("Expected amount inferred as number, got %q", schema["amount"].Type)
	}
	if schema["date"].Type != "date" {
		t.Errorf("Expected date inferred as date, got %q", schema["date"].Type)
	}

	processed := result.ProcessedData[0]
	emailToken, _ := processed["email"].(string)
	pattern := regexp.MustCompile(`^\[REDACTED_EMAIL_[0-9a-f]{16}\]$`)
	if !pattern.MatchString(emailToken) {
		t.Errorf("Expected redaction token for email, got %q", emailToken)
	}
	if processed["amount"] != float64(50) {
		t.Errorf("Amount should be unchanged, got %v", processed["amount"])
	}
	if processed["date"] != "2024-01-01" {
		t.Errorf("Date should be unchanged, got %v", processed["date"])
	}
}

func TestProcess_PIIBoundary(t *testing.T) {
	p := newTestPipeline()

	records := []map[string]interface{}{
		{
			"customer_email": "carol@example.com",
			"card_number":    "4111 1111 1111 1111",
			"ssn":            "123-45-6789",
			"phone":          "+1 (555) 123-4567",
			"full_name":      "Carol Jones",
			"amount":         float64(12.5),
		},
	}

	result, err := p.Process(records, nil)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	processed := result.ProcessedData[0]
	for field, raw := range records[0] {
		if field == "amount" {
			continue
		}
		if processed[field] == raw {
			t.Errorf("Field %s still carries its raw value after processing", field)
		}
		token, ok := processed[field].(string)
		if !ok || !strings.HasPrefix(token, "[REDACTED_") {
			t.Errorf("Field %s not redacted: %v", field, processed[field])
		}
	}
}

func TestProcess_HintsOverrideInference(t *testing.T) {
	p := newTestPipeline()

	records := []map[string]interface{}{
		{"code": float64(42), "flag": true},
	}
	hints := map[string]string{"code": "string"}

	result, err := p.Process(records, hints)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if result.InferredSchema["code"].Type != "string" {
		t.Errorf("Hint should override inference, got %q", result.InferredSchema["code"].Type)
	}
	if result.InferredSchema["flag"].Type != "boolean" {
		t.Errorf("Expected boolean, got %q", result.InferredSchema["flag"].Type)
	}
}

func TestProcess_FirstRecordProbe(t *testing.T) {
	p := newTestPipeline()

	// The second record's differing type does not change the schema: only
	// the first record is probed.
	records := []map[string]interface{}{
		{"amount": float64(10)},
		{"amount": "not a number"},
	}

	result, err := p.Process(records, nil)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if result.InferredSchema["amount"].Type != "number" {
		t.Errorf("Schema should come from the first record, got %q", result.InferredSchema["amount"].Type)
	}
}

func TestProcess_EmptyBatch(t *testing.T) {
	p := newTestPipeline()

	result, err := p.Process(nil, nil)
	if err != nil {
		t.Fatalf("Process failed on empty batch: %v", err)
	}
	if result.PIIDetected {
		t.Error("Empty batch cannot contain PII")
	}
	if len(result.ProcessedData) != 0 {
		t.Errorf("Expected no processed records, got %d", len(result.ProcessedData))
	}
}

func TestDetectPII_ValueHeuristics(t *testing.T) {
	cases := []struct {
		field string
		value interface{}
		want  string
	}{
		{"contact", "a@b.com", "email"},
		{"pan", "4111111111111111", "credit_card"},
		{"tax_ref", "987-65-4321", "ssn"},
		{"contact_number", "555 123 4567", "phone"},
		{"full_name", "Ann Lee", "name"},
		{"full_name", "Madonna", ""},
		{"date", "2024-01-01", ""},
		{"timestamp", "2024-01-01T10:00:00", ""},
		{"amount", float64(100), ""},
		{"note", "hello world but not a name field", ""},
	}

	for _, tc := range cases {
		if got := detectPII(tc.field, tc.value); got != tc.want {
			t.Errorf("detectPII(%q, %v) = %q, want %q", tc.field, tc.value, got, tc.want)
		}
	}
}

func TestDetectPII_EmbeddedInFreeText(t *testing.T) {
	cases := []struct {
		field string
		value string
		want  string
	}{
		{"note", "reach me at a@b.com thanks", "email"},
		{"memo", "ssn is 123-45-6789 on file", "ssn"},
		{"comment", "card on file: 4111 1111 1111 1111 exp 12/26", "credit_card"},
		{"note", "delivered on 2024-01-01 without issue", ""},
	}

	for _, tc := range cases {
		if got := detectPII(tc.field, tc.value); got != tc.want {
			t.Errorf("detectPII(%q, %q) = %q, want %q", tc.field, tc.value, got, tc.want)
		}
	}
}

func TestProcess_RedactsEmbeddedPII(t *testing.T) {
	p := newTestPipeline()

	records := []map[string]interface{}{
		{"note": "reach me at a@b.com thanks", "amount": float64(10)},
	}

	result, err := p.Process(records, nil)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if !result.PIIDetected {
		t.Error("Expected piiDetected for PII embedded in free text")
	}
	note, _ := result.ProcessedData[0]["note"].(string)
	if !strings.HasPrefix(note, "[REDACTED_EMAIL_") {
		t.Errorf("Free-text field with an embedded email must be redacted, got %q", note)
	}
}
