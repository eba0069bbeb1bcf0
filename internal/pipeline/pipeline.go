package pipeline

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/settler-hq/settler-edge/internal/redact"
)

// Field value patterns used by PII detection. These are heuristics applied
// per field name and value; a hit on either side flags the field. Email, card
// and SSN match as substrings so PII embedded in free text is still caught;
// only the phone heuristic requires the whole value to look like a number.
var (
	emailPattern = regexp.MustCompile(`[^\s@]+@[^\s@]+\.[^\s@]+`)
	cardPattern  = regexp.MustCompile(`\d{13,19}`)
	ssnPattern   = regexp.MustCompile(`\d{3}-\d{2}-\d{4}`)
	phonePattern = regexp.MustCompile(`^\+?[\d\s\-().]{7,20}$`)
	digitRun     = regexp.MustCompile(`\d`)
	isoDateLike  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}([T ].*)?$`)
)

// FieldSchema describes one field of the inferred batch schema
type FieldSchema struct {
	Type    string `json:"type"`              // number, boolean, date, string, unknown
	PIIType string `json:"piiType,omitempty"` // email, credit_card, ssn, phone, name
}

// Result is the outcome of processing one batch of raw records
type Result struct {
	ProcessedData  []map[string]interface{}
	InferredSchema map[string]FieldSchema
	PIIDetected    bool
}

// Pipeline infers a schema for incoming record batches, tags PII fields and
// routes their values through the redaction service before anything is
// persisted or queued
type Pipeline struct {
	redactor *redact.Service
}

// New creates a pipeline bound to a redaction service
func New(redactor *redact.Service) *Pipeline {
	return &Pipeline{redactor: redactor}
}

// Process infers the batch schema, redacts flagged values and returns the
// processed copies. The input records are not mutated.
//
// Schema inference probes only the first record; later records in a
// heterogeneous batch keep the first record's field types.
func (p *Pipeline) Process(records []map[string]interface{}, schemaHints map[string]string) (*Result, error) {
	if len(records) == 0 {
		return &Result{
			ProcessedData:  []map[string]interface{}{},
			InferredSchema: map[string]FieldSchema{},
		}, nil
	}

	schema := p.inferSchema(records[0], schemaHints)

	result := &Result{
		ProcessedData:  make([]map[string]interface{}, 0, len(records)),
		InferredSchema: schema,
	}

	for _, record := range records {
		processed := make(map[string]interface{}, len(record))
		for field, value := range record {
			piiType := detectPII(field, value)
			if piiType != "" {
				result.PIIDetected = true
				processed[field] = p.redactor.Redact(stringify(value), piiType)
			} else {
				processed[field] = value
			}
		}
		result.ProcessedData = append(result.ProcessedData, processed)
	}

	return result, nil
}

// inferSchema derives field types from the first record, with hints taking
// precedence, and records the PII classification seen on the probe record
func (p *Pipeline) inferSchema(probe map[string]interface{}, hints map[string]string) map[string]FieldSchema {
	schema := make(map[string]FieldSchema, len(probe))
	for field, value := range probe {
		fs := FieldSchema{Type: inferType(value)}
		if hint, ok := hints[field]; ok && hint != "" {
			fs.Type = hint
		}
		fs.PIIType = detectPII(field, value)
		schema[field] = fs
	}
	return schema
}

// inferType classifies a single probe value
func inferType(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return "unknown"
	case bool:
		return "boolean"
	case float64, float32, int, int32, int64, uint, uint32, uint64:
		return "number"
	case json.Number:
		return "number"
	case string:
		if isoDateLike.MatchString(v) {
			return "date"
		}
		return "string"
	default:
		return "unknown"
	}
}

// detectPII classifies a field as PII from its name and value. The checks run
// in a fixed order; the first hit wins.
func detectPII(field string, value interface{}) string {
	name := strings.ToLower(field)
	str, isString := value.(string)

	if strings.Contains(name, "email") || (isString && emailPattern.MatchString(str)) {
		return "email"
	}

	if strings.Contains(name, "card") {
		return "credit_card"
	}
	if isString {
		stripped := strings.Join(strings.Fields(str), "")
		if cardPattern.MatchString(stripped) {
			return "credit_card"
		}
	}

	if strings.Contains(name, "ssn") || (isString && ssnPattern.MatchString(str)) {
		return "ssn"
	}

	if strings.Contains(name, "phone") {
		return "phone"
	}
	// Date strings fall inside the loose phone character class; they are not
	// phone numbers.
	if isString && phonePattern.MatchString(str) &&
		len(digitRun.FindAllString(str, -1)) >= 7 &&
		!isoDateLike.MatchString(str) {
		return "phone"
	}

	if strings.Contains(name, "name") && isString && len(strings.Fields(str)) >= 2 {
		return "name"
	}

	return ""
}

// stringify coerces a flagged value for redaction; non-string PII (rare, e.g.
// numeric card fields) is rendered the way JSON would print it
func stringify(value interface{}) string {
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", value)
}
