package scoring

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/settler-hq/settler-edge/internal/models"
	"github.com/settler-hq/settler-edge/internal/store"
)

// Anomaly type names as delivered to the cloud
const (
	AnomalyDuplicate        = "duplicate_transaction"
	AnomalyAmountMismatch   = "amount_mismatch"
	AnomalyMissingFields    = "missing_fields"
	AnomalyPatternDeviation = "pattern_deviation"
)

var nonNumeric = regexp.MustCompile(`[^0-9.\-]`)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// AnomalyDetector applies the transaction heuristics and persists the flags.
// The checks are independent: one record can yield anything from zero to
// four anomalies. Records handed in here must already be PII-redacted; the
// detector stores transaction_data verbatim.
type AnomalyDetector struct {
	store *store.Store
}

// NewAnomalyDetector creates a detector backed by the local store
func NewAnomalyDetector(s *store.Store) *AnomalyDetector {
	return &AnomalyDetector{store: s}
}

// Detect evaluates one record, persists any flags unsynced and returns them
func (d *AnomalyDetector) Detect(record map[string]interface{}) ([]models.LocalAnomaly, error) {
	txnID := recordID(record)
	amount := extractAmount(record)
	txnTime, dateExtracted := extractDate(record)

	var anomalies []models.LocalAnomaly

	flag := func(anomalyType string, severity models.AnomalySeverity, score float64) {
		anomalies = append(anomalies, models.LocalAnomaly{
			ID:              uuid.NewString(),
			AnomalyType:     anomalyType,
			Severity:        severity,
			Score:           score,
			TransactionID:   txnID,
			TransactionData: models.JSONB(record),
		})
	}

	// Duplicate: the same transaction id was already flagged locally
	if txnID != "" {
		seen, err := d.store.CountAnomaliesForTransaction(txnID)
		if err != nil {
			return nil, fmt.Errorf("duplicate scan failed: %w", err)
		}
		if seen > 0 {
			flag(AnomalyDuplicate, models.SeverityMedium, 0.8)
		}
	}

	// Amount bounds. An unparseable amount suppresses this check entirely.
	if amount != nil {
		switch {
		case *amount < 0:
			flag(AnomalyAmountMismatch, models.SeverityMedium, 0.7)
		case *amount > 100000:
			flag(AnomalyAmountMismatch, models.SeverityHigh, 0.8)
		case *amount == 0:
			flag(AnomalyAmountMismatch, models.SeverityLow, 0.5)
		}
	}

	// Required fields
	missing := 0
	if txnID == "" {
		missing++
	}
	if amount == nil {
		missing++
	}
	if !dateExtracted {
		missing++
	}
	if missing > 0 {
		severity := models.SeverityMedium
		if missing > 2 {
			severity = models.SeverityHigh
		}
		flag(AnomalyMissingFields, severity, 0.6)
	}

	// Pattern deviation
	if amount == nil || !dateExtracted {
		flag(AnomalyPatternDeviation, models.SeverityMedium, 0.6)
	} else if hour := txnTime.Hour(); hour < 6 || hour >= 22 {
		flag(AnomalyPatternDeviation, models.SeverityLow, 0.4)
	}

	if err := d.store.InsertAnomalies(anomalies); err != nil {
		return nil, fmt.Errorf("failed to persist anomalies: %w", err)
	}

	return anomalies, nil
}

// extractAmount pulls a numeric amount from the usual field names, coercing
// strings by stripping non-numeric characters. Returns nil when nothing
// parseable is found, which suppresses the amount checks rather than
// erroring.
func extractAmount(record map[string]interface{}) *float64 {
	for _, key := range []string{"amount", "total", "value"} {
		v, ok := record[key]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			return &n
		case float32:
			f := float64(n)
			return &f
		case int:
			f := float64(n)
			return &f
		case int64:
			f := float64(n)
			return &f
		case string:
			cleaned := nonNumeric.ReplaceAllString(n, "")
			if cleaned == "" {
				continue
			}
			if f, err := strconv.ParseFloat(cleaned, 64); err == nil {
				return &f
			}
		}
	}
	return nil
}

// extractDate parses the record's date field against the accepted layouts
func extractDate(record map[string]interface{}) (time.Time, bool) {
	v, ok := record["date"]
	if !ok || v == nil {
		return time.Time{}, false
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
