package scoring

import (
	"testing"

	"github.com/settler-hq/settler-edge/internal/database"
	"github.com/settler-hq/settler-edge/internal/models"
	"github.com/settler-hq/settler-edge/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := database.OpenMemory()
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Failed to migrate schema: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return store.New(db)
}

func TestDetect_NegativeAmount(t *testing.T) {
	d := NewAnomalyDetector(newTestStore(t))

	anomalies, err := d.Detect(map[string]interface{}{
		"id": "t1", "amount": float64(-10), "date": "2024-01-01T10:00:00",
	})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if len(anomalies) != 1 {
		t.Fatalf("Expected exactly 1 anomaly, got %d", len(anomalies))
	}
	a := anomalies[0]
	if a.AnomalyType != AnomalyAmountMismatch {
		t.Errorf("Expected %s, got %s", AnomalyAmountMismatch, a.AnomalyType)
	}
	if a.Severity != models.SeverityMedium {
		t.Errorf("Expected medium severity, got %s", a.Severity)
	}
	if a.Score != 0.7 {
		t.Errorf("Expected score 0.7, got %v", a.Score)
	}
}

func TestDetect_LargeAmount(t *testing.T) {
	d := NewAnomalyDetector(newTestStore(t))

	anomalies, err := d.Detect(map[string]interface{}{
		"id": "t1", "amount": float64(150000), "date": "2024-01-01T10:00:00",
	})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if len(anomalies) != 1 {
		t.Fatalf("Expected exactly 1 anomaly, got %d", len(anomalies))
	}
	a := anomalies[0]
	if a.AnomalyType != AnomalyAmountMismatch || a.Severity != models.SeverityHigh || a.Score != 0.8 {
		t.Errorf("Expected amount_mismatch/high/0.8, got %s/%s/%v", a.AnomalyType, a.Severity, a.Score)
	}
}

func TestDetect_ZeroAmount(t *testing.T) {
	d := NewAnomalyDetector(newTestStore(t))

	anomalies, err := d.Detect(map[string]interface{}{
		"id": "t1", "amount": float64(0), "date": "2024-01-01T10:00:00",
	})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if len(anomalies) != 1 {
		t.Fatalf("Expected exactly 1 anomaly, got %d", len(anomalies))
	}
	a := anomalies[0]
	if a.AnomalyType != AnomalyAmountMismatch || a.Severity != models.SeverityLow || a.Score != 0.5 {
		t.Errorf("Expected amount_mismatch/low/0.5, got %s/%s/%v", a.AnomalyType, a.Severity, a.Score)
	}
}

func TestDetect_MissingID(t *testing.T) {
	d := NewAnomalyDetector(newTestStore(t))

	anomalies, err := d.Detect(map[string]interface{}{
		"amount": float64(10), "date": "2024-01-01T10:00:00",
	})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if len(anomalies) != 1 {
		t.Fatalf("Expected exactly 1 anomaly, got %d", len(anomalies))
	}
	a := anomalies[0]
	if a.AnomalyType != AnomalyMissingFields {
		t.Errorf("Expected %s, got %s", AnomalyMissingFields, a.AnomalyType)
	}
	if a.Severity != models.SeverityMedium {
		t.Errorf("One missing field is medium severity, got %s", a.Severity)
	}
	if a.Score != 0.6 {
		t.Errorf("Expected score 0.6, got %v", a.Score)
	}
}

func TestDetect_AllFieldsMissing(t *testing.T) {
	d := NewAnomalyDetector(newTestStore(t))

	anomalies, err := d.Detect(map[string]interface{}{"memo": "no structure at all"})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	var missing *models.LocalAnomaly
	var pattern *models.LocalAnomaly
	for i := range anomalies {
		switch anomalies[i].AnomalyType {
		case AnomalyMissingFields:
			missing = &anomalies[i]
		case AnomalyPatternDeviation:
			pattern = &anomalies[i]
		}
	}

	if missing == nil {
		t.Fatal("Expected a missing_fields anomaly")
	}
	if missing.Severity != models.SeverityHigh {
		t.Errorf("Three missing fields is high severity, got %s", missing.Severity)
	}
	if pattern == nil {
		t.Fatal("Expected a pattern_deviation anomaly for unextractable amount/date")
	}
	if pattern.Score != 0.6 {
		t.Errorf("Expected pattern score 0.6, got %v", pattern.Score)
	}
}

func TestDetect_OffHours(t *testing.T) {
	d := NewAnomalyDetector(newTestStore(t))

	anomalies, err := d.Detect(map[string]interface{}{
		"id": "t1", "amount": float64(10), "date": "2024-01-01T03:30:00",
	})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if len(anomalies) != 1 {
		t.Fatalf("Expected exactly 1 anomaly, got %d", len(anomalies))
	}
	a := anomalies[0]
	if a.AnomalyType != AnomalyPatternDeviation || a.Score != 0.4 {
		t.Errorf("Expected pattern_deviation/0.4, got %s/%v", a.AnomalyType, a.Score)
	}
}

func TestDetect_Duplicate(t *testing.T) {
	s := newTestStore(t)
	d := NewAnomalyDetector(s)

	record := map[string]interface{}{
		"id": "dup-1", "amount": float64(-5), "date": "2024-01-01T10:00:00",
	}

	// First pass flags the amount only
	first, err := d.Detect(record)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	for _, a := range first {
		if a.AnomalyType == AnomalyDuplicate {
			t.Error("First sighting must not be a duplicate")
		}
	}

	// Second pass sees the stored anomaly for the same transaction id
	second, err := d.Detect(record)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	var dup *models.LocalAnomaly
	for i := range second {
		if second[i].AnomalyType == AnomalyDuplicate {
			dup = &second[i]
		}
	}
	if dup == nil {
		t.Fatal("Expected a duplicate anomaly on the second sighting")
	}
	if dup.Severity != models.SeverityMedium || dup.Score != 0.8 {
		t.Errorf("Expected duplicate medium/0.8, got %s/%v", dup.Severity, dup.Score)
	}
}

func TestDetect_StringAmountCoercion(t *testing.T) {
	d := NewAnomalyDetector(newTestStore(t))

	anomalies, err := d.Detect(map[string]interface{}{
		"id": "t9", "amount": "$-42.50", "date": "2024-01-01T12:00:00",
	})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if len(anomalies) != 1 {
		t.Fatalf("Expected exactly 1 anomaly, got %d", len(anomalies))
	}
	if anomalies[0].AnomalyType != AnomalyAmountMismatch {
		t.Errorf("Coerced string amount should trip the amount check, got %s", anomalies[0].AnomalyType)
	}
}

func TestDetect_UnparseableAmountSuppressesCheck(t *testing.T) {
	d := NewAnomalyDetector(newTestStore(t))

	anomalies, err := d.Detect(map[string]interface{}{
		"id": "t10", "amount": "n/a", "date": "2024-01-01T12:00:00",
	})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	for _, a := range anomalies {
		if a.AnomalyType == AnomalyAmountMismatch {
			t.Error("Unparseable amount must suppress the amount check, not flag it")
		}
	}
}
