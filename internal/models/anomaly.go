package models

import "time"

// AnomalySeverity grades how serious a flagged anomaly is
type AnomalySeverity string

const (
	SeverityLow      AnomalySeverity = "low"
	SeverityMedium   AnomalySeverity = "medium"
	SeverityHigh     AnomalySeverity = "high"
	SeverityCritical AnomalySeverity = "critical"
)

// LocalAnomaly is a flagged transaction-level anomaly. TransactionData holds
// the PII-redacted record that triggered the flag; raw values must never be
// stored here. TransactionID is the extracted transaction id (may be empty),
// kept as a column so duplicate detection can scan without unpacking JSON.
type LocalAnomaly struct {
	ID              string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	AnomalyType     string          `gorm:"type:varchar(50);not null" json:"anomalyType"`
	Severity        AnomalySeverity `gorm:"type:varchar(20);not null" json:"severity"`
	Score           float64         `gorm:"not null" json:"score"`
	TransactionID   string          `gorm:"type:varchar(255);index:idx_anomaly_txn" json:"transactionId"`
	TransactionData JSONB           `gorm:"type:text" json:"transactionData"`
	Synced          bool            `gorm:"not null;default:false;index:idx_anomaly_synced" json:"synced"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// TableName specifies the table name
func (LocalAnomaly) TableName() string {
	return "local_anomalies"
}
