package models

import (
	"time"

	"gorm.io/datatypes"
)

// LocalCandidate is a proposed match between a source and target record,
// produced by the matching adapter. The ID is generated locally (UUID) and is
// stable across sync retries so the server can upsert idempotently.
// Immutable after creation except for the synced flag, which flips 0->1
// exactly once.
type LocalCandidate struct {
	ID              string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	SourceID        string         `gorm:"type:varchar(255);not null" json:"sourceId"`
	TargetID        string         `gorm:"type:varchar(255);not null" json:"targetId"`
	ConfidenceScore float64        `gorm:"not null" json:"confidenceScore"`
	ScoreMatrix     datatypes.JSON `json:"scoreMatrix"`
	Synced          bool           `gorm:"not null;default:false;index:idx_candidate_synced" json:"synced"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// TableName specifies the table name
func (LocalCandidate) TableName() string {
	return "local_candidates"
}
