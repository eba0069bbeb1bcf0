package models

import "time"

// JobStatus defines the lifecycle state of a local processing job
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// LocalJob represents one ingestion/processing unit executed on this node.
// Jobs are never deleted by the agent; retention is handled externally.
type LocalJob struct {
	ID         string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	JobType    string    `gorm:"type:varchar(50);not null" json:"jobType"`
	Status     JobStatus `gorm:"type:varchar(20);not null;default:'running';index:idx_job_status" json:"status"`
	InputData  JSONB     `gorm:"type:text" json:"inputData"`
	OutputData JSONB     `gorm:"type:text" json:"outputData"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// TableName specifies the table name
func (LocalJob) TableName() string {
	return "local_jobs"
}
