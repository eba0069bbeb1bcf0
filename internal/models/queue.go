package models

import "time"

// Queue item states. Pending items are eligible for the sync scan; dead items
// exceeded the retry ceiling and are kept only for inspection.
const (
	QueueStatusPending = "pending"
	QueueStatusDead    = "dead"
)

// SyncQueueItem is a generic outbound operation awaiting delivery to the
// cloud. Items are physically deleted on successful delivery; there is no
// "delivered but kept" state. Retries only ever increases.
type SyncQueueItem struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	EntityType   string    `gorm:"type:varchar(100);not null" json:"entityType"`
	EntityID     string    `gorm:"type:varchar(255)" json:"entityId"`
	Action       string    `gorm:"type:varchar(20);not null;default:'upsert'" json:"action"`
	Payload      JSONB     `gorm:"type:text" json:"payload"`
	Retries      int       `gorm:"not null;default:0;index:idx_queue_retries" json:"retries"`
	Status       string    `gorm:"type:varchar(20);not null;default:'pending';index:idx_queue_status" json:"status"`
	ErrorMessage *string   `gorm:"type:text" json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// TableName specifies the table name
func (SyncQueueItem) TableName() string {
	return "sync_queue"
}
