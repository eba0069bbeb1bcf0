package store

import (
	"fmt"

	"github.com/settler-hq/settler-edge/internal/database"
	"github.com/settler-hq/settler-edge/internal/models"
)

// Store exposes the typed, synchronous operations the agent performs against
// the local database. Every call runs to completion on the store's single
// connection before the caller proceeds; callers never interleave operations
// against the same row.
type Store struct {
	db *database.DB
}

// New creates a store on top of an open database
func New(db *database.DB) *Store {
	return &Store{db: db}
}

// SizeMB reports the approximate on-disk size of the store
func (s *Store) SizeMB() float64 {
	return s.db.SizeMB()
}

// ---- Jobs ----

// CreateJob inserts a new job in running state
func (s *Store) CreateJob(job *models.LocalJob) error {
	if job.Status == "" {
		job.Status = models.JobStatusRunning
	}
	return s.db.Create(job).Error
}

// CompleteJob marks a job completed and records its output
func (s *Store) CompleteJob(id string, output models.JSONB) error {
	return s.db.Model(&models.LocalJob{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      models.JobStatusCompleted,
			"output_data": output,
		}).Error
}

// FailJob marks a job failed with the error serialized into output_data
func (s *Store) FailJob(id string, jobErr error) error {
	return s.db.Model(&models.LocalJob{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      models.JobStatusFailed,
			"output_data": models.JSONB{"error": jobErr.Error()},
		}).Error
}

// GetJob fetches a single job by id
func (s *Store) GetJob(id string) (*models.LocalJob, error) {
	var job models.LocalJob
	if err := s.db.First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// CountJobs returns the total number of jobs recorded locally
func (s *Store) CountJobs() (int64, error) {
	var n int64
	err := s.db.Model(&models.LocalJob{}).Count(&n).Error
	return n, err
}

// ---- Candidates ----

// InsertCandidates persists a batch of match candidates
func (s *Store) InsertCandidates(candidates []models.LocalCandidate) error {
	if len(candidates) == 0 {
		return nil
	}
	return s.db.Create(&candidates).Error
}

// UnsyncedCandidates returns up to limit candidates awaiting delivery,
// oldest first
func (s *Store) UnsyncedCandidates(limit int) ([]models.LocalCandidate, error) {
	var candidates []models.LocalCandidate
	err := s.db.Where("synced = ?", false).
		Order("created_at ASC").
		Limit(limit).
		Find(&candidates).Error
	return candidates, err
}

// MarkCandidatesSynced flips synced to true for the given ids. The flag is
// monotonic: nothing ever sets it back.
func (s *Store) MarkCandidatesSynced(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.Model(&models.LocalCandidate{}).
		Where("id IN ?", ids).
		Update("synced", true).Error
}

// ---- Anomalies ----

// InsertAnomalies persists a batch of detected anomalies
func (s *Store) InsertAnomalies(anomalies []models.LocalAnomaly) error {
	if len(anomalies) == 0 {
		return nil
	}
	return s.db.Create(&anomalies).Error
}

// UnsyncedAnomalies returns up to limit anomalies awaiting delivery,
// oldest first
func (s *Store) UnsyncedAnomalies(limit int) ([]models.LocalAnomaly, error) {
	var anomalies []models.LocalAnomaly
	err := s.db.Where("synced = ?", false).
		Order("created_at ASC").
		Limit(limit).
		Find(&anomalies).Error
	return anomalies, err
}

// MarkAnomaliesSynced flips synced to true for the given ids
func (s *Store) MarkAnomaliesSynced(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.Model(&models.LocalAnomaly{}).
		Where("id IN ?", ids).
		Update("synced", true).Error
}

// CountAnomaliesForTransaction counts anomalies already recorded for a
// transaction id; used by duplicate detection
func (s *Store) CountAnomaliesForTransaction(txnID string) (int64, error) {
	if txnID == "" {
		return 0, nil
	}
	var n int64
	err := s.db.Model(&models.LocalAnomaly{}).
		Where("transaction_id = ?", txnID).
		Count(&n).Error
	return n, err
}

// ---- Sync queue ----

// EnqueueSync appends a generic outbound operation to the sync queue
func (s *Store) EnqueueSync(item *models.SyncQueueItem) error {
	if item.EntityType == "" {
		return fmt.Errorf("queue item requires an entity type")
	}
	if item.Action == "" {
		item.Action = "upsert"
	}
	item.Status = models.QueueStatusPending
	return s.db.Create(item).Error
}

// PendingQueueItems returns up to limit pending items whose retry count is
// still below the ceiling, oldest first. Dead items are never returned.
func (s *Store) PendingQueueItems(limit, maxRetries int) ([]models.SyncQueueItem, error) {
	var items []models.SyncQueueItem
	err := s.db.Where("status = ? AND retries < ?", models.QueueStatusPending, maxRetries).
		Order("created_at ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

// DeleteQueueItem removes a delivered item; success leaves no trace in the
// queue by design
func (s *Store) DeleteQueueItem(id uint) error {
	return s.db.Delete(&models.SyncQueueItem{}, id).Error
}

// BumpQueueRetry increments an item's retry counter after a failed delivery
// and moves it to dead status once the ceiling is reached. Returns the new
// retry count.
func (s *Store) BumpQueueRetry(item *models.SyncQueueItem, maxRetries int, deliveryErr error) (int, error) {
	item.Retries++
	updates := map[string]interface{}{"retries": item.Retries}
	if deliveryErr != nil {
		msg := deliveryErr.Error()
		updates["error_message"] = &msg
	}
	if item.Retries >= maxRetries {
		item.Status = models.QueueStatusDead
		updates["status"] = models.QueueStatusDead
	}
	err := s.db.Model(&models.SyncQueueItem{}).Where("id = ?", item.ID).Updates(updates).Error
	return item.Retries, err
}

// DeadQueueItems returns items that exceeded the retry ceiling
func (s *Store) DeadQueueItems() ([]models.SyncQueueItem, error) {
	var items []models.SyncQueueItem
	err := s.db.Where("status = ?", models.QueueStatusDead).
		Order("created_at ASC").
		Find(&items).Error
	return items, err
}

// CountDeadQueueItems returns how many items are parked in dead status
func (s *Store) CountDeadQueueItems() (int64, error) {
	var n int64
	err := s.db.Model(&models.SyncQueueItem{}).
		Where("status = ?", models.QueueStatusDead).
		Count(&n).Error
	return n, err
}

// Touch is a cheap liveness probe used by the status surface
func (s *Store) Touch() error {
	var one int
	return s.db.Raw("SELECT 1").Scan(&one).Error
}
