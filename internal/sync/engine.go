package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/settler-hq/settler-edge/internal/cloud"
	"github.com/settler-hq/settler-edge/internal/models"
	"github.com/settler-hq/settler-edge/internal/store"
)

// CloudAPI is the slice of the cloud client the engine needs. Narrowed to an
// interface so tests can substitute a fake transport.
type CloudAPI interface {
	PushCandidateScores(ctx context.Context, candidates []cloud.CandidatePayload) error
	PushAnomalies(ctx context.Context, anomalies []cloud.AnomalyPayload) error
	PushBatch(ctx context.Context, entityType string, payload models.JSONB) error
}

// Engine drains unsynced local state to the cloud with at-least-once
// semantics. Rows are marked synced (or deleted, for queue items) only after
// the cloud acknowledged the batch; a crash between delivery and the local
// mark re-delivers on the next pass, which the cloud deduplicates by id.
type Engine struct {
	store      *store.Store
	cloud      CloudAPI
	batchSize  int
	maxRetries int
	offline    bool

	mu         sync.Mutex
	inProgress bool
	lastSync   time.Time
	lastError  string
	pushed     int64
	failed     int64
}

// NewEngine creates a sync engine. In offline mode every Sync call is a no-op
// and local state simply accumulates.
func NewEngine(s *store.Store, c CloudAPI, batchSize, maxRetries int, offline bool) *Engine {
	if batchSize <= 0 {
		batchSize = 50
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Engine{
		store:      s,
		cloud:      c,
		batchSize:  batchSize,
		maxRetries: maxRetries,
		offline:    offline,
	}
}

// QueueSync appends a generic outbound operation for the next sync pass
func (e *Engine) QueueSync(entityType, entityID string, payload models.JSONB) error {
	return e.store.EnqueueSync(&models.SyncQueueItem{
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    payload,
	})
}

// Sync runs one full drain pass: candidates, then anomalies, then the generic
// queue. Overlapping calls collapse; a pass already in flight makes the new
// call return immediately. Partial progress survives an error: whatever was
// acknowledged before the failure stays marked.
func (e *Engine) Sync(ctx context.Context) error {
	if e.offline {
		return nil
	}

	e.mu.Lock()
	if e.inProgress {
		e.mu.Unlock()
		return nil
	}
	e.inProgress = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.inProgress = false
		e.mu.Unlock()
	}()

	err := e.syncCandidates(ctx)
	if err == nil {
		err = e.syncAnomalies(ctx)
	}
	if err == nil {
		err = e.syncQueue(ctx)
	}

	e.mu.Lock()
	e.lastSync = time.Now().UTC()
	if err != nil {
		e.lastError = err.Error()
	} else {
		e.lastError = ""
	}
	e.mu.Unlock()

	return err
}

// syncCandidates pushes unsynced candidates in batches until none remain
func (e *Engine) syncCandidates(ctx context.Context) error {
	for {
		candidates, err := e.store.UnsyncedCandidates(e.batchSize)
		if err != nil {
			return fmt.Errorf("failed to load candidates: %w", err)
		}
		if len(candidates) == 0 {
			return nil
		}

		payloads := make([]cloud.CandidatePayload, 0, len(candidates))
		ids := make([]string, 0, len(candidates))
		for _, c := range candidates {
			payloads = append(payloads, cloud.CandidatePayload{
				SourceID:        c.SourceID,
				TargetID:        c.TargetID,
				ConfidenceScore: c.ConfidenceScore,
				ScoreMatrix:     json.RawMessage(c.ScoreMatrix),
			})
			ids = append(ids, c.ID)
		}

		if err := e.cloud.PushCandidateScores(ctx, payloads); err != nil {
			e.noteFailure(len(payloads))
			return fmt.Errorf("candidate push failed: %w", err)
		}
		if err := e.store.MarkCandidatesSynced(ids); err != nil {
			return fmt.Errorf("failed to mark candidates synced: %w", err)
		}
		e.notePushed(len(ids))

		if len(candidates) < e.batchSize {
			return nil
		}
	}
}

// syncAnomalies pushes unsynced anomalies in batches until none remain
func (e *Engine) syncAnomalies(ctx context.Context) error {
	for {
		anomalies, err := e.store.UnsyncedAnomalies(e.batchSize)
		if err != nil {
			return fmt.Errorf("failed to load anomalies: %w", err)
		}
		if len(anomalies) == 0 {
			return nil
		}

		payloads := make([]cloud.AnomalyPayload, 0, len(anomalies))
		ids := make([]string, 0, len(anomalies))
		for _, a := range anomalies {
			payloads = append(payloads, cloud.AnomalyPayload{
				AnomalyType:     a.AnomalyType,
				Severity:        string(a.Severity),
				Score:           a.Score,
				TransactionData: a.TransactionData,
			})
			ids = append(ids, a.ID)
		}

		if err := e.cloud.PushAnomalies(ctx, payloads); err != nil {
			e.noteFailure(len(payloads))
			return fmt.Errorf("anomaly push failed: %w", err)
		}
		if err := e.store.MarkAnomaliesSynced(ids); err != nil {
			return fmt.Errorf("failed to mark anomalies synced: %w", err)
		}
		e.notePushed(len(ids))

		if len(anomalies) < e.batchSize {
			return nil
		}
	}
}

// syncQueue delivers pending queue items one at a time. A delivered item is
// deleted; a failed one has its retry counter bumped and parks in dead status
// at the ceiling. Unlike the batch pushes, one bad item does not stop the
// scan.
func (e *Engine) syncQueue(ctx context.Context) error {
	items, err := e.store.PendingQueueItems(e.batchSize, e.maxRetries)
	if err != nil {
		return fmt.Errorf("failed to load queue: %w", err)
	}

	var firstErr error
	for i := range items {
		item := &items[i]
		if err := e.cloud.PushBatch(ctx, item.EntityType, item.Payload); err != nil {
			e.noteFailure(1)
			retries, bumpErr := e.store.BumpQueueRetry(item, e.maxRetries, err)
			if bumpErr != nil {
				return fmt.Errorf("failed to record queue retry: %w", bumpErr)
			}
			if retries >= e.maxRetries {
				log.Printf("⚠️ Queue item %d (%s) exceeded %d retries, parked as dead: %v",
					item.ID, item.EntityType, e.maxRetries, err)
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := e.store.DeleteQueueItem(item.ID); err != nil {
			return fmt.Errorf("failed to remove delivered queue item: %w", err)
		}
		e.notePushed(1)
	}

	if firstErr != nil {
		return fmt.Errorf("queue delivery incomplete: %w", firstErr)
	}
	return nil
}

// Flush runs sync passes until nothing unsynced remains or the context
// expires. Used on shutdown to give buffered work one last chance.
func (e *Engine) Flush(ctx context.Context) error {
	if e.offline {
		return nil
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.Sync(ctx); err != nil {
			return err
		}
		pending, err := e.pendingCount()
		if err != nil {
			return err
		}
		if pending == 0 {
			return nil
		}
	}
}

func (e *Engine) pendingCount() (int, error) {
	candidates, err := e.store.UnsyncedCandidates(1)
	if err != nil {
		return 0, err
	}
	anomalies, err := e.store.UnsyncedAnomalies(1)
	if err != nil {
		return 0, err
	}
	items, err := e.store.PendingQueueItems(1, e.maxRetries)
	if err != nil {
		return 0, err
	}
	return len(candidates) + len(anomalies) + len(items), nil
}

func (e *Engine) notePushed(n int) {
	e.mu.Lock()
	e.pushed += int64(n)
	e.mu.Unlock()
}

func (e *Engine) noteFailure(n int) {
	e.mu.Lock()
	e.failed += int64(n)
	e.mu.Unlock()
}

// Status reports the engine's counters for the status surface
func (e *Engine) Status() map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	status := map[string]interface{}{
		"offline":      e.offline,
		"in_progress":  e.inProgress,
		"items_pushed": e.pushed,
		"items_failed": e.failed,
		"last_error":   e.lastError,
		"last_sync_at": nil,
	}
	if !e.lastSync.IsZero() {
		status["last_sync_at"] = e.lastSync.Format(time.RFC3339)
	}
	if dead, err := e.store.CountDeadQueueItems(); err == nil {
		status["dead_letter_items"] = dead
	}
	return status
}
