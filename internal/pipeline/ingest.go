package pipeline

import (
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/settler-hq/settler-edge/internal/models"
	"github.com/settler-hq/settler-edge/internal/store"
)

// EnqueueFunc appends an outbound operation to the durable sync queue.
// Wired to the sync engine's QueueSync by the orchestrator.
type EnqueueFunc func(entityType string, payload models.JSONB) error

// Ingestor runs batches through the pipeline with local job bookkeeping:
// every submission becomes a LocalJob that ends completed or failed, and
// completed batch results are queued for delivery.
type Ingestor struct {
	pipeline *Pipeline
	store    *store.Store
	enqueue  EnqueueFunc
}

// NewIngestor wires the pipeline to the local store and sync queue
func NewIngestor(p *Pipeline, s *store.Store, enqueue EnqueueFunc) *Ingestor {
	return &Ingestor{pipeline: p, store: s, enqueue: enqueue}
}

// IngestBatch processes one batch of raw records. Failures are recorded on
// the job rather than propagated as panics; the returned error mirrors the
// job outcome for the caller.
func (in *Ingestor) IngestBatch(records []map[string]interface{}, schemaHints map[string]string) (*Result, string, error) {
	job := &models.LocalJob{
		ID:      uuid.NewString(),
		JobType: "batch_ingestion",
		Status:  models.JobStatusRunning,
		InputData: models.JSONB{
			"record_count": len(records),
		},
	}
	if err := in.store.CreateJob(job); err != nil {
		return nil, "", fmt.Errorf("failed to create ingestion job: %w", err)
	}

	result, err := in.pipeline.Process(records, schemaHints)
	if err != nil {
		if failErr := in.store.FailJob(job.ID, err); failErr != nil {
			log.Printf("⚠️ Failed to record job failure for %s: %v", job.ID, failErr)
		}
		return nil, job.ID, err
	}

	schemaJSON := make(map[string]interface{}, len(result.InferredSchema))
	for field, fs := range result.InferredSchema {
		schemaJSON[field] = map[string]interface{}{
			"type":     fs.Type,
			"pii_type": fs.PIIType,
		}
	}

	output := models.JSONB{
		"record_count":    len(result.ProcessedData),
		"inferred_schema": schemaJSON,
		"pii_detected":    result.PIIDetected,
	}
	if err := in.store.CompleteJob(job.ID, output); err != nil {
		return nil, job.ID, fmt.Errorf("failed to complete ingestion job: %w", err)
	}

	// Queue the processed (already redacted) batch for delivery. Queue
	// failures don't undo the job: the batch is still usable locally.
	payload := models.JSONB{
		"job_id":          job.ID,
		"records":         result.ProcessedData,
		"inferred_schema": schemaJSON,
		"pii_detected":    result.PIIDetected,
	}
	if err := in.enqueue("batch_ingestion", payload); err != nil {
		log.Printf("⚠️ Failed to queue ingestion result for job %s: %v", job.ID, err)
	}

	return result, job.ID, nil
}
