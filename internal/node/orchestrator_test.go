package node

import (
	"context"
	"fmt"
	"os"
	gosync "sync"
	"testing"
	"time"

	"github.com/settler-hq/settler-edge/internal/cloud"
	"github.com/settler-hq/settler-edge/internal/config"
	"github.com/settler-hq/settler-edge/internal/models"
)

type fakeCloud struct {
	mu         gosync.Mutex
	nodeKey    string
	enrolls    int
	heartbeats int
	batches    []string
	candidates int
	anomalies  int
	enrollErr  error
}

func (f *fakeCloud) Enroll(ctx context.Context, req cloud.EnrollRequest) (*cloud.EnrollResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enrolls++
	if f.enrollErr != nil {
		return nil, f.enrollErr
	}
	if req.EnrollmentKey == "" {
		return nil, fmt.Errorf("missing enrollment key")
	}
	return &cloud.EnrollResponse{NodeID: "node-1", NodeKey: "nk_test"}, nil
}

func (f *fakeCloud) Heartbeat(ctx context.Context, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	return nil
}

func (f *fakeCloud) SetNodeKey(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodeKey = key
}

func (f *fakeCloud) PushCandidateScores(ctx context.Context, candidates []cloud.CandidatePayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates += len(candidates)
	return nil
}

func (f *fakeCloud) PushAnomalies(ctx context.Context, anomalies []cloud.AnomalyPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.anomalies += len(anomalies)
	return nil
}

func (f *fakeCloud) PushBatch(ctx context.Context, entityType string, payload models.JSONB) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, entityType)
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir:           t.TempDir(),
		CloudURL:          "http://cloud.test",
		ControlAddr:       "127.0.0.1:0",
		HeartbeatInterval: time.Hour,
		SyncInterval:      time.Hour,
		BatchSize:         50,
		MaxRetries:        3,
		RequestTimeout:    5 * time.Second,
		Scorer:            "static",
		Version:           "test",
	}
}

func TestEnrollPersistsNodeKey(t *testing.T) {
	cfg := testConfig(t)
	fc := &fakeCloud{}
	agent := NewWithCloud(cfg, fc)

	if err := agent.Enroll(context.Background(), "ek_123", "warehouse-pi", ""); err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}

	info, err := os.Stat(cfg.NodeKeyPath())
	if err != nil {
		t.Fatalf("Node key not persisted: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Node key file must be 0600, got %v", info.Mode().Perm())
	}
	if fc.nodeKey != "nk_test" {
		t.Errorf("Client must adopt the issued key, got %q", fc.nodeKey)
	}

	// A second enrollment is refused while the key exists
	if err := agent.Enroll(context.Background(), "ek_123", "warehouse-pi", ""); err == nil {
		t.Error("Re-enrollment must be rejected")
	}
	if fc.enrolls != 1 {
		t.Errorf("Cloud must see exactly 1 enrollment, got %d", fc.enrolls)
	}
}

func TestEnrollFailureIsFatal(t *testing.T) {
	cfg := testConfig(t)
	fc := &fakeCloud{enrollErr: fmt.Errorf("invalid enrollment key")}
	agent := NewWithCloud(cfg, fc)

	if err := agent.Enroll(context.Background(), "ek_bad", "n", ""); err == nil {
		t.Fatal("Expected enrollment to fail")
	}
	if _, err := os.Stat(cfg.NodeKeyPath()); !os.IsNotExist(err) {
		t.Error("No key file may exist after failed enrollment")
	}
}

func TestStartRequiresEnrollment(t *testing.T) {
	agent := NewWithCloud(testConfig(t), &fakeCloud{})

	if err := agent.Start(context.Background()); err == nil {
		t.Fatal("Start must fail for an unenrolled node")
	}
}

func TestLifecycleAndShutdownFlush(t *testing.T) {
	cfg := testConfig(t)
	fc := &fakeCloud{}
	agent := NewWithCloud(cfg, fc)
	ctx := context.Background()

	if err := agent.Enroll(ctx, "ek_123", "n", ""); err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	if err := agent.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := agent.Status()
	if status["state"] != StateRunning {
		t.Errorf("Expected running state, got %v", status["state"])
	}

	// Ingest a batch; the job and its queue item land in the store
	result, jobID, err := agent.Ingest([]map[string]interface{}{
		{"id": "r1", "email": "a@b.com", "amount": float64(10)},
	}, nil)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if jobID == "" {
		t.Error("Ingest must report a job id")
	}
	if !result.PIIDetected {
		t.Error("Expected PII detection on the email field")
	}

	// An anomalous record lands in the anomaly table
	if _, err := agent.DetectAnomalies(map[string]interface{}{
		"id": "t1", "amount": float64(-5), "date": "2024-01-01T10:00:00",
	}); err != nil {
		t.Fatalf("DetectAnomalies failed: %v", err)
	}

	// Stop flushes buffered state before closing the store
	if err := agent.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if len(fc.batches) != 1 || fc.batches[0] != "batch_ingestion" {
		t.Errorf("Shutdown flush must deliver the queued batch, got %v", fc.batches)
	}
	if fc.anomalies != 1 {
		t.Errorf("Shutdown flush must deliver the anomaly, got %d", fc.anomalies)
	}
}

func TestStopWhenNotRunningIsNoop(t *testing.T) {
	agent := NewWithCloud(testConfig(t), &fakeCloud{})
	if err := agent.Stop(); err != nil {
		t.Errorf("Stop on an idle agent must be a no-op, got %v", err)
	}
}
