package node

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	gosync "sync"
	"time"

	"github.com/settler-hq/settler-edge/internal/cloud"
	"github.com/settler-hq/settler-edge/internal/config"
	"github.com/settler-hq/settler-edge/internal/database"
	"github.com/settler-hq/settler-edge/internal/handlers"
	"github.com/settler-hq/settler-edge/internal/models"
	"github.com/settler-hq/settler-edge/internal/pipeline"
	"github.com/settler-hq/settler-edge/internal/redact"
	"github.com/settler-hq/settler-edge/internal/scoring"
	"github.com/settler-hq/settler-edge/internal/store"
	"github.com/settler-hq/settler-edge/internal/sync"
	"github.com/settler-hq/settler-edge/internal/utils"
)

// Lifecycle states of the agent
const (
	StateUnenrolled = "unenrolled"
	StateEnrolled   = "enrolled"
	StateRunning    = "running"
	StateStopped    = "stopped"
)

// CloudClient is everything the orchestrator needs from the cloud transport.
// The sync engine consumes the same connection through its narrower CloudAPI
// view.
type CloudClient interface {
	sync.CloudAPI
	Enroll(ctx context.Context, req cloud.EnrollRequest) (*cloud.EnrollResponse, error)
	Heartbeat(ctx context.Context, status string) error
	SetNodeKey(key string)
}

// Agent owns the full local lifecycle: enrollment, the persistent store, the
// processing components and the two background loops. One process runs one
// Agent.
type Agent struct {
	cfg   *config.Config
	cloud CloudClient

	db       *database.DB
	store    *store.Store
	redactor *redact.Service
	ingestor *pipeline.Ingestor
	detector *scoring.AnomalyDetector
	matcher  *scoring.Matcher
	scorer   scoring.Scorer
	engine   *sync.Engine

	controlServer *http.Server

	mu        gosync.Mutex
	state     string
	startedAt time.Time
	stopChan  chan struct{}
	loops     gosync.WaitGroup
}

// New creates an agent with the real cloud transport
func New(cfg *config.Config) *Agent {
	client := cloud.NewClient(cfg.CloudURL, cfg.NodeKey, cfg.Version, cfg.RequestTimeout)
	return NewWithCloud(cfg, client)
}

// NewWithCloud creates an agent with an injected transport. Used by tests.
func NewWithCloud(cfg *config.Config, client CloudClient) *Agent {
	return &Agent{
		cfg:   cfg,
		cloud: client,
		state: StateUnenrolled,
	}
}

// Enroll performs the one-time registration with the cloud and persists the
// returned node key. Enrollment failure is fatal to the caller; there is no
// retry loop because the enrollment key may simply be wrong.
func (a *Agent) Enroll(ctx context.Context, enrollmentKey, name, deviceType string) error {
	if enrollmentKey == "" {
		return fmt.Errorf("enrollment key is required")
	}
	if deviceType == "" {
		deviceType = "edge_agent"
	}

	if _, err := utils.LoadNodeKey(a.cfg.NodeKeyPath()); err == nil {
		return fmt.Errorf("node already enrolled, key exists at %s", a.cfg.NodeKeyPath())
	}

	resp, err := a.cloud.Enroll(ctx, cloud.EnrollRequest{
		EnrollmentKey: enrollmentKey,
		Name:          name,
		DeviceType:    deviceType,
		DeviceOS:      utils.DeviceOS(),
		DeviceArch:    utils.DeviceArch(),
		Capabilities:  utils.DetectCapabilities(),
		Version:       a.cfg.Version,
	})
	if err != nil {
		return fmt.Errorf("enrollment failed: %w", err)
	}

	if err := utils.SaveNodeKey(a.cfg.NodeKeyPath(), resp.NodeKey); err != nil {
		return err
	}
	a.cloud.SetNodeKey(resp.NodeKey)

	a.mu.Lock()
	a.state = StateEnrolled
	a.mu.Unlock()

	log.Printf("✅ Enrolled as node %s", resp.NodeID)
	return nil
}

// Start brings the agent up: opens the store, wires the processing
// components and launches the heartbeat and sync loops plus the localhost
// control API.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.state == StateRunning {
		a.mu.Unlock()
		return fmt.Errorf("agent already running")
	}
	a.mu.Unlock()

	nodeKey := a.cfg.NodeKey
	if nodeKey == "" {
		key, err := utils.LoadNodeKey(a.cfg.NodeKeyPath())
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("node is not enrolled, run enroll first")
			}
			return fmt.Errorf("failed to load node key: %w", err)
		}
		nodeKey = key
	}
	a.cloud.SetNodeKey(nodeKey)

	db, err := database.Open(a.cfg.DatabasePath())
	if err != nil {
		return err
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return fmt.Errorf("schema migration failed: %w", err)
	}
	a.db = db
	a.store = store.New(db)

	a.redactor = redact.NewService()
	a.engine = sync.NewEngine(a.store, a.cloud, a.cfg.BatchSize, a.cfg.MaxRetries, a.cfg.OfflineMode)
	a.ingestor = pipeline.NewIngestor(pipeline.New(a.redactor), a.store, func(entityType string, payload models.JSONB) error {
		return a.engine.QueueSync(entityType, "", payload)
	})
	a.detector = scoring.NewAnomalyDetector(a.store)

	a.scorer = a.buildScorer()
	if err := a.scorer.Load(ctx); err != nil {
		log.Printf("⚠️ Scorer failed to load, falling back to static matching: %v", err)
		a.scorer = scoring.NewStaticScorer()
	}
	a.matcher = scoring.NewMatcher(a.scorer, a.store)

	a.stopChan = make(chan struct{})
	a.loops.Add(2)
	go a.heartbeatLoop()
	go a.syncLoop()

	a.startControlServer(nodeKey)

	a.mu.Lock()
	a.state = StateRunning
	a.startedAt = time.Now().UTC()
	a.mu.Unlock()

	log.Printf("✅ Edge agent started (data: %s, cloud: %s)", a.cfg.DataDir, a.cfg.CloudURL)
	return nil
}

func (a *Agent) buildScorer() scoring.Scorer {
	if a.cfg.Scorer == "gemini" && a.cfg.GeminiAPIKey != "" {
		return scoring.NewGeminiScorer(a.cfg.GeminiAPIKey, a.cfg.GeminiModel)
	}
	return scoring.NewStaticScorer()
}

// Stop shuts the agent down: stops both loops, gives buffered state one
// bounded flush, then closes the store.
func (a *Agent) Stop() error {
	a.mu.Lock()
	if a.state != StateRunning {
		a.mu.Unlock()
		return nil
	}
	a.state = StateStopped
	a.mu.Unlock()

	log.Println("🛑 Stopping edge agent...")
	close(a.stopChan)
	a.loops.Wait()

	if a.controlServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.controlServer.Shutdown(shutdownCtx)
		cancel()
	}

	// One last chance for buffered work, bounded so shutdown cannot hang
	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.engine.Flush(flushCtx); err != nil {
		log.Printf("⚠️ Final flush incomplete, unsynced state kept locally: %v", err)
	}

	if closer, ok := a.scorer.(interface{ Close() }); ok {
		closer.Close()
	}

	err := a.db.Close()
	log.Println("✅ Edge agent stopped")
	return err
}

// heartbeatLoop reports liveness on a fixed interval. A lost heartbeat only
// means the cloud marks the node stale; nothing local depends on it.
func (a *Agent) heartbeatLoop() {
	defer a.loops.Done()
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.runProtected("heartbeat", func(ctx context.Context) error {
				if a.cfg.OfflineMode {
					return nil
				}
				return a.cloud.Heartbeat(ctx, StateRunning)
			})
		case <-a.stopChan:
			return
		}
	}
}

// syncLoop drives the sync engine on a fixed interval
func (a *Agent) syncLoop() {
	defer a.loops.Done()
	ticker := time.NewTicker(a.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.runProtected("sync", a.engine.Sync)
		case <-a.stopChan:
			return
		}
	}
}

// runProtected executes one tick body with panic recovery so a single bad
// tick never takes the loop down with it
func (a *Agent) runProtected(name string, fn func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("⚠️ Recovered panic in %s loop: %v", name, r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.RequestTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		log.Printf("⚠️ %s failed: %v", name, err)
	}
}

// startControlServer exposes the localhost status API
func (a *Agent) startControlServer(nodeKey string) {
	router := handlers.NewRouter(a, nodeKey, a.cfg.Version)
	a.controlServer = &http.Server{
		Addr:    a.cfg.ControlAddr,
		Handler: router,
	}

	go func() {
		if err := a.controlServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("⚠️ Control API unavailable: %v", err)
		}
	}()
}

// Ingest runs one batch through the processing pipeline
func (a *Agent) Ingest(records []map[string]interface{}, hints map[string]string) (*pipeline.Result, string, error) {
	return a.ingestor.IngestBatch(records, hints)
}

// DetectAnomalies evaluates one transaction record
func (a *Agent) DetectAnomalies(record map[string]interface{}) ([]models.LocalAnomaly, error) {
	return a.detector.Detect(record)
}

// Match scores one source record against candidate targets
func (a *Agent) Match(ctx context.Context, source map[string]interface{}, targets []map[string]interface{}) ([]models.LocalCandidate, error) {
	return a.matcher.Match(ctx, source, targets)
}

// Status reports the agent's state for the control API and CLI
func (a *Agent) Status() map[string]interface{} {
	a.mu.Lock()
	state := a.state
	startedAt := a.startedAt
	a.mu.Unlock()

	status := map[string]interface{}{
		"state":   state,
		"version": a.cfg.Version,
		"offline": a.cfg.OfflineMode,
	}
	if !startedAt.IsZero() {
		status["uptime_seconds"] = int64(time.Since(startedAt).Seconds())
	}
	if a.store != nil {
		status["store_size_mb"] = a.store.SizeMB()
		if jobs, err := a.store.CountJobs(); err == nil {
			status["jobs_total"] = jobs
		}
	}
	if a.engine != nil {
		status["sync"] = a.engine.Status()
	}
	return status
}
