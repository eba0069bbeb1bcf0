package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/settler-hq/settler-edge/internal/models"
)

// Endpoint paths of the edge-ai surface
const (
	pathEnroll          = "/api/edge-ai/nodes/enroll"
	pathHeartbeat       = "/api/edge-ai/heartbeat"
	pathCandidateScores = "/api/edge-ai/candidate-scores"
	pathAnomalies       = "/api/edge-ai/anomalies"
	pathBatchIngestion  = "/api/edge-ai/batch-ingestion"
)

// EnrollRequest is the one-time enrollment call
type EnrollRequest struct {
	EnrollmentKey string   `json:"enrollment_key"`
	Name          string   `json:"name"`
	DeviceType    string   `json:"device_type"`
	DeviceOS      string   `json:"device_os"`
	DeviceArch    string   `json:"device_arch"`
	Capabilities  []string `json:"capabilities"`
	Version       string   `json:"version"`
}

// EnrollResponse carries the identity the cloud assigned to this node
type EnrollResponse struct {
	NodeID  string `json:"node_id"`
	NodeKey string `json:"node_key"`
}

// CandidatePayload is the wire shape of one match candidate
type CandidatePayload struct {
	SourceID        string          `json:"source_id"`
	TargetID        string          `json:"target_id"`
	ConfidenceScore float64         `json:"confidence_score"`
	ScoreMatrix     json.RawMessage `json:"score_matrix"`
}

// AnomalyPayload is the wire shape of one anomaly
type AnomalyPayload struct {
	AnomalyType     string       `json:"anomaly_type"`
	Severity        string       `json:"severity"`
	Score           float64      `json:"score"`
	TransactionData models.JSONB `json:"transaction_data"`
}

// Client talks to the cloud edge-ai API. Every request authenticates with
// the node key in the body; there is no session state. All calls share one
// fixed timeout so a hung network can only stall a single timer tick.
type Client struct {
	baseURL    string
	nodeKey    string
	version    string
	httpClient *http.Client
}

// NewClient creates a cloud client. The node key may be empty before
// enrollment; SetNodeKey installs it afterwards.
func NewClient(baseURL, nodeKey, version string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		nodeKey: nodeKey,
		version: version,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetNodeKey installs the key received from enrollment
func (c *Client) SetNodeKey(key string) {
	c.nodeKey = key
}

// Enroll performs the one-time node enrollment
func (c *Client) Enroll(ctx context.Context, req EnrollRequest) (*EnrollResponse, error) {
	var resp EnrollResponse
	if err := c.post(ctx, pathEnroll, req, &resp); err != nil {
		return nil, err
	}
	if resp.NodeKey == "" {
		return nil, fmt.Errorf("enrollment response carried no node key")
	}
	return &resp, nil
}

// Heartbeat reports liveness
func (c *Client) Heartbeat(ctx context.Context, status string) error {
	body := map[string]interface{}{
		"node_key": c.nodeKey,
		"status":   status,
		"version":  c.version,
	}
	return c.post(ctx, pathHeartbeat, body, nil)
}

// PushCandidateScores delivers one batch of match candidates. The call is
// atomic at HTTP granularity: either the whole batch is acknowledged or the
// whole batch failed.
func (c *Client) PushCandidateScores(ctx context.Context, candidates []CandidatePayload) error {
	body := map[string]interface{}{
		"node_key":   c.nodeKey,
		"candidates": candidates,
	}
	return c.post(ctx, pathCandidateScores, body, nil)
}

// PushAnomalies delivers one batch of anomalies
func (c *Client) PushAnomalies(ctx context.Context, anomalies []AnomalyPayload) error {
	body := map[string]interface{}{
		"node_key":  c.nodeKey,
		"anomalies": anomalies,
	}
	return c.post(ctx, pathAnomalies, body, nil)
}

// PushBatch delivers one generic queued operation, routed by entity type
func (c *Client) PushBatch(ctx context.Context, entityType string, payload models.JSONB) error {
	body := map[string]interface{}{
		"node_key":    c.nodeKey,
		"entity_type": entityType,
		"payload":     payload,
	}
	return c.post(ctx, pathBatchIngestion, body, nil)
}

// post sends a JSON body and decodes the JSON response into out when given
func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s returned HTTP %d: %s", path, resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response from %s: %w", path, err)
		}
	}

	return nil
}
