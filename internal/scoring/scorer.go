package scoring

import (
	"context"
	"fmt"
	"strings"
)

// CandidateScore is one scored source/target pairing produced by a model
type CandidateScore struct {
	SourceID   string                 `json:"source_id"`
	TargetID   string                 `json:"target_id"`
	Confidence float64                `json:"confidence"`
	Matrix     map[string]interface{} `json:"matrix,omitempty"`
}

// Scorer is the opaque model-execution capability the adapters wrap. Load is
// the (possibly slow) model warm-up triggered by the orchestrator at start;
// Score compares one source record against candidate targets.
type Scorer interface {
	Load(ctx context.Context) error
	Score(ctx context.Context, source map[string]interface{}, targets []map[string]interface{}) ([]CandidateScore, error)
}

// recordID extracts the identifier of a record, trying the common field names
func recordID(record map[string]interface{}) string {
	for _, key := range []string{"id", "transaction_id", "txn_id"} {
		if v, ok := record[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
			if v != nil {
				if s := fmt.Sprintf("%v", v); s != "" && s != "<nil>" {
					return s
				}
			}
		}
	}
	return ""
}

// normalize folds a field value for comparison
func normalize(v interface{}) string {
	return strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", v)))
}
