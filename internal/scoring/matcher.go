package scoring

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/settler-hq/settler-edge/internal/models"
	"github.com/settler-hq/settler-edge/internal/store"
	"gorm.io/datatypes"
)

// Matcher wraps a Scorer and normalizes its output into LocalCandidate rows.
// Candidate ids are generated here (UUID) and stay stable across sync
// retries so the server can upsert idempotently.
type Matcher struct {
	scorer Scorer
	store  *store.Store
}

// NewMatcher creates a matcher on top of a scoring capability
func NewMatcher(scorer Scorer, s *store.Store) *Matcher {
	return &Matcher{scorer: scorer, store: s}
}

// Match scores one source record against candidate targets and persists the
// resulting candidates unsynced. Scoring failures propagate; nothing is
// persisted in that case.
func (m *Matcher) Match(ctx context.Context, source map[string]interface{}, targets []map[string]interface{}) ([]models.LocalCandidate, error) {
	if len(targets) == 0 {
		return nil, nil
	}

	scores, err := m.scorer.Score(ctx, source, targets)
	if err != nil {
		return nil, fmt.Errorf("scoring failed: %w", err)
	}

	candidates := make([]models.LocalCandidate, 0, len(scores))
	for _, score := range scores {
		matrix, err := json.Marshal(score.Matrix)
		if err != nil {
			matrix = []byte("{}")
		}

		confidence := score.Confidence
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 1 {
			confidence = 1
		}

		candidates = append(candidates, models.LocalCandidate{
			ID:              uuid.NewString(),
			SourceID:        score.SourceID,
			TargetID:        score.TargetID,
			ConfidenceScore: confidence,
			ScoreMatrix:     datatypes.JSON(matrix),
		})
	}

	if err := m.store.InsertCandidates(candidates); err != nil {
		return nil, fmt.Errorf("failed to persist candidates: %w", err)
	}

	return candidates, nil
}
