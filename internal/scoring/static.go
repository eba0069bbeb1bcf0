package scoring

import "context"

// StaticScorer is a deterministic field-overlap scorer. It is the default
// when no model backend is configured and the reference implementation used
// by tests: same inputs, same scores, no network.
type StaticScorer struct{}

// NewStaticScorer creates the deterministic scorer
func NewStaticScorer() *StaticScorer {
	return &StaticScorer{}
}

// Load is a no-op; there is no model to warm up
func (s *StaticScorer) Load(ctx context.Context) error {
	return nil
}

// Score compares the source against each target field by field. The
// confidence is the fraction of shared fields whose normalized values match;
// the matrix records the per-field outcome.
func (s *StaticScorer) Score(ctx context.Context, source map[string]interface{}, targets []map[string]interface{}) ([]CandidateScore, error) {
	sourceID := recordID(source)
	scores := make([]CandidateScore, 0, len(targets))

	for _, target := range targets {
		matrix := make(map[string]interface{})
		compared := 0
		matched := 0

		for field, sv := range source {
			tv, ok := target[field]
			if !ok {
				continue
			}
			compared++
			if normalize(sv) == normalize(tv) {
				matched++
				matrix[field] = 1.0
			} else {
				matrix[field] = 0.0
			}
		}

		confidence := 0.0
		if compared > 0 {
			confidence = float64(matched) / float64(compared)
		}

		scores = append(scores, CandidateScore{
			SourceID:   sourceID,
			TargetID:   recordID(target),
			Confidence: confidence,
			Matrix:     matrix,
		})
	}

	return scores, nil
}
