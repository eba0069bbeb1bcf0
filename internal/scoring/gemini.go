package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiScorer scores match candidates through the Gemini API. The records it
// sees are already PII-redacted by the ingestion pipeline; raw values never
// reach this adapter.
type GeminiScorer struct {
	apiKey    string
	modelName string

	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGeminiScorer creates an unloaded scorer; the connection is established
// by Load during orchestrator start
func NewGeminiScorer(apiKey, modelName string) *GeminiScorer {
	if modelName == "" {
		modelName = "gemini-2.0-flash"
	}
	return &GeminiScorer{apiKey: apiKey, modelName: modelName}
}

// Load dials the Gemini API and binds the generative model
func (g *GeminiScorer) Load(ctx context.Context) error {
	if g.apiKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is empty")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		return fmt.Errorf("failed to create genai client: %w", err)
	}

	g.client = client
	g.model = client.GenerativeModel(g.modelName)
	return nil
}

// Close releases the API connection
func (g *GeminiScorer) Close() {
	if g.client != nil {
		g.client.Close()
	}
}

// Score asks the model to rate how likely the source matches each target,
// expecting a JSON array back
func (g *GeminiScorer) Score(ctx context.Context, source map[string]interface{}, targets []map[string]interface{}) ([]CandidateScore, error) {
	if g.model == nil {
		return nil, fmt.Errorf("gemini scorer not loaded")
	}

	sourceJSON, err := json.Marshal(source)
	if err != nil {
		return nil, err
	}
	targetsJSON, err := json.Marshal(targets)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(`You are a transaction reconciliation engine.
Compare the source record against each target record and rate the likelihood
that they describe the same transaction.

Source: %s
Targets: %s

Respond with ONLY a JSON array, one element per target, shaped as:
[{"source_id":"...","target_id":"...","confidence":0.0,"matrix":{"field":0.0}}]
Confidence must be between 0 and 1.`, sourceJSON, targetsJSON)

	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("gemini generation error: %w", err)
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("empty response from gemini")
	}

	var fullText string
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			fullText += string(txt)
		}
	}

	return parseScores(fullText, recordID(source))
}

// parseScores extracts the JSON array from a model response that may be
// wrapped in markdown fences or prose
func parseScores(text, sourceID string) ([]CandidateScore, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in model response")
	}

	var scores []CandidateScore
	if err := json.Unmarshal([]byte(text[start:end+1]), &scores); err != nil {
		return nil, fmt.Errorf("failed to parse model response: %w", err)
	}

	for i := range scores {
		if scores[i].SourceID == "" {
			scores[i].SourceID = sourceID
		}
		if scores[i].Confidence < 0 {
			scores[i].Confidence = 0
		}
		if scores[i].Confidence > 1 {
			scores[i].Confidence = 1
		}
	}

	return scores, nil
}
