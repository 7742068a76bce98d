package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/mikeboe/rag-pipeline/pkg/rag"
)

// GoogleEvaluator scores an answer against its retrieved context using the
// Gemini API with a structured response schema, so parsing never depends
// on prompt discipline.
type GoogleEvaluator struct {
	client *genai.Client
	model  string
}

// NewGoogleEvaluator creates the evaluator.
func NewGoogleEvaluator(ctx context.Context, model, apiKey string) (*GoogleEvaluator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini API client: %w", err)
	}
	return &GoogleEvaluator{client: client, model: model}, nil
}

var qualitySchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"relevance":    {Type: genai.TypeNumber, Description: "How well the answer addresses the question, 0 to 1."},
		"grounding":    {Type: genai.TypeNumber, Description: "How well every claim is supported by the context, 0 to 1."},
		"completeness": {Type: genai.TypeNumber, Description: "Whether all parts of the question are answered, 0 to 1."},
		"confidence":   {Type: genai.TypeNumber, Description: "Overall confidence in the answer, 0 to 1."},
		"reasoning":    {Type: genai.TypeString},
	},
	Required: []string{"relevance", "grounding", "completeness", "confidence"},
}

// Evaluate returns the four sub-scores. The overall score is computed by
// the caller; this adapter never sets it.
func (e *GoogleEvaluator) Evaluate(ctx context.Context, query, answer string, docs []rag.SearchHit) (rag.Quality, error) {
	var sb strings.Builder
	sb.WriteString("Evaluate the answer to the question against the retrieved context.\n\n")
	sb.WriteString("Question: " + query + "\n\nAnswer:\n" + answer + "\n\nContext:\n")
	for i, doc := range docs {
		fmt.Fprintf(&sb, "[%d] %s\n\n", i+1, doc.Content)
	}

	resp, err := e.client.Models.GenerateContent(ctx, e.model, []*genai.Content{
		{Parts: []*genai.Part{{Text: sb.String()}}},
	}, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   qualitySchema,
	})
	if err != nil {
		return rag.Quality{}, fmt.Errorf("quality evaluation call: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return rag.Quality{}, fmt.Errorf("quality evaluation returned no candidates")
	}

	rawJSON := ""
	for _, p := range resp.Candidates[0].Content.Parts {
		rawJSON += p.Text
	}

	var quality rag.Quality
	if err := json.Unmarshal([]byte(rawJSON), &quality); err != nil {
		return rag.Quality{}, fmt.Errorf("parse quality evaluation: %w", err)
	}
	clampQuality(&quality)
	return quality, nil
}

func clampQuality(q *rag.Quality) {
	for _, f := range []*float64{&q.Relevance, &q.Grounding, &q.Completeness, &q.Confidence} {
		if *f < 0 {
			*f = 0
		}
		if *f > 1 {
			*f = 1
		}
	}
}
