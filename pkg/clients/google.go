// Package clients constructs the Google AI model clients used by the
// pipeline: one for answer generation, one for routing classification and
// quality evaluation.
package clients

import (
	"context"
	"fmt"
	"os"

	"github.com/tmc/langchaingo/llms/googleai"
)

// ModelType is an enum for the available Google AI models.
type ModelType string

const (
	// GenerationModel is the default model for answer generation.
	GenerationModel ModelType = "gemini-3-flash-preview"
	// ClassifierModel is the cheaper model used for routing classification
	// and answer quality evaluation.
	ClassifierModel ModelType = "gemini-3-flash-preview"
	// ProModel is the larger model for agent mode.
	ProModel ModelType = "gemini-3-pro-preview"
)

// GoogleAi returns a langchaingo client for the given model.
// See https://ai.google.dev/gemini-api/docs/models/gemini for possible models
func GoogleAi(ctx context.Context, model ModelType) (*googleai.GoogleAI, error) {
	apiKey := os.Getenv("GOOGLE_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("GOOGLE_API_KEY is not set")
	}

	switch model {
	case GenerationModel, ProModel:
	default:
		return nil, fmt.Errorf("invalid model type: %s", model)
	}

	llm, err := googleai.New(ctx, googleai.WithAPIKey(apiKey), googleai.WithDefaultModel(string(model)))
	if err != nil {
		return nil, fmt.Errorf("create google ai client: %w", err)
	}

	return llm, nil
}
