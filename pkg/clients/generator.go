package clients

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/rag-pipeline/pkg/rag"
)

// GoogleGenerator implements the generation capability over a langchaingo
// Google AI model.
type GoogleGenerator struct {
	llm   llms.Model
	model string
}

// NewGoogleGenerator wraps an already-constructed model client.
func NewGoogleGenerator(llm llms.Model, model string) *GoogleGenerator {
	return &GoogleGenerator{llm: llm, model: model}
}

// Generate answers the query from the retrieved documents.
func (g *GoogleGenerator) Generate(ctx context.Context, query string, docs []rag.SearchHit, opts rag.GenerationOptions) (rag.GenerationResult, error) {
	prompt := rag.BuildPrompt(query, docs, opts.SessionContext)

	resp, err := g.llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	})
	if err != nil {
		return rag.GenerationResult{}, fmt.Errorf("generation call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return rag.GenerationResult{}, fmt.Errorf("generation returned no choices")
	}

	choice := resp.Choices[0]
	answer := strings.TrimSpace(choice.Content)
	if answer == "" {
		return rag.GenerationResult{}, fmt.Errorf("generation returned empty answer")
	}

	return rag.GenerationResult{
		Answer:     answer,
		TokensUsed: tokensFrom(choice.GenerationInfo, answer),
		ModelUsed:  g.model,
		Provider:   "google",
	}, nil
}

// tokensFrom reads the token count from the provider's generation info,
// falling back to a rough rune estimate.
func tokensFrom(info map[string]any, answer string) int {
	for _, key := range []string{"total_tokens", "output_tokens", "candidates_token_count"} {
		switch v := info[key].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return len([]rune(answer)) / 4
}
