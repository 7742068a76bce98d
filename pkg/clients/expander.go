package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/rag-pipeline/pkg/rag"
)

const expansionPrompt = `Rewrite the user's question into up to 3 alternative search queries that would retrieve relevant documents. Vary the wording and specificity. Respond with a JSON object:
{"expansions": ["...", "..."], "weights": [0.8, 0.6]}
Weights are between 0 and 1 and reflect how close each rewrite stays to the original intent. Do not include the original question itself.`

// GoogleExpander produces weighted query variants for multi-query search.
type GoogleExpander struct {
	llm llms.Model
}

// NewGoogleExpander wraps an already-constructed model client.
func NewGoogleExpander(llm llms.Model) *GoogleExpander {
	return &GoogleExpander{llm: llm}
}

// Expand returns alternative phrasings of the query. Errors are handled by
// the context preparer, which falls back to the original query alone.
func (g *GoogleExpander) Expand(ctx context.Context, query, sessionContext string) (rag.Expansion, error) {
	user := "Question: " + query
	if sessionContext != "" {
		user = "Conversation so far:\n" + sessionContext + "\n\n" + user
	}

	resp, err := g.llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, expansionPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}, llms.WithJSONMode())
	if err != nil {
		return rag.Expansion{}, fmt.Errorf("expansion call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return rag.Expansion{}, fmt.Errorf("expansion returned no choices")
	}

	content := resp.Choices[0].Content
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return rag.Expansion{}, fmt.Errorf("no JSON object in expansion response")
	}

	var expansion rag.Expansion
	if err := json.Unmarshal([]byte(content[start:end+1]), &expansion); err != nil {
		return rag.Expansion{}, fmt.Errorf("parse expansion: %w", err)
	}
	return expansion, nil
}
