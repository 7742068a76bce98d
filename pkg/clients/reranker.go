package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/rag-pipeline/pkg/rag"
)

const rerankPrompt = `You rank document passages by relevance to a question. Respond with a JSON object:
{"ranking": [{"index": 1, "score": 0.92}, ...]}
Indices are 1-based positions from the provided list, ordered most relevant first. Scores are between 0 and 1. Omit passages that are irrelevant.`

// GoogleReranker reorders retrieved passages with a pointwise LLM scoring
// call. The rerank coordinator handles failure and circuit state; this
// adapter only produces an ordered, rescored list.
type GoogleReranker struct {
	llm llms.Model
}

// NewGoogleReranker wraps an already-constructed model client.
func NewGoogleReranker(llm llms.Model) *GoogleReranker {
	return &GoogleReranker{llm: llm}
}

// Rerank returns the topN most relevant hits, most relevant first, with
// scores replaced by the model's relevance scores scaled to [0,100].
func (g *GoogleReranker) Rerank(ctx context.Context, query string, hits []rag.SearchHit, topN int) ([]rag.SearchHit, error) {
	var sb strings.Builder
	sb.WriteString("Question: " + query + "\n\nPassages:\n")
	for i, h := range hits {
		fmt.Fprintf(&sb, "[%d] %s\n\n", i+1, passage(h.Content))
	}

	resp, err := g.llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, rerankPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, sb.String()),
	}, llms.WithJSONMode())
	if err != nil {
		return nil, fmt.Errorf("rerank call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("rerank returned no choices")
	}

	content := resp.Choices[0].Content
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in rerank response")
	}

	var parsed struct {
		Ranking []struct {
			Index int     `json:"index"`
			Score float64 `json:"score"`
		} `json:"ranking"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("parse rerank response: %w", err)
	}

	reranked := make([]rag.SearchHit, 0, len(parsed.Ranking))
	seen := make(map[int]bool)
	for _, r := range parsed.Ranking {
		idx := r.Index - 1
		if idx < 0 || idx >= len(hits) || seen[idx] {
			continue
		}
		seen[idx] = true
		hit := hits[idx]
		hit.Score = r.Score * 100
		reranked = append(reranked, hit)
		if len(reranked) == topN {
			break
		}
	}
	if len(reranked) == 0 {
		return nil, fmt.Errorf("rerank response referenced no valid passages")
	}
	return reranked, nil
}

// passage truncates long content so the rerank prompt stays bounded.
func passage(content string) string {
	runes := []rune(content)
	if len(runes) <= 600 {
		return content
	}
	return string(runes[:600]) + "..."
}
