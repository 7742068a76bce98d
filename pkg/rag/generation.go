package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mikeboe/rag-pipeline/pkg/resilience"
)

// GenerationConfig tunes the generation stage.
type GenerationConfig struct {
	Timeout time.Duration
}

// GenerationCoordinator calls the generation capability through a circuit
// breaker and always produces a GenerationResult: when generation fails
// entirely it falls back to an answer built from the top retrieved document,
// or the fixed apology when no document exists.
type GenerationCoordinator struct {
	generator Generator
	breaker   *resilience.Breaker
	config    GenerationConfig
	logger    *slog.Logger
}

// NewGenerationCoordinator wires the coordinator.
func NewGenerationCoordinator(generator Generator, breakers *resilience.Registry, config GenerationConfig) *GenerationCoordinator {
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	return &GenerationCoordinator{
		generator: generator,
		breaker:   breakers.Get(BreakerGeneration),
		config:    config,
		logger:    slog.Default().With("component", "generation"),
	}
}

// Generate produces the answer for the query from the retrieved documents.
// Timeout, invalid input and request failures are distinguished for breaker
// accounting but all degrade to the content-based fallback.
func (c *GenerationCoordinator) Generate(ctx context.Context, query string, docs []SearchHit, sessionContext string) (GenerationResult, error) {
	if strings.TrimSpace(query) == "" {
		return GenerationResult{}, fmt.Errorf("%w: empty query", ErrInvalidInput)
	}

	start := time.Now()
	result, err := c.breaker.Call(ctx,
		func(ctx context.Context) (any, error) {
			genCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
			defer cancel()
			res, err := c.generator.Generate(genCtx, query, docs, GenerationOptions{
				SessionContext: sessionContext,
				Timeout:        c.config.Timeout,
			})
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					return nil, fmt.Errorf("%w: %v", ErrGenerationTimeout, err)
				}
				return nil, err
			}
			return res, nil
		},
		func(ctx context.Context) (any, error) {
			return c.fallbackAnswer(docs), nil
		},
	)
	if err != nil {
		// Breaker had no effective fallback path; degrade locally.
		c.logger.Error("generation failed, using document fallback", "error", err)
		return c.fallbackAnswer(docs), nil
	}

	generated, ok := result.(GenerationResult)
	if !ok {
		return c.fallbackAnswer(docs), nil
	}
	if generated.GenerationTimeSeconds == 0 {
		generated.GenerationTimeSeconds = time.Since(start).Seconds()
	}
	return generated, nil
}

// fallbackAnswer builds a degraded answer from the best retrieved document.
func (c *GenerationCoordinator) fallbackAnswer(docs []SearchHit) GenerationResult {
	answer := ApologyMessage
	if len(docs) > 0 && strings.TrimSpace(docs[0].Content) != "" {
		excerpt := docs[0].Content
		runes := []rune(excerpt)
		if len(runes) > 500 {
			excerpt = string(runes[:500]) + "..."
		}
		answer = fmt.Sprintf("I couldn't generate a full answer, but the most relevant document says:\n\n%s", excerpt)
	}
	return GenerationResult{
		Answer:   answer,
		Provider: "fallback",
	}
}

// BuildPrompt assembles the generation prompt from the query, the retrieved
// documents and the optional session context. Exported for the concrete
// generator adapters.
func BuildPrompt(query string, docs []SearchHit, sessionContext string) string {
	var sb strings.Builder
	sb.WriteString("You are a helpful assistant. Answer the question using only the provided context. If the context does not contain the answer, say so.\n\n")
	if sessionContext != "" {
		sb.WriteString("Conversation so far:\n")
		sb.WriteString(sessionContext)
		sb.WriteString("\n\n")
	}
	if len(docs) > 0 {
		sb.WriteString("Context:\n")
		for i, doc := range docs {
			sb.WriteString(fmt.Sprintf("[%d] %s\n\n", i+1, doc.Content))
		}
	}
	sb.WriteString("Question: ")
	sb.WriteString(query)
	sb.WriteString("\n\nAnswer:")
	return sb.String()
}
