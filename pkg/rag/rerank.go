package rag

import (
	"context"
	"log/slog"
	"time"

	"github.com/mikeboe/rag-pipeline/pkg/resilience"
)

// RerankConfig tunes the optional rerank stage.
type RerankConfig struct {
	Enabled  bool
	TopN     int
	MinScore float64
	Timeout  time.Duration
}

// RerankCoordinator reorders retrieved hits through an external reranker.
// The stage is best-effort: disabled, failing or circuit-open rerank
// returns the input hits unchanged.
type RerankCoordinator struct {
	reranker Reranker
	breaker  *resilience.Breaker
	config   RerankConfig
	logger   *slog.Logger
}

// NewRerankCoordinator wires the coordinator. reranker may be nil, which
// behaves like a disabled stage.
func NewRerankCoordinator(reranker Reranker, breakers *resilience.Registry, config RerankConfig) *RerankCoordinator {
	if config.TopN <= 0 {
		config.TopN = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	return &RerankCoordinator{
		reranker: reranker,
		breaker:  breakers.Get(BreakerRerank),
		config:   config,
		logger:   slog.Default().With("component", "rerank"),
	}
}

// Rerank reorders hits by relevance. Post-filtering drops reranked hits
// below MinScore; the skip paths never filter.
func (c *RerankCoordinator) Rerank(ctx context.Context, query string, hits []SearchHit) RerankResult {
	if !c.config.Enabled || c.reranker == nil || len(hits) == 0 {
		return RerankResult{Hits: hits, Count: len(hits), Reranked: false}
	}

	rerankCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	result, err := c.breaker.Call(rerankCtx,
		func(ctx context.Context) (any, error) {
			reranked, err := c.reranker.Rerank(ctx, query, hits, c.config.TopN)
			if err != nil {
				return nil, err
			}
			return reranked, nil
		},
		func(ctx context.Context) (any, error) {
			c.logger.Warn("rerank circuit open, keeping original order")
			return nil, nil
		},
	)
	if err != nil {
		c.logger.Warn("rerank failed, keeping original order", "error", err)
		return RerankResult{Hits: hits, Count: len(hits), Reranked: false}
	}

	reranked, ok := result.([]SearchHit)
	if !ok || reranked == nil {
		return RerankResult{Hits: hits, Count: len(hits), Reranked: false}
	}

	if c.config.MinScore > 0 {
		filtered := reranked[:0]
		for _, h := range reranked {
			if h.Score >= c.config.MinScore {
				filtered = append(filtered, h)
			}
		}
		reranked = filtered
	}

	return RerankResult{Hits: reranked, Count: len(reranked), Reranked: true}
}
