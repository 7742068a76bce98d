package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mikeboe/rag-pipeline/pkg/resilience"
)

// RetrievalConfig tunes the hybrid retrieval stage.
type RetrievalConfig struct {
	TopK             int
	Fusion           FusionConfig
	SearchTimeout    time.Duration
	SQLSearchTimeout time.Duration
}

// HybridRetrievalCoordinator issues one search per weighted query variant,
// optionally alongside a structured/SQL search, and fuses the ranked lists
// with Reciprocal Rank Fusion. The search dependency is breaker-protected
// with an empty result set as fallback.
type HybridRetrievalCoordinator struct {
	retriever  Retriever
	structured StructuredSearcher
	breaker    *resilience.Breaker
	config     RetrievalConfig
	logger     *slog.Logger
}

// NewHybridRetrievalCoordinator wires the coordinator. structured may be nil.
func NewHybridRetrievalCoordinator(retriever Retriever, structured StructuredSearcher, breakers *resilience.Registry, config RetrievalConfig) *HybridRetrievalCoordinator {
	if config.TopK <= 0 {
		config.TopK = 5
	}
	if config.Fusion.K <= 0 {
		config.Fusion = DefaultFusionConfig()
	}
	if config.SearchTimeout <= 0 {
		config.SearchTimeout = 10 * time.Second
	}
	if config.SQLSearchTimeout <= 0 {
		config.SQLSearchTimeout = 5 * time.Second
	}
	return &HybridRetrievalCoordinator{
		retriever:  retriever,
		structured: structured,
		breaker:    breakers.Get(BreakerRetrieval),
		config:     config,
		logger:     slog.Default().With("component", "hybrid_retrieval"),
	}
}

// Retrieve runs the hybrid search for the prepared context. topK <= 0 uses
// the configured default. The structured search runs concurrently with the
// document search; its failure is logged and ignored.
func (c *HybridRetrievalCoordinator) Retrieve(ctx context.Context, prepared PreparedContext, topK int) (RetrievalResult, StructuredResult, error) {
	if topK <= 0 {
		topK = c.config.TopK
	}

	structuredCh := make(chan StructuredResult, 1)
	if c.structured != nil {
		go func() {
			sqlCtx, cancel := context.WithTimeout(ctx, c.config.SQLSearchTimeout)
			defer cancel()
			res, err := c.structured.Search(sqlCtx, prepared.OriginalQuery)
			if err != nil {
				c.logger.Warn("structured search failed, ignoring", "error", err)
				res = StructuredResult{}
			}
			structuredCh <- res
		}()
	} else {
		structuredCh <- StructuredResult{}
	}

	hits, err := c.search(ctx, prepared, topK)
	structured := <-structuredCh
	if err != nil {
		return RetrievalResult{}, structured, err
	}

	weightSum := 0.0
	for _, w := range prepared.QueryWeights {
		weightSum += w
	}
	for i := range hits {
		hits[i].Score = NormalizeScore(hits[i].Score, weightSum, c.config.Fusion)
	}

	return RetrievalResult{Hits: hits, Count: len(hits)}, structured, nil
}

// search runs the breaker-protected multi-query search and fuses the
// per-query lists. A single variant skips fusion and keeps native ranks,
// scored as a one-list RRF for normalization consistency.
func (c *HybridRetrievalCoordinator) search(ctx context.Context, prepared PreparedContext, topK int) ([]SearchHit, error) {
	searchCtx, cancel := context.WithTimeout(ctx, c.config.SearchTimeout)
	defer cancel()

	result, err := c.breaker.Call(searchCtx,
		func(ctx context.Context) (any, error) {
			lists, err := c.retriever.Search(ctx, prepared.ExpandedQueries, SearchOptions{
				TopK:    topK,
				Weights: prepared.QueryWeights,
				UseRRF:  true,
			})
			if err != nil {
				return nil, err
			}
			return lists, nil
		},
		func(ctx context.Context) (any, error) {
			c.logger.Warn("retrieval circuit open, degrading to empty result set")
			return [][]SearchHit{}, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrievalUnavailable, err)
	}

	lists, ok := result.([][]SearchHit)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected search result type", ErrRetrievalUnavailable)
	}

	return FuseRRF(lists, prepared.QueryWeights, c.config.Fusion, topK), nil
}
