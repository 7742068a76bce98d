package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mikeboe/rag-pipeline/pkg/rag"
)

// QueryEmbedder embeds query text for similarity search.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// docSearcher is the store surface the hybrid searcher needs.
type docSearcher interface {
	SimilaritySearch(ctx context.Context, queryEmbedding []float32, topK int) ([]SearchResult, error)
	KeywordSearch(ctx context.Context, text string, topK int) ([]SearchResult, error)
}

// HybridSearcher implements the multi-query search capability: for every
// query variant it runs a vector search and a keyword search concurrently
// and fuses the two lists into one ranked list per variant.
type HybridSearcher struct {
	store    docSearcher
	embedder QueryEmbedder
	fusion   rag.FusionConfig
	logger   *slog.Logger
}

// NewHybridSearcher wires the searcher.
func NewHybridSearcher(store *PGVectorStore, embedder QueryEmbedder, fusion rag.FusionConfig) *HybridSearcher {
	return &HybridSearcher{
		store:    store,
		embedder: embedder,
		fusion:   fusion,
		logger:   slog.Default().With("component", "hybrid_searcher"),
	}
}

// Search returns one fused ranked list per query, in query order.
func (h *HybridSearcher) Search(ctx context.Context, queries []string, opts rag.SearchOptions) ([][]rag.SearchHit, error) {
	lists := make([][]rag.SearchHit, len(queries))
	errs := make([]error, len(queries))

	var wg sync.WaitGroup
	for i, query := range queries {
		wg.Add(1)
		go func(i int, query string) {
			defer wg.Done()
			lists[i], errs[i] = h.searchOne(ctx, query, opts)
		}(i, query)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return lists, nil
}

// searchOne runs vector and keyword search for a single variant and fuses
// them with equal weights. A failed keyword search degrades to vector-only.
// Without UseRRF the keyword leg is skipped entirely: its scores cannot be
// merged with cosine similarity except by rank.
func (h *HybridSearcher) searchOne(ctx context.Context, query string, opts rag.SearchOptions) ([]rag.SearchHit, error) {
	embedding, err := h.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	if !opts.UseRRF {
		vector, err := h.store.SimilaritySearch(ctx, embedding, opts.TopK)
		if err != nil {
			return nil, fmt.Errorf("similarity search: %w", err)
		}
		return toHits(vector), nil
	}

	type searchOut struct {
		results []SearchResult
		err     error
	}
	keywordCh := make(chan searchOut, 1)
	go func() {
		results, err := h.store.KeywordSearch(ctx, query, opts.TopK)
		keywordCh <- searchOut{results, err}
	}()

	vector, err := h.store.SimilaritySearch(ctx, embedding, opts.TopK)
	keyword := <-keywordCh
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	if keyword.err != nil {
		h.logger.Warn("keyword search failed, using vector results only", "error", keyword.err)
		return toHits(vector), nil
	}

	fused := rag.FuseRRF(
		[][]rag.SearchHit{toHits(vector), toHits(keyword.results)},
		[]float64{1.0, 1.0},
		h.fusion,
		opts.TopK,
	)
	return fused, nil
}

func toHits(results []SearchResult) []rag.SearchHit {
	hits := make([]rag.SearchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, rag.SearchHit{
			ID:       r.Document.ID,
			Content:  r.Document.Content,
			Score:    r.Score,
			Metadata: r.Document.Metadata,
		})
	}
	return hits
}
