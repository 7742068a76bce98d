package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mikeboe/rag-pipeline/pkg/clients"
	"github.com/mikeboe/rag-pipeline/pkg/config"
	"github.com/mikeboe/rag-pipeline/pkg/database"
	"github.com/mikeboe/rag-pipeline/pkg/embeddings"
	"github.com/mikeboe/rag-pipeline/pkg/rag"
	"github.com/mikeboe/rag-pipeline/pkg/resilience"
	"github.com/mikeboe/rag-pipeline/pkg/router"
	"github.com/mikeboe/rag-pipeline/pkg/session"
	"github.com/mikeboe/rag-pipeline/pkg/vectorstore"
)

// Service owns the fully wired pipeline and its supporting stores.
type Service struct {
	Pipeline *rag.Pipeline
	Sessions *session.Store
	Rules    *router.RuleStore
	DB       *database.PostgresDB
}

// NewService wires every pipeline component from configuration. The rule
// watcher runs until ctx is done.
func NewService(ctx context.Context, cfg *config.Config, db *database.PostgresDB) (*Service, error) {
	fusion := rag.FusionConfig{K: cfg.RRFK, WeightSumFallback: cfg.RRFWeightSum}

	embedder, err := embeddings.NewGoogleEmbedder(ctx, cfg.EmbeddingModel, cfg.GoogleApiKey, cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	store, err := vectorstore.NewPGVectorStore(db.Pool, cfg.CollectionName)
	if err != nil {
		return nil, fmt.Errorf("create vector store: %w", err)
	}
	searcher := vectorstore.NewHybridSearcher(store, embedder, fusion)

	structured, err := vectorstore.NewStructuredSearch(db.Pool, cfg.CollectionName)
	if err != nil {
		return nil, fmt.Errorf("create structured search: %w", err)
	}

	breakers := resilience.NewRegistry(resilience.Config{
		FailureThreshold:   cfg.BreakerFailureThreshold,
		SuccessThreshold:   cfg.BreakerSuccessThreshold,
		Timeout:            cfg.BreakerTimeout,
		ErrorRateThreshold: cfg.BreakerErrorRate,
		WindowSize:         cfg.BreakerWindowSize,
	})

	fastLLM, err := clients.GoogleAi(ctx, clients.ModelType(cfg.FastModel))
	if err != nil {
		return nil, fmt.Errorf("create fast model client: %w", err)
	}
	generationLLM, err := clients.GoogleAi(ctx, clients.ModelType(cfg.ReasoningModel))
	if err != nil {
		return nil, fmt.Errorf("create generation model client: %w", err)
	}

	evaluator, err := clients.NewGoogleEvaluator(ctx, cfg.FastModel, cfg.GoogleApiKey)
	if err != nil {
		return nil, fmt.Errorf("create evaluator: %w", err)
	}

	sessions := session.NewStore(db.Pool, cfg.MaxExchanges)

	rules, err := router.NewRuleStore(cfg.RuleFile)
	if err != nil {
		return nil, fmt.Errorf("load router rules: %w", err)
	}
	if err := rules.Watch(ctx); err != nil {
		slog.Warn("rule hot-reload unavailable", "error", err)
	}
	classifier := router.NewClassifier(fastLLM, router.ClassifierConfig{
		CacheSize: cfg.RouterCacheSize,
		CacheTTL:  cfg.RouterCacheTTL,
	})
	queryRouter := router.NewQueryRouter(rules, classifier, sessions)

	preparer := rag.NewContextPreparer(sessions, clients.NewGoogleExpander(fastLLM))
	retrieval := rag.NewHybridRetrievalCoordinator(searcher, structured, breakers, rag.RetrievalConfig{
		TopK:             cfg.TopK,
		Fusion:           fusion,
		SearchTimeout:    cfg.SearchTimeout,
		SQLSearchTimeout: cfg.SQLSearchTimeout,
	})
	rerank := rag.NewRerankCoordinator(clients.NewGoogleReranker(fastLLM), breakers, rag.RerankConfig{
		Enabled:  cfg.RerankEnabled,
		TopN:     cfg.RerankTopN,
		MinScore: cfg.RerankMinScore,
		Timeout:  cfg.RerankTimeout,
	})
	generation := rag.NewGenerationCoordinator(
		clients.NewGoogleGenerator(generationLLM, cfg.ReasoningModel),
		breakers,
		rag.GenerationConfig{Timeout: cfg.GenerationTimeout},
	)
	gate := rag.NewSelfRAGGate(evaluator, retrieval, generation, rag.SelfRAGConfig{
		ComplexityThreshold:   cfg.ComplexityThreshold,
		RegenerationThreshold: cfg.RegenerationThreshold,
		RollbackMargin:        cfg.RollbackMargin,
		MinQualityToAnswer:    cfg.MinQualityToAnswer,
		WiderSearchMultiplier: cfg.WiderSearchMultiplier,
		BaseTopK:              cfg.TopK,
	})

	pipeline := rag.NewPipeline(queryRouter, preparer, retrieval, rerank, generation, gate, rag.PipelineConfig{
		TopK: cfg.TopK,
	})

	agent, err := rag.NewAgentRunner(ctx, cfg.ReasoningModel, cfg.GoogleApiKey, searcher, structured, cfg.TopK)
	if err != nil {
		slog.Warn("agent mode unavailable", "error", err)
	} else {
		pipeline.SetAgent(agent)
	}

	return &Service{
		Pipeline: pipeline,
		Sessions: sessions,
		Rules:    rules,
		DB:       db,
	}, nil
}
