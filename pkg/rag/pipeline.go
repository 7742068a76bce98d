package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Stage names as they appear in the performance report.
const (
	StageRouting     = "routing"
	StageContextPrep = "context_preparation"
	StageRetrieval   = "retrieval"
	StageReranking   = "reranking"
	StageGeneration  = "generation"
	StageSelfRAG     = "self_rag"
	StageFormatting  = "formatting"
)

// Router is the pre-retrieval gate. A failed route never blocks the
// pipeline; callers treat an error as "continue".
type Router interface {
	Route(ctx context.Context, query, sessionID string) (RouteDecision, error)
}

// PipelineConfig tunes the orchestrator.
type PipelineConfig struct {
	TopK          int
	SourceExcerpt int // max excerpt length in runes
}

// Pipeline composes the full answer flow: routing, context preparation,
// hybrid retrieval, reranking, generation and the self-verification gate.
// Every stage degrades independently; Execute returns an error only when
// retrieval or generation fail with no fallback left.
type Pipeline struct {
	router     Router
	preparer   *ContextPreparer
	retrieval  *HybridRetrievalCoordinator
	rerank     *RerankCoordinator
	generation *GenerationCoordinator
	selfRAG    *SelfRAGGate
	agent      *AgentRunner
	config     PipelineConfig
	logger     *slog.Logger
}

// ExecuteOptions carries per-request execution flags.
type ExecuteOptions struct {
	// AgentMode replaces the staged flow with the tool-using agent loop.
	// Ignored when no agent is configured.
	AgentMode bool
}

// NewPipeline wires the orchestrator. router and selfRAG may be nil; the
// corresponding stages are then skipped.
func NewPipeline(router Router, preparer *ContextPreparer, retrieval *HybridRetrievalCoordinator, rerank *RerankCoordinator, generation *GenerationCoordinator, selfRAG *SelfRAGGate, config PipelineConfig) *Pipeline {
	if config.TopK <= 0 {
		config.TopK = 5
	}
	if config.SourceExcerpt <= 0 {
		config.SourceExcerpt = 200
	}
	return &Pipeline{
		router:     router,
		preparer:   preparer,
		retrieval:  retrieval,
		rerank:     rerank,
		generation: generation,
		selfRAG:    selfRAG,
		config:     config,
		logger:     slog.Default().With("component", "pipeline"),
	}
}

// SetAgent enables agent mode for requests that ask for it.
func (p *Pipeline) SetAgent(agent *AgentRunner) {
	p.agent = agent
}

// Execute answers one query end to end.
func (p *Pipeline) Execute(ctx context.Context, query, sessionID string) (*PipelineResult, error) {
	return p.ExecuteWith(ctx, query, sessionID, ExecuteOptions{})
}

// ExecuteWith answers one query with per-request options. Routing always
// runs first; agent mode replaces the retrieval and generation stages.
func (p *Pipeline) ExecuteWith(ctx context.Context, query, sessionID string, opts ExecuteOptions) (*PipelineResult, error) {
	started := time.Now()
	tracker := NewTracker()

	// Stage 1: routing. An immediate response short-circuits everything
	// downstream; a router failure degrades to "continue".
	tracker.Start(StageRouting)
	routing := map[string]interface{}{}
	if p.router != nil {
		decision, err := p.router.Route(ctx, query, sessionID)
		if err != nil {
			p.logger.Warn("routing failed, continuing to retrieval", "error", err)
			routing["router_error"] = err.Error()
		} else {
			routing = decision.Metadata
			if !decision.ShouldContinue {
				tracker.End(StageRouting)
				return p.earlyExit(decision, routing, tracker, started), nil
			}
		}
	}
	tracker.End(StageRouting)

	if opts.AgentMode && p.agent != nil {
		result, err := p.agent.Run(ctx, query, sessionID)
		if err != nil {
			p.logger.Warn("agent run failed, falling back to staged pipeline", "error", err)
		} else {
			if tier, ok := routing["tier"]; ok {
				result.Routing["tier"] = tier
			}
			return result, nil
		}
	}

	// Stage 3: session context and query expansion.
	tracker.Start(StageContextPrep)
	prepared := p.preparer.Prepare(ctx, query, sessionID)
	tracker.End(StageContextPrep)

	// Stage 4: hybrid retrieval plus the concurrent structured search.
	tracker.Start(StageRetrieval)
	retrieved, structured, err := p.retrieval.Retrieve(ctx, prepared, p.config.TopK)
	tracker.End(StageRetrieval)
	if err != nil {
		return nil, fmt.Errorf("pipeline retrieval: %w", err)
	}

	// Stage 5: best-effort rerank.
	tracker.Start(StageReranking)
	reranked := p.rerank.Rerank(ctx, prepared.OriginalQuery, retrieved.Hits)
	tracker.End(StageReranking)

	docs := reranked.Hits
	if structured.Used && structured.FormattedContext != "" {
		docs = append(docs, SearchHit{
			ID:       "structured-data",
			Content:  structured.FormattedContext,
			Metadata: map[string]interface{}{"type": "structured"},
		})
	}

	// Stage 6: generation, breaker-protected with a document-derived
	// fallback inside the coordinator.
	tracker.Start(StageGeneration)
	generated, err := p.generation.Generate(ctx, prepared.OriginalQuery, docs, prepared.SessionContext)
	tracker.End(StageGeneration)
	if err != nil {
		return nil, fmt.Errorf("pipeline generation: %w", err)
	}

	// Stage 7: the quality gate. Skipped entirely for simple queries.
	answer := generated.Answer
	var selfRAG *SelfRAGResult
	if p.selfRAG != nil {
		tracker.Start(StageSelfRAG)
		verdict := p.selfRAG.Verify(ctx, prepared, answer, reranked.Hits)
		tracker.End(StageSelfRAG)
		answer = verdict.Answer
		selfRAG = &verdict
	}

	// Stage 8: source formatting and result assembly.
	tracker.Start(StageFormatting)
	sources := p.formatSources(reranked.Hits, structured)
	tracker.End(StageFormatting)

	tokens := generated.TokensUsed
	if selfRAG != nil {
		tokens += selfRAG.TokensUsed
	}

	return &PipelineResult{
		Answer:      sanitizeAnswer(answer),
		Sources:     sources,
		TokensUsed:  tokens,
		ModelUsed:   generated.ModelUsed,
		TotalTime:   time.Since(started).Seconds(),
		Routing:     routing,
		SelfRAG:     selfRAG,
		Performance: tracker.Report(),
	}, nil
}

// earlyExit finalizes a router-produced immediate response.
func (p *Pipeline) earlyExit(decision RouteDecision, routing map[string]interface{}, tracker *Tracker, started time.Time) *PipelineResult {
	result := decision.ImmediateResponse
	if result == nil {
		result = &PipelineResult{Answer: SafetyMessage}
	}
	result.Answer = sanitizeAnswer(result.Answer)
	if result.Sources == nil {
		result.Sources = []Source{}
	}
	if result.Routing == nil {
		result.Routing = routing
	}
	result.TotalTime = time.Since(started).Seconds()
	result.Performance = tracker.Report()
	return result
}

// formatSources builds the user-facing source list. Document sources keep
// their normalized relevance; a used structured search adds one synthetic
// entry at the end.
func (p *Pipeline) formatSources(hits []SearchHit, structured StructuredResult) []Source {
	sources := make([]Source, 0, len(hits)+1)
	for _, h := range hits {
		sources = append(sources, Source{
			ID:        h.ID,
			Excerpt:   excerpt(h.Content, p.config.SourceExcerpt),
			Relevance: h.Score,
			Type:      sourceType(h.Metadata),
		})
	}
	if structured.Used {
		sources = append(sources, Source{
			ID:      "structured-data",
			Excerpt: excerpt(structured.FormattedContext, p.config.SourceExcerpt),
			Type:    "structured",
		})
	}
	return sources
}

func sourceType(metadata map[string]interface{}) string {
	if t, ok := metadata["type"].(string); ok && t != "" {
		return t
	}
	return "document"
}

func excerpt(content string, limit int) string {
	runes := []rune(content)
	if len(runes) <= limit {
		return content
	}
	return string(runes[:limit]) + "..."
}
