package rag

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"
)

// Quality weights. Fixed, sum to 1.0.
const (
	weightRelevance    = 0.30
	weightGrounding    = 0.35
	weightCompleteness = 0.20
	weightConfidence   = 0.15
)

// OverallQuality combines the four sub-scores with the fixed weights.
func OverallQuality(q Quality) float64 {
	return q.Relevance*weightRelevance +
		q.Grounding*weightGrounding +
		q.Completeness*weightCompleteness +
		q.Confidence*weightConfidence
}

// SelfRAGConfig tunes the quality gate thresholds.
type SelfRAGConfig struct {
	ComplexityThreshold   float64
	RegenerationThreshold float64
	RollbackMargin        float64 // small negative margin
	MinQualityToAnswer    float64
	WiderSearchMultiplier int
	BaseTopK              int
}

// SelfRAGGate evaluates a generated answer and conditionally regenerates it
// from a wider search. Every branch returns a valid SelfRAGResult; evaluator
// or regeneration failures degrade to the original answer.
type SelfRAGGate struct {
	evaluator  QualityEvaluator
	retrieval  *HybridRetrievalCoordinator
	generation *GenerationCoordinator
	config     SelfRAGConfig
	logger     *slog.Logger
}

// NewSelfRAGGate wires the gate.
func NewSelfRAGGate(evaluator QualityEvaluator, retrieval *HybridRetrievalCoordinator, generation *GenerationCoordinator, config SelfRAGConfig) *SelfRAGGate {
	if config.WiderSearchMultiplier <= 1 {
		config.WiderSearchMultiplier = 2
	}
	if config.BaseTopK <= 0 {
		config.BaseTopK = 5
	}
	return &SelfRAGGate{
		evaluator:  evaluator,
		retrieval:  retrieval,
		generation: generation,
		config:     config,
		logger:     slog.Default().With("component", "self_rag"),
	}
}

// Verify runs the gate over an already-generated answer. Simple queries
// pass through without any evaluator call; this is the common case and
// adds no latency.
func (g *SelfRAGGate) Verify(ctx context.Context, prepared PreparedContext, answer string, docs []SearchHit) SelfRAGResult {
	complexity := ComplexityScore(prepared.OriginalQuery)
	result := SelfRAGResult{
		Answer:          answer,
		ComplexityScore: complexity,
		Metadata:        map[string]interface{}{},
	}

	if complexity < g.config.ComplexityThreshold {
		result.Metadata["skipped"] = "low_complexity"
		return result
	}
	result.UsedSelfRAG = true

	initial, err := g.evaluate(ctx, prepared.OriginalQuery, answer, docs)
	if err != nil {
		g.logger.Warn("quality evaluation failed, keeping answer", "error", err)
		result.Metadata["evaluation_error"] = err.Error()
		return result
	}
	result.InitialQuality = &initial
	result.FinalQuality = &initial

	if initial.Overall >= g.config.RegenerationThreshold {
		return g.finalGate(result)
	}

	regenerated, quality, ok := g.regenerate(ctx, prepared, docs)
	if !ok {
		return g.finalGate(result)
	}

	// Rollback rule: regeneration must beat the original by more than the
	// (negative) margin, otherwise the original answer stands.
	if quality.Overall < initial.Overall+g.config.RollbackMargin {
		g.logger.Info("regeneration did not improve, rolling back",
			"initial", initial.Overall, "regenerated", quality.Overall)
		result.Metadata["rolled_back"] = true
		return g.finalGate(result)
	}

	result.Answer = regenerated.Answer
	result.Regenerated = true
	result.TokensUsed += regenerated.TokensUsed
	result.FinalQuality = &quality
	return g.finalGate(result)
}

// regenerate performs the wider search and second generation. ok is false
// on any failure, in which case the original answer is kept.
func (g *SelfRAGGate) regenerate(ctx context.Context, prepared PreparedContext, docs []SearchHit) (GenerationResult, Quality, bool) {
	widerTopK := g.config.BaseTopK * g.config.WiderSearchMultiplier

	retrieved, _, err := g.retrieval.Retrieve(ctx, prepared, widerTopK)
	if err != nil {
		g.logger.Warn("wider search failed, keeping original answer", "error", err)
		return GenerationResult{}, Quality{}, false
	}
	widerDocs := retrieved.Hits
	if len(widerDocs) == 0 {
		widerDocs = docs
	}

	regenerated, err := g.generation.Generate(ctx, prepared.OriginalQuery, widerDocs, prepared.SessionContext)
	if err != nil {
		g.logger.Warn("regeneration failed, keeping original answer", "error", err)
		return GenerationResult{}, Quality{}, false
	}

	quality, err := g.evaluate(ctx, prepared.OriginalQuery, regenerated.Answer, widerDocs)
	if err != nil {
		g.logger.Warn("regenerated answer evaluation failed, keeping original", "error", err)
		return GenerationResult{}, Quality{}, false
	}
	return regenerated, quality, true
}

// finalGate applies the refusal policy to whichever answer was kept. The
// refusal threshold is lower than the regeneration threshold, so it fires
// less often.
func (g *SelfRAGGate) finalGate(result SelfRAGResult) SelfRAGResult {
	if result.FinalQuality == nil {
		return result
	}
	if result.FinalQuality.Overall < g.config.MinQualityToAnswer {
		result.Answer = RefusalMessage
		result.Metadata["refusal_reason"] = RefusalReasonQuality
	}
	return result
}

func (g *SelfRAGGate) evaluate(ctx context.Context, query, answer string, docs []SearchHit) (Quality, error) {
	quality, err := g.evaluator.Evaluate(ctx, query, answer, docs)
	if err != nil {
		return Quality{}, err
	}
	quality.Overall = OverallQuality(quality)
	return quality, nil
}

// Words whose presence suggests the query needs multi-step reasoning.
var reasoningIndicators = []string{
	"why", "how", "explain", "compare", "difference", "analyze", "versus",
	"relationship", "cause", "impact", "tradeoff", "evaluate",
}

// Conjunctions suggesting the query bundles multiple intents.
var multiIntentMarkers = []string{
	" and ", " or ", " also ", " as well as ", "; ", " plus ",
}

// ComplexityScore estimates query complexity in [0,1] from length,
// reasoning indicators and multi-intent conjunctions.
func ComplexityScore(query string) float64 {
	lower := strings.ToLower(query)

	// Length contribution saturates at 30 words.
	words := len(strings.Fields(lower))
	lengthScore := float64(words) / 30.0
	if lengthScore > 1 {
		lengthScore = 1
	}
	// Long CJK queries have few space-separated words; fall back to runes.
	if words <= 2 && utf8.RuneCountInString(query) > 40 {
		lengthScore = 0.5
	}

	reasoningScore := 0.0
	for _, w := range reasoningIndicators {
		if strings.Contains(lower, w) {
			reasoningScore += 0.34
		}
	}
	if reasoningScore > 1 {
		reasoningScore = 1
	}

	intentScore := 0.0
	for _, m := range multiIntentMarkers {
		if strings.Contains(lower, m) {
			intentScore += 0.5
		}
	}
	if intentScore > 1 {
		intentScore = 1
	}

	return 0.3*lengthScore + 0.45*reasoningScore + 0.25*intentScore
}
