package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/mikeboe/rag-pipeline/pkg/resilience"
)

const complexQuery = "Why does checkout latency spike and how do the caching and retry policies compare under load?"

type stubRetriever struct {
	lists    [][]SearchHit
	err      error
	calls    int
	lastOpts SearchOptions
}

func (s *stubRetriever) Search(ctx context.Context, queries []string, opts SearchOptions) ([][]SearchHit, error) {
	s.calls++
	s.lastOpts = opts
	if s.err != nil {
		return nil, s.err
	}
	if s.lists != nil {
		return s.lists, nil
	}
	lists := make([][]SearchHit, len(queries))
	for i := range queries {
		lists[i] = []SearchHit{{ID: "doc-1", Content: "wider context"}}
	}
	return lists, nil
}

type stubGenerator struct {
	answer string
	err    error
	calls  int
}

func (s *stubGenerator) Generate(ctx context.Context, query string, docs []SearchHit, opts GenerationOptions) (GenerationResult, error) {
	s.calls++
	if s.err != nil {
		return GenerationResult{}, s.err
	}
	return GenerationResult{Answer: s.answer, TokensUsed: 42, Provider: "stub"}, nil
}

// stubEvaluator returns uniform sub-scores from the sequence, one per call.
type stubEvaluator struct {
	scores []float64
	errs   []error
	calls  int
}

func (s *stubEvaluator) Evaluate(ctx context.Context, query, answer string, docs []SearchHit) (Quality, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return Quality{}, s.errs[i]
	}
	score := s.scores[i]
	return Quality{Relevance: score, Grounding: score, Completeness: score, Confidence: score}, nil
}

func newTestGate(t *testing.T, evaluator QualityEvaluator, retriever Retriever, generator Generator) *SelfRAGGate {
	t.Helper()
	breakers := resilience.NewRegistry(resilience.DefaultConfig())
	retrieval := NewHybridRetrievalCoordinator(retriever, nil, breakers, RetrievalConfig{})
	generation := NewGenerationCoordinator(generator, breakers, GenerationConfig{})
	return NewSelfRAGGate(evaluator, retrieval, generation, SelfRAGConfig{
		ComplexityThreshold:   0.45,
		RegenerationThreshold: 0.60,
		RollbackMargin:        -0.10,
		MinQualityToAnswer:    0.40,
		WiderSearchMultiplier: 2,
		BaseTopK:              5,
	})
}

func preparedFor(query string) PreparedContext {
	return PreparedContext{
		OriginalQuery:   query,
		ExpandedQueries: []string{query},
		QueryWeights:    []float64{1.0},
	}
}

func TestSelfRAGSkipsSimpleQueries(t *testing.T) {
	evaluator := &stubEvaluator{scores: []float64{0.9}}
	gen := &stubGenerator{answer: "unused"}
	gate := newTestGate(t, evaluator, &stubRetriever{}, gen)

	result := gate.Verify(context.Background(), preparedFor("capital of France"), "Paris.", nil)

	if result.UsedSelfRAG {
		t.Fatal("gate ran on a simple query")
	}
	if evaluator.calls != 0 {
		t.Fatalf("evaluator called %d times for a skipped query", evaluator.calls)
	}
	if result.Answer != "Paris." {
		t.Fatalf("answer changed on skip: %q", result.Answer)
	}
}

func TestSelfRAGKeepsHighQualityAnswer(t *testing.T) {
	evaluator := &stubEvaluator{scores: []float64{0.80}}
	gen := &stubGenerator{answer: "unused"}
	gate := newTestGate(t, evaluator, &stubRetriever{}, gen)

	result := gate.Verify(context.Background(), preparedFor(complexQuery), "original answer", nil)

	if !result.UsedSelfRAG {
		t.Fatal("gate skipped a complex query")
	}
	if result.Regenerated {
		t.Fatal("regenerated despite quality above threshold")
	}
	if gen.calls != 0 {
		t.Fatalf("generator called %d times without regeneration", gen.calls)
	}
	if result.Answer != "original answer" {
		t.Fatalf("answer = %q, want original", result.Answer)
	}
}

// 0.55 is below the 0.60 regeneration threshold, so the gate regenerates;
// 0.58 is within the -0.10 rollback margin of 0.55, so the regenerated
// answer is kept.
func TestSelfRAGRegeneratesAndKeepsImprovedAnswer(t *testing.T) {
	evaluator := &stubEvaluator{scores: []float64{0.55, 0.58}}
	retriever := &stubRetriever{}
	gen := &stubGenerator{answer: "regenerated answer"}
	gate := newTestGate(t, evaluator, retriever, gen)

	result := gate.Verify(context.Background(), preparedFor(complexQuery), "original answer", nil)

	if !result.Regenerated {
		t.Fatal("expected regeneration")
	}
	if result.Answer != "regenerated answer" {
		t.Fatalf("answer = %q, want regenerated", result.Answer)
	}
	if result.FinalQuality == nil || result.FinalQuality.Overall < 0.57 || result.FinalQuality.Overall > 0.59 {
		t.Fatalf("final quality = %+v, want overall near 0.58", result.FinalQuality)
	}
	if result.InitialQuality == nil || result.InitialQuality.Overall > 0.56 {
		t.Fatalf("initial quality = %+v, want overall near 0.55", result.InitialQuality)
	}
	// The wider search doubles the base top-k.
	if retriever.lastOpts.TopK != 10 {
		t.Fatalf("wider search topK = %d, want 10", retriever.lastOpts.TopK)
	}
	if result.TokensUsed != 42 {
		t.Fatalf("tokens = %d, want regeneration tokens counted", result.TokensUsed)
	}
}

func TestSelfRAGRollsBackWorseRegeneration(t *testing.T) {
	// 0.40 is below 0.55 - 0.10, so the regenerated answer is discarded.
	evaluator := &stubEvaluator{scores: []float64{0.55, 0.40}}
	gen := &stubGenerator{answer: "worse answer"}
	gate := newTestGate(t, evaluator, &stubRetriever{}, gen)

	result := gate.Verify(context.Background(), preparedFor(complexQuery), "original answer", nil)

	if result.Regenerated {
		t.Fatal("kept a regeneration that should roll back")
	}
	if result.Answer != "original answer" {
		t.Fatalf("answer = %q, want original after rollback", result.Answer)
	}
	if result.Metadata["rolled_back"] != true {
		t.Fatal("rollback not recorded in metadata")
	}
	if result.FinalQuality == nil || result.FinalQuality.Overall < 0.54 {
		t.Fatalf("final quality = %+v, want initial quality after rollback", result.FinalQuality)
	}
}

func TestSelfRAGRefusesWhenQualityStaysLow(t *testing.T) {
	// Regeneration improves 0.35 -> 0.38 but stays below the 0.40 floor.
	evaluator := &stubEvaluator{scores: []float64{0.35, 0.38}}
	gen := &stubGenerator{answer: "still weak answer"}
	gate := newTestGate(t, evaluator, &stubRetriever{}, gen)

	result := gate.Verify(context.Background(), preparedFor(complexQuery), "weak answer", nil)

	if result.Answer != RefusalMessage {
		t.Fatalf("answer = %q, want refusal message", result.Answer)
	}
	if result.Metadata["refusal_reason"] != RefusalReasonQuality {
		t.Fatalf("refusal_reason = %v, want %q", result.Metadata["refusal_reason"], RefusalReasonQuality)
	}
}

func TestSelfRAGRefusesBelowMinQualityWithoutRegeneration(t *testing.T) {
	// 0.50 clears the 0.45 regeneration threshold but not the 0.60 answer
	// floor, so the kept original answer is replaced with the refusal.
	evaluator := &stubEvaluator{scores: []float64{0.50}}
	gen := &stubGenerator{answer: "unused"}
	breakers := resilience.NewRegistry(resilience.DefaultConfig())
	retrieval := NewHybridRetrievalCoordinator(&stubRetriever{}, nil, breakers, RetrievalConfig{})
	generation := NewGenerationCoordinator(gen, breakers, GenerationConfig{})
	gate := NewSelfRAGGate(evaluator, retrieval, generation, SelfRAGConfig{
		ComplexityThreshold:   0.45,
		RegenerationThreshold: 0.45,
		RollbackMargin:        -0.10,
		MinQualityToAnswer:    0.60,
		WiderSearchMultiplier: 2,
		BaseTopK:              5,
	})

	result := gate.Verify(context.Background(), preparedFor(complexQuery), "mediocre answer", nil)

	if gen.calls != 0 {
		t.Fatalf("generator called %d times, regeneration not expected", gen.calls)
	}
	if result.Answer != RefusalMessage {
		t.Fatalf("answer = %q, want refusal message", result.Answer)
	}
	if result.Metadata["refusal_reason"] != RefusalReasonQuality {
		t.Fatalf("refusal_reason = %v", result.Metadata["refusal_reason"])
	}
}

func TestSelfRAGEvaluatorFailureKeepsAnswer(t *testing.T) {
	evaluator := &stubEvaluator{errs: []error{errors.New("evaluator down")}, scores: []float64{0}}
	gate := newTestGate(t, evaluator, &stubRetriever{}, &stubGenerator{})

	result := gate.Verify(context.Background(), preparedFor(complexQuery), "original answer", nil)

	if result.Answer != "original answer" {
		t.Fatalf("answer = %q, want original on evaluator failure", result.Answer)
	}
	if !result.UsedSelfRAG {
		t.Fatal("gate should report it attempted verification")
	}
	if _, ok := result.Metadata["evaluation_error"]; !ok {
		t.Fatal("evaluation error not recorded")
	}
}

func TestSelfRAGRegenerationFailureKeepsOriginal(t *testing.T) {
	// Second evaluation (of the regenerated answer) fails.
	evaluator := &stubEvaluator{scores: []float64{0.55, 0}, errs: []error{nil, errors.New("evaluator down")}}
	gen := &stubGenerator{answer: "regenerated answer"}
	gate := newTestGate(t, evaluator, &stubRetriever{}, gen)

	result := gate.Verify(context.Background(), preparedFor(complexQuery), "original answer", nil)

	if result.Regenerated {
		t.Fatal("regeneration kept despite unverified quality")
	}
	if result.Answer != "original answer" {
		t.Fatalf("answer = %q, want original", result.Answer)
	}
}

func TestOverallQuality(t *testing.T) {
	q := Quality{Relevance: 1, Grounding: 0, Completeness: 0, Confidence: 0}
	if got := OverallQuality(q); got != 0.30 {
		t.Fatalf("relevance weight = %v, want 0.30", got)
	}
	q = Quality{Relevance: 0.8, Grounding: 0.6, Completeness: 0.4, Confidence: 0.2}
	want := 0.8*0.30 + 0.6*0.35 + 0.4*0.20 + 0.2*0.15
	if got := OverallQuality(q); got != want {
		t.Fatalf("overall = %v, want %v", got, want)
	}
}

func TestComplexityScore(t *testing.T) {
	tests := []struct {
		name  string
		query string
		min   float64
		max   float64
	}{
		{"short lookup", "capital of France", 0, 0.2},
		{"greeting", "hello", 0, 0.1},
		{"reasoning query", complexQuery, 0.45, 1},
		{"single intent why", "why is the sky blue", 0.2, 0.6},
		{"long korean query", "결제 서비스가 실패하는 이유와 데이터베이스 성능 저하 시 재시도 정책이 어떻게 작동하는지 설명해 주세요", 0.1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComplexityScore(tt.query)
			if got < tt.min || got > tt.max {
				t.Fatalf("ComplexityScore(%q) = %v, want in [%v, %v]", tt.query, got, tt.min, tt.max)
			}
		})
	}
}
