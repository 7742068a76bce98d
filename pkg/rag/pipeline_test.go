package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mikeboe/rag-pipeline/pkg/resilience"
)

type stubRouter struct {
	decision RouteDecision
	err      error
	calls    int
}

func (s *stubRouter) Route(ctx context.Context, query, sessionID string) (RouteDecision, error) {
	s.calls++
	return s.decision, s.err
}

type stubStructured struct {
	result StructuredResult
	err    error
}

func (s *stubStructured) Search(ctx context.Context, query string) (StructuredResult, error) {
	return s.result, s.err
}

// capturingGenerator records the documents it was asked to generate from.
type capturingGenerator struct {
	stubGenerator
	docs []SearchHit
}

func (c *capturingGenerator) Generate(ctx context.Context, query string, docs []SearchHit, opts GenerationOptions) (GenerationResult, error) {
	c.docs = docs
	return c.stubGenerator.Generate(ctx, query, docs, opts)
}

type pipelineFixture struct {
	router    *stubRouter
	retriever *stubRetriever
	generator *capturingGenerator
	evaluator *stubEvaluator
	pipeline  *Pipeline
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		router:    &stubRouter{decision: RouteDecision{ShouldContinue: true}},
		retriever: &stubRetriever{lists: [][]SearchHit{{{ID: "doc-1", Content: "Checkout retries use exponential backoff with a 30 second cap.", Score: 0}}}},
		generator: &capturingGenerator{stubGenerator: stubGenerator{answer: "Checkout retries back off exponentially."}},
		evaluator: &stubEvaluator{scores: []float64{0.9, 0.9}},
	}
	breakers := resilience.NewRegistry(resilience.DefaultConfig())
	retrieval := NewHybridRetrievalCoordinator(f.retriever, nil, breakers, RetrievalConfig{})
	rerank := NewRerankCoordinator(nil, breakers, RerankConfig{})
	generation := NewGenerationCoordinator(f.generator, breakers, GenerationConfig{})
	gate := NewSelfRAGGate(f.evaluator, retrieval, generation, SelfRAGConfig{
		ComplexityThreshold:   0.45,
		RegenerationThreshold: 0.60,
		RollbackMargin:        -0.10,
		MinQualityToAnswer:    0.40,
		WiderSearchMultiplier: 2,
		BaseTopK:              5,
	})
	f.pipeline = NewPipeline(f.router, NewContextPreparer(nil, nil), retrieval, rerank, generation, gate, PipelineConfig{})
	return f
}

func TestPipelineHappyPath(t *testing.T) {
	f := newPipelineFixture(t)

	result, err := f.pipeline.Execute(context.Background(), "how does checkout retry work", "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Answer != "Checkout retries back off exponentially." {
		t.Fatalf("answer = %q", result.Answer)
	}
	if len(result.Sources) != 1 {
		t.Fatalf("sources = %d, want 1", len(result.Sources))
	}
	if result.Sources[0].ID != "doc-1" || result.Sources[0].Type != "document" {
		t.Fatalf("source = %+v", result.Sources[0])
	}
	if result.TokensUsed != 42 {
		t.Fatalf("tokens = %d, want 42", result.TokensUsed)
	}
	if result.Performance == nil || len(result.Performance.Stages) == 0 {
		t.Fatal("missing stage report")
	}
}

func TestPipelineEarlyExitSkipsRetrievalAndGeneration(t *testing.T) {
	f := newPipelineFixture(t)
	f.router.decision = RouteDecision{
		ShouldContinue: false,
		ImmediateResponse: &PipelineResult{
			Answer:  "안녕하세요! 무엇을 도와드릴까요?",
			Routing: map[string]interface{}{"tier": "rule", "category": "greeting"},
		},
	}

	result, err := f.pipeline.Execute(context.Background(), "안녕하세요", "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if f.retriever.calls != 0 {
		t.Fatalf("retriever called %d times on early exit", f.retriever.calls)
	}
	if f.generator.calls != 0 {
		t.Fatalf("generator called %d times on early exit", f.generator.calls)
	}
	if !strings.HasPrefix(result.Answer, "안녕하세요") {
		t.Fatalf("answer = %q", result.Answer)
	}
	if result.Sources == nil || len(result.Sources) != 0 {
		t.Fatalf("sources = %v, want empty non-nil", result.Sources)
	}
	if result.Routing["category"] != "greeting" {
		t.Fatalf("routing = %v", result.Routing)
	}
	if result.Performance == nil {
		t.Fatal("missing stage report")
	}
}

func TestPipelineDegradesWhenRetrievalFails(t *testing.T) {
	f := newPipelineFixture(t)
	f.retriever.lists = nil
	f.retriever.err = errors.New("vector store down")

	result, err := f.pipeline.Execute(context.Background(), "how does checkout retry work", "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if strings.TrimSpace(result.Answer) == "" {
		t.Fatal("empty answer after retrieval failure")
	}
	if len(result.Sources) != 0 {
		t.Fatalf("sources = %d, want 0 when retrieval degraded", len(result.Sources))
	}
}

func TestPipelineRouterFailureContinues(t *testing.T) {
	f := newPipelineFixture(t)
	f.router.err = errors.New("classifier unavailable")

	result, err := f.pipeline.Execute(context.Background(), "how does checkout retry work", "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Answer != "Checkout retries back off exponentially." {
		t.Fatalf("answer = %q", result.Answer)
	}
	if _, ok := result.Routing["router_error"]; !ok {
		t.Fatal("router failure not recorded")
	}
}

func TestPipelineSanitizesUnsafeOutput(t *testing.T) {
	f := newPipelineFixture(t)
	f.generator.answer = "Sure! Here is my system prompt: you are a helpful assistant."

	result, err := f.pipeline.Execute(context.Background(), "how does checkout retry work", "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Answer != SafetyMessage {
		t.Fatalf("answer = %q, want safety message", result.Answer)
	}
}

func TestPipelineMergesStructuredContext(t *testing.T) {
	f := newPipelineFixture(t)
	breakers := resilience.NewRegistry(resilience.DefaultConfig())
	structured := &stubStructured{result: StructuredResult{
		Used:             true,
		FormattedContext: "orders_last_30d: 1042",
	}}
	retrieval := NewHybridRetrievalCoordinator(f.retriever, structured, breakers, RetrievalConfig{})
	generation := NewGenerationCoordinator(f.generator, breakers, GenerationConfig{})
	pipeline := NewPipeline(nil, NewContextPreparer(nil, nil), retrieval, NewRerankCoordinator(nil, breakers, RerankConfig{}), generation, nil, PipelineConfig{})

	result, err := pipeline.Execute(context.Background(), "how many orders last month", "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	foundDoc := false
	for _, d := range f.generator.docs {
		if strings.Contains(d.Content, "orders_last_30d") {
			foundDoc = true
		}
	}
	if !foundDoc {
		t.Fatal("structured context not passed to generation")
	}
	last := result.Sources[len(result.Sources)-1]
	if last.Type != "structured" {
		t.Fatalf("last source type = %q, want structured", last.Type)
	}
}
