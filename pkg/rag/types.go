// Package rag implements the answer pipeline: routing, hybrid retrieval,
// reranking, generation and self-verification, composed by the orchestrator.
package rag

import (
	"context"
	"time"
)

// SearchHit is a single retrieved document. A hit is owned by the coordinator
// that produced it until it is handed to the rerank or format stages.
type SearchHit struct {
	ID       string                 `json:"id"`
	Content  string                 `json:"content"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata"`
}

// RetrievalResult is the immutable output of one retrieval call.
type RetrievalResult struct {
	Hits  []SearchHit `json:"hits"`
	Count int         `json:"count"`
}

// RerankResult is the output of the rerank stage. Reranked is false when the
// stage was skipped and Hits is the unranked input.
type RerankResult struct {
	Hits     []SearchHit `json:"hits"`
	Count    int         `json:"count"`
	Reranked bool        `json:"reranked"`
}

// GenerationResult is the normalized record of one generation call. Quality
// and refusal verdicts belong to SelfRAGResult, never to generation.
type GenerationResult struct {
	Answer                string  `json:"answer"`
	TokensUsed            int     `json:"tokens_used"`
	ModelUsed             string  `json:"model_used"`
	Provider              string  `json:"provider"`
	GenerationTimeSeconds float64 `json:"generation_time_seconds"`
}

// Quality is the four-part answer evaluation. Overall is a fixed weighted
// sum of the sub-scores; the weights sum to 1.0.
type Quality struct {
	Relevance    float64 `json:"relevance"`
	Grounding    float64 `json:"grounding"`
	Completeness float64 `json:"completeness"`
	Confidence   float64 `json:"confidence"`
	Overall      float64 `json:"overall"`
	Reasoning    string  `json:"reasoning"`
}

// SelfRAGResult is the outcome of the self-verification gate.
type SelfRAGResult struct {
	Answer          string                 `json:"answer"`
	UsedSelfRAG     bool                   `json:"used_self_rag"`
	ComplexityScore float64                `json:"complexity_score"`
	InitialQuality  *Quality               `json:"initial_quality,omitempty"`
	FinalQuality    *Quality               `json:"final_quality,omitempty"`
	Regenerated     bool                   `json:"regenerated"`
	TokensUsed      int                    `json:"tokens_used"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// RouteDecision is the router's terminal verdict for one query. When
// ShouldContinue is false ImmediateResponse carries the final answer.
type RouteDecision struct {
	ShouldContinue    bool                   `json:"should_continue"`
	ImmediateResponse *PipelineResult        `json:"immediate_response,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// PreparedContext holds the session context and the weighted query variants.
// ExpandedQueries and QueryWeights always have equal length and the first
// expanded query is the original query.
type PreparedContext struct {
	SessionContext  string    `json:"session_context,omitempty"`
	OriginalQuery   string    `json:"original_query"`
	ExpandedQueries []string  `json:"expanded_queries"`
	QueryWeights    []float64 `json:"query_weights"`
}

// Source is one formatted source entry in the final result.
type Source struct {
	ID        string  `json:"id"`
	Excerpt   string  `json:"excerpt"`
	Relevance float64 `json:"relevance"`
	Type      string  `json:"type"`
}

// PipelineResult is the terminal envelope returned to the caller. It is
// built once at the end of Execute and never mutated afterward.
type PipelineResult struct {
	Answer      string                 `json:"answer"`
	Sources     []Source               `json:"sources"`
	TokensUsed  int                    `json:"tokens_used"`
	ModelUsed   string                 `json:"model_used,omitempty"`
	TotalTime   float64                `json:"total_time_seconds"`
	Routing     map[string]interface{} `json:"routing,omitempty"`
	SelfRAG     *SelfRAGResult         `json:"self_rag,omitempty"`
	Performance *StageReport           `json:"performance,omitempty"`
	AgentMode   bool                   `json:"agent_mode,omitempty"`
}

// SearchOptions carries per-call retrieval parameters. UseRRF tells the
// implementation to rank-fuse its internal result lists; without it only
// the dense similarity ranking is returned, since raw keyword and cosine
// scores are not on comparable scales.
type SearchOptions struct {
	TopK    int
	Weights []float64
	UseRRF  bool
}

// Retriever is the multi-query search capability. Implementations return
// one ranked list per query.
type Retriever interface {
	// Search runs one search per query and returns the per-query ranked
	// lists in query order.
	Search(ctx context.Context, queries []string, opts SearchOptions) ([][]SearchHit, error)
}

// StructuredResult is the outcome of a structured/SQL search. Used is false
// when the searcher decided the query has no structured answer, or failed.
type StructuredResult struct {
	Used             bool
	Rows             [][]any
	FormattedContext string
}

// StructuredSearcher answers keyword/SQL-style queries. Implementations
// must return a failure marker rather than an error on timeout.
type StructuredSearcher interface {
	Search(ctx context.Context, query string) (StructuredResult, error)
}

// Reranker reorders hits by relevance to the query.
type Reranker interface {
	Rerank(ctx context.Context, query string, hits []SearchHit, topN int) ([]SearchHit, error)
}

// GenerationOptions carries generation parameters.
type GenerationOptions struct {
	SessionContext string
	Timeout        time.Duration
}

// Generator produces the final answer from the query and retrieved context.
type Generator interface {
	Generate(ctx context.Context, query string, docs []SearchHit, opts GenerationOptions) (GenerationResult, error)
}

// Exchange is one user/assistant turn from the session store.
type Exchange struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// SessionStore provides short-term conversation memory.
type SessionStore interface {
	GetContextString(ctx context.Context, sessionID string) (string, error)
	GetConversation(ctx context.Context, sessionID string, maxExchanges int) ([]Exchange, error)
}

// Expansion is the output of a query expansion call.
type Expansion struct {
	Expansions []string
	Weights    []float64
}

// QueryExpander produces weighted query variants. It is optional: a nil
// expander means the pipeline searches with the original query only.
type QueryExpander interface {
	Expand(ctx context.Context, query, sessionContext string) (Expansion, error)
}

// QualityEvaluator scores an answer against its retrieved context.
type QualityEvaluator interface {
	Evaluate(ctx context.Context, query, answer string, docs []SearchHit) (Quality, error)
}
