package rag

import (
	"context"
	"log/slog"
	"strings"
)

// ContextPreparer assembles the session context and the weighted query
// variants for retrieval. Query expansion itself is an external capability;
// this component only validates and normalizes its output.
type ContextPreparer struct {
	sessions SessionStore
	expander QueryExpander
	logger   *slog.Logger
}

// NewContextPreparer creates a preparer. Both dependencies may be nil:
// a nil store yields no session context, a nil expander yields the
// original query as the only variant.
func NewContextPreparer(sessions SessionStore, expander QueryExpander) *ContextPreparer {
	return &ContextPreparer{
		sessions: sessions,
		expander: expander,
		logger:   slog.Default().With("component", "context_preparer"),
	}
}

// Prepare builds the PreparedContext for one query. Expansion failures are
// non-fatal: the pipeline continues with the original query alone.
func (p *ContextPreparer) Prepare(ctx context.Context, query, sessionID string) PreparedContext {
	prepared := PreparedContext{
		OriginalQuery:   query,
		ExpandedQueries: []string{query},
		QueryWeights:    []float64{1.0},
	}

	if p.sessions != nil && sessionID != "" {
		sessionContext, err := p.sessions.GetContextString(ctx, sessionID)
		if err != nil {
			p.logger.Warn("failed to fetch session context", "session_id", sessionID, "error", err)
		} else {
			prepared.SessionContext = sessionContext
		}
	}

	if p.expander == nil {
		return prepared
	}

	expansion, err := p.expander.Expand(ctx, query, prepared.SessionContext)
	if err != nil {
		p.logger.Warn("query expansion failed, using original query", "error", err)
		return prepared
	}

	queries, weights := validateExpansion(query, expansion)
	prepared.ExpandedQueries = queries
	prepared.QueryWeights = weights
	return prepared
}

// validateExpansion enforces the PreparedContext invariants: the original
// query leads, lengths match, and every weight is positive.
func validateExpansion(original string, expansion Expansion) ([]string, []float64) {
	queries := []string{original}
	weights := []float64{1.0}

	for i, q := range expansion.Expansions {
		q = strings.TrimSpace(q)
		if q == "" || strings.EqualFold(q, original) {
			continue
		}
		w := 1.0
		if i < len(expansion.Weights) && expansion.Weights[i] > 0 {
			w = expansion.Weights[i]
		}
		queries = append(queries, q)
		weights = append(weights, w)
	}
	return queries, weights
}
