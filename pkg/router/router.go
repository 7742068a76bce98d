package router

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mikeboe/rag-pipeline/pkg/rag"
)

// Canned responses for router-terminal outcomes.
const (
	GreetingResponse  = "Hello! Ask me anything about the document collection and I'll find the answer for you."
	OutOfScopeMessage = "That's outside what I can help with here. I answer questions about the document collection."
)

// QueryRouter is the two-tier pre-retrieval gate. Tier 1 matches the
// hot-reloadable rule set; Tier 2 asks the LLM classifier. Classifier
// failure degrades to "continue", never to "blocked".
type QueryRouter struct {
	rules      *RuleStore
	classifier *Classifier
	sessions   rag.SessionStore
	logger     *slog.Logger
}

// NewQueryRouter wires the router. classifier and sessions may be nil;
// without a classifier, unmatched queries continue to retrieval.
func NewQueryRouter(rules *RuleStore, classifier *Classifier, sessions rag.SessionStore) *QueryRouter {
	return &QueryRouter{
		rules:      rules,
		classifier: classifier,
		sessions:   sessions,
		logger:     slog.Default().With("component", "query_router"),
	}
}

// Route decides the terminal outcome for one query: blocked, direct answer
// or continue.
func (r *QueryRouter) Route(ctx context.Context, query, sessionID string) (rag.RouteDecision, error) {
	normalized, injected := Sanitize(query)
	if injected {
		r.logger.Warn("query blocked by sanitizer")
		return blocked("sanitizer", "injection"), nil
	}

	if rule, ok := r.rules.Current().Match(normalized); ok {
		switch rule.Category {
		case CategoryBlock:
			r.logger.Warn("query blocked by rule", "rule", rule.Name)
			return blocked("rule", rule.Name), nil
		case CategoryDirectAnswer:
			return directAnswer(rule.Response, map[string]interface{}{
				"tier":     "rule",
				"category": "direct_answer",
				"rule":     rule.Name,
			}), nil
		case CategoryComposite:
			// Mixed intent: let the classifier judge.
			r.logger.Debug("composite rule matched, deferring to classifier", "rule", rule.Name)
		}
	}

	if r.classifier == nil {
		return continueDecision("rule", DataSourceDocuments), nil
	}

	classification, err := r.classifier.Classify(ctx, normalized, r.history(ctx, sessionID))
	if err != nil {
		// Fail open: a broken classifier must not block normal queries.
		r.logger.Warn("classification failed, continuing to retrieval", "error", err)
		return continueDecision("classifier_error", DataSourceDocuments), nil
	}

	switch {
	case classification.IsAttack || classification.IsHarmful:
		return blocked("classifier", "harmful_or_attack"), nil
	case classification.IsGreeting:
		return directAnswer(GreetingResponse, map[string]interface{}{
			"tier":     "classifier",
			"category": "greeting",
		}), nil
	case classification.IsOutOfScope:
		return directAnswer(OutOfScopeMessage, map[string]interface{}{
			"tier":     "classifier",
			"category": "out_of_scope",
		}), nil
	default:
		source := classification.DataSource
		if !classification.NeedsRag && source == DataSourceNone {
			source = DataSourceDocuments
		}
		return continueDecision("classifier", source), nil
	}
}

// history returns the recent conversation for the classifier prompt.
func (r *QueryRouter) history(ctx context.Context, sessionID string) string {
	if r.sessions == nil || sessionID == "" {
		return ""
	}
	exchanges, err := r.sessions.GetConversation(ctx, sessionID, 3)
	if err != nil {
		r.logger.Warn("failed to fetch conversation for classification", "error", err)
		return ""
	}
	var b strings.Builder
	for _, e := range exchanges {
		b.WriteString("user: ")
		b.WriteString(e.User)
		b.WriteString("\nassistant: ")
		b.WriteString(e.Assistant)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func blocked(tier, reason string) rag.RouteDecision {
	return rag.RouteDecision{
		ShouldContinue: false,
		ImmediateResponse: &rag.PipelineResult{
			Answer:  rag.SafetyMessage,
			Sources: []rag.Source{},
			Routing: map[string]interface{}{"tier": tier, "category": "blocked", "reason": reason},
		},
		Metadata: map[string]interface{}{"tier": tier, "category": "blocked", "reason": reason},
	}
}

func directAnswer(answer string, metadata map[string]interface{}) rag.RouteDecision {
	return rag.RouteDecision{
		ShouldContinue: false,
		ImmediateResponse: &rag.PipelineResult{
			Answer:  answer,
			Sources: []rag.Source{},
			Routing: metadata,
		},
		Metadata: metadata,
	}
}

func continueDecision(tier, dataSource string) rag.RouteDecision {
	return rag.RouteDecision{
		ShouldContinue: true,
		Metadata: map[string]interface{}{
			"tier":        tier,
			"data_source": dataSource,
		},
	}
}
