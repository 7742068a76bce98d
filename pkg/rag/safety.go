package rag

import (
	"errors"
	"regexp"
	"strings"
)

// Error taxonomy. Only retrieval and generation total failure may surface
// from Execute; everything else degrades to a valid result.
var (
	ErrRetrievalUnavailable = errors.New("document retrieval unavailable")
	ErrGenerationTimeout    = errors.New("generation timed out")
	ErrInvalidInput         = errors.New("invalid generation input")
)

// Breaker names, shared across requests per dependency.
const (
	BreakerRetrieval  = "document_retrieval"
	BreakerRerank     = "reranking"
	BreakerGeneration = "answer_generation"
)

// Fixed user-facing messages. The answer field always carries natural
// language, never an error code.
const (
	ApologyMessage = "I'm sorry, I couldn't generate an answer right now. Please try again in a moment."
	RefusalMessage = "I don't have enough reliable information to answer that question accurately."
	SafetyMessage  = "I can't share that. Is there something else I can help you with?"
)

// RefusalReasonQuality tags results the quality gate refused to answer.
const RefusalReasonQuality = "quality_too_low"

// Patterns of a model echoing internal instructions back to the user.
var unsafeOutputPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)my (system|internal) (prompt|instructions?)`),
	regexp.MustCompile(`(?i)here (is|are) (the|my) (system prompt|instructions)`),
	regexp.MustCompile(`(?i)\bas an? (ai|llm) (model|assistant),? my instructions\b`),
	regexp.MustCompile(`(?i)\[?system prompt\]?:`),
	regexp.MustCompile(`(?i)ignore (all )?previous instructions`),
}

// IsUnsafeOutput reports whether an answer leaks internal instructions.
func IsUnsafeOutput(answer string) bool {
	for _, p := range unsafeOutputPatterns {
		if p.MatchString(answer) {
			return true
		}
	}
	return false
}

// sanitizeAnswer replaces unsafe output with the fixed safety message.
func sanitizeAnswer(answer string) string {
	if strings.TrimSpace(answer) == "" {
		return ApologyMessage
	}
	if IsUnsafeOutput(answer) {
		return SafetyMessage
	}
	return answer
}
