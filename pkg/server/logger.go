package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mikeboe/rag-pipeline/pkg/database"
	"github.com/mikeboe/rag-pipeline/pkg/rag"
)

// QueryLogger persists one row per answered query for operators. Failures
// are logged and never surface to the request.
type QueryLogger struct {
	DB *database.PostgresDB
}

func NewQueryLogger(db *database.PostgresDB) *QueryLogger {
	return &QueryLogger{DB: db}
}

// Record inserts the query log row. Uses a background context so the row
// persists even when the request context is already cancelled.
func (l *QueryLogger) Record(sessionID, query string, result *rag.PipelineResult) {
	if l == nil || l.DB == nil {
		return
	}

	routingJSON, err := json.Marshal(result.Routing)
	if err != nil {
		routingJSON = []byte("{}")
	}

	var sid any
	if sessionID != "" {
		sid = sessionID
	}

	_, err = l.DB.Pool.Exec(context.Background(), `
		INSERT INTO query_logs (session_id, query, answer, routing, tokens_used, total_time_seconds)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sid, query, result.Answer, routingJSON, result.TokensUsed, result.TotalTime)
	if err != nil {
		slog.Error("failed to persist query log", "error", err)
	}
}
