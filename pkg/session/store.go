// Package session provides Postgres-backed short-term conversation memory.
package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mikeboe/rag-pipeline/pkg/rag"
)

// Store persists sessions and their messages and serves the conversation
// context the pipeline and router read.
type Store struct {
	pool         *pgxpool.Pool
	maxExchanges int
}

// NewStore creates the store. maxExchanges bounds how much history the
// context string carries.
func NewStore(pool *pgxpool.Pool, maxExchanges int) *Store {
	if maxExchanges <= 0 {
		maxExchanges = 5
	}
	return &Store{pool: pool, maxExchanges: maxExchanges}
}

// Create starts a new session and returns its id.
func (s *Store) Create(ctx context.Context) (string, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(ctx, "INSERT INTO sessions (id) VALUES ($1)", id)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

// AppendExchange records one user/assistant turn.
func (s *Store) AppendExchange(ctx context.Context, sessionID, user, assistant string) error {
	batchSQL := "INSERT INTO messages (session_id, role, content) VALUES ($1, $2, $3)"
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("append exchange: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, batchSQL, sessionID, "user", user); err != nil {
		return fmt.Errorf("append user message: %w", err)
	}
	if _, err := tx.Exec(ctx, batchSQL, sessionID, "assistant", assistant); err != nil {
		return fmt.Errorf("append assistant message: %w", err)
	}
	if _, err := tx.Exec(ctx, "UPDATE sessions SET updated_at = NOW() WHERE id = $1", sessionID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return tx.Commit(ctx)
}

// GetConversation returns the most recent exchanges, oldest first.
func (s *Store) GetConversation(ctx context.Context, sessionID string, maxExchanges int) ([]rag.Exchange, error) {
	if maxExchanges <= 0 {
		maxExchanges = s.maxExchanges
	}

	rows, err := s.pool.Query(ctx, `
		SELECT role, content FROM messages
		WHERE session_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, sessionID, maxExchanges*2)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	defer rows.Close()

	type message struct {
		role    string
		content string
	}
	var recent []message
	for rows.Next() {
		var m message
		if err := rows.Scan(&m.role, &m.content); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		recent = append(recent, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// Rows come newest first; pair them back up oldest first.
	var exchanges []rag.Exchange
	var pending rag.Exchange
	for i := len(recent) - 1; i >= 0; i-- {
		switch recent[i].role {
		case "user":
			pending = rag.Exchange{User: recent[i].content}
		case "assistant":
			pending.Assistant = recent[i].content
			exchanges = append(exchanges, pending)
			pending = rag.Exchange{}
		}
	}
	return exchanges, nil
}

// GetContextString formats the recent conversation for prompt inclusion.
// An unknown session returns an empty string, not an error.
func (s *Store) GetContextString(ctx context.Context, sessionID string) (string, error) {
	exchanges, err := s.GetConversation(ctx, sessionID, s.maxExchanges)
	if err != nil {
		return "", err
	}
	if len(exchanges) == 0 {
		return "", nil
	}

	var b strings.Builder
	for _, e := range exchanges {
		b.WriteString("User: ")
		b.WriteString(e.User)
		b.WriteString("\nAssistant: ")
		b.WriteString(e.Assistant)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String()), nil
}
