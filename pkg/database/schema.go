package database

import (
	"context"
	"fmt"
)

// InitSchema creates the tables the pipeline depends on.
func (db *PostgresDB) InitSchema(ctx context.Context) error {
	sessionsQuery := `
		CREATE TABLE IF NOT EXISTS sessions (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`
	if _, err := db.Pool.Exec(ctx, sessionsQuery); err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}

	messagesQuery := `
		CREATE TABLE IF NOT EXISTS messages (
			id SERIAL PRIMARY KEY,
			session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`
	if _, err := db.Pool.Exec(ctx, messagesQuery); err != nil {
		return fmt.Errorf("failed to create messages table: %w", err)
	}

	queryLogsQuery := `
		CREATE TABLE IF NOT EXISTS query_logs (
			id SERIAL PRIMARY KEY,
			session_id UUID,
			query TEXT NOT NULL,
			answer TEXT,
			routing JSONB,
			tokens_used INTEGER,
			total_time_seconds DOUBLE PRECISION,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`
	if _, err := db.Pool.Exec(ctx, queryLogsQuery); err != nil {
		return fmt.Errorf("failed to create query_logs table: %w", err)
	}

	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id)"); err != nil {
		return fmt.Errorf("failed to create index on messages: %w", err)
	}
	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_query_logs_created_at ON query_logs(created_at DESC)"); err != nil {
		return fmt.Errorf("failed to create index on query_logs: %w", err)
	}

	return nil
}

// CreateEmbeddingsTable creates the embeddings table if it doesn't exist
func (db *PostgresDB) CreateEmbeddingsTable(ctx context.Context, tableName string, dimension int) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			content TEXT NOT NULL,
			metadata JSONB,
			embedding vector(%d),
			content_tsv tsvector GENERATED ALWAYS AS (to_tsvector('simple', content)) STORED,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`, tableName, dimension)

	_, err := db.Pool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", tableName, err)
	}

	// HNSW supports up to 2000 dimensions; above that we rely on exact
	// search.
	if dimension <= 2000 {
		indexQuery := fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS %s_embedding_idx
			ON %s USING hnsw (embedding vector_cosine_ops)
		`, tableName, tableName)
		if _, err := db.Pool.Exec(ctx, indexQuery); err != nil {
			return fmt.Errorf("failed to create index on %s: %w", tableName, err)
		}
	}

	ftsIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_content_tsv_idx
		ON %s USING gin (content_tsv)
	`, tableName, tableName)
	if _, err := db.Pool.Exec(ctx, ftsIndex); err != nil {
		return fmt.Errorf("failed to create full-text index on %s: %w", tableName, err)
	}

	return nil
}
