package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mikeboe/rag-pipeline/pkg/rag"
)

// Words signalling the query wants counts or aggregates rather than prose.
var aggregateMarkers = []string{
	"how many", "count", "number of", "total", "average", "per source",
	"몇 개", "개수", "총",
}

// StructuredSearch answers aggregate-style questions with SQL over the
// document corpus. It is deliberately conservative: a query without a
// clear aggregate marker returns Used=false, and any database failure or
// timeout returns the same marker instead of an error.
type StructuredSearch struct {
	pool      *pgxpool.Pool
	tableName string
	logger    *slog.Logger
}

// NewStructuredSearch wires the adapter.
func NewStructuredSearch(pool *pgxpool.Pool, tableName string) (*StructuredSearch, error) {
	if !isValidTableName(tableName) {
		return nil, fmt.Errorf("invalid table name: %s", tableName)
	}
	return &StructuredSearch{
		pool:      pool,
		tableName: tableName,
		logger:    slog.Default().With("component", "structured_search"),
	}, nil
}

// Search returns per-source document counts when the query asks for
// aggregates. Timeout and query failure return Used=false, never an error.
func (s *StructuredSearch) Search(ctx context.Context, query string) (rag.StructuredResult, error) {
	if !wantsAggregate(query) {
		return rag.StructuredResult{}, nil
	}

	sql := fmt.Sprintf(`
		SELECT COALESCE(metadata->>'source', 'unknown') as source, COUNT(*) as documents
		FROM %s
		GROUP BY 1
		ORDER BY 2 DESC
		LIMIT 20
	`, pgx.Identifier{s.tableName}.Sanitize())

	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		s.logger.Warn("structured search query failed", "error", err)
		return rag.StructuredResult{}, nil
	}
	defer rows.Close()

	var out rag.StructuredResult
	var b strings.Builder
	b.WriteString("Document counts by source:\n")
	for rows.Next() {
		var source string
		var count int64
		if err := rows.Scan(&source, &count); err != nil {
			s.logger.Warn("structured search scan failed", "error", err)
			return rag.StructuredResult{}, nil
		}
		out.Rows = append(out.Rows, []any{source, count})
		fmt.Fprintf(&b, "- %s: %d\n", source, count)
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn("structured search iteration failed", "error", err)
		return rag.StructuredResult{}, nil
	}
	if len(out.Rows) == 0 {
		return rag.StructuredResult{}, nil
	}

	out.Used = true
	out.FormattedContext = b.String()
	return out, nil
}

func wantsAggregate(query string) bool {
	lower := strings.ToLower(query)
	for _, m := range aggregateMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
