package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const suggestionVector = `to_tsvector('english', suggested_text || ' ' || coalesce(reason, ''))`

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres the suggestion store is down too.
func (p *PgFTS) Healthy() bool {
	return true
}

func buildFTSQuery(q Query) (where string, args []any) {
	args = []any{q.Text}
	clauses := []string{suggestionVector + " @@ plainto_tsquery('english', $1)"}
	if q.DocumentID != "" {
		args = append(args, q.DocumentID)
		clauses = append(clauses, fmt.Sprintf("document_id = $%d", len(args)))
	}
	if q.Status != "" {
		args = append(args, strings.ToUpper(q.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	return strings.Join(clauses, " AND "), args
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	where, args := buildFTSQuery(q)

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM suggested_edits WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`SELECT id, document_id, author_id, status,
			ts_headline('english', suggested_text, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet
		FROM suggested_edits
		WHERE %s
		ORDER BY ts_rank(%s, plainto_tsquery('english', $1)) DESC, seq ASC
		LIMIT %d OFFSET %d`, where, suggestionVector, q.limit(), q.offset())

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.AuthorID, &r.Status, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every suggestion for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, document_id, author_id, status, suggested_text,
			coalesce(reason, ''), coalesce(reviewer_id, ''),
			(extract(epoch FROM created_at) * 1000)::bigint
		FROM suggested_edits
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("load suggestions: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.AuthorID, &r.Status, &r.SuggestedText, &r.Reason, &r.ReviewerID, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate suggestions: %w", err)
	}
	return records, nil
}
