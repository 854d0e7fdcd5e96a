package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"chronicle/collab/internal/suggestion"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

const suggestionColumns = `id, document_id, author_id, node_key, span_start, span_end, suggested_text, status, created_at, COALESCE(reviewer_id, ''), COALESCE(reason, ''), reviewed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSuggestion(row rowScanner) (suggestion.Edit, error) {
	var (
		item       suggestion.Edit
		status     string
		reviewedAt sql.NullTime
	)
	if err := row.Scan(
		&item.ID,
		&item.DocumentID,
		&item.AuthorID,
		&item.Span.NodeKey,
		&item.Span.Start,
		&item.Span.End,
		&item.SuggestedText,
		&status,
		&item.CreatedAt,
		&item.ReviewerID,
		&item.Reason,
		&reviewedAt,
	); err != nil {
		return suggestion.Edit{}, err
	}
	item.Status = suggestion.Status(status)
	item.CreatedAt = item.CreatedAt.UTC()
	if reviewedAt.Valid {
		at := reviewedAt.Time.UTC()
		item.ReviewedAt = &at
	}
	return item, nil
}

func (s *PostgresStore) InsertSuggestion(ctx context.Context, edit suggestion.Edit) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suggested_edits (id, document_id, author_id, node_key, span_start, span_end, suggested_text, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, edit.ID, edit.DocumentID, edit.AuthorID, edit.Span.NodeKey, edit.Span.Start, edit.Span.End, edit.SuggestedText, string(edit.Status), edit.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return suggestion.ErrDuplicate
		}
		return fmt.Errorf("insert suggestion: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSuggestion(ctx context.Context, documentID, suggestionID string) (suggestion.Edit, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+suggestionColumns+` FROM suggested_edits WHERE document_id=$1 AND id=$2`, documentID, suggestionID)
	item, err := scanSuggestion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return suggestion.Edit{}, suggestion.ErrNotFound
	}
	if err != nil {
		return suggestion.Edit{}, fmt.Errorf("get suggestion: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListSuggestions(ctx context.Context, documentID string) ([]suggestion.Edit, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+suggestionColumns+` FROM suggested_edits WHERE document_id=$1 ORDER BY seq ASC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list suggestions: %w", err)
	}
	defer rows.Close()

	items := make([]suggestion.Edit, 0)
	for rows.Next() {
		item, err := scanSuggestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate suggestions: %w", err)
	}
	return items, nil
}

// ReviewSuggestion only touches a PENDING row, so of two concurrent reviews
// exactly one sees a row affected.
func (s *PostgresStore) ReviewSuggestion(ctx context.Context, documentID, suggestionID string, review suggestion.Review) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE suggested_edits
		SET status=$3, reviewer_id=$4, reason=NULLIF($5, ''), reviewed_at=$6
		WHERE document_id=$1 AND id=$2 AND status='PENDING'
	`, documentID, suggestionID, string(review.Status), review.ReviewerID, review.Reason, review.ReviewedAt)
	if err != nil {
		return false, fmt.Errorf("review suggestion: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("review suggestion rows: %w", err)
	}
	return affected > 0, nil
}

// DocumentRole returns the member's role on the document, or ErrNoMembership
// when the user has no explicit membership.
func (s *PostgresStore) DocumentRole(ctx context.Context, documentID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `SELECT role FROM document_members WHERE document_id=$1 AND user_id=$2`, documentID, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNoMembership
		}
		return "", fmt.Errorf("read document role: %w", err)
	}
	return role, nil
}

func (s *PostgresStore) SetDocumentRole(ctx context.Context, documentID, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_members (document_id, user_id, role, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (document_id, user_id) DO UPDATE SET role=EXCLUDED.role, updated_at=EXCLUDED.updated_at
	`, documentID, userID, role, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set document role: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
