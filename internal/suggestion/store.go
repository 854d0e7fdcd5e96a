package suggestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chronicle/collab/internal/util"
)

// Store applies suggestion lifecycle rules on top of a Repository.
type Store struct {
	repo Repository
	now  func() time.Time
}

func NewStore(repo Repository) *Store {
	return &Store{repo: repo, now: time.Now}
}

// WithClock replaces the timestamp source; used by tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Create(ctx context.Context, documentID, authorID string, span Span, suggestedText string) (Edit, error) {
	documentID = strings.TrimSpace(documentID)
	authorID = strings.TrimSpace(authorID)
	if documentID == "" || authorID == "" {
		return Edit{}, fmt.Errorf("%w: document and author are required", ErrInvalidInput)
	}
	if !span.valid() {
		return Edit{}, fmt.Errorf("%w: span [%d,%d) is out of order", ErrInvalidInput, span.Start, span.End)
	}
	if strings.TrimSpace(suggestedText) == "" {
		return Edit{}, fmt.Errorf("%w: text is required", ErrInvalidInput)
	}

	edit := Edit{
		ID:            util.NewID("sug"),
		DocumentID:    documentID,
		AuthorID:      authorID,
		Span:          span,
		SuggestedText: suggestedText,
		Status:        StatusPending,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.repo.InsertSuggestion(ctx, edit); err != nil {
		return Edit{}, fmt.Errorf("create suggestion: %w", err)
	}
	return edit, nil
}

func (s *Store) Get(ctx context.Context, documentID, suggestionID string) (Edit, error) {
	return s.repo.GetSuggestion(ctx, documentID, suggestionID)
}

// ListByDocument returns every suggestion of the document in insertion order.
func (s *Store) ListByDocument(ctx context.Context, documentID string) ([]Edit, error) {
	return s.repo.ListSuggestions(ctx, documentID)
}

// Transition performs the one-shot review. A suggestion that is no longer
// PENDING fails with ErrInvalidState; an unknown id with ErrNotFound.
func (s *Store) Transition(ctx context.Context, documentID, suggestionID, reviewerID string, outcome Outcome, reason string) (Edit, error) {
	if outcome != OutcomeApprove && outcome != OutcomeReject {
		return Edit{}, ErrInvalidOutcome
	}
	review := Review{
		Status:     outcome.status(),
		ReviewerID: reviewerID,
		Reason:     strings.TrimSpace(reason),
		ReviewedAt: s.now().UTC(),
	}
	changed, err := s.repo.ReviewSuggestion(ctx, documentID, suggestionID, review)
	if err != nil {
		return Edit{}, fmt.Errorf("review suggestion: %w", err)
	}
	edit, err := s.repo.GetSuggestion(ctx, documentID, suggestionID)
	if err != nil {
		return Edit{}, err
	}
	if !changed {
		return Edit{}, fmt.Errorf("%w: %s is %s", ErrInvalidState, suggestionID, edit.Status)
	}
	return edit, nil
}

// Visible filters edits down to what a joining participant needs: every
// PENDING suggestion plus those reviewed at or after since.
func Visible(edits []Edit, since time.Time) []Edit {
	items := make([]Edit, 0, len(edits))
	for _, edit := range edits {
		if edit.Status == StatusPending {
			items = append(items, edit)
			continue
		}
		if edit.ReviewedAt != nil && !edit.ReviewedAt.Before(since) {
			items = append(items, edit)
		}
	}
	return items
}
