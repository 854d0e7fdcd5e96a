package search

import (
	"context"
	"time"

	"chronicle/collab/internal/suggestion"
)

// Result is a single suggestion hit returned to the caller.
type Result struct {
	ID         string `json:"id"`
	DocumentID string `json:"documentId"`
	AuthorID   string `json:"authorId"`
	Status     string `json:"status"`
	Snippet    string `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text       string
	DocumentID string // empty = all documents
	Status     string // empty = all statuses
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Record is the data we index for a suggested edit.
type Record struct {
	ID            string `json:"id"`
	DocumentID    string `json:"documentId"`
	AuthorID      string `json:"authorId"`
	Status        string `json:"status"`
	SuggestedText string `json:"suggestedText"`
	Reason        string `json:"reason"`
	ReviewerID    string `json:"reviewerId"`
	CreatedAt     int64  `json:"createdAt"`
}

func RecordFrom(edit suggestion.Edit) Record {
	return Record{
		ID:            edit.ID,
		DocumentID:    edit.DocumentID,
		AuthorID:      edit.AuthorID,
		Status:        string(edit.Status),
		SuggestedText: edit.SuggestedText,
		Reason:        edit.Reason,
		ReviewerID:    edit.ReviewerID,
		CreatedAt:     edit.CreatedAt.UTC().Truncate(time.Millisecond).UnixMilli(),
	}
}

func (q Query) limit() int {
	if q.Limit <= 0 || q.Limit > 100 {
		return 20
	}
	return q.Limit
}

func (q Query) offset() int {
	if q.Offset < 0 {
		return 0
	}
	return q.Offset
}
