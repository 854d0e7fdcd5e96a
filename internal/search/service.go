package search

import (
	"context"
	"log"

	"chronicle/collab/internal/suggestion"
)

type indexBackend interface {
	Searcher
	IndexSuggestion(record Record) error
	IndexSuggestions(records []Record) error
}

type recordSource interface {
	Searcher
	LoadAllRecords(ctx context.Context) ([]Record, error)
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili indexBackend
	pgfts recordSource
}

// NewService creates a search service. Either backend may be nil.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	s := &Service{}
	if meili != nil {
		s.meili = meili
	}
	if pgfts != nil {
		s.pgfts = pgfts
	}
	return s
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	if s.pgfts == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexSuggestion indexes a suggestion (fire-and-forget to Meilisearch).
func (s *Service) IndexSuggestion(edit suggestion.Edit) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	record := RecordFrom(edit)
	go func() {
		if err := s.meili.IndexSuggestion(record); err != nil {
			log.Printf("search: index suggestion %s: %v", record.ID, err)
		}
	}()
}

// ReindexFromPG pushes every stored suggestion into Meilisearch.
func (s *Service) ReindexFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	records, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexSuggestions(records); err != nil {
		log.Printf("search: reindex suggestions: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
