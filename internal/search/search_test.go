package search

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"chronicle/collab/internal/suggestion"
)

type fakeBackend struct {
	healthy   bool
	searchFn  func(q Query) ([]Result, int, error)
	mu        sync.Mutex
	indexed   []Record
	indexedCh chan Record
	records   []Record
}

func (f *fakeBackend) Healthy() bool { return f.healthy }

func (f *fakeBackend) Search(_ context.Context, q Query) ([]Result, int, error) {
	return f.searchFn(q)
}

func (f *fakeBackend) IndexSuggestion(record Record) error {
	f.mu.Lock()
	f.indexed = append(f.indexed, record)
	f.mu.Unlock()
	if f.indexedCh != nil {
		f.indexedCh <- record
	}
	return nil
}

func (f *fakeBackend) IndexSuggestions(records []Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, records...)
	return nil
}

func (f *fakeBackend) LoadAllRecords(context.Context) ([]Record, error) {
	return f.records, nil
}

func TestServiceFallsBackWhenMeiliFails(t *testing.T) {
	primary := &fakeBackend{healthy: true, searchFn: func(Query) ([]Result, int, error) {
		return nil, 0, errors.New("timeout")
	}}
	fallback := &fakeBackend{healthy: true, searchFn: func(q Query) ([]Result, int, error) {
		return []Result{{ID: "sug_1", DocumentID: q.DocumentID}}, 1, nil
	}}
	svc := &Service{meili: primary, pgfts: fallback}

	resp := svc.Search(context.Background(), Query{Text: "wording", DocumentID: "doc1"})
	if resp.Total != 1 || len(resp.Results) != 1 || resp.Results[0].DocumentID != "doc1" {
		t.Fatalf("unexpected fallback response: %+v", resp)
	}
}

func TestServiceSkipsUnhealthyMeili(t *testing.T) {
	primary := &fakeBackend{healthy: false, searchFn: func(Query) ([]Result, int, error) {
		t.Fatal("unhealthy backend must not be queried")
		return nil, 0, nil
	}}
	svc := &Service{meili: primary}
	resp := svc.Search(context.Background(), Query{Text: "x"})
	if resp.Results == nil || len(resp.Results) != 0 || resp.Query != "x" {
		t.Fatalf("expected empty non-nil results, got %+v", resp)
	}
}

func TestServiceIndexesSuggestion(t *testing.T) {
	primary := &fakeBackend{healthy: true, indexedCh: make(chan Record, 1)}
	svc := &Service{meili: primary}
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.IndexSuggestion(suggestion.Edit{ID: "sug_1", DocumentID: "doc1", AuthorID: "a", Status: suggestion.StatusPending, SuggestedText: "hello", CreatedAt: created})

	select {
	case record := <-primary.indexedCh:
		if record.ID != "sug_1" || record.Status != "PENDING" || record.CreatedAt != created.UnixMilli() {
			t.Fatalf("unexpected record: %+v", record)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("suggestion was not indexed")
	}
}

func TestServiceReindexFromPG(t *testing.T) {
	primary := &fakeBackend{healthy: true}
	source := &fakeBackend{healthy: true, records: []Record{{ID: "a"}, {ID: "b"}}}
	svc := &Service{meili: primary, pgfts: source}
	svc.ReindexFromPG(context.Background())
	if len(primary.indexed) != 2 {
		t.Fatalf("expected 2 records reindexed, got %d", len(primary.indexed))
	}
}

func TestMeiliFilters(t *testing.T) {
	filters := meiliFilters(Query{DocumentID: "doc1", Status: "approved"})
	if len(filters) != 2 || filters[0] != `documentId = "doc1"` || filters[1] != `status = "APPROVED"` {
		t.Fatalf("unexpected filters: %v", filters)
	}
	if got := meiliFilters(Query{}); len(got) != 0 {
		t.Fatalf("expected no filters, got %v", got)
	}
}

func TestBuildFTSQuery(t *testing.T) {
	where, args := buildFTSQuery(Query{Text: "budget", DocumentID: "doc1", Status: "pending"})
	if len(args) != 3 || args[2] != "PENDING" {
		t.Fatalf("unexpected args: %v", args)
	}
	if !strings.Contains(where, "document_id = $2") || !strings.Contains(where, "status = $3") {
		t.Fatalf("unexpected where clause: %s", where)
	}
}

func TestQueryLimits(t *testing.T) {
	if got := (Query{Limit: 0}).limit(); got != 20 {
		t.Fatalf("default limit = %d", got)
	}
	if got := (Query{Limit: 500}).limit(); got != 20 {
		t.Fatalf("oversized limit = %d", got)
	}
	if got := (Query{Offset: -3}).offset(); got != 0 {
		t.Fatalf("negative offset = %d", got)
	}
}
