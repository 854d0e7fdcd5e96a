package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxSuggestions = "collab_suggestions"

// Meili implements Searcher and indexing via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the suggestion index.
// An unreachable server is logged; the health loop picks it up later.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxSuggestions,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxSuggestions, err)
	}

	index := m.client.Index(idxSuggestions)
	filterable := []interface{}{"documentId", "status", "authorId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxSuggestions, err)
	}
	searchable := []string{"suggestedText", "reason"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxSuggestions, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	request := &meili.SearchRequest{
		IndexUID:              idxSuggestions,
		Query:                 q.Text,
		Limit:                 int64(q.limit()),
		Offset:                int64(q.offset()),
		AttributesToHighlight: []string{"suggestedText", "reason"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if filters := meiliFilters(q); len(filters) > 0 {
		request.Filter = filters
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{request},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func meiliFilters(q Query) []string {
	var filters []string
	if q.DocumentID != "" {
		filters = append(filters, fmt.Sprintf("documentId = %q", q.DocumentID))
	}
	if q.Status != "" {
		filters = append(filters, fmt.Sprintf("status = %q", strings.ToUpper(q.Status)))
	}
	return filters
}

func hitToResult(hit meili.Hit) Result {
	return Result{
		ID:         decodeString(hit, "id"),
		DocumentID: decodeString(hit, "documentId"),
		AuthorID:   decodeString(hit, "authorId"),
		Status:     decodeString(hit, "status"),
		Snippet: firstNonBlank(
			decodeFormattedString(hit, "suggestedText"),
			decodeString(hit, "suggestedText"),
			decodeFormattedString(hit, "reason"),
		),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var value string
	if err := json.Unmarshal(formatted[key], &value); err != nil {
		return ""
	}
	return strings.TrimSpace(value)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexSuggestion adds or replaces one suggestion in the index.
func (m *Meili) IndexSuggestion(record Record) error {
	_, err := m.client.Index(idxSuggestions).AddDocuments([]Record{record}, nil)
	return err
}

// IndexSuggestions bulk-indexes suggestion records.
func (m *Meili) IndexSuggestions(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxSuggestions).AddDocuments(records, nil)
	return err
}
