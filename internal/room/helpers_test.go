package room

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chronicle/collab/internal/access"
	"chronicle/collab/internal/presence"
	"chronicle/collab/internal/suggestion"
)

type recordingConn struct {
	id     string
	fail   atomic.Bool
	closed atomic.Bool

	mu   sync.Mutex
	msgs []map[string]any
}

func newConn(id string) *recordingConn {
	return &recordingConn{id: id}
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Send(payload []byte) error {
	if c.fail.Load() || c.closed.Load() {
		return presence.ErrConnClosed
	}
	var msg map[string]any
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *recordingConn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *recordingConn) messages() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]any(nil), c.msgs...)
}

func (c *recordingConn) ofType(kind string) []map[string]any {
	var out []map[string]any
	for _, msg := range c.messages() {
		if msg["type"] == kind {
			out = append(out, msg)
		}
	}
	return out
}

func (c *recordingConn) types() []string {
	var out []string
	for _, msg := range c.messages() {
		out = append(out, msg["type"].(string))
	}
	return out
}

// waitFor polls until conn has received at least n messages of kind.
func waitFor(t *testing.T, conn *recordingConn, kind string, n int) []map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := conn.ofType(kind)
		if len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("conn %s: expected %d %s messages, got %d (all: %v)", conn.id, n, kind, len(got), conn.types())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakePublisher struct {
	mu        sync.Mutex
	published []string
}

func (p *fakePublisher) Publish(_ context.Context, documentID string, payload []byte, edit suggestion.Edit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, documentID+"/"+edit.ID)
	return nil
}

type fakeIndexer struct {
	mu      sync.Mutex
	indexed []suggestion.Edit
}

func (f *fakeIndexer) IndexSuggestion(edit suggestion.Edit) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, edit)
}

type fakeRepository struct {
	suggestion.Repository
	insertFn func(ctx context.Context, edit suggestion.Edit) error
	listFn   func(ctx context.Context, documentID string) ([]suggestion.Edit, error)
}

func (f *fakeRepository) InsertSuggestion(ctx context.Context, edit suggestion.Edit) error {
	if f.insertFn != nil {
		return f.insertFn(ctx, edit)
	}
	return f.Repository.InsertSuggestion(ctx, edit)
}

func (f *fakeRepository) ListSuggestions(ctx context.Context, documentID string) ([]suggestion.Edit, error) {
	if f.listFn != nil {
		return f.listFn(ctx, documentID)
	}
	return f.Repository.ListSuggestions(ctx, documentID)
}

type harness struct {
	coord     *Coordinator
	registry  *Registry
	roles     *access.StaticLookup
	repo      *fakeRepository
	clock     *clock
	publisher *fakePublisher
	indexer   *fakeIndexer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		roles:     access.NewStaticLookup(),
		repo:      &fakeRepository{Repository: suggestion.NewMemoryRepository()},
		clock:     newClock(),
		publisher: &fakePublisher{},
		indexer:   &fakeIndexer{},
	}
	h.registry = NewRegistry(RegistryOptions{IdleTimeout: time.Minute, SweepInterval: time.Hour, Now: h.clock.Now})
	store := suggestion.NewStore(h.repo).WithClock(h.clock.Now)
	h.coord = NewCoordinator(h.registry, store, access.NewRoleResolver(h.roles, "commenter"), Options{
		RecentWindow: time.Hour,
		Publisher:    h.publisher,
		Indexer:      h.indexer,
		Now:          h.clock.Now,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.registry.Close(ctx)
	})
	return h
}

func (h *harness) join(t *testing.T, documentID, userID string, conn *recordingConn) Snapshot {
	t.Helper()
	snap, err := h.coord.HandleJoin(context.Background(), documentID, presence.Participant{
		UserID:    userID,
		UserName:  "User " + userID,
		UserEmail: userID + "@example.com",
		Conn:      conn,
	})
	if err != nil {
		t.Fatalf("HandleJoin(%s, %s) error = %v", documentID, userID, err)
	}
	return snap
}

// drain flushes every pending fan-out by closing the registry.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.registry.Close(ctx); err != nil {
		t.Fatalf("registry Close() error = %v", err)
	}
}
