package room

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"chronicle/collab/internal/access"
	"chronicle/collab/internal/diff"
	"chronicle/collab/internal/presence"
	"chronicle/collab/internal/search"
	"chronicle/collab/internal/suggestion"
)

// Publisher forwards suggestion events to other processes serving the same
// documents.
type Publisher interface {
	Publish(ctx context.Context, documentID string, payload []byte, edit suggestion.Edit) error
}

type Indexer interface {
	IndexSuggestion(edit suggestion.Edit)
}

type Searcher interface {
	Search(ctx context.Context, q search.Query) search.Response
}

type Options struct {
	RecentWindow time.Duration
	StoreTimeout time.Duration
	Publisher    Publisher
	Indexer      Indexer
	Searcher     Searcher
	Now          func() time.Time
}

type Coordinator struct {
	registry     *Registry
	suggestions  *suggestion.Store
	access       access.Resolver
	publisher    Publisher
	indexer      Indexer
	searcher     Searcher
	recentWindow time.Duration
	storeTimeout time.Duration
	now          func() time.Time
}

const resolveAttempts = 3

func NewCoordinator(registry *Registry, suggestions *suggestion.Store, resolver access.Resolver, opts Options) *Coordinator {
	if opts.RecentWindow <= 0 {
		opts.RecentWindow = 24 * time.Hour
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		registry:     registry,
		suggestions:  suggestions,
		access:       resolver,
		publisher:    opts.Publisher,
		indexer:      opts.Indexer,
		searcher:     opts.Searcher,
		recentWindow: opts.RecentWindow,
		storeTimeout: opts.StoreTimeout,
		now:          opts.Now,
	}
}

func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// inRoom runs fn on the live room of documentID, creating it if needed. An
// eviction racing with the call is retried against a fresh room.
func (c *Coordinator) inRoom(ctx context.Context, documentID string, fn func(*Room) error) error {
	for attempt := 0; attempt < resolveAttempts; attempt++ {
		r, err := c.registry.Resolve(documentID)
		if err != nil {
			return err
		}
		err = r.exec(ctx, func() error { return fn(r) })
		if errors.Is(err, ErrRoomClosed) {
			continue
		}
		return err
	}
	return ErrRoomClosed
}

// inLiveRoom runs fn only if documentID has a live room. It reports whether
// one was found.
func (c *Coordinator) inLiveRoom(ctx context.Context, documentID string, fn func(*Room) error) (bool, error) {
	for attempt := 0; attempt < resolveAttempts; attempt++ {
		r, ok := c.registry.Lookup(documentID)
		if !ok {
			return false, nil
		}
		err := r.exec(ctx, func() error { return fn(r) })
		if errors.Is(err, ErrRoomClosed) {
			continue
		}
		return true, err
	}
	return false, nil
}

// HandleJoin adds the participant to the room and queues a join_ack with the
// returned snapshot to its connection ahead of any later room event.
//
// The room is resolved before the stored suggestions are read, so an event
// settled while the read is in flight lands in the room cache and is not
// overwritten by the older stored copy.
func (c *Coordinator) HandleJoin(ctx context.Context, documentID string, p presence.Participant) (Snapshot, error) {
	if strings.TrimSpace(documentID) == "" || strings.TrimSpace(p.UserID) == "" || p.Conn == nil {
		return Snapshot{}, fmt.Errorf("%w: documentId, userId and connection are required", ErrInvalidInput)
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = c.now()
	}
	if err := c.AuthorizeRead(ctx, documentID, p.UserID); err != nil {
		return Snapshot{}, err
	}

	for attempt := 0; attempt < resolveAttempts; attempt++ {
		r, err := c.registry.Resolve(documentID)
		if err != nil {
			return Snapshot{}, err
		}
		items, loaded := c.preload(ctx, r)
		var snap Snapshot
		err = r.exec(ctx, func() error {
			if loaded {
				r.mergeLoaded(items)
			}
			snap = r.join(p, c.now().Add(-c.recentWindow))
			return nil
		})
		if errors.Is(err, ErrRoomClosed) {
			continue
		}
		if err != nil {
			return Snapshot{}, err
		}
		return snap, nil
	}
	return Snapshot{}, ErrRoomClosed
}

// preload reads the stored suggestions of a room that has not been loaded
// yet. A store failure is logged and the join proceeds with the cached state.
func (c *Coordinator) preload(ctx context.Context, r *Room) ([]suggestion.Edit, bool) {
	if r.loaded.Load() {
		return nil, false
	}
	storeCtx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()
	items, err := c.suggestions.ListByDocument(storeCtx, r.documentID)
	if err != nil {
		log.Printf("room: load suggestions document=%s: %v", r.documentID, err)
		return nil, false
	}
	return items, true
}

// HandleLeave removes userID from the room. Unknown rooms and users are a
// no-op.
func (c *Coordinator) HandleLeave(ctx context.Context, documentID, userID string) error {
	_, err := c.inLiveRoom(ctx, documentID, func(r *Room) error {
		r.leave(userID)
		return nil
	})
	return err
}

// HandleDisconnect removes userID only while connID is its current
// connection.
func (c *Coordinator) HandleDisconnect(ctx context.Context, documentID, userID, connID string) error {
	_, err := c.inLiveRoom(ctx, documentID, func(r *Room) error {
		r.detach(userID, connID)
		return nil
	})
	return err
}

func (c *Coordinator) HandleCursorUpdate(ctx context.Context, documentID, userID string, cursor presence.CursorState) error {
	cursor = cursor.Normalized()
	if err := cursor.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if cursor.UpdatedAt.IsZero() {
		cursor.UpdatedAt = c.now()
	}
	found, err := c.inLiveRoom(ctx, documentID, func(r *Room) error {
		return r.updateCursor(userID, cursor)
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrNotAParticipant
	}
	return nil
}

func (c *Coordinator) HandleSuggestionCreate(ctx context.Context, documentID, authorID string, span suggestion.Span, text string) (suggestion.Edit, error) {
	caps, err := c.access.Capabilities(ctx, documentID, authorID)
	if err != nil {
		return suggestion.Edit{}, fmt.Errorf("resolve capabilities: %w", err)
	}
	if !caps.CanCreateSuggestions {
		return suggestion.Edit{}, fmt.Errorf("%w: user %s cannot create suggestions", ErrPermissionDenied, authorID)
	}

	r, ticket, err := c.reserve(ctx, documentID)
	if err != nil {
		return suggestion.Edit{}, err
	}
	storeCtx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	edit, err := c.suggestions.Create(storeCtx, documentID, authorID, span, text)
	cancel()
	if err != nil {
		c.settle(r, ticket, nil, suggestion.Edit{})
		return suggestion.Edit{}, err
	}

	payload := Encode(suggestionCreated(edit))
	c.settle(r, ticket, payload, edit)
	c.propagate(ctx, documentID, payload, edit)
	return edit, nil
}

func (c *Coordinator) HandleSuggestionReview(ctx context.Context, documentID, suggestionID, reviewerID string, outcome suggestion.Outcome, reason string) (suggestion.Edit, error) {
	caps, err := c.access.Capabilities(ctx, documentID, reviewerID)
	if err != nil {
		return suggestion.Edit{}, fmt.Errorf("resolve capabilities: %w", err)
	}
	if !caps.CanApproveSuggestions {
		return suggestion.Edit{}, fmt.Errorf("%w: user %s cannot review suggestions", ErrPermissionDenied, reviewerID)
	}

	r, ticket, err := c.reserve(ctx, documentID)
	if err != nil {
		return suggestion.Edit{}, err
	}
	storeCtx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	edit, err := c.suggestions.Transition(storeCtx, documentID, suggestionID, reviewerID, outcome, reason)
	cancel()
	if err != nil {
		c.settle(r, ticket, nil, suggestion.Edit{})
		return suggestion.Edit{}, err
	}

	payload := Encode(suggestionReviewed(edit))
	c.settle(r, ticket, payload, edit)
	c.propagate(ctx, documentID, payload, edit)
	return edit, nil
}

// reserve takes an ordering ticket in the room of documentID before the
// store is touched. The room is created when none is live.
func (c *Coordinator) reserve(ctx context.Context, documentID string) (*Room, uint64, error) {
	var (
		room   *Room
		ticket uint64
	)
	err := c.inRoom(ctx, documentID, func(r *Room) error {
		room = r
		ticket = r.reserve()
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return room, ticket, nil
}

// settle hands the outcome of a ticketed operation back to its room. It is
// not bound to the caller's context: an unsettled ticket would hold back
// every later event of the room.
func (c *Coordinator) settle(r *Room, ticket uint64, payload []byte, edit suggestion.Edit) {
	err := r.exec(context.Background(), func() error {
		r.settle(ticket, payload, edit)
		return nil
	})
	if err != nil && !errors.Is(err, ErrRoomClosed) {
		log.Printf("room: settle event document=%s: %v", r.documentID, err)
	}
}

func (c *Coordinator) propagate(ctx context.Context, documentID string, payload []byte, edit suggestion.Edit) {
	if c.publisher != nil {
		if err := c.publisher.Publish(ctx, documentID, payload, edit); err != nil {
			log.Printf("room: relay publish document=%s suggestion=%s: %v", documentID, edit.ID, err)
		}
	}
	if c.indexer != nil {
		c.indexer.IndexSuggestion(edit)
	}
}

// HandleRelayed delivers a suggestion event produced by another process to
// the local participants of documentID. It never creates a room.
func (c *Coordinator) HandleRelayed(ctx context.Context, documentID string, payload []byte, edit suggestion.Edit) error {
	_, err := c.inLiveRoom(ctx, documentID, func(r *Room) error {
		r.settle(r.reserve(), payload, edit)
		return nil
	})
	return err
}

// HandleContentRevision summarises what changed between two revisions of a
// proposal. It does not touch room state.
func (c *Coordinator) HandleContentRevision(documentID, previousText, currentText string) diff.Change {
	return diff.Words(previousText, currentText)
}

// Describe reports the live state of documentID. The boolean is false when no
// room is loaded for it.
func (c *Coordinator) Describe(ctx context.Context, documentID string) (Info, bool) {
	var info Info
	found, err := c.inLiveRoom(ctx, documentID, func(r *Room) error {
		info = r.info()
		return nil
	})
	if err != nil || !found {
		return Info{DocumentID: documentID, State: StateEmpty, Participants: []ParticipantView{}}, false
	}
	return info, true
}

// AuthorizeRead fails with ErrPermissionDenied unless userID may read
// documentID.
func (c *Coordinator) AuthorizeRead(ctx context.Context, documentID, userID string) error {
	caps, err := c.access.Capabilities(ctx, documentID, userID)
	if err != nil {
		return fmt.Errorf("resolve capabilities: %w", err)
	}
	if !caps.CanRead {
		return fmt.Errorf("%w: user %s cannot read document %s", ErrPermissionDenied, userID, documentID)
	}
	return nil
}

func (c *Coordinator) ListSuggestions(ctx context.Context, documentID, userID string) ([]suggestion.Edit, error) {
	if err := c.AuthorizeRead(ctx, documentID, userID); err != nil {
		return nil, err
	}
	storeCtx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()
	return c.suggestions.ListByDocument(storeCtx, documentID)
}

// SearchSuggestions searches the audit trail of one document the caller may
// read.
func (c *Coordinator) SearchSuggestions(ctx context.Context, userID string, q search.Query) (search.Response, error) {
	q.DocumentID = strings.TrimSpace(q.DocumentID)
	if q.DocumentID == "" {
		return search.Response{}, fmt.Errorf("%w: documentId is required", ErrInvalidInput)
	}
	if err := c.AuthorizeRead(ctx, q.DocumentID, userID); err != nil {
		return search.Response{}, err
	}
	if c.searcher == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return c.searcher.Search(ctx, q), nil
}
