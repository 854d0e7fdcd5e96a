package room

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chronicle/collab/internal/presence"
	"chronicle/collab/internal/search"
	"chronicle/collab/internal/suggestion"
)

func TestEndToEndSuggestionReview(t *testing.T) {
	h := newHarness(t)
	h.roles.Set("doc1", "B", "editor")
	ctx := context.Background()

	connA, connB := newConn("ca"), newConn("cb")
	h.join(t, "doc1", "A", connA)
	h.join(t, "doc1", "B", connB)

	created, err := h.coord.HandleSuggestionCreate(ctx, "doc1", "A", suggestion.Span{Start: 10, End: 20}, "revised wording")
	if err != nil {
		t.Fatalf("HandleSuggestionCreate() error = %v", err)
	}
	if created.Status != suggestion.StatusPending {
		t.Fatalf("expected PENDING, got %s", created.Status)
	}

	reviewed, err := h.coord.HandleSuggestionReview(ctx, "doc1", created.ID, "B", suggestion.OutcomeApprove, "looks good")
	if err != nil {
		t.Fatalf("HandleSuggestionReview() error = %v", err)
	}
	if reviewed.Status != suggestion.StatusApproved || reviewed.ReviewerID != "B" || reviewed.Reason != "looks good" {
		t.Fatalf("unexpected final state: %+v", reviewed)
	}

	h.drain(t)
	for _, conn := range []*recordingConn{connA, connB} {
		events := conn.ofType(TypeSuggestionReviewed)
		if len(events) != 1 {
			t.Fatalf("conn %s: expected exactly one suggestion_reviewed, got %d", conn.id, len(events))
		}
		if events[0]["suggestionId"] != created.ID || events[0]["status"] != "APPROVED" || events[0]["reviewerId"] != "B" {
			t.Fatalf("conn %s: unexpected event %v", conn.id, events[0])
		}
		if got := len(conn.ofType(TypeSuggestionCreated)); got != 1 {
			t.Fatalf("conn %s: expected one suggestion_created, got %d", conn.id, got)
		}
	}

	if len(h.publisher.published) != 2 || len(h.indexer.indexed) != 2 {
		t.Fatalf("expected relay and index for create and review, got %v / %d", h.publisher.published, len(h.indexer.indexed))
	}
}

func TestSecondReviewIsInvalidState(t *testing.T) {
	h := newHarness(t)
	h.roles.Set("doc1", "B", "editor")
	h.roles.Set("doc1", "C", "admin")
	ctx := context.Background()

	created, err := h.coord.HandleSuggestionCreate(ctx, "doc1", "A", suggestion.Span{Start: 0, End: 3}, "new")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for _, reviewer := range []string{"B", "C"} {
		wg.Add(1)
		go func(reviewer string) {
			defer wg.Done()
			_, err := h.coord.HandleSuggestionReview(ctx, "doc1", created.ID, reviewer, suggestion.OutcomeReject, "")
			results <- err
		}(reviewer)
	}
	wg.Wait()
	close(results)

	succeeded, conflicted := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, suggestion.ErrInvalidState):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || conflicted != 1 {
		t.Fatalf("expected one success and one InvalidState, got %d/%d", succeeded, conflicted)
	}

	if _, err := h.coord.HandleSuggestionReview(ctx, "doc1", "sug_missing", "B", suggestion.OutcomeApprove, ""); !errors.Is(err, suggestion.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPermissionDenied(t *testing.T) {
	h := newHarness(t)
	h.roles.Set("doc1", "viewer", "viewer")
	ctx := context.Background()
	conn := newConn("c1")
	h.join(t, "doc1", "viewer", conn)

	if _, err := h.coord.HandleSuggestionCreate(ctx, "doc1", "viewer", suggestion.Span{Start: 0, End: 1}, "x"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied for create, got %v", err)
	}

	created, err := h.coord.HandleSuggestionCreate(ctx, "doc1", "author", suggestion.Span{Start: 0, End: 1}, "x")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.coord.HandleSuggestionReview(ctx, "doc1", created.ID, "author", suggestion.OutcomeApprove, ""); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied for review, got %v", err)
	}

	h.drain(t)
	if got := len(conn.ofType(TypeSuggestionReviewed)); got != 0 {
		t.Fatalf("denied review must not broadcast, got %d", got)
	}
	if got := len(conn.ofType(TypeSuggestionCreated)); got != 1 {
		t.Fatalf("expected only the permitted create to broadcast, got %d", got)
	}
}

func TestReadScopedByDocumentRole(t *testing.T) {
	h := newHarness(t)
	h.roles.Set("secret", "A", "none")
	ctx := context.Background()

	if _, err := h.coord.HandleJoin(ctx, "secret", presence.Participant{UserID: "A", Conn: newConn("c1")}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("join without read: expected ErrPermissionDenied, got %v", err)
	}
	if h.registry.Len() != 0 {
		t.Fatal("a denied join must not open a room")
	}
	if _, err := h.coord.ListSuggestions(ctx, "secret", "A"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("list without read: expected ErrPermissionDenied, got %v", err)
	}
	if _, err := h.coord.SearchSuggestions(ctx, "A", search.Query{Text: "x", DocumentID: "secret"}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("search without read: expected ErrPermissionDenied, got %v", err)
	}
	if _, err := h.coord.SearchSuggestions(ctx, "A", search.Query{Text: "x"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("search without documentId: expected ErrInvalidInput, got %v", err)
	}

	if _, err := h.coord.ListSuggestions(ctx, "open", "A"); err != nil {
		t.Fatalf("list with default role: %v", err)
	}
	if resp, err := h.coord.SearchSuggestions(ctx, "A", search.Query{Text: "x", DocumentID: "open"}); err != nil || resp.Results == nil {
		t.Fatalf("search with default role: %+v, %v", resp, err)
	}
}

func TestJoinRosterReplacement(t *testing.T) {
	h := newHarness(t)
	first, second, replacement := newConn("c1"), newConn("c2"), newConn("c3")

	if snap := h.join(t, "doc1", "A", first); len(snap.Participants) != 1 {
		t.Fatalf("first join roster = %d", len(snap.Participants))
	}
	if snap := h.join(t, "doc1", "B", second); len(snap.Participants) != 2 {
		t.Fatalf("second join roster = %d", len(snap.Participants))
	}
	info, ok := h.coord.Describe(context.Background(), "doc1")
	if !ok || len(info.Participants) != 2 || info.State != StateActive {
		t.Fatalf("unexpected room info: %+v", info)
	}

	if snap := h.join(t, "doc1", "A", replacement); len(snap.Participants) != 2 {
		t.Fatalf("replacement join roster = %d, want 2", len(snap.Participants))
	}

	h.drain(t)
	if got := second.ofType(TypeUserJoined); len(got) != 0 {
		t.Fatalf("B joined after A, should see no user_joined, got %d", len(got))
	}
	if got := first.ofType(TypeUserJoined); len(got) != 1 || got[0]["userId"] != "B" {
		t.Fatalf("A should see exactly B joining, got %v", got)
	}
	replaced := first.ofType(TypeError)
	if len(replaced) != 1 || replaced[0]["code"] != CodeSessionReplaced {
		t.Fatalf("expected SESSION_REPLACED on superseded connection, got %v", replaced)
	}
	if !first.closed.Load() {
		t.Fatal("superseded connection should be closed")
	}
	if types := replacement.types(); len(types) == 0 || types[0] != TypeJoinAck {
		t.Fatalf("replacement should start with join_ack, got %v", types)
	}
}

func TestJoinAckPrecedesLaterEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	connA, connB := newConn("ca"), newConn("cb")
	h.join(t, "doc1", "A", connA)
	h.join(t, "doc1", "B", connB)
	if _, err := h.coord.HandleSuggestionCreate(ctx, "doc1", "A", suggestion.Span{Start: 0, End: 1}, "x"); err != nil {
		t.Fatalf("create: %v", err)
	}
	h.drain(t)

	want := []string{TypeJoinAck, TypeSuggestionCreated}
	got := connB.types()
	if len(got) != len(want) {
		t.Fatalf("B messages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("B messages = %v, want %v", got, want)
		}
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.coord.HandleLeave(ctx, "nowhere", "ghost"); err != nil {
		t.Fatalf("leave of unknown room: %v", err)
	}
	if h.registry.Len() != 0 {
		t.Fatal("leave must not create a room")
	}

	conn := newConn("c1")
	h.join(t, "doc1", "A", conn)
	if err := h.coord.HandleLeave(ctx, "doc1", "ghost"); err != nil {
		t.Fatalf("leave without join: %v", err)
	}
	connB := newConn("c2")
	h.join(t, "doc1", "B", connB)
	if err := h.coord.HandleLeave(ctx, "doc1", "B"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if err := h.coord.HandleLeave(ctx, "doc1", "B"); err != nil {
		t.Fatalf("second leave: %v", err)
	}

	h.drain(t)
	left := conn.ofType(TypeUserLeft)
	if len(left) != 1 || left[0]["userId"] != "B" {
		t.Fatalf("expected exactly one user_left for B, got %v", left)
	}
}

func TestDisconnectOfSupersededConnection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.join(t, "doc1", "A", newConn("c1"))
	h.join(t, "doc1", "A", newConn("c2"))

	if err := h.coord.HandleDisconnect(ctx, "doc1", "A", "c1"); err != nil {
		t.Fatalf("HandleDisconnect() error = %v", err)
	}
	if info, _ := h.coord.Describe(ctx, "doc1"); len(info.Participants) != 1 {
		t.Fatalf("replacement connection was removed: %+v", info)
	}
	if err := h.coord.HandleDisconnect(ctx, "doc1", "A", "c2"); err != nil {
		t.Fatalf("HandleDisconnect() error = %v", err)
	}
	if info, _ := h.coord.Describe(ctx, "doc1"); info.State != StateEmpty {
		t.Fatalf("expected EMPTY room, got %+v", info)
	}
}

func TestCursorUpdate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	cursor := presence.CursorState{
		Kind:   presence.CursorSelection,
		Anchor: presence.Point{Key: "n1", Offset: 1},
		Focus:  presence.Point{Key: "n1", Offset: 5},
	}

	if err := h.coord.HandleCursorUpdate(ctx, "doc1", "A", cursor); !errors.Is(err, ErrNotAParticipant) {
		t.Fatalf("expected ErrNotAParticipant without room, got %v", err)
	}

	connA, connB := newConn("ca"), newConn("cb")
	h.join(t, "doc1", "A", connA)
	h.join(t, "doc1", "B", connB)
	if err := h.coord.HandleCursorUpdate(ctx, "doc1", "ghost", cursor); !errors.Is(err, ErrNotAParticipant) {
		t.Fatalf("expected ErrNotAParticipant for stranger, got %v", err)
	}
	if err := h.coord.HandleCursorUpdate(ctx, "doc1", "A", presence.CursorState{Kind: "nope"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := h.coord.HandleCursorUpdate(ctx, "doc1", "A", cursor); err != nil {
		t.Fatalf("HandleCursorUpdate() error = %v", err)
	}

	info, _ := h.coord.Describe(ctx, "doc1")
	if info.Participants[0].Cursor == nil || info.Participants[0].Cursor.Focus.Offset != 5 {
		t.Fatalf("cursor not stored: %+v", info.Participants[0])
	}

	h.drain(t)
	if got := connA.ofType(TypeCursorUpdate); len(got) != 0 {
		t.Fatalf("sender must not receive its own cursor, got %d", len(got))
	}
	got := connB.ofType(TypeCursorUpdate)
	if len(got) != 1 || got[0]["userId"] != "A" {
		t.Fatalf("expected cursor_update from A, got %v", got)
	}
}

func TestCaretCursorWithoutFocus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	connA, connB := newConn("ca"), newConn("cb")
	h.join(t, "doc1", "A", connA)
	h.join(t, "doc1", "B", connB)

	caret := presence.CursorState{Kind: presence.CursorCaret, Anchor: presence.Point{Key: "n2", Offset: 4}}
	if err := h.coord.HandleCursorUpdate(ctx, "doc1", "A", caret); err != nil {
		t.Fatalf("HandleCursorUpdate() error = %v", err)
	}
	info, _ := h.coord.Describe(ctx, "doc1")
	stored := info.Participants[0].Cursor
	if stored == nil || stored.Focus != caret.Anchor {
		t.Fatalf("caret focus should default to its anchor: %+v", stored)
	}
}

func TestFailingConnectionIsIsolatedAndRemoved(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	broken, healthy := newConn("broken"), newConn("healthy")
	h.join(t, "doc1", "A", broken)
	h.join(t, "doc1", "B", healthy)
	broken.fail.Store(true)

	if _, err := h.coord.HandleSuggestionCreate(ctx, "doc1", "B", suggestion.Span{Start: 0, End: 1}, "x"); err != nil {
		t.Fatalf("broadcast with a broken peer must not fail the sender: %v", err)
	}
	waitFor(t, healthy, TypeSuggestionCreated, 1)
	left := waitFor(t, healthy, TypeUserLeft, 1)
	if left[0]["userId"] != "A" {
		t.Fatalf("expected A to be removed, got %v", left[0])
	}
}

func TestPersistenceFailureDoesNotBroadcast(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("disk full")
	h.repo.insertFn = func(context.Context, suggestion.Edit) error { return boom }
	conn := newConn("c1")
	h.join(t, "doc1", "A", conn)

	if _, err := h.coord.HandleSuggestionCreate(context.Background(), "doc1", "A", suggestion.Span{Start: 0, End: 1}, "x"); !errors.Is(err, boom) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	h.repo.insertFn = nil
	if _, err := h.coord.HandleSuggestionCreate(context.Background(), "doc1", "A", suggestion.Span{Start: 0, End: 1}, "y"); err != nil {
		t.Fatalf("room should keep working after a failed create: %v", err)
	}

	h.drain(t)
	if got := conn.ofType(TypeSuggestionCreated); len(got) != 1 {
		t.Fatalf("expected a single suggestion_created, got %d", len(got))
	}
	if len(h.publisher.published) != 1 {
		t.Fatalf("failed create must not be relayed: %v", h.publisher.published)
	}
}

// suggestionEvents lists the suggestion event types conn received, in order.
func suggestionEvents(conn *recordingConn) []string {
	var out []string
	for _, kind := range conn.types() {
		if kind == TypeSuggestionCreated || kind == TypeSuggestionReviewed {
			out = append(out, kind)
		}
	}
	return out
}

func TestReviewDuringSlowCreateKeepsAcceptanceOrder(t *testing.T) {
	h := newHarness(t)
	h.roles.Set("doc1", "B", "editor")
	ctx := context.Background()
	observer := newConn("obs")
	h.join(t, "doc1", "O", observer)

	committed := make(chan string, 1)
	release := make(chan struct{})
	h.repo.insertFn = func(ctx context.Context, edit suggestion.Edit) error {
		if err := h.repo.Repository.InsertSuggestion(ctx, edit); err != nil {
			return err
		}
		committed <- edit.ID
		<-release
		return nil
	}

	created := make(chan error, 1)
	go func() {
		_, err := h.coord.HandleSuggestionCreate(ctx, "doc1", "A", suggestion.Span{Start: 0, End: 4}, "slow")
		created <- err
	}()

	id := <-committed
	if _, err := h.coord.HandleSuggestionReview(ctx, "doc1", id, "B", suggestion.OutcomeApprove, ""); err != nil {
		t.Fatalf("review of committed suggestion: %v", err)
	}
	close(release)
	if err := <-created; err != nil {
		t.Fatalf("create: %v", err)
	}

	h.drain(t)
	got := suggestionEvents(observer)
	want := []string{TypeSuggestionCreated, TypeSuggestionReviewed}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("observer event order = %v, want %v", got, want)
	}
}

func TestFailedOperationDoesNotHoldBackLaterEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	observer := newConn("obs")
	h.join(t, "doc1", "O", observer)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.repo.insertFn = func(context.Context, suggestion.Edit) error {
		close(entered)
		<-release
		return errors.New("constraint violation")
	}
	failed := make(chan error, 1)
	go func() {
		_, err := h.coord.HandleSuggestionCreate(ctx, "doc1", "A", suggestion.Span{Start: 0, End: 1}, "doomed")
		failed <- err
	}()
	<-entered

	relayed := suggestion.Edit{ID: "sug_remote", DocumentID: "doc1", Status: suggestion.StatusPending}
	if err := h.coord.HandleRelayed(ctx, "doc1", Encode(suggestionCreated(relayed)), relayed); err != nil {
		t.Fatalf("relayed: %v", err)
	}
	if got := len(observer.ofType(TypeSuggestionCreated)); got != 0 {
		t.Fatalf("relayed event must wait for the earlier ticket, got %d deliveries", got)
	}

	close(release)
	if err := <-failed; err == nil {
		t.Fatal("expected the blocked create to fail")
	}
	waitFor(t, observer, TypeSuggestionCreated, 1)
}

func TestSequentialCreatesKeepAcceptanceOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	observer := newConn("obs")
	h.join(t, "doc1", "O", observer)

	var ids []string
	for i := 0; i < 20; i++ {
		edit, err := h.coord.HandleSuggestionCreate(ctx, "doc1", "A", suggestion.Span{Start: i, End: i + 1}, "text")
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		ids = append(ids, edit.ID)
	}

	h.drain(t)
	events := observer.ofType(TypeSuggestionCreated)
	if len(events) != len(ids) {
		t.Fatalf("expected %d events, got %d", len(ids), len(events))
	}
	for i, event := range events {
		got := event["suggestion"].(map[string]any)["id"]
		if got != ids[i] {
			t.Fatalf("event %d: got %v want %s", i, got, ids[i])
		}
	}
}

func TestJoinDuringReviewSeesReviewedState(t *testing.T) {
	h := newHarness(t)
	h.roles.Set("doc1", "B", "editor")
	ctx := context.Background()

	// Persisted while no room is live.
	stored, err := suggestion.NewStore(h.repo.Repository).WithClock(h.clock.Now).Create(ctx, "doc1", "A", suggestion.Span{Start: 0, End: 3}, "text")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	read := make(chan struct{})
	release := make(chan struct{})
	h.repo.listFn = func(ctx context.Context, documentID string) ([]suggestion.Edit, error) {
		items, err := h.repo.Repository.ListSuggestions(ctx, documentID)
		close(read)
		<-release
		return items, err
	}

	joiner := newConn("c1")
	joined := make(chan Snapshot, 1)
	go func() {
		snap, err := h.coord.HandleJoin(ctx, "doc1", presence.Participant{UserID: "J", UserName: "Joiner", Conn: joiner})
		if err != nil {
			t.Errorf("HandleJoin() error = %v", err)
		}
		joined <- snap
	}()

	<-read
	if _, err := h.coord.HandleSuggestionReview(ctx, "doc1", stored.ID, "B", suggestion.OutcomeApprove, ""); err != nil {
		t.Fatalf("review: %v", err)
	}
	close(release)
	snap := <-joined
	h.repo.listFn = nil

	if len(snap.Suggestions) != 1 || snap.Suggestions[0].Status != suggestion.StatusApproved {
		t.Fatalf("joiner snapshot must show the review, got %+v", snap.Suggestions)
	}
	later := h.join(t, "doc1", "K", newConn("c2"))
	if len(later.Suggestions) != 1 || later.Suggestions[0].Status != suggestion.StatusApproved {
		t.Fatalf("room cache kept a stale copy: %+v", later.Suggestions)
	}
}

func TestSnapshotIncludesPendingAndRecentlyReviewed(t *testing.T) {
	h := newHarness(t)
	h.roles.Set("doc1", "R", "editor")
	ctx := context.Background()

	old, _ := h.coord.HandleSuggestionCreate(ctx, "doc1", "A", suggestion.Span{Start: 0, End: 1}, "old")
	if _, err := h.coord.HandleSuggestionReview(ctx, "doc1", old.ID, "R", suggestion.OutcomeApprove, ""); err != nil {
		t.Fatalf("review: %v", err)
	}
	h.clock.Advance(2 * time.Hour)
	recent, _ := h.coord.HandleSuggestionCreate(ctx, "doc1", "A", suggestion.Span{Start: 1, End: 2}, "recent")
	if _, err := h.coord.HandleSuggestionReview(ctx, "doc1", recent.ID, "R", suggestion.OutcomeReject, "no"); err != nil {
		t.Fatalf("review: %v", err)
	}
	pending, _ := h.coord.HandleSuggestionCreate(ctx, "doc1", "A", suggestion.Span{Start: 2, End: 3}, "pending")

	snap := h.join(t, "doc1", "A", newConn("c1"))
	if len(snap.Suggestions) != 2 {
		t.Fatalf("expected recent + pending, got %+v", snap.Suggestions)
	}
	if snap.Suggestions[0].ID != recent.ID || snap.Suggestions[1].ID != pending.ID {
		t.Fatalf("unexpected snapshot order: %+v", snap.Suggestions)
	}
}

func TestJoinSurvivesStoreFailure(t *testing.T) {
	h := newHarness(t)
	h.repo.listFn = func(context.Context, string) ([]suggestion.Edit, error) { return nil, errors.New("timeout") }
	snap := h.join(t, "doc1", "A", newConn("c1"))
	if len(snap.Participants) != 1 || len(snap.Suggestions) != 0 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestHandleJoinValidation(t *testing.T) {
	h := newHarness(t)
	if _, err := h.coord.HandleJoin(context.Background(), "", presence.Participant{UserID: "A", Conn: newConn("c")}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := h.coord.HandleJoin(context.Background(), "doc1", presence.Participant{UserID: "A"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput without connection, got %v", err)
	}
}

func TestHandleRelayed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	edit := suggestion.Edit{ID: "sug_remote", DocumentID: "doc1", AuthorID: "Z", Status: suggestion.StatusPending, SuggestedText: "remote", CreatedAt: h.clock.Now()}
	payload := Encode(suggestionCreated(edit))

	if err := h.coord.HandleRelayed(ctx, "doc1", payload, edit); err != nil {
		t.Fatalf("HandleRelayed() error = %v", err)
	}
	if h.registry.Len() != 0 {
		t.Fatal("relayed event must not create a room")
	}

	conn := newConn("c1")
	h.join(t, "doc1", "A", conn)
	if err := h.coord.HandleRelayed(ctx, "doc1", payload, edit); err != nil {
		t.Fatalf("HandleRelayed() error = %v", err)
	}
	waitFor(t, conn, TypeSuggestionCreated, 1)

	snap := h.join(t, "doc1", "B", newConn("c2"))
	if len(snap.Suggestions) != 1 || snap.Suggestions[0].ID != "sug_remote" {
		t.Fatalf("relayed suggestion missing from snapshot: %+v", snap.Suggestions)
	}
	if len(h.publisher.published) != 0 {
		t.Fatal("relayed events must not be published again")
	}
}

func TestHandleContentRevision(t *testing.T) {
	h := newHarness(t)
	got := h.coord.HandleContentRevision("doc1", "hello world", "hello beautiful world")
	if got.OldValue != "" || got.NewValue != "beautiful" {
		t.Fatalf("unexpected delta: %+v", got)
	}
	if h.registry.Len() != 0 {
		t.Fatal("content revision must not create a room")
	}
}
