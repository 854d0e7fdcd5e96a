package room

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"chronicle/collab/internal/presence"
	"chronicle/collab/internal/suggestion"
)

type State string

const (
	StateEmpty  State = "EMPTY"
	StateActive State = "ACTIVE"
)

type Info struct {
	DocumentID   string            `json:"documentId"`
	State        State             `json:"state"`
	Participants []ParticipantView `json:"participants"`
	LastActivity time.Time         `json:"lastActivity"`
	EmptySince   *time.Time        `json:"emptySince,omitempty"`
}

// Room is the live session of one document. Every state change runs on the
// room's worker goroutine; fan-out runs on its dispatcher goroutine.
type Room struct {
	documentID string
	now        func() time.Time

	ops      chan func()
	quit     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
	closed   atomic.Bool
	loaded   atomic.Bool

	presence *presence.Broadcaster
	out      *dispatcher

	// owned by the worker
	suggestions  map[string]suggestion.Edit
	order        []string
	lastActivity time.Time
	emptySince   time.Time
	nextTicket   uint64
	releaseNext  uint64
	pending      map[uint64]*pendingEvent
}

// pendingEvent is a suggestion event whose ticket was taken before the store
// call. Events are published strictly in ticket order.
type pendingEvent struct {
	settled bool
	payload []byte
	edit    suggestion.Edit
}

func newRoom(documentID string, queueSize int, now func() time.Time) *Room {
	if queueSize <= 0 {
		queueSize = 64
	}
	r := &Room{
		documentID:  documentID,
		now:         now,
		ops:         make(chan func(), queueSize),
		quit:        make(chan struct{}),
		stopped:     make(chan struct{}),
		suggestions: map[string]suggestion.Edit{},
		pending:     map[uint64]*pendingEvent{},
	}
	r.lastActivity = now()
	r.emptySince = r.lastActivity
	r.presence = presence.NewBroadcaster(r.scheduleRemoval)
	r.out = newDispatcher(func(targets []presence.Target, payload []byte) {
		r.presence.Deliver(targets, payload)
	})
	go r.work()
	return r
}

func (r *Room) DocumentID() string {
	return r.documentID
}

func (r *Room) work() {
	defer close(r.stopped)
	for {
		select {
		case task := <-r.ops:
			task()
		case <-r.quit:
			for {
				select {
				case task := <-r.ops:
					task()
				default:
					return
				}
			}
		}
	}
}

// exec runs fn on the worker and waits for it. Once the room is closed every
// operation fails with ErrRoomClosed so the caller can resolve a fresh room.
func (r *Room) exec(ctx context.Context, fn func() error) error {
	var err error
	done := make(chan struct{})
	task := func() {
		defer close(done)
		defer func() {
			if p := recover(); p != nil {
				log.Printf("room: operation panicked document=%s: %v", r.documentID, p)
				err = fmt.Errorf("room operation panicked: %v", p)
			}
		}()
		if r.closed.Load() {
			err = ErrRoomClosed
			return
		}
		err = fn()
	}

	select {
	case r.ops <- task:
	case <-r.stopped:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return err
	case <-r.stopped:
		select {
		case <-done:
			return err
		default:
			return ErrRoomClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// scheduleRemoval is the broadcaster's failure hook. It runs on the
// dispatcher goroutine, so the removal is queued rather than awaited.
func (r *Room) scheduleRemoval(failure presence.DeliveryError) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := r.exec(ctx, func() error {
			r.detach(failure.UserID, failure.ConnID)
			return nil
		})
		if err != nil && !errors.Is(err, ErrRoomClosed) {
			log.Printf("room: remove stale connection document=%s user=%s: %v", r.documentID, failure.UserID, err)
		}
	}()
}

func (r *Room) stop() {
	r.stopOnce.Do(func() {
		r.closed.Store(true)
		close(r.quit)
		<-r.stopped
		r.out.stop()
	})
}

func (r *Room) isClosed() bool {
	return r.closed.Load()
}

// The methods below run on the worker only.

func (r *Room) touch() {
	r.lastActivity = r.now()
}

func (r *Room) mergeLoaded(items []suggestion.Edit) {
	if r.loaded.Load() {
		return
	}
	order := make([]string, 0, len(items)+len(r.order))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if _, ok := r.suggestions[item.ID]; !ok {
			r.suggestions[item.ID] = item
		}
		order = append(order, item.ID)
		seen[item.ID] = true
	}
	for _, id := range r.order {
		if !seen[id] {
			order = append(order, id)
		}
	}
	r.order = order
	r.loaded.Store(true)
}

// upsert records the latest known state of a suggestion. A terminal state is
// never overwritten by an older PENDING copy.
func (r *Room) upsert(edit suggestion.Edit) {
	existing, ok := r.suggestions[edit.ID]
	if !ok {
		r.order = append(r.order, edit.ID)
		r.suggestions[edit.ID] = edit
		return
	}
	if existing.Status.Terminal() && !edit.Status.Terminal() {
		return
	}
	r.suggestions[edit.ID] = edit
}

func (r *Room) snapshot(roster []presence.Participant, since time.Time) Snapshot {
	views := make([]ParticipantView, 0, len(roster))
	for _, p := range roster {
		views = append(views, viewOf(p))
	}
	edits := make([]suggestion.Edit, 0, len(r.order))
	for _, id := range r.order {
		edits = append(edits, r.suggestions[id])
	}
	return Snapshot{Participants: views, Suggestions: suggestion.Visible(edits, since)}
}

func (r *Room) join(p presence.Participant, since time.Time) Snapshot {
	roster, replaced := r.presence.Join(p)
	r.touch()
	r.emptySince = time.Time{}

	if replaced != nil && replaced.Conn != nil && replaced.Conn.ID() != p.Conn.ID() {
		old := replaced.Conn
		r.out.enqueue(
			[]presence.Target{{UserID: replaced.UserID, Conn: old}},
			Encode(NewErrorMessage("", CodeSessionReplaced, "session replaced by a newer connection")),
		)
		if closer, ok := old.(io.Closer); ok {
			r.out.after(func() { _ = closer.Close() })
		}
	}

	snap := r.snapshot(roster, since)
	r.out.enqueue([]presence.Target{{UserID: p.UserID, Conn: p.Conn}}, Encode(JoinAck{Type: TypeJoinAck, Snapshot: snap}))
	if replaced == nil {
		r.out.enqueue(r.presence.Recipients(p.UserID), Encode(UserJoined{
			Type:      TypeUserJoined,
			UserID:    p.UserID,
			UserName:  p.UserName,
			UserEmail: p.UserEmail,
		}))
	}
	return snap
}

func (r *Room) leave(userID string) bool {
	p, ok := r.presence.Leave(userID)
	if !ok {
		return false
	}
	r.departed(p)
	return true
}

func (r *Room) detach(userID, connID string) bool {
	p, ok := r.presence.LeaveConn(userID, connID)
	if !ok {
		return false
	}
	r.departed(p)
	return true
}

func (r *Room) departed(p presence.Participant) {
	r.touch()
	r.out.enqueue(r.presence.Recipients(""), Encode(UserLeft{Type: TypeUserLeft, UserID: p.UserID}))
	if r.presence.Len() == 0 {
		r.emptySince = r.now()
	}
}

func (r *Room) updateCursor(userID string, cursor presence.CursorState) error {
	if _, ok := r.presence.UpdateCursor(userID, cursor); !ok {
		return ErrNotAParticipant
	}
	r.touch()
	r.out.enqueue(r.presence.Recipients(userID), Encode(CursorUpdate{
		Type:     TypeCursorUpdate,
		UserID:   userID,
		Position: cursor,
	}))
	return nil
}

// publish records edit and fans payload out to every participant, the
// originator included.
func (r *Room) publish(payload []byte, edit suggestion.Edit) {
	r.upsert(edit)
	r.touch()
	r.out.enqueue(r.presence.Recipients(""), payload)
}

// reserve takes the next ordering ticket. Every ticket must be settled.
func (r *Room) reserve() uint64 {
	ticket := r.nextTicket
	r.nextTicket++
	r.pending[ticket] = &pendingEvent{}
	return ticket
}

// settle completes ticket with the event to publish, or with a nil payload
// when the operation failed. Settled events are released in ticket order;
// a later event waits until every earlier ticket is settled.
func (r *Room) settle(ticket uint64, payload []byte, edit suggestion.Edit) {
	event, ok := r.pending[ticket]
	if !ok || event.settled {
		return
	}
	event.settled = true
	event.payload = payload
	event.edit = edit

	for {
		head, ok := r.pending[r.releaseNext]
		if !ok || !head.settled {
			return
		}
		delete(r.pending, r.releaseNext)
		r.releaseNext++
		if head.payload != nil {
			r.publish(head.payload, head.edit)
		}
	}
}

func (r *Room) info() Info {
	roster := r.presence.Roster()
	info := Info{
		DocumentID:   r.documentID,
		State:        StateEmpty,
		Participants: make([]ParticipantView, 0, len(roster)),
		LastActivity: r.lastActivity,
	}
	for _, p := range roster {
		info.Participants = append(info.Participants, viewOf(p))
	}
	if len(roster) > 0 {
		info.State = StateActive
	} else {
		since := r.emptySince
		info.EmptySince = &since
	}
	return info
}

// tryEvict closes the room when it has been empty for at least idle and no
// suggestion event is in flight.
func (r *Room) tryEvict(idle time.Duration) bool {
	if r.presence.Len() > 0 || r.emptySince.IsZero() || len(r.pending) > 0 {
		return false
	}
	if r.now().Sub(r.emptySince) < idle {
		return false
	}
	r.closed.Store(true)
	return true
}
