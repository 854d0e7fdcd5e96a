package presence

import (
	"fmt"
	"log"
	"sync"
)

// Broadcaster holds the roster of one room. Sends happen outside the roster
// lock so a stalled connection never blocks membership changes.
type Broadcaster struct {
	mu           sync.RWMutex
	participants map[string]*Participant
	order        []string
	onFailure    func(DeliveryError)
}

func NewBroadcaster(onFailure func(DeliveryError)) *Broadcaster {
	return &Broadcaster{
		participants: map[string]*Participant{},
		onFailure:    onFailure,
	}
}

// Join inserts the participant or replaces the one with the same user id. The
// previous entry is returned when it was replaced.
func (b *Broadcaster) Join(p Participant) (roster []Participant, replaced *Participant) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.participants[p.UserID]; ok {
		previous := *existing
		replaced = &previous
		if p.JoinedAt.IsZero() {
			p.JoinedAt = existing.JoinedAt
		}
	} else {
		b.order = append(b.order, p.UserID)
	}
	stored := p
	b.participants[p.UserID] = &stored
	return b.rosterLocked(), replaced
}

// Leave removes the participant regardless of connection.
func (b *Broadcaster) Leave(userID string) (Participant, bool) {
	return b.remove(userID, "")
}

// LeaveConn removes the participant only while connID is still its current
// connection, so a superseded socket closing cannot evict its replacement.
func (b *Broadcaster) LeaveConn(userID, connID string) (Participant, bool) {
	if connID == "" {
		return Participant{}, false
	}
	return b.remove(userID, connID)
}

func (b *Broadcaster) remove(userID, connID string) (Participant, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing, ok := b.participants[userID]
	if !ok {
		return Participant{}, false
	}
	if connID != "" && existing.connID() != connID {
		return Participant{}, false
	}
	delete(b.participants, userID)
	for i, id := range b.order {
		if id == userID {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return *existing, true
}

// UpdateCursor replaces the stored cursor. Most recent write wins.
func (b *Broadcaster) UpdateCursor(userID string, cursor CursorState) (Participant, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing, ok := b.participants[userID]
	if !ok {
		return Participant{}, false
	}
	next := cursor
	existing.Cursor = &next
	return *existing, true
}

func (b *Broadcaster) Get(userID string) (Participant, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	existing, ok := b.participants[userID]
	if !ok {
		return Participant{}, false
	}
	return *existing, true
}

func (b *Broadcaster) Roster() []Participant {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.rosterLocked()
}

func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.participants)
}

func (b *Broadcaster) rosterLocked() []Participant {
	out := make([]Participant, 0, len(b.order))
	for _, id := range b.order {
		p := *b.participants[id]
		if p.Cursor != nil {
			cursor := *p.Cursor
			p.Cursor = &cursor
		}
		out = append(out, p)
	}
	return out
}

// Recipients snapshots the current connections, skipping excludeUserID.
func (b *Broadcaster) Recipients(excludeUserID string) []Target {
	b.mu.RLock()
	defer b.mu.RUnlock()

	targets := make([]Target, 0, len(b.order))
	for _, id := range b.order {
		if id == excludeUserID {
			continue
		}
		p := b.participants[id]
		if p.Conn == nil {
			continue
		}
		targets = append(targets, Target{UserID: id, Conn: p.Conn})
	}
	return targets
}

// Deliver sends payload to every target. A failing or panicking send is
// logged and reported to the failure hook; the remaining targets still
// receive the payload.
func (b *Broadcaster) Deliver(targets []Target, payload []byte) int {
	delivered := 0
	for _, target := range targets {
		if err := safeSend(target.Conn, payload); err != nil {
			failure := DeliveryError{UserID: target.UserID, ConnID: target.Conn.ID(), Err: err}
			log.Printf("presence: %v", &failure)
			if b.onFailure != nil {
				b.onFailure(failure)
			}
			continue
		}
		delivered++
	}
	return delivered
}

// Broadcast delivers payload to every participant except excludeUserID.
func (b *Broadcaster) Broadcast(payload []byte, excludeUserID string) int {
	return b.Deliver(b.Recipients(excludeUserID), payload)
}

func safeSend(conn Conn, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("send panicked: %v", r)
		}
	}()
	return conn.Send(payload)
}
