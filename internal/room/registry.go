package room

import (
	"context"
	"log"
	"sync"
	"time"
)

type RegistryOptions struct {
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	QueueSize     int
	Now           func() time.Time
}

// Registry owns every live room of this process. It is created at start-up
// and drained by Close on shutdown.
type Registry struct {
	mu     sync.Mutex
	rooms  map[string]*Room
	closed bool
	opts   RegistryOptions
}

func NewRegistry(opts RegistryOptions) *Registry {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 5 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{rooms: map[string]*Room{}, opts: opts}
}

// Resolve returns the live room for documentID, creating it when absent or
// when the previous one was evicted.
func (g *Registry) Resolve(documentID string) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, ErrRegistryClosed
	}
	if existing, ok := g.rooms[documentID]; ok && !existing.isClosed() {
		return existing, nil
	}
	created := newRoom(documentID, g.opts.QueueSize, g.opts.Now)
	g.rooms[documentID] = created
	return created, nil
}

// Lookup returns the live room for documentID without creating one.
func (g *Registry) Lookup(documentID string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	existing, ok := g.rooms[documentID]
	if !ok || existing.isClosed() {
		return nil, false
	}
	return existing, true
}

func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

func (g *Registry) snapshot() []*Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	return rooms
}

// Sweep evicts rooms that have been empty for longer than the idle timeout
// and returns how many were evicted.
func (g *Registry) Sweep(ctx context.Context) int {
	evicted := 0
	for _, r := range g.snapshot() {
		idle := false
		if !r.isClosed() {
			err := r.exec(ctx, func() error {
				idle = r.tryEvict(g.opts.IdleTimeout)
				return nil
			})
			if err != nil && ctx.Err() != nil {
				return evicted
			}
		}
		if !idle && !r.isClosed() {
			continue
		}

		g.mu.Lock()
		if g.rooms[r.documentID] == r {
			delete(g.rooms, r.documentID)
		}
		g.mu.Unlock()
		r.stop()
		if idle {
			evicted++
			log.Printf("room: evicted idle room document=%s", r.documentID)
		}
	}
	return evicted
}

// Run sweeps idle rooms until ctx is cancelled.
func (g *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(g.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Sweep(ctx)
		}
	}
}

// Close refuses new rooms, flushes pending fan-out of every room and stops
// their workers. It returns ctx.Err() if draining does not finish in time.
func (g *Registry) Close(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.rooms = map[string]*Room{}
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for _, r := range rooms {
			wg.Add(1)
			go func(r *Room) {
				defer wg.Done()
				r.stop()
			}(r)
		}
		wg.Wait()
	}()

	select {
	case <-done:
		log.Printf("room: registry closed, drained %d rooms", len(rooms))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
