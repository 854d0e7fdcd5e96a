package room

import (
	"sync"

	"chronicle/collab/internal/presence"
)

type delivery struct {
	targets []presence.Target
	payload []byte
	then    func()
}

// dispatcher is the ordered fan-out queue of one room. The worker appends in
// acceptance order without blocking; a single goroutine sends in that order.
type dispatcher struct {
	mu      sync.Mutex
	queue   []delivery
	stopped bool
	wake    chan struct{}
	quit    chan struct{}
	done    chan struct{}
	deliver func([]presence.Target, []byte)
}

func newDispatcher(deliver func([]presence.Target, []byte)) *dispatcher {
	d := &dispatcher{
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		deliver: deliver,
	}
	go d.run()
	return d
}

func (d *dispatcher) enqueue(targets []presence.Target, payload []byte) {
	if len(targets) == 0 || payload == nil {
		return
	}
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.push(delivery{targets: targets, payload: payload})
}

// after queues fn behind every delivery enqueued so far.
func (d *dispatcher) after(fn func()) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.push(delivery{then: fn})
}

// push appends item and releases d.mu.
func (d *dispatcher) push(item delivery) {
	d.queue = append(d.queue, item)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case <-d.wake:
			d.flush()
		case <-d.quit:
			d.flush()
			return
		}
	}
}

func (d *dispatcher) flush() {
	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		d.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, item := range batch {
			if item.then != nil {
				item.then()
				continue
			}
			d.deliver(item.targets, item.payload)
		}
	}
}

// stop refuses new deliveries, flushes what is queued and waits for the
// sender goroutine to exit.
func (d *dispatcher) stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.stopped = true
	d.mu.Unlock()
	close(d.quit)
	<-d.done
}
