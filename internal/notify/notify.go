// Package notify delivers commit events from the sync engine to registered
// observers.
//
// Delivery is asynchronous: Publish never blocks the caller on observer
// work. Events are handed to a single dispatch goroutine that calls
// observers in publish order, so events for a given table reach every
// observer in the order their writes committed. There is no replay; an
// observer only sees events published while it is subscribed.
package notify

import "sync"

// CommitEvent announces that a table's rows were durably written.
type CommitEvent struct {
	// Table is the registered table name.
	Table string `json:"table"`
	// UpdatedIDs lists the ids written in this commit, in queue order.
	UpdatedIDs []string `json:"updated_ids"`
}

// Observer receives commit events. Notify is called from the hub's dispatch
// goroutine; implementations that can block should hand off internally.
type Observer interface {
	Notify(ev CommitEvent)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ev CommitEvent)

// Notify calls f(ev).
func (f ObserverFunc) Notify(ev CommitEvent) { f(ev) }

// pending is one queued event plus the observers subscribed when it was
// published. Snapshotting at publish time keeps late subscribers from
// seeing earlier events.
type pending struct {
	ev        CommitEvent
	observers []Observer
}

// Hub fans commit events out to subscribed observers.
type Hub struct {
	mu        sync.Mutex
	cond      *sync.Cond
	observers map[int]Observer
	nextID    int
	queue     []pending
	closed    bool

	wg sync.WaitGroup
}

// NewHub creates a hub and starts its dispatch goroutine. Call Close to
// drain and stop it.
func NewHub() *Hub {
	h := &Hub{
		observers: make(map[int]Observer),
	}
	h.cond = sync.NewCond(&h.mu)
	h.wg.Add(1)
	go h.dispatch()
	return h
}

// Subscribe registers an observer and returns a function that removes it.
// The observer sees every event published between Subscribe and the
// returned cancel call.
func (h *Hub) Subscribe(o Observer) (cancel func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	h.observers[id] = o

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.observers, id)
	}
}

// Publish queues an event for delivery to the currently subscribed
// observers. It never blocks on observer work. Publishing after Close
// drops the event.
func (h *Hub) Publish(ev CommitEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	snapshot := make([]Observer, 0, len(h.observers))
	for _, o := range h.observers {
		snapshot = append(snapshot, o)
	}
	h.queue = append(h.queue, pending{ev: ev, observers: snapshot})
	h.cond.Signal()
}

// Close drains any queued events and stops the dispatch goroutine. It
// blocks until all pending deliveries have completed.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.cond.Signal()
	h.mu.Unlock()

	h.wg.Wait()
}

// dispatch delivers queued events one at a time, preserving publish order.
func (h *Hub) dispatch() {
	defer h.wg.Done()

	for {
		h.mu.Lock()
		for len(h.queue) == 0 && !h.closed {
			h.cond.Wait()
		}
		if len(h.queue) == 0 && h.closed {
			h.mu.Unlock()
			return
		}
		p := h.queue[0]
		h.queue = h.queue[1:]
		h.mu.Unlock()

		for _, o := range p.observers {
			o.Notify(p.ev)
		}
	}
}
