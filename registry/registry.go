// Package registry is the Fan-out Server's Client Registry: per-client
// counters and subscription sets, all serialized under one coarse lock.
//
// Grounded on the symbol-id lookup maps in feeder/exchanges/common.go
// (SymbolNameToID, BuildReverseSymbolMap) — that package builds one
// static map once at startup; this one generalizes the shape into a
// mutex-guarded, mutable map of per-client records that's written from
// the event-loop goroutine and read from the broadcast path.
package registry

import "sync"

// Info is a by-value snapshot of one client's record.
type Info struct {
	FD           int
	MessagesSent uint64
	BytesSent    uint64
	SendErrors   uint64
	Slow         bool
	Subscribed   map[uint16]struct{}
}

type record struct {
	messagesSent uint64
	bytesSent    uint64
	sendErrors   uint64
	slow         bool
	subscribed   map[uint16]struct{}
}

// Registry holds one record per connected client, keyed by file
// descriptor / connection id.
type Registry struct {
	mu      sync.Mutex
	clients map[int]*record
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{clients: make(map[int]*record)}
}

// Add registers a newly accepted client. Calling Add twice for the same
// fd resets its record.
func (r *Registry) Add(fd int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[fd] = &record{subscribed: make(map[uint16]struct{})}
}

// Remove deletes a client's record, purging its subscriptions. Removing
// a missing fd is a no-op.
func (r *Registry) Remove(fd int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, fd)
}

// MarkSlow sets the slow-consumer flag. A no-op for a missing fd.
func (r *Registry) MarkSlow(fd int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[fd]; ok {
		c.slow = true
	}
}

// Record increments a client's send counters: messages_sent and
// bytes_sent on success, send_errors on failure. A no-op for a missing
// fd.
func (r *Registry) Record(fd int, bytes int, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[fd]
	if !ok {
		return
	}
	if success {
		c.messagesSent++
		c.bytesSent += uint64(bytes)
	} else {
		c.sendErrors++
	}
}

// Info returns a by-value snapshot of fd's record, or a zero Info if fd
// is unknown.
func (r *Registry) Info(fd int) Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[fd]
	if !ok {
		return Info{}
	}
	sub := make(map[uint16]struct{}, len(c.subscribed))
	for id := range c.subscribed {
		sub[id] = struct{}{}
	}
	return Info{
		FD:           fd,
		MessagesSent: c.messagesSent,
		BytesSent:    c.bytesSent,
		SendErrors:   c.sendErrors,
		Slow:         c.slow,
		Subscribed:   sub,
	}
}

// Subscribe replaces fd's subscription set. An empty ids slice clears
// it. Invalid ids are the caller's responsibility to filter — the
// registry stores whatever it's given.
func (r *Registry) Subscribe(fd int, ids []uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[fd]
	if !ok {
		return
	}
	c.subscribed = make(map[uint16]struct{}, len(ids))
	for _, id := range ids {
		c.subscribed[id] = struct{}{}
	}
}

// Unsubscribe removes a single symbol id from fd's set.
func (r *Registry) Unsubscribe(fd int, id uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[fd]; ok {
		delete(c.subscribed, id)
	}
}

// ClearSubscriptions empties fd's subscription set.
func (r *Registry) ClearSubscriptions(fd int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[fd]; ok {
		c.subscribed = make(map[uint16]struct{})
	}
}

// SubscribedClients returns a copy of every fd currently subscribed to
// id, built in a single pass under the lock.
func (r *Registry) SubscribedClients(id uint16) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var fds []int
	for fd, c := range r.clients {
		if _, ok := c.subscribed[id]; ok {
			fds = append(fds, fd)
		}
	}
	return fds
}
