// Package transport carries command lines between remote clients and the
// control loop. Carriers run their own goroutines; the loop only sees the
// Hub's request channel and calls Broadcast.
package transport

import (
	"sync"

	"github.com/google/uuid"

	"github.com/cjeanneret/WinkGo/internal/debug"
)

// Request is one inbound command line. Reply, when non-nil, receives the
// single response line; it must be buffered so the loop never blocks.
type Request struct {
	Line   string
	Source string
	Reply  chan<- string
}

// NewReply returns a reply channel suitable for Request.Reply.
func NewReply() chan string {
	return make(chan string, 1)
}

// Hub fans requests in from every carrier and fans unsolicited lines
// (status, notifications) out to every subscriber.
type Hub struct {
	requests chan Request

	mu      sync.RWMutex
	clients map[string]chan string
}

func NewHub(queue int) *Hub {
	if queue <= 0 {
		queue = 32
	}
	return &Hub{
		requests: make(chan Request, queue),
		clients:  make(map[string]chan string),
	}
}

// Requests is drained by the control loop.
func (h *Hub) Requests() <-chan Request {
	return h.requests
}

// Submit queues a request without blocking. It returns false when the
// loop is not keeping up.
func (h *Hub) Submit(r Request) bool {
	select {
	case h.requests <- r:
		return true
	default:
		debug.Warn("Command queue full, dropping %q from %s", r.Line, r.Source)
		return false
	}
}

// Subscribe registers a client for broadcast lines. The returned id names
// the client in logs; the cleanup function must be called on disconnect.
func (h *Hub) Subscribe(carrier string) (string, <-chan string, func()) {
	id := carrier + ":" + uuid.NewString()
	ch := make(chan string, 64)

	h.mu.Lock()
	h.clients[id] = ch
	h.mu.Unlock()
	debug.Verbose("Client %s subscribed", id)

	unsub := func() {
		h.mu.Lock()
		if _, ok := h.clients[id]; ok {
			delete(h.clients, id)
			close(ch)
		}
		h.mu.Unlock()
		debug.Verbose("Client %s unsubscribed", id)
	}
	return id, ch, unsub
}

// Broadcast sends line to every subscriber. Slow clients miss lines.
func (h *Hub) Broadcast(line string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- line:
		default:
		}
	}
}

// Clients returns the number of subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
