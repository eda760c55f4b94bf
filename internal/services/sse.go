package services

import (
	"sync"
	"time"
)

// ReviewEvent is a review status change pushed to SSE subscribers.
type ReviewEvent struct {
	ID          string    `json:"id"`
	UserName    string    `json:"user_name,omitempty"`
	Status      string    `json:"status"` // pending, processing, completed, failed
	Attempt     int       `json:"attempt,omitempty"`
	TotalIssues *int      `json:"total_issues,omitempty"`
	At          time.Time `json:"at"`
}

// SSEHub manages SSE client connections and event broadcasting
type SSEHub struct {
	clients map[string]chan ReviewEvent
	mu      sync.RWMutex
}

func NewSSEHub() *SSEHub {
	return &SSEHub{
		clients: make(map[string]chan ReviewEvent),
	}
}

// Subscribe registers a client and returns its event channel.
func (h *SSEHub) Subscribe(clientID string) <-chan ReviewEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan ReviewEvent, 100)
	h.clients[clientID] = ch
	return ch
}

func (h *SSEHub) Unsubscribe(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.clients[clientID]; ok {
		close(ch)
		delete(h.clients, clientID)
	}
}

// Publish never blocks; a client whose buffer is full misses the event.
func (h *SSEHub) Publish(event ReviewEvent) {
	if event.At.IsZero() {
		event.At = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.clients {
		select {
		case ch <- event:
		default:
		}
	}
}

func (h *SSEHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var (
	globalSSEHub *SSEHub
	sseHubOnce   sync.Once
)

// GetSSEHub returns the process-wide hub.
func GetSSEHub() *SSEHub {
	sseHubOnce.Do(func() {
		globalSSEHub = NewSSEHub()
	})
	return globalSSEHub
}
