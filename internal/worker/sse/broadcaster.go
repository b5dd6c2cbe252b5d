// Package sse streams risk events to dashboard clients over Server-Sent Events.
package sse

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Event types emitted by the worker.
const (
	EventConnected     = "connected"
	EventAssessment    = "assessment"
	EventRulesUpdated  = "rules_updated"
	EventRecalibration = "recalibration"
	EventRetrained     = "retrained"
)

// clientBuffer is the number of pending events a slow client may hold
// before it is dropped.
const clientBuffer = 32

// Event is one message on the stream.
type Event struct {
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
	Type string    `json:"type"`
}

// Client represents a connected SSE client.
type Client struct {
	events chan []byte
	done   chan struct{}
	ID     string
	once   sync.Once
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

// Broadcaster fans events out to connected clients.
type Broadcaster struct {
	clients map[string]*Client
	nextID  int
	dropped int64
	mu      sync.RWMutex
}

// NewBroadcaster creates a new SSE broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]*Client),
	}
}

// AddClient registers a new client.
func (b *Broadcaster) AddClient() *Client {
	b.mu.Lock()
	b.nextID++
	client := &Client{
		ID:     fmt.Sprintf("client-%d", b.nextID),
		events: make(chan []byte, clientBuffer),
		done:   make(chan struct{}),
	}
	b.clients[client.ID] = client
	count := len(b.clients)
	b.mu.Unlock()

	log.Debug().
		Str("clientId", client.ID).
		Int("totalClients", count).
		Msg("SSE client connected")
	return client
}

// RemoveClient unregisters a client.
func (b *Broadcaster) RemoveClient(client *Client) {
	b.mu.Lock()
	delete(b.clients, client.ID)
	count := len(b.clients)
	b.mu.Unlock()

	client.close()

	log.Debug().
		Str("clientId", client.ID).
		Int("totalClients", count).
		Msg("SSE client disconnected")
}

// Publish sends an event of the given type to every client. Clients whose
// buffer is full are disconnected rather than blocking the publisher.
func (b *Broadcaster) Publish(eventType string, data any) {
	payload, err := json.Marshal(Event{Type: eventType, Data: data, Time: time.Now().UTC()})
	if err != nil {
		log.Error().Err(err).Str("type", eventType).Msg("Failed to marshal SSE event")
		return
	}

	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	var slow []*Client
	for _, c := range clients {
		select {
		case <-c.done:
		case c.events <- payload:
		default:
			slow = append(slow, c)
		}
	}

	for _, c := range slow {
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
		log.Warn().Str("clientId", c.ID).Msg("SSE client too slow, disconnecting")
		b.RemoveClient(c)
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Dropped returns how many clients were disconnected for falling behind.
func (b *Broadcaster) Dropped() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// HandleSSE streams events to one client until it disconnects.
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := b.AddClient()
	defer b.RemoveClient(client)

	hello, _ := json.Marshal(Event{Type: EventConnected, Data: map[string]string{"clientId": client.ID}, Time: time.Now().UTC()})
	if _, err := fmt.Fprintf(w, "data: %s\n\n", hello); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-client.done:
			return
		case msg := <-client.events:
			if _, err := fmt.Fprintf(w, "data: %s\n\n", msg); err != nil {
				log.Debug().Str("clientId", client.ID).Err(err).Msg("Failed to write to SSE client")
				return
			}
			flusher.Flush()
		}
	}
}
