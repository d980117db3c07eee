package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/V4T54L/fleet-dispatch/internal/domain"
)

const (
	sseClientBuffer    = 64
	sseKeepAlivePeriod = 15 * time.Second
)

var _ domain.ActivityPublisher = (*SSEBroker)(nil)

type sseClient struct {
	placeID string // empty receives every place
	ch      chan []byte
}

// SSEBroker fans lifecycle events out to connected dashboards over
// server-sent events. It is an ActivityPublisher, so it sits beside the
// Redis stream and Kafka sinks.
type SSEBroker struct {
	logger  *slog.Logger
	clients map[*sseClient]struct{}
	mu      sync.RWMutex
}

// NewSSEBroker creates a new SSEBroker and starts its keep-alive loop.
func NewSSEBroker(ctx context.Context, logger *slog.Logger) *SSEBroker {
	broker := &SSEBroker{
		logger:  logger.With("component", "sse_broker"),
		clients: make(map[*sseClient]struct{}),
	}
	go broker.run(ctx)
	return broker
}

// ServeHTTP handles new client connections for the SSE stream. The optional
// place_id query parameter limits the stream to one place.
func (b *SSEBroker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := &sseClient{placeID: r.URL.Query().Get("place_id"), ch: make(chan []byte, sseClientBuffer)}
	b.addClient(client)
	defer b.removeClient(client)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-client.ch:
			if !ok {
				return
			}
			w.Write(msg)
			flusher.Flush()
		}
	}
}

// Publish implements domain.ActivityPublisher. It never blocks: a client
// whose buffer is full misses the event.
func (b *SSEBroker) Publish(ctx context.Context, event domain.ActivityEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE event: %w", err)
	}
	msg := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, data))
	b.broadcast(msg, event.PlaceID)
	return nil
}

// Clients returns the number of connected clients.
func (b *SSEBroker) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *SSEBroker) addClient(c *sseClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[c] = struct{}{}
	b.logger.Info("SSE client connected", "place_id", c.placeID)
}

func (b *SSEBroker) removeClient(c *sseClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.ch)
		b.logger.Info("SSE client disconnected")
	}
}

// broadcast delivers msg to every client subscribed to placeID. Events with
// no place (such as expiry sweeps) go to everyone.
func (b *SSEBroker) broadcast(msg []byte, placeID string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for c := range b.clients {
		if c.placeID != "" && placeID != "" && c.placeID != placeID {
			continue
		}
		select {
		case c.ch <- msg:
		default:
			b.logger.Debug("SSE client too slow, dropping event")
		}
	}
}

// run sends a comment line periodically so proxies keep idle streams open.
func (b *SSEBroker) run(ctx context.Context) {
	ticker := time.NewTicker(sseKeepAlivePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.mu.RLock()
			for c := range b.clients {
				select {
				case c.ch <- []byte(": keep-alive\n\n"):
				default:
				}
			}
			b.mu.RUnlock()
		}
	}
}
