package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Publisher delivers chat events to subscribers. In a single process this
// is the hub directly; a split deployment posts to the subscription
// service's internal broadcast endpoint.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// HubPublisher publishes straight into a local hub.
type HubPublisher struct {
	Hub *Hub
}

func (p *HubPublisher) Publish(_ context.Context, event Event) {
	p.Hub.Broadcast(event)
}

// LoopbackPublisher forwards events over HTTP to another process's
// /internal/broadcast endpoint.
type LoopbackPublisher struct {
	baseURL string
	client  *http.Client
}

// NewLoopbackPublisher creates a publisher targeting the given base URL.
func NewLoopbackPublisher(baseURL string) *LoopbackPublisher {
	return &LoopbackPublisher{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (p *LoopbackPublisher) Publish(ctx context.Context, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("ws.publisher.marshal_failed", "type", event.Type, "error", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/internal/broadcast", bytes.NewReader(data))
	if err != nil {
		slog.Error("ws.publisher.request_failed", "type", event.Type, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		slog.Warn("ws.publisher.post_failed", "type", event.Type, "error", err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		slog.Warn("ws.publisher.rejected", "type", event.Type, "status", resp.StatusCode)
	}
}

// BroadcastHandler accepts internal broadcast posts and republishes them to
// the local hub. Bind it to the loopback interface only; it carries no
// authentication of its own.
type BroadcastHandler struct {
	hub *Hub
}

// NewBroadcastHandler creates the internal broadcast handler.
func NewBroadcastHandler(hub *Hub) *BroadcastHandler {
	return &BroadcastHandler{hub: hub}
}

// RegisterRoutes registers the broadcast endpoint on the mux.
func (h *BroadcastHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /internal/broadcast", h.handleBroadcast)
}

func (h *BroadcastHandler) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var event Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, fmt.Sprintf(`{"error": "invalid body: %v"}`, err), http.StatusBadRequest)
		return
	}
	if event.Type == "" || event.SessionID() == "" {
		http.Error(w, `{"error": "type and payload.session_id are required"}`, http.StatusBadRequest)
		return
	}

	h.hub.Broadcast(event)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status": "ok"}`))
}
