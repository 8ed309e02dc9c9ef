package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// sendDeadline caps one subscriber write; slower subscribers are dropped.
const sendDeadline = 10 * time.Second

// subscriber is one WebSocket connection on a channel. Writes are
// serialised through mu since gorilla connections allow one writer.
type subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *subscriber) send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(sendDeadline))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *subscriber) sendClose(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(sendDeadline))
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}

// Hub tracks subscribers per channel and fans events out to them.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*subscriber]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{channels: make(map[string]map[*subscriber]struct{})}
}

func (h *Hub) subscribe(channel string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.channels[channel]
	if !ok {
		subs = make(map[*subscriber]struct{})
		h.channels[channel] = subs
	}
	subs[sub] = struct{}{}
	slog.Debug("ws.hub.subscribed", "channel", channel, "subscribers", len(subs))
}

func (h *Hub) unsubscribe(channel string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.channels[channel]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}
}

// SubscriberCount returns the number of subscribers on a channel.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// Broadcast sends the event to every subscriber of its session channel.
// The subscriber set is snapshotted before sending so slow writes never
// hold the hub lock. Failed subscribers are removed and closed.
func (h *Hub) Broadcast(event Event) {
	sessionID := event.SessionID()
	if sessionID == "" {
		slog.Warn("ws.hub.broadcast_no_session", "type", event.Type)
		return
	}
	channel := channelForSessionID(sessionID)

	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("ws.hub.marshal_failed", "type", event.Type, "error", err)
		return
	}

	h.mu.RLock()
	snapshot := make([]*subscriber, 0, len(h.channels[channel]))
	for sub := range h.channels[channel] {
		snapshot = append(snapshot, sub)
	}
	h.mu.RUnlock()

	for _, sub := range snapshot {
		if err := sub.send(data); err != nil {
			slog.Debug("ws.hub.subscriber_gone", "channel", channel, "error", err)
			h.unsubscribe(channel, sub)
			_ = sub.conn.Close()
		}
	}
}
