// Package ws broadcasts chat events to WebSocket subscribers grouped by
// per-session channels.
package ws

import "github.com/google/uuid"

// Event types broadcast to session channels.
const (
	EventSessionCreated = "session_created"
	EventSessionUpdated = "session_updated"
	EventMessageCreated = "message_created"
	EventStreamChunk    = "llm_stream_chunk"
	EventError          = "error"
)

// Event is one broadcast payload. The payload carries a session_id field
// used to derive the target channel.
type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// SessionID extracts the session id from the event payload.
func (e Event) SessionID() string {
	if e.Payload == nil {
		return ""
	}
	id, _ := e.Payload["session_id"].(string)
	return id
}

// ChannelForSession returns the broadcast channel name for a session.
func ChannelForSession(sessionID uuid.UUID) string {
	return "chat-session-" + sessionID.String()
}

// channelForSessionID is the string-id variant used when the id arrives
// from a wire payload.
func channelForSessionID(sessionID string) string {
	return "chat-session-" + sessionID
}
