package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Message kinds carried in the envelope.
const (
	KindPresence = "presence"
	KindSession  = "session"
)

// Presence event types.
const (
	UserJoined      = "USER_JOINED"
	UserLeft        = "USER_LEFT"
	StatusChanged   = "STATUS_CHANGED"
	ActivityChanged = "ACTIVITY_CHANGED"
)

// Session event types.
const (
	SessionStarted   = "SESSION_STARTED"
	SessionPaused    = "SESSION_PAUSED"
	SessionResumed   = "SESSION_RESUMED"
	SessionCompleted = "SESSION_COMPLETED"
	SessionAbandoned = "SESSION_ABANDONED"
)

// PresenceEvent is broadcast on every externally visible presence change.
// It is ephemeral: no replay buffer, no delivery guarantee beyond currently
// connected subscribers.
type PresenceEvent struct {
	Type          string `json:"type"`
	UserID        string `json:"user_id"`
	Status        string `json:"status,omitempty"`
	ActivityLabel string `json:"activity_label,omitempty"`
	RoomID        string `json:"room_id,omitempty"`
}

// SessionEvent is broadcast on focus-session lifecycle transitions.
type SessionEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	RoomID    string `json:"room_id,omitempty"`
	Status    string `json:"status"`
}

// Message is the envelope published to a channel. Data holds the serialized
// PresenceEvent or SessionEvent depending on Kind.
type Message struct {
	Channel string          `json:"channel"`
	Kind    string          `json:"kind"`
	Data    json.RawMessage `json:"data"`
	At      time.Time       `json:"at"`
}

// PresencePayload decodes the envelope as a PresenceEvent.
func (m Message) PresencePayload() (PresenceEvent, error) {
	var evt PresenceEvent
	err := json.Unmarshal(m.Data, &evt)
	return evt, err
}

// SessionPayload decodes the envelope as a SessionEvent.
func (m Message) SessionPayload() (SessionEvent, error) {
	var evt SessionEvent
	err := json.Unmarshal(m.Data, &evt)
	return evt, err
}

// NewPresenceMessage wraps a presence event for the given channel.
func NewPresenceMessage(channel string, evt PresenceEvent) Message {
	data, _ := json.Marshal(evt)
	return Message{Channel: channel, Kind: KindPresence, Data: data, At: time.Now().UTC()}
}

// NewSessionMessage wraps a session event for the given channel.
func NewSessionMessage(channel string, evt SessionEvent) Message {
	data, _ := json.Marshal(evt)
	return Message{Channel: channel, Kind: KindSession, Data: data, At: time.Now().UTC()}
}

// RoomChannel names the broadcast channel for a room.
func RoomChannel(roomID string) string {
	return fmt.Sprintf("room:%s", roomID)
}

// UserChannel names the personal broadcast channel for a user.
func UserChannel(userID string) string {
	return fmt.Sprintf("user:%s", userID)
}

// Publisher is the fan-out seam between the presence core and the transport
// layer. Publish is fire-and-forget: a subscriber that connects after a
// publish never sees the message. Swapping implementations (in-process,
// Redis pub/sub, Kafka) must not change caller behavior.
type Publisher interface {
	// Publish broadcasts the message to all current subscribers of channel.
	Publish(ctx context.Context, channel string, msg Message) error

	// Subscribe starts listening for messages on the given channel. The
	// returned channel is closed when ctx is cancelled or the publisher
	// shuts down.
	Subscribe(ctx context.Context, channel string) (<-chan Message, error)

	// Type identifies the implementation for logs and metrics.
	Type() string

	// Close cleans up resources.
	Close() error
}
