// ABOUTME: Event types and the Broadcaster interface for pushing to clients
// ABOUTME: Dispatch is fire-and-forget; the deployed transport lives outside this core

package event

import "time"

// Type identifies what happened.
type Type string

const (
	TypeMessage        Type = "message"
	TypeMessageEdited  Type = "message_edited"
	TypeMessageDeleted Type = "message_deleted"
	TypePresence       Type = "presence"
	TypeTyping         Type = "typing"
)

// Event is a single push notification for connected clients.
type Event struct {
	Type       Type           `json:"type"`
	ChannelID  string         `json:"channel_id,omitempty"`
	IdentityID string         `json:"identity_id,omitempty"`
	At         time.Time      `json:"at"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Broadcaster pushes events to connected clients. Implementations are
// fire-and-forget: callers never block on delivery and delivery failures
// stay inside the implementation.
type Broadcaster interface {
	SendToChannel(channelID string, ev Event)
	SendToIdentity(identityID string, ev Event)
	BroadcastAll(ev Event)
}
