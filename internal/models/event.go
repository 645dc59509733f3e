package models

import "time"

const (
	EventUserJoined = "user_joined"
	EventUserLeft   = "user_left"
	EventMessage    = "message"
)

// RoomEvent is the payload broadcast to room subscribers. Delivery is
// best-effort and lossy; membership state in the store is authoritative.
type RoomEvent struct {
	Type    string    `json:"type"`
	RoomID  string    `json:"room_id"`
	User    *User     `json:"user,omitempty"`
	Message *Message  `json:"message,omitempty"`
	SentAt  time.Time `json:"sent_at"`
}
