package models

import "time"

type Room struct {
	ID          string    `json:"id" dynamodbav:"id"`
	Name        string    `json:"name" dynamodbav:"name"`
	Description string    `json:"description" dynamodbav:"description"`
	IsPrivate   bool      `json:"is_private" dynamodbav:"is_private"`
	ImageURL    string    `json:"image_url,omitempty" dynamodbav:"image_url"`
	CreatorID   string    `json:"creator_id" dynamodbav:"creator_id"`
	CreatedAt   time.Time `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// RoomMember is one row per (room, user) pair. The store rejects a second
// insert for the same pair.
type RoomMember struct {
	RoomID   string    `json:"room_id" dynamodbav:"room_id"`
	UserID   string    `json:"user_id" dynamodbav:"user_id"`
	JoinedAt time.Time `json:"joined_at" dynamodbav:"joined_at"`
}

type RoomModerator struct {
	RoomID    string    `json:"room_id" dynamodbav:"room_id"`
	UserID    string    `json:"user_id" dynamodbav:"user_id"`
	GrantedAt time.Time `json:"granted_at" dynamodbav:"granted_at"`
}
