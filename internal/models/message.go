package models

import "time"

type Message struct {
	ID        string    `json:"id" dynamodbav:"id"`
	RoomID    string    `json:"room_id" dynamodbav:"room_id"`
	AuthorID  string    `json:"author_id" dynamodbav:"author_id"`
	Content   string    `json:"content" dynamodbav:"content"`
	IsDeleted bool      `json:"is_deleted" dynamodbav:"is_deleted"`
	CreatedAt time.Time `json:"created_at" dynamodbav:"created_at"`
}
