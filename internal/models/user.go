package models

// User is owned by the identity subsystem; this service only reads it.
type User struct {
	ID          string `json:"id" dynamodbav:"id"`
	DisplayName string `json:"display_name" dynamodbav:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty" dynamodbav:"avatar_url"`
}
