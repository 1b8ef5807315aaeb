package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// UserIdentity is the authenticated caller as carried in the token claims.
type UserIdentity struct {
	Id    uuid.UUID
	Name  string
	Image string
}

type CreateChannelRequest struct {
	Name   string    `json:"name" validate:"required"`
	TeamId uuid.UUID `json:"team_id" validate:"required"`
}

type CreateChannelResponse struct {
	Id uuid.UUID `json:"id"`
}

type GetChannelsResponseItem struct {
	Id        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type SendMessageRequest struct {
	ChannelId   uuid.UUID       `json:"channel_id" validate:"required"`
	Body        string          `json:"body" validate:"required"`
	Attachments json.RawMessage `json:"attachments"`
}

type SendMessageResponse struct {
	Id        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

type GetMessagesResponseItem struct {
	Id          uuid.UUID           `json:"id"`
	UserId      uuid.UUID           `json:"user_id"`
	UserName    string              `json:"user_name"`
	UserImage   string              `json:"user_image,omitempty"`
	Body        string              `json:"body"`
	Attachments json.RawMessage     `json:"attachments,omitempty"`
	Reactions   map[string][]string `json:"reactions,omitempty"` // emoji -> user ids
	CreatedAt   time.Time           `json:"created_at"`
}

type GetMessagesResponse struct {
	Messages []*GetMessagesResponseItem `json:"messages"`
	Total    int64                      `json:"total"`
}

type ToggleReactionRequest struct {
	MessageId uuid.UUID `json:"message_id" validate:"required"`
	Emoji     string    `json:"emoji" validate:"required"`
}

type ToggleReactionResponse struct {
	MessageId uuid.UUID `json:"message_id"`
	Emoji     string    `json:"emoji"`
	Action    string    `json:"action"`
}
