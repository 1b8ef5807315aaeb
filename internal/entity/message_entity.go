package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Message struct {
	Id          uuid.UUID `gorm:"type:uuid;primaryKey"`
	ChannelId   uuid.UUID `gorm:"type:uuid;index"`
	UserId      uuid.UUID `gorm:"type:uuid;index"`
	UserName    string
	UserImage   string
	Body        string
	Attachments datatypes.JSON
	CreatedAt   time.Time
}

// Reaction is one user's reaction on one message. The unique index enforces
// the set semantics: at most one row per (message, user, emoji).
type Reaction struct {
	Id        uuid.UUID `gorm:"type:uuid;primaryKey"`
	MessageId uuid.UUID `gorm:"type:uuid;index;uniqueIndex:idx_reaction_identity"`
	UserId    uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_reaction_identity"`
	Emoji     string    `gorm:"uniqueIndex:idx_reaction_identity"`
	CreatedAt time.Time
}
