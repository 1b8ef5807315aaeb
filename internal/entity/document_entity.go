package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Document stores the last flattened snapshot of a shared document. Live
// edits replicate between participants; this row is what a late joiner or a
// reconnecting client seeds from.
type Document struct {
	Id        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Title     string
	ChannelId uuid.UUID `gorm:"type:uuid;index"`
	Content   datatypes.JSON
	CreatedAt time.Time
	UpdatedAt *time.Time
}
