package entity

import (
	"time"

	"github.com/google/uuid"
)

type Channel struct {
	Id        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string
	TeamId    uuid.UUID `gorm:"type:uuid;index"`
	CreatedAt time.Time
	UpdatedAt *time.Time
}
