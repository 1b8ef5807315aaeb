package contract

import (
	"context"

	"teamhub-be/internal/entity"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type DocumentRepository interface {
	Create(ctx context.Context, document *entity.Document) error
	FindById(ctx context.Context, id uuid.UUID) (*entity.Document, error)
	FindAllByChannelId(ctx context.Context, channelId uuid.UUID) ([]*entity.Document, error)
	UpdateContent(ctx context.Context, id uuid.UUID, content datatypes.JSON) error
}
