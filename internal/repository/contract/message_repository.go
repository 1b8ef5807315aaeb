package contract

import (
	"context"

	"teamhub-be/internal/entity"

	"github.com/google/uuid"
)

type MessageRepository interface {
	Create(ctx context.Context, message *entity.Message) error
	FindByChannelId(ctx context.Context, channelId uuid.UUID, limit, offset int) ([]*entity.Message, int64, error)
	FindById(ctx context.Context, id uuid.UUID) (*entity.Message, error)

	FindReaction(ctx context.Context, messageId, userId uuid.UUID, emoji string) (*entity.Reaction, error)
	CreateReaction(ctx context.Context, reaction *entity.Reaction) error
	DeleteReaction(ctx context.Context, id uuid.UUID) error
	FindReactionsByMessageIds(ctx context.Context, messageIds []uuid.UUID) ([]*entity.Reaction, error)
}
