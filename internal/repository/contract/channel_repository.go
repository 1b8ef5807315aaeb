package contract

import (
	"context"

	"teamhub-be/internal/entity"

	"github.com/google/uuid"
)

type ChannelRepository interface {
	Create(ctx context.Context, channel *entity.Channel) error
	FindById(ctx context.Context, id uuid.UUID) (*entity.Channel, error)
	FindAllByTeamId(ctx context.Context, teamId uuid.UUID) ([]*entity.Channel, error)
}
