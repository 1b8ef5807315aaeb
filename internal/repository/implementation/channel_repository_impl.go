package implementation

import (
	"context"
	"errors"

	"teamhub-be/internal/entity"
	"teamhub-be/internal/repository/contract"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ChannelRepositoryImpl struct {
	db *gorm.DB
}

func NewChannelRepository(db *gorm.DB) contract.ChannelRepository {
	return &ChannelRepositoryImpl{db: db}
}

func (r *ChannelRepositoryImpl) Create(ctx context.Context, channel *entity.Channel) error {
	return r.db.WithContext(ctx).Create(channel).Error
}

func (r *ChannelRepositoryImpl) FindById(ctx context.Context, id uuid.UUID) (*entity.Channel, error) {
	var channel entity.Channel
	if err := r.db.WithContext(ctx).First(&channel, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &channel, nil
}

func (r *ChannelRepositoryImpl) FindAllByTeamId(ctx context.Context, teamId uuid.UUID) ([]*entity.Channel, error) {
	var channels []*entity.Channel
	err := r.db.WithContext(ctx).
		Where("team_id = ?", teamId).
		Order("created_at ASC").
		Find(&channels).Error
	return channels, err
}
