package implementation

import (
	"context"
	"errors"

	"teamhub-be/internal/entity"
	"teamhub-be/internal/repository/contract"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MessageRepositoryImpl struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) contract.MessageRepository {
	return &MessageRepositoryImpl{db: db}
}

func (r *MessageRepositoryImpl) Create(ctx context.Context, message *entity.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *MessageRepositoryImpl) FindByChannelId(ctx context.Context, channelId uuid.UUID, limit, offset int) ([]*entity.Message, int64, error) {
	var messages []*entity.Message
	var total int64

	db := r.db.WithContext(ctx).Model(&entity.Message{}).Where("channel_id = ?", channelId)

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := db.Order("created_at ASC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error

	return messages, total, err
}

func (r *MessageRepositoryImpl) FindById(ctx context.Context, id uuid.UUID) (*entity.Message, error) {
	var message entity.Message
	if err := r.db.WithContext(ctx).First(&message, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &message, nil
}

func (r *MessageRepositoryImpl) FindReaction(ctx context.Context, messageId, userId uuid.UUID, emoji string) (*entity.Reaction, error) {
	var reaction entity.Reaction
	err := r.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ? AND emoji = ?", messageId, userId, emoji).
		First(&reaction).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &reaction, nil
}

func (r *MessageRepositoryImpl) CreateReaction(ctx context.Context, reaction *entity.Reaction) error {
	return r.db.WithContext(ctx).Create(reaction).Error
}

func (r *MessageRepositoryImpl) DeleteReaction(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&entity.Reaction{}, "id = ?", id).Error
}

func (r *MessageRepositoryImpl) FindReactionsByMessageIds(ctx context.Context, messageIds []uuid.UUID) ([]*entity.Reaction, error) {
	if len(messageIds) == 0 {
		return nil, nil
	}
	var reactions []*entity.Reaction
	err := r.db.WithContext(ctx).
		Where("message_id IN ?", messageIds).
		Find(&reactions).Error
	return reactions, err
}
