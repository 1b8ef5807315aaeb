package implementation

import (
	"context"
	"errors"
	"time"

	"teamhub-be/internal/entity"
	"teamhub-be/internal/repository/contract"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type DocumentRepositoryImpl struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) contract.DocumentRepository {
	return &DocumentRepositoryImpl{db: db}
}

func (r *DocumentRepositoryImpl) Create(ctx context.Context, document *entity.Document) error {
	return r.db.WithContext(ctx).Create(document).Error
}

func (r *DocumentRepositoryImpl) FindById(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	var document entity.Document
	if err := r.db.WithContext(ctx).First(&document, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &document, nil
}

func (r *DocumentRepositoryImpl) FindAllByChannelId(ctx context.Context, channelId uuid.UUID) ([]*entity.Document, error) {
	var documents []*entity.Document
	err := r.db.WithContext(ctx).
		Where("channel_id = ?", channelId).
		Order("created_at ASC").
		Find(&documents).Error
	return documents, err
}

func (r *DocumentRepositoryImpl) UpdateContent(ctx context.Context, id uuid.UUID, content datatypes.JSON) error {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&entity.Document{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"content":    content,
			"updated_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("document not found")
	}
	return nil
}
