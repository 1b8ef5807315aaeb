package service

import (
	"context"
	"time"

	"teamhub-be/internal/crdt"
	"teamhub-be/internal/dto"
	"teamhub-be/internal/entity"
	"teamhub-be/internal/pkg/logger"
	"teamhub-be/internal/repository/contract"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type IDocumentService interface {
	Create(ctx context.Context, req *dto.CreateDocumentRequest) (*dto.CreateDocumentResponse, error)
	Show(ctx context.Context, id uuid.UUID) (*dto.ShowDocumentResponse, error)
	GetByChannel(ctx context.Context, channelId uuid.UUID) ([]*dto.GetDocumentsResponseItem, error)
	// Persister adapts the snapshot writer for a document replica.
	Persister() crdt.Persister
}

type documentService struct {
	documentRepo contract.DocumentRepository
	log          logger.ILogger
}

func NewDocumentService(documentRepo contract.DocumentRepository, log logger.ILogger) IDocumentService {
	return &documentService{
		documentRepo: documentRepo,
		log:          log,
	}
}

func (c *documentService) Create(ctx context.Context, req *dto.CreateDocumentRequest) (*dto.CreateDocumentResponse, error) {
	document := entity.Document{
		Id:        uuid.New(),
		Title:     req.Title,
		ChannelId: req.ChannelId,
		Content:   datatypes.JSON([]byte("[]")),
		CreatedAt: time.Now(),
	}
	if err := c.documentRepo.Create(ctx, &document); err != nil {
		return nil, err
	}
	return &dto.CreateDocumentResponse{Id: document.Id}, nil
}

func (c *documentService) Show(ctx context.Context, id uuid.UUID) (*dto.ShowDocumentResponse, error) {
	document, err := c.documentRepo.FindById(ctx, id)
	if err != nil {
		return nil, err
	}
	if document == nil {
		return nil, ErrDocumentNotFound
	}
	return &dto.ShowDocumentResponse{
		Id:        document.Id,
		Title:     document.Title,
		ChannelId: document.ChannelId,
		Content:   []byte(document.Content),
		CreatedAt: document.CreatedAt,
		UpdatedAt: document.UpdatedAt,
	}, nil
}

func (c *documentService) GetByChannel(ctx context.Context, channelId uuid.UUID) ([]*dto.GetDocumentsResponseItem, error) {
	documents, err := c.documentRepo.FindAllByChannelId(ctx, channelId)
	if err != nil {
		return nil, err
	}
	result := make([]*dto.GetDocumentsResponseItem, 0, len(documents))
	for _, document := range documents {
		result = append(result, &dto.GetDocumentsResponseItem{
			Id:        document.Id,
			Title:     document.Title,
			CreatedAt: document.CreatedAt,
			UpdatedAt: document.UpdatedAt,
		})
	}
	return result, nil
}

// Persister writes debounced snapshots. It runs on the replica's timer
// goroutine, so it carries its own deadline instead of a caller context.
func (c *documentService) Persister() crdt.Persister {
	return func(docID string, content []byte) {
		id, err := uuid.Parse(docID)
		if err != nil {
			c.log.Warn("DocumentService", "Snapshot for non-uuid document id", map[string]interface{}{
				"doc": docID,
			})
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.documentRepo.UpdateContent(ctx, id, datatypes.JSON(content)); err != nil {
			c.log.Error("DocumentService", "Snapshot write failed", map[string]interface{}{
				"doc": docID, "error": err.Error(),
			})
		}
	}
}
