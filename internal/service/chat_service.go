package service

import (
	"context"
	"time"

	"teamhub-be/internal/dto"
	"teamhub-be/internal/entity"
	"teamhub-be/internal/fanout"
	"teamhub-be/internal/pkg/logger"
	"teamhub-be/internal/repository/contract"
	"teamhub-be/internal/session"
	"teamhub-be/internal/transport"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type IChatService interface {
	CreateChannel(ctx context.Context, req *dto.CreateChannelRequest) (*dto.CreateChannelResponse, error)
	GetChannels(ctx context.Context, teamId uuid.UUID) ([]*dto.GetChannelsResponseItem, error)
	SendMessage(ctx context.Context, user dto.UserIdentity, req *dto.SendMessageRequest) (*dto.SendMessageResponse, error)
	GetMessages(ctx context.Context, channelId uuid.UUID, limit, offset int) (*dto.GetMessagesResponse, error)
	ToggleReaction(ctx context.Context, user dto.UserIdentity, req *dto.ToggleReactionRequest) (*dto.ToggleReactionResponse, error)
}

// chatService is the durable side of chat: rows first, then the broadcast.
// A message that failed to store is never announced; a message that stored
// but failed to broadcast is picked up by the next history fetch.
type chatService struct {
	channelRepo contract.ChannelRepository
	messageRepo contract.MessageRepository
	tr          transport.Transport
	log         logger.ILogger
}

func NewChatService(
	channelRepo contract.ChannelRepository,
	messageRepo contract.MessageRepository,
	tr transport.Transport,
	log logger.ILogger,
) IChatService {
	return &chatService{
		channelRepo: channelRepo,
		messageRepo: messageRepo,
		tr:          tr,
		log:         log,
	}
}

func (c *chatService) CreateChannel(ctx context.Context, req *dto.CreateChannelRequest) (*dto.CreateChannelResponse, error) {
	channel := entity.Channel{
		Id:        uuid.New(),
		Name:      req.Name,
		TeamId:    req.TeamId,
		CreatedAt: time.Now(),
	}
	if err := c.channelRepo.Create(ctx, &channel); err != nil {
		return nil, err
	}
	return &dto.CreateChannelResponse{Id: channel.Id}, nil
}

func (c *chatService) GetChannels(ctx context.Context, teamId uuid.UUID) ([]*dto.GetChannelsResponseItem, error) {
	channels, err := c.channelRepo.FindAllByTeamId(ctx, teamId)
	if err != nil {
		return nil, err
	}
	result := make([]*dto.GetChannelsResponseItem, 0, len(channels))
	for _, channel := range channels {
		result = append(result, &dto.GetChannelsResponseItem{
			Id:        channel.Id,
			Name:      channel.Name,
			CreatedAt: channel.CreatedAt,
		})
	}
	return result, nil
}

func (c *chatService) SendMessage(ctx context.Context, user dto.UserIdentity, req *dto.SendMessageRequest) (*dto.SendMessageResponse, error) {
	message := entity.Message{
		Id:          uuid.New(),
		ChannelId:   req.ChannelId,
		UserId:      user.Id,
		UserName:    user.Name,
		UserImage:   user.Image,
		Body:        req.Body,
		Attachments: datatypes.JSON(req.Attachments),
		CreatedAt:   time.Now(),
	}
	if err := c.messageRepo.Create(ctx, &message); err != nil {
		return nil, err
	}

	broadcast := fanout.Message{
		ID:        message.Id.String(),
		ChannelID: req.ChannelId.String(),
		Author: transport.Member{
			ID:    user.Id.String(),
			Name:  user.Name,
			Image: user.Image,
		},
		Body:        message.Body,
		Attachments: req.Attachments,
		CreatedAt:   message.CreatedAt,
	}
	channel := session.ChatChannel(req.ChannelId.String())
	if err := c.tr.Publish(ctx, channel, fanout.EventNewMessage, user.Id.String(), broadcast); err != nil {
		c.log.Warn("ChatService", "Message broadcast failed", map[string]interface{}{
			"channel": channel, "message": message.Id.String(), "error": err.Error(),
		})
	}

	return &dto.SendMessageResponse{Id: message.Id, CreatedAt: message.CreatedAt}, nil
}

func (c *chatService) GetMessages(ctx context.Context, channelId uuid.UUID, limit, offset int) (*dto.GetMessagesResponse, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	messages, total, err := c.messageRepo.FindByChannelId(ctx, channelId, limit, offset)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.Id)
	}
	reactions, err := c.messageRepo.FindReactionsByMessageIds(ctx, ids)
	if err != nil {
		return nil, err
	}
	byMessage := make(map[uuid.UUID]map[string][]string)
	for _, r := range reactions {
		if byMessage[r.MessageId] == nil {
			byMessage[r.MessageId] = make(map[string][]string)
		}
		byMessage[r.MessageId][r.Emoji] = append(byMessage[r.MessageId][r.Emoji], r.UserId.String())
	}

	result := make([]*dto.GetMessagesResponseItem, 0, len(messages))
	for _, m := range messages {
		result = append(result, &dto.GetMessagesResponseItem{
			Id:          m.Id,
			UserId:      m.UserId,
			UserName:    m.UserName,
			UserImage:   m.UserImage,
			Body:        m.Body,
			Attachments: []byte(m.Attachments),
			Reactions:   byMessage[m.Id],
			CreatedAt:   m.CreatedAt,
		})
	}
	return &dto.GetMessagesResponse{Messages: result, Total: total}, nil
}

// ToggleReaction computes the toggle against the stored state, the single
// source of truth, so a double-submitted toggle lands on the opposite action
// rather than a duplicate row.
func (c *chatService) ToggleReaction(ctx context.Context, user dto.UserIdentity, req *dto.ToggleReactionRequest) (*dto.ToggleReactionResponse, error) {
	message, err := c.messageRepo.FindById(ctx, req.MessageId)
	if err != nil {
		return nil, err
	}
	if message == nil {
		return nil, ErrMessageNotFound
	}

	existing, err := c.messageRepo.FindReaction(ctx, req.MessageId, user.Id, req.Emoji)
	if err != nil {
		return nil, err
	}

	action := fanout.ActionAdded
	if existing != nil {
		if err := c.messageRepo.DeleteReaction(ctx, existing.Id); err != nil {
			return nil, err
		}
		action = fanout.ActionRemoved
	} else {
		reaction := entity.Reaction{
			Id:        uuid.New(),
			MessageId: req.MessageId,
			UserId:    user.Id,
			Emoji:     req.Emoji,
			CreatedAt: time.Now(),
		}
		if err := c.messageRepo.CreateReaction(ctx, &reaction); err != nil {
			return nil, err
		}
	}

	ev := fanout.ReactionEvent{
		MessageID: req.MessageId.String(),
		Emoji:     req.Emoji,
		UserID:    user.Id.String(),
		Action:    action,
	}
	channel := session.ChatChannel(message.ChannelId.String())
	if err := c.tr.Publish(ctx, channel, fanout.EventMessageReaction, user.Id.String(), ev); err != nil {
		c.log.Warn("ChatService", "Reaction broadcast failed", map[string]interface{}{
			"channel": channel, "message": req.MessageId.String(), "error": err.Error(),
		})
	}

	return &dto.ToggleReactionResponse{
		MessageId: req.MessageId,
		Emoji:     req.Emoji,
		Action:    action,
	}, nil
}
