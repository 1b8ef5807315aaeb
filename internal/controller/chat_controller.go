package controller

import (
	"teamhub-be/internal/dto"
	"teamhub-be/internal/pkg/serverutils"
	"teamhub-be/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type IChatController interface {
	RegisterRoutes(r fiber.Router)
	CreateChannel(ctx *fiber.Ctx) error
	GetChannels(ctx *fiber.Ctx) error
	SendMessage(ctx *fiber.Ctx) error
	GetMessages(ctx *fiber.Ctx) error
	ToggleReaction(ctx *fiber.Ctx) error
}

type chatController struct {
	chatService service.IChatService
}

func NewChatController(chatService service.IChatService) IChatController {
	return &chatController{
		chatService: chatService,
	}
}

func (c *chatController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/chat/v1")
	h.Use(serverutils.JwtMiddleware)
	h.Post("channel", c.CreateChannel)
	h.Get("channel", c.GetChannels)
	h.Post("message", c.SendMessage)
	h.Get("channel/:id/messages", c.GetMessages)
	h.Post("reaction/toggle", c.ToggleReaction)
}

func callerIdentity(ctx *fiber.Ctx) dto.UserIdentity {
	userIdStr, _ := ctx.Locals("user_id").(string)
	userId, _ := uuid.Parse(userIdStr)
	name, _ := ctx.Locals("user_name").(string)
	image, _ := ctx.Locals("user_image").(string)
	return dto.UserIdentity{Id: userId, Name: name, Image: image}
}

func (c *chatController) CreateChannel(ctx *fiber.Ctx) error {
	var req dto.CreateChannelRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.chatService.CreateChannel(ctx.Context(), &req)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success create channel", res))
}

func (c *chatController) GetChannels(ctx *fiber.Ctx) error {
	teamId, err := uuid.Parse(ctx.Query("team_id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid team_id")
	}

	res, err := c.chatService.GetChannels(ctx.Context(), teamId)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get channels", res))
}

func (c *chatController) SendMessage(ctx *fiber.Ctx) error {
	user := callerIdentity(ctx)

	var req dto.SendMessageRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.chatService.SendMessage(ctx.Context(), user, &req)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success send message", res))
}

func (c *chatController) GetMessages(ctx *fiber.Ctx) error {
	channelId, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid channel id")
	}
	limit := ctx.QueryInt("limit", 50)
	offset := ctx.QueryInt("offset", 0)

	res, err := c.chatService.GetMessages(ctx.Context(), channelId, limit, offset)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get messages", res))
}

func (c *chatController) ToggleReaction(ctx *fiber.Ctx) error {
	user := callerIdentity(ctx)

	var req dto.ToggleReactionRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.chatService.ToggleReaction(ctx.Context(), user, &req)
	if err != nil {
		if err == service.ErrMessageNotFound {
			return fiber.NewError(fiber.StatusNotFound, "Message not found")
		}
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success toggle reaction", res))
}
