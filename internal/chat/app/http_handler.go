package app

import (
	"chat_stream_service/internal/chat/domain"
	errprocess "chat_stream_service/pkg/err"
	"chat_stream_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// ChatHTTPHandler REST surface of the message store
type ChatHTTPHandler struct {
	messageUC    *MessageUseCase
	attachmentUC *AttachmentUseCase
}

// NewChatHTTPHandler create ChatHTTPHandler
func NewChatHTTPHandler(messageUC *MessageUseCase, attachmentUC *AttachmentUseCase) *ChatHTTPHandler {
	return &ChatHTTPHandler{messageUC: messageUC, attachmentUC: attachmentUC}
}

// MessagesResponse body of every page/lookup response
type MessagesResponse struct {
	Messages []domain.MessageEntry `json:"messages"`
}

// LookupRequest body of POST /conversations/:id/messages/lookup
type LookupRequest struct {
	IDs []domain.MessageID `json:"ids"`
}

// SendBody body of POST /conversations/:id/messages
type SendBody struct {
	Content        string            `json:"content"`
	ImageURL       string            `json:"image_url"`
	ParentID       *domain.MessageID `json:"parent_id"`
	SenderUsername string            `json:"sender_username"`
	SenderAvatar   string            `json:"sender_avatar"`
}

// EditBody body of PATCH /messages/:id
type EditBody struct {
	Content string `json:"content"`
}

// ReactionBody body of POST .../reactions
type ReactionBody struct {
	Emoji string `json:"emoji"`
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

func messageIDParam(c *fiber.Ctx, name string) (domain.MessageID, bool) {
	id, err := domain.ParseMessageID(c.Params(name))
	return id, err == nil
}

// ListMessages GET /conversations/:id/messages?limit=&before=&after=
func (h *ChatHTTPHandler) ListMessages(c *fiber.Ctx) error {
	conv := c.Params("id")
	limit := c.QueryInt("limit", DefaultPageSize)

	var (
		entries []domain.MessageEntry
		err     error
	)
	switch {
	case c.Query("before") != "":
		before, perr := domain.ParseMessageID(c.Query("before"))
		if perr != nil {
			return badRequest(c, "invalid before")
		}
		entries, err = h.messageUC.Before(c.UserContext(), conv, before, limit)
	case c.Query("after") != "":
		after, perr := domain.ParseMessageID(c.Query("after"))
		if perr != nil {
			return badRequest(c, "invalid after")
		}
		entries, err = h.messageUC.After(c.UserContext(), conv, after, limit)
	default:
		entries, err = h.messageUC.Latest(c.UserContext(), conv, limit)
	}
	if err != nil {
		return errprocess.Respond(c, err, zap.String("conversation_id", conv))
	}
	return c.JSON(MessagesResponse{Messages: entries})
}

// LookupMessages POST /conversations/:id/messages/lookup
func (h *ChatHTTPHandler) LookupMessages(c *fiber.Ctx) error {
	conv := c.Params("id")
	var req LookupRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	entries, err := h.messageUC.Lookup(c.UserContext(), conv, req.IDs)
	if err != nil {
		return errprocess.Respond(c, err, zap.String("conversation_id", conv))
	}
	return c.JSON(MessagesResponse{Messages: entries})
}

// SendMessage POST /conversations/:id/messages
func (h *ChatHTTPHandler) SendMessage(c *fiber.Ctx) error {
	conv := c.Params("id")
	var body SendBody
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid body")
	}

	username := body.SenderUsername
	if username == "" {
		username = middlewares.Username(c)
	}
	entry, err := h.messageUC.Send(c.UserContext(), domain.SendRequest{
		ConversationID: conv,
		SenderID:       middlewares.ProfileID(c),
		SenderUsername: username,
		SenderAvatar:   body.SenderAvatar,
		Content:        body.Content,
		ImageURL:       body.ImageURL,
		ParentID:       body.ParentID,
	})
	if err != nil {
		return errprocess.Respond(c, err, zap.String("conversation_id", conv))
	}
	return c.Status(fiber.StatusCreated).JSON(entry)
}

// EditMessage PATCH /messages/:id
func (h *ChatHTTPHandler) EditMessage(c *fiber.Ctx) error {
	id, ok := messageIDParam(c, "id")
	if !ok {
		return badRequest(c, "invalid message id")
	}
	var body EditBody
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid body")
	}
	entry, err := h.messageUC.Edit(c.UserContext(), middlewares.ProfileID(c), id, body.Content)
	if err != nil {
		return errprocess.Respond(c, err, zap.String("message_id", id.String()))
	}
	return c.JSON(entry)
}

// DeleteMessage DELETE /messages/:id
func (h *ChatHTTPHandler) DeleteMessage(c *fiber.Ctx) error {
	id, ok := messageIDParam(c, "id")
	if !ok {
		return badRequest(c, "invalid message id")
	}
	if err := h.messageUC.Delete(c.UserContext(), middlewares.ProfileID(c), id); err != nil {
		return errprocess.Respond(c, err, zap.String("message_id", id.String()))
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// AddReaction POST /conversations/:id/messages/:mid/reactions
func (h *ChatHTTPHandler) AddReaction(c *fiber.Ctx) error {
	id, ok := messageIDParam(c, "mid")
	if !ok {
		return badRequest(c, "invalid message id")
	}
	var body ReactionBody
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid body")
	}
	if err := h.messageUC.React(c.UserContext(), c.Params("id"), id, middlewares.ProfileID(c), body.Emoji); err != nil {
		return errprocess.Respond(c, err, zap.String("message_id", id.String()))
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RemoveReaction DELETE /conversations/:id/messages/:mid/reactions?emoji=
func (h *ChatHTTPHandler) RemoveReaction(c *fiber.Ctx) error {
	id, ok := messageIDParam(c, "mid")
	if !ok {
		return badRequest(c, "invalid message id")
	}
	if err := h.messageUC.Unreact(c.UserContext(), c.Params("id"), id, middlewares.ProfileID(c), c.Query("emoji")); err != nil {
		return errprocess.Respond(c, err, zap.String("message_id", id.String()))
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// MarkRead POST /conversations/:id/read
func (h *ChatHTTPHandler) MarkRead(c *fiber.Ctx) error {
	conv := c.Params("id")
	if err := h.messageUC.MarkRead(c.UserContext(), conv, middlewares.ProfileID(c)); err != nil {
		return errprocess.Respond(c, err, zap.String("conversation_id", conv))
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// UploadAttachment POST /conversations/:id/attachments, multipart field "file"
func (h *ChatHTTPHandler) UploadAttachment(c *fiber.Ctx) error {
	conv := c.Params("id")
	fh, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "missing file")
	}
	f, err := fh.Open()
	if err != nil {
		return badRequest(c, "unreadable file")
	}
	defer f.Close()

	url, err := h.attachmentUC.Upload(c.UserContext(), conv, fh.Filename, fh.Header.Get(fiber.HeaderContentType), fh.Size, f)
	if err != nil {
		return errprocess.Respond(c, err,
			zap.String("conversation_id", conv),
			zap.Int64("size", fh.Size),
		)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"url": url})
}
