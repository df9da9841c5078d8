package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/fathima-sithara/travel-chat/internal/domain"
	"github.com/fathima-sithara/travel-chat/internal/service"
	"github.com/fathima-sithara/travel-chat/internal/ws"
)

type openConversationReq struct {
	PartnerID string `json:"partner_id" validate:"required,max=128"`
}

type sendMessageReq struct {
	Text       string                `json:"text"`
	ReplyTo    string                `json:"reply_to" validate:"omitempty,max=128"`
	Attachment *ws.AttachmentPayload `json:"attachment"`
}

func (s *Server) listConversations(c *fiber.Ctx) error {
	views, err := s.svc.Directory.List(c.UserContext(), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"conversations": views})
}

func (s *Server) openConversation(c *fiber.Ctx) error {
	var req openConversationReq
	if err := bind(c, &req); err != nil {
		return err
	}
	uid := userID(c)
	id, err := s.svc.Directory.Ensure(c.UserContext(), uid, req.PartnerID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":      id,
		"partner": s.svc.Users.Profile(c.UserContext(), req.PartnerID),
	})
}

func (s *Server) listMessages(c *fiber.Ctx) error {
	id := c.Params("id")
	views, err := s.views(c, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"conversation_id": id, "messages": views})
}

// views authorizes the caller and returns the decrypted log.
func (s *Server) views(c *fiber.Ctx, id string) ([]domain.MessageView, error) {
	if _, err := s.svc.Directory.Authorize(c.UserContext(), id, userID(c)); err != nil {
		return nil, err
	}
	msgs, err := s.svc.Messages.List(c.UserContext(), id)
	if err != nil {
		return nil, err
	}
	return s.svc.Messages.Decode(id, msgs), nil
}

func (s *Server) sendMessage(c *fiber.Ctx) error {
	id := c.Params("id")
	var req sendMessageReq
	if err := bind(c, &req); err != nil {
		return err
	}
	att, err := req.Attachment.ToAttachment()
	if err != nil {
		return err
	}

	uid := userID(c)
	if _, err := s.svc.Directory.Authorize(c.UserContext(), id, uid); err != nil {
		return err
	}
	draft := service.Draft{ConversationID: id, SenderID: uid, Text: req.Text, Attachment: att}
	if req.ReplyTo != "" {
		orig, err := s.svc.Messages.Get(c.UserContext(), id, req.ReplyTo)
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrMalformedRecord) {
			return domain.Invalid("reply_to", "message %s is not in this conversation", req.ReplyTo)
		}
		if err != nil {
			return err
		}
		draft.ReplyTo = &s.svc.Messages.Decode(id, []domain.Message{orig})[0]
	}

	out, err := s.svc.Composer.Compose(c.UserContext(), draft)
	if errors.Is(err, domain.ErrEmptyMessage) {
		return c.SendStatus(fiber.StatusNoContent)
	}
	if err != nil {
		return err
	}
	msg, err := s.svc.Messages.Append(c.UserContext(), *out)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":         msg.ID,
		"kind":       msg.Kind,
		"created_at": msg.CreatedAt,
	})
}

func (s *Server) markRead(c *fiber.Ctx) error {
	id := c.Params("id")
	uid := userID(c)
	if _, err := s.svc.Directory.Authorize(c.UserContext(), id, uid); err != nil {
		return err
	}
	n, err := s.svc.Messages.MarkRead(c.UserContext(), id, uid)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"marked": n})
}
