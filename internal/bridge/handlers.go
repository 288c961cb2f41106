package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/noteduco342/om-realtime-hub/internal/conn"
	"github.com/noteduco342/om-realtime-hub/internal/directory"
	"github.com/noteduco342/om-realtime-hub/internal/httpx"
	"github.com/noteduco342/om-realtime-hub/internal/hub"
	"github.com/noteduco342/om-realtime-hub/internal/models"
	"github.com/noteduco342/om-realtime-hub/internal/validation"
)

type SendMessageRequest struct {
	RecipientID   string               `json:"recipientId" validate:"required,max=64"`
	RecipientType models.RecipientType `json:"recipientType" validate:"required,oneof=USER GROUP ALL"`
	Content       string               `json:"content" validate:"required"`
}

type TypingRequest struct {
	RecipientID   string               `json:"recipientId" validate:"required,max=64"`
	RecipientType models.RecipientType `json:"recipientType" validate:"required,oneof=USER GROUP ALL"`
	Typing        *bool                `json:"typing" validate:"required"`
}

type CreateGroupRequest struct {
	Name      string   `json:"name" validate:"required"`
	MemberIDs []string `json:"memberIds" validate:"required,min=1,dive,required"`
}

func (s *Server) health(c *fiber.Ctx) error {
	ctx, cancel := s.context(c)
	defer cancel()
	snap, err := s.hub.Snapshot(ctx)
	if err != nil {
		return httpx.Unavailable(c, "hub_closed", "Hub is not running")
	}
	return c.JSON(fiber.Map{
		"status": "ok",
		"state":  snap.State,
	})
}

func (s *Server) state(c *fiber.Ctx) error {
	ctx, cancel := s.context(c)
	defer cancel()
	snap, err := s.hub.Snapshot(ctx)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(snap)
}

func (s *Server) unread(c *fiber.Ctx) error {
	ctx, cancel := s.context(c)
	defer cancel()
	counts, err := s.hub.UnreadCounts(ctx)
	if err != nil {
		return s.fail(c, err)
	}
	total, err := s.hub.UnreadTotal(ctx)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"counts": counts, "total": total})
}

func (s *Server) presence(c *fiber.Ctx) error {
	userID := c.Params("userId")
	if !validation.ValidateID(userID) {
		return httpx.BadRequest(c, "invalid_user", "Invalid user ID")
	}
	ctx, cancel := s.context(c)
	defer cancel()
	p, err := s.hub.Presence(ctx, userID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(p)
}

func (s *Server) messages(c *fiber.Ctx) error {
	key, ok := conversationKey(c)
	if !ok {
		return httpx.BadRequest(c, "invalid_conversation", "Invalid conversation key")
	}
	ctx, cancel := s.context(c)
	defer cancel()
	msgs, err := s.hub.Conversation(ctx, key)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(msgs)
}

func (s *Server) typers(c *fiber.Ctx) error {
	key, ok := conversationKey(c)
	if !ok {
		return httpx.BadRequest(c, "invalid_conversation", "Invalid conversation key")
	}
	ctx, cancel := s.context(c)
	defer cancel()
	typers, err := s.hub.ActiveTypers(ctx, key)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(typers)
}

func (s *Server) activate(c *fiber.Ctx) error {
	return s.keyIntent(c, s.hub.Activate)
}

func (s *Server) deactivate(c *fiber.Ctx) error {
	return s.keyIntent(c, s.hub.Deactivate)
}

func (s *Server) markRead(c *fiber.Ctx) error {
	return s.keyIntent(c, s.hub.MarkRead)
}

func (s *Server) keyIntent(c *fiber.Ctx, fn func(context.Context, models.ConversationKey) error) error {
	key, ok := conversationKey(c)
	if !ok {
		return httpx.BadRequest(c, "invalid_conversation", "Invalid conversation key")
	}
	ctx, cancel := s.context(c)
	defer cancel()
	if err := fn(ctx, key); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) sendMessage(c *fiber.Ctx) error {
	var req SendMessageRequest
	if err := s.parse(c, &req); err != nil {
		return httpx.BadRequest(c, "invalid_body", err.Error())
	}
	ctx, cancel := s.context(c)
	defer cancel()
	msg, err := s.hub.SendMessage(ctx, req.RecipientID, req.RecipientType, req.Content)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(msg)
}

func (s *Server) sendTyping(c *fiber.Ctx) error {
	var req TypingRequest
	if err := s.parse(c, &req); err != nil {
		return httpx.BadRequest(c, "invalid_body", err.Error())
	}
	ctx, cancel := s.context(c)
	defer cancel()
	err := s.hub.SendTyping(ctx, req.RecipientID, req.RecipientType, *req.Typing)
	if errors.Is(err, conn.ErrDropped) {
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"dropped": true})
	}
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"dropped": false})
}

func (s *Server) notifications(c *fiber.Ctx) error {
	ctx, cancel := s.context(c)
	defer cancel()
	list, err := s.hub.Notifications(ctx)
	if err != nil {
		return s.fail(c, err)
	}
	unread, err := s.hub.NotificationUnreadCount(ctx)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"notifications": list, "unread": unread})
}

func (s *Server) markNotificationRead(c *fiber.Ctx) error {
	ctx, cancel := s.context(c)
	defer cancel()
	ok, err := s.hub.MarkNotificationRead(ctx, c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	if !ok {
		return httpx.NotFound(c, "notification_not_found", "Notification not found")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) markAllNotificationsRead(c *fiber.Ctx) error {
	ctx, cancel := s.context(c)
	defer cancel()
	n, err := s.hub.MarkAllNotificationsRead(ctx)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"marked": n})
}

func (s *Server) groups(c *fiber.Ctx) error {
	ctx, cancel := s.context(c)
	defer cancel()
	groups, err := s.hub.Groups(ctx)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(groups)
}

func (s *Server) createGroup(c *fiber.Ctx) error {
	var req CreateGroupRequest
	if err := s.parse(c, &req); err != nil {
		return httpx.BadRequest(c, "invalid_body", err.Error())
	}
	ctx, cancel := s.context(c)
	defer cancel()
	group, err := s.hub.CreateGroup(ctx, req.Name, req.MemberIDs)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(group)
}

func (s *Server) context(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), s.conf.RequestTimeout)
}

// parse decodes and validates the body. The error text is safe to show.
func (s *Server) parse(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return errors.New("Invalid request body")
	}
	if err := s.validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("Invalid field: %s", verrs[0].Field())
		}
		return errors.New("Invalid request body")
	}
	return nil
}

func conversationKey(c *fiber.Ctx) (models.ConversationKey, bool) {
	raw, err := url.PathUnescape(c.Params("key"))
	if err != nil {
		return "", false
	}
	key := models.ConversationKey(raw)
	return key, key.Valid()
}

// fail maps hub and collaborator errors onto the JSON error envelope.
func (s *Server) fail(c *fiber.Ctx, err error) error {
	var se *directory.StatusError
	switch {
	case errors.Is(err, hub.ErrEmptyMessage):
		return httpx.BadRequest(c, "empty_message", "Message content is empty")
	case errors.Is(err, hub.ErrInvalidRecipient), errors.Is(err, validation.ErrInvalidRecipient), errors.Is(err, validation.ErrInvalidID):
		return httpx.BadRequest(c, "invalid_recipient", "Invalid recipient")
	case errors.Is(err, validation.ErrGroupName):
		return httpx.BadRequest(c, "invalid_group_name", "Invalid group name")
	case errors.Is(err, validation.ErrGroupMembers):
		return httpx.BadRequest(c, "invalid_group_members", "Invalid group members")
	case errors.Is(err, hub.ErrClosed), errors.Is(err, conn.ErrQueueClosed):
		return httpx.Unavailable(c, "hub_closed", "Hub is not running")
	case errors.Is(err, context.DeadlineExceeded):
		return httpx.Unavailable(c, "hub_busy", "Hub did not respond in time")
	case errors.Is(err, hub.ErrNoDirectory):
		return httpx.Unavailable(c, "no_directory", "Directory is not configured")
	case errors.Is(err, directory.ErrUnauthorized):
		return httpx.Error(c, fiber.StatusBadGateway, "upstream_unauthorized", "Directory rejected the session")
	case errors.As(err, &se):
		return httpx.Error(c, fiber.StatusBadGateway, "upstream_error", se.Error())
	}
	userID, _ := httpx.LocalString(c, "userID")
	s.log.Errorf("Bridge request %s %s for user %s failed: %v", c.Method(), c.Path(), userID, err)
	return httpx.Internal(c, "internal_error")
}
