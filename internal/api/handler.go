package api

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/entraide-ong/backoffice/internal/auth"
	"github.com/entraide-ong/backoffice/internal/cache"
	"github.com/entraide-ong/backoffice/internal/model"
	"github.com/entraide-ong/backoffice/internal/repository"
	"github.com/entraide-ong/backoffice/internal/store"
)

type Handler struct {
	messages      *repository.MessageRepository
	notifications *repository.NotificationRepository
	users         *repository.UserRepository
	presence      *cache.Client
	log           *zap.SugaredLogger
}

func claimsOf(c *fiber.Ctx) *auth.Claims {
	return c.Locals("claims").(*auth.Claims)
}

// Conversations computes the caller's conversation list on demand through a
// short-lived store, the same reducer the websocket sessions use.
func (h *Handler) Conversations(c *fiber.Ctx) error {
	claims := claimsOf(c)
	cs := store.NewConversationStore(claims.UserID, h.messages, nil, h.log)
	cs.Refresh(c.Context())
	return c.JSON(fiber.Map{"conversations": cs.Conversations()})
}

func (h *Handler) Thread(c *fiber.Ctx) error {
	claims := claimsOf(c)
	otherID := c.Params("userID")
	msgs, err := h.messages.ListThread(c.Context(), claims.UserID, otherID, store.ThreadLimit)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"messages": msgs})
}

type sendMessageRequest struct {
	RecipientID string `json:"recipient_id"`
	Content     string `json:"content"`
}

func (h *Handler) SendMessage(c *fiber.Ctx) error {
	claims := claimsOf(c)
	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.ErrBadRequest
	}
	if req.RecipientID == "" || req.Content == "" {
		return fiber.NewError(fiber.StatusBadRequest, "recipient_id and content required")
	}
	msg, err := h.messages.InsertMessage(c.Context(), claims.UserID, req.RecipientID, req.Content)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

func (h *Handler) MarkConversationRead(c *fiber.Ctx) error {
	claims := claimsOf(c)
	if err := h.messages.MarkConversationRead(c.Context(), claims.UserID, c.Params("userID")); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *Handler) Notifications(c *fiber.Ctx) error {
	claims := claimsOf(c)
	items, err := h.notifications.ListNotifications(c.Context(), claims.UserID)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	unread := 0
	for i := range items {
		if !items[i].Read {
			unread++
		}
	}
	return c.JSON(fiber.Map{"notifications": items, "unread": unread})
}

func (h *Handler) MarkNotificationRead(c *fiber.Ctx) error {
	claims := claimsOf(c)
	if err := h.notifications.MarkNotificationRead(c.Context(), claims.UserID, c.Params("id")); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *Handler) MarkAllNotificationsRead(c *fiber.Ctx) error {
	claims := claimsOf(c)
	if err := h.notifications.MarkAllNotificationsRead(c.Context(), claims.UserID); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// CreateNotification is the internal entry point for publishing flows.
func (h *Handler) CreateNotification(c *fiber.Ctx) error {
	var n model.Notification
	if err := c.BodyParser(&n); err != nil {
		return fiber.ErrBadRequest
	}
	if n.UserID == "" || n.Title == "" {
		return fiber.NewError(fiber.StatusBadRequest, "user_id and title required")
	}
	if err := h.notifications.InsertNotification(c.Context(), &n); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.Status(fiber.StatusCreated).JSON(n)
}

type staffEntry struct {
	model.UserProfile
	Online bool `json:"online"`
}

// Staff lists every profile with its live presence flag.
func (h *Handler) Staff(c *fiber.Ctx) error {
	profiles, err := h.users.ListProfiles(c.Context())
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	out := make([]staffEntry, 0, len(profiles))
	for _, p := range profiles {
		online, err := h.presence.GetPresence(c.Context(), p.ID)
		if err != nil {
			h.log.Warnw("presence lookup", "user", p.ID, "err", err)
		}
		out = append(out, staffEntry{UserProfile: p, Online: online})
	}
	return c.JSON(fiber.Map{"staff": out})
}
