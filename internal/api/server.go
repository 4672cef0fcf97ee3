package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/entraide-ong/backoffice/internal/auth"
	"github.com/entraide-ong/backoffice/internal/cache"
	"github.com/entraide-ong/backoffice/internal/config"
	"github.com/entraide-ong/backoffice/internal/realtime"
	"github.com/entraide-ong/backoffice/internal/repository"
)

// NewServer wires the REST routes and the websocket endpoint for the admin
// panel.
func NewServer(
	cfg *config.Config,
	verifier *auth.Verifier,
	messages *repository.MessageRepository,
	notifications *repository.NotificationRepository,
	users *repository.UserRepository,
	presence *cache.Client,
	bus realtime.Channel,
	log *zap.SugaredLogger,
) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "backoffice",
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout,
	})

	h := &Handler{
		messages:      messages,
		notifications: notifications,
		users:         users,
		presence:      presence,
		log:           log,
	}
	limiter := NewUserRateLimiter(cfg.SendPerMinute, log)

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api", JWTAuth(verifier))
	api.Get("/conversations", h.Conversations)
	api.Post("/conversations/:userID/read", h.MarkConversationRead)
	api.Get("/threads/:userID", h.Thread)
	api.Post("/messages", limiter.Handler(), h.SendMessage)
	api.Get("/notifications", h.Notifications)
	api.Post("/notifications", RequireRole("admin"), h.CreateNotification)
	api.Post("/notifications/:id/read", h.MarkNotificationRead)
	api.Post("/notifications/read-all", h.MarkAllNotificationsRead)
	api.Get("/staff", h.Staff)

	deps := wsSessionDeps{
		messages:      messages,
		notifications: notifications,
		presence:      presence,
		bus:           bus,
		limiter:       limiter,
		log:           log,
	}
	app.Use("/ws", JWTAuth(verifier), func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(func(conn *websocket.Conn) {
		handleWS(deps, conn)
	}))

	return app
}
