package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/pelusa-v/pelusa-chat/internal/chat"
	"github.com/pelusa-v/pelusa-chat/internal/identity"
)

const identityKey = "identity"

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the WebSocket endpoint and the small JSON API around it.
type Handler struct {
	ctx      context.Context
	manager  *chat.Manager
	verifier identity.Verifier
	health   Pinger
	logger   *slog.Logger
}

// New builds the handlers. ctx bounds every connection's lifetime.
func New(ctx context.Context, manager *chat.Manager, verifier identity.Verifier, health Pinger, logger *slog.Logger) *Handler {
	return &Handler{
		ctx:      ctx,
		manager:  manager,
		verifier: verifier,
		health:   health,
		logger:   logger.With(slog.String("component", "http")),
	}
}

// Register mounts the routes on app.
func (h *Handler) Register(app *fiber.App) {
	app.Get("/healthz", h.HealthHandler)

	api := app.Group("/api")
	api.Get("/ws", h.Authenticate, websocket.New(h.RegisterHandler))
	api.Get("/clients", h.ShowClientsHandler) // ?exclude=userId
	api.Get("/rooms", h.RoomsHandler)
}

// Authenticate verifies the credential before the upgrade and stores the
// identity in Locals.
func (h *Handler) Authenticate(c *fiber.Ctx) error {
	id, err := h.verifier.Verify(c.UserContext(), credential(c))
	if err != nil {
		err = fmt.Errorf("%w: %w", chat.ErrAuthentication, err)
		h.logger.Debug("rejected connection", slog.String("ip", c.IP()), slog.Any("error", err))
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"code":    chat.ErrorCode(err),
			"message": err.Error(),
		})
	}
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	c.Locals(identityKey, id)
	return c.Next()
}

// token 查询参数 > Authorization 头 > cookie
func credential(c *fiber.Ctx) string {
	if t := strings.TrimSpace(c.Query("token")); t != "" {
		return t
	}
	if t := strings.TrimSpace(c.Get(fiber.HeaderAuthorization)); t != "" {
		return t
	}
	return strings.TrimSpace(c.Cookies("token"))
}

// RegisterHandler GET /api/ws
func (h *Handler) RegisterHandler(conn *websocket.Conn) {
	id, ok := conn.Locals(identityKey).(identity.Identity)
	if !ok {
		_ = conn.Close()
		return
	}
	// 返回后 contrib/websocket 会回收 conn，必须等写协程退出
	h.manager.Connect(h.ctx, id, conn).Run(h.ctx)
}

// ShowClientsHandler GET /api/clients?exclude=userId
func (h *Handler) ShowClientsHandler(c *fiber.Ctx) error {
	return c.JSON(h.manager.OnlineUsers(c.Query("exclude")))
}

// RoomsHandler GET /api/rooms
func (h *Handler) RoomsHandler(c *fiber.Ctx) error {
	return c.JSON(h.manager.PublicRooms())
}

// HealthHandler GET /healthz
func (h *Handler) HealthHandler(c *fiber.Ctx) error {
	if h.health != nil {
		if err := h.health.Ping(c.UserContext()); err != nil {
			h.logger.Warn("health check failed", slog.Any("error", err))
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
		}
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
