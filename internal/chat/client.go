package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/pelusa-v/pelusa-chat/internal/identity"
	"golang.org/x/time/rate"
)

// Client is one live connection of an authenticated user.
type Client struct {
	ID     string
	UserID string
	Name   string
	Conn   ConnLike
	Send   chan []byte

	manager   *Manager
	limiter   *rate.Limiter
	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once
	logger    *slog.Logger
}

// ConnLike is the subset of a WebSocket connection the client needs.
type ConnLike interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	SetReadDeadline(time.Time) error
	SetPongHandler(func(string) error)
	Close() error
}

func newClient(m *Manager, id identity.Identity, conn ConnLike) *Client {
	connID := uuid.NewString()
	return &Client{
		ID:         connID,
		UserID:     id.UserID,
		Name:       id.DisplayName,
		Conn:       conn,
		Send:       make(chan []byte, m.opts.SendBuffer),
		manager:    m,
		limiter:    rate.NewLimiter(rate.Limit(m.opts.EventsPerSecond), m.opts.EventBurst),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
		logger:     m.logger.With(slog.String("connID", connID), slog.String("userID", id.UserID)),
	}
}

// Run serves the connection until it ends. It returns only after both pumps
// have stopped, so the socket is never written once Run has returned.
func (c *Client) Run(ctx context.Context) {
	go c.WritePump()
	c.ReadPump(ctx)
	<-c.writerDone
}

// ReadPump reads frames until the connection fails or goes quiet for longer
// than the pong wait, then runs disconnect cleanup.
func (c *Client) ReadPump(ctx context.Context) {
	defer c.manager.Disconnect(c)
	defer c.Close()

	pongWait := c.manager.opts.PongWait
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("connection read failed", slog.Any("error", err))
			}
			return
		}
		_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))

		if !c.limiter.Allow() {
			c.manager.replyError(c, "", fmt.Errorf("%w: too many events", ErrValidation))
			continue
		}
		c.manager.Dispatch(ctx, c, data)
	}
}

// WritePump drains Send into the socket and pings on an interval so dead
// peers are noticed by the read deadline.
func (c *Client) WritePump() {
	defer close(c.writerDone)
	ticker := time.NewTicker(c.manager.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.Send:
			if c.closed() {
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("connection write failed", slog.Any("error", err))
				c.Close()
				return
			}
		case <-ticker.C:
			if c.closed() {
				return
			}
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// enqueue never blocks. A full queue means a slow consumer; it is closed so
// it never sees a silent gap.
func (c *Client) enqueue(data []byte) bool {
	if c.closed() {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		c.logger.Warn("outbound queue full, closing connection")
		c.Close()
		return false
	}
}

// Close closes the socket. Cleanup of registry and membership happens when
// ReadPump returns.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.Conn.Close()
	})
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}
