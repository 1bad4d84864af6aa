package chat

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"
)

// handlerFunc runs one inbound event. Its error goes back to the sending
// connection only.
type handlerFunc func(ctx context.Context, c *Client, data gjson.Result) error

func (m *Manager) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		EventJoinRoom: func(ctx context.Context, c *Client, data gjson.Result) error {
			return m.Join(ctx, c, field(data, "roomId"))
		},
		EventLeaveRoom: func(_ context.Context, c *Client, data gjson.Result) error {
			return m.Leave(c, field(data, "roomId"))
		},
		EventSendMessage: func(ctx context.Context, c *Client, data gjson.Result) error {
			content := data.Get("content")
			if content.Type != gjson.String {
				return fmt.Errorf("%w: content must be a string", ErrValidation)
			}
			_, err := m.Send(ctx, c, data.Get("roomId").String(), content.String(), MessageKind(data.Get("type").String()))
			return err
		},
		EventTypingStart: func(_ context.Context, c *Client, data gjson.Result) error {
			return m.StartTyping(c, field(data, "roomId"))
		},
		EventTypingStop: func(_ context.Context, c *Client, data gjson.Result) error {
			return m.StopTyping(c, field(data, "roomId"))
		},
		EventMarkRead: func(ctx context.Context, c *Client, data gjson.Result) error {
			return m.MarkRead(ctx, c, field(data, "messageId"))
		},
		EventStartPrivateChat: func(ctx context.Context, c *Client, data gjson.Result) error {
			_, err := m.ResolvePrivateRoom(ctx, c, field(data, "targetUserId"))
			return err
		},
		EventDisconnect: func(_ context.Context, c *Client, _ gjson.Result) error {
			// ReadPump 退出时完成清理
			c.Close()
			return nil
		},
	}
}

// field reads a payload that is either a bare string or an object holding
// the value under name.
func field(data gjson.Result, name string) string {
	if data.Type == gjson.String {
		return data.String()
	}
	return data.Get(name).String()
}

// Dispatch routes one inbound frame `{"type": ..., "data": ...}` to its
// handler.
func (m *Manager) Dispatch(ctx context.Context, c *Client, raw []byte) {
	if !gjson.ValidBytes(raw) {
		m.replyError(c, "", fmt.Errorf("%w: frame is not valid JSON", ErrValidation))
		return
	}
	typ := gjson.GetBytes(raw, "type").String()
	h, ok := m.handlers[typ]
	if !ok {
		m.replyError(c, typ, fmt.Errorf("%w: unknown event %q", ErrValidation, typ))
		return
	}
	m.Sessions.Touch(c.UserID)

	if err := h(ctx, c, gjson.GetBytes(raw, "data")); err != nil {
		m.replyError(c, typ, err)
	}
}
