package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const notificationPreviewRunes = 50

// Send validates and persists a message, then fans it out to the room and
// notifies everyone in the room but the sender. Nothing is broadcast unless
// the store accepted the message, and per room the broadcast order is the
// persisted order.
func (m *Manager) Send(ctx context.Context, c *Client, roomID, content string, kind MessageKind) (*Message, error) {
	room, err := m.joinedRoom(c, roomID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: message content is empty", ErrValidation)
	}
	if utf8.RuneCountInString(content) > m.opts.MaxMessageRunes {
		return nil, fmt.Errorf("%w: message longer than %d characters", ErrValidation, m.opts.MaxMessageRunes)
	}
	if kind == "" {
		kind = KindText
	}
	if !kind.valid() {
		return nil, fmt.Errorf("%w: unknown message type %q", ErrValidation, kind)
	}

	unlock := m.roomLocks.Lock(room)
	defer unlock()

	msg := &Message{
		ID:        uuid.NewString(),
		RoomID:    room,
		SenderID:  c.UserID,
		Content:   content,
		Kind:      kind,
		CreatedAt: m.opts.Now().UTC(),
		ReadBy:    []string{c.UserID},
	}
	if err := m.store.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("%w: save message: %w", ErrPersistence, err)
	}

	m.broadcastRoom(room, Event{Type: EventReceiveMessage, Data: newMessageView(msg, c.Name)}, "")
	m.broadcastRoom(room, Event{Type: EventNewNotification, Data: notificationPayload{
		Type:    "message",
		From:    c.Name,
		RoomID:  room,
		Message: truncate(content, notificationPreviewRunes),
	}}, c.UserID)

	c.logger.Debug("message sent", slog.String("roomID", room), slog.String("messageID", msg.ID))
	return msg, nil
}

// loadHistory builds the room_history event of a room: its recent
// messages, oldest first. Callers hold the room lock.
func (m *Manager) loadHistory(ctx context.Context, room string) (Event, error) {
	msgs, err := m.store.ListRecentMessages(ctx, room, m.opts.HistoryLimit)
	if err != nil {
		return Event{}, fmt.Errorf("%w: list messages: %w", ErrPersistence, err)
	}
	views, err := m.enrich(ctx, msgs)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: EventRoomHistory, Data: historyPayload{RoomID: room, Messages: views}}, nil
}

// enrich attaches sender display names. Online users use their session name;
// the rest come from the store's user directory.
func (m *Manager) enrich(ctx context.Context, msgs []*Message) ([]MessageView, error) {
	names := map[string]string{}
	var missing []string
	for _, msg := range msgs {
		if _, ok := names[msg.SenderID]; ok {
			continue
		}
		if name, ok := m.Sessions.DisplayName(msg.SenderID); ok {
			names[msg.SenderID] = name
			continue
		}
		names[msg.SenderID] = msg.SenderID
		missing = append(missing, msg.SenderID)
	}
	if len(missing) > 0 {
		stored, err := m.store.DisplayNames(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("%w: load display names: %w", ErrPersistence, err)
		}
		for id, name := range stored {
			names[id] = name
		}
	}

	views := make([]MessageView, 0, len(msgs))
	for _, msg := range msgs {
		views = append(views, newMessageView(msg, names[msg.SenderID]))
	}
	return views, nil
}

// truncate cuts s to n runes and marks the cut with an ellipsis.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
