package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// MarkRead records that the connection's user read a message and tells the
// message's room. Reading the same message again changes nothing and
// broadcasts nothing.
func (m *Manager) MarkRead(ctx context.Context, c *Client, messageID string) error {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return fmt.Errorf("%w: message id is required", ErrValidation)
	}

	msg, added, err := m.store.UpdateMessageReaders(ctx, messageID, c.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: message %q", ErrNotFound, messageID)
		}
		return fmt.Errorf("%w: update readers: %w", ErrPersistence, err)
	}
	if !added {
		return nil
	}

	m.broadcastRoom(msg.RoomID, Event{Type: EventMessageRead, Data: readPayload{
		MessageID:  msg.ID,
		ReaderID:   c.UserID,
		ReaderName: c.Name,
	}}, "")
	return nil
}
