package chat

import (
	"context"
	"errors"
	"fmt"
)

// Join subscribes the connection to a room and replays the room's recent
// history to it alone. Joining twice is harmless and replays again.
func (m *Manager) Join(ctx context.Context, c *Client, roomID string) error {
	return m.join(ctx, c, roomID, nil)
}

// join runs beforeHistory, when set, once the connection is subscribed and
// the history is loaded, just ahead of the room_history event. Nothing is
// sent when the join fails.
func (m *Manager) join(ctx context.Context, c *Client, roomID string, beforeHistory func()) error {
	room, err := validRoomID(roomID)
	if err != nil {
		return err
	}
	if err := m.authorizeRoom(ctx, c.UserID, room); err != nil {
		return err
	}

	// 持有房间锁：历史与实时消息之间不重不漏
	unlock := m.roomLocks.Lock(room)
	defer unlock()

	added := m.Subs.Join(c, room)
	history, err := m.loadHistory(ctx, room)
	if err != nil {
		if added {
			m.Subs.Leave(c.ID, room)
		}
		return err
	}
	if beforeHistory != nil {
		beforeHistory()
	}
	m.sendTo(c, history)
	return nil
}

// Leave unsubscribes the connection. The user's typing flag in the room is
// cleared once none of their connections remain there.
func (m *Manager) Leave(c *Client, roomID string) error {
	room, err := validRoomID(roomID)
	if err != nil {
		return err
	}
	if !m.Subs.Leave(c.ID, room) {
		return nil
	}
	if !m.Subs.UserInRoom(c.UserID, room) {
		m.Typing.Stop(room, c.UserID)
	}
	return nil
}

// authorizeRoom accepts public rooms and private rooms the user belongs to.
// Anything else looks like an unknown room.
func (m *Manager) authorizeRoom(ctx context.Context, userID, room string) error {
	if m.public[room] && !isPrivateRoomKey(room) {
		return nil
	}
	r, err := m.store.FindRoomByKey(ctx, room)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: room %q", ErrNotFound, room)
		}
		return fmt.Errorf("%w: find room: %w", ErrPersistence, err)
	}
	if r.Kind != RoomPrivate || !r.HasParticipant(userID) {
		return fmt.Errorf("%w: room %q", ErrNotFound, room)
	}
	return nil
}

// StartTyping flags the user as typing in a room the connection joined.
func (m *Manager) StartTyping(c *Client, roomID string) error {
	room, err := m.joinedRoom(c, roomID)
	if err != nil {
		return err
	}
	m.Typing.Start(room, c.UserID)
	return nil
}

// StopTyping clears the flag. Stopping an idle user broadcasts nothing.
func (m *Manager) StopTyping(c *Client, roomID string) error {
	room, err := m.joinedRoom(c, roomID)
	if err != nil {
		return err
	}
	m.Typing.Stop(room, c.UserID)
	return nil
}

func (m *Manager) joinedRoom(c *Client, roomID string) (string, error) {
	room, err := validRoomID(roomID)
	if err != nil {
		return "", err
	}
	if !m.Subs.IsSubscribed(c.ID, room) {
		return "", fmt.Errorf("%w: not joined to room %q", ErrNotFound, room)
	}
	return room, nil
}
