package chat

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode"
)

// PrivateRoomPrefix starts every private room id. Public rooms may not use it.
const PrivateRoomPrefix = "private:"

// PrivateRoomKey is the room id of a one-to-one room. It does not depend on
// who asks, and distinct pairs never share a key: each id is length
// prefixed before hashing, so no choice of ids can shift the boundary.
func PrivateRoomKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	h := sha256.New()
	for _, id := range ids {
		fmt.Fprintf(h, "%d:%s;", len(id), id)
	}
	return PrivateRoomPrefix + hex.EncodeToString(h.Sum(nil))
}

func isPrivateRoomKey(room string) bool {
	return strings.HasPrefix(room, PrivateRoomPrefix)
}

// ResolvePrivateRoom finds or creates the private room of the connection's
// user and targetUserID, joins the connection to it and reports the room id
// to that connection only.
func (m *Manager) ResolvePrivateRoom(ctx context.Context, c *Client, targetUserID string) (string, error) {
	target := strings.TrimSpace(targetUserID)
	if target == "" {
		return "", fmt.Errorf("%w: target user id is required", ErrValidation)
	}
	if target == c.UserID {
		return "", fmt.Errorf("%w: cannot start a private chat with yourself", ErrValidation)
	}
	if err := validUserID(target); err != nil {
		return "", err
	}
	key := PrivateRoomKey(c.UserID, target)

	room, err := m.findOrCreatePrivateRoom(ctx, key, []string{c.UserID, target})
	if err != nil {
		return "", err
	}
	if !room.HasParticipant(c.UserID) || !room.HasParticipant(target) {
		return "", fmt.Errorf("room %q belongs to other users", key)
	}

	// 加入成功后、历史记录之前通知
	announce := func() {
		m.sendTo(c, Event{Type: EventPrivateRoomCreated, Data: privateRoomPayload{RoomID: room.ID}})
	}
	if err := m.join(ctx, c, room.ID, announce); err != nil {
		return "", err
	}
	return room.ID, nil
}

// findOrCreatePrivateRoom is atomic per key: concurrent callers in this
// process share one lookup, and the store's unique key settles races with
// other writers. A lost create is answered by looking again.
func (m *Manager) findOrCreatePrivateRoom(ctx context.Context, key string, participants []string) (*Room, error) {
	if m.public[key] {
		return nil, fmt.Errorf("%w: room %q is public", ErrValidation, key)
	}
	v, err, _ := m.privateRooms.Do(key, func() (any, error) {
		room, err := m.store.FindRoomByKey(ctx, key)
		if err == nil {
			return room, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: find room: %w", ErrPersistence, err)
		}

		created, err := m.store.CreateRoomIfAbsent(ctx, key, participants)
		switch {
		case err != nil && !errors.Is(err, ErrConflict):
			return nil, fmt.Errorf("%w: create room: %w", ErrPersistence, err)
		case err != nil || !created:
			m.logger.Debug("private room created concurrently", slog.String("roomID", key))
		default:
			m.logger.Info("private room created", slog.String("roomID", key))
		}

		room, err = m.store.FindRoomByKey(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("%w: find room: %w", ErrPersistence, err)
		}
		return room, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Room), nil
}

// validUserID checks a user id received in a payload.
func validUserID(id string) error {
	if len(id) > maxRoomIDLen {
		return fmt.Errorf("%w: user id too long", ErrValidation)
	}
	if strings.IndexFunc(id, func(ch rune) bool { return unicode.IsSpace(ch) || unicode.IsControl(ch) }) >= 0 {
		return fmt.Errorf("%w: user id contains whitespace", ErrValidation)
	}
	return nil
}
