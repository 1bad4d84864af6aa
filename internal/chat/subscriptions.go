package chat

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"unicode"
)

const maxRoomIDLen = 128

// 规范化房间名：去首尾空格、合并多余斜杠、去前导斜杠
func normalizeRoom(room string) string {
	r := strings.TrimSpace(room)
	if r == "" {
		return ""
	}
	r = path.Clean("/" + r)
	r = strings.TrimPrefix(r, "/")
	return r
}

// validRoomID normalizes and checks a room identifier.
func validRoomID(room string) (string, error) {
	r := normalizeRoom(room)
	if r == "" {
		return "", fmt.Errorf("%w: room id is required", ErrValidation)
	}
	if len(r) > maxRoomIDLen {
		return "", fmt.Errorf("%w: room id too long", ErrValidation)
	}
	if strings.IndexFunc(r, func(ch rune) bool { return unicode.IsSpace(ch) || unicode.IsControl(ch) }) >= 0 {
		return "", fmt.Errorf("%w: room id contains whitespace", ErrValidation)
	}
	return r, nil
}

// Subscriptions is the two-way relation between connections and rooms.
// A connection is in a room's set iff the room is in the connection's set.
type Subscriptions struct {
	mu        sync.RWMutex
	RoomConns map[string]map[string]*Client // room -> connID -> client
	ConnRooms map[string]map[string]bool    // connID -> set(room)
}

func NewSubscriptions() *Subscriptions {
	return &Subscriptions{
		RoomConns: map[string]map[string]*Client{},
		ConnRooms: map[string]map[string]bool{},
	}
}

// Join subscribes c to room. It reports false when c was already there.
func (s *Subscriptions) Join(c *Client, room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ConnRooms[c.ID][room] {
		return false
	}
	if _, ok := s.ConnRooms[c.ID]; !ok {
		s.ConnRooms[c.ID] = map[string]bool{}
	}
	s.ConnRooms[c.ID][room] = true

	if _, ok := s.RoomConns[room]; !ok {
		s.RoomConns[room] = map[string]*Client{}
	}
	s.RoomConns[room][c.ID] = c
	return true
}

// Leave unsubscribes the connection from room. It reports false when it was
// not subscribed.
func (s *Subscriptions) Leave(connID, room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaveLocked(connID, room)
}

func (s *Subscriptions) leaveLocked(connID, room string) bool {
	rooms, ok := s.ConnRooms[connID]
	if !ok || !rooms[room] {
		return false
	}
	delete(rooms, room)
	if len(rooms) == 0 {
		delete(s.ConnRooms, connID)
	}
	if conns, ok := s.RoomConns[room]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(s.RoomConns, room)
		}
	}
	return true
}

// LeaveAll drops every subscription of the connection and returns the rooms
// it had joined.
func (s *Subscriptions) LeaveAll(connID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms := make([]string, 0, len(s.ConnRooms[connID]))
	for r := range s.ConnRooms[connID] {
		rooms = append(rooms, r)
	}
	for _, r := range rooms {
		s.leaveLocked(connID, r)
	}
	sort.Strings(rooms)
	return rooms
}

// Subscribers returns the connections currently in room.
func (s *Subscriptions) Subscribers(room string) []*Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Client, 0, len(s.RoomConns[room]))
	for _, c := range s.RoomConns[room] {
		out = append(out, c)
	}
	return out
}

// IsSubscribed reports whether the connection is in room.
func (s *Subscriptions) IsSubscribed(connID, room string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ConnRooms[connID][room]
}

// UserInRoom reports whether any connection of the user is in room.
func (s *Subscriptions) UserInRoom(userID, room string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.RoomConns[room] {
		if c.UserID == userID {
			return true
		}
	}
	return false
}

// Rooms lists the rooms a connection joined.
func (s *Subscriptions) Rooms(connID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.ConnRooms[connID]))
	for r := range s.ConnRooms[connID] {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of connections in room.
func (s *Subscriptions) Count(room string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.RoomConns[room])
}
