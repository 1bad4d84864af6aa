package chat

import (
	"slices"
	"time"
)

// MessageKind is the content type of a chat message.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindFile  MessageKind = "file"
)

func (k MessageKind) valid() bool {
	switch k {
	case KindText, KindImage, KindFile:
		return true
	}
	return false
}

// Message is a persisted chat message. Only ReadBy changes after creation,
// and it only grows.
type Message struct {
	ID        string
	RoomID    string
	SenderID  string
	Content   string
	Kind      MessageKind
	CreatedAt time.Time
	ReadBy    []string
}

// HasReader reports whether userID already read the message.
func (m *Message) HasReader(userID string) bool {
	return slices.Contains(m.ReadBy, userID)
}

// RoomKind tells public rooms from private ones.
type RoomKind string

const (
	RoomPublic  RoomKind = "public"
	RoomPrivate RoomKind = "private"
)

// Room is a delivery channel. Private rooms have exactly two participants.
type Room struct {
	ID           string
	Kind         RoomKind
	Participants []string
	CreatedAt    time.Time
}

// HasParticipant reports whether userID belongs to a private room.
func (r *Room) HasParticipant(userID string) bool {
	return slices.Contains(r.Participants, userID)
}

// MessageView is a message enriched for delivery.
type MessageView struct {
	ID         string      `json:"id"`
	RoomID     string      `json:"roomId"`
	SenderID   string      `json:"senderId"`
	SenderName string      `json:"senderName"`
	Content    string      `json:"content"`
	Kind       MessageKind `json:"type"`
	CreatedAt  time.Time   `json:"createdAt"`
	ReadBy     []string    `json:"readBy"`
}

func newMessageView(m *Message, senderName string) MessageView {
	readBy := make([]string, len(m.ReadBy))
	copy(readBy, m.ReadBy)
	return MessageView{
		ID:         m.ID,
		RoomID:     m.RoomID,
		SenderID:   m.SenderID,
		SenderName: senderName,
		Content:    m.Content,
		Kind:       m.Kind,
		CreatedAt:  m.CreatedAt,
		ReadBy:     readBy,
	}
}

// Presence is one online user as shown in users_online.
type Presence struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	LastSeen    time.Time `json:"lastSeen"`
	Connections int       `json:"connections"`
}

// RoomInfo describes a public room for listings.
type RoomInfo struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Subscribers int    `json:"subscribers"`
}
