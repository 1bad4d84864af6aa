package store

import (
	"time"

	"github.com/pelusa-v/pelusa-chat/internal/chat"
)

// messageRecord is a chat message row. Seq fixes the persisted order.
type messageRecord struct {
	Seq       uint64    `gorm:"primaryKey;autoIncrement"`
	ID        string    `gorm:"size:36;uniqueIndex;not null"`
	RoomID    string    `gorm:"size:160;index:idx_messages_room;not null"`
	SenderID  string    `gorm:"size:128;not null"`
	Content   string    `gorm:"not null"`
	Kind      string    `gorm:"size:16;not null;default:text"`
	CreatedAt time.Time `gorm:"not null"`
}

func (messageRecord) TableName() string {
	return "messages"
}

func (r *messageRecord) toMessage(readers []string) *chat.Message {
	return &chat.Message{
		ID:        r.ID,
		RoomID:    r.RoomID,
		SenderID:  r.SenderID,
		Content:   r.Content,
		Kind:      chat.MessageKind(r.Kind),
		CreatedAt: r.CreatedAt,
		ReadBy:    readers,
	}
}

// readRecord is one (message, reader) pair; the composite key makes marking
// a message read idempotent.
type readRecord struct {
	MessageID string    `gorm:"primaryKey;size:36"`
	UserID    string    `gorm:"primaryKey;size:128"`
	ReadAt    time.Time `gorm:"not null"`
}

func (readRecord) TableName() string {
	return "message_reads"
}

// roomRecord is a private room. Key is the canonical pair id.
type roomRecord struct {
	Key          string    `gorm:"primaryKey;column:room_key;size:260"`
	Kind         string    `gorm:"size:16;not null"`
	ParticipantA string    `gorm:"size:128;not null"`
	ParticipantB string    `gorm:"size:128;not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (roomRecord) TableName() string {
	return "rooms"
}

func (r *roomRecord) toRoom() *chat.Room {
	return &chat.Room{
		ID:           r.Key,
		Kind:         chat.RoomKind(r.Kind),
		Participants: []string{r.ParticipantA, r.ParticipantB},
		CreatedAt:    r.CreatedAt,
	}
}

// userRecord remembers display names for history of offline senders.
type userRecord struct {
	ID          string    `gorm:"primaryKey;size:128"`
	DisplayName string    `gorm:"size:128;not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (userRecord) TableName() string {
	return "users"
}
