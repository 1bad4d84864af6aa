package chat

import "context"

// Store is the durable store. It is the source of truth for messages and
// rooms; the coordinator only caches routing and presence state in memory.
//
// Lookups of unknown records return an error wrapping ErrNotFound.
type Store interface {
	SaveMessage(ctx context.Context, msg *Message) error
	// ListRecentMessages returns at most limit messages of the room, oldest
	// first.
	ListRecentMessages(ctx context.Context, roomID string, limit int) ([]*Message, error)
	// UpdateMessageReaders adds userID to the message's readers and returns
	// the message and whether the reader was new.
	UpdateMessageReaders(ctx context.Context, messageID, userID string) (*Message, bool, error)

	FindRoomByKey(ctx context.Context, key string) (*Room, error)
	// CreateRoomIfAbsent creates a private room unless one with the key
	// exists. created is false when another writer got there first.
	CreateRoomIfAbsent(ctx context.Context, key string, participants []string) (created bool, err error)

	SaveUser(ctx context.Context, userID, displayName string) error
	DisplayNames(ctx context.Context, userIDs []string) (map[string]string, error)
}
