// Package store persists messages, read receipts, private rooms and the user
// directory with GORM on SQLite.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/pelusa-v/pelusa-chat/internal/chat"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store implements chat.Store.
type Store struct {
	db *gorm.DB
}

var _ chat.Store = (*Store)(nil)

// Open opens (and migrates) the SQLite database at path. ":memory:" gives a
// throwaway database backed by a single connection.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if path == ":memory:" {
		// 每个连接都是独立的内存库
		sqlDB.SetMaxOpenConns(1)
	}
	return New(db)
}

// New wraps an open database and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&messageRecord{}, &readRecord{}, &roomRecord{}, &userRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveMessage stores a message and its initial readers in one transaction.
func (s *Store) SaveMessage(ctx context.Context, msg *chat.Message) error {
	rec := messageRecord{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		SenderID:  msg.SenderID,
		Content:   msg.Content,
		Kind:      string(msg.Kind),
		CreatedAt: msg.CreatedAt,
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("failed to create message: %w", err)
		}
		for _, userID := range msg.ReadBy {
			read := readRecord{MessageID: msg.ID, UserID: userID, ReadAt: msg.CreatedAt}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&read).Error; err != nil {
				return fmt.Errorf("failed to record reader: %w", err)
			}
		}
		return nil
	})
}

// ListRecentMessages returns the newest limit messages of a room, oldest
// first.
func (s *Store) ListRecentMessages(ctx context.Context, roomID string, limit int) ([]*chat.Message, error) {
	db := s.db.WithContext(ctx)

	var recs []messageRecord
	if err := db.Where("room_id = ?", roomID).Order("seq DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	slices.Reverse(recs)

	readers, err := s.readers(db, recs)
	if err != nil {
		return nil, err
	}
	out := make([]*chat.Message, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].toMessage(readers[recs[i].ID]))
	}
	return out, nil
}

// UpdateMessageReaders adds a reader; added is false when it was already
// there.
func (s *Store) UpdateMessageReaders(ctx context.Context, messageID, userID string) (*chat.Message, bool, error) {
	var (
		msg   *chat.Message
		added bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec messageRecord
		if err := tx.First(&rec, "id = ?", messageID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("message %s: %w", messageID, chat.ErrNotFound)
			}
			return fmt.Errorf("failed to find message: %w", err)
		}

		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&readRecord{
			MessageID: messageID,
			UserID:    userID,
			ReadAt:    time.Now().UTC(),
		})
		if res.Error != nil {
			return fmt.Errorf("failed to record reader: %w", res.Error)
		}
		added = res.RowsAffected == 1

		readers, err := s.readers(tx, []messageRecord{rec})
		if err != nil {
			return err
		}
		msg = rec.toMessage(readers[rec.ID])
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return msg, added, nil
}

func (s *Store) readers(db *gorm.DB, recs []messageRecord) (map[string][]string, error) {
	out := map[string][]string{}
	if len(recs) == 0 {
		return out, nil
	}
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	var reads []readRecord
	if err := db.Where("message_id IN ?", ids).Order("read_at ASC, user_id ASC").Find(&reads).Error; err != nil {
		return nil, fmt.Errorf("failed to load readers: %w", err)
	}
	for _, r := range reads {
		out[r.MessageID] = append(out[r.MessageID], r.UserID)
	}
	return out, nil
}

// FindRoomByKey looks up a private room.
func (s *Store) FindRoomByKey(ctx context.Context, key string) (*chat.Room, error) {
	var rec roomRecord
	if err := s.db.WithContext(ctx).First(&rec, "room_key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("room %s: %w", key, chat.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find room: %w", err)
	}
	return rec.toRoom(), nil
}

// CreateRoomIfAbsent relies on the primary key: a concurrent insert of the
// same key becomes a no-op rather than a second room.
func (s *Store) CreateRoomIfAbsent(ctx context.Context, key string, participants []string) (bool, error) {
	if len(participants) != 2 {
		return false, fmt.Errorf("private room needs 2 participants, got %d", len(participants))
	}
	ps := slices.Clone(participants)
	slices.Sort(ps)
	rec := roomRecord{
		Key:          key,
		Kind:         string(chat.RoomPrivate),
		ParticipantA: ps[0],
		ParticipantB: ps[1],
		CreatedAt:    time.Now().UTC(),
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if res.Error != nil {
		return false, fmt.Errorf("failed to create room: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// SaveUser upserts a user's display name.
func (s *Store) SaveUser(ctx context.Context, userID, displayName string) error {
	rec := userRecord{ID: userID, DisplayName: displayName, UpdatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// DisplayNames returns the known names of the given users. Unknown ids are
// left out.
func (s *Store) DisplayNames(ctx context.Context, userIDs []string) (map[string]string, error) {
	out := map[string]string{}
	if len(userIDs) == 0 {
		return out, nil
	}
	var recs []userRecord
	if err := s.db.WithContext(ctx).Where("id IN ?", userIDs).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	for _, r := range recs {
		out[r.ID] = r.DisplayName
	}
	return out, nil
}
