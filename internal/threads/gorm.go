package threads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/memohai/courier/internal/channel"
	"github.com/memohai/courier/internal/conversation"
)

// ThreadRecord is the gorm model of the threads table.
type ThreadRecord struct {
	ID          string    `gorm:"primaryKey;size:36"`
	Platform    string    `gorm:"size:32;not null;uniqueIndex:threads_conversation_key"`
	OwnerID     string    `gorm:"size:191;not null;uniqueIndex:threads_conversation_key"`
	SenderID    string    `gorm:"size:191;not null;uniqueIndex:threads_conversation_key"`
	AssistantID string    `gorm:"size:191;not null"`
	ThreadID    string    `gorm:"size:191;not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

// TableName pins the table name shared with the postgres schema.
func (ThreadRecord) TableName() string { return "threads" }

// GormStore keeps threads through gorm, for the sqlite and mysql drivers.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore creates a GormStore and migrates the threads table.
func NewGormStore(conn *gorm.DB) (*GormStore, error) {
	if err := conn.AutoMigrate(&ThreadRecord{}); err != nil {
		return nil, fmt.Errorf("migrate threads: %w", err)
	}
	return &GormStore{db: conn, now: time.Now}, nil
}

func (s *GormStore) GetThread(ctx context.Context, key conversation.Key) (Thread, error) {
	var rec ThreadRecord
	err := s.db.WithContext(ctx).
		Where("platform = ? AND owner_id = ? AND sender_id = ?", key.Platform.String(), key.OwnerID, key.SenderID).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Thread{}, ErrThreadNotFound
		}
		return Thread{}, fmt.Errorf("get thread %s: %w", key, err)
	}
	return Thread{
		Key: conversation.Key{
			Platform: channel.ChannelType(rec.Platform),
			OwnerID:  rec.OwnerID,
			SenderID: rec.SenderID,
		},
		AssistantID: rec.AssistantID,
		ThreadID:    rec.ThreadID,
		CreatedAt:   rec.CreatedAt,
	}, nil
}

func (s *GormStore) SaveThread(ctx context.Context, thread Thread) error {
	if err := validateThread(thread); err != nil {
		return err
	}
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = s.now().UTC()
	}
	rec := ThreadRecord{
		ID:          uuid.NewString(),
		Platform:    thread.Key.Platform.String(),
		OwnerID:     thread.Key.OwnerID,
		SenderID:    thread.Key.SenderID,
		AssistantID: thread.AssistantID,
		ThreadID:    thread.ThreadID,
		CreatedAt:   thread.CreatedAt,
	}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return ErrThreadExists
		}
		return fmt.Errorf("save thread %s: %w", thread.Key, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrThreadExists
	}
	return nil
}
