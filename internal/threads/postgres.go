package threads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/memohai/courier/internal/channel"
	"github.com/memohai/courier/internal/conversation"
	"github.com/memohai/courier/internal/db"
)

const (
	selectThreadSQL = `SELECT platform, owner_id, sender_id, assistant_id, thread_id, created_at
FROM threads WHERE platform = $1 AND owner_id = $2 AND sender_id = $3`
	insertThreadSQL = `INSERT INTO threads (id, platform, owner_id, sender_id, assistant_id, thread_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (platform, owner_id, sender_id) DO NOTHING`
)

// PostgresStore keeps threads in the threads table.
type PostgresStore struct {
	db  db.DBTX
	now func() time.Time
}

// NewPostgresStore creates a PostgresStore on conn.
func NewPostgresStore(conn db.DBTX) *PostgresStore {
	return &PostgresStore{db: conn, now: time.Now}
}

func (s *PostgresStore) GetThread(ctx context.Context, key conversation.Key) (Thread, error) {
	var (
		thread   Thread
		platform string
	)
	err := s.db.QueryRow(ctx, selectThreadSQL, key.Platform.String(), key.OwnerID, key.SenderID).Scan(
		&platform,
		&thread.Key.OwnerID,
		&thread.Key.SenderID,
		&thread.AssistantID,
		&thread.ThreadID,
		&thread.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Thread{}, ErrThreadNotFound
		}
		return Thread{}, fmt.Errorf("get thread %s: %w", key, err)
	}
	thread.Key.Platform = channel.ChannelType(platform)
	return thread, nil
}

func (s *PostgresStore) SaveThread(ctx context.Context, thread Thread) error {
	if err := validateThread(thread); err != nil {
		return err
	}
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = s.now().UTC()
	}
	tag, err := s.db.Exec(ctx, insertThreadSQL,
		uuid.New(),
		thread.Key.Platform.String(),
		thread.Key.OwnerID,
		thread.Key.SenderID,
		thread.AssistantID,
		thread.ThreadID,
		thread.CreatedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrThreadExists
		}
		return fmt.Errorf("save thread %s: %w", thread.Key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrThreadExists
	}
	return nil
}
