package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/memohai/courier/internal/channel"
	"github.com/memohai/courier/internal/db"
)

const (
	accountColumns    = `id, platform, owner_id, assistant_id, credentials, disabled, created_at, updated_at`
	resolveAccountSQL = `SELECT ` + accountColumns + ` FROM accounts WHERE platform = $1 AND owner_id = $2 AND NOT disabled`
	listAccountsSQL   = `SELECT ` + accountColumns + ` FROM accounts WHERE platform = $1 AND NOT disabled ORDER BY owner_id`
	upsertAccountSQL  = `INSERT INTO accounts (id, platform, owner_id, assistant_id, credentials, disabled, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
ON CONFLICT (platform, owner_id) DO UPDATE SET
    assistant_id = EXCLUDED.assistant_id,
    credentials = EXCLUDED.credentials,
    disabled = EXCLUDED.disabled,
    updated_at = EXCLUDED.updated_at
RETURNING ` + accountColumns
)

// PostgresStore reads accounts from the accounts table.
type PostgresStore struct {
	db  db.DBTX
	now func() time.Time
}

// NewPostgresStore creates a PostgresStore on conn.
func NewPostgresStore(conn db.DBTX) *PostgresStore {
	return &PostgresStore{db: conn, now: time.Now}
}

func scanAccount(row pgx.Row) (channel.ChannelConfig, error) {
	var (
		account     channel.ChannelConfig
		id          pgtype.UUID
		platform    string
		credentials []byte
	)
	if err := row.Scan(&id, &platform, &account.OwnerID, &account.AssistantID, &credentials, &account.Disabled, &account.CreatedAt, &account.UpdatedAt); err != nil {
		return channel.ChannelConfig{}, err
	}
	decoded, err := channel.DecodeConfigMap(credentials)
	if err != nil {
		return channel.ChannelConfig{}, err
	}
	account.ID = uuid.UUID(id.Bytes).String()
	account.ChannelType = channel.ChannelType(platform)
	account.Credentials = decoded
	return account, nil
}

func (s *PostgresStore) Resolve(ctx context.Context, platform channel.ChannelType, ownerID string) (channel.ChannelConfig, error) {
	account, err := scanAccount(s.db.QueryRow(ctx, resolveAccountSQL, platform.String(), strings.TrimSpace(ownerID)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return channel.ChannelConfig{}, notFound(platform, ownerID)
		}
		return channel.ChannelConfig{}, fmt.Errorf("resolve account: %w", err)
	}
	return account, nil
}

func (s *PostgresStore) List(ctx context.Context, platform channel.ChannelType) ([]channel.ChannelConfig, error) {
	rows, err := s.db.Query(ctx, listAccountsSQL, platform.String())
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()
	items := make([]channel.ChannelConfig, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("list accounts: %w", err)
		}
		items = append(items, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return items, nil
}

// Upsert inserts the account or updates the assistant, credentials and disabled flag of the
// existing account with the same platform and owner.
func (s *PostgresStore) Upsert(ctx context.Context, account channel.ChannelConfig) (channel.ChannelConfig, error) {
	if err := validateAccount(account); err != nil {
		return channel.ChannelConfig{}, err
	}
	credentials, err := channel.EncodeConfigMap(account.Credentials)
	if err != nil {
		return channel.ChannelConfig{}, err
	}
	stored, err := scanAccount(s.db.QueryRow(ctx, upsertAccountSQL,
		uuid.New(),
		account.ChannelType.String(),
		strings.TrimSpace(account.OwnerID),
		strings.TrimSpace(account.AssistantID),
		credentials,
		account.Disabled,
		s.now().UTC(),
	))
	if err != nil {
		return channel.ChannelConfig{}, fmt.Errorf("upsert account: %w", err)
	}
	return stored, nil
}
