package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/memohai/courier/internal/channel"
)

// AccountRecord is the gorm model of the accounts table.
type AccountRecord struct {
	ID          string `gorm:"primaryKey;size:36"`
	Platform    string `gorm:"size:32;not null;uniqueIndex:accounts_owner_key"`
	OwnerID     string `gorm:"size:191;not null;uniqueIndex:accounts_owner_key"`
	AssistantID string `gorm:"size:191;not null"`
	Credentials string `gorm:"type:text;not null"`
	Disabled    bool   `gorm:"not null;default:false"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName pins the table name shared with the postgres schema.
func (AccountRecord) TableName() string { return "accounts" }

func (r AccountRecord) toConfig() (channel.ChannelConfig, error) {
	credentials, err := channel.DecodeConfigMap([]byte(r.Credentials))
	if err != nil {
		return channel.ChannelConfig{}, err
	}
	return channel.ChannelConfig{
		ID:          r.ID,
		ChannelType: channel.ChannelType(r.Platform),
		OwnerID:     r.OwnerID,
		AssistantID: r.AssistantID,
		Credentials: credentials,
		Disabled:    r.Disabled,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}

// GormStore reads accounts through gorm, for the sqlite and mysql drivers.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a GormStore and migrates the accounts table.
func NewGormStore(conn *gorm.DB) (*GormStore, error) {
	if err := conn.AutoMigrate(&AccountRecord{}); err != nil {
		return nil, fmt.Errorf("migrate accounts: %w", err)
	}
	return &GormStore{db: conn}, nil
}

func (s *GormStore) Resolve(ctx context.Context, platform channel.ChannelType, ownerID string) (channel.ChannelConfig, error) {
	var rec AccountRecord
	err := s.db.WithContext(ctx).
		Where("platform = ? AND owner_id = ? AND disabled = ?", platform.String(), strings.TrimSpace(ownerID), false).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return channel.ChannelConfig{}, notFound(platform, ownerID)
		}
		return channel.ChannelConfig{}, fmt.Errorf("resolve account: %w", err)
	}
	return rec.toConfig()
}

func (s *GormStore) List(ctx context.Context, platform channel.ChannelType) ([]channel.ChannelConfig, error) {
	var recs []AccountRecord
	err := s.db.WithContext(ctx).
		Where("platform = ? AND disabled = ?", platform.String(), false).
		Order("owner_id").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	items := make([]channel.ChannelConfig, 0, len(recs))
	for _, rec := range recs {
		account, err := rec.toConfig()
		if err != nil {
			return nil, fmt.Errorf("list accounts: %w", err)
		}
		items = append(items, account)
	}
	return items, nil
}

// Upsert inserts the account or updates the existing account with the same platform and owner.
func (s *GormStore) Upsert(ctx context.Context, account channel.ChannelConfig) (channel.ChannelConfig, error) {
	if err := validateAccount(account); err != nil {
		return channel.ChannelConfig{}, err
	}
	credentials, err := channel.EncodeConfigMap(account.Credentials)
	if err != nil {
		return channel.ChannelConfig{}, err
	}
	rec := AccountRecord{
		ID:          uuid.NewString(),
		Platform:    account.ChannelType.String(),
		OwnerID:     strings.TrimSpace(account.OwnerID),
		AssistantID: strings.TrimSpace(account.AssistantID),
		Credentials: string(credentials),
		Disabled:    account.Disabled,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "platform"}, {Name: "owner_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"assistant_id", "credentials", "disabled", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return channel.ChannelConfig{}, fmt.Errorf("upsert account: %w", err)
	}
	var stored AccountRecord
	if err := s.db.WithContext(ctx).
		Where("platform = ? AND owner_id = ?", rec.Platform, rec.OwnerID).
		First(&stored).Error; err != nil {
		return channel.ChannelConfig{}, fmt.Errorf("reload account: %w", err)
	}
	return stored.toConfig()
}
