package accounts

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/memohai/courier/internal/channel"
)

// fileAccount is one entry of accounts.yaml.
type fileAccount struct {
	ID          string         `yaml:"id"`
	Platform    string         `yaml:"platform"`
	OwnerID     string         `yaml:"owner_id"`
	AssistantID string         `yaml:"assistant_id"`
	Credentials map[string]any `yaml:"credentials"`
	Disabled    bool           `yaml:"disabled"`
}

type fileDocument struct {
	Accounts []fileAccount `yaml:"accounts"`
}

type accountKey struct {
	platform channel.ChannelType
	ownerID  string
}

// FileStore serves accounts from a YAML file and reloads it when its modification time
// changes.
type FileStore struct {
	path string

	mu       sync.RWMutex
	modTime  time.Time
	accounts map[accountKey]channel.ChannelConfig
}

// NewFileStore loads path.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}
	if err := s.reload(true); err != nil {
		return nil, err
	}
	return s, nil
}

// ParseFile decodes an accounts YAML file without keeping it open for reloads.
func ParseFile(path string) ([]channel.ChannelConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}
	return parseAccounts(raw)
}

func parseAccounts(raw []byte) ([]channel.ChannelConfig, error) {
	var doc fileDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode accounts file: %w", err)
	}
	items := make([]channel.ChannelConfig, 0, len(doc.Accounts))
	seen := map[accountKey]bool{}
	for i, entry := range doc.Accounts {
		platform, _ := channel.ParseChannelType(entry.Platform)
		account := channel.ChannelConfig{
			ID:          strings.TrimSpace(entry.ID),
			ChannelType: platform,
			OwnerID:     strings.TrimSpace(entry.OwnerID),
			AssistantID: strings.TrimSpace(entry.AssistantID),
			Credentials: entry.Credentials,
			Disabled:    entry.Disabled,
		}
		if account.Credentials == nil {
			account.Credentials = map[string]any{}
		}
		if err := validateAccount(account); err != nil {
			return nil, fmt.Errorf("accounts[%d]: %w", i, err)
		}
		if account.ID == "" {
			account.ID = platform.String() + ":" + account.OwnerID
		}
		key := accountKey{platform: platform, ownerID: account.OwnerID}
		if seen[key] {
			return nil, fmt.Errorf("accounts[%d]: duplicate account %s:%s", i, platform, account.OwnerID)
		}
		seen[key] = true
		items = append(items, account)
	}
	return items, nil
}

func (s *FileStore) reload(force bool) error {
	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("stat accounts file: %w", err)
	}
	s.mu.RLock()
	unchanged := !force && info.ModTime().Equal(s.modTime)
	s.mu.RUnlock()
	if unchanged {
		return nil
	}
	items, err := ParseFile(s.path)
	if err != nil {
		return err
	}
	accounts := make(map[accountKey]channel.ChannelConfig, len(items))
	for _, item := range items {
		item.UpdatedAt = info.ModTime()
		accounts[accountKey{platform: item.ChannelType, ownerID: item.OwnerID}] = item
	}
	s.mu.Lock()
	s.accounts = accounts
	s.modTime = info.ModTime()
	s.mu.Unlock()
	return nil
}

func (s *FileStore) Resolve(_ context.Context, platform channel.ChannelType, ownerID string) (channel.ChannelConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[accountKey{platform: platform, ownerID: strings.TrimSpace(ownerID)}]
	if !ok || account.Disabled {
		return channel.ChannelConfig{}, notFound(platform, ownerID)
	}
	return account, nil
}

// List returns the enabled accounts of platform, picking up edits to the file first. A file
// that fails to parse keeps the previously loaded accounts and returns the error.
func (s *FileStore) List(_ context.Context, platform channel.ChannelType) ([]channel.ChannelConfig, error) {
	reloadErr := s.reload(false)
	s.mu.RLock()
	items := make([]channel.ChannelConfig, 0, len(s.accounts))
	for key, account := range s.accounts {
		if key.platform == platform && !account.Disabled {
			items = append(items, account)
		}
	}
	s.mu.RUnlock()
	sort.Slice(items, func(i, j int) bool { return items[i].OwnerID < items[j].OwnerID })
	return items, reloadErr
}
