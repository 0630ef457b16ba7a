package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultRefreshSchedule is the cron spec used when no refresh schedule is configured.
const DefaultRefreshSchedule = "@every 5m"

// ConfigLister lists owner accounts for a platform. Used for periodic connection refresh.
type ConfigLister interface {
	List(ctx context.Context, channelType ChannelType) ([]ChannelConfig, error)
}

// ConnectionStatus describes runtime status for one receiver connection.
type ConnectionStatus struct {
	ConfigID    string      `json:"config_id"`
	OwnerID     string      `json:"owner_id"`
	ChannelType ChannelType `json:"channel_type"`
	Running     bool        `json:"running"`
	LastError   string      `json:"last_error,omitempty"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// ManagerOptions tunes the connection manager.
type ManagerOptions struct {
	// RefreshSchedule is a cron spec ("@every 5m", "*/10 * * * *") for re-listing accounts.
	RefreshSchedule string
}

// Manager keeps one receiver connection alive per enabled account on platforms whose
// adapter implements Receiver. Webhook-only platforms never get a connection.
type Manager struct {
	registry *Registry
	lister   ConfigLister
	handler  InboundHandler
	schedule string
	logger   *slog.Logger

	cron           *cron.Cron
	mu             sync.Mutex
	refreshMu      sync.Mutex
	connections    map[string]*connectionEntry
	connectionMeta map[string]ConnectionStatus
}

// NewManager creates a Manager. handler receives every message a receiver delivers.
func NewManager(log *slog.Logger, registry *Registry, lister ConfigLister, handler InboundHandler, opts ManagerOptions) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	schedule := strings.TrimSpace(opts.RefreshSchedule)
	if schedule == "" {
		schedule = DefaultRefreshSchedule
	}
	return &Manager{
		registry:       registry,
		lister:         lister,
		handler:        handler,
		schedule:       schedule,
		logger:         log.With(slog.String("component", "channel")),
		connections:    map[string]*connectionEntry{},
		connectionMeta: map[string]ConnectionStatus{},
	}
}

// Registry returns the adapter registry used by this manager.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Start connects every enabled receiver account and schedules periodic refreshes.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.cron != nil {
		m.mu.Unlock()
		return fmt.Errorf("channel manager already started")
	}
	c := cron.New()
	m.cron = c
	m.mu.Unlock()

	refreshCtx := context.WithoutCancel(ctx)
	if _, err := c.AddFunc(m.schedule, func() { m.refresh(refreshCtx) }); err != nil {
		m.mu.Lock()
		m.cron = nil
		m.mu.Unlock()
		return fmt.Errorf("refresh schedule %q: %w", m.schedule, err)
	}
	m.refresh(ctx)
	c.Start()
	m.logger.Info("channel manager started", slog.String("schedule", m.schedule))
	return nil
}

// Stop halts the refresh schedule and stops every connection.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.stopAll(ctx)
	return nil
}

// Refresh re-lists accounts and reconciles connections immediately.
func (m *Manager) Refresh(ctx context.Context) {
	m.refresh(ctx)
}

// Statuses returns a snapshot of connection status ordered by config ID.
func (m *Manager) Statuses() []ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]ConnectionStatus, 0, len(m.connectionMeta))
	for _, status := range m.connectionMeta {
		items = append(items, status)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ConfigID < items[j].ConfigID })
	return items
}

func (m *Manager) handleInbound(ctx context.Context, cfg ChannelConfig, msg InboundMessage) error {
	if m.handler == nil {
		return errors.New("inbound handler not configured")
	}
	return m.handler(ctx, cfg, msg)
}
