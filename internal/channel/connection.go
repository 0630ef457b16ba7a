package channel

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

type connectionEntry struct {
	config     ChannelConfig
	connection Connection
}

func (m *Manager) refresh(ctx context.Context) {
	// Serialize refresh calls so concurrent callers wait instead of silently skipping.
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	if m.lister == nil {
		return
	}
	configs := make([]ChannelConfig, 0)
	for _, channelType := range m.registry.Types() {
		if _, ok := m.registry.GetReceiver(channelType); !ok {
			continue
		}
		items, err := m.lister.List(ctx, channelType)
		if err != nil {
			m.logger.Error("list accounts failed", slog.String("channel", channelType.String()), slog.Any("error", err))
			return
		}
		configs = append(configs, items...)
	}
	m.reconcile(ctx, configs)
}

func (m *Manager) reconcile(ctx context.Context, configs []ChannelConfig) {
	active := map[string]ChannelConfig{}
	for _, cfg := range configs {
		if cfg.ID == "" || cfg.Disabled {
			continue
		}
		active[cfg.ID] = cfg
		if err := m.ensureConnection(ctx, cfg); err != nil {
			m.markConnectionStatus(cfg, false, err)
			m.logger.Error(
				"receiver start failed",
				slog.String("owner_id", cfg.OwnerID),
				slog.String("channel", cfg.ChannelType.String()),
				slog.String("config_id", cfg.ID),
				slog.Any("error", err),
			)
		}
	}

	m.mu.Lock()
	stale := make([]*connectionEntry, 0)
	for id, entry := range m.connections {
		if _, ok := active[id]; ok {
			continue
		}
		stale = append(stale, entry)
		delete(m.connections, id)
	}
	for id := range m.connectionMeta {
		if _, ok := active[id]; !ok {
			delete(m.connectionMeta, id)
		}
	}
	m.mu.Unlock()

	for _, entry := range stale {
		m.stopEntry(ctx, entry, "receiver stop")
	}
}

func (m *Manager) ensureConnection(ctx context.Context, cfg ChannelConfig) error {
	receiver, ok := m.registry.GetReceiver(cfg.ChannelType)
	if !ok {
		return nil
	}

	m.mu.Lock()
	entry := m.connections[cfg.ID]

	// Account unchanged and still running.
	if entry != nil && !entry.config.UpdatedAt.Before(cfg.UpdatedAt) && entry.connection.Running() {
		m.setConnectionStatusLocked(entry.config, true, nil)
		m.mu.Unlock()
		return nil
	}
	if entry != nil {
		delete(m.connections, cfg.ID)
	}
	m.mu.Unlock()

	if entry != nil {
		m.stopEntry(ctx, entry, "receiver restart")
	}

	m.logger.Info(
		"receiver start",
		slog.String("owner_id", cfg.OwnerID),
		slog.String("channel", cfg.ChannelType.String()),
		slog.String("config_id", cfg.ID),
	)
	// Long-lived receiver sessions must outlive the refresh that started them.
	conn, err := receiver.Connect(context.WithoutCancel(ctx), cfg, m.handleInbound)
	if err != nil {
		return err
	}

	m.mu.Lock()
	// Another refresh may have raced us; keep the connection that got there first.
	if existing, ok := m.connections[cfg.ID]; ok && existing != nil {
		m.mu.Unlock()
		_ = conn.Stop(context.WithoutCancel(ctx))
		return nil
	}
	m.connections[cfg.ID] = &connectionEntry{config: cfg, connection: conn}
	m.setConnectionStatusLocked(cfg, true, nil)
	m.mu.Unlock()
	return nil
}

func (m *Manager) stopEntry(ctx context.Context, entry *connectionEntry, msg string) {
	if entry == nil || entry.connection == nil {
		return
	}
	m.logger.Info(
		msg,
		slog.String("owner_id", entry.config.OwnerID),
		slog.String("channel", entry.config.ChannelType.String()),
		slog.String("config_id", entry.config.ID),
	)
	if err := entry.connection.Stop(ctx); err != nil && !errors.Is(err, ErrStopNotSupported) {
		m.logger.Warn(
			"receiver stop failed",
			slog.String("owner_id", entry.config.OwnerID),
			slog.String("channel", entry.config.ChannelType.String()),
			slog.String("config_id", entry.config.ID),
			slog.Any("error", err),
		)
	}
}

func (m *Manager) stopAll(ctx context.Context) {
	m.mu.Lock()
	entries := make([]*connectionEntry, 0, len(m.connections))
	for id, entry := range m.connections {
		entries = append(entries, entry)
		delete(m.connections, id)
		delete(m.connectionMeta, id)
	}
	m.mu.Unlock()
	for _, entry := range entries {
		m.stopEntry(ctx, entry, "receiver stop")
	}
}

func (m *Manager) markConnectionStatus(cfg ChannelConfig, running bool, checkErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setConnectionStatusLocked(cfg, running, checkErr)
}

func (m *Manager) setConnectionStatusLocked(cfg ChannelConfig, running bool, checkErr error) {
	if strings.TrimSpace(cfg.ID) == "" {
		return
	}
	previous, hasPrevious := m.connectionMeta[cfg.ID]
	status := ConnectionStatus{
		ConfigID:    cfg.ID,
		OwnerID:     cfg.OwnerID,
		ChannelType: cfg.ChannelType,
		Running:     running,
		UpdatedAt:   time.Now().UTC(),
	}
	if checkErr != nil {
		status.LastError = checkErr.Error()
	}
	m.connectionMeta[cfg.ID] = status
	if running && hasPrevious && strings.TrimSpace(previous.LastError) != "" {
		m.logger.Info(
			"receiver recovered",
			slog.String("owner_id", cfg.OwnerID),
			slog.String("channel", cfg.ChannelType.String()),
			slog.String("config_id", cfg.ID),
		)
	}
}
