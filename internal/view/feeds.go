package view

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/domain/auditlog"
	"github.com/clinicdesk/clinicdesk/internal/domain/setting"
	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
	"github.com/clinicdesk/clinicdesk/internal/platform/events"
	"github.com/clinicdesk/clinicdesk/internal/platform/metrics"
)

type RecentAudit interface {
	Recent(ctx context.Context, limit int) ([]*auditlog.Entry, error)
}

// NewAuditFeed keeps the most recent audit entries.
func NewAuditFeed(bus *events.Bus, src RecentAudit, m *metrics.EventMetrics, logger zerolog.Logger) *Controller[[]*auditlog.Entry] {
	fetch := func(ctx context.Context) ([]*auditlog.Entry, error) {
		entries, err := src.Recent(ctx, auditlog.RecentLimit)
		if err != nil {
			return nil, fmt.Errorf("recent audit: %w", err)
		}
		return entries, nil
	}
	return NewController(bus, fetch, Options[[]*auditlog.Entry]{
		Name:    "audit_feed",
		Events:  []events.Name{events.AuditLogCreated},
		Metrics: m,
		Logger:  logger,
	})
}

type SettingReader interface {
	Get(ctx context.Context, key string) (*setting.Setting, error)
}

type SettingLister interface {
	List(ctx context.Context) ([]*setting.Setting, error)
}

// ClientCounter reports how many push clients are connected.
type ClientCounter interface {
	ClientCount() int
}

type SidebarData struct {
	LastBackupAt  *time.Time `json:"last_backup_at"`
	OnlineClients int        `json:"online_clients"`
}

// Sidebar caches the last-backup indicator. The connected client count is
// read live on every Current call.
type Sidebar struct {
	*Controller[SidebarData]
	clients ClientCounter
}

// NewSidebar refreshes on backup-completed and settings-changed. A positive
// interval also polls, so backups taken by another process (the backup
// command) show up without an event on this bus.
func NewSidebar(bus *events.Bus, settings SettingReader, clients ClientCounter, interval time.Duration, m *metrics.EventMetrics, logger zerolog.Logger) *Sidebar {
	fetch := func(ctx context.Context) (SidebarData, error) {
		var out SidebarData
		st, err := settings.Get(ctx, setting.KeyLastBackupAt)
		if errors.Is(err, apperr.ErrNotFound) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("last backup: %w", err)
		}
		var at time.Time
		if err := json.Unmarshal(st.Value, &at); err != nil {
			return out, fmt.Errorf("decode last backup: %w", err)
		}
		out.LastBackupAt = &at
		return out, nil
	}
	return &Sidebar{
		Controller: NewController(bus, fetch, Options[SidebarData]{
			Name:     "sidebar",
			Events:   []events.Name{events.BackupCompleted, events.SettingsChanged},
			Interval: interval,
			Metrics:  m,
			Logger:   logger,
		}),
		clients: clients,
	}
}

func (s *Sidebar) Current() Snapshot[SidebarData] {
	snap := s.Snapshot()
	if s.clients != nil {
		snap.Data.OnlineClients = s.clients.ClientCount()
	}
	return snap
}

// SettingCache receives every setting read in bulk so single-key loads
// can be answered locally while the database is down.
type SettingCache interface {
	CacheSetting(ctx context.Context, key string, raw []byte) error
}

// NewSettings keeps every stored setting, reloaded on settings-changed.
func NewSettings(bus *events.Bus, src SettingLister, cache SettingCache, m *metrics.EventMetrics, logger zerolog.Logger) *Controller[[]*setting.Setting] {
	fetch := func(ctx context.Context) ([]*setting.Setting, error) {
		all, err := src.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list settings: %w", err)
		}
		if cache != nil {
			for _, st := range all {
				if err := cache.CacheSetting(ctx, st.Key, st.Value); err != nil {
					logger.Warn().Err(err).Str("key", st.Key).Msg("cache setting")
				}
			}
		}
		return all, nil
	}
	return NewController(bus, fetch, Options[[]*setting.Setting]{
		Name:    "settings",
		Events:  []events.Name{events.SettingsChanged},
		Metrics: m,
		Logger:  logger,
	})
}
