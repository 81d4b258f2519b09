package setting

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/clinicdesk/clinicdesk/internal/domain/auditlog"
	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
	"github.com/clinicdesk/clinicdesk/internal/platform/db"
	"github.com/clinicdesk/clinicdesk/internal/platform/events"
)

const maxKeyLen = 128

type Service struct {
	repo      Repository
	tx        db.Transactor
	audit     auditlog.Recorder
	bus       events.Publisher
	defaultTZ string
}

func NewService(repo Repository, tx db.Transactor, audit auditlog.Recorder, bus events.Publisher) *Service {
	return &Service{repo: repo, tx: tx, audit: audit, bus: bus, defaultTZ: DefaultTimezone}
}

// WithDefaultTimezone sets the zone used while no timezone setting is
// stored. An empty name keeps DefaultTimezone.
func (s *Service) WithDefaultTimezone(name string) *Service {
	if name != "" {
		s.defaultTZ = name
	}
	return s
}

func validateKey(key string) error {
	if key == "" || len(key) > maxKeyLen || strings.ContainsAny(key, " \t\n/") {
		return apperr.Validation("invalid setting key %q", key)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, key string) (*Setting, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, key)
}

func (s *Service) List(ctx context.Context) ([]*Setting, error) {
	return s.repo.List(ctx)
}

// Validate checks key and value without writing anything.
func (s *Service) Validate(key string, value json.RawMessage) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if !json.Valid(value) {
		return apperr.Validation("setting value must be JSON")
	}
	if key == KeyTimezone {
		var tz string
		if err := json.Unmarshal(value, &tz); err != nil {
			return apperr.Validation("timezone must be a string")
		}
		if _, err := time.LoadLocation(tz); err != nil {
			return apperr.Validation("unknown timezone %q", tz)
		}
	}
	return nil
}

// Put stores value under key, writes an audit entry in the same
// transaction and announces settings-changed once committed.
func (s *Service) Put(ctx context.Context, key string, value json.RawMessage) (*Setting, error) {
	if err := s.Validate(key, value); err != nil {
		return nil, err
	}

	var out *Setting
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.repo.Put(ctx, key, value, auth.Actor(ctx))
		if err != nil {
			return err
		}
		_, err = s.audit.Record(ctx, auth.Actor(ctx), auditlog.ActionSettingChanged,
			fmt.Sprintf("Set %s", key))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("put setting: %w", err)
	}
	s.bus.Publish(events.SettingsChanged, key)
	s.bus.Publish(events.AuditLogCreated, "")
	return out, nil
}

// Timezone returns the clinic timezone setting, falling back to the
// configured default when unset or invalid.
func (s *Service) Timezone(ctx context.Context) *time.Location {
	name := s.defaultTZ
	if st, err := s.repo.Get(ctx, KeyTimezone); err == nil {
		var v string
		if json.Unmarshal(st.Value, &v) == nil && v != "" {
			name = v
		}
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Remote exposes the service as the authoritative side of the preference
// store.
type Remote struct {
	svc *Service
}

func NewRemote(svc *Service) *Remote {
	return &Remote{svc: svc}
}

func (r *Remote) Get(ctx context.Context, key string) ([]byte, error) {
	st, err := r.svc.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return st.Value, nil
}

func (r *Remote) Put(ctx context.Context, key string, value []byte) error {
	_, err := r.svc.Put(ctx, key, value)
	return err
}
