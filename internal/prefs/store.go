// Package prefs is the local preference store: a key/value cache that sits
// in front of the settings table. The remote row is authoritative whenever
// it can be read; the cache keeps the app usable while it cannot.
package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
)

// ErrNotSynced means a value was saved locally but the remote write failed.
var ErrNotSynced = errors.New("prefs: saved locally but not synced")

// Remote is the authoritative settings store. Get returns an error matching
// apperr.ErrNotFound when the key has no row.
type Remote interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}

// Source reports where a loaded value came from.
type Source string

const (
	SourceRemote Source = "remote"
	SourceLocal  Source = "local"
)

type Store struct {
	local  KV
	remote Remote
	logger zerolog.Logger
}

// NewStore builds a store. remote may be nil, in which case settings are
// local only.
func NewStore(local KV, remote Remote, logger zerolog.Logger) *Store {
	return &Store{local: local, remote: remote, logger: logger}
}

func settingKey(key string) string { return "setting:" + key }

// Load decodes the setting key into dst. A reachable remote row wins and
// refreshes the cache. A missing or unreachable remote falls back to the
// cache without surfacing the remote error.
func (s *Store) Load(ctx context.Context, key string, dst any) (Source, error) {
	if s.remote != nil {
		data, err := s.remote.Get(ctx, key)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, dst); err != nil {
				return "", fmt.Errorf("prefs: decode remote %s: %w", key, err)
			}
			if err := s.local.Set(ctx, settingKey(key), data); err != nil {
				s.logger.Warn().Err(err).Str("key", key).Msg("prefs: refresh local cache")
			}
			return SourceRemote, nil
		case errors.Is(err, apperr.ErrNotFound):
		default:
			s.logger.Warn().Err(err).Str("key", key).Msg("prefs: remote unreachable, using local cache")
		}
	}

	data, err := s.local.Get(ctx, settingKey(key))
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return "", fmt.Errorf("prefs: decode local %s: %w", key, err)
	}
	return SourceLocal, nil
}

// Save writes the cache first, then the remote. When only the remote write
// fails the returned error matches ErrNotSynced and the cached value stays.
func (s *Store) Save(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("prefs: encode %s: %w", key, err)
	}
	if err := s.local.Set(ctx, settingKey(key), data); err != nil {
		return fmt.Errorf("prefs: save local %s: %w", key, err)
	}
	if s.remote == nil {
		return nil
	}
	if err := s.remote.Put(ctx, key, data); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNotSynced, key, err)
	}
	return nil
}

// CacheSetting stores an already-encoded value read from elsewhere, such as
// a bulk settings listing.
func (s *Store) CacheSetting(ctx context.Context, key string, raw []byte) error {
	return s.local.Set(ctx, settingKey(key), raw)
}

func draftKey(userID, form string) string { return "draft:" + userID + ":" + form }

// SaveDraft stores an unsubmitted form. Drafts never leave the cache and
// never expire.
func (s *Store) SaveDraft(ctx context.Context, userID, form string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("prefs: encode draft: %w", err)
	}
	return s.local.Set(ctx, draftKey(userID, form), data)
}

func (s *Store) LoadDraft(ctx context.Context, userID, form string, dst any) error {
	data, err := s.local.Get(ctx, draftKey(userID, form))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("prefs: decode draft: %w", err)
	}
	return nil
}

// LoadDraftRaw returns the draft exactly as saved.
func (s *Store) LoadDraftRaw(ctx context.Context, userID, form string) (json.RawMessage, error) {
	data, err := s.local.Get(ctx, draftKey(userID, form))
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func (s *Store) ClearDraft(ctx context.Context, userID, form string) error {
	return s.local.Delete(ctx, draftKey(userID, form))
}

func sessionKey(userID string) string { return "session:" + userID }

// CacheSession remembers the last profile served for a user so the me
// endpoint can answer while the database is down.
func (s *Store) CacheSession(ctx context.Context, userID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("prefs: encode session: %w", err)
	}
	return s.local.Set(ctx, sessionKey(userID), data)
}

func (s *Store) CachedSession(ctx context.Context, userID string, dst any) error {
	data, err := s.local.Get(ctx, sessionKey(userID))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

func flagKey(name string) string { return "flag:" + name }

// GetFlag returns the flag value, or "" when unset.
func (s *Store) GetFlag(ctx context.Context, name string) (string, error) {
	data, err := s.local.Get(ctx, flagKey(name))
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *Store) SetFlag(ctx context.Context, name, value string) error {
	return s.local.Set(ctx, flagKey(name), []byte(value))
}
