package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"igcrawler/pkg/config"
	errs "igcrawler/pkg/errors"
	"igcrawler/pkg/logger"
	"igcrawler/pkg/models"
)

// Keys of the persisted state
const (
	KeyTabs      = "tabs"
	KeyIsRunning = "isRunning"
	KeyMaxTabs   = "maxTabs"
	KeyDevMode   = "devMode"
	KeyFrontier  = "frontier"
)

// Store is the crawler's persisted state: an append-only record log plus a
// handful of mirrored values the UI restores from
type Store interface {
	AppendRecord(ctx context.Context, rec models.ProfileRecord) error
	Records(ctx context.Context) ([]models.ProfileRecord, error)
	ClearRecords(ctx context.Context) error

	SetRunning(ctx context.Context, running bool) error
	Running(ctx context.Context) (bool, error)

	SaveSettings(ctx context.Context, s models.Settings) error
	// LoadSettings reports false when no settings were ever saved
	LoadSettings(ctx context.Context) (models.Settings, bool, error)

	SaveFrontier(ctx context.Context, snap models.FrontierSnapshot) error
	LoadFrontier(ctx context.Context) (models.FrontierSnapshot, bool, error)
	ClearFrontier(ctx context.Context) error

	Close() error
}

// backend is the raw key-value surface each storage engine provides.
// Values are JSON documents; list keys hold one document per element.
type backend interface {
	get(ctx context.Context, key string) ([]byte, bool, error)
	set(ctx context.Context, key string, value []byte) error
	del(ctx context.Context, key string) error
	push(ctx context.Context, key string, value []byte) error
	list(ctx context.Context, key string) ([][]byte, error)
	close() error
}

// Open creates the store selected by cfg.Backend
func Open(ctx context.Context, cfg config.StorageConfig, log logger.Logger) (Store, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	var (
		b   backend
		err error
	)
	switch strings.ToLower(cfg.Backend) {
	case "", "file":
		b, err = newFileBackend(cfg.Path)
	case "sqlite":
		b, err = newSQLiteBackend(cfg.Path)
	case "redis":
		b, err = newRedisBackend(ctx, cfg.RedisAddr, cfg.RedisPrefix)
	case "memory":
		b = newMemoryBackend()
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeStorage, "open "+cfg.Backend+" store", err)
	}

	log.WithField("backend", cfg.Backend).Debug("Result store opened")
	return &kvStore{b: b}, nil
}

// NewMemoryStore returns an empty in-process store
func NewMemoryStore() Store {
	return &kvStore{b: newMemoryBackend()}
}

type kvStore struct {
	b backend
}

func (s *kvStore) AppendRecord(ctx context.Context, rec models.ProfileRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	if err := s.b.push(ctx, KeyTabs, data); err != nil {
		return errs.Wrap(errs.ErrorTypeStorage, "append record", err)
	}
	return nil
}

func (s *kvStore) Records(ctx context.Context) ([]models.ProfileRecord, error) {
	raw, err := s.b.list(ctx, KeyTabs)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeStorage, "list records", err)
	}
	out := make([]models.ProfileRecord, 0, len(raw))
	for _, data := range raw {
		var rec models.ProfileRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *kvStore) ClearRecords(ctx context.Context) error {
	return s.delete(ctx, KeyTabs)
}

func (s *kvStore) SetRunning(ctx context.Context, running bool) error {
	return s.put(ctx, KeyIsRunning, running)
}

func (s *kvStore) Running(ctx context.Context) (bool, error) {
	var running bool
	_, err := s.load(ctx, KeyIsRunning, &running)
	return running, err
}

func (s *kvStore) SaveSettings(ctx context.Context, st models.Settings) error {
	if err := s.put(ctx, KeyMaxTabs, st.MaxTabs); err != nil {
		return err
	}
	return s.put(ctx, KeyDevMode, st.DevMode)
}

func (s *kvStore) LoadSettings(ctx context.Context) (models.Settings, bool, error) {
	var st models.Settings
	okTabs, err := s.load(ctx, KeyMaxTabs, &st.MaxTabs)
	if err != nil {
		return st, false, err
	}
	okDev, err := s.load(ctx, KeyDevMode, &st.DevMode)
	if err != nil {
		return st, false, err
	}
	return st, okTabs || okDev, nil
}

func (s *kvStore) SaveFrontier(ctx context.Context, snap models.FrontierSnapshot) error {
	return s.put(ctx, KeyFrontier, snap)
}

func (s *kvStore) LoadFrontier(ctx context.Context) (models.FrontierSnapshot, bool, error) {
	var snap models.FrontierSnapshot
	ok, err := s.load(ctx, KeyFrontier, &snap)
	return snap, ok, err
}

func (s *kvStore) ClearFrontier(ctx context.Context) error {
	return s.delete(ctx, KeyFrontier)
}

func (s *kvStore) Close() error {
	return s.b.close()
}

func (s *kvStore) put(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := s.b.set(ctx, key, data); err != nil {
		return errs.Wrap(errs.ErrorTypeStorage, "write "+key, err)
	}
	return nil
}

func (s *kvStore) load(ctx context.Context, key string, v interface{}) (bool, error) {
	data, ok, err := s.b.get(ctx, key)
	if err != nil {
		return false, errs.Wrap(errs.ErrorTypeStorage, "read "+key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func (s *kvStore) delete(ctx context.Context, key string) error {
	if err := s.b.del(ctx, key); err != nil {
		return errs.Wrap(errs.ErrorTypeStorage, "delete "+key, err)
	}
	return nil
}
