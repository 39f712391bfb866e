package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igcrawler/pkg/config"
	errs "igcrawler/pkg/errors"
	"igcrawler/pkg/logger"
	"igcrawler/pkg/models"
)

func record(id, profile string) models.ProfileRecord {
	return models.ProfileRecord{
		ID:          id,
		ProfileID:   profile,
		ProfileData: models.ProfileData{Username: models.UsernameFromURL(profile), FollowerCount: "10"},
		StartedAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		CompletedAt: time.Date(2024, 5, 1, 12, 0, 3, 0, time.UTC),
	}
}

func openStore(t *testing.T, cfg config.StorageConfig) Store {
	t.Helper()
	s, err := Open(context.Background(), cfg, logger.NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return openStore(t, config.StorageConfig{Backend: "memory"})
		},
		"file": func(t *testing.T) Store {
			return openStore(t, config.StorageConfig{Backend: "file", Path: filepath.Join(t.TempDir(), "state.json")})
		},
		"sqlite": func(t *testing.T) Store {
			return openStore(t, config.StorageConfig{Backend: "sqlite", Path: filepath.Join(t.TempDir(), "state.db")})
		},
		"redis": func(t *testing.T) Store {
			addr := os.Getenv("IGCRAWLER_TEST_REDIS")
			if addr == "" {
				t.Skip("IGCRAWLER_TEST_REDIS not set")
			}
			prefix := "igcrawler-test-" + t.Name()
			s := openStore(t, config.StorageConfig{Backend: "redis", RedisAddr: addr, RedisPrefix: prefix})
			ctx := context.Background()
			require.NoError(t, s.ClearRecords(ctx))
			require.NoError(t, s.ClearFrontier(ctx))
			return s
		},
	}
}

func TestStoreBackends(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			t.Run("records append in order", func(t *testing.T) {
				require.NoError(t, s.AppendRecord(ctx, record("1", "https://www.instagram.com/a/")))
				require.NoError(t, s.AppendRecord(ctx, record("2", "https://www.instagram.com/b/")))

				recs, err := s.Records(ctx)
				require.NoError(t, err)
				require.Len(t, recs, 2)
				assert.Equal(t, "a", recs[0].Username)
				assert.Equal(t, "2", recs[1].ID)
				assert.True(t, recs[0].StartedAt.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))

				require.NoError(t, s.ClearRecords(ctx))
				recs, err = s.Records(ctx)
				require.NoError(t, err)
				assert.Empty(t, recs)
			})

			t.Run("running flag", func(t *testing.T) {
				running, err := s.Running(ctx)
				require.NoError(t, err)
				assert.False(t, running)

				require.NoError(t, s.SetRunning(ctx, true))
				running, err = s.Running(ctx)
				require.NoError(t, err)
				assert.True(t, running)
			})

			t.Run("settings", func(t *testing.T) {
				require.NoError(t, s.SaveSettings(ctx, models.Settings{MaxTabs: 7, DevMode: true}))
				st, ok, err := s.LoadSettings(ctx)
				require.NoError(t, err)
				assert.True(t, ok)
				assert.Equal(t, models.Settings{MaxTabs: 7, DevMode: true}, st)
			})

			t.Run("frontier", func(t *testing.T) {
				_, ok, err := s.LoadFrontier(ctx)
				require.NoError(t, err)
				assert.False(t, ok)

				snap := models.FrontierSnapshot{
					Queue:   []models.WorkItem{{ID: "https://www.instagram.com/c/", Origin: "https://www.instagram.com/a/"}},
					Visited: []string{"https://www.instagram.com/a/"},
				}
				require.NoError(t, s.SaveFrontier(ctx, snap))
				got, ok, err := s.LoadFrontier(ctx)
				require.NoError(t, err)
				assert.True(t, ok)
				assert.Equal(t, snap, got)

				require.NoError(t, s.ClearFrontier(ctx))
				_, ok, err = s.LoadFrontier(ctx)
				require.NoError(t, err)
				assert.False(t, ok)
			})
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	s := openStore(t, config.StorageConfig{Backend: "file", Path: path})
	require.NoError(t, s.AppendRecord(ctx, record("1", "https://www.instagram.com/a/")))
	require.NoError(t, s.SetRunning(ctx, true))
	require.NoError(t, s.Close())

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file must not be left behind")

	reopened := openStore(t, config.StorageConfig{Backend: "file", Path: path})
	recs, err := reopened.Records(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	running, err := reopened.Running(ctx)
	require.NoError(t, err)
	assert.True(t, running)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"tabs"`)
	assert.Contains(t, string(data), `"isRunning": true`)
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := Open(context.Background(), config.StorageConfig{Backend: "file", Path: path}, nil)
	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrorTypeStorage))
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	s := openStore(t, config.StorageConfig{Backend: "sqlite", Path: path})
	require.NoError(t, s.SaveSettings(ctx, models.Settings{MaxTabs: 3}))
	require.NoError(t, s.Close())

	reopened := openStore(t, config.StorageConfig{Backend: "sqlite", Path: path})
	st, ok, err := reopened.LoadSettings(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, st.MaxTabs)
}

func TestLoadSettingsWhenUnset(t *testing.T) {
	s := NewMemoryStore()
	_, ok, err := s.LoadSettings(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.StorageConfig{Backend: "tape"}, nil)
	assert.Error(t, err)
}

func TestDataDirectoryHonoursXDG(t *testing.T) {
	if os.Getenv("APPDATA") != "" {
		t.Skip("windows layout")
	}
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)
	t.Setenv("HOME", dir)

	got, err := DataDirectory()
	require.NoError(t, err)
	assert.DirExists(t, got)
	assert.Equal(t, "igcrawler", filepath.Base(got))
}
