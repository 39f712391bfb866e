package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

// fileBackend keeps the whole state in one JSON object on disk, shaped like
// the key-value layout: {"tabs": [...], "isRunning": false, ...}. Every write
// replaces the file atomically.
type fileBackend struct {
	path string

	mu  sync.Mutex
	doc map[string]json.RawMessage
}

func newFileBackend(path string) (*fileBackend, error) {
	if path == "" {
		dir, err := DataDirectory()
		if err != nil {
			return nil, fmt.Errorf("failed to get data directory: %w", err)
		}
		path = filepath.Join(dir, "state.json")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	f := &fileBackend{path: path, doc: make(map[string]json.RawMessage)}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read state file: %w", err)
	case len(data) > 0:
		if err := json.Unmarshal(data, &f.doc); err != nil {
			return nil, fmt.Errorf("failed to decode state file %s: %w", path, err)
		}
	}
	return f, nil
}

func (f *fileBackend) get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.doc[key]
	return v, ok, nil
}

func (f *fileBackend) set(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev, had := f.doc[key]
	f.doc[key] = json.RawMessage(value)
	if err := f.flushLocked(); err != nil {
		f.restoreLocked(key, prev, had)
		return err
	}
	return nil
}

func (f *fileBackend) del(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev, had := f.doc[key]
	if !had {
		return nil
	}
	delete(f.doc, key)
	if err := f.flushLocked(); err != nil {
		f.restoreLocked(key, prev, had)
		return err
	}
	return nil
}

func (f *fileBackend) push(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	items, err := f.listLocked(key)
	if err != nil {
		return err
	}
	items = append(items, json.RawMessage(value))
	data, err := json.Marshal(items)
	if err != nil {
		return err
	}

	prev, had := f.doc[key]
	f.doc[key] = data
	if err := f.flushLocked(); err != nil {
		f.restoreLocked(key, prev, had)
		return err
	}
	return nil
}

func (f *fileBackend) list(_ context.Context, key string) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items, err := f.listLocked(key)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(items))
	for i, it := range items {
		out[i] = it
	}
	return out, nil
}

func (f *fileBackend) close() error { return nil }

func (f *fileBackend) listLocked(key string) ([]json.RawMessage, error) {
	raw, ok := f.doc[key]
	if !ok {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("key %s is not a list: %w", key, err)
	}
	return items, nil
}

func (f *fileBackend) restoreLocked(key string, prev json.RawMessage, had bool) {
	if had {
		f.doc[key] = prev
	} else {
		delete(f.doc, key)
	}
}

// flushLocked writes the document to a temporary file, syncs it and renames
// it over the state file
func (f *fileBackend) flushLocked() error {
	tempPath := f.path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary state file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(f.doc); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode state: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync state file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close state file: %w", err)
	}

	if err := os.Rename(tempPath, f.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// DataDirectory returns the per-user data directory for the crawler,
// creating it if needed
func DataDirectory() (string, error) {
	var dataDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dataDir = filepath.Join(home, "Library", "Application Support", "igcrawler")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		dataDir = filepath.Join(appData, "igcrawler")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			dataDir = filepath.Join(xdg, "igcrawler")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			dataDir = filepath.Join(home, ".local", "share", "igcrawler")
		}
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dataDir, nil
}
