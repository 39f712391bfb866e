package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// AvatarStore saves profile images as <dir>/<username>.jpg and remembers
// which usernames already have one
type AvatarStore struct {
	dir  string
	mu   sync.RWMutex
	have map[string]bool
}

// NewAvatarStore creates dir if needed and indexes the images already in it
func NewAvatarStore(dir string) (*AvatarStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create avatar directory: %w", err)
	}

	s := &AvatarStore{dir: dir, have: make(map[string]bool)}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read avatar directory: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && filepath.Ext(name) == ".jpg" {
			s.have[strings.TrimSuffix(name, ".jpg")] = true
		}
	}
	return s, nil
}

// Has reports whether an image for username is already on disk
func (s *AvatarStore) Has(username string) bool {
	s.mu.RLock()
	known := s.have[username]
	s.mu.RUnlock()
	if known {
		return true
	}

	if _, err := os.Stat(s.Path(username)); err == nil {
		s.mu.Lock()
		s.have[username] = true
		s.mu.Unlock()
		return true
	}
	return false
}

// Save writes r to the image file for username via a temporary file
func (s *AvatarStore) Save(r io.Reader, username string) error {
	if username == "" || strings.ContainsAny(username, `/\`) || username == "." || username == ".." {
		return fmt.Errorf("invalid username %q", username)
	}

	filename := s.Path(username)
	tempFile := filename + ".tmp"
	out, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	_, err = io.Copy(out, r)
	closeErr := out.Close()
	if err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to save image data: %w", err)
	}
	if closeErr != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to close file: %w", closeErr)
	}

	if err := os.Rename(tempFile, filename); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	s.mu.Lock()
	s.have[username] = true
	s.mu.Unlock()
	return nil
}

// Path returns the image path for username
func (s *AvatarStore) Path(username string) string {
	return filepath.Join(s.dir, username+".jpg")
}

// Dir returns the avatar directory
func (s *AvatarStore) Dir() string {
	return s.dir
}

// Count returns the number of known images
func (s *AvatarStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.have)
}
