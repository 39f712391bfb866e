package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAvatarStoreIndexesExistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "natgeo.jpg"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	s, err := NewAvatarStore(dir)
	require.NoError(t, err)
	assert.True(t, s.Has("natgeo"))
	assert.False(t, s.Has("notes"))
	assert.Equal(t, 1, s.Count())
}

func TestAvatarStoreSave(t *testing.T) {
	s, err := NewAvatarStore(filepath.Join(t.TempDir(), "avatars"))
	require.NoError(t, err)

	require.NoError(t, s.Save(strings.NewReader("jpeg-bytes"), "nasa"))
	assert.True(t, s.Has("nasa"))

	data, err := os.ReadFile(s.Path("nasa"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))

	_, err = os.Stat(s.Path("nasa") + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestAvatarStoreRejectsPathUsernames(t *testing.T) {
	s, err := NewAvatarStore(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", "..", "a/b", `a\b`} {
		assert.Error(t, s.Save(strings.NewReader("x"), name), name)
	}
}

func TestAvatarStoreNoticesFilesWrittenLater(t *testing.T) {
	dir := t.TempDir()
	s, err := NewAvatarStore(dir)
	require.NoError(t, err)

	assert.False(t, s.Has("late"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "late.jpg"), []byte("x"), 0644))
	assert.True(t, s.Has("late"))
}
