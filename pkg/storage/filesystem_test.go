package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageSaveAndOpen(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	rel, err := store.Save("reports/march.csv", []byte("a,b\n1,2\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("reports", "march.csv"), rel)

	f, err := store.Open(rel)
	require.NoError(t, err)
	defer f.Close()

	payload := make([]byte, 8)
	n, _ := f.Read(payload)
	assert.Equal(t, "a,b\n1,2\n", string(payload[:n]))
}

func TestLocalStorageRejectsEscapingNames(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{
		"",
		"/etc/passwd",
		"..",
		"../outside.txt",
		"reports/../../outside.txt",
	} {
		_, err := store.Resolve(name)
		assert.Error(t, err, name)
	}

	// Dot segments that stay inside the root are fine.
	path, err := store.Resolve("reports/../justifications/a.pdf")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, filepath.Join("justifications", "a.pdf")))
}

func TestLocalStorageRemoveOlderThan(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	oldRel, err := store.Save("reports/old.csv", []byte("old"))
	require.NoError(t, err)
	freshRel, err := store.Save("reports/fresh.csv", []byte("fresh"))
	require.NoError(t, err)

	stale := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(store.Path(oldRel), stale, stale))

	removed, err := store.RemoveOlderThan(24 * time.Hour)
	require.NoError(t, err)
	assert.Contains(t, removed, oldRel)
	assert.NotContains(t, removed, freshRel)

	_, err = store.Open(oldRel)
	assert.Error(t, err)
	f, err := store.Open(freshRel)
	require.NoError(t, err)
	f.Close()
}
