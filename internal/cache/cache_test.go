package cache

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeAged writes size bytes under name with a modification time age ago.
func writeAged(t *testing.T, dir, name string, size int, age time.Duration) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{'x'}, size), 0644))
	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestCache_PutAndHas(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, 1<<20)
	require.NoError(t, err)

	assert.False(t, c.Has("a.png"))

	content := []byte("hello world")
	path, err := c.Put("a.png", bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a.png"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, data)
	assert.True(t, c.Has("a.png"))

	// No temp file left behind.
	_, err = os.Stat(path + tempSuffix)
	assert.True(t, os.IsNotExist(err))
}

func TestCache_PutRecreatesMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	c, err := New(dir, 1<<20)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(dir))

	_, err = c.Put("b.jpg", strings.NewReader("data"))
	require.NoError(t, err)
	assert.True(t, c.Has("b.jpg"))
}

func TestCache_RejectsEscapingNames(t *testing.T) {
	c, err := New(t.TempDir(), 1<<20)
	require.NoError(t, err)

	for _, name := range []string{"", "..", "../x.png", "a/b.png", `a\b.png`, "x.png.tmp"} {
		_, err := c.Put(name, strings.NewReader("data"))
		assert.ErrorIs(t, err, ErrInvalidName, name)
		assert.False(t, c.Has(name))
	}
}

func TestCache_ManageEvictsOldestUntilWithinBudget(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, 45)
	require.NoError(t, err)

	writeAged(t, dir, "oldest.png", 10, 3*time.Hour)
	writeAged(t, dir, "middle.png", 20, 2*time.Hour)
	writeAged(t, dir, "newest.png", 30, time.Hour)

	evicted, err := c.Manage()
	require.NoError(t, err)
	assert.Equal(t, []string{"oldest.png", "middle.png"}, evicted)

	size, count, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(30), size)
	assert.Equal(t, 1, count)
	assert.True(t, c.Has("newest.png"))
}

func TestCache_ManageWithinBudgetKeepsEverything(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, 100)
	require.NoError(t, err)

	writeAged(t, dir, "a.png", 10, time.Hour)
	writeAged(t, dir, "b.png", 20, time.Minute)

	evicted, err := c.Manage()
	require.NoError(t, err)
	assert.Empty(t, evicted)
}

func TestCache_ManageSkipsKept(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, 25)
	require.NoError(t, err)

	writeAged(t, dir, "fresh-download.png", 20, 4*time.Hour)
	writeAged(t, dir, "old.png", 10, 2*time.Hour)
	writeAged(t, dir, "newer.png", 10, time.Hour)

	evicted, err := c.Manage("fresh-download.png")
	require.NoError(t, err)
	assert.Equal(t, []string{"old.png", "newer.png"}, evicted)
	assert.True(t, c.Has("fresh-download.png"))

	size, count, err := c.Stats()
	require.NoError(t, err)
	assert.LessOrEqual(t, size, c.MaxSize())
	assert.Equal(t, 1, count)
}

func TestCache_ManageSkipsKeptStopsWithinBudget(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, 30)
	require.NoError(t, err)

	writeAged(t, dir, "fresh-download.png", 20, 4*time.Hour)
	writeAged(t, dir, "old.png", 10, 2*time.Hour)
	writeAged(t, dir, "newer.png", 10, time.Hour)

	evicted, err := c.Manage("fresh-download.png")
	require.NoError(t, err)
	assert.Equal(t, []string{"old.png"}, evicted)

	size, _, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(30), size)
	assert.True(t, c.Has("newer.png"))
}

func TestCache_ManageUnlimited(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, 0)
	require.NoError(t, err)

	writeAged(t, dir, "a.png", 1000, time.Hour)

	evicted, err := c.Manage()
	require.NoError(t, err)
	assert.Empty(t, evicted)
}

func TestCache_ListOrderAndSubdirs(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, 1<<20)
	require.NoError(t, err)

	writeAged(t, dir, "b.png", 1, time.Minute)
	writeAged(t, dir, "a.png", 1, time.Hour)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0755))

	entries, err := c.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a.png", entries[0].Name)
	assert.Equal(t, "b.png", entries[1].Name)
}
