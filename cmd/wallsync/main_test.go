package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckImages(t *testing.T) {
	dir := t.TempDir()
	png := filepath.Join(dir, "a.PNG")
	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(png, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(txt, []byte("x"), 0644))

	assert.NoError(t, checkImages([]string{png}))
	assert.Error(t, checkImages([]string{png, txt}))
	assert.Error(t, checkImages([]string{filepath.Join(dir, "missing.jpg")}))
	assert.Error(t, checkImages([]string{dir}))

	empty := filepath.Join(dir, "empty.jpg")
	require.NoError(t, os.WriteFile(empty, nil, 0644))
	assert.Error(t, checkImages([]string{empty}))
}

func TestStatus(t *testing.T) {
	dir := t.TempDir()
	configPath = filepath.Join(dir, "config.json")
	t.Cleanup(func() { configPath = "" })

	var out bytes.Buffer
	statusCmd.SetOut(&out)
	t.Cleanup(func() { statusCmd.SetOut(nil) })

	require.NoError(t, runStatus(statusCmd, nil))

	s := out.String()
	assert.Contains(t, s, "NEWCLIENT (not registered)")
	assert.Contains(t, s, "ws://localhost:8080")
	assert.Contains(t, s, filepath.Join(dir, "cache"))
	assert.Contains(t, s, "0.0 MB / 1024.0 MB (0 files)")
}

func TestFormatMB(t *testing.T) {
	assert.Equal(t, "1.5 MB", formatMB(3<<19))
	assert.Equal(t, "0.0 MB", formatMB(0))
}
