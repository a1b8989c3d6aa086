package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(content), 0o644))
}

func TestManagerReloadSwapsSnapshot(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, validYAML)

	mgr, err := NewManager(dir)
	require.NoError(t, err)

	before := mgr.Current()
	require.Len(t, before.Services(), 2)

	writeConfig(t, dir, `
services:
  - name: file-tools
    image: example/file-tools:2
    port: 9001
`)
	require.NoError(t, mgr.Reload())

	after := mgr.Current()
	assert.NotSame(t, before, after)
	assert.Len(t, after.Services(), 1)
	assert.Equal(t, "example/file-tools:2", after.Services()[0].Image)

	// The old snapshot is still fully usable by anyone holding it.
	assert.Len(t, before.Services(), 2)
}

func TestManagerReloadKeepsOldTableOnError(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, validYAML)

	mgr, err := NewManager(dir)
	require.NoError(t, err)
	before := mgr.Current()

	// Duplicate service name must be rejected wholesale.
	writeConfig(t, dir, `
services:
  - name: dup
    image: a
    port: 9001
  - name: dup
    image: b
    port: 9002
`)
	err = mgr.Reload()
	require.Error(t, err)

	assert.Same(t, before, mgr.Current())
	assert.Len(t, mgr.Current().Services(), 2)
}
