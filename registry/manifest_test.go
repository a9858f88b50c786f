package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifest = `
servers:
  - name: files
    command: file-server
    args: ["--root", "/srv/data"]
    env:
      LOG_LEVEL: debug
  - name: search
    command: search-server
`

func TestParseManifest(t *testing.T) {
	descs, err := ParseManifest([]byte(sampleManifest))
	require.NoError(t, err)
	require.Len(t, descs, 2)

	assert.Equal(t, "files", descs[0].Name)
	assert.Equal(t, "file-server", descs[0].Command)
	assert.Equal(t, []string{"--root", "/srv/data"}, descs[0].Args)
	assert.Equal(t, "debug", descs[0].Env["LOG_LEVEL"])

	assert.Equal(t, "search", descs[1].Name)
	assert.Empty(t, descs[1].Args)
}

func TestParseManifest_Invalid(t *testing.T) {
	t.Run("bad yaml", func(t *testing.T) {
		_, err := ParseManifest([]byte("servers: ["))
		assert.ErrorContains(t, err, "yaml parse")
	})

	t.Run("no servers", func(t *testing.T) {
		_, err := ParseManifest([]byte("servers: []"))
		assert.ErrorContains(t, err, "no servers")
	})

	t.Run("missing command", func(t *testing.T) {
		_, err := ParseManifest([]byte("servers:\n  - name: files\n"))
		assert.ErrorContains(t, err, "missing command")
	})

	t.Run("duplicate name", func(t *testing.T) {
		_, err := ParseManifest([]byte("servers:\n  - name: a\n    command: x\n  - name: a\n    command: y\n"))
		assert.ErrorContains(t, err, "duplicate name")
	})
}

func TestLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleManifest), 0o600))

	descs, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Len(t, descs, 2)

	_, err = LoadManifest(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read manifest")
}
