package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/oodx/porty/pkg/perror"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "porty.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, 100, cfg.MaxConnections)
	require.Equal(t, 8, cfg.BufferSizeKB)
}

func TestLoadAppliesRouteDefaults(t *testing.T) {
	path := writeTempConfig(t, `
listen_addr: 0.0.0.0
listen_port: 8080
routes:
  - name: api
    listen_port: 9090
    mode: http
    enabled: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Routes, 1)
	require.Equal(t, LogBasic, cfg.Routes[0].LogLevel)
	require.Equal(t, 30, cfg.Routes[0].TimeoutSeconds)
	require.Equal(t, 2, cfg.Routes[0].MaxRetries)
}

func TestLoadRejectsDuplicateListenPorts(t *testing.T) {
	path := writeTempConfig(t, `
routes:
  - name: a
    listen_port: 9090
    mode: tcp
    target_addr: 127.0.0.1
    target_port: 1000
    enabled: true
  - name: b
    listen_port: 9090
    mode: tcp
    target_addr: 127.0.0.1
    target_port: 1001
    enabled: true
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Equal(t, perror.KindConfigInvalid, perror.KindOf(err))
}

func TestLoadIgnoresDuplicatePortOnDisabledRoute(t *testing.T) {
	path := writeTempConfig(t, `
routes:
  - name: a
    listen_port: 9090
    mode: tcp
    target_addr: 127.0.0.1
    target_port: 1000
    enabled: true
  - name: b
    listen_port: 9090
    mode: tcp
    target_addr: 127.0.0.1
    target_port: 1001
    enabled: false
`)
	_, err := Load(path)
	require.NoError(t, err)
}

func TestLoadRejectsTCPRouteWithoutTarget(t *testing.T) {
	path := writeTempConfig(t, `
routes:
  - name: a
    listen_port: 9090
    mode: tcp
    enabled: true
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Equal(t, perror.KindConfigInvalid, perror.KindOf(err))
}

func TestLoadAllowsHTTPRouteWithoutStaticTarget(t *testing.T) {
	path := writeTempConfig(t, `
routes:
  - name: a
    listen_port: 9090
    mode: http
    enabled: true
`)
	_, err := Load(path)
	require.NoError(t, err)
}
