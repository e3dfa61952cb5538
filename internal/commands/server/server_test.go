package server

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "doomsday.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRunServerFailsOnMissingConfigFile(t *testing.T) {
	var buffer bytes.Buffer
	logger := hclog.New(&hclog.LoggerOptions{Output: &buffer})
	require.Equal(t, 1, RunServer(ServerConfig{
		Context:    context.Background(),
		Logger:     logger,
		ConfigFile: "/no/such/file.yml",
		isTest:     true,
	}))
}

func TestRunServerFailsOnInvalidConfig(t *testing.T) {
	path := writeTempConfig(t, `
backends:
  - name: bad
    kind: not-a-real-kind
`)
	var buffer bytes.Buffer
	logger := hclog.New(&hclog.LoggerOptions{Output: &buffer})
	require.Equal(t, 1, RunServer(ServerConfig{
		Context:    context.Background(),
		Logger:     logger,
		ConfigFile: path,
		isTest:     true,
	}))
	require.Contains(t, buffer.String(), "error loading configuration")
}

func TestRunServerStartsAndShutsDownCleanly(t *testing.T) {
	path := writeTempConfig(t, `
server:
  port: 18743
backends:
  - name: local-endpoint
    kind: tlsclient
    refresh_interval: 1h
    properties:
      targets:
        - host: 127.0.0.1
          port: 65535
`)
	var buffer bytes.Buffer
	logger := hclog.New(&hclog.LoggerOptions{Output: &buffer})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	require.Equal(t, 0, RunServer(ServerConfig{
		Context:    ctx,
		Logger:     logger,
		ConfigFile: path,
		isTest:     true,
	}))
}
