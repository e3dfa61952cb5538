package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/doomsday-project/doomsday/internal/backend"
)

const validDoc = `
backends:
  - name: production-vault
    kind: vault
    refresh_interval: 5m
    properties:
      url: https://vault.example.com
      token: s.abc
      mount_path: secret
      secret_path: certs/
server:
  port: 9000
  auth: none
notifications:
  threshold: 720h
  slack:
    token: xoxb-x
    channel: "#certs"
`

func TestParseValidDocument(t *testing.T) {
	cfg, err := Parse([]byte(validDoc))
	require.NoError(t, err)
	require.Len(t, cfg.Backends, 1)
	require.Equal(t, "production-vault", cfg.Backends[0].Name)
	require.Equal(t, backend.KindVault, cfg.Backends[0].Kind)
	require.Equal(t, 9000, cfg.Server.Port)
	require.Equal(t, "https://vault.example.com", cfg.Backends[0].Properties["url"])
}

func TestParseRejectsUnknownKind(t *testing.T) {
	_, err := Parse([]byte(`
backends:
  - name: x
    kind: bogus
`))
	require.Error(t, err)
}

func TestParseRejectsDuplicateBackendNames(t *testing.T) {
	_, err := Parse([]byte(`
backends:
  - name: x
    kind: vault
  - name: x
    kind: credhub
`))
	require.Error(t, err)
}

func TestParseRejectsMissingName(t *testing.T) {
	_, err := Parse([]byte(`
backends:
  - kind: vault
`))
	require.Error(t, err)
}

func TestParseDefaultsServerPortAndAuth(t *testing.T) {
	cfg, err := Parse([]byte(`backends: []`))
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, AuthNone, cfg.Server.Auth)
}

func TestParseRejectsUserpassWithoutCredentials(t *testing.T) {
	_, err := Parse([]byte(`
server:
  auth: userpass
`))
	require.Error(t, err)
}

func TestParseRejectsInvalidRefreshInterval(t *testing.T) {
	_, err := Parse([]byte(`
backends:
  - name: x
    kind: vault
    refresh_interval: not-a-duration
`))
	require.Error(t, err)
}
