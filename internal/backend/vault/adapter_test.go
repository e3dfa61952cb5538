package vault

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hashicorp/go-hclog"
	vaultapi "github.com/hashicorp/vault/api"
	"github.com/stretchr/testify/require"

	"github.com/doomsday-project/doomsday/internal/backend"
)

func TestNewRequiresMountPath(t *testing.T) {
	_, err := New(hclog.NewNullLogger(), "v1", map[string]interface{}{
		"url": "https://vault.example.com",
	})
	require.Error(t, err)
}

func TestNewDecodesProperties(t *testing.T) {
	a, err := New(hclog.NewNullLogger(), "v1", map[string]interface{}{
		"url":         "https://vault.example.com",
		"token":       "s.abc123",
		"mount_path":  "secret",
		"secret_path": "services/",
	})
	require.NoError(t, err)

	adapter, ok := a.(*Adapter)
	require.True(t, ok)
	require.Equal(t, "secret", adapter.cfg.MountPath)
	require.Equal(t, "services/", adapter.cfg.SecretPath)
}

func TestLooksLikePEM(t *testing.T) {
	require.True(t, looksLikePEM("-----BEGIN CERTIFICATE-----\nMII...\n-----END CERTIFICATE-----\n"))
	require.False(t, looksLikePEM("not a certificate"))
	require.False(t, looksLikePEM(""))
}

func TestExtractKeysHandlesNilSecret(t *testing.T) {
	require.Nil(t, extractKeys(nil))
}

func TestExtractDataHandlesNilSecret(t *testing.T) {
	require.Nil(t, extractData(nil))
}

// newFakeVault serves a one-level KV v2 mount: listing the mount's root
// metadata returns a single leaf key, and reading that leaf returns one
// PEM-looking field and one field that is not.
func newFakeVault(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/secret/metadata/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "LIST" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"keys": []string{"leaf-cert"}},
		})
	})
	mux.HandleFunc("/v1/secret/data/leaf-cert", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"data": map[string]interface{}{
					"certificate": "-----BEGIN CERTIFICATE-----\nMII...\n-----END CERTIFICATE-----\n",
					"description": "not a cert",
				},
			},
		})
	})
	return httptest.NewServer(mux)
}

func newFakeAdapter(t *testing.T, srv *httptest.Server) *Adapter {
	t.Helper()
	client, err := vaultapi.NewClient(&vaultapi.Config{Address: srv.URL})
	require.NoError(t, err)
	client.SetToken("test-token")
	return &Adapter{
		logger: hclog.NewNullLogger(),
		name:   "v1",
		client: client,
		cfg:    Config{MountPath: "secret"},
	}
}

func TestListWalksMountAndYieldsOnlyPEMLookingFields(t *testing.T) {
	srv := newFakeVault(t)
	defer srv.Close()
	a := newFakeAdapter(t, srv)

	items, errc := a.List(context.Background())
	var got []backend.PEMItem
	for it := range items {
		got = append(got, it)
	}
	require.NoError(t, <-errc)

	require.Len(t, got, 1)
	require.Equal(t, "leaf-cert", got[0].Path.Path)
	require.Contains(t, string(got[0].PEM), "BEGIN CERTIFICATE")
}

func TestListSurfacesAuthErrorAsAuthBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()
	a := newFakeAdapter(t, srv)

	_, errc := a.List(context.Background())
	err := <-errc
	require.Error(t, err)

	var authErr *backend.AuthBackendError
	require.ErrorAs(t, err, &authErr)
}
