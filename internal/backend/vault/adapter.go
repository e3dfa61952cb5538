// Package vault implements the vault backend kind: a recursive walk of a
// KV v2 mount, yielding any secret field whose value looks like PEM.
package vault

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/vault/api"
	"github.com/mitchellh/mapstructure"

	"github.com/doomsday-project/doomsday/internal/backend"
)

// Config is the kind-specific shape of BackendSpec.Properties for a vault
// backend.
type Config struct {
	URL        string `mapstructure:"url"`
	Token      string `mapstructure:"token"`
	MountPath  string `mapstructure:"mount_path"`
	SecretPath string `mapstructure:"secret_path"`
}

// Adapter walks a Vault KV v2 mount. Auth is a static token set on the
// client.
type Adapter struct {
	logger hclog.Logger
	name   string
	client *api.Client
	cfg    Config
}

// New constructs an Adapter from a backend's raw properties. It relies on
// having standard VAULT_x environment variables available as a base
// configuration, with url/token from Properties taking precedence.
func New(logger hclog.Logger, name string, properties map[string]interface{}) (backend.Adapter, error) {
	var cfg Config
	if err := mapstructure.Decode(properties, &cfg); err != nil {
		return nil, &backend.PermanentBackendError{Backend: name, Err: fmt.Errorf("decoding vault properties: %w", err)}
	}
	if cfg.MountPath == "" {
		return nil, &backend.PermanentBackendError{Backend: name, Err: fmt.Errorf("vault backend requires mount_path")}
	}

	clientCfg := api.DefaultConfig()
	if cfg.URL != "" {
		clientCfg.Address = cfg.URL
	}
	client, err := api.NewClient(clientCfg)
	if err != nil {
		return nil, &backend.PermanentBackendError{Backend: name, Err: err}
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	return &Adapter{
		logger: logger,
		name:   name,
		client: client,
		cfg:    cfg,
	}, nil
}

func (a *Adapter) List(ctx context.Context) (<-chan backend.PEMItem, <-chan error) {
	items := make(chan backend.PEMItem)
	errc := make(chan error, 1)

	go func() {
		defer close(items)
		errc <- a.walk(ctx, items, strings.Trim(a.cfg.SecretPath, "/"))
		close(errc)
	}()

	return items, errc
}

func (a *Adapter) walk(ctx context.Context, items chan<- backend.PEMItem, path string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	mount := strings.Trim(a.cfg.MountPath, "/")
	var keys []string
	err := backend.Retry(ctx, func() error {
		listPath := fmt.Sprintf("%s/metadata/%s", mount, path)
		secret, listErr := a.client.Logical().ListWithContext(ctx, listPath)
		if listErr != nil {
			return classifyError(a.name, listErr)
		}
		keys = extractKeys(secret)
		return nil
	})
	if err != nil {
		return err
	}

	for _, key := range keys {
		childPath := strings.TrimPrefix(path+"/"+strings.TrimSuffix(key, "/"), "/")
		if strings.HasSuffix(key, "/") {
			if err := a.walk(ctx, items, childPath); err != nil {
				return err
			}
			continue
		}
		if err := a.readLeaf(ctx, items, childPath); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) readLeaf(ctx context.Context, items chan<- backend.PEMItem, path string) error {
	mount := strings.Trim(a.cfg.MountPath, "/")

	var fields map[string]interface{}
	err := backend.Retry(ctx, func() error {
		dataPath := fmt.Sprintf("%s/data/%s", mount, path)
		secret, readErr := a.client.Logical().ReadWithContext(ctx, dataPath)
		if readErr != nil {
			return classifyError(a.name, readErr)
		}
		fields = extractData(secret)
		return nil
	})
	if err != nil {
		return err
	}

	ref := backend.PathRef{Backend: a.name, Path: path}
	for _, v := range fields {
		s, ok := v.(string)
		if !ok || !looksLikePEM(s) {
			continue
		}
		select {
		case items <- backend.PEMItem{Path: ref, PEM: []byte(s)}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func extractKeys(secret *api.Secret) []string {
	if secret == nil || secret.Data == nil {
		return nil
	}
	raw, _ := secret.Data["keys"].([]interface{})
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		if s, ok := k.(string); ok {
			keys = append(keys, s)
		}
	}
	return keys
}

func extractData(secret *api.Secret) map[string]interface{} {
	if secret == nil || secret.Data == nil {
		return nil
	}
	data, _ := secret.Data["data"].(map[string]interface{})
	return data
}

func looksLikePEM(s string) bool {
	return strings.Contains(s, "-----BEGIN")
}

func classifyError(name string, err error) error {
	if respErr, ok := err.(*api.ResponseError); ok {
		switch {
		case respErr.StatusCode == 401 || respErr.StatusCode == 403:
			return &backend.AuthBackendError{Backend: name, Err: err}
		case respErr.StatusCode >= 500:
			return &backend.TransientBackendError{Backend: name, Err: err}
		case respErr.StatusCode >= 400:
			return &backend.PermanentBackendError{Backend: name, Err: err}
		}
	}
	return &backend.TransientBackendError{Backend: name, Err: err}
}
