// Package opsmgr implements the opsmgr backend kind: enumeration of
// deployed-product credential references from Ops Manager, authenticated
// via an OAuth2 resource-owner password grant.
package opsmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/mapstructure"
	"golang.org/x/oauth2"

	"github.com/doomsday-project/doomsday/internal/backend"
)

// Config is the kind-specific shape of BackendSpec.Properties for an
// opsmgr backend.
type Config struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Adapter lists certificate credentials referenced by Ops Manager's
// deployed products.
type Adapter struct {
	logger hclog.Logger
	name   string
	cfg    Config
	http   *http.Client
}

func New(logger hclog.Logger, name string, properties map[string]interface{}) (backend.Adapter, error) {
	var cfg Config
	if err := mapstructure.Decode(properties, &cfg); err != nil {
		return nil, &backend.PermanentBackendError{Backend: name, Err: fmt.Errorf("decoding opsmgr properties: %w", err)}
	}
	if cfg.URL == "" {
		return nil, &backend.PermanentBackendError{Backend: name, Err: fmt.Errorf("opsmgr backend requires url")}
	}

	oauthCfg := &oauth2.Config{
		ClientID: "opsman",
		Endpoint: oauth2.Endpoint{
			TokenURL: strings.TrimRight(cfg.URL, "/") + "/uaa/oauth/token",
		},
	}

	return &Adapter{
		logger: logger,
		name:   name,
		cfg:    cfg,
		http:   newPasswordGrantClient(context.Background(), oauthCfg, cfg.Username, cfg.Password),
	}, nil
}

func newPasswordGrantClient(ctx context.Context, cfg *oauth2.Config, username, password string) *http.Client {
	src := &passwordTokenSource{ctx: ctx, cfg: cfg, username: username, password: password}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(nil, src))
}

type passwordTokenSource struct {
	ctx                context.Context
	cfg                *oauth2.Config
	username, password string
}

func (p *passwordTokenSource) Token() (*oauth2.Token, error) {
	return p.cfg.PasswordCredentialsToken(p.ctx, p.username, p.password)
}

type deployedProduct struct {
	GUID string `json:"guid"`
	Type string `json:"type"`
}

type credentialReferences struct {
	Credentials []string `json:"credentials"`
}

type credentialValue struct {
	Credential struct {
		Value struct {
			Certificate string `json:"certificate"`
		} `json:"value"`
	} `json:"credential"`
}

func (a *Adapter) List(ctx context.Context) (<-chan backend.PEMItem, <-chan error) {
	items := make(chan backend.PEMItem)
	errc := make(chan error, 1)

	go func() {
		defer close(items)
		errc <- a.drain(ctx, items)
		close(errc)
	}()

	return items, errc
}

func (a *Adapter) drain(ctx context.Context, items chan<- backend.PEMItem) error {
	var products []deployedProduct
	err := backend.Retry(ctx, func() error {
		return a.getJSON(ctx, "/api/v0/deployed/products", &products)
	})
	if err != nil {
		return err
	}

	for _, product := range products {
		var refs credentialReferences
		err := backend.Retry(ctx, func() error {
			return a.getJSON(ctx, fmt.Sprintf("/api/v0/deployed/products/%s/credentials", product.GUID), &refs)
		})
		if err != nil {
			return err
		}

		for _, name := range refs.Credentials {
			var value credentialValue
			err := backend.Retry(ctx, func() error {
				return a.getJSON(ctx, fmt.Sprintf("/api/v0/deployed/products/%s/credentials/%s", product.GUID, name), &value)
			})
			if err != nil {
				return err
			}
			if value.Credential.Value.Certificate == "" {
				continue
			}
			ref := backend.PathRef{Backend: a.name, Path: fmt.Sprintf("%s/%s", product.GUID, name)}
			select {
			case items <- backend.PEMItem{Path: ref, PEM: []byte(value.Credential.Value.Certificate)}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

func (a *Adapter) getJSON(ctx context.Context, path string, out interface{}) error {
	url := strings.TrimRight(a.cfg.URL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &backend.PermanentBackendError{Backend: a.name, Err: err}
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return &backend.TransientBackendError{Backend: a.name, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &backend.AuthBackendError{Backend: a.name, Err: fmt.Errorf("opsmgr: %s", resp.Status)}
	case resp.StatusCode >= 500:
		return &backend.TransientBackendError{Backend: a.name, Err: fmt.Errorf("opsmgr: %s", resp.Status)}
	case resp.StatusCode >= 400:
		return &backend.PermanentBackendError{Backend: a.name, Err: fmt.Errorf("opsmgr: %s", resp.Status)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &backend.TransientBackendError{Backend: a.name, Err: err}
	}
	return nil
}
