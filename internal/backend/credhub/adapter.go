// Package credhub implements the credhub backend kind: one listing request
// for every credential under "/", then a fetch of each certificate-typed
// credential over CredHub's REST API, authenticated via an OAuth2
// client-credentials grant against UAA. The listing is not paginated.
package credhub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/mapstructure"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/doomsday-project/doomsday/internal/backend"
)

// Config is the kind-specific shape of BackendSpec.Properties for a
// credhub backend.
type Config struct {
	URL          string `mapstructure:"url"`
	UAAURL       string `mapstructure:"uaa_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// Adapter lists certificate credentials from a CredHub server.
type Adapter struct {
	logger hclog.Logger
	name   string
	cfg    Config
	http   *http.Client
}

func New(logger hclog.Logger, name string, properties map[string]interface{}) (backend.Adapter, error) {
	var cfg Config
	if err := mapstructure.Decode(properties, &cfg); err != nil {
		return nil, &backend.PermanentBackendError{Backend: name, Err: fmt.Errorf("decoding credhub properties: %w", err)}
	}
	if cfg.URL == "" || cfg.UAAURL == "" {
		return nil, &backend.PermanentBackendError{Backend: name, Err: fmt.Errorf("credhub backend requires url and uaa_url")}
	}

	oauthCfg := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     strings.TrimRight(cfg.UAAURL, "/") + "/oauth/token",
	}

	return &Adapter{
		logger: logger,
		name:   name,
		cfg:    cfg,
		http:   oauthCfg.Client(context.Background()),
	}, nil
}

type credentialList struct {
	Credentials []credentialSummary `json:"credentials"`
}

type credentialSummary struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type credentialValue struct {
	Data []struct {
		Value struct {
			Certificate string `json:"certificate"`
			CA          string `json:"ca"`
		} `json:"value"`
	} `json:"data"`
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
	var list credentialList
	err := backend.Retry(ctx, func() error {
		return a.getJSON(ctx, "/api/v1/data?path=/", &list)
	})
	if err != nil {
		return err
	}

	for _, c := range list.Credentials {
		if c.Type != "certificate" {
			continue
		}
		var value credentialValue
		err := backend.Retry(ctx, func() error {
			return a.getJSON(ctx, "/api/v1/data?name="+c.Name+"&current=true", &value)
		})
		if err != nil {
			return err
		}
		ref := backend.PathRef{Backend: a.name, Path: c.Name}
		for _, d := range value.Data {
			if d.Value.Certificate != "" {
				select {
				case items <- backend.PEMItem{Path: ref, PEM: []byte(d.Value.Certificate)}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if d.Value.CA != "" {
				select {
				case items <- backend.PEMItem{Path: ref, PEM: []byte(d.Value.CA)}:
				case <-ctx.Done():
					return ctx.Err()
				}
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
		return &backend.AuthBackendError{Backend: a.name, Err: fmt.Errorf("credhub: %s", resp.Status)}
	case resp.StatusCode >= 500:
		return &backend.TransientBackendError{Backend: a.name, Err: fmt.Errorf("credhub: %s", resp.Status)}
	case resp.StatusCode >= 400:
		return &backend.PermanentBackendError{Backend: a.name, Err: fmt.Errorf("credhub: %s", resp.Status)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &backend.TransientBackendError{Backend: a.name, Err: err}
	}
	return nil
}
