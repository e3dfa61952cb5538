// Package tlsclient implements the tlsclient backend kind: dialing a
// fixed set of configured targets and capturing the leaf certificate the
// peer presents during the TLS handshake. Unlike the other kinds, there is
// no secret store to list; each target is itself one path.
package tlsclient

import (
	"context"
	"crypto/tls"
	"encoding/pem"
	"fmt"
	"net"
	"strconv"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/mapstructure"

	"github.com/doomsday-project/doomsday/internal/backend"
)

// Target is one configured TLS endpoint. ServerName overrides the SNI
// value sent during the handshake; it defaults to Host when empty.
type Target struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	ServerName string `mapstructure:"server_name"`
}

func (t Target) addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

func (t Target) sni() string {
	if t.ServerName != "" {
		return t.ServerName
	}
	return t.Host
}

// Config is the kind-specific shape of BackendSpec.Properties for a
// tlsclient backend.
type Config struct {
	Targets            []Target `mapstructure:"targets"`
	InsecureSkipVerify bool     `mapstructure:"insecure_skip_verify"`
}

// Adapter dials every configured target and yields the leaf certificate
// presented in the handshake.
type Adapter struct {
	logger hclog.Logger
	name   string
	cfg    Config
	dialer *net.Dialer
}

func New(logger hclog.Logger, name string, properties map[string]interface{}) (backend.Adapter, error) {
	var cfg Config
	if err := mapstructure.Decode(properties, &cfg); err != nil {
		return nil, &backend.PermanentBackendError{Backend: name, Err: fmt.Errorf("decoding tlsclient properties: %w", err)}
	}
	if len(cfg.Targets) == 0 {
		return nil, &backend.PermanentBackendError{Backend: name, Err: fmt.Errorf("tlsclient backend requires at least one target")}
	}
	for _, t := range cfg.Targets {
		if t.Host == "" || t.Port == 0 {
			return nil, &backend.PermanentBackendError{Backend: name, Err: fmt.Errorf("tlsclient target requires host and port")}
		}
	}

	return &Adapter{
		logger: logger,
		name:   name,
		cfg:    cfg,
		dialer: &net.Dialer{},
	}, nil
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
	for _, target := range a.cfg.Targets {
		var der []byte
		err := backend.Retry(ctx, func() error {
			leaf, dialErr := a.fetchLeaf(ctx, target)
			if dialErr != nil {
				return dialErr
			}
			der = leaf
			return nil
		})
		if err != nil {
			return err
		}

		block := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
		ref := backend.PathRef{Backend: a.name, Path: target.addr()}
		select {
		case items <- backend.PEMItem{Path: ref, PEM: block}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (a *Adapter) fetchLeaf(ctx context.Context, target Target) ([]byte, error) {
	addr := target.addr()

	dialer := &tls.Dialer{
		NetDialer: a.dialer,
		Config: &tls.Config{
			ServerName:         target.sni(),
			InsecureSkipVerify: a.cfg.InsecureSkipVerify,
		},
	}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &backend.TransientBackendError{Backend: a.name, Err: err}
	}
	conn := rawConn.(*tls.Conn)
	defer conn.Close()

	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil, &backend.PermanentBackendError{Backend: a.name, Err: fmt.Errorf("target %q presented no certificates", addr)}
	}
	return state.PeerCertificates[0].Raw, nil
}
