// Package backend defines the contract every certificate source adapter
// implements, along with the error taxonomy a populator uses to decide
// whether a failed refresh is retryable.
//
// Concrete adapters live in the vault, credhub, opsmgr, and tlsclient
// subpackages. This package stays free of any adapter import so those
// subpackages, and the populator that wires them together, can depend on
// it without a cycle.
package backend

import (
	"context"
	"fmt"
	"time"
)

// Kind identifies one of the closed set of backend kinds. New kinds are
// additions to this set, never an open type hierarchy.
type Kind string

const (
	KindVault     Kind = "vault"
	KindCredhub   Kind = "credhub"
	KindOpsmgr    Kind = "opsmgr"
	KindTLSClient Kind = "tlsclient"
)

// Spec is the immutable, load-time description of one configured backend.
type Spec struct {
	Name            string
	Kind            Kind
	RefreshInterval time.Duration
	Properties      map[string]interface{}
}

// PathRef identifies where a certificate was observed. Path is opaque to
// the core; its meaning is defined by Backend's kind.
type PathRef struct {
	Backend string
	Path    string
}

func (p PathRef) String() string {
	return fmt.Sprintf("%s:%s", p.Backend, p.Path)
}

// PEMItem is one raw PEM blob an adapter yields, tagged with the path it
// came from.
type PEMItem struct {
	Path PathRef
	PEM  []byte
}

// Adapter enumerates a single backend. List starts enumeration in a
// background goroutine and returns immediately. The item channel receives
// one PEMItem per path/blob found and is closed when enumeration ends,
// successfully or not. The error channel then receives exactly one value
// (nil on success) and is closed. Callers must drain the item channel
// before reading the error channel.
//
// Adapters must not touch the cache; they only return data.
type Adapter interface {
	List(ctx context.Context) (<-chan PEMItem, <-chan error)
}

// TransientBackendError wraps a transport-level failure (timeout, 5xx,
// connection reset). The populator may retry on the next scheduled tick but
// must not retry synchronously beyond the adapter's own small per-call
// budget.
type TransientBackendError struct {
	Backend string
	Err     error
}

func (e *TransientBackendError) Error() string {
	return fmt.Sprintf("backend %q: transient error: %v", e.Backend, e.Err)
}

func (e *TransientBackendError) Unwrap() error { return e.Err }

// AuthBackendError wraps an authentication/authorization failure (401/403,
// bad or expired token). It is surfaced in stats but does not poison the
// cache.
type AuthBackendError struct {
	Backend string
	Err     error
}

func (e *AuthBackendError) Error() string {
	return fmt.Sprintf("backend %q: auth error: %v", e.Backend, e.Err)
}

func (e *AuthBackendError) Unwrap() error { return e.Err }

// PermanentBackendError wraps a malformed-configuration or non-auth 4xx
// failure. The scheduler parks the backend: no further periodic refresh is
// scheduled for it, though an ad-hoc refresh still runs it.
type PermanentBackendError struct {
	Backend string
	Err     error
}

func (e *PermanentBackendError) Error() string {
	return fmt.Sprintf("backend %q: permanent error: %v", e.Backend, e.Err)
}

func (e *PermanentBackendError) Unwrap() error { return e.Err }
