// Package populate implements the populator (C4): drives one backend
// adapter to completion and writes the result to the cache atomically.
package populate

import (
	"context"
	"errors"
	"fmt"
	"time"

	gometrics "github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"

	"github.com/doomsday-project/doomsday/internal/backend"
	"github.com/doomsday-project/doomsday/internal/cache"
	"github.com/doomsday-project/doomsday/internal/certutil"
	"github.com/doomsday-project/doomsday/internal/metrics"
)

// Factory builds an Adapter for one backend kind from its raw properties.
type Factory func(logger hclog.Logger, name string, properties map[string]interface{}) (backend.Adapter, error)

// Populator drives backend adapters to completion and reconciles their
// output into a Cache.
type Populator struct {
	logger   hclog.Logger
	cache    *cache.Cache
	specs    map[string]backend.Spec
	factories map[backend.Kind]Factory
}

func New(logger hclog.Logger, c *cache.Cache, specs []backend.Spec, factories map[backend.Kind]Factory) *Populator {
	byName := make(map[string]backend.Spec, len(specs))
	for _, s := range specs {
		byName[s.Name] = s
	}
	return &Populator{
		logger:    logger,
		cache:     c,
		specs:     byName,
		factories: factories,
	}
}

// Refresh runs the full drain-decode-replace cycle for one named backend.
func (p *Populator) Refresh(ctx context.Context, backendName string) (cache.BackendStats, error) {
	start := time.Now()

	spec, ok := p.specs[backendName]
	if !ok {
		err := &backend.PermanentBackendError{Backend: backendName, Err: fmt.Errorf("unknown backend %q", backendName)}
		p.recordFailure(backendName, start, err)
		return cache.BackendStats{}, err
	}

	factory, ok := p.factories[spec.Kind]
	if !ok {
		err := &backend.PermanentBackendError{Backend: backendName, Err: fmt.Errorf("unknown backend kind %q", spec.Kind)}
		p.recordFailure(backendName, start, err)
		return cache.BackendStats{}, err
	}

	adapter, err := factory(p.logger.Named(backendName), backendName, spec.Properties)
	if err != nil {
		p.recordFailure(backendName, start, err)
		return cache.BackendStats{}, err
	}

	observed, err := p.drain(ctx, backendName, adapter)
	if err != nil {
		p.recordFailure(backendName, start, err)
		return cache.BackendStats{}, err
	}

	p.cache.ReplaceBackend(backendName, observed)

	numPaths := 0
	for _, o := range observed {
		numPaths += len(o.Paths)
	}
	stats := cache.BackendStats{
		NumCerts: len(observed),
		NumPaths: numPaths,
		Duration: time.Since(start),
	}
	p.cache.SetBackendStats(backendName, stats)

	backendLabel := []gometrics.Label{{Name: "backend", Value: backendName}}
	metrics.Registry.IncrCounterWithLabels(metrics.BackendRefreshes, 1, backendLabel)

	all := p.cache.List(cache.FilterAll())
	totalPaths := 0
	for _, r := range all {
		totalPaths += len(r.Paths)
	}
	metrics.Registry.SetGauge(metrics.CachedCertificates, float32(len(all)))
	metrics.Registry.SetGauge(metrics.CachedPaths, float32(totalPaths))

	return stats, nil
}

func (p *Populator) drain(ctx context.Context, backendName string, adapter backend.Adapter) (map[certutil.Fingerprint]cache.ObservedCert, error) {
	items, errc := adapter.List(ctx)
	observed := make(map[certutil.Fingerprint]cache.ObservedCert)
	backendLabel := []gometrics.Label{{Name: "backend", Value: backendName}}

	for item := range items {
		certs, skipped := certutil.Decode(item.PEM)
		if skipped > 0 {
			p.logger.Debug("skipped undecodable PEM block", "backend", item.Path.Backend, "path", item.Path.Path, "skipped", skipped)
			metrics.Registry.IncrCounterWithLabels(metrics.DecodeSkipped, float32(skipped), backendLabel)
		}
		for _, c := range certs {
			o, ok := observed[c.Fingerprint]
			if !ok {
				o = cache.ObservedCert{
					Subject:  c.Subject,
					NotAfter: c.NotAfter,
					Paths:    make(map[string]struct{}),
				}
			}
			o.Paths[item.Path.Path] = struct{}{}
			observed[c.Fingerprint] = o
		}
	}

	if err := <-errc; err != nil {
		return nil, err
	}
	return observed, nil
}

func (p *Populator) recordFailure(backendName string, start time.Time, err error) {
	p.cache.SetBackendStats(backendName, cache.BackendStats{
		Duration:  time.Since(start),
		LastError: err,
	})
	metrics.Registry.IncrCounterWithLabels(metrics.BackendRefreshErrors, 1, []gometrics.Label{
		{Name: "backend", Value: backendName},
		{Name: "kind", Value: errorKind(err)},
	})
}

func errorKind(err error) string {
	switch {
	case errors.As(err, new(*backend.AuthBackendError)):
		return "auth"
	case errors.As(err, new(*backend.PermanentBackendError)):
		return "permanent"
	case errors.As(err, new(*backend.TransientBackendError)):
		return "transient"
	default:
		return "unknown"
	}
}
