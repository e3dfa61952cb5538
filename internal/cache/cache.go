// Package cache implements the certificate catalog: a concurrent map of
// certificate fingerprint to record, merged and replaced per backend.
package cache

import (
	"sync"
	"time"

	"github.com/doomsday-project/doomsday/internal/backend"
	"github.com/doomsday-project/doomsday/internal/certutil"
)

// Record is a snapshot of one cataloged certificate, safe to hand to a
// reader without further locking.
type Record struct {
	Fingerprint certutil.Fingerprint
	Subject     string
	NotAfter    time.Time
	Paths       []backend.PathRef
}

// ObservedCert is what a populator accumulates for one backend's drain: the
// identity and expiry of a certificate plus every path, local to that
// backend, under which it was seen.
type ObservedCert struct {
	Subject  string
	NotAfter time.Time
	Paths    map[string]struct{}
}

// BackendStats is the last refresh outcome recorded for one backend.
type BackendStats struct {
	NumCerts  int
	NumPaths  int
	Duration  time.Duration
	LastError error
}

type entry struct {
	subject  string
	notAfter time.Time
	paths    map[backend.PathRef]struct{}
}

// Cache is the process-wide certificate catalog. The zero value is not
// usable; construct with New.
type Cache struct {
	mu      sync.RWMutex
	records map[certutil.Fingerprint]*entry

	statsMu sync.RWMutex
	stats   map[string]BackendStats
}

func New() *Cache {
	return &Cache{
		records: make(map[certutil.Fingerprint]*entry),
		stats:   make(map[string]BackendStats),
	}
}

// MergePath inserts a record if absent, otherwise adds path to its known
// locations. subject and notAfter are taken from the incoming tuple only on
// first insertion: the DER is identical for a given fingerprint by
// definition, so later observations must not mutate them.
func (c *Cache) MergePath(fp certutil.Fingerprint, subject string, notAfter time.Time, path backend.PathRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mergePathLocked(fp, subject, notAfter, path)
}

func (c *Cache) mergePathLocked(fp certutil.Fingerprint, subject string, notAfter time.Time, path backend.PathRef) {
	e, ok := c.records[fp]
	if !ok {
		e = &entry{
			subject:  subject,
			notAfter: notAfter,
			paths:    make(map[backend.PathRef]struct{}),
		}
		c.records[fp] = e
	}
	e.paths[path] = struct{}{}
}

// ReplaceBackend atomically reconciles one backend's contribution to the
// cache with what it just observed. Paths tagged with backendName that
// were not part of observed are dropped; observed paths not already
// present are added; records left with zero paths are removed.
//
// This holds a single write lock for the whole operation. The cache
// performs no I/O, so a global lock never suspends arbitrarily and the
// per-record atomicity required by readers falls out for free — sharding
// would only add complexity for a map this cheap to touch.
func (c *Cache) ReplaceBackend(backendName string, observed map[certutil.Fingerprint]ObservedCert) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for fp, e := range c.records {
		obs, stillObserved := observed[fp]
		for p := range e.paths {
			if p.Backend != backendName {
				continue
			}
			if stillObserved {
				if _, kept := obs.Paths[p.Path]; kept {
					continue
				}
			}
			delete(e.paths, p)
		}
	}

	for fp, obs := range observed {
		for path := range obs.Paths {
			c.mergePathLocked(fp, obs.Subject, obs.NotAfter, backend.PathRef{Backend: backendName, Path: path})
		}
	}

	for fp, e := range c.records {
		if len(e.paths) == 0 {
			delete(c.records, fp)
		}
	}
}

// FilterKind selects which records List returns.
type FilterKind int

const (
	All FilterKind = iota
	Within
	Beyond
	ByFingerprint
)

// Filter selects records either by time-to-expiry or by exact fingerprint.
// Within(d) keeps records whose not_after is at most d away (including
// already-expired); Beyond(d) keeps everything else. List(Within(d)) and
// List(Beyond(d)) partition List(All).
type Filter struct {
	Kind FilterKind
	D    time.Duration
	FP   certutil.Fingerprint
}

func FilterAll() Filter                                { return Filter{Kind: All} }
func FilterWithin(d time.Duration) Filter              { return Filter{Kind: Within, D: d} }
func FilterBeyond(d time.Duration) Filter              { return Filter{Kind: Beyond, D: d} }
func FilterFingerprint(fp certutil.Fingerprint) Filter { return Filter{Kind: ByFingerprint, FP: fp} }

func (f Filter) matches(fp certutil.Fingerprint, notAfter, now time.Time) bool {
	switch f.Kind {
	case Within:
		return notAfter.Sub(now) <= f.D
	case Beyond:
		return notAfter.Sub(now) > f.D
	case ByFingerprint:
		return fp == f.FP
	default:
		return true
	}
}

// List returns a snapshot of every record matching filter, evaluated
// against the current time.
func (c *Cache) List(filter Filter) []Record {
	return c.listAt(filter, time.Now())
}

func (c *Cache) listAt(filter Filter, now time.Time) []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	records := make([]Record, 0, len(c.records))
	for fp, e := range c.records {
		if !filter.matches(fp, e.notAfter, now) {
			continue
		}
		paths := make([]backend.PathRef, 0, len(e.paths))
		for p := range e.paths {
			paths = append(paths, p)
		}
		records = append(records, Record{
			Fingerprint: fp,
			Subject:     e.subject,
			NotAfter:    e.notAfter,
			Paths:       paths,
		})
	}
	return records
}

// SetBackendStats overwrites the last-run stats recorded for one backend.
func (c *Cache) SetBackendStats(backendName string, stats BackendStats) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.stats[backendName] = stats
}

// GetBackendStats returns the last BackendStats (and error, if any) seen
// per backend.
func (c *Cache) GetBackendStats() map[string]BackendStats {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()

	out := make(map[string]BackendStats, len(c.stats))
	for k, v := range c.stats {
		out[k] = v
	}
	return out
}
