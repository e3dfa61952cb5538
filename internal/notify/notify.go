// Package notify implements the notification dispatcher (C6): it takes a
// snapshot of soon-to-expire certificates and fans it out to one or more
// best-effort sinks.
package notify

import (
	"context"
	"fmt"
	"sort"
	"time"

	gometrics "github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/doomsday-project/doomsday/internal/cache"
	"github.com/doomsday-project/doomsday/internal/metrics"
)

// Message is one expiring-certificate line handed to a Sink.
type Message struct {
	Subject  string
	Backends []string
	NotAfter time.Time
	Link     string
}

// Sink delivers a batch of messages to one destination. Implementations
// must be best-effort: a failed send is reported but does not interrupt
// the batch.
type Sink interface {
	Name() string
	Send(ctx context.Context, messages []Message) error
}

// Dispatcher implements scheduler.Dispatcher (C6).
type Dispatcher struct {
	logger    hclog.Logger
	cache     *cache.Cache
	sinks     []Sink
	threshold time.Duration
	doomsdayURL string
}

func New(logger hclog.Logger, c *cache.Cache, sinks []Sink, threshold time.Duration, doomsdayURL string) *Dispatcher {
	if threshold <= 0 {
		threshold = 30 * 24 * time.Hour
	}
	return &Dispatcher{
		logger:      logger,
		cache:       c,
		sinks:       sinks,
		threshold:   threshold,
		doomsdayURL: doomsdayURL,
	}
}

// Dispatch takes the current within-threshold snapshot, sorts it, and
// sends it to every configured sink. Sink failures are aggregated and
// returned but never prevent other sinks from running.
func (d *Dispatcher) Dispatch(ctx context.Context) error {
	records := d.cache.List(cache.FilterWithin(d.threshold))
	sort.Slice(records, func(i, j int) bool {
		if !records[i].NotAfter.Equal(records[j].NotAfter) {
			return records[i].NotAfter.Before(records[j].NotAfter)
		}
		return records[i].Subject < records[j].Subject
	})

	messages := make([]Message, 0, len(records))
	for _, r := range records {
		backendSet := make(map[string]struct{})
		for _, p := range r.Paths {
			backendSet[p.Backend] = struct{}{}
		}
		backends := make([]string, 0, len(backendSet))
		for b := range backendSet {
			backends = append(backends, b)
		}
		sort.Strings(backends)

		messages = append(messages, Message{
			Subject:  r.Subject,
			Backends: backends,
			NotAfter: r.NotAfter,
			Link:     d.link(r),
		})
	}

	var result *multierror.Error
	for _, sink := range d.sinks {
		label := []gometrics.Label{{Name: "sink", Value: sink.Name()}}
		if err := sink.Send(ctx, messages); err != nil {
			d.logger.Error("notification sink failed", "sink", sink.Name(), "error", err)
			metrics.Registry.IncrCounterWithLabels(metrics.NotificationFailures, 1, label)
			result = multierror.Append(result, fmt.Errorf("%s: %w", sink.Name(), err))
			continue
		}
		metrics.Registry.IncrCounterWithLabels(metrics.NotificationsSent, float32(len(messages)), label)
	}
	return result.ErrorOrNil()
}

func (d *Dispatcher) link(r cache.Record) string {
	if d.doomsdayURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/v1/cache?fingerprint=%x", d.doomsdayURL, r.Fingerprint)
}
