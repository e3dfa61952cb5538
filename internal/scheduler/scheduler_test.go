package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/doomsday-project/doomsday/internal/backend"
	"github.com/doomsday-project/doomsday/internal/cache"
	"github.com/doomsday-project/doomsday/internal/populate"
)

type blockingAdapter struct {
	release chan struct{}
	runs    *int32
}

func (b *blockingAdapter) List(ctx context.Context) (<-chan backend.PEMItem, <-chan error) {
	items := make(chan backend.PEMItem)
	errc := make(chan error, 1)
	atomic.AddInt32(b.runs, 1)
	go func() {
		defer close(items)
		select {
		case <-b.release:
			errc <- nil
		case <-ctx.Done():
			errc <- ctx.Err()
		}
		close(errc)
	}()
	return items, errc
}

func newTestScheduler(t *testing.T, names []string, cfg Config) (*Scheduler, *populate.Populator, map[string]*blockingAdapter) {
	t.Helper()
	c := cache.New()
	specs := make([]backend.Spec, 0, len(names))
	adapters := make(map[string]*blockingAdapter, len(names))
	factories := make(map[backend.Kind]populate.Factory)

	for _, name := range names {
		specs = append(specs, backend.Spec{Name: name, Kind: backend.KindVault, RefreshInterval: time.Hour})
		adapters[name] = &blockingAdapter{release: make(chan struct{}), runs: new(int32)}
	}
	factories[backend.KindVault] = func(logger hclog.Logger, name string, properties map[string]interface{}) (backend.Adapter, error) {
		return adapters[name], nil
	}

	p := populate.New(hclog.NewNullLogger(), c, specs, factories)
	s := New(hclog.NewNullLogger(), c, specs, p, nil, cfg)
	return s, p, adapters
}

func TestSubmitCoalescesDuplicateForSameBackend(t *testing.T) {
	s, _, adapters := newTestScheduler(t, []string{"b1"}, Config{Concurrency: 1})
	s.Start(context.Background())
	defer s.Stop()

	// The startup refresh for b1 is already queued/running; submitting
	// again for the same backend must return the same job.
	job2, err := s.Submit(KindRefresh, "b1")
	require.NoError(t, err)

	close(adapters["b1"].release)
	require.NoError(t, job2.Wait(context.Background()))
	require.Equal(t, int32(1), atomic.LoadInt32(adapters["b1"].runs))
}

func TestPerBackendConcurrencyIsOne(t *testing.T) {
	s, _, adapters := newTestScheduler(t, []string{"b1"}, Config{Concurrency: 4})
	s.Start(context.Background())
	defer func() {
		close(adapters["b1"].release)
		s.Stop()
	}()

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(adapters["b1"].runs))
}

func TestConcurrencyBoundAcrossBackends(t *testing.T) {
	names := []string{"b1", "b2", "b3"}
	s, _, adapters := newTestScheduler(t, names, Config{Concurrency: 2})
	s.Start(context.Background())
	defer func() {
		for _, a := range adapters {
			select {
			case <-a.release:
			default:
				close(a.release)
			}
		}
		s.Stop()
	}()

	time.Sleep(50 * time.Millisecond)

	var running int32
	for _, name := range names {
		if atomic.LoadInt32(adapters[name].runs) > 0 {
			running++
		}
	}
	require.LessOrEqual(t, running, int32(2))
}

func TestStatusReflectsState(t *testing.T) {
	s, _, adapters := newTestScheduler(t, []string{"b1"}, Config{Concurrency: 1})
	s.Start(context.Background())
	defer s.Stop()

	close(adapters["b1"].release)
	time.Sleep(50 * time.Millisecond)

	statuses := s.Status()
	var found bool
	for _, st := range statuses {
		if st.Backend == "b1" {
			found = true
			require.Equal(t, StateIdle, st.State)
		}
	}
	require.True(t, found)
}

func TestStopWaitsForRunningJobs(t *testing.T) {
	s, _, adapters := newTestScheduler(t, []string{"b1"}, Config{Concurrency: 1, ShutdownGrace: time.Second})
	s.Start(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		close(adapters["b1"].release)
	}()

	s.Stop()
	wg.Wait()
}
