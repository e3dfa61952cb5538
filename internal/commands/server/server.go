// Package server wires the catalog engine to the HTTP API and runs them
// as a supervised group of goroutines until shutdown: a
// signal.NotifyContext root, an errgroup.Group fanning out one goroutine
// per long-running component, and a single group.Wait() deciding the
// process exit code.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hashicorp/go-hclog"

	v1 "github.com/doomsday-project/doomsday/internal/api/v1"
	"github.com/doomsday-project/doomsday/internal/backend"
	"github.com/doomsday-project/doomsday/internal/backend/credhub"
	"github.com/doomsday-project/doomsday/internal/backend/opsmgr"
	"github.com/doomsday-project/doomsday/internal/backend/tlsclient"
	"github.com/doomsday-project/doomsday/internal/backend/vault"
	"github.com/doomsday-project/doomsday/internal/cache"
	"github.com/doomsday-project/doomsday/internal/config"
	"github.com/doomsday-project/doomsday/internal/metrics"
	"github.com/doomsday-project/doomsday/internal/notify"
	"github.com/doomsday-project/doomsday/internal/populate"
	"github.com/doomsday-project/doomsday/internal/scheduler"
	"github.com/doomsday-project/doomsday/internal/version"
)

// ServerConfig controls one run of the doomsdayd server command.
type ServerConfig struct {
	Context    context.Context
	Logger     hclog.Logger
	ConfigFile string

	// for testing only
	isTest bool
}

// adapterFactories is the closed set of backend kinds: new kinds are
// additions here, never an open registry.
var adapterFactories = map[backend.Kind]populate.Factory{
	backend.KindVault:     vault.New,
	backend.KindCredhub:   credhub.New,
	backend.KindOpsmgr:    opsmgr.New,
	backend.KindTLSClient: tlsclient.New,
}

// RunServer loads configuration, builds the catalog engine and HTTP
// surface, and runs them until the context is cancelled (SIGINT/SIGTERM in
// production, or test-controlled cancellation). It returns a process exit
// code.
func RunServer(cfg ServerConfig) int {
	doc, err := config.Load(cfg.ConfigFile)
	if err != nil {
		cfg.Logger.Error("error loading configuration", "error", err)
		return 1
	}

	ctx := cfg.Context
	if !cfg.isTest {
		var cancel context.CancelFunc
		ctx, cancel = signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer cancel()
	}
	group, groupCtx := errgroup.WithContext(ctx)

	catalog := cache.New()

	populator := populate.New(cfg.Logger.Named("populator"), catalog, doc.Backends, adapterFactories)

	dispatcher, err := buildDispatcher(cfg.Logger.Named("notify"), catalog, doc.Notifications, doc.Server.Port)
	if err != nil {
		cfg.Logger.Error("error building notification dispatcher", "error", err)
		return 1
	}

	schedCfg, err := buildSchedulerConfig(doc.Notifications)
	if err != nil {
		cfg.Logger.Error("error building scheduler configuration", "error", err)
		return 1
	}

	sched := scheduler.New(cfg.Logger.Named("scheduler"), catalog, doc.Backends, populator, dispatcher, schedCfg)

	sessionTTL, err := parseOptionalDuration(doc.Server.SessionTTL)
	if err != nil {
		cfg.Logger.Error("error parsing server.session_ttl", "error", err)
		return 1
	}

	apiServer := v1.NewServer(v1.Config{
		Logger:     cfg.Logger.Named("api"),
		Cache:      catalog,
		Scheduler:  sched,
		Backends:   doc.Backends,
		Address:    fmt.Sprintf(":%d", doc.Server.Port),
		Version:    version.GetHumanVersion(),
		Workers:    schedCfg.Concurrency,
		AuthMode:   doc.Server.Auth,
		Username:   doc.Server.Username,
		Password:   doc.Server.Password,
		SessionTTL: sessionTTL,
	})

	sched.Start(groupCtx)
	group.Go(func() error {
		<-groupCtx.Done()
		sched.Stop()
		return nil
	})

	group.Go(func() error {
		return apiServer.Run(groupCtx)
	})

	if doc.Server.DebugPort != 0 {
		group.Go(func() error {
			return metrics.RunDebugServer(groupCtx, cfg.Logger.Named("debug"), fmt.Sprintf("127.0.0.1:%d", doc.Server.DebugPort))
		})
	}

	if err := group.Wait(); err != nil {
		cfg.Logger.Error("unexpected error", "error", err)
		return 1
	}

	cfg.Logger.Info("shutting down")
	return 0
}

func buildDispatcher(logger hclog.Logger, c *cache.Cache, n config.NotificationsConfig, apiPort int) (scheduler.Dispatcher, error) {
	var sinks []notify.Sink
	if n.Slack != nil {
		sinks = append(sinks, notify.NewSlackSink(n.Slack.Token, n.Slack.Channel))
	}
	if n.Shout != nil {
		sinks = append(sinks, notify.NewShoutSink(n.Shout.URL, nil))
	}
	if len(sinks) == 0 {
		return nil, nil
	}

	threshold, err := parseOptionalDuration(n.Threshold)
	if err != nil {
		return nil, fmt.Errorf("notifications.threshold: %w", err)
	}

	doomsdayURL := n.DoomsdayURL
	if doomsdayURL == "" && apiPort != 0 {
		doomsdayURL = fmt.Sprintf("http://localhost:%d", apiPort)
	}

	return notify.New(logger, c, sinks, threshold, doomsdayURL), nil
}

func buildSchedulerConfig(n config.NotificationsConfig) (scheduler.Config, error) {
	interval, err := parseOptionalDuration(n.Interval)
	if err != nil {
		return scheduler.Config{}, fmt.Errorf("notifications.interval: %w", err)
	}

	return scheduler.Config{
		Concurrency:    4,
		ShutdownGrace:  30 * time.Second,
		NotifyCron:     n.Cron,
		NotifyInterval: interval,
	}, nil
}

// parseOptionalDuration parses s with the cache package's compact duration
// grammar, returning zero for an empty string. The grammar is reused here
// rather than time.ParseDuration since it is the one unit of "how long"
// the rest of the configuration document already speaks.
func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return cache.ParseDuration(s)
}
