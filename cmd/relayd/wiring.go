// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/ManuGH/streamrelay/internal/api"
	"github.com/ManuGH/streamrelay/internal/cache"
	"github.com/ManuGH/streamrelay/internal/config"
	"github.com/ManuGH/streamrelay/internal/daemon"
	"github.com/ManuGH/streamrelay/internal/domain/stream/model"
	"github.com/ManuGH/streamrelay/internal/domain/stream/ports"
	"github.com/ManuGH/streamrelay/internal/domain/stream/reconciler"
	"github.com/ManuGH/streamrelay/internal/domain/stream/scheduler"
	"github.com/ManuGH/streamrelay/internal/domain/stream/store"
	"github.com/ManuGH/streamrelay/internal/domain/stream/supervisor"
	"github.com/ManuGH/streamrelay/internal/domain/stream/tracker"
	"github.com/ManuGH/streamrelay/internal/health"
	"github.com/ManuGH/streamrelay/internal/infra/ffmpeg"
	xglog "github.com/ManuGH/streamrelay/internal/log"
	"github.com/ManuGH/streamrelay/internal/notify"
	"github.com/ManuGH/streamrelay/internal/persistence/sqlite"
	"github.com/ManuGH/streamrelay/internal/ratelimit"
)

const tracingService = "streamrelay"

// relay is the fully wired process: every component plus the handler and
// workers the daemon runs.
type relay struct {
	store      *store.SqliteStore
	cache      cache.Durations
	redis      *cache.RedisCache
	dispatcher *notify.Dispatcher
	supervisor *supervisor.Supervisor
	scheduler  *scheduler.Scheduler
	reconciler *reconciler.Reconciler
	health     *health.Manager
	handler    http.Handler
}

func buildRelay(ctx context.Context, cfg config.AppConfig, clock ports.Clock) (r *relay, err error) {
	logger := xglog.WithComponent("wiring")
	r = &relay{}
	defer func() {
		if err != nil {
			r.closeResources()
		}
	}()

	r.store, err = store.NewSqliteStore(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	r.store.Now = clock.Now
	problems, err := sqlite.VerifyIntegrity(ctx, r.store.DB, "quick")
	if err != nil {
		return nil, fmt.Errorf("verify database: %w", err)
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("database %s is corrupt: %s", cfg.DatabasePath, strings.Join(problems, "; "))
	}

	if err := resetLiveStreams(ctx, r.store); err != nil {
		return nil, err
	}

	r.cache = cache.NewMemoryCache(time.Minute)
	if cfg.Redis.Enabled() {
		rc, rerr := cache.NewRedisCache(cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, xglog.WithComponent("cache"))
		if rerr != nil {
			logger.Warn().Err(rerr).Str("addr", cfg.Redis.Addr).Msg("redis unavailable, using in-process cache and log-only notifications")
		} else {
			r.cache.(*cache.MemoryCache).Stop()
			r.cache = rc
			r.redis = rc
		}
	}

	sinks := []notify.Sink{notify.NewLogSink()}
	var redisClient *redis.Client
	if r.redis != nil {
		redisClient = r.redis.Client()
		sinks = append(sinks, notify.NewRedisSink(redisClient, notify.DefaultRedisPrefix, cfg.Notify.RecentEventsPerKey))
	}
	r.dispatcher = notify.NewDispatcher(notify.Config{QueueSize: cfg.Notify.QueueSize}, ratelimit.New(notifyLimits(cfg.Notify)), sinks...)

	r.supervisor = supervisor.New(supervisor.Config{
		FFmpegBin:               cfg.FFmpegBin,
		MediaRoot:               cfg.MediaRoot,
		MaxRetryAttempts:        cfg.Supervisor.MaxRetryAttempts,
		CrashRuntimeCeiling:     cfg.Supervisor.CrashRuntimeCeiling,
		TransientRuntimeCeiling: cfg.Supervisor.TransientRuntimeCeiling,
		CrashBackoff:            cfg.Supervisor.CrashBackoff,
		TransientBackoff:        cfg.Supervisor.TransientBackoff,
		RetryResetAfter:         cfg.Supervisor.RetryResetAfter,
		StopTimeout:             cfg.Supervisor.StopTimeout,
		KillTimeout:             cfg.Supervisor.KillTimeout,
	}, supervisor.Deps{
		Streams:  r.store,
		Videos:   r.store,
		History:  r.store,
		Notifier: r.dispatcher,
		Spawner:  ffmpeg.NewSpawner(cfg.FFmpegBin),
		Prober:   ffmpeg.NewProber(cfg.FFprobeBin, r.cache, cfg.ProbeCacheTTL),
		Clock:    clock,
		Tracker:  tracker.New(clock, cfg.Supervisor.StaleRuntimeAfter),
	})

	r.scheduler = scheduler.New(scheduler.Config{
		PollInterval:  cfg.Scheduler.PollInterval,
		Lookahead:     cfg.Scheduler.Lookahead,
		CatchUpWindow: cfg.Scheduler.CatchUpWindow,
	}, r.store, clock)
	r.scheduler.Init(r.supervisor)

	r.reconciler = reconciler.New(reconciler.Config{
		Interval:       cfg.Reconciler.Interval,
		ZombieInterval: cfg.Reconciler.ZombieInterval,
		GraceWindow:    cfg.Reconciler.GraceWindow,
	}, r.store, r.supervisor, r.scheduler, clock)

	r.health = health.NewManager(cfg.Version)
	r.health.RegisterChecker(health.NewPingChecker("database", true, r.store.DB.PingContext))
	r.health.RegisterChecker(health.NewDirChecker("media_root", cfg.MediaRoot))
	r.health.RegisterChecker(health.NewLastRunChecker("reconciler", 2*cfg.Reconciler.Interval, r.reconciler.LastRun))
	if r.redis != nil {
		r.health.RegisterChecker(health.NewPingChecker("redis", false, r.redis.HealthCheck))
	}

	apiCfg := api.Config{
		Token:             cfg.API.Token,
		RequestsPerMinute: cfg.API.RequestsPerMinute,
	}
	if cfg.Telemetry.Enabled {
		apiCfg.TracingService = tracingService
	}
	if cfg.API.Token == "" {
		logger.Warn().Str("addr", cfg.API.ListenAddr).Msg("api.token is empty, control API is unauthenticated")
	}
	r.handler = api.New(apiCfg, api.Deps{
		Supervisor:   r.supervisor,
		Terminations: r.scheduler,
		Syncer:       r.reconciler,
		Probes:       r.health,
	}).Handler()

	return r, nil
}

// notifyLimits maps the per-owner budget onto the token bucket limiter.
func notifyLimits(cfg config.NotifyConfig) ratelimit.Config {
	limits := ratelimit.DefaultConfig()
	limits.PerKeyRate = rate.Inf
	if cfg.PerOwnerPerMinute > 0 {
		limits.PerKeyRate = rate.Every(time.Minute / time.Duration(cfg.PerOwnerPerMinute))
	}
	if cfg.PerOwnerBurst > 0 {
		limits.PerKeyBurst = cfg.PerOwnerBurst
	}
	return limits
}

// resetLiveStreams marks every persisted live stream offline. Encoders never
// survive a daemon restart, so a live row at boot is always stale.
func resetLiveStreams(ctx context.Context, st ports.StreamRepository) error {
	live, err := st.FindAllByStatus(ctx, model.StatusLive)
	if err != nil {
		return fmt.Errorf("load live streams: %w", err)
	}
	logger := xglog.WithComponent("wiring")
	var errs []error
	for _, s := range live {
		if err := st.UpdateStatus(ctx, s.ID, model.StatusOffline, s.OwnerID); err != nil {
			errs = append(errs, fmt.Errorf("reset %s: %w", s.ID, err))
			continue
		}
		logger.Info().
			Str(xglog.FieldStreamID, s.ID).
			Str(xglog.FieldEvent, "startup.reset_live").
			Msg("stream was live at startup, marked offline")
	}
	return errors.Join(errs...)
}

// workers are the background loops the daemon runs next to the API server.
func (r *relay) workers() []daemon.Worker {
	return []daemon.Worker{
		{Name: "scheduler", Run: r.scheduler.Run},
		{Name: "reconciler", Run: r.reconciler.Run},
	}
}

// registerShutdown orders teardown. Hooks run last-registered first:
// encoders stop while their exits can still be persisted and notified, then
// the notification queue drains, then tracing flushes and storage closes.
func (r *relay) registerShutdown(m daemon.Manager, tracing daemon.ShutdownHook) {
	m.RegisterShutdownHook("store", func(context.Context) error { return r.store.Close() })
	m.RegisterShutdownHook("cache", func(context.Context) error { r.closeCache(); return nil })
	if tracing != nil {
		m.RegisterShutdownHook("tracing", tracing)
	}
	m.RegisterShutdownHook("notify", r.dispatcher.Close)
	m.RegisterShutdownHook("supervisor", r.supervisor.Close)
}

func (r *relay) closeCache() {
	switch c := r.cache.(type) {
	case *cache.MemoryCache:
		c.Stop()
	case *cache.RedisCache:
		_ = c.Close()
	}
}

// closeResources releases whatever a failed buildRelay had opened.
func (r *relay) closeResources() {
	if r.dispatcher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = r.dispatcher.Close(ctx)
		cancel()
	}
	r.closeCache()
	if r.store != nil {
		_ = r.store.Close()
	}
}
