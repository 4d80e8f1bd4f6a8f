// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/streamrelay/internal/config"
)

// Worker is a long-running loop that stops when ctx ends.
type Worker struct {
	Name string
	Run  func(ctx context.Context) error
}

// App owns the long-lived runtime lifecycle (watchers, reload wiring, workers)
// and delegates server management to Manager.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	cfgHolder    *config.Holder
	workers      []Worker
	onReload     func(config.AppConfig)
	reloadSignal os.Signal
}

// NewApp creates a new App orchestrator. cfgHolder and onReload may be nil.
func NewApp(logger zerolog.Logger, manager Manager, cfgHolder *config.Holder, onReload func(config.AppConfig), workers ...Worker) *App {
	return &App{
		logger:       logger,
		manager:      manager,
		cfgHolder:    cfgHolder,
		workers:      workers,
		onReload:     onReload,
		reloadSignal: syscall.SIGHUP,
	}
}

// Run starts all owned background subsystems and blocks until ctx is cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.cfgHolder != nil {
		g.Go(func() error {
			if err := a.cfgHolder.Watch(ctx); err != nil {
				a.logger.Warn().Err(err).Str("event", "config.watcher_start_failed").Msg("config watcher stopped")
			}
			return nil
		})

		if a.onReload != nil {
			applyCh := make(chan config.AppConfig, 1)
			a.cfgHolder.RegisterListener(applyCh)
			g.Go(func() error {
				for {
					select {
					case <-ctx.Done():
						return nil
					case cfg := <-applyCh:
						a.onReload(cfg)
					}
				}
			})
		}

		if a.reloadSignal != nil {
			g.Go(func() error {
				hupChan := make(chan os.Signal, 1)
				signal.Notify(hupChan, a.reloadSignal)
				defer signal.Stop(hupChan)

				for {
					select {
					case <-ctx.Done():
						return nil
					case <-hupChan:
						a.logger.Info().
							Str("event", "config.reload_signal").
							Str("signal", a.reloadSignal.String()).
							Msg("received reload signal, reloading config")
						if err := a.cfgHolder.Reload(ctx); err != nil {
							a.logger.Warn().Err(err).Str("event", "config.reload_failed").Msg("config reload failed")
						}
					}
				}
			})
		}
	}

	for _, w := range a.workers {
		g.Go(func() error {
			a.logger.Debug().Str("worker", w.Name).Msg("worker started")
			if err := w.Run(ctx); err != nil {
				return fmt.Errorf("%s: %w", w.Name, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return a.manager.Start(ctx)
	})

	return g.Wait()
}
