// Package app runs solbot: it wires the infrastructure named in the config
// and then blocks in the selected mode until the context ends.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/solbot/internal/config"
	"github.com/alanyoungcy/solbot/internal/profiling"
)

// runMode is the body of one operating mode.
type runMode func(a *App, ctx context.Context, deps *Dependencies) error

var modes = map[string]runMode{
	"trade":   (*App).TradeMode,
	"monitor": (*App).MonitorMode,
}

// App owns the configuration and the resources opened by Run.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	closeOnce sync.Once
	cleanup   func()
	stopProf  func()
}

// New creates an App. Nothing is opened until Run.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies and runs the configured mode until ctx is
// cancelled or the mode fails. Resources stay open until Close.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	run, ok := modes[mode]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	a.logger.InfoContext(ctx, "starting",
		slog.String("mode", mode),
		slog.Any("config", config.RedactedConfig(a.cfg)),
	)
	started := time.Now()

	if a.cfg.Profiling.Enabled {
		stop, err := profiling.Start(profiling.Config{
			ServerAddress: a.cfg.Profiling.ServerAddress,
			AppName:       a.cfg.Profiling.AppName,
			AuthToken:     a.cfg.Profiling.AuthToken,
			Tags:          a.cfg.Profiling.Tags,
		}, a.logger)
		if err != nil {
			return err
		}
		a.stopProf = stop
	}

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.cleanup = cleanup

	err = run(a, ctx, deps)
	a.logger.InfoContext(ctx, "mode stopped",
		slog.String("mode", mode),
		slog.Duration("uptime", time.Since(started)),
	)
	return err
}

// Close releases everything Run opened. Only the first call does work.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.cleanup != nil {
			a.cleanup()
		}
		if a.stopProf != nil {
			a.stopProf()
		}
		a.logger.Info("shut down")
	})
}
