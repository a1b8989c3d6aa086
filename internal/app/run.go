package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"toolplane/internal/config"
	"toolplane/internal/events"
	"toolplane/pkg/logging"
)

const subsystem = "App"

// shutdownGrace bounds how long in-flight HTTP requests may drain.
const shutdownGrace = 15 * time.Second

// Run starts every subsystem and blocks until SIGINT/SIGTERM or a fatal
// listener error. Startup order: adopt still-running providers, start
// auto-start services, discover tools, then open the API to traffic.
func (a *Application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Adopt providers left running by a previous incarnation before
	// starting anything, so autoStart does not double-start them.
	a.machine.Resync(ctx)

	go a.catalog.Run(ctx)

	if err := a.autoStart(ctx, a.manager.Current()); err != nil {
		logging.Error(subsystem, err, "Some auto-start services failed")
	}
	a.catalog.Sync(ctx)

	go a.monitor.Run(ctx)

	watcher, err := config.NewWatcher(a.manager, func(snap *config.Snapshot) {
		a.onConfigReload(ctx, snap)
	})
	if err != nil {
		logging.Warn(subsystem, "Config hot reload disabled: %v", err)
	} else {
		go watcher.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info(subsystem, "Received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			logging.Error(subsystem, err, "Control API failed")
			cancel()
			a.lister.Close()
			return err
		}
	case <-ctx.Done():
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		logging.Warn(subsystem, "API shutdown did not drain cleanly: %v", err)
	}
	a.lister.Close()
	logging.Info(subsystem, "Shutdown complete")
	return nil
}

// autoStart brings up every service marked autoStart, concurrently. Start is
// idempotent on running services, so re-running after a reload only touches
// the newly added ones. One failing service does not abort the others;
// errors are collected.
func (a *Application) autoStart(ctx context.Context, snap *config.Snapshot) error {
	var g errgroup.Group
	for _, def := range snap.Services() {
		if !def.AutoStart {
			continue
		}
		name := def.Name
		g.Go(func() error {
			if err := a.machine.Start(ctx, name); err != nil {
				logging.Error(subsystem, err, "Auto-start of %s failed", name)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// onConfigReload propagates a successful hot reload to the service table and
// the tool catalog. Removed services must stop serving their tools, and
// services added with autoStart come up and get catalogued right away.
func (a *Application) onConfigReload(ctx context.Context, snap *config.Snapshot) {
	a.machine.ApplyConfig(snap)
	if err := a.autoStart(ctx, snap); err != nil {
		logging.Error(subsystem, err, "Auto-start after config reload failed for some services")
	}
	a.catalog.Sync(ctx)
	a.recorder.Record(events.ReasonConfigReloaded, "", "", "configuration reloaded")
}
