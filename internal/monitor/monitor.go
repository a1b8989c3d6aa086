// Package monitor implements the idle monitor that puts inactive providers
// to sleep. It is the only component that calls Sleep on its own initiative;
// everything else sleeps services on operator request.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"toolplane/internal/config"
	"toolplane/internal/lifecycle"
	"toolplane/pkg/logging"
)

const subsystem = "IdleMonitor"

// Monitor periodically scans running services and sleeps the ones that have
// been idle past their policy's idleTimeoutSec.
type Monitor struct {
	machine           *lifecycle.Machine
	interval          time.Duration
	callTimeout       time.Duration
	sleepHighPriority bool

	wg sync.WaitGroup
}

// New creates an idle monitor from the monitor configuration.
func New(machine *lifecycle.Machine, cfg config.MonitorConfig) *Monitor {
	return &Monitor{
		machine:           machine,
		interval:          time.Duration(cfg.IntervalSec) * time.Second,
		callTimeout:       time.Duration(cfg.CallTimeoutSec) * time.Second,
		sleepHighPriority: cfg.SleepHighPriority,
	}
}

// Run ticks until the context is cancelled, then waits for in-flight sleep
// calls to finish.
func (m *Monitor) Run(ctx context.Context) {
	logging.Info(subsystem, "Started (interval %s)", m.interval)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.wg.Wait()
			logging.Info(subsystem, "Stopped")
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick considers every running service once. Sleep calls are fired per
// service with their own bounded timeout and never block the tick: a slow
// runtime on one service must not delay consideration of the others.
func (m *Monitor) Tick(ctx context.Context) {
	now := time.Now()

	for _, view := range m.machine.List() {
		if view.Status != lifecycle.StatusRunning || !view.SleepPolicy.Enabled {
			continue
		}
		if view.SleepPolicy.Priority == config.PriorityHigh && !m.sleepHighPriority {
			// High-priority services are treated as always-on.
			continue
		}

		idleSince := view.LastActivityAt
		if idleSince.IsZero() {
			idleSince = view.LastTransitionAt
		}
		idleFor := now.Sub(idleSince)
		idleTimeout := time.Duration(view.SleepPolicy.IdleTimeoutSec) * time.Second
		if idleFor < idleTimeout {
			continue
		}

		name := view.Name
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()

			callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.callTimeout)
			defer cancel()

			err := m.machine.Sleep(callCtx, name)
			switch {
			case err == nil:
				logging.Info(subsystem, "Slept idle service %s (idle for %s)", name, idleFor.Round(time.Second))
			case errors.Is(err, lifecycle.ErrTooSoon):
				logging.Debug(subsystem, "Service %s not quiet long enough, skipping", name)
			case lifecycle.IsIllegalTransition(err):
				// The service moved on between the scan and the call.
				logging.Debug(subsystem, "Service %s changed state before sleep: %v", name, err)
			default:
				logging.Warn(subsystem, "Failed to sleep idle service %s: %v", name, err)
			}
		}()
	}
}

// wait blocks until all in-flight sleep calls complete. Used by tests.
func (m *Monitor) wait() {
	m.wg.Wait()
}
