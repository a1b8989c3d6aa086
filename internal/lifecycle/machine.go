package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"toolplane/internal/config"
	"toolplane/internal/events"
	"toolplane/internal/runtime"
	"toolplane/pkg/logging"

	"golang.org/x/sync/singleflight"
)

const subsystem = "Lifecycle"

// Transition is published to subscribers whenever a service changes state.
type Transition struct {
	Service string
	From    Status
	To      Status
	Err     error
	Time    time.Time
}

// HandleFinder is implemented by runtime adapters that can locate a still
// running provider from a previous control-plane incarnation.
type HandleFinder interface {
	FindHandle(ctx context.Context, serviceName string) (runtime.Handle, error)
}

// Options bound the blocking phases of lifecycle operations.
type Options struct {
	// StartTimeout caps how long Start waits for the provider to pass its
	// health check.
	StartTimeout time.Duration
	// WakeTimeout caps how long Wake blocks the issuing request path.
	WakeTimeout time.Duration
}

// Machine exclusively owns all status transitions. Every other component
// reads state through its API and requests transitions through
// Start/Stop/Sleep/Wake/Reset; nothing else writes status.
type Machine struct {
	rt       runtime.ContainerRuntime
	opts     Options
	recorder *events.Recorder

	mu       sync.RWMutex
	services map[string]*ServiceState

	subMu       sync.Mutex
	subscribers []chan Transition

	wakeFlight singleflight.Group
}

// NewMachine builds the service table from a config snapshot. All services
// begin stopped; call Resync to adopt providers that are still running from
// a previous incarnation of the manager.
func NewMachine(snap *config.Snapshot, rt runtime.ContainerRuntime, recorder *events.Recorder, opts Options) *Machine {
	if opts.StartTimeout == 0 {
		opts.StartTimeout = 60 * time.Second
	}
	if opts.WakeTimeout == 0 {
		opts.WakeTimeout = 30 * time.Second
	}

	m := &Machine{
		rt:       rt,
		opts:     opts,
		recorder: recorder,
		services: make(map[string]*ServiceState),
	}
	m.ApplyConfig(snap)
	return m
}

// ApplyConfig reconciles the service table against a new config snapshot.
// New definitions get fresh stopped states; existing states keep their
// status and adopt the new definition; states whose definition disappeared
// are stopped in the background and dropped from the table.
func (m *Machine) ApplyConfig(snap *config.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	for _, def := range snap.Services() {
		seen[def.Name] = true
		if st, ok := m.services[def.Name]; ok {
			st.mu.Lock()
			st.def, _ = snap.Service(def.Name)
			st.mu.Unlock()
			continue
		}
		fresh, _ := snap.Service(def.Name)
		m.services[def.Name] = newServiceState(fresh)
		logging.Debug(subsystem, "Registered service %s", def.Name)
	}

	for name, st := range m.services {
		if seen[name] {
			continue
		}
		delete(m.services, name)
		logging.Info(subsystem, "Service %s removed from configuration, stopping", name)
		go func(st *ServiceState, name string) {
			ctx, cancel := context.WithTimeout(context.Background(), m.opts.StartTimeout)
			defer cancel()
			if err := m.stopState(ctx, st, name); err != nil {
				logging.Warn(subsystem, "Failed to stop removed service %s: %v", name, err)
			}
		}(st, name)
	}
}

// Resync adopts providers the runtime still reports as running, so that a
// restart of the manager does not orphan or double-start them.
func (m *Machine) Resync(ctx context.Context) {
	finder, ok := m.rt.(HandleFinder)
	if !ok {
		return
	}

	for _, st := range m.states() {
		name := st.Definition().Name
		h, err := finder.FindHandle(ctx, name)
		if err != nil || h.IsZero() {
			continue
		}
		if err := m.rt.HealthCheck(ctx, h); err != nil {
			logging.Debug(subsystem, "Found stale handle for %s, ignoring: %v", name, err)
			continue
		}

		st.opMu.Lock()
		st.mu.Lock()
		st.handle = h
		from := st.status
		st.status = StatusRunning
		st.lastTransitionAt = time.Now()
		st.mu.Unlock()
		st.opMu.Unlock()

		m.publish(Transition{Service: name, From: from, To: StatusRunning, Time: time.Now()})
		logging.Info(subsystem, "Adopted running provider for service %s", name)
	}
}

// Get returns the state record for a service.
func (m *Machine) Get(name string) (*ServiceState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.services[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	return st, nil
}

// Status returns the view of one service.
func (m *Machine) Status(name string) (View, error) {
	st, err := m.Get(name)
	if err != nil {
		return View{}, err
	}
	return st.view(), nil
}

// List returns views for all services, ordered by name.
func (m *Machine) List() []View {
	states := m.states()
	views := make([]View, 0, len(states))
	for _, st := range states {
		views = append(views, st.view())
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })
	return views
}

// MarkActivity records a successful invocation through the service. This is
// the sole input to the idle monitor's timer.
func (m *Machine) MarkActivity(name string) {
	if st, err := m.Get(name); err == nil {
		st.markActivity()
	}
}

// Start brings a stopped service up and waits for its health check to pass.
// Starting a service that is already running or starting is a successful
// no-op and produces no duplicate container handle.
func (m *Machine) Start(ctx context.Context, name string) error {
	st, err := m.Get(name)
	if err != nil {
		return err
	}

	st.opMu.Lock()
	defer st.opMu.Unlock()

	switch st.Status() {
	case StatusRunning, StatusStarting:
		return nil
	case StatusStopped:
	default:
		return &IllegalTransitionError{Service: name, From: st.Status(), Op: "start"}
	}

	m.setStatus(st, name, StatusStarting, nil)
	m.record(events.ReasonServiceStarting, name, "starting provider")

	ctx, cancel := context.WithTimeout(ctx, m.opts.StartTimeout)
	defer cancel()

	def := st.Definition()
	handle, err := m.rt.StartService(ctx, def)
	if err != nil {
		m.fail(st, name, fmt.Errorf("runtime start failed: %w", err))
		return err
	}

	st.mu.Lock()
	st.handle = handle
	st.mu.Unlock()

	if err := runtime.AwaitHealthy(ctx, m.rt, handle, def); err != nil {
		m.fail(st, name, fmt.Errorf("health check failed: %w", err))
		return err
	}

	st.mu.Lock()
	st.consecutiveFailures = 0
	st.lastErr = nil
	st.mu.Unlock()

	m.setStatus(st, name, StatusRunning, nil)
	m.record(events.ReasonServiceStarted, name, "provider is running")
	return nil
}

// Sleep suspends a running service. The call is rejected with ErrTooSoon
// (leaving the service running) when the service was active or transitioned
// within its minSleepSec window.
func (m *Machine) Sleep(ctx context.Context, name string) error {
	st, err := m.Get(name)
	if err != nil {
		return err
	}

	st.opMu.Lock()
	defer st.opMu.Unlock()

	switch st.Status() {
	case StatusSleeping:
		return nil
	case StatusRunning:
	default:
		return &IllegalTransitionError{Service: name, From: st.Status(), Op: "sleep"}
	}

	def := st.Definition()
	minSleep := time.Duration(def.SleepPolicy.MinSleepSec) * time.Second
	if quiet := time.Since(st.quietSince()); quiet < minSleep {
		m.record(events.ReasonServiceSleepTooSoon, name,
			fmt.Sprintf("sleep rejected, quiet for %s of required %s", quiet.Round(time.Second), minSleep))
		return ErrTooSoon
	}

	m.record(events.ReasonServiceSleeping, name, "putting provider to sleep")

	if err := m.rt.PauseService(ctx, st.handleCopy()); err != nil {
		m.fail(st, name, fmt.Errorf("runtime pause failed: %w", err))
		return err
	}

	m.setStatus(st, name, StatusSleeping, nil)
	m.record(events.ReasonServiceSlept, name, "provider is sleeping")
	return nil
}

// Wake resumes a sleeping service and blocks until its health check passes
// or the wake timeout elapses. Waking a running service is a successful
// no-op. Concurrent wakes of the same service share a single runtime call.
func (m *Machine) Wake(ctx context.Context, name string) error {
	_, err, _ := m.wakeFlight.Do(name, func() (interface{}, error) {
		return nil, m.wake(ctx, name)
	})
	return err
}

func (m *Machine) wake(ctx context.Context, name string) error {
	st, err := m.Get(name)
	if err != nil {
		return err
	}

	st.opMu.Lock()
	defer st.opMu.Unlock()

	switch st.Status() {
	case StatusRunning, StatusWaking:
		return nil
	case StatusSleeping:
	default:
		return &IllegalTransitionError{Service: name, From: st.Status(), Op: "wake"}
	}

	m.setStatus(st, name, StatusWaking, nil)
	m.record(events.ReasonServiceWaking, name, "waking provider")

	// Detach from any single caller's cancellation: several requests may be
	// blocked on this shared wake.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.WakeTimeout)
	defer cancel()

	def := st.Definition()
	handle := st.handleCopy()

	if err := m.rt.ResumeService(ctx, handle); err != nil {
		m.fail(st, name, fmt.Errorf("runtime resume failed: %w", err))
		return err
	}

	// An adapter without native pause implemented sleep as stop; resume may
	// have produced a brand new process, so re-locate the handle if needed.
	if !m.rt.SupportsPause() {
		fresh, err := m.rt.StartService(ctx, def)
		if err != nil {
			m.fail(st, name, fmt.Errorf("runtime restart failed: %w", err))
			return err
		}
		handle = fresh
		st.mu.Lock()
		st.handle = fresh
		st.mu.Unlock()
	}

	if err := runtime.AwaitHealthy(ctx, m.rt, handle, def); err != nil {
		m.fail(st, name, fmt.Errorf("wake health check failed: %w", err))
		return err
	}

	st.mu.Lock()
	st.consecutiveFailures = 0
	st.lastErr = nil
	st.mu.Unlock()

	m.setStatus(st, name, StatusRunning, nil)
	m.record(events.ReasonServiceWoken, name, "provider is running")
	return nil
}

// Stop shuts a running service down. Stopping an already stopped service is
// a successful no-op.
func (m *Machine) Stop(ctx context.Context, name string) error {
	st, err := m.Get(name)
	if err != nil {
		return err
	}

	st.opMu.Lock()
	defer st.opMu.Unlock()

	switch st.Status() {
	case StatusStopped, StatusStopping:
		return nil
	case StatusRunning:
	default:
		return &IllegalTransitionError{Service: name, From: st.Status(), Op: "stop"}
	}

	return m.stopLocked(ctx, st, name)
}

// Reset recovers a service from the error state back to stopped so it can be
// started again. This is the only way out of the error state.
func (m *Machine) Reset(ctx context.Context, name string) error {
	st, err := m.Get(name)
	if err != nil {
		return err
	}

	st.opMu.Lock()
	defer st.opMu.Unlock()

	if st.Status() != StatusError {
		return &IllegalTransitionError{Service: name, From: st.Status(), Op: "reset"}
	}

	// Best effort cleanup of whatever the runtime still holds.
	if h := st.handleCopy(); !h.IsZero() {
		if err := m.rt.StopService(ctx, h); err != nil {
			logging.Warn(subsystem, "Cleanup during reset of %s failed: %v", name, err)
		}
	}

	st.mu.Lock()
	st.handle = runtime.Handle{}
	st.consecutiveFailures = 0
	st.lastErr = nil
	st.mu.Unlock()

	m.setStatus(st, name, StatusStopped, nil)
	m.record(events.ReasonServiceReset, name, "service reset to stopped")
	return nil
}

// Subscribe returns a channel of transitions. Publishes never block: a
// subscriber that falls behind misses events rather than stalling the
// machine.
func (m *Machine) Subscribe() <-chan Transition {
	ch := make(chan Transition, 100)
	m.subMu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.subMu.Unlock()
	return ch
}

func (m *Machine) states() []*ServiceState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	states := make([]*ServiceState, 0, len(m.services))
	for _, st := range m.services {
		states = append(states, st)
	}
	return states
}

// stopLocked performs the stopping -> stopped sequence. Callers hold opMu.
func (m *Machine) stopLocked(ctx context.Context, st *ServiceState, name string) error {
	m.setStatus(st, name, StatusStopping, nil)

	if err := m.rt.StopService(ctx, st.handleCopy()); err != nil {
		m.fail(st, name, fmt.Errorf("runtime stop failed: %w", err))
		return err
	}

	st.mu.Lock()
	st.handle = runtime.Handle{}
	st.mu.Unlock()

	m.setStatus(st, name, StatusStopped, nil)
	m.record(events.ReasonServiceStopped, name, "provider stopped")
	return nil
}

// stopState stops a service that is being removed from the table, whatever
// state it is in.
func (m *Machine) stopState(ctx context.Context, st *ServiceState, name string) error {
	st.opMu.Lock()
	defer st.opMu.Unlock()

	if h := st.handleCopy(); !h.IsZero() {
		return m.rt.StopService(ctx, h)
	}
	return nil
}

// setStatus performs a transition, asserting edge legality, and publishes it.
func (m *Machine) setStatus(st *ServiceState, name string, to Status, cause error) {
	st.mu.Lock()
	from := st.status
	if !canTransition(from, to) {
		// Operations check legality up front; reaching this is a bug.
		st.mu.Unlock()
		logging.Error(subsystem, nil, "Refusing illegal transition %s -> %s for %s", from, to, name)
		return
	}
	st.status = to
	st.lastTransitionAt = time.Now()
	if cause != nil {
		st.lastErr = cause
	}
	st.mu.Unlock()

	logging.Debug(subsystem, "Service %s: %s -> %s", name, from, to)
	m.publish(Transition{Service: name, From: from, To: to, Err: cause, Time: time.Now()})
}

// fail moves a service into the error state after an unrecoverable runtime
// failure.
func (m *Machine) fail(st *ServiceState, name string, cause error) {
	st.mu.Lock()
	st.consecutiveFailures++
	failures := st.consecutiveFailures
	st.mu.Unlock()

	m.setStatus(st, name, StatusError, cause)
	m.record(events.ReasonServiceFailed, name, cause.Error())
	logging.Error(subsystem, cause, "Service %s entered error state (failure #%d)", name, failures)
}

func (m *Machine) publish(t Transition) {
	m.subMu.Lock()
	subscribers := make([]chan Transition, len(m.subscribers))
	copy(subscribers, m.subscribers)
	m.subMu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- t:
		default:
			logging.Debug(subsystem, "Transition subscriber blocked, dropping event for %s", t.Service)
		}
	}
}

func (m *Machine) record(reason events.EventReason, service, message string) {
	if m.recorder != nil {
		m.recorder.Record(reason, service, "", message)
	}
}
