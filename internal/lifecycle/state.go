package lifecycle

import (
	"sync"
	"sync/atomic"
	"time"

	"toolplane/internal/config"
	"toolplane/internal/runtime"
)

// ServiceState is the mutable runtime record for one service definition.
// Exactly one ServiceState exists per definition; it is created when the
// config table loads and only ever transitioned, never destroyed.
//
// opMu serializes lifecycle operations (Start/Stop/Sleep/Wake/Reset) so that
// concurrent calls on the same service queue up instead of racing, while the
// field mutex keeps status reads cheap during a long-running operation.
type ServiceState struct {
	opMu sync.Mutex

	mu                  sync.RWMutex
	def                 *config.ServiceDefinition
	status              Status
	lastTransitionAt    time.Time
	consecutiveFailures int
	lastErr             error
	handle              runtime.Handle

	// lastActivity is the unix-nano timestamp of the last successful tool
	// invocation through this service. Relaxed atomic writes are fine:
	// a monitor tick reading a slightly stale value at worst delays a
	// sleep by one tick.
	lastActivity atomic.Int64
}

func newServiceState(def *config.ServiceDefinition) *ServiceState {
	return &ServiceState{
		def:              def,
		status:           StatusStopped,
		lastTransitionAt: time.Now(),
	}
}

// Definition returns the owning service definition.
func (s *ServiceState) Definition() *config.ServiceDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.def
}

// Status returns the current lifecycle status.
func (s *ServiceState) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// LastActivityAt returns when the service last served a successful
// invocation. The zero time means it never has.
func (s *ServiceState) LastActivityAt() time.Time {
	nanos := s.lastActivity.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// markActivity records a successful invocation now.
func (s *ServiceState) markActivity() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// idleSince returns the reference point for idle measurement: the last
// activity if any, otherwise the moment of the last transition (so a service
// that became running and was never invoked still accrues idle time from
// then, not from the epoch).
func (s *ServiceState) idleSince() time.Time {
	if at := s.LastActivityAt(); !at.IsZero() {
		return at
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTransitionAt
}

// quietSince returns the reference point for the minSleepSec anti-flapping
// guard: the later of last activity and last transition, so a freshly woken
// service is not immediately put back to sleep.
func (s *ServiceState) quietSince() time.Time {
	at := s.LastActivityAt()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastTransitionAt.After(at) {
		return s.lastTransitionAt
	}
	return at
}

// handleCopy returns the current runtime handle.
func (s *ServiceState) handleCopy() runtime.Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handle
}

// View is an immutable snapshot of a service's state for API consumers.
type View struct {
	Name                string                    `json:"name"`
	Status              Status                    `json:"status"`
	LastActivityAt      time.Time                 `json:"lastActivityAt,omitzero"`
	LastTransitionAt    time.Time                 `json:"lastTransitionAt"`
	ConsecutiveFailures int                       `json:"consecutiveFailures"`
	LastError           string                    `json:"lastError,omitempty"`
	AutoStart           bool                      `json:"autoStart"`
	SleepPolicy         config.SleepPolicy        `json:"sleepPolicy"`
	ScalingPolicy       string                    `json:"scalingPolicy,omitempty"`
	Definition          *config.ServiceDefinition `json:"-"`
}

func (s *ServiceState) view() View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := View{
		Name:                s.def.Name,
		Status:              s.status,
		LastActivityAt:      s.LastActivityAt(),
		LastTransitionAt:    s.lastTransitionAt,
		ConsecutiveFailures: s.consecutiveFailures,
		AutoStart:           s.def.AutoStart,
		SleepPolicy:         s.def.SleepPolicy,
		ScalingPolicy:       s.def.ScalingPolicy,
		Definition:          s.def,
	}
	if s.lastErr != nil {
		v.LastError = s.lastErr.Error()
	}
	return v
}
