package runtime

import (
	"context"
	"errors"
	"fmt"

	"toolplane/internal/config"
)

// Handle is the opaque reference a runtime hands back for a started service.
// Only the runtime adapter interprets it; everyone else passes it around.
type Handle struct {
	ID      string
	Service string
}

// IsZero reports whether the handle refers to nothing.
func (h Handle) IsZero() bool {
	return h.ID == ""
}

// ErrRuntimeTimeout is returned when a runtime call does not complete within
// its bounded timeout.
var ErrRuntimeTimeout = errors.New("runtime call timed out")

// RuntimeError wraps an unrecoverable failure reported by the container
// runtime.
type RuntimeError struct {
	Op      string
	Service string
	Err     error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime %s failed for %s: %v", e.Op, e.Service, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// ContainerRuntime is the boundary to the external container or process
// runtime. All calls are safe to retry and must return within the adapter's
// configured timeout or fail with ErrRuntimeTimeout.
type ContainerRuntime interface {
	// StartService creates and starts the provider process for a definition.
	// Starting an already started service returns the existing handle.
	StartService(ctx context.Context, def *config.ServiceDefinition) (Handle, error)

	// PauseService suspends a running provider. Adapters without a native
	// pause primitive degrade this to StopService; callers must tolerate
	// that transparently (see SupportsPause).
	PauseService(ctx context.Context, h Handle) error

	// ResumeService resumes a paused provider.
	ResumeService(ctx context.Context, h Handle) error

	// StopService destroys the provider process. Stopping an already
	// stopped service is a no-op.
	StopService(ctx context.Context, h Handle) error

	// HealthCheck reports whether the provider behind the handle is up and
	// answering its health endpoint.
	HealthCheck(ctx context.Context, h Handle) error

	// SupportsPause reports whether Pause/Resume are native operations or
	// degrade to stop/start.
	SupportsPause() bool
}
