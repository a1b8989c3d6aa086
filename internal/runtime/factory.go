package runtime

import (
	"fmt"
	"time"

	"toolplane/internal/config"
)

// NewRuntime creates the container runtime adapter selected by the
// configuration.
func NewRuntime(cfg config.RuntimeConfig) (ContainerRuntime, error) {
	timeout := time.Duration(cfg.CallTimeoutSec) * time.Second

	switch cfg.Kind {
	case config.RuntimeDocker:
		return NewDockerRuntime(timeout)
	case config.RuntimeProcess:
		return NewProcessRuntime(timeout), nil
	default:
		return nil, fmt.Errorf("unknown runtime kind: %s", cfg.Kind)
	}
}
