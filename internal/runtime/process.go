package runtime

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"toolplane/internal/config"
	"toolplane/pkg/logging"
)

const processSubsystem = "Process"

// ProcessRuntime implements ContainerRuntime on bare OS processes for
// providers that are local commands rather than images. It has no native
// pause primitive: PauseService degrades to StopService and ResumeService to
// StartService, which the lifecycle state machine tolerates transparently.
type ProcessRuntime struct {
	callTimeout time.Duration
	httpClient  *http.Client

	mu    sync.Mutex
	procs map[string]*managedProcess // handle ID -> process
}

type managedProcess struct {
	cmd *exec.Cmd
	def *config.ServiceDefinition
}

// NewProcessRuntime creates a process-based runtime adapter.
func NewProcessRuntime(callTimeout time.Duration) *ProcessRuntime {
	return &ProcessRuntime{
		callTimeout: callTimeout,
		httpClient:  &http.Client{},
		procs:       make(map[string]*managedProcess),
	}
}

// SupportsPause reports that sleep degrades to stop for this adapter.
func (p *ProcessRuntime) SupportsPause() bool { return false }

// StartService launches the provider's start command. Starting an already
// running service returns the existing handle.
func (p *ProcessRuntime) StartService(ctx context.Context, def *config.ServiceDefinition) (Handle, error) {
	if len(def.StartCommand) == 0 {
		return Handle{}, &RuntimeError{Op: "start", Service: def.Name,
			Err: fmt.Errorf("service has no startCommand; use the docker runtime for image-based services")}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for id, mp := range p.procs {
		if mp.def.Name != def.Name {
			continue
		}
		if p.aliveLocked(mp) {
			logging.Debug(processSubsystem, "Process for %s already running (pid %s), reusing", def.Name, id)
			return Handle{ID: id, Service: def.Name}, nil
		}
		// Dead record from an earlier run of this service. Kept until now
		// so ResumeService could read its definition; superseded here.
		delete(p.procs, id)
	}

	cmd := exec.Command(def.StartCommand[0], def.StartCommand[1:]...)
	if err := cmd.Start(); err != nil {
		return Handle{}, &RuntimeError{Op: "start", Service: def.Name, Err: err}
	}

	// Reap the process when it exits so it never zombies.
	go cmd.Wait()

	id := strconv.Itoa(cmd.Process.Pid)
	p.procs[id] = &managedProcess{cmd: cmd, def: def}
	logging.Info(processSubsystem, "Started process for %s (pid %s)", def.Name, id)
	return Handle{ID: id, Service: def.Name}, nil
}

// PauseService degrades to a stop; the wake path restarts the process.
func (p *ProcessRuntime) PauseService(ctx context.Context, h Handle) error {
	logging.Debug(processSubsystem, "No native pause, stopping %s instead", h.Service)
	return p.StopService(ctx, h)
}

// ResumeService restarts the process from its remembered definition.
func (p *ProcessRuntime) ResumeService(ctx context.Context, h Handle) error {
	p.mu.Lock()
	mp, ok := p.procs[h.ID]
	p.mu.Unlock()

	if ok && p.alive(mp) {
		return nil
	}
	if !ok {
		return &RuntimeError{Op: "resume", Service: h.Service,
			Err: fmt.Errorf("unknown handle %s", h.ID)}
	}

	_, err := p.StartService(ctx, mp.def)
	return err
}

// StopService terminates the process. Stopping an already exited process is
// a no-op.
func (p *ProcessRuntime) StopService(ctx context.Context, h Handle) error {
	p.mu.Lock()
	mp, ok := p.procs[h.ID]
	p.mu.Unlock()

	if !ok || !p.alive(mp) {
		return nil
	}

	if err := mp.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return &RuntimeError{Op: "stop", Service: h.Service, Err: err}
	}

	// Give the process a moment to exit cleanly, then escalate.
	deadline := time.After(p.callTimeout)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			mp.cmd.Process.Kill()
			return fmt.Errorf("%w: stopping %s", ErrRuntimeTimeout, h.Service)
		case <-deadline:
			logging.Warn(processSubsystem, "Process for %s ignored SIGTERM, killing", h.Service)
			mp.cmd.Process.Kill()
			return nil
		case <-tick.C:
			if !p.alive(mp) {
				logging.Info(processSubsystem, "Stopped process for %s", h.Service)
				return nil
			}
		}
	}
}

// HealthCheck verifies the process is alive.
func (p *ProcessRuntime) HealthCheck(ctx context.Context, h Handle) error {
	p.mu.Lock()
	mp, ok := p.procs[h.ID]
	p.mu.Unlock()

	if !ok {
		return &RuntimeError{Op: "healthcheck", Service: h.Service,
			Err: fmt.Errorf("unknown handle %s", h.ID)}
	}
	if !p.alive(mp) {
		return &RuntimeError{Op: "healthcheck", Service: h.Service,
			Err: fmt.Errorf("process has exited")}
	}
	return nil
}

// ProbeHTTP checks the provider's HTTP health endpoint.
func (p *ProcessRuntime) ProbeHTTP(ctx context.Context, def *config.ServiceDefinition) error {
	return probeHTTP(ctx, p.httpClient, def)
}

func (p *ProcessRuntime) alive(mp *managedProcess) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.aliveLocked(mp)
}

func (p *ProcessRuntime) aliveLocked(mp *managedProcess) bool {
	if mp.cmd.Process == nil {
		return false
	}
	// Signal 0 only probes for existence.
	return mp.cmd.Process.Signal(syscall.Signal(0)) == nil
}
