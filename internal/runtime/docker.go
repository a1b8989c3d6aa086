package runtime

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"toolplane/internal/config"
	"toolplane/pkg/logging"
)

const dockerSubsystem = "Docker"

// containerNamePrefix namespaces containers created by this control plane so
// a boot re-sync can find them again.
const containerNamePrefix = "toolplane-"

// execCommandContext is a variable to allow mocking in tests
var execCommandContext = exec.CommandContext

// DockerRuntime implements ContainerRuntime using the Docker CLI. Docker has
// a native pause primitive, so sleep really is pause here.
type DockerRuntime struct {
	callTimeout time.Duration
	httpClient  *http.Client
}

// NewDockerRuntime creates a new Docker runtime instance after verifying the
// docker CLI and daemon are reachable.
func NewDockerRuntime(callTimeout time.Duration) (*DockerRuntime, error) {
	if _, err := exec.LookPath("docker"); err != nil {
		return nil, fmt.Errorf("docker command not found in PATH: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	cmd := execCommandContext(ctx, "docker", "info")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("docker daemon not accessible: %w", err)
	}

	return &DockerRuntime{
		callTimeout: callTimeout,
		httpClient:  &http.Client{},
	}, nil
}

// SupportsPause reports that docker pause/unpause are native.
func (d *DockerRuntime) SupportsPause() bool { return true }

// StartService creates and starts a container for the definition. If a
// container for the service already runs, its handle is returned unchanged.
func (d *DockerRuntime) StartService(ctx context.Context, def *config.ServiceDefinition) (Handle, error) {
	ctx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	name := containerNamePrefix + def.Name

	// Retrying Start must not produce a duplicate container. A leftover
	// container built from an older definition is replaced, not reused, so
	// a config reload that changes the image takes effect on the next start.
	if existing, err := d.findContainer(ctx, name); err == nil && existing != "" {
		image, ierr := d.containerImage(ctx, existing)
		if ierr == nil && image == def.Image {
			logging.Debug(dockerSubsystem, "Container %s already exists, reusing", name)
			if err := d.run(ctx, "start", "start", def.Name, existing); err != nil {
				return Handle{}, err
			}
			return Handle{ID: existing, Service: def.Name}, nil
		}
		logging.Info(dockerSubsystem, "Container %s runs image %q but definition wants %q, recreating", name, image, def.Image)
		if err := d.run(ctx, "start", "rm", def.Name, "-f", existing); err != nil {
			return Handle{}, err
		}
	}

	args := []string{"run", "-d", "--name", name}
	args = append(args, "-p", fmt.Sprintf("%d:%d", def.Port, def.Port))
	if def.ResourceLimits.MemoryMB > 0 {
		args = append(args, "--memory", fmt.Sprintf("%dm", def.ResourceLimits.MemoryMB))
	}
	if def.ResourceLimits.CPUShare > 0 {
		args = append(args, "--cpus", fmt.Sprintf("%g", def.ResourceLimits.CPUShare))
	}
	args = append(args, def.Image)
	args = append(args, def.StartCommand...)

	logging.Debug(dockerSubsystem, "Starting container with command: docker %s", strings.Join(args, " "))

	cmd := execCommandContext(ctx, "docker", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return Handle{}, d.classify("start", def.Name, ctx, fmt.Errorf("%w\noutput: %s", err, string(output)))
	}

	containerID := strings.TrimSpace(string(output))
	logging.Info(dockerSubsystem, "Started container %s with ID %s", name, shortID(containerID))
	return Handle{ID: containerID, Service: def.Name}, nil
}

// PauseService pauses the container. Pausing an already paused container is
// treated as success.
func (d *DockerRuntime) PauseService(ctx context.Context, h Handle) error {
	ctx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	cmd := execCommandContext(ctx, "docker", "pause", h.ID)
	if output, err := cmd.CombinedOutput(); err != nil {
		if strings.Contains(string(output), "is already paused") {
			return nil
		}
		return d.classify("pause", h.Service, ctx, err)
	}
	logging.Info(dockerSubsystem, "Paused container %s", shortID(h.ID))
	return nil
}

// ResumeService unpauses the container. Resuming a container that is not
// paused is treated as success.
func (d *DockerRuntime) ResumeService(ctx context.Context, h Handle) error {
	ctx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	cmd := execCommandContext(ctx, "docker", "unpause", h.ID)
	if output, err := cmd.CombinedOutput(); err != nil {
		if strings.Contains(string(output), "is not paused") {
			return nil
		}
		return d.classify("resume", h.Service, ctx, err)
	}
	logging.Info(dockerSubsystem, "Resumed container %s", shortID(h.ID))
	return nil
}

// StopService stops and removes the container.
func (d *DockerRuntime) StopService(ctx context.Context, h Handle) error {
	ctx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	if h.IsZero() {
		return nil
	}

	if err := d.run(ctx, "stop", "stop", h.Service, h.ID); err != nil {
		logging.Warn(dockerSubsystem, "docker stop failed for %s, removing anyway: %v", shortID(h.ID), err)
	}

	cmd := execCommandContext(ctx, "docker", "rm", "-f", h.ID)
	if output, err := cmd.CombinedOutput(); err != nil {
		if strings.Contains(string(output), "No such container") {
			return nil
		}
		return d.classify("stop", h.Service, ctx, err)
	}
	logging.Info(dockerSubsystem, "Removed container %s", shortID(h.ID))
	return nil
}

// HealthCheck verifies the container is running and, when a health path is
// configured, that the provider answers it.
func (d *DockerRuntime) HealthCheck(ctx context.Context, h Handle) error {
	ctx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	cmd := execCommandContext(ctx, "docker", "inspect", "-f", "{{.State.Running}}", h.ID)
	output, err := cmd.Output()
	if err != nil {
		return d.classify("healthcheck", h.Service, ctx, err)
	}
	if strings.TrimSpace(string(output)) != "true" {
		return &RuntimeError{Op: "healthcheck", Service: h.Service, Err: fmt.Errorf("container %s is not running", shortID(h.ID))}
	}
	return nil
}

// ProbeHTTP checks the provider's HTTP health endpoint directly. The state
// machine uses this to decide starting -> running.
func (d *DockerRuntime) ProbeHTTP(ctx context.Context, def *config.ServiceDefinition) error {
	return probeHTTP(ctx, d.httpClient, def)
}

// FindHandle locates an already running container for a service, used for
// the boot re-sync.
func (d *DockerRuntime) FindHandle(ctx context.Context, serviceName string) (Handle, error) {
	ctx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	id, err := d.findContainer(ctx, containerNamePrefix+serviceName)
	if err != nil || id == "" {
		return Handle{}, err
	}
	return Handle{ID: id, Service: serviceName}, nil
}

func (d *DockerRuntime) containerImage(ctx context.Context, id string) (string, error) {
	cmd := execCommandContext(ctx, "docker", "inspect", "-f", "{{.Config.Image}}", id)
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

func (d *DockerRuntime) findContainer(ctx context.Context, name string) (string, error) {
	cmd := execCommandContext(ctx, "docker", "ps", "-aq", "--filter", "name=^/"+name+"$")
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

func (d *DockerRuntime) run(ctx context.Context, op, verb, service string, args ...string) error {
	cmdArgs := append([]string{verb}, args...)
	cmd := execCommandContext(ctx, "docker", cmdArgs...)
	if err := cmd.Run(); err != nil {
		return d.classify(op, service, ctx, err)
	}
	return nil
}

// classify maps a failed docker call to the adapter error taxonomy. Deadline
// expiry becomes ErrRuntimeTimeout, everything else a RuntimeError.
func (d *DockerRuntime) classify(op, service string, ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%w: docker %s for %s", ErrRuntimeTimeout, op, service)
	}
	return &RuntimeError{Op: op, Service: service, Err: err}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
