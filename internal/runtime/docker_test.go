package runtime

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"toolplane/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// init sets up the test environment
func init() {
	// Replace the exec command context with our mock in tests
	execCommandContext = mockExecCommandContext
}

func mockExecCommandContext(ctx context.Context, name string, args ...string) *exec.Cmd {
	cs := []string{"-test.run=TestHelperProcess", "--", name}
	cs = append(cs, args...)
	cmd := exec.Command(os.Args[0], cs...)
	cmd.Env = []string{"GO_WANT_HELPER_PROCESS=1"}
	return cmd
}

// TestHelperProcess is a helper process for mocking exec.Command
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	args := os.Args
	for i, arg := range args {
		if arg == "--" {
			args = args[i+1:]
			break
		}
	}
	if len(args) == 0 || args[0] != "docker" {
		fmt.Fprintf(os.Stderr, "unexpected command\n")
		os.Exit(2)
	}
	args = args[1:]

	switch args[0] {
	case "info":
		os.Exit(0)

	case "ps":
		// Pre-existing containers exist only for the reuse-path tests.
		filter := args[len(args)-1]
		switch {
		case strings.Contains(filter, "cached-tools"):
			fmt.Println("cached-container")
		case strings.Contains(filter, "stale-tools"):
			fmt.Println("stale-container")
		}
		os.Exit(0)

	case "start":
		os.Exit(0)

	case "run":
		// Last args are image + command; succeed with a fake container ID.
		fmt.Println("abcdef0123456789abcdef0123456789")
		os.Exit(0)

	case "pause":
		id := args[len(args)-1]
		if id == "paused-container" {
			fmt.Fprintf(os.Stderr, "Error response from daemon: container paused-container is already paused\n")
			os.Exit(1)
		}
		os.Exit(0)

	case "unpause":
		id := args[len(args)-1]
		if id == "running-container" {
			fmt.Fprintf(os.Stderr, "Error response from daemon: container running-container is not paused\n")
			os.Exit(1)
		}
		os.Exit(0)

	case "stop":
		os.Exit(0)

	case "rm":
		id := args[len(args)-1]
		if id == "gone-container" {
			fmt.Fprintf(os.Stderr, "Error: No such container: gone-container\n")
			os.Exit(1)
		}
		os.Exit(0)

	case "inspect":
		id := args[len(args)-1]
		if args[2] == "{{.Config.Image}}" {
			if id == "cached-container" {
				fmt.Println("example/cached-tools:1")
			} else {
				fmt.Println("example/old-tools:1")
			}
			os.Exit(0)
		}
		if id == "stopped-container" {
			fmt.Println("false")
		} else {
			fmt.Println("true")
		}
		os.Exit(0)
	}

	fmt.Fprintf(os.Stderr, "unhandled docker subcommand: %s\n", args[0])
	os.Exit(1)
}

func testDockerRuntime(t *testing.T) *DockerRuntime {
	t.Helper()
	// Construct directly to skip the PATH lookup in NewDockerRuntime.
	return &DockerRuntime{callTimeout: 5 * time.Second}
}

func testDefinition() *config.ServiceDefinition {
	return &config.ServiceDefinition{
		Name:  "file-tools",
		Image: "example/file-tools:1",
		Port:  9001,
		HealthCheck: config.HealthCheck{
			Path:        "/healthz",
			IntervalSec: 1,
			TimeoutSec:  1,
		},
	}
}

func TestDockerStartService(t *testing.T) {
	rt := testDockerRuntime(t)

	handle, err := rt.StartService(context.Background(), testDefinition())
	require.NoError(t, err)
	assert.Equal(t, "abcdef0123456789abcdef0123456789", handle.ID)
	assert.Equal(t, "file-tools", handle.Service)
}

func TestDockerStartReusesMatchingContainer(t *testing.T) {
	rt := testDockerRuntime(t)

	def := testDefinition()
	def.Name = "cached-tools"
	def.Image = "example/cached-tools:1"

	handle, err := rt.StartService(context.Background(), def)
	require.NoError(t, err)
	assert.Equal(t, "cached-container", handle.ID)
}

func TestDockerStartRecreatesOnImageChange(t *testing.T) {
	rt := testDockerRuntime(t)

	// The leftover container was built from an older definition; a reload
	// that changed the image must not resurrect it.
	def := testDefinition()
	def.Name = "stale-tools"
	def.Image = "example/stale-tools:2"

	handle, err := rt.StartService(context.Background(), def)
	require.NoError(t, err)
	assert.NotEqual(t, "stale-container", handle.ID)
	assert.Equal(t, "abcdef0123456789abcdef0123456789", handle.ID)
}

func TestDockerPauseIdempotent(t *testing.T) {
	rt := testDockerRuntime(t)

	// Pausing an already paused container is success, not an error.
	err := rt.PauseService(context.Background(), Handle{ID: "paused-container", Service: "file-tools"})
	assert.NoError(t, err)

	err = rt.PauseService(context.Background(), Handle{ID: "some-container", Service: "file-tools"})
	assert.NoError(t, err)
}

func TestDockerResumeIdempotent(t *testing.T) {
	rt := testDockerRuntime(t)

	err := rt.ResumeService(context.Background(), Handle{ID: "running-container", Service: "file-tools"})
	assert.NoError(t, err)
}

func TestDockerStopMissingContainer(t *testing.T) {
	rt := testDockerRuntime(t)

	err := rt.StopService(context.Background(), Handle{ID: "gone-container", Service: "file-tools"})
	assert.NoError(t, err)

	// Zero handle is a no-op.
	assert.NoError(t, rt.StopService(context.Background(), Handle{}))
}

func TestDockerHealthCheck(t *testing.T) {
	rt := testDockerRuntime(t)

	assert.NoError(t, rt.HealthCheck(context.Background(), Handle{ID: "live-container", Service: "file-tools"}))

	err := rt.HealthCheck(context.Background(), Handle{ID: "stopped-container", Service: "file-tools"})
	require.Error(t, err)
	var rtErr *RuntimeError
	assert.ErrorAs(t, err, &rtErr)
}

func TestDockerSupportsPause(t *testing.T) {
	rt := testDockerRuntime(t)
	assert.True(t, rt.SupportsPause())
}
