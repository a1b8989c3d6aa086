package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolplane/internal/config"
	"toolplane/internal/lifecycle"
	"toolplane/internal/runtime"
)

// okRuntime is a ContainerRuntime whose operations always succeed.
type okRuntime struct{}

func (okRuntime) StartService(ctx context.Context, def *config.ServiceDefinition) (runtime.Handle, error) {
	return runtime.Handle{ID: "h-" + def.Name, Service: def.Name}, nil
}
func (okRuntime) PauseService(ctx context.Context, h runtime.Handle) error { return nil }

func (okRuntime) ResumeService(ctx context.Context, h runtime.Handle) error { return nil }

func (okRuntime) StopService(ctx context.Context, h runtime.Handle) error { return nil }

func (okRuntime) HealthCheck(ctx context.Context, h runtime.Handle) error { return nil }

func (okRuntime) SupportsPause() bool { return true }

// fakeLister serves canned tool lists and can be told to fail per service.
type fakeLister struct {
	mu    sync.Mutex
	tools map[string][]mcp.Tool
	fail  map[string]bool
	calls int
}

func (f *fakeLister) ListTools(ctx context.Context, def config.ServiceDefinition) ([]mcp.Tool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail[def.Name] {
		return nil, errors.New("connection refused")
	}
	return f.tools[def.Name], nil
}

func (f *fakeLister) setFail(service string, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail == nil {
		f.fail = make(map[string]bool)
	}
	f.fail[service] = fail
}

func newTestCatalog(t *testing.T) (*Catalog, *lifecycle.Machine, *fakeLister) {
	t.Helper()
	cfg, err := config.Parse([]byte(`
services:
  - name: file-tools
    image: example/file-tools:1
    port: 9001
    autoStart: true
  - name: web-tools
    image: example/web-tools:1
    port: 9002
`))
	require.NoError(t, err)
	m := lifecycle.NewMachine(config.NewManagerFromConfig(cfg).Current(), okRuntime{}, nil, lifecycle.Options{
		StartTimeout: 5 * time.Second,
		WakeTimeout:  5 * time.Second,
	})
	lister := &fakeLister{
		tools: map[string][]mcp.Tool{
			"file-tools": {
				{Name: "read_file", Description: "Read a file from disk"},
				{Name: "write_file", Description: "Write a file to disk"},
			},
			"web-tools": {
				{Name: "web_search", Description: "Search the web"},
			},
		},
	}
	return New(m, lister, nil), m, lister
}

func TestSyncBuildsPrefixedEntries(t *testing.T) {
	c, m, _ := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, "file-tools"))
	require.NoError(t, m.Start(ctx, "web-tools"))
	c.Sync(ctx)

	tools := c.Snapshot(false)
	require.Len(t, tools, 3)
	assert.Equal(t, "file-tools.read_file", tools[0].ID)
	assert.Equal(t, "file-tools.write_file", tools[1].ID)
	assert.Equal(t, "web-tools.web_search", tools[2].ID)
	assert.Equal(t, "web-tools", tools[2].OwnerService)
	assert.Equal(t, "web_search", tools[2].Name)
}

func TestRefreshFailureRetainsPreviousEntry(t *testing.T) {
	c, m, lister := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, "file-tools"))
	c.Refresh(ctx, "file-tools")
	require.Len(t, c.Snapshot(false), 2)

	lister.setFail("file-tools", true)
	c.Refresh(ctx, "file-tools")

	assert.Len(t, c.Snapshot(false), 2, "stale tools should survive a failed rediscovery")
}

func TestColdToolsHiddenUnlessRequested(t *testing.T) {
	c, m, _ := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, "file-tools"))
	require.NoError(t, m.Start(ctx, "web-tools"))
	c.Sync(ctx)

	// web-tools is not autoStart, so its tools vanish from the default view
	// once it stops. file-tools would be auto-started again, so it stays.
	require.NoError(t, m.Stop(ctx, "web-tools"))
	require.NoError(t, m.Stop(ctx, "file-tools"))
	c.handleTransition(ctx, lifecycle.Transition{Service: "web-tools", To: lifecycle.StatusStopped})
	c.handleTransition(ctx, lifecycle.Transition{Service: "file-tools", To: lifecycle.StatusStopped})

	warm := c.Snapshot(false)
	require.Len(t, warm, 2)
	for _, tool := range warm {
		assert.Equal(t, "file-tools", tool.OwnerService)
	}

	assert.Len(t, c.Snapshot(true), 3)
}

func TestSleepWakeCycleKeepsEntryIntact(t *testing.T) {
	c, m, _ := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, "file-tools"))
	c.Refresh(ctx, "file-tools")
	before := c.Snapshot(false)

	require.NoError(t, m.Sleep(ctx, "file-tools"))
	c.handleTransition(ctx, lifecycle.Transition{Service: "file-tools", To: lifecycle.StatusSleeping})
	assert.Equal(t, before, c.Snapshot(false), "a sleeping provider's tools stay listed")

	require.NoError(t, m.Wake(ctx, "file-tools"))
	c.handleTransition(ctx, lifecycle.Transition{Service: "file-tools", To: lifecycle.StatusRunning})
	assert.Equal(t, before, c.Snapshot(false))
}

func TestRunFollowsTransitions(t *testing.T) {
	c, m, _ := newTestCatalog(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.Run(ctx)
	// Give Run a moment to subscribe before the first transition fires.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, m.Start(ctx, "web-tools"))

	assert.Eventually(t, func() bool {
		_, ok := c.Find("web-tools.web_search")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFind(t *testing.T) {
	c, m, _ := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, "file-tools"))
	c.Refresh(ctx, "file-tools")

	tool, ok := c.Find("file-tools.read_file")
	require.True(t, ok)
	assert.Equal(t, "read_file", tool.Name)

	_, ok = c.Find("file-tools.no_such_tool")
	assert.False(t, ok)
}

func TestSyncPrunesRemovedServices(t *testing.T) {
	c, m, _ := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, "file-tools"))
	c.Refresh(ctx, "file-tools")
	require.NotEmpty(t, c.Snapshot(false))

	cfg, err := config.Parse([]byte(`
services:
  - name: web-tools
    image: example/web-tools:1
    port: 9002
`))
	require.NoError(t, err)
	m.ApplyConfig(config.NewManagerFromConfig(cfg).Current())
	c.Sync(ctx)

	assert.Empty(t, c.Snapshot(true))
}
