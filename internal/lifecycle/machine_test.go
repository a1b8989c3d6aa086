package lifecycle

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"toolplane/internal/config"
	"toolplane/internal/runtime"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRuntime is an in-memory ContainerRuntime for state machine tests.
type fakeRuntime struct {
	mu           sync.Mutex
	startCalls   int
	pauseCalls   int
	resumeCalls  int
	stopCalls    int
	failStart    bool
	failPause    bool
	failResume   bool
	noPause      bool
	nextHandleID int
}

func (f *fakeRuntime) StartService(ctx context.Context, def *config.ServiceDefinition) (runtime.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	if f.failStart {
		return runtime.Handle{}, &runtime.RuntimeError{Op: "start", Service: def.Name, Err: errors.New("boom")}
	}
	f.nextHandleID++
	return runtime.Handle{ID: string(rune('a' + f.nextHandleID)), Service: def.Name}, nil
}

func (f *fakeRuntime) PauseService(ctx context.Context, h runtime.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauseCalls++
	if f.failPause {
		return &runtime.RuntimeError{Op: "pause", Service: h.Service, Err: errors.New("boom")}
	}
	return nil
}

func (f *fakeRuntime) ResumeService(ctx context.Context, h runtime.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumeCalls++
	if f.failResume {
		return &runtime.RuntimeError{Op: "resume", Service: h.Service, Err: errors.New("boom")}
	}
	return nil
}

func (f *fakeRuntime) StopService(ctx context.Context, h runtime.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return nil
}

func (f *fakeRuntime) HealthCheck(ctx context.Context, h runtime.Handle) error {
	return nil
}

func (f *fakeRuntime) SupportsPause() bool { return !f.noPause }

func testSnapshot(t *testing.T, minSleepSec int) *config.Snapshot {
	t.Helper()
	cfg, err := config.Parse([]byte(`
services:
  - name: file-tools
    image: example/file-tools:1
    port: 9001
    autoStart: true
    sleepPolicy:
      enabled: true
      idleTimeoutSec: 7200
      minSleepSec: ` + strconv.Itoa(minSleepSec) + `
  - name: web-tools
    image: example/web-tools:1
    port: 9002
`))
	require.NoError(t, err)
	return config.NewManagerFromConfig(cfg).Current()
}

func newTestMachine(t *testing.T, minSleepSec int) (*Machine, *fakeRuntime) {
	t.Helper()
	rt := &fakeRuntime{}
	m := NewMachine(testSnapshot(t, minSleepSec), rt, nil, Options{
		StartTimeout: 5 * time.Second,
		WakeTimeout:  5 * time.Second,
	})
	return m, rt
}

func TestStartHappyPath(t *testing.T) {
	m, rt := newTestMachine(t, 0)

	require.NoError(t, m.Start(context.Background(), "file-tools"))

	view, err := m.Status("file-tools")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, view.Status)
	assert.Equal(t, 1, rt.startCalls)
}

func TestStartIsIdempotent(t *testing.T) {
	m, rt := newTestMachine(t, 0)

	require.NoError(t, m.Start(context.Background(), "file-tools"))
	require.NoError(t, m.Start(context.Background(), "file-tools"))

	view, _ := m.Status("file-tools")
	assert.Equal(t, StatusRunning, view.Status)
	// No duplicate container handle was produced.
	assert.Equal(t, 1, rt.startCalls)
}

func TestStartFailureEntersErrorState(t *testing.T) {
	m, rt := newTestMachine(t, 0)
	rt.failStart = true

	err := m.Start(context.Background(), "file-tools")
	require.Error(t, err)

	view, _ := m.Status("file-tools")
	assert.Equal(t, StatusError, view.Status)
	assert.Equal(t, 1, view.ConsecutiveFailures)
	assert.NotEmpty(t, view.LastError)

	// error -> starting is not a legal edge; only Reset leaves error.
	err = m.Start(context.Background(), "file-tools")
	assert.True(t, IsIllegalTransition(err))
}

func TestResetRecoversFromError(t *testing.T) {
	m, rt := newTestMachine(t, 0)
	rt.failStart = true

	require.Error(t, m.Start(context.Background(), "file-tools"))
	require.NoError(t, m.Reset(context.Background(), "file-tools"))

	view, _ := m.Status("file-tools")
	assert.Equal(t, StatusStopped, view.Status)
	assert.Zero(t, view.ConsecutiveFailures)

	rt.failStart = false
	require.NoError(t, m.Start(context.Background(), "file-tools"))
}

func TestResetOnlyFromError(t *testing.T) {
	m, _ := newTestMachine(t, 0)

	err := m.Reset(context.Background(), "file-tools")
	assert.True(t, IsIllegalTransition(err))
}

func TestSleepWakeRoundTrip(t *testing.T) {
	m, rt := newTestMachine(t, 0)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, "file-tools"))
	defBefore, _ := m.Status("file-tools")

	require.NoError(t, m.Sleep(ctx, "file-tools"))
	view, _ := m.Status("file-tools")
	assert.Equal(t, StatusSleeping, view.Status)

	require.NoError(t, m.Wake(ctx, "file-tools"))
	view, _ = m.Status("file-tools")
	assert.Equal(t, StatusRunning, view.Status)

	// The definition is untouched by the round trip.
	defAfter, _ := m.Status("file-tools")
	assert.Equal(t, defBefore.Definition, defAfter.Definition)
	assert.Equal(t, 1, rt.pauseCalls)
	assert.Equal(t, 1, rt.resumeCalls)
}

func TestSleepTooSoonIsNoOp(t *testing.T) {
	m, rt := newTestMachine(t, 3600)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, "file-tools"))

	err := m.Sleep(ctx, "file-tools")
	assert.ErrorIs(t, err, ErrTooSoon)

	view, _ := m.Status("file-tools")
	assert.Equal(t, StatusRunning, view.Status)
	assert.Zero(t, rt.pauseCalls)
}

func TestWakeIsIdempotentOnRunning(t *testing.T) {
	m, rt := newTestMachine(t, 0)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, "file-tools"))
	require.NoError(t, m.Wake(ctx, "file-tools"))

	view, _ := m.Status("file-tools")
	assert.Equal(t, StatusRunning, view.Status)
	assert.Zero(t, rt.resumeCalls)
}

func TestIllegalTransitionsLeaveStateUnchanged(t *testing.T) {
	m, _ := newTestMachine(t, 0)
	ctx := context.Background()

	// Sleep from stopped.
	err := m.Sleep(ctx, "file-tools")
	assert.True(t, IsIllegalTransition(err))

	// Wake from stopped.
	err = m.Wake(ctx, "file-tools")
	assert.True(t, IsIllegalTransition(err))

	view, _ := m.Status("file-tools")
	assert.Equal(t, StatusStopped, view.Status)
}

func TestStopIsIdempotent(t *testing.T) {
	m, _ := newTestMachine(t, 0)
	ctx := context.Background()

	require.NoError(t, m.Stop(ctx, "file-tools"))

	require.NoError(t, m.Start(ctx, "file-tools"))
	require.NoError(t, m.Stop(ctx, "file-tools"))
	require.NoError(t, m.Stop(ctx, "file-tools"))

	view, _ := m.Status("file-tools")
	assert.Equal(t, StatusStopped, view.Status)
}

func TestUnknownService(t *testing.T) {
	m, _ := newTestMachine(t, 0)

	err := m.Start(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownService)
}

func TestPauseFailureEntersErrorState(t *testing.T) {
	m, rt := newTestMachine(t, 0)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, "file-tools"))
	rt.failPause = true

	require.Error(t, m.Sleep(ctx, "file-tools"))
	view, _ := m.Status("file-tools")
	assert.Equal(t, StatusError, view.Status)
}

func TestWakeWithDegradedPauseRestarts(t *testing.T) {
	rt := &fakeRuntime{noPause: true}
	m := NewMachine(testSnapshot(t, 0), rt, nil, Options{
		StartTimeout: 5 * time.Second,
		WakeTimeout:  5 * time.Second,
	})
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, "file-tools"))
	require.NoError(t, m.Sleep(ctx, "file-tools"))
	require.NoError(t, m.Wake(ctx, "file-tools"))

	view, _ := m.Status("file-tools")
	assert.Equal(t, StatusRunning, view.Status)
	// Degraded wake re-starts the provider after resume.
	assert.Equal(t, 2, rt.startCalls)
}

func TestSubscribeReceivesTransitions(t *testing.T) {
	m, _ := newTestMachine(t, 0)
	ch := m.Subscribe()

	require.NoError(t, m.Start(context.Background(), "file-tools"))

	var got []Transition
	timeout := time.After(time.Second)
	for len(got) < 2 {
		select {
		case tr := <-ch:
			got = append(got, tr)
		case <-timeout:
			t.Fatalf("expected 2 transitions, got %d", len(got))
		}
	}

	assert.Equal(t, StatusStarting, got[0].To)
	assert.Equal(t, StatusRunning, got[1].To)
}

func TestConcurrentOperationsOnSameServiceSerialize(t *testing.T) {
	m, rt := newTestMachine(t, 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Start(ctx, "file-tools")
		}()
	}
	wg.Wait()

	view, _ := m.Status("file-tools")
	assert.Equal(t, StatusRunning, view.Status)
	assert.Equal(t, 1, rt.startCalls)
}

func TestMarkActivityDrivesLastActivity(t *testing.T) {
	m, _ := newTestMachine(t, 0)

	view, _ := m.Status("file-tools")
	assert.True(t, view.LastActivityAt.IsZero())

	m.MarkActivity("file-tools")
	view, _ = m.Status("file-tools")
	assert.WithinDuration(t, time.Now(), view.LastActivityAt, time.Second)
}

func TestApplyConfigAddsAndRemovesServices(t *testing.T) {
	m, _ := newTestMachine(t, 0)

	cfg, err := config.Parse([]byte(`
services:
  - name: file-tools
    image: example/file-tools:2
    port: 9001
  - name: new-tools
    image: example/new-tools:1
    port: 9003
`))
	require.NoError(t, err)
	m.ApplyConfig(config.NewManagerFromConfig(cfg).Current())

	_, err = m.Status("new-tools")
	assert.NoError(t, err)

	_, err = m.Status("web-tools")
	assert.ErrorIs(t, err, ErrUnknownService)

	view, _ := m.Status("file-tools")
	assert.Equal(t, "example/file-tools:2", view.Definition.Image)
}
