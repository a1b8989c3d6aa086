package runtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"toolplane/internal/config"

	"github.com/cenkalti/backoff/v5"
)

// probeHTTP issues one GET against the service's configured health endpoint.
func probeHTTP(ctx context.Context, client *http.Client, def *config.ServiceDefinition) error {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(def.HealthCheck.TimeoutSec)*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://localhost:%d%s", def.Port, def.HealthCheck.Path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("health endpoint %s returned %d", url, resp.StatusCode)
	}
	return nil
}

// HealthProber is implemented by adapters that can probe a provider's HTTP
// health endpoint in addition to checking process liveness.
type HealthProber interface {
	ProbeHTTP(ctx context.Context, def *config.ServiceDefinition) error
}

// AwaitHealthy polls until the provider behind the handle passes both the
// runtime liveness check and its HTTP health probe, or the context deadline
// expires. The retry cadence follows the service's healthCheck interval.
func AwaitHealthy(ctx context.Context, rt ContainerRuntime, h Handle, def *config.ServiceDefinition) error {
	interval := time.Duration(def.HealthCheck.IntervalSec) * time.Second

	operation := func() (struct{}, error) {
		if err := rt.HealthCheck(ctx, h); err != nil {
			return struct{}{}, err
		}
		if prober, ok := rt.(HealthProber); ok {
			if err := prober.ProbeHTTP(ctx, def); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	}

	b := backoff.NewConstantBackOff(interval)
	_, err := backoff.Retry(ctx, operation, backoff.WithBackOff(b))
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%w: waiting for %s to become healthy", ErrRuntimeTimeout, def.Name)
		}
		return err
	}
	return nil
}
