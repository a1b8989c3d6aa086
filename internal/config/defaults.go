package config

const (
	// DefaultScalingPolicyName is the policy applied when a service does not
	// reference one explicitly.
	DefaultScalingPolicyName = "default"

	defaultMonitorIntervalSec    = 30
	defaultMonitorCallTimeoutSec = 15

	defaultWakeTimeoutSec    = 30
	defaultInvokeTimeoutSec  = 60
	defaultOverallTimeoutSec = 180
	defaultMaxAttempts       = 3
	defaultKeywordWeight     = 1.0

	defaultIdleTimeoutSec = 300

	defaultAPIHost = "localhost"
	defaultAPIPort = 8090

	defaultRuntimeCallTimeoutSec = 30

	defaultHealthCheckPath        = "/healthz"
	defaultHealthCheckIntervalSec = 5
	defaultHealthCheckTimeoutSec  = 3
)

// DefaultScalingPolicy is the global fallback for services without an
// explicit scaling-policy reference.
func DefaultScalingPolicy() ScalingPolicy {
	return ScalingPolicy{
		Name:           DefaultScalingPolicyName,
		MinInstances:   0,
		MaxInstances:   1,
		IdleTimeoutSec: defaultIdleTimeoutSec,
	}
}

// applyDefaults fills zero values with their documented defaults. It mutates
// the config in place and is called before validation so that validation sees
// the effective values.
func applyDefaults(cfg *Config) {
	if cfg.Monitor.IntervalSec == 0 {
		cfg.Monitor.IntervalSec = defaultMonitorIntervalSec
	}
	if cfg.Monitor.CallTimeoutSec == 0 {
		cfg.Monitor.CallTimeoutSec = defaultMonitorCallTimeoutSec
	}

	if cfg.Router.WakeTimeoutSec == 0 {
		cfg.Router.WakeTimeoutSec = defaultWakeTimeoutSec
	}
	if cfg.Router.InvokeTimeoutSec == 0 {
		cfg.Router.InvokeTimeoutSec = defaultInvokeTimeoutSec
	}
	if cfg.Router.OverallTimeoutSec == 0 {
		cfg.Router.OverallTimeoutSec = defaultOverallTimeoutSec
	}
	if cfg.Router.MaxAttempts == 0 {
		cfg.Router.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Router.KeywordWeight == 0 && cfg.Router.AIWeight == 0 {
		cfg.Router.KeywordWeight = defaultKeywordWeight
	}

	if cfg.API.Host == "" {
		cfg.API.Host = defaultAPIHost
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = defaultAPIPort
	}

	if cfg.Runtime.Kind == "" {
		cfg.Runtime.Kind = RuntimeDocker
	}
	if cfg.Runtime.CallTimeoutSec == 0 {
		cfg.Runtime.CallTimeoutSec = defaultRuntimeCallTimeoutSec
	}

	for i := range cfg.Services {
		svc := &cfg.Services[i]
		if svc.SleepPolicy.Priority == "" {
			svc.SleepPolicy.Priority = PriorityNormal
		}
		// minSleepSec is deliberately not defaulted: zero is a valid
		// setting that disables the anti-flapping guard.
		if svc.SleepPolicy.Enabled && svc.SleepPolicy.IdleTimeoutSec == 0 {
			svc.SleepPolicy.IdleTimeoutSec = defaultIdleTimeoutSec
		}
		if svc.HealthCheck.Path == "" {
			svc.HealthCheck.Path = defaultHealthCheckPath
		}
		if svc.HealthCheck.IntervalSec == 0 {
			svc.HealthCheck.IntervalSec = defaultHealthCheckIntervalSec
		}
		if svc.HealthCheck.TimeoutSec == 0 {
			svc.HealthCheck.TimeoutSec = defaultHealthCheckTimeoutSec
		}
	}
}
