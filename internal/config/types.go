package config

// Priority controls how aggressively the idle monitor may sleep a service.
type Priority string

const (
	// PriorityHigh marks services that are treated as always-on. The idle
	// monitor never sleeps them unless explicitly re-enabled.
	PriorityHigh Priority = "high"
	// PriorityNormal is the default sleep priority.
	PriorityNormal Priority = "normal"
	// PriorityLow marks services that should be slept eagerly.
	PriorityLow Priority = "low"
)

// ResourceLimits bounds the memory and CPU handed to a provider process.
type ResourceLimits struct {
	MemoryMB int     `yaml:"memoryMB,omitempty"`
	CPUShare float64 `yaml:"cpuShare,omitempty"`
}

// SleepPolicy configures when the idle monitor may put a service to sleep.
type SleepPolicy struct {
	Enabled        bool     `yaml:"enabled"`
	IdleTimeoutSec int      `yaml:"idleTimeoutSec,omitempty"`
	MinSleepSec    int      `yaml:"minSleepSec,omitempty"`
	Priority       Priority `yaml:"priority,omitempty"`
}

// HealthCheck configures the readiness probe used while a service is
// starting or waking.
type HealthCheck struct {
	Path        string `yaml:"path,omitempty"`
	IntervalSec int    `yaml:"intervalSec,omitempty"`
	TimeoutSec  int    `yaml:"timeoutSec,omitempty"`
}

// ServiceDefinition is the static description of one tool provider.
// Definitions are immutable once loaded; a reload replaces the whole table.
type ServiceDefinition struct {
	Name           string         `yaml:"name"`
	Image          string         `yaml:"image,omitempty"`
	StartCommand   []string       `yaml:"startCommand,omitempty"`
	Port           int            `yaml:"port"`
	ResourceLimits ResourceLimits `yaml:"resourceLimits,omitempty"`
	AutoStart      bool           `yaml:"autoStart,omitempty"`
	SleepPolicy    SleepPolicy    `yaml:"sleepPolicy,omitempty"`
	HealthCheck    HealthCheck    `yaml:"healthCheck,omitempty"`

	// ScalingPolicy references a policy from the scaling-policy table by
	// name. Empty means the global default applies.
	ScalingPolicy string `yaml:"scalingPolicy,omitempty"`
}

// ScalingPolicy is a named scaling profile referenced by services.
type ScalingPolicy struct {
	Name                 string  `yaml:"name"`
	MinInstances         int     `yaml:"minInstances,omitempty"`
	MaxInstances         int     `yaml:"maxInstances,omitempty"`
	IdleTimeoutSec       int     `yaml:"idleTimeoutSec,omitempty"`
	TargetCPUUtilization float64 `yaml:"targetCpuUtilization,omitempty"`
}

// MonitorConfig configures the idle monitor loop.
type MonitorConfig struct {
	IntervalSec    int `yaml:"intervalSec,omitempty"`
	CallTimeoutSec int `yaml:"callTimeoutSec,omitempty"`

	// SleepHighPriority re-enables sleep consideration for services with
	// priority "high". Off by default.
	SleepHighPriority bool `yaml:"sleepHighPriority,omitempty"`
}

// RouterConfig configures the task router's budgets and scoring weights.
type RouterConfig struct {
	WakeTimeoutSec    int     `yaml:"wakeTimeoutSec,omitempty"`
	InvokeTimeoutSec  int     `yaml:"invokeTimeoutSec,omitempty"`
	OverallTimeoutSec int     `yaml:"overallTimeoutSec,omitempty"`
	MaxAttempts       int     `yaml:"maxAttempts,omitempty"`
	KeywordWeight     float64 `yaml:"keywordWeight,omitempty"`
	AIWeight          float64 `yaml:"aiWeight,omitempty"`
}

// APIConfig configures the control API listener.
type APIConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
}

// RuntimeKind selects the container runtime adapter.
type RuntimeKind string

const (
	RuntimeDocker  RuntimeKind = "docker"
	RuntimeProcess RuntimeKind = "process"
)

// RuntimeConfig configures the runtime adapter boundary.
type RuntimeConfig struct {
	Kind           RuntimeKind `yaml:"kind,omitempty"`
	CallTimeoutSec int         `yaml:"callTimeoutSec,omitempty"`
}

// Config is the top-level configuration structure for toolplane.
type Config struct {
	Services        []ServiceDefinition `yaml:"services"`
	ScalingPolicies []ScalingPolicy     `yaml:"scalingPolicies,omitempty"`
	Monitor         MonitorConfig       `yaml:"monitor,omitempty"`
	Router          RouterConfig        `yaml:"router,omitempty"`
	API             APIConfig           `yaml:"api,omitempty"`
	Runtime         RuntimeConfig       `yaml:"runtime,omitempty"`
}
