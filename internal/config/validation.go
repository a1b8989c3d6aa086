package config

import (
	"fmt"
	"strings"
)

// Validate checks the whole configuration and returns the first error found.
// It expects defaults to be applied already so that it validates effective
// values.
func Validate(cfg *Config) error {
	seenNames := make(map[string]bool)
	seenPorts := make(map[int]string)

	for i, svc := range cfg.Services {
		field := fmt.Sprintf("services[%d]", i)

		if strings.TrimSpace(svc.Name) == "" {
			return invalidSchema(field+".name", "service name is required")
		}
		if seenNames[svc.Name] {
			return duplicateKey(field+".name", "service name %q is already defined", svc.Name)
		}
		seenNames[svc.Name] = true

		if svc.Image == "" && len(svc.StartCommand) == 0 {
			return invalidSchema(field, "service %q needs an image or a startCommand", svc.Name)
		}
		if svc.Port <= 0 || svc.Port > 65535 {
			return invalidSchema(field+".port", "port %d is out of range for service %q", svc.Port, svc.Name)
		}
		if owner, taken := seenPorts[svc.Port]; taken {
			return duplicateKey(field+".port", "port %d is already used by service %q", svc.Port, owner)
		}
		seenPorts[svc.Port] = svc.Name

		if err := validateSleepPolicy(field+".sleepPolicy", svc.Name, svc.SleepPolicy); err != nil {
			return err
		}

		if svc.ScalingPolicy != "" && !scalingPolicyExists(cfg, svc.ScalingPolicy) {
			return invalidSchema(field+".scalingPolicy",
				"service %q references unknown scaling policy %q", svc.Name, svc.ScalingPolicy)
		}
	}

	seenPolicies := make(map[string]bool)
	for i, pol := range cfg.ScalingPolicies {
		field := fmt.Sprintf("scalingPolicies[%d]", i)

		if strings.TrimSpace(pol.Name) == "" {
			return invalidSchema(field+".name", "scaling policy name is required")
		}
		if seenPolicies[pol.Name] {
			return duplicateKey(field+".name", "scaling policy %q is already defined", pol.Name)
		}
		seenPolicies[pol.Name] = true

		if pol.MaxInstances > 0 && pol.MinInstances > pol.MaxInstances {
			return invalidSchema(field+".minInstances",
				"minInstances %d exceeds maxInstances %d in policy %q",
				pol.MinInstances, pol.MaxInstances, pol.Name)
		}
	}

	if cfg.Runtime.Kind != RuntimeDocker && cfg.Runtime.Kind != RuntimeProcess {
		return invalidSchema("runtime.kind", "unknown runtime kind %q", cfg.Runtime.Kind)
	}

	return nil
}

func validateSleepPolicy(field, service string, sp SleepPolicy) error {
	switch sp.Priority {
	case PriorityHigh, PriorityNormal, PriorityLow:
	default:
		return invalidSchema(field+".priority",
			"priority %q for service %q must be one of high, normal, low", sp.Priority, service)
	}

	if !sp.Enabled {
		return nil
	}
	if sp.MinSleepSec < 0 {
		return invalidSchema(field+".minSleepSec",
			"minSleepSec must be >= 0 for service %q", service)
	}
	if sp.IdleTimeoutSec <= sp.MinSleepSec {
		return invalidSchema(field+".idleTimeoutSec",
			"idleTimeoutSec (%d) must be greater than minSleepSec (%d) for service %q",
			sp.IdleTimeoutSec, sp.MinSleepSec, service)
	}
	return nil
}

func scalingPolicyExists(cfg *Config, name string) bool {
	if name == DefaultScalingPolicyName {
		return true
	}
	for _, pol := range cfg.ScalingPolicies {
		if pol.Name == name {
			return true
		}
	}
	return false
}
