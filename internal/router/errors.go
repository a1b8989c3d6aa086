package router

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"toolplane/internal/runtime"
)

// Attempt is one entry in a request's fallback trail, in ranked order.
type Attempt struct {
	ToolID string `json:"toolId"`
	// Stage is where the attempt ended: "wake", "invoke" or "select".
	Stage  string `json:"stage"`
	Reason string `json:"reason,omitempty"`
	OK     bool   `json:"ok"`
}

// ExhaustedError reports that every ranked candidate failed. The attempt
// trail always accompanies it so callers never see a bare "no tool found".
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return "no candidate tools in catalog"
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s (%s: %s)", a.ToolID, a.Stage, a.Reason))
	}
	return fmt.Sprintf("all %d candidates exhausted: %s", len(e.Attempts), strings.Join(parts, "; "))
}

// IsExhausted reports whether err is an ExhaustedError.
func IsExhausted(err error) bool {
	var e *ExhaustedError
	return errors.As(err, &e)
}

// transienter lets invoker errors self-classify.
type transienter interface {
	Transient() bool
}

// isTransient classifies an invocation error as worth one retry against the
// same tool. Timeouts and connection-level resets qualify; anything else is
// treated as a permanent failure of that tool.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var tr transienter
	if errors.As(err, &tr) {
		return tr.Transient()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, runtime.ErrRuntimeTimeout) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}
