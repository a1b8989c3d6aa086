package router

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"toolplane/internal/catalog"
	"toolplane/internal/config"
	"toolplane/internal/events"
	"toolplane/internal/lifecycle"
	"toolplane/internal/scoring"
	"toolplane/pkg/logging"
)

const subsystem = "Router"

// TaskRequest is a free-text task to be routed to the best matching tool.
type TaskRequest struct {
	Description string                 `json:"description"`
	Context     map[string]interface{} `json:"context,omitempty"`
}

// Result carries the winning tool's output plus the full attempt trail,
// including the attempts that failed before the winner.
type Result struct {
	RequestID    string              `json:"requestId"`
	ToolID       string              `json:"toolId"`
	OwnerService string              `json:"ownerService"`
	Score        float64             `json:"score"`
	Attempts     []Attempt           `json:"attempts"`
	Output       *mcp.CallToolResult `json:"output"`
}

// Router drives the per-request pipeline: score the catalog, pick the best
// candidate whose owner is usable, wake or start the owner if needed, invoke,
// and fall back down the ranking on failure.
type Router struct {
	catalog  *catalog.Catalog
	scorer   scoring.Scorer
	machine  *lifecycle.Machine
	invoker  ToolInvoker
	recorder *events.Recorder

	wakeTimeout    time.Duration
	invokeTimeout  time.Duration
	overallTimeout time.Duration
	maxAttempts    int
}

// New builds a router from the config-level timeouts.
func New(cat *catalog.Catalog, scorer scoring.Scorer, machine *lifecycle.Machine, invoker ToolInvoker, recorder *events.Recorder, cfg config.RouterConfig) *Router {
	return &Router{
		catalog:        cat,
		scorer:         scorer,
		machine:        machine,
		invoker:        invoker,
		recorder:       recorder,
		wakeTimeout:    time.Duration(cfg.WakeTimeoutSec) * time.Second,
		invokeTimeout:  time.Duration(cfg.InvokeTimeoutSec) * time.Second,
		overallTimeout: time.Duration(cfg.OverallTimeoutSec) * time.Second,
		maxAttempts:    cfg.MaxAttempts,
	}
}

// Search scores the catalog against a description without invoking anything.
func (r *Router) Search(ctx context.Context, description string, includeCold bool) ([]scoring.ToolScore, error) {
	return r.scorer.Score(ctx, description, r.catalog.Snapshot(includeCold))
}

// Execute routes one task. On success the result's attempt trail ends with
// the winning attempt; on exhaustion the returned error carries the whole
// trail in ranked order.
func (r *Router) Execute(ctx context.Context, req TaskRequest) (*Result, error) {
	requestID := uuid.NewString()

	ctx, cancel := context.WithTimeout(ctx, r.overallTimeout)
	defer cancel()

	scores, err := r.scorer.Score(ctx, req.Description, r.catalog.Snapshot(false))
	if err != nil {
		return nil, fmt.Errorf("scoring failed: %w", err)
	}

	var attempts []Attempt
	tried := 0
	for _, candidate := range scores {
		if tried >= r.maxAttempts {
			break
		}
		if err := ctx.Err(); err != nil {
			logging.Warn(subsystem, "[%s] Overall deadline exceeded after %d attempts", requestID, len(attempts))
			break
		}

		tool := candidate.Tool
		view, err := r.machine.Status(tool.OwnerService)
		if err != nil {
			attempts = append(attempts, Attempt{ToolID: tool.ID, Stage: "select", Reason: err.Error()})
			continue
		}
		if view.Status == lifecycle.StatusError {
			logging.Debug(subsystem, "[%s] Skipping %s, owner %s is in error state", requestID, tool.ID, tool.OwnerService)
			attempts = append(attempts, Attempt{ToolID: tool.ID, Stage: "select", Reason: "owner in error state"})
			continue
		}
		tried++

		if err := r.ensureAwake(ctx, view); err != nil {
			logging.Info(subsystem, "[%s] Wake of %s for %s failed, falling back: %v", requestID, tool.OwnerService, tool.ID, err)
			r.record(events.ReasonTaskFallback, tool.OwnerService, requestID, fmt.Sprintf("wake failed for %s: %v", tool.ID, err))
			attempts = append(attempts, Attempt{ToolID: tool.ID, Stage: "wake", Reason: err.Error()})
			continue
		}

		output, err := r.invokeWithRetry(ctx, requestID, tool, req.Context)
		if err != nil {
			logging.Info(subsystem, "[%s] Invocation of %s failed, falling back: %v", requestID, tool.ID, err)
			r.record(events.ReasonTaskFallback, tool.OwnerService, requestID, fmt.Sprintf("invocation of %s failed: %v", tool.ID, err))
			attempts = append(attempts, Attempt{ToolID: tool.ID, Stage: "invoke", Reason: err.Error()})
			continue
		}

		r.machine.MarkActivity(tool.OwnerService)
		attempts = append(attempts, Attempt{ToolID: tool.ID, Stage: "invoke", OK: true})
		logging.Info(subsystem, "[%s] Routed task to %s after %d attempts", requestID, tool.ID, len(attempts))
		r.record(events.ReasonTaskRouted, tool.OwnerService, requestID, fmt.Sprintf("routed to %s", tool.ID))

		return &Result{
			RequestID:    requestID,
			ToolID:       tool.ID,
			OwnerService: tool.OwnerService,
			Score:        candidate.Score,
			Attempts:     attempts,
			Output:       output,
		}, nil
	}

	logging.Warn(subsystem, "[%s] All candidates exhausted after %d attempts", requestID, len(attempts))
	r.record(events.ReasonTaskExhausted, "", requestID, fmt.Sprintf("%d candidates exhausted", len(attempts)))
	return nil, &ExhaustedError{Attempts: attempts}
}

// ensureAwake brings the candidate's owner to running, blocking up to the
// wake timeout. A stopped owner is only started when autoStart allows it.
func (r *Router) ensureAwake(ctx context.Context, view lifecycle.View) error {
	wctx, cancel := context.WithTimeout(ctx, r.wakeTimeout)
	defer cancel()

	switch view.Status {
	case lifecycle.StatusRunning:
		return nil
	case lifecycle.StatusSleeping, lifecycle.StatusWaking:
		return r.machine.Wake(wctx, view.Name)
	case lifecycle.StatusStopped, lifecycle.StatusStarting:
		if !view.AutoStart {
			return fmt.Errorf("owner %s is stopped and not auto-startable", view.Name)
		}
		return r.machine.Start(wctx, view.Name)
	default:
		return fmt.Errorf("owner %s is %s", view.Name, view.Status)
	}
}

// invokeWithRetry calls the tool once, and once more when the failure looks
// transient.
func (r *Router) invokeWithRetry(ctx context.Context, requestID string, tool catalog.Tool, args map[string]interface{}) (*mcp.CallToolResult, error) {
	output, err := r.invokeOnce(ctx, tool, args)
	if err == nil {
		return output, nil
	}
	if !isTransient(err) {
		return nil, err
	}
	logging.Debug(subsystem, "[%s] Transient failure from %s, retrying once: %v", requestID, tool.ID, err)
	return r.invokeOnce(ctx, tool, args)
}

func (r *Router) invokeOnce(ctx context.Context, tool catalog.Tool, args map[string]interface{}) (*mcp.CallToolResult, error) {
	ictx, cancel := context.WithTimeout(ctx, r.invokeTimeout)
	defer cancel()
	return r.invoker.Invoke(ictx, tool, args)
}

func (r *Router) record(reason events.EventReason, service, requestID, message string) {
	if r.recorder == nil {
		return
	}
	r.recorder.Record(reason, service, requestID, message)
}
