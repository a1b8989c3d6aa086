package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"toolplane/internal/events"
	"toolplane/internal/lifecycle"
	"toolplane/pkg/logging"
)

const subsystem = "Catalog"

// Tool is one catalog entry. The ID is globally unique across providers,
// formed as "<service>.<tool name>", so two providers exposing a tool with
// the same local name never collide.
type Tool struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Description  string              `json:"description"`
	OwnerService string              `json:"ownerService"`
	InputSchema  mcp.ToolInputSchema `json:"inputSchema"`
}

// entry holds one provider's tools. Entries are replaced wholesale on
// refresh; readers hold the slice they got from Snapshot.
type entry struct {
	tools     []Tool
	cold      bool
	autoStart bool
}

// Catalog maintains the aggregated tool inventory across all providers. It
// follows lifecycle transitions: a provider entering running triggers a
// rediscovery of its tools, and a provider that gets stopped keeps its last
// known tools but flagged cold. A sleeping provider's tools stay warm so the
// router can still select them and wake the owner.
type Catalog struct {
	machine  *lifecycle.Machine
	lister   ToolLister
	recorder *events.Recorder

	mu      sync.RWMutex
	entries map[string]*entry
}

// New creates a catalog. Call Sync to populate it and Run to keep it
// following lifecycle transitions.
func New(machine *lifecycle.Machine, lister ToolLister, recorder *events.Recorder) *Catalog {
	return &Catalog{
		machine:  machine,
		lister:   lister,
		recorder: recorder,
		entries:  make(map[string]*entry),
	}
}

// Sync rediscovers tools for every currently running provider and prunes
// entries whose owner no longer exists. Providers are queried concurrently;
// a failure for one provider does not block the others.
func (c *Catalog) Sync(ctx context.Context) {
	views := c.machine.List()

	known := make(map[string]bool, len(views))
	for _, v := range views {
		known[v.Name] = true
	}
	c.mu.Lock()
	for name := range c.entries {
		if !known[name] {
			delete(c.entries, name)
		}
	}
	c.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, v := range views {
		if v.Status != lifecycle.StatusRunning {
			continue
		}
		name := v.Name
		g.Go(func() error {
			c.Refresh(ctx, name)
			return nil
		})
	}
	_ = g.Wait()
}

// Run consumes lifecycle transitions until ctx is cancelled.
func (c *Catalog) Run(ctx context.Context) {
	ch := c.machine.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-ch:
			if !ok {
				return
			}
			c.handleTransition(ctx, t)
		}
	}
}

func (c *Catalog) handleTransition(ctx context.Context, t lifecycle.Transition) {
	switch t.To {
	case lifecycle.StatusRunning:
		c.Refresh(ctx, t.Service)
	case lifecycle.StatusStopped:
		c.markCold(t.Service)
	}
}

// Refresh rebuilds one provider's entry from its live tool list. On failure
// the previous entry is retained so a transient discovery error does not
// blank out a provider's tools.
func (c *Catalog) Refresh(ctx context.Context, service string) {
	view, err := c.machine.Status(service)
	if err != nil {
		logging.Debug(subsystem, "Skipping refresh for unknown service %s", service)
		return
	}

	raw, err := c.lister.ListTools(ctx, *view.Definition)
	if err != nil {
		logging.Warn(subsystem, "Tool discovery for %s failed, retaining previous entry: %v", service, err)
		c.record(events.ReasonToolsRefreshFailed, service, fmt.Sprintf("tool discovery failed: %v", err))
		c.reheat(service)
		return
	}

	tools := make([]Tool, 0, len(raw))
	for _, t := range raw {
		tools = append(tools, Tool{
			ID:           service + "." + t.Name,
			Name:         t.Name,
			Description:  t.Description,
			OwnerService: service,
			InputSchema:  t.InputSchema,
		})
	}

	c.mu.Lock()
	c.entries[service] = &entry{tools: tools, autoStart: view.AutoStart}
	c.mu.Unlock()

	logging.Info(subsystem, "Discovered %d tools from %s", len(tools), service)
	c.record(events.ReasonToolsDiscovered, service, fmt.Sprintf("discovered %d tools", len(tools)))
}

// markCold keeps a stopped provider's tools listed but flags the entry so
// Snapshot can exclude it for owners that will not be auto-started.
func (c *Catalog) markCold(service string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[service]; ok {
		c.entries[service] = &entry{tools: e.tools, cold: true, autoStart: e.autoStart}
	}
}

// reheat clears the cold flag after the owner came back up, even when the
// rediscovery itself failed and stale tools are being served.
func (c *Catalog) reheat(service string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[service]; ok && e.cold {
		c.entries[service] = &entry{tools: e.tools, autoStart: e.autoStart}
	}
}

// Snapshot returns the union of all provider entries, ordered by tool ID.
// Tools of a stopped provider that would not be auto-started are invisible
// unless includeCold is set, since the router could never invoke them.
func (c *Catalog) Snapshot(includeCold bool) []Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Tool
	for _, e := range c.entries {
		if e.cold && !e.autoStart && !includeCold {
			continue
		}
		out = append(out, e.tools...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Find returns the tool with the given ID.
func (c *Catalog) Find(id string) (Tool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		for _, t := range e.tools {
			if t.ID == id {
				return t, true
			}
		}
	}
	return Tool{}, false
}

func (c *Catalog) record(reason events.EventReason, service, message string) {
	if c.recorder == nil {
		return
	}
	c.recorder.Record(reason, service, "", message)
}
