// Package health reports the readiness of a deployment's provisioned
// surfaces. Checks are cached briefly so the endpoint can be polled by
// dashboards without hammering the Fabric API.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/twinforge/twinforge/pkg/configstore"
	"github.com/twinforge/twinforge/pkg/telemetry"
)

const defaultCacheTTL = 30 * time.Second

// Status is the readiness snapshot served to clients.
type Status struct {
	// Configured reports whether a workspace identifier has been recorded.
	Configured bool `json:"configured"`

	// WorkspaceConnected reports whether the recorded workspace answered a
	// probe on the last check.
	WorkspaceConnected bool `json:"workspace_connected"`

	// QueryReady reports whether the graph query surface is usable.
	QueryReady bool `json:"query_ready"`

	WorkspaceID  string `json:"workspace_id"`
	GraphModelID string `json:"graph_model_id"`
}

// APIClient probes the Fabric API. Satisfied by the fabric adapter client.
type APIClient interface {
	Get(ctx context.Context, path string, out any) error
}

// Checker computes and caches readiness snapshots.
type Checker struct {
	settings *configstore.Store
	client   APIClient
	ttl      time.Duration
	logger   *telemetry.Logger

	mu      sync.Mutex
	cached  Status
	expires time.Time
}

// NewChecker creates a checker. A nil client disables the workspace probe;
// workspace_connected then mirrors configured.
func NewChecker(settings *configstore.Store, client APIClient, ttl time.Duration, logger *telemetry.Logger) *Checker {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = telemetry.NewTestLogger()
	}
	return &Checker{
		settings: settings,
		client:   client,
		ttl:      ttl,
		logger:   logger.WithComponent("health"),
	}
}

// Check returns the readiness snapshot, recomputing it when the cached one
// has expired.
func (c *Checker) Check(ctx context.Context) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Now().Before(c.expires) {
		return c.cached
	}

	status := c.compute(ctx)
	c.cached = status
	c.expires = time.Now().Add(c.ttl)
	return status
}

// Invalidate drops the cached snapshot so the next check recomputes.
func (c *Checker) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expires = time.Time{}
}

func (c *Checker) compute(ctx context.Context) Status {
	settings, err := c.settings.Load(ctx)
	if err != nil {
		c.logger.Warn("Health check could not load settings", "error", err.Error())
		return Status{}
	}

	status := Status{
		Configured:   settings.Configured(),
		QueryReady:   settings.QueryReady(),
		WorkspaceID:  settings.WorkspaceID,
		GraphModelID: settings.GraphModelID,
	}
	if !status.Configured {
		return status
	}

	if c.client == nil {
		status.WorkspaceConnected = true
		return status
	}
	if err := c.client.Get(ctx, fmt.Sprintf("/workspaces/%s", settings.WorkspaceID), nil); err != nil {
		c.logger.Debug("Workspace probe failed", "workspace_id", settings.WorkspaceID, "error", err.Error())
		return status
	}
	status.WorkspaceConnected = true
	return status
}
