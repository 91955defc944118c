// Package collab holds the HTTP clients for the external
// collaborators the optimization loop mutates: the routing agent, the
// script manager, and the schedule planner.
package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/homereach/leadpilot/internal/domain"
	"github.com/homereach/leadpilot/internal/pkg/httpretry"
)

// Client talks to one collaborator service.
type Client struct {
	baseURL string
	client  httpretry.HTTPDoer
}

// NewClient builds a collaborator client. client may be nil.
func NewClient(baseURL string, client httpretry.HTTPDoer) *Client {
	if client == nil {
		client = httpretry.NewRetryClient(nil, 3)
	}
	return &Client{baseURL: baseURL, client: client}
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	if c.baseURL == "" {
		return fmt.Errorf("%w: collaborator endpoint not configured", domain.ErrExternalUnavailable)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrExternalUnavailable, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s returned %d", domain.ErrExternalUnavailable, path, resp.StatusCode)
	}
	return nil
}

// RoutingClient mutates a routing agent's policy. All mutations are
// idempotent by rule id on the agent side.
type RoutingClient struct{ *Client }

// NewRoutingClient wraps a collaborator client for routing mutations.
func NewRoutingClient(baseURL string, client httpretry.HTTPDoer) *RoutingClient {
	return &RoutingClient{NewClient(baseURL, client)}
}

// UpdateConfig applies a partial config patch to one agent.
func (c *RoutingClient) UpdateConfig(ctx context.Context, agentID string, patch map[string]any) error {
	return c.post(ctx, "/agents/"+agentID+"/config", patch)
}

// AddRoutingRule installs one routing rule.
func (c *RoutingClient) AddRoutingRule(ctx context.Context, agentID string, rule domain.RoutingRule) error {
	return c.post(ctx, "/agents/"+agentID+"/rules", rule)
}

// RemoveRoutingRule deletes one routing rule by id.
func (c *RoutingClient) RemoveRoutingRule(ctx context.Context, agentID, ruleID string) error {
	return c.post(ctx, "/agents/"+agentID+"/rules/"+ruleID+"/remove", map[string]string{"rule_id": ruleID})
}

// ScriptClient applies and reverts conversation script changes.
type ScriptClient struct{ *Client }

// NewScriptClient wraps a collaborator client for script mutations.
func NewScriptClient(baseURL string, client httpretry.HTTPDoer) *ScriptClient {
	return &ScriptClient{NewClient(baseURL, client)}
}

// UpdateScript proposes a script change.
func (c *ScriptClient) UpdateScript(ctx context.Context, scriptID, change string) error {
	return c.post(ctx, "/scripts/"+scriptID, map[string]string{"change": change})
}

// RevertScript restores the script's previous version.
func (c *ScriptClient) RevertScript(ctx context.Context, scriptID string) error {
	return c.post(ctx, "/scripts/"+scriptID+"/revert", map[string]string{})
}

// PlannerClient adjusts and reverts contact timing.
type PlannerClient struct{ *Client }

// NewPlannerClient wraps a collaborator client for timing mutations.
func NewPlannerClient(baseURL string, client httpretry.HTTPDoer) *PlannerClient {
	return &PlannerClient{NewClient(baseURL, client)}
}

// AdjustTiming applies a schedule adjustment for one metric.
func (c *PlannerClient) AdjustTiming(ctx context.Context, metric, adjustment string) error {
	return c.post(ctx, "/timing/"+metric, map[string]string{"adjustment": adjustment})
}

// RevertTiming restores the previous schedule for one metric.
func (c *PlannerClient) RevertTiming(ctx context.Context, metric string) error {
	return c.post(ctx, "/timing/"+metric+"/revert", map[string]string{})
}
