// gateway.go: Outbound gateway client with retry and request dedup
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package bothost

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// InvokeResult is the uniform response envelope of a gateway action.
type InvokeResult struct {
	Status  string `json:"status"`
	Retcode int    `json:"retcode"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OK reports whether the gateway marked the action successful. Only OK
// results are cached by request deduplication; failures are evicted so the
// next identical call retries fresh.
func (r *InvokeResult) OK() bool {
	return r != nil && r.Status == "ok" && r.Retcode == 0
}

// AsMap returns the result as a plain map for handing to plugin code.
func (r *InvokeResult) AsMap() map[string]any {
	m := map[string]any{
		"status":  r.Status,
		"retcode": r.Retcode,
	}
	if r.Data != nil {
		m["data"] = r.Data
	}
	if r.Error != "" {
		m["error"] = r.Error
	}
	return m
}

// defaultLongActions are gateway actions that routinely exceed the normal
// request timeout and get the long-operation budget instead.
var defaultLongActions = map[string]struct{}{
	"upload_group_file":        {},
	"upload_private_file":      {},
	"send_group_forward_msg":   {},
	"send_private_forward_msg": {},
}

// GatewayClient wraps the messaging gateway's remote action API behind one
// operation: Invoke(action, params). It applies retry with backoff and
// request deduplication uniformly, so callers (the host and every plugin)
// get identical semantics.
type GatewayClient struct {
	baseURL string
	token   string
	client  *http.Client
	dedup   *DeduplicationManager
	stats   *SharedStateStore
	logger  Logger

	maxRetries     int
	requestTimeout time.Duration
	longTimeout    time.Duration
	waitTimeout    time.Duration
	longActions    map[string]struct{}
}

// NewGatewayClient builds a client from the host configuration. The dedup
// manager may be shared with the event side; pass nil to disable request
// deduplication entirely. A non-nil stats store receives per-request
// success/failure accounting in its framework performance counters.
func NewGatewayClient(cfg HostConfig, dedup *DeduplicationManager, stats *SharedStateStore, logger any) *GatewayClient {
	return &GatewayClient{
		baseURL: strings.TrimRight(cfg.GatewayBaseURL, "/"),
		token:   cfg.GatewayToken,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		dedup:          dedup,
		stats:          stats,
		logger:         NewLogger(logger),
		maxRetries:     cfg.GatewayMaxRetries,
		requestTimeout: cfg.GatewayRequestTimeout,
		longTimeout:    cfg.GatewayLongTimeout,
		waitTimeout:    cfg.RequestWaitTimeout,
		longActions:    defaultLongActions,
	}
}

// Invoke performs one gateway action and returns its result envelope.
//
// Duplicate suppression: when an identical request is already in flight the
// call waits briefly for its result instead of issuing a second one; a
// recently completed identical request returns the cached result without
// touching the network.
func (g *GatewayClient) Invoke(ctx context.Context, action string, params map[string]any) (*InvokeResult, error) {
	if g.dedup != nil {
		state, cached := g.dedup.CheckRequest(action, params)
		switch state {
		case RequestCompleted:
			g.logger.Debug("Returning cached gateway result", "action", action)
			return cached, nil
		case RequestPending:
			if result := g.waitForPending(ctx, action, params); result != nil {
				g.logger.Debug("Duplicate gateway request resolved by in-flight call", "action", action)
				return result, nil
			}
			// The in-flight call did not finish in time; fall through and
			// perform the request ourselves.
		}
	}

	result, err := g.performWithRetry(ctx, action, params)
	if g.stats != nil {
		g.stats.IncrementAPIRequests(err == nil && result.OK())
	}
	if g.dedup != nil {
		g.dedup.CompleteRequest(action, params, result)
	}
	return result, err
}

// waitForPending polls for the in-flight duplicate's outcome until the
// wait timeout elapses. Returns nil when no completed result materialized.
func (g *GatewayClient) waitForPending(ctx context.Context, action string, params map[string]any) *InvokeResult {
	deadline := time.Now().Add(g.waitTimeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		state, cached := g.dedup.CheckRequest(action, params)
		if state == RequestCompleted {
			return cached
		}
		if state == RequestAbsent {
			// The in-flight call failed and was evicted; we claimed the
			// fingerprint with this probe, so perform the request.
			return nil
		}
	}
	return nil
}

// performWithRetry issues the HTTP call with exponential backoff between
// attempts. Transient I/O failures are retried here; the caller never is.
func (g *GatewayClient) performWithRetry(ctx context.Context, action string, params map[string]any) (*InvokeResult, error) {
	var lastErr error

	for attempt := 0; attempt < g.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, NewGatewayRequestError(action, ctx.Err())
			case <-time.After(backoff):
			}
		}

		result, err := g.perform(ctx, action, params)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		g.logger.Warn("Gateway request attempt failed",
			"action", action,
			"attempt", attempt+1,
			"max_retries", g.maxRetries,
			"error", err)
	}

	return nil, NewGatewayRequestError(action, lastErr)
}

// perform issues a single HTTP POST for the action.
func (g *GatewayClient) perform(ctx context.Context, action string, params map[string]any) (*InvokeResult, error) {
	timeout := g.requestTimeout
	if _, long := g.longActions[action]; long {
		timeout = g.longTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body := params
	if body == nil {
		body = map[string]any{}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, g.baseURL+"/"+action, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, NewGatewayBadResponseError(action, resp.StatusCode)
	}

	var result InvokeResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Close drains and closes the client's idle connection pool.
func (g *GatewayClient) Close() {
	g.client.CloseIdleConnections()
}
