// Package monitor binds the metrics collaborator boundary: one bounded HTTP
// read per poll cycle, no retries, no state.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/shiftctl/internal/migration"
	"github.com/danmuck/shiftctl/internal/observability"
)

const defaultSampleTimeout = 5 * time.Second

// Client reads point-in-time health for a named migration run from the
// monitoring collaborator's HTTP API.
type Client struct {
	baseURL    string
	runID      string
	httpClient *http.Client
}

// NewClient binds a client to one collaborator endpoint and run. timeout <= 0
// falls back to the 5s default.
func NewClient(baseURL, runID string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultSampleTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		runID:      runID,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type healthResponse struct {
	ReplicationLagMillis int64   `json:"replication_lag_ms"`
	ErrorRatePercent     float64 `json:"error_rate_percent"`
	HealthyTargetCount   int     `json:"healthy_targets"`
	TotalTargetCount     int     `json:"total_targets"`
}

// Sample fetches one health snapshot. Transport failure, timeout, non-200
// status, and malformed bodies all map to ErrUnavailable; the control loop
// absorbs those and holds.
func (c *Client) Sample(ctx context.Context) (migration.HealthSnapshot, error) {
	start := time.Now()
	snap, err := c.sample(ctx)
	observability.RecordCollaboratorRequest(c.runID, "metrics", time.Since(start), err == nil)
	return snap, err
}

func (c *Client) sample(ctx context.Context) (migration.HealthSnapshot, error) {
	url := fmt.Sprintf("%s/runs/%s/health", c.baseURL, c.runID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return migration.HealthSnapshot{}, fmt.Errorf("%w: build health request: %v", migration.ErrUnavailable, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return migration.HealthSnapshot{}, fmt.Errorf("%w: %v", migration.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return migration.HealthSnapshot{}, fmt.Errorf("%w: metrics collaborator returned status %d",
			migration.ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return migration.HealthSnapshot{}, fmt.Errorf("%w: read health body: %v", migration.ErrUnavailable, err)
	}
	var parsed healthResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return migration.HealthSnapshot{}, fmt.Errorf("%w: parse health body: %v", migration.ErrUnavailable, err)
	}

	snap := migration.HealthSnapshot{
		ReplicationLagMillis: parsed.ReplicationLagMillis,
		ErrorRatePercent:     parsed.ErrorRatePercent,
		HealthyTargetCount:   parsed.HealthyTargetCount,
		TotalTargetCount:     parsed.TotalTargetCount,
		ObservedAt:           time.Now().UTC(),
	}
	if err := snap.Validate(); err != nil {
		return migration.HealthSnapshot{}, fmt.Errorf("%w: %v", migration.ErrUnavailable, err)
	}
	return snap, nil
}

var _ migration.MetricsSource = (*Client)(nil)
