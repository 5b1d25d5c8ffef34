// Package router binds the traffic routing collaborator boundary: the load
// balancer and weighted-DNS write APIs that carry the live split.
package router

import (
	"bytes"
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

const defaultApplyTimeout = 10 * time.Second

// Client applies a weight pair to both routing mechanisms and confirms the
// change took effect. Stateless; the controller serializes calls for a run.
type Client struct {
	lbURL      string
	dnsURL     string
	runID      string
	httpClient *http.Client
}

func NewClient(lbURL, dnsURL, runID string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultApplyTimeout
	}
	return &Client{
		lbURL:      strings.TrimRight(strings.TrimSpace(lbURL), "/"),
		dnsURL:     strings.TrimRight(strings.TrimSpace(dnsURL), "/"),
		runID:      runID,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type weightPayload struct {
	Old int `json:"old"`
	New int `json:"new"`
}

// Apply pushes weight to both mechanisms. Idempotent: mechanisms already at
// the target are read, not re-written, so a repeated Apply of the same
// weight performs no write at all. A write that lands on one mechanism but
// not the other surfaces ErrPartiallyApplied; a failure before anything
// diverged surfaces ErrUnavailable.
func (c *Client) Apply(ctx context.Context, weight migration.TrafficWeight) error {
	start := time.Now()
	err := c.apply(ctx, weight)
	observability.RecordCollaboratorRequest(c.runID, "router", time.Since(start), err == nil)
	return err
}

func (c *Client) apply(ctx context.Context, weight migration.TrafficWeight) error {
	if err := weight.Validate(); err != nil {
		return err
	}

	mechanisms := []struct {
		name string
		url  string
	}{
		{"load_balancer", c.lbURL},
		{"dns", c.dnsURL},
	}

	pending := make([]int, 0, len(mechanisms))
	for i, m := range mechanisms {
		current, err := c.readWeights(ctx, m.url)
		if err != nil {
			return fmt.Errorf("%w: read %s weights: %v", migration.ErrUnavailable, m.name, err)
		}
		if current != weight {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	applied := 0
	for _, i := range pending {
		m := mechanisms[i]
		if err := c.writeWeights(ctx, m.url, weight); err != nil {
			if applied > 0 {
				return fmt.Errorf("%w: %s updated but %s write failed: %v",
					migration.ErrPartiallyApplied, mechanisms[pending[0]].name, m.name, err)
			}
			return fmt.Errorf("%w: write %s weights: %v", migration.ErrUnavailable, m.name, err)
		}
		applied++
	}

	// Read back to confirm the change took effect on every written mechanism.
	for _, i := range pending {
		m := mechanisms[i]
		current, err := c.readWeights(ctx, m.url)
		if err != nil {
			return fmt.Errorf("%w: confirm %s weights: %v", migration.ErrPartiallyApplied, m.name, err)
		}
		if current != weight {
			return fmt.Errorf("%w: %s reports %s after writing %s",
				migration.ErrPartiallyApplied, m.name, current, weight)
		}
	}
	return nil
}

func (c *Client) readWeights(ctx context.Context, baseURL string) (migration.TrafficWeight, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/weights", nil)
	if err != nil {
		return migration.TrafficWeight{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return migration.TrafficWeight{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return migration.TrafficWeight{}, fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return migration.TrafficWeight{}, err
	}
	var payload weightPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return migration.TrafficWeight{}, err
	}
	return migration.NewTrafficWeight(payload.Old, payload.New)
}

func (c *Client) writeWeights(ctx context.Context, baseURL string, weight migration.TrafficWeight) error {
	body, err := json.Marshal(weightPayload{Old: weight.Old, New: weight.New})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, baseURL+"/weights", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

var _ migration.TrafficRouter = (*Client)(nil)
