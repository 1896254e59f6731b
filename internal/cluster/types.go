package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dreamware/splitsync/internal/protocol"
)

// Node health states as tracked by the central's registry.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusUnknown   = "unknown"
)

// NodeInfo describes one follower from the central's point of view.
type NodeInfo struct {
	ID       protocol.NodeID `json:"id"`       // Protocol identity, 1..MaxFollowers
	Instance string          `json:"instance"` // Stable UUID chosen by the follower
	Addr     string          `json:"addr"`     // Base URL for /relay and /health
	Status   string          `json:"status,omitempty"`
}

// RegisterRequest is what a follower sends to attach to the central.
// The instance UUID is stable across restarts so the follower gets its
// previous protocol identity back.
type RegisterRequest struct {
	Instance string `json:"instance"`
	Addr     string `json:"addr"`
}

// RegisterResponse returns the protocol identity the central assigned.
type RegisterResponse struct {
	ID protocol.NodeID `json:"id"`
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

// PostJSON posts body as JSON to url and, when out is non-nil, decodes the
// response into it. Non-2xx statuses are errors.
func PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetJSON fetches url and decodes the JSON response into out.
func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
