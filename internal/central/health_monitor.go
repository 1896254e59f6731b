// This file implements health monitoring for registered followers.
package central

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dreamware/splitsync/internal/cluster"
	"github.com/dreamware/splitsync/internal/protocol"
)

// followerHealth tracks the check history of a single follower.
// Protected by HealthMonitor's mutex when accessed.
type followerHealth struct {
	lastCheck        time.Time
	lastHealthy      time.Time
	status           string
	consecutiveFails int
}

// HealthMonitor performs periodic health checks on every registered
// follower and reports status transitions to the registry. A follower is
// marked unhealthy after maxFailures consecutive failed checks and healthy
// again on the first success.
//
// The live count derived from these statuses is what lets a bounded
// collection wake early instead of always sleeping the full window.
type HealthMonitor struct {
	registry   *Registry
	clock      clockwork.Clock
	log        *zap.Logger
	httpClient *http.Client
	checkFunc  func(addr string) error

	interval    time.Duration
	timeout     time.Duration
	maxFailures int

	mu        sync.Mutex
	followers map[protocol.NodeID]*followerHealth
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewHealthMonitor creates a monitor that checks each follower's /health
// endpoint every interval. Followers are marked unhealthy after 3
// consecutive failures.
func NewHealthMonitor(registry *Registry, interval time.Duration, clock clockwork.Clock, log *zap.Logger) *HealthMonitor {
	timeout := 2 * time.Second
	return &HealthMonitor{
		registry:    registry,
		clock:       clock,
		log:         log,
		interval:    interval,
		timeout:     timeout,
		maxFailures: 3,
		followers:   make(map[protocol.NodeID]*followerHealth),
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// SetCheckFunction overrides the default HTTP health check. Useful for
// tests and custom probes.
func (h *HealthMonitor) SetCheckFunction(checkFunc func(addr string) error) {
	h.checkFunc = checkFunc
}

// Start begins monitoring in a background goroutine until Stop or ctx
// cancellation. An initial check of all followers runs immediately.
func (h *HealthMonitor) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	if h.checkFunc == nil {
		h.checkFunc = h.defaultHealthCheck
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		ticker := h.clock.NewTicker(h.interval)
		defer ticker.Stop()

		h.log.Info("health monitor started", zap.Duration("interval", h.interval))
		h.checkAll()

		for {
			select {
			case <-ticker.Chan():
				h.checkAll()
			case <-ctx.Done():
				h.log.Info("health monitor stopping")
				return
			}
		}
	}()
}

// Stop shuts the monitor down and waits for the check loop to exit.
func (h *HealthMonitor) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()
}

// checkAll probes every registered follower and drops tracking for
// followers no longer in the registry.
func (h *HealthMonitor) checkAll() {
	followers := h.registry.Followers()

	current := make(map[protocol.NodeID]bool, len(followers))
	for _, f := range followers {
		current[f.ID] = true
		h.checkOne(f)
	}

	h.mu.Lock()
	for id := range h.followers {
		if !current[id] {
			delete(h.followers, id)
			h.log.Info("removed follower from health monitoring", zap.Stringer("follower", id))
		}
	}
	h.mu.Unlock()
}

// checkOne probes a single follower and updates its status, reporting
// transitions to the registry.
func (h *HealthMonitor) checkOne(f cluster.NodeInfo) {
	h.mu.Lock()
	health, exists := h.followers[f.ID]
	if !exists {
		health = &followerHealth{
			status:      cluster.StatusUnknown,
			lastCheck:   h.clock.Now(),
			lastHealthy: h.clock.Now(),
		}
		h.followers[f.ID] = health
	}
	h.mu.Unlock()

	err := h.checkFunc(f.Addr)

	h.mu.Lock()
	defer h.mu.Unlock()

	health.lastCheck = h.clock.Now()

	if err != nil {
		health.consecutiveFails++
		h.log.Warn("health check failed",
			zap.Stringer("follower", f.ID),
			zap.Int("attempt", health.consecutiveFails),
			zap.Int("max", h.maxFailures),
			zap.Error(err))

		if health.consecutiveFails >= h.maxFailures && health.status != cluster.StatusUnhealthy {
			health.status = cluster.StatusUnhealthy
			h.registry.SetStatus(f.ID, cluster.StatusUnhealthy)
			h.log.Warn("follower marked unhealthy",
				zap.Stringer("follower", f.ID),
				zap.Int("failures", health.consecutiveFails))
		}
		return
	}

	if health.status == cluster.StatusUnhealthy {
		h.log.Info("follower recovered", zap.Stringer("follower", f.ID))
	}
	health.status = cluster.StatusHealthy
	health.consecutiveFails = 0
	health.lastHealthy = h.clock.Now()
	h.registry.SetStatus(f.ID, cluster.StatusHealthy)
}

// defaultHealthCheck performs an HTTP GET against the follower's /health
// endpoint.
func (h *HealthMonitor) defaultHealthCheck(addr string) error {
	url := addr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		url = fmt.Sprintf("http://%s", addr)
	}
	if !strings.HasSuffix(url, "/health") {
		url = strings.TrimRight(url, "/") + "/health"
	}

	resp, err := h.httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// IsHealthy reports whether a follower's latest status is healthy.
// Unmonitored followers report false.
func (h *HealthMonitor) IsHealthy(id protocol.NodeID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	health, exists := h.followers[id]
	return exists && health.status == cluster.StatusHealthy
}
