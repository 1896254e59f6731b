// Package main implements a splitsync follower: a subordinate node that
// stores its own settings, applies changes relayed from the central, and
// answers the central's collection requests.
//
// HTTP API:
//   - POST /rpc     - Settings operations against this follower
//   - POST /relay   - Inbound relay envelopes from the central
//   - GET  /health  - Health check
//   - GET  /metrics - Prometheus metrics
//
// Configuration (flag, env fallback):
//   - --listen   FOLLOWER_LISTEN   Listen address (default ":8081")
//   - --addr     FOLLOWER_ADDR     Public address for the central (default "http://127.0.0.1:8081")
//   - --central  CENTRAL_ADDR      Central base URL (required)
//   - --instance FOLLOWER_INSTANCE Stable instance UUID (default: random)
//   - --debug                      Verbose logging
//
// The follower registers with the central at startup, retrying to ride out
// central startup delays, and only then wires its relay and engine with
// the identity the central assigned.
package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/dreamware/splitsync/internal/bus"
	"github.com/dreamware/splitsync/internal/cluster"
	"github.com/dreamware/splitsync/internal/engine"
	"github.com/dreamware/splitsync/internal/protocol"
	"github.com/dreamware/splitsync/internal/relay"
	"github.com/dreamware/splitsync/internal/rpc"
	"github.com/dreamware/splitsync/internal/settings"
	"github.com/dreamware/splitsync/internal/telemetry"
)

// Registration retry policy, tuned to ride out a central that is still
// starting.
const (
	registerAttempts = 10
	registerDelay    = 400 * time.Millisecond
)

// server holds the follower's wired components. They are nil until
// registration completes; handlers answer 503 in that gap.
type server struct {
	mu     sync.RWMutex
	relay  *relay.Relay
	router *rpc.Router
	log    *zap.Logger
}

// ready installs the wired components once the central has assigned an
// identity.
func (s *server) ready(rel *relay.Relay, router *rpc.Router) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relay = rel
	s.router = router
}

func (s *server) components() (*relay.Relay, *rpc.Router) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.relay, s.router
}

func main() {
	listen := pflag.String("listen", getenv("FOLLOWER_LISTEN", ":8081"), "listen address")
	public := pflag.String("addr", getenv("FOLLOWER_ADDR", "http://127.0.0.1:8081"), "public address for the central")
	centralAddr := pflag.String("central", getenv("CENTRAL_ADDR", ""), "central base URL")
	instance := pflag.String("instance", getenv("FOLLOWER_INSTANCE", ""), "stable instance UUID")
	debug := pflag.Bool("debug", false, "verbose logging")
	pflag.Parse()

	log := newLogger(*debug)
	defer log.Sync()

	if *centralAddr == "" {
		log.Fatal("central address is required (--central / CENTRAL_ADDR)")
	}
	if *instance == "" {
		*instance = uuid.NewString()
		log.Info("generated instance id", zap.String("instance", *instance))
	}

	srv := &server{log: log}

	mux := http.NewServeMux()
	mux.Handle("/rpc", telemetry.Instrument("rpc", http.HandlerFunc(srv.handleRPC)))
	mux.Handle("/relay", telemetry.Instrument("relay", http.HandlerFunc(srv.handleRelay)))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", telemetry.MetricsHandler())

	httpSrv := &http.Server{
		Addr:              *listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("follower listening",
			zap.String("addr", *listen),
			zap.String("public", *public))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen failed", zap.Error(err))
		}
	}()

	// Register, then wire the relay and engine with the assigned
	// identity. Relay traffic arriving before this point gets a 503 and
	// the central's next reconciliation covers the gap.
	self := register(context.Background(), *centralAddr, *instance, *public, log)

	store := settings.NewMemoryStore()
	b := bus.New()

	link := cluster.NewFollowerLink(*centralAddr, log)
	rel := relay.New(b, link, relay.RoleFollower, self, log)

	// A follower has no followers of its own: collection returns the
	// local value without waiting.
	strategy := engine.NewBounded(b, clockwork.NewRealClock(), engine.DefaultWindow,
		func() int { return 0 }, log)

	eng := engine.New(store, b, relay.RoleFollower, self, strategy, log)
	srv.ready(rel, rpc.NewRouter(eng, log))
	log.Info("follower ready", zap.Stringer("id", self))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	log.Info("follower stopped")
}

// register attaches to the central, retrying on failure, and returns the
// assigned protocol identity. Persistent failure is fatal: a follower
// cannot operate unattached.
func register(ctx context.Context, centralAddr, instance, public string, log *zap.Logger) protocol.NodeID {
	body := cluster.RegisterRequest{Instance: instance, Addr: public}
	var resp cluster.RegisterResponse
	var lastErr error

	for i := 0; i < registerAttempts; i++ {
		lastErr = cluster.PostJSON(ctx, centralAddr+"/register", body, &resp)
		if lastErr == nil {
			log.Info("registered with central",
				zap.String("central", centralAddr),
				zap.Stringer("id", resp.ID))
			return resp.ID
		}
		log.Warn("register retry", zap.Int("attempt", i+1), zap.Error(lastErr))
		time.Sleep(registerDelay)
	}

	log.Fatal("failed to register with central", zap.Error(lastErr))
	return 0 // unreachable
}

// handleRPC feeds one opaque request payload through the router.
func (s *server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	_, router := s.components()
	if router == nil {
		http.Error(w, "not registered yet", http.StatusServiceUnavailable)
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(router.Handle(r.Context(), payload))
}

// handleRelay ingests one envelope from the central.
func (s *server) handleRelay(w http.ResponseWriter, r *http.Request) {
	rel, _ := s.components()
	if rel == nil {
		http.Error(w, "not registered yet", http.StatusServiceUnavailable)
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	if err := rel.Receive(payload); err != nil {
		http.Error(w, "bad envelope", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// newLogger builds the process logger.
func newLogger(debug bool) *zap.Logger {
	if debug {
		log, _ := zap.NewDevelopment()
		return log
	}
	log, _ := zap.NewProduction()
	return log
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
