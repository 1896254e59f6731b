// Package main implements the splitsync central: the coordinating node
// that owns follower membership, drives cluster-wide settings collection,
// and relays every settings event through the star topology.
//
// HTTP API:
//   - POST /rpc           - Settings operations (get / set / get-all)
//   - POST /register      - Follower registration
//   - POST /relay         - Inbound relay envelopes from followers
//   - GET  /followers     - Current follower set
//   - GET  /notifications - Drain pending settings notifications
//   - GET  /health        - Health check
//   - GET  /metrics       - Prometheus metrics
//
// Configuration (flag, env fallback):
//   - --listen   CENTRAL_LISTEN    Listen address (default ":8080")
//   - --window   CENTRAL_WINDOW    Bounded collection wait window (default 100ms)
//   - --strategy CENTRAL_STRATEGY  "bounded" or "streamed" (default "bounded")
//   - --debug                      Verbose logging
package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/dreamware/splitsync/internal/bus"
	"github.com/dreamware/splitsync/internal/central"
	"github.com/dreamware/splitsync/internal/cluster"
	"github.com/dreamware/splitsync/internal/engine"
	"github.com/dreamware/splitsync/internal/notify"
	"github.com/dreamware/splitsync/internal/protocol"
	"github.com/dreamware/splitsync/internal/relay"
	"github.com/dreamware/splitsync/internal/rpc"
	"github.com/dreamware/splitsync/internal/settings"
	"github.com/dreamware/splitsync/internal/telemetry"
)

// server bundles the central's components behind its HTTP handlers.
type server struct {
	registry *central.Registry
	relay    *relay.Relay
	router   *rpc.Router
	feed     *notify.Feed
	log      *zap.Logger
}

func main() {
	listen := pflag.String("listen", getenv("CENTRAL_LISTEN", ":8080"), "listen address")
	window := pflag.Duration("window", envDuration("CENTRAL_WINDOW", engine.DefaultWindow), "bounded collection wait window")
	strategyName := pflag.String("strategy", getenv("CENTRAL_STRATEGY", "bounded"), "collection strategy: bounded or streamed")
	debug := pflag.Bool("debug", false, "verbose logging")
	pflag.Parse()

	log := newLogger(*debug)
	defer log.Sync()

	clock := clockwork.NewRealClock()
	store := settings.NewMemoryStore()
	b := bus.New()
	registry := central.NewRegistry()
	feed := notify.NewFeed(notify.DefaultCapacity)

	link := cluster.NewCentralLink(registry.Followers, log)
	rel := relay.New(b, link, relay.RoleCentral, protocol.SourceCentral, log)

	var strategy engine.CollectionStrategy
	switch *strategyName {
	case "bounded":
		strategy = engine.NewBounded(b, clock, *window, registry.LiveCount, log)
	case "streamed":
		strategy = engine.NewStreamed(b, feed, log)
	default:
		log.Fatal("unknown strategy", zap.String("strategy", *strategyName))
	}

	eng := engine.New(store, b, relay.RoleCentral, protocol.SourceCentral, strategy, log)
	srv := &server{
		registry: registry,
		relay:    rel,
		router:   rpc.NewRouter(eng, log),
		feed:     feed,
		log:      log,
	}

	monitor := central.NewHealthMonitor(registry, 5*time.Second, clock, log)
	monitor.Start(context.Background())
	defer monitor.Stop()

	mux := http.NewServeMux()
	mux.Handle("/rpc", telemetry.Instrument("rpc", http.HandlerFunc(srv.handleRPC)))
	mux.Handle("/register", telemetry.Instrument("register", http.HandlerFunc(srv.handleRegister)))
	mux.Handle("/relay", telemetry.Instrument("relay", http.HandlerFunc(srv.handleRelay)))
	mux.HandleFunc("/followers", srv.handleFollowers)
	mux.HandleFunc("/notifications", srv.handleNotifications)
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
		log.Info("central listening",
			zap.String("addr", *listen),
			zap.String("strategy", *strategyName),
			zap.Duration("window", *window))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	log.Info("central stopped")
}

// handleRPC feeds one opaque request payload through the router.
func (s *server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(s.router.Handle(r.Context(), payload))
}

// handleRegister attaches a follower and returns its assigned identity.
func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	id, err := s.registry.Register(req.Instance, req.Addr)
	if err != nil {
		if errors.Is(err, central.ErrClusterFull) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		} else {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
		return
	}

	s.log.Info("follower registered",
		zap.Stringer("follower", id),
		zap.String("addr", req.Addr))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(cluster.RegisterResponse{ID: id})
}

// handleRelay ingests one envelope from a follower.
func (s *server) handleRelay(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	if err := s.relay.Receive(payload); err != nil {
		http.Error(w, "bad envelope", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleFollowers lists the current follower set.
func (s *server) handleFollowers(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Followers []cluster.NodeInfo `json:"followers"`
	}{Followers: s.registry.Followers()})
}

// handleNotifications drains pending notifications for the front-end.
func (s *server) handleNotifications(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Notifications []notify.Notification `json:"notifications"`
	}{Notifications: s.feed.Drain()})
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

func envDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
