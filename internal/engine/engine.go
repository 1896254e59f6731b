// Package engine implements the settings reconciliation protocol: applying
// local and relayed changes, propagating changes to the rest of the
// cluster, and collecting every node's view to compute an in-sync verdict.
//
// The engine is wired onto the node's event bus next to the relay. Local
// operations come in through the three exported methods (GetLocal,
// SetAndPropagate, GetAll); everything crossing the node boundary comes and
// goes as bus events.
package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/dreamware/splitsync/internal/bus"
	"github.com/dreamware/splitsync/internal/protocol"
	"github.com/dreamware/splitsync/internal/relay"
	"github.com/dreamware/splitsync/internal/settings"
)

// Entry is one node's contribution to a collection: its identity and the
// settings value it reported.
type Entry struct {
	Origin protocol.NodeID `json:"origin"`
	Value  settings.Value  `json:"value"`
}

// Result is what GetAll returns. Entries[0] is always the calling node's
// own value; follower reports follow in arrival order.
//
// Divergent is the index of the first entry that differs from Entries[0],
// or -1 when all entries agree. Streaming is true under the streamed
// strategy: the entries here are only the local seed, and every follower
// report arrives later as an independent notification.
type Result struct {
	Entries   []Entry `json:"entries"`
	InSync    bool    `json:"in_sync"`
	Divergent int     `json:"divergent"`
	Streaming bool    `json:"streaming,omitempty"`
}

// Notifier is the outbound notification channel to whatever front-end is
// watching: it accepts (value, origin) pushes at any time, unrelated to any
// specific request.
type Notifier interface {
	Notify(v settings.Value, origin protocol.NodeID)
}

// Engine runs the reconciliation protocol on one node.
type Engine struct {
	store    settings.Store
	bus      *bus.Bus
	self     protocol.NodeID
	role     relay.Role
	strategy CollectionStrategy
	log      *zap.Logger
}

// New wires an engine onto b. The engine subscribes its listeners here:
// every node applies relayed changes, and followers additionally answer
// collection requests. Wiring happens once, at startup, before the first
// publish.
func New(store settings.Store, b *bus.Bus, role relay.Role, self protocol.NodeID,
	strategy CollectionStrategy, log *zap.Logger) *Engine {

	e := &Engine{
		store:    store,
		bus:      b,
		self:     self,
		role:     role,
		strategy: strategy,
		log:      log,
	}

	b.Subscribe(protocol.KindSettingsChanged, e.onSettingsChanged)
	if role == relay.RoleFollower {
		b.Subscribe(protocol.KindCollectionRequest, e.onCollectionRequest)
	}
	return e
}

// GetLocal returns this node's own current settings. No propagation.
func (e *Engine) GetLocal() settings.Value {
	return e.store.Get()
}

// SetAndPropagate writes v to the local store and, if and only if the
// store accepts it, raises a change event for the relay to forward.
//
// The local write is the unit of atomicity: once it succeeds the change is
// effective on this node regardless of what happens to propagation. A
// failed write returns the store's error and propagates nothing.
func (e *Engine) SetAndPropagate(v settings.Value) error {
	if err := e.store.Set(v); err != nil {
		e.log.Warn("rejected settings write",
			zap.Uint32("idle_ms", v.IdleMS),
			zap.Uint32("sleep_ms", v.SleepMS),
			zap.Error(err))
		return err
	}

	e.log.Info("settings updated, propagating",
		zap.Uint32("idle_ms", v.IdleMS),
		zap.Uint32("sleep_ms", v.SleepMS))
	e.bus.Publish(protocol.SettingsChanged{Value: v, Origin: protocol.SourceSelf})
	return nil
}

// GetAll collects the cluster's settings through the configured strategy
// and computes the in-sync verdict over whatever was gathered within the
// strategy's bound. It never fails: divergence is reported in the result,
// not as an error.
func (e *Engine) GetAll(ctx context.Context) Result {
	local := Entry{Origin: e.self, Value: e.store.Get()}
	res := e.strategy.Collect(ctx, local)
	res.InSync, res.Divergent = verdict(res.Entries)

	if !res.InSync {
		e.log.Warn("cluster settings diverged",
			zap.Int("entries", len(res.Entries)),
			zap.Int("divergent", res.Divergent),
			zap.Stringer("origin", res.Entries[res.Divergent].Origin))
	}
	return res
}

// onSettingsChanged applies a relayed change to the local store.
//
// Changes originated by this node are ignored: the self marker means the
// value is already applied, and this node's real identity means the event
// is its own echo coming back around. Everything else applies
// unconditionally: the most recent relayed change wins.
func (e *Engine) onSettingsChanged(ev bus.Event) bus.Verdict {
	ch := ev.(protocol.SettingsChanged)

	if ch.Origin == protocol.SourceSelf || ch.Origin == e.self {
		return bus.Bubble
	}

	if err := e.store.Set(ch.Value); err != nil {
		e.log.Warn("relayed settings rejected by store",
			zap.Stringer("origin", ch.Origin),
			zap.Error(err))
		return bus.Bubble
	}

	e.log.Debug("applied relayed settings",
		zap.Uint32("idle_ms", ch.Value.IdleMS),
		zap.Uint32("sleep_ms", ch.Value.SleepMS),
		zap.Stringer("origin", ch.Origin))
	return bus.Bubble
}

// onCollectionRequest answers a collection request with this follower's
// current value. The report is raised with the self marker; the relay
// stamps the follower's real identity on the way to the central. The
// correlation id, when present, is echoed back unchanged.
func (e *Engine) onCollectionRequest(ev bus.Event) bus.Verdict {
	req := ev.(protocol.CollectionRequest)

	report := protocol.CollectionReport{
		Value:      e.store.Get(),
		Origin:     protocol.SourceSelf,
		ID:         req.ID,
		Correlated: req.Correlated,
	}
	e.bus.Publish(report)

	e.log.Debug("reported settings",
		zap.Uint32("idle_ms", report.Value.IdleMS),
		zap.Uint32("sleep_ms", report.Value.SleepMS),
		zap.Uint8("request_id", req.ID))
	return bus.Bubble
}

// verdict compares all entries against the first one, field by field.
// With zero or one entries the cluster is trivially in sync.
func verdict(entries []Entry) (inSync bool, divergent int) {
	if len(entries) == 0 {
		return true, -1
	}
	ref := entries[0].Value
	for i, en := range entries[1:] {
		if en.Value != ref {
			return false, i + 1
		}
	}
	return true, -1
}
