// Package relay moves typed events across the node boundary: settings
// changes and collection requests travel central→followers, collection
// reports (and follower-initiated changes) travel follower→central.
//
// The relay owns provenance: an event raised locally carries the
// self-origin marker, and the relay rewrites that marker to the node's real
// identity before anything leaves on the link. The same provenance field is
// what suppresses loops: an event whose origin is not the self marker
// arrived from the link, and the relay never sends it back down the hop it
// arrived from.
package relay

import (
	"context"

	"go.uber.org/zap"

	"github.com/dreamware/splitsync/internal/bus"
	"github.com/dreamware/splitsync/internal/protocol"
	"github.com/dreamware/splitsync/internal/telemetry"
)

// Role fixes which end of the link this node is. Supplied once at startup;
// roles are never renegotiated at runtime.
type Role int

const (
	// RoleCentral coordinates: it broadcasts to every follower and
	// receives their reports.
	RoleCentral Role = iota

	// RoleFollower answers the central and never talks to other
	// followers directly (star topology).
	RoleFollower
)

// Link is the transport the relay ships envelopes over. Delivery is
// best-effort: the link layer owns retry and backoff, the relay logs and
// drops on failure.
type Link interface {
	// Broadcast sends env to every connected follower, skipping the one
	// identified by exclude. Pass protocol.SourceSelf to skip nobody.
	Broadcast(ctx context.Context, env protocol.Envelope, exclude protocol.NodeID) error

	// SendToCentral ships env up the single hop to the central.
	SendToCentral(ctx context.Context, env protocol.Envelope) error
}

// Relay bridges the local bus and the link.
//
// Outbound: it subscribes to the three event kinds and forwards the ones
// whose direction matches its role, stamping provenance on the way out.
// Inbound: Receive decodes an envelope off the link and re-publishes the
// event on the local bus with its origin preserved, where the engine's
// listeners pick it up.
type Relay struct {
	bus  *bus.Bus
	link Link
	role Role
	self protocol.NodeID // This node's real identity on the wire
	log  *zap.Logger
}

// New wires a relay into b. Subscriptions happen here, once, as part of
// node startup; the relay always bubbles so the engine's listeners observe
// the same events.
func New(b *bus.Bus, link Link, role Role, self protocol.NodeID, log *zap.Logger) *Relay {
	r := &Relay{bus: b, link: link, role: role, self: self, log: log}
	b.Subscribe(protocol.KindSettingsChanged, r.onSettingsChanged)
	b.Subscribe(protocol.KindCollectionRequest, r.onCollectionRequest)
	b.Subscribe(protocol.KindCollectionReport, r.onCollectionReport)
	return r
}

// onSettingsChanged forwards a settings change across the boundary.
//
// On the central:
//   - self-originated changes are stamped with the central's identity and
//     broadcast to every follower;
//   - changes that arrived from a follower are re-broadcast to the other
//     followers, excluding the originator (no echo down the arrival hop).
//
// On a follower:
//   - self-originated changes are stamped with the follower's identity and
//     sent to the central;
//   - changes that arrived from the link stop here, there is no further
//     hop in a star.
func (r *Relay) onSettingsChanged(ev bus.Event) bus.Verdict {
	e := ev.(protocol.SettingsChanged)

	switch r.role {
	case RoleCentral:
		if e.Origin == protocol.SourceSelf {
			e.Origin = r.self
			r.broadcast(e, protocol.SourceSelf)
		} else if e.Origin != r.self {
			// Arrived from a follower; fan out to the rest.
			r.broadcast(e, e.Origin)
		}
	case RoleFollower:
		if e.Origin == protocol.SourceSelf {
			e.Origin = r.self
			r.sendToCentral(e)
		}
	}
	return bus.Bubble
}

// onCollectionRequest broadcasts a request to the followers. Requests only
// ever travel central→follower; on a follower the event either came off
// the link or is meaningless, so nothing is forwarded.
func (r *Relay) onCollectionRequest(ev bus.Event) bus.Verdict {
	if r.role == RoleCentral {
		r.broadcast(ev.(protocol.CollectionRequest), protocol.SourceSelf)
	}
	return bus.Bubble
}

// onCollectionReport ships a follower's report up to the central, stamping
// the follower's identity over the self marker. On the central, reports
// arrive from the link and stop here.
func (r *Relay) onCollectionReport(ev bus.Event) bus.Verdict {
	e := ev.(protocol.CollectionReport)

	if r.role == RoleFollower && e.Origin == protocol.SourceSelf {
		e.Origin = r.self
		r.sendToCentral(e)
	}
	return bus.Bubble
}

// Receive ingests one serialized envelope from the link and re-publishes
// its event locally, origin preserved. Malformed envelopes and invalid
// origins are dropped with an error return; nothing here is fatal.
func (r *Relay) Receive(data []byte) error {
	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		r.log.Warn("dropping malformed envelope", zap.Error(err))
		return err
	}
	ev, err := env.Event()
	if err != nil {
		r.log.Warn("dropping empty envelope", zap.Error(err))
		return err
	}

	// The self marker must never arrive over the wire; the sender's
	// relay was responsible for rewriting it.
	switch e := ev.(type) {
	case protocol.SettingsChanged:
		if !e.Origin.Valid() {
			r.log.Warn("dropping change with invalid origin", zap.Stringer("origin", e.Origin))
			return protocol.ErrDecode
		}
	case protocol.CollectionReport:
		if !e.Origin.Valid() {
			r.log.Warn("dropping report with invalid origin", zap.Stringer("origin", e.Origin))
			return protocol.ErrDecode
		}
	}

	r.log.Debug("received event from link", zap.Uint8("kind", uint8(ev.EventKind())))
	r.bus.Publish(ev)
	return nil
}

// broadcast wraps ev and fans it out to the followers, skipping exclude.
// Send failures are logged and counted; the affected follower keeps stale
// settings until the next reconciliation.
func (r *Relay) broadcast(ev bus.Event, exclude protocol.NodeID) {
	env, err := protocol.Wrap(ev)
	if err != nil {
		r.log.Error("cannot wrap event for link", zap.Error(err))
		return
	}
	telemetry.EventsRelayed.WithLabelValues(kindLabel(ev), "central_to_follower").Inc()

	if err := r.link.Broadcast(context.Background(), env, exclude); err != nil {
		telemetry.RelayDrops.WithLabelValues(kindLabel(ev)).Inc()
		r.log.Warn("broadcast failed, followers may be stale",
			zap.Stringer("excluded", exclude),
			zap.Error(err))
	}
}

// sendToCentral wraps ev and ships it up the hop. Same drop semantics as
// broadcast.
func (r *Relay) sendToCentral(ev bus.Event) {
	env, err := protocol.Wrap(ev)
	if err != nil {
		r.log.Error("cannot wrap event for link", zap.Error(err))
		return
	}
	telemetry.EventsRelayed.WithLabelValues(kindLabel(ev), "follower_to_central").Inc()

	if err := r.link.SendToCentral(context.Background(), env); err != nil {
		telemetry.RelayDrops.WithLabelValues(kindLabel(ev)).Inc()
		r.log.Warn("send to central failed, central may be stale", zap.Error(err))
	}
}

// kindLabel names an event kind for metrics.
func kindLabel(ev bus.Event) string {
	switch ev.EventKind() {
	case protocol.KindSettingsChanged:
		return "settings_changed"
	case protocol.KindCollectionRequest:
		return "collection_request"
	case protocol.KindCollectionReport:
		return "collection_report"
	default:
		return "unknown"
	}
}
