// Package protocol defines the node identities, the typed events that ride
// the bus, and the JSON envelope that carries them across the link between
// the central and its followers.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dreamware/splitsync/internal/bus"
	"github.com/dreamware/splitsync/internal/settings"
)

// NodeID identifies the origin of a value in the cluster.
//
// The space is split three ways:
//   - SourceCentral (0) is the coordinating node.
//   - 1..MaxFollowers identify individual followers.
//   - SourceSelf (0xFF) marks an event raised locally and not yet
//     attributed to a real identity by the relay.
//
// SourceSelf must never be observed outside the node that produced it: the
// relay rewrites it to the node's real identity before anything leaves on
// the link.
type NodeID uint8

const (
	// SourceCentral is the central's identity.
	SourceCentral NodeID = 0

	// SourceSelf is the self-origin marker: raised here, not yet relayed.
	SourceSelf NodeID = 0xFF

	// MaxFollowers bounds how many followers the cluster supports. The
	// collection session and the follower registry are sized by it.
	MaxFollowers = 8
)

// Valid reports whether id is usable as a real origin on the wire.
func (id NodeID) Valid() bool {
	return id == SourceCentral || (id >= 1 && id <= MaxFollowers)
}

// String renders the id for logs.
func (id NodeID) String() string {
	switch {
	case id == SourceCentral:
		return "central"
	case id == SourceSelf:
		return "self"
	default:
		return fmt.Sprintf("follower-%d", uint8(id))
	}
}

// Event kinds dispatched on the bus.
const (
	// KindSettingsChanged carries a new settings value to apply.
	KindSettingsChanged bus.Kind = iota

	// KindCollectionRequest asks followers to report their settings.
	KindCollectionRequest

	// KindCollectionReport answers a collection request.
	KindCollectionReport
)

// SettingsChanged is the change event: apply Value, attributed to Origin.
// Travels central→follower (and follower→central→other followers when a
// follower initiates the change).
//
// A node must never re-apply a SettingsChanged whose origin is itself;
// that is what keeps a relayed change from looping.
type SettingsChanged struct {
	Value  settings.Value `json:"value"`
	Origin NodeID         `json:"origin"`
}

// EventKind implements bus.Event.
func (SettingsChanged) EventKind() bus.Kind { return KindSettingsChanged }

// CollectionRequest asks every follower for its current settings.
//
// Under the bounded-synchronous strategy Correlated is true and ID ties the
// answers back to the live session. Under the streamed strategy Correlated
// is false and ID is meaningless: every report is accepted whenever it
// arrives.
type CollectionRequest struct {
	ID         uint8 `json:"id"`
	Correlated bool  `json:"correlated"`
}

// EventKind implements bus.Event.
func (CollectionRequest) EventKind() bus.Kind { return KindCollectionRequest }

// CollectionReport is a follower's answer to a CollectionRequest: its
// current settings, stamped with its identity by the relay on the way to
// the central. ID echoes the request's correlation id when Correlated.
type CollectionReport struct {
	Value      settings.Value `json:"value"`
	Origin     NodeID         `json:"origin"`
	ID         uint8          `json:"id"`
	Correlated bool           `json:"correlated"`
}

// EventKind implements bus.Event.
func (CollectionReport) EventKind() bus.Kind { return KindCollectionReport }

// ErrDecode is returned when an envelope cannot be decoded or names no
// event. Malformed input degrades to a logged drop, never a crash.
var ErrDecode = errors.New("malformed envelope")

// Envelope is the wire frame for one event: exactly one of the three
// pointers is set.
type Envelope struct {
	Changed *SettingsChanged   `json:"changed,omitempty"`
	Request *CollectionRequest `json:"request,omitempty"`
	Report  *CollectionReport  `json:"report,omitempty"`
}

// Wrap builds the envelope for ev.
// Returns an error for event types that never travel on the link.
func Wrap(ev bus.Event) (Envelope, error) {
	switch e := ev.(type) {
	case SettingsChanged:
		return Envelope{Changed: &e}, nil
	case CollectionRequest:
		return Envelope{Request: &e}, nil
	case CollectionReport:
		return Envelope{Report: &e}, nil
	default:
		return Envelope{}, fmt.Errorf("event kind %d does not travel on the link", ev.EventKind())
	}
}

// Event unwraps the envelope back into the bus event it carries.
func (e Envelope) Event() (bus.Event, error) {
	switch {
	case e.Changed != nil:
		return *e.Changed, nil
	case e.Request != nil:
		return *e.Request, nil
	case e.Report != nil:
		return *e.Report, nil
	default:
		return nil, fmt.Errorf("empty envelope: %w", ErrDecode)
	}
}

// Encode serializes the envelope for the link.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses one envelope off the link.
// Returns ErrDecode (wrapped) on malformed input.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return e, nil
}
