package central

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/splitsync/internal/cluster"
	"github.com/dreamware/splitsync/internal/protocol"
)

// ErrClusterFull is returned when every follower identity is taken.
var ErrClusterFull = errors.New("cluster full: no free follower identity")

// Registry is the central's authoritative record of follower membership,
// serving as the source for relay fan-out targets and for the live count
// the bounded collection strategy waits on.
//
// Identity assignment:
//   - Each follower presents a stable instance UUID when registering.
//   - A new instance gets the lowest free identity in 1..MaxFollowers.
//   - A known instance gets its previous identity back, with its address
//     refreshed (restart, new port).
//   - Registration fails with ErrClusterFull once all identities are
//     taken; capacity is fixed, there is no eviction here.
//
// Thread safety:
//   - All methods are safe for concurrent use.
//   - Accessors return copies to prevent external modification.
type Registry struct {
	mu         sync.RWMutex
	followers  map[protocol.NodeID]*cluster.NodeInfo
	byInstance map[string]protocol.NodeID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		followers:  make(map[protocol.NodeID]*cluster.NodeInfo),
		byInstance: make(map[string]protocol.NodeID),
	}
}

// Register attaches a follower and returns its protocol identity.
//
// Re-registering a known instance refreshes its address and resets its
// status to unknown until the next health check.
func (r *Registry) Register(instance, addr string) (protocol.NodeID, error) {
	if instance == "" || addr == "" {
		return 0, fmt.Errorf("register: instance and addr are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byInstance[instance]; ok {
		f := r.followers[id]
		f.Addr = addr
		f.Status = cluster.StatusUnknown
		return id, nil
	}

	for id := protocol.NodeID(1); id <= protocol.MaxFollowers; id++ {
		if _, taken := r.followers[id]; taken {
			continue
		}
		r.followers[id] = &cluster.NodeInfo{
			ID:       id,
			Instance: instance,
			Addr:     addr,
			Status:   cluster.StatusUnknown,
		}
		r.byInstance[instance] = id
		return id, nil
	}
	return 0, ErrClusterFull
}

// Followers returns a copy of the current follower set, ordered by
// identity.
func (r *Registry) Followers() []cluster.NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]cluster.NodeInfo, 0, len(r.followers))
	for _, f := range r.followers {
		out = append(out, *f)
	}
	slices.SortFunc(out, func(a, b cluster.NodeInfo) int {
		return int(a.ID) - int(b.ID)
	})
	return out
}

// Lookup returns the follower with the given identity, if registered.
func (r *Registry) Lookup(id protocol.NodeID) (cluster.NodeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.followers[id]
	if !ok {
		return cluster.NodeInfo{}, false
	}
	return *f, true
}

// SetStatus records a follower's health state. Unknown identities are
// ignored; the health monitor may briefly lag a removal.
func (r *Registry) SetStatus(id protocol.NodeID, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.followers[id]; ok {
		f.Status = status
	}
}

// LiveCount returns how many followers are currently believed reachable.
// Unknown counts as reachable so a freshly registered follower is awaited
// rather than skipped.
func (r *Registry) LiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, f := range r.followers {
		if f.Status != cluster.StatusUnhealthy {
			n++
		}
	}
	return n
}
