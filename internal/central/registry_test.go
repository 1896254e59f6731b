package central

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/splitsync/internal/cluster"
	"github.com/dreamware/splitsync/internal/protocol"
)

// TestRegisterAssignsSequentialIdentities verifies that new instances get
// the lowest free identity starting at 1.
func TestRegisterAssignsSequentialIdentities(t *testing.T) {
	r := NewRegistry()

	id1, err := r.Register("instance-a", "http://127.0.0.1:9001")
	require.NoError(t, err)
	id2, err := r.Register("instance-b", "http://127.0.0.1:9002")
	require.NoError(t, err)

	assert.Equal(t, protocol.NodeID(1), id1)
	assert.Equal(t, protocol.NodeID(2), id2)
}

// TestRegisterReclaimsIdentityByInstance verifies that a restarted
// follower (same instance UUID, new address) keeps its identity.
func TestRegisterReclaimsIdentityByInstance(t *testing.T) {
	r := NewRegistry()

	id, err := r.Register("instance-a", "http://127.0.0.1:9001")
	require.NoError(t, err)

	again, err := r.Register("instance-a", "http://127.0.0.1:9099")
	require.NoError(t, err)
	assert.Equal(t, id, again)

	// The address was refreshed and the status reset.
	f, ok := r.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, "http://127.0.0.1:9099", f.Addr)
	assert.Equal(t, cluster.StatusUnknown, f.Status)

	// No second slot was consumed.
	assert.Len(t, r.Followers(), 1)
}

// TestRegisterRejectsWhenFull verifies the fixed capacity bound.
func TestRegisterRejectsWhenFull(t *testing.T) {
	r := NewRegistry()

	for i := 0; i < protocol.MaxFollowers; i++ {
		_, err := r.Register(fmt.Sprintf("instance-%d", i), "http://127.0.0.1:9000")
		require.NoError(t, err)
	}

	_, err := r.Register("one-too-many", "http://127.0.0.1:9100")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrClusterFull)
}

// TestRegisterValidatesInput verifies empty fields are rejected.
func TestRegisterValidatesInput(t *testing.T) {
	r := NewRegistry()

	_, err := r.Register("", "http://127.0.0.1:9000")
	assert.Error(t, err)
	_, err = r.Register("instance-a", "")
	assert.Error(t, err)
}

// TestFollowersOrderedCopies verifies the accessor returns an ordered
// snapshot the caller cannot use to mutate registry state.
func TestFollowersOrderedCopies(t *testing.T) {
	r := NewRegistry()

	_, err := r.Register("instance-a", "http://127.0.0.1:9001")
	require.NoError(t, err)
	_, err = r.Register("instance-b", "http://127.0.0.1:9002")
	require.NoError(t, err)

	followers := r.Followers()
	require.Len(t, followers, 2)
	assert.Equal(t, protocol.NodeID(1), followers[0].ID)
	assert.Equal(t, protocol.NodeID(2), followers[1].ID)

	// Mutating the copy must not leak into the registry.
	followers[0].Addr = "http://evil"
	f, ok := r.Lookup(protocol.NodeID(1))
	require.True(t, ok)
	assert.Equal(t, "http://127.0.0.1:9001", f.Addr)
}

// TestLiveCount verifies that only unhealthy followers are excluded from
// the live count, so a fresh (unknown) follower is still awaited.
func TestLiveCount(t *testing.T) {
	r := NewRegistry()

	id1, err := r.Register("instance-a", "http://127.0.0.1:9001")
	require.NoError(t, err)
	_, err = r.Register("instance-b", "http://127.0.0.1:9002")
	require.NoError(t, err)

	assert.Equal(t, 2, r.LiveCount())

	r.SetStatus(id1, cluster.StatusUnhealthy)
	assert.Equal(t, 1, r.LiveCount())

	r.SetStatus(id1, cluster.StatusHealthy)
	assert.Equal(t, 2, r.LiveCount())
}
