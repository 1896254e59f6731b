package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dreamware/splitsync/internal/bus"
	"github.com/dreamware/splitsync/internal/protocol"
	"github.com/dreamware/splitsync/internal/settings"
)

// fakeLink records every send instead of touching a network.
type fakeLink struct {
	broadcasts []broadcastCall
	upstream   []protocol.Envelope
	fail       bool
}

type broadcastCall struct {
	env     protocol.Envelope
	exclude protocol.NodeID
}

func (f *fakeLink) Broadcast(_ context.Context, env protocol.Envelope, exclude protocol.NodeID) error {
	f.broadcasts = append(f.broadcasts, broadcastCall{env: env, exclude: exclude})
	if f.fail {
		return errors.New("link down")
	}
	return nil
}

func (f *fakeLink) SendToCentral(_ context.Context, env protocol.Envelope) error {
	f.upstream = append(f.upstream, env)
	if f.fail {
		return errors.New("link down")
	}
	return nil
}

var testValue = settings.Value{IdleMS: 5_000, SleepMS: 60_000}

// TestCentralStampsSelfOriginOnBroadcast verifies that a change raised
// locally on the central leaves the node with the central's real identity,
// never the self marker.
func TestCentralStampsSelfOriginOnBroadcast(t *testing.T) {
	b := bus.New()
	link := &fakeLink{}
	New(b, link, RoleCentral, protocol.SourceCentral, zap.NewNop())

	b.Publish(protocol.SettingsChanged{Value: testValue, Origin: protocol.SourceSelf})

	require.Len(t, link.broadcasts, 1)
	sent := link.broadcasts[0]
	require.NotNil(t, sent.env.Changed)
	assert.Equal(t, protocol.SourceCentral, sent.env.Changed.Origin)
	assert.Equal(t, testValue, sent.env.Changed.Value)
	assert.Equal(t, protocol.SourceSelf, sent.exclude, "a self-originated broadcast excludes nobody")
	assert.Empty(t, link.upstream)
}

// TestCentralRelaysFollowerChangeExcludingOrigin verifies the star relay:
// a change arriving from follower 2 fans out to the other followers but is
// never echoed back down the hop it arrived from.
func TestCentralRelaysFollowerChangeExcludingOrigin(t *testing.T) {
	b := bus.New()
	link := &fakeLink{}
	New(b, link, RoleCentral, protocol.SourceCentral, zap.NewNop())

	// As if the envelope just came off the link from follower 2.
	b.Publish(protocol.SettingsChanged{Value: testValue, Origin: protocol.NodeID(2)})

	require.Len(t, link.broadcasts, 1)
	assert.Equal(t, protocol.NodeID(2), link.broadcasts[0].exclude)
}

// TestFollowerStampsIdentityUpstream verifies that a follower rewrites the
// self marker to its assigned identity before sending to the central.
func TestFollowerStampsIdentityUpstream(t *testing.T) {
	b := bus.New()
	link := &fakeLink{}
	New(b, link, RoleFollower, protocol.NodeID(3), zap.NewNop())

	b.Publish(protocol.SettingsChanged{Value: testValue, Origin: protocol.SourceSelf})

	require.Len(t, link.upstream, 1)
	require.NotNil(t, link.upstream[0].Changed)
	assert.Equal(t, protocol.NodeID(3), link.upstream[0].Changed.Origin)
	assert.Empty(t, link.broadcasts)
}

// TestFollowerSuppressesArrivedChange verifies loop suppression: a change
// that arrived from the central is applied locally but never forwarded
// anywhere by the follower.
func TestFollowerSuppressesArrivedChange(t *testing.T) {
	b := bus.New()
	link := &fakeLink{}
	New(b, link, RoleFollower, protocol.NodeID(1), zap.NewNop())

	b.Publish(protocol.SettingsChanged{Value: testValue, Origin: protocol.SourceCentral})

	assert.Empty(t, link.upstream)
	assert.Empty(t, link.broadcasts)
}

// TestCollectionRequestOnlyTravelsDownward verifies requests broadcast
// from the central and go nowhere from a follower.
func TestCollectionRequestOnlyTravelsDownward(t *testing.T) {
	t.Run("central broadcasts", func(t *testing.T) {
		b := bus.New()
		link := &fakeLink{}
		New(b, link, RoleCentral, protocol.SourceCentral, zap.NewNop())

		b.Publish(protocol.CollectionRequest{ID: 7, Correlated: true})

		require.Len(t, link.broadcasts, 1)
		require.NotNil(t, link.broadcasts[0].env.Request)
		assert.Equal(t, uint8(7), link.broadcasts[0].env.Request.ID)
	})

	t.Run("follower stays quiet", func(t *testing.T) {
		b := bus.New()
		link := &fakeLink{}
		New(b, link, RoleFollower, protocol.NodeID(1), zap.NewNop())

		b.Publish(protocol.CollectionRequest{ID: 7, Correlated: true})

		assert.Empty(t, link.broadcasts)
		assert.Empty(t, link.upstream)
	})
}

// TestFollowerReportStampedAndSent verifies that a locally raised report
// goes upstream with the follower's identity stamped over the self marker.
func TestFollowerReportStampedAndSent(t *testing.T) {
	b := bus.New()
	link := &fakeLink{}
	New(b, link, RoleFollower, protocol.NodeID(2), zap.NewNop())

	b.Publish(protocol.CollectionReport{
		Value:      testValue,
		Origin:     protocol.SourceSelf,
		ID:         9,
		Correlated: true,
	})

	require.Len(t, link.upstream, 1)
	rep := link.upstream[0].Report
	require.NotNil(t, rep)
	assert.Equal(t, protocol.NodeID(2), rep.Origin)
	assert.Equal(t, uint8(9), rep.ID)
}

// TestReceiveRepublishesWithOriginPreserved verifies that an inbound
// envelope surfaces on the local bus unchanged.
func TestReceiveRepublishesWithOriginPreserved(t *testing.T) {
	b := bus.New()
	link := &fakeLink{}
	r := New(b, link, RoleFollower, protocol.NodeID(1), zap.NewNop())

	var got []protocol.SettingsChanged
	b.Subscribe(protocol.KindSettingsChanged, func(ev bus.Event) bus.Verdict {
		got = append(got, ev.(protocol.SettingsChanged))
		return bus.Bubble
	})

	env, err := protocol.Wrap(protocol.SettingsChanged{Value: testValue, Origin: protocol.SourceCentral})
	require.NoError(t, err)
	data, err := env.Encode()
	require.NoError(t, err)

	require.NoError(t, r.Receive(data))

	require.Len(t, got, 1)
	assert.Equal(t, protocol.SourceCentral, got[0].Origin)
	assert.Equal(t, testValue, got[0].Value)
}

// TestReceiveRejectsBadInput verifies malformed envelopes and invalid
// origins are dropped without publishing anything.
func TestReceiveRejectsBadInput(t *testing.T) {
	b := bus.New()
	r := New(b, &fakeLink{}, RoleCentral, protocol.SourceCentral, zap.NewNop())

	published := 0
	b.Subscribe(protocol.KindSettingsChanged, func(bus.Event) bus.Verdict {
		published++
		return bus.Bubble
	})

	// Garbage bytes.
	assert.Error(t, r.Receive([]byte("{")))

	// Empty envelope.
	assert.Error(t, r.Receive([]byte("{}")))

	// The self marker must never arrive over the wire.
	env, err := protocol.Wrap(protocol.SettingsChanged{Value: testValue, Origin: protocol.SourceSelf})
	require.NoError(t, err)
	data, err := env.Encode()
	require.NoError(t, err)
	assert.Error(t, r.Receive(data))

	assert.Zero(t, published)
}

// TestSendFailureIsDroppedNotFatal verifies that a failing link never
// propagates an error to the publisher; the event is logged and dropped.
func TestSendFailureIsDroppedNotFatal(t *testing.T) {
	b := bus.New()
	link := &fakeLink{fail: true}
	New(b, link, RoleCentral, protocol.SourceCentral, zap.NewNop())

	assert.NotPanics(t, func() {
		b.Publish(protocol.SettingsChanged{Value: testValue, Origin: protocol.SourceSelf})
	})
	assert.Len(t, link.broadcasts, 1)
}
