package rpc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dreamware/splitsync/internal/bus"
	"github.com/dreamware/splitsync/internal/engine"
	"github.com/dreamware/splitsync/internal/protocol"
	"github.com/dreamware/splitsync/internal/relay"
	"github.com/dreamware/splitsync/internal/settings"
)

// newTestRouter wires a router over a single-node engine.
func newTestRouter(t *testing.T) *Router {
	t.Helper()

	b := bus.New()
	strategy := engine.NewBounded(b, clockwork.NewRealClock(), 50*time.Millisecond,
		func() int { return 0 }, zap.NewNop())
	e := engine.New(settings.NewMemoryStore(), b, relay.RoleCentral,
		protocol.SourceCentral, strategy, zap.NewNop())
	return NewRouter(e, zap.NewNop())
}

// handle runs one request through the router and decodes the response.
func handle(t *testing.T, r *Router, req any) Response {
	t.Helper()

	payload, err := json.Marshal(req)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(r.Handle(context.Background(), payload), &resp))
	return resp
}

// TestHandleGetSettings verifies the get operation returns the store's
// current value.
func TestHandleGetSettings(t *testing.T) {
	r := newTestRouter(t)

	resp := handle(t, r, Request{GetSettings: &GetSettingsRequest{}})

	require.NotNil(t, resp.GetSettings)
	assert.Equal(t, settings.Default(), resp.GetSettings.Settings)
	assert.Nil(t, resp.Error)
}

// TestHandleSetSettings verifies the set operation round trip and the
// explicit unsuccessful result for rejected values.
func TestHandleSetSettings(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		r := newTestRouter(t)
		v := settings.Value{IdleMS: 5_000, SleepMS: 60_000}

		resp := handle(t, r, Request{SetSettings: &SetSettingsRequest{Settings: v}})
		require.NotNil(t, resp.SetSettings)
		assert.True(t, resp.SetSettings.Success)

		// The write is visible through a follow-up get.
		resp = handle(t, r, Request{GetSettings: &GetSettingsRequest{}})
		require.NotNil(t, resp.GetSettings)
		assert.Equal(t, v, resp.GetSettings.Settings)
	})

	t.Run("rejected", func(t *testing.T) {
		r := newTestRouter(t)

		resp := handle(t, r, Request{SetSettings: &SetSettingsRequest{
			Settings: settings.Value{IdleMS: 1, SleepMS: 1},
		}})
		require.NotNil(t, resp.SetSettings)
		assert.False(t, resp.SetSettings.Success)
		assert.NotEmpty(t, resp.SetSettings.Message)
	})
}

// TestHandleGetAllSettings verifies the get-all operation on a single
// node: one entry, trivially in sync.
func TestHandleGetAllSettings(t *testing.T) {
	r := newTestRouter(t)

	resp := handle(t, r, Request{GetAllSettings: &GetAllSettingsRequest{}})

	require.NotNil(t, resp.GetAllSettings)
	require.Len(t, resp.GetAllSettings.Entries, 1)
	assert.True(t, resp.GetAllSettings.InSync)
	assert.Equal(t, -1, resp.GetAllSettings.Divergent)
}

// TestHandleMalformed verifies that undecodable or empty requests produce
// an error response, never a panic or empty reply.
func TestHandleMalformed(t *testing.T) {
	r := newTestRouter(t)

	t.Run("bad json", func(t *testing.T) {
		var resp Response
		require.NoError(t, json.Unmarshal(r.Handle(context.Background(), []byte("{oops")), &resp))
		require.NotNil(t, resp.Error)
		assert.NotEmpty(t, resp.Error.Message)
	})

	t.Run("no operation", func(t *testing.T) {
		resp := handle(t, r, Request{})
		require.NotNil(t, resp.Error)
	})
}
