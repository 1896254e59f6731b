// Package rpc decodes inbound settings requests, dispatches them to the
// reconciliation engine, and encodes the responses. It is a thin dispatch
// layer: one request kind per operation, one response kind per result, and
// a generic error response for anything malformed.
package rpc

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/dreamware/splitsync/internal/engine"
	"github.com/dreamware/splitsync/internal/settings"
)

// Request is the decoded form of one inbound call. Exactly one field is
// set; anything else is malformed.
type Request struct {
	GetSettings    *GetSettingsRequest    `json:"get_settings,omitempty"`
	SetSettings    *SetSettingsRequest    `json:"set_settings,omitempty"`
	GetAllSettings *GetAllSettingsRequest `json:"get_all_settings,omitempty"`
}

// GetSettingsRequest asks for this node's own current settings.
type GetSettingsRequest struct{}

// SetSettingsRequest writes new settings locally and propagates them.
type SetSettingsRequest struct {
	Settings settings.Value `json:"settings"`
}

// GetAllSettingsRequest collects settings from the whole cluster.
type GetAllSettingsRequest struct{}

// Response carries exactly one result, mirroring the request kinds, or an
// error.
type Response struct {
	GetSettings    *GetSettingsResponse    `json:"get_settings,omitempty"`
	SetSettings    *SetSettingsResponse    `json:"set_settings,omitempty"`
	GetAllSettings *GetAllSettingsResponse `json:"get_all_settings,omitempty"`
	Error          *ErrorResponse          `json:"error,omitempty"`
}

// GetSettingsResponse returns the node's current settings.
type GetSettingsResponse struct {
	Settings settings.Value `json:"settings"`
}

// SetSettingsResponse reports whether the write was accepted. A rejected
// write is an unsuccessful result, not a protocol error: the message says
// why and nothing was propagated.
type SetSettingsResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// GetAllSettingsResponse is the collection outcome. This call never fails;
// the one failure mode that matters is divergence, reported by in_sync.
type GetAllSettingsResponse struct {
	Entries   []engine.Entry `json:"entries"`
	InSync    bool           `json:"in_sync"`
	Divergent int            `json:"divergent"`
	Streaming bool           `json:"streaming,omitempty"`
}

// ErrorResponse is the generic failure result for malformed requests.
type ErrorResponse struct {
	Message string `json:"message"`
}

// Router dispatches decoded requests to the engine.
type Router struct {
	engine *engine.Engine
	log    *zap.Logger
}

// NewRouter creates a router in front of e.
func NewRouter(e *engine.Engine, log *zap.Logger) *Router {
	return &Router{engine: e, log: log}
}

// Handle processes one opaque request payload and always returns an
// encodable response. Malformed input produces an error response, never a
// crash or an empty reply.
func (r *Router) Handle(ctx context.Context, payload []byte) []byte {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		r.log.Warn("failed to decode settings request", zap.Error(err))
		return encode(Response{Error: &ErrorResponse{Message: "failed to decode request"}})
	}

	switch {
	case req.GetSettings != nil:
		return encode(r.handleGetSettings())
	case req.SetSettings != nil:
		return encode(r.handleSetSettings(req.SetSettings))
	case req.GetAllSettings != nil:
		return encode(r.handleGetAllSettings(ctx))
	default:
		r.log.Warn("unsupported settings request")
		return encode(Response{Error: &ErrorResponse{Message: "unsupported request type"}})
	}
}

// handleGetSettings returns the current local settings. No propagation.
func (r *Router) handleGetSettings() Response {
	v := r.engine.GetLocal()
	r.log.Debug("get settings",
		zap.Uint32("idle_ms", v.IdleMS),
		zap.Uint32("sleep_ms", v.SleepMS))
	return Response{GetSettings: &GetSettingsResponse{Settings: v}}
}

// handleSetSettings applies and propagates new settings.
func (r *Router) handleSetSettings(req *SetSettingsRequest) Response {
	if err := r.engine.SetAndPropagate(req.Settings); err != nil {
		return Response{SetSettings: &SetSettingsResponse{Success: false, Message: err.Error()}}
	}
	return Response{SetSettings: &SetSettingsResponse{Success: true}}
}

// handleGetAllSettings collects the cluster's settings.
func (r *Router) handleGetAllSettings(ctx context.Context) Response {
	res := r.engine.GetAll(ctx)
	return Response{GetAllSettings: &GetAllSettingsResponse{
		Entries:   res.Entries,
		InSync:    res.InSync,
		Divergent: res.Divergent,
		Streaming: res.Streaming,
	}}
}

// encode serializes a response. The response types marshal without error;
// a failure here would be a programming bug, surfaced as a generic error
// payload rather than a panic.
func encode(resp Response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"error":{"message":"failed to encode response"}}`)
	}
	return data
}
