// Package model defines shared types for the proxy.
package model

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// Route is the routing decision for one inbound request. It is produced once
// from the request path and not modified afterwards.
type Route struct {
	// UpstreamBaseURL is never empty; it falls back to the configured default.
	UpstreamBaseURL string
	// LogPathOverride is empty when records go to the default location.
	LogPathOverride string
	// ForwardPath is the path sent upstream, with any control block removed.
	ForwardPath string
	// ControlBlock is the decoded control-block object, nil when none was consumed.
	ControlBlock json.RawMessage
}

// ProxyRequest represents a client request to be forwarded upstream.
type ProxyRequest struct {
	Ctx       context.Context
	ID        string
	Start     time.Time
	Method    string
	RawQuery  string
	Header    http.Header
	Body      []byte
	ClientIP  string
	Route     Route
	Streaming bool
}

// ProxyResponse represents the upstream response to be relayed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// InteractionRecord is the persisted log entry for one request/response exchange.
type InteractionRecord struct {
	RequestID    string          `json:"request_id"`
	Timestamp    time.Time       `json:"ts"`
	Path         string          `json:"path"`
	IP           string          `json:"ip"`
	StatusCode   int             `json:"status_code"`
	DurationMS   int64           `json:"duration_ms"`
	RequestObj   json.RawMessage `json:"request_obj"`
	ResponseObj  any             `json:"response_obj"`
	ControlBlock json.RawMessage `json:"base64_json,omitempty"`
}

// StreamResponse is the response_obj of a streamed exchange.
type StreamResponse struct {
	Stream      bool              `json:"stream"`
	Chunks      []json.RawMessage `json:"chunks"`
	StreamError *string           `json:"stream_error"`
}

// NonJSONBody is the response_obj placeholder for an upstream body that is not JSON.
type NonJSONBody struct {
	Length int `json:"non_json_body_len"`
}
