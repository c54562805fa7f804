package service

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// StreamHint is what the request body says about streaming.
type StreamHint int

const (
	// StreamAbsent: the body is a JSON object without a boolean "stream" field.
	StreamAbsent StreamHint = iota
	// StreamMalformedBody: the body is empty, not JSON, or not a JSON object.
	StreamMalformedBody
	// StreamFalse: "stream": false.
	StreamFalse
	// StreamTrue: "stream": true.
	StreamTrue
)

// ProbeStream inspects the "stream" field of a JSON request body without
// decoding the rest of it.
func ProbeStream(body []byte) StreamHint {
	if !gjson.ValidBytes(body) {
		return StreamMalformedBody
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return StreamMalformedBody
	}
	switch v := root.Get("stream"); v.Type {
	case gjson.True:
		return StreamTrue
	case gjson.False:
		return StreamFalse
	default:
		return StreamAbsent
	}
}

// WantsStream decides, before dispatch, whether the response is relayed as an
// SSE stream. Either an Accept header naming text/event-stream or a body with
// "stream": true selects streaming.
func WantsStream(accept string, body []byte) bool {
	if strings.Contains(strings.ToLower(accept), "text/event-stream") {
		return true
	}
	return ProbeStream(body) == StreamTrue
}

// RequestObject returns the request body as recorded: the JSON itself, an
// empty object for an empty body, or nil (JSON null) when the body is not JSON.
func RequestObject(body []byte) json.RawMessage {
	if len(body) == 0 {
		return json.RawMessage(`{}`)
	}
	if !json.Valid(body) {
		return nil
	}
	return json.RawMessage(body)
}
