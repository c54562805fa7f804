// Package routing decodes the optional per-request control block carried in
// the first path segment.
//
// A control block is a base64url-encoded JSON object such as
//
//	{"PROXY_BASE_URL": "https://open.bigmodel.cn/api/paas/v4", "LOG_FILE_PATH": "glm/run1.json"}
//
// Decoding is best effort. A segment that is not a control block is left in
// the path and the configured defaults apply; the request is never rejected.
package routing

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"

	"llm-tap/internal/config"
	"llm-tap/internal/model"
)

// Control-block field names.
const (
	FieldBaseURL = "PROXY_BASE_URL"
	FieldLogPath = "LOG_FILE_PATH"
)

// Problem explains why a control block, or one of its fields, was ignored.
type Problem int

const (
	ProblemNone Problem = iota
	// ProblemBadJSON: the segment decodes to something that opens like a JSON
	// object but does not parse.
	ProblemBadJSON
	// ProblemBadField: a known field has the wrong type or an unusable value.
	ProblemBadField
	// ProblemDisallowedHost: PROXY_BASE_URL names a host outside upstream.allowed_hosts.
	ProblemDisallowedHost
	// ProblemOverrideDisabled: LOG_FILE_PATH was given but overrides are turned off.
	ProblemOverrideDisabled
)

var problemNames = map[Problem]string{
	ProblemNone:             "none",
	ProblemBadJSON:          "bad_json",
	ProblemBadField:         "bad_field",
	ProblemDisallowedHost:   "disallowed_host",
	ProblemOverrideDisabled: "override_disabled",
}

// String returns the metric label for p.
func (p Problem) String() string {
	if s, ok := problemNames[p]; ok {
		return s
	}
	return "unknown"
}

// Issue is one problem found while decoding, with the field it concerns (if any).
type Issue struct {
	Problem Problem
	Field   string
}

// Result is the outcome of decoding one path.
type Result struct {
	Route model.Route
	// Issues is empty when the path carried no control block or a fully usable one.
	Issues []Issue
}

// Decoder turns a raw forward path into a routing decision. It holds only
// immutable configuration and is safe for concurrent use.
type Decoder struct {
	defaultBaseURL string
	allowedHosts   map[string]bool
	allowOverride  bool
}

// NewDecoder creates a Decoder from the loaded configuration.
func NewDecoder(cfg *config.Config) *Decoder {
	var allowed map[string]bool
	if len(cfg.Upstream.AllowedHosts) > 0 {
		allowed = make(map[string]bool, len(cfg.Upstream.AllowedHosts))
		for _, h := range cfg.Upstream.AllowedHosts {
			allowed[strings.ToLower(strings.TrimSpace(h))] = true
		}
	}
	return &Decoder{
		defaultBaseURL: cfg.Upstream.BaseURL,
		allowedHosts:   allowed,
		allowOverride:  cfg.Records.PathOverrideAllowed(),
	}
}

// Decode extracts the control block from the first segment of path. The
// result depends only on path and the Decoder's configuration. The returned
// ForwardPath never has leading slashes.
func (d *Decoder) Decode(path string) Result {
	trimmed := strings.TrimLeft(path, "/")
	res := Result{Route: model.Route{
		UpstreamBaseURL: d.defaultBaseURL,
		ForwardPath:     trimmed,
	}}

	if trimmed == "" {
		return res
	}
	segment, rest, _ := strings.Cut(trimmed, "/")

	// Ordinary segments such as "v1" often decode as base64 too; only bytes
	// that open a JSON object count as a control block attempt.
	raw, err := decodeSegment(segment)
	if err != nil || !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
		return res
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		res.Issues = append(res.Issues, Issue{Problem: ProblemBadJSON})
		return res
	}

	res.Route.ForwardPath = rest
	res.Route.ControlBlock = compact(raw)

	if v, ok := fields[FieldBaseURL]; ok {
		if base, p := d.baseURL(v); p != ProblemNone {
			res.Issues = append(res.Issues, Issue{Problem: p, Field: FieldBaseURL})
		} else if base != "" {
			res.Route.UpstreamBaseURL = base
		}
	}

	if v, ok := fields[FieldLogPath]; ok {
		s, isString := stringField(v)
		switch {
		case !isString:
			res.Issues = append(res.Issues, Issue{Problem: ProblemBadField, Field: FieldLogPath})
		case s == "":
		case !d.allowOverride:
			res.Issues = append(res.Issues, Issue{Problem: ProblemOverrideDisabled, Field: FieldLogPath})
		default:
			res.Route.LogPathOverride = s
		}
	}

	return res
}

// baseURL validates a PROXY_BASE_URL value. An empty string or JSON null
// means "use the default" and is not a problem.
func (d *Decoder) baseURL(v json.RawMessage) (string, Problem) {
	s, ok := stringField(v)
	if !ok {
		return "", ProblemBadField
	}
	if s == "" {
		return "", ProblemNone
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", ProblemBadField
	}
	if d.allowedHosts != nil && !d.allowedHosts[strings.ToLower(u.Hostname())] {
		return "", ProblemDisallowedHost
	}
	return s, ProblemNone
}

// decodeSegment base64url-decodes the escaped path segment s with or without
// trailing padding. Padding may arrive percent-encoded as "%3D".
func decodeSegment(s string) ([]byte, error) {
	unescaped, err := url.PathUnescape(s)
	if err != nil {
		return nil, err
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(unescaped, "="))
}

// stringField reports whether v is a JSON string or null, returning the string.
func stringField(v json.RawMessage) (string, bool) {
	if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return "", true
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	return s, true
}

func compact(raw []byte) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return json.RawMessage(raw)
	}
	return json.RawMessage(buf.Bytes())
}
