package service

import (
	"net/http"
)

const defaultContentType = "application/json"

// forwardableRequestHeaders are the only request headers forwarded upstream.
// Content-Type is handled separately because it has a default.
var forwardableRequestHeaders = []string{
	"Authorization",
	"Accept",
}

// blockedResponseHeaders describe framing of the upstream body. The relay
// re-frames the body, so passing them on would corrupt the client transport.
var blockedResponseHeaders = map[string]bool{
	"Content-Length":    true,
	"Connection":        true,
	"Transfer-Encoding": true,
	"Content-Encoding":  true,
}

// OutboundHeaders builds the upstream request headers from an allow-list.
// Every other inbound header, hop-by-hop and framing headers included, is dropped.
func OutboundHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(forwardableRequestHeaders)+1)

	if vals := src.Values("Content-Type"); len(vals) > 0 {
		dst["Content-Type"] = append([]string(nil), vals...)
	} else {
		dst.Set("Content-Type", defaultContentType)
	}

	for _, key := range forwardableRequestHeaders {
		if vals := src.Values(key); len(vals) > 0 {
			dst[key] = append([]string(nil), vals...)
		}
	}
	return dst
}

// ResponseHeaders copies the upstream response headers minus the framing block-list.
func ResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if blockedResponseHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		dst[key] = append([]string(nil), vals...)
	}
	return dst
}
