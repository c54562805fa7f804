// Package service implements the core proxy forwarding logic.
package service

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"llm-tap/internal/client"
	"llm-tap/internal/model"
)

// ErrUpstreamUnreachable is returned when the upstream could not be reached
// or did not produce a response. Nothing was received, so nothing is relayed.
var ErrUpstreamUnreachable = errors.New("upstream unreachable")

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	client *client.UpstreamClient
	logger *slog.Logger
}

// NewProxyService creates a ProxyService.
func NewProxyService(c *client.UpstreamClient, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		client: c,
		logger: logger.With("component", "proxy_service"),
	}
}

// Forward sends a ProxyRequest to the upstream named by its route and returns
// the response with sanitized headers and an unread body. The caller is
// responsible for closing the response body.
//
// Exactly one upstream call is made; there is no retry.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	upstreamURL := UpstreamURL(pr.Route, pr.RawQuery)
	header := OutboundHeaders(pr.Header)

	s.logger.Debug("forwarding request",
		"request_id", pr.ID,
		"method", pr.Method,
		"path", pr.Route.ForwardPath,
		"streaming", pr.Streaming,
	)

	resp, err := s.client.DoStream(pr.Ctx, pr.Method, upstreamURL, header, bytes.NewReader(pr.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnreachable, err)
	}

	resp.Header = ResponseHeaders(resp.Header)
	return resp, nil
}

// UpstreamURL joins the route's base URL and forward path with exactly one
// slash and appends the inbound raw query, if any.
func UpstreamURL(route model.Route, rawQuery string) string {
	u := strings.TrimRight(route.UpstreamBaseURL, "/") + "/" + strings.TrimLeft(route.ForwardPath, "/")
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return u
}
