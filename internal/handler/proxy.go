package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"llm-tap/internal/metrics"
	"llm-tap/internal/middleware"
	"llm-tap/internal/model"
	"llm-tap/internal/recorder"
	"llm-tap/internal/routing"
	"llm-tap/internal/service"
)

// secretQueryPattern matches credential query values in URLs embedded in error messages.
var secretQueryPattern = regexp.MustCompile(`(?i)((?:api_?key|key)=)[^&\s"]+`)

// ProxyHandler relays requests to the routed upstream and records each exchange.
type ProxyHandler struct {
	routes   *routing.Decoder
	service  *service.ProxyService
	recorder *recorder.Recorder
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewProxyHandler creates a ProxyHandler. m may be nil.
func NewProxyHandler(routes *routing.Decoder, svc *service.ProxyService, rec *recorder.Recorder, m *metrics.Metrics, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		routes:   routes,
		service:  svc,
		recorder: rec,
		metrics:  m,
		logger:   logger.With("component", "proxy_handler"),
	}
}

// Handle forwards the request upstream and relays the response, buffered or
// as an SSE stream. Exactly one interaction record is written for every
// request that reached the upstream.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()
	start := time.Now()
	id := middleware.GetRequestID(c)

	body, err := io.ReadAll(req.Body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		h.logger.Warn("read request body", "request_id", id, "err", err)
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "could not read request body",
		})
	}

	decoded := h.routes.Decode(req.URL.EscapedPath())
	h.reportIssues(id, decoded.Issues)

	pr := &model.ProxyRequest{
		Ctx:       req.Context(),
		ID:        id,
		Start:     start,
		Method:    req.Method,
		RawQuery:  req.URL.RawQuery,
		Header:    req.Header,
		Body:      body,
		ClientIP:  clientIP(req),
		Route:     decoded.Route,
		Streaming: service.WantsStream(req.Header.Get("Accept"), body),
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, pr, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if pr.Streaming {
		h.relayStream(c, pr, resp)
		return nil
	}
	return h.relayBuffered(c, pr, resp)
}

// relayBuffered reads the whole upstream body, records it, then returns it
// to the client unchanged.
func (h *ProxyHandler) relayBuffered(c echo.Context, pr *model.ProxyRequest, resp *model.ProxyResponse) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return h.mapError(c, pr, fmt.Errorf("%w: read body: %w", service.ErrUpstreamUnreachable, err))
	}

	h.record(pr, resp.StatusCode, responseObject(data))

	w := c.Response()
	copyHeaders(w.Header(), resp.Header)
	if _, ok := resp.Header["Content-Type"]; !ok {
		// Relay the absence as-is instead of letting net/http sniff one.
		w.Header()["Content-Type"] = nil
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(data); err != nil {
		h.logger.Warn("write response body", "request_id", pr.ID, "err", err)
	}
	return nil
}

// record builds the interaction record and hands it to the recorder. The
// write is detached from request cancellation so a departed client still
// leaves a record behind.
func (h *ProxyHandler) record(pr *model.ProxyRequest, status int, responseObj any) {
	rec := &model.InteractionRecord{
		RequestID:    pr.ID,
		Timestamp:    time.Now().UTC(),
		Path:         pr.Route.ForwardPath,
		IP:           pr.ClientIP,
		StatusCode:   status,
		DurationMS:   time.Since(pr.Start).Milliseconds(),
		RequestObj:   service.RequestObject(pr.Body),
		ResponseObj:  responseObj,
		ControlBlock: pr.Route.ControlBlock,
	}
	// Failures are logged and counted by the recorder.
	_, _ = h.recorder.Record(context.WithoutCancel(pr.Ctx), rec, pr.Route.LogPathOverride)
}

func (h *ProxyHandler) reportIssues(id string, issues []routing.Issue) {
	for _, is := range issues {
		if h.metrics != nil {
			h.metrics.RouteDecodeFailures.WithLabelValues(is.Problem.String()).Inc()
		}
		h.logger.Debug("control block ignored",
			"request_id", id,
			"reason", is.Problem.String(),
			"field", is.Field,
		)
	}
}

// mapError answers a request whose upstream call produced no response.
// No record is written: there is no exchange to record.
func (h *ProxyHandler) mapError(c echo.Context, pr *model.ProxyRequest, err error) error {
	detail := sanitizeError(err)
	h.logger.Error("proxy error",
		"request_id", pr.ID,
		"err", detail,
		"path", pr.Route.ForwardPath,
	)

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": errorCategory(err) + ": " + detail,
	})
}

func errorCategory(err error) string {
	if errors.Is(err, context.Canceled) {
		return "client disconnected"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "upstream request timed out"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "upstream host unreachable"
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "upstream connection failed"
	}

	return "upstream request failed"
}

// sanitizeError redacts credentials from error messages that may contain upstream URLs.
func sanitizeError(err error) string {
	return secretQueryPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]")
}

// responseObject is what a buffered record stores for the upstream body.
func responseObject(data []byte) any {
	if json.Valid(data) {
		return json.RawMessage(data)
	}
	return model.NonJSONBody{Length: len(data)}
}

// copyHeaders adds every value of src to dst.
func copyHeaders(dst, src http.Header) {
	for key, vals := range src {
		for _, v := range vals {
			dst.Add(key, v)
		}
	}
}

// clientIP is the first X-Forwarded-For entry, or the peer address host.
func clientIP(req *http.Request) string {
	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
