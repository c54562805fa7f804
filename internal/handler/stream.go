package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"llm-tap/internal/metrics"
	"llm-tap/internal/model"
	"llm-tap/internal/sse"
)

const streamBufSize = 32 * 1024

// Stream failure kinds, as they appear in a record's stream_error.
const (
	kindRead     = "ReadError"
	kindWrite    = "WriteError"
	kindCanceled = "Canceled"
)

// relayStream copies the upstream body to the client chunk by chunk, flushing
// after each, while decoding SSE data lines for the record. The stream ends
// either naturally or with exactly one error; in both cases one record is
// written with whatever was decoded.
func (h *ProxyHandler) relayStream(c echo.Context, pr *model.ProxyRequest, resp *model.ProxyResponse) {
	w := c.Response()
	copyHeaders(w.Header(), resp.Header)
	if w.Header().Get(echo.HeaderContentType) == "" {
		w.Header().Set(echo.HeaderContentType, "text/event-stream")
	}
	w.WriteHeader(resp.StatusCode)

	var (
		dec       sse.Decoder
		streamErr *string
	)
	fail := func(kind string, err error) {
		if pr.Ctx.Err() != nil {
			kind = kindCanceled
		}
		msg := fmt.Sprintf("StreamError: %s: %s", kind, sanitizeError(err))
		streamErr = &msg
	}

	if err := flush(w); err != nil {
		fail(kindWrite, err)
	}

	buf := make([]byte, streamBufSize)
	for streamErr == nil {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if _, err := w.Write(chunk); err != nil {
				fail(kindWrite, err)
				break
			}
			if err := flush(w); err != nil {
				fail(kindWrite, err)
				break
			}
			dec.Feed(chunk)
		}
		if errors.Is(rerr, io.EOF) {
			dec.Flush()
			break
		}
		if rerr != nil {
			fail(kindRead, rerr)
		}
	}

	events := dec.Events()
	if h.metrics != nil {
		outcome := metrics.StreamOK
		if streamErr != nil {
			outcome = metrics.StreamError
		}
		h.metrics.StreamsTotal.WithLabelValues(outcome).Inc()
		h.metrics.StreamEvents.Add(float64(len(events)))
		h.metrics.StreamDroppedLines.Add(float64(dec.Dropped()))
	}
	if streamErr != nil {
		h.logger.Warn("stream ended with error",
			"request_id", pr.ID,
			"path", pr.Route.ForwardPath,
			"events", len(events),
			"err", *streamErr,
		)
	}

	h.record(pr, resp.StatusCode, model.StreamResponse{
		Stream:      true,
		Chunks:      events,
		StreamError: streamErr,
	})
}

// flush pushes buffered bytes to the client. Unlike echo.Response.Flush it
// reports a writer that cannot flush instead of panicking.
func flush(w *echo.Response) error {
	return http.NewResponseController(w.Writer).Flush()
}
