// Package recorder persists one interaction record per proxied request.
//
// The file store is the record of truth. A Redis stream mirror can be enabled
// alongside it for consumers that want records pushed to them. Neither sink
// can fail the request that produced the record.
package recorder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"llm-tap/internal/config"
	"llm-tap/internal/metrics"
	"llm-tap/internal/model"
)

// Sink label values for llm_tap_record_writes_total.
const (
	SinkFile  = "file"
	SinkRedis = "redis"
)

// Recorder writes interaction records to the file store and, when configured,
// mirrors them to Redis.
type Recorder struct {
	files   *FileStore
	mirror  *RedisMirror
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Recorder. mirror and m may be nil.
func New(cfg *config.Config, mirror *RedisMirror, m *metrics.Metrics, logger *slog.Logger) *Recorder {
	return &Recorder{
		files:   NewFileStore(cfg.Records.Dir),
		mirror:  mirror,
		metrics: m,
		logger:  logger.With("component", "recorder"),
	}
}

// Encode renders rec the way it is stored: two-space indentation, HTML
// characters left unescaped.
func Encode(rec *model.InteractionRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Record persists rec and returns the file path it was written to. Failures
// are logged and counted here; the returned error is informational and
// callers are not expected to act on it.
func (r *Recorder) Record(ctx context.Context, rec *model.InteractionRecord, override string) (string, error) {
	data, err := Encode(rec)
	if err != nil {
		r.count(SinkFile, metrics.WriteError)
		r.logger.Error("encode record", "request_id", rec.RequestID, "err", err)
		return "", fmt.Errorf("recorder: encode: %w", err)
	}

	path := r.files.Path(rec, override)
	fileErr := r.files.Write(path, data)
	if fileErr != nil {
		r.count(SinkFile, metrics.WriteError)
		r.logger.Error("record not written",
			"request_id", rec.RequestID,
			"path", path,
			"err", fileErr,
		)
	} else {
		r.count(SinkFile, metrics.WriteOK)
		r.logger.Debug("record written", "request_id", rec.RequestID, "path", path)
	}

	var mirrorErr error
	if r.mirror != nil {
		mirrorErr = r.mirror.Publish(ctx, rec, data)
		if mirrorErr != nil {
			r.count(SinkRedis, metrics.WriteError)
			r.logger.Warn("record not mirrored", "request_id", rec.RequestID, "err", mirrorErr)
		} else {
			r.count(SinkRedis, metrics.WriteOK)
		}
	}

	return path, errors.Join(fileErr, mirrorErr)
}

func (r *Recorder) count(sink, result string) {
	if r.metrics != nil {
		r.metrics.RecordWrites.WithLabelValues(sink, result).Inc()
	}
}
