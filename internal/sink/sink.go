// Package sink delivers records to downstream consumers.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/telhawk-systems/sshfeeder/internal/models"
)

// Backend names accepted by the sink configuration.
const (
	BackendStdout = "stdout"
	BackendNATS   = "nats"
	BackendRedis  = "redis"
)

// Sink receives records one at a time.
type Sink interface {
	Write(ctx context.Context, rec models.Record) error
	Close() error
}

// HealthChecker is implemented by sinks that hold a connection to their
// backend.
type HealthChecker interface {
	Healthy() bool
}

// Emit adapts s to the callback used by the feeder.
func Emit(ctx context.Context, s Sink) models.EmitFunc {
	return func(rec models.Record) error {
		return s.Write(ctx, rec)
	}
}

var recordNamespace = uuid.MustParse("7c0b5e0a-93f1-4a57-9f59-1f7d8f3a0c2e")

// MessageID returns a stable identifier for rec derived from its
// provenance, so re-delivery of the same line maps to the same ID.
func MessageID(rec models.Record) string {
	key := rec.Host + "/" + rec.File + "#" + strconv.Itoa(rec.Line)
	return uuid.NewSHA1(recordNamespace, []byte(key)).String()
}

// Payload returns the bytes published for rec: the raw line as-is, or the
// JSON encoding of a structured document.
func Payload(rec models.Record) ([]byte, error) {
	if rec.IsRaw() {
		return rec.Raw, nil
	}
	if rec.Document == nil {
		return nil, fmt.Errorf("record %s:%d has no payload", rec.File, rec.Line)
	}
	b, err := json.Marshal(rec.Document)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	return b, nil
}

// WriterSink writes newline-delimited payloads to an io.Writer.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink creates a sink writing one payload per line to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Write(ctx context.Context, rec models.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := Payload(rec)
	if err != nil {
		return err
	}

	line := make([]byte, 0, len(payload)+1)
	line = append(line, payload...)
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(line); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

// Close is a no-op; the writer is owned by the caller.
func (s *WriterSink) Close() error {
	return nil
}
