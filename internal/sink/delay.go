package sink

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/telhawk-systems/sshfeeder/internal/logging"
	"github.com/telhawk-systems/sshfeeder/internal/metrics"
	"github.com/telhawk-systems/sshfeeder/internal/models"
)

// StartTimeLayout is the layout of measurement_start_time values (UTC).
const StartTimeLayout = "2006-01-02 15:04:05"

// DelaySink records the ingestion delay of every record before passing it on.
type DelaySink struct {
	next    Sink
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// WithIngestionDelay wraps next so that each record's
// measurement_start_time updates the ingestion delay gauges.
func WithIngestionDelay(next Sink, m *metrics.Metrics, logger *slog.Logger) *DelaySink {
	return &DelaySink{
		next:    next,
		metrics: m,
		logger:  logging.OrDefault(logger),
		now:     time.Now,
	}
}

func (s *DelaySink) Write(ctx context.Context, rec models.Record) error {
	if start, ok := StartTime(rec); ok {
		s.metrics.ObserveIngestionDelay(s.now().Sub(start))
	} else {
		s.logger.Debug("record has no usable measurement_start_time",
			logging.Host(rec.Host), logging.File(rec.File))
	}
	return s.next.Write(ctx, rec)
}

func (s *DelaySink) Close() error {
	return s.next.Close()
}

// StartTime extracts measurement_start_time from rec.
func StartTime(rec models.Record) (time.Time, bool) {
	var value string
	if rec.IsRaw() {
		var head struct {
			MeasurementStartTime string `json:"measurement_start_time"`
		}
		if err := json.Unmarshal(rec.Raw, &head); err != nil {
			return time.Time{}, false
		}
		value = head.MeasurementStartTime
	} else if v, ok := rec.Document["measurement_start_time"].(string); ok {
		value = v
	}
	if value == "" {
		return time.Time{}, false
	}

	t, err := time.Parse(StartTimeLayout, value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
