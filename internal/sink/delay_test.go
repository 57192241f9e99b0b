package sink

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/sshfeeder/internal/metrics"
	"github.com/telhawk-systems/sshfeeder/internal/models"
)

type memorySink struct {
	records []models.Record
	closed  bool
}

func (m *memorySink) Write(_ context.Context, rec models.Record) error {
	m.records = append(m.records, rec)
	return nil
}

func (m *memorySink) Close() error {
	m.closed = true
	return nil
}

func TestStartTime(t *testing.T) {
	want := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		rec  models.Record
		ok   bool
	}{
		{name: "raw", rec: models.Record{Raw: []byte(`{"measurement_start_time":"2024-03-01 12:30:00","x":1}`)}, ok: true},
		{name: "document", rec: models.Record{Document: map[string]interface{}{"measurement_start_time": "2024-03-01 12:30:00"}}, ok: true},
		{name: "missing field", rec: models.Record{Raw: []byte(`{"x":1}`)}},
		{name: "bad layout", rec: models.Record{Raw: []byte(`{"measurement_start_time":"2024-03-01T12:30:00Z"}`)}},
		{name: "not json", rec: models.Record{Raw: []byte(`garbage`)}},
		{name: "wrong type", rec: models.Record{Document: map[string]interface{}{"measurement_start_time": 5}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := StartTime(tt.rec)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, want.Equal(got))
			}
		})
	}
}

func TestDelaySink(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	next := &memorySink{}

	s := WithIngestionDelay(next, m, nil)
	s.now = func() time.Time { return time.Date(2024, 3, 1, 12, 31, 0, 0, time.UTC) }

	ctx := context.Background()
	require.NoError(t, s.Write(ctx, models.Record{Raw: []byte(`{"measurement_start_time":"2024-03-01 12:30:00"}`)}))
	assert.Equal(t, 60.0, testutil.ToFloat64(m.IngestionDelay))

	// Start times in the future land on the negative gauge.
	require.NoError(t, s.Write(ctx, models.Record{Raw: []byte(`{"measurement_start_time":"2024-03-01 12:31:30"}`)}))
	assert.Equal(t, 30.0, testutil.ToFloat64(m.NegativeIngestionDelay))

	// Records without a start time still pass through.
	require.NoError(t, s.Write(ctx, models.Record{Raw: []byte(`{}`)}))
	assert.Len(t, next.records, 3)

	require.NoError(t, s.Close())
	assert.True(t, next.closed)
}
