// Package metrics exposes the feeder's Prometheus instrumentation.
// All methods are safe on a nil *Metrics, so instrumentation can be left out
// without affecting behaviour.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sshfeeder"

// Metrics groups the feeder's collectors.
type Metrics struct {
	FetchedCount           prometheus.Counter
	FetchedBytes           prometheus.Counter
	NewReports             prometheus.Counter
	SSHErrors              prometheus.Counter
	UnhandledExceptions    prometheus.Counter
	Records                prometheus.Counter
	Cycles                 *prometheus.CounterVec
	Fetching               prometheus.Gauge
	FetchBandwidth         prometheus.Gauge
	IngestionDelay         prometheus.Gauge
	NegativeIngestionDelay prometheus.Gauge
	ConnectDuration        *prometheus.HistogramVec
	ScanDuration           prometheus.Histogram
	FetchDuration          prometheus.Histogram
}

// New registers the feeder's collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		FetchedCount: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetched_count_total",
			Help:      "Total number of measurement files fetched",
		}),
		FetchedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetched_data_bytes_total",
			Help:      "Total bytes of measurement data fetched",
		}),
		NewReports: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "new_reports_total",
			Help:      "Total number of new files discovered on collectors",
		}),
		SSHErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ssh_error_total",
			Help:      "Total number of remote listing commands that exited non-zero",
		}),
		UnhandledExceptions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unhandled_exception_total",
			Help:      "Total number of fetch failures converted into empty results",
		}),
		Records: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Total number of records forwarded downstream",
		}),
		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Total number of poll cycles by outcome",
		}, []string{"outcome"}),
		Fetching: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fetching",
			Help:      "1 while a file transfer is in progress",
		}),
		FetchBandwidth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fetching_bw_kbps",
			Help:      "Throughput of the last file transfer in bytes per millisecond",
		}),
		IngestionDelay: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingestion_delay_seconds",
			Help:      "Delay between measurement start time and ingestion",
		}),
		NegativeIngestionDelay: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "negative_ingestion_delay_seconds",
			Help:      "Magnitude of measurement start times found in the future",
		}),
		ConnectDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connect_duration_seconds",
			Help:      "Duration of SSH connection setup per collector",
			Buckets:   prometheus.DefBuckets,
		}, []string{"host"}),
		ScanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Duration of remote directory scans",
			Buckets:   prometheus.DefBuckets,
		}),
		FetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of measurement file transfers",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
}

// ObserveConnect records the time spent establishing a session to host.
func (m *Metrics) ObserveConnect(host string, d time.Duration) {
	if m == nil {
		return
	}
	m.ConnectDuration.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveScan records the duration of one discovery scan.
func (m *Metrics) ObserveScan(d time.Duration) {
	if m == nil {
		return
	}
	m.ScanDuration.Observe(d.Seconds())
}

// AddNewReports counts newly discovered files.
func (m *Metrics) AddNewReports(n int) {
	if m == nil {
		return
	}
	m.NewReports.Add(float64(n))
}

// IncSSHError counts a listing command that exited non-zero.
func (m *Metrics) IncSSHError() {
	if m == nil {
		return
	}
	m.SSHErrors.Inc()
}

// IncUnhandled counts a swallowed fetch failure.
func (m *Metrics) IncUnhandled() {
	if m == nil {
		return
	}
	m.UnhandledExceptions.Inc()
}

// SetFetching flags whether a transfer is in progress.
func (m *Metrics) SetFetching(active bool) {
	if m == nil {
		return
	}
	if active {
		m.Fetching.Set(1)
		return
	}
	m.Fetching.Set(0)
}

// ObserveFetch records a completed transfer of n bytes taking d.
func (m *Metrics) ObserveFetch(n int64, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(d.Seconds())
	m.FetchedCount.Inc()
	m.FetchedBytes.Add(float64(n))
	m.FetchBandwidth.Set(Bandwidth(n, d))
}

// IncRecords counts a record forwarded downstream.
func (m *Metrics) IncRecords() {
	if m == nil {
		return
	}
	m.Records.Inc()
}

// IncCycle counts a finished poll cycle; outcome is "records", "idle" or "error".
func (m *Metrics) IncCycle(outcome string) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(outcome).Inc()
}

// ObserveIngestionDelay records how far behind (or ahead of) now a
// measurement's start time is.
func (m *Metrics) ObserveIngestionDelay(d time.Duration) {
	if m == nil {
		return
	}
	if d < 0 {
		m.NegativeIngestionDelay.Set(-d.Seconds())
		return
	}
	m.IngestionDelay.Set(d.Seconds())
}

// Bandwidth returns throughput in bytes per millisecond. A zero duration is
// replaced by one nanosecond.
func Bandwidth(n int64, d time.Duration) float64 {
	ms := float64(d) / float64(time.Millisecond)
	if ms <= 0 {
		ms = 0.000_001
	}
	return float64(n) / ms
}
