package feeder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/sshfeeder/internal/fetcher"
	"github.com/telhawk-systems/sshfeeder/internal/metrics"
	"github.com/telhawk-systems/sshfeeder/internal/models"
	"github.com/telhawk-systems/sshfeeder/internal/scanner"
	"github.com/telhawk-systems/sshfeeder/internal/source"
	"github.com/telhawk-systems/sshfeeder/internal/transport"
	"github.com/telhawk-systems/sshfeeder/internal/transport/transporttest"
)

const archive = "/srv/collector/archive"

// scriptedScanner answers scans from fn, recording which hosts were polled.
type scriptedScanner struct {
	mu    sync.Mutex
	calls []string
	fn    func(call int, src *source.Source) ([]string, error)
}

func (s *scriptedScanner) Scan(_ context.Context, src *source.Source) ([]string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, src.Host)
	call := len(s.calls)
	s.mu.Unlock()
	return s.fn(call, src)
}

// lineRetriever emits one record per file, named after the file.
type lineRetriever struct{}

func (lineRetriever) Fetch(_ context.Context, src *source.Source, name string, emit models.EmitFunc) (fetcher.Result, error) {
	err := emit(models.Record{Raw: []byte(name), Host: src.Host, File: name, Line: 1})
	return fetcher.Result{Records: 1}, err
}

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
	after  int
	cancel context.CancelFunc
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.sleeps = append(r.sleeps, d)
	n := len(r.sleeps)
	r.mu.Unlock()

	if n >= r.after {
		r.cancel()
	}
	return ctx.Err()
}

func (r *sleepRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sleeps)
}

func newSources(hosts ...string) []*source.Source {
	out := make([]*source.Source, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, source.New(h, 100, 0))
	}
	return out
}

// newRealFeeder wires the real scanner and fetcher over scripted sessions.
func newRealFeeder(t *testing.T, cfg Config, sessions map[string]*transporttest.Session) (*Feeder, *metrics.Metrics) {
	t.Helper()

	m := metrics.New(prometheus.NewRegistry())
	connector := source.NewConnector(&transporttest.Dialer{}, m, nil)

	hosts := make([]string, 0, len(sessions))
	for h := range sessions {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)

	sources := newSources(hosts...)
	for _, src := range sources {
		src.SetSession(sessions[src.Host])
	}

	sc := scanner.New(scanner.Config{ArchiveDir: archive}, connector, m, nil)
	fe := fetcher.New(fetcher.Config{ArchiveDir: archive}, m, nil)
	return New(cfg, sources, connector, sc, fe, m, nil), m
}

func collect(recs *[]models.Record) models.EmitFunc {
	return func(rec models.Record) error {
		*recs = append(*recs, rec)
		return nil
	}
}

func TestRunCycle_StreamsAllSourcesInOrder(t *testing.T) {
	b := transporttest.NewSession(map[string][]byte{
		archive + "/2.json": []byte("b2-1\nb2-2\n"),
		archive + "/1.json": []byte("b1-1\n"),
	}).Queue(transporttest.Listing("10 1 2.json\n11 1 1.json\n", 0))
	c := transporttest.NewSession(map[string][]byte{
		archive + "/x.json": []byte("c-1\n"),
	}).Queue(transporttest.Listing("10 1 x.json\n", 0))

	f, m := newRealFeeder(t, Config{}, map[string]*transporttest.Session{
		"b.collector.ooni.io": b,
		"c.collector.ooni.io": c,
	})

	var recs []models.Record
	n, err := f.RunCycle(context.Background(), collect(&recs))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	var got []string
	for _, r := range recs {
		got = append(got, string(r.Raw))
	}
	assert.Equal(t, []string{"b1-1", "b2-1", "b2-2", "c-1"}, got)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Records))
}

func TestRunCycle_FetchFailureIsolated(t *testing.T) {
	b := transporttest.NewSession(map[string][]byte{
		archive + "/b.json": []byte("ok\n"),
	}).Queue(transporttest.Listing("1 1 a.json\n2 2 b.json\n3 3 c.yaml\n", 0))
	b.FetchErr[archive+"/a.json"] = errors.New("permission denied")

	f, m := newRealFeeder(t, Config{}, map[string]*transporttest.Session{"b.collector.ooni.io": b})

	var recs []models.Record
	n, err := f.RunCycle(context.Background(), collect(&recs))
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.Equal(t, "b.json", recs[0].File)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.UnhandledExceptions))
	assert.Len(t, b.Fetched, 3, "c.yaml is still attempted after a.json failed")
}

func TestRun_ThrottlesWhenIdle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sc := &scriptedScanner{fn: func(int, *source.Source) ([]string, error) { return nil, nil }}
	f := New(Config{Throttle: 250 * time.Millisecond}, newSources("b", "c"), nil, sc, lineRetriever{}, nil, nil)
	rec := &sleepRecorder{after: 3, cancel: cancel}
	f.sleep = rec.sleep

	err := f.Run(ctx, collect(new([]models.Record)))
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond, 250 * time.Millisecond}, rec.sleeps)
	assert.Equal(t, []string{"b", "c", "b", "c", "b", "c"}, sc.calls, "stable order every cycle")
	assert.True(t, f.Ready())
}

func TestRun_NoThrottleWhileDraining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sc := &scriptedScanner{fn: func(call int, src *source.Source) ([]string, error) {
		// Cycles 1 and 2 find files on "c" only; cycle 3 is idle.
		if call <= 4 && src.Host == "c" {
			return []string{fmt.Sprintf("r%d.json", call)}, nil
		}
		return nil, nil
	}}
	f := New(Config{Throttle: time.Second}, newSources("b", "c"), nil, sc, lineRetriever{}, nil, nil)
	rec := &sleepRecorder{after: 1, cancel: cancel}
	f.sleep = rec.sleep

	var recs []models.Record
	err := f.Run(ctx, collect(&recs))
	assert.ErrorIs(t, err, context.Canceled)

	assert.Len(t, recs, 2)
	assert.Equal(t, 1, rec.count(), "sleep only after the idle cycle")
	assert.Len(t, sc.calls, 6)
}

func TestRun_CycleErrorIsLoggedAndThrottled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broken := fmt.Errorf("%w: connection refused", transport.ErrTransport)
	sc := &scriptedScanner{fn: func(call int, src *source.Source) ([]string, error) {
		if call == 1 {
			return nil, broken
		}
		return []string{"late.json"}, nil
	}}
	m := metrics.New(prometheus.NewRegistry())
	f := New(Config{Throttle: time.Second}, newSources("b", "c"), nil, sc, lineRetriever{}, m, nil)

	var recs []models.Record
	rec := &sleepRecorder{after: 1, cancel: cancel}
	f.sleep = rec.sleep

	err := f.Run(ctx, collect(&recs))
	assert.ErrorIs(t, err, context.Canceled)

	// The failing first source ends the cycle before "c" is polled.
	assert.Equal(t, []string{"b"}, sc.calls)
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Cycles.WithLabelValues("error")))
	assert.False(t, f.Ready())
}

func TestRun_IsolateSourcesPollsRemainingSources(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sc := &scriptedScanner{fn: func(call int, src *source.Source) ([]string, error) {
		if src.Host == "b" {
			return nil, fmt.Errorf("%w: connection refused", transport.ErrTransport)
		}
		if call == 2 {
			return []string{"c.json"}, nil
		}
		return nil, nil
	}}
	m := metrics.New(prometheus.NewRegistry())
	f := New(Config{Throttle: time.Second, IsolateSources: true}, newSources("b", "c"), nil, sc, lineRetriever{}, m, nil)

	var recs []models.Record
	rec := &sleepRecorder{after: 1, cancel: cancel}
	f.sleep = rec.sleep

	err := f.Run(ctx, collect(&recs))
	assert.ErrorIs(t, err, context.Canceled)

	require.Len(t, recs, 1)
	assert.Equal(t, "c", recs[0].Host)
	assert.Equal(t, "c.json", recs[0].File)
	assert.Equal(t, []string{"b", "c"}, sc.calls[:2])
	assert.Zero(t, testutil.ToFloat64(m.Cycles.WithLabelValues("error")))
}

func TestRun_RecoversAfterError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sc := &scriptedScanner{fn: func(call int, src *source.Source) ([]string, error) {
		if call == 1 {
			return nil, errors.New("boom")
		}
		if call == 2 {
			return []string{"r.json"}, nil
		}
		return nil, nil
	}}
	f := New(Config{Throttle: time.Second}, newSources("b"), nil, sc, lineRetriever{}, nil, nil)
	rec := &sleepRecorder{after: 2, cancel: cancel}
	f.sleep = rec.sleep

	var recs []models.Record
	err := f.Run(ctx, collect(&recs))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, recs, 1)
}

func TestRun_EmitStop(t *testing.T) {
	sc := &scriptedScanner{fn: func(int, *source.Source) ([]string, error) {
		return []string{"a.json", "b.json"}, nil
	}}
	f := New(Config{}, newSources("b"), nil, sc, lineRetriever{}, nil, nil)

	seen := 0
	err := f.Run(context.Background(), func(models.Record) error {
		seen++
		return models.ErrStop
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, seen)
}

func TestRecords_LazySequence(t *testing.T) {
	sc := &scriptedScanner{fn: func(call int, *source.Source) ([]string, error) {
		return []string{fmt.Sprintf("%03d-a.json", call), fmt.Sprintf("%03d-b.json", call)}, nil
	}}
	f := New(Config{}, newSources("b"), nil, sc, lineRetriever{}, nil, nil)

	var got []string
	for rec := range f.Records(context.Background()) {
		got = append(got, rec.File)
		if len(got) == 3 {
			break
		}
	}

	assert.Equal(t, []string{"001-a.json", "001-b.json", "002-a.json"}, got)
	assert.Len(t, sc.calls, 2, "no scans beyond what the consumer pulled")
}

func TestRun_ContextCancelledBetweenSources(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	sc := &scriptedScanner{fn: func(call int, src *source.Source) ([]string, error) {
		cancel()
		return nil, nil
	}}
	f := New(Config{}, newSources("b", "c"), nil, sc, lineRetriever{}, nil, nil)

	err := f.Run(ctx, collect(new([]models.Record)))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"b"}, sc.calls)
}

func TestRun_Parallel(t *testing.T) {
	sc := &scriptedScanner{fn: func(call int, src *source.Source) ([]string, error) {
		return []string{fmt.Sprintf("%s-%d.json", src.Host, call)}, nil
	}}
	f := New(Config{Parallel: true}, newSources("b", "c", "d"), nil, sc, lineRetriever{}, nil, nil)
	f.sleep = func(ctx context.Context, time.Duration) error { return ctx.Err() }

	hosts := make(map[string]int)
	total := 0
	err := f.Run(context.Background(), func(rec models.Record) error {
		hosts[rec.Host]++
		total++
		if total == 30 {
			return models.ErrStop
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 30, total)
	assert.Len(t, hosts, 3, "every source contributes")
}

func TestRun_ParallelCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sc := &scriptedScanner{fn: func(int, *source.Source) ([]string, error) { return nil, nil }}
	f := New(Config{Parallel: true, Throttle: time.Hour}, newSources("b", "c"), nil, sc, lineRetriever{}, nil, nil)

	done := make(chan error, 1)
	go func() { done <- f.Run(ctx, collect(new([]models.Record))) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("parallel run did not stop on cancel")
	}
}

func TestConnectAll(t *testing.T) {
	dialer := &transporttest.Dialer{Sessions: []transport.Session{transporttest.NewSession(nil)}}
	connector := source.NewConnector(dialer, nil, nil)
	sources := newSources("b", "c")
	f := New(Config{}, sources, connector, nil, nil, nil, nil)

	f.ConnectAll(context.Background())

	assert.NotNil(t, sources[0].Session())
	assert.Nil(t, sources[1].Session(), "failed connect leaves the source without a session")
	assert.Equal(t, []string{"b", "c"}, dialer.Dials)
	assert.NoError(t, f.Close())
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
	assert.NoError(t, sleepContext(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
