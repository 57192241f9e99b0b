// Package app assembles the feeder from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/telhawk-systems/sshfeeder/internal/config"
	"github.com/telhawk-systems/sshfeeder/internal/feeder"
	"github.com/telhawk-systems/sshfeeder/internal/fetcher"
	"github.com/telhawk-systems/sshfeeder/internal/logging"
	natsclient "github.com/telhawk-systems/sshfeeder/internal/messaging/nats"
	"github.com/telhawk-systems/sshfeeder/internal/metrics"
	"github.com/telhawk-systems/sshfeeder/internal/scanner"
	"github.com/telhawk-systems/sshfeeder/internal/server"
	"github.com/telhawk-systems/sshfeeder/internal/sink"
	"github.com/telhawk-systems/sshfeeder/internal/source"
	"github.com/telhawk-systems/sshfeeder/internal/transport"
)

// App is a configured feeder with its metrics registry.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	connector *source.Connector
	scanner   *scanner.Scanner
	feeder    *feeder.Feeder
}

// New builds an App that reaches collectors over SSH.
func New(cfg *config.Config, logger *slog.Logger) *App {
	logger = logging.OrDefault(logger)
	dialer := transport.NewSSHDialer(transport.Config{
		Username:       cfg.SSH.Username,
		KeyFile:        cfg.SSH.KeyFile,
		PassphraseFile: cfg.SSH.PassphraseFile,
		KnownHostsFile: cfg.SSH.KnownHostsFile,
		AcceptNewHosts: cfg.SSH.AcceptNewHosts,
		Port:           cfg.SSH.Port,
		DialTimeout:    cfg.SSH.DialTimeout,
	}, logger)
	return NewWithDialer(cfg, dialer, logger)
}

// NewWithDialer builds an App using dialer for every connection.
func NewWithDialer(cfg *config.Config, dialer transport.Dialer, logger *slog.Logger) *App {
	logger = logging.OrDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	connector := source.NewConnector(dialer, m, logger)
	sc := scanner.New(scanner.Config{
		ArchiveDir:     cfg.Scan.ArchiveDir,
		CommandTimeout: cfg.Scan.CommandTimeout,
		Extensions:     cfg.Scan.Extensions,
	}, connector, m, logger)
	fe := fetcher.New(fetcher.Config{
		ArchiveDir:  cfg.Scan.ArchiveDir,
		MaxAttempts: cfg.Fetch.MaxAttempts,
	}, m, logger)

	sources := make([]*source.Source, 0, len(cfg.Sources))
	for _, host := range cfg.Sources {
		sources = append(sources, source.New(host, cfg.Scan.SeenCapacity, cfg.Scan.InitialBacklog))
	}

	fd := feeder.New(feeder.Config{
		Throttle:       cfg.Poll.Throttle,
		Parallel:       cfg.Poll.Parallel,
		IsolateSources: cfg.Poll.IsolateSources,
	}, sources, connector, sc, fe, m, logger)

	return &App{
		cfg:       cfg,
		logger:    logger,
		registry:  reg,
		metrics:   m,
		connector: connector,
		scanner:   sc,
		feeder:    fd,
	}
}

// Feeder returns the underlying poll loop.
func (a *App) Feeder() *feeder.Feeder {
	return a.feeder
}

// Registry returns the Prometheus registry holding the feeder metrics.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Run feeds records into the configured sink until ctx is done. out receives
// records when the stdout backend is selected. A cancelled context is a
// clean shutdown and returns nil.
func (a *App) Run(ctx context.Context, out io.Writer) error {
	s, err := a.OpenSink(ctx, out)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			a.logger.Warn("failed to close sink", logging.Error(err))
		}
	}()

	var srv *http.Server
	if a.cfg.Server.Enabled {
		srv = a.startServer(readiness{feeder: a.feeder, sink: s})
	}

	a.feeder.ConnectAll(ctx)
	runErr := a.feeder.Run(ctx, sink.Emit(ctx, sink.WithIngestionDelay(s, a.metrics, a.logger)))

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("server forced to shutdown", logging.Error(err))
		}
		cancel()
	}
	if err := a.feeder.Close(); err != nil {
		a.logger.Warn("failed to close sessions", logging.Error(err))
	}

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// OpenSink connects the configured downstream backend.
func (a *App) OpenSink(ctx context.Context, out io.Writer) (sink.Sink, error) {
	sc := a.cfg.Sink
	switch sc.Backend {
	case sink.BackendStdout, "":
		return sink.NewWriterSink(out), nil
	case sink.BackendNATS:
		nc := natsclient.DefaultConfig()
		nc.URL = sc.NATS.URL
		nc.Token = sc.NATS.Token
		client, err := natsclient.NewJetStreamClient(nc, a.logger)
		if err != nil {
			return nil, err
		}
		s, err := sink.NewNATSSink(ctx, client, sc.NATS.Stream, sc.NATS.SubjectPrefix)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		a.logger.Info("publishing to NATS JetStream",
			slog.String("url", sc.NATS.URL), slog.String("stream", sc.NATS.Stream))
		return s, nil
	case sink.BackendRedis:
		s, err := sink.NewRedisSink(ctx, sc.Redis.URL, sc.Redis.Stream, sc.Redis.MaxLen)
		if err != nil {
			return nil, err
		}
		a.logger.Info("appending to Redis stream", slog.String("stream", sc.Redis.Stream))
		return s, nil
	default:
		return nil, fmt.Errorf("unknown sink backend: %s (supported: stdout, nats, redis)", sc.Backend)
	}
}

// readiness is ready once the feeder has completed a cycle and the sink, if
// it tracks a backend connection, is connected.
type readiness struct {
	feeder server.Readiness
	sink   sink.Sink
}

func (r readiness) Ready() bool {
	if !r.feeder.Ready() {
		return false
	}
	if hc, ok := r.sink.(sink.HealthChecker); ok {
		return hc.Healthy()
	}
	return true
}

func (a *App) startServer(r server.Readiness) *http.Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      server.NewRouter(r, a.registry),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	go func() {
		a.logger.Info("metrics server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("server error", logging.Error(err))
		}
	}()
	return srv
}

// ScanOnce connects to host and returns the files a first scan would
// surface, without fetching them.
func (a *App) ScanOnce(ctx context.Context, host string) ([]string, error) {
	src := source.New(host, a.cfg.Scan.SeenCapacity, a.cfg.Scan.InitialBacklog)
	defer src.Close()

	if err := a.connector.Connect(ctx, src); err != nil {
		return nil, err
	}
	return a.scanner.Scan(ctx, src)
}
