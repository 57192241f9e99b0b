// Package scanner discovers new measurement files on collectors.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/telhawk-systems/sshfeeder/internal/logging"
	"github.com/telhawk-systems/sshfeeder/internal/metrics"
	"github.com/telhawk-systems/sshfeeder/internal/source"
	"github.com/telhawk-systems/sshfeeder/internal/transport"
)

// Defaults matching the collectors' layout.
const (
	DefaultArchiveDir     = "/srv/collector/archive"
	DefaultCommandTimeout = 10 * time.Second
)

// DefaultExtensions are the file suffixes surfaced by a scan.
var DefaultExtensions = []string{".json", ".yaml"}

// Config controls a scan. Zero values fall back to the package defaults.
type Config struct {
	// ArchiveDir is the remote directory searched for new files.
	ArchiveDir string

	// CommandTimeout bounds each remote find command.
	CommandTimeout time.Duration

	// Extensions are the suffixes a file needs to be surfaced.
	Extensions []string
}

// Scanner lists recently changed files on a source and filters out the
// ones already surfaced.
type Scanner struct {
	cfg       Config
	connector *source.Connector
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Scanner. connector is used to re-establish broken sessions.
func New(cfg Config, connector *source.Connector, m *metrics.Metrics, logger *slog.Logger) *Scanner {
	if cfg.ArchiveDir == "" {
		cfg.ArchiveDir = DefaultArchiveDir
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = DefaultExtensions
	}
	return &Scanner{
		cfg:       cfg,
		connector: connector,
		metrics:   m,
		logger:    logging.OrDefault(logger),
		now:       time.Now,
	}
}

// Scan returns the names of files on src not surfaced before, sorted
// lexicographically. A listing that exits non-zero yields no files and no
// error. A transport failure triggers one reconnect and one retry; if the
// retry fails too the error is returned.
func (s *Scanner) Scan(ctx context.Context, src *source.Source) ([]string, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveScan(time.Since(start)) }()

	now := s.now()
	minutes := src.Window(now)
	// Recorded before listing so a slow reply cannot shrink the next window.
	src.MarkScanned(now)

	cmd := ListCommand(s.cfg.ArchiveDir, minutes)
	res, err := s.run(ctx, src, cmd)
	if err != nil && transport.IsTransport(err) {
		s.logger.Error("broken SSH connection, retrying",
			logging.Host(src.Host),
			logging.Error(err),
		)
		s.connector.TryConnect(ctx, src)
		res, err = s.run(ctx, src, cmd)
	}
	if err != nil {
		return nil, err
	}

	if res.ExitStatus != 0 {
		// The archive directory may be missing while it is being rotated.
		s.logger.Error("listing command failed",
			logging.Host(src.Host),
			logging.Command(cmd),
			slog.Int("exit_status", res.ExitStatus),
			slog.String("stderr", strings.TrimSpace(string(res.Stderr))),
		)
		s.metrics.IncSSHError()
		return []string{}, nil
	}

	files, parseErrs := ParseListing(res.Stdout)
	for _, perr := range parseErrs {
		s.logger.Warn("skipping listing line", logging.Host(src.Host), logging.Error(perr))
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		if !s.accepted(f.Name) {
			continue
		}
		if added, _ := src.Seen().Add(f.Name); !added {
			continue
		}
		names = append(names, f.Name)
	}

	// Alphabetical, which is not necessarily creation order.
	sort.Strings(names)

	s.metrics.AddNewReports(len(names))
	s.logger.Debug("scan complete",
		logging.Host(src.Host),
		slog.Int("window_minutes", minutes),
		slog.Int("listed", len(files)),
		logging.Count(len(names)),
	)
	return names, nil
}

func (s *Scanner) run(ctx context.Context, src *source.Source, cmd string) (transport.Result, error) {
	sess := src.Session()
	if sess == nil {
		// Never connected, or the last reconnect failed.
		return transport.Result{}, fmt.Errorf("%w: no session for %s", transport.ErrTransport, src.Host)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
	defer cancel()
	return sess.Run(ctx, cmd)
}

func (s *Scanner) accepted(name string) bool {
	for _, ext := range s.cfg.Extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
