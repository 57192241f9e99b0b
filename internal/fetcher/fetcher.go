// Package fetcher downloads measurement files and splits them into records.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/telhawk-systems/sshfeeder/internal/logging"
	"github.com/telhawk-systems/sshfeeder/internal/metrics"
	"github.com/telhawk-systems/sshfeeder/internal/models"
	"github.com/telhawk-systems/sshfeeder/internal/source"
	"github.com/telhawk-systems/sshfeeder/internal/transport"
)

// ErrUnsupportedFormat is reported for files whose format cannot be turned
// into records.
var ErrUnsupportedFormat = errors.New("unsupported format")

// Config controls file retrieval.
type Config struct {
	// ArchiveDir is the remote directory files are read from.
	ArchiveDir string

	// MaxAttempts bounds transfer attempts per file. 1 means no retry.
	MaxAttempts int
}

// Result describes the outcome of fetching one file.
type Result struct {
	Records int
	Bytes   int64

	// Err is the failure that ended the fetch early, if any. It has
	// already been logged and counted.
	Err error
}

// Fetcher retrieves files from a source's archive directory.
type Fetcher struct {
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Fetcher. An empty ArchiveDir defaults to the collector
// archive and MaxAttempts below 1 means a single attempt.
func New(cfg Config, m *metrics.Metrics, logger *slog.Logger) *Fetcher {
	if cfg.ArchiveDir == "" {
		cfg.ArchiveDir = "/srv/collector/archive"
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Fetcher{
		cfg:     cfg,
		metrics: m,
		logger:  logging.OrDefault(logger),
	}
}

// Fetch downloads name from src and passes each record to emit, in file
// order. Transfer, decode and format failures are logged, counted and
// reported in Result.Err; they never abort the caller. The returned error is
// non-nil only when emit fails or ctx is done.
func (f *Fetcher) Fetch(ctx context.Context, src *source.Source, name string, emit models.EmitFunc) (Result, error) {
	remote := path.Join(f.cfg.ArchiveDir, name)
	f.logger.Debug("fetching", logging.Host(src.Host), logging.File(remote))

	data, err := f.download(ctx, src, remote)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return f.fail(src, name, Result{}, err), nil
	}

	res := Result{Bytes: int64(data.Len())}

	switch format(name) {
	case formatYAML:
		return f.fail(src, name, res, fmt.Errorf("%w: YAML", ErrUnsupportedFormat)), nil
	case formatJSONLines:
	default:
		return f.fail(src, name, res, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path.Ext(name))), nil
	}

	line := 0
	for {
		raw, readErr := data.ReadBytes('\n')
		if len(raw) == 0 && readErr != nil {
			break
		}
		line++

		raw = bytes.TrimRight(raw, "\r\n")
		if len(raw) == 0 {
			continue
		}

		rec := models.Record{Raw: raw, Host: src.Host, File: name, Line: line}
		if err := emit(rec); err != nil {
			return res, err
		}
		res.Records++
	}

	return res, nil
}

func (f *Fetcher) download(ctx context.Context, src *source.Source, remote string) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	var lastErr error

	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sess := src.Session()
		if sess == nil {
			return nil, fmt.Errorf("%w: no session for %s", transport.ErrTransport, src.Host)
		}

		buf.Reset()
		n, err := f.transfer(ctx, sess, remote, &buf)
		if err == nil {
			return &buf, nil
		}

		lastErr = err
		if attempt < f.cfg.MaxAttempts {
			f.logger.Warn("fetch failed, retrying",
				logging.Host(src.Host),
				logging.File(remote),
				logging.Attempt(attempt),
				logging.Bytes(n),
				logging.Error(err),
			)
		}
	}
	return nil, lastErr
}

// transfer copies the whole remote file into buf in one blocking call.
func (f *Fetcher) transfer(ctx context.Context, sess transport.Session, remote string, buf io.Writer) (int64, error) {
	f.metrics.SetFetching(true)
	defer f.metrics.SetFetching(false)

	start := time.Now()
	n, err := sess.Fetch(ctx, remote, buf)
	if err != nil {
		return n, err
	}
	f.metrics.ObserveFetch(n, time.Since(start))
	return n, nil
}

func (f *Fetcher) fail(src *source.Source, name string, res Result, err error) Result {
	f.logger.Error("fetch failed",
		logging.Host(src.Host),
		logging.File(name),
		logging.Error(err),
	)
	f.metrics.IncUnhandled()
	res.Err = err
	return res
}

type fileFormat int

const (
	formatUnknown fileFormat = iota
	formatJSONLines
	formatYAML
)

func format(name string) fileFormat {
	switch {
	case strings.HasSuffix(name, ".json"):
		return formatJSONLines
	case strings.HasSuffix(name, ".yaml"):
		return formatYAML
	default:
		return formatUnknown
	}
}
