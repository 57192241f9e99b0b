package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/telhawk-systems/sshfeeder/internal/logging"
	"github.com/telhawk-systems/sshfeeder/internal/metrics"
	"github.com/telhawk-systems/sshfeeder/internal/transport"
)

// Connector establishes sessions for sources. It never retries; callers
// decide the retry policy.
type Connector struct {
	dialer  transport.Dialer
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewConnector creates a Connector using dialer.
func NewConnector(dialer transport.Dialer, m *metrics.Metrics, logger *slog.Logger) *Connector {
	return &Connector{
		dialer:  dialer,
		metrics: m,
		logger:  logging.OrDefault(logger),
	}
}

// Connect opens a new session to src.Host and installs it on src. On
// failure src is left without a session and the error wraps
// transport.ErrTransport.
func (c *Connector) Connect(ctx context.Context, src *Source) error {
	c.logger.Info("connecting", logging.Host(src.Host))

	start := time.Now()
	sess, err := c.dialer.Dial(ctx, src.Host)
	elapsed := time.Since(start)
	c.metrics.ObserveConnect(src.Host, elapsed)

	if err != nil {
		src.SetSession(nil)
		return fmt.Errorf("connect %s: %w", src.Host, err)
	}

	src.SetSession(sess)
	c.logger.Info("connected", logging.Host(src.Host), logging.Duration(elapsed))
	return nil
}

// TryConnect connects and logs a failure instead of returning it.
func (c *Connector) TryConnect(ctx context.Context, src *Source) bool {
	if err := c.Connect(ctx, src); err != nil {
		c.logger.Error("connection failed", logging.Host(src.Host), logging.Error(err))
		return false
	}
	return true
}
