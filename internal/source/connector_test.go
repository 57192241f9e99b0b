package source

import (
	"context"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/sshfeeder/internal/metrics"
	"github.com/telhawk-systems/sshfeeder/internal/transport"
	"github.com/telhawk-systems/sshfeeder/internal/transport/transporttest"
)

func TestConnector_Connect(t *testing.T) {
	sess := transporttest.NewSession(nil)
	dialer := &transporttest.Dialer{Sessions: []transport.Session{sess}}
	m := metrics.New(prometheus.NewRegistry())
	c := NewConnector(dialer, m, nil)

	src := New("b.collector.ooni.io", 10, 0)
	require.NoError(t, c.Connect(context.Background(), src))

	assert.Same(t, sess, src.Session())
	assert.Equal(t, []string{"b.collector.ooni.io"}, dialer.Dials)
	assert.Equal(t, 1, testutil.CollectAndCount(m.ConnectDuration))
}

func TestConnector_ConnectFailure(t *testing.T) {
	old := transporttest.NewSession(nil)
	dialer := &transporttest.Dialer{Err: fmt.Errorf("%w: host key mismatch", transport.ErrTransport)}
	c := NewConnector(dialer, nil, nil)

	src := New("c.collector.ooni.io", 10, 0)
	src.SetSession(old)

	err := c.Connect(context.Background(), src)
	require.Error(t, err)
	assert.True(t, transport.IsTransport(err))
	assert.Nil(t, src.Session(), "failed connect leaves the source without a session")
	assert.True(t, old.Closed)

	assert.False(t, c.TryConnect(context.Background(), src))
	assert.Equal(t, 2, dialer.DialCount(), "no internal retries")
}
