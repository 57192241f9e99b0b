package nats

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, nats.DefaultURL, cfg.URL)
	assert.Equal(t, "sshfeeder", cfg.Name)
	assert.Equal(t, -1, cfg.MaxReconnects)
	assert.Equal(t, 2*time.Second, cfg.ReconnectWait)
}

func TestDefaultStreamConfig(t *testing.T) {
	cfg := DefaultStreamConfig("MEASUREMENTS", []string{"measurements.raw.>"})

	assert.Equal(t, "MEASUREMENTS", cfg.Name)
	assert.Equal(t, []string{"measurements.raw.>"}, cfg.Subjects)
	assert.Equal(t, 24*time.Hour, cfg.MaxAge)
	assert.Equal(t, 6*time.Hour, cfg.Duplicates)
}

func TestNewJetStreamClient_Unreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "nats://127.0.0.1:1"
	cfg.MaxReconnects = 0
	cfg.Timeout = 200 * time.Millisecond

	_, err := NewJetStreamClient(cfg, nil)
	assert.Error(t, err)
}
