package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Sources []string      `mapstructure:"sources"`
	SSH     SSHConfig     `mapstructure:"ssh"`
	Scan    ScanConfig    `mapstructure:"scan"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Poll    PollConfig    `mapstructure:"poll"`
	Sink    SinkConfig    `mapstructure:"sink"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type SSHConfig struct {
	Username       string        `mapstructure:"username"`
	KeyFile        string        `mapstructure:"key_file"`
	PassphraseFile string        `mapstructure:"passphrase_file"`
	KnownHostsFile string        `mapstructure:"known_hosts_file"`
	AcceptNewHosts bool          `mapstructure:"accept_new_hosts"`
	Port           int           `mapstructure:"port"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
}

type ScanConfig struct {
	ArchiveDir     string        `mapstructure:"archive_dir"`
	InitialBacklog time.Duration `mapstructure:"initial_backlog"`
	SeenCapacity   int           `mapstructure:"seen_capacity"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	Extensions     []string      `mapstructure:"extensions"`
}

type FetchConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

type PollConfig struct {
	Throttle time.Duration `mapstructure:"throttle"`
	Parallel bool          `mapstructure:"parallel"`

	// IsolateSources keeps polling the remaining sources when one fails.
	IsolateSources bool `mapstructure:"isolate_sources"`
}

type SinkConfig struct {
	Backend string          `mapstructure:"backend"`
	NATS    NATSSinkConfig  `mapstructure:"nats"`
	Redis   RedisSinkConfig `mapstructure:"redis"`
}

type NATSSinkConfig struct {
	URL           string `mapstructure:"url"`
	Token         string `mapstructure:"token"`
	Stream        string `mapstructure:"stream"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type RedisSinkConfig struct {
	URL    string `mapstructure:"url"`
	Stream string `mapstructure:"stream"`
	MaxLen int64  `mapstructure:"max_len"`
}

type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("sources", []string{"b.collector.ooni.io", "c.collector.ooni.io"})
	v.SetDefault("ssh.username", "sshfeeder")
	v.SetDefault("ssh.key_file", "/var/lib/sshfeeder/ssh/id_ed25519")
	v.SetDefault("ssh.passphrase_file", "/etc/machine-id")
	v.SetDefault("ssh.known_hosts_file", "/var/lib/sshfeeder/ssh/known_hosts")
	v.SetDefault("ssh.accept_new_hosts", false)
	v.SetDefault("ssh.port", 22)
	v.SetDefault("ssh.dial_timeout", "30s")
	v.SetDefault("scan.archive_dir", "/srv/collector/archive")
	v.SetDefault("scan.initial_backlog", "6h")
	v.SetDefault("scan.seen_capacity", 5000)
	v.SetDefault("scan.command_timeout", "10s")
	v.SetDefault("scan.extensions", []string{".json", ".yaml"})
	v.SetDefault("fetch.max_attempts", 1)
	v.SetDefault("poll.throttle", "1s")
	v.SetDefault("poll.parallel", false)
	v.SetDefault("poll.isolate_sources", false)
	v.SetDefault("sink.backend", "stdout")
	v.SetDefault("sink.nats.url", "nats://localhost:4222")
	v.SetDefault("sink.nats.stream", "MEASUREMENTS")
	v.SetDefault("sink.nats.subject_prefix", "measurements.raw")
	v.SetDefault("sink.redis.url", "redis://localhost:6379/0")
	v.SetDefault("sink.redis.stream", "sshfeeder:measurements")
	v.SetDefault("sink.redis.max_len", 1000000)
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 9095)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "5s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/sshfeeder")
	}

	// Environment variables override, e.g. SSHFEEDER_SSH_USERNAME
	v.SetEnvPrefix("SSHFEEDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks settings that would otherwise only fail once the feeder
// is running. Missing credential files are reported together.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Sources) == 0 {
		errs = append(errs, errors.New("no sources configured"))
	}
	if c.Scan.SeenCapacity < 1 {
		errs = append(errs, fmt.Errorf("scan.seen_capacity must be positive, got %d", c.Scan.SeenCapacity))
	}
	if c.Fetch.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("fetch.max_attempts must be at least 1, got %d", c.Fetch.MaxAttempts))
	}

	switch c.Sink.Backend {
	case "stdout", "nats", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown sink backend %q", c.Sink.Backend))
	}

	for key, path := range map[string]string{
		"ssh.key_file":         c.SSH.KeyFile,
		"ssh.known_hosts_file": c.SSH.KnownHostsFile,
	} {
		if err := requireFile(key, path); err != nil {
			errs = append(errs, err)
		}
	}
	// An empty passphrase file means the key is not encrypted.
	if c.SSH.PassphraseFile != "" {
		if err := requireFile("ssh.passphrase_file", c.SSH.PassphraseFile); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func requireFile(key, path string) error {
	if path == "" {
		return fmt.Errorf("%s is not set", key)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s: %s is a directory", key, path)
	}
	return nil
}
