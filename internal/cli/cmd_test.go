package cli

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/sshfeeder/internal/app"
	"github.com/telhawk-systems/sshfeeder/internal/config"
	"github.com/telhawk-systems/sshfeeder/internal/transport"
	"github.com/telhawk-systems/sshfeeder/internal/transport/transporttest"
)

func TestCommandsRegistered(t *testing.T) {
	expected := map[string]bool{"run": false, "scan": false}

	for _, c := range rootCmd.Commands() {
		name := strings.Fields(c.Use)[0]
		if _, ok := expected[name]; ok {
			expected[name] = true
		}
	}

	for name, found := range expected {
		if !found {
			t.Errorf("expected command '%s' to be registered with root command", name)
		}
	}
}

func TestScanCommandRequiresHost(t *testing.T) {
	assert.Error(t, scanCmd.Args(scanCmd, nil))
	assert.Error(t, scanCmd.Args(scanCmd, []string{"a", "b"}))
	assert.NoError(t, scanCmd.Args(scanCmd, []string{"b.collector.ooni.io"}))
}

// writeConfig creates a config file whose credential paths exist.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"id_ed25519", "machine-id", "known_hosts"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600))
	}

	path := filepath.Join(dir, "config.yaml")
	content := "ssh:\n" +
		"  key_file: " + filepath.Join(dir, "id_ed25519") + "\n" +
		"  passphrase_file: " + filepath.Join(dir, "machine-id") + "\n" +
		"  known_hosts_file: " + filepath.Join(dir, "known_hosts") + "\n" +
		"logging:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestScanCommand(t *testing.T) {
	sess := transporttest.NewSession(nil)
	sess.Queue(transporttest.Listing("1704067200.0 10 b.json\n1704067201.0 20 a.json\n", 0))
	dialer := &transporttest.Dialer{Sessions: []transport.Session{sess}}

	orig := newApp
	newApp = func(c *config.Config, l *slog.Logger) *app.App { return app.NewWithDialer(c, dialer, l) }
	t.Cleanup(func() { newApp = orig })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--config", writeConfig(t), "scan", "c.collector.ooni.io"})
	t.Cleanup(func() { rootCmd.SetOut(nil); rootCmd.SetArgs(nil) })

	require.NoError(t, Execute())
	assert.Equal(t, "a.json\nb.json\n", out.String())
	assert.Equal(t, []string{"c.collector.ooni.io"}, dialer.Dials)
}

func TestRunCommandMissingCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "ssh:\n  key_file: /nonexistent/id_ed25519\nlogging:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	rootCmd.SetArgs([]string{"--config", path, "run"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := Execute()
	assert.ErrorContains(t, err, "ssh.key_file")
}

func TestBadConfigPath(t *testing.T) {
	rootCmd.SetArgs([]string{"--config", "/nonexistent/config.yaml", "scan", "x"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := Execute()
	assert.ErrorContains(t, err, "failed to load config")
}
