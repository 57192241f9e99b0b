package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/telhawk-systems/sshfeeder/internal/logging"
)

// hostKeyCallback verifies server keys against the known_hosts file. When
// acceptNew is set, keys of hosts absent from the file are trusted and
// appended to it; keys that conflict with an existing entry are always
// rejected.
func hostKeyCallback(path string, acceptNew bool, logger *slog.Logger) (ssh.HostKeyCallback, error) {
	verify, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w", path, err)
	}
	if !acceptNew {
		return verify, nil
	}

	var mu sync.Mutex
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := verify(hostname, remote, key)

		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) || len(keyErr.Want) > 0 {
			return err
		}

		mu.Lock()
		defer mu.Unlock()

		line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
		f, openErr := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
		if openErr != nil {
			return fmt.Errorf("record host key for %s: %w", hostname, openErr)
		}
		defer f.Close()

		if _, writeErr := f.WriteString(line + "\n"); writeErr != nil {
			return fmt.Errorf("record host key for %s: %w", hostname, writeErr)
		}

		logger.Warn("trusting new host key",
			logging.Host(hostname),
			slog.String("fingerprint", ssh.FingerprintSHA256(key)),
		)
		return nil
	}, nil
}
