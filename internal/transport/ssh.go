package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/telhawk-systems/sshfeeder/internal/logging"
)

// Config holds the SSH credentials and connection parameters.
type Config struct {
	Username string

	// KeyFile is an Ed25519 private key in OpenSSH format.
	KeyFile string

	// PassphraseFile holds the key passphrase. Surrounding whitespace is
	// ignored. Empty means the key is not encrypted.
	PassphraseFile string

	KnownHostsFile string

	// AcceptNewHosts trusts and records keys of hosts missing from
	// KnownHostsFile. Development only.
	AcceptNewHosts bool

	Port int

	// DialTimeout bounds connection setup as a whole, handshake and SFTP
	// init included.
	DialTimeout time.Duration
}

// DefaultDialTimeout bounds the TCP connect, SSH handshake and SFTP init.
const DefaultDialTimeout = 30 * time.Second

// SSHDialer opens SSH sessions with an SFTP subsystem attached.
type SSHDialer struct {
	cfg    Config
	logger *slog.Logger
}

// NewSSHDialer creates a dialer. Credential files are read on every Dial.
func NewSSHDialer(cfg Config, logger *slog.Logger) *SSHDialer {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	return &SSHDialer{cfg: cfg, logger: logging.OrDefault(logger)}
}

// Dial connects and authenticates to host, then opens an SFTP client.
func (d *SSHDialer) Dial(ctx context.Context, host string) (Session, error) {
	signer, err := d.signer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	callback, err := hostKeyCallback(d.cfg.KnownHostsFile, d.cfg.AcceptNewHosts, d.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	clientCfg := &ssh.ClientConfig{
		User:            d.cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: callback,
		Timeout:         d.cfg.DialTimeout,
	}

	addr := net.JoinHostPort(host, strconv.Itoa(d.cfg.Port))
	dialer := net.Dialer{Timeout: d.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransport, addr, err)
	}

	// The handshake and the SFTP init share one deadline; ctx
	// cancellation tears the connection down as well.
	_ = conn.SetDeadline(d.deadline(ctx))
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: handshake with %s: %v", ErrTransport, addr, err)
	}

	client := ssh.NewClient(c, chans, reqs)
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: open sftp on %s: %v", ErrTransport, addr, err)
	}

	if !stop() {
		sftpClient.Close()
		client.Close()
		return nil, fmt.Errorf("%w: connect %s: %v", ErrTransport, addr, ctx.Err())
	}
	_ = conn.SetDeadline(time.Time{})

	return &sshSession{client: client, sftp: sftpClient}, nil
}

// deadline bounds connection setup by DialTimeout, or by ctx when it
// expires sooner.
func (d *SSHDialer) deadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(d.cfg.DialTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		return ctxDeadline
	}
	return deadline
}

func (d *SSHDialer) signer() (ssh.Signer, error) {
	pem, err := os.ReadFile(d.cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}

	var passphrase []byte
	if d.cfg.PassphraseFile != "" {
		raw, err := os.ReadFile(d.cfg.PassphraseFile)
		if err != nil {
			return nil, fmt.Errorf("read key passphrase: %w", err)
		}
		passphrase = []byte(strings.TrimSpace(string(raw)))
	}

	var signer ssh.Signer
	if len(passphrase) > 0 {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, passphrase)
	} else {
		signer, err = ssh.ParsePrivateKey(pem)
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", d.cfg.KeyFile, err)
	}

	if t := signer.PublicKey().Type(); t != ssh.KeyAlgoED25519 {
		return nil, fmt.Errorf("private key %s is %s, want %s", d.cfg.KeyFile, t, ssh.KeyAlgoED25519)
	}
	return signer, nil
}

type sshSession struct {
	client *ssh.Client
	sftp   *sftp.Client
}

type runOutcome struct {
	res Result
	err error
}

// Run opens a session channel and executes cmd on it. ctx bounds both steps:
// a pending channel open is released by closing the connection, a running
// command is killed.
func (s *sshSession) Run(ctx context.Context, cmd string) (Result, error) {
	opened := make(chan *ssh.Session, 1)
	done := make(chan runOutcome, 1)

	go func() {
		sess, err := s.client.NewSession()
		if err != nil {
			done <- runOutcome{err: fmt.Errorf("%w: open session: %v", ErrTransport, err)}
			return
		}
		opened <- sess
		defer sess.Close()

		var stdout, stderr bytes.Buffer
		sess.Stdout = &stdout
		sess.Stderr = &stderr

		err = sess.Run(cmd)
		done <- runOutcome{res: Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, err: err}
	}()

	select {
	case <-ctx.Done():
		select {
		case sess := <-opened:
			_ = sess.Signal(ssh.SIGKILL)
			_ = sess.Close()
		default:
			// Channel open still pending: the connection is unusable.
			_ = s.client.Close()
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("%w: %s", ErrTimeout, cmd)
		}
		return Result{}, ctx.Err()
	case out := <-done:
		if out.err == nil || errors.Is(out.err, ErrTransport) {
			return out.res, out.err
		}

		var exitErr *ssh.ExitError
		if errors.As(out.err, &exitErr) {
			out.res.ExitStatus = exitErr.ExitStatus()
			return out.res, nil
		}
		return out.res, fmt.Errorf("%w: run command: %v", ErrTransport, out.err)
	}
}

func (s *sshSession) Fetch(ctx context.Context, path string, w io.Writer) (int64, error) {
	f, err := s.sftp.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	stop := context.AfterFunc(ctx, func() { _ = f.Close() })
	defer stop()

	n, err := f.WriteTo(w)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return n, ctxErr
		}
		return n, fmt.Errorf("read %s: %w", path, err)
	}
	return n, nil
}

func (s *sshSession) Close() error {
	sftpErr := s.sftp.Close()
	clientErr := s.client.Close()
	return errors.Join(sftpErr, clientErr)
}
