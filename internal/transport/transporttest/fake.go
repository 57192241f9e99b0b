// Package transporttest provides in-memory transport fakes for tests.
package transporttest

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/telhawk-systems/sshfeeder/internal/transport"
)

// RunFunc produces the outcome of a remote command.
type RunFunc func(ctx context.Context, cmd string) (transport.Result, error)

// Session is a scripted transport.Session. Commands are answered by the
// queued RunFuncs in order; once the queue is exhausted Default answers.
// Files are served from Files.
type Session struct {
	mu       sync.Mutex
	queue    []RunFunc
	Default  RunFunc
	Files    map[string][]byte
	FetchErr map[string]error

	Commands []string
	Fetched  []string
	Closed   bool
}

// NewSession returns a Session serving files.
func NewSession(files map[string][]byte) *Session {
	if files == nil {
		files = make(map[string][]byte)
	}
	return &Session{Files: files, FetchErr: make(map[string]error)}
}

// Queue appends scripted command responses.
func (s *Session) Queue(fns ...RunFunc) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, fns...)
	return s
}

// Run implements transport.Session.
func (s *Session) Run(ctx context.Context, cmd string) (transport.Result, error) {
	s.mu.Lock()
	s.Commands = append(s.Commands, cmd)
	var fn RunFunc
	if len(s.queue) > 0 {
		fn, s.queue = s.queue[0], s.queue[1:]
	} else {
		fn = s.Default
	}
	s.mu.Unlock()

	if fn == nil {
		return transport.Result{}, nil
	}
	return fn(ctx, cmd)
}

// Fetch implements transport.Session.
func (s *Session) Fetch(ctx context.Context, path string, w io.Writer) (int64, error) {
	s.mu.Lock()
	s.Fetched = append(s.Fetched, path)
	err := s.FetchErr[path]
	data, ok := s.Files[path]
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("open %s: %w", path, os.ErrNotExist)
	}
	n, werr := w.Write(data)
	return int64(n), werr
}

// Close implements transport.Session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// Listing answers with the given stdout and exit status.
func Listing(stdout string, exit int) RunFunc {
	return func(context.Context, string) (transport.Result, error) {
		return transport.Result{Stdout: []byte(stdout), ExitStatus: exit}, nil
	}
}

// Fail answers with err.
func Fail(err error) RunFunc {
	return func(context.Context, string) (transport.Result, error) {
		return transport.Result{}, err
	}
}

// BrokenPipe is a transport-level failure.
var BrokenPipe = fmt.Errorf("%w: broken pipe", transport.ErrTransport)

// Dialer hands out scripted sessions. Each Dial returns the next queued
// session, or Err if set.
type Dialer struct {
	mu       sync.Mutex
	Sessions []transport.Session
	Err      error
	Dials    []string
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context, host string) (transport.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.Dials = append(d.Dials, host)
	if d.Err != nil {
		return nil, d.Err
	}
	if len(d.Sessions) == 0 {
		return nil, fmt.Errorf("%w: no session scripted for %s", transport.ErrTransport, host)
	}
	sess := d.Sessions[0]
	d.Sessions = d.Sessions[1:]
	return sess, nil
}

// DialCount returns how many dials were attempted.
func (d *Dialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Dials)
}
