// Package transport provides remote command execution and file transfer
// sessions to collector hosts.
package transport

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrTransport marks failures of the underlying connection: dialing,
	// authentication, host key verification or a dropped session.
	ErrTransport = errors.New("transport error")

	// ErrTimeout is returned when a remote command exceeds its deadline.
	ErrTimeout = errors.New("remote command timed out")
)

// Result is the outcome of a remote command that ran to completion.
type Result struct {
	Stdout     []byte
	Stderr     []byte
	ExitStatus int
}

// Session is an authenticated connection to one host.
type Session interface {
	// Run executes cmd remotely. A non-zero exit status is reported in
	// Result, not as an error. Errors wrap ErrTransport or ErrTimeout.
	Run(ctx context.Context, cmd string) (Result, error)

	// Fetch copies the remote file at path into w and returns the number
	// of bytes written.
	Fetch(ctx context.Context, path string, w io.Writer) (int64, error)

	// Close releases the connection.
	Close() error
}

// Dialer opens sessions.
type Dialer interface {
	Dial(ctx context.Context, host string) (Session, error)
}

// IsTransport reports whether err is a connection-level failure.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}
