// Package source holds per-collector state and manages its SSH session.
package source

import (
	"time"

	"github.com/telhawk-systems/sshfeeder/internal/seen"
	"github.com/telhawk-systems/sshfeeder/internal/transport"
)

// DefaultInitialBacklog is the lookback used for the very first scan.
const DefaultInitialBacklog = 6 * time.Hour

// Source is one collector host. It exclusively owns its session and its
// seen-filename set; a Source must only be used from one goroutine at a time.
type Source struct {
	Host string

	session        transport.Session
	lastScan       time.Time
	seen           *seen.Set
	initialBacklog time.Duration
}

// New creates a Source for host remembering up to capacity filenames.
func New(host string, capacity int, initialBacklog time.Duration) *Source {
	if initialBacklog <= 0 {
		initialBacklog = DefaultInitialBacklog
	}
	return &Source{
		Host:           host,
		seen:           seen.New(capacity),
		initialBacklog: initialBacklog,
	}
}

// Session returns the current session, or nil if there is none.
func (s *Source) Session() transport.Session {
	return s.session
}

// SetSession replaces the session, closing the previous one.
func (s *Source) SetSession(sess transport.Session) {
	if s.session != nil && s.session != sess {
		_ = s.session.Close()
	}
	s.session = sess
}

// Seen returns the set of filenames already surfaced for this source.
func (s *Source) Seen() *seen.Set {
	return s.seen
}

// LastScan returns the start time of the previous scan; zero before the first.
func (s *Source) LastScan() time.Time {
	return s.lastScan
}

// MarkScanned records the start time of a scan.
func (s *Source) MarkScanned(t time.Time) {
	s.lastScan = t
}

// Window returns the lookback in minutes for a scan starting at now. The
// first scan uses the initial backlog; later scans cover the whole minutes
// elapsed since the previous scan started, plus one.
func (s *Source) Window(now time.Time) int {
	if s.lastScan.IsZero() {
		return int(s.initialBacklog / time.Minute)
	}

	elapsed := now.Sub(s.lastScan)
	if elapsed < 0 {
		elapsed = 0
	}
	return int(elapsed/time.Minute) + 1
}

// Close releases the session, if any.
func (s *Source) Close() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Close()
	s.session = nil
	return err
}
