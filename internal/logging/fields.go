package logging

import (
	"log/slog"
	"time"
)

// Common field names for consistent logging across components.
const (
	FieldService  = "service"
	FieldHost     = "host"
	FieldFile     = "file"
	FieldCommand  = "command"
	FieldDuration = "duration_ms"
	FieldError    = "error"
	FieldCount    = "count"
	FieldBytes    = "bytes"
	FieldAttempt  = "attempt"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Host returns a slog attribute for a collector hostname.
func Host(host string) slog.Attr {
	return slog.String(FieldHost, host)
}

// File returns a slog attribute for a remote filename.
func File(name string) slog.Attr {
	return slog.String(FieldFile, name)
}

// Command returns a slog attribute for a remote shell command.
func Command(cmd string) slog.Attr {
	return slog.String(FieldCommand, cmd)
}

// Duration returns a slog attribute for a duration in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Int64(FieldDuration, d.Milliseconds())
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

// Count returns a slog attribute for a number of items.
func Count(n int) slog.Attr {
	return slog.Int(FieldCount, n)
}

// Bytes returns a slog attribute for a byte count.
func Bytes(n int64) slog.Attr {
	return slog.Int64(FieldBytes, n)
}

// Attempt returns a slog attribute for a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(FieldAttempt, n)
}
