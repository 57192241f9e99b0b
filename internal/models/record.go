package models

import (
	"errors"
	"time"
)

// ErrStop may be returned by an EmitFunc to end a feed without it being
// treated as a failure.
var ErrStop = errors.New("stop feeding")

// DiscoveredFile is one entry of a remote directory listing.
type DiscoveredFile struct {
	CreatedAt time.Time
	Size      int64
	Name      string
}

// Record is one unit of measurement data handed downstream. Exactly one of
// Raw and Document is set.
type Record struct {
	// Raw is a single line of a line-delimited JSON file, without the
	// trailing newline.
	Raw []byte `json:"raw,omitempty"`

	// Document is a normalized structured measurement. Structured formats
	// are not produced yet.
	Document map[string]interface{} `json:"document,omitempty"`

	Host string `json:"host"`
	File string `json:"file"`
	Line int    `json:"line"`
}

// IsRaw reports whether the record carries a raw text line.
func (r Record) IsRaw() bool {
	return r.Raw != nil
}

// EmitFunc receives records one at a time. Returning an error stops the
// current producer.
type EmitFunc func(rec Record) error
