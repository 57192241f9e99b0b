// Package messaging defines subject names used on the message bus.
package messaging

import "strings"

// Subject constants follow the pattern {domain}.{action}.{resource}.
const (
	// SubjectMeasurementsRaw prefixes raw measurement lines; the collector
	// hostname is appended.
	SubjectMeasurementsRaw = "measurements.raw"

	// StreamMeasurements is the JetStream stream capturing raw measurements.
	StreamMeasurements = "MEASUREMENTS"
)

// Header names attached to published measurements.
const (
	HeaderHost = "Sshfeeder-Host"
	HeaderFile = "Sshfeeder-File"
	HeaderLine = "Sshfeeder-Line"
)

// MeasurementsRawSubject returns the subject for records from host.
// Example: measurements.raw.b.collector.ooni.io
func MeasurementsRawSubject(prefix, host string) string {
	if prefix == "" {
		prefix = SubjectMeasurementsRaw
	}
	if host == "" {
		return prefix + ".unknown"
	}
	return prefix + "." + sanitizeToken(host)
}

// MeasurementsRawWildcard returns the subject filter matching every host.
func MeasurementsRawWildcard(prefix string) string {
	if prefix == "" {
		prefix = SubjectMeasurementsRaw
	}
	return prefix + ".>"
}

// sanitizeToken replaces characters NATS does not allow inside subjects.
func sanitizeToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '*', '>':
			return '_'
		}
		return r
	}, s)
}
