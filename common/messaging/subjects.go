package messaging

import "strings"

// Subject constants for the router message bus.
// Follow the pattern: {domain}.{action}.{resource}
const (
	// SubjectIngestRaw is the prefix raw envelopes are published under
	// (append .{input_id}).
	SubjectIngestRaw = "ingest.raw"

	// SubjectStreamsCatalogChanged announces that stream definitions changed.
	SubjectStreamsCatalogChanged = "streams.catalog.changed"

	// SubjectStreamsRouted is the prefix routed messages are published under
	// (append .{stream_id}).
	SubjectStreamsRouted = "streams.routed"

	// SubjectRouterDLQ is the prefix for dead-lettered envelopes
	// (append .{reason}).
	SubjectRouterDLQ = "router.dlq"
)

// DefaultStreamID is the pseudo stream every routed message lands in unless
// a matching stream removes it.
const DefaultStreamID = "default"

// Queue group names for load-balanced consumers.
const (
	QueueRouterWorkers = "router-workers"
)

// IngestRawSubject returns the subject raw envelopes from inputID are published to.
// Example: ingest.raw.syslog-udp
func IngestRawSubject(inputID string) string {
	return SubjectIngestRaw + "." + token(inputID)
}

// RoutedSubject returns the subject messages routed to streamID are published to.
// Example: streams.routed.000000000000000000000001
func RoutedSubject(streamID string) string {
	return SubjectStreamsRouted + "." + token(streamID)
}

// DLQSubject returns the dead-letter subject for reason.
// Example: router.dlq.decode
func DLQSubject(reason string) string {
	return SubjectRouterDLQ + "." + token(reason)
}

// Wildcard returns the multi-level wildcard subject below prefix.
func Wildcard(prefix string) string {
	return prefix + ".>"
}

// token makes s safe to use as a single subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(s)
}
