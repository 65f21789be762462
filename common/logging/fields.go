package logging

import "log/slog"

// Common field names for consistent logging across the router.
const (
	FieldService       = "service"
	FieldRequestID     = "request_id"
	FieldCodec         = "codec"
	FieldInput         = "input"
	FieldStreamID      = "stream_id"
	FieldEnvelopeID    = "envelope_id"
	FieldJournalOffset = "journal_offset"
	FieldGeneration    = "generation"
	FieldSubject       = "subject"
	FieldDuration      = "duration_ms"
	FieldError         = "error"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Codec returns a slog attribute for a codec name.
func Codec(name string) slog.Attr {
	return slog.String(FieldCodec, name)
}

// Input returns a slog attribute for an input identifier.
func Input(id string) slog.Attr {
	return slog.String(FieldInput, id)
}

// StreamID returns a slog attribute for a stream identifier.
func StreamID(id string) slog.Attr {
	return slog.String(FieldStreamID, id)
}

// EnvelopeID returns a slog attribute for a raw envelope identifier.
func EnvelopeID(id string) slog.Attr {
	return slog.String(FieldEnvelopeID, id)
}

// JournalOffset returns a slog attribute for a journal offset.
func JournalOffset(offset int64) slog.Attr {
	return slog.Int64(FieldJournalOffset, offset)
}

// Generation returns a slog attribute for a routing engine generation.
func Generation(gen uint64) slog.Attr {
	return slog.Uint64(FieldGeneration, gen)
}

// Subject returns a slog attribute for a message bus subject.
func Subject(subject string) slog.Attr {
	return slog.String(FieldSubject, subject)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}
