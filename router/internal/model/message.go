package model

import (
	"maps"
	"strings"
	"time"
)

// Reserved field names.
const (
	FieldID        = "_id"
	FieldMessage   = "message"
	FieldSource    = "source"
	FieldTimestamp = "timestamp"
)

// Provenance and transport field names added during decoding.
const (
	FieldSourceInput      = "source_input"
	FieldSourceNode       = "source_node"
	FieldSourceRadioInput = "source_radio_input"
	FieldSourceRadio      = "source_radio"
	FieldSourceInputID    = "source_input_id"
	FieldRemoteIP         = "remote_ip"
	FieldRemotePort       = "remote_port"
	FieldRemoteHostname   = "remote_hostname"
	FieldJournalOffset    = "journal_offset"
	FieldStreams          = "streams"
)

// UnknownSource is used when nothing else identifies a message origin.
const UnknownSource = "unknown"

// Message is a decoded log event. ID, Source and Timestamp back the
// reserved fields of the same names; everything else lives in Fields.
type Message struct {
	ID            string
	Timestamp     time.Time
	Source        string
	JournalOffset int64
	SourceInputID string
	Fields        map[string]any
	Streams       []string
	Timings       map[string]time.Duration
}

// NewMessage returns a message with the given text.
func NewMessage(id, text, source string, ts time.Time) *Message {
	return &Message{
		ID:        id,
		Timestamp: ts,
		Source:    source,
		Fields:    map[string]any{FieldMessage: text},
	}
}

// Text returns the message field as a string.
func (m *Message) Text() string {
	s, _ := m.Fields[FieldMessage].(string)
	return s
}

// Complete reports whether the message carries an id, a message text and a timestamp.
func (m *Message) Complete() bool {
	return m.ID != "" && strings.TrimSpace(m.Text()) != "" && !m.Timestamp.IsZero()
}

// Field returns the named field, including the reserved ones.
func (m *Message) Field(name string) (any, bool) {
	switch name {
	case FieldID:
		return m.ID, m.ID != ""
	case FieldSource:
		return m.Source, m.Source != ""
	case FieldTimestamp:
		return m.Timestamp, !m.Timestamp.IsZero()
	}
	v, ok := m.Fields[name]
	return v, ok
}

// HasField reports whether the named field is set.
func (m *Message) HasField(name string) bool {
	_, ok := m.Field(name)
	return ok
}

// AddField sets a field. Reserved names update the matching struct field.
func (m *Message) AddField(name string, value any) {
	switch name {
	case FieldID:
		if s, ok := value.(string); ok {
			m.ID = s
		}
		return
	case FieldSource:
		if s, ok := value.(string); ok {
			m.Source = s
		}
		return
	case FieldTimestamp:
		if ts, ok := value.(time.Time); ok {
			m.Timestamp = ts
		}
		return
	}
	if m.Fields == nil {
		m.Fields = make(map[string]any)
	}
	m.Fields[name] = value
}

// RecordTiming stores how long a processing stage took for this message.
func (m *Message) RecordTiming(stage string, d time.Duration) {
	if m.Timings == nil {
		m.Timings = make(map[string]time.Duration)
	}
	m.Timings[stage] = d
}

// Snapshot returns every field, reserved ones included, as a fresh map.
func (m *Message) Snapshot() map[string]any {
	out := make(map[string]any, len(m.Fields)+6)
	maps.Copy(out, m.Fields)
	out[FieldID] = m.ID
	out[FieldSource] = m.Source
	out[FieldTimestamp] = m.Timestamp
	if m.JournalOffset != 0 {
		out[FieldJournalOffset] = m.JournalOffset
	}
	if m.SourceInputID != "" {
		out[FieldSourceInputID] = m.SourceInputID
	}
	if len(m.Streams) > 0 {
		out[FieldStreams] = append([]string(nil), m.Streams...)
	}
	return out
}
