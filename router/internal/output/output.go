// Package output publishes routed messages to per-stream bus subjects.
package output

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/telhawk-systems/telhawk-router/common/logging"
	"github.com/telhawk-systems/telhawk-router/common/messaging"
	"github.com/telhawk-systems/telhawk-router/router/internal/metrics"
	"github.com/telhawk-systems/telhawk-router/router/internal/model"
	"github.com/telhawk-systems/telhawk-router/router/internal/streams"
)

// Publish status label values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Header names set on every routed message.
const (
	HeaderStreamID  = "Telhawk-Stream-Id"
	HeaderMessageID = "Nats-Msg-Id"
)

// Publisher is the subset of messaging.Publisher the output stage needs.
type Publisher interface {
	PublishMsg(ctx context.Context, msg *messaging.Message) error
}

// Record is the wire form of a routed message.
type Record struct {
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	Source        string         `json:"source"`
	Message       string         `json:"message"`
	Fields        map[string]any `json:"fields,omitempty"`
	Streams       []string       `json:"streams"`
	SourceInputID string         `json:"source_input_id,omitempty"`
	JournalOffset int64          `json:"journal_offset"`
}

// NewRecord builds the wire form of msg.
func NewRecord(msg *model.Message) Record {
	fields := make(map[string]any, len(msg.Fields))
	for k, v := range msg.Fields {
		if k == model.FieldMessage {
			continue
		}
		fields[k] = v
	}
	return Record{
		ID:            msg.ID,
		Timestamp:     msg.Timestamp,
		Source:        msg.Source,
		Message:       msg.Text(),
		Fields:        fields,
		Streams:       append([]string{}, msg.Streams...),
		SourceInputID: msg.SourceInputID,
		JournalOffset: msg.JournalOffset,
	}
}

// Targets returns the stream ids a message goes to: every matched stream,
// plus the default stream unless a matched stream removes its matches from it.
func Targets(matched []*streams.Stream) []string {
	ids := make([]string, 0, len(matched)+1)
	keepDefault := true
	for _, s := range matched {
		ids = append(ids, s.ID)
		if s.RemoveMatchesFromDefaultStream {
			keepDefault = false
		}
	}
	if keepDefault {
		ids = append(ids, messaging.DefaultStreamID)
	}
	return ids
}

// Output publishes routed messages.
type Output struct {
	pub     Publisher
	metrics *metrics.Metrics
	logger  *logging.Logger
}

// New creates an output stage writing through pub.
func New(pub Publisher, m *metrics.Metrics, logger *logging.Logger) *Output {
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Output{pub: pub, metrics: m, logger: logging.OrDefault(logger)}
}

// Write publishes msg once per target stream. Every target is attempted;
// the returned error joins the individual failures.
func (o *Output) Write(ctx context.Context, msg *model.Message, matched []*streams.Stream) error {
	data, err := json.Marshal(NewRecord(msg))
	if err != nil {
		o.metrics.PublishedTotal.WithLabelValues(StatusError).Inc()
		return fmt.Errorf("failed to encode routed message %s: %w", msg.ID, err)
	}

	var errs []error
	for _, streamID := range Targets(matched) {
		out := &messaging.Message{
			Subject: messaging.RoutedSubject(streamID),
			Data:    data,
			Metadata: map[string]string{
				HeaderStreamID:  streamID,
				HeaderMessageID: msg.ID + ":" + streamID,
			},
			Timestamp: msg.Timestamp,
		}
		if err := o.pub.PublishMsg(ctx, out); err != nil {
			o.metrics.PublishedTotal.WithLabelValues(StatusError).Inc()
			o.logger.WarnContext(ctx, "failed to publish routed message",
				logging.EnvelopeID(msg.ID), logging.StreamID(streamID), logging.Error(err))
			errs = append(errs, fmt.Errorf("stream %s: %w", streamID, err))
			continue
		}
		o.metrics.PublishedTotal.WithLabelValues(StatusOK).Inc()
	}
	return errors.Join(errs...)
}
