package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/telhawk-systems/telhawk-router/common/logging"
	"github.com/telhawk-systems/telhawk-router/common/messaging"
	"github.com/telhawk-systems/telhawk-router/common/messaging/nats"
	"github.com/telhawk-systems/telhawk-router/router/internal/model"
)

// syncPublisher publishes to JetStream and waits for the stream ack.
type syncPublisher interface {
	PublishSync(ctx context.Context, subject string, data []byte) (*jetstream.PubAck, error)
}

// JetStreamQueue writes failed envelopes to the ROUTER_DLQ stream. Safe to
// share across router instances.
type JetStreamQueue struct {
	pub     syncPublisher
	stream  jetstream.Stream
	logger  *logging.Logger
	written atomic.Uint64
}

// NewJetStreamQueue creates or updates the DLQ stream and returns a queue on it.
func NewJetStreamQueue(ctx context.Context, js *nats.JetStreamClient, logger *logging.Logger) (*JetStreamQueue, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream client is nil")
	}

	stream, err := js.CreateOrUpdateStream(ctx, nats.RouterDLQStream)
	if err != nil {
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}

	logger = logging.OrDefault(logger)
	logger.Info("dead letter stream ready", "stream", nats.RouterDLQStream.Name)

	return &JetStreamQueue{pub: js, stream: stream, logger: logger}, nil
}

// Write implements Queue. The subject is router.dlq.<reason>.
func (q *JetStreamQueue) Write(ctx context.Context, env *model.RawEnvelope, err error, reason string) error {
	if q == nil {
		return nil
	}

	data, marshalErr := json.Marshal(newFailedEnvelope(env, err, reason))
	if marshalErr != nil {
		return fmt.Errorf("marshal dlq entry: %w", marshalErr)
	}

	subject := messaging.DLQSubject(reason)
	if _, pubErr := q.pub.PublishSync(ctx, subject, data); pubErr != nil {
		return fmt.Errorf("publish dlq entry: %w", pubErr)
	}

	q.written.Add(1)
	q.logger.WarnContext(ctx, "envelope published to dead letter stream",
		logging.Subject(subject), logging.EnvelopeID(envelopeID(env)))
	return nil
}

// Stats implements Queue.
func (q *JetStreamQueue) Stats(ctx context.Context) map[string]any {
	if q == nil {
		return map[string]any{"enabled": false, "backend": "jetstream"}
	}

	stats := map[string]any{
		"enabled":       true,
		"backend":       "jetstream",
		"written_local": q.written.Load(),
	}
	if q.stream == nil {
		return stats
	}

	info, err := q.stream.Info(ctx)
	if err != nil {
		stats["error"] = err.Error()
		return stats
	}
	stats["total_messages"] = info.State.Msgs
	stats["total_bytes"] = info.State.Bytes
	stats["first_seq"] = info.State.FirstSeq
	stats["last_seq"] = info.State.LastSeq
	stats["consumer_count"] = info.State.Consumers
	return stats
}

// List implements Queue using an ephemeral consumer over every DLQ subject.
func (q *JetStreamQueue) List(ctx context.Context, limit int) ([]FailedEnvelope, error) {
	if q == nil || q.stream == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 100
	}

	consumer, err := q.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject: messaging.Wildcard(messaging.SubjectRouterDLQ),
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		MaxDeliver:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("create list consumer: %w", err)
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	var out []FailedEnvelope
	for msg := range batch.Messages() {
		var failed FailedEnvelope
		if err := json.Unmarshal(msg.Data(), &failed); err != nil {
			q.logger.ErrorContext(ctx, "failed to parse dlq message", logging.Error(err))
			continue
		}
		out = append(out, failed)
	}
	if batch.Error() != nil {
		q.logger.WarnContext(ctx, "dlq fetch completed with error", logging.Error(batch.Error()))
	}
	return out, nil
}

// Purge implements Queue.
func (q *JetStreamQueue) Purge(ctx context.Context) error {
	if q == nil || q.stream == nil {
		return ErrDisabled
	}
	if err := q.stream.Purge(ctx); err != nil {
		return fmt.Errorf("purge dlq stream: %w", err)
	}
	q.logger.InfoContext(ctx, "dead letter stream purged")
	return nil
}
