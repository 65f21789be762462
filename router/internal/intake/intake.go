// Package intake feeds raw envelopes from the durable JetStream consumer
// into the pipeline.
package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/telhawk-router/common/logging"
	"github.com/telhawk-systems/telhawk-router/common/messaging"
	"github.com/telhawk-systems/telhawk-router/common/messaging/nats"
	"github.com/telhawk-systems/telhawk-router/router/internal/dlq"
	"github.com/telhawk-systems/telhawk-router/router/internal/model"
)

// Consumer starts a durable consumption.
type Consumer interface {
	ConsumeMessages(ctx context.Context, streamName, consumerName string, handler messaging.MessageHandler, opts ...messaging.ConsumeOption) (func(), error)
}

// Submitter accepts envelopes for asynchronous processing.
type Submitter interface {
	Submit(ctx context.Context, env *model.RawEnvelope, done func(error)) error
}

// Config names the stream and durable consumer.
type Config struct {
	Stream        string
	Consumer      string
	NakDelay      time.Duration
	AckWait       time.Duration
	MaxDeliver    int
	MaxAckPending int
}

// Intake bridges JetStream deliveries and the pipeline.
type Intake struct {
	consumer  Consumer
	submitter Submitter
	dlq       dlq.Queue
	cfg       Config
	logger    *logging.Logger
}

// New creates an intake. q receives payloads that are not valid envelopes;
// it may be nil.
func New(consumer Consumer, submitter Submitter, q dlq.Queue, cfg Config, logger *logging.Logger) *Intake {
	if cfg.Stream == "" {
		cfg.Stream = nats.RawEnvelopesStream.Name
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "router"
	}
	if cfg.NakDelay <= 0 {
		cfg.NakDelay = 5 * time.Second
	}
	return &Intake{consumer: consumer, submitter: submitter, dlq: q, cfg: cfg, logger: logging.OrDefault(logger)}
}

// Run consumes until ctx is cancelled.
func (i *Intake) Run(ctx context.Context) error {
	stop, err := i.consumer.ConsumeMessages(ctx, i.cfg.Stream, i.cfg.Consumer, i.Handle,
		messaging.WithManualAck(), messaging.WithNakDelay(i.cfg.NakDelay))
	if err != nil {
		return fmt.Errorf("failed to start intake: %w", err)
	}
	i.logger.Info("consuming raw envelopes", "stream", i.cfg.Stream, "consumer", i.cfg.Consumer)

	<-ctx.Done()
	stop()
	return nil
}

// Handle turns one delivery into an envelope and submits it. The delivery is
// acked once the pipeline reports success and naked otherwise.
func (i *Intake) Handle(ctx context.Context, msg *messaging.Message) error {
	env, err := Envelope(msg)
	if err != nil {
		return i.malformed(ctx, msg, err)
	}

	log := i.logger.With(logging.EnvelopeID(env.ID), logging.JournalOffset(env.JournalOffset))
	done := func(err error) {
		if err != nil {
			log.WarnContext(ctx, "envelope not handled, requesting redelivery", logging.Error(err))
			if nakErr := msg.Nak(i.cfg.NakDelay); nakErr != nil {
				log.WarnContext(ctx, "failed to nak envelope", logging.Error(nakErr))
			}
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			log.WarnContext(ctx, "failed to ack envelope", logging.Error(ackErr))
		}
	}

	if err := i.submitter.Submit(ctx, env, done); err != nil {
		_ = msg.Nak(0)
		return fmt.Errorf("submit envelope %s: %w", env.ID, err)
	}
	return nil
}

func (i *Intake) malformed(ctx context.Context, msg *messaging.Message, cause error) error {
	i.logger.WarnContext(ctx, "discarding malformed envelope", logging.Subject(msg.Subject), logging.Error(cause))
	if i.dlq != nil {
		raw := &model.RawEnvelope{
			ID:            msg.Metadata[HeaderEnvelopeID],
			JournalOffset: int64(msg.Sequence),
			ReceivedAt:    msg.Timestamp,
			Payload:       msg.Data,
		}
		if err := i.dlq.Write(ctx, raw, cause, dlq.ReasonMalformed); err != nil {
			_ = msg.Nak(i.cfg.NakDelay)
			return fmt.Errorf("dead letter malformed envelope: %w", err)
		}
	}
	return msg.Ack()
}

// Setup creates or updates the raw envelope stream and the durable consumer.
func Setup(ctx context.Context, js *nats.JetStreamClient, cfg Config) error {
	streamCfg := nats.RawEnvelopesStream
	if cfg.Stream != "" {
		streamCfg.Name = cfg.Stream
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "router"
	}
	if _, err := js.CreateOrUpdateStream(ctx, streamCfg); err != nil {
		return err
	}

	consumerCfg := nats.DefaultConsumerConfig(cfg.Consumer, messaging.Wildcard(messaging.SubjectIngestRaw))
	if cfg.AckWait > 0 {
		consumerCfg.AckWait = cfg.AckWait
	}
	if cfg.MaxDeliver > 0 {
		consumerCfg.MaxDeliver = cfg.MaxDeliver
	}
	if cfg.MaxAckPending > 0 {
		consumerCfg.MaxAckPending = cfg.MaxAckPending
	}
	_, err := js.CreateOrUpdateConsumer(ctx, streamCfg.Name, consumerCfg)
	return err
}

// HeaderEnvelopeID carries the envelope id when publishers set one.
const HeaderEnvelopeID = "Telhawk-Envelope-Id"

// Envelope decodes a delivery into a raw envelope. The stream sequence
// becomes the journal offset; a missing id or receive time is filled from
// the delivery.
func Envelope(msg *messaging.Message) (*model.RawEnvelope, error) {
	var env model.RawEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.CodecName == "" {
		return nil, fmt.Errorf("decode envelope: codec is required")
	}
	if msg.Sequence > 0 {
		env.JournalOffset = int64(msg.Sequence)
	}
	if env.ID == "" {
		env.ID = msg.Metadata[HeaderEnvelopeID]
	}
	if env.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("generate envelope id: %w", err)
		}
		env.ID = id.String()
	}
	if env.ReceivedAt.IsZero() {
		env.ReceivedAt = msg.Timestamp
	}
	return &env, nil
}

// Publish encodes env and publishes it on the raw subject of its last input.
func Publish(ctx context.Context, pub messaging.Publisher, env *model.RawEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	inputID, _ := env.LastInputID()
	return pub.PublishMsg(ctx, &messaging.Message{
		Subject:   messaging.IngestRawSubject(inputID),
		Data:      data,
		Metadata:  map[string]string{HeaderEnvelopeID: env.ID},
		Timestamp: env.ReceivedAt,
	})
}
