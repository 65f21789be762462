// Package messaging provides abstractions for message broker communication.
// It defines interfaces that allow the router to publish and subscribe to
// messages without being coupled to a specific broker implementation.
package messaging

import (
	"context"
	"errors"
	"time"
)

// ErrNoAcker is returned by Ack and Nak on messages that were not delivered
// by a consumer with acknowledgement support.
var ErrNoAcker = errors.New("message does not support acknowledgement")

// Message represents a message received from or sent to a message broker.
type Message struct {
	// Subject is the topic/channel the message was published to.
	Subject string

	// Data is the raw message payload.
	Data []byte

	// Reply is an optional subject for request/reply patterns.
	Reply string

	// Metadata contains optional key-value pairs for message headers.
	Metadata map[string]string

	// Timestamp is when the message was published, or when it was received
	// for brokers that do not record publish time.
	Timestamp time.Time

	// Sequence is the persistent stream sequence of the message.
	// Zero for messages delivered without persistence.
	Sequence uint64

	acker Acker
}

// Acker acknowledges delivery of a persistent message.
type Acker interface {
	Ack() error
	Nak(delay time.Duration) error
}

// WithAcker attaches an acknowledgement handle to the message.
// Broker implementations call this when delivering with manual acknowledgement.
func (m *Message) WithAcker(a Acker) *Message {
	m.acker = a
	return m
}

// Ack acknowledges successful processing.
func (m *Message) Ack() error {
	if m.acker == nil {
		return ErrNoAcker
	}
	return m.acker.Ack()
}

// Nak asks the broker to redeliver the message after delay.
func (m *Message) Nak(delay time.Duration) error {
	if m.acker == nil {
		return ErrNoAcker
	}
	return m.acker.Nak(delay)
}

// MessageHandler processes a received message.
// Return an error to indicate processing failure (may trigger redelivery depending on implementation).
type MessageHandler func(ctx context.Context, msg *Message) error

// Subscription represents an active subscription to a subject.
type Subscription interface {
	// Unsubscribe stops receiving messages on this subscription.
	Unsubscribe() error

	// Subject returns the subject this subscription is listening to.
	Subject() string

	// IsValid returns true if the subscription is still active.
	IsValid() bool
}

// Publisher publishes messages to subjects.
type Publisher interface {
	// Publish sends a message to the specified subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// PublishMsg sends a Message with full control over headers and metadata.
	PublishMsg(ctx context.Context, msg *Message) error

	// Request sends a message and waits for a response (request/reply pattern).
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) (*Message, error)

	// Close releases any resources held by the publisher.
	Close() error
}

// Subscriber subscribes to messages on subjects.
type Subscriber interface {
	// Subscribe creates a subscription to the specified subject.
	// Each subscriber receives all messages (fan-out).
	Subscribe(subject string, handler MessageHandler) (Subscription, error)

	// QueueSubscribe creates a queue subscription.
	// Messages are load-balanced across subscribers in the same queue group.
	QueueSubscribe(subject, queue string, handler MessageHandler) (Subscription, error)

	// Close releases any resources and unsubscribes all active subscriptions.
	Close() error
}

// Client combines Publisher and Subscriber interfaces.
type Client interface {
	Publisher
	Subscriber

	// Drain gracefully closes the connection, allowing in-flight messages to complete.
	Drain() error

	// IsConnected returns true if the client is connected to the broker.
	IsConnected() bool
}

// ConsumeOption configures durable consumption behavior.
type ConsumeOption func(*ConsumeOptions)

// ConsumeOptions is the resolved set of consume options.
type ConsumeOptions struct {
	// ManualAck hands acknowledgement to the handler via Message.Ack.
	// When false the consumer acks on a nil handler error and naks otherwise.
	ManualAck bool

	// NakDelay is the redelivery delay used for automatic naks.
	NakDelay time.Duration
}

// WithManualAck lets the handler acknowledge messages itself, possibly after
// it has returned.
func WithManualAck() ConsumeOption {
	return func(o *ConsumeOptions) {
		o.ManualAck = true
	}
}

// WithNakDelay sets the redelivery delay for automatic naks.
func WithNakDelay(d time.Duration) ConsumeOption {
	return func(o *ConsumeOptions) {
		o.NakDelay = d
	}
}

// ResolveConsumeOptions applies opts over the defaults.
func ResolveConsumeOptions(opts ...ConsumeOption) ConsumeOptions {
	o := ConsumeOptions{NakDelay: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
