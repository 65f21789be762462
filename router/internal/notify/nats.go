package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/telhawk-systems/telhawk-router/common/logging"
	"github.com/telhawk-systems/telhawk-router/common/messaging"
)

// SubjectNotifier fires on every message published to a bus subject.
type SubjectNotifier struct {
	sub     messaging.Subscriber
	subject string
	logger  *logging.Logger
}

// NewSubjectNotifier listens on subject. An empty subject means
// messaging.SubjectStreamsCatalogChanged.
func NewSubjectNotifier(sub messaging.Subscriber, subject string, logger *logging.Logger) *SubjectNotifier {
	if subject == "" {
		subject = messaging.SubjectStreamsCatalogChanged
	}
	return &SubjectNotifier{sub: sub, subject: subject, logger: logging.OrDefault(logger)}
}

// Run implements Notifier.
func (n *SubjectNotifier) Run(ctx context.Context, fire func()) error {
	subscription, err := n.sub.Subscribe(n.subject, func(ctx context.Context, msg *messaging.Message) error {
		n.logger.DebugContext(ctx, "stream catalog change announced", logging.Subject(msg.Subject))
		fire()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", n.subject, err)
	}
	defer func() {
		if err := subscription.Unsubscribe(); err != nil {
			n.logger.Warn("failed to unsubscribe catalog notifier", logging.Error(err))
		}
	}()

	<-ctx.Done()
	return nil
}

// Announce publishes a catalog change on the default subject. Writers of the
// stream catalog call it after committing a change.
func Announce(ctx context.Context, pub messaging.Publisher, reason string) error {
	msg := &messaging.Message{
		Subject:   messaging.SubjectStreamsCatalogChanged,
		Data:      []byte(reason),
		Timestamp: time.Now().UTC(),
	}
	if err := pub.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("failed to announce catalog change: %w", err)
	}
	return nil
}
