// Package dlq records envelopes the router could not process.
package dlq

import (
	"context"
	"errors"
	"time"

	"github.com/telhawk-systems/telhawk-router/router/internal/faults"
	"github.com/telhawk-systems/telhawk-router/router/internal/model"
)

// Reasons recorded with each failed envelope.
const (
	ReasonDecode    = "decode"
	ReasonIntegrity = "integrity"
	ReasonPanic     = "panic"
	ReasonPublish   = "publish"
	ReasonMalformed = "malformed"
)

// ErrDisabled is returned by read operations on a nil queue.
var ErrDisabled = errors.New("dlq not enabled")

// FailedEnvelope captures a failed envelope for analysis and replay.
type FailedEnvelope struct {
	Timestamp   time.Time          `json:"timestamp"`
	Envelope    *model.RawEnvelope `json:"envelope,omitempty"`
	Error       string             `json:"error"`
	Reason      string             `json:"reason"`
	Attempts    int                `json:"attempts"`
	LastAttempt time.Time          `json:"last_attempt"`
}

// Queue is a dead letter queue backend.
type Queue interface {
	Write(ctx context.Context, env *model.RawEnvelope, err error, reason string) error
	List(ctx context.Context, limit int) ([]FailedEnvelope, error)
	Purge(ctx context.Context) error
	Stats(ctx context.Context) map[string]any
}

// ReasonFor maps a pipeline error to a DLQ reason.
func ReasonFor(err error) string {
	class, ok := faults.ClassOf(err)
	if !ok {
		return ReasonPublish
	}
	switch class {
	case faults.Integrity:
		return ReasonIntegrity
	default:
		return ReasonDecode
	}
}

func newFailedEnvelope(env *model.RawEnvelope, err error, reason string) FailedEnvelope {
	now := time.Now().UTC()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return FailedEnvelope{
		Timestamp:   now,
		Envelope:    env,
		Error:       msg,
		Reason:      reason,
		Attempts:    1,
		LastAttempt: now,
	}
}
