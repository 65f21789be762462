// Package decoder turns raw envelopes into complete, enriched messages.
package decoder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/telhawk-systems/telhawk-router/common/logging"
	"github.com/telhawk-systems/telhawk-router/router/internal/codec"
	"github.com/telhawk-systems/telhawk-router/router/internal/faults"
	"github.com/telhawk-systems/telhawk-router/router/internal/metrics"
	"github.com/telhawk-systems/telhawk-router/router/internal/model"
)

// Processor decodes envelopes with the codec named on each envelope.
// It holds no per-call state and is safe for concurrent use.
type Processor struct {
	codecs  *codec.Registry
	metrics *metrics.Metrics
	inputs  InputResolver
	logger  *logging.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithInputResolver sets how the local input id is confirmed.
func WithInputResolver(r InputResolver) Option {
	return func(p *Processor) {
		p.inputs = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Processor) {
		p.logger = l
	}
}

// New creates a Processor.
func New(codecs *codec.Registry, m *metrics.Metrics, opts ...Option) *Processor {
	p := &Processor{
		codecs:  codecs,
		metrics: m,
		inputs:  AnyInput,
	}
	if p.metrics == nil {
		p.metrics = metrics.NewUnregistered()
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.OrDefault(p.logger)
	return p
}

// Process decodes ev.Raw into ev.Message and always clears ev.Raw so the
// payload is not kept alive by the pipeline slot.
func (p *Processor) Process(ctx context.Context, ev *model.Event) error {
	defer func() {
		ev.Raw = nil
	}()

	msg, err := p.Decode(ctx, ev.Raw)
	ev.Message = msg
	return err
}

// Decode turns raw into a message. It returns (nil, nil) when the envelope
// is dropped: nil envelope, unknown codec, unusable codec configuration,
// empty or incomplete codec output. Codec errors and panics come back as
// decode faults; duplicate provenance as an integrity fault.
func (p *Processor) Decode(ctx context.Context, raw *model.RawEnvelope) (*model.Message, error) {
	if raw == nil {
		return nil, nil
	}

	codecName := raw.CodecName
	inputID, _ := raw.LastInputID()
	outcome := metrics.OutcomeFailures
	start := time.Now()
	defer func() {
		p.metrics.DecodeDuration.WithLabelValues(codecName).Observe(time.Since(start).Seconds())
		p.metrics.DecodedMessages.WithLabelValues(codecName, inputID, outcome).Inc()
	}()

	log := p.logger.With(logging.Codec(codecName), logging.EnvelopeID(raw.ID))

	factory, ok := p.codecs.Lookup(codecName)
	if !ok {
		log.WarnContext(ctx, "couldn't find factory for codec, skipping message")
		return nil, nil
	}

	c, err := factory.Create(codec.Configuration(raw.CodecConfig))
	if err != nil {
		log.WarnContext(ctx, "codec rejected its configuration, skipping message",
			logging.Error(faults.New(faults.Configuration, "codec.create", err)))
		return nil, nil
	}

	msg, parseTime, err := p.parse(c, raw)
	if err != nil {
		return nil, faults.New(faults.Decode, "codec.decode", err)
	}
	if msg == nil {
		return nil, nil
	}
	if !msg.Complete() {
		outcome = metrics.OutcomeIncomplete
		if log.Enabled(ctx, slog.LevelDebug) {
			log.DebugContext(ctx, "dropping incomplete message", "fields", msg.Snapshot())
		}
		return nil, nil
	}

	msg.RecordTiming("parse", parseTime)

	if err := p.enrich(ctx, log, c, raw, msg); err != nil {
		return nil, err
	}

	outcome = metrics.OutcomeProcessed
	msg.RecordTiming("decode", time.Since(start))
	return msg, nil
}

// parse runs the codec, converting a panic into an error.
func (p *Processor) parse(c codec.Codec, raw *model.RawEnvelope) (msg *model.Message, elapsed time.Duration, err error) {
	start := time.Now()
	defer func() {
		elapsed = time.Since(start)
		p.metrics.ParseDuration.WithLabelValues(raw.CodecName).Observe(elapsed.Seconds())
		if r := recover(); r != nil {
			msg, err = nil, fmt.Errorf("codec %s panicked: %v", c.Name(), r)
		}
	}()

	msg, err = c.Decode(raw)
	if msg != nil {
		msg.JournalOffset = raw.JournalOffset
	}
	return msg, 0, err
}

// enrich adds provenance and transport fields in a fixed order.
func (p *Processor) enrich(ctx context.Context, log *logging.Logger, c codec.Codec, raw *model.RawEnvelope, msg *model.Message) error {
	for _, node := range raw.SourceNodes {
		inputField, nodeField := model.FieldSourceInput, model.FieldSourceNode
		if node.Role == model.RoleRadio {
			inputField, nodeField = model.FieldSourceRadioInput, model.FieldSourceRadio
		}
		if msg.HasField(inputField) {
			return faults.Newf(faults.Integrity, "decode.provenance", "%w: multiple %s nodes", faults.ErrDuplicateProvenance, node.Role)
		}
		msg.AddField(inputField, node.InputID)
		msg.AddField(nodeField, node.NodeID)
	}

	if inputID, ok := raw.LastInputID(); ok {
		resolved, err := p.inputs.ResolveInput(inputID)
		if err != nil {
			log.WarnContext(ctx, "unable to resolve input, not setting input id on message",
				logging.Input(inputID), logging.Error(err))
		} else {
			msg.SourceInputID = resolved
		}
	}

	if addr := raw.RemoteAddress; addr != nil {
		ip := addr.String()
		msg.AddField(model.FieldRemoteIP, ip)
		if addr.Port > 0 {
			msg.AddField(model.FieldRemotePort, addr.Port)
		}
		// no lookup here; only a hostname the input already resolved is used
		if addr.ReverseLookedUp {
			msg.AddField(model.FieldRemoteHostname, addr.Hostname)
		}
		if msg.Source == "" {
			msg.Source = ip
		}
	}

	if override, ok := c.Configuration().String(codec.KeyOverrideSource); ok {
		msg.Source = override
	}

	if msg.Source == "" {
		msg.Source = model.UnknownSource
	}
	return nil
}
