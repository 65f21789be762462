// Package seeder produces synthetic raw envelopes and sample stream
// definitions for exercising a router deployment end to end.
package seeder

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"

	"github.com/telhawk-systems/telhawk-router/router/internal/codec"
	"github.com/telhawk-systems/telhawk-router/router/internal/model"
)

// DefaultInputs are the input ids envelopes are attributed to when none are given.
var DefaultInputs = []string{"gelf-udp", "syslog-tcp"}

var (
	facilities = []string{"auth", "daemon", "kern", "user", "local0"}
	services   = []string{"api", "billing", "checkout", "search", "worker"}
)

// Generator builds random but well formed envelopes. It is not safe for
// concurrent use.
type Generator struct {
	faker    *gofakeit.Faker
	inputs   []string
	nodeID   string
	rawRatio float64
	now      func() time.Time
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithInputs sets the input ids envelopes are attributed to.
func WithInputs(inputs ...string) GeneratorOption {
	return func(g *Generator) {
		if len(inputs) > 0 {
			g.inputs = inputs
		}
	}
}

// WithRawRatio sets the share of envelopes using the raw codec, between 0 and 1.
func WithRawRatio(r float64) GeneratorOption {
	return func(g *Generator) {
		switch {
		case r < 0:
			g.rawRatio = 0
		case r > 1:
			g.rawRatio = 1
		default:
			g.rawRatio = r
		}
	}
}

// WithNodeID sets the processing node recorded on every envelope.
func WithNodeID(id string) GeneratorOption {
	return func(g *Generator) { g.nodeID = id }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) { g.now = now }
}

// NewGenerator creates a generator. The same seed yields the same payloads;
// envelope ids are always unique.
func NewGenerator(seed int64, opts ...GeneratorOption) *Generator {
	g := &Generator{
		faker:    gofakeit.New(seed),
		inputs:   DefaultInputs,
		nodeID:   "seeder",
		rawRatio: 0.25,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Envelope returns the next synthetic envelope.
func (g *Generator) Envelope() (*model.RawEnvelope, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate envelope id: %w", err)
	}
	now := g.now().UTC()

	env := &model.RawEnvelope{
		ID: id.String(),
		SourceNodes: []model.SourceNode{{
			Role:    model.RoleServer,
			NodeID:  g.nodeID,
			InputID: g.faker.RandomString(g.inputs),
		}},
		RemoteAddress: &model.RemoteAddress{
			IP:   g.faker.IPv4Address(),
			Port: g.faker.IntRange(1024, 65535),
		},
		ReceivedAt: now,
	}

	if g.faker.Float64Range(0, 1) < g.rawRatio {
		env.CodecName = codec.RawCodecName
		env.Payload = g.rawPayload(now)
		return env, nil
	}

	payload, err := g.jsonPayload(now)
	if err != nil {
		return nil, err
	}
	env.CodecName = codec.JSONCodecName
	env.Payload = payload
	return env, nil
}

// Envelopes returns n envelopes.
func (g *Generator) Envelopes(n int) ([]*model.RawEnvelope, error) {
	out := make([]*model.RawEnvelope, 0, n)
	for i := 0; i < n; i++ {
		env, err := g.Envelope()
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

// jsonPayload renders a GELF style document. Underscore keys become fields.
func (g *Generator) jsonPayload(now time.Time) ([]byte, error) {
	f := g.faker
	doc := map[string]any{
		"version":       "1.1",
		"host":          f.DomainName(),
		"short_message": f.HackerPhrase(),
		"timestamp":     float64(now.UnixMilli()) / 1000,
		"level":         f.IntRange(0, 7),
		"_facility":     f.RandomString(facilities),
		"_service":      f.RandomString(services),
		"_user":         f.Username(),
	}
	if f.Bool() {
		doc["_http_method"] = f.HTTPMethod()
		doc["_http_status"] = f.HTTPStatusCode()
		doc["_http_path"] = "/" + f.Word()
		doc["_duration_ms"] = f.IntRange(1, 5000)
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return b, nil
}

// rawPayload renders a syslog style line.
func (g *Generator) rawPayload(now time.Time) []byte {
	f := g.faker
	line := fmt.Sprintf("<%d>%s %s %s[%d]: %s\n",
		f.IntRange(0, 191),
		now.Format(time.Stamp),
		f.DomainName(),
		f.RandomString(services),
		f.IntRange(100, 65535),
		f.HackerPhrase(),
	)
	return []byte(line)
}
