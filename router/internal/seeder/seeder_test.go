package seeder

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-router/common/logging"
	"github.com/telhawk-systems/telhawk-router/common/messaging"
	"github.com/telhawk-systems/telhawk-router/router/internal/codec"
	"github.com/telhawk-systems/telhawk-router/router/internal/decoder"
	"github.com/telhawk-systems/telhawk-router/router/internal/engine"
	"github.com/telhawk-systems/telhawk-router/router/internal/model"
	"github.com/telhawk-systems/telhawk-router/router/internal/streams"
)

var fixedNow = time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func TestGenerator_SameSeedSamePayloads(t *testing.T) {
	a := NewGenerator(42, WithClock(clock))
	b := NewGenerator(42, WithClock(clock))

	for i := 0; i < 20; i++ {
		ea, err := a.Envelope()
		require.NoError(t, err)
		eb, err := b.Envelope()
		require.NoError(t, err)

		assert.Equal(t, ea.Payload, eb.Payload)
		assert.Equal(t, ea.CodecName, eb.CodecName)
		assert.NotEqual(t, ea.ID, eb.ID, "ids are unique across generators")
	}
}

func TestGenerator_EnvelopesDecode(t *testing.T) {
	gen := NewGenerator(7, WithClock(clock), WithInputs("only-input"), WithNodeID("node-a"))
	envs, err := gen.Envelopes(50)
	require.NoError(t, err)
	require.Len(t, envs, 50)

	dec := decoder.New(codec.DefaultRegistry(), nil, decoder.WithLogger(logging.Discard()))
	for _, env := range envs {
		assert.Contains(t, []string{codec.JSONCodecName, codec.RawCodecName}, env.CodecName)
		input, ok := env.LastInputID()
		require.True(t, ok)
		assert.Equal(t, "only-input", input)
		assert.Equal(t, "node-a", env.SourceNodes[0].NodeID)
		assert.Equal(t, fixedNow, env.ReceivedAt)
		require.NotNil(t, env.RemoteAddress)

		msg, err := dec.Decode(context.Background(), env)
		require.NoError(t, err, string(env.Payload))
		require.NotNil(t, msg)
		assert.Equal(t, env.ID, msg.ID)
		assert.NotEmpty(t, msg.Text())
	}
}

func TestGenerator_RawRatio(t *testing.T) {
	tests := []struct {
		name  string
		ratio float64
		want  string
	}{
		{"all raw", 1, codec.RawCodecName},
		{"clamped above one", 3, codec.RawCodecName},
		{"all json", 0, codec.JSONCodecName},
		{"clamped below zero", -1, codec.JSONCodecName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envs, err := NewGenerator(1, WithRawRatio(tt.ratio)).Envelopes(10)
			require.NoError(t, err)
			for _, env := range envs {
				assert.Equal(t, tt.want, env.CodecName)
			}
		})
	}
}

func TestSampleStreams_Compile(t *testing.T) {
	e := engine.Build(SampleStreams(), engine.WithLogger(logging.Discard()))
	require.Empty(t, e.Rejected())
	assert.Equal(t, len(SampleStreams()), e.StreamCount())

	msg := model.NewMessage("m1", "user login accepted", "web-01", fixedNow)
	msg.Fields["level"] = float64(2)
	msg.Fields["facility"] = "daemon"

	var matched []string
	for _, s := range e.Match(msg) {
		matched = append(matched, s.ID)
	}
	assert.ElementsMatch(t, []string{"severe", "auth"}, matched)
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*messaging.Message
	fail func(n int) bool
}

func (p *recordingPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	return p.PublishMsg(ctx, &messaging.Message{Subject: subject, Data: data})
}

func (p *recordingPublisher) PublishMsg(_ context.Context, msg *messaging.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.msgs)
	p.msgs = append(p.msgs, msg)
	if p.fail != nil && p.fail(n) {
		return errors.New("bus unavailable")
	}
	return nil
}

func (p *recordingPublisher) Request(context.Context, string, []byte, time.Duration) (*messaging.Message, error) {
	return nil, errors.New("not implemented")
}

func (p *recordingPublisher) Close() error { return nil }

func TestRunner_Run(t *testing.T) {
	pub := &recordingPublisher{}
	r := NewRunner(pub, NewGenerator(3, WithInputs("gelf-udp")), 0, logging.Discard())

	stats, err := r.Run(context.Background(), 25)
	require.NoError(t, err)
	assert.Equal(t, 25, stats.Published)
	assert.Zero(t, stats.Failed)
	require.Len(t, pub.msgs, 25)

	first := pub.msgs[0]
	assert.Equal(t, messaging.IngestRawSubject("gelf-udp"), first.Subject)
	var env model.RawEnvelope
	require.NoError(t, json.Unmarshal(first.Data, &env))
	assert.NotEmpty(t, env.ID)
}

func TestRunner_CountsFailures(t *testing.T) {
	pub := &recordingPublisher{fail: func(n int) bool { return n%2 == 0 }}
	r := NewRunner(pub, NewGenerator(3), 0, logging.Discard())

	stats, err := r.Run(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Published)
	assert.Equal(t, 5, stats.Failed)
}

func TestRunner_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pub := &recordingPublisher{}
	stats, err := NewRunner(pub, NewGenerator(3), time.Millisecond, logging.Discard()).Run(ctx, 10)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, stats.Published)
}

type mockSaver struct {
	saved     []string
	positions []int
	failOn    string
}

func (s *mockSaver) SaveStream(_ context.Context, def *streams.Stream, position int) error {
	if def.ID == s.failOn {
		return errors.New("constraint violation")
	}
	s.saved = append(s.saved, def.ID)
	s.positions = append(s.positions, position)
	return nil
}

func TestSaveStreams(t *testing.T) {
	saver := &mockSaver{}
	n, err := SaveStreams(context.Background(), saver, SampleStreams())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []string{"severe", "http-errors", "auth", "billing"}, saver.saved)
	assert.Equal(t, []int{0, 1, 2, 3}, saver.positions)

	saver = &mockSaver{failOn: "auth"}
	n, err = SaveStreams(context.Background(), saver, SampleStreams())
	assert.ErrorContains(t, err, "failed to save stream auth")
	assert.Equal(t, 2, n)
}
