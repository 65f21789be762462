package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-router/common/logging"
	"github.com/telhawk-systems/telhawk-router/router/internal/faults"
	"github.com/telhawk-systems/telhawk-router/router/internal/model"
	"github.com/telhawk-systems/telhawk-router/router/internal/streams"
)

func message(fields map[string]any) *model.Message {
	msg := model.NewMessage("id-1", "hello", "web-01", time.Date(2026, 10, 1, 9, 30, 0, 0, time.UTC))
	for k, v := range fields {
		msg.AddField(k, v)
	}
	return msg
}

func stream(id string, mt streams.MatchingType, rules ...streams.Rule) *streams.Stream {
	return &streams.Stream{ID: id, Title: id, MatchingType: mt, Rules: rules}
}

func ids(matched []*streams.Stream) []string {
	out := make([]string, 0, len(matched))
	for _, s := range matched {
		out = append(out, s.ID)
	}
	return out
}

func build(defs ...*streams.Stream) *Engine {
	return Build(defs, WithLogger(logging.Discard()))
}

func TestRuleOperators(t *testing.T) {
	tests := []struct {
		name   string
		rule   streams.Rule
		fields map[string]any
		match  bool
	}{
		{name: "exact string", rule: streams.Rule{Field: "x", Type: streams.RuleExact, Value: "5"}, fields: map[string]any{"x": "5"}, match: true},
		{name: "exact number", rule: streams.Rule{Field: "x", Type: streams.RuleExact, Value: "5"}, fields: map[string]any{"x": float64(5)}, match: true},
		{name: "exact int", rule: streams.Rule{Field: "x", Type: streams.RuleExact, Value: "5"}, fields: map[string]any{"x": 5}, match: true},
		{name: "exact mismatch", rule: streams.Rule{Field: "x", Type: streams.RuleExact, Value: "5"}, fields: map[string]any{"x": "50"}},
		{name: "exact missing", rule: streams.Rule{Field: "x", Type: streams.RuleExact, Value: "5"}},
		{name: "exact missing inverted", rule: streams.Rule{Field: "x", Type: streams.RuleExact, Value: "5", Inverted: true}, match: true},
		{name: "exact reserved source", rule: streams.Rule{Field: "source", Type: streams.RuleExact, Value: "web-01"}, match: true},
		{name: "regex finds substring", rule: streams.Rule{Field: "msg", Type: streams.RuleRegex, Value: `fail(ed|ure)`}, fields: map[string]any{"msg": "login failed for root"}, match: true},
		{name: "regex anchored mismatch", rule: streams.Rule{Field: "msg", Type: streams.RuleRegex, Value: `^failed`}, fields: map[string]any{"msg": "login failed"}},
		{name: "regex missing", rule: streams.Rule{Field: "msg", Type: streams.RuleRegex, Value: `.*`}},
		{name: "regex inverted", rule: streams.Rule{Field: "msg", Type: streams.RuleRegex, Value: `^ok$`, Inverted: true}, fields: map[string]any{"msg": "error"}, match: true},
		{name: "greater", rule: streams.Rule{Field: "level", Type: streams.RuleGreater, Value: "3"}, fields: map[string]any{"level": float64(4)}, match: true},
		{name: "greater equal is false", rule: streams.Rule{Field: "level", Type: streams.RuleGreater, Value: "3"}, fields: map[string]any{"level": 3}},
		{name: "greater numeric string", rule: streams.Rule{Field: "level", Type: streams.RuleGreater, Value: "3"}, fields: map[string]any{"level": " 7 "}, match: true},
		{name: "greater non numeric field", rule: streams.Rule{Field: "level", Type: streams.RuleGreater, Value: "3"}, fields: map[string]any{"level": "high"}},
		{name: "greater missing", rule: streams.Rule{Field: "level", Type: streams.RuleGreater, Value: "3"}},
		{name: "greater missing inverted", rule: streams.Rule{Field: "level", Type: streams.RuleGreater, Value: "3", Inverted: true}, match: true},
		{name: "smaller", rule: streams.Rule{Field: "latency", Type: streams.RuleSmaller, Value: "0.5"}, fields: map[string]any{"latency": 0.25}, match: true},
		{name: "smaller false", rule: streams.Rule{Field: "latency", Type: streams.RuleSmaller, Value: "0.5"}, fields: map[string]any{"latency": int64(2)}},
		{name: "presence", rule: streams.Rule{Field: "y", Type: streams.RulePresence}, fields: map[string]any{"y": "anything"}, match: true},
		{name: "presence ignores value", rule: streams.Rule{Field: "y", Type: streams.RulePresence, Value: "other"}, fields: map[string]any{"y": "anything"}, match: true},
		{name: "presence zero number", rule: streams.Rule{Field: "y", Type: streams.RulePresence}, fields: map[string]any{"y": 0}, match: true},
		{name: "presence empty string", rule: streams.Rule{Field: "y", Type: streams.RulePresence}, fields: map[string]any{"y": ""}},
		{name: "presence whitespace", rule: streams.Rule{Field: "y", Type: streams.RulePresence}, fields: map[string]any{"y": "  \t"}},
		{name: "presence nil", rule: streams.Rule{Field: "y", Type: streams.RulePresence}, fields: map[string]any{"y": nil}},
		{name: "presence missing", rule: streams.Rule{Field: "y", Type: streams.RulePresence}},
		{name: "presence inverted missing", rule: streams.Rule{Field: "y", Type: streams.RulePresence, Inverted: true}, match: true},
		{name: "presence inverted present", rule: streams.Rule{Field: "y", Type: streams.RulePresence, Inverted: true}, fields: map[string]any{"y": "v"}},
		{name: "contains", rule: streams.Rule{Field: "path", Type: streams.RuleContains, Value: "/admin"}, fields: map[string]any{"path": "/api/admin/users"}, match: true},
		{name: "contains missing", rule: streams.Rule{Field: "path", Type: streams.RuleContains, Value: "/admin"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.rule.ID = "r1"
			e := build(stream("s1", streams.MatchAll, tt.rule))
			require.Empty(t, e.Rejected())

			matched := e.Match(message(tt.fields))
			assert.Equal(t, tt.match, len(matched) == 1)
		})
	}
}

func TestMatch_AllScenario(t *testing.T) {
	e := build(stream("A", streams.MatchAll,
		streams.Rule{ID: "r1", Field: "x", Type: streams.RuleExact, Value: "5"},
		streams.Rule{ID: "r2", Field: "y", Type: streams.RulePresence},
	))

	assert.Empty(t, e.Match(message(map[string]any{"x": "5"})))
	assert.Equal(t, []string{"A"}, ids(e.Match(message(map[string]any{"x": "5", "y": "anything"}))))
}

func TestMatch_AnyScenario(t *testing.T) {
	e := build(stream("B", streams.MatchAny,
		streams.Rule{ID: "r1", Field: "x", Type: streams.RuleExact, Value: "5"},
		streams.Rule{ID: "r2", Field: "y", Type: streams.RulePresence},
	))

	assert.Equal(t, []string{"B"}, ids(e.Match(message(map[string]any{"x": "5"}))))
	assert.Equal(t, []string{"B"}, ids(e.Match(message(map[string]any{"y": "v"}))))
	assert.Empty(t, e.Match(message(map[string]any{"x": "6"})))
}

func TestMatch_EmptyRulesNeverMatch(t *testing.T) {
	e := build(
		stream("all-empty", streams.MatchAll),
		stream("any-empty", streams.MatchAny),
	)

	assert.Equal(t, 2, e.StreamCount())
	assert.Empty(t, e.Match(message(nil)))
	assert.Empty(t, e.Match(message(map[string]any{"x": "5", "y": "z"})))
}

func TestMatch_CatalogOrder(t *testing.T) {
	always := streams.Rule{ID: "r", Field: "message", Type: streams.RulePresence}
	e := build(
		stream("c", streams.MatchAll, always),
		stream("a", streams.MatchAll, always),
		stream("b", streams.MatchAny, always),
	)

	assert.Equal(t, []string{"c", "a", "b"}, ids(e.Match(message(nil))))
	assert.Nil(t, e.Match(nil))
}

func TestBuild_SkipsDisabledAndRejectsBadStreams(t *testing.T) {
	good := stream("good", streams.MatchAll, streams.Rule{ID: "r1", Field: "x", Type: streams.RuleExact, Value: "5"})
	disabled := stream("disabled", streams.MatchAll, streams.Rule{ID: "r1", Field: "x", Type: streams.RuleExact, Value: "5"})
	disabled.Disabled = true

	bad := []*streams.Stream{
		stream("bad-regex", streams.MatchAll, streams.Rule{ID: "r1", Field: "x", Type: streams.RuleRegex, Value: "(unclosed"}),
		stream("bad-number", streams.MatchAll, streams.Rule{ID: "r1", Field: "x", Type: streams.RuleGreater, Value: "five"}),
		stream("bad-type", streams.MatchAll, streams.Rule{ID: "r1", Field: "x", Type: streams.RuleType(9)}),
		stream("no-field", streams.MatchAll, streams.Rule{ID: "r1", Type: streams.RulePresence}),
		stream("bad-matching", streams.MatchingType("XOR"), streams.Rule{ID: "r1", Field: "x", Type: streams.RulePresence}),
	}

	defs := append([]*streams.Stream{good, disabled, nil}, bad...)
	e := build(defs...)

	assert.Equal(t, []string{"good"}, ids(e.Streams()))
	assert.Equal(t, []string{"good"}, ids(e.Match(message(map[string]any{"x": "5"}))))

	rejected := e.Rejected()
	require.Len(t, rejected, len(bad))
	for i, r := range rejected {
		assert.Equal(t, bad[i].ID, r.StreamID)
		assert.NotEmpty(t, r.Reason)
		assert.ErrorIs(t, r.Err, faults.ErrRuleCompile)
		assert.True(t, faults.IsClass(r.Err, faults.Configuration))
	}
}

func TestBuild_DoesNotAliasInput(t *testing.T) {
	def := stream("s1", streams.MatchAll, streams.Rule{ID: "r1", Field: "x", Type: streams.RuleExact, Value: "5"})
	e := build(def)

	def.Rules[0].Value = "6"
	def.Title = "changed"

	assert.Equal(t, []string{"s1"}, ids(e.Match(message(map[string]any{"x": "5"}))))
	assert.Equal(t, "s1", e.Streams()[0].Title)
	assert.Equal(t, "6", def.Rules[0].Value)
}

func TestEngine_ReturnsCopies(t *testing.T) {
	e := build(stream("s1", streams.MatchAll, streams.Rule{ID: "r1", Field: "x", Type: streams.RuleExact, Value: "5"}))
	msg := message(map[string]any{"x": "5"})

	matched := e.Match(msg)
	require.Len(t, matched, 1)
	matched[0].Title = "changed"
	matched[0].Rules[0].Value = "6"

	listed := e.Streams()
	listed[0].RemoveMatchesFromDefaultStream = true

	assert.Equal(t, "s1", e.Streams()[0].Title)
	assert.False(t, e.Streams()[0].RemoveMatchesFromDefaultStream)
	assert.Equal(t, "5", e.Match(msg)[0].Rules[0].Value)
}

func TestBuild_AcceptsMatchingTypeAliases(t *testing.T) {
	e := build(
		stream("any", streams.MatchingType("any"),
			streams.Rule{ID: "r1", Field: "x", Type: streams.RulePresence},
			streams.Rule{ID: "r2", Field: "y", Type: streams.RulePresence}),
		stream("default", streams.MatchingType(""),
			streams.Rule{ID: "r1", Field: "x", Type: streams.RulePresence},
			streams.Rule{ID: "r2", Field: "y", Type: streams.RulePresence}),
	)

	assert.Empty(t, e.Rejected())
	assert.Equal(t, []string{"any"}, ids(e.Match(message(map[string]any{"x": "1"}))))
	assert.Equal(t, streams.MatchAny, e.Streams()[0].MatchingType)
	assert.Equal(t, streams.MatchAll, e.Streams()[1].MatchingType)
}

func TestBuild_Metadata(t *testing.T) {
	at := time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)
	e := Build(nil, WithGeneration(7), WithClock(func() time.Time { return at }), WithLogger(logging.Discard()))

	assert.Equal(t, uint64(7), e.Generation())
	assert.Equal(t, at, e.BuiltAt())
	assert.Zero(t, e.StreamCount())
	assert.Empty(t, e.Streams())
}

func randomStreams(f *gofakeit.Faker, n int) []*streams.Stream {
	fields := []string{"action", "level", "user", "path", "message", "source"}
	types := []streams.RuleType{streams.RuleExact, streams.RuleRegex, streams.RuleGreater, streams.RuleSmaller, streams.RulePresence, streams.RuleContains}

	defs := make([]*streams.Stream, 0, n)
	for i := 0; i < n; i++ {
		mt := streams.MatchAll
		if f.Bool() {
			mt = streams.MatchAny
		}
		s := &streams.Stream{ID: f.UUID(), Title: f.BuzzWord(), MatchingType: mt}
		ruleCount := f.IntRange(0, 4)
		for j := 0; j < ruleCount; j++ {
			rt := types[f.IntRange(0, len(types)-1)]
			value := f.Word()
			switch rt {
			case streams.RuleGreater, streams.RuleSmaller:
				value = f.DigitN(1)
			case streams.RuleRegex:
				value = "^" + f.Letter()
			}
			s.Rules = append(s.Rules, streams.Rule{
				ID:       f.UUID(),
				Field:    fields[f.IntRange(0, len(fields)-1)],
				Type:     rt,
				Value:    value,
				Inverted: f.Bool(),
			})
		}
		defs = append(defs, s)
	}
	return defs
}

func randomMessage(f *gofakeit.Faker) *model.Message {
	return message(map[string]any{
		"action": f.RandomString([]string{"login", "logout", "delete"}),
		"level":  float64(f.IntRange(0, 9)),
		"user":   f.Username(),
		"path":   f.URL(),
	})
}

func TestMatch_IsPure(t *testing.T) {
	f := gofakeit.New(20261016)
	e := build(randomStreams(f, 40)...)
	require.Empty(t, e.Rejected())

	for i := 0; i < 200; i++ {
		msg := randomMessage(f)
		before := msg.Snapshot()

		first := ids(e.Match(msg))
		second := ids(e.Match(msg))

		assert.Equal(t, first, second)
		assert.Equal(t, before, msg.Snapshot(), "match must not modify the message")
	}
}

func TestMatch_ConcurrentReaders(t *testing.T) {
	f := gofakeit.New(7)
	e := build(randomStreams(f, 20)...)
	msgs := make([]*model.Message, 32)
	expected := make([][]string, len(msgs))
	for i := range msgs {
		msgs[i] = randomMessage(f)
		expected[i] = ids(e.Match(msgs[i]))
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i, msg := range msgs {
				assert.Equal(t, expected[i], ids(e.Match(msg)))
			}
		}()
	}
	wg.Wait()
}
