package streams

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseMatchingType(t *testing.T) {
	tests := []struct {
		in       string
		expected MatchingType
		wantErr  bool
	}{
		{in: "", expected: MatchAll},
		{in: "and", expected: MatchAll},
		{in: "ALL", expected: MatchAll},
		{in: "OR", expected: MatchAny},
		{in: " any ", expected: MatchAny},
		{in: "xor", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMatchingType(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestRuleType_Text(t *testing.T) {
	tests := []struct {
		in       string
		expected RuleType
	}{
		{in: "exact", expected: RuleExact},
		{in: "Regex", expected: RuleRegex},
		{in: "3", expected: RuleGreater},
		{in: "presence", expected: RulePresence},
		{in: "contains", expected: RuleContains},
		{in: "like", expected: RuleType(0)},
		{in: "regexp", expected: RuleType(0)},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var rt RuleType
			require.NoError(t, rt.UnmarshalText([]byte(tt.in)))
			assert.Equal(t, tt.expected, rt)
			assert.Equal(t, tt.expected != 0, rt.Valid())
		})
	}

	_, err := RuleType(42).MarshalText()
	assert.Error(t, err)
	assert.Equal(t, "unknown(42)", RuleType(42).String())
}

func TestStream_YAML(t *testing.T) {
	doc := `
id: s1
title: Auth failures
matching_type: OR
rules:
  - id: r1
    field: action
    type: exact
    value: login_failed
  - id: r2
    field: level
    type: 3
    value: "4"
    inverted: true
`
	var s Stream
	require.NoError(t, yaml.Unmarshal([]byte(doc), &s))

	assert.Equal(t, MatchAny, s.MatchingType)
	require.Len(t, s.Rules, 2)
	assert.Equal(t, RuleExact, s.Rules[0].Type)
	assert.Equal(t, RuleGreater, s.Rules[1].Type)
	assert.True(t, s.Rules[1].Inverted)
}

func TestStream_JSONUsesNames(t *testing.T) {
	b, err := json.Marshal(Rule{ID: "r1", Field: "x", Type: RulePresence})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"r1","field":"x","type":"presence"}`, string(b))
}

func TestStream_Clone(t *testing.T) {
	s := &Stream{ID: "s1", Rules: []Rule{{ID: "r1", Field: "x", Type: RuleExact, Value: "5"}}}
	c := s.Clone()
	c.Rules[0].Value = "6"
	c.Title = "changed"

	assert.Equal(t, "5", s.Rules[0].Value)
	assert.Empty(t, s.Title)
}
