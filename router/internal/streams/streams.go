// Package streams defines stream definitions and their matching rules.
package streams

import (
	"fmt"
	"strconv"
	"strings"
)

// MatchingType decides how rule results combine.
type MatchingType string

const (
	// MatchAll requires every rule to match.
	MatchAll MatchingType = "AND"
	// MatchAny requires at least one rule to match.
	MatchAny MatchingType = "OR"
)

// ParseMatchingType accepts AND/ALL and OR/ANY in any case. Empty means AND.
func ParseMatchingType(s string) (MatchingType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "AND", "ALL":
		return MatchAll, nil
	case "OR", "ANY":
		return MatchAny, nil
	default:
		return "", fmt.Errorf("unknown matching type %q", s)
	}
}

// RuleType is the operator of a rule. Values match the persisted codes.
type RuleType int

const (
	RuleExact    RuleType = 1
	RuleRegex    RuleType = 2
	RuleGreater  RuleType = 3
	RuleSmaller  RuleType = 4
	RulePresence RuleType = 5
	RuleContains RuleType = 6
)

var ruleTypeNames = map[RuleType]string{
	RuleExact:    "exact",
	RuleRegex:    "regex",
	RuleGreater:  "greater",
	RuleSmaller:  "smaller",
	RulePresence: "presence",
	RuleContains: "contains",
}

// String returns the lowercase operator name.
func (t RuleType) String() string {
	if name, ok := ruleTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(t))
}

// Valid reports whether t is a known operator.
func (t RuleType) Valid() bool {
	_, ok := ruleTypeNames[t]
	return ok
}

// ParseRuleType accepts an operator name.
func ParseRuleType(s string) (RuleType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for t, n := range ruleTypeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown rule type %q", s)
}

// MarshalText encodes the operator by name.
func (t RuleType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown rule type %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText accepts an operator name or its numeric code. An unknown
// name decodes to the invalid code 0 so the engine rejects only the stream
// that carries it.
func (t *RuleType) UnmarshalText(b []byte) error {
	if code, err := strconv.Atoi(strings.TrimSpace(string(b))); err == nil {
		*t = RuleType(code)
		return nil
	}
	parsed, err := ParseRuleType(string(b))
	if err != nil {
		*t = 0
		return nil
	}
	*t = parsed
	return nil
}

// Rule is one field predicate of a stream.
type Rule struct {
	ID          string   `json:"id" yaml:"id"`
	StreamID    string   `json:"stream_id,omitempty" yaml:"stream_id,omitempty"`
	Field       string   `json:"field" yaml:"field"`
	Type        RuleType `json:"type" yaml:"type"`
	Value       string   `json:"value,omitempty" yaml:"value,omitempty"`
	Inverted    bool     `json:"inverted,omitempty" yaml:"inverted,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// Stream is a named subscription defined by its rules.
type Stream struct {
	ID                             string       `json:"id" yaml:"id"`
	Title                          string       `json:"title" yaml:"title"`
	Description                    string       `json:"description,omitempty" yaml:"description,omitempty"`
	Disabled                       bool         `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	MatchingType                   MatchingType `json:"matching_type" yaml:"matching_type"`
	Rules                          []Rule       `json:"rules" yaml:"rules"`
	RemoveMatchesFromDefaultStream bool         `json:"remove_matches_from_default_stream,omitempty" yaml:"remove_matches_from_default_stream,omitempty"`
}

// Clone returns a deep copy of s.
func (s *Stream) Clone() *Stream {
	c := *s
	c.Rules = append([]Rule(nil), s.Rules...)
	return &c
}
