package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/telhawk-systems/telhawk-router/router/internal/streams"
)

// maxPatternLength bounds regex rule values.
const maxPatternLength = 500

// predicate evaluates a rule against a field value. It is only called for
// fields that exist.
type predicate func(value any) bool

type compiledRule struct {
	field    string
	inverted bool
	presence bool
	test     predicate
}

func (r *compiledRule) matches(value any, exists bool) bool {
	var result bool
	switch {
	case r.presence:
		result = exists && !blank(value)
	case exists:
		result = r.test(value)
	}
	return result != r.inverted
}

func compileRule(rule streams.Rule) (*compiledRule, error) {
	if strings.TrimSpace(rule.Field) == "" {
		return nil, fmt.Errorf("rule %s has no field", rule.ID)
	}

	cr := &compiledRule{field: rule.Field, inverted: rule.Inverted}

	switch rule.Type {
	case streams.RuleExact:
		want := rule.Value
		cr.test = func(v any) bool { return stringify(v) == want }

	case streams.RuleRegex:
		if len(rule.Value) > maxPatternLength {
			return nil, fmt.Errorf("rule %s: regex pattern too long (max %d chars)", rule.ID, maxPatternLength)
		}
		re, err := regexp.Compile(rule.Value)
		if err != nil {
			return nil, fmt.Errorf("rule %s: invalid regex pattern %q: %w", rule.ID, rule.Value, err)
		}
		cr.test = func(v any) bool { return re.MatchString(stringify(v)) }

	case streams.RuleGreater, streams.RuleSmaller:
		bound, err := strconv.ParseFloat(strings.TrimSpace(rule.Value), 64)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %s needs a numeric value, got %q", rule.ID, rule.Type, rule.Value)
		}
		greater := rule.Type == streams.RuleGreater
		cr.test = func(v any) bool {
			n, ok := number(v)
			if !ok {
				return false
			}
			if greater {
				return n > bound
			}
			return n < bound
		}

	case streams.RulePresence:
		cr.presence = true

	case streams.RuleContains:
		want := rule.Value
		cr.test = func(v any) bool { return strings.Contains(stringify(v), want) }

	default:
		return nil, fmt.Errorf("rule %s: unknown rule type %d", rule.ID, int(rule.Type))
	}

	return cr, nil
}

// stringify renders a field value for text comparisons.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

// number converts numeric field values and numeric strings.
func number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// blank reports values that count as absent for presence rules.
func blank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	default:
		return false
	}
}
