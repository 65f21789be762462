package seeder

import (
	"context"
	"fmt"

	"github.com/telhawk-systems/telhawk-router/router/internal/streams"
)

// SampleStreams returns stream definitions that match the payloads the
// generator produces.
func SampleStreams() []*streams.Stream {
	return []*streams.Stream{
		{
			ID:           "severe",
			Title:        "Severe events",
			Description:  "Syslog level error or worse",
			MatchingType: streams.MatchAll,
			Rules: []streams.Rule{
				{ID: "severe-level", Field: "level", Type: streams.RuleSmaller, Value: "4"},
			},
		},
		{
			ID:           "http-errors",
			Title:        "HTTP server errors",
			MatchingType: streams.MatchAll,
			Rules: []streams.Rule{
				{ID: "http-errors-status", Field: "http_status", Type: streams.RuleGreater, Value: "499"},
			},
		},
		{
			ID:                             "auth",
			Title:                          "Authentication",
			MatchingType:                   streams.MatchAny,
			RemoveMatchesFromDefaultStream: true,
			Rules: []streams.Rule{
				{ID: "auth-facility", Field: "facility", Type: streams.RuleExact, Value: "auth"},
				{ID: "auth-login", Field: "message", Type: streams.RuleRegex, Value: `(?i)\blog(in|on)\b`},
			},
		},
		{
			ID:           "billing",
			Title:        "Billing service",
			MatchingType: streams.MatchAll,
			Rules: []streams.Rule{
				{ID: "billing-service", Field: "service", Type: streams.RuleExact, Value: "billing"},
				{ID: "billing-user", Field: "user", Type: streams.RulePresence},
			},
		},
	}
}

// StreamSaver persists a stream definition at a position.
type StreamSaver interface {
	SaveStream(ctx context.Context, s *streams.Stream, position int) error
}

// SaveStreams writes defs in order and returns how many were saved.
func SaveStreams(ctx context.Context, saver StreamSaver, defs []*streams.Stream) (int, error) {
	for i, s := range defs {
		if err := saver.SaveStream(ctx, s, i); err != nil {
			return i, fmt.Errorf("failed to save stream %s: %w", s.ID, err)
		}
	}
	return len(defs), nil
}
