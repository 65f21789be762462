// Package catalog loads stream definitions for the routing engine.
package catalog

import (
	"context"
	"fmt"

	"github.com/telhawk-systems/telhawk-router/router/internal/streams"
)

// Catalog returns every enabled stream with its rules attached.
type Catalog interface {
	LoadEnabledStreams(ctx context.Context) ([]*streams.Stream, error)
}

// normalize canonicalises the matching type, stamps rule stream ids and
// drops disabled streams. Duplicate stream ids are an error. An unknown
// matching type is passed through unchanged; the engine rejects that stream
// alone.
func normalize(defs []*streams.Stream) ([]*streams.Stream, error) {
	seen := make(map[string]struct{}, len(defs))
	out := make([]*streams.Stream, 0, len(defs))
	for _, def := range defs {
		if def == nil {
			continue
		}
		if def.ID == "" {
			return nil, fmt.Errorf("stream %q has no id", def.Title)
		}
		if _, dup := seen[def.ID]; dup {
			return nil, fmt.Errorf("duplicate stream id %q", def.ID)
		}
		seen[def.ID] = struct{}{}
		if def.Disabled {
			continue
		}

		s := def.Clone()
		if mt, err := streams.ParseMatchingType(string(def.MatchingType)); err == nil {
			s.MatchingType = mt
		}
		for i := range s.Rules {
			s.Rules[i].StreamID = s.ID
		}
		out = append(out, s)
	}
	return out, nil
}
