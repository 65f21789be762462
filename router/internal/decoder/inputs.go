package decoder

import (
	"fmt"
	"sync"
)

// InputResolver confirms that an input id belongs to the local node and
// returns the id to record on the message.
type InputResolver interface {
	ResolveInput(inputID string) (string, error)
}

// InputResolverFunc adapts a function to InputResolver.
type InputResolverFunc func(inputID string) (string, error)

// ResolveInput calls f.
func (f InputResolverFunc) ResolveInput(inputID string) (string, error) {
	return f(inputID)
}

// AnyInput accepts every non-empty input id as is.
var AnyInput InputResolver = InputResolverFunc(func(inputID string) (string, error) {
	if inputID == "" {
		return "", fmt.Errorf("empty input id")
	}
	return inputID, nil
})

// InputSet resolves ids against a fixed set of local inputs.
type InputSet struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewInputSet returns a set holding ids.
func NewInputSet(ids ...string) *InputSet {
	s := &InputSet{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

// Add registers a local input.
func (s *InputSet) Add(id string) {
	s.mu.Lock()
	s.ids[id] = struct{}{}
	s.mu.Unlock()
}

// ResolveInput implements InputResolver.
func (s *InputSet) ResolveInput(inputID string) (string, error) {
	s.mu.RLock()
	_, ok := s.ids[inputID]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("input %q is not running on this node", inputID)
	}
	return inputID, nil
}
