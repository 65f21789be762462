// Package faults classifies the errors raised while decoding and routing.
package faults

import (
	"errors"
	"fmt"
)

// Class groups faults by how the pipeline reacts to them.
type Class int

const (
	// Configuration faults skip the affected message or stream.
	Configuration Class = iota + 1
	// Decode faults are isolated to the message that raised them.
	Decode
	// Integrity faults reject a single message loudly.
	Integrity
	// Rebuild faults keep the previous routing engine in place.
	Rebuild
	// Startup faults abort the process.
	Startup
)

// String returns the string representation of Class
func (c Class) String() string {
	switch c {
	case Configuration:
		return "configuration"
	case Decode:
		return "decode"
	case Integrity:
		return "integrity"
	case Rebuild:
		return "rebuild"
	case Startup:
		return "startup"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	ErrCodecNotFound       = errors.New("codec not found")
	ErrDuplicateProvenance = errors.New("duplicate source node role")
	ErrNotInitialized      = errors.New("routing engine not initialized")
	ErrRuleCompile         = errors.New("rule cannot be compiled")
)

// Fault wraps an error with its class and the operation that raised it.
type Fault struct {
	Class Class
	Op    string
	Err   error
}

// Error implements the error interface
func (f *Fault) Error() string {
	if f.Op == "" {
		return fmt.Sprintf("%s fault: %v", f.Class, f.Err)
	}
	return fmt.Sprintf("%s fault in %s: %v", f.Class, f.Op, f.Err)
}

// Unwrap returns the underlying error
func (f *Fault) Unwrap() error {
	return f.Err
}

// New wraps err in a Fault. A nil err yields nil.
func New(class Class, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Fault{Class: class, Op: op, Err: err}
}

// Newf formats a message into a Fault.
func Newf(class Class, op, format string, args ...any) error {
	return &Fault{Class: class, Op: op, Err: fmt.Errorf(format, args...)}
}

// ClassOf returns the class of the outermost Fault in err's chain.
func ClassOf(err error) (Class, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f.Class, true
	}
	return 0, false
}

// IsClass reports whether err carries a Fault of the given class.
func IsClass(err error, class Class) bool {
	c, ok := ClassOf(err)
	return ok && c == class
}
