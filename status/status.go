// Package status defines the lifecycle status shared by envelopes and
// task records, and the table of transitions allowed between them.
//
//	RECEIVED → PROCESSING → COMPLETED
//	RECEIVED → PROCESSING → PARTIALLY
//	RECEIVED → PROCESSING → FAILED
//	RECEIVED → PROCESSING → RETRYING → PROCESSING → ...
//	RECEIVED → CANCELLED
//	RECEIVED → PROCESSING → CANCELLED
//
// COMPLETED, FAILED and CANCELLED are terminal. Any other transition is
// rejected with conduit.ErrInvalidTransition.
package status

import (
	"fmt"
	"strings"

	"github.com/xraph/conduit"
)

// Status is the lifecycle state of a message or task.
type Status string

const (
	// Received is the only initial status.
	Received Status = "RECEIVED"
	// Processing means a handler is running.
	Processing Status = "PROCESSING"
	// Completed means the whole unit succeeded.
	Completed Status = "COMPLETED"
	// Failed means the unit failed and will not be retried.
	Failed Status = "FAILED"
	// Retrying means the unit failed and is waiting for another attempt.
	Retrying Status = "RETRYING"
	// Cancelled means the unit was explicitly cancelled.
	Cancelled Status = "CANCELLED"
	// Partially means only part of a batched payload succeeded.
	Partially Status = "PARTIALLY"
)

// All lists every status in declaration order.
var All = []Status{Received, Processing, Completed, Failed, Retrying, Cancelled, Partially}

var edges = map[Status][]Status{
	Received:   {Processing, Cancelled},
	Processing: {Completed, Partially, Failed, Retrying, Cancelled},
	Retrying:   {Processing},
}

// String implements fmt.Stringer.
func (s Status) String() string { return string(s) }

// Valid reports whether s is one of the seven known values.
func (s Status) Valid() bool {
	for _, v := range All {
		if s == v {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition may leave s.
func (s Status) IsTerminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

// IsInitial reports whether s is the initial status.
func (s Status) IsInitial() bool { return s == Received }

// CanTransition reports whether from → to is in the transition table.
func CanTransition(from, to Status) bool {
	for _, next := range edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Validate returns nil if from → to is allowed, or an error wrapping
// conduit.ErrInvalidTransition.
func Validate(from, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", conduit.ErrInvalidTransition, from, to)
}

// Parse converts s to a Status. Matching is case-insensitive so that
// "Completed" and "COMPLETED" both decode. An empty string yields Received.
func Parse(s string) (Status, error) {
	if s == "" {
		return Received, nil
	}
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("status: unknown value %q", s)
	}
	return st, nil
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	st, err := Parse(string(text))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// ValidPath reports whether path starts at Received and every step is an
// allowed transition.
func ValidPath(path []Status) bool {
	if len(path) == 0 || path[0] != Received {
		return false
	}
	for i := 1; i < len(path); i++ {
		if !CanTransition(path[i-1], path[i]) {
			return false
		}
	}
	return true
}
