package status

import "sync"

// Tracker holds a current status and the ordered history of every status
// it has held. It is safe for concurrent use; a rejected transition leaves
// the current status unchanged.
type Tracker struct {
	mu      sync.Mutex
	history []Status
}

// NewTracker returns a Tracker at Received.
func NewTracker() *Tracker {
	return &Tracker{history: []Status{Received}}
}

// Current returns the current status.
func (t *Tracker) Current() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.history[len(t.history)-1]
}

// Transition moves to next if the table allows it.
func (t *Tracker) Transition(next Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := Validate(t.history[len(t.history)-1], next); err != nil {
		return err
	}
	t.history = append(t.history, next)
	return nil
}

// History returns a copy of every status held, oldest first.
func (t *Tracker) History() []Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Status, len(t.history))
	copy(out, t.history)
	return out
}
