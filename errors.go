package conduit

import "errors"

var (
	// Broker errors.
	ErrBrokerUnavailable = errors.New("conduit: broker unavailable")
	ErrStoreClosed       = errors.New("conduit: store closed")

	// Message errors.
	ErrSerialization  = errors.New("conduit: serialization failed")
	ErrDuplicateTopic = errors.New("conduit: topic already has a handler")

	// Handler errors.
	ErrHandler     = errors.New("conduit: handler failed")
	ErrUnknownTask = errors.New("conduit: no handler registered for task")
	ErrCancelled   = errors.New("conduit: cancelled")

	// Not found errors.
	ErrTaskNotFound = errors.New("conduit: task not found")
	ErrDLQNotFound  = errors.New("conduit: dlq entry not found")

	// Conflict errors.
	ErrTaskExists = errors.New("conduit: task already exists")

	// State errors.
	ErrInvalidTransition = errors.New("conduit: invalid state transition")
	ErrRetryExhausted    = errors.New("conduit: retry attempts exhausted")
)
