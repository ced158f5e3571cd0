// Package task defines deferred work: the Record a store persists, the
// handlers that execute it, and the Store contract backends implement.
//
// A task is enqueued by name with named arguments and a correlation id:
//
//	rec := task.NewRecord("ping", task.Args{"message": "abc"}, "abc")
//
// Handlers are registered by name, either type-erased with Register or
// typed with RegisterDefinition:
//
//	def := task.NewDefinition("ping", func(ctx context.Context, p PingArgs) error {
//		return nil
//	}, task.WithMaxAttempts(3))
//	task.RegisterDefinition(reg, def)
//
// A Record's State is a status.Status restricted to the task lifecycle
// (RECEIVED, PROCESSING, RETRYING, COMPLETED, FAILED, CANCELLED). Every
// change goes through Record.Transition, which enforces the status table
// and appends to History.
package task
