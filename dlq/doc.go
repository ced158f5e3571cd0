// Package dlq records tasks that ended FAILED after exhausting their
// attempts, so that a terminal failure is never silently dropped.
//
// The worker calls [Service.Push] when a task's last attempt fails. An
// entry keeps the task's name, arguments, correlation id and final error.
// [Service.Replay] enqueues a fresh task from an entry; the new task keeps
// the original correlation id so its logs join the original request's.
package dlq
