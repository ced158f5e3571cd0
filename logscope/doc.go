// Package logscope tags log records with the correlation identifier of the
// unit of work that emitted them.
//
// A scope is entered for an identifier and exited when the unit of work
// ends. Records logged through the scope's context carry a
// "correlation_id" attribute; records logged outside any scope carry none.
// Because the identifier travels in the context, and not in shared logger
// state, concurrently running scopes never observe each other's identifier.
//
// Two execution adapters share one contract: Blocking runs the unit of work
// on the calling goroutine, Suspending runs it on a goroutine of its own.
// Both exit the scope on every path out of the unit of work.
package logscope
