package task

import "time"

// Options configures how a task is queued and retried.
type Options struct {
	// MaxAttempts bounds executions, the first one included.
	MaxAttempts int

	// Queue is the queue the task is placed on.
	Queue string

	// Delay postpones the first execution.
	Delay time.Duration

	// Timeout bounds a single execution. Zero means no limit.
	Timeout time.Duration
}

// DefaultOptions returns three attempts on the "default" queue.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		Queue:       "default",
	}
}

// Option configures Options.
type Option func(*Options)

// WithMaxAttempts sets the attempt bound. Values below one are ignored.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		if n >= 1 {
			o.MaxAttempts = n
		}
	}
}

// WithQueue sets the queue name.
func WithQueue(q string) Option {
	return func(o *Options) {
		if q != "" {
			o.Queue = q
		}
	}
}

// WithDelay postpones the first execution by d.
func WithDelay(d time.Duration) Option {
	return func(o *Options) { o.Delay = d }
}

// WithTimeout bounds each execution.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}
