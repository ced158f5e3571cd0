package conduit

import "time"

// Config holds the settings consumed by the dispatch core. Loading it from
// the environment is the job of the config package; the core only reads it.
type Config struct {
	// Tasks configures the background task queue.
	Tasks TaskConfig

	// Topics configures the message topic broker.
	Topics TopicConfig
}

// TaskConfig configures the task dispatcher and its worker pool.
type TaskConfig struct {
	// Enabled switches the task queue on. When false every enqueue fails
	// open with ErrBrokerUnavailable.
	Enabled bool

	// URL selects the backing store: memory://, redis://, rediss://,
	// postgres:// or postgresql://.
	URL string

	// Concurrency is the number of workers executing tasks in parallel.
	Concurrency int

	// Queues is the list of queues the workers poll.
	Queues []string

	// MaxAttempts is the total number of executions a task gets before it
	// is marked failed, unless the task overrides it.
	MaxAttempts int

	// PollInterval is how long an idle worker waits before polling again.
	PollInterval time.Duration

	// EnqueueTimeout bounds how long Enqueue waits for the store.
	EnqueueTimeout time.Duration

	// ProbeTimeout bounds the one-time availability check at startup.
	ProbeTimeout time.Duration

	// ShutdownTimeout bounds graceful worker shutdown.
	ShutdownTimeout time.Duration

	// Backoff names the retry delay strategy: none, constant, linear,
	// exponential or jitter.
	Backoff string

	// BackoffInitial is the base retry delay.
	BackoffInitial time.Duration

	// BackoffMax caps the retry delay. Zero means uncapped.
	BackoffMax time.Duration

	// RateLimit caps task starts per second across the pool. Zero
	// disables rate limiting.
	RateLimit float64
}

// TopicConfig configures the topic router.
type TopicConfig struct {
	// Enabled switches message topics on.
	Enabled bool

	// URL selects the pub/sub backend: memory://, redis:// or rediss://.
	URL string

	// Codec selects the wire encoding: json or msgpack.
	Codec string

	// PublishTimeout bounds how long Publish waits for the broker.
	PublishTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults. Both brokers are
// disabled until a URL is supplied.
func DefaultConfig() Config {
	return Config{
		Tasks: TaskConfig{
			Concurrency:     10,
			Queues:          []string{"default"},
			MaxAttempts:     3,
			PollInterval:    500 * time.Millisecond,
			EnqueueTimeout:  5 * time.Second,
			ProbeTimeout:    3 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			Backoff:         "jitter",
			BackoffInitial:  time.Second,
			BackoffMax:      time.Minute,
		},
		Topics: TopicConfig{
			Codec:          "json",
			PublishTimeout: 5 * time.Second,
		},
	}
}
