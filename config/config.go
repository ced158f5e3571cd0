// Package config loads conduit settings from the environment and an
// optional config file. Environment variables use the CONDUIT_ prefix with
// underscores for nesting, e.g. CONDUIT_TASKS_URL or
// CONDUIT_LOG_LEVEL.
package config

import (
	"time"

	"github.com/xraph/conduit"
)

// Config holds all process configuration.
type Config struct {
	App    AppConfig    `mapstructure:"app" validate:"required"`
	Log    LogConfig    `mapstructure:"log" validate:"required"`
	Tasks  TasksConfig  `mapstructure:"tasks" validate:"required"`
	Topics TopicsConfig `mapstructure:"topics" validate:"required"`
}

// AppConfig identifies the service and its HTTP listener.
type AppConfig struct {
	Name    string `mapstructure:"name" validate:"required"`
	Version string `mapstructure:"version" validate:"required"`
	Port    int    `mapstructure:"port" validate:"gt=0,lt=65536"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// TasksConfig configures the task queue.
type TasksConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	URL             string        `mapstructure:"url" validate:"required_if=Enabled true"`
	Concurrency     int           `mapstructure:"concurrency" validate:"gt=0"`
	Queues          []string      `mapstructure:"queues" validate:"min=1,dive,required"`
	MaxAttempts     int           `mapstructure:"max_attempts" validate:"gt=0"`
	PollInterval    time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	EnqueueTimeout  time.Duration `mapstructure:"enqueue_timeout" validate:"gt=0"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	Backoff         string        `mapstructure:"backoff" validate:"oneof=none constant linear exponential jitter"`
	BackoffInitial  time.Duration `mapstructure:"backoff_initial" validate:"gte=0"`
	BackoffMax      time.Duration `mapstructure:"backoff_max" validate:"gte=0"`
	RateLimit       float64       `mapstructure:"rate_limit" validate:"gte=0"`
}

// TopicsConfig configures the topic router.
type TopicsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url" validate:"required_if=Enabled true"`
	Codec          string        `mapstructure:"codec" validate:"oneof=json msgpack"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout" validate:"gt=0"`
}

// Core returns the settings the dispatch core consumes.
func (c *Config) Core() conduit.Config {
	return conduit.Config{
		Tasks: conduit.TaskConfig{
			Enabled:         c.Tasks.Enabled,
			URL:             c.Tasks.URL,
			Concurrency:     c.Tasks.Concurrency,
			Queues:          append([]string(nil), c.Tasks.Queues...),
			MaxAttempts:     c.Tasks.MaxAttempts,
			PollInterval:    c.Tasks.PollInterval,
			EnqueueTimeout:  c.Tasks.EnqueueTimeout,
			ProbeTimeout:    c.Tasks.ProbeTimeout,
			ShutdownTimeout: c.Tasks.ShutdownTimeout,
			Backoff:         c.Tasks.Backoff,
			BackoffInitial:  c.Tasks.BackoffInitial,
			BackoffMax:      c.Tasks.BackoffMax,
			RateLimit:       c.Tasks.RateLimit,
		},
		Topics: conduit.TopicConfig{
			Enabled:        c.Topics.Enabled,
			URL:            c.Topics.URL,
			Codec:          c.Topics.Codec,
			PublishTimeout: c.Topics.PublishTimeout,
		},
	}
}
