package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/xraph/conduit"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "CONDUIT"

// Load reads configuration from defaults, the optional file at path and
// the environment, in increasing order of precedence, then validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)
	cfg.Tasks.Backoff = strings.ToLower(cfg.Tasks.Backoff)
	cfg.Topics.Codec = strings.ToLower(cfg.Topics.Codec)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against its field rules.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	d := conduit.DefaultConfig()

	v.SetDefault("app.name", "conduit")
	v.SetDefault("app.version", "dev")
	v.SetDefault("app.port", 8080)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("tasks.enabled", d.Tasks.Enabled)
	v.SetDefault("tasks.url", d.Tasks.URL)
	v.SetDefault("tasks.concurrency", d.Tasks.Concurrency)
	v.SetDefault("tasks.queues", d.Tasks.Queues)
	v.SetDefault("tasks.max_attempts", d.Tasks.MaxAttempts)
	v.SetDefault("tasks.poll_interval", d.Tasks.PollInterval)
	v.SetDefault("tasks.enqueue_timeout", d.Tasks.EnqueueTimeout)
	v.SetDefault("tasks.probe_timeout", d.Tasks.ProbeTimeout)
	v.SetDefault("tasks.shutdown_timeout", d.Tasks.ShutdownTimeout)
	v.SetDefault("tasks.backoff", d.Tasks.Backoff)
	v.SetDefault("tasks.backoff_initial", d.Tasks.BackoffInitial)
	v.SetDefault("tasks.backoff_max", d.Tasks.BackoffMax)
	v.SetDefault("tasks.rate_limit", d.Tasks.RateLimit)

	v.SetDefault("topics.enabled", d.Topics.Enabled)
	v.SetDefault("topics.url", d.Topics.URL)
	v.SetDefault("topics.codec", d.Topics.Codec)
	v.SetDefault("topics.publish_timeout", d.Topics.PublishTimeout)
}
