package agentcore

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the orchestration core. Priority order,
// lowest to highest: struct defaults, environment variables, functional
// options passed to NewConfig.
type Config struct {
	// Concurrency is the fixed worker pool size (spec.md §4.5: N, default 2).
	Concurrency int `yaml:"concurrency" env:"AGENTCORE_CONCURRENCY"`

	// MaxRetries is R in spec.md §4.2 (default 3).
	MaxRetries int `yaml:"max_retries" env:"AGENTCORE_MAX_RETRIES"`

	// RetryBaseDelay is "base" in base*2^(attempt-1) backoff (default 200ms).
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" env:"AGENTCORE_RETRY_BASE_DELAY"`

	// ProviderCooldown is the health cooldown window (spec.md §4.1, default 60s).
	ProviderCooldown time.Duration `yaml:"provider_cooldown" env:"AGENTCORE_PROVIDER_COOLDOWN"`

	// ConsecutiveFailureThreshold marks a provider unhealthy (default 3).
	ConsecutiveFailureThreshold int `yaml:"consecutive_failure_threshold" env:"AGENTCORE_FAILURE_THRESHOLD"`

	// ErrorDecayWindow: an error older than this decays error_count by 1
	// on the next success (spec.md §4.1, default 5m).
	ErrorDecayWindow time.Duration `yaml:"error_decay_window" env:"AGENTCORE_ERROR_DECAY_WINDOW"`

	// ApprovalConfidenceThreshold: confidence strictly below this requires
	// approval (spec.md §8, default 0.7).
	ApprovalConfidenceThreshold float64 `yaml:"approval_confidence_threshold" env:"AGENTCORE_APPROVAL_THRESHOLD"`

	// ApprovalTimeout is how long a worker waits at the Approval Gate
	// before failing the run (spec.md §4.4, default 5m).
	ApprovalTimeout time.Duration `yaml:"approval_timeout" env:"AGENTCORE_APPROVAL_TIMEOUT"`

	// EventBufferSize is the per-subscriber channel buffer in the Event Hub.
	EventBufferSize int `yaml:"event_buffer_size" env:"AGENTCORE_EVENT_BUFFER_SIZE"`

	logger    Logger
	telemetry Telemetry
}

// Option configures a Config.
type Option func(*Config)

// WithConcurrency overrides worker pool size.
func WithConcurrency(n int) Option { return func(c *Config) { c.Concurrency = n } }

// WithMaxRetries overrides R.
func WithMaxRetries(n int) Option { return func(c *Config) { c.MaxRetries = n } }

// WithRetryBaseDelay overrides the backoff base delay.
func WithRetryBaseDelay(d time.Duration) Option { return func(c *Config) { c.RetryBaseDelay = d } }

// WithProviderCooldown overrides the health cooldown window.
func WithProviderCooldown(d time.Duration) Option { return func(c *Config) { c.ProviderCooldown = d } }

// WithApprovalTimeout overrides the approval gate deadline.
func WithApprovalTimeout(d time.Duration) Option { return func(c *Config) { c.ApprovalTimeout = d } }

// WithApprovalConfidenceThreshold overrides the auto-approval cutoff.
func WithApprovalConfidenceThreshold(t float64) Option {
	return func(c *Config) { c.ApprovalConfidenceThreshold = t }
}

// WithLogger injects a Logger; components fetch it via Config.Logger().
func WithLogger(l Logger) Option {
	return func(c *Config) {
		if l == nil {
			return
		}
		c.logger = l
	}
}

// WithTelemetry injects a Telemetry port.
func WithTelemetry(t Telemetry) Option {
	return func(c *Config) {
		if t == nil {
			return
		}
		c.telemetry = t
	}
}

// DefaultConfig returns the spec's defaults.
func DefaultConfig() *Config {
	return &Config{
		Concurrency:                 2,
		MaxRetries:                  3,
		RetryBaseDelay:              200 * time.Millisecond,
		ProviderCooldown:            60 * time.Second,
		ConsecutiveFailureThreshold: 3,
		ErrorDecayWindow:            5 * time.Minute,
		ApprovalConfidenceThreshold: 0.7,
		ApprovalTimeout:             5 * time.Minute,
		EventBufferSize:             64,
		logger:                      &NoOpLogger{},
		telemetry:                   NoOpTelemetry{},
	}
}

// NewConfig builds a Config applying environment variables over the
// defaults, then functional options over that.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()
	applyEnv(cfg)
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Concurrency <= 0 {
		return nil, NewOrchestratorError("NewConfig", "config", "", fmt.Errorf("%w: concurrency must be > 0", ErrInvalidConfiguration))
	}
	if cfg.MaxRetries <= 0 {
		return nil, NewOrchestratorError("NewConfig", "config", "", fmt.Errorf("%w: max_retries must be > 0", ErrInvalidConfiguration))
	}
	if cfg.logger == nil {
		cfg.logger = &NoOpLogger{}
	}
	if cfg.telemetry == nil {
		cfg.telemetry = NoOpTelemetry{}
	}
	return cfg, nil
}

// Logger returns the configured logger (never nil).
func (c *Config) Logger() Logger { return c.logger }

// Telemetry returns the configured telemetry port (never nil).
func (c *Config) Telemetry() Telemetry { return c.telemetry }

func applyEnv(c *Config) {
	if v := os.Getenv("AGENTCORE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Concurrency = n
		}
	}
	if v := os.Getenv("AGENTCORE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxRetries = n
		}
	}
	if v := os.Getenv("AGENTCORE_RETRY_BASE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RetryBaseDelay = d
		}
	}
	if v := os.Getenv("AGENTCORE_PROVIDER_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ProviderCooldown = d
		}
	}
	if v := os.Getenv("AGENTCORE_FAILURE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ConsecutiveFailureThreshold = n
		}
	}
	if v := os.Getenv("AGENTCORE_ERROR_DECAY_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ErrorDecayWindow = d
		}
	}
	if v := os.Getenv("AGENTCORE_APPROVAL_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.ApprovalConfidenceThreshold = f
		}
	}
	if v := os.Getenv("AGENTCORE_APPROVAL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ApprovalTimeout = d
		}
	}
	if v := os.Getenv("AGENTCORE_EVENT_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.EventBufferSize = n
		}
	}
}

// LoadConfigFile loads YAML overrides from path on top of DefaultConfig,
// matching the teacher's choice of YAML for on-disk configuration.
func LoadConfigFile(path string, opts ...Option) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewOrchestratorError("LoadConfigFile", "config", "", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, NewOrchestratorError("LoadConfigFile", "config", "", err)
	}
	applyEnv(cfg)
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = &NoOpLogger{}
	}
	if cfg.telemetry == nil {
		cfg.telemetry = NoOpTelemetry{}
	}
	return cfg, nil
}
