package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config holds application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Pods      PodsConfig      `mapstructure:"pods"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	AdminToken        string        `mapstructure:"admin_token"`
	Environment       string        `mapstructure:"environment"`
}

// IsDevelopment reports whether development-only defaults are allowed.
func (s ServerConfig) IsDevelopment() bool {
	return s.Environment == "development"
}

// BackendConfig configures the proxy to the projects/tracks API.
type BackendConfig struct {
	URL              string        `mapstructure:"url"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MockFallback     bool          `mapstructure:"mock_fallback"`
	BreakerFailures  int           `mapstructure:"breaker_failures"`
	BreakerSuccesses int           `mapstructure:"breaker_successes"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
}

type WorkflowConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

type QueueConfig struct {
	Capacity int    `mapstructure:"capacity"`
	Store    string `mapstructure:"store"`
	// WorkerID names this replica on claimed jobs. Empty resolves to the hostname.
	WorkerID  string        `mapstructure:"worker_id"`
	Heartbeat time.Duration `mapstructure:"heartbeat"`
	// Retention bounds how long finished jobs are kept; zero keeps them.
	Retention time.Duration `mapstructure:"retention"`
	Janitor   time.Duration `mapstructure:"janitor"`
}

// PodsConfig describes the single leased Ollama pod.
type PodsConfig struct {
	Store           string        `mapstructure:"store"`
	LeaseTTL        time.Duration `mapstructure:"lease_ttl"`
	GPUType         string        `mapstructure:"gpu_type"`
	Image           string        `mapstructure:"image"`
	OllamaPort      int           `mapstructure:"ollama_port"`
	ReadyInterval   time.Duration `mapstructure:"ready_interval"`
	ReadyAttempts   int           `mapstructure:"ready_attempts"`
	DefaultModel    string        `mapstructure:"default_model"`
	CloudType       string        `mapstructure:"cloud_type"`
	VolumeInGB      int           `mapstructure:"volume_in_gb"`
	ContainerDiskGB int           `mapstructure:"container_disk_gb"`
	PullTimeout     time.Duration `mapstructure:"pull_timeout"`
}

type ProvidersConfig struct {
	Enabled   []string        `mapstructure:"enabled"`
	Timeout   time.Duration   `mapstructure:"timeout"`
	ComfyUI   ComfyUIConfig   `mapstructure:"comfyui"`
	RunPod    RunPodConfig    `mapstructure:"runpod"`
	Stability StabilityConfig `mapstructure:"stability"`
}

type ComfyUIConfig struct {
	URL string `mapstructure:"url"`
}

type RunPodConfig struct {
	URL      string `mapstructure:"url"`
	RESTURL  string `mapstructure:"rest_url"`
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
}

type StabilityConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

// RedisConfig is optional; an empty URL keeps leases in memory.
type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	ClientID string   `mapstructure:"client_id"`
}

type NotifyConfig struct {
	SlackWebhookURL string `mapstructure:"slack_webhook_url"`
	SendGridAPIKey  string `mapstructure:"sendgrid_api_key"`
	EmailFrom       string `mapstructure:"email_from"`
	EmailTo         string `mapstructure:"email_to"`
}

type AuthConfig struct {
	JWTSigningKey string `mapstructure:"jwt_signing_key"`
	Issuer        string `mapstructure:"issuer"`
	Audience      string `mapstructure:"audience"`
}

type RateLimitConfig struct {
	Submissions int           `mapstructure:"submissions"`
	Window      time.Duration `mapstructure:"window"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if err := validateURL("backend.url", c.Backend.URL); err != nil {
		return err
	}
	if c.Backend.Timeout <= 0 {
		return errors.New("backend.timeout must be positive")
	}
	if c.Workflow.PollInterval <= 0 {
		return errors.New("workflow.poll_interval must be positive")
	}
	if c.Workflow.MaxAttempts <= 0 {
		return errors.New("workflow.max_attempts must be positive")
	}
	if c.Queue.Capacity <= 0 {
		return errors.New("queue.capacity must be positive")
	}
	if c.Queue.Heartbeat <= 0 || c.Queue.Janitor <= 0 {
		return errors.New("queue.heartbeat and queue.janitor must be positive")
	}
	if c.Queue.Retention < 0 {
		return errors.New("queue.retention must not be negative")
	}
	if c.Pods.PullTimeout <= 0 {
		return errors.New("pods.pull_timeout must be positive")
	}
	if c.Server.Environment == "" {
		return errors.New("server.environment is required")
	}
	if !c.Server.IsDevelopment() && (c.Auth.JWTSigningKey == "" || c.Auth.JWTSigningKey == DefaultJWTSigningKey) {
		return fmt.Errorf("auth.jwt_signing_key must be set when server.environment is %q", c.Server.Environment)
	}
	if c.Pods.LeaseTTL <= 0 {
		return errors.New("pods.lease_ttl must be positive")
	}
	if c.Pods.ReadyInterval <= 0 || c.Pods.ReadyAttempts <= 0 {
		return errors.New("pods.ready_interval and pods.ready_attempts must be positive")
	}
	if c.Providers.Timeout <= 0 {
		return errors.New("providers.timeout must be positive")
	}
	switch c.Queue.Store {
	case "memory":
	case "postgres":
		if c.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required when queue.store=postgres")
		}
	default:
		return fmt.Errorf("unknown queue.store %q", c.Queue.Store)
	}
	switch c.Pods.Store {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			return errors.New("redis.url is required when pods.store=redis")
		}
	default:
		return fmt.Errorf("unknown pods.store %q", c.Pods.Store)
	}
	if c.RateLimit.Submissions <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("ratelimit.submissions and ratelimit.window must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging.level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown logging.format %q", c.Logging.Format)
	}
	return nil
}

func validateURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", key, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https, got %q", key, raw)
	}
	return nil
}
