package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	pstrings "beatframe/pkg/platform/strings"
)

// DefaultEnvFile is merged into the environment when present. Variables
// already set in the process environment win.
const DefaultEnvFile = ".env"

// DefaultJWTSigningKey is only accepted when server.environment is development.
const DefaultJWTSigningKey = "dev-secret-key-change-in-production"

// Load reads configuration from the environment with typed defaults.
// Keys map to env names by replacing dots with underscores, so
// backend.url is BACKEND_URL.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if envMap, err := godotenv.Read(envFile); err == nil {
			for k, val := range envMap {
				if _, exists := os.LookupEnv(k); !exists {
					_ = os.Setenv(k, val)
				}
			}
		}
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvs(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Kafka.Brokers = pstrings.DedupeAndTrim(cfg.Kafka.Brokers)
	cfg.Providers.Enabled = pstrings.DedupeAndTrimLower(cfg.Providers.Enabled)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var defaults = map[string]any{
	"server.addr":                ":8080",
	"server.read_header_timeout": 5 * time.Second,
	"server.request_timeout":     30 * time.Second,
	"server.shutdown_timeout":    10 * time.Second,
	"server.admin_token":         "",
	"server.environment":         "development",

	"backend.url":               "http://localhost:8000",
	"backend.timeout":           10 * time.Second,
	"backend.mock_fallback":     true,
	"backend.breaker_failures":  5,
	"backend.breaker_successes": 3,
	"backend.breaker_cooldown":  30 * time.Second,

	"workflow.poll_interval": 5 * time.Second,
	"workflow.max_attempts":  120,

	"queue.capacity":  100,
	"queue.store":     "memory",
	"queue.worker_id": "",
	"queue.heartbeat": 15 * time.Second,
	"queue.retention": 7 * 24 * time.Hour,
	"queue.janitor":   time.Minute,

	"pods.store":             "memory",
	"pods.lease_ttl":         30 * time.Minute,
	"pods.gpu_type":          "NVIDIA RTX A5000",
	"pods.image":             "ollama/ollama:latest",
	"pods.ollama_port":       11434,
	"pods.ready_interval":    5 * time.Second,
	"pods.ready_attempts":    60,
	"pods.default_model":     "llama3",
	"pods.cloud_type":        "SECURE",
	"pods.volume_in_gb":      40,
	"pods.container_disk_gb": 20,
	"pods.pull_timeout":      30 * time.Minute,

	"providers.enabled":           []string{"comfyui", "runpod", "stability"},
	"providers.timeout":           30 * time.Second,
	"providers.comfyui.url":       "http://localhost:8188",
	"providers.runpod.url":        "https://api.runpod.ai",
	"providers.runpod.rest_url":   "https://rest.runpod.io",
	"providers.runpod.api_key":    "",
	"providers.runpod.endpoint":   "",
	"providers.stability.url":     "https://api.stability.ai",
	"providers.stability.api_key": "",

	"redis.url":            "",
	"redis.pool_size":      10,
	"redis.min_idle_conns": 2,
	"redis.dial_timeout":   5 * time.Second,
	"redis.read_timeout":   3 * time.Second,
	"redis.write_timeout":  3 * time.Second,

	"postgres.dsn":               "",
	"postgres.max_open_conns":    10,
	"postgres.max_idle_conns":    2,
	"postgres.conn_max_lifetime": 30 * time.Minute,

	"kafka.brokers":   []string{},
	"kafka.topic":     "beatframe.jobs",
	"kafka.client_id": "beatframe",

	"notify.slack_webhook_url": "",
	"notify.sendgrid_api_key":  "",
	"notify.email_from":        "",
	"notify.email_to":          "",

	"auth.jwt_signing_key": DefaultJWTSigningKey,
	"auth.issuer":          "",
	"auth.audience":        "",

	"ratelimit.submissions": 10,
	"ratelimit.window":      time.Minute,

	"logging.level":  "info",
	"logging.format": "json",
}

func setDefaults(v *viper.Viper) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

func bindEnvs(v *viper.Viper) {
	for k := range defaults {
		_ = v.BindEnv(k)
	}
}
