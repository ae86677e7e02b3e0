package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

const DefaultPolicyDir = "/etc/palm/audiod"

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	// Bus is the websocket channel used for subscriptions.
	Bus struct {
		Path         string        `yaml:"path"`
		PingInterval time.Duration `yaml:"ping_interval"`
		PongTimeout  time.Duration `yaml:"pong_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		SendBuffer   int           `yaml:"send_buffer"`
	} `yaml:"bus"`

	Policy struct {
		SinkConfigPath   string `yaml:"sink_config_path"`
		SourceConfigPath string `yaml:"source_config_path"`
		QueueSize        int    `yaml:"queue_size"`
	} `yaml:"policy"`

	Mixer struct {
		Transport        string        `yaml:"transport"` // memory | nats
		NATSURL          string        `yaml:"nats_url"`
		SubjectPrefix    string        `yaml:"subject_prefix"`
		ConnectAttempts  int           `yaml:"connect_attempts"`
		ConnectRetryWait time.Duration `yaml:"connect_retry_wait"`
		// Consecutive command failures that open a backend's breaker; 0 disables it.
		BreakerFailures  int           `yaml:"breaker_failures"`
		BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
	} `yaml:"mixer"`

	Monitoring struct {
		PrometheusEnabled   bool          `yaml:"prometheus_enabled"`
		HealthCheckInterval time.Duration `yaml:"health_check_interval"`
		HealthCheckTimeout  time.Duration `yaml:"health_check_timeout"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	// Redis mirrors status notifications for other processes.
	Redis struct {
		Enabled       bool   `yaml:"enabled"`
		Address       string `yaml:"address"`
		Password      string `yaml:"password"`
		DB            int    `yaml:"db"`
		PoolSize      int    `yaml:"pool_size"`
		Channel       string `yaml:"channel"`
		PublishBuffer int    `yaml:"publish_buffer"`
	} `yaml:"redis"`

	Auth struct {
		Enabled   bool          `yaml:"enabled"`
		JWTSecret string        `yaml:"jwt_secret"`
		TokenTTL  time.Duration `yaml:"token_ttl"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		WebSocket struct {
			MessagesPerSecond   float64 `yaml:"messages_per_second"`
			Burst               int     `yaml:"burst"`
			MaxConcurrent       int     `yaml:"max_concurrent_connections"`
			MaxMessageSizeBytes int64   `yaml:"max_message_size_bytes"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Bus
	if c.Bus.Path == "" {
		return fmt.Errorf("bus.path must not be empty")
	}
	if c.Bus.PingInterval <= 0 {
		return fmt.Errorf("bus.ping_interval must be > 0")
	}
	if c.Bus.PongTimeout <= c.Bus.PingInterval {
		return fmt.Errorf("bus.pong_timeout must be > bus.ping_interval")
	}
	if c.Bus.WriteTimeout <= 0 {
		return fmt.Errorf("bus.write_timeout must be > 0")
	}
	if c.Bus.SendBuffer <= 0 {
		return fmt.Errorf("bus.send_buffer must be > 0")
	}

	// Policy
	if c.Policy.SinkConfigPath == "" {
		return fmt.Errorf("policy.sink_config_path must not be empty")
	}
	if c.Policy.SourceConfigPath == "" {
		return fmt.Errorf("policy.source_config_path must not be empty")
	}
	if c.Policy.QueueSize <= 0 {
		return fmt.Errorf("policy.queue_size must be > 0")
	}

	// Mixer
	switch c.Mixer.Transport {
	case "memory":
	case "nats":
		if c.Mixer.NATSURL == "" {
			return fmt.Errorf("mixer.nats_url must not be empty when mixer.transport=nats")
		}
		if c.Mixer.ConnectAttempts <= 0 {
			return fmt.Errorf("mixer.connect_attempts must be > 0 when mixer.transport=nats")
		}
	default:
		return fmt.Errorf("mixer.transport must be one of memory, nats (got %q)", c.Mixer.Transport)
	}
	if c.Mixer.SubjectPrefix == "" {
		return fmt.Errorf("mixer.subject_prefix must not be empty")
	}
	if c.Mixer.BreakerFailures < 0 {
		return fmt.Errorf("mixer.breaker_failures must be >= 0")
	}
	if c.Mixer.BreakerFailures > 0 && c.Mixer.BreakerCooldown <= 0 {
		return fmt.Errorf("mixer.breaker_cooldown must be > 0 when mixer.breaker_failures > 0")
	}

	// Monitoring
	if c.Monitoring.HealthCheckInterval <= 0 {
		return fmt.Errorf("monitoring.health_check_interval must be > 0")
	}
	if c.Monitoring.HealthCheckTimeout <= 0 {
		return fmt.Errorf("monitoring.health_check_timeout must be > 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
		if c.Redis.Channel == "" {
			return fmt.Errorf("redis.channel must not be empty when redis.enabled=true")
		}
		if c.Redis.PublishBuffer <= 0 {
			return fmt.Errorf("redis.publish_buffer must be > 0 when redis.enabled=true")
		}
	}

	// Auth
	if c.Auth.Enabled {
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret must not be empty when auth.enabled=true")
		}
		if c.Auth.TokenTTL <= 0 {
			return fmt.Errorf("auth.token_ttl must be > 0 when auth.enabled=true")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_concurrent_connections must be >= 0 when rate limiting is enabled")
		}
	}
	if c.RateLimiting.WebSocket.MaxMessageSizeBytes < 0 {
		return fmt.Errorf("rate_limiting.websocket.max_message_size_bytes must be >= 0")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0,1]")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 15 * time.Second

	cfg.Bus.Path = "/ws"
	cfg.Bus.PingInterval = 30 * time.Second
	cfg.Bus.PongTimeout = 60 * time.Second
	cfg.Bus.WriteTimeout = 10 * time.Second
	cfg.Bus.SendBuffer = 64

	cfg.Policy.SinkConfigPath = filepath.Join(DefaultPolicyDir, "audiod_sink_volume_policy_config.json")
	cfg.Policy.SourceConfigPath = filepath.Join(DefaultPolicyDir, "audiod_source_volume_policy_config.json")
	cfg.Policy.QueueSize = 64

	cfg.Mixer.Transport = "memory"
	cfg.Mixer.NATSURL = "nats://localhost:4222"
	cfg.Mixer.SubjectPrefix = "audiod.mixer"
	cfg.Mixer.ConnectAttempts = 5
	cfg.Mixer.ConnectRetryWait = 2 * time.Second
	cfg.Mixer.BreakerFailures = 5
	cfg.Mixer.BreakerCooldown = 10 * time.Second

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.HealthCheckInterval = 30 * time.Second
	cfg.Monitoring.HealthCheckTimeout = 5 * time.Second

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.Channel = "audiod:events"
	cfg.Redis.PublishBuffer = 256

	cfg.Auth.Enabled = false
	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.TokenTTL = time.Hour

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 100
	cfg.RateLimiting.WebSocket.Burst = 200
	cfg.RateLimiting.WebSocket.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 64 * 1024

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "audiod"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("AUDIOD_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("AUDIOD_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if dir := os.Getenv("AUDIOD_POLICY_DIR"); dir != "" {
		c.Policy.SinkConfigPath = filepath.Join(dir, "audiod_sink_volume_policy_config.json")
		c.Policy.SourceConfigPath = filepath.Join(dir, "audiod_source_volume_policy_config.json")
	}
	if transport := os.Getenv("AUDIOD_MIXER_TRANSPORT"); transport != "" {
		c.Mixer.Transport = transport
	}
	if url := os.Getenv("AUDIOD_NATS_URL"); url != "" {
		c.Mixer.NATSURL = url
	}
	if addr := os.Getenv("AUDIOD_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
	if secret := os.Getenv("AUDIOD_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if v := os.Getenv("AUDIOD_AUTH_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Auth.Enabled = enabled
		}
	}
}
