package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Bedrock  BedrockConfig  `yaml:"bedrock"`
	SES      SESConfig      `yaml:"ses"`
	Context  ContextConfig  `yaml:"context"`
	Safety   SafetyConfig   `yaml:"safety"`
	Polling  PollingConfig  `yaml:"polling"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the counter-store / pub-sub connection configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// BedrockConfig holds AWS Bedrock configuration for reply generation
type BedrockConfig struct {
	Region  string `yaml:"region"`
	ModelID string `yaml:"model_id"`
	Enabled bool   `yaml:"enabled"`
}

// SESConfig holds AWS SES v2 configuration for outbound sends
type SESConfig struct {
	Region         string `yaml:"region"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	FromAddress    string `yaml:"from_address"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        bool   `yaml:"enabled"`
}

// Timeout returns the configured timeout as a duration
func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ContextConfig holds the agent-facing context directory configuration
type ContextConfig struct {
	Dir string `yaml:"dir"`
}

// SafetyConfig holds send-gate and scheduler thresholds
type SafetyConfig struct {
	HourlySendLimit     int `yaml:"hourly_send_limit"`
	DefaultFollowUpDays int `yaml:"default_follow_up_days"`
	BodyTruncationChars int `yaml:"body_truncation_chars"`
}

// PollingConfig holds background loop intervals
type PollingConfig struct {
	SchedulerIntervalSeconds  int `yaml:"scheduler_interval_seconds"`
	ProjectionIntervalSeconds int `yaml:"projection_interval_seconds"`
}

// SchedulerInterval returns the follow-up scan interval as a duration
func (c PollingConfig) SchedulerInterval() time.Duration {
	return time.Duration(c.SchedulerIntervalSeconds) * time.Second
}

// ProjectionInterval returns the context refresh interval as a duration
func (c PollingConfig) ProjectionInterval() time.Duration {
	return time.Duration(c.ProjectionIntervalSeconds) * time.Second
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Bedrock.Region == "" {
		cfg.Bedrock.Region = "us-east-1"
	}
	if cfg.Bedrock.ModelID == "" {
		cfg.Bedrock.ModelID = "anthropic.claude-3-sonnet-20240229-v1:0"
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-west-2"
	}
	if cfg.SES.TimeoutSeconds == 0 {
		cfg.SES.TimeoutSeconds = 30
	}
	if cfg.Context.Dir == "" {
		cfg.Context.Dir = "context"
	}
	if cfg.Safety.HourlySendLimit == 0 {
		cfg.Safety.HourlySendLimit = 20
	}
	if cfg.Safety.DefaultFollowUpDays == 0 {
		cfg.Safety.DefaultFollowUpDays = 3
	}
	if cfg.Safety.BodyTruncationChars == 0 {
		cfg.Safety.BodyTruncationChars = 10000
	}
	if cfg.Polling.SchedulerIntervalSeconds == 0 {
		cfg.Polling.SchedulerIntervalSeconds = 300
	}
	if cfg.Polling.ProjectionIntervalSeconds == 0 {
		cfg.Polling.ProjectionIntervalSeconds = 600
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		// No config file: run on defaults plus env overrides.
		cfg = &Config{}
		applyDefaults(cfg)
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if addr := os.Getenv("REDIS_URL"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.Bedrock.Region = region
	}
	if model := os.Getenv("BEDROCK_MODEL_ID"); model != "" {
		cfg.Bedrock.ModelID = model
	}
	if accessKey := os.Getenv("AWS_SES_ACCESS_KEY"); accessKey != "" {
		cfg.SES.AccessKey = accessKey
	}
	if secretKey := os.Getenv("AWS_SES_SECRET_KEY"); secretKey != "" {
		cfg.SES.SecretKey = secretKey
	}
	if region := os.Getenv("AWS_SES_REGION"); region != "" {
		cfg.SES.Region = region
	}
	if from := os.Getenv("SES_FROM_ADDRESS"); from != "" {
		cfg.SES.FromAddress = from
	}
	if dir := os.Getenv("CONTEXT_DIR"); dir != "" {
		cfg.Context.Dir = dir
	}
	if v := os.Getenv("HOURLY_SEND_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Safety.HourlySendLimit = n
		}
	}

	return cfg, nil
}
