package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"studyai/internal/security"
	"studyai/internal/util"
	"studyai/pkg/queue"
)

// ConfigPath is the default config location, overridable with CONFIG_PATH.
var ConfigPath = envOr("CONFIG_PATH", "config.yaml")

const (
	RateLimitBackendRedis = "redis"
	RateLimitBackendStore = "store"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"logLevel"`
	Environment string `yaml:"environment"`
	DatabaseURL string `yaml:"databaseURL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	MinioEndpoint       string `yaml:"minioEndpoint"`
	MinioPublicEndpoint string `yaml:"minioPublicEndpoint"`
	MinioAccessKey      string `yaml:"minioAccessKey"`
	MinioSecretKey      string `yaml:"minioSecretKey"`
	MinioBucket         string `yaml:"minioBucket"`
	MinioUseSSL         bool   `yaml:"minioUseSSL"`

	AMQPURL      string `yaml:"amqpURL"`
	AMQPExchange string `yaml:"amqpExchange"`

	WebhookSecret       string   `yaml:"webhookSecret"`
	WorkflowSecret      string   `yaml:"workflowSecret"`
	ChatWorkflowURL     string   `yaml:"chatWorkflowURL"`
	PDFProcessorURL     string   `yaml:"pdfProcessorURL"`
	FlashcardsURL       string   `yaml:"flashcardsURL"`
	FileUploadNotifyURL string   `yaml:"fileUploadNotifyURL"`
	WorkflowTimeout     string   `yaml:"workflowTimeout"`
	AllowedOrigins      []string `yaml:"allowedOrigins"`
	TrustedProxies      []string `yaml:"trustedProxies"`

	RateLimitBackend  string `yaml:"rateLimitBackend"`
	RateLimitFailOpen *bool  `yaml:"rateLimitFailOpen"`
	ChatRateLimit     int    `yaml:"chatRateLimitPerMinute"`
	UploadRateLimit   int    `yaml:"uploadRateLimitPerMinute"`
	SignedURLTTL      string `yaml:"signedURLTTL"`
	DispatchMaxFlight int64  `yaml:"dispatchMaxInFlight"`
	DispatchTimeout   string `yaml:"dispatchTimeout"`
	DeadLetterStream  string `yaml:"deadLetterStream"`
	DeadLetterMaxLen  int64  `yaml:"deadLetterMaxLen"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString(&cfg.Port, "PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.Environment, "ENVIRONMENT")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	setString(&cfg.MinioEndpoint, "MINIO_ENDPOINT")
	setString(&cfg.MinioPublicEndpoint, "MINIO_PUBLIC_ENDPOINT")
	setString(&cfg.MinioAccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.MinioSecretKey, "MINIO_SECRET_KEY")
	setString(&cfg.MinioBucket, "MINIO_BUCKET")
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	setString(&cfg.AMQPURL, "AMQP_URL")
	setString(&cfg.WebhookSecret, "WEBHOOK_SECRET")
	setString(&cfg.WorkflowSecret, "N8N_WEBHOOK_SECRET")
	setString(&cfg.ChatWorkflowURL, "N8N_CHAT_WEBHOOK_URL")
	setString(&cfg.PDFProcessorURL, "N8N_PDF_PROCESSOR_URL")
	setString(&cfg.FlashcardsURL, "N8N_FLASHCARDS_WEBHOOK_URL")
	setString(&cfg.FileUploadNotifyURL, "N8N_FILE_UPLOAD_WEBHOOK_URL")
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = security.ParseOrigins(v)
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitCSV(v)
	}
	setString(&cfg.RateLimitBackend, "RATE_LIMIT_BACKEND")
	if v := os.Getenv("RATE_LIMIT_FAIL_OPEN"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.RateLimitFailOpen = &b
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.RateLimitBackend == "" {
		cfg.RateLimitBackend = RateLimitBackendRedis
	}
	if cfg.RateLimitFailOpen == nil {
		failOpen := true
		cfg.RateLimitFailOpen = &failOpen
	}
	if cfg.DeadLetterStream == "" {
		cfg.DeadLetterStream = queue.DefaultDeadLetterStream
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.MinioEndpoint == "" || cfg.MinioBucket == "" {
		return errors.New("config: minioEndpoint and minioBucket are required (set in config.yaml)")
	}
	if cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" {
		return errors.New("config: minioAccessKey and minioSecretKey are required (set in config.yaml)")
	}
	switch cfg.RateLimitBackend {
	case RateLimitBackendRedis:
		if cfg.RedisAddr == "" {
			return errors.New("config: redisAddr is required for the redis rate limit backend")
		}
	case RateLimitBackendStore:
	default:
		return fmt.Errorf("config: unknown rateLimitBackend %q", cfg.RateLimitBackend)
	}
	if _, err := util.NewTrustedProxies(cfg.TrustedProxies); err != nil {
		return fmt.Errorf("config: trustedProxies: %w", err)
	}
	for name, raw := range map[string]string{
		"workflowTimeout": cfg.WorkflowTimeout,
		"signedURLTTL":    cfg.SignedURLTTL,
		"dispatchTimeout": cfg.DispatchTimeout,
	} {
		if _, err := ParseDuration(raw); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	return nil
}

// IsProduction reports whether error details must be hidden from callers.
func (c FileConfig) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// FailOpen resolves the rate limit failure policy.
func (c FileConfig) FailOpen() bool {
	return c.RateLimitFailOpen == nil || *c.RateLimitFailOpen
}

// ParseDuration parses a Go duration; empty means zero so callers fall back
// to their defaults.
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return d, nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
