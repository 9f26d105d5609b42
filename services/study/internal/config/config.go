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

	JWKSURL     string `yaml:"jwksURL"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTAudience string `yaml:"jwtAudience"`
	JWTLeeway   string `yaml:"jwtLeeway"`

	WebhookBaseURL   string `yaml:"webhookBaseURL"`
	WebhookSecret    string `yaml:"webhookSecret"`
	WebhookTimeout   string `yaml:"webhookTimeout"`
	DeadLetterStream string `yaml:"deadLetterStream"`
	DeadLetterMaxLen int64  `yaml:"deadLetterMaxLen"`

	AllowedOrigins    []string `yaml:"allowedOrigins"`
	TrustedProxies    []string `yaml:"trustedProxies"`
	MaxUploadBytes    int64    `yaml:"maxUploadBytes"`
	AllowedExtensions []string `yaml:"allowedExtensions"`
	DownloadURLTTL    string   `yaml:"downloadURLTTL"`
	RealtimeBuffer    int      `yaml:"realtimeBuffer"`
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
	setString(&cfg.JWKSURL, "JWKS_URL")
	setString(&cfg.JWTIssuer, "JWT_ISSUER")
	setString(&cfg.JWTAudience, "JWT_AUDIENCE")
	setString(&cfg.WebhookBaseURL, "WEBHOOK_BASE_URL")
	setString(&cfg.WebhookSecret, "WEBHOOK_SECRET")
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = security.ParseOrigins(v)
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitCSV(v)
	}
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 50 * 1024 * 1024
	}
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = []string{".pdf"}
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
	if cfg.JWKSURL == "" {
		return errors.New("config: jwksURL is required (set in config.yaml or JWKS_URL)")
	}
	if _, err := util.NewTrustedProxies(cfg.TrustedProxies); err != nil {
		return fmt.Errorf("config: trustedProxies: %w", err)
	}
	for name, raw := range map[string]string{
		"jwtLeeway":      cfg.JWTLeeway,
		"webhookTimeout": cfg.WebhookTimeout,
		"downloadURLTTL": cfg.DownloadURLTTL,
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
