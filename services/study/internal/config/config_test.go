package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"studyai/pkg/queue"
)

const baseYAML = `port: "8080"
databaseURL: postgres://localhost/studyai
minioEndpoint: localhost:9000
minioAccessKey: minio
minioSecretKey: minio123
minioBucket: study-files
jwksURL: http://auth.local/.well-known/jwks.json
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("MAX_UPLOAD_BYTES", "")
	cfg, err := Load(writeConfig(t, baseYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxUploadBytes != 50*1024*1024 {
		t.Fatalf("unexpected max upload: %d", cfg.MaxUploadBytes)
	}
	if len(cfg.AllowedExtensions) != 1 || cfg.AllowedExtensions[0] != ".pdf" {
		t.Fatalf("unexpected extensions: %v", cfg.AllowedExtensions)
	}
	if cfg.IsProduction() {
		t.Fatalf("expected development by default")
	}
	if cfg.DeadLetterStream != queue.DefaultDeadLetterStream {
		t.Fatalf("expected shared dead letter stream, got %q", cfg.DeadLetterStream)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("WEBHOOK_BASE_URL", "http://webhook:8090")
	t.Setenv("WEBHOOK_SECRET", "secret")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("MAX_UPLOAD_BYTES", "1024")
	cfg, err := Load(writeConfig(t, baseYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WebhookBaseURL != "http://webhook:8090" || cfg.WebhookSecret != "secret" {
		t.Fatalf("webhook env not applied: %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
	}
	if cfg.MaxUploadBytes != 1024 {
		t.Fatalf("unexpected max upload: %d", cfg.MaxUploadBytes)
	}
}

func TestValidateConfig(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("JWKS_URL", "")
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"missing jwks", strings.Replace(baseYAML, "jwksURL: http://auth.local/.well-known/jwks.json\n", "", 1), "jwksURL"},
		{"missing port", strings.Replace(baseYAML, `port: "8080"`+"\n", "", 1), "port"},
		{"bad duration", baseYAML + "downloadURLTTL: soon\n", "downloadURLTTL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}
