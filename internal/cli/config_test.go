package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv(envServerURL, "")
	t.Setenv(envToken, "")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ServerURL != defaultServerURL || cfg.PollInterval.Duration != defaultPollInterval || cfg.MaxAttempts != defaultMaxAttempts {
		t.Errorf("ожидались значения по умолчанию, получено %+v", cfg)
	}
}

func TestLoadConfig_File(t *testing.T) {
	t.Setenv(envServerURL, "")
	t.Setenv(envToken, "")
	path := writeConfig(t, `
server_url = "https://pm.example.com"
token = "file-token"
poll_interval = "500ms"
max_attempts = 10
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ServerURL != "https://pm.example.com" || cfg.Token != "file-token" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.PollInterval.Duration != 500*time.Millisecond || cfg.MaxAttempts != 10 {
		t.Errorf("poll_interval = %s, max_attempts = %d", cfg.PollInterval, cfg.MaxAttempts)
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `server_url = "https://file.example.com"
token = "file-token"`)
	t.Setenv(envServerURL, "http://env.example.com")
	t.Setenv(envToken, "env-token")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ServerURL != "http://env.example.com" || cfg.Token != "env-token" {
		t.Errorf("окружение не переопределило файл: %+v", cfg)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv(envServerURL, "")
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown key", `servr_url = "http://x"`, "неизвестные ключи"},
		{"bad duration", `poll_interval = "soon"`, "чтение"},
		{"bad url", `server_url = "pm.local"`, "server_url"},
		{"zero attempts", `max_attempts = 0`, "max_attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("ожидалась ошибка с %q, получено %v", tt.want, err)
			}
		})
	}
}
