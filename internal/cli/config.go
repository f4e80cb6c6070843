package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Значения конфигурации CLI по умолчанию.
const (
	defaultServerURL    = "http://localhost:8040"
	defaultPollInterval = 2 * time.Second
	defaultMaxAttempts  = 60
	defaultTimeout      = 30 * time.Second
)

// Переменные окружения, переопределяющие файл конфигурации.
const (
	envServerURL = "SMARTACT_SERVER_URL"
	envToken     = "SMARTACT_TOKEN"
)

// duration — time.Duration в TOML-строке ("2s", "1m30s").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config — конфигурация CLI smartact.
type Config struct {
	ServerURL    string   `toml:"server_url"`
	Token        string   `toml:"token"`
	PollInterval duration `toml:"poll_interval"`
	MaxAttempts  int      `toml:"max_attempts"`
	Timeout      duration `toml:"timeout"`
}

// DefaultConfigPath возвращает ~/.config/smartact/config.toml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "smartact", "config.toml")
	}
	return filepath.Join(home, ".config", "smartact", "config.toml")
}

// LoadConfig читает файл конфигурации (отсутствие файла не ошибка)
// и применяет переопределения из окружения.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		ServerURL:    defaultServerURL,
		PollInterval: duration{defaultPollInterval},
		MaxAttempts:  defaultMaxAttempts,
		Timeout:      duration{defaultTimeout},
	}

	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("чтение %s: %w", path, err)
		default:
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				keys := make([]string, 0, len(undecoded))
				for _, k := range undecoded {
					keys = append(keys, k.String())
				}
				return nil, fmt.Errorf("%s: неизвестные ключи: %s", path, strings.Join(keys, ", "))
			}
		}
	}

	if v := os.Getenv(envServerURL); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv(envToken); v != "" {
		cfg.Token = v
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if !strings.HasPrefix(c.ServerURL, "http://") && !strings.HasPrefix(c.ServerURL, "https://") {
		return fmt.Errorf("server_url: ожидается http(s) URL, получено %q", c.ServerURL)
	}
	if c.PollInterval.Duration <= 0 {
		return fmt.Errorf("poll_interval: значение должно быть положительным")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts: значение должно быть >= 1, получено %d", c.MaxAttempts)
	}
	if c.Timeout.Duration <= 0 {
		return fmt.Errorf("timeout: значение должно быть положительным")
	}
	return nil
}
