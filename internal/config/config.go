// Пакет config — загрузка и валидация конфигурации Pipeline Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Pipeline Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (диапазон 8040-8049)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- JWT ---

	// URL JWKS endpoint IdP
	JWTJWKSURL string
	// Путь к CA-сертификату для JWKS endpoint (опционально)
	JWKSCACert string
	// Ожидаемый issuer JWT (пусто — не проверяется)
	JWTIssuer string
	// Допустимое отклонение часов при проверке exp/nbf
	JWTLeeway time.Duration
	// Интервал обновления JWKS
	JWKSRefreshInterval time.Duration
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration

	// --- Сервис извлечения ---

	// Базовый URL сервиса транскрибации и извлечения действий
	ExtractorURL string
	// Bearer token для вызова сервиса (опционально)
	ExtractorToken string
	// Таймаут вызова (ожидание подтверждения приёма, не завершения)
	ExtractorTimeout time.Duration
	// Путь к CA-сертификату для TLS-соединения с сервисом (опционально)
	ExtractorCACert string

	// --- Уведомления ---

	// URL webhook уведомлений наблюдателей (пусто — уведомления отключены)
	NotifyURL string
	// Таймаут доставки уведомления
	NotifyTimeout time.Duration

	// --- Хранилище аудио ---

	// Каталог файлового хранилища аудио (пусто — inline payload)
	AudioDir string
	// Максимальный размер загружаемого файла в байтах
	MaxUploadSize int64

	// --- Опрос и прогресс ---

	// Интервал опроса статуса Meeting
	PollInterval time.Duration
	// Максимальное количество попыток опроса
	PollMaxAttempts int
	// Множитель длительности аудио для оценки времени обработки
	EstimateMultiplier float64
	// Оценка времени обработки, если длительность неизвестна
	EstimateFallback time.Duration
	// Размер кэша сессий прогресса
	ProgressCacheSize int
	// TTL записи в кэше сессий прогресса
	ProgressCacheTTL time.Duration

	// --- Проверка ---

	// Порог уверенности: ниже — действие требует проверки
	ReviewConfidenceThreshold float64

	// --- Dephealth ---

	DephealthCheckInterval time.Duration
	DephealthGroup         string
	// Имя сервиса для dephealth (пусто — "pipeline-module")
	DephealthName string
	// Метка isentry=yes для entry-point сервиса
	DephealthIsEntry bool

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// PM_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("PM_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("PM_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("PM_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// PM_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("PM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("PM_LOG_LEVEL: %w", err)
	}

	// PM_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("PM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("PM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("PM_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PM_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("PM_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PM_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("PM_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PM_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	cfg.DBHost, err = getEnvRequired("PM_DB_HOST")
	if err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("PM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("PM_DB_PORT: %w", err)
	}
	cfg.DBName, err = getEnvRequired("PM_DB_NAME")
	if err != nil {
		return nil, err
	}
	cfg.DBUser, err = getEnvRequired("PM_DB_USER")
	if err != nil {
		return nil, err
	}
	cfg.DBPassword, err = getEnvRequired("PM_DB_PASSWORD")
	if err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("PM_DB_SSL_MODE", "disable")
	switch cfg.DBSSLMode {
	case "disable", "require", "verify-ca", "verify-full":
	default:
		return nil, fmt.Errorf("PM_DB_SSL_MODE: недопустимое значение %q", cfg.DBSSLMode)
	}

	// --- JWT ---

	// PM_JWT_JWKS_URL — обязательный
	cfg.JWTJWKSURL, err = getEnvRequired("PM_JWT_JWKS_URL")
	if err != nil {
		return nil, err
	}
	cfg.JWKSCACert = getEnvDefault("PM_JWKS_CA_CERT", "")
	cfg.JWTIssuer = getEnvDefault("PM_JWT_ISSUER", "")
	cfg.JWTLeeway, err = getEnvDuration("PM_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PM_JWT_LEEWAY: %w", err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDurationPositive("PM_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("PM_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWKSClientTimeout, err = getEnvDurationPositive("PM_JWKS_CLIENT_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PM_JWKS_CLIENT_TIMEOUT: %w", err)
	}

	// --- Сервис извлечения ---

	// PM_EXTRACTOR_URL — обязательный
	cfg.ExtractorURL, err = getEnvRequired("PM_EXTRACTOR_URL")
	if err != nil {
		return nil, err
	}
	if err := validateURL(cfg.ExtractorURL); err != nil {
		return nil, fmt.Errorf("PM_EXTRACTOR_URL: %w", err)
	}
	cfg.ExtractorURL = strings.TrimRight(cfg.ExtractorURL, "/")
	cfg.ExtractorToken = getEnvDefault("PM_EXTRACTOR_TOKEN", "")
	cfg.ExtractorTimeout, err = getEnvDurationPositive("PM_EXTRACTOR_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PM_EXTRACTOR_TIMEOUT: %w", err)
	}
	cfg.ExtractorCACert = getEnvDefault("PM_EXTRACTOR_CA_CERT_PATH", "")

	// --- Уведомления ---

	cfg.NotifyURL = getEnvDefault("PM_NOTIFY_URL", "")
	if cfg.NotifyURL != "" {
		if err := validateURL(cfg.NotifyURL); err != nil {
			return nil, fmt.Errorf("PM_NOTIFY_URL: %w", err)
		}
	}
	cfg.NotifyTimeout, err = getEnvDurationPositive("PM_NOTIFY_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PM_NOTIFY_TIMEOUT: %w", err)
	}

	// --- Хранилище аудио ---

	cfg.AudioDir = getEnvDefault("PM_AUDIO_DIR", "")
	maxUpload, err := getEnvInt("PM_MAX_UPLOAD_SIZE_MB", 200)
	if err != nil {
		return nil, fmt.Errorf("PM_MAX_UPLOAD_SIZE_MB: %w", err)
	}
	if maxUpload <= 0 {
		return nil, fmt.Errorf("PM_MAX_UPLOAD_SIZE_MB: значение должно быть > 0")
	}
	cfg.MaxUploadSize = int64(maxUpload) << 20

	// --- Опрос и прогресс ---

	cfg.PollInterval, err = getEnvDurationPositive("PM_POLL_INTERVAL", 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PM_POLL_INTERVAL: %w", err)
	}
	cfg.PollMaxAttempts, err = getEnvInt("PM_POLL_MAX_ATTEMPTS", 60)
	if err != nil {
		return nil, fmt.Errorf("PM_POLL_MAX_ATTEMPTS: %w", err)
	}
	if cfg.PollMaxAttempts <= 0 {
		return nil, fmt.Errorf("PM_POLL_MAX_ATTEMPTS: значение должно быть > 0")
	}
	cfg.EstimateMultiplier, err = getEnvFloat("PM_ESTIMATE_MULTIPLIER", 0.5)
	if err != nil {
		return nil, fmt.Errorf("PM_ESTIMATE_MULTIPLIER: %w", err)
	}
	if cfg.EstimateMultiplier <= 0 {
		return nil, fmt.Errorf("PM_ESTIMATE_MULTIPLIER: значение должно быть > 0")
	}
	cfg.EstimateFallback, err = getEnvDurationPositive("PM_ESTIMATE_FALLBACK", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PM_ESTIMATE_FALLBACK: %w", err)
	}
	cfg.ProgressCacheSize, err = getEnvInt("PM_PROGRESS_CACHE_SIZE", 10000)
	if err != nil {
		return nil, fmt.Errorf("PM_PROGRESS_CACHE_SIZE: %w", err)
	}
	if cfg.ProgressCacheSize <= 0 {
		return nil, fmt.Errorf("PM_PROGRESS_CACHE_SIZE: значение должно быть > 0")
	}
	cfg.ProgressCacheTTL, err = getEnvDurationPositive("PM_PROGRESS_CACHE_TTL", 30*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("PM_PROGRESS_CACHE_TTL: %w", err)
	}

	// --- Проверка ---

	cfg.ReviewConfidenceThreshold, err = getEnvFloat("PM_REVIEW_CONFIDENCE_THRESHOLD", 0.7)
	if err != nil {
		return nil, fmt.Errorf("PM_REVIEW_CONFIDENCE_THRESHOLD: %w", err)
	}
	if cfg.ReviewConfidenceThreshold < 0 || cfg.ReviewConfidenceThreshold > 1 {
		return nil, fmt.Errorf("PM_REVIEW_CONFIDENCE_THRESHOLD: значение %.2f вне диапазона 0.0-1.0", cfg.ReviewConfidenceThreshold)
	}

	// --- Dephealth ---

	cfg.DephealthCheckInterval, err = getEnvDurationPositive("PM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("PM_DEPHEALTH_GROUP", "smartact")
	cfg.DephealthName = getEnvDefault("DEPHEALTH_NAME", "")
	cfg.DephealthIsEntry, err = getEnvBool("DEPHEALTH_ISENTRY", false)
	if err != nil {
		return nil, fmt.Errorf("DEPHEALTH_ISENTRY: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("PM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PM_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения для golang-migrate (схема pgx5).
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное число: %q", val)
	}
	return f, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvDurationPositive — как getEnvDuration, но значение должно быть > 0.
func getEnvDurationPositive(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// validateURL проверяет, что значение — абсолютный http(s) URL.
func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("некорректный URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("недопустимая схема %q, допустимые: http, https", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("в URL %q отсутствует хост", raw)
	}
	return nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
