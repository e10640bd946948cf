// Пакет config — загрузка и валидация конфигурации DoWC
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации DoWC.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	// Таймаут чтения HTTP-сервера (по умолчанию 30s)
	HTTPReadTimeout time.Duration
	// Таймаут записи HTTP-сервера (по умолчанию 60s)
	HTTPWriteTimeout time.Duration
	// Таймаут простоя HTTP-сервера (по умолчанию 120s)
	HTTPIdleTimeout time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown (по умолчанию 10s)
	ShutdownTimeout time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
	// Максимум подключений в пуле pgxpool (по умолчанию 10)
	DBPoolMaxConns int

	// --- JWT / JWKS ---

	// URL JWKS endpoint поставщика токенов
	JWKSUrl string
	// Путь к CA-сертификату для проверки TLS JWKS endpoint (опционально)
	JWKSCACert string
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Ожидаемый issuer JWT (пустой — не проверяется)
	AuthIssuer string
	// Группы, дающие права оператора (force delete, ручной sweep)
	AuthAdminGroups []string
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration

	// --- Documenten API (DRC) ---

	// Базовый URL Documenten API
	DRCUrl string
	// Client ID для ZGW-токена
	DRCClientID string
	// Секрет для подписи ZGW-токена
	DRCClientSecret string
	// Таймаут HTTP-клиента Documenten API
	DRCTimeout time.Duration
	// Путь к CA-сертификату Documenten API (опционально)
	DRCCACert string

	// --- Хранилище ---

	// Корневой каталог blob-хранилища рабочих копий
	DataDir string
	// Секретный ключ: деривация путей пользователей и доступ-токены
	SecretKey string
	// Базовый URL WebDAV-сервера для magic URL
	WebDAVBaseURL string

	// --- Bulk check-in sweep ---

	// Интервал фонового обхода незавершённых write-записей
	SweepInterval time.Duration
	// Максимум параллельных check-in'ов за один обход
	SweepConcurrency int

	// --- Доступ-токены ---

	// Срок жизни доступ-токена документа (в днях)
	TokenTimeoutDays int

	// --- Кэш метаданных документов ---

	// Максимум записей в кэше метаданных
	DocCacheSize int
	// TTL записи кэша метаданных
	DocCacheTTL time.Duration

	// --- Мониторинг зависимостей (topologymetrics) ---

	// Имя группы в метриках dephealth
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration
	// Лейбл isentry=yes для всех зависимостей
	DephealthIsEntry bool
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// DOWC_PORT — порт HTTP-сервера (по умолчанию 8004)
	cfg.Port, err = getEnvInt("DOWC_PORT", 8004)
	if err != nil {
		return nil, fmt.Errorf("DOWC_PORT: %w", err)
	}

	// DOWC_LOG_LEVEL — уровень логирования (по умолчанию info)
	logLevel := getEnvDefault("DOWC_LOG_LEVEL", "info")
	cfg.LogLevel, err = parseLogLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("DOWC_LOG_LEVEL: %w", err)
	}

	// DOWC_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("DOWC_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("DOWC_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("DOWC_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DOWC_HTTP_READ_TIMEOUT: %w", err)
	}

	cfg.HTTPWriteTimeout, err = getEnvDuration("DOWC_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DOWC_HTTP_WRITE_TIMEOUT: %w", err)
	}

	cfg.HTTPIdleTimeout, err = getEnvDuration("DOWC_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DOWC_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("DOWC_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DOWC_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	// DOWC_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("DOWC_DB_HOST")
	if err != nil {
		return nil, err
	}

	cfg.DBPort, err = getEnvInt("DOWC_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("DOWC_DB_PORT: %w", err)
	}

	cfg.DBName = getEnvDefault("DOWC_DB_NAME", "dowc")
	cfg.DBUser = getEnvDefault("DOWC_DB_USER", "dowc")

	// DOWC_DB_PASSWORD — обязательный
	cfg.DBPassword, err = getEnvRequired("DOWC_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// DOWC_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("DOWC_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("DOWC_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	cfg.DBPoolMaxConns, err = getEnvInt("DOWC_DB_POOL_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("DOWC_DB_POOL_MAX_CONNS: %w", err)
	}
	if cfg.DBPoolMaxConns < 1 {
		return nil, fmt.Errorf("DOWC_DB_POOL_MAX_CONNS: значение должно быть положительным, получено %d", cfg.DBPoolMaxConns)
	}

	// --- JWT / JWKS ---

	// DOWC_JWKS_URL — обязательный
	cfg.JWKSUrl, err = getEnvRequired("DOWC_JWKS_URL")
	if err != nil {
		return nil, err
	}

	cfg.JWKSCACert = getEnvDefault("DOWC_JWKS_CA_CERT", "")

	cfg.JWKSClientTimeout, err = getEnvDuration("DOWC_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DOWC_JWKS_CLIENT_TIMEOUT: %w", err)
	}

	cfg.JWKSRefreshInterval, err = getEnvDuration("DOWC_JWKS_REFRESH_INTERVAL", 1*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("DOWC_JWKS_REFRESH_INTERVAL: %w", err)
	}

	// DOWC_AUTH_ISSUER — ожидаемый issuer JWT (опционально)
	cfg.AuthIssuer = getEnvDefault("DOWC_AUTH_ISSUER", "")

	// DOWC_AUTH_ADMIN_GROUPS — группы операторов, через запятую
	cfg.AuthAdminGroups = splitCommaList(getEnvDefault("DOWC_AUTH_ADMIN_GROUPS", "dowc-admins"))

	cfg.JWTLeeway, err = getEnvDuration("DOWC_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DOWC_JWT_LEEWAY: %w", err)
	}

	// --- Documenten API (DRC) ---

	// DOWC_DRC_URL — обязательный
	cfg.DRCUrl, err = getEnvRequired("DOWC_DRC_URL")
	if err != nil {
		return nil, err
	}

	// DOWC_DRC_CLIENT_ID — обязательный
	cfg.DRCClientID, err = getEnvRequired("DOWC_DRC_CLIENT_ID")
	if err != nil {
		return nil, err
	}

	// DOWC_DRC_CLIENT_SECRET — обязательный
	cfg.DRCClientSecret, err = getEnvRequired("DOWC_DRC_CLIENT_SECRET")
	if err != nil {
		return nil, err
	}

	cfg.DRCTimeout, err = getEnvDuration("DOWC_DRC_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DOWC_DRC_TIMEOUT: %w", err)
	}

	cfg.DRCCACert = getEnvDefault("DOWC_DRC_CA_CERT", "")

	// --- Хранилище ---

	cfg.DataDir = getEnvDefault("DOWC_DATA_DIR", "/var/lib/dowc/data")

	// DOWC_SECRET_KEY — обязательный
	cfg.SecretKey, err = getEnvRequired("DOWC_SECRET_KEY")
	if err != nil {
		return nil, err
	}
	if len(cfg.SecretKey) < 16 {
		return nil, fmt.Errorf("DOWC_SECRET_KEY: ключ слишком короткий, минимум 16 символов")
	}

	cfg.WebDAVBaseURL = getEnvDefault("DOWC_WEBDAV_BASE_URL", "")

	// --- Bulk check-in sweep ---

	cfg.SweepInterval, err = getEnvDuration("DOWC_SWEEP_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DOWC_SWEEP_INTERVAL: %w", err)
	}

	cfg.SweepConcurrency, err = getEnvInt("DOWC_SWEEP_CONCURRENCY", 4)
	if err != nil {
		return nil, fmt.Errorf("DOWC_SWEEP_CONCURRENCY: %w", err)
	}
	if cfg.SweepConcurrency < 1 {
		return nil, fmt.Errorf("DOWC_SWEEP_CONCURRENCY: значение должно быть >= 1")
	}

	// --- Доступ-токены ---

	cfg.TokenTimeoutDays, err = getEnvInt("DOWC_TOKEN_TIMEOUT_DAYS", 7)
	if err != nil {
		return nil, fmt.Errorf("DOWC_TOKEN_TIMEOUT_DAYS: %w", err)
	}
	if cfg.TokenTimeoutDays < 1 {
		return nil, fmt.Errorf("DOWC_TOKEN_TIMEOUT_DAYS: значение должно быть >= 1")
	}

	// --- Кэш метаданных документов ---

	cfg.DocCacheSize, err = getEnvInt("DOWC_DOC_CACHE_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("DOWC_DOC_CACHE_SIZE: %w", err)
	}

	cfg.DocCacheTTL, err = getEnvDuration("DOWC_DOC_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DOWC_DOC_CACHE_TTL: %w", err)
	}

	// --- Мониторинг зависимостей ---

	cfg.DephealthGroup = getEnvDefault("DOWC_DEPHEALTH_GROUP", "dowc")

	cfg.DephealthCheckInterval, err = getEnvDuration("DOWC_DEPHEALTH_CHECK_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DOWC_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// DEPHEALTH_ISENTRY — глобальная переменная, без префикса DOWC_
	cfg.DephealthIsEntry = getEnvDefault("DEPHEALTH_ISENTRY", "") == "yes"

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
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

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
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

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
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

// splitCommaList разбирает строку со списком через запятую, игнорируя
// пустые элементы и пробелы вокруг них.
func splitCommaList(val string) []string {
	var result []string
	for _, item := range strings.Split(val, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			result = append(result, item)
		}
	}
	return result
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
