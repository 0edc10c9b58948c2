package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config содержит конфигурацию приложения
type Config struct {
	Environment string
	Server      ServerConfig
	Backend     BackendConfig
	Fetch       FetchConfig
	Heatmap     HeatmapConfig
	Session     SessionConfig
	MQTT        MQTTConfig
	Monitoring  MonitoringConfig
}

// ServerConfig конфигурация HTTP сервера
type ServerConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	RateLimit    float64 // запросов в секунду на весь API
	RateBurst    int
}

// BackendConfig конфигурация backend API статистики
type BackendConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	UserAgent      string
	RequestRate    float64 // 0 = без ограничения
}

// FetchConfig конфигурация батчевой загрузки статистики
type FetchConfig struct {
	Concurrency int
	Pause       time.Duration
}

// HeatmapConfig настройки цветовой шкалы и геометрии
type HeatmapConfig struct {
	DistinguishUnknown bool
	EastShiftEnabled   bool
	IndexPrecision     int
}

// SessionConfig конфигурация сессий просмотра карты
type SessionConfig struct {
	IdleTTL     time.Duration
	MaxSessions int
}

// MQTTConfig конфигурация MQTT уведомлений об импорте статистики
type MQTTConfig struct {
	URL      string
	ClientID string
	Username string
	Password string
	Topic    string
}

// Enabled сообщает, настроен ли MQTT
func (c MQTTConfig) Enabled() bool {
	return c.URL != ""
}

// MonitoringConfig конфигурация мониторинга
type MonitoringConfig struct {
	MetricsEnabled bool
}

// Load загружает конфигурацию из .env (если есть) и переменных окружения
func Load() (*Config, error) {
	// .env опционален, переменные окружения имеют приоритет
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Address:      getEnv("SERVER_ADDRESS", ":8091"),
			ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			RateLimit:    getFloat("SERVER_RATE_LIMIT", 100),
			RateBurst:    getInt("SERVER_RATE_BURST", 200),
		},
		Backend: BackendConfig{
			BaseURL:        getEnv("BACKEND_URL", "http://localhost:8080/api"),
			RequestTimeout: getDuration("BACKEND_REQUEST_TIMEOUT", 30*time.Second),
			UserAgent:      getEnv("BACKEND_USER_AGENT", "region-heatmap/1.0"),
			RequestRate:    getFloat("BACKEND_REQUEST_RATE", 0),
		},
		Fetch: FetchConfig{
			Concurrency: getInt("FETCH_CONCURRENCY", 5),
			Pause:       getDuration("FETCH_PAUSE", 300*time.Millisecond),
		},
		Heatmap: HeatmapConfig{
			DistinguishUnknown: getBool("HEATMAP_DISTINGUISH_UNKNOWN", false),
			EastShiftEnabled:   getBool("GEO_EAST_SHIFT_ENABLED", false),
			IndexPrecision:     getInt("GEO_INDEX_PRECISION", 3),
		},
		Session: SessionConfig{
			IdleTTL:     getDuration("SESSION_IDLE_TTL", 30*time.Minute),
			MaxSessions: getInt("SESSION_MAX", 500),
		},
		MQTT: MQTTConfig{
			URL:      getEnv("MQTT_URL", ""),
			ClientID: getEnv("MQTT_CLIENT_ID", "region-heatmap"),
			Username: getEnv("MQTT_USERNAME", ""),
			Password: getEnv("MQTT_PASSWORD", ""),
			Topic:    getEnv("MQTT_TOPIC", "analytics/ingest/completed"),
		},
		Monitoring: MonitoringConfig{
			MetricsEnabled: getBool("METRICS_ENABLED", true),
		},
	}

	// Валидация
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("SERVER_ADDRESS is required")
	}

	if c.Backend.BaseURL == "" {
		return fmt.Errorf("BACKEND_URL is required")
	}
	if _, err := url.ParseRequestURI(c.Backend.BaseURL); err != nil {
		return fmt.Errorf("BACKEND_URL is invalid: %w", err)
	}
	if c.Backend.RequestTimeout <= 0 {
		return fmt.Errorf("BACKEND_REQUEST_TIMEOUT must be positive")
	}

	if c.Fetch.Concurrency <= 0 {
		return fmt.Errorf("FETCH_CONCURRENCY must be positive")
	}
	if c.Fetch.Pause < 0 {
		return fmt.Errorf("FETCH_PAUSE must not be negative")
	}

	if c.Heatmap.IndexPrecision < 1 || c.Heatmap.IndexPrecision > 4 {
		return fmt.Errorf("GEO_INDEX_PRECISION must be between 1 and 4")
	}

	if c.Session.MaxSessions <= 0 {
		return fmt.Errorf("SESSION_MAX must be positive")
	}

	if c.MQTT.Enabled() && c.MQTT.Topic == "" {
		return fmt.Errorf("MQTT_TOPIC is required when MQTT_URL is set")
	}

	return nil
}

// Helper функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// LogLevel возвращает уровень логирования
func LogLevel() string {
	return getEnv("LOG_LEVEL", "info")
}

// LogFormat возвращает формат логирования
func LogFormat() string {
	return getEnv("LOG_FORMAT", "json")
}

// IsProduction проверяет, запущено ли приложение в production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
