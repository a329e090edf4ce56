// /internal/infrastructure/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ============================================
// КОНФИГУРАЦИЯ БАЗЫ ДАННЫХ
// ============================================

// DatabaseConfig - конфигурация базы данных
type DatabaseConfig struct {
	// Основные параметры подключения
	Host     string `mapstructure:"DB_HOST"`
	Port     int    `mapstructure:"DB_PORT"`
	User     string `mapstructure:"DB_USER"`
	Password string `mapstructure:"DB_PASSWORD"`
	Name     string `mapstructure:"DB_NAME"`
	SSLMode  string `mapstructure:"DB_SSLMODE"`

	// Настройки пула соединений
	MaxOpenConns    int           `mapstructure:"DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `mapstructure:"DB_MAX_IDLE_CONNS"`
	MaxConnLifetime time.Duration `mapstructure:"DB_MAX_CONN_LIFETIME"`
	MaxConnIdleTime time.Duration `mapstructure:"DB_MAX_CONN_IDLE_TIME"`

	// Автоматическое создание схемы при старте
	EnableAutoMigrate bool `mapstructure:"DB_ENABLE_AUTO_MIGRATE"`
}

// RedisConfig конфигурация Redis
type RedisConfig struct {
	Host     string `mapstructure:"REDIS_HOST"`     // localhost
	Port     int    `mapstructure:"REDIS_PORT"`     // 6379
	Password string `mapstructure:"REDIS_PASSWORD"` // пустой или пароль
	DB       int    `mapstructure:"REDIS_DB"`       // 0

	// Включение/отключение кэша статусов
	Enabled bool `mapstructure:"REDIS_ENABLED"`

	// Настройки пула соединений
	PoolSize     int           `mapstructure:"REDIS_POOL_SIZE"`      // 10
	MinIdleConns int           `mapstructure:"REDIS_MIN_IDLE_CONNS"` // 5
	DialTimeout  time.Duration `mapstructure:"REDIS_DIAL_TIMEOUT"`   // 5s
	ReadTimeout  time.Duration `mapstructure:"REDIS_READ_TIMEOUT"`   // 3s
	WriteTimeout time.Duration `mapstructure:"REDIS_WRITE_TIMEOUT"`  // 3s

	// TTL кэша статусов контейнеров
	StatusTTL time.Duration `mapstructure:"REDIS_STATUS_TTL"` // 5m
}

// ============================================
// КОНФИГУРАЦИЯ CONTAINER RUNTIME
// ============================================

// DockerConfig - параметры контейнерного движка и создаваемых контейнеров
type DockerConfig struct {
	// Образ торгового бота
	Image string `mapstructure:"BOT_IMAGE"` // trading-bot:latest

	// Сеть, в которую подключаются контейнеры ботов
	Network string `mapstructure:"BOT_NETWORK"` // trading_bot_network

	// Лимиты ресурсов (фиксируются при создании, далее неизменяемы)
	MemoryBytes int64 `mapstructure:"BOT_MEMORY_BYTES"` // 512 MiB
	CPUQuota    int64 `mapstructure:"BOT_CPU_QUOTA"`    // 50000 (50% одного ядра)

	// Grace period при остановке контейнера
	StopGracePeriod time.Duration `mapstructure:"STOP_GRACE_PERIOD"` // 10s

	// Таймаут одного вызова runtime API
	RequestTimeout time.Duration `mapstructure:"RUNTIME_REQUEST_TIMEOUT"` // 30s
}

// DispatcherConfig - конфигурация диспетчера фоновых операций
type DispatcherConfig struct {
	WorkerCount int           `mapstructure:"DISPATCHER_WORKERS"`     // 4
	QueueSize   int           `mapstructure:"DISPATCHER_QUEUE_SIZE"`  // 256 (на воркера)
	MaxRetries  int           `mapstructure:"DISPATCHER_MAX_RETRIES"` // 3
	RetryDelay  time.Duration `mapstructure:"DISPATCHER_RETRY_DELAY"` // 500ms, растёт x2
}

// HubConfig - конфигурация хаба стриминга логов
type HubConfig struct {
	// Размер буфера одного подписчика (строк); при переполнении
	// старые строки отбрасываются, остальные подписчики не ждут
	SubscriberBuffer int `mapstructure:"HUB_SUBSCRIBER_BUFFER"` // 256

	// Размер кольцевого буфера последних строк на контейнер
	RingSize int `mapstructure:"HUB_RING_SIZE"` // 500

	// Сколько строк истории отдавать при подключении (tail)
	AttachTail int `mapstructure:"HUB_ATTACH_TAIL"` // 50
}

// ReconcilerConfig - конфигурация сверки состояния
type ReconcilerConfig struct {
	// Интервал между проходами сверки
	Interval time.Duration `mapstructure:"RECONCILE_INTERVAL"` // 30s

	// Записи в pending/starting старше этого окна считаются зависшими
	PendingStaleAfter time.Duration `mapstructure:"RECONCILE_PENDING_STALE"` // 5m
}

// EventBusConfig - конфигурация шины событий
type EventBusConfig struct {
	BufferSize  int  `mapstructure:"EVENTBUS_BUFFER_SIZE"`  // 1000
	WorkerCount int  `mapstructure:"EVENTBUS_WORKERS"`      // 4
	EnableLog   bool `mapstructure:"EVENTBUS_ENABLE_LOG"`   // false
}

// HTTPConfig - конфигурация HTTP сервера
type HTTPConfig struct {
	Addr            string        `mapstructure:"HTTP_ADDR"` // :8080
	ReadTimeout     time.Duration `mapstructure:"HTTP_READ_TIMEOUT"`
	WriteTimeout    time.Duration `mapstructure:"HTTP_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `mapstructure:"HTTP_SHUTDOWN_TIMEOUT"`
}

// ============================================
// ОСНОВНАЯ КОНФИГУРАЦИЯ ПРИЛОЖЕНИЯ
// ============================================

// Config - основная структура конфигурации
type Config struct {
	Environment string `mapstructure:"ENVIRONMENT"`
	Version     string `mapstructure:"VERSION"`

	// Ключ шифрования секретов (32 байта для AES-256)
	EncryptionKey string `mapstructure:"ENCRYPTION_KEY"`

	// Логирование
	LogPath  string `mapstructure:"LOG_PATH"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
	Debug    bool   `mapstructure:"DEBUG"`

	Database   DatabaseConfig
	Redis      RedisConfig
	Docker     DockerConfig
	Dispatcher DispatcherConfig
	Hub        HubConfig
	Reconciler ReconcilerConfig
	EventBus   EventBusConfig
	HTTP       HTTPConfig
}

// LoadConfig загружает конфигурацию из .env файла и переменных окружения
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		fmt.Printf("⚠️  Config file not found, using environment variables\n")
	}

	cfg := &Config{}

	// ======================
	// ОСНОВНЫЕ НАСТРОЙКИ
	// ======================
	cfg.Environment = getEnv("ENVIRONMENT", "production")
	cfg.Version = getEnv("VERSION", "1.0.0")
	cfg.EncryptionKey = getEnv("ENCRYPTION_KEY", "")
	cfg.LogPath = getEnv("LOG_PATH", "logs/orchestrator.log")
	cfg.LogLevel = getEnv("LOG_LEVEL", "INFO")
	cfg.Debug = getEnvBool("DEBUG", false)

	// ======================
	// БАЗА ДАННЫХ
	// ======================
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "")
	cfg.Database.Password = getEnv("DB_PASSWORD", "")
	cfg.Database.Name = getEnv("DB_NAME", "")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 25)
	cfg.Database.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 10)
	cfg.Database.MaxConnLifetime = getEnvDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute)
	cfg.Database.MaxConnIdleTime = getEnvDuration("DB_MAX_CONN_IDLE_TIME", 10*time.Minute)
	cfg.Database.EnableAutoMigrate = getEnvBool("DB_ENABLE_AUTO_MIGRATE", true)

	// ======================
	// REDIS
	// ======================
	cfg.Redis.Host = getEnv("REDIS_HOST", "localhost")
	cfg.Redis.Port = getEnvInt("REDIS_PORT", 6379)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)
	cfg.Redis.Enabled = getEnvBool("REDIS_ENABLED", true)
	cfg.Redis.PoolSize = getEnvInt("REDIS_POOL_SIZE", 10)
	cfg.Redis.MinIdleConns = getEnvInt("REDIS_MIN_IDLE_CONNS", 5)
	cfg.Redis.DialTimeout = getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second)
	cfg.Redis.ReadTimeout = getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second)
	cfg.Redis.WriteTimeout = getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second)
	cfg.Redis.StatusTTL = getEnvDuration("REDIS_STATUS_TTL", 5*time.Minute)

	// ======================
	// CONTAINER RUNTIME
	// ======================
	cfg.Docker.Image = getEnv("BOT_IMAGE", "trading-bot:latest")
	cfg.Docker.Network = getEnv("BOT_NETWORK", "trading_bot_network")
	cfg.Docker.MemoryBytes = getEnvInt64("BOT_MEMORY_BYTES", 512*1024*1024)
	cfg.Docker.CPUQuota = getEnvInt64("BOT_CPU_QUOTA", 50000)
	cfg.Docker.StopGracePeriod = getEnvDuration("STOP_GRACE_PERIOD", 10*time.Second)
	cfg.Docker.RequestTimeout = getEnvDuration("RUNTIME_REQUEST_TIMEOUT", 30*time.Second)

	// ======================
	// ДИСПЕТЧЕР
	// ======================
	cfg.Dispatcher.WorkerCount = getEnvInt("DISPATCHER_WORKERS", 4)
	cfg.Dispatcher.QueueSize = getEnvInt("DISPATCHER_QUEUE_SIZE", 256)
	cfg.Dispatcher.MaxRetries = getEnvInt("DISPATCHER_MAX_RETRIES", 3)
	cfg.Dispatcher.RetryDelay = getEnvDuration("DISPATCHER_RETRY_DELAY", 500*time.Millisecond)

	// ======================
	// ХАБ ЛОГОВ
	// ======================
	cfg.Hub.SubscriberBuffer = getEnvInt("HUB_SUBSCRIBER_BUFFER", 256)
	cfg.Hub.RingSize = getEnvInt("HUB_RING_SIZE", 500)
	cfg.Hub.AttachTail = getEnvInt("HUB_ATTACH_TAIL", 50)

	// ======================
	// СВЕРКА СОСТОЯНИЯ
	// ======================
	cfg.Reconciler.Interval = getEnvDuration("RECONCILE_INTERVAL", 30*time.Second)
	cfg.Reconciler.PendingStaleAfter = getEnvDuration("RECONCILE_PENDING_STALE", 5*time.Minute)

	// ======================
	// EVENTBUS
	// ======================
	cfg.EventBus.BufferSize = getEnvInt("EVENTBUS_BUFFER_SIZE", 1000)
	cfg.EventBus.WorkerCount = getEnvInt("EVENTBUS_WORKERS", 4)
	cfg.EventBus.EnableLog = getEnvBool("EVENTBUS_ENABLE_LOG", false)

	// ======================
	// HTTP
	// ======================
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")
	cfg.HTTP.ReadTimeout = getEnvDuration("HTTP_READ_TIMEOUT", 15*time.Second)
	cfg.HTTP.WriteTimeout = getEnvDuration("HTTP_WRITE_TIMEOUT", 15*time.Second)
	cfg.HTTP.ShutdownTimeout = getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate проверяет обязательные поля конфигурации
func (c *Config) validate() error {
	if c.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if len(c.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(c.EncryptionKey))
	}
	if c.Dispatcher.WorkerCount <= 0 {
		return fmt.Errorf("DISPATCHER_WORKERS must be positive")
	}
	if c.Hub.SubscriberBuffer <= 0 {
		return fmt.Errorf("HUB_SUBSCRIBER_BUFFER must be positive")
	}
	if c.Reconciler.Interval <= 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must be positive")
	}
	return nil
}

// GetDatabaseConfig возвращает конфигурацию базы данных
func (c *Config) GetDatabaseConfig() DatabaseConfig {
	return c.Database
}

// GetPostgresDSN формирует DSN строку подключения
func (c *Config) GetPostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// PrintSummary выводит сводку конфигурации (без секретов)
func (c *Config) PrintSummary() {
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("🚀 Trading Bot Orchestrator v%s (%s)\n", c.Version, c.Environment)
	fmt.Printf("   • Postgres: %s:%d/%s\n", c.Database.Host, c.Database.Port, c.Database.Name)
	fmt.Printf("   • Redis: %s:%d (enabled: %v)\n", c.Redis.Host, c.Redis.Port, c.Redis.Enabled)
	fmt.Printf("   • Bot image: %s (net: %s)\n", c.Docker.Image, c.Docker.Network)
	fmt.Printf("   • Reconcile: every %v\n", c.Reconciler.Interval)
	fmt.Printf("   • Dispatcher: %d workers, %d retries\n", c.Dispatcher.WorkerCount, c.Dispatcher.MaxRetries)
	fmt.Println(strings.Repeat("=", 50))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
