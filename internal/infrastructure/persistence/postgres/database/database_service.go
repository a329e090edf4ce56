// internal/infrastructure/persistence/postgres/database/database_service.go
package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trading-bot-orchestrator/internal/infrastructure/config"
	"trading-bot-orchestrator/pkg/logger"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// DatabaseService сервис для работы с базой данных
type DatabaseService struct {
	config *config.Config
	db     *sqlx.DB
	mu     sync.RWMutex
	state  ServiceState
}

// ServiceState состояние сервиса
type ServiceState string

const (
	StateStopped  ServiceState = "stopped"
	StateStarting ServiceState = "starting"
	StateRunning  ServiceState = "running"
	StateStopping ServiceState = "stopping"
	StateError    ServiceState = "error"
)

// NewDatabaseService создает новый сервис базы данных
func NewDatabaseService(cfg *config.Config) *DatabaseService {
	return &DatabaseService{
		config: cfg,
		state:  StateStopped,
	}
}

// Start запускает сервис базы данных
func (ds *DatabaseService) Start() error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.state == StateRunning {
		return fmt.Errorf("database service already running")
	}

	logger.Info("🔄 Starting database service...")
	ds.state = StateStarting

	dbConfig := ds.config.GetDatabaseConfig()
	dsn := ds.config.GetPostgresDSN()

	logger.Info("📡 Connecting to PostgreSQL: %s:%d/%s",
		dbConfig.Host, dbConfig.Port, dbConfig.Name)

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		ds.state = StateError
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	// Настраиваем пул соединений
	db.SetMaxOpenConns(dbConfig.MaxOpenConns)
	db.SetMaxIdleConns(dbConfig.MaxIdleConns)
	db.SetConnMaxLifetime(dbConfig.MaxConnLifetime)
	db.SetConnMaxIdleTime(dbConfig.MaxConnIdleTime)

	// Проверяем подключение с таймаутом
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		ds.state = StateError
		return fmt.Errorf("failed to ping database: %w", err)
	}

	ds.db = db
	ds.state = StateRunning

	logger.Info("✅ Successfully connected to PostgreSQL")
	logger.Info("   • Host: %s:%d", dbConfig.Host, dbConfig.Port)
	logger.Info("   • Database: %s", dbConfig.Name)
	logger.Info("   • Pool: %d/%d connections",
		dbConfig.MaxIdleConns, dbConfig.MaxOpenConns)

	// Создаем схему если включено
	if dbConfig.EnableAutoMigrate {
		if err := ds.runMigrations(ctx); err != nil {
			db.Close()
			ds.state = StateError
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.Info("✅ Database schema is up to date")
	}

	return nil
}

// Stop останавливает сервис базы данных
func (ds *DatabaseService) Stop() error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.state != StateRunning {
		return fmt.Errorf("database service is not running")
	}

	logger.Info("🛑 Stopping database service...")
	ds.state = StateStopping

	if err := ds.db.Close(); err != nil {
		ds.state = StateError
		return fmt.Errorf("failed to close database connection: %w", err)
	}

	ds.db = nil
	ds.state = StateStopped
	logger.Info("✅ Database service stopped")
	return nil
}

// GetDB возвращает подключение к базе данных
func (ds *DatabaseService) GetDB() *sqlx.DB {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.db
}

// State возвращает текущее состояние сервиса
func (ds *DatabaseService) State() ServiceState {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.state
}

// runMigrations создает схему оркестратора.
// Частичный уникальный индекс дублирует инвариант "один активный
// контейнер на credential" на уровне хранилища.
func (ds *DatabaseService) runMigrations(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id            SERIAL PRIMARY KEY,
			email         VARCHAR(120) UNIQUE NOT NULL,
			username      VARCHAR(80) UNIQUE NOT NULL,
			password_hash VARCHAR(255) NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS credentials (
			id                       SERIAL PRIMARY KEY,
			user_id                  INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			api_key_encrypted        TEXT NOT NULL,
			api_secret_encrypted     TEXT NOT NULL,
			symbol                   VARCHAR(20) NOT NULL DEFAULT 'BTCUSD',
			lot_size                 DOUBLE PRECISION NOT NULL DEFAULT 60.0,
			timeframe                INTEGER NOT NULL DEFAULT 15,
			delta_region             VARCHAR(20) NOT NULL DEFAULT 'india',
			testnet                  BOOLEAN NOT NULL DEFAULT FALSE,
			telegram_token_encrypted TEXT NOT NULL DEFAULT '',
			telegram_chat_id         VARCHAR(50) NOT NULL DEFAULT '',
			created_at               TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS bot_containers (
			id             SERIAL PRIMARY KEY,
			record_id      VARCHAR(36) UNIQUE NOT NULL,
			user_id        INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			credential_id  INTEGER NOT NULL REFERENCES credentials(id) ON DELETE CASCADE,
			container_id   VARCHAR(64),
			container_name VARCHAR(100),
			status         VARCHAR(20) NOT NULL DEFAULT 'pending',
			last_error     TEXT NOT NULL DEFAULT '',
			cpu_quota      BIGINT NOT NULL DEFAULT 0,
			memory_bytes   BIGINT NOT NULL DEFAULT 0,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			started_at     TIMESTAMPTZ,
			stopped_at     TIMESTAMPTZ
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_bot_containers_active_credential
			ON bot_containers(credential_id)
			WHERE status NOT IN ('stopped', 'failed')`,
		`CREATE INDEX IF NOT EXISTS ix_bot_containers_status
			ON bot_containers(status)`,
	}

	for _, stmt := range schema {
		if _, err := ds.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
