// internal/infrastructure/persistence/postgres/models/bot_containers.go
package models

import (
	"database/sql"
	"time"
)

// Статусы контейнера бота.
// Переходы между статусами выполняет только lifecycle-менеджер,
// единственной функцией перехода (см. internal/core/domain/lifecycle).
const (
	StatusPending  = "pending"
	StatusStarting = "starting"
	StatusRunning  = "running"
	StatusStopping = "stopping"
	StatusStopped  = "stopped"
	StatusFailed   = "failed"
)

// BotContainer - запись о контейнере торгового бота.
// RecordID — внутренний uuid записи, EngineID — идентификатор
// в контейнерном движке (появляется после create).
type BotContainer struct {
	ID           int    `db:"id" json:"-"`
	RecordID     string `db:"record_id" json:"id"`
	UserID       int    `db:"user_id" json:"user_id"`
	CredentialID int    `db:"credential_id" json:"credential_id"`

	EngineID      sql.NullString `db:"container_id" json:"container_id,omitempty"`
	ContainerName sql.NullString `db:"container_name" json:"container_name,omitempty"`

	Status    string `db:"status" json:"status"`
	LastError string `db:"last_error" json:"last_error,omitempty"`

	// Лимиты ресурсов фиксируются при создании и не меняются
	CPUQuota    int64 `db:"cpu_quota" json:"cpu_quota"`
	MemoryBytes int64 `db:"memory_bytes" json:"memory_bytes"`

	CreatedAt time.Time    `db:"created_at" json:"created_at"`
	StartedAt sql.NullTime `db:"started_at" json:"started_at,omitempty"`
	StoppedAt sql.NullTime `db:"stopped_at" json:"stopped_at,omitempty"`
}

// IsTerminal сообщает, находится ли контейнер в терминальном статусе
func (b *BotContainer) IsTerminal() bool {
	return b.Status == StatusStopped || b.Status == StatusFailed
}

// EngineIDString возвращает ID в движке или пустую строку
func (b *BotContainer) EngineIDString() string {
	if b.EngineID.Valid {
		return b.EngineID.String
	}
	return ""
}
