// internal/infrastructure/persistence/postgres/repository/bot_container/repository.go
package bot_container

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"trading-bot-orchestrator/internal/infrastructure/persistence/postgres/models"
	"trading-bot-orchestrator/internal/types"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// BotContainerRepository интерфейс для работы с записями контейнеров
type BotContainerRepository interface {
	// Основные методы
	Create(ctx context.Context, container *models.BotContainer) error
	FindByRecordID(ctx context.Context, recordID string) (*models.BotContainer, error)
	FindActiveByCredential(ctx context.Context, credentialID int) (*models.BotContainer, error)
	ListByStatus(ctx context.Context, statuses ...string) ([]*models.BotContainer, error)

	// Переходы состояния
	UpdateStatus(ctx context.Context, recordID, status string) error
	MarkStarted(ctx context.Context, recordID string, startedAt time.Time) error
	MarkStopped(ctx context.Context, recordID string, stoppedAt time.Time) error
	MarkFailed(ctx context.Context, recordID, lastError string) error
	SetEngineIDs(ctx context.Context, recordID, engineID, containerName string) error
}

// BotContainerRepositoryImpl реализация репозитория контейнеров
type BotContainerRepositoryImpl struct {
	db *sqlx.DB
}

// NewBotContainerRepository создает новый репозиторий контейнеров
func NewBotContainerRepository(db *sqlx.DB) *BotContainerRepositoryImpl {
	return &BotContainerRepositoryImpl{db: db}
}

const selectColumns = `
	id, record_id, user_id, credential_id, container_id, container_name,
	status, last_error, cpu_quota, memory_bytes, created_at, started_at, stopped_at
`

// Create вставляет новую запись контейнера в статусе pending.
// Частичный уникальный индекс по credential_id отбивает гонку
// конкурентных стартов: проигравший получает ErrConflict.
func (r *BotContainerRepositoryImpl) Create(ctx context.Context, container *models.BotContainer) error {
	query := `
    INSERT INTO bot_containers (
        record_id, user_id, credential_id, status, cpu_quota, memory_bytes
    ) VALUES ($1, $2, $3, $4, $5, $6)
    RETURNING id, created_at
    `

	err := r.db.QueryRowContext(
		ctx,
		query,
		container.RecordID,
		container.UserID,
		container.CredentialID,
		container.Status,
		container.CPUQuota,
		container.MemoryBytes,
	).Scan(&container.ID, &container.CreatedAt)

	if err != nil {
		var pqErr *pq.Error
		// 23505 = unique_violation
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return types.ErrConflict.Wrap(err)
		}
		return fmt.Errorf("failed to create bot container: %w", err)
	}

	return nil
}

// FindByRecordID возвращает запись по внутреннему uuid
func (r *BotContainerRepositoryImpl) FindByRecordID(ctx context.Context, recordID string) (*models.BotContainer, error) {
	var container models.BotContainer

	query := `SELECT ` + selectColumns + ` FROM bot_containers WHERE record_id = $1`

	if err := r.db.GetContext(ctx, &container, query, recordID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrNotFound.Wrap(fmt.Errorf("bot container %s", recordID))
		}
		return nil, fmt.Errorf("failed to find bot container: %w", err)
	}

	return &container, nil
}

// FindActiveByCredential возвращает нетерминальную запись для credential.
// ErrNotFound означает, что активного контейнера нет.
func (r *BotContainerRepositoryImpl) FindActiveByCredential(ctx context.Context, credentialID int) (*models.BotContainer, error) {
	var container models.BotContainer

	query := `SELECT ` + selectColumns + `
	FROM bot_containers
	WHERE credential_id = $1 AND status NOT IN ($2, $3)
	LIMIT 1`

	err := r.db.GetContext(ctx, &container, query,
		credentialID, models.StatusStopped, models.StatusFailed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrNotFound.Wrap(fmt.Errorf("active container for credential %d", credentialID))
		}
		return nil, fmt.Errorf("failed to find active container: %w", err)
	}

	return &container, nil
}

// ListByStatus возвращает записи в указанных статусах
func (r *BotContainerRepositoryImpl) ListByStatus(ctx context.Context, statuses ...string) ([]*models.BotContainer, error) {
	var containers []*models.BotContainer

	query := `SELECT ` + selectColumns + `
	FROM bot_containers
	WHERE status = ANY($1)
	ORDER BY created_at`

	if err := r.db.SelectContext(ctx, &containers, query, pq.Array(statuses)); err != nil {
		return nil, fmt.Errorf("failed to list containers by status: %w", err)
	}

	return containers, nil
}

// UpdateStatus записывает новый статус
func (r *BotContainerRepositoryImpl) UpdateStatus(ctx context.Context, recordID, status string) error {
	query := `UPDATE bot_containers SET status = $2 WHERE record_id = $1`
	return r.exec(ctx, query, recordID, status)
}

// MarkStarted переводит запись в running и фиксирует started_at
func (r *BotContainerRepositoryImpl) MarkStarted(ctx context.Context, recordID string, startedAt time.Time) error {
	query := `UPDATE bot_containers SET status = $2, started_at = $3, last_error = '' WHERE record_id = $1`
	return r.exec(ctx, query, recordID, models.StatusRunning, startedAt)
}

// MarkStopped переводит запись в stopped и фиксирует stopped_at
func (r *BotContainerRepositoryImpl) MarkStopped(ctx context.Context, recordID string, stoppedAt time.Time) error {
	query := `UPDATE bot_containers SET status = $2, stopped_at = $3 WHERE record_id = $1`
	return r.exec(ctx, query, recordID, models.StatusStopped, stoppedAt)
}

// MarkFailed переводит запись в failed с текстом ошибки
func (r *BotContainerRepositoryImpl) MarkFailed(ctx context.Context, recordID, lastError string) error {
	query := `UPDATE bot_containers SET status = $2, last_error = $3, stopped_at = NOW() WHERE record_id = $1`
	return r.exec(ctx, query, recordID, models.StatusFailed, lastError)
}

// SetEngineIDs записывает идентификаторы контейнера в движке
func (r *BotContainerRepositoryImpl) SetEngineIDs(ctx context.Context, recordID, engineID, containerName string) error {
	query := `UPDATE bot_containers SET container_id = $2, container_name = $3 WHERE record_id = $1`
	return r.exec(ctx, query, recordID, engineID, containerName)
}

func (r *BotContainerRepositoryImpl) exec(ctx context.Context, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update bot container: %w", err)
	}

	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return types.ErrNotFound.Wrap(fmt.Errorf("bot container %v", args[0]))
	}

	return nil
}
