// internal/infrastructure/persistence/postgres/repository/credential/repository.go
package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"trading-bot-orchestrator/internal/infrastructure/persistence/postgres/models"
	"trading-bot-orchestrator/internal/types"

	"github.com/jmoiron/sqlx"
)

// CredentialRepository интерфейс для чтения учётных данных.
// Создание/редактирование/удаление — во внешнем веб-слое;
// оркестратор читает запись при спавне контейнера.
type CredentialRepository interface {
	FindByID(ctx context.Context, id int) (*models.Credential, error)
	FindByIDForUser(ctx context.Context, id, userID int) (*models.Credential, error)
}

// CredentialRepositoryImpl реализация репозитория учётных данных
type CredentialRepositoryImpl struct {
	db *sqlx.DB
}

// NewCredentialRepository создает новый репозиторий учётных данных
func NewCredentialRepository(db *sqlx.DB) *CredentialRepositoryImpl {
	return &CredentialRepositoryImpl{db: db}
}

const selectColumns = `
	id, user_id, api_key_encrypted, api_secret_encrypted,
	symbol, lot_size, timeframe, delta_region, testnet,
	telegram_token_encrypted, telegram_chat_id, created_at
`

// FindByID возвращает учётные данные по ID
func (r *CredentialRepositoryImpl) FindByID(ctx context.Context, id int) (*models.Credential, error) {
	var cred models.Credential

	query := `SELECT ` + selectColumns + ` FROM credentials WHERE id = $1`

	if err := r.db.GetContext(ctx, &cred, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrNotFound.Wrap(fmt.Errorf("credential %d", id))
		}
		return nil, fmt.Errorf("failed to find credential: %w", err)
	}

	return &cred, nil
}

// FindByIDForUser возвращает учётные данные с проверкой владельца
func (r *CredentialRepositoryImpl) FindByIDForUser(ctx context.Context, id, userID int) (*models.Credential, error) {
	cred, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// Чужие учётные данные выглядят как несуществующие
	if cred.UserID != userID {
		return nil, types.ErrNotFound.Wrap(fmt.Errorf("credential %d for user %d", id, userID))
	}

	return cred, nil
}
