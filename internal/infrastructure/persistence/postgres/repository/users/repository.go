// internal/infrastructure/persistence/postgres/repository/users/repository.go
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"trading-bot-orchestrator/internal/infrastructure/persistence/postgres/models"
	"trading-bot-orchestrator/internal/types"

	"github.com/jmoiron/sqlx"
)

// UserRepository интерфейс для чтения пользователей.
// CRUD пользователей живёт во внешнем веб-слое, оркестратору
// нужен только поиск владельца.
type UserRepository interface {
	FindByID(ctx context.Context, id int) (*models.User, error)
	Exists(ctx context.Context, id int) (bool, error)
}

// UserRepositoryImpl реализация репозитория пользователей
type UserRepositoryImpl struct {
	db *sqlx.DB
}

// NewUserRepository создает новый репозиторий пользователей
func NewUserRepository(db *sqlx.DB) *UserRepositoryImpl {
	return &UserRepositoryImpl{db: db}
}

// FindByID возвращает пользователя по ID
func (r *UserRepositoryImpl) FindByID(ctx context.Context, id int) (*models.User, error) {
	var user models.User

	query := `SELECT id, email, username, password_hash, created_at FROM users WHERE id = $1`

	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrNotFound.Wrap(fmt.Errorf("user %d", id))
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	return &user, nil
}

// Exists проверяет существование пользователя
func (r *UserRepositoryImpl) Exists(ctx context.Context, id int) (bool, error) {
	var exists bool

	query := `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`

	if err := r.db.GetContext(ctx, &exists, query, id); err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}

	return exists, nil
}
