// internal/infrastructure/persistence/postgres/models/users.go
package models

import "time"

// User - основная модель пользователя.
// Регистрация и удаление аккаунта живут во внешнем веб-слое;
// оркестратор только читает владельца контейнера.
type User struct {
	ID       int    `db:"id" json:"id"`
	Email    string `db:"email" json:"email"`
	Username string `db:"username" json:"username"`

	// Хэш пароля принадлежит веб-слою, оркестратор его не трогает
	PasswordHash string `db:"password_hash" json:"-"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
