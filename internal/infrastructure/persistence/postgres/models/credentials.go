// internal/infrastructure/persistence/postgres/models/credentials.go
package models

import "time"

// Credential - набор биржевых ключей и торговых параметров пользователя.
// Секретные поля хранятся только в зашифрованном виде; расшифровка
// происходит единственный раз — при спавне контейнера.
type Credential struct {
	ID     int `db:"id" json:"id"`
	UserID int `db:"user_id" json:"user_id"`

	// Зашифрованные секреты (base64(nonce||ciphertext))
	APIKeyEncrypted    string `db:"api_key_encrypted" json:"-"`
	APISecretEncrypted string `db:"api_secret_encrypted" json:"-"`

	// Торговые параметры
	Symbol      string  `db:"symbol" json:"symbol"`             // BTCUSD
	LotSize     float64 `db:"lot_size" json:"lot_size"`         // 60.0
	Timeframe   int     `db:"timeframe" json:"timeframe"`       // минуты
	DeltaRegion string  `db:"delta_region" json:"delta_region"` // india
	Testnet     bool    `db:"testnet" json:"testnet"`

	// Telegram-уведомления (опционально)
	TelegramTokenEncrypted string `db:"telegram_token_encrypted" json:"-"`
	TelegramChatID         string `db:"telegram_chat_id" json:"telegram_chat_id,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
