// internal/core/domain/vault/vault.go
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"trading-bot-orchestrator/internal/types"
)

// Vault - шифрование секретов учётных данных (AES-256-GCM).
// Формат хранения: base64(nonce || ciphertext).
// Открытый текст живёт только в памяти на время спавна контейнера
// и никогда не попадает в базу или логи.
type Vault struct {
	key []byte
}

// NewVault создает vault с 32-байтным ключом
func NewVault(key string) (*Vault, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	return &Vault{key: []byte(key)}, nil
}

// Encrypt шифрует строку. Пустой вход дает пустой выход.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt расшифровывает строку. Любая порча данных или несовпадение
// ключа дают ErrDecryption — терминальную ошибку, без повторов.
func (v *Vault) Decrypt(encrypted string) (string, error) {
	if encrypted == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", types.ErrDecryption.Wrap(err)
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", types.ErrDecryption.Wrap(err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", types.ErrDecryption.Wrap(err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", types.ErrDecryption.Wrap(fmt.Errorf("ciphertext too short"))
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", types.ErrDecryption.Wrap(err)
	}

	return string(plaintext), nil
}
