// internal/infrastructure/cache/redis/status_cache.go
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// StatusEntry кэшированный статус контейнера
type StatusEntry struct {
	RecordID  string    `json:"record_id"`
	Status    string    `json:"status"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusCache - горячий кэш статусов контейнеров поверх Redis.
// Источник истины — Postgres; кэш обновляется write-through на каждом
// переходе состояния и используется для быстрых чтений getStatus.
// При недоступном Redis все методы деградируют в no-op / промах.
type StatusCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewStatusCache создает кэш статусов с существующим клиентом
func NewStatusCache(client *redis.Client, ttl time.Duration) *StatusCache {
	return &StatusCache{
		client: client,
		prefix: "orchestrator:status:",
		ttl:    ttl,
	}
}

// Set записывает статус в кэш
func (c *StatusCache) Set(ctx context.Context, entry StatusEntry) error {
	if c == nil || c.client == nil {
		return nil
	}

	entry.UpdatedAt = time.Now()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, c.prefix+entry.RecordID, data, c.ttl).Err()
}

// Get читает статус из кэша; ok=false при промахе
func (c *StatusCache) Get(ctx context.Context, recordID string) (StatusEntry, bool) {
	var entry StatusEntry

	if c == nil || c.client == nil {
		return entry, false
	}

	// Недоступный Redis — это промах, а не ошибка запроса
	data, err := c.client.Get(ctx, c.prefix+recordID).Result()
	if err != nil {
		return entry, false
	}

	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return entry, false
	}

	return entry, true
}

// Delete удаляет статус из кэша
func (c *StatusCache) Delete(ctx context.Context, recordID string) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, c.prefix+recordID).Err()
}

// Key возвращает полный ключ записи (для отладки)
func (c *StatusCache) Key(recordID string) string {
	return fmt.Sprintf("%s%s", c.prefix, recordID)
}
