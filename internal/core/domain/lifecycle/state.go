// internal/core/domain/lifecycle/state.go
package lifecycle

import (
	"fmt"

	"trading-bot-orchestrator/internal/infrastructure/persistence/postgres/models"
)

// Единственная авторитетная таблица переходов статусов.
// pending → starting → running → stopping → stopped,
// failed достижим из любого нетерминального статуса.
// Терминальные статусы (stopped, failed) не переходят никуда —
// повторный старт создаёт новую запись.
var transitions = map[string][]string{
	models.StatusPending:  {models.StatusStarting, models.StatusStopping, models.StatusFailed},
	models.StatusStarting: {models.StatusRunning, models.StatusStopping, models.StatusFailed},
	models.StatusRunning:  {models.StatusStopping, models.StatusFailed},
	models.StatusStopping: {models.StatusStopped, models.StatusFailed},
	models.StatusStopped:  {},
	models.StatusFailed:   {},
}

// CanTransition проверяет допустимость перехода from → to
func CanTransition(from, to string) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition валидирует переход и возвращает новый статус.
// Недопустимый переход — ошибка программирования вызывающего кода,
// а не состояние гонки: все переходы идут под per-record блокировкой.
func Transition(from, to string) (string, error) {
	if !CanTransition(from, to) {
		return from, fmt.Errorf("invalid status transition %s → %s", from, to)
	}
	return to, nil
}

// IsTerminal сообщает, является ли статус терминальным
func IsTerminal(status string) bool {
	return status == models.StatusStopped || status == models.StatusFailed
}
