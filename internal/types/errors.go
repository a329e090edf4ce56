// internal/types/errors.go
package types

import (
	"errors"
	"fmt"
)

// Классы ошибок оркестратора.
// Диспетчер повторяет только ErrRuntimeUnavailable, всё остальное — терминально.
var (
	ErrConflict           = OrchestratorError{"для учётных данных уже запущен активный контейнер"}
	ErrNotFound           = OrchestratorError{"запись или контейнер не найдены"}
	ErrRuntimeUnavailable = OrchestratorError{"container runtime недоступен"}
	ErrDecryption         = OrchestratorError{"не удалось расшифровать секрет"}
	ErrResourceLimit      = OrchestratorError{"runtime отклонил запрошенные лимиты ресурсов"}
)

// OrchestratorError ошибка уровня оркестратора
type OrchestratorError struct {
	Message string
}

func (e OrchestratorError) Error() string {
	return e.Message
}

// Wrap оборачивает причину, сохраняя класс ошибки для errors.Is
func (e OrchestratorError) Wrap(cause error) error {
	if cause == nil {
		return e
	}
	return fmt.Errorf("%w: %v", e, cause)
}

// IsTransient сообщает, имеет ли смысл повторять операцию
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrRuntimeUnavailable)
}
