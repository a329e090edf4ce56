// internal/types/runtime.go
package types

import (
	"context"
	"time"
)

// ContainerRuntime - узкий контракт поверх API контейнерного движка.
// Реализация обязана быть безопасной для конкурентного использования:
// её дергают воркеры диспетчера, реконсилятор и хаб логов одновременно.
//
// Ошибки: errors.Is(err, ErrNotFound) — объект исчез (перманентно),
// errors.Is(err, ErrRuntimeUnavailable) — движок недоступен (транзиентно).
type ContainerRuntime interface {
	// Create создает контейнер и возвращает его идентификатор в движке
	Create(ctx context.Context, spec ContainerSpec) (string, error)

	// Start запускает созданный контейнер
	Start(ctx context.Context, engineID string) error

	// Stop останавливает контейнер: graceful с таймаутом grace, затем kill
	Stop(ctx context.Context, engineID string, grace time.Duration) error

	// Remove удаляет контейнер из движка
	Remove(ctx context.Context, engineID string, force bool) error

	// Inspect возвращает наблюдаемое состояние контейнера
	Inspect(ctx context.Context, engineID string) (ContainerState, error)

	// List возвращает идентификаторы контейнеров, отфильтрованные по меткам
	List(ctx context.Context, labels map[string]string) ([]string, error)

	// AttachOutput подключается к потоку вывода контейнера (tail последних
	// строк, затем follow). Возвращает канал строк и функцию отключения.
	// Канал закрывается при остановке контейнера или вызове detach.
	AttachOutput(ctx context.Context, engineID string, tail int) (<-chan LogLine, func(), error)

	// Logs синхронно читает последние n строк лога без подписки
	Logs(ctx context.Context, engineID string, n int) ([]string, error)
}

// ContainerSpec параметры создания контейнера
type ContainerSpec struct {
	Image       string
	Name        string
	Env         map[string]string
	Labels      map[string]string
	Network     string
	MemoryBytes int64 // потолок памяти, 0 = без лимита
	CPUQuota    int64 // CPU quota в микросекундах на период, 0 = без лимита
}

// ContainerState наблюдаемое состояние контейнера в движке
type ContainerState struct {
	Running  bool
	ExitCode int
}

// LogLine одна строка вывода контейнера
type LogLine struct {
	Timestamp time.Time
	Message   string
}
