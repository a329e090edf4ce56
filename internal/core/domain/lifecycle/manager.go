// internal/core/domain/lifecycle/manager.go
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"trading-bot-orchestrator/internal/core/domain/dispatch"
	"trading-bot-orchestrator/internal/core/domain/vault"
	rediscache "trading-bot-orchestrator/internal/infrastructure/cache/redis"
	"trading-bot-orchestrator/internal/infrastructure/config"
	"trading-bot-orchestrator/internal/infrastructure/persistence/postgres/models"
	"trading-bot-orchestrator/internal/infrastructure/persistence/postgres/repository/bot_container"
	"trading-bot-orchestrator/internal/infrastructure/persistence/postgres/repository/credential"
	"trading-bot-orchestrator/internal/infrastructure/persistence/postgres/repository/users"
	"trading-bot-orchestrator/internal/types"
	"trading-bot-orchestrator/pkg/logger"

	"github.com/google/uuid"
)

// Метка, по которой оркестратор узнает свои контейнеры в движке
const ManagedByLabel = "orchestrator"

// Enqueuer - узкий интерфейс диспетчера для постановки операций.
// Реализуется dispatch.Dispatcher.
type Enqueuer interface {
	Enqueue(op dispatch.Operation) error
}

// Manager - владелец жизненного цикла контейнеров ботов.
// Все переходы статусов идут только через него; операции над одной
// записью сериализованы per-record блокировкой, поэтому start и stop
// одной записи никогда не перемежают вызовы runtime.
type Manager struct {
	config      *config.Config
	containers  bot_container.BotContainerRepository
	credentials credential.CredentialRepository
	users       users.UserRepository
	vault       *vault.Vault
	runtime     types.ContainerRuntime
	bus         types.EventBus
	cache       *rediscache.StatusCache
	enqueuer    Enqueuer
	locks       *keyedMutex
}

// NewManager создает lifecycle-менеджер.
// Enqueuer устанавливается отдельно (SetEnqueuer): диспетчеру для
// создания нужен сам менеджер в роли исполнителя.
func NewManager(
	cfg *config.Config,
	containers bot_container.BotContainerRepository,
	credentials credential.CredentialRepository,
	userRepo users.UserRepository,
	v *vault.Vault,
	runtime types.ContainerRuntime,
	bus types.EventBus,
	cache *rediscache.StatusCache,
) *Manager {
	return &Manager{
		config:      cfg,
		containers:  containers,
		credentials: credentials,
		users:       userRepo,
		vault:       v,
		runtime:     runtime,
		bus:         bus,
		cache:       cache,
		locks:       newKeyedMutex(),
	}
}

// SetEnqueuer подключает диспетчер
func (m *Manager) SetEnqueuer(e Enqueuer) {
	m.enqueuer = e
}

// RequestStart принимает запрос на запуск бота: создает запись в pending
// и ставит spawn в очередь. Возвращается сразу — прогресс наблюдается
// через getStatus или события. ErrConflict, если для credential уже
// есть активный контейнер.
func (m *Manager) RequestStart(ctx context.Context, credentialID, userID int) (*models.BotContainer, error) {
	// Проверяем пользователя и владельца учётных данных
	if exists, err := m.users.Exists(ctx, userID); err != nil {
		return nil, err
	} else if !exists {
		return nil, types.ErrNotFound.Wrap(fmt.Errorf("user %d", userID))
	}
	if _, err := m.credentials.FindByIDForUser(ctx, credentialID, userID); err != nil {
		return nil, err
	}

	// Быстрая проверка активного контейнера; гонку конкурентных
	// стартов окончательно разрешает уникальный индекс в Create
	if _, err := m.containers.FindActiveByCredential(ctx, credentialID); err == nil {
		return nil, types.ErrConflict
	} else if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}

	record := &models.BotContainer{
		RecordID:     uuid.New().String(),
		UserID:       userID,
		CredentialID: credentialID,
		Status:       models.StatusPending,
		CPUQuota:     m.config.Docker.CPUQuota,
		MemoryBytes:  m.config.Docker.MemoryBytes,
	}

	if err := m.containers.Create(ctx, record); err != nil {
		return nil, err
	}

	m.publishStatus(ctx, record.RecordID, models.StatusPending, "")
	logger.Info("🤖 Принят запрос на запуск бота: credential=%d user=%d record=%s",
		credentialID, userID, record.RecordID)

	if err := m.enqueuer.Enqueue(dispatch.Operation{Kind: dispatch.OpSpawn, RecordID: record.RecordID}); err != nil {
		m.markFailed(ctx, record.RecordID, "failed to enqueue spawn: "+err.Error())
		return nil, fmt.Errorf("failed to enqueue spawn: %w", err)
	}

	return record, nil
}

// RequestStop принимает запрос на остановку.
// ErrNotFound для неизвестной записи; no-op для терминальных;
// повторный stop на stopping поглощается (идемпотентность).
func (m *Manager) RequestStop(ctx context.Context, recordID string) error {
	unlock := m.locks.Lock(recordID)
	defer unlock()

	record, err := m.containers.FindByRecordID(ctx, recordID)
	if err != nil {
		return err
	}

	if record.IsTerminal() {
		return nil
	}
	if record.Status == models.StatusStopping {
		// Уже останавливается, операция в очереди
		return nil
	}

	if _, err := Transition(record.Status, models.StatusStopping); err != nil {
		return err
	}
	if err := m.containers.UpdateStatus(ctx, recordID, models.StatusStopping); err != nil {
		return err
	}
	m.publishStatus(ctx, recordID, models.StatusStopping, "")

	logger.Info("🛑 Принят запрос на остановку бота: record=%s", recordID)

	if err := m.enqueuer.Enqueue(dispatch.Operation{Kind: dispatch.OpTerminate, RecordID: recordID}); err != nil {
		return fmt.Errorf("failed to enqueue terminate: %w", err)
	}

	return nil
}

// GetStatus возвращает статус записи: сперва кэш, потом база
func (m *Manager) GetStatus(ctx context.Context, recordID string) (rediscache.StatusEntry, error) {
	if entry, ok := m.cache.Get(ctx, recordID); ok {
		return entry, nil
	}

	record, err := m.containers.FindByRecordID(ctx, recordID)
	if err != nil {
		return rediscache.StatusEntry{}, err
	}

	entry := rediscache.StatusEntry{
		RecordID:  record.RecordID,
		Status:    record.Status,
		LastError: record.LastError,
	}
	m.cache.Set(ctx, entry)

	return entry, nil
}

// GetRecord возвращает полную запись из базы
func (m *Manager) GetRecord(ctx context.Context, recordID string) (*models.BotContainer, error) {
	return m.containers.FindByRecordID(ctx, recordID)
}

// ============================================
// ИСПОЛНИТЕЛЬ ОПЕРАЦИЙ ДИСПЕТЧЕРА
// ============================================

// Execute выполняет операцию жизненного цикла (вызывается воркером)
func (m *Manager) Execute(ctx context.Context, op dispatch.Operation) error {
	switch op.Kind {
	case dispatch.OpSpawn:
		return m.executeSpawn(ctx, op.RecordID)
	case dispatch.OpTerminate:
		return m.executeTerminate(ctx, op.RecordID)
	default:
		return fmt.Errorf("unknown operation kind: %s", op.Kind)
	}
}

// OnTerminalFailure фиксирует провал операции в хранилище
func (m *Manager) OnTerminalFailure(ctx context.Context, op dispatch.Operation, err error) {
	unlock := m.locks.Lock(op.RecordID)
	defer unlock()

	m.markFailed(ctx, op.RecordID, err.Error())
}

// executeSpawn: расшифровка секретов → create → start → running.
// Повторный вызов после транзиентного сбоя идемпотентен: уже созданный
// контейнер не создается заново (engine id сохранен в записи).
func (m *Manager) executeSpawn(ctx context.Context, recordID string) error {
	unlock := m.locks.Lock(recordID)
	defer unlock()

	record, err := m.containers.FindByRecordID(ctx, recordID)
	if err != nil {
		return err
	}

	switch record.Status {
	case models.StatusPending, models.StatusStarting:
		// Продолжаем
	case models.StatusRunning:
		return nil
	default:
		// Stop пришёл раньше, чем spawn успел выполниться
		logger.Info("⏭️  Spawn %s пропущен: статус %s", recordID, record.Status)
		return nil
	}

	cred, err := m.credentials.FindByID(ctx, record.CredentialID)
	if err != nil {
		return err
	}

	// Расшифровка секретов — до любого обращения к runtime.
	// ErrDecryption терминальна: диспетчер сразу пометит запись failed.
	apiKey, err := m.vault.Decrypt(cred.APIKeyEncrypted)
	if err != nil {
		return err
	}
	apiSecret, err := m.vault.Decrypt(cred.APISecretEncrypted)
	if err != nil {
		return err
	}
	telegramToken, err := m.vault.Decrypt(cred.TelegramTokenEncrypted)
	if err != nil {
		return err
	}

	if record.Status == models.StatusPending {
		if err := m.containers.UpdateStatus(ctx, recordID, models.StatusStarting); err != nil {
			return err
		}
		m.publishStatus(ctx, recordID, models.StatusStarting, "")
	}

	engineID := record.EngineIDString()
	if engineID == "" {
		containerName := fmt.Sprintf("bot_user%d_cred%d_%d",
			record.UserID, record.CredentialID, time.Now().Unix())

		spec := types.ContainerSpec{
			Image:   m.config.Docker.Image,
			Name:    containerName,
			Network: m.config.Docker.Network,
			Env: map[string]string{
				"USER_ID":            strconv.Itoa(record.UserID),
				"CREDENTIAL_ID":      strconv.Itoa(record.CredentialID),
				"DELTA_API_KEY":      apiKey,
				"DELTA_API_SECRET":   apiSecret,
				"SYMBOL":             cred.Symbol,
				"LOT_SIZE":           strconv.FormatFloat(cred.LotSize, 'f', -1, 64),
				"TIMEFRAME_1M":       strconv.Itoa(cred.Timeframe),
				"TELEGRAM_BOT_TOKEN": telegramToken,
				"TELEGRAM_CHAT_ID":   cred.TelegramChatID,
				"TESTNET":            strconv.FormatBool(cred.Testnet),
				"DELTA_REGION":       cred.DeltaRegion,
			},
			Labels: map[string]string{
				"managed_by":    ManagedByLabel,
				"user_id":       strconv.Itoa(record.UserID),
				"credential_id": strconv.Itoa(record.CredentialID),
				"record_id":     record.RecordID,
			},
			MemoryBytes: record.MemoryBytes,
			CPUQuota:    record.CPUQuota,
		}

		engineID, err = m.runtime.Create(ctx, spec)
		if err != nil {
			return err
		}

		// Фиксируем engine id до start: при падении между create и
		// persistence контейнер подберет reconcile по метке record_id
		if err := m.containers.SetEngineIDs(ctx, recordID, engineID, containerName); err != nil {
			return err
		}
	}

	if err := m.runtime.Start(ctx, engineID); err != nil {
		return err
	}

	if err := m.containers.MarkStarted(ctx, recordID, time.Now()); err != nil {
		return err
	}
	m.publishStatus(ctx, recordID, models.StatusRunning, "")

	logger.Info("✅ Бот запущен: record=%s container=%s", recordID, shortID(engineID))
	return nil
}

// executeTerminate: graceful stop → remove → stopped
func (m *Manager) executeTerminate(ctx context.Context, recordID string) error {
	unlock := m.locks.Lock(recordID)
	defer unlock()

	record, err := m.containers.FindByRecordID(ctx, recordID)
	if err != nil {
		return err
	}

	if record.IsTerminal() {
		return nil
	}

	if engineID := record.EngineIDString(); engineID != "" {
		// Исчезнувший контейнер при остановке — не ошибка
		if err := m.runtime.Stop(ctx, engineID, m.config.Docker.StopGracePeriod); err != nil {
			if !errors.Is(err, types.ErrNotFound) {
				return err
			}
		}
		if err := m.runtime.Remove(ctx, engineID, true); err != nil {
			if !errors.Is(err, types.ErrNotFound) {
				return err
			}
		}
	}

	if err := m.containers.MarkStopped(ctx, recordID, time.Now()); err != nil {
		return err
	}
	m.publishStatus(ctx, recordID, models.StatusStopped, "")

	logger.Info("✅ Бот остановлен: record=%s", recordID)
	return nil
}

// markFailed переводит запись в failed (вызывается под блокировкой)
func (m *Manager) markFailed(ctx context.Context, recordID, lastError string) {
	record, err := m.containers.FindByRecordID(ctx, recordID)
	if err != nil {
		logger.Error("❌ markFailed: запись %s не найдена: %v", recordID, err)
		return
	}
	if record.IsTerminal() {
		return
	}

	if err := m.containers.MarkFailed(ctx, recordID, lastError); err != nil {
		logger.Error("❌ markFailed: не удалось обновить %s: %v", recordID, err)
		return
	}
	m.publishStatus(ctx, recordID, models.StatusFailed, lastError)
}

// publishStatus обновляет кэш и рассылает событие status_changed
func (m *Manager) publishStatus(ctx context.Context, recordID, status, lastError string) {
	m.cache.Set(ctx, rediscache.StatusEntry{
		RecordID:  recordID,
		Status:    status,
		LastError: lastError,
	})

	if m.bus != nil {
		err := m.bus.Publish(types.Event{
			Type:   types.EventStatusChanged,
			Source: "lifecycle_manager",
			Data: types.StatusChangedPayload{
				RecordID:  recordID,
				Status:    status,
				LastError: lastError,
			},
		})
		if err != nil {
			// Потерянное событие не ломает жизненный цикл: статус уже
			// в базе и кэше, но подписчики этот переход не увидят
			logger.Warn("⚠️ Событие status_changed потеряно: record=%s status=%s: %v",
				recordID, status, err)
		}
	}
}

// shortID усекает идентификатор движка для логов
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// компиляционная проверка: менеджер — исполнитель диспетчера
var _ dispatch.Executor = (*Manager)(nil)
