// application/services/orchestrator/orchestrator.go
package orchestrator

import (
	"context"
	"fmt"
	"log"

	"trading-bot-orchestrator/application/scheduler"
	"trading-bot-orchestrator/internal/core/domain/dispatch"
	"trading-bot-orchestrator/internal/core/domain/lifecycle"
	"trading-bot-orchestrator/internal/core/domain/logstream"
	"trading-bot-orchestrator/internal/core/domain/vault"
	httpdelivery "trading-bot-orchestrator/internal/delivery/http"
	rediscache "trading-bot-orchestrator/internal/infrastructure/cache/redis"
	"trading-bot-orchestrator/internal/infrastructure/config"
	"trading-bot-orchestrator/internal/infrastructure/persistence/postgres/database"
	"trading-bot-orchestrator/internal/infrastructure/persistence/postgres/repository/bot_container"
	"trading-bot-orchestrator/internal/infrastructure/persistence/postgres/repository/credential"
	"trading-bot-orchestrator/internal/infrastructure/persistence/postgres/repository/users"
	"trading-bot-orchestrator/internal/infrastructure/runtime/docker"
	events "trading-bot-orchestrator/internal/infrastructure/transport/event_bus"
	"trading-bot-orchestrator/pkg/logger"
)

// App - корень композиции оркестратора: владеет всеми сервисами
// и отвечает за порядок их запуска и остановки.
type App struct {
	config *config.Config

	// Инфраструктура
	databaseService *database.DatabaseService
	redisService    *rediscache.RedisService
	eventBus        *events.EventBus
	dockerService   *docker.DockerService

	// Репозитории
	userRepo      users.UserRepository
	credRepo      credential.CredentialRepository
	containerRepo bot_container.BotContainerRepository

	// Домен
	vault      *vault.Vault
	manager    *lifecycle.Manager
	dispatcher *dispatch.Dispatcher
	reconciler *lifecycle.Reconciler
	hub        *logstream.Hub

	// Доставка
	httpServer *httpdelivery.Server
	scheduler  *scheduler.Scheduler
}

// NewApp создает приложение и инициализирует все компоненты
func NewApp(cfg *config.Config) (*App, error) {
	app := &App{config: cfg}
	if err := app.initializeComponents(); err != nil {
		return nil, err
	}
	return app, nil
}

// initializeComponents инициализирует все компоненты
func (a *App) initializeComponents() error {
	// ==================== БЛОК 1: ИНФРАСТРУКТУРА ====================

	// 1.1 База данных
	log.Println("🗄️  Creating database service...")
	a.databaseService = database.NewDatabaseService(a.config)
	if err := a.databaseService.Start(); err != nil {
		return fmt.Errorf("failed to start database service: %w", err)
	}
	log.Println("✅ Database service started")

	// 1.2 Redis (опционален: кэш статусов деградирует в no-op)
	log.Println("🔴 Creating Redis service...")
	a.redisService = rediscache.NewRedisService(a.config)
	if !a.config.Redis.Enabled {
		log.Println("⚠️  Redis disabled, status reads will hit the database")
	} else if err := a.redisService.Start(); err != nil {
		log.Printf("⚠️  Failed to start Redis service: %v", err)
		log.Println("⚠️  Status reads will fall back to the database")
	} else {
		log.Println("✅ Redis service started")
	}

	// 1.3 EventBus
	log.Println("🚌 Creating EventBus...")
	a.eventBus = events.NewEventBus(events.EventBusConfig{
		BufferSize:    a.config.EventBus.BufferSize,
		WorkerCount:   a.config.EventBus.WorkerCount,
		EnableLogging: a.config.EventBus.EnableLog,
	})
	if a.config.Debug {
		consoleSub := events.NewConsoleLoggerSubscriber()
		for _, eventType := range consoleSub.GetSubscribedEvents() {
			a.eventBus.Subscribe(eventType, consoleSub)
		}
	}
	log.Println("✅ EventBus created")

	// 1.4 Контейнерный движок
	log.Println("🐳 Creating Docker service...")
	dockerService, err := docker.NewDockerService(a.config)
	if err != nil {
		return fmt.Errorf("failed to create docker service: %w", err)
	}
	a.dockerService = dockerService

	ctx, cancel := context.WithTimeout(context.Background(), a.config.Docker.RequestTimeout)
	defer cancel()
	if err := a.dockerService.Ping(ctx); err != nil {
		return fmt.Errorf("docker engine unreachable: %w", err)
	}
	log.Println("✅ Docker service connected")

	// ==================== БЛОК 2: ХРАНЕНИЕ ====================

	log.Println("💾 Creating repositories...")
	db := a.databaseService.GetDB()
	a.userRepo = users.NewUserRepository(db)
	a.credRepo = credential.NewCredentialRepository(db)
	a.containerRepo = bot_container.NewBotContainerRepository(db)
	log.Println("✅ Repositories created")

	// ==================== БЛОК 3: ДОМЕН ====================

	// 3.1 Шифрование секретов
	log.Println("🔐 Creating vault...")
	a.vault, err = vault.NewVault(a.config.EncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to create vault: %w", err)
	}
	log.Println("✅ Vault created")

	// 3.2 Кэш статусов
	statusCache := rediscache.NewStatusCache(a.redisService.GetClient(), a.config.Redis.StatusTTL)

	// 3.3 Lifecycle-менеджер и диспетчер (взаимная ссылка)
	log.Println("🤖 Creating lifecycle manager...")
	a.manager = lifecycle.NewManager(
		a.config, a.containerRepo, a.credRepo, a.userRepo,
		a.vault, a.dockerService, a.eventBus, statusCache,
	)
	a.dispatcher = dispatch.NewDispatcher(a.config.Dispatcher, a.manager)
	a.manager.SetEnqueuer(a.dispatcher)
	log.Println("✅ Lifecycle manager created")

	// 3.4 Сверка состояния
	a.reconciler = lifecycle.NewReconciler(
		a.config.Reconciler, a.containerRepo, a.manager, a.dockerService, a.eventBus,
	)

	// 3.5 Хаб логов (подписан на переходы статусов)
	log.Println("📡 Creating log hub...")
	a.hub = logstream.NewHub(a.config.Hub, a.dockerService, a.eventBus)
	for _, eventType := range a.hub.GetSubscribedEvents() {
		a.eventBus.Subscribe(eventType, a.hub)
	}
	log.Println("✅ Log hub created")

	// ==================== БЛОК 4: ДОСТАВКА ====================

	log.Println("🌐 Creating HTTP server...")
	a.httpServer = httpdelivery.NewServer(a.config.HTTP, a.manager, a.hub)

	a.scheduler = scheduler.New()
	a.scheduler.Register(&scheduler.Job{
		Name:        "reconcile",
		Description: "Сверка записей контейнеров с состоянием движка",
		Schedule:    scheduler.Every(a.config.Reconciler.Interval),
		Handler:     a.reconciler.Run,
	})

	return nil
}

// Start запускает все сервисы в порядке зависимостей
func (a *App) Start() error {
	a.eventBus.Start()
	a.dispatcher.Start()
	a.scheduler.Start()

	if err := a.httpServer.Start(); err != nil {
		return err
	}

	logger.Info("🚀 Оркестратор запущен")
	return nil
}

// Stop останавливает сервисы в обратном порядке:
// сперва прием запросов, затем фоновая работа, затем инфраструктура.
func (a *App) Stop() {
	logger.Info("🛑 Остановка оркестратора...")

	if err := a.httpServer.Stop(); err != nil {
		logger.Error("❌ HTTP server stop: %v", err)
	}

	a.scheduler.Stop()
	a.hub.Stop()
	a.dispatcher.Stop()
	a.eventBus.Stop()

	if a.dockerService != nil {
		a.dockerService.Close()
	}
	if a.redisService.State() == rediscache.StateRunning {
		if err := a.redisService.Stop(); err != nil {
			logger.Error("❌ Redis stop: %v", err)
		}
	}
	if err := a.databaseService.Stop(); err != nil {
		logger.Error("❌ Database stop: %v", err)
	}

	logger.Info("✅ Оркестратор остановлен")
}

// Reconciler возвращает реконсилятор (стартовый прогон из main)
func (a *App) Reconciler() *lifecycle.Reconciler {
	return a.reconciler
}
