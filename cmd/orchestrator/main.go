// cmd/orchestrator/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"trading-bot-orchestrator/application/services/orchestrator"
	"trading-bot-orchestrator/internal/infrastructure/config"
	"trading-bot-orchestrator/pkg/logger"
)

func main() {
	// 1. Загружаем конфигурацию
	cfg, err := config.LoadConfig(".env")
	if err != nil {
		log.Fatalf("Не удалось загрузить конфигурацию: %v", err)
	}

	cfg.PrintSummary()

	// 2. Инициализируем логгер
	if err := logger.InitGlobal(cfg.LogPath, cfg.LogLevel, cfg.Debug); err != nil {
		log.Fatalf("Не удалось инициализировать логгер: %v", err)
	}

	// 3. Собираем приложение
	app, err := orchestrator.NewApp(cfg)
	if err != nil {
		log.Fatalf("Не удалось инициализировать приложение: %v", err)
	}

	// 4. Запускаем сервисы
	if err := app.Start(); err != nil {
		app.Stop()
		log.Fatalf("Не удалось запустить приложение: %v", err)
	}

	// 5. Стартовая сверка: после рестарта подбираем состояние движка
	if err := app.Reconciler().Run(context.Background()); err != nil {
		logger.Warn("⚠️ Стартовая сверка не удалась: %v", err)
	}

	// 6. Ждем сигнала завершения
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info("📨 Получен сигнал %v, завершаемся", sig)
	app.Stop()
}
