// internal/delivery/http/server.go
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"trading-bot-orchestrator/internal/core/domain/logstream"
	rediscache "trading-bot-orchestrator/internal/infrastructure/cache/redis"
	"trading-bot-orchestrator/internal/infrastructure/config"
	"trading-bot-orchestrator/internal/infrastructure/persistence/postgres/models"
	"trading-bot-orchestrator/pkg/logger"
)

// Lifecycle - операции жизненного цикла, нужные HTTP слою.
// Реализуется lifecycle.Manager.
type Lifecycle interface {
	RequestStart(ctx context.Context, credentialID, userID int) (*models.BotContainer, error)
	RequestStop(ctx context.Context, recordID string) error
	GetStatus(ctx context.Context, recordID string) (rediscache.StatusEntry, error)
	GetRecord(ctx context.Context, recordID string) (*models.BotContainer, error)
}

// LogStreamer - доступ к потокам логов, нужный HTTP слою.
// Реализуется logstream.Hub.
type LogStreamer interface {
	Subscribe(ctx context.Context, recordID, engineID string) (*logstream.Subscription, error)
	Unsubscribe(recordID string, sub *logstream.Subscription)
	FetchRecentLogs(ctx context.Context, recordID, engineID string, n int) ([]string, error)
}

// ServerState - состояние HTTP сервера
type ServerState int

const (
	StateIdle ServerState = iota
	StateRunning
	StateStopped
)

// Server - HTTP/WebSocket фасад оркестратора.
// Аутентификация выполняется внешним веб-слоем; сюда запросы приходят
// уже с заголовком X-User-ID, которому сервер доверяет.
type Server struct {
	config  config.HTTPConfig
	manager Lifecycle
	hub     LogStreamer

	httpServer *http.Server
	state      ServerState
	mu         sync.Mutex
}

// NewServer создает HTTP сервер оркестратора
func NewServer(cfg config.HTTPConfig, manager Lifecycle, hub LogStreamer) *Server {
	s := &Server{
		config:  cfg,
		manager: manager,
		hub:     hub,
		state:   StateIdle,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/bots/start", s.handleStart)
	mux.HandleFunc("POST /api/bots/{id}/stop", s.handleStop)
	mux.HandleFunc("GET /api/bots/{id}", s.handleStatus)
	mux.HandleFunc("GET /api/bots/{id}/logs", s.handleLogs)
	mux.HandleFunc("GET /ws/bots/{id}/logs", s.handleLogStream)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:        cfg.Addr,
		Handler:     mux,
		ReadTimeout: cfg.ReadTimeout,
		// WriteTimeout не ставим: он убивает долгоживущие
		// WebSocket-соединения стриминга логов
	}

	return s
}

// Start запускает HTTP сервер (не блокирует)
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRunning {
		return fmt.Errorf("HTTP server already running")
	}

	go func() {
		logger.Info("🌐 HTTP сервер слушает %s", s.config.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("❌ HTTP сервер: %v", err)
		}
	}()

	s.state = StateRunning
	return nil
}

// Stop останавливает сервер с graceful-таймаутом
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	s.state = StateStopped

	logger.Info("🛑 HTTP сервер остановлен")
	return err
}

// State возвращает текущее состояние сервера
func (s *Server) State() ServerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
