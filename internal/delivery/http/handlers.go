// internal/delivery/http/handlers.go
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"trading-bot-orchestrator/internal/infrastructure/persistence/postgres/models"
	"trading-bot-orchestrator/internal/types"
	"trading-bot-orchestrator/pkg/logger"
)

// startRequest тело запроса на запуск бота
type startRequest struct {
	CredentialID int `json:"credential_id"`
}

// errorResponse тело ответа с ошибкой
type errorResponse struct {
	Error string `json:"error"`
}

// handleStart принимает запрос на запуск бота.
// 202 — запись создана, запуск идет в фоне; 409 — для credential уже
// есть активный контейнер.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CredentialID <= 0 {
		writeError(w, http.StatusBadRequest, "credential_id is required")
		return
	}

	record, err := s.manager.RequestStart(r.Context(), req.CredentialID, userID)
	if err != nil {
		s.writeLifecycleError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, record)
}

// handleStop принимает запрос на остановку бота.
// 202 — остановка поставлена в очередь (идемпотентно).
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	record, ok := s.ownedRecord(w, r)
	if !ok {
		return
	}

	if err := s.manager.RequestStop(r.Context(), record.RecordID); err != nil {
		s.writeLifecycleError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     record.RecordID,
		"status": models.StatusStopping,
	})
}

// handleStatus возвращает текущий статус записи
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	record, ok := s.ownedRecord(w, r)
	if !ok {
		return
	}

	entry, err := s.manager.GetStatus(r.Context(), record.RecordID)
	if err != nil {
		s.writeLifecycleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

// handleLogs возвращает последние строки лога (?tail=n, по умолчанию 50)
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	record, ok := s.ownedRecord(w, r)
	if !ok {
		return
	}

	tail := 50
	if v := r.URL.Query().Get("tail"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "tail must be a positive integer")
			return
		}
		tail = n
	}

	engineID := record.EngineIDString()
	if engineID == "" {
		// Контейнер еще не создан: логов нет
		writeJSON(w, http.StatusOK, map[string]interface{}{"lines": []string{}})
		return
	}

	lines, err := s.hub.FetchRecentLogs(r.Context(), record.RecordID, engineID, tail)
	if err != nil {
		s.writeLifecycleError(w, err)
		return
	}
	if lines == nil {
		lines = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"lines": lines})
}

// handleHealth - проверка живости
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ============================================
// ОБЩИЕ ПОМОЩНИКИ
// ============================================

// userID извлекает идентификатор пользователя из заголовка X-User-ID
func (s *Server) userID(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.Header.Get("X-User-ID")
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		writeError(w, http.StatusUnauthorized, "X-User-ID header is required")
		return 0, false
	}
	return id, true
}

// ownedRecord загружает запись из path value {id} с проверкой владельца.
// Чужая запись выглядит как несуществующая.
func (s *Server) ownedRecord(w http.ResponseWriter, r *http.Request) (*models.BotContainer, bool) {
	userID, ok := s.userID(w, r)
	if !ok {
		return nil, false
	}

	record, err := s.manager.GetRecord(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeLifecycleError(w, err)
		return nil, false
	}

	if record.UserID != userID {
		writeError(w, http.StatusNotFound, "bot container not found")
		return nil, false
	}

	return record, true
}

// writeLifecycleError транслирует доменные ошибки в HTTP статусы
func (s *Server) writeLifecycleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, types.ErrNotFound):
		writeError(w, http.StatusNotFound, "bot container not found")
	case errors.Is(err, types.ErrConflict):
		writeError(w, http.StatusConflict, "credential already has an active container")
	case errors.Is(err, types.ErrRuntimeUnavailable):
		writeError(w, http.StatusServiceUnavailable, "container engine unavailable")
	default:
		logger.Error("❌ HTTP handler: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("❌ Не удалось сериализовать ответ: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
