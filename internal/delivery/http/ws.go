// internal/delivery/http/ws.go
package http

import (
	"net/http"
	"time"

	"trading-bot-orchestrator/pkg/logger"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// wsMessage кадр, отправляемый зрителю лога
type wsMessage struct {
	Type      string `json:"type"` // log_line | stream_closed
	Line      string `json:"line,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// handleLogStream стримит лог контейнера зрителю по WebSocket:
// tail истории, затем живые строки до остановки контейнера или
// отключения зрителя.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	record, ok := s.ownedRecord(w, r)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		logger.Warn("⚠️ WebSocket handshake: %v", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	engineID := record.EngineIDString()
	if engineID == "" {
		// Контейнер еще не создан: закрываем поток сразу
		wsjson.Write(ctx, conn, wsMessage{Type: "stream_closed", Reason: "container not started"})
		conn.Close(websocket.StatusNormalClosure, "container not started")
		return
	}

	sub, err := s.hub.Subscribe(ctx, record.RecordID, engineID)
	if err != nil {
		wsjson.Write(ctx, conn, wsMessage{Type: "stream_closed", Reason: "attach failed"})
		conn.Close(websocket.StatusInternalError, "attach failed")
		return
	}
	defer s.hub.Unsubscribe(record.RecordID, sub)

	logger.Debug("📡 Зритель подключился к логам %s", record.RecordID)

	// Читатель нужен только для отслеживания отключения зрителя
	readerCtx := conn.CloseRead(ctx)

	for {
		select {
		case line, open := <-sub.Lines():
			if !open {
				reason := sub.CloseReason()
				wsjson.Write(ctx, conn, wsMessage{Type: "stream_closed", Reason: reason})
				conn.Close(websocket.StatusNormalClosure, reason)
				return
			}

			msg := wsMessage{
				Type:      "log_line",
				Line:      line.Message,
				Timestamp: line.Timestamp.Format(time.RFC3339),
			}
			if err := wsjson.Write(ctx, conn, msg); err != nil {
				return
			}

		case <-readerCtx.Done():
			// Зритель ушел
			return

		case <-ctx.Done():
			return
		}
	}
}
