package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pennyhq/penny/internal/responder"
)

const (
	wsReadLimit     = 64 << 10
	wsReadDeadline  = 120 * time.Second
	wsWriteDeadline = 10 * time.Second
)

type chatMessage struct {
	Text string `json:"text"`
}

type chatReply struct {
	Type string `json:"type"`
	responder.Reply
}

type chatError struct {
	Type  string `json:"type"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

// handleChatWS runs a chat loop on one websocket. Each inbound text frame
// is a JSON {"text": ...} message; the reply frame carries the same payload
// as POST /v1/respond plus a "type" discriminator.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		respondError(w, http.StatusBadRequest, "missing_user_id", "query parameter user_id is required")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.ActiveChatConns.Inc()
	defer s.metrics.ActiveChatConns.Dec()
	log := s.logger.With(zap.String("user_id", userID))
	log.Info("chat websocket connected")

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		if msgType != websocket.TextMessage {
			continue
		}

		var msg chatMessage
		if err := json.Unmarshal(data, &msg); err != nil || strings.TrimSpace(msg.Text) == "" {
			writeWS(conn, chatError{Type: "error", Code: "invalid_message", Error: "expected JSON with a non-empty text field"})
			continue
		}

		reply, err := s.responder.Respond(r.Context(), userID, msg.Text)
		if err != nil {
			log.Warn("chat turn failed", zap.Error(err))
			writeWS(conn, chatError{Type: "error", Code: "respond_failed", Error: err.Error()})
			continue
		}
		writeWS(conn, chatReply{Type: "reply", Reply: reply})
	}

	log.Info("chat websocket disconnected")
}

func writeWS(conn *websocket.Conn, v any) {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
	_ = conn.WriteJSON(v)
}
