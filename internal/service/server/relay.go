package server

import (
	"context"
	"encoding/json"
	"net/http"

	"sealed_chat/internal/model"
	"sealed_chat/internal/utils/log"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func (c *wsClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *HttpServer) HandleInitWS() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // Allow all origins
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("userID")
		if userID == "" {
			http.Error(w, "userID cannot be empty", http.StatusBadRequest)
			return
		}

		s.mu.RLock()
		_, taken := s.mapper[userID]
		s.mu.RUnlock()
		if taken {
			http.Error(w, "duplicated userID", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &wsClient{conn: conn}
		s.mu.Lock()
		if _, taken := s.mapper[userID]; taken {
			s.mu.Unlock()
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "duplicated userID"))
			conn.Close()
			return
		}
		s.mapper[userID] = client
		s.mu.Unlock()

		go s.processWSMessage(userID, client)
		if err := s.ForwardUnsentMessages(context.Background(), userID, client); err != nil {
			log.Error("forward msg failed", zap.String("user", userID), zap.Error(err))
		}
	}
}

// route prepares a message for delivery. Sealed messages lose any sender
// metadata; normal messages are attributed to the connection they came from.
func route(userID string, message *model.Message) {
	if message.Sealed {
		message.From = ""
		message.MessageType = 0
		return
	}
	message.From = userID
}

func (s *HttpServer) processWSMessage(userID string, client *wsClient) {
	defer func() {
		s.mu.Lock()
		if s.mapper[userID] == client {
			delete(s.mapper, userID)
		}
		s.mu.Unlock()
		client.conn.Close()
	}()

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			log.Debug("worker web socket closed", zap.String("user", userID), zap.Error(err))
			return
		}

		var message model.Message
		if err := json.Unmarshal(data, &message); err != nil {
			log.Error("Unmarshal message failed", zap.Error(err))
			continue
		}
		if message.To == "" || len(message.Ciphertext) == 0 {
			log.Warn("dropping message without recipient or body", zap.String("user", userID))
			continue
		}
		route(userID, &message)

		if err := s.deliver(context.Background(), &message); err != nil {
			log.Error("deliver message failed", zap.String("to", message.To), zap.Error(err))
		}
	}
}

// deliver writes to the recipient's socket, or queues the message when the
// recipient is offline or the write fails.
func (s *HttpServer) deliver(ctx context.Context, message *model.Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	s.mu.RLock()
	recipient, online := s.mapper[message.To]
	s.mu.RUnlock()

	if online {
		if err := recipient.write(data); err == nil {
			return nil
		}
		log.Debug("recipient socket write failed, queueing", zap.String("to", message.To))
	}
	return s.PutMessagesToCache(ctx, message.To, []*model.Message{message})
}

func (s *HttpServer) ForwardUnsentMessages(ctx context.Context, userID string, client *wsClient) error {
	messages, err := s.GetMessagesFromCache(ctx, userID)
	if err != nil {
		return err
	}

	for i, message := range messages {
		data, err := json.Marshal(message)
		if err != nil {
			return err
		}
		if err := client.write(data); err != nil {
			// put back what was not delivered
			if qerr := s.PutMessagesToCache(ctx, userID, messages[i:]); qerr != nil {
				log.Error("requeue failed", zap.String("user", userID), zap.Error(qerr))
			}
			return err
		}
	}
	return nil
}

func (s *HttpServer) closeConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, client := range s.mapper {
		client.conn.Close()
		delete(s.mapper, userID)
	}
}
