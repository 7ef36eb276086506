package server

import (
	"context"
	"encoding/json"
	"fmt"

	"sealed_chat/internal/model"
	"sealed_chat/internal/utils/log"

	"go.uber.org/zap"
)

func queueKey(to string) string {
	return fmt.Sprintf("to: %s", to)
}

func (s *HttpServer) GetMessagesFromCache(ctx context.Context, to string) ([]*model.Message, error) {
	vals, err := s.queue.Drain(ctx, queueKey(to))
	if err != nil {
		return nil, err
	}

	res := make([]*model.Message, 0, len(vals))
	for _, v := range vals {
		var m model.Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			log.Error("dropping unreadable queued message", zap.String("to", to), zap.Error(err))
			continue
		}
		res = append(res, &m)
	}
	return res, nil
}

func (s *HttpServer) PutMessagesToCache(ctx context.Context, to string, messages []*model.Message) error {
	if len(messages) == 0 {
		return nil
	}
	vals := make([]any, 0, len(messages))
	for _, m := range messages {
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		vals = append(vals, data)
	}
	return s.queue.RPush(ctx, queueKey(to), vals...)
}
