// Package redisstore implements the presence.Store on Redis: presence and
// typing records as JSON values, change fanout over pub/sub. Redis has no
// server-side on-disconnect primitive, so registered disconnect fallbacks are
// held in the session and flushed when it closes without a cancel.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MuradAles/OrangeAI-sub003/internal/presence"
)

// Store implements presence.Store over one Redis client.
type Store struct {
	logger *zap.SugaredLogger
	client *redis.Client

	mu        sync.Mutex
	fallbacks map[string]presence.Record
}

var _ presence.Store = (*Store)(nil)

// New connects to Redis using a go-redis URL ("redis://host:port/db") and
// verifies the connection with a ping.
func New(ctx context.Context, logger *zap.SugaredLogger, url string) (*Store, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return &Store{
		logger:    logger,
		client:    client,
		fallbacks: make(map[string]presence.Record),
	}, nil
}

func presenceKey(userID string) string { return "presence:" + userID }

func typingKey(chatID, userID string) string { return "typing:" + chatID + ":" + userID }

func typingChannel(chatID string) string { return "typing:" + chatID }

func (s *Store) SetPresence(ctx context.Context, rec presence.Record) error {
	payload, err := json.Marshal(map[string]interface{}{
		"userId":   rec.UserID,
		"isOnline": rec.IsOnline,
		"userName": rec.UserName,
		"lastSeen": rec.LastSeen.UnixMilli(),
	})
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, presenceKey(rec.UserID), payload, 0).Err(); err != nil {
		return mapRedisError(err)
	}
	if err := s.client.Publish(ctx, presenceKey(rec.UserID), payload).Err(); err != nil {
		return mapRedisError(err)
	}
	return nil
}

// RegisterDisconnect arms the compensating offline write for this session.
// Re-registering overwrites the previous record.
func (s *Store) RegisterDisconnect(_ context.Context, rec presence.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallbacks[rec.UserID] = rec
	return nil
}

// CancelDisconnect disarms the fallback so it cannot fire on Close.
func (s *Store) CancelDisconnect(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fallbacks, userID)
	return nil
}

func (s *Store) SetTyping(ctx context.Context, rec presence.TypingRecord) error {
	payload, err := json.Marshal(map[string]interface{}{
		"chatId":    rec.ChatID,
		"userId":    rec.UserID,
		"userName":  rec.UserName,
		"timestamp": rec.Timestamp.UnixMilli(),
	})
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, typingKey(rec.ChatID, rec.UserID), payload, 0).Err(); err != nil {
		return mapRedisError(err)
	}
	if err := s.client.Publish(ctx, typingChannel(rec.ChatID), rec.UserID).Err(); err != nil {
		return mapRedisError(err)
	}
	return nil
}

func (s *Store) ClearTyping(ctx context.Context, chatID, userID string) error {
	if err := s.client.Del(ctx, typingKey(chatID, userID)).Err(); err != nil {
		return mapRedisError(err)
	}
	if err := s.client.Publish(ctx, typingChannel(chatID), userID).Err(); err != nil {
		return mapRedisError(err)
	}
	return nil
}

// SubscribePresence streams one user's presence changes. The current record,
// if any, is delivered first.
func (s *Store) SubscribePresence(ctx context.Context, userID string, onData func(presence.Record), onError func(error)) (func(), error) {
	pubsub := s.client.Subscribe(ctx, presenceKey(userID))

	go func() {
		if raw, err := s.client.Get(ctx, presenceKey(userID)).Bytes(); err == nil {
			if rec, err := decodePresence(raw); err == nil {
				onData(rec)
			}
		}

		for msg := range pubsub.Channel() {
			rec, err := decodePresence([]byte(msg.Payload))
			if err != nil {
				onError(fmt.Errorf("decoding presence update: %w", err))
				continue
			}
			onData(rec)
		}
	}()

	unsubscribe := func() {
		if err := pubsub.Close(); err != nil {
			s.logger.Debugf("closing presence subscription of %s: %v", userID, err)
		}
	}
	return unsubscribe, nil
}

// SubscribeTyping streams the full typing set of a chat on every change. The
// initial snapshot is delivered before the first change.
func (s *Store) SubscribeTyping(ctx context.Context, chatID string, onData func([]presence.TypingRecord), onError func(error)) (func(), error) {
	pubsub := s.client.Subscribe(ctx, typingChannel(chatID))

	deliver := func() {
		records, err := s.typingSnapshot(ctx, chatID)
		if err != nil {
			onError(err)
			return
		}
		onData(records)
	}

	go func() {
		deliver()
		for range pubsub.Channel() {
			deliver()
		}
	}()

	unsubscribe := func() {
		if err := pubsub.Close(); err != nil {
			s.logger.Debugf("closing typing subscription of %s: %v", chatID, err)
		}
	}
	return unsubscribe, nil
}

func (s *Store) typingSnapshot(ctx context.Context, chatID string) ([]presence.TypingRecord, error) {
	var records []presence.TypingRecord

	iter := s.client.Scan(ctx, 0, typingKey(chatID, "*"), 0).Iterator()
	for iter.Next(ctx) {
		raw, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, mapRedisError(err)
		}
		rec, err := decodeTyping(raw)
		if err != nil {
			s.logger.Debugf("skipping malformed typing record %s: %v", iter.Val(), err)
			continue
		}
		records = append(records, rec)
	}
	if err := iter.Err(); err != nil {
		return nil, mapRedisError(err)
	}

	return records, nil
}

// Close flushes still-armed disconnect fallbacks and releases the client. A
// session that called SetOffline has no fallbacks left by this point.
func (s *Store) Close() error {
	s.mu.Lock()
	pending := make([]presence.Record, 0, len(s.fallbacks))
	for _, rec := range s.fallbacks {
		pending = append(pending, rec)
	}
	s.fallbacks = make(map[string]presence.Record)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for _, rec := range pending {
		rec.LastSeen = time.Now()
		if err := s.SetPresence(ctx, rec); err != nil {
			s.logger.Debugf("flushing disconnect fallback for %s: %v", rec.UserID, err)
		}
	}

	return s.client.Close()
}

func decodePresence(raw []byte) (presence.Record, error) {
	var v struct {
		UserID   string `json:"userId"`
		IsOnline bool   `json:"isOnline"`
		UserName string `json:"userName"`
		LastSeen int64  `json:"lastSeen"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return presence.Record{}, err
	}
	return presence.Record{
		UserID:   v.UserID,
		IsOnline: v.IsOnline,
		UserName: v.UserName,
		LastSeen: time.UnixMilli(v.LastSeen),
	}, nil
}

func decodeTyping(raw []byte) (presence.TypingRecord, error) {
	var v struct {
		ChatID    string `json:"chatId"`
		UserID    string `json:"userId"`
		UserName  string `json:"userName"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return presence.TypingRecord{}, err
	}
	return presence.TypingRecord{
		ChatID:    v.ChatID,
		UserID:    v.UserID,
		UserName:  v.UserName,
		Timestamp: time.UnixMilli(v.Timestamp),
	}, nil
}

// mapRedisError surfaces ACL failures as the permission sentinel so the
// tracker can swallow them on the sign-out path.
func mapRedisError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "NOPERM") || strings.Contains(msg, "NOAUTH") {
		return fmt.Errorf("%w: %v", presence.ErrPermissionDenied, err)
	}
	return err
}
