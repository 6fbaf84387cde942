// Package syncq drains the outbound-mutation queue: messages whose remote
// commit failed are re-driven as asynq tasks until they land. Attempt counts
// and backoff live in asynq's task metadata, keeping the local messages table
// free of retry bookkeeping.
package syncq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"github.com/MuradAles/OrangeAI-sub003/internal/cache"
	"github.com/MuradAles/OrangeAI-sub003/internal/message"
)

// TaskMessageSync re-commits one locally cached message to the remote store.
const TaskMessageSync = "message:sync"

const maxRetry = 10

// Client enqueues sync tasks. It satisfies message.Enqueuer.
type Client struct {
	client *asynq.Client
}

var _ message.Enqueuer = (*Client)(nil)

// NewClient builds an enqueuer from a Redis URL.
func NewClient(redisURL string) (*Client, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	return &Client{client: asynq.NewClient(opt)}, nil
}

// EnqueueMessageSync schedules a re-commit of the message. Tasks are unique
// per message id so a burst of failures collapses into one retry chain.
func (c *Client) EnqueueMessageSync(ctx context.Context, chatID, messageID string) error {
	payload, err := json.Marshal(map[string]string{
		"chatId":    chatID,
		"messageId": messageID,
	})
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskMessageSync, payload)
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.MaxRetry(maxRetry),
		asynq.TaskID(TaskMessageSync+":"+messageID),
	)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return err
	}
	return nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// Worker consumes sync tasks and replays them through the message manager.
type Worker struct {
	logger  *zap.SugaredLogger
	server  *asynq.Server
	manager *message.Manager
}

func NewWorker(logger *zap.SugaredLogger, redisURL string, manager *message.Manager) (*Worker, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}

	server := asynq.NewServer(opt, asynq.Config{Concurrency: 4})

	return &Worker{logger: logger, server: server, manager: manager}, nil
}

// Run blocks processing tasks until Shutdown.
func (w *Worker) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskMessageSync, w.handleMessageSync)
	return w.server.Run(mux)
}

func (w *Worker) Shutdown() {
	w.server.Shutdown()
}

func (w *Worker) handleMessageSync(ctx context.Context, t *asynq.Task) error {
	v, err := fastjson.ParseBytes(t.Payload())
	if err != nil {
		return fmt.Errorf("malformed task payload: %v: %w", err, asynq.SkipRetry)
	}
	chatID := string(v.GetStringBytes("chatId"))
	messageID := string(v.GetStringBytes("messageId"))
	if chatID == "" || messageID == "" {
		return fmt.Errorf("task payload missing ids: %w", asynq.SkipRetry)
	}

	err = w.manager.Resend(ctx, chatID, messageID)
	if errors.Is(err, message.ErrMessageNotFound) {
		// Deleted locally since the failure; nothing left to sync.
		w.logger.Debugf("Dropping sync task for vanished message %s", messageID)
		return nil
	}
	if err != nil {
		w.logger.Warnf("Re-committing message %s failed, will retry: %v", messageID, err)
		return err
	}

	w.logger.Debugf("Re-committed message %s in chat %s", messageID, chatID)
	return nil
}

// DrainPending enqueues a sync task for every cached message still marked
// pending or failed. Called at session start to pick up work left over from a
// previous run.
func DrainPending(ctx context.Context, logger *zap.SugaredLogger, local *cache.Cache, client *Client) error {
	pending, err := local.PendingMessages()
	if err != nil {
		return fmt.Errorf("listing pending messages: %w", err)
	}

	for _, m := range pending {
		if err := client.EnqueueMessageSync(ctx, m.ChatID, m.ID); err != nil {
			return fmt.Errorf("enqueueing pending message %s: %w", m.ID, err)
		}
	}

	if len(pending) > 0 {
		logger.Infof("Queued %d pending messages for re-commit", len(pending))
	}
	return nil
}
