// Package chat creates and finds one-on-one chats.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MuradAles/OrangeAI-sub003/internal/cache"
	"github.com/MuradAles/OrangeAI-sub003/internal/docstore"
	"github.com/MuradAles/OrangeAI-sub003/internal/model"
)

var ErrSameUser = errors.New("a one-on-one chat needs two distinct users")

// Index looks up and creates one-on-one chats against the remote store,
// mirroring results into the local cache.
type Index struct {
	logger *zap.SugaredLogger
	remote docstore.Store
	local  *cache.Cache
}

func NewIndex(logger *zap.SugaredLogger, remote docstore.Store, local *cache.Cache) *Index {
	return &Index{logger: logger, remote: remote, local: local}
}

// FindExistingChat returns the id of the one-on-one chat between the two
// users, or "" when none exists. Absence is not an error.
func (ix *Index) FindExistingChat(ctx context.Context, userA, userB string) (string, error) {
	docs, err := ix.remote.Query(ctx, model.ChatsCollection,
		docstore.Filter{Field: "type", Op: docstore.FilterEq, Value: model.ChatOneOnOne},
		docstore.Filter{Field: "participants", Op: docstore.FilterContains, Value: userA},
	)
	if err != nil {
		return "", fmt.Errorf("querying chats of %s: %w", userA, err)
	}

	for _, doc := range docs {
		chat := model.ChatFromFields(doc.Path.ID, doc.Fields)
		if len(chat.Participants) == 2 && chat.HasParticipant(userB) {
			return chat.ID, nil
		}
	}

	return "", nil
}

// CreateChat commits a fresh one-on-one chat plus both participant records in
// one batch and returns the chat id. It is not idempotent: callers check
// FindExistingChat first, and two racing creators can still end up with two
// chats.
func (ix *Index) CreateChat(ctx context.Context, userA, userB string) (string, error) {
	if userA == userB {
		return "", ErrSameUser
	}

	now := time.Now()
	chat := model.Chat{
		ID:           uuid.NewString(),
		Type:         model.ChatOneOnOne,
		Participants: []string{userA, userB},
		CreatedAt:    now,
		CreatedBy:    userA,
	}

	writes := []docstore.Write{
		{Path: model.ChatPath(chat.ID), Op: docstore.OpSet, Fields: chat.Fields()},
	}
	for _, userID := range chat.Participants {
		p := model.Participant{
			ChatID:   chat.ID,
			UserID:   userID,
			Role:     model.RoleMember,
			JoinedAt: now,
		}
		writes = append(writes, docstore.Write{
			Path:   model.ParticipantPath(chat.ID, userID),
			Op:     docstore.OpSet,
			Fields: p.Fields(),
		})
	}

	if err := ix.remote.Commit(ctx, writes); err != nil {
		return "", fmt.Errorf("creating chat for %s and %s: %w", userA, userB, err)
	}

	if err := ix.local.UpsertChat(chat, 0); err != nil {
		ix.logger.Errorf("mirroring chat %s to local cache: %v", chat.ID, err)
	}

	ix.logger.Debugf("Created one-on-one chat %s (%s, %s)", chat.ID, userA, userB)

	return chat.ID, nil
}
