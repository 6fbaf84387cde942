// Package message implements the message lifecycle: send, delivery status
// progression, reactions, deletion tombstones and read marks.
package message

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

var (
	ErrNoContent           = errors.New("message needs text or an attachment")
	ErrAmbiguousContent    = errors.New("message cannot carry both text and an attachment")
	ErrBadStatusTransition = errors.New("illegal message status transition")
	ErrMessageNotFound     = errors.New("message does not exist")
	ErrReactionEmptyEmoji  = errors.New("reaction emoji must not be empty")
	ErrReactionEmptyUser   = errors.New("reaction user must not be empty")
)

// Enqueuer schedules a failed outbound message for background re-commit.
// A nil Enqueuer disables retry scheduling.
type Enqueuer interface {
	EnqueueMessageSync(ctx context.Context, chatID, messageID string) error
}

// Manager drives the message protocol against the remote store and mirrors
// every result into the local cache before returning.
type Manager struct {
	logger *zap.SugaredLogger
	remote docstore.Store
	local  *cache.Cache
	queue  Enqueuer
	now    func() time.Time
}

func NewManager(logger *zap.SugaredLogger, remote docstore.Store, local *cache.Cache, queue Enqueuer) *Manager {
	return &Manager{
		logger: logger,
		remote: remote,
		local:  local,
		queue:  queue,
		now:    time.Now,
	}
}

// SendRequest carries the parameters of Send. ExplicitID lets a retrying
// client reuse a stable id so duplicates collapse onto one document.
type SendRequest struct {
	ChatID     string
	SenderID   string
	Text       string
	ExplicitID string
	Attachment *model.Attachment
}

// Send validates the request, writes the message locally at status "sending"
// and commits it remotely together with the chat's lastMessage fields. The
// message id is returned as soon as the commit round trip resolves; delivery
// status advances later through UpdateStatus. A failed commit surfaces to the
// caller, flips the local syncStatus to failed and schedules a background
// retry.
func (mg *Manager) Send(ctx context.Context, req SendRequest) (string, error) {
	hasText := req.Text != ""
	hasAttachment := req.Attachment != nil && req.Attachment.ImageURL != ""
	if !hasText && !hasAttachment {
		return "", ErrNoContent
	}
	if hasText && hasAttachment {
		return "", ErrAmbiguousContent
	}

	id := req.ExplicitID
	if id == "" {
		id = uuid.NewString()
	}

	msg := model.Message{
		ID:         id,
		ChatID:     req.ChatID,
		SenderID:   req.SenderID,
		Type:       model.TypeText,
		Text:       req.Text,
		Timestamp:  mg.now(),
		Status:     model.StatusSending,
		SyncStatus: model.SyncPending,
	}
	if hasAttachment {
		msg.Type = model.TypeImage
		msg.ImageURL = req.Attachment.ImageURL
		msg.ThumbnailURL = req.Attachment.ThumbnailURL
		msg.Caption = req.Attachment.Caption
	}

	// Local write first: the message is visible offline regardless of how the
	// remote commit goes.
	if err := mg.local.UpsertMessage(msg); err != nil {
		return "", fmt.Errorf("caching outbound message: %w", err)
	}

	if err := mg.commitMessage(ctx, msg, true); err != nil {
		if cerr := mg.local.SetMessageSyncStatus(msg.ChatID, msg.ID, model.SyncFailed); cerr != nil {
			mg.logger.Errorf("marking message %s sync-failed: %v", msg.ID, cerr)
		}
		if mg.queue != nil {
			if qerr := mg.queue.EnqueueMessageSync(ctx, msg.ChatID, msg.ID); qerr != nil {
				mg.logger.Errorf("scheduling retry for message %s: %v", msg.ID, qerr)
			}
		}
		return id, fmt.Errorf("committing message %s: %w", msg.ID, err)
	}

	if err := mg.local.SetMessageSyncStatus(msg.ChatID, msg.ID, model.SyncSynced); err != nil {
		mg.logger.Errorf("marking message %s synced: %v", msg.ID, err)
	}

	mg.logger.Debugf("Sent message %s in chat %s", msg.ID, msg.ChatID)

	return id, nil
}

// commitMessage writes the message document and, when withPreview is set, the
// chat preview fields in the same batch.
func (mg *Manager) commitMessage(ctx context.Context, msg model.Message, withPreview bool) error {
	writes := []docstore.Write{
		{Path: model.MessagePath(msg.ChatID, msg.ID), Op: docstore.OpSet, Fields: msg.Fields()},
	}

	if withPreview {
		preview := msg.Text
		if msg.Type == model.TypeImage {
			preview = "📷 Photo"
			if msg.Caption != "" {
				preview = "📷 " + msg.Caption
			}
		}
		writes = append(writes, docstore.Write{
			Path: model.ChatPath(msg.ChatID), Op: docstore.OpMerge, Fields: map[string]interface{}{
				"lastMessageText":     preview,
				"lastMessageTime":     model.EncodeTime(msg.Timestamp),
				"lastMessageSenderId": msg.SenderID,
				"lastMessageStatus":   msg.Status,
			},
		})
	}

	return mg.remote.Commit(ctx, writes)
}

// Resend re-commits a cached message whose earlier commit failed. Used by the
// sync worker; the message keeps its id so the retry is idempotent. The chat
// preview is only touched when the replayed message is still the chat's
// newest, so a late retry cannot rewind lastMessage* past a later send.
func (mg *Manager) Resend(ctx context.Context, chatID, messageID string) error {
	msg, err := mg.local.Message(chatID, messageID)
	if err != nil {
		if errors.Is(err, cache.ErrNotCached) {
			return ErrMessageNotFound
		}
		return err
	}
	if msg.SyncStatus == model.SyncSynced {
		return nil
	}

	if err := mg.commitMessage(ctx, msg, mg.previewCurrent(ctx, msg)); err != nil {
		if cerr := mg.local.SetMessageSyncStatus(chatID, messageID, model.SyncFailed); cerr != nil {
			mg.logger.Errorf("marking message %s sync-failed: %v", messageID, cerr)
		}
		return err
	}

	return mg.local.SetMessageSyncStatus(chatID, messageID, model.SyncSynced)
}

// previewCurrent reports whether the message is at least as new as the chat's
// current lastMessageTime. Equal timestamps keep the merge so re-replaying the
// same message stays idempotent.
func (mg *Manager) previewCurrent(ctx context.Context, msg model.Message) bool {
	doc, err := mg.remote.Get(ctx, model.ChatPath(msg.ChatID))
	if err != nil {
		return true
	}
	return !msg.Timestamp.Before(model.DecodeTime(doc.Fields["lastMessageTime"]))
}

// UpdateStatus advances the delivery status. The pipeline moves strictly one
// step forward (sending→sent→delivered→read); failed is reachable from any
// state and exits only back to sending on retry. Regressions and skips are
// rejected with ErrBadStatusTransition; rewriting the current status is a
// no-op.
func (mg *Manager) UpdateStatus(ctx context.Context, chatID, messageID, status string) error {
	doc, err := mg.remote.Get(ctx, model.MessagePath(chatID, messageID))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrMessageNotFound
		}
		return err
	}

	current := model.MessageFromFields(chatID, messageID, doc.Fields).Status
	if current == status {
		return nil
	}
	if !model.ValidStatusTransition(current, status) {
		return fmt.Errorf("%w: %s→%s", ErrBadStatusTransition, current, status)
	}

	err = mg.remote.Commit(ctx, []docstore.Write{
		{Path: model.MessagePath(chatID, messageID), Op: docstore.OpMerge,
			Fields: map[string]interface{}{"status": status}},
	})
	if err != nil {
		return fmt.Errorf("updating status of message %s: %w", messageID, err)
	}

	if err := mg.local.SetMessageStatus(chatID, messageID, status); err != nil && !errors.Is(err, cache.ErrNotCached) {
		mg.logger.Errorf("mirroring status of message %s: %v", messageID, err)
	}

	return nil
}

// DeleteForEveryone tombstones the message. Content stays in place so clients
// holding an old snapshot can render a deletion placeholder.
func (mg *Manager) DeleteForEveryone(ctx context.Context, chatID, messageID string) error {
	now := mg.now()
	err := mg.remote.Commit(ctx, []docstore.Write{
		{Path: model.MessagePath(chatID, messageID), Op: docstore.OpMerge,
			Fields: map[string]interface{}{
				"deletedForEveryone": true,
				"deletedAt":          model.EncodeTime(now),
			}},
	})
	if err != nil {
		return fmt.Errorf("deleting message %s for everyone: %w", messageID, err)
	}

	if err := mg.local.MarkMessageDeleted(chatID, messageID, "", now); err != nil && !errors.Is(err, cache.ErrNotCached) {
		mg.logger.Errorf("mirroring tombstone of message %s: %v", messageID, err)
	}

	return nil
}

// DeleteForMe hides the message for one user only; other participants keep
// seeing it.
func (mg *Manager) DeleteForMe(ctx context.Context, chatID, messageID, userID string) error {
	err := mg.remote.Commit(ctx, []docstore.Write{
		{Path: model.MessagePath(chatID, messageID), Op: docstore.OpMerge,
			Transforms: []docstore.Transform{docstore.Union("deletedForMe", userID)}},
	})
	if err != nil {
		return fmt.Errorf("deleting message %s for %s: %w", messageID, userID, err)
	}

	if err := mg.local.MarkMessageDeleted(chatID, messageID, userID, mg.now()); err != nil && !errors.Is(err, cache.ErrNotCached) {
		mg.logger.Errorf("mirroring per-user delete of message %s: %v", messageID, err)
	}

	return nil
}

// AddReaction adds the user under the emoji. The set union happens inside the
// store commit, so two users reacting concurrently both land; reacting twice
// with the same pair is a no-op.
func (mg *Manager) AddReaction(ctx context.Context, chatID, messageID, emoji, userID string) error {
	if emoji == "" {
		return ErrReactionEmptyEmoji
	}
	if userID == "" {
		return ErrReactionEmptyUser
	}

	err := mg.remote.Commit(ctx, []docstore.Write{
		{Path: model.MessagePath(chatID, messageID), Op: docstore.OpMerge,
			Transforms: []docstore.Transform{docstore.Union("reactions."+emoji, userID)}},
	})
	if err != nil {
		return fmt.Errorf("adding reaction to message %s: %w", messageID, err)
	}

	mg.mirrorReactions(ctx, chatID, messageID)
	return nil
}

// RemoveReaction removes the user from the emoji's set; removing an absent
// reaction is a no-op.
func (mg *Manager) RemoveReaction(ctx context.Context, chatID, messageID, emoji, userID string) error {
	if emoji == "" {
		return ErrReactionEmptyEmoji
	}
	if userID == "" {
		return ErrReactionEmptyUser
	}

	err := mg.remote.Commit(ctx, []docstore.Write{
		{Path: model.MessagePath(chatID, messageID), Op: docstore.OpMerge,
			Transforms: []docstore.Transform{docstore.Remove("reactions."+emoji, userID)}},
	})
	if err != nil {
		return fmt.Errorf("removing reaction from message %s: %w", messageID, err)
	}

	mg.mirrorReactions(ctx, chatID, messageID)
	return nil
}

// mirrorReactions refreshes the cached copy from the post-commit remote state.
func (mg *Manager) mirrorReactions(ctx context.Context, chatID, messageID string) {
	doc, err := mg.remote.Get(ctx, model.MessagePath(chatID, messageID))
	if err != nil {
		mg.logger.Errorf("refreshing message %s after reaction: %v", messageID, err)
		return
	}

	remote := model.MessageFromFields(chatID, messageID, doc.Fields)
	local, err := mg.local.Message(chatID, messageID)
	if err == nil {
		remote.SyncStatus = local.SyncStatus
	} else {
		remote.SyncStatus = model.SyncSynced
	}
	if err := mg.local.UpsertMessage(remote); err != nil {
		mg.logger.Errorf("mirroring reactions of message %s: %v", messageID, err)
	}
}

// MarkChatRead records that the user has read up to messageID: participant
// read markers and unread count remotely, scroll position locally.
func (mg *Manager) MarkChatRead(ctx context.Context, chatID, userID, messageID string) error {
	now := mg.now()
	err := mg.remote.Commit(ctx, []docstore.Write{
		{Path: model.ParticipantPath(chatID, userID), Op: docstore.OpMerge,
			Fields: map[string]interface{}{
				"lastReadMessageId": messageID,
				"lastReadTimestamp": model.EncodeTime(now),
				"unreadCount":       0,
			}},
	})
	if err != nil {
		return fmt.Errorf("marking chat %s read for %s: %w", chatID, userID, err)
	}

	pos, err := mg.local.ScrollPosition(chatID)
	if err != nil && !errors.Is(err, cache.ErrNotCached) {
		return err
	}
	pos.ChatID = chatID
	pos.LastReadMessageID = messageID
	pos.UnreadCount = 0
	return mg.local.SaveScrollPosition(pos)
}
