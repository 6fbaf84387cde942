package message

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MuradAles/OrangeAI-sub003/internal/cache"
	"github.com/MuradAles/OrangeAI-sub003/internal/docstore"
	"github.com/MuradAles/OrangeAI-sub003/internal/docstore/memstore"
	"github.com/MuradAles/OrangeAI-sub003/internal/model"
)

// flakyStore fails commits on demand, standing in for a dropped connection.
type flakyStore struct {
	docstore.Store
	failing bool
}

func (f *flakyStore) Commit(ctx context.Context, writes []docstore.Write) error {
	if f.failing {
		return errors.New("connection reset")
	}
	return f.Store.Commit(ctx, writes)
}

type recordingQueue struct {
	enqueued []string
}

func (q *recordingQueue) EnqueueMessageSync(_ context.Context, _, messageID string) error {
	q.enqueued = append(q.enqueued, messageID)
	return nil
}

func bootstrapManager(t *testing.T) (*Manager, *flakyStore, *recordingQueue) {
	t.Helper()

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	local, err := cache.New(logger.Sugar(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })

	remote := &flakyStore{Store: memstore.New()}
	queue := &recordingQueue{}
	return NewManager(logger.Sugar(), remote, local, queue), remote, queue
}

func TestSendRequiresContent(t *testing.T) {
	t.Parallel()

	mg, _, _ := bootstrapManager(t)
	_, err := mg.Send(context.Background(), SendRequest{ChatID: "c1", SenderID: "u1"})
	require.ErrorIs(t, err, ErrNoContent)
}

func TestSendRejectsTextPlusAttachment(t *testing.T) {
	t.Parallel()

	mg, _, _ := bootstrapManager(t)
	_, err := mg.Send(context.Background(), SendRequest{
		ChatID:     "c1",
		SenderID:   "u1",
		Text:       "hi",
		Attachment: &model.Attachment{ImageURL: "https://img"},
	})
	require.ErrorIs(t, err, ErrAmbiguousContent)
}

func TestSendWritesRemoteAndLocal(t *testing.T) {
	t.Parallel()

	mg, remote, _ := bootstrapManager(t)
	id, err := mg.Send(context.Background(), SendRequest{ChatID: "c1", SenderID: "u1", Text: "hello"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	doc, err := remote.Get(context.Background(), model.MessagePath("c1", id))
	require.NoError(t, err)
	msg := model.MessageFromFields("c1", id, doc.Fields)
	require.Equal(t, "hello", msg.Text)
	require.Equal(t, model.StatusSending, msg.Status)

	local, err := mg.local.Message("c1", id)
	require.NoError(t, err)
	require.Equal(t, model.SyncSynced, local.SyncStatus)

	chatDoc, err := remote.Get(context.Background(), model.ChatPath("c1"))
	require.NoError(t, err)
	require.Equal(t, "hello", chatDoc.Fields["lastMessageText"])
	require.Equal(t, "u1", chatDoc.Fields["lastMessageSenderId"])
}

func TestSendReusesExplicitID(t *testing.T) {
	t.Parallel()

	mg, _, _ := bootstrapManager(t)
	id, err := mg.Send(context.Background(), SendRequest{
		ChatID: "c1", SenderID: "u1", Text: "hello", ExplicitID: "msg-42",
	})
	require.NoError(t, err)
	require.Equal(t, "msg-42", id)
}

func TestSendCommitFailure(t *testing.T) {
	t.Parallel()

	mg, remote, queue := bootstrapManager(t)
	remote.failing = true

	id, err := mg.Send(context.Background(), SendRequest{ChatID: "c1", SenderID: "u1", Text: "hello"})
	require.Error(t, err)
	require.NotEmpty(t, id)

	// The message stays visible locally, flagged failed, and a retry is queued.
	local, err := mg.local.Message("c1", id)
	require.NoError(t, err)
	require.Equal(t, model.SyncFailed, local.SyncStatus)
	require.Equal(t, "hello", local.Text)
	require.Equal(t, []string{id}, queue.enqueued)
}

func TestResendAfterFailure(t *testing.T) {
	t.Parallel()

	mg, remote, _ := bootstrapManager(t)
	remote.failing = true

	id, err := mg.Send(context.Background(), SendRequest{ChatID: "c1", SenderID: "u1", Text: "hello"})
	require.Error(t, err)

	remote.failing = false
	require.NoError(t, mg.Resend(context.Background(), "c1", id))

	local, err := mg.local.Message("c1", id)
	require.NoError(t, err)
	require.Equal(t, model.SyncSynced, local.SyncStatus)

	_, err = remote.Get(context.Background(), model.MessagePath("c1", id))
	require.NoError(t, err)
}

func TestResendKeepsNewerChatPreview(t *testing.T) {
	t.Parallel()

	mg, remote, _ := bootstrapManager(t)
	base := time.UnixMilli(1700000000000)
	step := 0
	mg.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Millisecond)
	}

	remote.failing = true
	oldID, err := mg.Send(context.Background(), SendRequest{ChatID: "c1", SenderID: "u1", Text: "old failed"})
	require.Error(t, err)

	remote.failing = false
	_, err = mg.Send(context.Background(), SendRequest{ChatID: "c1", SenderID: "u2", Text: "newest"})
	require.NoError(t, err)

	// The late replay lands the message but must not rewind the preview.
	require.NoError(t, mg.Resend(context.Background(), "c1", oldID))

	_, err = remote.Get(context.Background(), model.MessagePath("c1", oldID))
	require.NoError(t, err)

	chatDoc, err := remote.Get(context.Background(), model.ChatPath("c1"))
	require.NoError(t, err)
	require.Equal(t, "newest", chatDoc.Fields["lastMessageText"])
	require.Equal(t, "u2", chatDoc.Fields["lastMessageSenderId"])

	local, err := mg.local.Message("c1", oldID)
	require.NoError(t, err)
	require.Equal(t, model.SyncSynced, local.SyncStatus)
}

func TestResendUpdatesPreviewWhenStillNewest(t *testing.T) {
	t.Parallel()

	mg, remote, _ := bootstrapManager(t)
	remote.failing = true
	id, err := mg.Send(context.Background(), SendRequest{ChatID: "c1", SenderID: "u1", Text: "only message"})
	require.Error(t, err)

	remote.failing = false
	require.NoError(t, mg.Resend(context.Background(), "c1", id))

	chatDoc, err := remote.Get(context.Background(), model.ChatPath("c1"))
	require.NoError(t, err)
	require.Equal(t, "only message", chatDoc.Fields["lastMessageText"])
}

func sendTestMessage(t *testing.T, mg *Manager) string {
	t.Helper()
	id, err := mg.Send(context.Background(), SendRequest{ChatID: "c1", SenderID: "u1", Text: "hello"})
	require.NoError(t, err)
	return id
}

func TestUpdateStatusStepsForward(t *testing.T) {
	t.Parallel()

	mg, remote, _ := bootstrapManager(t)
	id := sendTestMessage(t, mg)

	for _, status := range []string{model.StatusSent, model.StatusDelivered, model.StatusRead} {
		require.NoError(t, mg.UpdateStatus(context.Background(), "c1", id, status))
	}

	doc, err := remote.Get(context.Background(), model.MessagePath("c1", id))
	require.NoError(t, err)
	require.Equal(t, model.StatusRead, doc.Fields["status"])
}

func TestUpdateStatusRejectsSkip(t *testing.T) {
	t.Parallel()

	mg, _, _ := bootstrapManager(t)
	id := sendTestMessage(t, mg)

	err := mg.UpdateStatus(context.Background(), "c1", id, model.StatusDelivered)
	require.ErrorIs(t, err, ErrBadStatusTransition)
}

func TestUpdateStatusRejectsRegression(t *testing.T) {
	t.Parallel()

	mg, _, _ := bootstrapManager(t)
	id := sendTestMessage(t, mg)

	for _, status := range []string{model.StatusSent, model.StatusDelivered, model.StatusRead} {
		require.NoError(t, mg.UpdateStatus(context.Background(), "c1", id, status))
	}

	err := mg.UpdateStatus(context.Background(), "c1", id, model.StatusSent)
	require.ErrorIs(t, err, ErrBadStatusTransition)
}

func TestUpdateStatusRetryFromFailed(t *testing.T) {
	t.Parallel()

	mg, _, _ := bootstrapManager(t)
	id := sendTestMessage(t, mg)

	require.NoError(t, mg.UpdateStatus(context.Background(), "c1", id, model.StatusFailed))
	require.NoError(t, mg.UpdateStatus(context.Background(), "c1", id, model.StatusSending))
}

func TestUpdateStatusSameIsNoOp(t *testing.T) {
	t.Parallel()

	mg, _, _ := bootstrapManager(t)
	id := sendTestMessage(t, mg)

	require.NoError(t, mg.UpdateStatus(context.Background(), "c1", id, model.StatusSending))
}

func TestUpdateStatusMissingMessage(t *testing.T) {
	t.Parallel()

	mg, _, _ := bootstrapManager(t)
	err := mg.UpdateStatus(context.Background(), "c1", "ghost", model.StatusSent)
	require.ErrorIs(t, err, ErrMessageNotFound)
}

func TestAddReactionIdempotent(t *testing.T) {
	t.Parallel()

	mg, remote, _ := bootstrapManager(t)
	id := sendTestMessage(t, mg)

	require.NoError(t, mg.AddReaction(context.Background(), "c1", id, "👍", "u2"))
	require.NoError(t, mg.AddReaction(context.Background(), "c1", id, "👍", "u2"))

	doc, err := remote.Get(context.Background(), model.MessagePath("c1", id))
	require.NoError(t, err)
	msg := model.MessageFromFields("c1", id, doc.Fields)
	require.Equal(t, []string{"u2"}, msg.Reactions["👍"])
}

func TestConcurrentReactionsBothKept(t *testing.T) {
	t.Parallel()

	mg, remote, _ := bootstrapManager(t)
	id := sendTestMessage(t, mg)

	// Two users on the same emoji through independent commits: the set union
	// keeps both, no last-write-wins on the map.
	require.NoError(t, mg.AddReaction(context.Background(), "c1", id, "🔥", "u2"))
	require.NoError(t, mg.AddReaction(context.Background(), "c1", id, "🔥", "u3"))

	doc, err := remote.Get(context.Background(), model.MessagePath("c1", id))
	require.NoError(t, err)
	msg := model.MessageFromFields("c1", id, doc.Fields)
	require.ElementsMatch(t, []string{"u2", "u3"}, msg.Reactions["🔥"])
}

func TestRemoveAbsentReactionNoOp(t *testing.T) {
	t.Parallel()

	mg, _, _ := bootstrapManager(t)
	id := sendTestMessage(t, mg)

	require.NoError(t, mg.RemoveReaction(context.Background(), "c1", id, "👍", "ghost"))
}

func TestRemoveReaction(t *testing.T) {
	t.Parallel()

	mg, remote, _ := bootstrapManager(t)
	id := sendTestMessage(t, mg)

	require.NoError(t, mg.AddReaction(context.Background(), "c1", id, "👍", "u2"))
	require.NoError(t, mg.RemoveReaction(context.Background(), "c1", id, "👍", "u2"))

	doc, err := remote.Get(context.Background(), model.MessagePath("c1", id))
	require.NoError(t, err)
	msg := model.MessageFromFields("c1", id, doc.Fields)
	require.Empty(t, msg.Reactions["👍"])
}

func TestDeleteForEveryoneLeavesTombstone(t *testing.T) {
	t.Parallel()

	mg, remote, _ := bootstrapManager(t)
	id := sendTestMessage(t, mg)

	require.NoError(t, mg.DeleteForEveryone(context.Background(), "c1", id))

	doc, err := remote.Get(context.Background(), model.MessagePath("c1", id))
	require.NoError(t, err)
	msg := model.MessageFromFields("c1", id, doc.Fields)
	require.True(t, msg.Tombstoned())
	require.False(t, msg.DeletedAt.IsZero())
	// Content is retained for clients that already fetched it.
	require.Equal(t, "hello", msg.Text)
}

func TestDeleteForMeOnlyHidesForThatUser(t *testing.T) {
	t.Parallel()

	mg, remote, _ := bootstrapManager(t)
	id := sendTestMessage(t, mg)

	require.NoError(t, mg.DeleteForMe(context.Background(), "c1", id, "u2"))

	doc, err := remote.Get(context.Background(), model.MessagePath("c1", id))
	require.NoError(t, err)
	msg := model.MessageFromFields("c1", id, doc.Fields)
	require.True(t, msg.DeletedFor("u2"))
	require.False(t, msg.DeletedFor("u1"))
	require.False(t, msg.Tombstoned())
}

func TestSendImageMessage(t *testing.T) {
	t.Parallel()

	mg, remote, _ := bootstrapManager(t)
	id, err := mg.Send(context.Background(), SendRequest{
		ChatID:   "c1",
		SenderID: "u1",
		Attachment: &model.Attachment{
			ImageURL:     "https://cdn/image.jpg",
			ThumbnailURL: "https://cdn/thumb.jpg",
			Caption:      "sunset",
		},
	})
	require.NoError(t, err)

	doc, err := remote.Get(context.Background(), model.MessagePath("c1", id))
	require.NoError(t, err)
	msg := model.MessageFromFields("c1", id, doc.Fields)
	require.Equal(t, model.TypeImage, msg.Type)
	require.Equal(t, "https://cdn/image.jpg", msg.ImageURL)
	require.Equal(t, "https://cdn/thumb.jpg", msg.ThumbnailURL)
	require.Equal(t, "sunset", msg.Caption)

	chatDoc, err := remote.Get(context.Background(), model.ChatPath("c1"))
	require.NoError(t, err)
	require.Equal(t, "📷 sunset", chatDoc.Fields["lastMessageText"])
}

func TestMarkChatRead(t *testing.T) {
	t.Parallel()

	mg, remote, _ := bootstrapManager(t)
	id := sendTestMessage(t, mg)

	before := time.Now()
	require.NoError(t, mg.MarkChatRead(context.Background(), "c1", "u2", id))

	doc, err := remote.Get(context.Background(), model.ParticipantPath("c1", "u2"))
	require.NoError(t, err)
	p := model.ParticipantFromFields("c1", "u2", doc.Fields)
	require.Equal(t, id, p.LastReadMessageID)
	require.False(t, p.LastReadTimestamp.Before(before.Truncate(time.Millisecond)))
	require.Zero(t, p.UnreadCount)

	pos, err := mg.local.ScrollPosition("c1")
	require.NoError(t, err)
	require.Equal(t, id, pos.LastReadMessageID)
	require.Zero(t, pos.UnreadCount)
}
