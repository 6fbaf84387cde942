package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MuradAles/OrangeAI-sub003/internal/docstore"
)

func TestCommitAndGet(t *testing.T) {
	t.Parallel()

	s := New()
	path := docstore.Path{Collection: "chats", ID: "c1"}

	err := s.Commit(context.Background(), []docstore.Write{
		{Path: path, Op: docstore.OpSet, Fields: map[string]interface{}{"type": "group"}},
	})
	require.NoError(t, err)

	doc, err := s.Get(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, "group", doc.Fields["type"])
	require.Equal(t, int64(1), doc.Version)
	require.Equal(t, 1, s.Commits())
	require.Equal(t, 1, s.Writes())
}

func TestGetMissing(t *testing.T) {
	t.Parallel()

	s := New()
	_, err := s.Get(context.Background(), docstore.Path{Collection: "chats", ID: "nope"})
	require.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestEmptyCommitRejected(t *testing.T) {
	t.Parallel()

	s := New()
	err := s.Commit(context.Background(), nil)
	require.ErrorIs(t, err, docstore.ErrEmptyCommit)
}

func TestCommitAllOrNothing(t *testing.T) {
	t.Parallel()

	s := New()
	good := docstore.Path{Collection: "chats", ID: "c1"}

	err := s.Commit(context.Background(), []docstore.Write{
		{Path: good, Op: docstore.OpSet, Fields: map[string]interface{}{"participants": []interface{}{"u1"}}},
		// Transform against a scalar field must fail the whole batch.
		{Path: docstore.Path{Collection: "chats", ID: "c2"}, Op: docstore.OpMerge,
			Fields:     map[string]interface{}{"name": "x"},
			Transforms: []docstore.Transform{docstore.Union("name", "u1")}},
	})
	require.ErrorIs(t, err, docstore.ErrBadTransform)

	_, err = s.Get(context.Background(), good)
	require.ErrorIs(t, err, docstore.ErrNotFound)
	require.Equal(t, 0, s.Commits())
}

func TestMergeKeepsOtherFields(t *testing.T) {
	t.Parallel()

	s := New()
	path := docstore.Path{Collection: "chats", ID: "c1"}

	require.NoError(t, s.Commit(context.Background(), []docstore.Write{
		{Path: path, Op: docstore.OpSet, Fields: map[string]interface{}{"a": "1", "b": "2"}},
	}))
	require.NoError(t, s.Commit(context.Background(), []docstore.Write{
		{Path: path, Op: docstore.OpMerge, Fields: map[string]interface{}{"b": "3"}},
	}))

	doc, err := s.Get(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, "1", doc.Fields["a"])
	require.Equal(t, "3", doc.Fields["b"])
}

func TestUnionTransformIdempotent(t *testing.T) {
	t.Parallel()

	s := New()
	path := docstore.Path{Collection: "msgs", ID: "m1"}

	require.NoError(t, s.Commit(context.Background(), []docstore.Write{
		{Path: path, Op: docstore.OpSet, Fields: map[string]interface{}{}},
	}))

	for i := 0; i < 2; i++ {
		require.NoError(t, s.Commit(context.Background(), []docstore.Write{
			{Path: path, Op: docstore.OpMerge,
				Transforms: []docstore.Transform{docstore.Union("reactions.👍", "u1")}},
		}))
	}

	doc, err := s.Get(context.Background(), path)
	require.NoError(t, err)
	reactions := doc.Fields["reactions"].(map[string]interface{})
	require.Equal(t, []interface{}{"u1"}, reactions["👍"])
}

func TestRemoveTransformDropsEmptySet(t *testing.T) {
	t.Parallel()

	s := New()
	path := docstore.Path{Collection: "msgs", ID: "m1"}

	require.NoError(t, s.Commit(context.Background(), []docstore.Write{
		{Path: path, Op: docstore.OpSet, Fields: map[string]interface{}{}},
	}))
	require.NoError(t, s.Commit(context.Background(), []docstore.Write{
		{Path: path, Op: docstore.OpMerge,
			Transforms: []docstore.Transform{docstore.Union("reactions.👍", "u1")}},
	}))
	require.NoError(t, s.Commit(context.Background(), []docstore.Write{
		{Path: path, Op: docstore.OpMerge,
			Transforms: []docstore.Transform{docstore.Remove("reactions.👍", "u1")}},
	}))

	doc, err := s.Get(context.Background(), path)
	require.NoError(t, err)
	reactions, ok := doc.Fields["reactions"].(map[string]interface{})
	if ok {
		require.NotContains(t, reactions, "👍")
	}
}

func TestRemoveAbsentElementNoOp(t *testing.T) {
	t.Parallel()

	s := New()
	path := docstore.Path{Collection: "msgs", ID: "m1"}

	require.NoError(t, s.Commit(context.Background(), []docstore.Write{
		{Path: path, Op: docstore.OpSet, Fields: map[string]interface{}{}},
	}))
	require.NoError(t, s.Commit(context.Background(), []docstore.Write{
		{Path: path, Op: docstore.OpMerge,
			Transforms: []docstore.Transform{docstore.Remove("reactions.👍", "ghost")}},
	}))
}

func TestLaterWriteSeesEarlierStagedState(t *testing.T) {
	t.Parallel()

	s := New()
	path := docstore.Path{Collection: "chats", ID: "c1"}

	require.NoError(t, s.Commit(context.Background(), []docstore.Write{
		{Path: path, Op: docstore.OpSet,
			Fields: map[string]interface{}{"participants": []interface{}{"u1", "u2"}}},
	}))

	// Two writes to the same document inside one commit must compose.
	require.NoError(t, s.Commit(context.Background(), []docstore.Write{
		{Path: path, Op: docstore.OpMerge,
			Transforms: []docstore.Transform{docstore.Remove("participants", "u1")}},
		{Path: path, Op: docstore.OpMerge, Fields: map[string]interface{}{"groupAdminId": "u2"}},
	}))

	doc, err := s.Get(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, []interface{}{"u2"}, doc.Fields["participants"])
	require.Equal(t, "u2", doc.Fields["groupAdminId"])
}

func TestQueryFilters(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	require.NoError(t, s.Commit(ctx, []docstore.Write{
		{Path: docstore.Path{Collection: "chats", ID: "c1"}, Op: docstore.OpSet,
			Fields: map[string]interface{}{"type": "group", "participants": []interface{}{"u1", "u2"}}},
		{Path: docstore.Path{Collection: "chats", ID: "c2"}, Op: docstore.OpSet,
			Fields: map[string]interface{}{"type": "one-on-one", "participants": []interface{}{"u1", "u3"}}},
	}))

	docs, err := s.Query(ctx, "chats",
		docstore.Filter{Field: "type", Op: docstore.FilterEq, Value: "group"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "c1", docs[0].Path.ID)

	docs, err = s.Query(ctx, "chats",
		docstore.Filter{Field: "participants", Op: docstore.FilterContains, Value: "u1"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	var events []docstore.Event
	unsubscribe, err := s.Subscribe(ctx, "chats", func(ev docstore.Event) {
		events = append(events, ev)
	})
	require.NoError(t, err)

	path := docstore.Path{Collection: "chats", ID: "c1"}
	require.NoError(t, s.Commit(ctx, []docstore.Write{
		{Path: path, Op: docstore.OpSet, Fields: map[string]interface{}{"type": "group"}},
	}))
	require.Len(t, events, 1)
	require.False(t, events[0].Deleted)

	require.NoError(t, s.Commit(ctx, []docstore.Write{
		{Path: path, Op: docstore.OpDelete},
	}))
	require.Len(t, events, 2)
	require.True(t, events[1].Deleted)

	unsubscribe()
	require.NoError(t, s.Commit(ctx, []docstore.Write{
		{Path: path, Op: docstore.OpSet, Fields: map[string]interface{}{"type": "group"}},
	}))
	require.Len(t, events, 2)
}

func TestSubscriberCanReadBackDuringDelivery(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	// The callback re-enters the store; delivery must not hold the lock.
	var got map[string]interface{}
	unsubscribe, err := s.Subscribe(ctx, "chats", func(ev docstore.Event) {
		doc, err := s.Get(ctx, ev.Path)
		require.NoError(t, err)
		got = doc.Fields
	})
	require.NoError(t, err)
	defer unsubscribe()

	path := docstore.Path{Collection: "chats", ID: "c1"}
	require.NoError(t, s.Commit(ctx, []docstore.Write{
		{Path: path, Op: docstore.OpSet, Fields: map[string]interface{}{"type": "group"}},
	}))

	require.Equal(t, "group", got["type"])
}
