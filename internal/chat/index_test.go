package chat

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MuradAles/OrangeAI-sub003/internal/cache"
	"github.com/MuradAles/OrangeAI-sub003/internal/docstore"
	"github.com/MuradAles/OrangeAI-sub003/internal/docstore/memstore"
	"github.com/MuradAles/OrangeAI-sub003/internal/model"
	rndstr "github.com/MuradAles/OrangeAI-sub003/internal/testing"
)

func bootstrapIndex(t *testing.T) (*Index, *memstore.Store) {
	t.Helper()

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	local, err := cache.New(logger.Sugar(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })

	remote := memstore.New()
	return NewIndex(logger.Sugar(), remote, local), remote
}

func TestFindExistingChatAbsent(t *testing.T) {
	t.Parallel()

	ix, _ := bootstrapIndex(t)
	id, err := ix.FindExistingChat(context.Background(), "u1", "u2")
	require.NoError(t, err)
	require.Empty(t, id)
}

func TestCreateThenFindChat(t *testing.T) {
	t.Parallel()

	ix, remote := bootstrapIndex(t)
	created, err := ix.CreateChat(context.Background(), "u1", "u2")
	require.NoError(t, err)

	// Chat doc plus one participant record per user.
	require.Equal(t, 3, remote.Writes())

	found, err := ix.FindExistingChat(context.Background(), "u1", "u2")
	require.NoError(t, err)
	require.Equal(t, created, found)

	// Order of the pair does not matter.
	found, err = ix.FindExistingChat(context.Background(), "u2", "u1")
	require.NoError(t, err)
	require.Equal(t, created, found)
}

func TestFindExistingChatIgnoresGroups(t *testing.T) {
	t.Parallel()

	ix, remote := bootstrapIndex(t)

	group := model.Chat{
		ID:           "g1",
		Type:         model.ChatGroup,
		Participants: []string{"u1", "u2"},
		GroupName:    "pair-sized group",
		GroupAdminID: "u1",
	}
	require.NoError(t, remote.Commit(context.Background(), []docstore.Write{
		{Path: model.ChatPath(group.ID), Op: docstore.OpSet, Fields: group.Fields()},
	}))

	id, err := ix.FindExistingChat(context.Background(), "u1", "u2")
	require.NoError(t, err)
	require.Empty(t, id)
}

func TestCreateChatSameUser(t *testing.T) {
	t.Parallel()

	ix, _ := bootstrapIndex(t)
	_, err := ix.CreateChat(context.Background(), "u1", "u1")
	require.ErrorIs(t, err, ErrSameUser)
}

func TestFindExistingChatManyPairs(t *testing.T) {
	t.Parallel()

	ix, _ := bootstrapIndex(t)

	pivot := rndstr.RandUserID()
	others := make([]string, 5)
	created := make([]string, 5)
	for i := range others {
		others[i] = rndstr.RandUserID()
		id, err := ix.CreateChat(context.Background(), pivot, others[i])
		require.NoError(t, err)
		created[i] = id
	}

	for i, other := range others {
		found, err := ix.FindExistingChat(context.Background(), pivot, other)
		require.NoError(t, err)
		require.Equal(t, created[i], found)
	}
}

func TestFindExistingChatIgnoresSupersets(t *testing.T) {
	t.Parallel()

	ix, _ := bootstrapIndex(t)
	_, err := ix.CreateChat(context.Background(), "u1", "u3")
	require.NoError(t, err)

	id, err := ix.FindExistingChat(context.Background(), "u1", "u2")
	require.NoError(t, err)
	require.Empty(t, id)
}
