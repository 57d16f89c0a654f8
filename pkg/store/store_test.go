package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/go-go-golems/threadchat/pkg/chat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChat(id string, parentID string) *chat.Chat {
	return chat.NewChat(chat.WithID(id), chat.WithParentID(parentID))
}

func ids(chats []*chat.Chat) []string {
	ret := make([]string, 0, len(chats))
	for _, c := range chats {
		ret = append(ret, c.ID)
	}
	return ret
}

// root -> a -> a1 -> a11, root -> b, other
func seedTree(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	for _, c := range []*chat.Chat{
		newChat("root", ""),
		newChat("a", "root"),
		newChat("a1", "a"),
		newChat("a11", "a1"),
		newChat("b", "root"),
		newChat("other", ""),
	} {
		_, err := s.AddChat(ctx, c)
		require.NoError(t, err)
	}
}

func TestAddChatSelectsAndRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := New(ctx, NewMemoryBackend())

	state, err := s.AddChat(ctx, newChat("one", ""))
	require.NoError(t, err)
	assert.Equal(t, "one", state.CurrentChatID)
	assert.Len(t, state.Chats, 1)

	_, err = s.AddChat(ctx, newChat("one", ""))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateID))

	var dupErr *DuplicateIDError
	require.True(t, errors.As(err, &dupErr))
	assert.Equal(t, "one", dupErr.ID)
	assert.Len(t, s.Chats(), 1)
}

func TestUpdateChatKeepsPosition(t *testing.T) {
	ctx := context.Background()
	s := New(ctx, NewMemoryBackend())
	seedTree(t, s)

	c, ok := s.GetChat("a1")
	require.True(t, ok)
	c.Title = "renamed"
	state, err := s.UpdateChat(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, []string{"root", "a", "a1", "a11", "b", "other"}, ids(state.Chats))
	assert.Equal(t, "renamed", state.Chats[2].Title)

	_, err = s.UpdateChat(ctx, newChat("missing", ""))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestReadsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New(ctx, NewMemoryBackend())
	seedTree(t, s)

	c, _ := s.GetChat("a")
	c.Title = "changed outside"
	c.Messages = append(c.Messages, chat.NewMessage(chat.RoleUser, "x"))

	stored, _ := s.GetChat("a")
	assert.Equal(t, chat.DefaultTitle, stored.Title)
	assert.Empty(t, stored.Messages)
}

func TestModifyChat(t *testing.T) {
	ctx := context.Background()
	s := New(ctx, NewMemoryBackend())
	seedTree(t, s)

	updated, err := s.ModifyChat(ctx, "b", func(c *chat.Chat) error {
		c.Messages = append(c.Messages, chat.NewMessage(chat.RoleUser, "hello"))
		c.ID = "sneaky"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "b", updated.ID)
	stored, ok := s.GetChat("b")
	require.True(t, ok)
	require.Len(t, stored.Messages, 1)

	boom := errors.New("boom")
	_, err = s.ModifyChat(ctx, "b", func(c *chat.Chat) error {
		c.Title = "never stored"
		return boom
	})
	assert.Equal(t, boom, err)
	stored, _ = s.GetChat("b")
	assert.Equal(t, chat.DefaultTitle, stored.Title)
}

func TestDeleteChatReparentsChildren(t *testing.T) {
	ctx := context.Background()
	s := New(ctx, NewMemoryBackend())
	seedTree(t, s)

	formerChildren := ids(s.ChildChats("a"))
	require.Equal(t, []string{"a1"}, formerChildren)

	_, err := s.DeleteChat(ctx, "a", chat.DeleteOptions{DeleteChildren: false})
	require.NoError(t, err)

	_, ok := s.GetChat("a")
	assert.False(t, ok)
	for _, id := range formerChildren {
		c, ok := s.GetChat(id)
		require.True(t, ok)
		assert.Equal(t, "root", c.ParentID)
	}
	assert.Equal(t, []string{"a1", "b"}, ids(s.ChildChats("root")))
	// grandchildren stay attached to their own parent
	a11, _ := s.GetChat("a11")
	assert.Equal(t, "a1", a11.ParentID)
}

func TestDeleteRootReparentsToNoParent(t *testing.T) {
	ctx := context.Background()
	s := New(ctx, NewMemoryBackend())
	seedTree(t, s)

	_, err := s.DeleteChat(ctx, "root", chat.DeleteOptions{})
	require.NoError(t, err)
	for _, id := range []string{"a", "b"} {
		c, ok := s.GetChat(id)
		require.True(t, ok)
		assert.Empty(t, c.ParentID)
	}
}

func TestDeleteChatWithChildrenRemovesDescendants(t *testing.T) {
	ctx := context.Background()
	s := New(ctx, NewMemoryBackend())
	seedTree(t, s)

	assert.ElementsMatch(t, []string{"a", "a1", "a11", "b"}, s.DescendantIDs("root"))

	state, err := s.DeleteChat(ctx, "a", chat.DeleteOptions{DeleteChildren: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"root", "b", "other"}, ids(state.Chats))
}

func TestDeleteSelectedChatFallsBack(t *testing.T) {
	ctx := context.Background()
	s := New(ctx, NewMemoryBackend())
	seedTree(t, s)
	assert.Equal(t, "other", s.CurrentChatID())

	state, err := s.DeleteChat(ctx, "other", chat.DeleteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "root", state.CurrentChatID)

	_, err = s.DeleteChat(ctx, "root", chat.DeleteOptions{DeleteChildren: true})
	require.NoError(t, err)
	assert.Equal(t, "", s.CurrentChatID())
	_, ok := s.CurrentChat()
	assert.False(t, ok)

	_, err = s.DeleteChat(ctx, "root", chat.DeleteOptions{})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDescendantIDsToleratesCycles(t *testing.T) {
	chats := []*chat.Chat{newChat("x", "y"), newChat("y", "x")}
	assert.Equal(t, []string{"y"}, descendantIDs(chats, "x"))
}

func TestSetCurrentChatID(t *testing.T) {
	ctx := context.Background()
	s := New(ctx, NewMemoryBackend())
	seedTree(t, s)

	_, err := s.SetCurrentChatID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", s.CurrentChatID())

	_, err = s.SetCurrentChatID(ctx, "nope")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = s.SetCurrentChatID(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "", s.CurrentChatID())
}

func TestPersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	s := New(ctx, backend)
	seedTree(t, s)

	limit := 4000
	_, err := s.UpdateSettings(ctx, chat.SettingsPatch{TokenLimit: &limit})
	require.NoError(t, err)

	reloaded := New(ctx, backend)
	assert.Equal(t, ids(s.Chats()), ids(reloaded.Chats()))
	assert.Equal(t, 4000, reloaded.Settings().TokenLimit)
}

func TestCorruptStateFallsBackToDefaults(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	require.NoError(t, backend.Set(ctx, KeyChats, []byte("{not json")))
	require.NoError(t, backend.Set(ctx, KeySettings, []byte("[]")))

	s := New(ctx, backend)
	assert.Empty(t, s.Chats())
	assert.Equal(t, chat.DefaultSettings(), s.Settings())
}

func TestPartialSettingsKeepDefaults(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	require.NoError(t, backend.Set(ctx, KeySettings, []byte(`{"temperature":0.2}`)))

	s := New(ctx, backend)
	assert.Equal(t, 0.2, s.Settings().Temperature)
	assert.Equal(t, 8000, s.Settings().TokenLimit)
}

func TestReplaceChats(t *testing.T) {
	ctx := context.Background()
	s := New(ctx, NewMemoryBackend())
	seedTree(t, s)

	settings := chat.DefaultSettings()
	settings.Temperature = 0.1
	state, err := s.ReplaceChats(ctx, []*chat.Chat{newChat("n1", ""), newChat("n2", "")}, &settings)
	require.NoError(t, err)
	assert.Equal(t, []string{"n1", "n2"}, ids(state.Chats))
	assert.Equal(t, "n1", state.CurrentChatID)
	assert.Equal(t, 0.1, state.Settings.Temperature)

	_, err = s.ReplaceChats(ctx, []*chat.Chat{newChat("d", ""), newChat("d", "")}, nil)
	assert.True(t, errors.Is(err, ErrDuplicateID))
	assert.Equal(t, []string{"n1", "n2"}, ids(s.Chats()))
}

func TestFileAndSQLiteBackends(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	fileBackend, err := NewFileBackend(filepath.Join(dir, "files"))
	require.NoError(t, err)

	dsn, err := SQLiteDSNForFile(filepath.Join(dir, "chats.db"))
	require.NoError(t, err)
	sqliteBackend, err := NewSQLiteBackend(dsn)
	require.NoError(t, err)

	backends := map[string]Backend{
		"file":   fileBackend,
		"sqlite": sqliteBackend,
	}
	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			_, ok, err := backend.Get(ctx, KeyChats)
			require.NoError(t, err)
			assert.False(t, ok)

			s := New(ctx, backend)
			seedTree(t, s)

			reloaded := New(ctx, backend)
			assert.Equal(t, ids(s.Chats()), ids(reloaded.Chats()))

			require.NoError(t, backend.Set(ctx, KeyChats, []byte(`[]`)))
			b, ok, err := backend.Get(ctx, KeyChats)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, `[]`, string(b))
			require.NoError(t, s.Close())
		})
	}
}

func TestClosedStoreRejectsMutations(t *testing.T) {
	ctx := context.Background()
	s := New(ctx, nil)
	require.NoError(t, s.Close())
	_, err := s.AddChat(ctx, newChat("x", ""))
	assert.True(t, errors.Is(err, ErrClosed))
}
