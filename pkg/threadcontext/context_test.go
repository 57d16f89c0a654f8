package threadcontext

import (
	"testing"

	"github.com/go-go-golems/threadchat/pkg/chat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msgs(contents ...string) []chat.Message {
	ret := []chat.Message{}
	for _, c := range contents {
		ret = append(ret, chat.NewMessage(chat.RoleUser, c))
	}
	return ret
}

func TestBuildMessagesWithContextLayout(t *testing.T) {
	m1 := chat.NewMessage(chat.RoleUser, "m1")
	m2 := chat.NewMessage(chat.RoleAssistant, "m2")

	got := BuildMessagesWithContext([]chat.Message{}, []chat.ChatContext{
		{Messages: []chat.Message{m1, m2}, Summary: "s", ChatID: "a"},
	})

	require.Len(t, got, 4)
	assert.Equal(t, chat.RoleSystem, got[0].Role)
	assert.Equal(t, "Previous chat context (a): s", got[0].Content)
	assert.Equal(t, m1, got[1])
	assert.Equal(t, m2, got[2])
	assert.Equal(t, chat.RoleSystem, got[3].Role)
	assert.Equal(t, EndOfContextDelimiter, got[3].Content)
}

func TestBuildMessagesWithoutSummaryAppendsCurrent(t *testing.T) {
	current := msgs("now")
	got := BuildMessagesWithContext(current, []chat.ChatContext{
		{Messages: msgs("old"), ChatID: "a"},
		{Messages: msgs(), ChatID: "b"},
	})

	contents := []string{}
	for _, m := range got {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"old", EndOfContextDelimiter, EndOfContextDelimiter, "now"}, contents)
}

func TestGetRelatedContextOrderAndTail(t *testing.T) {
	parent := chat.NewChat(chat.WithID("p"), chat.WithMessages(msgs("1", "2", "3")...))
	parent.Summary = "parent summary"
	x := chat.NewChat(chat.WithID("x"), chat.WithMessages(msgs("x1")...))
	y := chat.NewChat(chat.WithID("y"), chat.WithMessages(msgs("y1", "y2", "y3")...))
	current := chat.NewChat(chat.WithID("c"), chat.WithParentID("p"), chat.WithContextIDs("y", "gone", "x"))

	all := []*chat.Chat{x, y, parent, current}
	got := GetRelatedContext(current, all, 2)

	require.Len(t, got, 3)
	assert.Equal(t, "p", got[0].ChatID)
	assert.Equal(t, "parent summary", got[0].Summary)
	assert.Equal(t, "2", got[0].Messages[0].Content)
	assert.Equal(t, "3", got[0].Messages[1].Content)
	assert.Equal(t, "y", got[1].ChatID)
	assert.Len(t, got[1].Messages, 2)
	assert.Equal(t, "x", got[2].ChatID)
}

func TestGetRelatedContextDanglingParent(t *testing.T) {
	current := chat.NewChat(chat.WithParentID("deleted"))
	assert.Empty(t, GetRelatedContext(current, []*chat.Chat{current}, 10))
}

func TestMessagesForModel(t *testing.T) {
	parent := chat.NewChat(chat.WithID("p"), chat.WithMessages(msgs("old")...))
	current := chat.NewChildChat(parent, chat.WithMessages(msgs("new")...))
	all := []*chat.Chat{parent, current}

	settings := chat.DefaultSettings()
	// parent is both parentId and first contextId
	assert.Len(t, MessagesForModel(current, all, settings), 5)

	settings.UseContext = false
	got := MessagesForModel(current, all, settings)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].Content)
}
