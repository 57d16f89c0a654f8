// Package threadcontext decides which messages of related chats are injected
// in front of a conversation before it is sent to a model.
//
// A chat's context sources are its parent followed by its contextIds, each
// contributing the tail of its messages and its summary. Synthetic system
// messages frame every injected block so the model can tell history apart from
// the live conversation.
package threadcontext

import (
	"fmt"

	"github.com/go-go-golems/threadchat/pkg/chat"
)

const EndOfContextDelimiter = "---End of previous context---"

// SummaryPrefix formats the system message announcing a context summary.
func SummaryPrefix(chatID string, summary string) string {
	return fmt.Sprintf("Previous chat context (%s): %s", chatID, summary)
}

func findChat(chats []*chat.Chat, id string) *chat.Chat {
	if id == "" {
		return nil
	}
	for _, c := range chats {
		if c != nil && c.ID == id {
			return c
		}
	}
	return nil
}

func contextOf(c *chat.Chat, maxContextMessages int) chat.ChatContext {
	return chat.ChatContext{
		Messages: c.LastMessages(maxContextMessages),
		Summary:  c.Summary,
		ChatID:   c.ID,
	}
}

// GetRelatedContext returns the parent context first, then one context per
// resolvable contextId in order. Ids that no longer resolve are skipped.
func GetRelatedContext(current *chat.Chat, allChats []*chat.Chat, maxContextMessages int) []chat.ChatContext {
	ret := []chat.ChatContext{}
	if current == nil {
		return ret
	}

	if parent := findChat(allChats, current.ParentID); parent != nil {
		ret = append(ret, contextOf(parent, maxContextMessages))
	}

	for _, id := range current.ContextIDs {
		if id == current.ID {
			continue
		}
		if c := findChat(allChats, id); c != nil {
			ret = append(ret, contextOf(c, maxContextMessages))
		}
	}

	return ret
}

// BuildMessagesWithContext lays out each context as summary, messages and
// delimiter, then appends currentMessages unchanged.
func BuildMessagesWithContext(currentMessages []chat.Message, contexts []chat.ChatContext) []chat.Message {
	ret := []chat.Message{}
	for _, ctx := range contexts {
		if ctx.Summary != "" {
			ret = append(ret, chat.NewMessage(chat.RoleSystem, SummaryPrefix(ctx.ChatID, ctx.Summary)))
		}
		ret = append(ret, ctx.Messages...)
		ret = append(ret, chat.NewMessage(chat.RoleSystem, EndOfContextDelimiter))
	}
	ret = append(ret, currentMessages...)
	return ret
}

// MessagesForModel is what gets sent upstream for current under settings.
func MessagesForModel(current *chat.Chat, allChats []*chat.Chat, settings chat.ChatSettings) []chat.Message {
	if !settings.UseContext {
		ret := make([]chat.Message, len(current.Messages))
		copy(ret, current.Messages)
		return ret
	}
	contexts := GetRelatedContext(current, allChats, settings.MaxContextMessages)
	return BuildMessagesWithContext(current.Messages, contexts)
}
