// Package chat holds the data model shared by the store, the context resolver,
// the orchestrator and the export codec.
//
// Chats are kept in a flat collection and reference each other by id
// (ParentID, ContextIDs, Continuation). Timestamps are epoch milliseconds so that
// exported files stay compatible with the browser client.
package chat

import (
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is immutable once created. Order inside a Chat is the slice order,
// timestamps may collide.
type Message struct {
	Role      Role   `json:"role" jsonschema:"enum=user,enum=assistant,enum=system"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

func NewMessage(role Role, content string) Message {
	return Message{
		Role:      role,
		Content:   content,
		Timestamp: NowMillis(),
	}
}

// Continuation links a chat that was split because it ran over its token budget.
type Continuation struct {
	FromID     string `json:"fromId,omitempty"`
	ToID       string `json:"toId,omitempty"`
	TokenCount int    `json:"tokenCount"`
}

type Chat struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Messages     []Message     `json:"messages"`
	Model        ModelType     `json:"model"`
	CreatedAt    int64         `json:"createdAt"`
	UpdatedAt    int64         `json:"updatedAt"`
	ParentID     string        `json:"parentId,omitempty"`
	ContextIDs   []string      `json:"contextIds,omitempty"`
	Summary      string        `json:"summary,omitempty"`
	Continuation *Continuation `json:"continuation,omitempty"`
}

// HasContextID reports whether id is already part of the chat's context set.
func (c *Chat) HasContextID(id string) bool {
	for _, cid := range c.ContextIDs {
		if cid == id {
			return true
		}
	}
	return false
}

// MergeContextIDs adds ids to ContextIDs as a set union, keeping insertion order
// and never adding the chat's own id.
func (c *Chat) MergeContextIDs(ids ...string) {
	for _, id := range ids {
		if id == "" || id == c.ID || c.HasContextID(id) {
			continue
		}
		c.ContextIDs = append(c.ContextIDs, id)
	}
}

// LastMessages returns the tail of the message list, at most n entries.
func (c *Chat) LastMessages(n int) []Message {
	if n <= 0 {
		return []Message{}
	}
	start := len(c.Messages) - n
	if start < 0 {
		start = 0
	}
	ret := make([]Message, len(c.Messages)-start)
	copy(ret, c.Messages[start:])
	return ret
}

// Touch bumps UpdatedAt.
func (c *Chat) Touch() {
	c.UpdatedAt = NowMillis()
}

// ChatContext is derived on demand by the context resolver and never persisted.
type ChatContext struct {
	Messages []Message `json:"messages"`
	Summary  string    `json:"summary,omitempty"`
	ChatID   string    `json:"chatId"`
}

type DeleteOptions struct {
	DeleteChildren bool
}

type TokenInfo struct {
	Count       int  `json:"count"`
	Limit       int  `json:"limit"`
	IsNearLimit bool `json:"isNearLimit"`
}

// NearLimitRatio is the share of the token limit from which a chat is reported as near its limit.
const NearLimitRatio = 0.8

func NewTokenInfo(count int, limit int) TokenInfo {
	return TokenInfo{
		Count:       count,
		Limit:       limit,
		IsNearLimit: limit > 0 && float64(count) >= float64(limit)*NearLimitRatio,
	}
}

func NowMillis() int64 {
	return time.Now().UnixMilli()
}
