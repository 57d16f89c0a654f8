package chat

import (
	"github.com/google/uuid"
	"github.com/huandu/go-clone"
)

// DefaultTitle is used for fresh chats and whenever title generation fails.
const DefaultTitle = "新しいチャット"

// NewID returns an opaque chat id.
func NewID() string {
	return uuid.NewString()
}

type ChatOption func(*Chat)

func WithModel(model ModelType) ChatOption {
	return func(c *Chat) {
		if model != "" {
			c.Model = model
		}
	}
}

func WithParentID(parentID string) ChatOption {
	return func(c *Chat) {
		c.ParentID = parentID
	}
}

func WithContextIDs(ids ...string) ChatOption {
	return func(c *Chat) {
		c.MergeContextIDs(ids...)
	}
}

func WithID(id string) ChatOption {
	return func(c *Chat) {
		c.ID = id
	}
}

func WithTitle(title string) ChatOption {
	return func(c *Chat) {
		c.Title = title
	}
}

func WithMessages(messages ...Message) ChatOption {
	return func(c *Chat) {
		c.Messages = append(c.Messages, messages...)
	}
}

func NewChat(options ...ChatOption) *Chat {
	now := NowMillis()
	ret := &Chat{
		ID:        NewID(),
		Title:     DefaultTitle,
		Messages:  []Message{},
		Model:     DefaultModel,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, option := range options {
		option(ret)
	}
	// options may have changed the id after context ids were merged
	ret.ContextIDs = removeID(ret.ContextIDs, ret.ID)
	return ret
}

// NewChildChat starts a thread below parent. The parent is both the structural
// parent and the first context source; the model is inherited unless overridden.
func NewChildChat(parent *Chat, options ...ChatOption) *Chat {
	opts := append([]ChatOption{
		WithModel(parent.Model),
		WithParentID(parent.ID),
		WithContextIDs(parent.ID),
	}, options...)
	return NewChat(opts...)
}

// NewContinuationChat creates the chat that picks up where from ran out of tokens.
// from is not modified; callers set from.Continuation.ToID themselves.
func NewContinuationChat(from *Chat, options ...ChatOption) *Chat {
	ret := NewChildChat(from, options...)
	ret.Title = from.Title
	ret.Continuation = &Continuation{
		FromID: from.ID,
	}
	return ret
}

func removeID(ids []string, id string) []string {
	if len(ids) == 0 {
		return ids
	}
	ret := ids[:0]
	for _, v := range ids {
		if v != id {
			ret = append(ret, v)
		}
	}
	return ret
}

// Clone returns a deep copy; stored chats are never handed out by reference.
func (c *Chat) Clone() *Chat {
	if c == nil {
		return nil
	}
	return clone.Clone(c).(*Chat)
}
