package orchestrator

import (
	"context"
	"strings"

	"github.com/go-go-golems/threadchat/pkg/chat"
	"github.com/go-go-golems/threadchat/pkg/store"
	"github.com/go-go-golems/threadchat/pkg/tokens"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// SwitchChat selects id and aborts whatever the previously selected chat was
// still streaming.
func (o *Orchestrator) SwitchChat(ctx context.Context, id string) (store.State, error) {
	prev := o.store.CurrentChatID()
	if prev != "" && prev != id {
		o.Abort(prev)
	}
	return o.store.SetCurrentChatID(ctx, id)
}

// NewChat creates and selects a fresh chat. With fromCurrent the new chat is a
// child of the selected chat and receives it as context.
func (o *Orchestrator) NewChat(ctx context.Context, fromCurrent bool) (*chat.Chat, error) {
	current, hasCurrent := o.store.CurrentChat()
	if hasCurrent {
		o.Abort(current.ID)
	}

	var c *chat.Chat
	if fromCurrent && hasCurrent {
		c = chat.NewChildChat(current)
	} else {
		c = chat.NewChat(chat.WithModel(o.store.Settings().Model))
	}
	_, err := o.store.AddChat(ctx, c)
	if err != nil && !isStorageOnly(err) {
		return nil, err
	}
	return c, err
}

// ContinueChat starts the chat that carries on from id once it ran into its
// token limit. The old chat gets a summary, when a generator is configured, so
// that it can be injected as compact context.
func (o *Orchestrator) ContinueChat(ctx context.Context, id string) (*chat.Chat, error) {
	old, ok := o.store.GetChat(id)
	if !ok {
		return nil, &store.NotFoundError{ID: id}
	}
	o.Abort(id)

	summary := ""
	if o.titles != nil && old.Summary == "" {
		summary = o.titles.GenerateChatSummary(ctx, old.Messages)
	}

	next := chat.NewContinuationChat(old)
	if _, err := o.store.AddChat(ctx, next); err != nil && !isStorageOnly(err) {
		return nil, err
	}

	_, err := o.store.ModifyChat(ctx, id, func(c *chat.Chat) error {
		if c.Continuation == nil {
			c.Continuation = &chat.Continuation{}
		}
		c.Continuation.ToID = next.ID
		if c.Continuation.TokenCount == 0 {
			c.Continuation.TokenCount = tokens.CountMessages(o.estimator, c.Messages)
		}
		if summary != "" {
			c.Summary = summary
		}
		c.Touch()
		return nil
	})
	if err != nil && !isStorageOnly(err) {
		return nil, err
	}

	log.Info().Str("from", id).Str("to", next.ID).Msg("Continued chat")
	return next, err
}

// Summarize generates and stores a summary for id.
func (o *Orchestrator) Summarize(ctx context.Context, id string) (string, error) {
	c, ok := o.store.GetChat(id)
	if !ok {
		return "", &store.NotFoundError{ID: id}
	}
	if o.titles == nil {
		return "", nil
	}
	summary := o.titles.GenerateChatSummary(ctx, c.Messages)
	if summary == "" {
		return "", nil
	}
	_, err := o.store.ModifyChat(ctx, id, func(c *chat.Chat) error {
		c.Summary = summary
		c.Touch()
		return nil
	})
	return summary, err
}

func (o *Orchestrator) SetModel(ctx context.Context, id string, model chat.ModelType) (*chat.Chat, error) {
	if !model.IsKnown() {
		return nil, &UnknownModelError{Model: string(model)}
	}
	return o.store.ModifyChat(ctx, id, func(c *chat.Chat) error {
		c.Model = model
		c.Touch()
		return nil
	})
}

func (o *Orchestrator) RenameChat(ctx context.Context, id string, title string) (*chat.Chat, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = chat.DefaultTitle
	}
	return o.store.ModifyChat(ctx, id, func(c *chat.Chat) error {
		c.Title = title
		c.Touch()
		return nil
	})
}

// DeleteChat aborts the operations of every chat that goes away and deletes id.
func (o *Orchestrator) DeleteChat(ctx context.Context, id string, opts chat.DeleteOptions) (store.State, error) {
	o.Abort(id)
	if opts.DeleteChildren {
		for _, d := range o.store.DescendantIDs(id) {
			o.Abort(d)
		}
	}
	return o.store.DeleteChat(ctx, id, opts)
}

func (o *Orchestrator) TokenInfo(id string) (chat.TokenInfo, error) {
	c, ok := o.store.GetChat(id)
	if !ok {
		return chat.TokenInfo{}, &store.NotFoundError{ID: id}
	}
	return tokens.ChatTokenInfo(o.estimator, c, o.store.Settings().TokenLimit), nil
}

// isStorageOnly is true for write failures of an otherwise applied mutation.
func isStorageOnly(err error) bool {
	return errors.Is(err, store.ErrStorage)
}
