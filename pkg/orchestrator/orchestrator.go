package orchestrator

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/go-go-golems/threadchat/pkg/chat"
	"github.com/go-go-golems/threadchat/pkg/events"
	"github.com/go-go-golems/threadchat/pkg/providers"
	"github.com/go-go-golems/threadchat/pkg/store"
	"github.com/go-go-golems/threadchat/pkg/threadcontext"
	"github.com/go-go-golems/threadchat/pkg/titles"
	"github.com/go-go-golems/threadchat/pkg/tokens"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// TruncationNotice is appended to a response that was cut at the token limit.
const TruncationNotice = "\n\n[Response truncated: token limit reached]"

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
	OutcomeAborted Outcome = "aborted"
)

// Result describes how a send-message operation settled.
type Result struct {
	ChatID      string
	OperationID string
	Outcome     Outcome
	// Message is the persisted assistant message, only set on success.
	Message   *chat.Message
	Truncated bool
	// TokenCount is the estimated token count of the chat when the response settled.
	TokenCount int
	Err        error
}

// FragmentHandler receives every fragment of the response in arrival order.
type FragmentHandler func(delta string)

type operation struct {
	id     string
	chatID string
	cancel context.CancelFunc
}

// Orchestrator drives the send-message cycle of chats held in a store. At most
// one operation is active per chat, starting a new one aborts the previous.
// Operations on different chats run concurrently.
type Orchestrator struct {
	store      *store.Store
	adapter    providers.Adapter
	titles     *titles.Generator
	estimator  tokens.Estimator
	publisher  *events.PublisherManager
	maxRelated int

	mu          sync.Mutex
	ops         map[string]*operation
	annotations map[string]string
	closed      bool
	wg          sync.WaitGroup
}

type Option func(*Orchestrator)

func WithTitleGenerator(g *titles.Generator) Option {
	return func(o *Orchestrator) {
		o.titles = g
	}
}

func WithEstimator(e tokens.Estimator) Option {
	return func(o *Orchestrator) {
		o.estimator = e
	}
}

// WithPublisherManager publishes the send-message cycle on events.TopicStream.
func WithPublisherManager(pm *events.PublisherManager) Option {
	return func(o *Orchestrator) {
		o.publisher = pm
	}
}

func WithMaxRelated(n int) Option {
	return func(o *Orchestrator) {
		o.maxRelated = n
	}
}

func New(s *store.Store, adapter providers.Adapter, options ...Option) *Orchestrator {
	ret := &Orchestrator{
		store:       s,
		adapter:     adapter,
		maxRelated:  threadcontext.DefaultMaxRelated,
		ops:         map[string]*operation{},
		annotations: map[string]string{},
	}
	for _, o := range options {
		o(ret)
	}
	if ret.estimator == nil {
		ret.estimator = tokens.Default()
	}
	return ret
}

func (o *Orchestrator) publish(e *events.Event) {
	if o.publisher == nil {
		return
	}
	o.publisher.PublishBlind(e)
}

// begin registers a new operation for chatID and cancels the one it replaces.
func (o *Orchestrator) begin(ctx context.Context, chatID string) (context.Context, *operation, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, nil, ErrClosed
	}
	if prev, ok := o.ops[chatID]; ok {
		log.Debug().Str("chat_id", chatID).Str("operation_id", prev.id).Msg("Aborting previous operation")
		prev.cancel()
	}
	opCtx, cancel := context.WithCancel(ctx)
	op := &operation{
		id:     uuid.NewString(),
		chatID: chatID,
		cancel: cancel,
	}
	o.ops[chatID] = op
	delete(o.annotations, chatID)
	o.wg.Add(1)
	return opCtx, op, nil
}

func (o *Orchestrator) finish(op *operation) {
	o.mu.Lock()
	if o.ops[op.chatID] == op {
		delete(o.ops, op.chatID)
	}
	o.mu.Unlock()
	op.cancel()
	o.wg.Done()
}

func (o *Orchestrator) isCurrent(op *operation) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ops[op.chatID] == op
}

// Abort cancels the in-flight operation of chatID, if any.
func (o *Orchestrator) Abort(chatID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	op, ok := o.ops[chatID]
	if !ok {
		return false
	}
	op.cancel()
	delete(o.ops, chatID)
	return true
}

// Active reports whether chatID has an operation in flight.
func (o *Orchestrator) Active(chatID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.ops[chatID]
	return ok
}

// LastError returns the error annotation of the chat's last turn.
func (o *Orchestrator) LastError(chatID string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.annotations[chatID]
	return v, ok
}

func (o *Orchestrator) annotate(chatID string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.annotations[chatID] = err.Error()
}

// Close aborts every in-flight operation and waits for them to settle.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	o.closed = true
	for id, op := range o.ops {
		op.cancel()
		delete(o.ops, id)
	}
	o.mu.Unlock()
	o.wg.Wait()
	return nil
}

func (o *Orchestrator) aborted(op *operation) (*Result, error) {
	log.Debug().Str("chat_id", op.chatID).Str("operation_id", op.id).Msg("Operation aborted")
	e := events.NewEvent(events.EventTypeInterrupt, op.chatID)
	e.OperationID = op.id
	o.publish(e)
	return &Result{
		ChatID:      op.chatID,
		OperationID: op.id,
		Outcome:     OutcomeAborted,
	}, &AbortedError{ChatID: op.chatID, OperationID: op.id}
}

func (o *Orchestrator) failed(op *operation, err error) (*Result, error) {
	log.Warn().Err(err).Str("chat_id", op.chatID).Str("operation_id", op.id).Msg("Send message failed")
	o.annotate(op.chatID, err)
	o.publish(events.NewErrorEvent(op.chatID, op.id, err))
	return &Result{
		ChatID:      op.chatID,
		OperationID: op.id,
		Outcome:     OutcomeError,
		Err:         err,
	}, err
}

// HandleSendMessage appends content as a user message to chatID, streams the
// model's answer through onFragment and persists it as an assistant message.
//
// The returned error is an *AbortedError when the operation was superseded or
// ctx was canceled, and the adapter's error when the provider failed. In both
// cases no assistant message is stored and the user message is kept.
func (o *Orchestrator) HandleSendMessage(
	ctx context.Context,
	chatID string,
	content string,
	onFragment FragmentHandler,
) (*Result, error) {
	opCtx, op, err := o.begin(ctx, chatID)
	if err != nil {
		return nil, err
	}
	defer o.finish(op)

	current, ok := o.store.GetChat(chatID)
	if !ok {
		return nil, &store.NotFoundError{ID: chatID}
	}

	userMessage := chat.NewMessage(chat.RoleUser, content)
	title := ""
	if len(current.Messages) == 0 {
		title = chat.DefaultTitle
		if o.titles != nil {
			title = o.titles.GenerateChatTitle(opCtx, content)
		}
	}

	updated, err := o.store.ModifyChat(ctx, chatID, func(c *chat.Chat) error {
		c.Messages = append(c.Messages, userMessage)
		if title != "" {
			c.Title = title
		}
		c.Touch()
		return nil
	})
	if updated == nil {
		return nil, err
	}
	if err != nil {
		// the chat is updated in memory, a failed write is not fatal here
		log.Warn().Err(err).Str("chat_id", chatID).Msg("Could not persist user message")
	}

	start := events.NewEvent(events.EventTypeStart, chatID)
	start.OperationID = op.id
	start.Model = string(updated.Model)
	o.publish(start)

	settings := o.store.Settings()
	messages := threadcontext.MessagesForModel(updated, o.store.Chats(), settings)
	params := providers.ParamsFromSettings(updated.Model, settings)

	log.Debug().
		Str("chat_id", chatID).
		Str("operation_id", op.id).
		Str("model", string(params.Model)).
		Int("messages", len(messages)).
		Msg("Sending messages")

	stream, err := o.adapter.SendMessages(opCtx, messages, params)
	if err != nil {
		if opCtx.Err() != nil || !o.isCurrent(op) {
			return o.aborted(op)
		}
		return o.failed(op, err)
	}
	defer func() {
		_ = stream.Close()
	}()

	historyTokens := tokens.CountMessages(o.estimator, updated.Messages)
	limit := settings.TokenLimit

	var sb strings.Builder
	truncated := false
	tokenCount := historyTokens
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		// fragments of a superseded operation are dropped, never applied
		if opCtx.Err() != nil || !o.isCurrent(op) {
			return o.aborted(op)
		}
		if err != nil {
			return o.failed(op, err)
		}
		if delta == "" {
			continue
		}

		sb.WriteString(delta)
		if onFragment != nil {
			onFragment(delta)
		}
		o.publish(events.NewPartialCompletionEvent(chatID, op.id, delta, sb.String()))

		tokenCount = historyTokens + o.estimator.Count(sb.String())
		if limit > 0 && tokenCount > limit {
			truncated = true
			break
		}
	}

	if truncated {
		log.Info().
			Str("chat_id", chatID).
			Int("token_count", tokenCount).
			Int("token_limit", limit).
			Msg("Response truncated at token limit")
		sb.WriteString(TruncationNotice)
		if onFragment != nil {
			onFragment(TruncationNotice)
		}
		e := events.NewEvent(events.EventTypeTruncated, chatID)
		e.OperationID = op.id
		e.Delta = TruncationNotice
		e.Text = sb.String()
		o.publish(e)
	}

	assistantMessage := chat.NewMessage(chat.RoleAssistant, sb.String())
	allChats := o.store.Chats()
	_, err = o.store.ModifyChat(ctx, chatID, func(c *chat.Chat) error {
		if !o.isCurrent(op) {
			return &AbortedError{ChatID: chatID, OperationID: op.id}
		}
		c.Messages = append(c.Messages, assistantMessage)
		c.Touch()
		related := threadcontext.DetectRelatedChats(c, allChats, o.maxRelated)
		c.MergeContextIDs(related...)
		if truncated {
			if c.Continuation == nil {
				c.Continuation = &chat.Continuation{}
			}
			c.Continuation.TokenCount = tokenCount
		}
		return nil
	})
	if errors.Is(err, ErrAborted) {
		return o.aborted(op)
	}
	if errors.Is(err, store.ErrNotFound) {
		// deleted while streaming
		return o.failed(op, err)
	}
	if err != nil {
		log.Warn().Err(err).Str("chat_id", chatID).Msg("Could not persist assistant message")
	}

	final := events.NewEvent(events.EventTypeFinal, chatID)
	final.OperationID = op.id
	final.Text = assistantMessage.Content
	o.publish(final)

	return &Result{
		ChatID:      chatID,
		OperationID: op.id,
		Outcome:     OutcomeSuccess,
		Message:     &assistantMessage,
		Truncated:   truncated,
		TokenCount:  tokenCount,
	}, nil
}

// SendToCurrent is HandleSendMessage on the selected chat.
func (o *Orchestrator) SendToCurrent(ctx context.Context, content string, onFragment FragmentHandler) (*Result, error) {
	id := o.store.CurrentChatID()
	if id == "" {
		return nil, errors.New("no chat selected")
	}
	return o.HandleSendMessage(ctx, id, content, onFragment)
}
