package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type EventType string

const (
	// store changes
	EventTypeChatAdded        EventType = "chat-added"
	EventTypeChatUpdated      EventType = "chat-updated"
	EventTypeChatDeleted      EventType = "chat-deleted"
	EventTypeChatsReplaced    EventType = "chats-replaced"
	EventTypeSelectionChanged EventType = "selection-changed"
	EventTypeSettingsUpdated  EventType = "settings-updated"

	// send-message cycle
	EventTypeStart             EventType = "start"
	EventTypePartialCompletion EventType = "partial"
	EventTypeTruncated         EventType = "truncated"
	EventTypeFinal             EventType = "final"
	EventTypeError             EventType = "error"
	EventTypeInterrupt         EventType = "interrupt"
)

const (
	TopicStore  = "chat-store"
	TopicStream = "chat-stream"
)

// Event is the single payload type travelling over the bus. Store events only
// fill ChatID/ChatIDs, stream events also carry the operation id and text.
type Event struct {
	ID          uuid.UUID `json:"id"`
	Type        EventType `json:"type"`
	Time        time.Time `json:"time"`
	ChatID      string    `json:"chatId,omitempty"`
	ChatIDs     []string  `json:"chatIds,omitempty"`
	OperationID string    `json:"operationId,omitempty"`
	Model       string    `json:"model,omitempty"`
	Delta       string    `json:"delta,omitempty"`
	Text        string    `json:"text,omitempty"`
	Error       string    `json:"error,omitempty"`
}

func NewEvent(type_ EventType, chatID string) *Event {
	return &Event{
		ID:     uuid.New(),
		Type:   type_,
		Time:   time.Now(),
		ChatID: chatID,
	}
}

func NewPartialCompletionEvent(chatID string, operationID string, delta string, completion string) *Event {
	e := NewEvent(EventTypePartialCompletion, chatID)
	e.OperationID = operationID
	e.Delta = delta
	e.Text = completion
	return e
}

func NewErrorEvent(chatID string, operationID string, err error) *Event {
	e := NewEvent(EventTypeError, chatID)
	e.OperationID = operationID
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

func NewEventFromJson(b []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, errors.Wrap(err, "could not unmarshal event")
	}
	if e.Type == "" {
		return nil, errors.New("event without type")
	}
	return &e, nil
}

func (e *Event) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type))
	if e.ChatID != "" {
		ev.Str("chat_id", e.ChatID)
	}
	if e.OperationID != "" {
		ev.Str("operation_id", e.OperationID)
	}
	if e.Delta != "" {
		ev.Int("delta_len", len(e.Delta))
	}
	if e.Error != "" {
		ev.Str("error", e.Error)
	}
}

var _ zerolog.LogObjectMarshaler = (*Event)(nil)
