package events

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []*Event
	done   chan struct{}
}

func (r *recordingHandler) record(e *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	if e.Type == EventTypeFinal || e.Type == EventTypeError || e.Type == EventTypeInterrupt {
		close(r.done)
	}
	return nil
}

func (r *recordingHandler) HandleStart(_ context.Context, e *Event) error   { return r.record(e) }
func (r *recordingHandler) HandleFinal(_ context.Context, e *Event) error   { return r.record(e) }
func (r *recordingHandler) HandleError(_ context.Context, e *Event) error   { return r.record(e) }
func (r *recordingHandler) HandleInterrupt(_ context.Context, e *Event) error {
	return r.record(e)
}
func (r *recordingHandler) HandlePartialCompletion(_ context.Context, e *Event) error {
	return r.record(e)
}

func TestNewEventFromJson(t *testing.T) {
	_, err := NewEventFromJson([]byte(`{"chatId":"x"}`))
	assert.Error(t, err)

	_, err = NewEventFromJson([]byte(`not json`))
	assert.Error(t, err)

	e, err := NewEventFromJson([]byte(`{"type":"partial","chatId":"x","delta":"he","text":"he"}`))
	require.NoError(t, err)
	assert.Equal(t, EventTypePartialCompletion, e.Type)
	assert.Equal(t, "x", e.ChatID)
}

func TestPublisherManagerWithoutPublishersIsNoop(t *testing.T) {
	pm := NewPublisherManager()
	assert.NoError(t, pm.Publish(NewEvent(EventTypeStart, "c")))
}

func TestRouterDispatchesChatEvents(t *testing.T) {
	router, err := NewEventRouter()
	require.NoError(t, err)

	h := &recordingHandler{done: make(chan struct{})}
	router.AddChatEventHandler("test", TopicStream, h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = router.Run(ctx)
	}()
	<-router.Running()

	pm := NewPublisherManager()
	pm.SubscribePublisher(TopicStream, router.Publisher)

	pm.PublishBlind(NewEvent(EventTypeStart, "c1"))
	pm.PublishBlind(NewPartialCompletionEvent("c1", "op", "hel", "hel"))
	pm.PublishBlind(NewPartialCompletionEvent("c1", "op", "lo", "hello"))
	pm.PublishBlind(NewEvent(EventTypeFinal, "c1"))

	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for final event")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.events, 4)
	assert.Equal(t, EventTypeStart, h.events[0].Type)
	assert.Equal(t, "hello", h.events[2].Text)
	assert.Equal(t, EventTypeFinal, h.events[3].Type)

	require.NoError(t, router.Close())
}

func TestDumpRawEventsDropsDelta(t *testing.T) {
	buf := &bytes.Buffer{}
	router, err := NewEventRouter(WithOutput(buf))
	require.NoError(t, err)

	msg := message.NewMessage("1", []byte(`{"type":"partial","delta":"abc","text":"abc"}`))
	require.NoError(t, router.DumpRawEvents(msg))

	out := buf.String()
	assert.True(t, strings.Contains(out, `"text": "abc"`))
	assert.False(t, strings.Contains(out, `"delta"`))
}
