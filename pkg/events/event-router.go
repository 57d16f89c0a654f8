package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"
)

// ChatEventHandler receives the stream events of a send-message cycle.
type ChatEventHandler interface {
	HandleStart(ctx context.Context, e *Event) error
	HandlePartialCompletion(ctx context.Context, e *Event) error
	HandleFinal(ctx context.Context, e *Event) error
	HandleError(ctx context.Context, e *Event) error
	HandleInterrupt(ctx context.Context, e *Event) error
}

type EventRouter struct {
	logger     watermill.LoggerAdapter
	Publisher  message.Publisher
	Subscriber message.Subscriber
	router     *message.Router
	verbose    bool
	out        io.Writer
}

type EventRouterOption func(*EventRouter)

func WithLogger(logger watermill.LoggerAdapter) EventRouterOption {
	return func(r *EventRouter) {
		r.logger = logger
	}
}

func WithVerbose(verbose bool) EventRouterOption {
	return func(r *EventRouter) {
		r.verbose = verbose
		r.logger = NewWatermill(log.Logger)
	}
}

func WithOutput(w io.Writer) EventRouterOption {
	return func(r *EventRouter) {
		r.out = w
	}
}

func NewEventRouter(options ...EventRouterOption) (*EventRouter, error) {
	ret := &EventRouter{
		logger: watermill.NopLogger{},
		out:    os.Stdout,
	}

	for _, o := range options {
		o(ret)
	}

	goPubSub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, ret.logger)
	ret.Publisher = goPubSub
	ret.Subscriber = goPubSub

	router, err := message.NewRouter(message.RouterConfig{}, ret.logger)
	if err != nil {
		return nil, err
	}

	ret.router = router

	return ret, nil
}

func (e *EventRouter) Close() error {
	log.Debug().Msg("Closing publisher")
	err := e.Publisher.Close()
	if err != nil {
		log.Error().Err(err).Msg("Failed to close pubsub")
	}

	log.Debug().Msg("Closing router")
	err = e.router.Close()
	if err != nil {
		log.Error().Err(err).Msg("Failed to close router")
	}
	log.Debug().Msg("Router closed")

	return nil
}

func (e *EventRouter) AddHandler(name string, topic string, f func(msg *message.Message) error) {
	e.router.AddNoPublisherHandler(name, topic, e.Subscriber, f)
}

// AddChatEventHandler dispatches stream events of topic to handler.
func (e *EventRouter) AddChatEventHandler(name string, topic string, handler ChatEventHandler) {
	e.AddHandler(name, topic, createChatDispatchHandler(handler))
}

func createChatDispatchHandler(handler ChatEventHandler) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		ev, err := NewEventFromJson(msg.Payload)
		if err != nil {
			// one bad message must not stop the handler
			log.Error().Err(err).Str("message_id", msg.UUID).Msg("Failed to parse chat event")
			return nil
		}

		ctx := msg.Context()
		switch ev.Type {
		case EventTypeStart:
			err = handler.HandleStart(ctx, ev)
		case EventTypePartialCompletion, EventTypeTruncated:
			err = handler.HandlePartialCompletion(ctx, ev)
		case EventTypeFinal:
			err = handler.HandleFinal(ctx, ev)
		case EventTypeError:
			err = handler.HandleError(ctx, ev)
		case EventTypeInterrupt:
			err = handler.HandleInterrupt(ctx, ev)
		default:
			log.Trace().Object("event", ev).Msg("Unhandled chat event type")
		}
		if err != nil {
			log.Error().Err(err).Object("event", ev).Msg("Error processing chat event")
			return err
		}
		return nil
	}
}

// DumpRawEvents prints every message as indented JSON. Deltas are dropped unless verbose.
func (e *EventRouter) DumpRawEvents(msg *message.Message) error {
	defer msg.Ack()

	var s map[string]interface{}
	err := json.Unmarshal(msg.Payload, &s)
	if err != nil {
		return err
	}
	if !e.verbose {
		delete(s, "delta")
		delete(s, "time")
	}
	s_, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(e.out, string(s_))
	return err
}

func (e *EventRouter) Running() chan struct{} {
	return e.router.Running()
}

func (e *EventRouter) IsRunning() bool {
	return e.router.IsRunning()
}

func (e *EventRouter) Run(ctx context.Context) error {
	return e.router.Run(ctx)
}
