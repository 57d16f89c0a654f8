package claude

import (
	"context"
	"io"
	"strings"

	"github.com/go-go-golems/threadchat/pkg/chat"
	"github.com/go-go-golems/threadchat/pkg/providers"
	"github.com/go-go-golems/threadchat/pkg/providers/claude/api"
	"github.com/pkg/errors"
)

const ProviderName = "claude"

type Adapter struct {
	client *api.Client
	// model overrides the upstream name derived from the chat model.
	model string
}

type Option func(*Adapter)

func WithModel(model string) Option {
	return func(a *Adapter) {
		a.model = model
	}
}

func NewAdapter(client *api.Client, options ...Option) *Adapter {
	ret := &Adapter{client: client}
	for _, o := range options {
		o(ret)
	}
	return ret
}

// MakeMessageRequest maps a conversation onto the Messages API. The system
// messages leading the conversation become the system prompt. Any later
// non-user message is sent as an assistant turn, and consecutive turns of the
// same role are merged since the API expects alternating roles.
func (a *Adapter) MakeMessageRequest(messages []chat.Message, params providers.ModelParams) *api.MessageRequest {
	model := a.model
	if model == "" {
		model = params.Model.UpstreamName()
	}
	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = chat.DefaultSettings().MaxTokens
	}

	system := []string{}
	for len(messages) > 0 && messages[0].Role == chat.RoleSystem {
		if strings.TrimSpace(messages[0].Content) != "" {
			system = append(system, messages[0].Content)
		}
		messages = messages[1:]
	}

	msgs := []api.Message{}
	for _, m := range messages {
		role := api.RoleAssistant
		if m.Role == chat.RoleUser {
			role = api.RoleUser
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		if n := len(msgs); n > 0 && msgs[n-1].Role == role {
			msgs[n-1].Content += "\n\n" + m.Content
			continue
		}
		msgs = append(msgs, api.Message{Role: role, Content: m.Content})
	}

	req := &api.MessageRequest{
		Model:     model,
		Messages:  msgs,
		System:    strings.Join(system, "\n\n"),
		MaxTokens: maxTokens,
	}
	if params.Temperature > 0 {
		t := params.Temperature
		req.Temperature = &t
	}
	return req
}

func (a *Adapter) SendMessages(ctx context.Context, messages []chat.Message, params providers.ModelParams) (providers.Stream, error) {
	body, err := a.client.StreamMessage(ctx, a.MakeMessageRequest(messages, params))
	if err != nil {
		return nil, wrapError(err)
	}
	return &Stream{body: body, reader: api.NewEventReader(body)}, nil
}

func (a *Adapter) Complete(ctx context.Context, messages []chat.Message, params providers.ModelParams) (string, error) {
	resp, err := a.client.SendMessage(ctx, a.MakeMessageRequest(messages, params))
	if err != nil {
		return "", wrapError(err)
	}
	if len(resp.Content) == 0 {
		return "", &providers.MalformedResponseError{Provider: ProviderName, Reason: "no content blocks in response"}
	}
	return resp.FullText(), nil
}

// Stream yields the text of content_block_delta events. All other event types
// are skipped; an error event ends the stream with a ProviderError.
type Stream struct {
	body   io.ReadCloser
	reader *api.EventReader
}

func (s *Stream) Recv() (string, error) {
	for {
		event, err := s.reader.Next()
		if err != nil {
			return "", err
		}
		if text, ok := event.TextDelta(); ok {
			return text, nil
		}
		if event.Type == api.ErrorType && event.Error != nil {
			return "", &providers.ProviderError{
				Provider: ProviderName,
				Body:     event.Error.Type + ": " + event.Error.Message,
			}
		}
	}
}

func (s *Stream) Close() error {
	return s.body.Close()
}

func wrapError(err error) error {
	var statusErr *api.StatusError
	if errors.As(err, &statusErr) {
		return &providers.ProviderError{Provider: ProviderName, Status: statusErr.StatusCode, Body: statusErr.Body}
	}
	return err
}

var _ providers.Adapter = (*Adapter)(nil)
var _ providers.Completer = (*Adapter)(nil)
