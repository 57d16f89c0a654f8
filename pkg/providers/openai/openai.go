package openai

import (
	"context"
	"io"

	"github.com/go-go-golems/threadchat/pkg/chat"
	"github.com/go-go-golems/threadchat/pkg/providers"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
)

const ProviderName = "openai"

type Adapter struct {
	client *go_openai.Client
}

// MakeClient builds a go-openai client. An empty baseURL keeps the default endpoint.
func MakeClient(apiKey string, baseURL string) (*go_openai.Client, error) {
	if apiKey == "" {
		return nil, errors.New("no API key for openai")
	}
	config := go_openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return go_openai.NewClientWithConfig(config), nil
}

func NewAdapter(client *go_openai.Client) *Adapter {
	return &Adapter{client: client}
}

// MakeCompletionRequest maps messages to a chat completion request. For vision
// models, embedded data URL images become image_url parts.
func MakeCompletionRequest(messages []chat.Message, params providers.ModelParams, stream bool) go_openai.ChatCompletionRequest {
	vision := params.Model == chat.ModelGPT4Vision
	msgs := make([]go_openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, messageToOpenAIMessage(m, vision))
	}
	return go_openai.ChatCompletionRequest{
		Model:       params.Model.UpstreamName(),
		Messages:    msgs,
		Temperature: float32(params.Temperature),
		MaxTokens:   params.MaxTokens,
		Stream:      stream,
	}
}

func messageToOpenAIMessage(m chat.Message, vision bool) go_openai.ChatCompletionMessage {
	ret := go_openai.ChatCompletionMessage{
		Role: string(m.Role),
	}
	if !vision || !providers.HasImageMarkup(m.Content) {
		ret.Content = m.Content
		return ret
	}
	for _, part := range providers.SplitImageMarkup(m.Content) {
		if part.Image != nil {
			ret.MultiContent = append(ret.MultiContent, go_openai.ChatMessagePart{
				Type: go_openai.ChatMessagePartTypeImageURL,
				ImageURL: &go_openai.ChatMessageImageURL{
					URL:    part.Image.DataURL,
					Detail: go_openai.ImageURLDetailHigh,
				},
			})
			continue
		}
		ret.MultiContent = append(ret.MultiContent, go_openai.ChatMessagePart{
			Type: go_openai.ChatMessagePartTypeText,
			Text: part.Text,
		})
	}
	return ret
}

func (a *Adapter) SendMessages(ctx context.Context, messages []chat.Message, params providers.ModelParams) (providers.Stream, error) {
	req := MakeCompletionRequest(messages, params, true)
	log.Debug().Str("model", req.Model).Int("messages", len(req.Messages)).Msg("Starting openai stream")
	stream, err := a.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, wrapError(err)
	}
	return &Stream{stream: stream}, nil
}

// Complete runs a non-streaming completion.
func (a *Adapter) Complete(ctx context.Context, messages []chat.Message, params providers.ModelParams) (string, error) {
	req := MakeCompletionRequest(messages, params, false)
	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &providers.MalformedResponseError{Provider: ProviderName, Reason: "no choices in response"}
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream yields the non-empty content deltas of a chat completion stream.
type Stream struct {
	stream *go_openai.ChatCompletionStream
}

func (s *Stream) Recv() (string, error) {
	for {
		response, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", wrapError(err)
		}
		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		return delta, nil
	}
}

func (s *Stream) Close() error {
	s.stream.Close()
	return nil
}

// wrapError turns go-openai HTTP failures into ProviderErrors. Context errors
// pass through untouched.
func wrapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *go_openai.APIError
	if errors.As(err, &apiErr) {
		return &providers.ProviderError{Provider: ProviderName, Status: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *go_openai.RequestError
	if errors.As(err, &reqErr) {
		body := ""
		if reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &providers.ProviderError{Provider: ProviderName, Status: reqErr.HTTPStatusCode, Body: body}
	}
	return err
}

var _ providers.Adapter = (*Adapter)(nil)
var _ providers.Completer = (*Adapter)(nil)
