package gemini

import (
	"context"
	"strings"

	"github.com/go-go-golems/threadchat/pkg/chat"
	"github.com/go-go-golems/threadchat/pkg/providers"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

const (
	ProviderName       = "gemini"
	DefaultVisionModel = "gemini-pro-vision"
)

// ModelsClient is the subset of genai.Models the adapter needs.
type ModelsClient interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Adapter calls generateContent once and serves the answer as a
// single-fragment stream. Conversations carrying data URL images go to the
// vision model, everything else to the text model.
type Adapter struct {
	models      ModelsClient
	textModel   string
	visionModel string
}

type Option func(*Adapter)

func WithTextModel(model string) Option {
	return func(a *Adapter) {
		if model != "" {
			a.textModel = model
		}
	}
}

func WithVisionModel(model string) Option {
	return func(a *Adapter) {
		if model != "" {
			a.visionModel = model
		}
	}
}

func NewAdapter(models ModelsClient, options ...Option) *Adapter {
	ret := &Adapter{
		models:      models,
		visionModel: DefaultVisionModel,
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

// NewClientAdapter creates a Gemini API client for apiKey.
func NewClientAdapter(ctx context.Context, apiKey string, options ...Option) (*Adapter, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("no API key for gemini")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not create gemini client")
	}
	return NewAdapter(client.Models, options...), nil
}

// BuildContents maps messages to genai contents. Non-user turns become model
// turns, consecutive turns of one role are merged, and image markup is split
// into inline data parts. It reports whether any image was found.
func BuildContents(messages []chat.Message) ([]*genai.Content, bool) {
	contents := []*genai.Content{}
	hasImage := false
	for _, m := range messages {
		role := genai.RoleModel
		if m.Role == chat.RoleUser {
			role = genai.RoleUser
		}

		parts := []*genai.Part{}
		for _, p := range providers.SplitImageMarkup(m.Content) {
			if p.Image != nil {
				hasImage = true
				parts = append(parts, &genai.Part{
					InlineData: &genai.Blob{
						MIMEType: p.Image.MIMEType,
						Data:     p.Image.Data,
					},
				})
				continue
			}
			parts = append(parts, &genai.Part{Text: strings.TrimSpace(p.Text)})
		}
		if len(parts) == 0 {
			continue
		}

		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents, hasImage
}

func (a *Adapter) model(params providers.ModelParams, vision bool) string {
	if vision {
		return a.visionModel
	}
	if a.textModel != "" {
		return a.textModel
	}
	return params.Model.UpstreamName()
}

func (a *Adapter) Complete(ctx context.Context, messages []chat.Message, params providers.ModelParams) (string, error) {
	contents, vision := BuildContents(messages)
	if len(contents) == 0 {
		return "", errors.New("gemini: no message content to send")
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(params.Temperature)),
	}
	if params.MaxTokens > 0 {
		config.MaxOutputTokens = int32(params.MaxTokens)
	}

	model := a.model(params, vision)
	log.Debug().Str("model", model).Bool("vision", vision).Int("contents", len(contents)).Msg("Sending gemini request")
	resp, err := a.models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return "", wrapError(err)
	}

	text := extractVisibleText(resp)
	if text == "" {
		return "", &providers.MalformedResponseError{Provider: ProviderName, Reason: "no text in first candidate"}
	}
	return text, nil
}

func (a *Adapter) SendMessages(ctx context.Context, messages []chat.Message, params providers.ModelParams) (providers.Stream, error) {
	text, err := a.Complete(ctx, messages, params)
	if err != nil {
		return nil, err
	}
	return providers.NewSliceStream([]string{text}, nil), nil
}

func extractVisibleText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought || part.Text == "" {
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}

func wrapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &providers.ProviderError{Provider: ProviderName, Status: apiErr.Code, Body: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &providers.ProviderError{Provider: ProviderName, Status: apiErrPtr.Code, Body: apiErrPtr.Message}
	}
	return err
}

var _ providers.Adapter = (*Adapter)(nil)
var _ providers.Completer = (*Adapter)(nil)
