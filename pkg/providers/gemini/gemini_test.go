package gemini

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/go-go-golems/threadchat/pkg/chat"
	"github.com/go-go-golems/threadchat/pkg/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeModels struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
	resp     *genai.GenerateContentResponse
	err      error
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.contents = contents
	f.config = config
	return f.resp, f.err
}

func textResponse(texts ...string) *genai.GenerateContentResponse {
	parts := []*genai.Part{}
	for _, t := range texts {
		parts = append(parts, &genai.Part{Text: t})
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Role: genai.RoleModel, Parts: parts}},
		},
	}
}

func TestTextRequestSynthesizesSingleFragment(t *testing.T) {
	fake := &fakeModels{resp: textResponse("Hello ", "there")}
	a := NewAdapter(fake)

	msgs := []chat.Message{
		chat.NewMessage(chat.RoleSystem, "ctx"),
		chat.NewMessage(chat.RoleAssistant, "prev"),
		chat.NewMessage(chat.RoleUser, "hi"),
	}
	s, err := a.SendMessages(context.Background(), msgs, providers.ModelParams{Model: chat.ModelGeminiPro, Temperature: 0.7, MaxTokens: 2048})
	require.NoError(t, err)

	f, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "Hello there", f)
	_, err = s.Recv()
	assert.Equal(t, io.EOF, err)

	assert.Equal(t, "gemini-pro", fake.model)
	require.Len(t, fake.contents, 2)
	assert.Equal(t, genai.RoleModel, fake.contents[0].Role)
	assert.Len(t, fake.contents[0].Parts, 2)
	assert.Equal(t, genai.RoleUser, fake.contents[1].Role)
	assert.Equal(t, int32(2048), fake.config.MaxOutputTokens)
}

func TestVisionRequest(t *testing.T) {
	fake := &fakeModels{resp: textResponse("a cat")}
	a := NewAdapter(fake, WithVisionModel("gemini-1.5-flash"))

	content := "what is this? ![photo](data:image/jpeg;base64,aGVsbG8=) thanks"
	_, err := a.SendMessages(context.Background(), []chat.Message{chat.NewMessage(chat.RoleUser, content)}, providers.ModelParams{Model: chat.ModelGeminiPro})
	require.NoError(t, err)

	assert.Equal(t, "gemini-1.5-flash", fake.model)
	require.Len(t, fake.contents, 1)
	parts := fake.contents[0].Parts
	require.Len(t, parts, 3)
	assert.Equal(t, "what is this?", parts[0].Text)
	require.NotNil(t, parts[1].InlineData)
	assert.Equal(t, "image/jpeg", parts[1].InlineData.MIMEType)
	assert.Equal(t, []byte("hello"), parts[1].InlineData.Data)
	assert.Equal(t, "thanks", parts[2].Text)
}

func TestMissingTextIsMalformed(t *testing.T) {
	fake := &fakeModels{resp: &genai.GenerateContentResponse{}}
	a := NewAdapter(fake)
	_, err := a.SendMessages(context.Background(), []chat.Message{chat.NewMessage(chat.RoleUser, "hi")}, providers.ModelParams{Model: chat.ModelGeminiPro})
	assert.True(t, errors.Is(err, providers.ErrMalformedResponse))
}

func TestAPIErrorIsProviderError(t *testing.T) {
	fake := &fakeModels{err: genai.APIError{Code: 403, Message: "API key not valid", Status: "PERMISSION_DENIED"}}
	a := NewAdapter(fake)
	_, err := a.SendMessages(context.Background(), []chat.Message{chat.NewMessage(chat.RoleUser, "hi")}, providers.ModelParams{Model: chat.ModelGeminiPro})
	var perr *providers.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 403, perr.Status)
	assert.Equal(t, "API key not valid", perr.Body)
}

func TestEmptyConversation(t *testing.T) {
	a := NewAdapter(&fakeModels{})
	_, err := a.SendMessages(context.Background(), nil, providers.ModelParams{Model: chat.ModelGeminiPro})
	assert.Error(t, err)
}

func TestNewClientAdapterRequiresKey(t *testing.T) {
	_, err := NewClientAdapter(context.Background(), " ")
	assert.Error(t, err)
}
