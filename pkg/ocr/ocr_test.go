package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-go-golems/threadchat/pkg/providers"
	"github.com/go-go-golems/threadchat/pkg/titles"
	go_openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVision(t *testing.T, handler http.HandlerFunc) *VisionClient {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewVisionClient("gkey", WithEndpoint(srv.URL+"/v1/images:annotate"))
	require.NoError(t, err)
	return c
}

func TestVisionExtractText(t *testing.T) {
	var got visionRequest
	c := newVision(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gkey", r.URL.Query().Get("key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = fmt.Fprint(w, `{"responses":[{"textAnnotations":[{"description":"HELLO\nWORLD"},{"description":"HELLO"}]}]}`)
	})

	text, err := c.ExtractText(context.Background(), "data:image/png;base64,aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, "HELLO\nWORLD", text)
	require.Len(t, got.Requests, 1)
	assert.Equal(t, "aGVsbG8=", got.Requests[0].Image.Content)
	assert.Equal(t, "TEXT_DETECTION", got.Requests[0].Features[0].Type)
}

func TestVisionNoText(t *testing.T) {
	c := newVision(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"responses":[{}]}`)
	})
	text, err := c.ExtractText(context.Background(), "data:image/png;base64,aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, NoTextDetected, text)
}

func TestVisionErrors(t *testing.T) {
	c := newVision(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = fmt.Fprint(w, `{"error":{"message":"denied"}}`)
	})
	_, err := c.ExtractText(context.Background(), "data:image/png;base64,aGVsbG8=")
	assert.True(t, errors.Is(err, providers.ErrProvider))

	c = newVision(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"responses":[]}`)
	})
	_, err = c.ExtractText(context.Background(), "data:image/png;base64,aGVsbG8=")
	assert.True(t, errors.Is(err, providers.ErrMalformedResponse))

	_, err = NewVisionClient("")
	assert.Error(t, err)
}

type fakeCompleter struct {
	req  go_openai.ChatCompletionRequest
	resp go_openai.ChatCompletionResponse
}

func (f *fakeCompleter) CreateChatCompletion(_ context.Context, req go_openai.ChatCompletionRequest) (go_openai.ChatCompletionResponse, error) {
	f.req = req
	return f.resp, nil
}

func TestAnalyzeImage(t *testing.T) {
	f := &fakeCompleter{resp: go_openai.ChatCompletionResponse{
		Choices: []go_openai.ChatCompletionChoice{{Message: go_openai.ChatCompletionMessage{Content: "猫の写真です"}}},
	}}
	a := NewImageAnalyzer(f)
	text, err := a.AnalyzeImage(context.Background(), "data:image/png;base64,aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, "猫の写真です", text)
	assert.Equal(t, "gpt-4-vision-preview", f.req.Model)
	require.Len(t, f.req.Messages[0].MultiContent, 2)
	assert.Equal(t, go_openai.ImageURLDetailHigh, f.req.Messages[0].MultiContent[1].ImageURL.Detail)

	f.resp = go_openai.ChatCompletionResponse{}
	text, err = a.AnalyzeImage(context.Background(), "data:image/png;base64,aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, AnalysisFailed, text)

	_, err = a.AnalyzeImage(context.Background(), "")
	assert.Error(t, err)
}

func TestComposeImageMessage(t *testing.T) {
	url := "data:image/png;base64,aGVsbG8="
	content := ComposeImageMessage("what does it say?", "shot", url, "HELLO\nWORLD")
	assert.Equal(t, "what does it say?\n\n![shot]("+url+")\n\n検出されたテキスト:\nHELLO\nWORLD", content)

	text, ok := ExtractOCRText(content)
	require.True(t, ok)
	assert.Equal(t, "HELLO\nWORLD", text)

	assert.True(t, providers.HasImageMarkup(content))
	assert.Equal(t, "what does it say?\n\n[画像]", titles.CleanContent(content))

	content = ComposeImageMessage("", "", url, "")
	assert.Equal(t, "![image]("+url+")", content)
	_, ok = ExtractOCRText(content)
	assert.False(t, ok)
}
