package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-go-golems/threadchat/pkg/chat"
	"github.com/go-go-golems/threadchat/pkg/providers"
	go_openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

func chunk(content string) string {
	b, _ := json.Marshal(map[string]interface{}{
		"id":      "chatcmpl-1",
		"object":  "chat.completion.chunk",
		"created": 1,
		"model":   "gpt-4",
		"choices": []map[string]interface{}{
			{"index": 0, "delta": map[string]string{"content": content}},
		},
	})
	return string(b)
}

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := MakeClient("test-key", srv.URL+"/v1")
	require.NoError(t, err)
	return NewAdapter(client)
}

func TestStreamFiltersEmptyDeltas(t *testing.T) {
	var got go_openai.ChatCompletionRequest
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&got)

		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range []string{"Hel", "", "lo"} {
			_, _ = fmt.Fprintf(w, "data: %s\n\n", chunk(c))
		}
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	})

	msgs := []chat.Message{chat.NewMessage(chat.RoleUser, "hi")}
	s, err := a.SendMessages(context.Background(), msgs, providers.ModelParams{Model: chat.ModelGPT4, Temperature: 0.5, MaxTokens: 10})
	require.NoError(t, err)

	fragments := []string{}
	for {
		f, err := s.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		fragments = append(fragments, f)
	}
	require.NoError(t, s.Close())

	assert.Equal(t, []string{"Hel", "lo"}, fragments)
	assert.True(t, got.Stream)
	assert.Equal(t, "gpt-4", got.Model)
	assert.Equal(t, 10, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
}

func TestNonSuccessStatusIsProviderError(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit"}}`)
	})

	_, err := a.SendMessages(context.Background(), nil, providers.ModelParams{Model: chat.ModelGPT4})
	require.Error(t, err)
	assert.True(t, errors.Is(err, providers.ErrProvider))
	var perr *providers.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusTooManyRequests, perr.Status)
	assert.Equal(t, "slow down", perr.Body)
}

func TestComplete(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"A title"},"finish_reason":"stop"}]}`)
	})
	text, err := providers.Complete(context.Background(), a, nil, providers.ModelParams{Model: chat.ModelGPT35Turbo})
	require.NoError(t, err)
	assert.Equal(t, "A title", text)
}

func TestCompleteWithoutChoicesIsMalformed(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"id":"x","object":"chat.completion","choices":[]}`)
	})
	_, err := a.Complete(context.Background(), nil, providers.ModelParams{Model: chat.ModelGPT35Turbo})
	assert.True(t, errors.Is(err, providers.ErrMalformedResponse))
}

func TestVisionRequestUsesImageParts(t *testing.T) {
	content := "what is this? ![img](data:image/png;base64,aGVsbG8=)"
	req := MakeCompletionRequest(
		[]chat.Message{chat.NewMessage(chat.RoleUser, content)},
		providers.ModelParams{Model: chat.ModelGPT4Vision},
		false,
	)
	require.Len(t, req.Messages, 1)
	m := req.Messages[0]
	assert.Empty(t, m.Content)
	require.Len(t, m.MultiContent, 2)
	assert.Equal(t, go_openai.ChatMessagePartTypeText, m.MultiContent[0].Type)
	assert.Equal(t, go_openai.ChatMessagePartTypeImageURL, m.MultiContent[1].Type)
	assert.Equal(t, go_openai.ImageURLDetailHigh, m.MultiContent[1].ImageURL.Detail)

	// non-vision models get the raw text
	req = MakeCompletionRequest(
		[]chat.Message{chat.NewMessage(chat.RoleUser, content)},
		providers.ModelParams{Model: chat.ModelGPT4},
		false,
	)
	assert.Equal(t, content, req.Messages[0].Content)
}

func TestMakeClientRequiresKey(t *testing.T) {
	_, err := MakeClient("", "")
	assert.Error(t, err)
}
