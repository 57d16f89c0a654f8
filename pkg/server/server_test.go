package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-go-golems/threadchat/pkg/chat"
	"github.com/go-go-golems/threadchat/pkg/codec"
	"github.com/go-go-golems/threadchat/pkg/providers"
	"github.com/go-go-golems/threadchat/pkg/store"
	"github.com/go-go-golems/threadchat/pkg/titles"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	fragments []string
	err       error
	streamErr error
	params    providers.ModelParams
	messages  []chat.Message
}

func (f *fakeAdapter) SendMessages(_ context.Context, messages []chat.Message, params providers.ModelParams) (providers.Stream, error) {
	f.params = params
	f.messages = messages
	if f.err != nil {
		return nil, f.err
	}
	return providers.NewSliceStream(f.fragments, f.streamErr), nil
}

type fakeOCR struct {
	got string
}

func (f *fakeOCR) ExtractText(_ context.Context, imageData string) (string, error) {
	f.got = imageData
	return "HELLO", nil
}

type fakeAnalyzer struct{}

func (fakeAnalyzer) AnalyzeImage(context.Context, string) (string, error) {
	return "", errors.New("vision down")
}

func post(t *testing.T, srv *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = resp.Body.Close()
	})
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestChatStreamsPlainText(t *testing.T) {
	adapter := &fakeAdapter{fragments: []string{"Hel", "lo"}}
	srv := httptest.NewServer(New(adapter).Handler())
	defer srv.Close()

	resp := post(t, srv, "/api/chat", map[string]interface{}{
		"messages": []chat.Message{chat.NewMessage(chat.RoleUser, "hi")},
		"model":    "claude",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Hello", string(body))
	assert.Equal(t, chat.ModelClaude, adapter.params.Model)
	assert.Equal(t, 1000, adapter.params.MaxTokens)
}

func TestChatErrors(t *testing.T) {
	adapter := &fakeAdapter{err: &providers.ProviderError{Provider: "openai", Status: 401, Body: "bad key"}}
	srv := httptest.NewServer(New(adapter).Handler())
	defer srv.Close()

	resp := post(t, srv, "/api/chat", map[string]interface{}{
		"messages": []chat.Message{chat.NewMessage(chat.RoleUser, "hi")},
	})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	var e errorResponse
	decodeBody(t, resp, &e)
	assert.Equal(t, "Internal server error", e.Error)
	assert.Contains(t, e.Details, "401")

	resp = post(t, srv, "/api/chat", map[string]interface{}{"messages": []chat.Message{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// a failure after the headers went out drops the connection
	adapter.err = nil
	adapter.fragments = []string{"partial"}
	adapter.streamErr = errors.New("boom")
	b, _ := json.Marshal(map[string]interface{}{"messages": []chat.Message{chat.NewMessage(chat.RoleUser, "hi")}})
	resp2, err := http.Post(srv.URL+"/api/chat", "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	defer func() {
		_ = resp2.Body.Close()
	}()
	_, err = io.ReadAll(resp2.Body)
	assert.Error(t, err)
}

func TestTitleAndSummary(t *testing.T) {
	gen, err := titles.NewGenerator(&fakeAdapter{fragments: []string{"「猫の話」"}})
	require.NoError(t, err)
	srv := httptest.NewServer(New(&fakeAdapter{}, WithTitleGenerator(gen)).Handler())
	defer srv.Close()

	var title titleResponse
	decodeBody(t, post(t, srv, "/api/chat/title", titleRequest{Message: "猫について教えて"}), &title)
	assert.Equal(t, "猫の話", title.Title)

	var summary summaryResponse
	decodeBody(t, post(t, srv, "/api/chat/summary", summaryRequest{
		Messages: []chat.Message{chat.NewMessage(chat.RoleUser, "猫について教えて")},
	}), &summary)
	assert.Equal(t, "「猫の話」", summary.Summary)
}

func TestOCRAndAnalysis(t *testing.T) {
	o := &fakeOCR{}
	srv := httptest.NewServer(New(&fakeAdapter{}, WithTextExtractor(o), WithImageAnalyzer(fakeAnalyzer{})).Handler())
	defer srv.Close()

	var text ocrResponse
	decodeBody(t, post(t, srv, "/api/ocr", imageRequest{ImageData: "data:image/png;base64,aGk="}), &text)
	assert.Equal(t, "HELLO", text.Text)
	assert.Equal(t, "data:image/png;base64,aGk=", o.got)

	resp := post(t, srv, "/api/ocr", imageRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, srv, "/api/chat/analyze-image", imageRequest{ImageData: "data:image/png;base64,aGk="})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	var e errorResponse
	decodeBody(t, resp, &e)
	assert.Equal(t, "vision down", e.Details)

	unconfigured := httptest.NewServer(New(&fakeAdapter{}).Handler())
	defer unconfigured.Close()
	resp = post(t, unconfigured, "/api/ocr", imageRequest{ImageData: "x"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestExportImportAndHistory(t *testing.T) {
	ctx := context.Background()
	st := store.New(ctx, store.NewMemoryBackend())
	existing := chat.NewChat(chat.WithMessages(chat.NewMessage(chat.RoleUser, "golang generics")))
	_, err := st.AddChat(ctx, existing)
	require.NoError(t, err)

	srv := httptest.NewServer(New(&fakeAdapter{}, WithStore(st)).Handler())
	defer srv.Close()

	var exported exportResponse
	decodeBody(t, post(t, srv, "/api/chat/export-import", map[string]interface{}{"action": "export"}), &exported)
	require.True(t, exported.Success)
	require.Len(t, exported.Data.Chats, 1)

	envelope := codec.ExportChats([]*chat.Chat{existing, chat.NewChat()}, chat.DefaultSettings(), chat.ExportOptions{})
	resp := post(t, srv, "/api/chat/export-import", map[string]interface{}{"action": "import", "data": envelope})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var imported importResponse
	decodeBody(t, resp, &imported)
	assert.True(t, imported.Success)
	assert.Equal(t, 2, imported.ImportedChatsCount)
	assert.Equal(t, []string{existing.ID}, imported.DuplicateChats)
	assert.Len(t, st.Chats(), 3)

	envelope.Version = "2.0.0"
	resp = post(t, srv, "/api/chat/export-import", map[string]interface{}{"action": "import", "data": envelope})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	decodeBody(t, resp, &imported)
	assert.False(t, imported.Success)
	assert.True(t, strings.Contains(imported.Error, "互換性のないバージョンです"))

	resp = post(t, srv, "/api/chat/export-import", map[string]interface{}{"action": "nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var history historyResponse
	decodeBody(t, post(t, srv, "/api/chat/history", store.SearchFilters{Keyword: "generics"}), &history)
	assert.True(t, history.Success)
	assert.Len(t, history.Results, 2)
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(&fakeAdapter{})
	done := make(chan error, 1)
	go func() {
		done <- s.ListenAndServe(ctx, "127.0.0.1:0")
	}()
	cancel()
	assert.NoError(t, <-done)
}
