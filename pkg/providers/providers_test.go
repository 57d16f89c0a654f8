package providers

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/go-go-golems/threadchat/pkg/chat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedAdapter struct {
	name string
}

func (f *fixedAdapter) SendMessages(_ context.Context, _ []chat.Message, _ ModelParams) (Stream, error) {
	return NewSliceStream([]string{f.name}, nil), nil
}

func TestSliceStream(t *testing.T) {
	s := NewSliceStream([]string{"a", "b"}, nil)
	f, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "a", f)
	f, err = s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "b", f)
	_, err = s.Recv()
	assert.Equal(t, io.EOF, err)
	_, err = s.Recv()
	assert.Equal(t, io.EOF, err)
}

func TestCollectPropagatesError(t *testing.T) {
	boom := &ProviderError{Provider: "test", Status: 500, Body: "oops"}
	text, err := Collect(NewSliceStream([]string{"par", "tial"}, boom))
	assert.Equal(t, "partial", text)
	assert.True(t, errors.Is(err, ErrProvider))
}

func TestRegistryDispatchesOnModel(t *testing.T) {
	r := NewRegistry()
	r.Register(chat.ProviderOpenAI, &fixedAdapter{name: "openai"})
	r.Register(chat.ProviderClaude, &fixedAdapter{name: "claude"})

	ctx := context.Background()
	text, err := Complete(ctx, r, nil, ModelParams{Model: chat.ModelClaude})
	require.NoError(t, err)
	assert.Equal(t, "claude", text)

	text, err = Complete(ctx, r, nil, ModelParams{Model: chat.ModelType("whatever")})
	require.NoError(t, err)
	assert.Equal(t, "openai", text)

	_, err = r.SendMessages(ctx, nil, ModelParams{Model: chat.ModelGeminiPro})
	assert.True(t, errors.Is(err, ErrUnknownProvider))
}

func TestErrorsMatchSentinels(t *testing.T) {
	var err error = &MalformedResponseError{Provider: "gemini", Reason: "no candidates"}
	assert.True(t, errors.Is(err, ErrMalformedResponse))
	assert.False(t, errors.Is(err, ErrProvider))
	assert.Contains(t, err.Error(), "no candidates")
}

func TestParamsFromSettings(t *testing.T) {
	s := chat.DefaultSettings()
	p := ParamsFromSettings("", s)
	assert.Equal(t, s.Model, p.Model)
	assert.Equal(t, 1000, p.MaxTokens)
	assert.Equal(t, chat.ModelClaude, ParamsFromSettings(chat.ModelClaude, s).Model)
}
