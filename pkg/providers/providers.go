// Package providers defines the uniform streaming interface the chat
// orchestrator talks to. Each LLM vendor gets its own adapter in a
// subpackage, translating its wire format into a sequence of text fragments.
package providers

import (
	"context"
	"io"
	"strings"

	"github.com/go-go-golems/threadchat/pkg/chat"
)

// ModelParams carries the per-request knobs taken from the chat settings.
type ModelParams struct {
	Model       chat.ModelType
	Temperature float64
	MaxTokens   int
}

func ParamsFromSettings(model chat.ModelType, s chat.ChatSettings) ModelParams {
	if model == "" {
		model = s.Model
	}
	return ModelParams{
		Model:       model,
		Temperature: s.Temperature,
		MaxTokens:   s.MaxTokens,
	}
}

// Stream is a finite, non-restartable sequence of text fragments. Recv returns
// io.EOF once the upstream response is exhausted. Close releases the
// underlying connection and may be called at any time, more than once.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Adapter sends a conversation to one provider. Cancelling ctx stops the
// underlying network read. Adapters never retry.
type Adapter interface {
	SendMessages(ctx context.Context, messages []chat.Message, params ModelParams) (Stream, error)
}

// Collect drains s and returns the concatenated text.
func Collect(s Stream) (string, error) {
	defer func() {
		_ = s.Close()
	}()
	var sb strings.Builder
	for {
		fragment, err := s.Recv()
		if err == io.EOF {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(fragment)
	}
}

// Completer is implemented by adapters that have a native non-streaming call.
type Completer interface {
	Complete(ctx context.Context, messages []chat.Message, params ModelParams) (string, error)
}

// Complete is a single-shot call. It uses the adapter's Completer when it has
// one and drains a stream otherwise.
func Complete(ctx context.Context, a Adapter, messages []chat.Message, params ModelParams) (string, error) {
	if c, ok := a.(Completer); ok {
		return c.Complete(ctx, messages, params)
	}
	s, err := a.SendMessages(ctx, messages, params)
	if err != nil {
		return "", err
	}
	return Collect(s)
}

// SliceStream yields a fixed list of fragments. Gemini uses it to turn a
// single-shot response into a one-fragment stream.
type SliceStream struct {
	fragments []string
	pos       int
	err       error
	closed    bool
}

// NewSliceStream returns a stream over fragments that ends with err, or io.EOF
// when err is nil.
func NewSliceStream(fragments []string, err error) *SliceStream {
	return &SliceStream{fragments: fragments, err: err}
}

func (s *SliceStream) Recv() (string, error) {
	if s.closed {
		return "", io.EOF
	}
	if s.pos < len(s.fragments) {
		f := s.fragments[s.pos]
		s.pos++
		return f, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}

var _ Stream = (*SliceStream)(nil)
