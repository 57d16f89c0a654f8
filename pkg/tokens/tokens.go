package tokens

import (
	"sync"
	"unicode/utf8"

	"github.com/go-go-golems/threadchat/pkg/chat"
	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"
)

// Estimator approximates how many tokens a text costs.
type Estimator interface {
	Count(text string) int
}

// MessageOverhead is added per message for role and framing tokens.
const MessageOverhead = 4

// CountMessages sums the estimate over all message contents.
func CountMessages(e Estimator, messages []chat.Message) int {
	total := 0
	for _, m := range messages {
		total += e.Count(m.Content) + MessageOverhead
	}
	return total
}

// ChatTokenInfo reports the token usage of c against limit.
func ChatTokenInfo(e Estimator, c *chat.Chat, limit int) chat.TokenInfo {
	return chat.NewTokenInfo(CountMessages(e, c.Messages), limit)
}

// HeuristicEstimator assumes four characters per token.
type HeuristicEstimator struct{}

func (HeuristicEstimator) Count(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// CodecEstimator counts with a tiktoken BPE codec.
type CodecEstimator struct {
	codec    tokenizer.Codec
	fallback Estimator
}

func (c *CodecEstimator) Count(text string) int {
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		log.Debug().Err(err).Msg("tokenizer failed, using heuristic count")
		return c.fallback.Count(text)
	}
	return len(ids)
}

var (
	defaultOnce      sync.Once
	defaultEstimator Estimator
)

// Default returns a cl100k_base estimator, or the heuristic one when the codec
// cannot be loaded.
func Default() Estimator {
	defaultOnce.Do(func() {
		codec, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			log.Warn().Err(err).Msg("could not load cl100k_base tokenizer, falling back to heuristic")
			defaultEstimator = HeuristicEstimator{}
			return
		}
		defaultEstimator = &CodecEstimator{codec: codec, fallback: HeuristicEstimator{}}
	})
	return defaultEstimator
}

// ForModel picks the codec of an OpenAI model, falling back to Default.
func ForModel(model chat.ModelType) Estimator {
	if model.Provider() != chat.ProviderOpenAI {
		return Default()
	}
	codec, err := tokenizer.ForModel(tokenizer.Model(model.UpstreamName()))
	if err != nil {
		return Default()
	}
	return &CodecEstimator{codec: codec, fallback: HeuristicEstimator{}}
}
