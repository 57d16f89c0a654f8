package threadcontext

import (
	"sort"
	"strings"
	"unicode"

	"github.com/go-go-golems/threadchat/pkg/chat"
)

const DefaultMaxRelated = 3

// MinKeywordLength is exclusive: only tokens longer than this are keywords.
const MinKeywordLength = 3

type KeywordSet map[string]struct{}

// ExtractKeywords lowercases all message contents, splits them on anything that
// is neither a letter nor a digit and keeps the tokens longer than
// MinKeywordLength characters.
func ExtractKeywords(messages []chat.Message) KeywordSet {
	ret := KeywordSet{}
	for _, m := range messages {
		words := strings.FieldsFunc(strings.ToLower(m.Content), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
		})
		for _, w := range words {
			if len([]rune(w)) > MinKeywordLength {
				ret[w] = struct{}{}
			}
		}
	}
	return ret
}

// Similarity is the Jaccard index of a and b. It is 0 when either set is empty.
func Similarity(a KeywordSet, b KeywordSet) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	intersection := 0
	for k := range small {
		if _, ok := large[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

type scoredChat struct {
	id    string
	score float64
}

// DetectRelatedChats ranks all other chats by keyword similarity to current and
// returns up to maxRelated ids, best first. Equal scores keep collection order,
// so chats sharing no keyword still fill the remaining slots.
func DetectRelatedChats(current *chat.Chat, allChats []*chat.Chat, maxRelated int) []string {
	ret := []string{}
	if current == nil || maxRelated <= 0 {
		return ret
	}
	keywords := ExtractKeywords(current.Messages)

	scored := []scoredChat{}
	for _, c := range allChats {
		if c == nil || c.ID == current.ID {
			continue
		}
		scored = append(scored, scoredChat{id: c.ID, score: Similarity(keywords, ExtractKeywords(c.Messages))})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	for i := 0; i < len(scored) && i < maxRelated; i++ {
		ret = append(ret, scored[i].id)
	}
	return ret
}
