package store

import (
	"strings"

	"github.com/go-go-golems/threadchat/pkg/chat"
)

// HighlightRadius is how many characters around a keyword hit a highlight keeps.
const HighlightRadius = 30

// SearchFilters narrows a search. Zero values disable a filter. Dates are epoch
// milliseconds compared against a chat's CreatedAt.
type SearchFilters struct {
	StartDate int64          `json:"startDate,omitempty"`
	EndDate   int64          `json:"endDate,omitempty"`
	Model     chat.ModelType `json:"model,omitempty"`
	Keyword   string         `json:"keyword,omitempty"`
}

type MessageMatch struct {
	MessageIndex int      `json:"messageIndex"`
	Content      string   `json:"content"`
	Highlights   []string `json:"highlight"`
}

type SearchResult struct {
	Chat    *chat.Chat     `json:"chat"`
	Matches []MessageMatch `json:"matches"`
}

// Search returns the chats passing filters, in collection order. With a
// keyword only chats with at least one matching message are returned.
func (s *Store) Search(filters SearchFilters) []SearchResult {
	return Search(s.Chats(), filters)
}

func Search(chats []*chat.Chat, filters SearchFilters) []SearchResult {
	ret := []SearchResult{}
	keyword := strings.ToLower(filters.Keyword)
	for _, c := range chats {
		if filters.StartDate > 0 && c.CreatedAt < filters.StartDate {
			continue
		}
		if filters.EndDate > 0 && c.CreatedAt > filters.EndDate {
			continue
		}
		if filters.Model != "" && c.Model != filters.Model {
			continue
		}
		if keyword == "" {
			ret = append(ret, SearchResult{Chat: c, Matches: []MessageMatch{}})
			continue
		}
		matches := findMatches(c.Messages, keyword)
		if len(matches) == 0 {
			continue
		}
		ret = append(ret, SearchResult{Chat: c, Matches: matches})
	}
	return ret
}

func findMatches(messages []chat.Message, keyword string) []MessageMatch {
	ret := []MessageMatch{}
	for i, m := range messages {
		highlights := Highlights(m.Content, keyword, HighlightRadius)
		if len(highlights) == 0 {
			continue
		}
		ret = append(ret, MessageMatch{
			MessageIndex: i,
			Content:      m.Content,
			Highlights:   highlights,
		})
	}
	return ret
}

// Highlights returns one snippet per case-insensitive occurrence of keyword,
// with radius characters of context on each side and "..." where text was cut.
func Highlights(content string, keyword string, radius int) []string {
	if keyword == "" {
		return nil
	}
	original := []rune(content)
	lowered := []rune(strings.ToLower(content))
	if len(lowered) != len(original) {
		// lowercasing changed the length, fall back to the lowered text
		original = lowered
	}
	needle := []rune(strings.ToLower(keyword))

	ret := []string{}
	for i := 0; i+len(needle) <= len(lowered); {
		if !hasPrefixAt(lowered, needle, i) {
			i++
			continue
		}
		start := i - radius
		if start < 0 {
			start = 0
		}
		end := i + len(needle) + radius
		if end > len(original) {
			end = len(original)
		}
		var sb strings.Builder
		if start > 0 {
			sb.WriteString("...")
		}
		sb.WriteString(string(original[start:end]))
		if end < len(original) {
			sb.WriteString("...")
		}
		ret = append(ret, sb.String())
		i += len(needle)
	}
	return ret
}

func hasPrefixAt(haystack []rune, needle []rune, at int) bool {
	for j, r := range needle {
		if haystack[at+j] != r {
			return false
		}
	}
	return true
}
