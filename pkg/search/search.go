// Package search scans a snapshot of the session store for a query.
package search

import (
	"sort"
	"strings"
	"unicode"

	"github.com/go-go-golems/dialogue/pkg/conversation"
	"github.com/rs/zerolog"
)

// DefaultSnippetBudget is the number of characters a compressed snippet may use.
const DefaultSnippetBudget = 25

type Kind string

const (
	KindTitle   Kind = "title"
	KindMessage Kind = "message"
)

// Result points at a matching title or message. MessageIndex is -1 for
// title results.
type Result struct {
	Kind         Kind   `json:"kind" yaml:"kind"`
	SessionID    string `json:"session_id" yaml:"session_id"`
	SessionIndex int    `json:"session_index" yaml:"session_index"`
	MessageIndex int    `json:"message_index" yaml:"message_index"`
	Text         string `json:"text" yaml:"text"`
}

func (r Result) MarshalZerologObject(e *zerolog.Event) {
	e.Str("kind", string(r.Kind)).
		Int("session_index", r.SessionIndex).
		Int("message_index", r.MessageIndex)
}

// Search returns the case-insensitive substring matches of query among the
// session titles and message texts. Title matches come first, by session
// index. Message matches follow, by session index and then with the most
// recent message of a session first. A blank query matches nothing.
func Search(sessions []*conversation.Session, query string) []Result {
	if strings.TrimSpace(query) == "" {
		return nil
	}
	q := lower(query)

	var titles, messages []Result
	for si, sess := range sessions {
		if strings.Contains(lower(sess.Title), q) {
			titles = append(titles, Result{
				Kind:         KindTitle,
				SessionID:    sess.ID,
				SessionIndex: si,
				MessageIndex: -1,
				Text:         sess.Title,
			})
		}
		for mi, msg := range sess.Messages {
			text := msg.Text()
			if text == "" || !strings.Contains(lower(text), q) {
				continue
			}
			messages = append(messages, Result{
				Kind:         KindMessage,
				SessionID:    sess.ID,
				SessionIndex: si,
				MessageIndex: mi,
				Text:         text,
			})
		}
	}

	sort.SliceStable(titles, func(i, j int) bool {
		return titles[i].SessionIndex < titles[j].SessionIndex
	})
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].SessionIndex != messages[j].SessionIndex {
			return messages[i].SessionIndex < messages[j].SessionIndex
		}
		return messages[i].MessageIndex > messages[j].MessageIndex
	})

	return append(titles, messages...)
}

// Compress shortens text to about budget characters, keeping the first
// occurrence of query visible. Cuts are marked with an ellipsis.
func Compress(text string, query string, budget int) string {
	if budget <= 0 {
		budget = DefaultSnippetBudget
	}
	r := []rune(text)
	if len(r) <= budget {
		return text
	}

	idx := runeIndex([]rune(lower(text)), []rune(lower(query)))
	if idx < 0 || query == "" {
		n := budget - len(conversation.Ellipsis)
		if n < 0 {
			n = 0
		}
		return string(r[:n]) + conversation.Ellipsis
	}

	ql := len([]rune(query))
	if ql >= budget {
		return string(r[idx:min(idx+budget, len(r))])
	}

	remain := budget - ql
	left := remain / 2
	right := remain - left
	start := max(idx-left, 0)
	end := min(idx+ql+right, len(r))

	ret := string(r[start:end])
	if start > 0 {
		ret = conversation.Ellipsis + ret
	}
	if end < len(r) {
		ret += conversation.Ellipsis
	}
	return ret
}

// lower folds case rune by rune so that rune offsets stay aligned with the
// original text.
func lower(s string) string {
	return strings.Map(unicode.ToLower, s)
}

func runeIndex(haystack, needle []rune) int {
	if len(needle) == 0 {
		return 0
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
