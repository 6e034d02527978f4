package stream

import (
	"strings"

	"github.com/rs/zerolog"
)

type RecordType string

const (
	AnswerType    RecordType = "answer"
	ReasoningType RecordType = "reasoning"
)

// Record is one decoded line of a streaming reply.
type Record struct {
	Type    RecordType `json:"type"`
	Content string     `json:"content"`
}

func (r Record) Known() bool {
	return r.Type == AnswerType || r.Type == ReasoningType
}

func (r Record) MarshalZerologObject(e *zerolog.Event) {
	e.Str("type", string(r.Type))
	e.Int("content_length", len(r.Content))
}

var _ zerolog.LogObjectMarshaler = Record{}

// Reply accumulates the answer and reasoning channels of a stream in arrival order.
type Reply struct {
	answer    strings.Builder
	reasoning strings.Builder
}

func (r *Reply) Fold(rec Record) {
	switch rec.Type {
	case AnswerType:
		r.answer.WriteString(rec.Content)
	case ReasoningType:
		r.reasoning.WriteString(rec.Content)
	}
}

func (r *Reply) Answer() string {
	return r.answer.String()
}

func (r *Reply) Reasoning() string {
	return r.reasoning.String()
}

// Empty reports whether both channels are blank.
func (r *Reply) Empty() bool {
	return strings.TrimSpace(r.answer.String()) == "" && strings.TrimSpace(r.reasoning.String()) == ""
}
