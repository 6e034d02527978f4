package conversation

import (
	"fmt"
	"strings"
	"time"
)

type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// ImageRef points at an image attached to a message. URL is either an
// absolute URL or an inline data: URL; Path is the original file name when
// the image was attached locally.
type ImageRef struct {
	URL  string `json:"url" yaml:"url"`
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

func (i *ImageRef) IsInline() bool {
	return i != nil && strings.HasPrefix(i.URL, "data:")
}

type Content struct {
	Text  string    `json:"text" yaml:"text"`
	Image *ImageRef `json:"image,omitempty" yaml:"image,omitempty"`
}

type Message struct {
	Sender    Sender     `json:"sender" yaml:"sender"`
	Content   Content    `json:"content" yaml:"content"`
	Reasoning string     `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

func NewUserMessage(text string, image *ImageRef) *Message {
	return &Message{
		Sender:  SenderUser,
		Content: Content{Text: text, Image: image},
	}
}

func NewBotMessage(text string) *Message {
	return &Message{
		Sender:  SenderBot,
		Content: Content{Text: text},
	}
}

func (m *Message) Text() string {
	return m.Content.Text
}

func (m *Message) IsBot() bool {
	return m.Sender == SenderBot
}

// View renders the message as markdown for display.
func (m *Message) View() string {
	var sb strings.Builder
	if m.Reasoning != "" {
		for _, line := range strings.Split(strings.TrimRight(m.Reasoning, "\n"), "\n") {
			sb.WriteString("> ")
			sb.WriteString(line)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	text := m.Content.Text
	// a leading code fence needs its own line to stay valid markdown
	if strings.HasPrefix(text, "```") {
		text = "\n" + text
	}
	sb.WriteString(fmt.Sprintf("**[%s]**: %s", m.Sender, strings.TrimRight(text, "\n")))
	if m.Content.Image != nil {
		name := m.Content.Image.Path
		if name == "" && !m.Content.Image.IsInline() {
			name = m.Content.Image.URL
		}
		if name == "" {
			name = "inline image"
		}
		sb.WriteString(fmt.Sprintf("\n\n_[image: %s]_", name))
	}
	return sb.String()
}

// MessagePatch replaces the streamed parts of the last message of a session.
type MessagePatch struct {
	Text      string
	Reasoning string
}
