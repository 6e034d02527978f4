package backend

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/go-go-golems/dialogue/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Identity is the authenticated user on whose behalf dialogs are created.
type Identity struct {
	Username string `json:"username" yaml:"username"`
	Token    string `json:"token,omitempty" yaml:"token,omitempty"`
}

func (i *Identity) Valid() bool {
	return i != nil && strings.TrimSpace(i.Username) != ""
}

// DialogID is the backend identifier of a persisted dialog. The backend
// sends it as a JSON number, but strings are accepted too.
type DialogID string

func (d *DialogID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*d = DialogID(n.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.Wrapf(err, "invalid dialog id %s", string(b))
	}
	*d = DialogID(s)
	return nil
}

// MarshalJSON emits integral ids as numbers, which is what the backend
// stores, and everything else as a string.
func (d DialogID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(d), 10, 64); err == nil {
		return []byte(d), nil
	}
	return json.Marshal(string(d))
}

func (d DialogID) String() string {
	return string(d)
}

type newDialogRequest struct {
	Username          string `json:"username"`
	ConversationTitle string `json:"conversation_title"`
}

type newDialogResponse struct {
	DialogID DialogID `json:"dialog_id"`
}

// AskRequest is the body of the streaming /ask call.
type AskRequest struct {
	Username          string   `json:"username"`
	DialogID          DialogID `json:"dialog_id"`
	ConversationTitle string   `json:"conversation_title"`
	Question          string   `json:"question"`
	Model             string   `json:"model"`
	ImageBase64       *string  `json:"image_base64"`
	ImagePath         *string  `json:"image_path"`
}

func (a AskRequest) MarshalZerologObject(e *zerolog.Event) {
	e.Str("username", a.Username).
		Str("dialog_id", string(a.DialogID)).
		Str("title", a.ConversationTitle).
		Int("question_length", len(a.Question)).
		Str("model", a.Model)
	if a.ImageBase64 != nil {
		e.Int("image_length", len(*a.ImageBase64))
	}
	if a.ImagePath != nil {
		e.Str("image_path", *a.ImagePath)
	}
}

type stopRequest struct {
	DialogID DialogID `json:"dialog_id"`
	Username string   `json:"username"`
}

type renameRequest struct {
	Username string `json:"username"`
	Title    string `json:"title"`
}

type verifyTokenRequest struct {
	Username string `json:"username"`
	Token    string `json:"token"`
}

// ChatRecord is one message of a dialog as stored by the backend.
type ChatRecord struct {
	// Role is 1 for user messages, anything else is the assistant.
	Role             int    `json:"role" yaml:"role"`
	Content          string `json:"content" yaml:"content"`
	MediaURL         string `json:"media_url,omitempty" yaml:"media_url,omitempty"`
	CreatedAt        string `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	ReasoningContent string `json:"reasoning_content,omitempty" yaml:"reasoning_content,omitempty"`
}

type Dialog struct {
	DialogID    DialogID     `json:"dialog_id" yaml:"dialog_id"`
	Title       string       `json:"title" yaml:"title"`
	ChatRecords []ChatRecord `json:"chat_records" yaml:"chat_records"`
}

type dialogsResponse struct {
	Conversations []Dialog `json:"conversations"`
}

type errorResponse struct {
	Detail json.RawMessage `json:"detail"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseTimestamp(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// ToSessions converts dialogs from the history listing into persisted
// sessions, resolving media references against baseURL.
func ToSessions(baseURL string, dialogs []Dialog) []*conversation.Session {
	ret := make([]*conversation.Session, 0, len(dialogs))
	for _, d := range dialogs {
		sess := &conversation.Session{
			Phase:    conversation.PhasePersisted,
			DialogID: string(d.DialogID),
			Title:    d.Title,
		}
		for _, r := range d.ChatRecords {
			var image *conversation.ImageRef
			if r.MediaURL != "" {
				image = &conversation.ImageRef{URL: ResolveMediaURL(baseURL, r.MediaURL)}
			}
			m := &conversation.Message{
				Sender:    conversation.SenderBot,
				Content:   conversation.Content{Text: r.Content, Image: image},
				Reasoning: r.ReasoningContent,
				CreatedAt: parseTimestamp(r.CreatedAt),
			}
			if r.Role == 1 {
				m.Sender = conversation.SenderUser
				m.Reasoning = ""
			}
			sess.Messages = append(sess.Messages, m)
		}
		ret = append(ret, sess)
	}
	return ret
}

// ResolveMediaURL keeps inline data: URLs and resolves everything else as an
// upload stored on the backend.
func ResolveMediaURL(baseURL string, ref string) string {
	if strings.HasPrefix(ref, "data:") {
		return ref
	}
	return strings.TrimRight(baseURL, "/") + "/uploads/" + strings.TrimLeft(ref, "/")
}
