package conversation

// Phase is the tagged state of a session. A DialogID is only meaningful in
// PhasePersisted.
type Phase string

const (
	// PhaseDraft is the editable placeholder that is not backed by a dialog yet.
	PhaseDraft Phase = "draft"
	// PhasePending is a former draft whose first send transaction is in flight.
	PhasePending Phase = "pending"
	// PhasePersisted sessions have a backend dialog id, set exactly once.
	PhasePersisted Phase = "persisted"
)

const (
	DefaultPlaceholderTitle = "New chat"
	DefaultGreeting         = "Hello, I am your AI assistant. How can I help you today?"

	// TitleDeriveLength is the number of characters kept by DeriveTitle.
	TitleDeriveLength = 10
	// MaxTitleLength bounds user-edited titles.
	MaxTitleLength = 15
	Ellipsis       = "..."
)

type Session struct {
	ID       string     `json:"id" yaml:"id"`
	Phase    Phase      `json:"phase" yaml:"phase"`
	DialogID string     `json:"dialog_id,omitempty" yaml:"dialog_id,omitempty"`
	Title    string     `json:"title" yaml:"title"`
	Messages []*Message `json:"messages" yaml:"messages"`
}

func (s *Session) IsDraft() bool {
	return s.Phase == PhaseDraft
}

func (s *Session) IsPersisted() bool {
	return s.Phase == PhasePersisted
}

func (s *Session) LastMessage() (*Message, bool) {
	if len(s.Messages) == 0 {
		return nil, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// DeriveTitle keeps the first TitleDeriveLength characters of text and marks
// the cut with an ellipsis.
func DeriveTitle(text string) string {
	r := []rune(text)
	if len(r) <= TitleDeriveLength {
		return text
	}
	return string(r[:TitleDeriveLength]) + Ellipsis
}
