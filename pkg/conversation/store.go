// Package conversation owns the ordered list of chat sessions, the selected
// session and the draft placeholder.
//
// Sessions are addressed by their stable ID. Array positions change under
// promotion and deletion, so every mutation re-resolves the target through an
// id → index table that the Store rebuilds on each structural change. A
// mutation whose target has disappeared either fails with ErrInvalidSession
// or, for the streaming fold, is silently dropped.
//
// Readers only ever get deep copies (Snapshot, Session), so a UI rendering
// from a snapshot never observes a half-applied mutation. Every mutation
// publishes an events.Event after the store lock has been released.
package conversation

import (
	"fmt"
	"sync"

	"github.com/go-go-golems/dialogue/pkg/events"
	"github.com/google/uuid"
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Store struct {
	mu         sync.RWMutex
	sessions   []*Session
	index      map[string]int
	selectedID string

	placeholderTitle string
	greeting         string
	sink             events.EventSink
}

type StoreOption func(*Store)

func WithPlaceholderTitle(title string) StoreOption {
	return func(s *Store) {
		if title != "" {
			s.placeholderTitle = title
		}
	}
}

// WithGreeting sets the bot message every new draft starts with. An empty
// greeting disables it.
func WithGreeting(greeting string) StoreOption {
	return func(s *Store) {
		s.greeting = greeting
	}
}

func WithEventSink(sink events.EventSink) StoreOption {
	return func(s *Store) {
		s.sink = sink
	}
}

// NewStore creates a store holding a single selected draft.
func NewStore(options ...StoreOption) *Store {
	ret := &Store{
		placeholderTitle: DefaultPlaceholderTitle,
		greeting:         DefaultGreeting,
	}
	for _, o := range options {
		o(ret)
	}

	d := ret.newDraft()
	ret.sessions = []*Session{d}
	ret.selectedID = d.ID
	ret.reindexLocked()

	return ret
}

// Snapshot is a deep copy of the store at one point in time.
type Snapshot struct {
	Sessions []*Session
	Selected int
}

func (s Snapshot) SelectedSession() *Session {
	if s.Selected < 0 || s.Selected >= len(s.Sessions) {
		return nil
	}
	return s.Sessions[s.Selected]
}

func (s *Store) PlaceholderTitle() string {
	return s.placeholderTitle
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		Sessions: clone.Clone(s.sessions).([]*Session),
		Selected: s.selectedIndexLocked(),
	}
}

func (s *Store) Session(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return clone.Clone(s.sessions[i]).(*Session), true
}

func (s *Store) Index(id string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	return i, ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) Selected() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedIndexLocked()
}

func (s *Store) SelectedID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[s.selectedIndexLocked()].ID
}

// Draft returns a copy of the draft session, if one exists.
func (s *Store) Draft() (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.draftIndexLocked()
	if i < 0 {
		return nil, false
	}
	return clone.Clone(s.sessions[i]).(*Session), true
}

// FindByDialogID resolves a backend dialog id to the local session id.
func (s *Store) FindByDialogID(dialogID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		if sess.IsPersisted() && sess.DialogID == dialogID {
			return sess.ID, true
		}
	}
	return "", false
}

func (s *Store) AppendMessage(id string, msg *Message) error {
	return s.mutate(func() ([]events.Event, error) {
		sess, err := s.lookupLocked(id)
		if err != nil {
			return nil, errors.Wrap(err, "append message")
		}
		sess.Messages = append(sess.Messages, clone.Clone(msg).(*Message))
		idx := len(sess.Messages) - 1

		log.Trace().
			Str("session_id", id).
			Int("message_index", idx).
			Str("sender", string(msg.Sender)).
			Msg("Appended message")

		return []events.Event{{Type: events.EventTypeMessageAppended, SessionID: id, Index: idx}}, nil
	})
}

// UpdateLastMessage replaces the text and reasoning of the most recent
// message. It is a no-op when the session has no messages or has been
// removed in the meantime.
func (s *Store) UpdateLastMessage(id string, patch MessagePatch) {
	_ = s.mutate(func() ([]events.Event, error) {
		i, ok := s.index[id]
		if !ok {
			log.Debug().Str("session_id", id).Msg("Dropping update for removed session")
			return nil, nil
		}
		sess := s.sessions[i]
		last, ok := sess.LastMessage()
		if !ok {
			return nil, nil
		}
		last.Content.Text = patch.Text
		last.Reasoning = patch.Reasoning

		return []events.Event{{Type: events.EventTypeMessageUpdated, SessionID: id, Index: len(sess.Messages) - 1}}, nil
	})
}

// SetTitle is the user-facing title edit. It is refused until the session is
// backed by a dialog.
func (s *Store) SetTitle(id string, text string) (string, error) {
	var title string
	err := s.mutate(func() ([]events.Event, error) {
		sess, err := s.lookupLocked(id)
		if err != nil {
			return nil, errors.Wrap(err, "set title")
		}
		if !sess.IsPersisted() {
			return nil, ErrTitleLocked
		}
		sess.Title = DeriveTitle(text)
		title = sess.Title
		return []events.Event{{Type: events.EventTypeSessionUpdated, SessionID: id}}, nil
	})
	return title, err
}

// AutoTitle derives the title from the first outgoing message while the
// session still carries the placeholder title. It returns the title in
// effect afterwards.
func (s *Store) AutoTitle(id string, text string) (string, error) {
	var title string
	err := s.mutate(func() ([]events.Event, error) {
		sess, err := s.lookupLocked(id)
		if err != nil {
			return nil, errors.Wrap(err, "derive title")
		}
		if sess.Title != s.placeholderTitle {
			title = sess.Title
			return nil, nil
		}
		sess.Title = DeriveTitle(text)
		title = sess.Title
		return []events.Event{{Type: events.EventTypeSessionUpdated, SessionID: id}}, nil
	})
	return title, err
}

// SetDialogID marks the session persisted. It may only happen once per session.
func (s *Store) SetDialogID(id string, dialogID string) error {
	return s.mutate(func() ([]events.Event, error) {
		sess, err := s.lookupLocked(id)
		if err != nil {
			return nil, errors.Wrap(err, "set dialog id")
		}
		if sess.IsPersisted() {
			log.Error().
				Str("session_id", id).
				Str("dialog_id", sess.DialogID).
				Str("new_dialog_id", dialogID).
				Msg("Dialog id set twice")
			return nil, errors.Wrapf(ErrDialogIDAlreadySet, "session %s", id)
		}
		sess.Phase = PhasePersisted
		sess.DialogID = dialogID
		return []events.Event{{Type: events.EventTypeSessionUpdated, SessionID: id}}, nil
	})
}

// BeginTransaction flips a draft to pending and reports whether the session
// was a draft.
func (s *Store) BeginTransaction(id string) (bool, error) {
	wasDraft := false
	err := s.mutate(func() ([]events.Event, error) {
		sess, err := s.lookupLocked(id)
		if err != nil {
			return nil, errors.Wrap(err, "begin transaction")
		}
		if !sess.IsDraft() {
			return nil, nil
		}
		wasDraft = true
		sess.Phase = PhasePending
		return []events.Event{{Type: events.EventTypeSessionUpdated, SessionID: id}}, nil
	})
	return wasDraft, err
}

// RevertToDraft undoes BeginTransaction after the dialog could not be
// created. If a draft already exists in the meantime, the pending session is
// folded into it instead, since it never got a user message.
func (s *Store) RevertToDraft(id string) error {
	return s.mutate(func() ([]events.Event, error) {
		sess, err := s.lookupLocked(id)
		if err != nil {
			return nil, errors.Wrap(err, "revert to draft")
		}
		if sess.Phase != PhasePending {
			return nil, nil
		}

		if di := s.draftIndexLocked(); di >= 0 {
			draftID := s.sessions[di].ID
			i := s.index[id]
			s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
			if s.selectedID == id {
				s.selectedID = draftID
			}
			s.reindexLocked()
			return []events.Event{
				{Type: events.EventTypeSessionRemoved, SessionID: id, Index: i},
				{Type: events.EventTypeSelectionChanged, SessionID: s.selectedID},
			}, nil
		}

		sess.Phase = PhaseDraft
		sess.Title = s.placeholderTitle
		return []events.Event{{Type: events.EventTypeSessionUpdated, SessionID: id}}, nil
	})
}

// InsertDraft appends a new draft at the end of the list. If a draft already
// exists its id is returned and nothing changes.
func (s *Store) InsertDraft() string {
	var id string
	_ = s.mutate(func() ([]events.Event, error) {
		if i := s.draftIndexLocked(); i >= 0 {
			id = s.sessions[i].ID
			return nil, nil
		}
		d := s.newDraft()
		id = d.ID
		s.sessions = append(s.sessions, d)
		s.reindexLocked()

		log.Debug().Str("session_id", id).Int("count", len(s.sessions)).Msg("Inserted draft")
		return []events.Event{{Type: events.EventTypeSessionCreated, SessionID: id, Index: len(s.sessions) - 1}}, nil
	})
	return id
}

// PromoteToFront moves the session to index 0 and selects it.
func (s *Store) PromoteToFront(id string) error {
	return s.mutate(func() ([]events.Event, error) {
		i, ok := s.index[id]
		if !ok {
			return nil, errors.Wrap(ErrInvalidSession, "promote to front")
		}
		sess := s.sessions[i]
		copy(s.sessions[1:i+1], s.sessions[:i])
		s.sessions[0] = sess
		s.selectedID = id
		s.reindexLocked()

		return []events.Event{
			{Type: events.EventTypeSessionsReordered, SessionID: id},
			{Type: events.EventTypeSelectionChanged, SessionID: id},
		}, nil
	})
}

// Remove deletes the session.
//
// If the store ends up without a draft (it became empty, or the draft itself
// was removed) a fresh draft is appended; an empty store selects it. If the
// removed session was selected the selection falls back to index 0,
// otherwise it stays on the same logical session.
func (s *Store) Remove(id string) error {
	return s.mutate(func() ([]events.Event, error) {
		i, ok := s.index[id]
		if !ok {
			return nil, errors.Wrap(ErrInvalidSession, "remove")
		}
		s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
		evs := []events.Event{{Type: events.EventTypeSessionRemoved, SessionID: id, Index: i}}

		if !s.hasDraftOrPendingLocked() {
			d := s.newDraft()
			s.sessions = append(s.sessions, d)
			evs = append(evs, events.Event{Type: events.EventTypeSessionCreated, SessionID: d.ID, Index: len(s.sessions) - 1})
		}
		if s.selectedID == id {
			s.selectedID = s.sessions[0].ID
			evs = append(evs, events.Event{Type: events.EventTypeSelectionChanged, SessionID: s.selectedID})
		}
		s.reindexLocked()

		log.Debug().Str("session_id", id).Int("index", i).Int("count", len(s.sessions)).Msg("Removed session")
		return evs, nil
	})
}

func (s *Store) Select(id string) error {
	return s.mutate(func() ([]events.Event, error) {
		if _, ok := s.index[id]; !ok {
			return nil, errors.Wrap(ErrInvalidSession, "select")
		}
		if s.selectedID == id {
			return nil, nil
		}
		s.selectedID = id
		return []events.Event{{Type: events.EventTypeSelectionChanged, SessionID: id}}, nil
	})
}

func (s *Store) SelectIndex(i int) error {
	return s.mutate(func() ([]events.Event, error) {
		if i < 0 || i >= len(s.sessions) {
			return nil, errors.Wrapf(ErrIndexOutOfRange, "index %d of %d", i, len(s.sessions))
		}
		id := s.sessions[i].ID
		if s.selectedID == id {
			return nil, nil
		}
		s.selectedID = id
		return []events.Event{{Type: events.EventTypeSelectionChanged, SessionID: id, Index: i}}, nil
	})
}

// SelectDraft selects the draft, creating one if none exists. It refuses
// when the draft is already selected.
func (s *Store) SelectDraft() (string, error) {
	var id string
	err := s.mutate(func() ([]events.Event, error) {
		var evs []events.Event
		i := s.draftIndexLocked()
		if i >= 0 && s.sessions[i].ID == s.selectedID {
			return nil, ErrAlreadyDraft
		}
		if i < 0 {
			d := s.newDraft()
			s.sessions = append(s.sessions, d)
			s.reindexLocked()
			i = len(s.sessions) - 1
			evs = append(evs, events.Event{Type: events.EventTypeSessionCreated, SessionID: d.ID, Index: i})
		}
		id = s.sessions[i].ID
		s.selectedID = id
		return append(evs, events.Event{Type: events.EventTypeSelectionChanged, SessionID: id, Index: i}), nil
	})
	return id, err
}

// Hydrate replaces the store content with the current draft followed by the
// given persisted sessions, and selects the draft.
func (s *Store) Hydrate(history []*Session) {
	_ = s.mutate(func() ([]events.Event, error) {
		var draft *Session
		if i := s.draftIndexLocked(); i >= 0 {
			draft = s.sessions[i]
		} else {
			draft = s.newDraft()
		}

		sessions := make([]*Session, 0, len(history)+1)
		sessions = append(sessions, draft)
		for _, h := range history {
			sess := clone.Clone(h).(*Session)
			if sess.ID == "" {
				sess.ID = uuid.NewString()
			}
			sess.Phase = PhasePersisted
			sessions = append(sessions, sess)
		}

		s.sessions = sessions
		s.selectedID = draft.ID
		s.reindexLocked()

		log.Debug().Int("dialogs", len(history)).Msg("Hydrated store")
		return []events.Event{{Type: events.EventTypeStoreReset}}, nil
	})
}

// Reset drops every session and starts over with a single selected draft.
func (s *Store) Reset() {
	_ = s.mutate(func() ([]events.Event, error) {
		d := s.newDraft()
		s.sessions = []*Session{d}
		s.selectedID = d.ID
		s.reindexLocked()
		return []events.Event{{Type: events.EventTypeStoreReset}}, nil
	})
}

// CheckInvariants verifies the structural invariants of the store: at most
// one draft, a consistent id table and a valid selection.
func (s *Store) CheckInvariants() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.sessions) == 0 {
		return errors.Wrap(ErrInvariant, "store is empty")
	}
	if len(s.index) != len(s.sessions) {
		return errors.Wrapf(ErrInvariant, "index has %d entries for %d sessions", len(s.index), len(s.sessions))
	}
	drafts := 0
	for i, sess := range s.sessions {
		if s.index[sess.ID] != i {
			return errors.Wrapf(ErrInvariant, "session %s indexed at %d, stored at %d", sess.ID, s.index[sess.ID], i)
		}
		switch sess.Phase {
		case PhaseDraft:
			drafts++
		case PhasePersisted:
			if sess.DialogID == "" {
				return errors.Wrapf(ErrInvariant, "persisted session %s has no dialog id", sess.ID)
			}
		case PhasePending:
		default:
			return errors.Wrapf(ErrInvariant, "session %s has unknown phase %q", sess.ID, sess.Phase)
		}
	}
	if drafts > 1 {
		return errors.Wrapf(ErrInvariant, "%d drafts", drafts)
	}
	if !s.hasDraftOrPendingLocked() {
		return errors.Wrap(ErrInvariant, "no draft")
	}
	if _, ok := s.index[s.selectedID]; !ok {
		return errors.Wrapf(ErrInvariant, "selected session %s does not exist", s.selectedID)
	}
	return nil
}

func (s *Store) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fmt.Sprintf("Store{sessions: %d, selected: %d}", len(s.sessions), s.selectedIndexLocked())
}

// mutate runs f under the write lock and publishes the events it returns
// once the lock has been released.
func (s *Store) mutate(f func() ([]events.Event, error)) error {
	s.mu.Lock()
	evs, err := f()
	s.mu.Unlock()

	for _, e := range evs {
		events.PublishBlind(s.sink, e)
	}
	return err
}

func (s *Store) newDraft() *Session {
	d := &Session{
		ID:    uuid.NewString(),
		Phase: PhaseDraft,
		Title: s.placeholderTitle,
	}
	if s.greeting != "" {
		d.Messages = []*Message{NewBotMessage(s.greeting)}
	}
	return d
}

func (s *Store) lookupLocked(id string) (*Session, error) {
	i, ok := s.index[id]
	if !ok {
		return nil, errors.Wrapf(ErrInvalidSession, "session %s", id)
	}
	return s.sessions[i], nil
}

func (s *Store) reindexLocked() {
	s.index = make(map[string]int, len(s.sessions))
	for i, sess := range s.sessions {
		s.index[sess.ID] = i
	}
}

func (s *Store) selectedIndexLocked() int {
	if i, ok := s.index[s.selectedID]; ok {
		return i
	}
	return 0
}

func (s *Store) draftIndexLocked() int {
	for i, sess := range s.sessions {
		if sess.IsDraft() {
			return i
		}
	}
	return -1
}

func (s *Store) hasDraftOrPendingLocked() bool {
	for _, sess := range s.sessions {
		if sess.Phase == PhaseDraft || sess.Phase == PhasePending {
			return true
		}
	}
	return false
}
