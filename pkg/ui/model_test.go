package ui

import (
	"context"
	"io"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/dialogue/pkg/backend"
	"github.com/go-go-golems/dialogue/pkg/chat"
	"github.com/go-go-golems/dialogue/pkg/conversation"
	"github.com/go-go-golems/dialogue/pkg/events"
	"github.com/go-go-golems/dialogue/pkg/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBackend struct {
	renamed []string
	deleted []string
}

func (s *stubBackend) BaseURL() string { return "http://backend.test" }

func (s *stubBackend) CreateDialog(ctx context.Context, identity backend.Identity, title string) (string, error) {
	return "42", nil
}

func (s *stubBackend) Ask(ctx context.Context, req backend.AskRequest) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(`{"type":"answer","content":"pong"}` + "\n")), nil
}

func (s *stubBackend) Stop(ctx context.Context, identity backend.Identity, dialogID string) error {
	return nil
}

func (s *stubBackend) ListDialogs(ctx context.Context, identity backend.Identity) ([]backend.Dialog, error) {
	return nil, nil
}

func (s *stubBackend) RenameDialog(ctx context.Context, identity backend.Identity, dialogID string, title string) error {
	s.renamed = append(s.renamed, title)
	return nil
}

func (s *stubBackend) DeleteDialog(ctx context.Context, identity backend.Identity, dialogID string) error {
	s.deleted = append(s.deleted, dialogID)
	return nil
}

func (s *stubBackend) VerifyToken(ctx context.Context, identity backend.Identity) (bool, error) {
	return true, nil
}

type recordingSender struct {
	msgs []tea.Msg
}

func (r *recordingSender) Send(msg tea.Msg) {
	r.msgs = append(r.msgs, msg)
}

func newTestModel(t *testing.T, options ...chat.CoordinatorOption) (Model, *chat.Coordinator, *stubBackend) {
	t.Helper()
	b := &stubBackend{}
	store := conversation.NewStore(conversation.WithGreeting(""))
	c := chat.NewCoordinator(store, b, options...)
	m := New(context.Background(), c, Options{
		Models: []settings.Model{{Value: "model1", Label: "one"}, {Value: "model2", Label: "two"}},
	})
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return next.(Model), c, b
}

func press(t *testing.T, m Model, keys ...tea.KeyMsg) (Model, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, k := range keys {
		var next tea.Model
		next, cmd = m.Update(k)
		m = next.(Model)
	}
	return m, cmd
}

func typeText(t *testing.T, m Model, text string) Model {
	t.Helper()
	for _, r := range text {
		m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	return m
}

func deliver(t *testing.T, m Model, e events.Event) Model {
	t.Helper()
	next, _ := m.Update(StoreEventMsg{Event: e})
	return next.(Model)
}

// run executes cmd and feeds its message back into the model.
func run(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	require.NotNil(t, cmd)
	next, _ := m.Update(cmd())
	return next.(Model)
}

var identity = backend.Identity{Username: "alice", Token: "t0k"}

func TestForwardFunc(t *testing.T) {
	s := &recordingSender{}
	f := ForwardFunc(s)
	require.NoError(t, f(events.Event{Type: events.EventTypeSessionCreated, SessionID: "a"}))
	require.Len(t, s.msgs, 1)
	assert.Equal(t, StoreEventMsg{Event: events.Event{Type: events.EventTypeSessionCreated, SessionID: "a"}}, s.msgs[0])
}

func TestForwardFuncSkipsStreamRecords(t *testing.T) {
	s := &recordingSender{}
	f := ForwardFunc(s)
	require.NoError(t, f(events.Event{Type: events.EventTypeStreamRecord, SessionID: "a", RecordType: "answer", Content: "po"}))
	require.NoError(t, f(events.Event{Type: events.EventTypeMessageUpdated, SessionID: "a", Index: 1}))
	require.Len(t, s.msgs, 1)
	assert.Equal(t, events.EventTypeMessageUpdated, s.msgs[0].(StoreEventMsg).Event.Type)
}

func TestFocusSwitching(t *testing.T) {
	m, _, _ := newTestModel(t)
	assert.Equal(t, StateUserInput, m.State())

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, StateSidebar, m.State())
	assert.False(t, m.keyMap.SubmitMessage.Enabled())
	assert.True(t, m.keyMap.DeleteSession.Enabled())

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, StateUserInput, m.State())
}

func TestSubmitWithoutIdentityRestoresInput(t *testing.T) {
	m, c, _ := newTestModel(t)
	m = typeText(t, m, "hello")

	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, "", m.textArea.Value())
	m = run(t, m, cmd)

	assert.Equal(t, StateError, m.State())
	assert.ErrorIs(t, m.err, chat.ErrAuthRequired)
	assert.Equal(t, "hello", m.textArea.Value())
	assert.Equal(t, 1, c.Store().Len())

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, StateUserInput, m.State())
}

func TestSubmitSendsOnSelectedSession(t *testing.T) {
	m, c, _ := newTestModel(t, chat.WithIdentity(identity), chat.WithModel("model1"))
	m = typeText(t, m, "ping")

	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.True(t, m.sending)
	m = run(t, m, cmd)
	assert.False(t, m.sending)

	snap := c.Store().Snapshot()
	require.Len(t, snap.Sessions, 2)
	sent := snap.Sessions[0]
	assert.True(t, sent.IsPersisted())
	require.Len(t, sent.Messages, 2)
	assert.Equal(t, "ping", sent.Messages[0].Text())
	assert.Equal(t, "pong", sent.Messages[1].Text())
	assert.True(t, snap.Sessions[1].IsDraft())
}

func TestNewChatOnDraftIsRefused(t *testing.T) {
	m, _, _ := newTestModel(t)
	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyCtrlN})
	m = run(t, m, cmd)
	assert.Equal(t, StateUserInput, m.State())
	assert.Equal(t, "already in a new chat", m.status)
}

func TestNextModelCycles(t *testing.T) {
	m, c, _ := newTestModel(t, chat.WithModel("model1"))
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlT})
	assert.Equal(t, "model2", c.Model())
	_, _ = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlT})
	assert.Equal(t, "model1", c.Model())
}

func TestSearchJumpsToSession(t *testing.T) {
	m, c, _ := newTestModel(t)
	c.Store().Hydrate([]*conversation.Session{
		{DialogID: "1", Title: "groceries", Messages: []*conversation.Message{
			conversation.NewUserMessage("buy apples", nil),
		}},
		{DialogID: "2", Title: "travel", Messages: []*conversation.Message{
			conversation.NewUserMessage("book a train", nil),
			conversation.NewBotMessage("the train leaves at noon"),
		}},
	})
	m = deliver(t, m, events.Event{Type: events.EventTypeStoreReset})
	require.Len(t, m.snapshot.Sessions, 3)
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlF})
	assert.Equal(t, StateSearch, m.State())

	m = typeText(t, m, "train")
	require.Len(t, m.results, 2)
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 1, m.selectedResult)

	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m = run(t, m, cmd)
	assert.Equal(t, StateSidebar, m.State())
	assert.Equal(t, 2, c.Store().Selected())
	assert.Equal(t, 2, m.snapshot.Selected)
}

func TestRenameAndDelete(t *testing.T) {
	m, c, b := newTestModel(t, chat.WithIdentity(identity))
	c.Store().Hydrate([]*conversation.Session{{DialogID: "7", Title: "old"}})
	m = deliver(t, m, events.Event{Type: events.EventTypeStoreReset})

	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyEsc}, tea.KeyMsg{Type: tea.KeyDown})
	m = run(t, m, cmd)
	require.Equal(t, 1, m.snapshot.Selected)

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	require.Equal(t, StateRename, m.State())
	assert.Equal(t, "old", m.prompt.Value())
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyBackspace}, tea.KeyMsg{Type: tea.KeyBackspace}, tea.KeyMsg{Type: tea.KeyBackspace})
	m = typeText(t, m, "new")
	m, cmd = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m = run(t, m, cmd)
	assert.Equal(t, StateSidebar, m.State())
	assert.Equal(t, []string{"new"}, b.renamed)
	assert.Equal(t, "new", m.snapshot.Sessions[1].Title)

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	require.Equal(t, StateConfirmDelete, m.State())
	m, cmd = press(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("y")})
	m = run(t, m, cmd)
	assert.Equal(t, StateSidebar, m.State())
	assert.Equal(t, []string{"7"}, b.deleted)
	assert.Equal(t, 1, c.Store().Len())
}

func TestRenameRefusedOnDraft(t *testing.T) {
	m, _, _ := newTestModel(t)
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyEsc}, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	assert.Equal(t, StateSidebar, m.State())
	assert.NotEmpty(t, m.status)
}

func TestViewRendersSidebarAndHeader(t *testing.T) {
	m, _, _ := newTestModel(t, chat.WithIdentity(identity), chat.WithModel("model2"))
	v := m.View()
	assert.Contains(t, v, conversation.DefaultPlaceholderTitle)
	assert.Contains(t, v, "alice")
	assert.Contains(t, v, "two")
}
