package chat

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/go-go-golems/dialogue/pkg/backend"
	"github.com/go-go-golems/dialogue/pkg/conversation"
	"github.com/go-go-golems/dialogue/pkg/events"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var alice = backend.Identity{Username: "alice", Token: "t0k"}

type fakeBackend struct {
	mu sync.Mutex

	nextDialog int
	createErr  error
	titles     []string
	// when set, CreateDialog signals creating and waits for release
	creating chan struct{}
	release  chan struct{}

	reply func(req backend.AskRequest) (io.ReadCloser, error)
	asks  []backend.AskRequest

	stops     []string
	stopErr   error
	renamed   map[string]string
	deleted   []string
	deleteErr error
	dialogs   []backend.Dialog
	listErr   error
	tokenOK   bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{nextDialog: 100, renamed: map[string]string{}, tokenOK: true}
}

func replyWith(body string) func(req backend.AskRequest) (io.ReadCloser, error) {
	return func(req backend.AskRequest) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(body)), nil
	}
}

func (f *fakeBackend) BaseURL() string { return "http://backend.test" }

func (f *fakeBackend) CreateDialog(ctx context.Context, identity backend.Identity, title string) (string, error) {
	if f.release != nil {
		close(f.creating)
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.titles = append(f.titles, title)
	f.nextDialog++
	return strconv.Itoa(f.nextDialog), nil
}

func (f *fakeBackend) Ask(ctx context.Context, req backend.AskRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	f.asks = append(f.asks, req)
	reply := f.reply
	f.mu.Unlock()
	if reply == nil {
		return io.NopCloser(strings.NewReader("")), nil
	}
	return reply(req)
}

func (f *fakeBackend) Stop(ctx context.Context, identity backend.Identity, dialogID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, dialogID)
	return f.stopErr
}

func (f *fakeBackend) ListDialogs(ctx context.Context, identity backend.Identity) ([]backend.Dialog, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.dialogs, nil
}

func (f *fakeBackend) RenameDialog(ctx context.Context, identity backend.Identity, dialogID string, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renamed[dialogID] = title
	return nil
}

func (f *fakeBackend) DeleteDialog(ctx context.Context, identity backend.Identity, dialogID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, dialogID)
	return nil
}

func (f *fakeBackend) VerifyToken(ctx context.Context, identity backend.Identity) (bool, error) {
	return f.tokenOK, nil
}

var _ Backend = (*fakeBackend)(nil)

func newCoordinator(t *testing.T, fb *fakeBackend, options ...CoordinatorOption) (*Coordinator, *events.CollectingSink) {
	sink := &events.CollectingSink{}
	store := conversation.NewStore(conversation.WithGreeting(""), conversation.WithEventSink(sink))
	options = append([]CoordinatorOption{WithIdentity(alice), WithModel("model1"), WithEventSink(sink)}, options...)
	return NewCoordinator(store, fb, options...), sink
}

func lastMessage(t *testing.T, c *Coordinator, id string) *conversation.Message {
	sess, ok := c.Store().Session(id)
	require.True(t, ok)
	m, ok := sess.LastMessage()
	require.True(t, ok)
	return m
}

func TestSendRequiresIdentity(t *testing.T) {
	fb := newFakeBackend()
	c := NewCoordinator(conversation.NewStore(), fb)
	before := c.Store().Snapshot()

	ok, err := c.Send(context.Background(), Payload{Text: "hi"})
	assert.False(t, ok)
	require.ErrorIs(t, err, ErrAuthRequired)
	assert.Equal(t, before, c.Store().Snapshot())
	assert.Empty(t, fb.asks)
}

func TestSendRejectsEmptyPayload(t *testing.T) {
	c, _ := newCoordinator(t, newFakeBackend())
	_, err := c.Send(context.Background(), Payload{Text: "  "})
	require.ErrorIs(t, err, ErrEmptyPayload)
}

func TestSendFromDraft(t *testing.T) {
	fb := newFakeBackend()
	fb.reply = replyWith(`{"type":"reasoning","content":"let me think"}` + "\n" +
		`{"type":"answer","content":"Hello"}` + "\n" +
		`not json` + "\n" +
		`{"type":"answer","content":", world"}`)
	c, sink := newCoordinator(t, fb)
	draft := c.Store().SelectedID()

	ok, err := c.Send(context.Background(), Payload{Text: "say hello to everyone"})
	require.NoError(t, err)
	assert.True(t, ok)

	snap := c.Store().Snapshot()
	require.Len(t, snap.Sessions, 2)
	sess := snap.Sessions[0]
	assert.Equal(t, draft, sess.ID)
	assert.True(t, sess.IsPersisted())
	assert.Equal(t, "101", sess.DialogID)
	assert.Equal(t, "say hello ...", sess.Title)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, conversation.SenderUser, sess.Messages[0].Sender)
	assert.Equal(t, "say hello to everyone", sess.Messages[0].Text())
	assert.Equal(t, "Hello, world", sess.Messages[1].Text())
	assert.Equal(t, "let me think", sess.Messages[1].Reasoning)

	assert.True(t, snap.Sessions[1].IsDraft())
	assert.Equal(t, 0, snap.Selected)
	require.NoError(t, c.Store().CheckInvariants())
	assert.False(t, c.Active())

	require.Len(t, fb.asks, 1)
	assert.Equal(t, backend.DialogID("101"), fb.asks[0].DialogID)
	assert.Equal(t, "say hello ...", fb.asks[0].ConversationTitle)
	assert.Equal(t, "model1", fb.asks[0].Model)
	assert.Nil(t, fb.asks[0].ImageBase64)
	assert.Equal(t, []string{"say hello ..."}, fb.titles)

	types := sink.Types()
	assert.Contains(t, types, events.EventTypeTransactionStarted)
	assert.Equal(t, events.EventTypeTransactionSettled, types[len(types)-1])
	assert.True(t, sink.Events()[len(types)-1].Success)
}

func TestSendOnPersistedSessionReusesDialog(t *testing.T) {
	fb := newFakeBackend()
	fb.reply = replyWith(`{"type":"answer","content":"ok"}` + "\n")
	c, _ := newCoordinator(t, fb)

	_, err := c.Send(context.Background(), Payload{Text: "first"})
	require.NoError(t, err)
	id := c.Store().SelectedID()

	ok, err := c.SendTo(context.Background(), id, Payload{Text: "second"})
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Len(t, fb.titles, 1)
	assert.Equal(t, 2, c.Store().Len())
	sess, _ := c.Store().Session(id)
	assert.Len(t, sess.Messages, 4)
	assert.Equal(t, "first", sess.Title)
}

func TestSendWithImage(t *testing.T) {
	fb := newFakeBackend()
	fb.reply = replyWith(`{"type":"answer","content":"a cat"}` + "\n")
	c, _ := newCoordinator(t, fb)

	ok, err := c.Send(context.Background(), Payload{ImageBase64: "data:image/png;base64,AAAA", ImagePath: "cat.png"})
	require.NoError(t, err)
	assert.True(t, ok)

	require.NotNil(t, fb.asks[0].ImageBase64)
	assert.Equal(t, "data:image/png;base64,AAAA", *fb.asks[0].ImageBase64)
	assert.Equal(t, "cat.png", *fb.asks[0].ImagePath)

	sess := c.Store().Snapshot().Sessions[0]
	assert.Equal(t, "cat.png", sess.Title)
	require.NotNil(t, sess.Messages[0].Content.Image)
	assert.True(t, sess.Messages[0].Content.Image.IsInline())
}

func TestSendPersistenceFailure(t *testing.T) {
	fb := newFakeBackend()
	fb.createErr = errors.New("backend down")
	c, _ := newCoordinator(t, fb)
	draft := c.Store().SelectedID()

	ok, err := c.Send(context.Background(), Payload{Text: "hello there, anyone?"})
	assert.False(t, ok)
	require.ErrorIs(t, err, ErrPersistenceFailed)
	assert.Contains(t, err.Error(), "backend down")
	var pe *PersistenceError
	require.True(t, errors.As(err, &pe))

	sess, _ := c.Store().Session(draft)
	assert.True(t, sess.IsDraft())
	assert.Equal(t, conversation.DefaultPlaceholderTitle, sess.Title)
	assert.Empty(t, sess.Messages)
	assert.Empty(t, fb.asks)
	require.NoError(t, c.Store().CheckInvariants())

	// the gate was released
	fb.createErr = nil
	fb.reply = replyWith(`{"type":"answer","content":"yes"}` + "\n")
	ok, err = c.Send(context.Background(), Payload{Text: "retry"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSendPersistenceFailureKeepsCause(t *testing.T) {
	fb := newFakeBackend()
	fb.createErr = &backend.StatusError{Method: "POST", Path: "/new_dialog", StatusCode: 503}
	c, _ := newCoordinator(t, fb)

	_, err := c.Send(context.Background(), Payload{Text: "hello"})
	require.ErrorIs(t, err, ErrPersistenceFailed)
	assert.True(t, backend.IsStatus(err, 503))

	fb.createErr = context.Canceled
	_, err = c.Send(context.Background(), Payload{Text: "hello"})
	require.ErrorIs(t, err, ErrPersistenceFailed)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDeleteWhileCreatingDialogDiscardsIt(t *testing.T) {
	fb := newFakeBackend()
	fb.creating = make(chan struct{})
	fb.release = make(chan struct{})
	c, _ := newCoordinator(t, fb)
	id := c.Store().SelectedID()

	done := sendAsync(c, Payload{Text: "hello"})
	select {
	case <-fb.creating:
	case <-time.After(5 * time.Second):
		t.Fatal("dialog was never created")
	}

	require.NoError(t, c.Delete(context.Background(), id))
	close(fb.release)

	r := waitResult(t, done)
	assert.False(t, r.ok)
	require.ErrorIs(t, r.err, conversation.ErrInvalidSession)
	assert.False(t, errors.Is(r.err, ErrPersistenceFailed))

	fb.mu.Lock()
	assert.Equal(t, []string{"hello"}, fb.titles)
	assert.Equal(t, []string{"101"}, fb.deleted)
	fb.mu.Unlock()
	assert.Empty(t, fb.asks)

	_, ok := c.Store().Session(id)
	assert.False(t, ok)
	_, ok = c.Store().Draft()
	assert.True(t, ok)
	require.NoError(t, c.Store().CheckInvariants())
}

func TestSendNoData(t *testing.T) {
	fb := newFakeBackend()
	fb.reply = replyWith("")
	c, _ := newCoordinator(t, fb)
	id := c.Store().SelectedID()

	ok, err := c.Send(context.Background(), Payload{Text: "hi"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, FallbackNoData, lastMessage(t, c, id).Text())

	// the transaction still settled
	snap := c.Store().Snapshot()
	assert.Equal(t, id, snap.Sessions[0].ID)
	assert.Len(t, snap.Sessions, 2)
}

func TestSendNoAnswer(t *testing.T) {
	fb := newFakeBackend()
	fb.reply = replyWith(`{"type":"answer","content":"  "}` + "\n" + `{"type":"tool","content":"x"}` + "\n" + "garbage\n")
	c, _ := newCoordinator(t, fb)
	id := c.Store().SelectedID()

	ok, err := c.Send(context.Background(), Payload{Text: "hi"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, FallbackNoAnswer, lastMessage(t, c, id).Text())
}

func TestSendOpenError(t *testing.T) {
	fb := newFakeBackend()
	fb.reply = func(req backend.AskRequest) (io.ReadCloser, error) {
		return nil, errors.New("connection refused")
	}
	c, _ := newCoordinator(t, fb)
	id := c.Store().SelectedID()

	ok, err := c.Send(context.Background(), Payload{Text: "hi"})
	require.Error(t, err)
	assert.False(t, ok)

	sess, _ := c.Store().Session(id)
	require.Len(t, sess.Messages, 2)
	assert.True(t, sess.Messages[1].IsBot())
	assert.Equal(t, ErrorMessagePrefix+"connection refused", sess.Messages[1].Text())
	require.NoError(t, c.Store().CheckInvariants())
}

func TestSendReadError(t *testing.T) {
	fb := newFakeBackend()
	fb.reply = func(req backend.AskRequest) (io.ReadCloser, error) {
		r := io.MultiReader(
			strings.NewReader(`{"type":"reasoning","content":"hm"}`+"\n"+`{"type":"answer","content":"par`),
			iotest.ErrReader(errors.New("connection reset")),
		)
		return io.NopCloser(r), nil
	}
	c, _ := newCoordinator(t, fb)
	id := c.Store().SelectedID()

	ok, err := c.Send(context.Background(), Payload{Text: "hi"})
	require.Error(t, err)
	assert.False(t, ok)

	m := lastMessage(t, c, id)
	assert.Contains(t, m.Text(), ErrorMessagePrefix)
	assert.Contains(t, m.Text(), "connection reset")
	assert.Equal(t, "hm", m.Reasoning)
}

// streamingBackend serves replies from a pipe so tests can act while a
// transaction is streaming.
func streamingBackend() (*fakeBackend, *io.PipeWriter) {
	pr, pw := io.Pipe()
	fb := newFakeBackend()
	fb.reply = func(req backend.AskRequest) (io.ReadCloser, error) {
		return pr, nil
	}
	return fb, pw
}

type sendResult struct {
	ok  bool
	err error
}

func sendAsync(c *Coordinator, p Payload) <-chan sendResult {
	ch := make(chan sendResult, 1)
	go func() {
		ok, err := c.Send(context.Background(), p)
		ch <- sendResult{ok, err}
	}()
	return ch
}

// waitStreaming blocks until the reply stream has been opened, after which
// the transaction only touches the store when data arrives.
func waitStreaming(t *testing.T, fb *fakeBackend) {
	require.Eventually(t, func() bool {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		return len(fb.asks) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func waitResult(t *testing.T, ch <-chan sendResult) sendResult {
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("send did not finish")
	}
	return sendResult{}
}

func TestSendGateIsGlobal(t *testing.T) {
	fb, pw := streamingBackend()
	c, _ := newCoordinator(t, fb)

	done := sendAsync(c, Payload{Text: "first"})
	waitStreaming(t, fb)
	require.True(t, c.Active())

	// another session, same gate
	other, err := c.NewChat()
	require.NoError(t, err)
	before := c.Store().Snapshot()
	ok, err := c.SendTo(context.Background(), other, Payload{Text: "second"})
	assert.False(t, ok)
	require.ErrorIs(t, err, ErrAlreadyInFlight)
	assert.Equal(t, before, c.Store().Snapshot())

	_, err = pw.Write([]byte(`{"type":"answer","content":"done"}` + "\n"))
	require.NoError(t, err)
	require.NoError(t, pw.Close())

	r := waitResult(t, done)
	require.NoError(t, r.err)
	assert.True(t, r.ok)
	require.NoError(t, c.Store().CheckInvariants())
}

func TestStopClearsOnlyActiveFlag(t *testing.T) {
	fb, pw := streamingBackend()
	c, sink := newCoordinator(t, fb)
	id := c.Store().SelectedID()

	require.ErrorIs(t, c.Stop(context.Background()), ErrNotStreaming)

	done := sendAsync(c, Payload{Text: "long story"})
	waitStreaming(t, fb)
	require.True(t, c.Active())

	_, err := pw.Write([]byte(`{"type":"answer","content":"once"}` + "\n"))
	require.NoError(t, err)

	require.NoError(t, c.Stop(context.Background()))
	assert.False(t, c.Active())
	assert.Equal(t, []string{"101"}, fb.stops)
	assert.Contains(t, sink.Types(), events.EventTypeStopAcknowledged)

	// the read loop keeps folding after the stop acknowledgement
	_, err = pw.Write([]byte(`{"type":"answer","content":" upon a time"}` + "\n"))
	require.NoError(t, err)
	require.NoError(t, pw.Close())

	r := waitResult(t, done)
	require.NoError(t, r.err)
	assert.True(t, r.ok)
	assert.Equal(t, "once upon a time", lastMessage(t, c, id).Text())
}

func TestDeleteMidStreamDropsFolds(t *testing.T) {
	fb, pw := streamingBackend()
	c, _ := newCoordinator(t, fb)
	id := c.Store().SelectedID()

	done := sendAsync(c, Payload{Text: "doomed"})
	waitStreaming(t, fb)
	require.True(t, c.Active())

	_, err := pw.Write([]byte(`{"type":"answer","content":"partial"}` + "\n"))
	require.NoError(t, err)

	require.NoError(t, c.Delete(context.Background(), id))
	assert.Equal(t, []string{"101"}, fb.deleted)

	_, err = pw.Write([]byte(`{"type":"answer","content":" more"}` + "\n"))
	require.NoError(t, err)
	require.NoError(t, pw.Close())

	waitResult(t, done)

	_, ok := c.Store().Session(id)
	assert.False(t, ok)
	require.NoError(t, c.Store().CheckInvariants())
	_, ok = c.Store().Draft()
	assert.True(t, ok)
}

func TestRename(t *testing.T) {
	fb := newFakeBackend()
	fb.reply = replyWith(`{"type":"answer","content":"ok"}` + "\n")
	c, _ := newCoordinator(t, fb)

	draft := c.Store().SelectedID()
	_, err := c.Rename(context.Background(), draft, "too early")
	require.ErrorIs(t, err, conversation.ErrTitleLocked)

	_, err = c.Send(context.Background(), Payload{Text: "hello"})
	require.NoError(t, err)

	_, err = c.Rename(context.Background(), draft, "this title is way too long")
	require.ErrorIs(t, err, ErrTitleTooLong)
	_, err = c.Rename(context.Background(), draft, "   ")
	require.ErrorIs(t, err, ErrEmptyTitle)

	title, err := c.Rename(context.Background(), draft, "Groceries 2024")
	require.NoError(t, err)
	assert.Equal(t, "Groceries ...", title)
	assert.Equal(t, "Groceries 2024", fb.renamed["101"])
}

func TestDeleteKeepsSessionWhenBackendFails(t *testing.T) {
	fb := newFakeBackend()
	fb.reply = replyWith(`{"type":"answer","content":"ok"}` + "\n")
	c, _ := newCoordinator(t, fb)
	_, err := c.Send(context.Background(), Payload{Text: "keep me"})
	require.NoError(t, err)
	id := c.Store().SelectedID()

	fb.deleteErr = errors.New("forbidden")
	require.Error(t, c.Delete(context.Background(), id))
	_, ok := c.Store().Session(id)
	assert.True(t, ok)

	// drafts never reach the backend
	d, _ := c.Store().Draft()
	fb.deleteErr = nil
	require.NoError(t, c.Delete(context.Background(), d.ID))
	assert.Empty(t, fb.deleted)
}

func TestLoginHydratesHistory(t *testing.T) {
	fb := newFakeBackend()
	fb.dialogs = []backend.Dialog{
		{DialogID: "1", Title: "old chat", ChatRecords: []backend.ChatRecord{{Role: 1, Content: "hi"}, {Role: 2, Content: "hello"}}},
	}
	c := NewCoordinator(conversation.NewStore(conversation.WithGreeting("")), fb)

	fb.tokenOK = false
	require.ErrorIs(t, c.Login(context.Background(), alice), ErrInvalidToken)
	_, ok := c.Identity()
	assert.False(t, ok)

	fb.tokenOK = true
	require.NoError(t, c.Login(context.Background(), alice))
	identity, ok := c.Identity()
	require.True(t, ok)
	assert.Equal(t, "alice", identity.Username)

	snap := c.Store().Snapshot()
	require.Len(t, snap.Sessions, 2)
	assert.True(t, snap.Sessions[0].IsDraft())
	assert.Equal(t, "old chat", snap.Sessions[1].Title)

	results := c.Search("HELLO")
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].SessionIndex)
	assert.Equal(t, 1, results[0].MessageIndex)

	c.Logout()
	_, ok = c.Identity()
	assert.False(t, ok)
	assert.Equal(t, 1, c.Store().Len())
}

func TestNewChat(t *testing.T) {
	c, _ := newCoordinator(t, newFakeBackend())
	_, err := c.NewChat()
	require.ErrorIs(t, err, conversation.ErrAlreadyDraft)
}

func TestAutosave(t *testing.T) {
	dir := t.TempDir()
	a, err := NewAutosaver(dir, "")
	require.NoError(t, err)

	fb := newFakeBackend()
	fb.reply = replyWith(`{"type":"answer","content":"saved"}` + "\n")
	c, _ := newCoordinator(t, fb, WithAutosaver(a))

	_, err = c.Send(context.Background(), Payload{Text: "save this"})
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(dir, "alice", "101.json"))
	require.NoError(t, err)
	assert.Contains(t, string(b), `"saved"`)
	assert.Contains(t, string(b), `"username": "alice"`)
}

func TestAutosavePath(t *testing.T) {
	a, err := NewAutosaver("/tmp/x", `{{ .Session.Title | snakecase }}.json`)
	require.NoError(t, err)
	p, err := a.Path("bob", &conversation.Session{Title: "MyChat"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/tmp/x", "my_chat.json"), p)

	a, err = NewAutosaver("/tmp/x", `../{{ .Username }}.json`)
	require.NoError(t, err)
	_, err = a.Path("bob", &conversation.Session{})
	require.Error(t, err)

	_, err = NewAutosaver("/tmp/x", `{{ .Broken `)
	require.Error(t, err)
}

func TestLoadImage(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "pixel.png")
	require.NoError(t, os.WriteFile(p, []byte("\x89PNG\r\n\x1a\n"), 0o644))

	url, name, err := LoadImage(p)
	require.NoError(t, err)
	assert.Equal(t, "pixel.png", name)
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))

	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("hello"), 0o644))
	_, _, err = LoadImage(txt)
	require.Error(t, err)
}

func TestLoginKeepsIdentityWhenHistoryFails(t *testing.T) {
	fb := newFakeBackend()
	fb.listErr = &backend.StatusError{Method: "GET", Path: "/dialogs", StatusCode: 500, Detail: "db hiccup"}
	store := conversation.NewStore(conversation.WithGreeting(""))
	c := NewCoordinator(store, fb)

	err := c.Login(context.Background(), alice)
	require.ErrorIs(t, err, ErrHistoryUnavailable)
	assert.True(t, backend.IsStatus(err, 500))

	identity, ok := c.Identity()
	require.True(t, ok)
	assert.Equal(t, alice, identity)
	assert.Equal(t, 1, c.Store().Len())

	fb.reply = replyWith(`{"type":"answer","content":"still works"}` + "\n")
	ok, err = c.Send(context.Background(), Payload{Text: "hello"})
	require.NoError(t, err)
	assert.True(t, ok)
}
