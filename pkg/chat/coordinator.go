// Package chat turns user actions into transactions against the backend and
// the session store.
//
// A send runs through Guarded → TitleResolved → Persisted → Streaming →
// Settled. Only one send may be in flight in the whole process; the gate is a
// capacity-1 semaphore that is released in a defer once acquired.
package chat

import (
	"context"
	"encoding/base64"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-go-golems/dialogue/pkg/backend"
	"github.com/go-go-golems/dialogue/pkg/conversation"
	"github.com/go-go-golems/dialogue/pkg/events"
	"github.com/go-go-golems/dialogue/pkg/search"
	"github.com/go-go-golems/dialogue/pkg/stream"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// Backend is what the coordinator needs from the dialog service.
// *backend.Client implements it.
type Backend interface {
	BaseURL() string
	CreateDialog(ctx context.Context, identity backend.Identity, title string) (string, error)
	Ask(ctx context.Context, req backend.AskRequest) (io.ReadCloser, error)
	Stop(ctx context.Context, identity backend.Identity, dialogID string) error
	ListDialogs(ctx context.Context, identity backend.Identity) ([]backend.Dialog, error)
	RenameDialog(ctx context.Context, identity backend.Identity, dialogID string, title string) error
	DeleteDialog(ctx context.Context, identity backend.Identity, dialogID string) error
	VerifyToken(ctx context.Context, identity backend.Identity) (bool, error)
}

var _ Backend = (*backend.Client)(nil)

// Payload is one outgoing user message. ImageBase64 is a data: URL.
type Payload struct {
	Text        string
	ImageBase64 string
	ImagePath   string
}

func (p Payload) Empty() bool {
	return strings.TrimSpace(p.Text) == "" && p.ImageBase64 == ""
}

func (p Payload) image() *conversation.ImageRef {
	if p.ImageBase64 == "" {
		return nil
	}
	return &conversation.ImageRef{URL: p.ImageBase64, Path: p.ImagePath}
}

// LoadImage reads an image file into a payload attachment.
func LoadImage(path string) (dataURL string, name string, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", "", errors.Wrap(err, "could not read image")
	}
	mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mt == "" {
		mt = http.DetectContentType(b)
	}
	if !strings.HasPrefix(mt, "image/") {
		return "", "", errors.Errorf("%s is not an image (%s)", path, mt)
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(b), filepath.Base(path), nil
}

type Coordinator struct {
	store   *conversation.Store
	backend Backend
	sink    events.EventSink

	gate   *semaphore.Weighted
	active atomic.Bool

	mu        sync.RWMutex
	identity  *backend.Identity
	model     string
	streaming struct {
		sessionID string
		dialogID  string
	}

	autosaver *Autosaver
}

type CoordinatorOption func(*Coordinator)

func WithEventSink(sink events.EventSink) CoordinatorOption {
	return func(c *Coordinator) {
		c.sink = sink
	}
}

func WithModel(model string) CoordinatorOption {
	return func(c *Coordinator) {
		c.model = model
	}
}

func WithAutosaver(a *Autosaver) CoordinatorOption {
	return func(c *Coordinator) {
		c.autosaver = a
	}
}

// WithIdentity sets the identity without hydrating the store.
func WithIdentity(identity backend.Identity) CoordinatorOption {
	return func(c *Coordinator) {
		if identity.Valid() {
			c.identity = &identity
		}
	}
}

func NewCoordinator(store *conversation.Store, b Backend, options ...CoordinatorOption) *Coordinator {
	ret := &Coordinator{
		store:   store,
		backend: b,
		gate:    semaphore.NewWeighted(1),
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (c *Coordinator) Store() *conversation.Store {
	return c.store
}

// Active reports whether a reply is being streamed and has not been stopped.
func (c *Coordinator) Active() bool {
	return c.active.Load()
}

func (c *Coordinator) Identity() (backend.Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.identity == nil {
		return backend.Identity{}, false
	}
	return *c.identity, true
}

func (c *Coordinator) SetModel(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.model = model
}

func (c *Coordinator) Model() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model
}

// Send sends p on the selected session.
func (c *Coordinator) Send(ctx context.Context, p Payload) (bool, error) {
	return c.SendTo(ctx, c.store.SelectedID(), p)
}

// SendTo runs one send transaction on the session id. It returns whether the
// reply was received in full; the caller clears a pending image attachment
// only on success. A declined send leaves the store untouched.
func (c *Coordinator) SendTo(ctx context.Context, id string, p Payload) (bool, error) {
	identity, ok := c.Identity()
	if !ok {
		return false, ErrAuthRequired
	}
	if p.Empty() {
		return false, ErrEmptyPayload
	}
	if !c.gate.TryAcquire(1) {
		return false, ErrAlreadyInFlight
	}
	defer c.gate.Release(1)

	wasDraft, err := c.store.BeginTransaction(id)
	if err != nil {
		return false, err
	}

	titleText := p.Text
	if strings.TrimSpace(titleText) == "" {
		titleText = p.ImagePath
	}
	title, err := c.store.AutoTitle(id, titleText)
	if err != nil {
		return false, err
	}

	sess, ok := c.store.Session(id)
	if !ok {
		return false, errors.Wrap(conversation.ErrInvalidSession, "send")
	}
	dialogID := sess.DialogID
	if !sess.IsPersisted() {
		dialogID, err = c.backend.CreateDialog(ctx, identity, title)
		if err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("Could not persist session")
			if rerr := c.store.RevertToDraft(id); rerr != nil {
				log.Debug().Err(rerr).Str("session_id", id).Msg("Could not revert session")
			}
			return false, &PersistenceError{Err: err}
		}
		if err := c.store.SetDialogID(id, dialogID); err != nil {
			if errors.Is(err, conversation.ErrInvalidSession) {
				// the session was deleted while the dialog was being created
				c.discardDialog(ctx, identity, dialogID)
				if wasDraft {
					c.store.InsertDraft()
				}
				return false, err
			}
			return false, &PersistenceError{Err: err}
		}
	}

	if err := c.store.AppendMessage(id, conversation.NewUserMessage(p.Text, p.image())); err != nil {
		// deleted right after persisting; Delete already removed the dialog
		if wasDraft {
			c.store.InsertDraft()
		}
		return false, err
	}

	success := false
	c.beginStreaming(id, dialogID)
	defer func() {
		c.settle(id, wasDraft, success)
	}()

	req := backend.AskRequest{
		Username:          identity.Username,
		DialogID:          backend.DialogID(dialogID),
		ConversationTitle: title,
		Question:          p.Text,
		Model:             c.Model(),
	}
	if p.ImageBase64 != "" {
		req.ImageBase64 = &p.ImageBase64
		req.ImagePath = &p.ImagePath
	}

	success, err = c.stream(ctx, id, req)
	return success, err
}

// discardDialog deletes a dialog whose session no longer exists locally.
func (c *Coordinator) discardDialog(ctx context.Context, identity backend.Identity, dialogID string) {
	if err := c.backend.DeleteDialog(context.WithoutCancel(ctx), identity, dialogID); err != nil {
		log.Warn().Err(err).Str("dialog_id", dialogID).Msg("Could not delete orphaned dialog")
		return
	}
	log.Debug().Str("dialog_id", dialogID).Msg("Deleted orphaned dialog")
}

func (c *Coordinator) beginStreaming(id, dialogID string) {
	c.mu.Lock()
	c.streaming.sessionID = id
	c.streaming.dialogID = dialogID
	c.mu.Unlock()
	c.active.Store(true)

	events.PublishBlind(c.sink, events.Event{Type: events.EventTypeTransactionStarted, SessionID: id})
}

// stream appends the bot placeholder and folds the reply into it. Failures
// end up as text in the bot message, the returned error is informational.
func (c *Coordinator) stream(ctx context.Context, id string, req backend.AskRequest) (bool, error) {
	if err := c.store.AppendMessage(id, conversation.NewBotMessage("")); err != nil {
		return false, err
	}

	body, err := c.backend.Ask(ctx, req)
	if err != nil {
		c.reportError(id, err)
		return false, err
	}
	defer func() {
		_ = body.Close()
	}()

	reply := &stream.Reply{}
	received, err := stream.Decode(ctx, body, func(rec stream.Record) error {
		reply.Fold(rec)
		c.store.UpdateLastMessage(id, conversation.MessagePatch{
			Text:      reply.Answer(),
			Reasoning: reply.Reasoning(),
		})
		events.PublishBlind(c.sink, events.Event{
			Type:       events.EventTypeStreamRecord,
			SessionID:  id,
			RecordType: string(rec.Type),
			Content:    rec.Content,
		})
		return nil
	})
	if err != nil {
		c.reportError(id, err)
		return false, err
	}

	switch {
	case !received:
		c.store.UpdateLastMessage(id, conversation.MessagePatch{Text: FallbackNoData})
		return false, nil
	case reply.Empty():
		c.store.UpdateLastMessage(id, conversation.MessagePatch{Text: FallbackNoAnswer, Reasoning: reply.Reasoning()})
		return false, nil
	}

	log.Debug().
		Str("session_id", id).
		Int("answer_length", len(reply.Answer())).
		Int("reasoning_length", len(reply.Reasoning())).
		Msg("Reply complete")
	return true, nil
}

// reportError writes err into the last bot message, or appends a new bot
// message when the session does not end with one.
func (c *Coordinator) reportError(id string, err error) {
	text := ErrorMessagePrefix + err.Error()
	log.Warn().Err(err).Str("session_id", id).Msg("Reply failed")

	sess, ok := c.store.Session(id)
	if !ok {
		return
	}
	if last, ok := sess.LastMessage(); ok && last.IsBot() {
		c.store.UpdateLastMessage(id, conversation.MessagePatch{Text: text, Reasoning: last.Reasoning})
		return
	}
	if aerr := c.store.AppendMessage(id, conversation.NewBotMessage(text)); aerr != nil {
		log.Debug().Err(aerr).Str("session_id", id).Msg("Could not append error message")
	}
}

func (c *Coordinator) settle(id string, wasDraft bool, success bool) {
	c.active.Store(false)
	c.mu.Lock()
	c.streaming.sessionID = ""
	c.streaming.dialogID = ""
	c.mu.Unlock()

	if err := c.store.PromoteToFront(id); err != nil {
		log.Debug().Err(err).Str("session_id", id).Msg("Session gone before it could be promoted")
	}
	if wasDraft {
		c.store.InsertDraft()
	}

	if c.autosaver != nil {
		if sess, ok := c.store.Session(id); ok {
			identity, _ := c.Identity()
			if _, err := c.autosaver.Save(identity.Username, sess); err != nil {
				log.Warn().Err(err).Str("session_id", id).Msg("Could not autosave transcript")
			}
		}
	}

	events.PublishBlind(c.sink, events.Event{Type: events.EventTypeTransactionSettled, SessionID: id, Success: success})
}

// Stop asks the backend to stop the reply being streamed. On acknowledgement
// only the active flag is cleared; the reply keeps being read until the
// backend closes it.
func (c *Coordinator) Stop(ctx context.Context) error {
	if !c.Active() {
		return ErrNotStreaming
	}
	identity, ok := c.Identity()
	if !ok {
		return ErrAuthRequired
	}
	c.mu.RLock()
	sessionID, dialogID := c.streaming.sessionID, c.streaming.dialogID
	c.mu.RUnlock()
	if dialogID == "" {
		return ErrNotStreaming
	}

	if err := c.backend.Stop(ctx, identity, dialogID); err != nil {
		log.Warn().Err(err).Str("dialog_id", dialogID).Msg("Stop request failed")
		return err
	}
	c.active.Store(false)
	events.PublishBlind(c.sink, events.Event{Type: events.EventTypeStopAcknowledged, SessionID: sessionID})
	return nil
}

// Login verifies identity with the backend and then makes it current.
func (c *Coordinator) Login(ctx context.Context, identity backend.Identity) error {
	if !identity.Valid() {
		return ErrAuthRequired
	}
	ok, err := c.backend.VerifyToken(ctx, identity)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidToken
	}
	return c.SetIdentity(ctx, identity)
}

// SetIdentity makes identity current and loads its dialog history into the
// store. The identity stays set when the history cannot be loaded.
func (c *Coordinator) SetIdentity(ctx context.Context, identity backend.Identity) error {
	if !identity.Valid() {
		return ErrAuthRequired
	}
	c.mu.Lock()
	c.identity = &identity
	c.mu.Unlock()

	dialogs, err := c.backend.ListDialogs(ctx, identity)
	if err != nil {
		log.Error().Err(err).Str("username", identity.Username).Msg("Could not load dialog history")
		return &HistoryError{Err: err}
	}
	c.store.Hydrate(backend.ToSessions(c.backend.BaseURL(), dialogs))
	log.Info().Str("username", identity.Username).Int("dialogs", len(dialogs)).Msg("Loaded dialog history")
	return nil
}

func (c *Coordinator) Logout() {
	c.mu.Lock()
	c.identity = nil
	c.mu.Unlock()
	c.store.Reset()
}

// Rename changes the title of a persisted session, on the backend first.
func (c *Coordinator) Rename(ctx context.Context, id string, title string) (string, error) {
	identity, ok := c.Identity()
	if !ok {
		return "", ErrAuthRequired
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return "", ErrEmptyTitle
	}
	if len([]rune(title)) > conversation.MaxTitleLength {
		return "", ErrTitleTooLong
	}
	sess, ok := c.store.Session(id)
	if !ok {
		return "", errors.Wrap(conversation.ErrInvalidSession, "rename")
	}
	if !sess.IsPersisted() {
		return "", conversation.ErrTitleLocked
	}
	if err := c.backend.RenameDialog(ctx, identity, sess.DialogID, title); err != nil {
		return "", err
	}
	return c.store.SetTitle(id, title)
}

// Delete removes a session. Persisted sessions are deleted on the backend
// first and only removed locally once that succeeded.
func (c *Coordinator) Delete(ctx context.Context, id string) error {
	sess, ok := c.store.Session(id)
	if !ok {
		return errors.Wrap(conversation.ErrInvalidSession, "delete")
	}
	if sess.IsPersisted() {
		identity, ok := c.Identity()
		if !ok {
			return ErrAuthRequired
		}
		if err := c.backend.DeleteDialog(ctx, identity, sess.DialogID); err != nil {
			return err
		}
	}
	return c.store.Remove(id)
}

// NewChat selects the draft session.
func (c *Coordinator) NewChat() (string, error) {
	return c.store.SelectDraft()
}

func (c *Coordinator) Search(query string) []search.Result {
	return search.Search(c.store.Snapshot().Sessions, query)
}
