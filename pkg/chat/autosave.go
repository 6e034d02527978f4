package chat

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig"
	"github.com/go-go-golems/dialogue/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultAutosaveFormat names transcripts after their user and dialog.
const DefaultAutosaveFormat = `{{ .Username }}/{{ .Session.DialogID | default "unsaved" }}.json`

// Autosaver writes the transcript of a session to disk after every settled
// transaction. The file path is a text/template with sprig functions,
// evaluated relative to the autosave directory.
type Autosaver struct {
	dir  string
	tmpl *template.Template
	now  func() time.Time
}

type autosaveData struct {
	Username string
	Session  *conversation.Session
	Time     time.Time
}

type transcript struct {
	Username string                `json:"username"`
	SavedAt  time.Time             `json:"saved_at"`
	Session  *conversation.Session `json:"session"`
}

func NewAutosaver(dir string, format string) (*Autosaver, error) {
	if dir == "" {
		return nil, errors.New("autosave directory is empty")
	}
	if format == "" {
		format = DefaultAutosaveFormat
	}
	tmpl, err := template.New("autosave").Funcs(sprig.TxtFuncMap()).Parse(format)
	if err != nil {
		return nil, errors.Wrap(err, "invalid autosave format")
	}
	return &Autosaver{dir: dir, tmpl: tmpl, now: time.Now}, nil
}

// Path returns the file the session would be saved to.
func (a *Autosaver) Path(username string, sess *conversation.Session) (string, error) {
	var buf bytes.Buffer
	err := a.tmpl.Execute(&buf, autosaveData{
		Username: username,
		Session:  sess,
		Time:     a.now(),
	})
	if err != nil {
		return "", errors.Wrap(err, "could not render autosave path")
	}
	rel := filepath.Clean(strings.TrimSpace(buf.String()))
	if rel == "." || filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Errorf("autosave path %q escapes %s", rel, a.dir)
	}
	return filepath.Join(a.dir, rel), nil
}

func (a *Autosaver) Save(username string, sess *conversation.Session) (string, error) {
	p, err := a.Path(username, sess)
	if err != nil {
		return "", err
	}
	b, err := json.MarshalIndent(transcript{
		Username: username,
		SavedAt:  a.now(),
		Session:  sess,
	}, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "could not marshal transcript")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", errors.Wrap(err, "could not create autosave directory")
	}
	if err := os.WriteFile(p, b, 0o644); err != nil {
		return "", errors.Wrapf(err, "could not write %s", p)
	}

	log.Debug().Str("path", p).Str("session_id", sess.ID).Msg("Saved transcript")
	return p, nil
}
