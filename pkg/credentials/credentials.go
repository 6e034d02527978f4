// Package credentials remembers the logged in identity between runs.
package credentials

import (
	"os"
	"path/filepath"

	"github.com/go-go-golems/dialogue/pkg/backend"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

var ErrNoCredentials = errors.New("no stored credentials")

// File is a YAML file readable only by the current user.
type File struct {
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Path() string {
	return f.path
}

func (f *File) Load() (backend.Identity, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return backend.Identity{}, ErrNoCredentials
		}
		return backend.Identity{}, errors.Wrapf(err, "could not read %s", f.path)
	}

	var identity backend.Identity
	if err := yaml.Unmarshal(b, &identity); err != nil {
		return backend.Identity{}, errors.Wrapf(err, "could not parse %s", f.path)
	}
	if !identity.Valid() {
		return backend.Identity{}, ErrNoCredentials
	}
	return identity, nil
}

func (f *File) Save(identity backend.Identity) error {
	if !identity.Valid() {
		return errors.New("refusing to store an identity without username")
	}
	b, err := yaml.Marshal(identity)
	if err != nil {
		return errors.Wrap(err, "could not marshal credentials")
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return errors.Wrap(err, "could not create credentials directory")
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return errors.Wrapf(err, "could not write %s", tmp)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "could not replace %s", f.path)
	}

	log.Debug().Str("path", f.path).Str("username", identity.Username).Msg("Stored credentials")
	return nil
}

// Clear removes the stored identity. A missing file is not an error.
func (f *File) Clear() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "could not remove %s", f.path)
	}
	return nil
}
