package backend

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrNoIdentity = errors.New("no identity")
	ErrNoDialogID = errors.New("backend returned no dialog id")
	ErrNoBody     = errors.New("backend returned no response body")
)

// StatusError is returned for any non-2xx answer of the backend.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// IsStatus reports whether err carries a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == code
	}
	return false
}
