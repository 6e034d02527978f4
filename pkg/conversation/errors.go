package conversation

import "github.com/pkg/errors"

var (
	ErrInvalidSession     = errors.New("session does not exist")
	ErrTitleLocked        = errors.New("the title of a new chat cannot be edited before its first message is saved")
	ErrDialogIDAlreadySet = errors.New("dialog id already set")
	ErrAlreadyDraft       = errors.New("already on a new chat")
	ErrIndexOutOfRange    = errors.New("session index out of range")
	ErrInvariant          = errors.New("store invariant violated")
)
