package ui

import "github.com/charmbracelet/bubbles/key"

type KeyMap struct {
	SubmitMessage  key.Binding
	UnfocusMessage key.Binding
	FocusMessage   key.Binding

	SelectPrevSession key.Binding
	SelectNextSession key.Binding
	NewChat           key.Binding
	DeleteSession     key.Binding
	RenameSession     key.Binding
	Confirm           key.Binding

	Search           key.Binding
	SelectPrevResult key.Binding
	SelectNextResult key.Binding

	StopCompletion              key.Binding
	AttachImage                 key.Binding
	NextModel                   key.Binding
	CopyLastResponseToClipboard key.Binding
	CopySourceBlocksToClipboard key.Binding

	ScrollUp   key.Binding
	ScrollDown key.Binding

	DismissError key.Binding
	Cancel       key.Binding
	Help         key.Binding
	Quit         key.Binding
}

var DefaultKeyMap = KeyMap{
	SubmitMessage:  key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
	UnfocusMessage: key.NewBinding(key.WithKeys("esc", "ctrl+g"), key.WithHelp("esc", "sessions")),
	FocusMessage:   key.NewBinding(key.WithKeys("enter", "i"), key.WithHelp("enter", "write")),

	SelectPrevSession: key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "previous")),
	SelectNextSession: key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "next")),
	NewChat:           key.NewBinding(key.WithKeys("ctrl+n"), key.WithHelp("ctrl+n", "new chat")),
	DeleteSession:     key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete")),
	RenameSession:     key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "rename")),
	Confirm:           key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "confirm")),

	Search:           key.NewBinding(key.WithKeys("ctrl+f"), key.WithHelp("ctrl+f", "search")),
	SelectPrevResult: key.NewBinding(key.WithKeys("up"), key.WithHelp("↑", "previous")),
	SelectNextResult: key.NewBinding(key.WithKeys("down"), key.WithHelp("↓", "next")),

	StopCompletion:              key.NewBinding(key.WithKeys("ctrl+x"), key.WithHelp("ctrl+x", "stop")),
	AttachImage:                 key.NewBinding(key.WithKeys("ctrl+o"), key.WithHelp("ctrl+o", "image")),
	NextModel:                   key.NewBinding(key.WithKeys("ctrl+t"), key.WithHelp("ctrl+t", "model")),
	CopyLastResponseToClipboard: key.NewBinding(key.WithKeys("alt+y"), key.WithHelp("alt+y", "copy answer")),
	CopySourceBlocksToClipboard: key.NewBinding(key.WithKeys("ctrl+y"), key.WithHelp("ctrl+y", "copy code")),

	ScrollUp:   key.NewBinding(key.WithKeys("shift+pgup", "pgup")),
	ScrollDown: key.NewBinding(key.WithKeys("shift+pgdown", "pgdown")),

	DismissError: key.NewBinding(key.WithKeys("esc", "enter"), key.WithHelp("esc", "dismiss")),
	Cancel:       key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
	Help:         key.NewBinding(key.WithKeys("ctrl+h"), key.WithHelp("ctrl+h", "help")),
	Quit:         key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
}

func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{
		k.SubmitMessage, k.UnfocusMessage, k.FocusMessage,
		k.SelectPrevSession, k.SelectNextSession, k.DeleteSession, k.RenameSession,
		k.Confirm, k.Cancel, k.DismissError,
		k.SelectPrevResult, k.SelectNextResult,
		k.NewChat, k.Search, k.StopCompletion, k.Help, k.Quit,
	}
}

func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.SubmitMessage, k.UnfocusMessage, k.FocusMessage, k.StopCompletion},
		{k.SelectPrevSession, k.SelectNextSession, k.NewChat, k.DeleteSession, k.RenameSession},
		{k.Search, k.AttachImage, k.NextModel},
		{k.CopySourceBlocksToClipboard, k.CopyLastResponseToClipboard, k.ScrollUp, k.ScrollDown},
		{k.Help, k.Quit},
	}
}
