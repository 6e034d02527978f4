package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/dialogue/pkg/events"
)

// Sender is the part of *tea.Program the forwarder needs.
type Sender interface {
	Send(msg tea.Msg)
}

var _ Sender = (*tea.Program)(nil)

// ForwardFunc returns an event handler that forwards store events into the
// bubbletea program. Register it with events.EventRouter.AddEventHandler.
// Stream records are not forwarded: every record also updates the last
// message in the store, and the message-updated event redraws it.
func ForwardFunc(p Sender) func(events.Event) error {
	return func(e events.Event) error {
		if e.Type == events.EventTypeStreamRecord {
			return nil
		}
		p.Send(StoreEventMsg{Event: e})
		return nil
	}
}
