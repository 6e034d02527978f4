// Package ui is the bubbletea front end of the chat coordinator. The model
// never mutates sessions itself: every action goes through the coordinator
// and the view is rebuilt from a store snapshot whenever a store event
// arrives.
package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-go-golems/dialogue/pkg/chat"
	"github.com/go-go-golems/dialogue/pkg/conversation"
	"github.com/go-go-golems/dialogue/pkg/events"
	"github.com/go-go-golems/dialogue/pkg/markdown"
	"github.com/go-go-golems/dialogue/pkg/search"
	"github.com/go-go-golems/dialogue/pkg/settings"
	"github.com/muesli/reflow/truncate"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type State string

const (
	StateUserInput     State = "user-input"
	StateSidebar       State = "sidebar"
	StateConfirmDelete State = "confirm-delete"
	StateRename        State = "rename"
	StateAttach        State = "attach"
	StateSearch        State = "search"
	StateError         State = "error"
)

const sidebarWidth = 24

// StoreEventMsg carries a store or transaction event into the program.
type StoreEventMsg struct {
	Event events.Event
}

type sendDoneMsg struct {
	text    string
	success bool
	err     error
}

// opDoneMsg reports a coordinator or store call made from a command.
// Publishing blocks until the UI has taken the event, so Update itself never
// mutates the store.
type opDoneMsg struct {
	op           string
	err          error
	messageIndex int
}

type pendingImage struct {
	dataURL string
	name    string
}

type Options struct {
	Models        []settings.Model
	SnippetBudget int
	KeyMap        *KeyMap
	Style         *Style
}

type Model struct {
	ctx         context.Context
	coordinator *chat.Coordinator
	models      []settings.Model
	budget      int

	state     State
	prevState State
	err       error
	status    string

	keyMap KeyMap
	style  *Style
	help   help.Model

	textArea textarea.Model
	prompt   textinput.Model
	viewport viewport.Model

	renderer      *glamour.TermRenderer
	rendererWidth int

	snapshot conversation.Snapshot
	// first viewport line of every message of the selected session
	offsets []int

	results        []search.Result
	selectedResult int
	searchReturn   State

	image   *pendingImage
	sending bool

	width  int
	height int
}

func New(ctx context.Context, coordinator *chat.Coordinator, options Options) Model {
	ret := Model{
		ctx:         ctx,
		coordinator: coordinator,
		models:      options.Models,
		budget:      options.SnippetBudget,
		state:       StateUserInput,
		keyMap:      DefaultKeyMap,
		style:       options.Style,
		help:        help.New(),
		viewport:    viewport.New(80, 20),
		snapshot:    coordinator.Store().Snapshot(),
	}
	if options.KeyMap != nil {
		ret.keyMap = *options.KeyMap
	}
	if ret.style == nil {
		ret.style = DefaultStyles()
	}
	if ret.budget <= 0 {
		ret.budget = search.DefaultSnippetBudget
	}

	ret.textArea = textarea.New()
	ret.textArea.Placeholder = "Ask something..."
	ret.textArea.ShowLineNumbers = false
	ret.textArea.SetHeight(3)
	ret.textArea.KeyMap.InsertNewline.SetKeys("ctrl+j", "alt+enter")
	ret.textArea.Focus()

	ret.prompt = textinput.New()

	ret.updateKeyBindings()
	ret.refresh(true)

	return ret
}

func (m Model) State() State {
	return m.state
}

func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

func (m *Model) updateKeyBindings() {
	inputOnly := m.state == StateUserInput
	sidebarOnly := m.state == StateSidebar
	browsing := inputOnly || sidebarOnly

	m.keyMap.SubmitMessage.SetEnabled(inputOnly)
	m.keyMap.UnfocusMessage.SetEnabled(inputOnly)
	m.keyMap.AttachImage.SetEnabled(inputOnly)

	m.keyMap.FocusMessage.SetEnabled(sidebarOnly)
	m.keyMap.SelectPrevSession.SetEnabled(sidebarOnly)
	m.keyMap.SelectNextSession.SetEnabled(sidebarOnly)
	m.keyMap.DeleteSession.SetEnabled(sidebarOnly)
	m.keyMap.RenameSession.SetEnabled(sidebarOnly)

	m.keyMap.NewChat.SetEnabled(browsing)
	m.keyMap.Search.SetEnabled(browsing)
	m.keyMap.StopCompletion.SetEnabled(browsing)
	m.keyMap.NextModel.SetEnabled(browsing)
	m.keyMap.CopyLastResponseToClipboard.SetEnabled(browsing)
	m.keyMap.CopySourceBlocksToClipboard.SetEnabled(browsing)
	m.keyMap.ScrollUp.SetEnabled(browsing)
	m.keyMap.ScrollDown.SetEnabled(browsing)
	m.keyMap.Help.SetEnabled(browsing)

	m.keyMap.Confirm.SetEnabled(m.state == StateConfirmDelete)
	m.keyMap.Cancel.SetEnabled(m.state == StateConfirmDelete ||
		m.state == StateRename || m.state == StateAttach || m.state == StateSearch)
	m.keyMap.SelectPrevResult.SetEnabled(m.state == StateSearch)
	m.keyMap.SelectNextResult.SetEnabled(m.state == StateSearch)
	m.keyMap.DismissError.SetEnabled(m.state == StateError)
}

func (m *Model) setState(s State) tea.Cmd {
	m.state = s
	m.updateKeyBindings()

	var cmd tea.Cmd
	switch s {
	case StateUserInput:
		m.prompt.Blur()
		cmd = m.textArea.Focus()
	case StateRename, StateAttach, StateSearch:
		m.textArea.Blur()
		cmd = m.prompt.Focus()
	default:
		m.textArea.Blur()
		m.prompt.Blur()
	}
	m.layout()
	return cmd
}

func (m *Model) showError(err error) {
	if m.state != StateError {
		m.prevState = m.state
	}
	m.err = err
	_ = m.setState(StateError)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, m.keyMap.Quit) {
			return m, tea.Quit
		}
		cmd := m.updateKey(msg)
		cmds = append(cmds, cmd)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.refresh(true)

	case StoreEventMsg:
		m.handleEvent(msg.Event)

	case sendDoneMsg:
		m.sending = false
		if msg.success {
			m.image = nil
			m.status = ""
		}
		if msg.err != nil {
			m.handleSendError(msg)
		}
		m.refresh(true)

	case opDoneMsg:
		cmds = append(cmds, m.handleOpDone(msg))

	default:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) handleOpDone(msg opDoneMsg) tea.Cmd {
	if msg.err != nil {
		switch {
		case msg.op == "stop" && errors.Is(msg.err, chat.ErrNotStreaming):
			m.status = "nothing to stop"
		case msg.op == "new chat" && errors.Is(msg.err, conversation.ErrAlreadyDraft):
			m.status = "already in a new chat"
		default:
			m.showError(errors.Wrap(msg.err, msg.op))
		}
		return nil
	}

	switch msg.op {
	case "stop":
		m.status = "stopped"
		m.refresh(false)
	case "new chat":
		m.status = ""
		m.refresh(true)
		return m.setState(StateUserInput)
	case "select":
		m.refresh(true)
	case "jump":
		m.refresh(false)
		if msg.messageIndex >= 0 && msg.messageIndex < len(m.offsets) {
			m.viewport.SetYOffset(m.offsets[msg.messageIndex])
		} else {
			m.viewport.GotoTop()
		}
		return m.setState(StateSidebar)
	case "delete", "rename":
		m.refresh(false)
		return m.setState(StateSidebar)
	}
	return nil
}

func (m *Model) updateKey(msg tea.KeyMsg) tea.Cmd {
	switch m.state {
	case StateError:
		if key.Matches(msg, m.keyMap.DismissError) {
			m.err = nil
			return m.setState(m.prevState)
		}
		return nil

	case StateConfirmDelete:
		if key.Matches(msg, m.keyMap.Confirm) {
			return m.deleteCmd(m.selectedID())
		}
		return m.setState(StateSidebar)

	case StateRename:
		switch msg.Type {
		case tea.KeyEnter:
			return m.renameCmd(m.selectedID(), m.prompt.Value())
		case tea.KeyEsc:
			return m.setState(StateSidebar)
		}
		var cmd tea.Cmd
		m.prompt, cmd = m.prompt.Update(msg)
		return cmd

	case StateAttach:
		switch msg.Type {
		case tea.KeyEnter:
			return m.attach(strings.TrimSpace(m.prompt.Value()))
		case tea.KeyEsc:
			return m.setState(StateUserInput)
		}
		var cmd tea.Cmd
		m.prompt, cmd = m.prompt.Update(msg)
		return cmd

	case StateSearch:
		return m.updateSearch(msg)
	}

	if cmd, ok := m.updateGlobalKey(msg); ok {
		return cmd
	}

	if m.state == StateSidebar {
		return m.updateSidebar(msg)
	}

	switch {
	case key.Matches(msg, m.keyMap.SubmitMessage):
		return m.submit()
	case key.Matches(msg, m.keyMap.UnfocusMessage):
		return m.setState(StateSidebar)
	case key.Matches(msg, m.keyMap.AttachImage):
		m.prompt.Reset()
		m.prompt.Prompt = "image path: "
		m.prompt.Placeholder = ""
		m.prompt.CharLimit = 0
		return m.setState(StateAttach)
	}

	var cmd tea.Cmd
	m.textArea, cmd = m.textArea.Update(msg)
	return cmd
}

// updateGlobalKey handles the bindings shared by the input and the sidebar.
func (m *Model) updateGlobalKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch {
	case key.Matches(msg, m.keyMap.NewChat):
		coordinator := m.coordinator
		return func() tea.Msg {
			_, err := coordinator.NewChat()
			return opDoneMsg{op: "new chat", err: err}
		}, true

	case key.Matches(msg, m.keyMap.Search):
		m.prompt.Reset()
		m.prompt.Prompt = "search: "
		m.prompt.Placeholder = "title or message text"
		m.prompt.CharLimit = 0
		m.results = nil
		m.selectedResult = 0
		m.searchReturn = m.state
		return m.setState(StateSearch), true

	case key.Matches(msg, m.keyMap.StopCompletion):
		return m.stopCmd(), true

	case key.Matches(msg, m.keyMap.NextModel):
		m.nextModel()
		return nil, true

	case key.Matches(msg, m.keyMap.CopySourceBlocksToClipboard):
		m.copyLastResponse(true)
		return nil, true

	case key.Matches(msg, m.keyMap.CopyLastResponseToClipboard):
		m.copyLastResponse(false)
		return nil, true

	case key.Matches(msg, m.keyMap.ScrollUp):
		m.viewport.HalfViewUp()
		return nil, true

	case key.Matches(msg, m.keyMap.ScrollDown):
		m.viewport.HalfViewDown()
		return nil, true

	case key.Matches(msg, m.keyMap.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.layout()
		return nil, true
	}
	return nil, false
}

func (m *Model) updateSidebar(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keyMap.SelectPrevSession):
		return m.selectIndexCmd(m.snapshot.Selected - 1)
	case key.Matches(msg, m.keyMap.SelectNextSession):
		return m.selectIndexCmd(m.snapshot.Selected + 1)
	case key.Matches(msg, m.keyMap.FocusMessage):
		return m.setState(StateUserInput)
	case key.Matches(msg, m.keyMap.DeleteSession):
		if m.snapshot.SelectedSession() == nil {
			return nil
		}
		return m.setState(StateConfirmDelete)
	case key.Matches(msg, m.keyMap.RenameSession):
		sess := m.snapshot.SelectedSession()
		if sess == nil {
			return nil
		}
		if !sess.IsPersisted() {
			m.status = "send a message before renaming this chat"
			return nil
		}
		m.prompt.Reset()
		m.prompt.Prompt = "title: "
		m.prompt.Placeholder = ""
		m.prompt.CharLimit = conversation.MaxTitleLength
		m.prompt.SetValue(sess.Title)
		m.prompt.CursorEnd()
		return m.setState(StateRename)
	}
	return nil
}

func (m *Model) selectIndexCmd(i int) tea.Cmd {
	if i < 0 || i >= len(m.snapshot.Sessions) {
		return nil
	}
	store := m.coordinator.Store()
	return func() tea.Msg {
		return opDoneMsg{op: "select", err: store.SelectIndex(i)}
	}
}

func (m *Model) updateSearch(msg tea.KeyMsg) tea.Cmd {
	switch {
	case msg.Type == tea.KeyEsc:
		return m.setState(m.searchReturn)
	case msg.Type == tea.KeyEnter:
		if len(m.results) == 0 {
			return nil
		}
		r := m.results[m.selectedResult]
		store := m.coordinator.Store()
		return func() tea.Msg {
			return opDoneMsg{op: "jump", err: store.Select(r.SessionID), messageIndex: r.MessageIndex}
		}
	case key.Matches(msg, m.keyMap.SelectPrevResult):
		if m.selectedResult > 0 {
			m.selectedResult--
		}
		return nil
	case key.Matches(msg, m.keyMap.SelectNextResult):
		if m.selectedResult < len(m.results)-1 {
			m.selectedResult++
		}
		return nil
	}

	var cmd tea.Cmd
	m.prompt, cmd = m.prompt.Update(msg)
	m.results = m.coordinator.Search(m.prompt.Value())
	if m.selectedResult >= len(m.results) {
		m.selectedResult = max(0, len(m.results)-1)
	}
	return cmd
}

func (m *Model) selectedID() string {
	if sess := m.snapshot.SelectedSession(); sess != nil {
		return sess.ID
	}
	return ""
}

func (m *Model) submit() tea.Cmd {
	if m.sending {
		m.status = "a reply is still being received"
		return nil
	}
	p := chat.Payload{Text: strings.TrimSpace(m.textArea.Value())}
	if m.image != nil {
		p.ImageBase64 = m.image.dataURL
		p.ImagePath = m.image.name
	}
	if p.Empty() {
		return nil
	}

	id := m.selectedID()
	m.sending = true
	m.status = ""
	text := m.textArea.Value()
	m.textArea.Reset()

	ctx, coordinator := m.ctx, m.coordinator
	return func() tea.Msg {
		ok, err := coordinator.SendTo(ctx, id, p)
		return sendDoneMsg{text: text, success: ok, err: err}
	}
}

func (m *Model) handleSendError(msg sendDoneMsg) {
	if errors.Is(msg.err, conversation.ErrInvalidSession) {
		// the session was deleted before its message went out
		return
	}
	declined := errors.Is(msg.err, chat.ErrAuthRequired) ||
		errors.Is(msg.err, chat.ErrAlreadyInFlight) ||
		errors.Is(msg.err, chat.ErrEmptyPayload) ||
		errors.Is(msg.err, chat.ErrPersistenceFailed)
	if !declined {
		// the failure is already visible in the bot message
		m.status = "reply failed"
		return
	}
	if m.textArea.Value() == "" {
		m.textArea.SetValue(msg.text)
	}
	m.showError(msg.err)
}

func (m *Model) stopCmd() tea.Cmd {
	ctx, coordinator := m.ctx, m.coordinator
	return func() tea.Msg {
		return opDoneMsg{op: "stop", err: coordinator.Stop(ctx)}
	}
}

func (m *Model) deleteCmd(id string) tea.Cmd {
	ctx, coordinator := m.ctx, m.coordinator
	return func() tea.Msg {
		return opDoneMsg{op: "delete", err: coordinator.Delete(ctx, id)}
	}
}

func (m *Model) renameCmd(id string, title string) tea.Cmd {
	ctx, coordinator := m.ctx, m.coordinator
	return func() tea.Msg {
		_, err := coordinator.Rename(ctx, id, title)
		return opDoneMsg{op: "rename", err: err}
	}
}

func (m *Model) attach(path string) tea.Cmd {
	if path == "" {
		m.image = nil
		return m.setState(StateUserInput)
	}
	dataURL, name, err := chat.LoadImage(path)
	if err != nil {
		m.showError(err)
		m.prevState = StateUserInput
		return nil
	}
	m.image = &pendingImage{dataURL: dataURL, name: name}
	return m.setState(StateUserInput)
}

func (m *Model) nextModel() {
	if len(m.models) == 0 {
		return
	}
	current := m.coordinator.Model()
	next := 0
	for i, model := range m.models {
		if model.Value == current {
			next = (i + 1) % len(m.models)
			break
		}
	}
	m.coordinator.SetModel(m.models[next].Value)
	m.status = "model: " + modelLabel(m.models[next])
}

func (m *Model) copyLastResponse(codeOnly bool) {
	sess := m.snapshot.SelectedSession()
	if sess == nil {
		return
	}
	var text string
	for i := len(sess.Messages) - 1; i >= 0; i-- {
		if sess.Messages[i].IsBot() && sess.Messages[i].Text() != "" {
			text = sess.Messages[i].Text()
			break
		}
	}
	if text == "" {
		m.status = "nothing to copy"
		return
	}

	if codeOnly {
		blocks := markdown.ExtractCodeBlocks(text)
		if len(blocks) == 0 {
			m.status = "no code block in the last answer"
			return
		}
		codes := make([]string, 0, len(blocks))
		for _, b := range blocks {
			codes = append(codes, b.Code)
		}
		text = strings.Join(codes, "\n")
		m.status = fmt.Sprintf("copied %d code block(s)", len(blocks))
	} else {
		m.status = "copied answer"
	}

	if err := clipboard.WriteAll(text); err != nil {
		log.Warn().Err(err).Msg("Could not write to clipboard")
		m.status = "clipboard unavailable"
	}
}

func (m *Model) handleEvent(e events.Event) {
	switch e.Type {
	case events.EventTypeStreamRecord:
	case events.EventTypeMessageUpdated:
		// keep following the reply unless the user scrolled away
		m.refresh(m.viewport.AtBottom())
	case events.EventTypeStopAcknowledged:
		m.status = "stopped"
		m.refresh(false)
	case events.EventTypeStoreReset:
		m.refresh(true)
		_ = m.setState(StateUserInput)
	default:
		m.refresh(true)
	}
}

// refresh rereads the store and rebuilds the viewport content.
func (m *Model) refresh(gotoBottom bool) {
	m.snapshot = m.coordinator.Store().Snapshot()
	m.offsets = nil

	sess := m.snapshot.SelectedSession()
	if sess == nil {
		m.viewport.SetContent("")
		return
	}

	r := m.glamourRenderer()
	var sb strings.Builder
	lines := 0
	for _, msg := range sess.Messages {
		m.offsets = append(m.offsets, lines)

		v := msg.View()
		if msg.IsBot() && msg.Text() == "" && msg.Reasoning == "" {
			v = "**[bot]**: ..."
		}
		if r != nil {
			rendered, err := r.Render(v)
			if err != nil {
				log.Debug().Err(err).Msg("Could not render message")
			} else {
				v = strings.Trim(rendered, "\n")
			}
		}
		if msg.IsBot() {
			v = m.style.BotMessage.Render(v)
		} else {
			v = m.style.UserMessage.Render(v)
		}
		v += "\n\n"
		lines += strings.Count(v, "\n")
		sb.WriteString(v)
	}

	m.viewport.SetContent(sb.String())
	if gotoBottom {
		m.viewport.GotoBottom()
	}
}

func (m *Model) glamourRenderer() *glamour.TermRenderer {
	w := m.viewport.Width - m.style.BotMessage.GetHorizontalFrameSize()
	if w < 10 {
		w = 10
	}
	if m.renderer != nil && m.rendererWidth == w {
		return m.renderer
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(w),
	)
	if err != nil {
		log.Warn().Err(err).Msg("Could not create markdown renderer")
		return nil
	}
	m.renderer = r
	m.rendererWidth = w
	return r
}

func (m *Model) layout() {
	if m.width == 0 || m.height == 0 {
		return
	}
	mainWidth := m.width - sidebarWidth - m.style.Sidebar.GetHorizontalFrameSize()
	if mainWidth < 20 {
		mainWidth = 20
	}
	m.textArea.SetWidth(mainWidth - m.style.FocusedInput.GetHorizontalFrameSize())
	m.prompt.Width = mainWidth - 4
	m.help.Width = mainWidth

	bottom := lipgloss.Height(m.bottomView(mainWidth)) + lipgloss.Height(m.help.View(m.keyMap))
	height := m.height - 1 - bottom
	if height < 3 {
		height = 3
	}
	m.viewport.Width = mainWidth
	m.viewport.Height = height
}

func modelLabel(model settings.Model) string {
	if model.Label != "" {
		return model.Label
	}
	return model.Value
}

func (m Model) headerView() string {
	var parts []string
	if identity, ok := m.coordinator.Identity(); ok {
		parts = append(parts, identity.Username)
	} else {
		parts = append(parts, "not logged in")
	}

	current := m.coordinator.Model()
	label := current
	for _, model := range m.models {
		if model.Value == current {
			label = modelLabel(model)
		}
	}
	if label != "" {
		parts = append(parts, label)
	}
	if m.coordinator.Active() {
		parts = append(parts, "streaming")
	}
	if m.image != nil {
		parts = append(parts, "image: "+m.image.name)
	}

	header := m.style.Header.Render(strings.Join(parts, " | "))
	if m.status != "" {
		header += m.style.Status.Render(m.status)
	}
	return header
}

func (m Model) sidebarView() string {
	var sb strings.Builder
	for i, sess := range m.snapshot.Sessions {
		title := truncate.StringWithTail(sess.Title, sidebarWidth-2, conversation.Ellipsis)
		style := m.style.Session
		switch {
		case i == m.snapshot.Selected:
			style = m.style.SelectedSession
			title = "> " + title
		case sess.IsDraft():
			style = m.style.DraftSession.Copy().PaddingLeft(2)
		default:
			style = style.Copy().PaddingLeft(2)
		}
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(style.Render(title))
	}
	return m.style.Sidebar.
		Width(sidebarWidth).
		Height(max(1, m.height)).
		Render(sb.String())
}

func (m Model) bottomView(width int) string {
	switch m.state {
	case StateError:
		errText := ""
		if m.err != nil {
			errText = m.err.Error()
		}
		return m.style.Error.Width(width - m.style.Error.GetHorizontalFrameSize()).Render(errText)
	case StateConfirmDelete:
		title := ""
		if sess := m.snapshot.SelectedSession(); sess != nil {
			title = sess.Title
		}
		return m.style.FocusedInput.Width(width - 2).Render(fmt.Sprintf("Delete %q? (y/n)", title))
	case StateRename, StateAttach:
		return m.style.FocusedInput.Width(width - 2).Render(m.prompt.View())
	case StateSearch:
		return m.style.FocusedInput.Width(width - 2).Render(m.searchView())
	case StateUserInput:
		return m.style.FocusedInput.Render(m.textArea.View())
	default:
		return m.style.UnfocusedInput.Render(m.textArea.View())
	}
}

func (m Model) searchView() string {
	var sb strings.Builder
	sb.WriteString(m.prompt.View())
	if strings.TrimSpace(m.prompt.Value()) != "" && len(m.results) == 0 {
		sb.WriteString("\n  no results")
	}
	const maxShown = 8
	start := 0
	if m.selectedResult >= maxShown {
		start = m.selectedResult - maxShown + 1
	}
	for i := start; i < len(m.results) && i < start+maxShown; i++ {
		r := m.results[i]
		title := ""
		if r.SessionIndex < len(m.snapshot.Sessions) {
			title = m.snapshot.Sessions[r.SessionIndex].Title
		}
		line := fmt.Sprintf("[%s] %s", r.Kind, title)
		if r.Kind == search.KindMessage {
			line += ": " + search.Compress(r.Text, m.prompt.Value(), m.budget)
		}
		style := m.style.SearchResult
		if i == m.selectedResult {
			style = m.style.SelectedSearchResult
			line = "> " + line
		}
		sb.WriteString("\n")
		sb.WriteString(style.Render(line))
	}
	return sb.String()
}

func (m Model) View() string {
	mainWidth := m.viewport.Width
	main := lipgloss.JoinVertical(lipgloss.Left,
		m.headerView(),
		m.viewport.View(),
		m.bottomView(mainWidth),
		m.help.View(m.keyMap),
	)
	return lipgloss.JoinHorizontal(lipgloss.Top, m.sidebarView(), main)
}
