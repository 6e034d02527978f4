package ui

import "github.com/charmbracelet/lipgloss"

type Style struct {
	Header lipgloss.Style
	Status lipgloss.Style

	Sidebar         lipgloss.Style
	Session         lipgloss.Style
	SelectedSession lipgloss.Style
	DraftSession    lipgloss.Style

	UserMessage lipgloss.Style
	BotMessage  lipgloss.Style

	FocusedInput   lipgloss.Style
	UnfocusedInput lipgloss.Style
	Error          lipgloss.Style

	SearchResult         lipgloss.Style
	SelectedSearchResult lipgloss.Style
}

type BorderColors struct {
	Unselected string
	Selected   string
	Focused    string
	Error      string
}

func DefaultStyles() *Style {
	lightModeColors := BorderColors{
		Unselected: "#CCCCCC",
		Selected:   "#FFB6C1", // Light pink
		Focused:    "#FFFF99", // Light yellow
		Error:      "#FF6666",
	}

	darkModeColors := BorderColors{
		Unselected: "#444444",
		Selected:   "#DD7090", // Desaturated pink for dark mode
		Focused:    "#DDDD77", // Desaturated yellow for dark mode
		Error:      "#CC4444",
	}

	unselected := lipgloss.AdaptiveColor{Light: lightModeColors.Unselected, Dark: darkModeColors.Unselected}
	selected := lipgloss.AdaptiveColor{Light: lightModeColors.Selected, Dark: darkModeColors.Selected}
	focused := lipgloss.AdaptiveColor{Light: lightModeColors.Focused, Dark: darkModeColors.Focused}
	errColor := lipgloss.AdaptiveColor{Light: lightModeColors.Error, Dark: darkModeColors.Error}

	return &Style{
		Header: lipgloss.NewStyle().Bold(true).Padding(0, 1),
		Status: lipgloss.NewStyle().Faint(true).Padding(0, 1),

		Sidebar: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, true, false, false).
			BorderForeground(unselected).
			Padding(0, 1),
		Session:         lipgloss.NewStyle(),
		SelectedSession: lipgloss.NewStyle().Bold(true).Foreground(selected),
		DraftSession:    lipgloss.NewStyle().Italic(true),

		UserMessage: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(focused).
			PaddingLeft(1),
		BotMessage: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(selected).
			PaddingLeft(1),

		FocusedInput: lipgloss.NewStyle().Border(lipgloss.NormalBorder()).
			BorderForeground(focused),
		UnfocusedInput: lipgloss.NewStyle().Border(lipgloss.NormalBorder()).
			BorderForeground(unselected),
		Error: lipgloss.NewStyle().Border(lipgloss.ThickBorder()).
			Padding(0, 1).
			BorderForeground(errColor),

		SearchResult:         lipgloss.NewStyle().PaddingLeft(2),
		SelectedSearchResult: lipgloss.NewStyle().PaddingLeft(1).Bold(true).Foreground(selected),
	}
}
