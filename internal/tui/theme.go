package tui

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

type theme struct {
	title     lipgloss.Style
	header    lipgloss.Style
	recording lipgloss.Style
	playing   lipgloss.Style
	idle      lipgloss.Style
	focused   lipgloss.Style
	blurred   lipgloss.Style
	status    lipgloss.Style
	err       lipgloss.Style

	table        table.Styles
	blurredTable table.Styles
}

func newTheme() *theme {
	border := lipgloss.RoundedBorder()

	t := &theme{
		title:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		header:    lipgloss.NewStyle().Foreground(lipgloss.Color("7")),
		recording: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("1")).Padding(0, 1),
		playing:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("2")).Padding(0, 1),
		idle:      lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4")).Padding(0, 1),
		focused:   lipgloss.NewStyle().Border(border).BorderForeground(lipgloss.Color("12")),
		blurred:   lipgloss.NewStyle().Border(border).BorderForeground(lipgloss.Color("8")),
		status:    lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		err:       lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}

	t.table = table.DefaultStyles()
	t.table.Header = t.table.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("8")).
		BorderBottom(true).
		Bold(true)
	t.table.Selected = t.table.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57"))

	t.blurredTable = t.table
	t.blurredTable.Selected = lipgloss.NewStyle()
	return t
}
