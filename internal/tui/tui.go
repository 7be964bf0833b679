// Package tui is the terminal front end of the looper.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/petems/audio-looper/internal/app"
	"github.com/petems/audio-looper/internal/audio"
	"github.com/petems/audio-looper/internal/logging"
)

type pane int

const (
	paneSamples pane = iota
	paneInputs
	paneOutputs
	paneCount
)

func (p pane) String() string {
	switch p {
	case paneInputs:
		return "Input"
	case paneOutputs:
		return "Output"
	default:
		return "Samples"
	}
}

// msgTick is one host frame.
type msgTick time.Time

// msgLogLine carries a new log line for the status bar.
type msgLogLine string

// Model is the bubbletea model driving an app.App.
type Model struct {
	app      *app.App
	log      zerolog.Logger
	frame    time.Duration
	keys     keyMap
	help     help.Model
	styles   *theme
	copyText func(string) error

	tables [paneCount]table.Model
	focus  pane
	snap   app.Snapshot
	status string
	err    error
	width  int
}

// New creates the model. frameRate is the number of App.Update calls per
// second.
func New(a *app.App, frameRate int, log zerolog.Logger) Model {
	if frameRate <= 0 {
		frameRate = 60
	}
	styles := newTheme()
	m := Model{
		app:      a,
		log:      log.With().Str("component", "tui").Logger(),
		frame:    time.Second / time.Duration(frameRate),
		keys:     newKeyMap(),
		help:     help.New(),
		styles:   styles,
		copyText: clipboard.WriteAll,
	}

	deviceCols := []table.Column{
		{Title: " ", Width: 1},
		{Title: "Name", Width: 28},
		{Title: "ID", Width: 12},
		{Title: "Frames", Width: 6},
		{Title: "Ch", Width: 3},
		{Title: "Rate", Width: 6},
		{Title: "Format", Width: 6},
	}
	m.tables[paneSamples] = table.New(
		table.WithColumns([]table.Column{
			{Title: " ", Width: 2},
			{Title: "Slot", Width: 16},
			{Title: "On", Width: 3},
			{Title: "Size", Width: 10},
			{Title: "Capacity", Width: 10},
		}),
		table.WithHeight(11),
		table.WithKeyMap(tableKeyMap()),
		table.WithFocused(true),
	)
	m.tables[paneInputs] = table.New(
		table.WithColumns(deviceCols),
		table.WithHeight(5),
		table.WithKeyMap(tableKeyMap()),
	)
	m.tables[paneOutputs] = table.New(
		table.WithColumns(deviceCols),
		table.WithHeight(5),
		table.WithKeyMap(tableKeyMap()),
	)
	m.setFocus(paneSamples)
	m.refresh()

	// Start the device tables on the opened devices.
	m.tables[paneInputs].SetCursor(max(m.snap.SelectedInput, 0))
	m.tables[paneOutputs].SetCursor(max(m.snap.SelectedOutput, 0))
	return m
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.frame, func(t time.Time) tea.Msg {
		return msgTick(t)
	})
}

func (m Model) Init() tea.Cmd {
	return m.tick()
}

func (m *Model) setFocus(p pane) {
	m.focus = p
	for i := range m.tables {
		if pane(i) == p {
			m.tables[i].Focus()
			m.tables[i].SetStyles(m.styles.table)
		} else {
			m.tables[i].Blur()
			m.tables[i].SetStyles(m.styles.blurredTable)
		}
	}
}

// refresh reloads every table from a new snapshot of the app.
func (m *Model) refresh() {
	m.snap = m.app.Snapshot()

	rows := make([]table.Row, len(m.snap.Slots))
	for i, info := range m.snap.Slots {
		mark := ""
		switch {
		case m.snap.Recording && i == m.snap.Target:
			mark = "●"
		case i == m.snap.Selected:
			mark = ">"
		}
		on := "[ ]"
		if info.Enabled {
			on = "[x]"
		}
		rows[i] = table.Row{
			mark,
			slotName(i, info.Name),
			on,
			humanize.IBytes(uint64(info.Len)),
			humanize.IBytes(uint64(info.Cap)),
		}
	}
	m.tables[paneSamples].SetRows(rows)
	if m.snap.Selected >= 0 {
		m.tables[paneSamples].SetCursor(m.snap.Selected)
	}

	m.tables[paneInputs].SetRows(deviceRows(m.snap.Inputs, m.snap.SelectedInput))
	m.tables[paneOutputs].SetRows(deviceRows(m.snap.Outputs, m.snap.SelectedOutput))
}

func slotName(i int, name string) string {
	if name == "" {
		return fmt.Sprintf("%04d", i)
	}
	return name
}

func deviceRows(devs []audio.Device, selected int) []table.Row {
	rows := make([]table.Row, len(devs))
	for i, d := range devs {
		mark := ""
		if i == selected {
			mark = "*"
		}
		format := d.Format.Encoding.String()
		if d.Format.SampleSize() > 1 {
			format += d.Format.ByteOrder.String()
		}
		rows[i] = table.Row{
			mark,
			d.Name,
			string(d.ID),
			strconv.Itoa(d.BufferFrames),
			strconv.Itoa(d.Format.Channels),
			strconv.Itoa(d.Format.SampleRate),
			format,
		}
	}
	return rows
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case msgTick:
		m.app.Update(time.Time(msg))
		m.refresh()
		return m, m.tick()

	case msgLogLine:
		m.status = string(msg)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var err error

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Slot):
		j := int(msg.String()[0] - '0')
		err = m.app.PressSlotKey(j)

	case key.Matches(msg, m.keys.Record):
		err = m.app.ToggleRecord()

	case key.Matches(msg, m.keys.Play):
		m.app.TogglePlayback()

	case key.Matches(msg, m.keys.Activate):
		switch m.focus {
		case paneInputs:
			err = m.app.SelectInputDevice(m.tables[paneInputs].Cursor())
		case paneOutputs:
			err = m.app.SelectOutputDevice(m.tables[paneOutputs].Cursor())
		default:
			m.app.TogglePlayback()
		}

	case key.Matches(msg, m.keys.Enable):
		err = m.app.ToggleSelectedEnabled()

	case key.Matches(msg, m.keys.New):
		m.app.NewSample()

	case key.Matches(msg, m.keys.Delete):
		err = m.app.DeleteSample(m.app.State().Selected)

	case key.Matches(msg, m.keys.Clear):
		err = m.app.ClearSample(m.app.State().Selected)

	case key.Matches(msg, m.keys.Focus):
		next := (m.focus + 1) % paneCount
		if msg.String() == "shift+tab" {
			next = (m.focus + paneCount - 1) % paneCount
		}
		m.setFocus(next)

	case key.Matches(msg, m.keys.Refresh):
		m.app.RefreshDevices()

	case key.Matches(msg, m.keys.Yank):
		err = m.yank()

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll

	default:
		var cmd tea.Cmd
		m.tables[m.focus], cmd = m.tables[m.focus].Update(msg)
		if m.focus == paneSamples && len(m.snap.Slots) > 0 {
			if c := m.tables[paneSamples].Cursor(); c != m.app.State().Selected {
				err = m.app.SelectSample(c)
			}
		}
		m.err = err
		m.refresh()
		return m, cmd
	}

	if err != nil {
		m.log.Debug().Err(err).Str("key", msg.String()).Msg("Key action failed")
	}
	m.err = err
	m.refresh()
	return m, nil
}

// yank copies the name of the highlighted device or slot to the clipboard.
func (m *Model) yank() error {
	var name string
	cursor := m.tables[m.focus].Cursor()
	switch m.focus {
	case paneInputs:
		if cursor < len(m.snap.Inputs) {
			name = m.snap.Inputs[cursor].Name
		}
	case paneOutputs:
		if cursor < len(m.snap.Outputs) {
			name = m.snap.Outputs[cursor].Name
		}
	default:
		if cursor < len(m.snap.Slots) {
			name = slotName(cursor, m.snap.Slots[cursor].Name)
		}
	}
	if name == "" {
		return nil
	}
	if err := m.copyText(name); err != nil {
		return fmt.Errorf("failed to copy to clipboard: %w", err)
	}
	m.status = fmt.Sprintf("Copied %q", name)
	return nil
}

func (m Model) headerView() string {
	var state string
	switch {
	case m.snap.Recording:
		state = m.styles.recording.Render(fmt.Sprintf("● REC %s", slotName(m.snap.Target, m.slotLabel(m.snap.Target))))
	case m.snap.Playing:
		state = m.styles.playing.Render("▶ PLAY")
	default:
		state = m.styles.idle.Render("■ IDLE")
	}
	if m.snap.Recording && m.snap.Playing {
		state += " " + m.styles.playing.Render("▶ PLAY")
	}

	out := "no output"
	if m.snap.OutputOpen {
		out = m.snap.OutputFormat.String()
	}
	info := m.styles.header.Render(fmt.Sprintf("  out: %s  frame: %s", out,
		m.snap.FrameTime.Round(time.Millisecond)))
	return m.styles.title.Render("Audio Looper") + "  " + state + info
}

func (m Model) slotLabel(i int) string {
	if i >= 0 && i < len(m.snap.Slots) {
		return m.snap.Slots[i].Name
	}
	return ""
}

func (m Model) paneView(p pane) string {
	style := m.styles.blurred
	if p == m.focus {
		style = m.styles.focused
	}

	title := p.String()
	switch p {
	case paneInputs:
		title += ": " + selectedName(m.snap.Inputs, m.snap.SelectedInput)
	case paneOutputs:
		title += ": " + selectedName(m.snap.Outputs, m.snap.SelectedOutput)
	}
	return style.Render(title + "\n" + m.tables[p].View())
}

func selectedName(devs []audio.Device, i int) string {
	if i < 0 || i >= len(devs) {
		return "None"
	}
	return devs[i].Name
}

func (m Model) View() string {
	devices := lipgloss.JoinVertical(lipgloss.Left,
		m.paneView(paneInputs),
		m.paneView(paneOutputs),
	)
	body := lipgloss.JoinHorizontal(lipgloss.Top, m.paneView(paneSamples), devices)

	status := m.styles.status.Render(m.status)
	if m.err != nil {
		status = m.styles.err.Render(m.err.Error())
	}

	return strings.Join([]string{
		m.headerView(),
		body,
		status,
		m.help.View(m.keys),
	}, "\n")
}

// Run runs the terminal UI until the user quits or ctx is done. The latest
// log line is shown in the status bar.
func Run(ctx context.Context, a *app.App, frameRate int, lines *logging.LinesBuffer, log zerolog.Logger) error {
	m := New(a, frameRate, log)
	if lines != nil {
		if last := lines.LastLogLines(1); len(last) > 0 {
			m.status = last[0]
		}
	}

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if lines != nil {
		listener := lines.Listen(func(s string) {
			go p.Send(msgLogLine(s))
		})
		defer listener.Close()
	}

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
