package ui

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/petr-muller/jiraflow/internal/cycletime/calculator"
	"github.com/petr-muller/jiraflow/internal/cycletime/compare"
	"github.com/petr-muller/jiraflow/internal/cycletime/service"
)

const (
	maxVisibleRows = 15
	dateLayout     = "2006-01-02"
)

// openURL opens a link in the user's browser
var openURL = func(url string) error {
	return exec.Command("xdg-open", url).Start()
}

// formatDuration formats a duration into a human-readable string
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}

// Model is the TUI model for browsing the cycle data of a run
type Model struct {
	table  table.Model
	run    *service.Run
	rows   []calculator.Result
	width  int
	height int
	now    func() time.Time
}

// NewModel creates a new TUI model
func NewModel(run *service.Run) Model {
	t := table.New(
		table.WithFocused(true),
		table.WithHeight(1),
	)

	m := Model{
		table: t,
		run:   run,
		now:   time.Now,
	}

	m.updateTable()
	m.updateSelectionStyle()
	return m
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateTableSize()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "enter":
			return m, m.openSelectedIssue()
		}
	}

	m.table, cmd = m.table.Update(msg)
	m.updateSelectionStyle()

	return m, cmd
}

// View renders the model
func (m Model) View() string {
	var s strings.Builder

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		MarginBottom(1)
	s.WriteString(headerStyle.Render(fmt.Sprintf("Analysis: %s", m.run.Analysis.Name)))
	s.WriteString("\n")

	if m.run.Analysis.Description != "" {
		descStyle := lipgloss.NewStyle().
			Foreground(lipgloss.Color("250")).
			Italic(true)
		s.WriteString(descStyle.Render(m.run.Analysis.Description))
		s.WriteString("\n")
	}

	infoStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	if m.run.Cached && !m.run.ComputedAt.IsZero() {
		s.WriteString(infoStyle.Render(fmt.Sprintf("Cached result from %s (%s ago)",
			m.run.ComputedAt.Format("2006-01-02 15:04:05"),
			formatDuration(m.now().Sub(m.run.ComputedAt)))))
		s.WriteString("\n")
	}
	if !m.run.PreviousRun.IsZero() {
		previous := m.run.PreviousRun.Format("2006-01-02 15:04:05")
		if compare.HasChanges(m.run.Comparison) {
			s.WriteString(infoStyle.Render(fmt.Sprintf("Changes since: %s (%d new, %d changed, %d removed)",
				previous, len(m.run.Comparison.New), len(m.run.Comparison.Changed), len(m.run.Comparison.Removed))))
		} else {
			s.WriteString(infoStyle.Render(fmt.Sprintf("No changes since: %s", previous)))
		}
		s.WriteString("\n")
	}

	summaryStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("33")).
		MarginTop(1).
		MarginBottom(1)
	s.WriteString(summaryStyle.Render(m.summaryLine()))
	s.WriteString("\n")

	if m.run.Data.Truncated {
		warnStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
		s.WriteString(warnStyle.Render(fmt.Sprintf("Showing %d of %d matching issues", len(m.rows), m.run.Data.Total)))
		s.WriteString("\n")
	}

	s.WriteString(m.table.View())
	s.WriteString("\n")

	if len(m.rows) > maxVisibleRows {
		scrollStyle := lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)
		s.WriteString(scrollStyle.Render(fmt.Sprintf("Showing %d of %d items - use arrow keys to scroll", maxVisibleRows, len(m.rows))))
		s.WriteString("\n")
	}

	if selected, ok := m.selected(); ok {
		detailStyle := lipgloss.NewStyle().
			Foreground(lipgloss.Color("250")).
			MarginTop(1)
		s.WriteString(detailStyle.Render(fmt.Sprintf("Summary: %s", selected.Summary)))
		s.WriteString("\n")
		if selected.URL != "" {
			s.WriteString(infoStyle.Render(selected.URL))
			s.WriteString("\n")
		}
		s.WriteString(m.renderItemStatus(selected))
	}

	helpStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		MarginTop(1)
	s.WriteString(helpStyle.Render("Press 'q' to quit, arrow keys to navigate, enter to open the issue"))

	return s.String()
}

func (m Model) summaryLine() string {
	summary := m.run.Summary
	line := fmt.Sprintf("%d items, %d completed, %d in progress", summary.Items, summary.Completed, summary.InProgress)
	if summary.Completed > 0 {
		line += fmt.Sprintf(" | cycle time: mean %.1fd, median %.1fd, 85%% %.1fd", summary.Mean, summary.Median, summary.P85)
	}
	return line
}

func (m Model) openSelectedIssue() tea.Cmd {
	selected, ok := m.selected()
	if !ok || selected.URL == "" {
		return nil
	}
	return func() tea.Msg {
		_ = openURL(selected.URL)
		return nil
	}
}

func (m *Model) selected() (calculator.Result, bool) {
	cursor := m.table.Cursor()
	if cursor < 0 || cursor >= len(m.rows) {
		return calculator.Result{}, false
	}
	return m.rows[cursor], true
}

// updateTable fills the table with current rows followed by removed ones
func (m *Model) updateTable() {
	m.rows = append([]calculator.Result{}, m.run.Data.Rows...)
	m.rows = append(m.rows, m.run.Comparison.Removed...)

	// Columns must be set before rows so cells line up
	m.updateColumnWidths()

	var rows []table.Row
	for _, result := range m.rows {
		rows = append(rows, m.resultToRow(result))
	}
	m.table.SetRows(rows)

	m.updateTableSize()
	m.updateSelectionStyle()
}

func (m *Model) titles() []string {
	titles := []string{"Key", "Status"}
	titles = append(titles, m.run.Data.Stages...)
	return append(titles, "Cycle Time")
}

func (m *Model) resultToRow(result calculator.Result) table.Row {
	row := table.Row{result.Key, result.Status}
	for _, name := range m.run.Data.Stages {
		row = append(row, formatDate(result.Stage(name)))
	}
	cycleTime := "-"
	if result.CycleTime != nil {
		cycleTime = strconv.Itoa(*result.CycleTime) + "d"
	}
	return append(row, cycleTime)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(dateLayout)
}

// updateTableSize updates the table size based on terminal dimensions
func (m *Model) updateTableSize() {
	if m.width > 0 && m.height > 0 {
		// Header row plus at most maxVisibleRows rows
		m.table.SetHeight(max(min(len(m.rows), maxVisibleRows), 1) + 1)
		m.updateColumnWidths()
	}
}

// updateColumnWidths sizes columns to their content and spreads leftover
// terminal width evenly
func (m *Model) updateColumnWidths() {
	titles := m.titles()
	widths := m.calculateDataWidths(titles)

	total := 0
	for i := range widths {
		widths[i] += 2
		total += widths[i]
	}

	if available := m.width - 10; m.width > 0 && available > total {
		extra := (available - total) / len(widths)
		for i := range widths {
			widths[i] += extra
		}
	}

	columns := make([]table.Column, len(titles))
	for i, title := range titles {
		columns[i] = table.Column{Title: title, Width: widths[i]}
	}
	m.table.SetColumns(columns)
}

// calculateDataWidths calculates the optimal width for each column based on actual data
func (m *Model) calculateDataWidths(titles []string) []int {
	widths := make([]int, len(titles))
	for i, title := range titles {
		widths[i] = len(title)
	}
	for _, result := range m.rows {
		for i, cell := range m.resultToRow(result) {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}
	return widths
}

func (m *Model) isChanged(key string) bool {
	_, exists := m.run.Comparison.Changed[key]
	return exists
}

// renderItemStatus creates a status panel for the selected item
func (m *Model) renderItemStatus(selected calculator.Result) string {
	if m.run.PreviousRun.IsZero() {
		return ""
	}

	var s strings.Builder
	switch {
	case m.run.Comparison.IsNew(selected.Key):
		newStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
		s.WriteString(newStyle.Render("NEW ITEM"))
		s.WriteString("\n")
	case m.isChanged(selected.Key):
		changedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true)
		s.WriteString(changedStyle.Render("CHANGED ITEM"))
		s.WriteString("\n")
		for _, change := range m.run.Comparison.Changed[selected.Key] {
			s.WriteString(fmt.Sprintf("  • %s changed from '%s' to '%s'\n", change.Field, change.OldValue, change.NewValue))
		}
	case m.run.Comparison.IsRemoved(selected.Key):
		removedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Strikethrough(true)
		s.WriteString(removedStyle.Render("REMOVED ITEM"))
		s.WriteString("\n")
	default:
		unchangedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
		s.WriteString(unchangedStyle.Render("UNCHANGED ITEM"))
		s.WriteString("\n")
	}
	return s.String()
}

// updateSelectionStyle colors the selection by the selected item's status
func (m *Model) updateSelectionStyle() {
	selected, ok := m.selected()
	if !ok {
		return
	}

	var backgroundColor lipgloss.Color
	switch {
	case m.run.Comparison.IsNew(selected.Key):
		backgroundColor = lipgloss.Color("22")
	case m.isChanged(selected.Key):
		backgroundColor = lipgloss.Color("130")
	case m.run.Comparison.IsRemoved(selected.Key):
		backgroundColor = lipgloss.Color("52")
	case selected.CycleTime != nil:
		backgroundColor = lipgloss.Color("24")
	default:
		backgroundColor = lipgloss.Color("240")
	}

	styles := table.DefaultStyles()
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("230")).
		Background(backgroundColor).
		Bold(true)
	styles.Cell = styles.Cell.MaxWidth(0)
	styles.Header = styles.Header.MaxWidth(0)

	m.table.SetStyles(styles)
}
