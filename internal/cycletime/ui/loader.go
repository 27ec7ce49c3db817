package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/petr-muller/jiraflow/internal/cycletime/service"
)

type runMsg struct {
	run *service.Run
	err error
}

// Loader shows a spinner while a run is computed and the run once it is ready
type Loader struct {
	name    string
	load    func() (*service.Run, error)
	spinner spinner.Model
	model   *Model
	size    *tea.WindowSizeMsg
	err     error
}

// NewLoader creates a loader for the named analysis
func NewLoader(name string, load func() (*service.Run, error)) Loader {
	return Loader{
		name:    name,
		load:    load,
		spinner: spinner.New(spinner.WithSpinner(spinner.Points)),
	}
}

// Err returns the error the run failed with, if any
func (l Loader) Err() error {
	return l.err
}

// Init starts the spinner and the run
func (l Loader) Init() tea.Cmd {
	return tea.Batch(l.spinner.Tick, l.fetch)
}

func (l Loader) fetch() tea.Msg {
	run, err := l.load()
	return runMsg{run: run, err: err}
}

// Update handles messages until the run is ready and delegates to the run model afterwards
func (l Loader) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if l.model != nil {
		updated, cmd := l.model.Update(msg)
		model := updated.(Model)
		l.model = &model
		return l, cmd
	}

	switch msg := msg.(type) {
	case runMsg:
		if msg.err != nil {
			l.err = msg.err
			return l, tea.Quit
		}
		model := NewModel(msg.run)
		if l.size != nil {
			updated, _ := model.Update(*l.size)
			model = updated.(Model)
		}
		l.model = &model
		return l, nil
	case tea.WindowSizeMsg:
		l.size = &msg
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return l, tea.Quit
		}
	}

	var cmd tea.Cmd
	l.spinner, cmd = l.spinner.Update(msg)
	return l, cmd
}

// View renders the spinner or the run
func (l Loader) View() string {
	if l.model != nil {
		return l.model.View()
	}
	if l.err != nil {
		return fmt.Sprintf("Failed to compute %s: %v\n", l.name, l.err)
	}
	return fmt.Sprintf("%s Computing cycle data for %s\n\nPress 'q' to quit", l.spinner.View(), l.name)
}
