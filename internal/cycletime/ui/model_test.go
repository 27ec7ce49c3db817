package ui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/petr-muller/jiraflow/internal/cycletime/calculator"
	"github.com/petr-muller/jiraflow/internal/cycletime/compare"
	"github.com/petr-muller/jiraflow/internal/cycletime/service"
	"github.com/petr-muller/jiraflow/internal/cycletime/storage"
)

func testRun() *service.Run {
	dev := time.Date(2024, time.January, 3, 0, 0, 0, 0, time.UTC)
	done := time.Date(2024, time.January, 6, 0, 0, 0, 0, time.UTC)
	four := 4
	return &service.Run{
		Analysis: storage.Analysis{Name: "team", Description: "Team stories"},
		Data: &calculator.Data{
			Stages: []string{"dev", "done"},
			Rows: []calculator.Result{
				{
					Key:       "ABC-1",
					Summary:   "First story",
					Status:    "Done",
					Stages:    []calculator.StageTimestamp{{Name: "dev", Timestamp: &dev}, {Name: "done", Timestamp: &done}},
					CycleTime: &four,
				},
				{
					Key:     "ABC-2",
					Summary: "Second story",
					Status:  "Open",
					Stages:  []calculator.StageTimestamp{{Name: "dev"}, {Name: "done"}},
				},
			},
		},
		Summary:     calculator.Summary{Items: 2, Completed: 1, Mean: 4, Median: 4, P85: 4},
		PreviousRun: time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC),
		Comparison: compare.Comparison{
			Changed: map[string][]compare.Change{"ABC-1": {{Field: "status", OldValue: "In Progress", NewValue: "Done"}}},
			Removed: []calculator.Result{{Key: "ABC-0", Status: "Open"}},
		},
	}
}

func TestView(t *testing.T) {
	m := NewModel(testRun())
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	view := updated.View()

	for _, expected := range []string{
		"Analysis: team",
		"Team stories",
		"2 items, 1 completed, 0 in progress",
		"0 new, 1 changed, 1 removed",
		"ABC-1",
		"ABC-0",
		"2024-01-03",
		"4d",
		"Summary: First story",
		"CHANGED ITEM",
		"status changed from 'In Progress' to 'Done'",
	} {
		if !strings.Contains(view, expected) {
			t.Errorf("expected view to contain %q, got:\n%s", expected, view)
		}
	}
}

func TestViewWithoutChanges(t *testing.T) {
	run := testRun()
	run.Comparison = compare.Comparison{}
	m := NewModel(run)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	view := updated.View()

	if !strings.Contains(view, "No changes since: 2024-01-31 00:00:00") {
		t.Errorf("expected view to report no changes, got:\n%s", view)
	}
	if strings.Contains(view, "Changes since:") {
		t.Errorf("expected no change counts, got:\n%s", view)
	}
}

func TestQuit(t *testing.T) {
	m := NewModel(testRun())
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Errorf("expected quit message")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{duration: 30 * time.Second, expected: "30s"},
		{duration: 5 * time.Minute, expected: "5m"},
		{duration: 3 * time.Hour, expected: "3h"},
		{duration: 50 * time.Hour, expected: "2d"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := formatDuration(tt.duration); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestEnterOpensSelectedIssue(t *testing.T) {
	var opened []string
	original := openURL
	openURL = func(url string) error {
		opened = append(opened, url)
		return nil
	}
	t.Cleanup(func() { openURL = original })

	run := testRun()
	run.Data.Rows[0].URL = "https://issues.example.com/browse/ABC-1"
	m := NewModel(run)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("expected a command opening the issue")
	}
	cmd()

	if len(opened) != 1 || opened[0] != "https://issues.example.com/browse/ABC-1" {
		t.Errorf("unexpected opened urls: %v", opened)
	}
}
