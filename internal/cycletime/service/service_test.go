package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/andygrunwald/go-jira"
	"github.com/google/go-cmp/cmp"

	"github.com/petr-muller/jiraflow/internal/cycletime/cache"
	"github.com/petr-muller/jiraflow/internal/cycletime/calculator"
	"github.com/petr-muller/jiraflow/internal/cycletime/cycle"
	"github.com/petr-muller/jiraflow/internal/cycletime/fields"
	"github.com/petr-muller/jiraflow/internal/cycletime/issuetest"
	"github.com/petr-muller/jiraflow/internal/cycletime/query"
	"github.com/petr-muller/jiraflow/internal/cycletime/storage"
	"github.com/petr-muller/jiraflow/internal/mappings"
)

type fakeClient struct {
	mu          sync.Mutex
	issues      []jira.Issue
	searches    int
	validated   []string
	validateErr error
	fields      []jira.Field
}

func (f *fakeClient) SearchWithContext(_ context.Context, _ string, _ *jira.SearchOptions) ([]jira.Issue, *jira.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++
	return f.issues, &jira.Response{Total: len(f.issues)}, nil
}

func (f *fakeClient) ValidateJQL(_ context.Context, jql string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validated = append(f.validated, jql)
	return f.validateErr
}

func (f *fakeClient) JiraURL() string {
	return "https://issues.example.com"
}

func (f *fakeClient) Fields(context.Context) ([]jira.Field, error) {
	return f.fields, nil
}

func (f *fakeClient) Statuses(context.Context) ([]jira.Status, error) {
	return nil, nil
}

func (f *fakeClient) Resolutions(context.Context) ([]jira.Resolution, error) {
	return nil, nil
}

func (f *fakeClient) Projects(context.Context) ([]jira.Project, error) {
	return nil, nil
}

func newService(t *testing.T, client *fakeClient, m *mappings.Mappings) *Service {
	t.Helper()
	dir := t.TempDir()
	resultCache, err := cache.Open(filepath.Join(dir, cache.FileName))
	if err != nil {
		t.Fatalf("failed to open cache: %v", err)
	}
	s := New(client, storage.NewStore(storage.AnalysesDir(dir)), resultCache, m, Options{})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func story(key string) jira.Issue {
	return issuetest.New(key, issuetest.Day(2024, time.January, 1), "Open").
		Transition(issuetest.Day(2024, time.January, 3), "Open", "In Progress").
		Transition(issuetest.Day(2024, time.January, 6), "In Progress", "Done").
		Resolve(issuetest.Day(2024, time.January, 6), "Done").
		Build()
}

func open(key string) jira.Issue {
	return issuetest.New(key, issuetest.Day(2024, time.January, 1), "Open").Build()
}

func TestAnalysisLifecycle(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{}
	s := newService(t, client, nil)

	analysis := storage.Analysis{
		Name:     "team",
		Criteria: query.Criteria{Project: "ABC", IssueTypes: []string{"Story"}, ValidResolutions: []string{"Done"}},
	}
	if err := s.AddAnalysis(ctx, analysis); err != nil {
		t.Fatalf("AddAnalysis failed: %v", err)
	}

	expectedJQL := []string{`issueType IN ("Story") AND (resolution IS EMPTY OR resolution IN ("Done")) AND project = "ABC" ORDER BY KEY ASC`}
	if diff := cmp.Diff(expectedJQL, client.validated); diff != "" {
		t.Errorf("validated JQL differs (-want +got):\n%s", diff)
	}

	items, err := s.ListAnalyses()
	if err != nil {
		t.Fatalf("ListAnalyses failed: %v", err)
	}
	if len(items) != 1 || items[0].Name != "team" || items[0].Project != "ABC" {
		t.Errorf("unexpected analyses: %+v", items)
	}

	shown, err := s.ShowAnalysis("team")
	if err != nil {
		t.Fatalf("ShowAnalysis failed: %v", err)
	}
	if diff := cmp.Diff(&analysis, shown); diff != "" {
		t.Errorf("analysis differs (-want +got):\n%s", diff)
	}

	if err := s.DeleteAnalysis(ctx, "team"); err != nil {
		t.Fatalf("DeleteAnalysis failed: %v", err)
	}
	if _, err := s.ShowAnalysis("team"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found after delete, got %v", err)
	}
	if err := s.DeleteAnalysis(ctx, "team"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found deleting twice, got %v", err)
	}
}

func TestAddAnalysisRejects(t *testing.T) {
	invalidJQL := errors.New("field does not exist")

	tests := []struct {
		name        string
		analysis    storage.Analysis
		validateErr error
		expected    error
	}{
		{
			name:     "invalid definition",
			analysis: storage.Analysis{Name: "team"},
			expected: query.ErrInvalidCriteria,
		},
		{
			name: "epics without epic link field",
			analysis: storage.Analysis{
				Name:     "team",
				Criteria: query.Criteria{IssueTypes: []string{"Story"}, Epics: []string{"ABC-1"}},
			},
			expected: query.ErrInvalidCriteria,
		},
		{
			name: "field named like a stage of the default cycle",
			analysis: storage.Analysis{
				Name:     "team",
				Criteria: query.DefaultCriteria(),
				Fields:   &fields.Spec{Custom: []fields.Named{{Name: "development", Field: "Team"}}},
			},
			expected: calculator.ErrColumnConflict,
		},
		{
			name: "field named like a fixed column",
			analysis: storage.Analysis{
				Name:     "team",
				Criteria: query.DefaultCriteria(),
				Fields:   &fields.Spec{Custom: []fields.Named{{Name: "summary", Field: "Team"}}},
			},
			expected: calculator.ErrColumnConflict,
		},
		{
			name:        "tracker rejects query",
			analysis:    storage.Analysis{Name: "team", Criteria: query.DefaultCriteria()},
			validateErr: invalidJQL,
			expected:    invalidJQL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newService(t, &fakeClient{validateErr: tt.validateErr}, nil)
			err := s.AddAnalysis(context.Background(), tt.analysis)
			if !errors.Is(err, tt.expected) {
				t.Fatalf("expected %v, got %v", tt.expected, err)
			}
			if s.store.Exists(tt.analysis.Name) {
				t.Errorf("rejected analysis must not be stored")
			}
		})
	}
}

func TestResolvedFields(t *testing.T) {
	client := &fakeClient{fields: []jira.Field{{ID: "customfield_12311140", Name: "Epic Link"}}}
	s := newService(t, client, nil)

	resolved, err := s.ResolvedFields(context.Background(), &storage.Analysis{Name: "team", Criteria: query.DefaultCriteria()})
	if err != nil {
		t.Fatalf("ResolvedFields failed: %v", err)
	}
	expected := []fields.Resolved{
		{Name: fields.EpicLink, ID: "customfield_12311140"},
		{Name: fields.Rank},
	}
	if diff := cmp.Diff(expected, resolved); diff != "" {
		t.Errorf("resolved fields differ (-want +got):\n%s", diff)
	}
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{issues: []jira.Issue{story("ABC-1")}}
	s := newService(t, client, nil)
	first := time.Date(2024, time.February, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return first }

	if err := s.AddAnalysis(ctx, storage.Analysis{Name: "team", Criteria: query.DefaultCriteria()}); err != nil {
		t.Fatalf("AddAnalysis failed: %v", err)
	}

	run, err := s.Run(ctx, RunOptions{Name: "team"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if run.Cached || !run.Expires.IsZero() {
		t.Errorf("first run must not be cached, got cached=%t expires=%v", run.Cached, run.Expires)
	}
	if run.Data.MaxResults != query.DefaultMaxResults {
		t.Errorf("expected result limit %d, got %d", query.DefaultMaxResults, run.Data.MaxResults)
	}
	if diff := cmp.Diff(cycle.Default().Names(), run.Data.Stages); diff != "" {
		t.Errorf("stages differ (-want +got):\n%s", diff)
	}
	if len(run.Data.Rows) != 1 || run.Data.Rows[0].CycleTime == nil || *run.Data.Rows[0].CycleTime != 4 {
		t.Fatalf("unexpected rows: %+v", run.Data.Rows)
	}
	if run.Data.Rows[0].URL != "https://issues.example.com/browse/ABC-1" {
		t.Errorf("unexpected url %q", run.Data.Rows[0].URL)
	}
	if run.Summary.Completed != 1 || run.Summary.Mean != 4 {
		t.Errorf("unexpected summary: %+v", run.Summary)
	}
	if !run.PreviousRun.IsZero() {
		t.Errorf("first run has nothing to compare with, got previous run %v", run.PreviousRun)
	}

	cached, err := s.Run(ctx, RunOptions{Name: "team"})
	if err != nil {
		t.Fatalf("cached Run failed: %v", err)
	}
	if !cached.Cached {
		t.Errorf("expected second run to be served from cache")
	}
	if !cached.Expires.After(time.Now()) {
		t.Errorf("expected cached run to expire in the future, got %v", cached.Expires)
	}
	if client.searches != 1 {
		t.Errorf("expected a single search, got %d", client.searches)
	}
	if len(cached.Data.Rows) != 1 || *cached.Data.Rows[0].CycleTime != 4 {
		t.Errorf("unexpected cached rows: %+v", cached.Data.Rows)
	}

	second := first.Add(time.Hour)
	s.now = func() time.Time { return second }
	client.issues = []jira.Issue{story("ABC-1"), open("ABC-2")}

	refreshed, err := s.Run(ctx, RunOptions{Name: "team", Refresh: true})
	if err != nil {
		t.Fatalf("refreshed Run failed: %v", err)
	}
	if refreshed.Cached || client.searches != 2 {
		t.Errorf("expected refresh to search again, searches=%d", client.searches)
	}
	if !refreshed.PreviousRun.Equal(first) {
		t.Errorf("expected previous run %v, got %v", first, refreshed.PreviousRun)
	}
	if !refreshed.Comparison.IsNew("ABC-2") || len(refreshed.Comparison.Changed) != 0 || len(refreshed.Comparison.Removed) != 0 {
		t.Errorf("unexpected comparison: %+v", refreshed.Comparison)
	}
	if refreshed.Summary.InProgress != 0 || refreshed.Summary.Items != 2 {
		t.Errorf("unexpected summary: %+v", refreshed.Summary)
	}
}

func TestRunAddInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{issues: []jira.Issue{story("ABC-1")}}
	s := newService(t, client, nil)

	analysis := storage.Analysis{Name: "team", Criteria: query.DefaultCriteria()}
	if err := s.AddAnalysis(ctx, analysis); err != nil {
		t.Fatalf("AddAnalysis failed: %v", err)
	}
	if _, err := s.Run(ctx, RunOptions{Name: "team"}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	analysis.Description = "changed"
	if err := s.AddAnalysis(ctx, analysis); err != nil {
		t.Fatalf("AddAnalysis failed: %v", err)
	}
	run, err := s.Run(ctx, RunOptions{Name: "team"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if run.Cached || run.Analysis.Description != "changed" {
		t.Errorf("expected a fresh run of the updated analysis, cached=%t", run.Cached)
	}
}

func TestRunCyclePrecedence(t *testing.T) {
	template := []cycle.Stage{
		{Name: "new", Kind: cycle.Backlog, Statuses: []string{"Open"}},
		{Name: "working", Kind: cycle.Accepted, Statuses: []string{"In Progress"}},
		{Name: "finished", Kind: cycle.Completed, Statuses: []string{"Done"}},
	}
	own := []cycle.Stage{
		{Name: "backlog", Kind: cycle.Backlog, Statuses: []string{"Open"}},
		{Name: "doing", Kind: cycle.Accepted, Statuses: []string{"In Progress"}},
		{Name: "done", Kind: cycle.Completed, Statuses: []string{"Done"}},
	}

	tests := []struct {
		name     string
		project  string
		cycle    []cycle.Stage
		expected []string
	}{
		{
			name:     "analysis cycle wins",
			project:  "ABC",
			cycle:    own,
			expected: []string{"backlog", "doing", "done"},
		},
		{
			name:     "project template",
			project:  "ABC",
			expected: []string{"new", "working", "finished"},
		},
		{
			name:     "default cycle",
			project:  "XYZ",
			expected: cycle.Default().Names(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := mappings.NewMappings()
			if err := m.SetProjectCycle("ABC", template); err != nil {
				t.Fatalf("SetProjectCycle failed: %v", err)
			}
			s := newService(t, &fakeClient{issues: []jira.Issue{story(tt.project + "-1")}}, m)

			criteria := query.DefaultCriteria()
			criteria.Project = tt.project
			if err := s.AddAnalysis(context.Background(), storage.Analysis{Name: "team", Criteria: criteria, Cycle: tt.cycle}); err != nil {
				t.Fatalf("AddAnalysis failed: %v", err)
			}

			run, err := s.Run(context.Background(), RunOptions{Name: "team"})
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if diff := cmp.Diff(tt.expected, run.Data.Stages); diff != "" {
				t.Errorf("stages differ (-want +got):\n%s", diff)
			}
			if run.Data.Rows[0].CycleTime == nil || *run.Data.Rows[0].CycleTime != 4 {
				t.Errorf("expected cycle time 4, got %+v", run.Data.Rows[0].CycleTime)
			}
		})
	}
}

func TestRunAll(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{issues: []jira.Issue{story("ABC-1"), open("ABC-2")}}
	s := newService(t, client, nil)

	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := s.AddAnalysis(ctx, storage.Analysis{Name: name, Criteria: query.DefaultCriteria()}); err != nil {
			t.Fatalf("AddAnalysis failed: %v", err)
		}
	}

	runs, err := s.RunAll(ctx, false)
	if err != nil {
		t.Fatalf("RunAll failed: %v", err)
	}

	var names []string
	for _, run := range runs {
		names = append(names, run.Analysis.Name)
		if len(run.Data.Rows) != 2 {
			t.Errorf("%s: expected 2 rows, got %d", run.Analysis.Name, len(run.Data.Rows))
		}
	}
	if diff := cmp.Diff([]string{"alpha", "mid", "zeta"}, names); diff != "" {
		t.Errorf("run order differs (-want +got):\n%s", diff)
	}
}

func TestRunAllFails(t *testing.T) {
	ctx := context.Background()
	s := newService(t, &fakeClient{}, nil)

	if err := s.AddAnalysis(ctx, storage.Analysis{Name: "good", Criteria: query.DefaultCriteria()}); err != nil {
		t.Fatalf("AddAnalysis failed: %v", err)
	}
	// Stored behind the service's back, the epic link field does not exist on the tracker
	bad := storage.Analysis{Name: "bad", Criteria: query.Criteria{IssueTypes: []string{"Story"}, Epics: []string{"ABC-1"}}}
	if err := s.store.Save(bad); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := s.RunAll(ctx, false); !errors.Is(err, query.ErrInvalidCriteria) {
		t.Errorf("expected invalid criteria error, got %v", err)
	}
}

func TestRunMissing(t *testing.T) {
	s := newService(t, &fakeClient{}, nil)
	if _, err := s.Run(context.Background(), RunOptions{Name: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}
