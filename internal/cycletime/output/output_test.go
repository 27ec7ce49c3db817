package output

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"github.com/petr-muller/jiraflow/internal/cycletime/calculator"
	"github.com/petr-muller/jiraflow/internal/cycletime/compare"
	"github.com/petr-muller/jiraflow/internal/cycletime/service"
	"github.com/petr-muller/jiraflow/internal/cycletime/storage"
)

func at(day int) *time.Time {
	t := time.Date(2024, time.January, day, 0, 0, 0, 0, time.UTC)
	return &t
}

func testRun() *service.Run {
	four := 4
	return &service.Run{
		Analysis:   storage.Analysis{Name: "team"},
		ComputedAt: time.Date(2024, time.February, 1, 10, 0, 0, 0, time.UTC),
		Data: &calculator.Data{
			Fields: []string{"epicLink"},
			Stages: []string{"todo", "dev", "done"},
			Total:  3,
			Rows: []calculator.Result{
				{
					Key:        "ABC-1",
					URL:        "https://issues.example.com/browse/ABC-1",
					IssueType:  "Story",
					Summary:    "Finished, with a comma",
					Status:     "Done",
					Resolution: "Done",
					Fields:     []calculator.FieldValue{{Name: "epicLink", Value: "ABC-100"}},
					Stages: []calculator.StageTimestamp{
						{Name: "todo", Timestamp: at(1)},
						{Name: "dev", Timestamp: at(3)},
						{Name: "done", Timestamp: at(6)},
					},
					CycleTime:          &four,
					CompletedTimestamp: at(6),
				},
				{
					Key:       "ABC-2",
					URL:       "https://issues.example.com/browse/ABC-2",
					IssueType: "Story",
					Summary:   "Waiting",
					Status:    "Open",
					Fields:    []calculator.FieldValue{{Name: "epicLink"}},
					Stages: []calculator.StageTimestamp{
						{Name: "todo", Timestamp: at(2)},
						{Name: "dev"},
						{Name: "done"},
					},
				},
			},
			Truncated: true,
		},
		Summary: calculator.Summary{Items: 2, Completed: 1, Mean: 4, Median: 4, P75: 4, P85: 4, P95: 4},
	}
}

func TestParseFormat(t *testing.T) {
	for _, f := range Formats {
		got, err := ParseFormat(string(f))
		if err != nil || got != f {
			t.Errorf("ParseFormat(%q) = %q, %v", f, got, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Errorf("expected error for unknown format")
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, CSV, testRun()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("failed to read CSV: %v", err)
	}

	expected := [][]string{
		{"key", "url", "issueType", "summary", "status", "resolution", "epicLink", "todo", "dev", "done", "cycleTime", "completedTimestamp"},
		{"ABC-1", "https://issues.example.com/browse/ABC-1", "Story", "Finished, with a comma", "Done", "Done", "ABC-100", "2024-01-01T00:00:00Z", "2024-01-03T00:00:00Z", "2024-01-06T00:00:00Z", "4", "2024-01-06T00:00:00Z"},
		{"ABC-2", "https://issues.example.com/browse/ABC-2", "Story", "Waiting", "Open", "", "", "2024-01-02T00:00:00Z", "", "", "", ""},
	}
	if diff := cmp.Diff(expected, records); diff != "" {
		t.Errorf("CSV differs (-want +got):\n%s", diff)
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, JSON, testRun()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	out := buf.String()

	var decoded struct {
		Analysis  string           `json:"analysis"`
		Total     int              `json:"total"`
		Truncated bool             `json:"truncated"`
		Rows      []map[string]any `json:"rows"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, out)
	}
	if decoded.Analysis != "team" || decoded.Total != 3 || !decoded.Truncated || len(decoded.Rows) != 2 {
		t.Errorf("unexpected document: %+v", decoded)
	}
	if decoded.Rows[0]["cycleTime"] != float64(4) || decoded.Rows[1]["cycleTime"] != nil {
		t.Errorf("unexpected cycle times: %v, %v", decoded.Rows[0]["cycleTime"], decoded.Rows[1]["cycleTime"])
	}
	if decoded.Rows[0]["dev"] != "2024-01-03T00:00:00Z" {
		t.Errorf("unexpected dev timestamp %v", decoded.Rows[0]["dev"])
	}

	previous := -1
	for _, key := range []string{`"key"`, `"url"`, `"epicLink"`, `"todo"`, `"dev"`, `"done"`, `"cycleTime"`, `"completedTimestamp"`} {
		idx := strings.Index(out, key)
		if idx <= previous {
			t.Errorf("expected %s to follow the previous column in the first row", key)
		}
		previous = idx
	}
}

func TestWriteJSONMultipleRuns(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, JSON, testRun(), testRun()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	var decoded []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not a JSON array: %v", err)
	}
	if len(decoded) != 2 {
		t.Errorf("expected 2 documents, got %d", len(decoded))
	}
}

func TestWriteYAML(t *testing.T) {
	run := testRun()
	run.PreviousRun = time.Date(2024, time.January, 31, 10, 0, 0, 0, time.UTC)
	run.Comparison = compare.Comparison{
		New:     []calculator.Result{{Key: "ABC-2"}},
		Changed: map[string][]compare.Change{"ABC-1": {{Field: "status", OldValue: "Open", NewValue: "Done"}}},
	}

	var buf bytes.Buffer
	if err := Write(&buf, YAML, run); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	var decoded struct {
		Analysis string `yaml:"analysis"`
		Rows     []yaml.Node
		New      []string `yaml:"new"`
		Changed  []string `yaml:"changed"`
	}
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid YAML: %v\n%s", err, buf.String())
	}
	if decoded.Analysis != "team" || len(decoded.Rows) != 2 {
		t.Fatalf("unexpected document:\n%s", buf.String())
	}
	if diff := cmp.Diff([]string{"ABC-2"}, decoded.New); diff != "" {
		t.Errorf("new issues differ (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"ABC-1"}, decoded.Changed); diff != "" {
		t.Errorf("changed issues differ (-want +got):\n%s", diff)
	}

	var keys []string
	first := decoded.Rows[0]
	for i := 0; i < len(first.Content); i += 2 {
		keys = append(keys, first.Content[i].Value)
	}
	if diff := cmp.Diff(run.Data.Header(), keys); diff != "" {
		t.Errorf("row keys differ (-want +got):\n%s", diff)
	}
}

func TestWriteTable(t *testing.T) {
	previous := time.Date(2024, time.January, 31, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		modify      func(run *service.Run)
		expected    []string
		notExpected []string
	}{
		{
			name: "fresh run",
			expected: []string{
				"=== team ===",
				"KEY",
				"CYCLE TIME",
				"2024-01-03",
				"ABC-2",
				"2 items, 1 completed, 0 in progress",
				"mean 4.0",
				"WARNING: showing 2 of 3 matching issues",
			},
			notExpected: []string{"limit is", "Changes since", "No changes since", "Cached result"},
		},
		{
			name:     "truncated with known limit",
			modify:   func(run *service.Run) { run.Data.MaxResults = 2 },
			expected: []string{"WARNING: showing 2 of 3 matching issues, limit is 2"},
		},
		{
			name: "previous run with changes",
			modify: func(run *service.Run) {
				run.PreviousRun = previous
				run.Comparison = compare.Comparison{New: []calculator.Result{{Key: "ABC-2"}}}
			},
			expected:    []string{"Changes since 2024-01-31 10:00:00: 1 new, 0 changed, 0 removed"},
			notExpected: []string{"No changes since"},
		},
		{
			name:        "previous run without changes",
			modify:      func(run *service.Run) { run.PreviousRun = previous },
			expected:    []string{"No changes since 2024-01-31 10:00:00"},
			notExpected: []string{"Changes since 2024"},
		},
		{
			name: "cached run",
			modify: func(run *service.Run) {
				run.Cached = true
				run.Expires = time.Date(2024, time.February, 1, 11, 0, 0, 0, time.UTC)
			},
			expected: []string{"Cached result computed at 2024-02-01 10:00:00, expires at 2024-02-01 11:00:00"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := testRun()
			if tt.modify != nil {
				tt.modify(run)
			}

			var buf bytes.Buffer
			if err := Write(&buf, Table, run); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			out := buf.String()

			for _, expected := range tt.expected {
				if !strings.Contains(out, expected) {
					t.Errorf("expected table to contain %q, got:\n%s", expected, out)
				}
			}
			for _, unexpected := range tt.notExpected {
				if strings.Contains(out, unexpected) {
					t.Errorf("expected table not to contain %q, got:\n%s", unexpected, out)
				}
			}
		})
	}
}

func TestWriteTUIUnsupported(t *testing.T) {
	if err := Write(&bytes.Buffer{}, TUI, testRun()); err == nil {
		t.Errorf("expected error writing TUI format")
	}
}
