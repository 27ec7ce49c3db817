package output

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/petr-muller/jiraflow/internal/cycletime/calculator"
	"github.com/petr-muller/jiraflow/internal/cycletime/compare"
	"github.com/petr-muller/jiraflow/internal/cycletime/service"
)

// Format selects how runs are rendered
type Format string

const (
	Table Format = "table"
	JSON  Format = "json"
	YAML  Format = "yaml"
	CSV   Format = "csv"
	// TUI is rendered interactively by the ui package
	TUI Format = "tui"
)

// Formats lists the supported formats
var Formats = []Format{Table, JSON, YAML, CSV, TUI}

const dateLayout = "2006-01-02"

// ParseFormat validates a format name
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown output format %q", s)
}

// Write renders runs in a non-interactive format
func Write(w io.Writer, format Format, runs ...*service.Run) error {
	switch format {
	case Table:
		for i, run := range runs {
			if i > 0 {
				if _, err := fmt.Fprintln(w); err != nil {
					return err
				}
			}
			if err := writeTable(w, run); err != nil {
				return err
			}
		}
		return nil
	case JSON:
		docs := documents(runs)
		var data []byte
		var err error
		if len(docs) == 1 {
			data, err = json.MarshalIndent(docs[0], "", "  ")
		} else {
			data, err = json.MarshalIndent(docs, "", "  ")
		}
		if err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case YAML:
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		for _, doc := range documents(runs) {
			if err := encoder.Encode(doc); err != nil {
				return fmt.Errorf("failed to encode YAML: %w", err)
			}
		}
		return encoder.Close()
	case CSV:
		for i, run := range runs {
			if i > 0 {
				if _, err := fmt.Fprintln(w); err != nil {
					return err
				}
			}
			if err := writeCSV(w, run.Data); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("format %q cannot be written", format)
}

func writeTable(w io.Writer, run *service.Run) error {
	data := run.Data
	if _, err := fmt.Fprintf(w, "=== %s ===\n\n", run.Analysis.Name); err != nil {
		return err
	}

	tabw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	header := []string{"KEY", "TYPE", "STATUS"}
	for _, stage := range data.Stages {
		header = append(header, strings.ToUpper(stage))
	}
	header = append(header, "CYCLE TIME", "SUMMARY")
	_, _ = tabw.Write([]byte(strings.Join(header, "\t") + "\n"))

	for _, row := range data.Rows {
		cells := []string{row.Key, row.IssueType, row.Status}
		for _, stage := range row.Stages {
			cells = append(cells, formatDate(stage.Timestamp))
		}
		cycleTime := "-"
		if row.CycleTime != nil {
			cycleTime = strconv.Itoa(*row.CycleTime)
		}
		cells = append(cells, cycleTime, row.Summary)
		_, _ = tabw.Write([]byte(strings.Join(cells, "\t") + "\n"))
	}
	if err := tabw.Flush(); err != nil {
		return err
	}

	var notes []string
	s := run.Summary
	notes = append(notes, fmt.Sprintf("%d items, %d completed, %d in progress", s.Items, s.Completed, s.InProgress))
	if s.Completed > 0 {
		notes = append(notes, fmt.Sprintf("Cycle time (days): mean %.1f, median %.1f, 75%% %.1f, 85%% %.1f, 95%% %.1f", s.Mean, s.Median, s.P75, s.P85, s.P95))
	}
	if data.Truncated {
		warning := fmt.Sprintf("WARNING: showing %d of %d matching issues", len(data.Rows), data.Total)
		if data.MaxResults > 0 {
			warning += fmt.Sprintf(", limit is %d", data.MaxResults)
		}
		notes = append(notes, warning)
	}
	if !run.PreviousRun.IsZero() {
		previous := run.PreviousRun.Format("2006-01-02 15:04:05")
		if compare.HasChanges(run.Comparison) {
			notes = append(notes, fmt.Sprintf("Changes since %s: %d new, %d changed, %d removed",
				previous, len(run.Comparison.New), len(run.Comparison.Changed), len(run.Comparison.Removed)))
		} else {
			notes = append(notes, fmt.Sprintf("No changes since %s", previous))
		}
	}
	if run.Cached {
		cached := fmt.Sprintf("Cached result computed at %s", run.ComputedAt.Format("2006-01-02 15:04:05"))
		if !run.Expires.IsZero() {
			cached += fmt.Sprintf(", expires at %s", run.Expires.Format("2006-01-02 15:04:05"))
		}
		notes = append(notes, cached)
	}

	_, err := fmt.Fprintf(w, "\n%s\n", strings.Join(notes, "\n"))
	return err
}

func writeCSV(w io.Writer, data *calculator.Data) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(data.Header()); err != nil {
		return err
	}
	for _, row := range data.Rows {
		values := row.Values()
		record := make([]string, len(values))
		for i, v := range values {
			record[i] = formatValue(v)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// document is the JSON and YAML shape of one run
type document struct {
	Analysis    string             `json:"analysis" yaml:"analysis"`
	ComputedAt  time.Time          `json:"computedAt" yaml:"computedAt"`
	Total       int                `json:"total" yaml:"total"`
	Truncated   bool               `json:"truncated" yaml:"truncated"`
	Summary     calculator.Summary `json:"summary" yaml:"summary"`
	Rows        []orderedRow       `json:"rows" yaml:"rows"`
	PreviousRun *time.Time         `json:"previousRun,omitempty" yaml:"previousRun,omitempty"`
	New         []string           `json:"new,omitempty" yaml:"new,omitempty"`
	Removed     []string           `json:"removed,omitempty" yaml:"removed,omitempty"`
	Changed     []string           `json:"changed,omitempty" yaml:"changed,omitempty"`
}

func documents(runs []*service.Run) []document {
	docs := make([]document, 0, len(runs))
	for _, run := range runs {
		header := run.Data.Header()
		doc := document{
			Analysis:   run.Analysis.Name,
			ComputedAt: run.ComputedAt,
			Total:      run.Data.Total,
			Truncated:  run.Data.Truncated,
			Summary:    run.Summary,
			Rows:       make([]orderedRow, 0, len(run.Data.Rows)),
		}
		for _, row := range run.Data.Rows {
			doc.Rows = append(doc.Rows, orderedRow{keys: header, values: row.Values()})
		}
		if !run.PreviousRun.IsZero() {
			previous := run.PreviousRun
			doc.PreviousRun = &previous
			for _, row := range run.Comparison.New {
				doc.New = append(doc.New, row.Key)
			}
			for _, row := range run.Comparison.Removed {
				doc.Removed = append(doc.Removed, row.Key)
			}
			for _, row := range run.Data.Rows {
				if _, changed := run.Comparison.Changed[row.Key]; changed {
					doc.Changed = append(doc.Changed, row.Key)
				}
			}
		}
		docs = append(docs, doc)
	}
	return docs
}

// orderedRow renders a row as an object whose keys follow the column order
type orderedRow struct {
	keys   []string
	values []any
}

func (r orderedRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(r.values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (r orderedRow) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for i, key := range r.keys {
		var value yaml.Node
		if err := value.Encode(r.values[i]); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, &value)
	}
	return node, nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(dateLayout)
}

func formatValue(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case time.Time:
		return value.Format(time.RFC3339)
	case int, float64, bool:
		return fmt.Sprint(value)
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprint(value)
		}
		return string(data)
	}
}
