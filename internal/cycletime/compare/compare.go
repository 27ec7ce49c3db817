package compare

import (
	"strconv"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/petr-muller/jiraflow/internal/cycletime/calculator"
)

// Change is a difference in one attribute of an issue between two runs
type Change struct {
	Field    string `json:"field" yaml:"field"`
	OldValue string `json:"oldValue" yaml:"oldValue"`
	NewValue string `json:"newValue" yaml:"newValue"`
}

// Comparison is the difference between two runs of an analysis
type Comparison struct {
	New     []calculator.Result `json:"new" yaml:"new"`
	Removed []calculator.Result `json:"removed" yaml:"removed"`
	Changed map[string][]Change `json:"changed" yaml:"changed"`
}

// Runs compares the current rows with the rows of a previous run. New and
// changed issues keep the order of current, removed issues the order of previous.
func Runs(current, previous []calculator.Result) Comparison {
	previousByKey := make(map[string]calculator.Result, len(previous))
	for _, row := range previous {
		previousByKey[row.Key] = row
	}
	currentKeys := sets.New[string]()
	for _, row := range current {
		currentKeys.Insert(row.Key)
	}

	result := Comparison{Changed: map[string][]Change{}}
	for _, row := range current {
		before, existed := previousByKey[row.Key]
		if !existed {
			result.New = append(result.New, row)
			continue
		}
		if changes := compareRows(row, before); len(changes) > 0 {
			result.Changed[row.Key] = changes
		}
	}

	for _, row := range previous {
		if !currentKeys.Has(row.Key) {
			result.Removed = append(result.Removed, row)
		}
	}

	return result
}

func compareRows(current, previous calculator.Result) []Change {
	var changes []Change
	add := func(field, oldValue, newValue string) {
		if oldValue != newValue {
			changes = append(changes, Change{Field: field, OldValue: oldValue, NewValue: newValue})
		}
	}

	add("summary", previous.Summary, current.Summary)
	add("status", previous.Status, current.Status)
	add("resolution", previous.Resolution, current.Resolution)

	for _, stage := range current.Stages {
		add(stage.Name, formatTime(previous.Stage(stage.Name)), formatTime(stage.Timestamp))
	}

	add("cycleTime", formatInt(previous.CycleTime), formatInt(current.CycleTime))

	return changes
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func formatInt(i *int) string {
	if i == nil {
		return ""
	}
	return strconv.Itoa(*i)
}

// HasChanges returns true if there are any changes in the comparison
func HasChanges(c Comparison) bool {
	return len(c.New) > 0 || len(c.Removed) > 0 || len(c.Changed) > 0
}

// IsNew reports whether the issue appeared since the previous run
func (c Comparison) IsNew(key string) bool {
	for _, row := range c.New {
		if row.Key == key {
			return true
		}
	}
	return false
}

// IsRemoved reports whether the issue disappeared since the previous run
func (c Comparison) IsRemoved(key string) bool {
	for _, row := range c.Removed {
		if row.Key == key {
			return true
		}
	}
	return false
}
