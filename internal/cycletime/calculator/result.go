package calculator

import (
	"time"
)

// FieldValue is the value of a resolved field on one issue
type FieldValue struct {
	Name  string `json:"name" yaml:"name"`
	Value any    `json:"value" yaml:"value"`
}

// StageTimestamp is the time an issue entered a stage, nil if it never did
type StageTimestamp struct {
	Name      string     `json:"name" yaml:"name"`
	Timestamp *time.Time `json:"timestamp" yaml:"timestamp"`
}

// Result is the cycle data of one issue
type Result struct {
	Key                string           `json:"key" yaml:"key"`
	URL                string           `json:"url" yaml:"url"`
	IssueType          string           `json:"issueType" yaml:"issueType"`
	Summary            string           `json:"summary" yaml:"summary"`
	Status             string           `json:"status" yaml:"status"`
	Resolution         string           `json:"resolution,omitempty" yaml:"resolution,omitempty"`
	Fields             []FieldValue     `json:"fields" yaml:"fields"`
	Stages             []StageTimestamp `json:"stages" yaml:"stages"`
	CycleTime          *int             `json:"cycleTime" yaml:"cycleTime"`
	CompletedTimestamp *time.Time       `json:"completedTimestamp" yaml:"completedTimestamp"`
}

// Stage returns the timestamp recorded for the named stage
func (r Result) Stage(name string) *time.Time {
	for _, s := range r.Stages {
		if s.Name == name {
			return s.Timestamp
		}
	}
	return nil
}

// Field returns the value recorded for the named field
func (r Result) Field(name string) any {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	return nil
}

// Data is the cycle data of every issue matched by a query
type Data struct {
	Fields    []string `json:"fields" yaml:"fields"`
	Stages    []string `json:"stages" yaml:"stages"`
	Rows      []Result `json:"rows" yaml:"rows"`
	Total     int      `json:"total" yaml:"total"`
	Truncated bool     `json:"truncated" yaml:"truncated"`
	// MaxResults is the result cap the query ran with, zero when unknown
	MaxResults int `json:"maxResults,omitempty" yaml:"maxResults,omitempty"`
}

// Header returns the column names of a flat row
func (d *Data) Header() []string {
	header := []string{"key", "url", "issueType", "summary", "status", "resolution"}
	header = append(header, d.Fields...)
	header = append(header, d.Stages...)
	return append(header, "cycleTime", "completedTimestamp")
}

// Values returns the row as a flat list matching Header. Absent values are nil.
func (r Result) Values() []any {
	values := []any{r.Key, r.URL, r.IssueType, r.Summary, r.Status, nilIfEmpty(r.Resolution)}
	for _, f := range r.Fields {
		values = append(values, f.Value)
	}
	for _, s := range r.Stages {
		values = append(values, timeOrNil(s.Timestamp))
	}
	var cycleTime any
	if r.CycleTime != nil {
		cycleTime = *r.CycleTime
	}
	return append(values, cycleTime, timeOrNil(r.CompletedTimestamp))
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
