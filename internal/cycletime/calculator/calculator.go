package calculator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/andygrunwald/go-jira"
	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/petr-muller/jiraflow/internal/cycletime/cycle"
	"github.com/petr-muller/jiraflow/internal/cycletime/fields"
	"github.com/petr-muller/jiraflow/internal/cycletime/history"
	"github.com/petr-muller/jiraflow/internal/cycletime/query"
)

// ErrColumnConflict is returned when a field name clashes with a stage name, a
// fixed result column or another field
var ErrColumnConflict = errors.New("conflicting result column names")

// IssueFinder returns issues with embedded changelogs
type IssueFinder interface {
	FindIssues(ctx context.Context, criteria query.Criteria) (*query.Result, error)
}

// Calculator derives per-issue cycle data. It holds no mutable state and can be
// shared by concurrent callers.
type Calculator struct {
	finder  IssueFinder
	cycle   *cycle.Definition
	fields  *fields.Resolution
	baseURL string
}

// New validates the cycle and creates a calculator. The field resolution must be
// the one the finder was built with. baseURL is used to build issue links.
func New(finder IssueFinder, stages []cycle.Stage, resolution *fields.Resolution, baseURL string) (*Calculator, error) {
	definition, err := cycle.New(stages)
	if err != nil {
		return nil, err
	}
	if resolution == nil {
		resolution = fields.Resolve(fields.Spec{}, nil)
	}
	if err := checkColumns(definition, resolution); err != nil {
		return nil, err
	}
	return &Calculator{
		finder:  finder,
		cycle:   definition,
		fields:  resolution,
		baseURL: baseURL,
	}, nil
}

func checkColumns(definition *cycle.Definition, resolution *fields.Resolution) error {
	stages := sets.New(definition.Names()...)
	seen := sets.New[string]()
	var problems []string
	for _, name := range resolution.Names() {
		switch {
		case cycle.Reserved(name):
			problems = append(problems, fmt.Sprintf("field %q is a reserved column", name))
		case stages.Has(name):
			problems = append(problems, fmt.Sprintf("field %q has the name of a stage", name))
		case seen.Has(name):
			problems = append(problems, fmt.Sprintf("field %q is requested more than once", name))
		}
		seen.Insert(name)
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrColumnConflict, strings.Join(problems, "; "))
	}
	return nil
}

// Cycle returns the cycle definition the calculator maps statuses onto
func (c *Calculator) Cycle() *cycle.Definition {
	return c.cycle
}

// ComputeCycleData queries the issues matching the criteria and computes one
// result per issue, in query order. A single malformed issue fails the whole batch.
func (c *Calculator) ComputeCycleData(ctx context.Context, criteria query.Criteria) (*Data, error) {
	found, err := c.finder.FindIssues(ctx, criteria)
	if err != nil {
		return nil, err
	}

	data := &Data{
		Fields:    c.fields.Names(),
		Stages:    c.cycle.Names(),
		Rows:      make([]Result, 0, len(found.Issues)),
		Total:     found.Total,
		Truncated: found.Truncated,
	}
	for _, issue := range found.Issues {
		result, err := c.Compute(issue)
		if err != nil {
			return nil, fmt.Errorf("failed to compute cycle data for %s: %w", issue.Key, err)
		}
		data.Rows = append(data.Rows, result)
	}

	logrus.WithFields(logrus.Fields{
		"issues":    len(data.Rows),
		"truncated": data.Truncated,
	}).Debug("Computed cycle data")

	return data, nil
}

// Compute derives the cycle data of a single issue
func (c *Calculator) Compute(issue jira.Issue) (Result, error) {
	result, err := c.describe(issue)
	if err != nil {
		return Result{}, err
	}

	snapshots, err := history.Reconstruct(issue, false)
	if err != nil {
		return Result{}, err
	}

	// Last entry into a stage wins here; the pass below discards stages the
	// issue regressed from.
	timestamps := make([]*time.Time, c.cycle.Len())
	for _, snapshot := range snapshots {
		if i, ok := c.cycle.StageFor(snapshot.Status); ok {
			ts := snapshot.Timestamp
			timestamps[i] = &ts
		}
	}

	var previous, accepted, completed *time.Time
	for i, ts := range timestamps {
		if ts == nil {
			continue
		}
		if previous != nil && ts.Before(*previous) {
			timestamps[i] = nil
			continue
		}
		previous = ts

		switch c.cycle.Stage(i).Kind {
		case cycle.Accepted:
			if accepted == nil {
				accepted = ts
			}
		case cycle.Completed:
			if completed == nil {
				completed = ts
			}
		}
	}

	for i, ts := range timestamps {
		result.Stages[i].Timestamp = ts
	}

	if accepted != nil && completed != nil {
		days := CycleDays(*accepted, *completed)
		result.CycleTime = &days
		result.CompletedTimestamp = completed
	}

	return result, nil
}

// CycleDays is the number of calendar days between two instants, counting both ends
func CycleDays(accepted, completed time.Time) int {
	return int(math.Floor(completed.Sub(accepted).Hours()/24)) + 1
}

func (c *Calculator) describe(issue jira.Issue) (Result, error) {
	if issue.Fields == nil {
		return Result{}, fmt.Errorf("%w: %s has no fields", history.ErrMalformedIssue, issue.Key)
	}

	result := Result{
		Key:       issue.Key,
		IssueType: issue.Fields.Type.Name,
		Summary:   issue.Fields.Summary,
	}
	if c.baseURL != "" {
		link, err := url.JoinPath(c.baseURL, "browse", issue.Key)
		if err != nil {
			return Result{}, fmt.Errorf("cannot build link for %s: %w", issue.Key, err)
		}
		result.URL = link
	}
	if issue.Fields.Status != nil {
		result.Status = issue.Fields.Status.Name
	}
	if issue.Fields.Resolution != nil {
		result.Resolution = issue.Fields.Resolution.Name
	}

	values, err := c.fields.Values(issue)
	if err != nil {
		return Result{}, err
	}
	for i, name := range c.fields.Names() {
		result.Fields = append(result.Fields, FieldValue{Name: name, Value: values[i]})
	}

	for _, name := range c.cycle.Names() {
		result.Stages = append(result.Stages, StageTimestamp{Name: name})
	}

	return result, nil
}
