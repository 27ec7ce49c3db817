// Package issuetest builds go-jira issues with changelogs for tests.
package issuetest

import (
	"time"

	"github.com/andygrunwald/go-jira"
	"github.com/trivago/tgo/tcontainer"
)

const changelogTimeLayout = "2006-01-02T15:04:05.000-0700"

// Builder assembles an issue with a changelog
type Builder struct {
	issue jira.Issue
}

// Day returns midnight UTC of the given date
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// New starts an issue created at the given time in the given status
func New(key string, created time.Time, status string) *Builder {
	return &Builder{issue: jira.Issue{
		Key: key,
		Fields: &jira.IssueFields{
			Type:     jira.IssueType{Name: "Story"},
			Summary:  "Summary of " + key,
			Created:  jira.Time(created),
			Status:   &jira.Status{Name: status},
			Unknowns: tcontainer.MarshalMap{},
		},
		Changelog: &jira.Changelog{},
	}}
}

// Type sets the issue type
func (b *Builder) Type(name string) *Builder {
	b.issue.Fields.Type = jira.IssueType{Name: name}
	return b
}

// Field sets a custom field value
func (b *Builder) Field(id string, value any) *Builder {
	b.issue.Fields.Unknowns[id] = value
	return b
}

// Transition records a status change and updates the current status
func (b *Builder) Transition(at time.Time, from, to string) *Builder {
	b.issue.Fields.Status = &jira.Status{Name: to}
	return b.Entry(at, jira.ChangelogItems{Field: "status", FromString: from, ToString: to})
}

// Resolve records a resolution change and updates the current resolution.
// An empty resolution clears it.
func (b *Builder) Resolve(at time.Time, resolution string) *Builder {
	if resolution == "" {
		b.issue.Fields.Resolution = nil
	} else {
		b.issue.Fields.Resolution = &jira.Resolution{Name: resolution}
	}
	return b.Entry(at, jira.ChangelogItems{Field: "resolution", ToString: resolution})
}

// Entry appends a raw history entry. Status and resolution items also update
// the current values on the issue.
func (b *Builder) Entry(at time.Time, items ...jira.ChangelogItems) *Builder {
	for _, item := range items {
		switch item.Field {
		case "status":
			b.issue.Fields.Status = &jira.Status{Name: item.ToString}
		case "resolution":
			if item.ToString == "" {
				b.issue.Fields.Resolution = nil
			} else {
				b.issue.Fields.Resolution = &jira.Resolution{Name: item.ToString}
			}
		}
	}
	b.issue.Changelog.Histories = append(b.issue.Changelog.Histories, jira.ChangelogHistory{
		Created: at.Format(changelogTimeLayout),
		Items:   items,
	})
	return b
}

// Build returns the issue
func (b *Builder) Build() jira.Issue {
	return b.issue
}
