package history

import (
	"errors"
	"fmt"
	"time"

	"github.com/andygrunwald/go-jira"
)

// ErrMalformedIssue is returned when an issue lacks data needed to reconstruct its history
var ErrMalformedIssue = errors.New("malformed issue data")

// Change names the field whose change produced a snapshot
type Change string

const (
	// Created marks the synthetic snapshot taken at issue creation
	Created Change = ""
	// Status marks a status transition
	Status Change = "status"
	// Resolution marks a resolution change
	Resolution Change = "resolution"
)

// changelogTimeLayout is the timestamp format Jira uses in changelog entries
const changelogTimeLayout = "2006-01-02T15:04:05.000-0700"

// Snapshot is the state of an issue right after a single change
type Snapshot struct {
	IssueKey   string
	Timestamp  time.Time
	Status     string
	Resolution string
	IsResolved bool
	Change     Change
}

// Reconstruct replays the issue changelog into a chronological list of snapshots,
// starting with a snapshot at creation time. Snapshots for resolution changes are
// only emitted when includeResolutionChanges is set. Histories are processed in
// the order Jira returns them, which is ascending by time, and items within one
// history entry in the order they are listed.
func Reconstruct(issue jira.Issue, includeResolutionChanges bool) ([]Snapshot, error) {
	if issue.Fields == nil {
		return nil, fmt.Errorf("%w: %s has no fields", ErrMalformedIssue, issue.Key)
	}
	created := time.Time(issue.Fields.Created)
	if created.IsZero() {
		return nil, fmt.Errorf("%w: %s has no creation time", ErrMalformedIssue, issue.Key)
	}

	var histories []jira.ChangelogHistory
	if issue.Changelog != nil {
		histories = issue.Changelog.Histories
	}

	status, err := initialStatus(issue, histories)
	if err != nil {
		return nil, err
	}

	snapshots := []Snapshot{{
		IssueKey:  issue.Key,
		Timestamp: created,
		Status:    status,
		Change:    Created,
	}}

	var resolution string
	var isResolved bool
	for i, entry := range histories {
		when, err := parseChangelogTime(entry.Created)
		if err != nil {
			return nil, fmt.Errorf("%w: %s history entry %d: %v", ErrMalformedIssue, issue.Key, i, err)
		}

		for _, item := range entry.Items {
			if item.Field == string(Resolution) {
				isResolved = item.ToString != ""
			}
		}

		for _, item := range entry.Items {
			switch item.Field {
			case "":
				return nil, fmt.Errorf("%w: %s history entry %d has an item without a field name", ErrMalformedIssue, issue.Key, i)
			case string(Status):
				status = item.ToString
				snapshots = append(snapshots, Snapshot{
					IssueKey:   issue.Key,
					Timestamp:  when,
					Status:     status,
					Resolution: resolution,
					IsResolved: isResolved,
					Change:     Status,
				})
			case string(Resolution):
				resolution = item.ToString
				if includeResolutionChanges {
					snapshots = append(snapshots, Snapshot{
						IssueKey:   issue.Key,
						Timestamp:  when,
						Status:     status,
						Resolution: resolution,
						IsResolved: isResolved,
						Change:     Resolution,
					})
				}
			}
		}
	}

	return snapshots, nil
}

// initialStatus is the status the issue had before its first recorded status
// change, or its current status if it never changed.
func initialStatus(issue jira.Issue, histories []jira.ChangelogHistory) (string, error) {
	for _, entry := range histories {
		for _, item := range entry.Items {
			if item.Field == string(Status) {
				return item.FromString, nil
			}
		}
	}
	if issue.Fields.Status == nil || issue.Fields.Status.Name == "" {
		return "", fmt.Errorf("%w: %s has no status", ErrMalformedIssue, issue.Key)
	}
	return issue.Fields.Status.Name, nil
}

func parseChangelogTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("missing timestamp")
	}
	if t, err := time.Parse(changelogTimeLayout, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot parse timestamp %q", value)
	}
	return t, nil
}
