package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/andygrunwald/go-jira"
	"github.com/sirupsen/logrus"

	"github.com/petr-muller/jiraflow/internal/cycletime/fields"
)

const (
	// DefaultMaxResults caps the number of issues a single query returns
	DefaultMaxResults = 1000
	// DefaultOrder is used when the criteria do not specify an ordering
	DefaultOrder = "KEY ASC"
)

// ErrInvalidCriteria is returned for criteria that cannot be turned into a query
var ErrInvalidCriteria = errors.New("invalid query criteria")

// Searcher runs JQL searches against the tracker
type Searcher interface {
	SearchWithContext(ctx context.Context, jql string, options *jira.SearchOptions) ([]jira.Issue, *jira.Response, error)
}

// Criteria constrain which issues an analysis looks at
type Criteria struct {
	Project          string   `yaml:"project,omitempty" json:"project,omitempty"`
	IssueTypes       []string `yaml:"issueTypes" json:"issueTypes"`
	ValidResolutions []string `yaml:"validResolutions" json:"validResolutions"`
	JQLFilter        string   `yaml:"jqlFilter,omitempty" json:"jqlFilter,omitempty"`
	Epics            []string `yaml:"epics,omitempty" json:"epics,omitempty"`
	OrderBy          string   `yaml:"orderBy,omitempty" json:"orderBy,omitempty"`
}

// DefaultCriteria returns criteria selecting stories that are unresolved or
// resolved as done or won't fix
func DefaultCriteria() Criteria {
	return Criteria{
		IssueTypes:       []string{"Story"},
		ValidResolutions: []string{"Done", "Wontfix"},
	}
}

// Options configure the query service
type Options struct {
	// MaxResults caps the number of returned issues. Zero means DefaultMaxResults.
	MaxResults int
}

// Result holds the matched issues. Results are not paginated: when the tracker
// has more matches than MaxResults, Truncated is set and Total holds the number
// of matches the tracker reported.
type Result struct {
	Issues    []jira.Issue
	Total     int
	Truncated bool
}

// Service finds issues together with their changelogs
type Service struct {
	client     Searcher
	fields     *fields.Resolution
	maxResults int
}

// NewService creates a query service. The field resolution is needed to
// constrain issues by epic.
func NewService(client Searcher, resolution *fields.Resolution, opts Options) *Service {
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &Service{
		client:     client,
		fields:     resolution,
		maxResults: maxResults,
	}
}

// MaxResults returns the configured result cap
func (s *Service) MaxResults() int {
	return s.maxResults
}

// JQL builds the query string for the criteria
func (s *Service) JQL(criteria Criteria) (string, error) {
	if len(criteria.IssueTypes) == 0 {
		return "", fmt.Errorf("%w: at least one issue type is required", ErrInvalidCriteria)
	}

	var clauses []string
	clauses = append(clauses, fmt.Sprintf("issueType IN (%s)", quoteAll(criteria.IssueTypes)))

	if len(criteria.ValidResolutions) > 0 {
		clauses = append(clauses, fmt.Sprintf("(resolution IS EMPTY OR resolution IN (%s))", quoteAll(criteria.ValidResolutions)))
	} else {
		clauses = append(clauses, "resolution IS EMPTY")
	}

	if criteria.Project != "" {
		clauses = append(clauses, fmt.Sprintf("project = %s", quote(criteria.Project)))
	}

	if filter := strings.TrimSpace(criteria.JQLFilter); filter != "" {
		clauses = append(clauses, fmt.Sprintf("(%s)", filter))
	}

	if len(criteria.Epics) > 0 {
		var id string
		var ok bool
		if s.fields != nil {
			id, ok = s.fields.ID(fields.EpicLink)
		}
		if !ok {
			return "", fmt.Errorf("%w: epics requested but the epic link field could not be resolved", ErrInvalidCriteria)
		}
		clauses = append(clauses, fmt.Sprintf("%s IN (%s)", fields.JQLName(id), quoteAll(criteria.Epics)))
	}

	order := criteria.OrderBy
	if order == "" {
		order = DefaultOrder
	}

	return strings.Join(clauses, " AND ") + " ORDER BY " + order, nil
}

// FindIssues runs the query with the changelog expanded
func (s *Service) FindIssues(ctx context.Context, criteria Criteria) (*Result, error) {
	jql, err := s.JQL(criteria)
	if err != nil {
		return nil, err
	}

	logrus.WithField("jql", jql).Debug("Searching for issues")
	issues, response, err := s.client.SearchWithContext(ctx, jql, &jira.SearchOptions{
		MaxResults: s.maxResults,
		Expand:     "changelog",
		Fields:     []string{"*all"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search issues: %w", err)
	}

	result := &Result{Issues: issues, Total: len(issues)}
	if response != nil && response.Total > result.Total {
		result.Total = response.Total
	}
	if len(result.Issues) > s.maxResults {
		result.Issues = result.Issues[:s.maxResults]
	}
	result.Truncated = result.Total > len(result.Issues)

	logrus.WithFields(logrus.Fields{
		"issues":    len(result.Issues),
		"total":     result.Total,
		"truncated": result.Truncated,
	}).Debug("Search finished")

	return result, nil
}

func quote(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `\"`) + `"`
}

func quoteAll(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = quote(v)
	}
	return strings.Join(quoted, ", ")
}
