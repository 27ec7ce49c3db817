package storage

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/petr-muller/jiraflow/internal/cycletime/cycle"
	"github.com/petr-muller/jiraflow/internal/cycletime/fields"
	"github.com/petr-muller/jiraflow/internal/cycletime/query"
)

// DefaultCacheExpiry is used for analyses that do not set cacheExpiry
const DefaultCacheExpiry = time.Hour

// ErrInvalidAnalysis is returned for analysis definitions that cannot be stored or run
var ErrInvalidAnalysis = errors.New("invalid analysis")

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Analysis is a saved cycle time analysis
type Analysis struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	Criteria    query.Criteria `yaml:"criteria"`
	// Cycle may be empty, in which case the project template or the default cycle is used
	Cycle       []cycle.Stage `yaml:"cycle,omitempty"`
	Fields      *fields.Spec  `yaml:"fields,omitempty"`
	CacheExpiry time.Duration `yaml:"cacheExpiry,omitempty"`
	MaxResults  int           `yaml:"maxResults,omitempty"`
}

// ListItem is a summary of a stored analysis
type ListItem struct {
	Name        string
	Description string
	Project     string
	IssueTypes  []string
	Stages      int
}

// Parse decodes an analysis definition and fills in defaults for omitted criteria
func Parse(data []byte) (*Analysis, error) {
	var analysis Analysis
	if err := yaml.Unmarshal(data, &analysis); err != nil {
		return nil, fmt.Errorf("failed to unmarshal analysis: %w", err)
	}

	defaults := query.DefaultCriteria()
	if analysis.Criteria.IssueTypes == nil {
		analysis.Criteria.IssueTypes = defaults.IssueTypes
	}
	if analysis.Criteria.ValidResolutions == nil {
		analysis.Criteria.ValidResolutions = defaults.ValidResolutions
	}

	return &analysis, nil
}

// Validate checks the analysis can be stored and run
func (a *Analysis) Validate() error {
	if !validName.MatchString(a.Name) {
		return fmt.Errorf("%w: name %q must be alphanumeric and may contain '.', '_' or '-'", ErrInvalidAnalysis, a.Name)
	}
	if len(a.Criteria.IssueTypes) == 0 {
		return fmt.Errorf("%w: %w: no issue types", ErrInvalidAnalysis, query.ErrInvalidCriteria)
	}
	if len(a.Cycle) > 0 {
		if err := cycle.Validate(a.Cycle); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidAnalysis, err)
		}
	}
	if a.CacheExpiry < 0 {
		return fmt.Errorf("%w: negative cache expiry %s", ErrInvalidAnalysis, a.CacheExpiry)
	}
	if a.MaxResults < 0 {
		return fmt.Errorf("%w: negative max results %d", ErrInvalidAnalysis, a.MaxResults)
	}
	return nil
}

// FieldSpec returns the fields the analysis resolves
func (a *Analysis) FieldSpec() fields.Spec {
	if a.Fields == nil {
		return fields.DefaultSpec()
	}
	return *a.Fields
}

// Expiry returns how long computed results are cached
func (a *Analysis) Expiry() time.Duration {
	if a.CacheExpiry == 0 {
		return DefaultCacheExpiry
	}
	return a.CacheExpiry
}
