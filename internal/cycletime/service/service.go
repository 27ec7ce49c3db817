package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/petr-muller/jiraflow/internal/cycletime/cache"
	"github.com/petr-muller/jiraflow/internal/cycletime/calculator"
	"github.com/petr-muller/jiraflow/internal/cycletime/compare"
	"github.com/petr-muller/jiraflow/internal/cycletime/cycle"
	"github.com/petr-muller/jiraflow/internal/cycletime/fields"
	"github.com/petr-muller/jiraflow/internal/cycletime/jira"
	"github.com/petr-muller/jiraflow/internal/cycletime/query"
	"github.com/petr-muller/jiraflow/internal/cycletime/reference"
	"github.com/petr-muller/jiraflow/internal/cycletime/storage"
	"github.com/petr-muller/jiraflow/internal/flagutil"
	"github.com/petr-muller/jiraflow/internal/mappings"
)

// ErrNotFound is returned for analyses that are not stored
var ErrNotFound = errors.New("analysis not found")

// maxConcurrentRuns bounds how many analyses RunAll computes at once
const maxConcurrentRuns = 4

// Client is the tracker the service talks to
type Client interface {
	query.Searcher
	reference.Source
	JiraURL() string
	ValidateJQL(ctx context.Context, jql string) error
}

// Options configure the service
type Options struct {
	// ReferenceExpiry is how long tracker reference data is cached
	ReferenceExpiry time.Duration
}

// Service orchestrates stored analyses, the tracker and the result cache
type Service struct {
	client    Client
	store     *storage.Store
	cache     *cache.Store
	mappings  *mappings.Mappings
	reference *reference.Helper
	now       func() time.Time
}

// NewService creates a service talking to the configured Jira instance and
// keeping its state under dataDir
func NewService(jiraOptions flagutil.JiraOptions, dataDir string, opts Options) (*Service, error) {
	jiraClient, err := jira.NewClient(jiraOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create JIRA client: %w", err)
	}

	m, err := mappings.LoadMappings()
	if err != nil {
		return nil, fmt.Errorf("failed to load mappings: %w", err)
	}

	resultCache, err := cache.Open(filepath.Join(dataDir, cache.FileName))
	if err != nil {
		return nil, err
	}

	return New(jiraClient, storage.NewStore(storage.AnalysesDir(dataDir)), resultCache, m, opts), nil
}

// New creates a service from its collaborators. resultCache must not be nil, it
// also backs the reference data helper.
func New(client Client, store *storage.Store, resultCache *cache.Store, m *mappings.Mappings, opts Options) *Service {
	if m == nil {
		m = mappings.NewMappings()
	}
	return &Service{
		client:    client,
		store:     store,
		cache:     resultCache,
		mappings:  m,
		reference: reference.New(client, resultCache, client.JiraURL(), reference.Options{Expiry: opts.ReferenceExpiry}),
		now:       time.Now,
	}
}

// Close releases the cache database
func (s *Service) Close() error {
	return s.cache.Close()
}

// Reference returns the cached tracker reference data
func (s *Service) Reference() *reference.Helper {
	return s.reference
}

// AddAnalysis validates an analysis against the tracker and stores it.
// Cached results of a previous definition with the same name are dropped.
func (s *Service) AddAnalysis(ctx context.Context, analysis storage.Analysis) error {
	if err := analysis.Validate(); err != nil {
		return err
	}

	resolution, err := fields.ResolveFrom(ctx, s.reference, analysis.FieldSpec())
	if err != nil {
		return err
	}
	finder := query.NewService(s.client, resolution, query.Options{})
	if _, err := calculator.New(finder, s.stagesFor(&analysis), resolution, s.client.JiraURL()); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrInvalidAnalysis, err)
	}
	jql, err := finder.JQL(analysis.Criteria)
	if err != nil {
		return err
	}
	if err := s.client.ValidateJQL(ctx, jql); err != nil {
		return fmt.Errorf("invalid JQL: %w", err)
	}

	if err := s.store.Save(analysis); err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}
	return s.cache.Delete(ctx, resultKey(analysis.Name))
}

// ResolvedFields resolves the fields of an analysis against the tracker. Fields
// the tracker does not know have an empty ID.
func (s *Service) ResolvedFields(ctx context.Context, analysis *storage.Analysis) ([]fields.Resolved, error) {
	resolution, err := fields.ResolveFrom(ctx, s.reference, analysis.FieldSpec())
	if err != nil {
		return nil, err
	}
	return resolution.Fields(), nil
}

// ListAnalyses returns a summary of every stored analysis
func (s *Service) ListAnalyses() ([]storage.ListItem, error) {
	return s.store.ListDetailed()
}

// ShowAnalysis returns a stored analysis
func (s *Service) ShowAnalysis(name string) (*storage.Analysis, error) {
	analysis, err := s.store.Load(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load analysis: %w", err)
	}
	if analysis == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return analysis, nil
}

// DeleteAnalysis removes a stored analysis together with its cached runs
func (s *Service) DeleteAnalysis(ctx context.Context, name string) error {
	if !s.store.Exists(name) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err := s.store.Delete(name); err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, resultKey(name)); err != nil {
		return err
	}
	return s.cache.Delete(ctx, previousKey(name))
}

// Run is the outcome of running an analysis. PreviousRun is zero when there was
// no earlier run to compare with. Cached is set when the run was served from
// the result cache.
type Run struct {
	Analysis    storage.Analysis   `json:"analysis" yaml:"analysis"`
	Data        *calculator.Data   `json:"data" yaml:"data"`
	Summary     calculator.Summary `json:"summary" yaml:"summary"`
	ComputedAt  time.Time          `json:"computedAt" yaml:"computedAt"`
	PreviousRun time.Time          `json:"previousRun" yaml:"previousRun"`
	Comparison  compare.Comparison `json:"comparison" yaml:"comparison"`
	Cached      bool               `json:"-" yaml:"-"`
	// Expires is when a cached run stops being served, zero for fresh runs
	Expires time.Time `json:"-" yaml:"-"`
}

// RunOptions select the analysis to run
type RunOptions struct {
	Name string
	// Refresh ignores cached results
	Refresh bool
}

// Run computes the cycle data of a stored analysis, or returns the cached
// result when it has not expired
func (s *Service) Run(ctx context.Context, opts RunOptions) (*Run, error) {
	analysis, err := s.ShowAnalysis(opts.Name)
	if err != nil {
		return nil, err
	}
	logger := logrus.WithField("analysis", analysis.Name)

	if !opts.Refresh {
		var cached Run
		found, err := s.cache.Get(ctx, resultKey(analysis.Name), &cached)
		if err != nil {
			return nil, err
		}
		if found {
			entry, err := s.cache.Lookup(ctx, resultKey(analysis.Name))
			if err != nil {
				return nil, err
			}
			if entry != nil {
				cached.Expires = entry.Expires
			}
			logger.WithField("expires", cached.Expires).Debug("Using cached run")
			cached.Cached = true
			return &cached, nil
		}
	}

	var previous Run
	hasPrevious, err := s.cache.Get(ctx, previousKey(analysis.Name), &previous)
	if err != nil {
		return nil, err
	}

	resolution, err := fields.ResolveFrom(ctx, s.reference, analysis.FieldSpec())
	if err != nil {
		return nil, err
	}
	finder := query.NewService(s.client, resolution, query.Options{MaxResults: analysis.MaxResults})
	calc, err := calculator.New(finder, s.stagesFor(analysis), resolution, s.client.JiraURL())
	if err != nil {
		return nil, fmt.Errorf("analysis %s: %w", analysis.Name, err)
	}

	data, err := calc.ComputeCycleData(ctx, analysis.Criteria)
	if err != nil {
		return nil, fmt.Errorf("analysis %s: %w", analysis.Name, err)
	}
	data.MaxResults = finder.MaxResults()

	run := &Run{
		Analysis:   *analysis,
		Data:       data,
		Summary:    calculator.Summarize(calc.Cycle(), data.Rows),
		ComputedAt: s.now(),
	}
	if hasPrevious && previous.Data != nil {
		run.PreviousRun = previous.ComputedAt
		run.Comparison = compare.Runs(data.Rows, previous.Data.Rows)
	}

	if err := s.cache.Put(ctx, resultKey(analysis.Name), run, analysis.Expiry()); err != nil {
		return nil, err
	}
	if err := s.cache.Put(ctx, previousKey(analysis.Name), run, 0); err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"issues":    len(data.Rows),
		"truncated": data.Truncated,
	}).Debug("Computed run")

	return run, nil
}

// RunAll runs every stored analysis concurrently. Runs are returned in the
// order of the analysis names.
func (s *Service) RunAll(ctx context.Context, refresh bool) ([]*Run, error) {
	names, err := s.store.List()
	if err != nil {
		return nil, err
	}

	runs := make([]*Run, len(names))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentRuns)
	for i, name := range names {
		g.Go(func() error {
			run, err := s.Run(ctx, RunOptions{Name: name, Refresh: refresh})
			if err != nil {
				return err
			}
			runs[i] = run
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return runs, nil
}

// stagesFor picks the analysis cycle, then the project template, then the default cycle
func (s *Service) stagesFor(analysis *storage.Analysis) []cycle.Stage {
	if len(analysis.Cycle) > 0 {
		return analysis.Cycle
	}
	if stages := s.mappings.CycleForProject(analysis.Criteria.Project); len(stages) > 0 {
		return stages
	}
	return cycle.Default().Stages()
}

func resultKey(name string) string {
	return "run/" + name
}

func previousKey(name string) string {
	return "previous/" + name
}
