package reference

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/andygrunwald/go-jira"
	"github.com/sirupsen/logrus"
)

// DefaultExpiry is how long reference data is reused before it is fetched again
const DefaultExpiry = 60 * time.Minute

// Source fetches reference data from the tracker
type Source interface {
	Fields(ctx context.Context) ([]jira.Field, error)
	Statuses(ctx context.Context) ([]jira.Status, error)
	Resolutions(ctx context.Context) ([]jira.Resolution, error)
	Projects(ctx context.Context) ([]jira.Project, error)
}

// Cache stores encoded values with an expiry
type Cache interface {
	Get(ctx context.Context, key string, v any) (bool, error)
	Put(ctx context.Context, key string, v any, expiry time.Duration) error
}

// Options configures reference data caching
type Options struct {
	// Expiry defaults to DefaultExpiry when zero
	Expiry time.Duration
}

// Helper serves reference data for one tracker, from the cache when fresh
type Helper struct {
	source Source
	cache  Cache
	host   string
	expiry time.Duration
}

// New creates a helper for the tracker at baseURL. When cache is an untyped nil
// every call fetches from the source. A nil pointer of a concrete cache type is
// not nil as an interface and is called like any other cache.
func New(source Source, cache Cache, baseURL string, opts Options) *Helper {
	host := baseURL
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		host = u.Host
	}

	expiry := opts.Expiry
	if expiry <= 0 {
		expiry = DefaultExpiry
	}

	return &Helper{
		source: source,
		cache:  cache,
		host:   host,
		expiry: expiry,
	}
}

// Fields returns all tracker fields
func (h *Helper) Fields(ctx context.Context) ([]jira.Field, error) {
	return cached(ctx, h, "fields", h.source.Fields)
}

// Statuses returns all workflow statuses
func (h *Helper) Statuses(ctx context.Context) ([]jira.Status, error) {
	return cached(ctx, h, "statuses", h.source.Statuses)
}

// Resolutions returns all resolutions
func (h *Helper) Resolutions(ctx context.Context) ([]jira.Resolution, error) {
	return cached(ctx, h, "resolutions", h.source.Resolutions)
}

// Projects returns all projects visible to the user
func (h *Helper) Projects(ctx context.Context) ([]jira.Project, error) {
	return cached(ctx, h, "projects", h.source.Projects)
}

// Key is the cache key reference data of the given kind is stored under
func (h *Helper) Key(kind string) string {
	return fmt.Sprintf("reference/%s/%s", h.host, kind)
}

func cached[T any](ctx context.Context, h *Helper, kind string, fetch func(context.Context) ([]T, error)) ([]T, error) {
	key := h.Key(kind)
	logger := logrus.WithField("key", key)

	if h.cache != nil {
		var values []T
		found, err := h.cache.Get(ctx, key, &values)
		if err != nil {
			return nil, err
		}
		if found {
			logger.Debug("Using cached reference data")
			return values, nil
		}
	}

	values, err := fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", kind, err)
	}
	logger.WithField("count", len(values)).Debug("Fetched reference data")

	if h.cache != nil {
		if err := h.cache.Put(ctx, key, values, h.expiry); err != nil {
			return nil, err
		}
	}
	return values, nil
}
