package fields

import (
	"context"
	"fmt"
	"strings"

	"github.com/andygrunwald/go-jira"
	json "github.com/goccy/go-json"
)

const (
	// EpicLink is the logical name of the field used for epic membership
	EpicLink = "epicLink"
	// Rank is the logical name of the ranking field
	Rank = "rank"
)

// Named binds a logical name to the display name of a tracker field
type Named struct {
	Name  string `yaml:"name" json:"name"`
	Field string `yaml:"field" json:"field"`
}

// Spec lists the fields an analysis wants resolved
type Spec struct {
	Core   []Named `yaml:"core,omitempty" json:"core,omitempty"`
	Custom []Named `yaml:"custom,omitempty" json:"custom,omitempty"`
}

// DefaultSpec returns the core fields every analysis carries
func DefaultSpec() Spec {
	return Spec{
		Core: []Named{
			{Name: EpicLink, Field: "Epic Link"},
			{Name: Rank, Field: "Rank"},
		},
	}
}

// Lister returns all fields known to the tracker
type Lister interface {
	Fields(ctx context.Context) ([]jira.Field, error)
}

// Resolved is a logical field name paired with the tracker field id. An empty
// ID means the tracker does not expose a field with the configured name.
type Resolved struct {
	Name string
	ID   string
}

// Resolution is the ordered result of resolving a Spec. It is immutable.
type Resolution struct {
	fields []Resolved
}

// Resolve looks the fields up by display name. Core fields come first, then custom fields.
func Resolve(spec Spec, known []jira.Field) *Resolution {
	byName := make(map[string]string, len(known))
	for _, f := range known {
		if _, seen := byName[f.Name]; !seen {
			byName[f.Name] = f.ID
		}
	}

	r := &Resolution{}
	for _, named := range append(append([]Named(nil), spec.Core...), spec.Custom...) {
		r.fields = append(r.fields, Resolved{Name: named.Name, ID: byName[named.Field]})
	}
	return r
}

// ResolveFrom fetches the field list from the tracker and resolves the spec
func ResolveFrom(ctx context.Context, lister Lister, spec Spec) (*Resolution, error) {
	known, err := lister.Fields(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}
	return Resolve(spec, known), nil
}

// Fields returns the resolved fields in order
func (r *Resolution) Fields() []Resolved {
	out := make([]Resolved, len(r.fields))
	copy(out, r.fields)
	return out
}

// Names returns the logical names in order
func (r *Resolution) Names() []string {
	names := make([]string, len(r.fields))
	for i, f := range r.fields {
		names[i] = f.Name
	}
	return names
}

// ID returns the tracker id for a logical name. The second value is false when
// the name was not requested or could not be resolved.
func (r *Resolution) ID(name string) (string, bool) {
	for _, f := range r.fields {
		if f.Name == name {
			return f.ID, f.ID != ""
		}
	}
	return "", false
}

// JQLName returns how a resolved field is referenced in a JQL clause
func JQLName(id string) string {
	if num, ok := strings.CutPrefix(id, "customfield_"); ok {
		return fmt.Sprintf("cf[%s]", num)
	}
	return id
}

// Values extracts the value of every resolved field from the issue, in order.
// Unresolved fields and fields missing on the issue yield nil.
func (r *Resolution) Values(issue jira.Issue) ([]any, error) {
	values := make([]any, len(r.fields))
	if issue.Fields == nil {
		return values, nil
	}

	var all map[string]any
	for i, f := range r.fields {
		if f.ID == "" {
			continue
		}
		if v, ok := issue.Fields.Unknowns[f.ID]; ok {
			values[i] = simplify(v)
			continue
		}
		if all == nil {
			raw, err := json.Marshal(issue.Fields)
			if err != nil {
				return nil, fmt.Errorf("failed to encode fields of %s: %w", issue.Key, err)
			}
			if err := json.Unmarshal(raw, &all); err != nil {
				return nil, fmt.Errorf("failed to decode fields of %s: %w", issue.Key, err)
			}
		}
		values[i] = simplify(all[f.ID])
	}
	return values, nil
}

// simplify unwraps option-like objects to their display value
func simplify(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for _, key := range []string{"value", "name"} {
		if s, ok := m[key]; ok && s != nil && s != "" {
			return s
		}
	}
	return v
}
