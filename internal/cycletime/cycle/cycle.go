package cycle

import (
	"errors"
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"
)

// ErrInvalidCycle is returned when a cycle definition violates its invariants
var ErrInvalidCycle = errors.New("invalid cycle definition")

// ReservedNames are the fixed columns of a flat result row. Stages and fields
// cannot use them as names.
var ReservedNames = []string{"key", "url", "issueType", "summary", "status", "resolution", "cycleTime", "completedTimestamp"}

// Reserved reports whether name is one of ReservedNames
func Reserved(name string) bool {
	for _, reserved := range ReservedNames {
		if name == reserved {
			return true
		}
	}
	return false
}

// Kind is the logical category of a stage
type Kind string

const (
	// Backlog is work not yet committed to
	Backlog Kind = "backlog"
	// Accepted is work accepted into the system and committed to
	Accepted Kind = "accepted"
	// Completed is finished work
	Completed Kind = "completed"
)

func (k Kind) valid() bool {
	switch k {
	case Backlog, Accepted, Completed:
		return true
	}
	return false
}

// Stage is one named step of a cycle
type Stage struct {
	Name     string   `yaml:"name" json:"name"`
	Kind     Kind     `yaml:"kind" json:"kind"`
	Queue    bool     `yaml:"queue,omitempty" json:"queue,omitempty"`
	Statuses []string `yaml:"statuses" json:"statuses"`
}

// Definition is an ordered sequence of stages. The order is the reference order
// used to detect backwards movement.
type Definition struct {
	stages []Stage
	lookup map[string]int
}

// Default returns the cycle used when nothing else is configured
func Default() *Definition {
	d, err := New([]Stage{
		{Name: "todo", Kind: Backlog, Statuses: []string{"Open", "To Do"}},
		{Name: "development", Kind: Accepted, Statuses: []string{"In Progress"}},
		{Name: "done", Kind: Completed, Statuses: []string{"Done", "Closed"}},
	})
	if err != nil {
		panic(err)
	}
	return d
}

// New validates the stages and builds the status lookup table
func New(stages []Stage) (*Definition, error) {
	if err := Validate(stages); err != nil {
		return nil, err
	}

	d := &Definition{
		stages: make([]Stage, len(stages)),
		lookup: map[string]int{},
	}
	for i, stage := range stages {
		d.stages[i] = Stage{
			Name:     stage.Name,
			Kind:     stage.Kind,
			Queue:    stage.Queue,
			Statuses: append([]string(nil), stage.Statuses...),
		}
		for _, status := range stage.Statuses {
			d.lookup[status] = i
		}
	}
	return d, nil
}

// Validate checks that stage names are unique, non-empty and not reserved, kinds are known,
// at least one accepted and one completed stage exist and no status is mapped
// to more than one stage.
func Validate(stages []Stage) error {
	if len(stages) == 0 {
		return fmt.Errorf("%w: no stages", ErrInvalidCycle)
	}

	names := sets.New[string]()
	owner := map[string]string{}
	var problems []string
	var hasAccepted, hasCompleted bool

	for i, stage := range stages {
		if stage.Name == "" {
			problems = append(problems, fmt.Sprintf("stage %d has no name", i))
		} else if names.Has(stage.Name) {
			problems = append(problems, fmt.Sprintf("stage name %q is used more than once", stage.Name))
		} else if Reserved(stage.Name) {
			problems = append(problems, fmt.Sprintf("stage name %q is reserved", stage.Name))
		}
		names.Insert(stage.Name)

		if !stage.Kind.valid() {
			problems = append(problems, fmt.Sprintf("stage %q has unknown kind %q", stage.Name, stage.Kind))
		}
		hasAccepted = hasAccepted || stage.Kind == Accepted
		hasCompleted = hasCompleted || stage.Kind == Completed

		for _, status := range stage.Statuses {
			if other, ok := owner[status]; ok && other != stage.Name {
				problems = append(problems, fmt.Sprintf("status %q is mapped to both %q and %q", status, other, stage.Name))
				continue
			}
			owner[status] = stage.Name
		}
	}

	if !hasAccepted {
		problems = append(problems, "no stage of kind accepted")
	}
	if !hasCompleted {
		problems = append(problems, "no stage of kind completed")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidCycle, strings.Join(problems, "; "))
	}
	return nil
}

// Stages returns a copy of the stages in cycle order
func (d *Definition) Stages() []Stage {
	out := make([]Stage, len(d.stages))
	copy(out, d.stages)
	return out
}

// Names returns stage names in cycle order
func (d *Definition) Names() []string {
	names := make([]string, len(d.stages))
	for i, stage := range d.stages {
		names[i] = stage.Name
	}
	return names
}

// Len returns the number of stages
func (d *Definition) Len() int {
	return len(d.stages)
}

// Stage returns the stage at the given position
func (d *Definition) Stage(i int) Stage {
	return d.stages[i]
}

// StageFor returns the position of the stage that owns the status, or false
// when the status is not mapped.
func (d *Definition) StageFor(status string) (int, bool) {
	i, ok := d.lookup[status]
	return i, ok
}
