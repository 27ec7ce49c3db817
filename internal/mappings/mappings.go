package mappings

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"github.com/petr-muller/jiraflow/internal/config"
	"github.com/petr-muller/jiraflow/internal/cycletime/cycle"
)

const (
	mappingsFileName = "mappings.yaml"
)

// Mappings holds per-project defaults
type Mappings struct {
	// ProjectCycles maps project keys to the cycle used by analyses that do not define one
	ProjectCycles map[string][]cycle.Stage `yaml:"projectCycles"`
}

// NewMappings creates a new empty mappings structure
func NewMappings() *Mappings {
	return &Mappings{
		ProjectCycles: make(map[string][]cycle.Stage),
	}
}

// Path returns the default location of the mappings file
func Path() string {
	return filepath.Join(config.MustJiraflowConfigDir(), mappingsFileName)
}

// LoadMappings loads mappings from the default location, returns empty mappings if file doesn't exist
func LoadMappings() (*Mappings, error) {
	return LoadMappingsFrom(Path())
}

// LoadMappingsFrom loads mappings from path, returns empty mappings if file doesn't exist
func LoadMappingsFrom(path string) (*Mappings, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return NewMappings(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mappings file: %w", err)
	}

	var mappings Mappings
	if err := yaml.Unmarshal(data, &mappings); err != nil {
		return nil, fmt.Errorf("failed to parse mappings file: %w", err)
	}

	if mappings.ProjectCycles == nil {
		mappings.ProjectCycles = make(map[string][]cycle.Stage)
	}

	for project, stages := range mappings.ProjectCycles {
		if err := cycle.Validate(stages); err != nil {
			return nil, fmt.Errorf("invalid cycle for project %s: %w", project, err)
		}
	}

	return &mappings, nil
}

// SaveMappings saves mappings to the default location
func (m *Mappings) SaveMappings() error {
	return m.SaveMappingsTo(Path())
}

// SaveMappingsTo saves mappings to path
func (m *Mappings) SaveMappingsTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal mappings: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write mappings file: %w", err)
	}

	return nil
}

// CycleForProject returns the cycle template for a project, nil if not found
func (m *Mappings) CycleForProject(project string) []cycle.Stage {
	return m.ProjectCycles[project]
}

// SetProjectCycle validates and sets the cycle template for a project
func (m *Mappings) SetProjectCycle(project string, stages []cycle.Stage) error {
	if err := cycle.Validate(stages); err != nil {
		return err
	}
	m.ProjectCycles[project] = stages
	return nil
}
