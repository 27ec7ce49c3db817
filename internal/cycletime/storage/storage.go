package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Store handles persistent storage of analysis definitions
type Store struct {
	dataDir string
}

// NewStore creates a new storage instance
func NewStore(dataDir string) *Store {
	return &Store{
		dataDir: dataDir,
	}
}

func (s *Store) ensureDataDir() error {
	return os.MkdirAll(s.dataDir, 0755)
}

func (s *Store) analysisFilePath(name string) string {
	return filepath.Join(s.dataDir, fmt.Sprintf("%s.yaml", name))
}

// Save validates and stores an analysis, replacing one with the same name
func (s *Store) Save(analysis Analysis) error {
	if err := analysis.Validate(); err != nil {
		return err
	}

	if err := s.ensureDataDir(); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data, err := yaml.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}

	if err := os.WriteFile(s.analysisFilePath(analysis.Name), data, 0644); err != nil {
		return fmt.Errorf("failed to write analysis file: %w", err)
	}

	return nil
}

// Load loads an analysis. It returns nil when no analysis with the name exists.
func (s *Store) Load(name string) (*Analysis, error) {
	data, err := os.ReadFile(s.analysisFilePath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read analysis file: %w", err)
	}

	analysis, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if analysis.Name == "" {
		analysis.Name = name
	}

	return analysis, nil
}

// Exists checks if an analysis exists in storage
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.analysisFilePath(name))
	return err == nil
}

// List returns all stored analysis names in lexical order
func (s *Store) List() ([]string, error) {
	if err := s.ensureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".yaml") {
			names = append(names, strings.TrimSuffix(entry.Name(), ".yaml"))
		}
	}

	return names, nil
}

// ListDetailed returns a summary of every stored analysis. Files that fail
// to parse are skipped.
func (s *Store) ListDetailed() ([]ListItem, error) {
	names, err := s.List()
	if err != nil {
		return nil, err
	}

	var items []ListItem
	for _, name := range names {
		analysis, err := s.Load(name)
		if err != nil || analysis == nil {
			continue
		}
		items = append(items, ListItem{
			Name:        analysis.Name,
			Description: analysis.Description,
			Project:     analysis.Criteria.Project,
			IssueTypes:  analysis.Criteria.IssueTypes,
			Stages:      len(analysis.Cycle),
		})
	}

	return items, nil
}

// Delete removes an analysis from storage
func (s *Store) Delete(name string) error {
	if err := os.Remove(s.analysisFilePath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete analysis file: %w", err)
	}

	return nil
}

// DataDir returns the data directory path
func (s *Store) DataDir() string {
	return s.dataDir
}
