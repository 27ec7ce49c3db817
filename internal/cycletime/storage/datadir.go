package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// appDirName is the subdirectory within the user's data directory owned by jiraflow
	appDirName = "jiraflow"
	// analysesDirName holds one YAML file per analysis
	analysesDirName = "analyses"
)

// DataDir returns the jiraflow data directory
func DataDir() (string, error) {
	var dataDir string

	// Try XDG_DATA_HOME first, then fallback to ~/.local/share
	if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
		dataDir = xdgDataHome
	} else {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot obtain user home dir: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, appDirName), nil
}

// AnalysesDir returns the directory analysis definitions are stored in
func AnalysesDir(dataDir string) string {
	return filepath.Join(dataDir, analysesDirName)
}
