package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// configDirName is a directory in the user's config directory where jiraflow configuration is stored
	configDirName string = "jiraflow"
)

// MustJiraflowConfigDir returns the jiraflow configuration directory and panics
// when the user config dir cannot be determined
func MustJiraflowConfigDir() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		panic(fmt.Errorf("cannot obtain user config dir: %w", err))
	}

	return filepath.Join(configDir, configDirName)
}
