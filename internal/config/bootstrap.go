package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// EnsureConfigFile makes sure the config file exists.
//
// If the file does not exist, it writes the default config so the process
// can boot on first run. It never overwrites an existing file.
func EnsureConfigFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	b, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}
