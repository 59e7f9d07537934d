// Package cfgpath resolves the configuration file and database locations
// shared by quill's commands.
package cfgpath

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/papercomputeco/quill/pkg/config"
)

// EnvConfig names the environment variable consulted when --config is unset.
const EnvConfig = "QUILL_CONFIG"

// Dir returns the per-user quill directory (~/.quill).
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".quill"), nil
}

// ResolveConfigPath picks the config file: the flag, then $QUILL_CONFIG, then
// ~/.quill/quill.toml when it exists. An empty result means no file.
func ResolveConfigPath(flagPath string) (string, error) {
	if flagPath != "" {
		return flagPath, nil
	}
	if env := os.Getenv(EnvConfig); env != "" {
		return env, nil
	}

	dir, err := Dir()
	if err != nil {
		return "", nil
	}
	candidate := filepath.Join(dir, "quill.toml")
	if _, err := os.Stat(candidate); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return candidate, nil
}

// Load resolves and loads the config, falling back to defaults when there is
// no file. It returns the path it loaded, if any.
func Load(flagPath string) (*config.Config, string, error) {
	path, err := ResolveConfigPath(flagPath)
	if err != nil {
		return nil, "", err
	}
	if path == "" {
		return config.Default(), "", nil
	}

	c, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return c, path, nil
}

// ResolveDBPath picks the database: the flag, then the config's db_path, then
// ~/.quill/quill.db, creating the directory as needed.
func ResolveDBPath(flagPath string, c *config.Config) (string, error) {
	if flagPath != "" {
		return flagPath, nil
	}
	if c != nil && c.Server.DBPath != "" {
		return c.Server.DBPath, nil
	}

	dir, err := Dir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "quill.db"), nil
}
