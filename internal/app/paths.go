package app

import (
	"fmt"
	"os"
	"path/filepath"
)

const appDirName = "nutro"

// DataDirEnv overrides the data directory when set.
const DataDirEnv = "NUTRO_DATA_DIR"

// DefaultDataDir resolves the directory holding the store files,
// preferring the environment override.
func DefaultDataDir() (string, error) {
	if dir := os.Getenv(DataDirEnv); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(base, appDirName), nil
}

func EnsureDataDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	return nil
}
