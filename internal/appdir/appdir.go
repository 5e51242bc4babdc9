// Package appdir locates the bot's data directory, which holds the optional
// config.yaml, the persisted settings.yaml and rotated log files.
package appdir

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

const (
	// DirEnv is the environment variable to override the data directory.
	DirEnv = "OPENCODE_TELEGRAM_DIR"

	// ConfigFileName is the name of the optional configuration file.
	ConfigFileName = "config.yaml"

	// SettingsFileName is the name of the persisted settings file.
	SettingsFileName = "settings.yaml"

	// LogsDirName is the name of the logs subdirectory.
	LogsDirName = "logs"
)

var (
	cachedDir string
	mu        sync.RWMutex
)

// Dir returns the data directory path.
// The directory is determined in the following order:
//  1. OPENCODE_TELEGRAM_DIR environment variable (if set)
//  2. Platform-specific default:
//     - macOS: ~/Library/Application Support/opencode-telegram
//     - Linux: $XDG_DATA_HOME/opencode-telegram or ~/.local/share/opencode-telegram
//     - Windows: %APPDATA%\opencode-telegram
//
// Dir does not create the directory; use EnsureDir for that.
func Dir() (string, error) {
	mu.RLock()
	if cachedDir != "" {
		dir := cachedDir
		mu.RUnlock()
		return dir, nil
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	if cachedDir != "" {
		return cachedDir, nil
	}

	dir, err := resolveDir()
	if err != nil {
		return "", err
	}
	cachedDir = dir
	return dir, nil
}

const appName = "opencode-telegram"

func resolveDir() (string, error) {
	if envDir := os.Getenv(DirEnv); envDir != "" {
		return envDir, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir, "Library", "Application Support", appName), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(homeDir, "AppData", "Roaming")
		}
		return filepath.Join(appData, appName), nil
	default:
		dataDir := os.Getenv("XDG_DATA_HOME")
		if dataDir == "" {
			dataDir = filepath.Join(homeDir, ".local", "share")
		}
		return filepath.Join(dataDir, appName), nil
	}
}

// EnsureDir creates the data directory and its logs subdirectory.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(dir, LogsDirName), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	return nil
}

// ConfigPath returns the full path to config.yaml.
func ConfigPath() (string, error) {
	return join(ConfigFileName)
}

// SettingsPath returns the full path to settings.yaml.
func SettingsPath() (string, error) {
	return join(SettingsFileName)
}

// LogPath returns the full path of the rotating log file.
func LogPath() (string, error) {
	return join(LogsDirName, appName+".log")
}

func join(elem ...string) (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{dir}, elem...)...), nil
}

// ResetCache clears the cached directory path.
// This is primarily useful for testing.
func ResetCache() {
	mu.Lock()
	defer mu.Unlock()
	cachedDir = ""
}
