// Package paths resolves where the docrel CLI keeps its configuration, its
// saved session and the emulator's snapshots.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "docrel"

// DefaultEmulatorDirName is the CWD-relative emulator data directory.
const DefaultEmulatorDirName = ".docrel-emulator"

// Environment variable names for directory overrides.
const (
	EnvConfigDir   = "DOCREL_CONFIG_DIR"
	EnvEmulatorDir = "DOCREL_EMULATOR_DIR"
)

// File names inside the config directory.
const (
	ConfigFileName  = "config.yaml"
	SessionFileName = "session.json"
)

// platformDir holds platform-detection functions that can be overridden in tests.
var platformDir = struct {
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
}{
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
}

// DefaultConfigDir returns the platform-specific configuration directory.
//
// Linux:   $XDG_CONFIG_HOME/docrel (fallback ~/.config/docrel)
// macOS:   ~/Library/Application Support/docrel
// Windows: %APPDATA%/docrel
func DefaultConfigDir() (string, error) {
	if runtime.GOOS == "linux" {
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appName), nil
		}
		home, err := platformDir.homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".config", appName), nil
	}
	dir, err := platformDir.userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName), nil
}

// ResolveConfigDir applies flag > DOCREL_CONFIG_DIR > DefaultConfigDir.
func ResolveConfigDir(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv(EnvConfigDir); env != "" {
		return filepath.Abs(env)
	}
	return DefaultConfigDir()
}

// ResolveEmulatorDir applies flag > config value > DOCREL_EMULATOR_DIR >
// $(CWD)/.docrel-emulator.
func ResolveEmulatorDir(flag, configValue string) (string, error) {
	for _, v := range []string{flag, configValue, os.Getenv(EnvEmulatorDir)} {
		if v != "" {
			return filepath.Abs(v)
		}
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, DefaultEmulatorDirName), nil
}

// SessionFile is where the CLI keeps session cookies between invocations.
func SessionFile(configDir string) string {
	return filepath.Join(configDir, SessionFileName)
}

// ConfigFile is the config.yaml path inside configDir.
func ConfigFile(configDir string) string {
	return filepath.Join(configDir, ConfigFileName)
}
