// Package shell prints the environment setup that puts installed formulas on
// the user's PATH.
package shell

import (
	"os"
	"path/filepath"
	"strings"
)

// DetectShell returns the shell named by $SHELL, or ShellUnknown.
func DetectShell() ShellType {
	return parseShellFromPath(os.Getenv("SHELL"))
}

// Parse maps a shell name or path (bash, /usr/bin/zsh) to a ShellType.
func Parse(name string) (ShellType, error) {
	s := parseShellFromPath(name)
	if !s.IsValid() {
		return ShellUnknown, &UnsupportedShellError{Shell: name}
	}
	return s, nil
}

// parseShellFromPath extracts the shell type from a shell binary path
// Examples:
//   - /bin/bash -> bash
//   - /usr/bin/zsh -> zsh
//   - /usr/local/bin/fish -> fish
func parseShellFromPath(shellPath string) ShellType {
	if shellPath == "" {
		return ShellUnknown
	}

	switch strings.ToLower(filepath.Base(shellPath)) {
	case "bash":
		return ShellBash
	case "zsh":
		return ShellZsh
	case "fish":
		return ShellFish
	default:
		return ShellUnknown
	}
}

// GetSupportedShells returns a list of supported shells
func GetSupportedShells() []ShellType {
	return []ShellType{ShellBash, ShellZsh, ShellFish}
}
