package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

const fileName = "config.json"

// ResolvePath applies CLI/XDG/home fallback rules for the settings file location.
func ResolvePath(explicit string) (string, error) {
	if strings.TrimSpace(explicit) != "" {
		return explicit, nil
	}

	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, "towerlink", fileName), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("unable to resolve user home for settings fallback")
	}

	return filepath.Join(home, ".config", "towerlink", fileName), nil
}
