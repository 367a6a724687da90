package config

import (
	"os"
	"path/filepath"
)

// FileNames are the config file names Discover looks for, in order.
var FileNames = []string{"synth.yaml", "synth.yml"}

// Discover walks up from startDir looking for a config file, stopping after
// the first directory that contains a .git entry (the repository root is the
// natural search boundary). Returns the empty string when nothing is found.
func Discover(startDir string) string {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return ""
	}

	for {
		for _, name := range FileNames {
			candidate := filepath.Join(dir, name)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate
			}
		}

		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return ""
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
