package config

import (
	"os"
	"path/filepath"

	"video-clipper/internal/domain"
)

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		NamingPattern: "{video}_{idx}.mp4",
		ExportDir:     filepath.Join(homeDir, "Videos", "Clips"),
		LastMode:      domain.ModeSingle,
	}
}
