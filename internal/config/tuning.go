package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Tuning holds operator-level knobs read from an optional YAML file. These
// are separate from user settings: they change tool paths and internal
// limits, not per-run choices.
type Tuning struct {
	FFmpegPath        string `yaml:"ffmpeg_path"`
	FFprobePath       string `yaml:"ffprobe_path"`
	VerifyTimeoutSecs int    `yaml:"verify_timeout_secs"`
	HistoryCap        int    `yaml:"history_cap"`
	EventBufferSize   int    `yaml:"event_buffer_size"`
}

// DefaultTuning returns the values used when no tuning file exists.
func DefaultTuning() *Tuning {
	return &Tuning{
		FFmpegPath:        "ffmpeg",
		FFprobePath:       "ffprobe",
		VerifyTimeoutSecs: 10,
		HistoryCap:        25,
		EventBufferSize:   500,
	}
}

// VerifyTimeout converts the configured seconds into a duration.
func (t *Tuning) VerifyTimeout() time.Duration {
	return time.Duration(t.VerifyTimeoutSecs) * time.Second
}

// LoadTuningFile loads tuning from a YAML file, layered over defaults.
func LoadTuningFile(path string) (*Tuning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tuning file: %w", err)
	}

	tuning := DefaultTuning()
	if err := yaml.Unmarshal(data, tuning); err != nil {
		return nil, fmt.Errorf("failed to parse tuning file: %w", err)
	}

	return tuning, nil
}

// FindTuningFile searches standard locations for a tuning file.
// Returns empty string if not found (non-fatal).
func FindTuningFile() string {
	locations := []string{
		"./video-clipper.yaml",
		"./video-clipper.yml",
		filepath.Join(os.Getenv("HOME"), ".video-clipper", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".video-clipper", "config.yml"),
	}

	for _, path := range locations {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
