package domain

import "time"

// Mode selects how a user describes the ranges to extract.
type Mode string

const (
	ModeSingle    Mode = "single"
	ModeAutoSplit Mode = "autosplit"
	ModeMulti     Mode = "multi"
)

// RunStatus tracks the lifecycle of one queue run.
type RunStatus string

const (
	RunStatusIdle      RunStatus = "idle"
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCompleted RunStatus = "completed"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusFailed    RunStatus = "failed"
)

// Job is one immutable unit of transcoding work.
type Job struct {
	OutputName      string  `json:"outputName"`
	StartSeconds    float64 `json:"startSeconds"`
	DurationSeconds float64 `json:"durationSeconds"`
	Label           string  `json:"label"`
}

// ValidationResult is an ordered job list plus advisory notices.
type ValidationResult struct {
	Jobs    []Job    `json:"jobs"`
	Notices []string `json:"notices"`
}

// ClipRecord is the verified-or-not outcome of one completed job.
type ClipRecord struct {
	ID                    string  `json:"id"`
	Name                  string  `json:"name"`
	SizeBytes             int64   `json:"sizeBytes"`
	StartSeconds          float64 `json:"startSeconds"`
	DurationSeconds       float64 `json:"durationSeconds"`
	ActualDurationSeconds float64 `json:"actualDurationSeconds"`
	VerifiedPlayable      bool    `json:"verifiedPlayable"`
	VerificationError     string  `json:"verificationError,omitempty"`
}

// ProgressUpdate is one aggregate progress sample pushed during a run.
type ProgressUpdate struct {
	ClipIndex    int     `json:"clipIndex"`
	TotalClips   int     `json:"totalClips"`
	ClipFraction float64 `json:"clipFraction"`
	Overall      float64 `json:"overall"`
	ETASeconds   float64 `json:"etaSeconds"`
}

// ClipSummary is the persisted per-clip slice of a run summary.
type ClipSummary struct {
	Name            string  `json:"name"`
	SizeBytes       int64   `json:"sizeBytes"`
	StartSeconds    float64 `json:"startSeconds"`
	DurationSeconds float64 `json:"durationSeconds"`
	Playable        bool    `json:"playable"`
}

// RangeTemplate preserves the raw multi-range rows for later reuse.
type RangeTemplate struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// RunSummary is one bounded-history entry describing a finished run.
type RunSummary struct {
	ID             string          `json:"id"`
	CreatedAt      time.Time       `json:"createdAt"`
	SourceName     string          `json:"sourceName"`
	Mode           Mode            `json:"mode"`
	NamingPattern  string          `json:"namingPattern"`
	ClipCount      int             `json:"clipCount"`
	TotalSizeBytes int64           `json:"totalSizeBytes"`
	Clips          []ClipSummary   `json:"clips"`
	Ranges         []RangeTemplate `json:"ranges,omitempty"`
}

// MediaInfo describes a loaded source file for validation and display.
type MediaInfo struct {
	Path            string  `json:"path"`
	Name            string  `json:"name"`
	SizeBytes       int64   `json:"sizeBytes"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// Settings contains user-selectable runtime configuration.
type Settings struct {
	NamingPattern string `json:"namingPattern"`
	ExportDir     string `json:"exportDir"`
	LastMode      Mode   `json:"lastMode"`
}
