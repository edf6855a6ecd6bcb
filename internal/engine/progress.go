package engine

import (
	"strconv"
	"strings"
)

// progressTracker converts ffmpeg -progress key=value lines into a
// monotonic fraction of one clip's duration.
type progressTracker struct {
	clipDuration float64
	last         float64
}

func newProgressTracker(clipDuration float64) *progressTracker {
	return &progressTracker{clipDuration: clipDuration}
}

// Update parses one progress line. It returns the clip fraction and true
// when the line advanced progress.
func (t *progressTracker) Update(line string) (float64, bool) {
	line = strings.TrimSpace(line)

	if line == "progress=end" {
		t.last = 1
		return 1, true
	}

	key, value, ok := strings.Cut(line, "=")
	if !ok || key != "out_time" {
		return 0, false
	}

	seconds := clockToSeconds(strings.TrimSpace(value))
	if seconds <= 0 || t.clipDuration <= 0 {
		return 0, false
	}

	fraction := seconds / t.clipDuration
	if fraction > 1 {
		fraction = 1
	}
	if fraction <= t.last {
		return 0, false
	}
	t.last = fraction
	return fraction, true
}

// clockToSeconds converts ffmpeg HH:MM:SS.ffffff clock values to seconds.
func clockToSeconds(clock string) float64 {
	parts := strings.Split(clock, ":")
	if len(parts) != 3 {
		return 0
	}

	hours, err1 := strconv.ParseFloat(parts[0], 64)
	minutes, err2 := strconv.ParseFloat(parts[1], 64)
	seconds, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0
	}

	return hours*3600 + minutes*60 + seconds
}
