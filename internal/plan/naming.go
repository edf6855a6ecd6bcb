package plan

import (
	"fmt"
	"path/filepath"
	"strings"

	"video-clipper/internal/timecode"
)

// RenderOutputName expands a naming pattern into a filesystem-safe clip name.
//
// Supported tokens: {video} (source base name), {idx} (zero-padded 3-digit
// ordinal), {start}, {end}, {duration} (times as HH-MM-SS-mmm). Characters
// outside [A-Za-z0-9._-] are replaced with underscores and a .mp4 suffix is
// appended when missing.
func RenderOutputName(pattern, sourceName string, idx int, startSeconds, endSeconds, durationSeconds float64) string {
	base := strings.TrimSuffix(filepath.Base(sourceName), filepath.Ext(sourceName))

	name := pattern
	name = strings.ReplaceAll(name, "{video}", base)
	name = strings.ReplaceAll(name, "{idx}", fmt.Sprintf("%03d", idx))
	name = strings.ReplaceAll(name, "{start}", fileTime(startSeconds))
	name = strings.ReplaceAll(name, "{end}", fileTime(endSeconds))
	name = strings.ReplaceAll(name, "{duration}", fileTime(durationSeconds))

	name = sanitizeName(name)
	if !strings.HasSuffix(strings.ToLower(name), ".mp4") {
		name += ".mp4"
	}
	return name
}

// fileTime renders seconds as HH-MM-SS-mmm for use inside file names.
func fileTime(seconds float64) string {
	engine := timecode.FormatForEngine(seconds)
	engine = strings.ReplaceAll(engine, ":", "-")
	return strings.ReplaceAll(engine, ".", "-")
}

// sanitizeName replaces disallowed filename characters with underscores.
func sanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if isAllowedNameRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

// isAllowedNameRune reports whether a rune is safe across filesystems.
func isAllowedNameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '.' || r == '_' || r == '-':
		return true
	default:
		return false
	}
}
