// Package timecode converts between human time strings and seconds.
package timecode

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	plainSecondsPattern = regexp.MustCompile(`^\d+(?:[.,]\d+)?$`)
	hoursPattern        = regexp.MustCompile(`^(\d+):([0-5]?\d):([0-5]?\d)(?:[.,](\d{1,3}))?$`)
	minutesPattern      = regexp.MustCompile(`^(\d+):([0-5]?\d)(?:[.,](\d{1,3}))?$`)
)

// ParseSeconds parses plain seconds, HH:MM:SS[.mmm], or MM:SS[.mmm].
//
// The decimal separator may be a dot or a comma. The second return value
// is false for any input outside the three grammars, including empty text.
func ParseSeconds(text string) (float64, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0, false
	}

	if plainSecondsPattern.MatchString(trimmed) {
		normalized := strings.ReplaceAll(trimmed, ",", ".")
		seconds, err := strconv.ParseFloat(normalized, 64)
		if err != nil {
			return 0, false
		}
		return seconds, true
	}

	if m := hoursPattern.FindStringSubmatch(trimmed); m != nil {
		return assembleSeconds(m[1], m[2], m[3], m[4])
	}
	if m := minutesPattern.FindStringSubmatch(trimmed); m != nil {
		return assembleSeconds("0", m[1], m[2], m[3])
	}

	return 0, false
}

// assembleSeconds combines colon-grammar components into seconds.
func assembleSeconds(hours, minutes, seconds, millis string) (float64, bool) {
	h, err := strconv.Atoi(hours)
	if err != nil {
		return 0, false
	}
	m, err := strconv.Atoi(minutes)
	if err != nil {
		return 0, false
	}
	s, err := strconv.Atoi(seconds)
	if err != nil {
		return 0, false
	}

	total := float64(h*3600 + m*60 + s)
	if millis != "" {
		padded := millis + strings.Repeat("0", 3-len(millis))
		ms, err := strconv.Atoi(padded)
		if err != nil {
			return 0, false
		}
		total += float64(ms) / 1000
	}
	return total, true
}

// FormatSeconds renders seconds as zero-padded HH:MM:SS for display.
//
// A 3-digit millisecond suffix is appended only when withMillis is set and
// the value has a non-zero millisecond component. Negative or non-finite
// input renders as "00:00:00" rather than failing.
func FormatSeconds(seconds float64, withMillis bool) string {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return "00:00:00"
	}

	whole, millis := splitMillis(seconds)
	h := whole / 3600
	m := (whole % 3600) / 60
	s := whole % 60

	if withMillis && millis > 0 {
		return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, millis)
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatForEngine renders the HH:MM:SS.mmm form ffmpeg expects for -ss/-t.
func FormatForEngine(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		seconds = 0
	}

	whole, millis := splitMillis(seconds)
	h := whole / 3600
	m := (whole % 3600) / 60
	s := whole % 60
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, millis)
}

// splitMillis decomposes seconds into whole seconds and rounded milliseconds.
func splitMillis(seconds float64) (int, int) {
	totalMillis := int(math.Round(seconds * 1000))
	return totalMillis / 1000, totalMillis % 1000
}
