// Package plan turns raw per-mode user input into validated transcode jobs.
package plan

import (
	"fmt"
	"math"
	"strings"

	"video-clipper/internal/domain"
	"video-clipper/internal/timecode"
)

// Epsilon absorbs floating point and container rounding when comparing times.
const Epsilon = 0.001

// Spec carries the per-run context shared by all three validation modes.
type Spec struct {
	SourceName string
	// MediaDurationSeconds is the probed total duration; zero or negative
	// means the duration is unknown.
	MediaDurationSeconds float64
	NamingPattern        string
}

// knownDuration reports whether the total media duration is available.
func (s Spec) knownDuration() bool {
	return s.MediaDurationSeconds > 0
}

// SingleRangeInput is raw user input for one start/duration range.
type SingleRangeInput struct {
	StartText    string `json:"startText"`
	DurationText string `json:"durationText"`
}

// AutoSplitInput is raw user input for fixed-length splitting.
type AutoSplitInput struct {
	StartText      string `json:"startText"`
	ClipLengthText string `json:"clipLengthText"`
}

// RangeRow is one raw start/end row of the multi-range table.
type RangeRow struct {
	StartText string `json:"startText"`
	EndText   string `json:"endText"`
}

// BuildSingleRange validates a single start/duration pair into one job.
//
// A blank start defaults to zero. A blank duration means "rest of media"
// and requires the total duration to be known. When the requested duration
// overflows the remaining span it is clamped down with a notice.
func BuildSingleRange(spec Spec, in SingleRangeInput) (domain.ValidationResult, error) {
	var result domain.ValidationResult

	start := 0.0
	if text := strings.TrimSpace(in.StartText); text != "" {
		parsed, ok := timecode.ParseSeconds(text)
		if !ok {
			return result, fmt.Errorf("invalid start time: %q", text)
		}
		start = parsed
	}

	var duration float64
	if text := strings.TrimSpace(in.DurationText); text != "" {
		parsed, ok := timecode.ParseSeconds(text)
		if !ok {
			return result, fmt.Errorf("invalid duration: %q", text)
		}
		duration = parsed
	} else {
		if !spec.knownDuration() {
			return result, fmt.Errorf("duration is required when the media length is unknown")
		}
		duration = spec.MediaDurationSeconds - start
	}

	if start < 0 {
		return result, fmt.Errorf("start time cannot be negative")
	}
	if duration <= 0 {
		return result, fmt.Errorf("duration must be greater than zero")
	}

	if spec.knownDuration() {
		total := spec.MediaDurationSeconds
		if start >= total {
			return result, fmt.Errorf("start time %s is at or after the end of the media", timecode.FormatSeconds(start, true))
		}
		remaining := total - start
		if remaining <= Epsilon {
			return result, fmt.Errorf("no time remaining after start %s", timecode.FormatSeconds(start, true))
		}
		if duration > remaining {
			if duration-remaining > Epsilon {
				result.Notices = append(result.Notices, fmt.Sprintf(
					"duration clamped to %s to fit the remaining video",
					timecode.FormatSeconds(remaining, true)))
			}
			duration = remaining
		}
	}

	result.Jobs = append(result.Jobs, makeJob(spec, 0, start, duration))
	return result, nil
}

// BuildAutoSplit validates fixed-length splitting into sequential jobs.
//
// The total media duration must be known since the cursor needs a finite
// end. Each job covers min(clipLength, remaining) seconds.
func BuildAutoSplit(spec Spec, in AutoSplitInput) (domain.ValidationResult, error) {
	var result domain.ValidationResult

	if !spec.knownDuration() {
		return result, fmt.Errorf("auto-split requires a known media duration")
	}

	start := 0.0
	if text := strings.TrimSpace(in.StartText); text != "" {
		parsed, ok := timecode.ParseSeconds(text)
		if !ok {
			return result, fmt.Errorf("invalid start time: %q", text)
		}
		start = parsed
	}

	clipLength, ok := timecode.ParseSeconds(strings.TrimSpace(in.ClipLengthText))
	if !ok {
		return result, fmt.Errorf("invalid clip length: %q", in.ClipLengthText)
	}
	if clipLength <= 0 {
		return result, fmt.Errorf("clip length must be greater than zero")
	}
	if start < 0 {
		return result, fmt.Errorf("start time cannot be negative")
	}

	total := spec.MediaDurationSeconds
	cursor := start
	for total-cursor > Epsilon {
		duration := math.Min(clipLength, total-cursor)
		result.Jobs = append(result.Jobs, makeJob(spec, len(result.Jobs), cursor, duration))
		cursor += duration
	}

	if len(result.Jobs) == 0 {
		return domain.ValidationResult{}, fmt.Errorf("start time %s leaves nothing to split", timecode.FormatSeconds(start, true))
	}
	return result, nil
}

// BuildMultiRange validates an ordered list of start/end rows.
//
// Rows with both fields blank are skipped with a notice. A blank start
// defaults to the previous accepted row's end (zero for the first). A blank
// end defaults to the total media duration when known and fails otherwise.
// Rows whose defaulted window collapses are skipped when the end was blank
// and rejected when it was explicit.
func BuildMultiRange(spec Spec, rows []RangeRow) (domain.ValidationResult, error) {
	var result domain.ValidationResult

	previousEnd := 0.0
	for i, row := range rows {
		rowNum := i + 1
		startText := strings.TrimSpace(row.StartText)
		endText := strings.TrimSpace(row.EndText)

		if startText == "" && endText == "" {
			result.Notices = append(result.Notices, fmt.Sprintf("range %d is empty and was skipped", rowNum))
			continue
		}

		start := previousEnd
		if startText != "" {
			parsed, ok := timecode.ParseSeconds(startText)
			if !ok {
				return domain.ValidationResult{}, fmt.Errorf("range %d: invalid start time %q", rowNum, startText)
			}
			start = parsed
		} else {
			result.Notices = append(result.Notices, fmt.Sprintf(
				"range %d start defaulted to %s", rowNum, timecode.FormatSeconds(start, true)))
		}

		endBlank := endText == ""
		var end float64
		if endBlank {
			if !spec.knownDuration() {
				return domain.ValidationResult{}, fmt.Errorf("range %d: end time is required when the media length is unknown", rowNum)
			}
			end = spec.MediaDurationSeconds
			result.Notices = append(result.Notices, fmt.Sprintf(
				"range %d end defaulted to %s", rowNum, timecode.FormatSeconds(end, true)))
		} else {
			parsed, ok := timecode.ParseSeconds(endText)
			if !ok {
				return domain.ValidationResult{}, fmt.Errorf("range %d: invalid end time %q", rowNum, endText)
			}
			end = parsed
		}

		if start < 0 {
			return domain.ValidationResult{}, fmt.Errorf("range %d: start time cannot be negative", rowNum)
		}

		if spec.knownDuration() {
			total := spec.MediaDurationSeconds
			if start >= total {
				if endBlank {
					result.Notices = append(result.Notices, fmt.Sprintf(
						"range %d starts at or after the end of the media and was skipped", rowNum))
					continue
				}
				return domain.ValidationResult{}, fmt.Errorf(
					"range %d: start %s is at or after the end of the media", rowNum, timecode.FormatSeconds(start, true))
			}
			if end > total {
				if end-total > Epsilon {
					result.Notices = append(result.Notices, fmt.Sprintf(
						"range %d end clamped to %s", rowNum, timecode.FormatSeconds(total, true)))
				}
				end = total
			}
		}

		if end <= start+Epsilon {
			if endBlank {
				result.Notices = append(result.Notices, fmt.Sprintf(
					"range %d is shorter than a millisecond and was skipped", rowNum))
				continue
			}
			return domain.ValidationResult{}, fmt.Errorf(
				"range %d: end %s is not after start %s", rowNum,
				timecode.FormatSeconds(end, true), timecode.FormatSeconds(start, true))
		}

		result.Jobs = append(result.Jobs, makeJob(spec, len(result.Jobs), start, end-start))
		previousEnd = end
	}

	if len(result.Jobs) == 0 {
		return domain.ValidationResult{}, fmt.Errorf("no usable ranges were provided")
	}
	return result, nil
}

// makeJob builds one immutable job with its rendered output name and label.
func makeJob(spec Spec, idx int, startSeconds, durationSeconds float64) domain.Job {
	end := startSeconds + durationSeconds
	return domain.Job{
		OutputName:      RenderOutputName(spec.NamingPattern, spec.SourceName, idx, startSeconds, end, durationSeconds),
		StartSeconds:    startSeconds,
		DurationSeconds: durationSeconds,
		Label: fmt.Sprintf("clip %d (%s - %s)", idx+1,
			timecode.FormatSeconds(startSeconds, true), timecode.FormatSeconds(end, true)),
	}
}
