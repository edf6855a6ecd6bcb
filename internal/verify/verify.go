// Package verify probes produced media buffers for actual playability.
package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"
)

// DefaultTimeout bounds one verification probe.
const DefaultTimeout = 10 * time.Second

// Verification is the outcome of probing one produced buffer. The engine
// can report success while emitting a corrupt or empty-duration container,
// so this is the last check before a clip is offered for download.
type Verification struct {
	Playable        bool    `json:"playable"`
	DurationSeconds float64 `json:"durationSeconds"`
	ErrorMessage    string  `json:"errorMessage,omitempty"`
}

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// probeStream is one decoded stream entry from ffprobe JSON output.
type probeStream struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
}

// probeFormat is the container-level slice of ffprobe JSON output.
type probeFormat struct {
	Duration string `json:"duration"`
	Size     string `json:"size"`
}

// probeOutput is the raw ffprobe JSON document.
type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

// Prober verifies media buffers and inspects source files via ffprobe.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
	runner      commandRunner
	writeTemp   func(data []byte) (string, error)
	remove      func(name string) error
}

// NewProber constructs the production prober.
func NewProber(ffprobePath string, timeout time.Duration) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     timeout,
		runner:      &execRunner{},
		writeTemp:   writeTempFile,
		remove:      os.Remove,
	}
}

// Verify stages the buffer as a probe-able file and confirms it decodes as
// playable media within the prober's timeout. A timeout or probe failure
// yields a non-playable verdict with a reason, never a panic or hang.
func (p *Prober) Verify(ctx context.Context, data []byte) Verification {
	if len(data) == 0 {
		return Verification{ErrorMessage: "produced buffer is empty"}
	}

	path, err := p.writeTemp(data)
	if err != nil {
		return Verification{ErrorMessage: fmt.Sprintf("cannot stage buffer for probing: %v", err)}
	}
	defer func() { _ = p.remove(path) }()

	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	duration, err := p.probeDuration(probeCtx, path)
	if err != nil {
		if errors.Is(probeCtx.Err(), context.DeadlineExceeded) {
			return Verification{ErrorMessage: "verification timed out"}
		}
		return Verification{ErrorMessage: err.Error()}
	}
	if duration <= 0 {
		return Verification{ErrorMessage: "container reports no duration"}
	}

	return Verification{Playable: true, DurationSeconds: duration}
}

// ProbeDurationOf reads the playable duration of a media file on disk.
// Used when loading a source to feed total duration into validation.
func (p *Prober) ProbeDurationOf(ctx context.Context, path string) (float64, error) {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.probeDuration(probeCtx, path)
}

// probeDuration runs ffprobe and extracts a positive duration reading.
func (p *Prober) probeDuration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	result, runErr := p.runner.Run(ctx, p.ffprobePath, args...)
	if runErr != nil {
		return 0, fmt.Errorf("media is not decodable (ffprobe exit %d)", result.ExitCode)
	}

	var output probeOutput
	if err := json.Unmarshal([]byte(result.Stdout), &output); err != nil {
		return 0, fmt.Errorf("unreadable probe output: %w", err)
	}
	if len(output.Streams) == 0 {
		return 0, fmt.Errorf("no decodable streams found")
	}
	if output.Format.Duration == "" {
		return 0, fmt.Errorf("container reports no duration")
	}

	duration, err := strconv.ParseFloat(output.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("cannot parse duration %q: %w", output.Format.Duration, err)
	}
	return duration, nil
}

// writeTempFile stages a buffer for probing.
func writeTempFile(data []byte) (string, error) {
	f, err := os.CreateTemp("", "clip-verify-*.mp4")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// NewProberForTests constructs a prober with injectable dependencies.
func NewProberForTests(
	ffprobePath string,
	timeout time.Duration,
	runner commandRunner,
	writeTemp func(data []byte) (string, error),
	remove func(name string) error,
) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     timeout,
		runner:      runner,
		writeTemp:   writeTemp,
		remove:      remove,
	}
}
