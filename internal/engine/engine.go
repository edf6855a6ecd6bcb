// Package engine wraps the single ffmpeg worker used to cut clips.
package engine

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"video-clipper/internal/domain"
	"video-clipper/internal/timecode"
)

// ErrNotLoaded is returned when the engine is used before Load.
var ErrNotLoaded = errors.New("engine is not loaded")

// CommandLog captures one external command invocation result.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stderr   string   `json:"stderr"`
}

// EngineError is an operation-aware error with optional command context.
type EngineError struct {
	Op         string     `json:"op"`
	Message    string     `json:"message"`
	CommandLog CommandLog `json:"commandLog"`
	Err        error      `json:"-"`
}

// Error formats engine failures for logs and UI.
func (e *EngineError) Error() string {
	if e == nil {
		return ""
	}
	if e.CommandLog.Command == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: %s (cmd=%s exit=%d)", e.Op, e.Message, e.CommandLog.Command, e.CommandLog.ExitCode)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *EngineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// commandResult is an internal process execution response.
type commandResult struct {
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability. Lines written
// to stdout are forwarded to onLine as they arrive.
type commandRunner interface {
	Run(ctx context.Context, name string, args []string, onLine func(string)) (commandResult, error)
}

// execRunner executes commands via os/exec and streams stdout lines.
type execRunner struct{}

// Run executes one command, forwarding stdout lines and capturing stderr.
func (r *execRunner) Run(ctx context.Context, name string, args []string, onLine func(string)) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return commandResult{ExitCode: -1}, err
	}

	if err := cmd.Start(); err != nil {
		return commandResult{ExitCode: -1}, err
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if onLine != nil {
			onLine(scanner.Text())
		}
	}

	err = cmd.Wait()
	result := commandResult{
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

// LogFunc receives completed command logs for diagnostics.
type LogFunc func(log CommandLog)

// Engine owns the lifecycle of the single ffmpeg worker and its working
// storage. Callers never issue two concurrent TranscodeClip calls; the
// queue runner serializes jobs.
type Engine struct {
	ffmpegPath string
	runner     commandRunner
	onLog      LogFunc

	mkdirTemp func(dir, pattern string) (string, error)
	removeAll func(path string) error
	remove    func(name string) error
	readFile  func(name string) ([]byte, error)
	openFile  func(name string) (io.ReadCloser, error)
	create    func(name string) (io.WriteCloser, error)
	lookPath  func(file string) (string, error)

	mu           sync.Mutex
	loaded       bool
	loading      chan struct{}
	workDir      string
	activeCancel context.CancelFunc
}

// New constructs the production engine with OS dependencies.
func New(ffmpegPath string, onLog LogFunc) *Engine {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Engine{
		ffmpegPath: ffmpegPath,
		runner:     &execRunner{},
		onLog:      onLog,
		mkdirTemp:  os.MkdirTemp,
		removeAll:  os.RemoveAll,
		remove:     os.Remove,
		readFile:   os.ReadFile,
		openFile: func(name string) (io.ReadCloser, error) {
			return os.Open(name)
		},
		create: func(name string) (io.WriteCloser, error) {
			return os.Create(name)
		},
		lookPath: exec.LookPath,
	}
}

// Load initializes the engine once. Concurrent callers share the same
// in-flight initialization; callers after a successful Load return
// immediately.
func (e *Engine) Load(ctx context.Context) error {
	for {
		e.mu.Lock()
		if e.loaded {
			e.mu.Unlock()
			return nil
		}
		if e.loading == nil {
			e.loading = make(chan struct{})
			e.mu.Unlock()
			break
		}
		waiting := e.loading
		e.mu.Unlock()

		select {
		case <-waiting:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	err := e.initialize()

	e.mu.Lock()
	close(e.loading)
	e.loading = nil
	e.loaded = err == nil
	e.mu.Unlock()
	return err
}

// initialize resolves the ffmpeg binary and creates the working directory.
func (e *Engine) initialize() error {
	if _, err := e.lookPath(e.ffmpegPath); err != nil {
		return &EngineError{
			Op:      "load",
			Message: fmt.Sprintf("ffmpeg binary not found: %s", e.ffmpegPath),
			Err:     err,
		}
	}

	workDir, err := e.mkdirTemp("", "video-clipper-*")
	if err != nil {
		return &EngineError{
			Op:      "load",
			Message: "failed to create engine working directory",
			Err:     err,
		}
	}

	e.mu.Lock()
	e.workDir = workDir
	e.mu.Unlock()
	return nil
}

// StageInput copies the source media into engine storage under a unique
// generated name, preserving the original extension (mp4 when absent).
// It returns the staged name for later TranscodeClip and RemoveFile calls.
func (e *Engine) StageInput(ctx context.Context, sourcePath string) (string, error) {
	workDir, err := e.workDirOrErr()
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(sourcePath), "."))
	if ext == "" {
		ext = "mp4"
	}
	staged := fmt.Sprintf("in-%s.%s", uuid.New().String(), ext)

	src, err := e.openFile(sourcePath)
	if err != nil {
		return "", &EngineError{
			Op:      "stage",
			Message: fmt.Sprintf("cannot open source media: %s", sourcePath),
			Err:     err,
		}
	}
	defer src.Close()

	dst, err := e.create(filepath.Join(workDir, staged))
	if err != nil {
		return "", &EngineError{
			Op:      "stage",
			Message: "cannot create staged input file",
			Err:     err,
		}
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = e.remove(filepath.Join(workDir, staged))
		return "", &EngineError{
			Op:      "stage",
			Message: "failed to copy source media into engine storage",
			Err:     err,
		}
	}
	if err := dst.Close(); err != nil {
		return "", &EngineError{
			Op:      "stage",
			Message: "failed to finalize staged input file",
			Err:     err,
		}
	}

	return staged, nil
}

// TranscodeClip cuts one clip from the staged input with the fixed
// re-encode profile and returns the produced bytes. The temporary output
// is always removed from engine storage, and fractional progress is
// forwarded raw to onProgress.
func (e *Engine) TranscodeClip(ctx context.Context, stagedInput string, job domain.Job, onProgress func(fraction float64)) ([]byte, error) {
	workDir, err := e.workDirOrErr()
	if err != nil {
		return nil, err
	}

	outName := fmt.Sprintf("out-%s.mp4", uuid.New().String())
	outPath := filepath.Join(workDir, outName)
	args := buildClipArgs(filepath.Join(workDir, stagedInput), outPath, job)

	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.activeCancel = cancel
	e.mu.Unlock()
	defer func() {
		cancel()
		e.mu.Lock()
		e.activeCancel = nil
		e.mu.Unlock()
	}()

	tracker := newProgressTracker(job.DurationSeconds)
	result, runErr := e.runner.Run(runCtx, e.ffmpegPath, args, func(line string) {
		if fraction, ok := tracker.Update(line); ok && onProgress != nil {
			onProgress(fraction)
		}
	})

	log := CommandLog{
		Command:  e.ffmpegPath,
		Args:     args,
		ExitCode: result.ExitCode,
		Stderr:   result.Stderr,
	}
	if e.onLog != nil {
		e.onLog(log)
	}

	if runErr != nil {
		_ = e.remove(outPath)
		if ctxErr := runCtx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &EngineError{
			Op:         "transcode",
			Message:    fmt.Sprintf("ffmpeg failed for %s", job.OutputName),
			CommandLog: log,
			Err:        runErr,
		}
	}

	data, err := e.readFile(outPath)
	_ = e.remove(outPath)
	if err != nil {
		return nil, &EngineError{
			Op:         "transcode",
			Message:    "ffmpeg reported success but the output file is unreadable",
			CommandLog: log,
			Err:        err,
		}
	}
	return data, nil
}

// RemoveFile deletes a staged or temporary file from engine storage.
// Removal is best-effort; a missing file is not an error.
func (e *Engine) RemoveFile(name string) {
	e.mu.Lock()
	workDir := e.workDir
	e.mu.Unlock()
	if workDir == "" || name == "" {
		return
	}
	_ = e.remove(filepath.Join(workDir, filepath.Base(name)))
}

// Terminate tears the engine down entirely: any in-flight transcode is
// killed and working storage is discarded. A fresh Load is required before
// further use. This is the cancellation fallback for an engine with no
// finer-grained interrupt.
func (e *Engine) Terminate() {
	e.mu.Lock()
	cancel := e.activeCancel
	workDir := e.workDir
	e.loaded = false
	e.workDir = ""
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if workDir != "" {
		_ = e.removeAll(workDir)
	}
}

// workDirOrErr returns engine storage or ErrNotLoaded before Load.
func (e *Engine) workDirOrErr() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded || e.workDir == "" {
		return "", ErrNotLoaded
	}
	return e.workDir, nil
}

// buildClipArgs builds the fixed, non-negotiable ffmpeg argument profile:
// seek-accurate re-encode to H.264/AAC with faststart metadata placement.
// Stream copy is never used so clip boundaries stay frame-exact regardless
// of source keyframe placement.
func buildClipArgs(inputPath, outputPath string, job domain.Job) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-nostats",
		"-progress", "pipe:1",
		"-ss", timecode.FormatForEngine(job.StartSeconds),
		"-t", timecode.FormatForEngine(job.DurationSeconds),
		"-i", inputPath,
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		"-y",
		outputPath,
	}
}

// NewEngineForTests constructs an engine with injectable dependencies.
func NewEngineForTests(
	ffmpegPath string,
	runner commandRunner,
	onLog LogFunc,
	mkdirTemp func(dir, pattern string) (string, error),
	removeAll func(path string) error,
	remove func(name string) error,
	readFile func(name string) ([]byte, error),
	openFile func(name string) (io.ReadCloser, error),
	create func(name string) (io.WriteCloser, error),
	lookPath func(file string) (string, error),
) *Engine {
	return &Engine{
		ffmpegPath: ffmpegPath,
		runner:     runner,
		onLog:      onLog,
		mkdirTemp:  mkdirTemp,
		removeAll:  removeAll,
		remove:     remove,
		readFile:   readFile,
		openFile:   openFile,
		create:     create,
		lookPath:   lookPath,
	}
}
