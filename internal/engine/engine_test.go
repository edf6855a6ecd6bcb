package engine

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"video-clipper/internal/domain"
)

// fakeRunner simulates ffmpeg execution and captures invocations.
type fakeRunner struct {
	run func(ctx context.Context, name string, args []string, onLine func(string)) (commandResult, error)
}

// Run delegates to injected behavior.
func (f *fakeRunner) Run(ctx context.Context, name string, args []string, onLine func(string)) (commandResult, error) {
	if f.run == nil {
		return commandResult{}, nil
	}
	return f.run(ctx, name, args, onLine)
}

// newTestEngine builds an engine over real temp-dir OS deps with a fake runner.
func newTestEngine(t *testing.T, runner commandRunner, onLog LogFunc) *Engine {
	t.Helper()
	root := t.TempDir()
	return NewEngineForTests(
		"ffmpeg",
		runner,
		onLog,
		func(dir, pattern string) (string, error) {
			return os.MkdirTemp(root, pattern)
		},
		os.RemoveAll,
		os.Remove,
		os.ReadFile,
		func(name string) (io.ReadCloser, error) { return os.Open(name) },
		func(name string) (io.WriteCloser, error) { return os.Create(name) },
		func(file string) (string, error) { return "/usr/bin/ffmpeg", nil },
	)
}

// TestLoadIsIdempotentAndShared checks single-flight initialization.
func TestLoadIsIdempotentAndShared(t *testing.T) {
	created := 0
	root := t.TempDir()
	e := NewEngineForTests(
		"ffmpeg",
		&fakeRunner{},
		nil,
		func(dir, pattern string) (string, error) {
			created++
			return os.MkdirTemp(root, pattern)
		},
		os.RemoveAll,
		os.Remove,
		os.ReadFile,
		func(name string) (io.ReadCloser, error) { return os.Open(name) },
		func(name string) (io.WriteCloser, error) { return os.Create(name) },
		func(file string) (string, error) { return "/usr/bin/ffmpeg", nil },
	)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.Load(context.Background()); err != nil {
				t.Errorf("Load: %v", err)
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Fatalf("working directories created = %d, want 1", created)
	}
}

// TestLoadFailsWhenBinaryMissing checks tool resolution errors.
func TestLoadFailsWhenBinaryMissing(t *testing.T) {
	e := NewEngineForTests(
		"ffmpeg",
		&fakeRunner{},
		nil,
		os.MkdirTemp,
		os.RemoveAll,
		os.Remove,
		os.ReadFile,
		func(name string) (io.ReadCloser, error) { return os.Open(name) },
		func(name string) (io.WriteCloser, error) { return os.Create(name) },
		func(file string) (string, error) { return "", errors.New("not found") },
	)

	err := e.Load(context.Background())
	if err == nil {
		t.Fatal("expected load error")
	}
	var engErr *EngineError
	if !errors.As(err, &engErr) || engErr.Op != "load" {
		t.Fatalf("error = %v, want load EngineError", err)
	}
}

// TestStageInputGeneratesUniqueNames checks staging and extension handling.
func TestStageInputGeneratesUniqueNames(t *testing.T) {
	e := newTestEngine(t, &fakeRunner{}, nil)
	if err := e.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	src := filepath.Join(t.TempDir(), "movie.MOV")
	if err := os.WriteFile(src, []byte("media"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	first, err := e.StageInput(context.Background(), src)
	if err != nil {
		t.Fatalf("StageInput: %v", err)
	}
	second, err := e.StageInput(context.Background(), src)
	if err != nil {
		t.Fatalf("StageInput: %v", err)
	}

	if !strings.HasSuffix(first, ".mov") {
		t.Fatalf("staged name = %q, want preserved extension", first)
	}
	if first == second {
		t.Fatalf("staged names collide: %q", first)
	}

	noExt := filepath.Join(t.TempDir(), "movie")
	if err := os.WriteFile(noExt, []byte("media"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	staged, err := e.StageInput(context.Background(), noExt)
	if err != nil {
		t.Fatalf("StageInput: %v", err)
	}
	if !strings.HasSuffix(staged, ".mp4") {
		t.Fatalf("staged name = %q, want mp4 default extension", staged)
	}
}

// TestStageInputRequiresLoad checks the unloaded guard.
func TestStageInputRequiresLoad(t *testing.T) {
	e := newTestEngine(t, &fakeRunner{}, nil)
	if _, err := e.StageInput(context.Background(), "/nope.mp4"); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("error = %v, want ErrNotLoaded", err)
	}
}

// TestTranscodeClipSuccess checks argument profile, progress, and cleanup.
func TestTranscodeClipSuccess(t *testing.T) {
	var gotArgs []string
	var logged CommandLog
	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args []string, onLine func(string)) (commandResult, error) {
			gotArgs = append([]string{}, args...)
			onLine("out_time=00:00:02.500000")
			onLine("out_time=00:00:05.000000")
			onLine("progress=end")
			outPath := args[len(args)-1]
			if err := os.WriteFile(outPath, []byte("clip-bytes"), 0o644); err != nil {
				return commandResult{ExitCode: -1}, err
			}
			return commandResult{ExitCode: 0}, nil
		},
	}

	e := newTestEngine(t, runner, func(log CommandLog) { logged = log })
	if err := e.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	src := filepath.Join(t.TempDir(), "movie.mp4")
	if err := os.WriteFile(src, []byte("media"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	staged, err := e.StageInput(context.Background(), src)
	if err != nil {
		t.Fatalf("StageInput: %v", err)
	}

	var fractions []float64
	job := domain.Job{OutputName: "clip.mp4", StartSeconds: 10, DurationSeconds: 5}
	data, err := e.TranscodeClip(context.Background(), staged, job, func(f float64) {
		fractions = append(fractions, f)
	})
	if err != nil {
		t.Fatalf("TranscodeClip: %v", err)
	}

	if string(data) != "clip-bytes" {
		t.Fatalf("data = %q, want clip-bytes", data)
	}
	if len(fractions) != 3 || fractions[0] != 0.5 || fractions[2] != 1 {
		t.Fatalf("fractions = %v, want rising to 1", fractions)
	}
	if logged.Command != "ffmpeg" {
		t.Fatalf("logged command = %q", logged.Command)
	}

	for _, want := range [][2]string{
		{"-ss", "00:00:10.000"},
		{"-t", "00:00:05.000"},
		{"-c:v", "libx264"},
		{"-preset", "fast"},
		{"-crf", "23"},
		{"-c:a", "aac"},
		{"-b:a", "128k"},
		{"-movflags", "+faststart"},
	} {
		if got := argValue(gotArgs, want[0]); got != want[1] {
			t.Fatalf("arg %s = %q, want %q (args=%v)", want[0], got, want[1], gotArgs)
		}
	}

	// Temporary output must not survive the call.
	outPath := gotArgs[len(gotArgs)-1]
	if _, statErr := os.Stat(outPath); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("temporary output still present, stat err = %v", statErr)
	}
}

// TestTranscodeClipNonZeroExit checks engine failure reporting.
func TestTranscodeClipNonZeroExit(t *testing.T) {
	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args []string, onLine func(string)) (commandResult, error) {
			return commandResult{Stderr: "encoder blew up", ExitCode: 1}, errors.New("exit status 1")
		},
	}

	e := newTestEngine(t, runner, nil)
	if err := e.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	src := filepath.Join(t.TempDir(), "movie.mp4")
	if err := os.WriteFile(src, []byte("media"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	staged, err := e.StageInput(context.Background(), src)
	if err != nil {
		t.Fatalf("StageInput: %v", err)
	}

	_, err = e.TranscodeClip(context.Background(), staged, domain.Job{OutputName: "c.mp4", DurationSeconds: 5}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var engErr *EngineError
	if !errors.As(err, &engErr) {
		t.Fatalf("error type = %T, want *EngineError", err)
	}
	if engErr.CommandLog.ExitCode != 1 || !strings.Contains(engErr.CommandLog.Stderr, "blew up") {
		t.Fatalf("command log = %+v", engErr.CommandLog)
	}
}

// TestTranscodeClipCancelledContext checks cancellation surfaces as ctx error.
func TestTranscodeClipCancelledContext(t *testing.T) {
	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args []string, onLine func(string)) (commandResult, error) {
			<-ctx.Done()
			return commandResult{ExitCode: -1}, ctx.Err()
		},
	}

	e := newTestEngine(t, runner, nil)
	if err := e.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	src := filepath.Join(t.TempDir(), "movie.mp4")
	if err := os.WriteFile(src, []byte("media"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	staged, err := e.StageInput(context.Background(), src)
	if err != nil {
		t.Fatalf("StageInput: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.TranscodeClip(ctx, staged, domain.Job{OutputName: "c.mp4", DurationSeconds: 5}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

// TestTerminateRequiresFreshLoad checks teardown semantics.
func TestTerminateRequiresFreshLoad(t *testing.T) {
	e := newTestEngine(t, &fakeRunner{}, nil)
	if err := e.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	e.Terminate()
	if _, err := e.StageInput(context.Background(), "/nope.mp4"); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("error = %v, want ErrNotLoaded after terminate", err)
	}

	if err := e.Load(context.Background()); err != nil {
		t.Fatalf("reload after terminate: %v", err)
	}
}

// TestProgressTrackerMonotonic checks parsing and monotonic filtering.
func TestProgressTrackerMonotonic(t *testing.T) {
	tracker := newProgressTracker(10)

	if _, ok := tracker.Update("frame=25"); ok {
		t.Fatal("frame line should not advance progress")
	}
	f, ok := tracker.Update("out_time=00:00:05.000000")
	if !ok || f != 0.5 {
		t.Fatalf("fraction = %v/%v, want 0.5/true", f, ok)
	}
	if _, ok := tracker.Update("out_time=00:00:04.000000"); ok {
		t.Fatal("regressing time should not advance progress")
	}
	f, ok = tracker.Update("out_time=00:00:20.000000")
	if !ok || f != 1 {
		t.Fatalf("fraction = %v/%v, want clamped 1/true", f, ok)
	}
	f, ok = tracker.Update("progress=end")
	if !ok || f != 1 {
		t.Fatalf("progress=end = %v/%v, want 1/true", f, ok)
	}
}

// argValue returns value for key-style CLI args.
func argValue(args []string, key string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == key {
			return args[i+1]
		}
	}
	return ""
}
