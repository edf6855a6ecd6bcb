// Package queue drains validated job lists through the transcoding engine.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"video-clipper/internal/domain"
	"video-clipper/internal/logging"
	"video-clipper/internal/verify"
)

// ErrCancelled is raised at the pause/cancel checkpoint when a run is
// cancelled. It travels the same failure path as engine errors but is
// reported with cancellation-specific status text.
var ErrCancelled = errors.New("run cancelled")

// ErrRunActive is returned when starting a run while one is in flight.
var ErrRunActive = errors.New("a run is already active")

// ErrNoActiveRun is returned for pause/resume/cancel in idle state.
var ErrNoActiveRun = errors.New("no active run")

// etaNoiseFloor is the clip fraction below which linear extrapolation of
// the current clip's remainder is considered noise.
const etaNoiseFloor = 0.01

// Transcoder is the engine surface the runner drives, one job at a time.
type Transcoder interface {
	Load(ctx context.Context) error
	StageInput(ctx context.Context, sourcePath string) (string, error)
	TranscodeClip(ctx context.Context, stagedInput string, job domain.Job, onProgress func(fraction float64)) ([]byte, error)
	RemoveFile(name string)
	Terminate()
}

// Verifier probes produced bytes for actual playability.
type Verifier interface {
	Verify(ctx context.Context, data []byte) verify.Verification
}

// Recorder persists run summaries. Failures are logged, never surfaced.
type Recorder interface {
	Record(ctx context.Context, summary domain.RunSummary) error
}

// Request describes one run over a validated, ordered job list.
type Request struct {
	RunID         string
	SourcePath    string
	SourceName    string
	Mode          domain.Mode
	NamingPattern string
	Jobs          []domain.Job
	Notices       []string
	Ranges        []domain.RangeTemplate
}

// Result is the terminal outcome of one run.
type Result struct {
	Status         domain.RunStatus    `json:"status"`
	Message        string              `json:"message"`
	CompletedClips int                 `json:"completedClips"`
	TotalClips     int                 `json:"totalClips"`
	Outputs        []domain.ClipRecord `json:"outputs"`
}

// Runner executes runs sequentially through the single engine worker,
// aggregating per-job progress and honoring the pause/cancel gate between
// jobs. The calling surface serializes Run invocations.
type Runner struct {
	engine    Transcoder
	verifier  Verifier
	recorder  Recorder
	events    *EventBus
	logger    *slog.Logger
	runLogger *slog.Logger

	mu            sync.Mutex
	cond          *sync.Cond
	status        domain.RunStatus
	paused        bool
	cancelled     bool
	runID         string
	totalClips    int
	completed     int
	clipStartedAt time.Time
	clipDurations []time.Duration
	outputs       []domain.ClipRecord
	payloads      map[string][]byte
}

// NewRunner builds a runner in idle state.
func NewRunner(engine Transcoder, verifier Verifier, recorder Recorder, events *EventBus, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		engine:    engine,
		verifier:  verifier,
		recorder:  recorder,
		events:    events,
		logger:    logger,
		runLogger: logger,
		status:    domain.RunStatusIdle,
		payloads:  map[string][]byte{},
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Run drains the request's jobs in order and returns the terminal result.
// It blocks for the full run; callers start it on its own goroutine.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	r.mu.Lock()
	if r.status == domain.RunStatusRunning || r.status == domain.RunStatusPaused {
		r.mu.Unlock()
		return Result{}, ErrRunActive
	}
	r.status = domain.RunStatusRunning
	r.paused = false
	r.cancelled = false
	r.runID = req.RunID
	r.runLogger = logging.WithRunID(r.logger, req.RunID)
	r.totalClips = len(req.Jobs)
	r.completed = 0
	r.clipDurations = nil
	r.outputs = nil
	r.payloads = map[string][]byte{}
	r.mu.Unlock()

	r.publishStatus(req.RunID, domain.RunStatusRunning,
		fmt.Sprintf("run started with %d clip(s)", len(req.Jobs)))
	for _, notice := range req.Notices {
		r.events.Publish(Event{RunID: req.RunID, Type: EventTypeNotice, Message: notice})
	}

	var staged string
	runErr := func() error {
		if err := r.engine.Load(ctx); err != nil {
			return err
		}

		var err error
		staged, err = r.engine.StageInput(ctx, req.SourcePath)
		if err != nil {
			return err
		}

		for i, job := range req.Jobs {
			if err := r.awaitGate(); err != nil {
				return err
			}

			r.beginClip()
			r.events.Publish(Event{
				RunID:    req.RunID,
				Type:     EventTypeProgress,
				Message:  job.Label,
				Progress: r.snapshotProgress(i, 0),
			})

			data, err := r.engine.TranscodeClip(ctx, staged, job, func(fraction float64) {
				r.events.Publish(Event{
					RunID:    req.RunID,
					Type:     EventTypeProgress,
					Progress: r.snapshotProgress(i, fraction),
				})
			})
			if err != nil {
				return err
			}

			record := r.finishClip(ctx, job, data)
			r.events.Publish(Event{RunID: req.RunID, Type: EventTypeClip, Clip: &record})
		}
		return nil
	}()

	result := r.settle(ctx, req, runErr)

	if staged != "" {
		r.engine.RemoveFile(staged)
	}
	r.mu.Lock()
	r.status = domain.RunStatusIdle
	r.paused = false
	r.cancelled = false
	r.mu.Unlock()

	return result, nil
}

// settle maps the run outcome onto a terminal status and publishes it.
func (r *Runner) settle(ctx context.Context, req Request, runErr error) Result {
	r.mu.Lock()
	completed := r.completed
	total := r.totalClips
	outputs := append([]domain.ClipRecord(nil), r.outputs...)
	cancelled := r.cancelled
	r.mu.Unlock()

	result := Result{
		CompletedClips: completed,
		TotalClips:     total,
		Outputs:        outputs,
	}

	switch {
	case runErr == nil:
		result.Status = domain.RunStatusCompleted
		result.Message = fmt.Sprintf("finished %d clip(s)", completed)

		summary := r.buildSummary(req, outputs)
		if err := r.recorder.Record(ctx, summary); err != nil {
			r.runLogger.Warn("record run history", "error", err)
		}

	case cancelled || errors.Is(runErr, ErrCancelled) || errors.Is(runErr, context.Canceled):
		result.Status = domain.RunStatusCancelled
		result.Message = fmt.Sprintf("cancelled after %d of %d clip(s)", completed, total)

	default:
		result.Status = domain.RunStatusFailed
		result.Message = fmt.Sprintf("%v (%d of %d clip(s) finished)", runErr, completed, total)
		r.events.Publish(Event{
			RunID:   req.RunID,
			Type:    EventTypeError,
			Status:  domain.RunStatusFailed,
			Message: runErr.Error(),
		})
	}

	r.publishStatus(req.RunID, result.Status, result.Message)
	r.events.Publish(Event{
		RunID:   req.RunID,
		Type:    EventTypeResult,
		Status:  result.Status,
		Message: result.Message,
	})
	return result
}

// Pause suspends the queue before the next job starts. An in-flight
// transcode keeps running until it finishes.
func (r *Runner) Pause() error {
	r.mu.Lock()
	if r.status != domain.RunStatusRunning {
		r.mu.Unlock()
		return ErrNoActiveRun
	}
	r.status = domain.RunStatusPaused
	r.paused = true
	runID := r.runID
	r.cond.Broadcast()
	r.mu.Unlock()

	r.publishStatus(runID, domain.RunStatusPaused, "run paused")
	return nil
}

// Resume releases a paused queue.
func (r *Runner) Resume() error {
	r.mu.Lock()
	if r.status != domain.RunStatusPaused {
		r.mu.Unlock()
		return ErrNoActiveRun
	}
	r.status = domain.RunStatusRunning
	r.paused = false
	runID := r.runID
	r.cond.Broadcast()
	r.mu.Unlock()

	r.publishStatus(runID, domain.RunStatusRunning, "run resumed")
	return nil
}

// Cancel stops the run: the gate raises ErrCancelled before the next job,
// and the engine is force-terminated to discard an in-flight encode, since
// it has no finer-grained interrupt.
func (r *Runner) Cancel() error {
	r.mu.Lock()
	if r.status != domain.RunStatusRunning && r.status != domain.RunStatusPaused {
		r.mu.Unlock()
		return ErrNoActiveRun
	}
	r.cancelled = true
	r.paused = false
	runID := r.runID
	r.cond.Broadcast()
	r.mu.Unlock()

	r.engine.Terminate()
	r.publishStatus(runID, domain.RunStatusCancelled, "cancellation requested")
	return nil
}

// Status returns the runner's current lifecycle state.
func (r *Runner) Status() domain.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Outputs returns a snapshot of the clip records accumulated so far.
func (r *Runner) Outputs() []domain.ClipRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ClipRecord(nil), r.outputs...)
}

// ClipData returns the binary payload for a clip record. Payloads survive
// until the next run starts, when they are released wholesale.
func (r *Runner) ClipData(id string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.payloads[id]
	return data, ok
}

// awaitGate is the single cooperative checkpoint between jobs: it blocks
// while paused and raises ErrCancelled once cancelled.
func (r *Runner) awaitGate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.paused && !r.cancelled {
		r.cond.Wait()
	}
	if r.cancelled {
		return ErrCancelled
	}
	return nil
}

// beginClip marks the wall-clock start of the next job.
func (r *Runner) beginClip() {
	r.mu.Lock()
	r.clipStartedAt = time.Now()
	r.mu.Unlock()
}

// finishClip verifies a produced buffer and appends its clip record.
// Unplayable outputs are kept but flagged non-downloadable.
func (r *Runner) finishClip(ctx context.Context, job domain.Job, data []byte) domain.ClipRecord {
	verification := r.verifier.Verify(ctx, data)

	record := domain.ClipRecord{
		ID:                    uuid.New().String(),
		Name:                  job.OutputName,
		SizeBytes:             int64(len(data)),
		StartSeconds:          job.StartSeconds,
		DurationSeconds:       job.DurationSeconds,
		ActualDurationSeconds: verification.DurationSeconds,
		VerifiedPlayable:      verification.Playable,
		VerificationError:     verification.ErrorMessage,
	}
	if !verification.Playable {
		r.runLogger.Warn("clip failed verification",
			"clip", job.OutputName, "reason", verification.ErrorMessage)
	}

	r.mu.Lock()
	r.outputs = append(r.outputs, record)
	r.payloads[record.ID] = data
	r.completed++
	r.clipDurations = append(r.clipDurations, time.Since(r.clipStartedAt))
	r.mu.Unlock()

	return record
}

// snapshotProgress computes aggregate progress and ETA for one sample.
func (r *Runner) snapshotProgress(clipIdx int, fraction float64) *domain.ProgressUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := r.totalClips
	if total <= 0 {
		total = 1
	}
	overall := (float64(r.completed) + fraction) / float64(total)
	if overall > 1 {
		overall = 1
	}
	if overall < 0 {
		overall = 0
	}

	return &domain.ProgressUpdate{
		ClipIndex:    clipIdx,
		TotalClips:   r.totalClips,
		ClipFraction: fraction,
		Overall:      overall,
		ETASeconds:   r.etaLocked(fraction),
	}
}

// etaLocked projects remaining seconds: linear extrapolation for the
// current clip once past the noise floor, plus the running average of
// completed clip wall-clocks for the queued remainder. Returns -1 while
// no projection is possible.
func (r *Runner) etaLocked(fraction float64) float64 {
	elapsed := time.Since(r.clipStartedAt).Seconds()

	currentKnown := false
	currentRemainder := 0.0
	if fraction > etaNoiseFloor {
		currentRemainder = elapsed * (1 - fraction) / fraction
		currentKnown = true
	}

	average := 0.0
	averageKnown := len(r.clipDurations) > 0
	if averageKnown {
		var sum time.Duration
		for _, d := range r.clipDurations {
			sum += d
		}
		average = sum.Seconds() / float64(len(r.clipDurations))
	}

	if !currentKnown {
		if !averageKnown {
			return -1
		}
		currentRemainder = average
	}

	queued := r.totalClips - r.completed - 1
	if queued < 0 {
		queued = 0
	}
	return currentRemainder + average*float64(queued)
}

// buildSummary assembles the bounded-history entry for a completed run.
func (r *Runner) buildSummary(req Request, outputs []domain.ClipRecord) domain.RunSummary {
	summary := domain.RunSummary{
		ID:            req.RunID,
		CreatedAt:     time.Now().UTC(),
		SourceName:    req.SourceName,
		Mode:          req.Mode,
		NamingPattern: req.NamingPattern,
		ClipCount:     len(outputs),
		Ranges:        req.Ranges,
	}
	for _, clip := range outputs {
		summary.TotalSizeBytes += clip.SizeBytes
		summary.Clips = append(summary.Clips, domain.ClipSummary{
			Name:            clip.Name,
			SizeBytes:       clip.SizeBytes,
			StartSeconds:    clip.StartSeconds,
			DurationSeconds: clip.DurationSeconds,
			Playable:        clip.VerifiedPlayable,
		})
	}
	return summary
}

// publishStatus sends a normalized status event.
func (r *Runner) publishStatus(runID string, status domain.RunStatus, message string) {
	r.events.Publish(Event{
		RunID:   runID,
		Type:    EventTypeStatus,
		Status:  status,
		Message: message,
	})
}
