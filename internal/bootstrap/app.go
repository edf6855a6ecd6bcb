package bootstrap

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"video-clipper/internal/config"
	"video-clipper/internal/diagnostics"
	"video-clipper/internal/domain"
	"video-clipper/internal/engine"
	"video-clipper/internal/history"
	"video-clipper/internal/logging"
	"video-clipper/internal/plan"
	"video-clipper/internal/queue"
	"video-clipper/internal/verify"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

var videoDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Video files",
		Pattern:     "*.mp4;*.mov;*.mkv;*.avi;*.webm;*.m4v;*.ts",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

// RunForm carries raw user input for one run, per mode. Only the fields
// matching Mode are consulted.
type RunForm struct {
	Mode   domain.Mode           `json:"mode"`
	Single plan.SingleRangeInput `json:"single"`
	Auto   plan.AutoSplitInput   `json:"auto"`
	Rows   []plan.RangeRow       `json:"rows"`
}

// RunState is a snapshot of the runner for UI reconnects.
type RunState struct {
	RunID   string              `json:"runId"`
	Status  domain.RunStatus    `json:"status"`
	Outputs []domain.ClipRecord `json:"outputs"`
	Result  *queue.Result       `json:"result,omitempty"`
}

// App wires configuration, planning, the run queue, and UI runtime callbacks.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Tuning      *config.Tuning
	Runner      *queue.Runner
	Prober      *verify.Prober
	History     *history.Store
	Diagnostics domain.DiagnosticReport

	assets  fs.FS
	checker *diagnostics.Checker
	events  *queue.EventBus
	logger  *slog.Logger

	mu          sync.Mutex
	media       *domain.MediaInfo
	starting    bool
	activeRunID string
	lastResult  *queue.Result
	runtimeCtx  context.Context
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}

	tuning := config.DefaultTuning()
	if path := config.FindTuningFile(); path != "" {
		loaded, err := config.LoadTuningFile(path)
		if err != nil {
			return nil, fmt.Errorf("load tuning file: %w", err)
		}
		tuning = loaded
	}

	store := config.NewJSONStore(filepath.Join(homeDir, ".video-clipper", "settings.json"))
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	logger := logging.NewLogger(os.Getenv("VIDEO_CLIPPER_LOG_LEVEL"))

	historyStore, err := history.Open(
		filepath.Join(homeDir, ".video-clipper", "history.db"),
		tuning.HistoryCap,
		logging.WithComponent(logger, "history"),
	)
	if err != nil {
		return nil, fmt.Errorf("open run history: %w", err)
	}

	checker := diagnostics.NewChecker()
	report := checker.Run(settings)

	events := queue.NewEventBus(tuning.EventBufferSize)
	prober := verify.NewProber(tuning.FFprobePath, tuning.VerifyTimeout())
	eng := engine.New(tuning.FFmpegPath, func(log engine.CommandLog) {
		events.Publish(queue.Event{
			Type:     queue.EventTypeLog,
			Message:  "Command completed",
			Command:  log.Command,
			Args:     log.Args,
			ExitCode: log.ExitCode,
			Stderr:   log.Stderr,
		})
	})
	runner := queue.NewRunner(eng, prober, historyStore, events,
		logging.WithComponent(logger, "queue"))

	return &App{
		Settings:    settings,
		Store:       store,
		Tuning:      tuning,
		Runner:      runner,
		Prober:      prober,
		History:     historyStore,
		Diagnostics: report,
		assets:      assets,
		checker:     checker,
		events:      events,
		logger:      logger,
	}, nil
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Video Clipper",
		Width:       1180,
		Height:      780,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown: func(ctx context.Context) {
			a.mu.Lock()
			a.runtimeCtx = nil
			a.mu.Unlock()
			a.events.SetNotify(nil)
			_ = a.History.Close()
		},
		Bind: []interface{}{a},
	})
}

// Startup stores Wails runtime context and wires push event delivery.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	a.runtimeCtx = ctx
	a.mu.Unlock()

	a.events.SetNotify(func(event queue.Event) {
		a.mu.Lock()
		runtimeCtx := a.runtimeCtx
		a.mu.Unlock()
		if runtimeCtx != nil {
			wailsruntime.EventsEmit(runtimeCtx, "run:event", event)
		}
	})
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	return a.Diagnostics
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, then refreshes diagnostics.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := normalizeSettings(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = normalized
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(normalized)
	}
	a.mu.Unlock()

	return normalized, nil
}

// RefreshDiagnostics reloads settings and reruns dependency checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.Diagnostics = a.checker.Run(settings)
	report := a.Diagnostics
	a.mu.Unlock()
	return report, nil
}

// LoadMedia opens a native file dialog and probes the chosen source.
// An unreadable duration is not fatal: validation then treats the total
// as unknown and rejects the modes that need it.
func (a *App) LoadMedia() (domain.MediaInfo, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return domain.MediaInfo{}, err
	}

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select video file",
		Filters: videoDialogFilter,
	})
	if err != nil {
		return domain.MediaInfo{}, err
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return domain.MediaInfo{}, fmt.Errorf("no file selected")
	}

	info, err := os.Stat(path)
	if err != nil {
		return domain.MediaInfo{}, fmt.Errorf("read media file: %w", err)
	}

	media := domain.MediaInfo{
		Path:      path,
		Name:      filepath.Base(path),
		SizeBytes: info.Size(),
	}

	duration, err := a.Prober.ProbeDurationOf(context.Background(), path)
	if err != nil {
		a.logger.Warn("probe media duration", "path", logging.SanitizePath(path), "error", err)
	} else {
		media.DurationSeconds = duration
	}

	a.mu.Lock()
	a.media = &media
	a.mu.Unlock()

	return media, nil
}

// PlanSingleRange validates single-range input against the loaded media.
func (a *App) PlanSingleRange(input plan.SingleRangeInput) (domain.ValidationResult, error) {
	spec, err := a.planSpec()
	if err != nil {
		return domain.ValidationResult{}, err
	}
	return plan.BuildSingleRange(spec, input)
}

// PlanAutoSplit validates auto-split input against the loaded media.
func (a *App) PlanAutoSplit(input plan.AutoSplitInput) (domain.ValidationResult, error) {
	spec, err := a.planSpec()
	if err != nil {
		return domain.ValidationResult{}, err
	}
	return plan.BuildAutoSplit(spec, input)
}

// PlanMultiRange validates multi-range rows against the loaded media.
func (a *App) PlanMultiRange(rows []plan.RangeRow) (domain.ValidationResult, error) {
	spec, err := a.planSpec()
	if err != nil {
		return domain.ValidationResult{}, err
	}
	return plan.BuildMultiRange(spec, rows)
}

// StartRun validates the form, builds the run request, and drains it on a
// background goroutine. Returns the new run's ID.
func (a *App) StartRun(form RunForm) (string, error) {
	if err := a.reserveRunSlot(); err != nil {
		return "", err
	}
	launched := false
	defer func() {
		if !launched {
			a.releaseRunSlot()
		}
	}()

	a.mu.Lock()
	media := a.media
	a.mu.Unlock()
	if media == nil {
		return "", fmt.Errorf("no media loaded")
	}

	spec, err := a.planSpec()
	if err != nil {
		return "", err
	}

	var validated domain.ValidationResult
	var ranges []domain.RangeTemplate
	switch form.Mode {
	case domain.ModeSingle:
		validated, err = plan.BuildSingleRange(spec, form.Single)
	case domain.ModeAutoSplit:
		validated, err = plan.BuildAutoSplit(spec, form.Auto)
	case domain.ModeMulti:
		validated, err = plan.BuildMultiRange(spec, form.Rows)
		for _, row := range form.Rows {
			ranges = append(ranges, domain.RangeTemplate{
				Start: strings.TrimSpace(row.StartText),
				End:   strings.TrimSpace(row.EndText),
			})
		}
	default:
		return "", fmt.Errorf("unknown mode: %q", form.Mode)
	}
	if err != nil {
		return "", err
	}

	runID := uuid.New().String()
	req := queue.Request{
		RunID:         runID,
		SourcePath:    media.Path,
		SourceName:    media.Name,
		Mode:          form.Mode,
		NamingPattern: spec.NamingPattern,
		Jobs:          validated.Jobs,
		Notices:       validated.Notices,
		Ranges:        ranges,
	}

	a.mu.Lock()
	a.activeRunID = runID
	a.lastResult = nil
	a.Settings.LastMode = form.Mode
	settings := a.Settings
	a.mu.Unlock()
	if err := a.Store.Save(settings); err != nil {
		a.logger.Warn("persist last mode", "error", err)
	}

	launched = true
	go func() {
		defer a.releaseRunSlot()
		result, err := a.Runner.Run(context.Background(), req)
		if err != nil {
			logging.WithRunID(a.logger, runID).Warn("start run", "error", err)
			return
		}
		a.mu.Lock()
		a.lastResult = &result
		a.mu.Unlock()
	}()

	return runID, nil
}

// reserveRunSlot claims the single run slot. The runner's own status
// check cannot cover the window between StartRun's guard and the run
// goroutine actually entering Run, so the flag holds the slot across it.
func (a *App) reserveRunSlot() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.starting {
		return queue.ErrRunActive
	}
	if status := a.Runner.Status(); status == domain.RunStatusRunning || status == domain.RunStatusPaused {
		return queue.ErrRunActive
	}
	a.starting = true
	return nil
}

// releaseRunSlot frees the run slot after a run finishes or fails to start.
func (a *App) releaseRunSlot() {
	a.mu.Lock()
	a.starting = false
	a.mu.Unlock()
}

// PauseRun suspends the queue after the in-flight clip finishes.
func (a *App) PauseRun() error {
	return a.Runner.Pause()
}

// ResumeRun releases a paused queue.
func (a *App) ResumeRun() error {
	return a.Runner.Resume()
}

// CancelRun stops the active run and discards the in-flight clip.
func (a *App) CancelRun() error {
	return a.Runner.Cancel()
}

// RunEvents returns all events with sequence greater than sinceSeq.
func (a *App) RunEvents(sinceSeq int64) []queue.Event {
	return a.events.Since(sinceSeq)
}

// CurrentRun returns a snapshot of the runner for UI reconnects.
func (a *App) CurrentRun() RunState {
	a.mu.Lock()
	runID := a.activeRunID
	result := a.lastResult
	a.mu.Unlock()

	return RunState{
		RunID:   runID,
		Status:  a.Runner.Status(),
		Outputs: a.Runner.Outputs(),
		Result:  result,
	}
}

// ListHistory returns up to limit recorded run summaries, newest first.
func (a *App) ListHistory(limit int) ([]domain.RunSummary, error) {
	return a.History.List(context.Background(), limit)
}

// SaveClip writes one produced clip to a user-chosen location and returns
// the path. Only verified-playable clips can be saved.
func (a *App) SaveClip(clipID string) (string, error) {
	record, ok := a.findClip(clipID)
	if !ok {
		return "", fmt.Errorf("unknown clip: %s", clipID)
	}
	if !record.VerifiedPlayable {
		return "", fmt.Errorf("clip failed verification: %s", record.VerificationError)
	}
	data, ok := a.Runner.ClipData(clipID)
	if !ok {
		return "", fmt.Errorf("clip data is no longer available")
	}

	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	exportDir := a.Settings.ExportDir
	a.mu.Unlock()

	path, err := wailsruntime.SaveFileDialog(ctx, wailsruntime.SaveDialogOptions{
		Title:            "Save clip",
		DefaultDirectory: exportDir,
		DefaultFilename:  record.Name,
	})
	if err != nil {
		return "", err
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("no destination selected")
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write clip: %w", err)
	}
	return path, nil
}

// OpenExportFolder opens the given path (or configured export dir) in the
// platform file manager.
func (a *App) OpenExportFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		a.mu.Lock()
		target = a.Settings.ExportDir
		a.mu.Unlock()
	}
	if target == "" {
		return fmt.Errorf("export path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve export path: %w", err)
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}

	return openInFileManager(openPath)
}

// findClip locates a clip record from the current run by ID.
func (a *App) findClip(clipID string) (domain.ClipRecord, bool) {
	for _, record := range a.Runner.Outputs() {
		if record.ID == clipID {
			return record, true
		}
	}
	return domain.ClipRecord{}, false
}

// planSpec assembles the shared validation context from loaded media and
// current settings.
func (a *App) planSpec() (plan.Spec, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.media == nil {
		return plan.Spec{}, fmt.Errorf("no media loaded")
	}
	pattern := a.Settings.NamingPattern
	if pattern == "" {
		pattern = config.DefaultSettings().NamingPattern
	}
	return plan.Spec{
		SourceName:           a.media.Name,
		MediaDurationSeconds: a.media.DurationSeconds,
		NamingPattern:        pattern,
	}, nil
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// normalizeSettings trims user inputs and applies the default naming
// pattern when empty.
func normalizeSettings(settings domain.Settings) domain.Settings {
	settings.NamingPattern = strings.TrimSpace(settings.NamingPattern)
	settings.ExportDir = strings.TrimSpace(settings.ExportDir)
	if settings.NamingPattern == "" {
		settings.NamingPattern = config.DefaultSettings().NamingPattern
	}
	if settings.LastMode == "" {
		settings.LastMode = domain.ModeSingle
	}
	return settings
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}
