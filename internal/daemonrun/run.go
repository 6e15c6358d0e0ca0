// Package daemonrun builds the process-level runtimes behind `maichart serve`
// and `maichart worker`.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"syscall"

	"maichart/internal/api"
	"maichart/internal/config"
	"maichart/internal/daemon"
	"maichart/internal/extraction"
	"maichart/internal/ingest"
	"maichart/internal/logging"
	"maichart/internal/notifications"
	"maichart/internal/preflight"
	"maichart/internal/queue"
	"maichart/internal/session"
	"maichart/internal/transcription"
	"maichart/internal/upload"
	"maichart/internal/workflow"
)

// Worker roles accepted by RunWorker.
const (
	RoleTranscription = "transcription"
	RoleChunks        = "chunks"
	RoleExtraction    = "extraction"
)

// Roles lists every worker role.
var Roles = []string{RoleTranscription, RoleChunks, RoleExtraction}

// Options configures process runtime behavior.
type Options struct {
	LogLevel string
	// Workers runs the workflow lanes inside the serve process.
	Workers bool
}

type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	sessions *session.Store
	queue    *queue.Store
}

func open(cfg *config.Config, role string, opts Options) (*runtime, func(), error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("config is required")
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		cfg.Logging.Level = level
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewFromConfig(cfg, role)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	sessions, err := session.Open(cfg)
	if err != nil {
		logger.Error("open session store", logging.Error(err))
		return nil, nil, err
	}
	q, err := queue.Open(cfg)
	if err != nil {
		sessions.Close()
		logger.Error("open queue store", logging.Error(err))
		return nil, nil, err
	}
	rt := &runtime{cfg: cfg, logger: logger, sessions: sessions, queue: q}
	return rt, func() {
		q.Close()
		sessions.Close()
	}, nil
}

// RunServe starts the HTTP API with its janitor, optional ingest watcher and,
// when opts.Workers is set, the workflow lanes. It blocks until a signal
// arrives or the API fails.
func RunServe(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, closeStores, err := open(cfg, "serve", opts)
	if err != nil {
		return err
	}
	defer closeStores()
	logger := rt.logger

	pidPath := filepath.Join(cfg.Paths.DataDir, "maichart.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	logPreflight(signalCtx, logger, cfg)

	coord := upload.NewCoordinator(cfg, rt.sessions, rt.queue, logger)
	parts := daemon.Components{
		Janitor: daemon.NewJanitor(cfg, rt.sessions, rt.queue, logger),
	}
	var reporter api.WorkflowReporter
	if opts.Workers && hasWorkers(cfg) {
		mgr := workflow.NewManager(cfg, rt.queue, logger)
		registerStages(mgr, rt, Roles)
		parts.Workflow = mgr
		reporter = mgr
	}
	if cfg.Ingest.Enabled {
		parts.Ingest = ingest.New(cfg, coord, logger)
	}
	parts.Handler = api.NewServer(api.Deps{
		Config:      cfg,
		Sessions:    rt.sessions,
		Queue:       rt.queue,
		Coordinator: coord,
		Extraction:  extraction.NewService(cfg, rt.sessions, rt.queue, logger),
		Workflow:    reporter,
		Logger:      logger,
	}).Handler()

	d, err := daemon.New(cfg, rt.sessions, rt.queue, logger, parts)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return err
	}

	select {
	case <-signalCtx.Done():
	case err := <-d.Errors():
		return fmt.Errorf("api server: %w", err)
	}
	logger.Info("maichart server shutting down")
	return nil
}

// RunWorker runs the workflow lanes for roles without the HTTP API. Several
// worker processes may share one data directory.
func RunWorker(cmdCtx context.Context, cfg *config.Config, roles []string, opts Options) error {
	roles, err := normalizeRoles(roles)
	if err != nil {
		return err
	}
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, closeStores, err := open(cfg, "worker-"+strings.Join(roles, "-"), opts)
	if err != nil {
		return err
	}
	defer closeStores()

	logPreflight(signalCtx, rt.logger, cfg)

	mgr := workflow.NewManager(cfg, rt.queue, rt.logger)
	registerStages(mgr, rt, roles)
	if err := mgr.Start(signalCtx); err != nil {
		return fmt.Errorf("start workflow: %w", err)
	}
	defer mgr.Stop()
	rt.logger.Info("maichart worker started", logging.String("roles", strings.Join(roles, ",")))

	<-signalCtx.Done()
	rt.logger.Info("maichart worker shutting down")
	return nil
}

func hasWorkers(cfg *config.Config) bool {
	w := cfg.Workflow
	return w.TranscriptionWorkers+w.ChunkWorkers+w.ExtractionWorkers > 0
}

func normalizeRoles(roles []string) ([]string, error) {
	if len(roles) == 0 {
		return append([]string(nil), Roles...), nil
	}
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		role = strings.ToLower(strings.TrimSpace(role))
		if !slices.Contains(Roles, role) {
			return nil, fmt.Errorf("unknown worker role %q (want one of %s)", role, strings.Join(Roles, ", "))
		}
		if !slices.Contains(out, role) {
			out = append(out, role)
		}
	}
	return out, nil
}

// registerStages wires handlers for the requested roles. Lanes for other roles
// stay unregistered.
func registerStages(mgr *workflow.Manager, rt *runtime, roles []string) {
	cfg := rt.cfg
	notifier := notifications.NewService(cfg)
	set := workflow.StageSet{}
	if slices.Contains(roles, RoleTranscription) || slices.Contains(roles, RoleChunks) {
		transcriber := transcription.NewWhisperTranscriber(cfg.Transcription)
		if slices.Contains(roles, RoleTranscription) {
			audio := transcription.NewAudioStage(cfg, rt.sessions, rt.queue, transcriber, rt.logger)
			audio.SetNotifier(notifier)
			set.Transcription = audio
		}
		if slices.Contains(roles, RoleChunks) {
			chunks := transcription.NewChunkStage(cfg, rt.sessions, rt.queue, transcriber, rt.logger)
			chunks.SetNotifier(notifier)
			set.Chunks = chunks
		}
	}
	if slices.Contains(roles, RoleExtraction) {
		extractor := extraction.NewLLMExtractor(cfg.Extraction)
		stage := extraction.NewStage(cfg, rt.sessions, extractor, rt.logger)
		stage.SetNotifier(notifier)
		set.Extraction = stage
	}
	mgr.ConfigureStages(set)
}

func logPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	for _, result := range preflight.RunAll(ctx, cfg, preflight.Options{}) {
		if result.Passed {
			logger.Debug("preflight check passed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail),
			)
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldErrorHint, "fix the configuration and restart"),
			logging.String(logging.FieldImpact, "affected stages will fail until resolved"),
		)
	}
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
