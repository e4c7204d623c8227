// Package app wires the collaborators together for the serve and local commands.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/gin-gonic/gin"

	"promptcut/api"
	"promptcut/assemble"
	"promptcut/config"
	"promptcut/ffmpeg"
	"promptcut/fetch"
	"promptcut/job"
	"promptcut/logger"
	"promptcut/model"
	"promptcut/pipeline"
	"promptcut/storage"
	"promptcut/store"
	"promptcut/task"
)

type App struct {
	Cfg          *config.Config
	Bucket       *storage.Local
	Tasks        *task.Manager
	Orchestrator *pipeline.Orchestrator

	store      job.Store
	dispatcher task.Dispatcher
}

// New builds every collaborator once. Nothing runs until Start.
func New(cfg *config.Config) (*App, error) {
	runner, err := ffmpeg.NewRunner(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ffmpeg runner: %w", err)
	}

	base := BaseURL(cfg)
	bucket, err := storage.NewLocal(cfg.StorageDir, base, cfg.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	jobs, err := OpenStore(cfg.JobsDSN)
	if err != nil {
		return nil, err
	}

	fetcher, err := newFetcher(cfg)
	if err != nil {
		return nil, err
	}

	tasks := task.NewManager(cfg)
	orch := pipeline.New(pipeline.Deps{
		Jobs:         job.NewMachine(jobs),
		Bucket:       bucket,
		Queue:        tasks,
		Fetcher:      fetcher,
		Model:        model.NewClient(cfg),
		Assembler:    assemble.New(bucket, runner, runner.TempDir()),
		TempDir:      runner.TempDir(),
		StageTimeout: cfg.StageTimeout,
		SignTTL:      cfg.StageTimeout,
	})

	a := &App{
		Cfg:          cfg,
		Bucket:       bucket,
		Tasks:        tasks,
		Orchestrator: orch,
		store:        jobs,
	}
	switch cfg.QueueMode {
	case config.QueueModeHTTP:
		a.dispatcher = task.NewHTTPDispatcher(base, cfg.AuthKey)
	case config.QueueModeLocal, "":
		a.dispatcher = orch
	default:
		return nil, fmt.Errorf("unknown QUEUE_MODE %q", cfg.QueueMode)
	}
	logger.Infof("Queue mode: %s, store: %s, storage: %s", cfg.QueueMode, storeKind(cfg.JobsDSN), cfg.StorageDir)
	return a, nil
}

// Start launches the task manager.
func (a *App) Start(ctx context.Context) {
	a.Tasks.Start(ctx, a.dispatcher)
}

func (a *App) Router() *gin.Engine {
	return api.SetupRouter(a.Orchestrator, a.Bucket, a.Tasks, a.Cfg)
}

// Close releases the job store and the scratch directory.
func (a *App) Close() error {
	if a.Cfg.TempDir != "" {
		if err := os.RemoveAll(a.Cfg.TempDir); err != nil {
			logger.Warnf("Failed to remove temp dir %s: %v", a.Cfg.TempDir, err)
		}
	}
	if c, ok := a.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// BaseURL is the externally reachable address used in signed and public URLs.
func BaseURL(cfg *config.Config) string {
	if cfg.BaseURL != "" {
		return strings.TrimSuffix(cfg.BaseURL, "/")
	}
	return "http://localhost:" + cfg.Port
}

// OpenStore keeps jobs in memory when dsn is empty, in a database otherwise.
func OpenStore(dsn string) (job.Store, error) {
	if dsn == "" {
		return store.NewMemory(), nil
	}
	s, err := store.OpenGorm(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}
	return s, nil
}

func storeKind(dsn string) string {
	if dsn == "" {
		return "memory"
	}
	return "database"
}

func newFetcher(cfg *config.Config) (fetch.Fetcher, error) {
	direct := fetch.NewHTTP(cfg.MaxInputSize)
	if _, err := exec.LookPath(cfg.YtDlpBin); err != nil {
		logger.Warnf("yt-dlp not found (%s): only direct media links can be fetched", cfg.YtDlpBin)
		return fetch.NewRouter(direct, nil), nil
	}
	args, err := ffmpeg.SplitCommand(cfg.YtDlpArgs)
	if err != nil {
		return nil, fmt.Errorf("invalid YTDLP_ARGS: %w", err)
	}
	return fetch.NewRouter(direct, fetch.NewYtDlp(cfg.YtDlpBin, args, cfg.MaxInputSize)), nil
}
