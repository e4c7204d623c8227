// promptcut/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"promptcut/app"
	"promptcut/config"
	"promptcut/job"
	"promptcut/logger"
	"promptcut/pipeline"
)

func main() {
	_ = godotenv.Load() // best-effort: load .env if present

	root := &cobra.Command{
		Use:          "promptcut",
		Short:        "Cut the parts of a video that match a text prompt",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd(), localCmd())

	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)
	root.SilenceErrors = true

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.InitializeAndConfigure(cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the stage workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: a.Router(),
	}

	// Create a context that can be canceled
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.Start(ctx)

	go func() {
		logger.Infof("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("listen: %s", err)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	<-ctx.Done()

	// Restore default behavior on the interrupt signal and notify user of shutdown.
	stop()
	logger.Info("Shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the requests it is currently handling
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server exiting")
	return nil
}

func localCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "local <file-or-url>",
		Short: "Run one job end-to-end and print the finished job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, _ := cmd.Flags().GetString("prompt")
			out, _ := cmd.Flags().GetString("out")
			if strings.TrimSpace(prompt) == "" {
				return fmt.Errorf("--prompt is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.QueueMode = config.QueueModeLocal
			return runLocal(cmd, cfg, args[0], prompt, out)
		},
	}
	cmd.Flags().StringP("prompt", "p", "", "What to keep, e.g. \"every goal\"")
	cmd.Flags().StringP("out", "o", "", "Copy the edited video to this path")
	return cmd
}

func runLocal(cmd *cobra.Command, cfg *config.Config, input, prompt, out string) error {
	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	a.Start(ctx)

	// The model reads the source through a signed /files URL, so the file
	// routes must be reachable at BASE while the job runs.
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: a.Router()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("file server: %v", err)
		}
	}()
	defer srv.Close()

	var j *job.Job
	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		j, err = a.Orchestrator.CreateURLJob(ctx, input, prompt)
	} else {
		j, err = importAndCreate(ctx, a, input, prompt)
	}
	if err != nil {
		return err
	}
	logger.Infof("Job %s created, waiting for it to finish", j.ID)

	j, err = a.Orchestrator.WaitFor(ctx, j.ID, 500*time.Millisecond)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(j); err != nil {
		return err
	}
	if j.State == job.StateFailed {
		return fmt.Errorf("job %s failed: %s", j.ID, j.ErrorInfo)
	}
	if out != "" {
		return copyResult(a, j, out)
	}
	return nil
}

func importAndCreate(ctx context.Context, a *app.App, path, prompt string) (*job.Job, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	key := pipeline.UploadKey(filepath.Base(path))
	if _, err := a.Bucket.Put(ctx, key, f); err != nil {
		return nil, fmt.Errorf("failed to import %s: %w", path, err)
	}
	return a.Orchestrator.CreateUploadJob(ctx, key, prompt)
}

func copyResult(a *app.App, j *job.Job, out string) error {
	src, err := a.Bucket.Path(fmt.Sprintf("edits/edited_%s.mp4", j.ID))
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	dst, err := os.Create(out)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, in); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	logger.Infof("Edited video written to %s", out)
	return nil
}
