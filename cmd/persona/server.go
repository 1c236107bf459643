package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/persona/internal/analysis"
	"github.com/kalambet/persona/internal/api"
	"github.com/kalambet/persona/internal/auth"
	"github.com/kalambet/persona/internal/config"
	"github.com/kalambet/persona/internal/objectstore"
	"github.com/kalambet/persona/internal/provider/hume"
	"github.com/kalambet/persona/internal/provider/vision"
	"github.com/kalambet/persona/internal/report"
	"github.com/kalambet/persona/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the persona server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running persona server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show persona system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "persona.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func parseLogLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func runServer(ctx context.Context) error {
	fmt.Fprintf(os.Stderr, "persona version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))

	// Refuse to start twice against the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("persona is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("persona is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	signer := auth.NewSigner(cfg.Auth.JWTSecret)

	objects, err := objectstore.New(ctx, objectstore.Config{
		Backend:       cfg.Objects.Backend,
		LocalDir:      cfg.Objects.LocalDir,
		PublicBaseURL: cfg.Server.PublicBaseURL,
		Endpoint:      cfg.Objects.S3Endpoint,
		Region:        cfg.Objects.S3Region,
		UsePathStyle:  cfg.Objects.S3UsePathStyle,
		AccessKey:     cfg.Objects.S3AccessKey,
		SecretKey:     cfg.Objects.S3SecretKey,
		HealthBucket:  cfg.Objects.ImagesBucket,
	}, signer)
	if err != nil {
		return fmt.Errorf("initializing object storage: %w", err)
	}
	if err := objects.Health(ctx); err != nil {
		slog.Warn("object storage unavailable; uploads and analyses will fail until it is reachable",
			"backend", cfg.Objects.Backend, "error", err)
	}

	if cfg.Vision.APIKey == "" {
		slog.Warn("PERSONA_OPENAI_API_KEY not set; image analysis and reports will report not configured")
	}
	if cfg.Audio.APIKey == "" {
		slog.Warn("PERSONA_HUME_API_KEY not set; audio analysis will report not configured")
	}

	imageAdapter := vision.New(vision.Config{
		APIKey:  cfg.Vision.APIKey,
		BaseURL: cfg.Vision.BaseURL,
		Model:   cfg.Vision.Model,
		MaxEdge: cfg.Vision.MaxEdge,
		Timeout: config.Duration(cfg.Vision.Timeout),
	}, objects)
	audioAdapter := hume.New(hume.Config{
		APIKey:         cfg.Audio.APIKey,
		BaseURL:        cfg.Audio.BaseURL,
		PollAttempts:   cfg.Audio.PollAttempts,
		PollInterval:   config.Duration(cfg.Audio.PollInterval),
		RequestTimeout: config.Duration(cfg.Audio.RequestTimeout),
	}, objects)
	defer audioAdapter.Close()

	orchestrator := analysis.NewOrchestrator(store, imageAdapter, audioAdapter)
	worker := analysis.NewWorker(store, orchestrator, analysis.WorkerOptions{
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: config.Duration(cfg.Worker.PollInterval),
		LeaseTimeout: config.Duration(cfg.Worker.LeaseTimeout),
	})
	if _, err := worker.Recover(); err != nil {
		return fmt.Errorf("recovering analysis jobs: %w", err)
	}

	reports := report.NewService(store, newReportGenerator(ctx, cfg))

	deps := api.Deps{
		Store:     store,
		Analysis:  orchestrator,
		Reports:   reports,
		Objects:   objects,
		Verifier:  signer,
		UploadTTL: config.Duration(cfg.Objects.UploadTTL),
		Buckets: map[storage.MediaType]string{
			storage.MediaImage: cfg.Objects.ImagesBucket,
			storage.MediaAudio: cfg.Objects.AudioBucket,
		},
		CORSOrigins: cfg.Server.Origins(),
	}
	if local, ok := objects.(*objectstore.Local); ok {
		deps.Uploads = local
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewHandler(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := worker.Run(workerCtx); err != nil {
			slog.Error("analysis worker stopped", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "persona listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			stopWorker()
			<-workerDone
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := srv.Shutdown(shutdownCtx)

	// In-flight analyses stay processing with their jobs running; the next
	// start re-queues them.
	stopWorker()
	<-workerDone
	return shutdownErr
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("persona is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop persona (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to persona (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Object storage", "%s", cfg.Objects.Backend)
	printStatus("Vision model", "%s (%s)", cfg.Vision.Model, keyState(cfg.Vision.APIKey))
	printStatus("Audio provider", "hume (%s)", keyState(cfg.Audio.APIKey))
	printStatus("Report model", "%s/%s", cfg.Reports.Provider, cfg.Reports.Model)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)

	if !running {
		return nil
	}

	// Queue depth comes straight from the database; the API does not expose it.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil
	}
	defer store.Close()
	if counts, err := store.JobCounts(); err == nil {
		b, _ := json.Marshal(counts)
		printStatus("Analysis jobs", "%s", string(b))
	}
	return nil
}

// newReportGenerator picks the report backend. An unreachable Ollama is
// logged, not fatal; report requests fail until it comes up.
func newReportGenerator(ctx context.Context, cfg config.Config) report.Generator {
	if cfg.Reports.Provider == "ollama" {
		gen := report.NewOllamaGenerator(report.OllamaConfig{
			BaseURL:     cfg.Reports.OllamaURL,
			Model:       cfg.Reports.Model,
			MaxTokens:   cfg.Reports.MaxTokens,
			Temperature: float32(cfg.Reports.Temperature),
			Timeout:     config.Duration(cfg.Reports.Timeout),
		})
		if !gen.IsRunning(ctx) {
			slog.Warn("ollama is not reachable; report generation will fail until it starts", "url", cfg.Reports.OllamaURL)
		}
		return gen
	}
	if cfg.Vision.APIKey == "" {
		slog.Warn("PERSONA_OPENAI_API_KEY not set; report generation is disabled")
	}
	return report.NewOpenAIGenerator(report.OpenAIConfig{
		APIKey:      cfg.Vision.APIKey,
		BaseURL:     cfg.Vision.BaseURL,
		Model:       cfg.Reports.Model,
		MaxTokens:   cfg.Reports.MaxTokens,
		Temperature: float32(cfg.Reports.Temperature),
		Timeout:     config.Duration(cfg.Reports.Timeout),
	})
}

func keyState(key string) string {
	if key == "" {
		return colorize(colorYellow, "not configured")
	}
	return colorize(colorGreen, "configured")
}
