package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/docchat/internal/answer"
	"github.com/kalambet/docchat/internal/api"
	"github.com/kalambet/docchat/internal/config"
	"github.com/kalambet/docchat/internal/gateway"
	"github.com/kalambet/docchat/internal/ingest"
	"github.com/kalambet/docchat/internal/ollama"
	"github.com/kalambet/docchat/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the document Q&A backend (foreground)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		host, _ := cmd.Flags().GetString("host")
		return runServer(cmd.Context(), host)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running backend",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backend and configuration status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().String("host", "127.0.0.1", "interface to listen on")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "docchat.pid")
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

func serverHealthy(port int) bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func allowedOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// newAnswerer returns the extractive answerer, backed by an Ollama model when
// ollama.url is set and the model can be made ready.
func newAnswerer(ctx context.Context, cfg config.OllamaConfig, logger *slog.Logger) *answer.Answerer {
	opts := []answer.Option{answer.WithLogger(logger)}
	if cfg.URL == "" {
		return answer.New(opts...)
	}

	client := ollama.New(cfg.URL, cfg.TimeoutDuration())
	if err := ollama.EnsureReady(ctx, client, cfg.Model, os.Stderr); err != nil {
		printWarning("Ollama unavailable, answering extractively: %v", err)
		return answer.New(opts...)
	}
	printSuccess("Answers generated by %s via %s", cfg.Model, cfg.URL)
	return answer.New(append(opts, answer.WithGenerator(ollama.NewGenerator(client, cfg.Model)))...)
}

func runServer(parent context.Context, host string) error {
	fmt.Fprintf(os.Stderr, "docchat version %s\n", version)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	pidPath := pidFilePath(cfg.Storage.DataDir)
	if serverHealthy(cfg.Server.Port) {
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing storage", "error", err)
		}
	}()

	uploadDir := filepath.Join(cfg.Storage.DataDir, "uploads")
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return fmt.Errorf("creating upload dir: %w", err)
	}

	answerer := newAnswerer(ctx, cfg.Ollama, logger)
	go func() {
		if _, err := ingest.NewWorker(store, answerer, 0).WithLogger(logger).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("preparing stored documents failed", "error", err)
		}
	}()

	handler := api.NewBackendHandler(api.BackendDeps{
		Store:          store,
		Answerer:       answerer,
		UploadDir:      uploadDir,
		MaxUploadBytes: int64(cfg.Upload.MaxBytes),
		AllowedOrigins: allowedOrigins(cfg.Server.AllowedOrigin),
		Logger:         logger,
	})

	addr := net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("docchat backend listening", "addr", addr, "data_dir", cfg.Storage.DataDir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("docchat backend is not running (no PID file at %s)", pidPath)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		os.Remove(pidPath)
		return fmt.Errorf("stopping docchat backend (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to docchat backend (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	if serverHealthy(cfg.Server.Port) {
		printStatus("Local backend", "running on port %d", cfg.Server.Port)
	} else {
		printStatus("Local backend", "stopped")
	}

	gw := gateway.New(cfg.Gateway.BaseURL, 5*time.Second)
	if docs, err := gw.ListDocuments(ctx); err != nil {
		printStatus("Gateway", "%s failed: %s", cfg.Gateway.BaseURL, gateway.Detail(err, err.Error()))
	} else {
		printStatus("Gateway", "%s, %d documents", cfg.Gateway.BaseURL, len(docs))
	}

	if cfg.Ollama.URL == "" {
		printStatus("Answers", "extractive")
	} else {
		client := ollama.New(cfg.Ollama.URL, cfg.Ollama.TimeoutDuration())
		if err := client.Ping(ctx); err != nil {
			printStatus("Answers", "extractive (Ollama not running at %s)", cfg.Ollama.URL)
		} else if ok, err := client.HasModel(ctx, cfg.Ollama.Model); err != nil {
			printStatus("Answers", "extractive (%v)", err)
		} else if !ok {
			printStatus("Answers", "extractive (model %s not pulled)", cfg.Ollama.Model)
		} else {
			printStatus("Answers", "%s via %s", cfg.Ollama.Model, cfg.Ollama.URL)
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	printStatus("Config", "%s", config.Path())
	return nil
}
