package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"

	"repo-review-dashboard/internal/api"
	"repo-review-dashboard/internal/backend"
	"repo-review-dashboard/internal/config"
	"repo-review-dashboard/internal/credentials"
	"repo-review-dashboard/internal/driver"
	"repo-review-dashboard/internal/history"
	"repo-review-dashboard/internal/mcptool"
	"repo-review-dashboard/internal/session"
	"repo-review-dashboard/internal/storage"
)

func main() {
	mcpMode := flag.Bool("mcp", false, "run the MCP stdio server instead of the HTTP service")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "load .env failed: %v\n", err)
	}

	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, logCleanup := setupLogger(cfg)
	defer logCleanup()
	slog.SetDefault(logger)

	kv, err := storage.NewSQLiteKV(cfg.Storage.DSN)
	if err != nil {
		slog.Error("init storage failed", "error", err)
		os.Exit(1)
	}
	defer kv.Close()

	ctx := context.Background()
	pool, err := credentials.NewPool(ctx, kv)
	if err != nil {
		slog.Error("init credential pool failed", "error", err)
		os.Exit(1)
	}

	hist := history.NewStore(kv)

	if *mcpMode {
		runMCP(hist, logger)
		return
	}

	var b backend.Backend
	switch cfg.Model.Backend {
	case "ollama":
		b = backend.NewOllama(cfg.Model.OllamaURL, cfg.Model.OllamaModel)
	default:
		b = backend.NewGemini(cfg.Model.GeminiModel)
	}
	slog.Info("model backend selected", "backend", b.Name())

	d := driver.New(b, pool, cfg.Model.APIKey)
	sm := session.NewManager(d, hist)

	apiServer := api.NewServer(sm, pool, hist, cfg.Server.ConcurrencyLimit, func() error {
		return kv.Ping(context.Background())
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      apiServer.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server start failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("server stopping")

	// In-flight review streams end with their client connections.
	sm.Cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown forced", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}

func runMCP(hist *history.Store, logger *slog.Logger) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := mcptool.NewServer(hist, logger)
	slog.Info("mcp server starting", "transport", "stdio")
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("mcp server failed", "error", err)
		os.Exit(1)
	}
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg *config.Config) (*slog.Logger, func()) {
	var writers []io.Writer
	var closers []io.Closer
	outputs := strings.Split(cfg.Log.Output, ",")

	for _, output := range outputs {
		output = strings.TrimSpace(output)
		if output == "" {
			continue
		}

		var w io.Writer
		switch output {
		case "stderr":
			w = os.Stderr
		case "stdout":
			w = os.Stdout
		default:
			// Use lumberjack for log rotation
			l := &lumberjack.Logger{
				Filename:   output,
				MaxSize:    cfg.Log.Rotation.MaxSize,
				MaxBackups: cfg.Log.Rotation.MaxBackups,
				MaxAge:     cfg.Log.Rotation.MaxAge,
				Compress:   cfg.Log.Rotation.Compress,
			}
			w = l
			closers = append(closers, l)
		}
		writers = append(writers, w)
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	multiWriter := io.MultiWriter(writers...)
	opts := &slog.HandlerOptions{Level: cfg.GetLogLevel()}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(multiWriter, opts)
	} else {
		handler = slog.NewTextHandler(multiWriter, opts)
	}

	cleanup := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	return slog.New(handler), cleanup
}
