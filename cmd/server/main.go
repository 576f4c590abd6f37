package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/visionguard/internal/alert"
	"github.com/your-org/visionguard/internal/api"
	"github.com/your-org/visionguard/internal/api/ws"
	"github.com/your-org/visionguard/internal/auth"
	"github.com/your-org/visionguard/internal/config"
	"github.com/your-org/visionguard/internal/observability"
	"github.com/your-org/visionguard/internal/queue"
	"github.com/your-org/visionguard/internal/recorder"
	"github.com/your-org/visionguard/internal/storage"
	"github.com/your-org/visionguard/internal/stream"
	"github.com/your-org/visionguard/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting VisionGuard",
		"port", cfg.Server.Port,
		"environment", cfg.Environment,
		"device", cfg.Models.Device,
	)

	// Initialize ONNX Runtime
	ort.SetSharedLibraryPath(getONNXLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer ort.DestroyEnvironment()

	// Load models before accepting streams
	manager := vision.NewManager(cfg.Models, cfg.Detection)
	if err := manager.Load(); err != nil {
		slog.Error("load models", "error", err)
		os.Exit(1)
	}
	defer manager.Close()

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(context.Background()); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var verifier auth.Verifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewHMACVerifier(cfg.Auth.JWTSecret)
	} else {
		slog.Warn("JWT_SECRET not set, authentication disabled")
	}

	// Alert channel hub
	hub := ws.NewHub(verifier)

	// Anomaly recorder: WS alert, evidence upload, DB, event bus
	rec := recorder.New(db, minioStore, hub, producer, vision.FlattenSequence)

	// Stream registry
	registry := stream.NewRegistry()

	// Telegram sink off the event bus
	bot := alert.NewBot(cfg.Telegram.BotToken, cfg.Telegram.BotUsername)
	if bot.Enabled() {
		bot.StartPolling(ctx)

		consumer, err := queue.NewConsumer(cfg.NATS.URL)
		if err != nil {
			slog.Error("create anomaly consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()

		notifier := alert.NewNotifier(bot, db)
		if err := notifier.Start(ctx, consumer); err != nil {
			slog.Warn("start telegram notifier", "error", err)
		}
	}

	// Setup router
	router := api.NewRouter(api.RouterConfig{
		Cfg:      cfg,
		Verifier: verifier,
		DB:       db,
		MinIO:    minioStore,
		Producer: producer,
		Hub:      hub,
		Registry: registry,
		Manager:  manager,
		Sink:     rec,
	})

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")
	cancel()

	// Tell connected clients first, then drain peer connections.
	hub.Shutdown()
	for _, s := range registry.RemoveAll() {
		s.Close()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

// getONNXLibPath returns the ONNX Runtime shared library path.
func getONNXLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}
