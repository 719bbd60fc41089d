package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/inquest-ai/orchestrator/internal/activities"
	"github.com/inquest-ai/orchestrator/internal/config"
	"github.com/inquest-ai/orchestrator/internal/db"
	"github.com/inquest-ai/orchestrator/internal/httpapi"
	"github.com/inquest-ai/orchestrator/internal/llm"
	_ "github.com/inquest-ai/orchestrator/internal/metrics" // register collectors
	"github.com/inquest-ai/orchestrator/internal/streaming"
	"github.com/inquest-ai/orchestrator/internal/temporalutil"
	"github.com/inquest-ai/orchestrator/internal/tools"
	"github.com/inquest-ai/orchestrator/internal/workflows"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Database
	dbClient, err := db.NewClient(&db.Config{
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		Database: cfg.Postgres.Database,
		SSLMode:  cfg.Postgres.SSLMode,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database client", zap.Error(err))
	}
	defer dbClient.Close()
	store := db.NewStore(dbClient, logger)

	// Streaming: in-process fan-out plus a best-effort Redis Streams mirror.
	streamManager := streaming.NewManager(256)
	var mirror *streaming.RedisMirror
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		mirror = streaming.NewRedisMirror(rdb, logger)
		logger.Info("Redis event mirror enabled", zap.String("addr", cfg.Redis.Addr))
	}

	// Tools
	registry := tools.NewRegistry()
	httpClient := &http.Client{Timeout: cfg.Tools.Timeout}
	registry.Register(tools.NewWebSearchTool(cfg.Tools.SearchURL, httpClient, cfg.Tools.MaxRetries))
	registry.Register(tools.NewNewsSearchTool(cfg.Tools.NewsURL, os.Getenv(cfg.Tools.NewsKeyEnv), httpClient, cfg.Tools.MaxRetries))
	registry.Register(tools.NewFinancialDataTool(cfg.Tools.FinancialURL, httpClient, cfg.Tools.MaxRetries))
	dispatcher := tools.NewDispatcher(registry, logger, cfg.Tools.Timeout)

	// LLM
	llmClient := llm.NewHTTPClient(llm.Config{
		BaseURL:    cfg.LLM.BaseURL,
		Model:      cfg.LLM.Model,
		APIKey:     os.Getenv(cfg.LLM.APIKeyEnv),
		Timeout:    cfg.LLM.Timeout,
		MaxRetries: cfg.LLM.MaxRetries,
	}, logger)

	// Temporal
	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    temporalutil.NewZapAdapter(logger),
	})
	if err != nil {
		logger.Fatal("Failed to connect to Temporal", zap.Error(err))
	}
	defer temporalClient.Close()

	acts := activities.New(activities.Deps{
		Store:      store,
		LLM:        llmClient,
		Dispatcher: dispatcher,
		Registry:   registry,
		Stream:     streamManager,
		Mirror:     mirror,
		Research:   cfg.Research,
		Logger:     logger,
	})

	taskQueue := cfg.Temporal.TaskQueue
	if taskQueue == "" {
		taskQueue = workflows.TaskQueue
	}
	w := worker.New(temporalClient, taskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     10,
		MaxConcurrentWorkflowTaskExecutionSize: 10,
	})
	w.RegisterWorkflow(workflows.ResearchWorkflow)
	registerActivities(w, acts)

	go func() {
		logger.Info("Temporal worker started", zap.String("queue", taskQueue))
		if err := w.Run(worker.InterruptCh()); err != nil {
			logger.Error("Temporal worker exited with error", zap.Error(err))
		}
	}()

	// API server: intake, status, and the event stream endpoints.
	mux := http.NewServeMux()
	httpapi.NewService(store, temporalClient, logger).RegisterRoutes(mux)
	mux.Handle("/stream/sse", httpapi.NewSSEHandler(streamManager, logger))
	mux.Handle("/stream/ws", httpapi.NewWSHandler(streamManager, logger))

	apiServer := &http.Server{
		Addr:        ":" + strconv.Itoa(cfg.Server.HTTPPort),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	go func() {
		logger.Info("API server listening", zap.Int("port", cfg.Server.HTTPPort))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("API server failed", zap.Error(err))
		}
	}()

	go func() {
		addr := ":" + fmt.Sprintf("%d", cfg.Server.MetricsPort)
		logger.Info("Metrics server listening", zap.String("address", addr))
		if err := http.ListenAndServe(addr, promhttp.Handler()); err != nil {
			logger.Error("Failed to start metrics server", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down research orchestrator")

	w.Stop()
	_ = apiServer.Close()
}

// registerActivities binds each activity under the name the workflow invokes
// it by.
func registerActivities(w worker.Worker, a *activities.Activities) {
	for name, fn := range map[string]interface{}{
		activities.LoadQueryStateActivity:     a.LoadQueryState,
		activities.ReasonActivity:             a.Reason,
		activities.ExecuteToolActivity:        a.ExecuteTool,
		activities.SynthesizeActivity:         a.Synthesize,
		activities.CreateIterationActivity:    a.CreateIteration,
		activities.AttachObservationActivity:  a.AttachObservation,
		activities.UpdateQueryStatusActivity:  a.UpdateQueryStatus,
		activities.MarkQueryFailedActivity:    a.MarkQueryFailed,
		activities.EmitResearchUpdateActivity: a.EmitResearchUpdate,
	} {
		w.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		lvl, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
		zc.Level = lvl
	}
	return zc.Build()
}
