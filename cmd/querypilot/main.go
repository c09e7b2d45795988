package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/querypilot/querypilot/internal/assist"
	"github.com/querypilot/querypilot/internal/history"
	"github.com/querypilot/querypilot/internal/llm"
	"github.com/querypilot/querypilot/internal/tools"
)

// main is the entry point for the application.
// Its primary role is the "Composition Root": it loads configuration,
// initializes all services, injects dependencies, and starts the server.
func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	buildInfo := GetBuildInfo()
	log.Printf("🚀 Starting QueryPilot | Version: %s | Commit: %s", buildInfo.Version, buildInfo.GitCommit)

	// 1. LOAD CONFIGURATION
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("❌ FATAL: Configuration Error: %v", err)
	}
	log.Println("✅ Configuration loaded.")

	// 2. INITIALIZE SERVICES
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if _, err := rdb.Ping(context.Background()).Result(); err != nil {
			log.Fatalf("❌ FATAL: Could not connect to Redis: %v", err)
		}
		log.Println("✅ Redis connected.")
	} else {
		log.Println("WARNING: REDIS_ADDR not set; schema caching and run history are disabled.")
	}

	gateway, err := initializeGateway(cfg)
	if err != nil {
		log.Fatalf("❌ FATAL: %v", err)
	}
	log.Printf("✅ LLM gateway initialized for model %s.", cfg.Model)

	pgCfg := cfg.postgresConfig()
	if err := checkDatabase(pgCfg); err != nil {
		log.Fatalf("❌ FATAL: Could not connect to PostgreSQL: %v", err)
	}
	log.Println("✅ PostgreSQL reachable.")

	var hist *history.Store
	if rdb != nil {
		hist = history.NewStore(rdb, cfg.Assistant.HistorySize)
	}

	runner := assist.NewRunner(
		gateway,
		func(ctx context.Context) (tools.Executor, error) {
			return tools.OpenPostgres(ctx, pgCfg)
		},
		rdb,
		hist,
		assist.RunnerConfig{
			Model:          cfg.Model,
			MaxTurns:       cfg.Assistant.MaxTurns,
			SchemaCacheTTL: cfg.Assistant.schemaCacheTTL(),
			RunTimeout:     cfg.Assistant.runTimeout(),
			RunRetention:   cfg.Assistant.runRetention(),
		},
	)

	handler := NewAssistantHandler(runner, hist)
	log.Println("✅ All services initialized.")

	// 3. SETUP AND RUN THE WEB SERVER
	gin.SetMode(os.Getenv("GIN_MODE"))
	engine := gin.Default()
	engine.Use(metricsMiddleware())

	engine.GET("/healthz", handler.HandleHealthz)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := engine.Group("/api/v1")
	{
		v1.POST("/runs", handler.HandleStartRun)
		v1.GET("/runs", handler.HandleListRuns)
		v1.GET("/runs/:id", handler.HandleGetRun)
		v1.POST("/runs/:id/cancel", handler.HandleCancelRun)
		v1.GET("/runs/:id/events", handler.HandleRunEvents)
	}

	srv := &http.Server{Addr: fmt.Sprintf(":%s", cfg.Port), Handler: engine}
	runServerWithGracefulShutdown(srv)
}

// initializeGateway creates the provider client for the configured model.
func initializeGateway(cfg *AppConfig) (llm.Gateway, error) {
	switch {
	case strings.HasPrefix(cfg.Model, "claude"):
		return llm.NewAnthropicGateway(cfg.APIKey)
	case strings.HasPrefix(cfg.Model, "gemini"):
		return llm.NewGeminiGateway(cfg.APIKey, cfg.Model)
	case strings.HasPrefix(cfg.Model, "gpt"):
		return llm.NewOpenAIGateway(cfg.APIKey)
	}
	return nil, fmt.Errorf("unknown model provider for %q", cfg.Model)
}

// checkDatabase opens and closes one executor session so a bad DSN fails
// at boot instead of on the first run.
func checkDatabase(pgCfg tools.PostgresConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	executor, err := tools.OpenPostgres(ctx, pgCfg)
	if err != nil {
		return err
	}
	return executor.Close()
}

// runServerWithGracefulShutdown handles the server lifecycle.
func runServerWithGracefulShutdown(srv *http.Server) {
	go func() {
		log.Printf("👂 QueryPilot is listening on http://localhost%s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ Listen error: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("❌ Server shutdown failed:", err)
	}

	log.Println("👋 Server exited gracefully.")
}
