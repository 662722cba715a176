package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentframe/agentmeet/cmd/server/internal/api"
	"github.com/agentframe/agentmeet/cmd/server/internal/config"
	"github.com/agentframe/agentmeet/cmd/server/internal/orchestrator"
	"github.com/agentframe/agentmeet/cmd/server/internal/orchestrator/agent"
	"github.com/agentframe/agentmeet/cmd/server/internal/orchestrator/platform"
	"github.com/agentframe/agentmeet/cmd/server/internal/orchestrator/postmeeting"
	"github.com/agentframe/agentmeet/cmd/server/internal/orchestrator/speech"
	"github.com/agentframe/agentmeet/pkg/logger"
)

func main() {
	logInstance, err := logger.Init(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: os.Getenv("ENV"),
		WithSource:  !strings.EqualFold(os.Getenv("ENV"), "prod"),
		File:        os.Getenv("LOG_FILE"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	appLogger := logInstance.With("component", "meeting-engine")

	cfg, err := config.Load()
	if err != nil {
		appLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		appLogger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	appLogger.Info("configuration loaded", "env", cfg.Server.Env, "port", cfg.Server.Port)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Speech providers: wire everything with a configured endpoint, then order
	// them per the engine file (or wiring order when no file is set). The mock
	// provider is always last so a meeting can degrade instead of going deaf.
	providers := buildProviders(cfg)
	agents := agent.NewRegistry()
	if cfg.Engine.ConfigFile != "" {
		ef, err := config.LoadEngineFile(cfg.Engine.ConfigFile)
		if err != nil {
			appLogger.Error("failed to load engine file", "path", cfg.Engine.ConfigFile, "error", err)
			os.Exit(1)
		}
		providers = orderProviders(providers, ef.Providers, appLogger)
		n := ef.BuildAgents(agents)
		appLogger.Info("engine file applied", "providers", len(providers), "agents", n)
	}
	for _, p := range providers {
		appLogger.Info("speech provider wired", "provider", p.Name())
	}

	watcher := speech.NewHealthWatcher(providers, cfg.Speech.HealthInterval, cfg.Speech.FailThreshold)
	go watcher.Start(context.Background())
	defer watcher.Stop()

	// Platforms: the simulated adapter is always registered; real platforms
	// come in through their bot gateways.
	platforms := platform.NewManager()
	if cfg.Platform.TeamsGatewayURL != "" {
		platforms.Register(platform.NewGatewayAdapter(platform.KindTeams, cfg.Platform.TeamsGatewayURL))
		appLogger.Info("teams gateway registered", "endpoint", cfg.Platform.TeamsGatewayURL)
	}
	if cfg.Platform.MeetGatewayURL != "" {
		platforms.Register(platform.NewGatewayAdapter(platform.KindMeet, cfg.Platform.MeetGatewayURL))
		appLogger.Info("meet gateway registered", "endpoint", cfg.Platform.MeetGatewayURL)
	}

	auditor := orchestrator.NewFileAuditor(cfg.Audit.LogFile)
	defer auditor.Close()

	engine := orchestrator.New(orchestrator.Config{
		MaxConcurrentMeetings: cfg.Engine.MaxConcurrentMeetings,
		JoinGrace:             cfg.Engine.JoinGrace,
		SchedulerTick:         cfg.Engine.SchedulerTick,
		ScheduleGrace:         cfg.Engine.ScheduleGrace,
		DefaultProvider:       cfg.Engine.DefaultProvider,
	}, appLogger, auditor, platforms, speech.NewManager(appLogger),
		postmeeting.NewProcessor(appLogger), agents, providers)

	engineCtx, engineCancel := context.WithCancel(context.Background())
	defer engineCancel()
	go engine.Run(engineCtx)

	r := api.NewRouter(engine, watcher, appLogger)

	srv := &http.Server{
		Addr:    cfg.GetServerAddr(),
		Handler: r,
	}

	go func() {
		appLogger.Info("server starting", "addr", srv.Addr, "env", cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-quit
	appLogger.Info("shutdown signal received, shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("server forced to shutdown", "error", err)
	}
	if err := engine.Close(ctx); err != nil {
		appLogger.Error("engine shutdown incomplete", "error", err)
		os.Exit(1)
	}
	appLogger.Info("server shutdown complete")
}

// buildProviders wires every speech provider with a configured endpoint, in
// preference order azure, google, whisper, mock.
func buildProviders(cfg *config.Config) []speech.Provider {
	var providers []speech.Provider
	if cfg.Speech.AzureEndpoint != "" {
		providers = append(providers, speech.NewAzureProvider(cfg.Speech.AzureEndpoint, cfg.Speech.AzureAPIKey))
	}
	if cfg.Speech.GoogleEndpoint != "" {
		providers = append(providers, speech.NewGoogleProvider(cfg.Speech.GoogleEndpoint, cfg.Speech.GoogleModel))
	}
	if cfg.Speech.WhisperEndpoint != "" {
		providers = append(providers, speech.NewWhisperProvider(cfg.Speech.WhisperEndpoint, cfg.Speech.WhisperModel))
	}
	providers = append(providers, speech.NewMockProvider())
	return providers
}

// orderProviders reorders wired providers to match the engine file's list.
// Names not wired are dropped with a warning; wired providers the file omits
// keep their wiring order at the tail.
func orderProviders(wired []speech.Provider, order []string, log *slog.Logger) []speech.Provider {
	if len(order) == 0 {
		return wired
	}
	byName := make(map[string]speech.Provider, len(wired))
	for _, p := range wired {
		byName[p.Name()] = p
	}

	out := make([]speech.Provider, 0, len(wired))
	taken := make(map[string]bool, len(order))
	for _, name := range order {
		p, ok := byName[name]
		if !ok {
			log.Warn("engine file names an unwired speech provider", "provider", name)
			continue
		}
		out = append(out, p)
		taken[name] = true
	}
	for _, p := range wired {
		if !taken[p.Name()] {
			out = append(out, p)
		}
	}
	return out
}
