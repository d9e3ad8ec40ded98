package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/H2Shami/LLM-Arena/internal/dockerx"
	"github.com/H2Shami/LLM-Arena/internal/domain"
	"github.com/H2Shami/LLM-Arena/internal/gateway"
	"github.com/H2Shami/LLM-Arena/internal/generate"
	"github.com/H2Shami/LLM-Arena/internal/httpx"
	"github.com/H2Shami/LLM-Arena/internal/lifecycle"
	"github.com/H2Shami/LLM-Arena/internal/port"
	"github.com/H2Shami/LLM-Arena/internal/store"
	"github.com/H2Shami/LLM-Arena/internal/workspace"
	"github.com/H2Shami/LLM-Arena/pkg/config"
	"github.com/H2Shami/LLM-Arena/pkg/logger"
)

func main() {
	cfg := loadConfig()
	log := logger.New("orchestrator", parseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dockerClient, err := dockerx.New(cfg.DockerHost)
	if err != nil {
		log.Error("failed to create docker client", "error", err)
		os.Exit(1)
	}
	defer dockerClient.Close()
	if err := dockerClient.Ping(ctx); err != nil {
		log.Error("docker ping failed", "error", err)
		os.Exit(1)
	}

	networkID, err := dockerClient.EnsureNetwork(ctx, cfg.IsolationNetwork)
	if err != nil {
		log.Error("ensure isolation network failed", "error", err)
		os.Exit(1)
	}

	ws, err := workspace.New(cfg.WorkspaceBase, cfg.TemplateTreePath)
	if err != nil {
		log.Error("workspace init failed", "error", err)
		os.Exit(1)
	}

	st := store.New()
	ports := port.New(cfg.PortRangeStart, cfg.PortRangeEnd)
	gw := gateway.New()
	generators := buildGeneratorRegistry(cfg)

	reapKeep := map[string]struct{}{}
	if err := dockerClient.ReapStale(ctx, reapKeep); err != nil {
		log.Warn("startup reap of stale containers failed", "error", err)
	}

	engineCfg := lifecycle.Config{
		IsolationNetwork:       cfg.IsolationNetwork,
		BuildImage:             cfg.BuildImage,
		RunImage:               cfg.RunImage,
		BuildMemoryMB:          cfg.BuildMemoryMB,
		BuildCPUs:              cfg.BuildCPUs,
		BuildPIDsLimit:         cfg.BuildPIDsLimit,
		RunMemoryMB:            cfg.RunMemoryMB,
		RunCPUs:                cfg.RunCPUs,
		RunPIDsLimit:           cfg.RunPIDsLimit,
		InternalPort:           cfg.InternalPort,
		Host:                   cfg.InternalHost,
		HealthProbeTimeout:     cfg.HealthProbeTimeout,
		HealthProbeInterval:    cfg.HealthProbeInterval,
		HealthProbeMaxAttempts: cfg.HealthProbeMaxAttempts,
		ContainerStopGrace:     cfg.ContainerStopGrace,
		MetricsSampleInterval:  cfg.MetricsSampleInterval,
		CallbackBaseURL:        cfg.MainAppURL,
		CallbackTimeout:        cfg.CallbackTimeout,
	}
	engine := lifecycle.New(engineCfg, st, dockerClient, ws, ports, gw, generators, log)

	reconcileCfg := lifecycle.ReconcileConfig{
		Interval:         cfg.ReconcileInterval,
		ReadyTTL:         cfg.ReadyTTL,
		CPULimitPercent:  cfg.ReconcileCPULimitPercent,
		MemoryLimitBytes: cfg.ReconcileMemoryLimitBytes,
	}
	controller := lifecycle.NewController(engine, reconcileCfg)
	if controller != nil {
		go controller.Run(ctx)
	}

	limiter, err := buildRateLimiter(cfg, log)
	if err != nil {
		log.Warn("redis rate limiter unavailable, falling back to in-process limiter", "error", err)
		limiter = httpx.NewMemoryRateLimiter()
	}

	router := httpx.New(log, engine, st, gw, ports, dockerClient, limiter)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("orchestrator server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful http shutdown failed", "error", err)
	}

	killActiveRuns(shutdownCtx, engine, st, log)

	if err := dockerClient.RemoveNetwork(shutdownCtx, networkID); err != nil {
		log.Warn("remove isolation network failed", "error", err)
	}
	log.Info("orchestrator server stopped")
}

// killActiveRuns terminates every non-terminal run in parallel so a
// redeploy never leaves an orphaned runtime container behind; StartRun's
// own cancellation path (triggered here via Kill) already covers a run
// that is mid-flight in the state machine. Uses errgroup purely for the
// fan-out/fan-in, not its cancel-on-first-error behavior — one run's kill
// failing must never stop the others from being attempted, so each
// goroutine swallows and logs its own error instead of returning it.
func killActiveRuns(ctx context.Context, engine *lifecycle.Engine, st *store.Store, log *slog.Logger) {
	runs := st.AllRuns()
	var g errgroup.Group
	for _, run := range runs {
		if run.Status.Terminal() {
			continue
		}
		run := run
		g.Go(func() error {
			if err := engine.Kill(ctx, run.ID); err != nil {
				log.Warn("kill on shutdown failed", "run_id", run.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func buildGeneratorRegistry(cfg orchestratorConfig) *generate.Registry {
	reg := generate.NewRegistry()
	reg.Register(string(domain.ProviderOpenAI), generate.NewOpenAIGenerator(cfg.OpenAIAPIKey, "gpt-4o-mini", ""))
	reg.Register(string(domain.ProviderAnthropic), generate.NewAnthropicGenerator(cfg.AnthropicAPIKey, "claude-3-5-sonnet-latest"))
	reg.Register(string(domain.ProviderGoogle), generate.NewGoogleGenerator(cfg.GoogleAPIKey, "gemini-1.5-pro"))
	reg.Register(string(domain.ProviderXAI), generate.NewOpenAIGenerator(cfg.XAIAPIKey, "grok-2-latest", "https://api.x.ai/v1"))
	reg.Register(string(domain.ProviderDeepSeek), generate.NewOpenAIGenerator(cfg.DeepSeekAPIKey, "deepseek-chat", "https://api.deepseek.com"))
	reg.Register(string(domain.ProviderMeta), generate.NewOpenAIGenerator(cfg.MetaAPIKey, "llama-3.3-70b", cfg.MetaAPIBaseURL))
	return reg
}

func buildRateLimiter(cfg orchestratorConfig, log *slog.Logger) (httpx.RateLimiter, error) {
	if cfg.RateLimitRedisAddr == "" {
		return httpx.NewMemoryRateLimiter(), nil
	}
	return httpx.NewRedisRateLimiter(cfg.RateLimitRedisAddr, cfg.RateLimitRedisPassword, cfg.RateLimitRedisDB, log)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// orchestratorConfig is the single struct the whole daemon is configured
// from, loaded once at startup from the environment.
type orchestratorConfig struct {
	Addr     string
	LogLevel string

	MainAppURL string

	DockerHost       string
	IsolationNetwork string
	WorkspaceBase    string
	TemplateTreePath string

	PortRangeStart int
	PortRangeEnd   int

	InternalPort int
	InternalHost string

	BuildImage     string
	RunImage       string
	BuildMemoryMB  int
	BuildCPUs      float64
	BuildPIDsLimit int64
	RunMemoryMB    int
	RunCPUs        float64
	RunPIDsLimit   int64

	HealthProbeTimeout     time.Duration
	HealthProbeInterval    time.Duration
	HealthProbeMaxAttempts int
	ContainerStopGrace     time.Duration
	MetricsSampleInterval  time.Duration
	CallbackTimeout        time.Duration

	ReconcileInterval          time.Duration
	ReadyTTL                   time.Duration
	ReconcileCPULimitPercent   float64
	ReconcileMemoryLimitBytes int64

	RateLimitRedisAddr     string
	RateLimitRedisPassword string
	RateLimitRedisDB       int

	OpenAIAPIKey    string
	AnthropicAPIKey string
	GoogleAPIKey    string
	XAIAPIKey       string
	DeepSeekAPIKey  string
	MetaAPIKey      string
	MetaAPIBaseURL  string
}

func loadConfig() orchestratorConfig {
	port := config.GetInt("ORCHESTRATOR_PORT", 8080)
	return orchestratorConfig{
		Addr:     ":" + strconv.Itoa(port),
		LogLevel: config.GetString("LOG_LEVEL", "info"),

		MainAppURL: config.GetString("MAIN_APP_URL", "http://localhost:3000"),

		DockerHost:       config.GetString("DOCKER_HOST", ""),
		IsolationNetwork: config.GetString("ISOLATION_NETWORK_NAME", "arena-isolation"),
		WorkspaceBase:    config.GetString("WORKSPACE_BASE", "/tmp/arena-workspaces"),
		TemplateTreePath: config.GetString("TEMPLATE_TREE_PATH", "./templates/default"),

		PortRangeStart: config.GetInt("PORT_RANGE_START", 3001),
		PortRangeEnd:   config.GetInt("PORT_RANGE_END", 4000),

		InternalPort: config.GetInt("RUN_INTERNAL_PORT", 3000),
		InternalHost: config.GetString("RUN_INTERNAL_HOST", "localhost"),

		BuildImage:     config.GetString("BUILD_IMAGE", "node:20-slim"),
		RunImage:       config.GetString("RUN_IMAGE", "node:20-slim"),
		BuildMemoryMB:  config.GetInt("BUILD_MEMORY_MB", 4096),
		BuildCPUs:      parseFloatEnv("BUILD_CPUS", 2),
		BuildPIDsLimit: int64(config.GetInt("BUILD_PIDS_LIMIT", 512)),
		RunMemoryMB:    config.GetInt("RUN_MEMORY_MB", 2048),
		RunCPUs:        parseFloatEnv("RUN_CPUS", 1),
		RunPIDsLimit:   int64(config.GetInt("RUN_PIDS_LIMIT", 512)),

		HealthProbeTimeout:     config.GetDuration("HEALTH_PROBE_TIMEOUT", 5),
		HealthProbeInterval:    config.GetDuration("HEALTH_PROBE_INTERVAL", 2),
		HealthProbeMaxAttempts: config.GetInt("HEALTH_PROBE_MAX_ATTEMPTS", 30),
		ContainerStopGrace:     config.GetDuration("CONTAINER_STOP_GRACE", 10),
		MetricsSampleInterval:  config.GetDuration("METRICS_SAMPLE_INTERVAL", 15),
		CallbackTimeout:        config.GetDuration("CALLBACK_TIMEOUT", 5),

		ReconcileInterval:          config.GetDuration("RECONCILE_INTERVAL", 30),
		ReadyTTL:                   config.GetDuration("READY_TTL", 0),
		ReconcileCPULimitPercent:   parseFloatEnv("RECONCILE_CPU_LIMIT_PERCENT", 0),
		ReconcileMemoryLimitBytes: int64(config.GetInt("RECONCILE_MEMORY_LIMIT_BYTES", 0)),

		RateLimitRedisAddr:     config.GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPassword: config.GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:       config.GetInt("RATE_LIMIT_REDIS_DB", 0),

		OpenAIAPIKey:    config.GetString("OPENAI_API_KEY", ""),
		AnthropicAPIKey: config.GetString("ANTHROPIC_API_KEY", ""),
		GoogleAPIKey:    config.GetString("GOOGLE_API_KEY", ""),
		XAIAPIKey:       config.GetString("XAI_API_KEY", ""),
		DeepSeekAPIKey:  config.GetString("DEEPSEEK_API_KEY", ""),
		MetaAPIKey:      config.GetString("META_API_KEY", ""),
		MetaAPIBaseURL:  config.GetString("META_API_BASE_URL", ""),
	}
}

// parseFloatEnv reads a float environment variable through GetString since
// pkg/config has no GetFloat helper; invalid or unset values fall back.
func parseFloatEnv(key string, fallback float64) float64 {
	raw := config.GetString(key, "")
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
