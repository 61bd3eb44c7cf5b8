// Command workflow-service is the engine's entry point: it loads
// configuration, opens the Postgres/Redis adapters, wires the capability
// clients into the handler registry, and runs the HTTP control plane
// alongside a pool of workers — spec.md §5's deployment topology.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jordigilh/kubernaut-workflow-engine/internal/config"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/capability/changetracker"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/capability/codehost"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/capability/filescanner"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/capability/llmclient"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/capability/logparser"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/capability/notifier"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/capability/vectorstore"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/clockid"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/distlock"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/executor"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/handlers"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/httpapi"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/observability"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/orchestrator"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/registry"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/snapshotcache"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/statestore"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/taskqueue"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the engine's YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "apply env overrides:", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "build logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := statestore.Open(ctx, cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal("open state store", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("connect to redis", zap.Error(err))
	}

	cache := snapshotcache.New(redisClient)
	queue := taskqueue.New(redisClient)
	lock := distlock.New(redisClient)

	vectorStore, err := vectorstore.Open(ctx, cfg.Postgres.DSN, llmclient.NewHashEmbedder())
	if err != nil {
		logger.Fatal("open vector store", zap.Error(err))
	}

	llmClient, err := llmclient.NewClient(llmclient.Config{
		Provider: envOr("WFENGINE_LLM_PROVIDER", "anthropic"),
		APIKey:   os.Getenv("WFENGINE_LLM_API_KEY"),
		BaseURL:  os.Getenv("WFENGINE_LLM_BASE_URL"),
		Model:    os.Getenv("WFENGINE_LLM_MODEL"),
	})
	if err != nil {
		logger.Fatal("build llm client", zap.Error(err))
	}

	githubToken := os.Getenv("WFENGINE_GITHUB_TOKEN")
	codeHostClient := codehost.NewClient(codehost.Config{
		Enabled: githubToken != "",
		Owner:   os.Getenv("WFENGINE_GITHUB_OWNER"),
		Repo:    os.Getenv("WFENGINE_GITHUB_REPO"),
		Token:   githubToken,
	})

	notifierClient := notifier.New(notifier.Config{
		SlackToken: os.Getenv("WFENGINE_SLACK_TOKEN"),
		FileDir:    envOr("WFENGINE_NOTIFY_FILE_DIR", "./notifications"),
	})

	reg := registry.New()
	if err := handlers.Register(reg, handlers.Deps{
		LLM:           llmClient,
		CodeHost:      codeHostClient,
		VectorStore:   vectorStore,
		Notifier:      notifierClient,
		LogParser:     logparser.New(),
		FileScanner:   filescanner.New(),
		ChangeTracker: changetracker.New(store),
		Clock:         clockid.NewRealClock(),
		IDs:           clockid.NewUUIDGenerator(),
		Logger:        logger,
	}); err != nil {
		logger.Fatal("register handlers", zap.Error(err))
	}

	orch := orchestrator.New(store, cache, queue, reg, lock, clockid.NewUUIDGenerator())

	apiServer := httpapi.New(orch, store, cache, clockid.NewRealClock(), logger)
	httpServer := &http.Server{Addr: ":" + cfg.Server.Port, Handler: apiServer}

	metrics := observability.NewMetrics()
	metricsServer := &http.Server{Addr: ":" + cfg.Server.MetricsPort, Handler: metrics.Handler()}

	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", zap.Error(err))
		}
	}()
	go func() {
		logger.Info("metrics server listening", zap.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	workerCfg := executor.Config{
		SoftTimeout: cfg.Worker.TaskSoftTimeLimit.Duration,
		HardTimeout: cfg.Worker.TaskHardTimeLimit.Duration,
	}
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		w := executor.New(queue, store, cache, reg, orch, logger, workerCfg)
		go func() {
			if err := w.Run(ctx); err != nil {
				logger.Error("worker stopped", zap.Error(err))
			}
		}()
	}

	go reclaimLoop(ctx, queue, logger)
	go promoteLoop(ctx, queue, logger)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
}

// reclaimLoop periodically redelivers jobs whose lease expired without an
// ack/nack — a worker that crashed or was killed mid-handler, per
// spec.md §4.6's at-least-once delivery guarantee.
func reclaimLoop(ctx context.Context, queue *taskqueue.Queue, logger *zap.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := queue.ReclaimExpired(ctx)
			if err != nil {
				logger.Warn("reclaim expired jobs failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("reclaimed expired jobs", zap.Int("count", n))
			}
		}
	}
}

// promoteLoop moves scheduled retries whose due-time has elapsed from
// taskqueue's delayed sorted set back onto the ready list — the backoff
// mechanism's delay (spec.md §4.1/§4.9) has nothing else to wake it up.
func promoteLoop(ctx context.Context, queue *taskqueue.Queue, logger *zap.Logger) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := queue.PromoteDue(ctx)
			if err != nil {
				logger.Warn("promote due jobs failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("promoted due jobs", zap.Int("count", n))
			}
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
