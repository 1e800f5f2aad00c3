package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-baton/internal/api/handler"
	"go-baton/internal/config"
	"go-baton/internal/connection"
	"go-baton/internal/core/memory"
	"go-baton/internal/core/ports"
	"go-baton/internal/core/postgres/repository"
	"go-baton/internal/domain"
	"go-baton/internal/executor"
	"go-baton/internal/infrastructure/redis"
	"go-baton/internal/invoker"
	"go-baton/internal/metrics"
	"go-baton/internal/orchestrator"
	"go-baton/internal/registry"
	"go-baton/internal/router"
	"go-baton/internal/service"
	"go-baton/internal/streamer"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "baton",
		Level: hclog.LevelFromString(cfg.Log.Level),
	})

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger hclog.Logger) error {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	repo, err := buildRepository(cfg, logger)
	if err != nil {
		return err
	}

	agents, err := buildRegistry(cfg.Agents)
	if err != nil {
		return err
	}
	logger.Info("registry frozen", "agents", agents.Len())

	manager := connection.New(connection.Config{
		QueueSize:    cfg.Connection.QueueSize,
		HighWater:    cfg.Connection.HighWater,
		GracePeriod:  cfg.Connection.GracePeriod,
		PingInterval: cfg.Connection.PingInterval,
		WriteTimeout: cfg.Connection.WriteTimeout,
	}, m, logger.Named("connection"))

	sinks := []ports.EventSink{manager, m, service.NewRecorder(repo, logger.Named("recorder"))}
	if cfg.Redis.Addr != "" {
		client, err := redis.NewClient(cfg.Redis.Addr)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		sinks = append(sinks, redis.NewRelay(client, logger.Named("relay")))
		logger.Info("redis relay enabled", "addr", cfg.Redis.Addr)
	}
	stream := streamer.New(logger.Named("streamer"), sinks...)

	exec := executor.New(logger.Named("executor"))
	orch := orchestrator.New(exec, stream, int64(cfg.Orchestrator.Workers), logger.Named("orchestrator"))
	svc := service.New(router.New(agents), orch, repo, manager, m, cfg.DefaultPolicy(), logger.Named("service"))

	h := handler.New(svc, manager, logger.Named("handler"))
	engine := gin.Default()
	h.Routes(engine, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errC := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errC <- err
		}
	}()

	select {
	case err := <-errC:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildRepository opens postgres when a DSN is configured, otherwise falls
// back to the in-memory store.
func buildRepository(cfg *config.Config, logger hclog.Logger) (ports.RunRepository, error) {
	if cfg.Postgres.DSN == "" {
		logger.Info("no postgres dsn configured, using in-memory run store")
		return memory.NewRunRepository(), nil
	}

	db, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := db.AutoMigrate(&domain.RunRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	logger.Info("connected to postgres")
	return repository.NewRunRepository(db), nil
}

// buildRegistry instantiates each configured agent's invoker and freezes the
// result.
func buildRegistry(agents []config.AgentConfig) (*registry.Registry, error) {
	builtins := invoker.Builtins()
	reg := registry.New()

	for _, a := range agents {
		var inv ports.AgentInvoker
		switch a.Provider {
		case "builtin", "":
			b, ok := builtins[a.Action]
			if !ok {
				return nil, fmt.Errorf("agent %s: unknown builtin action %q", a.Name, a.Action)
			}
			inv = b
		case "anthropic":
			ai, err := invoker.NewAnthropic("", a.Model, a.SystemPrompt)
			if err != nil {
				return nil, fmt.Errorf("agent %s: %w", a.Name, err)
			}
			inv = ai
		default:
			return nil, fmt.Errorf("agent %s: unknown provider %q", a.Name, a.Provider)
		}

		if err := reg.Register(&registry.AgentIdentity{
			Name:         a.Name,
			Capabilities: a.Capabilities,
			Invoker:      inv,
		}); err != nil {
			return nil, err
		}
	}

	reg.Freeze()
	return reg, nil
}
