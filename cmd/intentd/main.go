package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"ZK-Intent-Fusion/internal/api"
	"ZK-Intent-Fusion/internal/auction"
	"ZK-Intent-Fusion/internal/auth"
	"ZK-Intent-Fusion/internal/config"
	"ZK-Intent-Fusion/internal/events"
	"ZK-Intent-Fusion/internal/execution"
	"ZK-Intent-Fusion/internal/intent"
	"ZK-Intent-Fusion/internal/lifecycle"
	"ZK-Intent-Fusion/internal/llm"
	"ZK-Intent-Fusion/internal/llm/openai"
	"ZK-Intent-Fusion/internal/observability/alerting"
	"ZK-Intent-Fusion/internal/observability/metrics"
	"ZK-Intent-Fusion/internal/proofs"
	"ZK-Intent-Fusion/internal/solver"
	"ZK-Intent-Fusion/internal/web3/provider"
	"ZK-Intent-Fusion/pkg/logger"
)

// main 是 intentd 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("intentd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.PathFromEnv(filepath.Join("configs", "intentd.json")))
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	lg := logger.Named("intentd")

	store, err := openStore(ctx, cfg.Storage.Lifecycle)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			lg.Warn("关闭存储失败", slog.String("error", err.Error()))
		}
	}()

	bus, err := openBus(ctx, cfg.Events)
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Close(); err != nil {
			lg.Warn("关闭事件总线失败", slog.String("error", err.Error()))
		}
	}()

	consumerCtx, consumerCancel := context.WithCancel(ctx)
	defer consumerCancel()
	if consumer, ok := bus.(events.Consumer); ok {
		sink := &events.AuditSink{}
		go func() {
			if err := consumer.Consume(consumerCtx, cfg.Events.Workers, sink.Handle); err != nil && !errors.Is(err, context.Canceled) {
				lg.Error("事件消费异常退出", slog.String("error", err.Error()))
			}
		}()
	}

	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.Alerting.WebhookURL})
	}

	bridgeOpts := []execution.Option{}
	if cfg.Web3.Enabled() {
		chains, err := provider.NewRegistry(ctx, cfg.Web3)
		if err != nil {
			return err
		}
		defer chains.Close()
		bridgeOpts = append(bridgeOpts, execution.WithChains(chains))
		lg.Info("链访问已启用", slog.Any("chains", chains.Chains()))
	}

	oracle := proofs.NewMockOracle()
	registry, err := solver.LoadRegistry(cfg.Solvers.Registry, oracle, time.Now)
	if err != nil {
		return err
	}
	strategy, err := intent.ParseStrategy(cfg.Auction.DefaultStrategy)
	if err != nil {
		return err
	}

	parser, err := buildParser(cfg.LLM, intent.NewRuleParser(intent.WithDefaultStrategy(strategy)))
	if err != nil {
		return err
	}

	lifecycleOpts := []lifecycle.Option{
		lifecycle.WithPublisher(bus),
		lifecycle.WithAlertDispatcher(alerting.NewFanout(notifiers...)),
	}
	if cfg.Lifecycle.VerifySignatures {
		lifecycleOpts = append(lifecycleOpts, lifecycle.WithSignatureVerifier(proofs.NewSignatureVerifier()))
	}
	orch, err := lifecycle.NewOrchestrator(lifecycle.Dependencies{
		Store:       store,
		Parser:      parser,
		Coordinator: auction.NewCoordinator(oracle, auction.WithAgentTimeout(cfg.Auction.AgentTimeout())),
		Agents:      registry,
		Backend:     execution.NewBridge(bridgeOpts...),
		Prover:      oracle,
	}, lifecycleOpts...)
	if err != nil {
		return err
	}

	authService, err := auth.NewService(cfg.Auth)
	if err != nil {
		return err
	}

	if cfg.Metrics.Address != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				lg.Error("指标服务异常退出", slog.String("error", err.Error()))
			}
		}()
	}

	lg.Info("intentd 启动",
		slog.String("store", cfg.Storage.Lifecycle.Driver),
		slog.String("events", cfg.Events.Driver),
		slog.Any("solvers", registry.IDs()),
		slog.String("default_strategy", string(strategy)))

	server := api.NewServer(cfg.Server.Address, orch,
		api.WithRateLimit(cfg.Server.RateLimit.RequestsPerSecond, cfg.Server.RateLimit.Burst),
		api.WithAuth(authService),
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openStore(ctx context.Context, cfg config.LifecycleStoreConfig) (lifecycle.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return lifecycle.NewMemoryStore(), nil
	case "mysql", "sqlite":
		if cfg.Driver == "sqlite" {
			if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); err != nil {
				return nil, err
			}
		}
		return lifecycle.NewSQLStore(ctx, lifecycle.SQLConfig{
			Driver:          cfg.Driver,
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTimeSeconds) * time.Second,
		})
	case "redis":
		return lifecycle.NewRedisStore(ctx, lifecycle.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Driver)
	}
}

func openBus(ctx context.Context, cfg config.EventsConfig) (events.Publisher, error) {
	switch cfg.Driver {
	case "", "memory":
		return events.NewMemoryBus(cfg.BufferSize), nil
	case "none":
		return events.NopPublisher{}, nil
	case "redis":
		return events.NewRedisBus(ctx, events.RedisConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: time.Duration(cfg.Redis.BlockWaitSeconds) * time.Second,
		})
	case "rabbitmq":
		return events.NewRabbitMQBus(events.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的事件总线驱动: %s", cfg.Driver)
	}
}

// buildParser 在配置了大模型时用其修正规则解析结果。
func buildParser(cfg config.LLMConfig, rules *intent.RuleParser) (intent.Parser, error) {
	if !cfg.Enabled() {
		return rules, nil
	}
	client, err := openai.NewClient(openai.Config{
		APIKey:  cfg.OpenAI.ResolveAPIKey(),
		BaseURL: cfg.OpenAI.BaseURL,
		Model:   cfg.OpenAI.Model,
		Timeout: cfg.OpenAI.Timeout(),
	})
	if err != nil {
		return nil, err
	}
	logger.Named("intentd").Info("启用模型辅助意图解析", slog.String("model", client.Model()))
	return llm.NewIntentParser(client, rules), nil
}
