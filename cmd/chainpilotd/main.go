package main

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"ChainPilot/internal/agent"
	"ChainPilot/internal/api"
	"ChainPilot/internal/config"
	"ChainPilot/internal/defi/beets"
	"ChainPilot/internal/defi/staking"
	"ChainPilot/internal/defi/tokens"
	"ChainPilot/internal/defi/voteescrow"
	"ChainPilot/internal/defi/wallet"
	"ChainPilot/internal/defi/yield"
	"ChainPilot/internal/llm"
	"ChainPilot/internal/llm/openai"
	"ChainPilot/internal/observability/alerting"
	"ChainPilot/internal/task"
	"ChainPilot/internal/tooling"
	"ChainPilot/internal/web3/provider"
	"ChainPilot/pkg/logger"
)

// main 是 ChainPilot 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !stdErrors.Is(err, context.Canceled) {
		log.Fatalf("chainpilotd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	// .env 不存在时静默跳过，密钥也可以直接来自进程环境。
	_ = godotenv.Load()

	configPath := os.Getenv("CHAINPILOT_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "chainpilot.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}
	if err := logger.Init(logger.Config{
		Audit: logger.AuditConfig{
			Enabled: true,
			Path:    filepath.Join(cfg.Runtime.DataDir, "audit.log"),
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return err
	}

	chains, err := provider.NewRegistry(ctx, cfg.Web3)
	if err != nil {
		return err
	}
	defer chains.Close()

	registry, err := buildToolRegistry(chains)
	if err != nil {
		return err
	}

	loopOpts := []agent.Option{
		agent.WithMaxTurns(cfg.Agent.MaxTurns),
		agent.WithSystemPrompt(cfg.Agent.SystemPrompt),
		agent.WithNotifier(&tooling.LogNotifier{Logger: logger.Named("progress")}),
	}
	loop := agent.NewLoop(llmClient, registry, loopOpts...)

	taskStore, err := createTaskStore(cfg)
	if err != nil {
		return err
	}
	taskQueue, err := createTaskQueue(cfg)
	if err != nil {
		_ = taskStore.Close()
		return err
	}
	defer func() {
		if err := taskQueue.Close(); err != nil {
			logger.L().Error("关闭任务队列失败", slog.Any("error", err))
		}
	}()

	taskService := task.NewService(taskStore, taskQueue, 3)
	defer func() {
		_ = taskStore.Close()
	}()

	alerter := alerting.NewFanout(&alerting.LogNotifier{Logger: logger.Named("alert")})
	processor := task.NewProcessor(loop, taskStore, taskQueue, taskQueue,
		task.WithWorkerCount(cfg.Queue.Workers),
		task.WithProcessorLogger(logger.Named("task")),
		task.WithAlertDispatcher(alerter),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !stdErrors.Is(err, context.Canceled) {
			logger.L().Error("任务处理器异常退出", slog.Any("error", err))
		}
	}()

	// 会话账户来自默认链的签名钱包，请求无法覆盖。
	defaultClient, err := chains.ClientFor(chains.DefaultChain())
	if err != nil {
		return err
	}
	account := defaultClient.Sender().Hex()

	server := api.NewServer(cfg.Server.Address, loop, taskService,
		api.WithAPIKey(cfg.Server.APIKey),
		api.WithSessionContext(chains.DefaultChain(), account),
	)
	logger.L().Info("chainpilotd 启动",
		slog.String("default_chain", chains.DefaultChain()),
		slog.String("account", account),
		slog.Any("chains", chains.Chains()),
		slog.Any("tools", registry.Names()),
	)
	return server.Start(ctx)
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "", "openai":
		return openai.NewClient(openai.Config{
			APIKey:  cfg.LLM.OpenAI.APIKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: time.Duration(cfg.LLM.OpenAI.TimeoutSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

func buildToolRegistry(chains *provider.Registry) (*tooling.Registry, error) {
	registry := tooling.NewRegistry()
	catalog := tokens.Default()

	if err := wallet.Register(registry, wallet.Deps{Chains: chains, Catalog: catalog}); err != nil {
		return nil, err
	}
	if err := beets.Register(registry, beets.Deps{
		Chains:  chains,
		Catalog: catalog,
		API:     beets.NewAPI(beets.APIConfig{}),
	}); err != nil {
		return nil, err
	}
	if err := staking.Register(registry, staking.Deps{Chains: chains, Catalog: catalog}); err != nil {
		return nil, err
	}
	if err := voteescrow.Register(registry, voteescrow.Deps{Chains: chains, Catalog: catalog}); err != nil {
		return nil, err
	}
	if err := yield.Register(registry, yield.Deps{Chains: chains, Catalog: catalog}); err != nil {
		return nil, err
	}
	return registry, nil
}

func createTaskStore(cfg *config.Config) (task.Store, error) {
	switch cfg.Storage.TaskStore.Driver {
	case "", "memory":
		return task.NewMemoryStore(), nil
	case "mysql":
		return task.NewMySQLStore(cfg.Storage.TaskStore.DSN)
	default:
		return nil, fmt.Errorf("不支持的任务存储驱动: %s", cfg.Storage.TaskStore.Driver)
	}
}

func createTaskQueue(cfg *config.Config) (task.Queue, error) {
	switch cfg.Queue.Driver {
	case "", "memory":
		return task.NewMemoryQueue(1024), nil
	case "redis":
		return task.NewRedisQueue(task.RedisQueueConfig{
			URL:   cfg.Queue.RedisURL,
			Queue: cfg.Queue.Name,
		})
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:      cfg.Queue.AMQPURL,
			Queue:    cfg.Queue.Name,
			Prefetch: cfg.Queue.Workers,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}
}
