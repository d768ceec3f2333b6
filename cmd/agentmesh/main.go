package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/agentmesh/agent/conversation"
	"github.com/BaSui01/agentmesh/agent/delegation"
	"github.com/BaSui01/agentmesh/agent/project"
	"github.com/BaSui01/agentmesh/agent/registry"
	"github.com/BaSui01/agentmesh/agent/runloop"
	"github.com/BaSui01/agentmesh/config"
	"github.com/BaSui01/agentmesh/internal/metrics"
	"github.com/BaSui01/agentmesh/internal/telemetry"
	"github.com/BaSui01/agentmesh/relay"
	"github.com/BaSui01/agentmesh/types"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "keygen":
		runKeygen()
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting agentmesh",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, telemetry.Identity{
		AgentSlug: cfg.Agent.Slug,
		ProjectID: cfg.Project.ID,
	}, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && err != context.Canceled {
		logger.Fatal("daemon failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := otelProviders.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
	logger.Info("agentmesh stopped")
}

// run wires the daemon and blocks until ctx is canceled.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	signer, err := buildSigner(cfg, logger)
	if err != nil {
		return fmt.Errorf("build signer: %w", err)
	}
	self := types.AgentIdentity{Pubkey: signer.Pubkey(), Slug: cfg.Agent.Slug}

	store, err := project.NewSQLiteStore(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("open project store: %w", err)
	}
	defer store.Close()

	owner := types.AgentIdentity{Pubkey: cfg.Project.OwnerPubkey, Slug: cfg.Project.OwnerSlug}
	proj := project.NewProject(cfg.Project.ID, cfg.Project.Name, owner)
	proj.EscalationAgentSlug = cfg.Project.EscalationAgentSlug
	proj.AddMember(self)
	if err := store.SaveProject(ctx, proj); err != nil {
		logger.Warn("failed to persist project", zap.Error(err))
	}

	projects := project.NewRegistry(logger)
	projects.Register(proj)

	conversations, err := conversation.NewStore(conversation.StoreConfig{
		Type: conversation.StoreType(cfg.Conversations.Type),
		Redis: conversation.RedisStoreConfig{
			Addr:      cfg.Conversations.Redis.Addr,
			Password:  cfg.Conversations.Redis.Password,
			DB:        cfg.Conversations.Redis.DB,
			PoolSize:  cfg.Conversations.Redis.PoolSize,
			KeyPrefix: cfg.Conversations.Redis.KeyPrefix,
		},
	})
	if err != nil {
		return fmt.Errorf("open conversation store: %w", err)
	}
	defer conversations.Close()

	client := relay.NewClient(relay.ClientConfig{
		URL:            cfg.Relay.URL,
		PublishTimeout: cfg.Relay.PublishTimeout,
		PublishRate:    cfg.Relay.PublishRate,
		PublishBurst:   cfg.Relay.PublishBurst,
	}, logger)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect relay: %w", err)
	}
	defer client.Close()

	collector := metrics.NewCollector("agentmesh", nil, logger)

	svc, err := delegation.NewService(delegation.Config{
		Self:            self,
		Project:         proj,
		ProjectRegistry: projects,
		ProjectStore:    store,
		Registry:        registry.Default(),
		Conversations:   conversations,
		Publisher:       client,
		Signer:          signer,
		Metrics:         collector,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("build delegation service: %w", err)
	}
	logger.Info("delegation tools ready",
		zap.Int("tools", len(svc.Tools())),
		zap.String("agent", self.String()),
		zap.String("project", proj.ID),
	)

	loop, err := runloop.New(runloop.Config{
		Registry:      registry.Default(),
		Conversations: conversations,
		Resume: func(ctx context.Context, conversationID types.CorrelationID, run types.RunNumber, replies []*registry.CompletedDelegation) error {
			// The agent runtime attaches here. Until one is wired in, the
			// daemon records that the conversation is ready to continue.
			logger.Info("run ready to resume",
				zap.String("conversation_id", conversationID),
				zap.Int64("run", int64(run)),
				zap.Int("replies", len(replies)),
			)
			return nil
		},
		Metrics: collector,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("build run loop: %w", err)
	}

	events, err := client.Subscribe(ctx, relay.Filter{
		Kinds:      []relay.Kind{relay.KindDelegateReply, relay.KindStatusUpdate},
		Recipients: []string{self.Pubkey},
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	logger.Info("agentmesh serving", zap.String("relay", cfg.Relay.URL))
	return loop.Run(ctx, events)
}

// buildSigner selects the remote signer when configured, the local seed
// otherwise.
func buildSigner(cfg *config.Config, logger *zap.Logger) (relay.Signer, error) {
	if cfg.Signer.RemoteURL != "" {
		return relay.NewRemoteSigner(relay.RemoteSignerConfig{
			URL:     cfg.Signer.RemoteURL,
			Pubkey:  cfg.Signer.RemotePubkey,
			Timeout: cfg.Signer.Timeout,
		}, logger), nil
	}
	return relay.NewLocalSignerFromSeed(cfg.Agent.SeedHex)
}

func runKeygen() {
	signer, err := relay.NewLocalSigner()
	if err != nil {
		fmt.Fprintf(os.Stderr, "keygen failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("pubkey: %s\nseed:   %s\n", signer.Pubkey(), signer.SeedHex())
}

func printVersion() {
	fmt.Printf("agentmesh %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`agentmesh - agent delegation daemon

Usage:
  agentmesh <command> [options]

Commands:
  serve     Start the delegation daemon
  keygen    Generate a new signing key pair
  version   Show version information
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Examples:
  agentmesh serve
  agentmesh serve --config /etc/agentmesh/config.yaml
  agentmesh keygen`)
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
