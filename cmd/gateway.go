package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/hive/internal/agent"
	"github.com/nextlevelbuilder/hive/internal/bootstrap"
	"github.com/nextlevelbuilder/hive/internal/bus"
	"github.com/nextlevelbuilder/hive/internal/channels"
	"github.com/nextlevelbuilder/hive/internal/channels/telegram"
	"github.com/nextlevelbuilder/hive/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/hive/internal/config"
	hivehttp "github.com/nextlevelbuilder/hive/internal/http"
	"github.com/nextlevelbuilder/hive/internal/orchestrator"
	"github.com/nextlevelbuilder/hive/internal/providers"
	"github.com/nextlevelbuilder/hive/internal/reminders"
	"github.com/nextlevelbuilder/hive/internal/scheduler"
	"github.com/nextlevelbuilder/hive/internal/scripts"
	"github.com/nextlevelbuilder/hive/internal/skills"
	"github.com/nextlevelbuilder/hive/internal/store"
	"github.com/nextlevelbuilder/hive/internal/store/pg"
	"github.com/nextlevelbuilder/hive/internal/store/sqlite"
	"github.com/nextlevelbuilder/hive/internal/telemetry"
	"github.com/nextlevelbuilder/hive/internal/tools"
	"github.com/nextlevelbuilder/hive/internal/vault"
	"github.com/nextlevelbuilder/hive/internal/workflow"
	"github.com/nextlevelbuilder/hive/internal/workspace"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the assistant daemon",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}
}

func runGateway() {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("gateway: load config failed", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	initLogging(os.Stdout, cfg.Logging.Level)

	// No provider key means the pipeline cannot answer anything. Point a
	// first-time user at the wizard rather than failing on the first turn.
	if cfg.Providers.Anthropic.APIKey == "" && cfg.Providers.Local.BaseURL == "" {
		if _, statErr := os.Stat(cfgPath); os.IsNotExist(statErr) {
			fmt.Println("No configuration found. Starting setup wizard...")
			fmt.Println()
			runOnboard()
			return
		}
		fmt.Println("No provider API key configured. Set ANTHROPIC_API_KEY or re-run: hive onboard")
		os.Exit(1)
	}

	dataDir := cfg.DataDirPath()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		slog.Error("gateway: create data dir failed", "dir", dataDir, "error", err)
		os.Exit(1)
	}

	shutdownTracing, err := telemetry.Setup(context.Background(), cfg.Observability)
	if err != nil {
		slog.Error("gateway: telemetry setup failed", "error", err)
		os.Exit(1)
	}

	st, err := openStores(cfg)
	if err != nil {
		slog.Error("gateway: open store failed", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}

	if err := bootstrap.Seed(context.Background(), st, dataDir); err != nil {
		slog.Error("gateway: bootstrap seeding failed", "error", err)
		st.Close()
		os.Exit(1)
	}

	deps, err := buildPipeline(cfg, st, dataDir)
	if err != nil {
		slog.Error("gateway: pipeline setup failed", "error", err)
		st.Close()
		os.Exit(1)
	}
	defer deps.skills.Close()

	// Everything long-running hangs off runCtx; cancelling it stops the
	// consumer and any in-flight turns.
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	if cfg.Scheduler.IsEnabled() {
		if err := deps.scheduler.Start(runCtx); err != nil {
			slog.Warn("gateway: scheduler start failed", "error", err)
		}
	} else {
		slog.Info("gateway: scheduler disabled by config")
	}
	deps.sweeper.Start(runCtx)

	registerChannels(cfg, deps.bus, deps.channels)
	if err := deps.channels.StartAll(runCtx); err != nil {
		slog.Error("gateway: channel start failed", "error", err)
	}

	go consumeInbound(runCtx, deps.bus, deps.gateway)

	addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	statusSrv := hivehttp.NewServer(addr, Version, deps.channels, deps.scheduler)
	go func() {
		if err := statusSrv.Start(context.Background()); err != nil {
			slog.Error("gateway: status listener failed", "error", err)
		}
	}()

	pidPath := cfg.PIDPath()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		slog.Warn("gateway: pid file not written", "path", pidPath, "error", err)
	}

	slog.Info("hive gateway started",
		"version", Version,
		"data_dir", dataDir,
		"store", cfg.Store.Driver,
		"channels", deps.channels.Names(),
		"addr", addr,
	)

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	stop()

	slog.Info("gateway: shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	deps.scheduler.Stop()
	deps.sweeper.Stop()
	deps.channels.StopAll(shutdownCtx)
	cancelRun()
	if err := statusSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("gateway: status listener shutdown", "error", err)
	}
	os.Remove(pidPath)
	if err := st.Close(); err != nil {
		slog.Warn("gateway: store close", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Warn("gateway: trace flush", "error", err)
	}
	slog.Info("gateway: shutdown complete")
}

// openStores selects the backend from config. SQLite migrates itself on
// open; Postgres does too, but `hive migrate` remains the operator path.
func openStores(cfg *config.Config) (*store.Stores, error) {
	switch cfg.Store.Driver {
	case "postgres":
		if cfg.Store.DSN == "" {
			return nil, fmt.Errorf("store driver is postgres but HIVE_POSTGRES_DSN is not set")
		}
		return pg.NewStores(cfg.Store.DSN)
	default:
		return sqlite.NewStores(cfg.DBPath())
	}
}

// pipeline carries everything runGateway and runChat assemble from config.
type pipeline struct {
	bus       *bus.MessageBus
	channels  *channels.Manager
	gateway   *agent.Gateway
	engine    *workflow.Engine
	scheduler *scheduler.Scheduler
	sweeper   *reminders.Sweeper
	skills    *skills.Resolver
}

// buildPipeline wires stores, providers, tools, skills, the agent gateway,
// and the workflow engine. Channels are registered separately since chat
// and gateway differ there.
func buildPipeline(cfg *config.Config, st *store.Stores, dataDir string) (*pipeline, error) {
	v, err := vault.Open(dataDir, st.Credentials)
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}
	ws := workspace.NewManager(dataDir)

	anthropic, local := buildProviders(cfg)
	execProvider := providers.Provider(anthropic)
	if cfg.Providers.Anthropic.APIKey == "" && local != nil {
		execProvider = local
	}

	router := buildRouter(cfg, anthropic, local)
	executor := agent.NewExecutor(execProvider, cfg.Executor)
	builder := agent.NewContextBuilder(cfg.Identity)
	runner := scripts.NewRunner(cfg.Scripts, dataDir)

	var mailer *tools.Mailer
	if cfg.Email.BrevoAPIKey != "" {
		mailer = tools.NewMailer(cfg.Email)
	}
	toolReg := tools.NewRegistry(tools.ToolContext{
		Stores:    st,
		Runner:    runner,
		Workspace: ws,
		Mailer:    mailer,
	})

	resolver := skills.NewResolver(st.Skills, ws)
	if err := resolver.Watch(); err != nil {
		slog.Warn("gateway: skill watcher unavailable", "error", err)
	}

	summarizer := agent.NewSummarizer(execProvider, st.Conversations,
		cfg.Executor.ModelIDs.ID(cfg.Executor.Models.Family("simple")))

	gw := agent.NewGateway(agent.GatewayDeps{
		Stores:     st,
		Router:     router,
		Executor:   executor,
		Builder:    builder,
		Tools:      toolReg,
		Skills:     resolver,
		Workspace:  ws,
		Summarizer: summarizer,
		Tiers:      cfg.Executor.Models,
		DebugLog:   cfg.Gateway.DebugLog,
	})

	msgBus := bus.New()
	chMgr := channels.NewManager(msgBus)

	engine := workflow.NewEngine(workflow.EngineDeps{
		Stores:    st,
		Vault:     v,
		Runner:    runner,
		Workspace: ws,
		Notifier:  chMgr,
	})
	engine.SetGateway(gw)
	gw.SetWorkflowTrigger(workflow.NewTrigger(st, engine))

	return &pipeline{
		bus:       msgBus,
		channels:  chMgr,
		gateway:   gw,
		engine:    engine,
		scheduler: scheduler.New(st.Schedules, engine),
		sweeper:   reminders.NewSweeper(st, chMgr),
		skills:    resolver,
	}, nil
}

// buildProviders constructs the Anthropic client and, when a base URL is
// configured, the OpenAI-compatible local provider.
func buildProviders(cfg *config.Config) (*providers.AnthropicProvider, *providers.LocalProvider) {
	var opts []providers.AnthropicOption
	if cfg.Providers.Anthropic.BaseURL != "" {
		opts = append(opts, providers.WithAnthropicBaseURL(cfg.Providers.Anthropic.BaseURL))
	}
	anthropic := providers.NewAnthropicProvider(cfg.Providers.Anthropic.APIKey, opts...)

	var local *providers.LocalProvider
	if cfg.Providers.Local.BaseURL != "" {
		local = providers.NewLocalProvider("local",
			cfg.Providers.Local.APIKey, cfg.Providers.Local.BaseURL, cfg.Providers.Local.Model)
	}
	return anthropic, local
}

// buildRouter picks the routing provider per config; default is Anthropic
// on the cheap tier. The fallback provider is tried once on primary error.
func buildRouter(cfg *config.Config, anthropic *providers.AnthropicProvider, local *providers.LocalProvider) *orchestrator.Orchestrator {
	primary := providers.Provider(anthropic)
	if cfg.Orchestrator.Provider == "local" && local != nil {
		primary = local
	}

	model := cfg.Orchestrator.Model
	if model == "" {
		model = cfg.Executor.ModelIDs.ID(cfg.Executor.Models.Family("simple"))
	}

	var opts []orchestrator.Option
	switch cfg.Orchestrator.FallbackProvider {
	case "local":
		if local != nil {
			opts = append(opts, orchestrator.WithFallback(local))
		}
	case "anthropic":
		if primary != providers.Provider(anthropic) {
			opts = append(opts, orchestrator.WithFallback(anthropic))
		}
	}
	return orchestrator.New(primary, model, opts...)
}

// registerChannels attaches the channels enabled in config. A channel that
// fails to construct is skipped so one bad token cannot keep the daemon
// down.
func registerChannels(cfg *config.Config, msgBus *bus.MessageBus, mgr *channels.Manager) {
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		tg, err := telegram.New(cfg.Channels.Telegram, msgBus)
		if err != nil {
			slog.Error("gateway: telegram init failed", "error", err)
		} else {
			mgr.RegisterChannel(tg)
			slog.Info("gateway: telegram channel enabled")
		}
	}
	if cfg.Channels.WhatsApp.Enabled && cfg.Channels.WhatsApp.BridgeURL != "" {
		wa, err := whatsapp.New(cfg.Channels.WhatsApp, msgBus)
		if err != nil {
			slog.Error("gateway: whatsapp init failed", "error", err)
		} else {
			mgr.RegisterChannel(wa)
			slog.Info("gateway: whatsapp channel enabled")
		}
	}
}
