package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/hive/internal/bootstrap"
	clichannel "github.com/nextlevelbuilder/hive/internal/channels/cli"
	"github.com/nextlevelbuilder/hive/internal/config"
)

func chatCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant in the terminal",
		Long: `Chat with the assistant in an interactive terminal session.

The full pipeline runs in-process against the local store, so no gateway
needs to be running. Type "exit" or press Ctrl+D to leave.`,
		Run: func(cmd *cobra.Command, args []string) {
			runChat(userID)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "local", "user id messages are attributed to")

	return cmd
}

func runChat(userID string) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	// Replies print to stdout; logs stay on stderr and out of the
	// transcript unless --verbose asks for them.
	initLogging(os.Stderr, "warn")

	dataDir := cfg.DataDirPath()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating data dir: %v\n", err)
		os.Exit(1)
	}

	st, err := openStores(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := bootstrap.Seed(context.Background(), st, dataDir); err != nil {
		fmt.Fprintf(os.Stderr, "Error seeding data dir: %v\n", err)
		os.Exit(1)
	}

	deps, err := buildPipeline(cfg, st, dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building pipeline: %v\n", err)
		os.Exit(1)
	}
	defer deps.skills.Close()

	// Chat is conversational only. The scheduler and reminder sweeper stay
	// off so a REPL session never double-fires schedules owned by a running
	// gateway.
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	term := clichannel.New(deps.bus, userID, os.Stdin, os.Stdout, os.Stderr)
	deps.channels.RegisterChannel(term)
	if err := deps.channels.StartAll(runCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting chat: %v\n", err)
		os.Exit(1)
	}

	go consumeInbound(runCtx, deps.bus, deps.gateway)

	fmt.Fprintf(os.Stderr, "\n%s — interactive chat\n", cfg.AssistantName())
	fmt.Fprintf(os.Stderr, "User: %s | Store: %s\n", userID, cfg.Store.Driver)
	fmt.Fprintf(os.Stderr, "Type \"exit\" to quit.\n\n")

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-term.Done():
	case <-sigCtx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	deps.channels.StopAll(shutdownCtx)
	cancelRun()

	fmt.Fprintln(os.Stderr, "Goodbye!")
}
