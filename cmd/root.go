package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/hive/internal/config"
)

// Version is set at build time via -ldflags "-X github.com/nextlevelbuilder/hive/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "hive",
	Short: "Hive — personal assistant daemon",
	Long: "Hive is a single-binary personal assistant: it connects Telegram, WhatsApp,\n" +
		"and the terminal to an LLM pipeline with skills, workflows, reminders, and\n" +
		"scheduled runs. Running it with no subcommand starts the gateway.",
	Run: func(cmd *cobra.Command, args []string) {
		runGateway()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.hive/config.json or $HIVE_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(gatewayCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(onboardCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(workflowCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hive %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("HIVE_CONFIG"); v != "" {
		return v
	}
	return config.DefaultPath()
}

// initLogging installs the default slog handler. The gateway logs to
// stdout; chat logs to stderr so replies stay clean.
func initLogging(out io.Writer, level string) {
	lv := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lv = slog.LevelDebug
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	}
	if verbose {
		lv = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: lv})))
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
