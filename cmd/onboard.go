package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/hive/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive first-run setup",
		Long: `Walk through first-run setup: provider key, assistant identity, and
channels. With ANTHROPIC_API_KEY in the environment the wizard runs
non-interactively, which suits containers and provisioning scripts.`,
		Run: func(cmd *cobra.Command, args []string) {
			runOnboard()
		},
	}
}

func runOnboard() {
	cfgPath := resolveConfigPath()

	if os.Getenv("ANTHROPIC_API_KEY") != "" || os.Getenv("HIVE_ANTHROPIC_API_KEY") != "" {
		if runAutoOnboard(cfgPath) {
			return
		}
		os.Exit(1)
	}

	if _, err := os.Stat(cfgPath); err == nil {
		var overwrite bool
		confirm := huh.NewConfirm().
			Title(fmt.Sprintf("Config already exists at %s. Overwrite?", cfgPath)).
			Value(&overwrite)
		if err := confirm.Run(); err != nil || !overwrite {
			fmt.Println("Keeping the existing config.")
			return
		}
	}

	cfg := config.Default()

	var (
		apiKey   string
		name     = cfg.Identity.Name
		dataDir  = cfg.DataDir
		tgToken  string
		tgAllow  string
		waBridge string
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Anthropic API key").
				Description("From console.anthropic.com. Leave empty to supply it later via ANTHROPIC_API_KEY.").
				EchoMode(huh.EchoModePassword).
				Value(&apiKey),
			huh.NewInput().
				Title("Assistant name").
				Value(&name),
			huh.NewInput().
				Title("Data directory").
				Value(&dataDir),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Telegram bot token").
				Description("From @BotFather. Leave empty to skip Telegram.").
				EchoMode(huh.EchoModePassword).
				Value(&tgToken),
			huh.NewInput().
				Title("Telegram allowed chat ids").
				Description("Comma-separated. Empty allows every chat.").
				Value(&tgAllow),
			huh.NewInput().
				Title("WhatsApp bridge URL").
				Description("ws://host:port/ws of a running bridge. Leave empty to skip WhatsApp.").
				Value(&waBridge),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("Setup cancelled.")
			return
		}
		fmt.Fprintf(os.Stderr, "Setup failed: %v\n", err)
		os.Exit(1)
	}

	cfg.Providers.Anthropic.APIKey = strings.TrimSpace(apiKey)
	if n := strings.TrimSpace(name); n != "" {
		cfg.Identity.Name = n
	}
	if d := strings.TrimSpace(dataDir); d != "" {
		cfg.DataDir = d
	}
	if t := strings.TrimSpace(tgToken); t != "" {
		cfg.Channels.Telegram.Enabled = true
		cfg.Channels.Telegram.Token = t
		cfg.Channels.Telegram.AllowFrom = config.FlexibleStringSlice(splitList(tgAllow))
	}
	if w := strings.TrimSpace(waBridge); w != "" {
		cfg.Channels.WhatsApp.Enabled = true
		cfg.Channels.WhatsApp.BridgeURL = w
	}

	if err := config.Save(cfgPath, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Printf("Config saved to %s\n", cfgPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  hive gateway    # start the daemon")
	fmt.Println("  hive chat       # talk to it in the terminal")
	fmt.Println("  hive doctor     # check the setup")
}

// runAutoOnboard performs non-interactive setup from environment variables.
// Returns true on success, false on fatal error.
func runAutoOnboard(cfgPath string) bool {
	fmt.Println("Auto-onboard: provider key found in environment, running non-interactive setup...")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Error: %v\n", err)
		return false
	}

	fmt.Println("  Provider:  anthropic")
	fmt.Printf("  Data dir:  %s\n", cfg.DataDirPath())
	if cfg.Channels.Telegram.Enabled {
		fmt.Println("  Telegram:  enabled")
	}
	if cfg.Channels.WhatsApp.Enabled {
		fmt.Println("  WhatsApp:  enabled")
	}

	// Secrets that arrived via env stay in the env; the saved file only
	// captures the non-secret shape of the setup.
	saved := *cfg
	if os.Getenv("ANTHROPIC_API_KEY") != "" || os.Getenv("HIVE_ANTHROPIC_API_KEY") != "" {
		saved.Providers.Anthropic.APIKey = ""
	}
	if os.Getenv("TELEGRAM_BOT_TOKEN") != "" || os.Getenv("HIVE_TELEGRAM_TOKEN") != "" {
		saved.Channels.Telegram.Token = ""
	}
	if os.Getenv("BREVO_API_KEY") != "" || os.Getenv("HIVE_BREVO_API_KEY") != "" {
		saved.Email.BrevoAPIKey = ""
	}

	if err := config.Save(cfgPath, &saved); err != nil {
		fmt.Printf("  Warning: could not save config: %v\n", err)
	} else {
		fmt.Printf("  Config saved to %s\n", cfgPath)
	}

	fmt.Println("Auto-onboard complete.")
	return true
}

// splitList splits a comma-separated flag value, dropping empties.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
