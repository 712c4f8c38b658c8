package cmd

import (
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/dustin/go-humanize"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/hive/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("hive doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND — run: hive onboard)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Store:")
	fmt.Printf("    %-12s %s\n", "Driver:", cfg.Store.Driver)
	checkStore(cfg)

	fmt.Println()
	fmt.Println("  Providers:")
	checkProvider("Anthropic", cfg.Providers.Anthropic.APIKey)
	if cfg.Providers.Local.BaseURL != "" {
		fmt.Printf("    %-12s %s (model %s)\n", "Local:", cfg.Providers.Local.BaseURL, cfg.Providers.Local.Model)
	} else {
		fmt.Printf("    %-12s (not configured)\n", "Local:")
	}
	checkProvider("Brevo", cfg.Email.BrevoAPIKey)

	fmt.Println()
	fmt.Println("  Channels:")
	checkChannel("Telegram", cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token != "")
	checkChannel("WhatsApp", cfg.Channels.WhatsApp.Enabled, cfg.Channels.WhatsApp.BridgeURL != "")

	fmt.Println()
	fmt.Println("  Scripts:")
	interp := cfg.Scripts.Interpreter
	if interp == "" {
		interp = "python3"
	}
	checkBinary(interp)

	fmt.Println()
	dataDir := cfg.DataDirPath()
	fmt.Printf("  Data dir: %s", dataDir)
	if _, err := os.Stat(dataDir); err != nil {
		fmt.Println(" (NOT FOUND — created on first run)")
	} else {
		fmt.Println(" (OK)")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkStore(cfg *config.Config) {
	switch cfg.Store.Driver {
	case "postgres":
		if cfg.Store.DSN == "" {
			fmt.Printf("    %-12s HIVE_POSTGRES_DSN not set\n", "Status:")
			return
		}
		db, err := sql.Open("pgx", cfg.Store.DSN)
		if err != nil {
			fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
			return
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
			return
		}
		fmt.Printf("    %-12s connected\n", "Status:")
	default:
		dbPath := cfg.DBPath()
		fi, err := os.Stat(dbPath)
		if err != nil {
			fmt.Printf("    %-12s %s (not created yet)\n", "Path:", dbPath)
			return
		}
		fmt.Printf("    %-12s %s (%s)\n", "Path:", dbPath, humanize.Bytes(uint64(fi.Size())))
	}
}

// checkProvider prints a masked key so the report is safe to paste into an
// issue. Short keys are not sliced.
func checkProvider(name, apiKey string) {
	if apiKey == "" {
		fmt.Printf("    %-12s (not configured)\n", name+":")
		return
	}
	masked := "(set)"
	if len(apiKey) >= 8 {
		masked = apiKey[:4] + strings.Repeat("*", len(apiKey)-8) + apiKey[len(apiKey)-4:]
	}
	fmt.Printf("    %-12s %s\n", name+":", masked)
}

func checkChannel(name string, enabled, hasCredentials bool) {
	status := "disabled"
	if enabled && hasCredentials {
		status = "enabled"
	} else if enabled {
		status = "enabled (missing credentials)"
	}
	fmt.Printf("    %-12s %s\n", name+":", status)
}

func checkBinary(name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-12s NOT FOUND\n", name+":")
	} else {
		fmt.Printf("    %-12s %s\n", name+":", path)
	}
}
