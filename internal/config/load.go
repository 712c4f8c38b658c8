package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return ExpandHome("~/.hive/config.json")
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		DataDir: "~/.hive/data",
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18999,
		},
		Orchestrator: OrchestratorConfig{
			Provider: "anthropic",
		},
		Executor: ExecutorConfig{
			MaxToolRounds: 5,
			MaxTokens:     4096,
		},
		Store: StoreConfig{
			Driver: "sqlite",
		},
		Scripts: ScriptsConfig{
			Interpreter:    "python3",
			TimeoutSeconds: 60,
		},
		Identity: IdentityConfig{
			Name:     "Hive",
			Timezone: "UTC",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	// Plain-name conveniences first, HIVE_-prefixed names win.
	envStr("ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("HIVE_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("TELEGRAM_BOT_TOKEN", &c.Channels.Telegram.Token)
	envStr("HIVE_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("BREVO_API_KEY", &c.Email.BrevoAPIKey)
	envStr("HIVE_BREVO_API_KEY", &c.Email.BrevoAPIKey)

	envStr("HIVE_DATA_DIR", &c.DataDir)
	envStr("HIVE_HOST", &c.Gateway.Host)
	if v := os.Getenv("HIVE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}
	if v := os.Getenv("HIVE_DEBUG_LOG"); v != "" {
		c.Gateway.DebugLog = v == "true" || v == "1"
	}

	envStr("HIVE_LOG_LEVEL", &c.Logging.Level)

	// Local (OpenAI-compatible) provider endpoint.
	envStr("HIVE_LOCAL_BASE_URL", &c.Providers.Local.BaseURL)
	envStr("HIVE_LOCAL_API_KEY", &c.Providers.Local.APIKey)
	envStr("HIVE_LOCAL_MODEL", &c.Providers.Local.Model)

	// Store. DSN comes from env only, never from config.json.
	envStr("HIVE_STORE_DRIVER", &c.Store.Driver)
	envStr("HIVE_POSTGRES_DSN", &c.Store.DSN)
	if c.Store.DSN != "" && c.Store.Driver == "sqlite" {
		c.Store.Driver = "postgres"
	}

	envStr("HIVE_WHATSAPP_BRIDGE_URL", &c.Channels.WhatsApp.BridgeURL)

	// Auto-enable channels when credentials arrive via env.
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.WhatsApp.BridgeURL != "" {
		c.Channels.WhatsApp.Enabled = true
	}

	envStr("HIVE_OTEL_ENDPOINT", &c.Observability.Endpoint)
	envStr("HIVE_OTEL_PROTOCOL", &c.Observability.Protocol)
	if v := os.Getenv("HIVE_OTEL_INSECURE"); v != "" {
		c.Observability.Insecure = v == "true" || v == "1"
	}
}

// Save writes the config to path with 0600 permissions.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
