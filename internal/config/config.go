// Package config loads and persists the daemon configuration: a JSON5 file
// (default ~/.hive/config.json) overlaid with HIVE_* environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
)

// FlexibleStringSlice accepts both ["123"] and [123] in JSON. Telegram chat
// ids in hand-edited configs show up both ways.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the daemon.
type Config struct {
	DataDir       string              `json:"dataDir,omitempty"`
	Logging       LoggingConfig       `json:"logging,omitempty"`
	Gateway       GatewayConfig       `json:"gateway"`
	Providers     ProvidersConfig     `json:"providers"`
	Orchestrator  OrchestratorConfig  `json:"orchestrator,omitempty"`
	Executor      ExecutorConfig      `json:"executor,omitempty"`
	Store         StoreConfig         `json:"store,omitempty"`
	Channels      ChannelsConfig      `json:"channels"`
	Scheduler     SchedulerConfig     `json:"scheduler,omitempty"`
	Scripts       ScriptsConfig       `json:"scripts,omitempty"`
	Email         EmailConfig         `json:"email,omitempty"`
	Identity      IdentityConfig      `json:"identity,omitempty"`
	Observability ObservabilityConfig `json:"observability,omitempty"`
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level string `json:"level,omitempty"` // "debug", "info" (default), "warn", "error"
}

// GatewayConfig configures the message pipeline and the local HTTP listener.
type GatewayConfig struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
	// DebugLog persists per-turn routing/model/token captures to the store.
	DebugLog bool `json:"debugLog,omitempty"`
}

// ProvidersConfig holds LLM provider credentials and endpoints.
type ProvidersConfig struct {
	Anthropic AnthropicConfig `json:"anthropic"`
	Local     LocalConfig     `json:"local,omitempty"`
}

// AnthropicConfig configures the Anthropic Messages API client.
type AnthropicConfig struct {
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseUrl,omitempty"` // default https://api.anthropic.com
}

// LocalConfig configures an OpenAI-compatible endpoint (Ollama, llama.cpp,
// LM Studio) used as the orchestrator fallback or main provider.
type LocalConfig struct {
	BaseURL string `json:"baseUrl,omitempty"` // e.g. http://localhost:11434/v1
	APIKey  string `json:"apiKey,omitempty"`
	Model   string `json:"model,omitempty"`
}

// OrchestratorConfig selects the small classification model.
type OrchestratorConfig struct {
	Provider string `json:"provider,omitempty"` // "anthropic" (default) or "local"
	Model    string `json:"model,omitempty"`    // default: the haiku tier model id
	// FallbackProvider is tried once when the primary provider errors.
	FallbackProvider string `json:"fallbackProvider,omitempty"`
}

// ExecutorConfig configures the tool-use loop: which model family serves
// each routing tier, and the concrete API ids per family.
type ExecutorConfig struct {
	Models        ModelTiers `json:"models,omitempty"`
	ModelIDs      ModelIDs   `json:"modelIds,omitempty"`
	MaxToolRounds int        `json:"maxToolRounds,omitempty"` // default 5
	MaxTokens     int        `json:"maxTokens,omitempty"`     // default 4096
}

// ModelTiers maps routing tiers to model families.
type ModelTiers struct {
	Simple  string `json:"simple,omitempty"`  // default "haiku"
	Default string `json:"default,omitempty"` // default "sonnet"
	Complex string `json:"complex,omitempty"` // default "opus"
}

// ModelIDs maps model families to concrete Anthropic model ids.
type ModelIDs struct {
	Haiku  string `json:"haiku,omitempty"`
	Sonnet string `json:"sonnet,omitempty"`
	Opus   string `json:"opus,omitempty"`
}

// Family returns the model family configured for a routing tier.
func (t ModelTiers) Family(tier string) string {
	switch tier {
	case "simple":
		if t.Simple != "" {
			return t.Simple
		}
		return "haiku"
	case "complex":
		if t.Complex != "" {
			return t.Complex
		}
		return "opus"
	default:
		if t.Default != "" {
			return t.Default
		}
		return "sonnet"
	}
}

// ID returns the concrete model id for a family.
func (m ModelIDs) ID(family string) string {
	switch family {
	case "haiku":
		if m.Haiku != "" {
			return m.Haiku
		}
		return "claude-3-5-haiku-20241022"
	case "opus":
		if m.Opus != "" {
			return m.Opus
		}
		return "claude-opus-4-1-20250805"
	default:
		if m.Sonnet != "" {
			return m.Sonnet
		}
		return "claude-sonnet-4-5-20250929"
	}
}

// StoreConfig selects the persistence backend.
// DSN is never read from config.json; it comes from HIVE_POSTGRES_DSN only.
type StoreConfig struct {
	Driver string `json:"driver,omitempty"` // "sqlite" (default) or "postgres"
	Path   string `json:"path,omitempty"`   // sqlite file; default <dataDir>/data.db
	DSN    string `json:"-"`
}

// ChannelsConfig enables and parameterizes the message channels.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram,omitempty"`
	WhatsApp WhatsAppConfig `json:"whatsapp,omitempty"`
	CLI      CLIConfig      `json:"cli,omitempty"`
}

// TelegramConfig configures the Telegram long-polling adapter.
type TelegramConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Token   string `json:"token,omitempty"`
	// AllowFrom restricts inbound chats to these ids. Empty = allow all.
	AllowFrom FlexibleStringSlice `json:"allowFrom,omitempty"`
}

// WhatsAppConfig configures the WhatsApp bridge websocket adapter.
type WhatsAppConfig struct {
	Enabled   bool   `json:"enabled,omitempty"`
	BridgeURL string `json:"bridgeUrl,omitempty"` // e.g. ws://localhost:3001/ws
	// AllowFrom restricts inbound chats to these ids. Empty = allow all.
	AllowFrom FlexibleStringSlice `json:"allowFrom,omitempty"`
}

// CLIConfig enables the interactive terminal channel.
type CLIConfig struct {
	Enabled bool `json:"enabled,omitempty"`
}

// SchedulerConfig controls the cron scheduler. Enabled defaults to true.
type SchedulerConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
}

// IsEnabled reports whether the scheduler should start.
func (s SchedulerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// ScriptsConfig configures the sandboxed script runner.
type ScriptsConfig struct {
	Interpreter string `json:"interpreter,omitempty"` // default "python3"
	// Harness overrides the built-in Python harness source. Mostly for tests.
	Harness        string `json:"harness,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"` // default 60
}

// EmailConfig configures the Brevo transactional email sender.
type EmailConfig struct {
	BrevoAPIKey string `json:"brevoApiKey,omitempty"`
	FromEmail   string `json:"fromEmail,omitempty"`
	FromName    string `json:"fromName,omitempty"`
}

// IdentityConfig names the assistant and pins its home timezone.
type IdentityConfig struct {
	Name     string `json:"name,omitempty"`     // default "Hive"
	Timezone string `json:"timezone,omitempty"` // IANA name, default "UTC"
}

// ObservabilityConfig configures OTLP trace export. Tracing is a no-op when
// Endpoint is empty.
type ObservabilityConfig struct {
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"serviceName,omitempty"` // default "hive"
	Headers     map[string]string `json:"headers,omitempty"`
}

// DataDirPath returns the expanded data directory.
func (c *Config) DataDirPath() string {
	if c.DataDir == "" {
		return ExpandHome("~/.hive/data")
	}
	return ExpandHome(c.DataDir)
}

// DBPath returns the SQLite database file.
func (c *Config) DBPath() string {
	if c.Store.Path != "" {
		return ExpandHome(c.Store.Path)
	}
	return filepath.Join(c.DataDirPath(), "data.db")
}

// KeyPath returns the vault key file.
func (c *Config) KeyPath() string {
	return filepath.Join(c.DataDirPath(), "encryption.key")
}

// PIDPath returns the daemon pid file.
func (c *Config) PIDPath() string {
	return filepath.Join(c.DataDirPath(), "hive.pid")
}

// AssistantName returns the configured assistant name.
func (c *Config) AssistantName() string {
	if c.Identity.Name != "" {
		return c.Identity.Name
	}
	return "Hive"
}
