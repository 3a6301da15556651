package config

import (
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	Server    ServerConfig
	Telegram  TelegramConfig
	Responder ResponderConfig
	Storage   StorageConfig
	Quota     QuotaConfig
	Agent     AgentConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port    int
	MCPPort int
}

type TelegramConfig struct {
	BotToken      string
	WebhookSecret string
	WebhookURL    string
	// AgentChatID is the group chat notified on escalation. Zero disables
	// the notification; escalations are still visible via the agent API.
	AgentChatID int64
}

type ResponderConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	MaxTokens      int
	TimeoutSeconds int
}

type StorageConfig struct {
	DataDir string
}

type QuotaConfig struct {
	SessionLimit   int
	DailyLimit     int
	DailyBudgetUSD float64
}

type AgentConfig struct {
	// APIToken protects the /agent/* endpoints. Generated on first start if
	// empty (see cmd serve).
	APIToken string
	// ClaimTTLDays bounds how long a stale claim survives without release.
	ClaimTTLDays int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    8080,
			MCPPort: 8081,
		},
		Telegram: TelegramConfig{},
		Responder: ResponderConfig{
			BaseURL:        "https://api.longcat.chat/v1",
			Model:          "gpt-4o-mini",
			MaxTokens:      500,
			TimeoutSeconds: 30,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Quota: QuotaConfig{
			SessionLimit:   10,
			DailyLimit:     50,
			DailyBudgetUSD: 100.0,
		},
		Agent: AgentConfig{
			ClaimTTLDays: 7,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "concierge-data"
		}
	}
	return filepath.Join(dir, "concierge")
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/concierge/config.json, then applies CONCIERGE_* environment
// variable overrides. Secrets (bot token, webhook secret, responder API key,
// agent API token) are env-only and never read from the file.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Telegram.BotToken == "" {
		return Config{}, fmt.Errorf("missing required config: Telegram bot token. Set CONCIERGE_TELEGRAM_BOT_TOKEN")
	}
	if cfg.Responder.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: responder API key. Set CONCIERGE_RESPONDER_API_KEY")
	}

	return cfg, nil
}
