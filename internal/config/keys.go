package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kInt64
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "CONCIERGE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_port", typ: kInt, env: "CONCIERGE_SERVER_MCP_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MCPPort },
	},
	{
		key: "telegram.bot_token", typ: kString, env: "CONCIERGE_TELEGRAM_BOT_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Telegram.BotToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Telegram.BotToken },
	},
	{
		key: "telegram.webhook_secret", typ: kString, env: "CONCIERGE_TELEGRAM_WEBHOOK_SECRET",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Telegram.WebhookSecret = v.(string) },
		extract: func(cfg Config) any { return cfg.Telegram.WebhookSecret },
	},
	{
		key: "telegram.webhook_url", typ: kString, env: "CONCIERGE_TELEGRAM_WEBHOOK_URL",
		apply:   func(cfg *Config, v any) { cfg.Telegram.WebhookURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Telegram.WebhookURL },
	},
	{
		key: "telegram.agent_chat_id", typ: kInt64, env: "CONCIERGE_TELEGRAM_AGENT_CHAT_ID",
		apply:   func(cfg *Config, v any) { cfg.Telegram.AgentChatID = v.(int64) },
		extract: func(cfg Config) any { return cfg.Telegram.AgentChatID },
	},
	{
		key: "responder.api_key", typ: kString, env: "CONCIERGE_RESPONDER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Responder.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Responder.APIKey },
	},
	{
		key: "responder.base_url", typ: kString, env: "CONCIERGE_RESPONDER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Responder.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Responder.BaseURL },
	},
	{
		key: "responder.model", typ: kString, env: "CONCIERGE_RESPONDER_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Responder.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Responder.Model },
	},
	{
		key: "responder.max_tokens", typ: kInt, env: "CONCIERGE_RESPONDER_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Responder.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Responder.MaxTokens },
	},
	{
		key: "responder.timeout_seconds", typ: kInt, env: "CONCIERGE_RESPONDER_TIMEOUT_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Responder.TimeoutSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Responder.TimeoutSeconds },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CONCIERGE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "quota.session_limit", typ: kInt, env: "CONCIERGE_QUOTA_SESSION_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Quota.SessionLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Quota.SessionLimit },
	},
	{
		key: "quota.daily_limit", typ: kInt, env: "CONCIERGE_QUOTA_DAILY_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Quota.DailyLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Quota.DailyLimit },
	},
	{
		key: "quota.daily_budget_usd", typ: kFloat, env: "CONCIERGE_QUOTA_DAILY_BUDGET_USD",
		apply:   func(cfg *Config, v any) { cfg.Quota.DailyBudgetUSD = v.(float64) },
		extract: func(cfg Config) any { return cfg.Quota.DailyBudgetUSD },
	},
	{
		key: "agent.api_token", typ: kString, env: "CONCIERGE_AGENT_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Agent.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Agent.APIToken },
	},
	{
		key: "agent.claim_ttl_days", typ: kInt, env: "CONCIERGE_AGENT_CLAIM_TTL_DAYS",
		apply:   func(cfg *Config, v any) { cfg.Agent.ClaimTTLDays = v.(int) },
		extract: func(cfg Config) any { return cfg.Agent.ClaimTTLDays },
	},
	{
		key: "log.level", typ: kString, env: "CONCIERGE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt64:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if i, err := strconv.ParseInt(v, 10, 64); err == nil {
					s.apply(cfg, i)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw, ok := os.LookupEnv(s.env)
		if !ok || raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kInt64:
			if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
