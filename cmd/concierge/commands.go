package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dev2prod/concierge/internal/config"
	"github.com/dev2prod/concierge/internal/telegram"
)

type conversationView struct {
	ID               string `json:"id"`
	UserID           int64  `json:"user_id"`
	Username         string `json:"username"`
	Status           string `json:"status"`
	LeadScore        string `json:"lead_score"`
	Priority         string `json:"priority"`
	EscalationReason string `json:"escalation_reason"`
	EscalatedAt      string `json:"escalated_at"`
	UpdatedAt        string `json:"updated_at"`
	ClaimedBy        string `json:"claimed_by"`
}

func displayName(c conversationView) string {
	if c.Username != "" {
		return "@" + c.Username
	}
	return fmt.Sprintf("user %d", c.UserID)
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server and webhook status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(ctx, "/health")
		if err != nil {
			printError("server: not reachable")
			return err
		}
		var health map[string]string
		if err := decodeJSON(resp, &health); err != nil {
			printError("server: unhealthy")
			return err
		}
		printSuccess("server: %s", health["status"])

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		tg := telegram.NewClient(cfg.Telegram.BotToken)

		tgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		me, err := tg.GetMe(tgCtx)
		if err != nil {
			printError("telegram: %v", err)
			return err
		}
		printSuccess("telegram: @%s", me.Username)

		info, err := tg.GetWebhookInfo(tgCtx)
		if err != nil {
			printError("webhook: %v", err)
			return err
		}
		if info.URL == "" {
			printWarning("webhook: not set (run `concierge webhook set`)")
		} else {
			printSuccess("webhook: %s", info.URL)
			printStatus("pending updates", "%d", info.PendingUpdateCount)
			if info.LastErrorMessage != "" {
				printWarning("last delivery error: %s", info.LastErrorMessage)
			}
		}
		return nil
	},
}

// --- webhook ---

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Manage the Telegram webhook registration",
}

var webhookSetCmd = &cobra.Command{
	Use:   "set [url]",
	Short: "Register the webhook (uses configured URL when omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		url := cfg.Telegram.WebhookURL
		if len(args) > 0 {
			url = args[0]
		}
		if url == "" {
			return fmt.Errorf("no webhook URL: pass one or set CONCIERGE_TELEGRAM_WEBHOOK_URL")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		tg := telegram.NewClient(cfg.Telegram.BotToken)
		if err := tg.SetWebhook(ctx, url, cfg.Telegram.WebhookSecret); err != nil {
			return err
		}
		printSuccess("webhook set to %s", url)
		if cfg.Telegram.WebhookSecret == "" {
			printWarning("no webhook secret configured; deliveries are unauthenticated")
		}
		return nil
	},
}

var webhookDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove the webhook registration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		tg := telegram.NewClient(cfg.Telegram.BotToken)
		if err := tg.DeleteWebhook(ctx); err != nil {
			return err
		}
		printSuccess("webhook deleted")
		return nil
	},
}

func init() {
	webhookCmd.AddCommand(webhookSetCmd)
	webhookCmd.AddCommand(webhookDeleteCmd)
}

// --- conversations ---

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List recent conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/agent/conversations")
		if err != nil {
			return err
		}
		var result struct {
			Conversations []conversationView `json:"conversations"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Conversations) == 0 {
			printWarning("no conversations yet")
			return nil
		}
		for _, c := range result.Conversations {
			extra := ""
			if c.LeadScore != "" {
				extra = " lead:" + c.LeadScore
			}
			printStatus(c.ID, "%s  %s%s  (updated %s)", displayName(c), c.Status, extra, c.UpdatedAt)
		}
		return nil
	},
}

// --- escalations / claim / reply / release ---

var escalationsCmd = &cobra.Command{
	Use:   "escalations",
	Short: "List conversations waiting for a human",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/agent/escalations")
		if err != nil {
			return err
		}
		var result struct {
			Escalations []conversationView `json:"escalations"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Escalations) == 0 {
			printSuccess("escalation queue is empty")
			return nil
		}
		for _, c := range result.Escalations {
			owner := "unclaimed"
			if c.ClaimedBy != "" {
				owner = "claimed by " + c.ClaimedBy
			}
			printStatus(c.ID, "%s  [%s] %s  — %s (since %s)",
				displayName(c), c.Priority, c.EscalationReason, owner, c.EscalatedAt)
		}
		return nil
	},
}

var claimCmd = &cobra.Command{
	Use:   "claim <conversation-id>",
	Short: "Claim an escalated conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agentID, _ := cmd.Flags().GetString("agent")
		if agentID == "" {
			return fmt.Errorf("--agent is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/agent/claim", map[string]string{
			"conversation_id": args[0],
			"agent_id":        agentID,
		})
		if err != nil {
			return err
		}
		var result struct {
			Claimed   bool   `json:"claimed"`
			ClaimedBy string `json:"claimed_by"`
			Summary   string `json:"summary"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			if strings.Contains(err.Error(), "409") {
				printError("claim failed: %v", err)
				return nil
			}
			return err
		}

		printSuccess("claimed %s", args[0])
		fmt.Println(result.Summary)
		return nil
	},
}

var replyCmd = &cobra.Command{
	Use:   "reply <conversation-id> <text>",
	Short: "Reply to the user in a claimed conversation",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		agentID, _ := cmd.Flags().GetString("agent")
		if agentID == "" {
			return fmt.Errorf("--agent is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/agent/reply", map[string]string{
			"conversation_id": args[0],
			"agent_id":        agentID,
			"text":            strings.Join(args[1:], " "),
		})
		if err != nil {
			return err
		}
		var result struct {
			Sent bool `json:"sent"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("sent")
		return nil
	},
}

var releaseCmd = &cobra.Command{
	Use:   "release <conversation-id>",
	Short: "Release a claimed conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agentID, _ := cmd.Flags().GetString("agent")
		if agentID == "" {
			return fmt.Errorf("--agent is required")
		}
		resolve, _ := cmd.Flags().GetBool("resolve")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/agent/release", map[string]any{
			"conversation_id": args[0],
			"agent_id":        agentID,
			"resolve":         resolve,
		})
		if err != nil {
			return err
		}
		var result struct {
			Released bool `json:"released"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if resolve {
			printSuccess("released and closed %s", args[0])
		} else {
			printSuccess("released %s back to the bot", args[0])
		}
		return nil
	},
}

func init() {
	claimCmd.Flags().String("agent", "", "your agent identifier")
	replyCmd.Flags().String("agent", "", "your agent identifier")
	releaseCmd.Flags().String("agent", "", "your agent identifier")
	releaseCmd.Flags().Bool("resolve", false, "close the conversation instead of handing back to the bot")
}
