package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dev2prod/concierge/internal/api"
	"github.com/dev2prod/concierge/internal/arbiter"
	"github.com/dev2prod/concierge/internal/composer"
	"github.com/dev2prod/concierge/internal/config"
	"github.com/dev2prod/concierge/internal/escalate"
	"github.com/dev2prod/concierge/internal/intake"
	"github.com/dev2prod/concierge/internal/intent"
	"github.com/dev2prod/concierge/internal/pipeline"
	"github.com/dev2prod/concierge/internal/quota"
	"github.com/dev2prod/concierge/internal/responder"
	"github.com/dev2prod/concierge/internal/storage"
	"github.com/dev2prod/concierge/internal/telegram"
)

const sweepInterval = 10 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the concierge server (webhook, agent API, MCP)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "concierge version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
	log := slog.Default()

	agentToken := cfg.Agent.APIToken
	if agentToken == "" {
		agentToken = uuid.NewString()
		printWarning("no agent API token configured; generated one for this run: %s", agentToken)
		printWarning("set CONCIERGE_AGENT_API_TOKEN to make it stable across restarts")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	classifier, err := intent.New()
	if err != nil {
		return fmt.Errorf("building intent classifier: %w", err)
	}

	tg := telegram.NewClient(cfg.Telegram.BotToken)
	gen := responder.NewClient(
		cfg.Responder.APIKey,
		cfg.Responder.BaseURL,
		cfg.Responder.Model,
		time.Duration(cfg.Responder.TimeoutSeconds)*time.Second,
	)

	limits := quota.Limits{
		SessionCalls:   cfg.Quota.SessionLimit,
		DailyCalls:     cfg.Quota.DailyLimit,
		DailyBudgetUSD: cfg.Quota.DailyBudgetUSD,
	}

	pipe := pipeline.New(pipeline.Deps{
		Store:       store,
		Classifier:  classifier,
		Composer:    composer.New(0, 0),
		Generator:   gen,
		Messenger:   tg,
		Evaluator:   escalate.NewEvaluator(),
		Intake:      intake.NewEngine(0),
		Arbiter:     arbiter.New(store, time.Duration(cfg.Agent.ClaimTTLDays)*24*time.Hour),
		Quota:       quota.New(store, limits),
		Logger:      log,
		AgentChatID: cfg.Telegram.AgentChatID,
		MaxTokens:   cfg.Responder.MaxTokens,
	})

	handler := api.NewHandler(api.Deps{
		Pipeline:      pipe,
		Store:         store,
		WebhookSecret: cfg.Telegram.WebhookSecret,
		AgentToken:    agentToken,
		Logger:        log,
	})

	// Register the webhook if one is configured; deliveries start as soon as
	// this call returns, so it happens before the listener is up only by a
	// moment and Telegram retries anyway.
	if cfg.Telegram.WebhookURL != "" {
		if err := tg.SetWebhook(ctx, cfg.Telegram.WebhookURL, cfg.Telegram.WebhookSecret); err != nil {
			return fmt.Errorf("registering webhook: %w", err)
		}
		log.Info("webhook registered", "url", cfg.Telegram.WebhookURL)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	mcpSrv := api.NewMCPServer(api.MCPDeps{Pipeline: pipe})
	sseSrv := server.NewSSEServer(mcpSrv)
	mcpAddr := fmt.Sprintf(":%d", cfg.Server.MCPPort)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		log.Info("mcp server listening", "addr", mcpAddr)
		if err := sseSrv.Start(mcpAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("mcp server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				pipe.Sweep(time.Now())
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sseSrv.Shutdown(shutdownCtx); err != nil {
			log.Error("mcp shutdown", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
