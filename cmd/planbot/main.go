// Planbot is an autonomous ticket-processing orchestrator: it drives an
// assistant subprocess through a plan/approve/execute/resume lifecycle
// for a queue of tickets, coordinating human approvals and clarifying
// questions across a terminal, a reply-correlating chat bot, and a
// signed HTTP webhook.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/planbot-dev/planbot"
	"github.com/planbot-dev/planbot/approval"
	"github.com/planbot-dev/planbot/driver"
	"github.com/planbot-dev/planbot/internal/web"
	"github.com/planbot-dev/planbot/provider"
	"github.com/planbot-dev/planbot/queue"
	"github.com/planbot-dev/planbot/workspace"
)

var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	var (
		queueFile       = flag.String("queue", "queue.yaml", "Queue file (YAML or JSON)")
		root            = flag.String("root", ".", "Repository root / state directory")
		storeBackend    = flag.String("store", "file", "State store backend: file or sqlite")
		driverPath      = flag.String("assistant-path", "claude", "Path to the assistant CLI executable")
		model           = flag.String("model", "", "Override queue file model")
		fallbackModel   = flag.String("fallback-model", "", "Override queue file fallback model")
		autoApprove     = flag.Bool("auto-approve", false, "Skip human approval and answer questions autonomously")
		skipPermissions = flag.Bool("skip-permissions", false, "Run the assistant without its permission prompts")
		ackRisk         = flag.Bool("acknowledge-autonomous-risk", false, "Required alongside -auto-approve -skip-permissions")
		allowShellHooks = flag.Bool("allow-shell-hooks", false, "Permit shell-type lifecycle hooks")
		useWorkspaces   = flag.Bool("use-workspaces", false, "Isolate each ticket in its own git worktree")
		worktreeDir     = flag.String("worktree-dir", "", "Directory holding per-ticket worktrees")
		resume          = flag.Bool("resume", false, "Resume a previously interrupted run instead of starting fresh")
		listen          = flag.String("listen", ":8080", "Webhook/dashboard HTTP listen address")
		webhookURL      = flag.String("webhook-url", "", "Outbound webhook URL for plan/question/status pushes")
		webhookSecret   = flag.String("webhook-secret", "", "HMAC-SHA256 secret shared with the webhook endpoint")
		chatBaseURL     = flag.String("chat-base-url", "", "Base URL of a reply-correlating chat transport")
		chatToken       = flag.String("chat-token", "", "Bearer token for the chat transport")
		chatID          = flag.String("chat-id", "", "Chat id the chat provider accepts replies from")
		showVersion     = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("planbot %s (commit: %s)\n", version, gitCommit)
		os.Exit(0)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	qf, err := queue.LoadFile(*queueFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "planbot: %v\n", err)
		os.Exit(1)
	}

	cfg := queue.DefaultConfig()
	if qf.Config != nil {
		cfg = *qf.Config
	}
	if *model != "" {
		cfg.Model = *model
	}
	if *fallbackModel != "" {
		cfg.FallbackModel = *fallbackModel
	}
	cfg.AutoApprove = cfg.AutoApprove || *autoApprove
	cfg.SkipPermissions = cfg.SkipPermissions || *skipPermissions
	cfg.AllowShellHooks = cfg.AllowShellHooks || *allowShellHooks
	cfg.UseWorkspaces = cfg.UseWorkspaces || *useWorkspaces
	cfg.AcknowledgeAutonomousRisk = *ackRisk

	if err := queue.ValidateAutonomousRisk(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "planbot: %v\n", err)
		os.Exit(1)
	}

	store, err := buildStore(*storeBackend, *root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "planbot: %v\n", err)
		os.Exit(1)
	}
	if !store.Exists(*root) {
		if err := store.Init(*root); err != nil {
			fmt.Fprintf(os.Stderr, "planbot: init state store: %v\n", err)
			os.Exit(1)
		}
	}

	mux := approval.NewMultiplexer(cfg.Timeouts.Approval, cfg.Timeouts.Question, logger)
	mux.AddProvider(provider.NewTerminal(os.Stdin, os.Stdout))

	var webhookProvider *provider.Webhook
	if *webhookURL != "" {
		webhookProvider = provider.NewWebhook(*webhookURL, *webhookSecret, logger)
		mux.AddProvider(webhookProvider)
	}
	if *chatBaseURL != "" && *chatID != "" {
		transport := provider.NewHTTPTransport(*chatBaseURL, *chatToken)
		mux.AddProvider(provider.NewChat(transport, *chatID, logger))
	}

	var wsManager *workspace.Manager
	if cfg.UseWorkspaces {
		wsManager = workspace.NewManager(*root, *worktreeDir, "main", logger)
	}

	tickets := make([]queue.Ticket, len(qf.Tickets))
	copy(tickets, qf.Tickets)

	orch, err := planbot.New(planbot.Options{
		Root:      *root,
		Config:    cfg,
		Hooks:     qf.Hooks,
		Tickets:   tickets,
		Store:     store,
		Driver:    driver.NewCLIDriver(*driverPath, logger),
		Mux:       mux,
		Workspace: wsManager,
		Logger:    logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "planbot: %v\n", err)
		os.Exit(1)
	}

	server := web.NewServer(orch, webhookProvider, logger)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("planbot: shutdown signal received")
		orch.Stop()
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("planbot: http shutdown failed", "error", err)
		}
	}()

	if err := mux.ConnectAll(ctx); err != nil {
		logger.Warn("planbot: provider connect failed", "error", err)
	}

	go func() {
		logger.Info("planbot: webhook/dashboard server listening", "addr", *listen)
		if err := server.Start(*listen); err != nil {
			logger.Warn("planbot: http server stopped", "error", err)
		}
	}()

	runErr := runOrchestrator(ctx, orch, *resume)

	if err := mux.DisconnectAll(context.Background()); err != nil {
		logger.Warn("planbot: provider disconnect failed", "error", err)
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "planbot: %v\n", runErr)
		os.Exit(1)
	}
}

func runOrchestrator(ctx context.Context, orch *planbot.Orchestrator, resume bool) error {
	if resume {
		return orch.Resume(ctx)
	}
	return orch.Start(ctx)
}

func buildStore(backend, root string) (queue.StateStore, error) {
	switch backend {
	case "", "file":
		return queue.NewFileStore(), nil
	case "sqlite":
		return queue.NewSQLiteStore(root)
	default:
		return nil, fmt.Errorf("unrecognized store backend %q", backend)
	}
}
