package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/evo/pkg/evo/channels/discord"
	"github.com/jholhewres/evo/pkg/evo/gateway"
	"github.com/jholhewres/evo/pkg/evo/memory"
	"github.com/jholhewres/evo/pkg/evo/scheduler"
	"github.com/jholhewres/evo/pkg/evo/security"
)

const reconcileJobID = "nickname-reconcile"

// newServeCmd creates the `evo serve` command that connects to Discord.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to Discord and start answering",
		Long: `Start Evo as a long-running service: connect to Discord, answer
addressed messages, and keep nicknames in sync. The settings gateway is
started too when gateway.enabled is set.

Examples:
  evo serve
  evo serve --config ./config.yaml
  evo serve --no-gateway`,
		RunE: runServe,
	}

	cmd.Flags().Bool("no-gateway", false, "do not start the settings gateway")
	cmd.Flags().Duration("shutdown-timeout", 30*time.Second, "how long to wait for in-flight replies and writes")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg, logger := rt.cfg, rt.logger

	// ── Discord ──
	token, source := security.ResolveSecret(security.SecretBotToken, cfg.Discord.Token)
	if token == "" {
		return fmt.Errorf("discord bot token not set (set %s or run 'evo secrets set %s')",
			security.SecretBotToken, security.SecretBotToken)
	}
	logger.Debug("bot token resolved", "source", source)
	cfg.Discord.Token = token
	dc := discord.New(cfg.Discord, cfg.DashboardURL, rt.store, logger)

	// ── Pipeline ──
	queue := memory.NewWriteQueue(rt.store, cfg.Memory, logger)
	ag, err := buildAgent(rt, dc, queue)
	if err != nil {
		return err
	}
	defer ag.delivery.Close()

	dc.OnReady(func(ctx context.Context) {
		renamed := ag.nicknames.ReconcileAll(ctx)
		logger.Info("startup nickname sweep finished", "renamed", renamed)
	})

	// ── Scheduler ──
	sched := scheduler.New(cfg.Reconcile.JobTimeout, logger)
	if cfg.Reconcile.Schedule != "" {
		err := sched.Add(&scheduler.Job{
			ID:       reconcileJobID,
			Schedule: cfg.Reconcile.Schedule,
			Run: func(ctx context.Context) error {
				renamed := ag.nicknames.ReconcileAll(ctx)
				logger.Info("nickname sweep finished", "renamed", renamed)
				return nil
			},
		})
		if err != nil {
			return fmt.Errorf("reconcile schedule: %w", err)
		}
	}

	// ── Gateway ──
	var gw *gateway.Gateway
	noGateway, _ := cmd.Flags().GetBool("no-gateway")
	if cfg.Gateway.Enabled && !noGateway {
		gwCfg := cfg.Gateway
		gwCfg.AuthToken, _ = security.ResolveSecret(security.SecretGatewayToken, gwCfg.AuthToken)
		gw = gateway.New(gwCfg, rt.store, rt.cipher, logger)
		gw.AddCheck("database", rt.db.Health.Ping)
		gw.AddCheck("discord", func(context.Context) error {
			return dc.Health().Err()
		})
	}

	// ── Start ──
	if err := dc.Connect(ctx); err != nil {
		return err
	}
	sched.Start(ctx)
	if gw != nil {
		if err := gw.Start(ctx); err != nil {
			logger.Error("failed to start gateway", "error", err)
			gw = nil
		}
	}

	logger.Info("Evo running. Press Ctrl+C to stop.",
		"name", rt.persona.Name,
		"model", cfg.LLM.DefaultModel,
		"database", cfg.Database.Backend,
	)

	// In-flight turns outlive the signal so they can finish delivering.
	handleCtx, cancelHandlers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelHandlers()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case msg := <-dc.Receive():
			ag.pipeline.Go(handleCtx, msg)
		}
	}

	// ── Shutdown ──
	logger.Info("shutdown signal received, stopping...")
	timeout, _ := cmd.Flags().GetDuration("shutdown-timeout")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_ = dc.Disconnect()
	if gw != nil {
		_ = gw.Stop(shutdownCtx)
	}
	sched.Stop()

	if err := ag.pipeline.Wait(shutdownCtx); err != nil {
		logger.Warn("in-flight messages did not finish", "error", err)
	}
	cancelHandlers()

	if err := queue.Close(shutdownCtx); err != nil {
		logger.Warn("memory writes not flushed", "error", err, "pending", queue.Pending())
	}

	logger.Info("shutdown complete")
	return nil
}
