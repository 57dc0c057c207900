// Package nickname keeps the agent's per-server display name in line with
// the name the server configured on the dashboard.
package nickname

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jholhewres/evo/pkg/evo/channels"
	"github.com/jholhewres/evo/pkg/evo/memory"
	"github.com/jholhewres/evo/pkg/evo/persona"
)

// ConfigLoader reads server configuration.
type ConfigLoader interface {
	LoadServerConfig(ctx context.Context, serverID string) (*memory.ServerConfig, error)
}

// Reconciler renames the agent when its nickname drifts from the
// configured bot name.
type Reconciler struct {
	platform channels.NicknameManager
	configs  ConfigLoader
	logger   *slog.Logger
}

// New creates a reconciler.
func New(platform channels.NicknameManager, configs ConfigLoader, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		platform: platform,
		configs:  configs,
		logger:   logger.With("component", "nickname"),
	}
}

// Desired returns the nickname the agent should carry in a server.
func Desired(cfg *memory.ServerConfig) string {
	if cfg != nil && strings.TrimSpace(cfg.BotName) != "" {
		return cfg.BotName
	}
	return persona.DefaultName
}

// Reconcile renames the agent in guildID when needed. It reports whether a
// rename happened. Permission denials are logged and return false, nil.
func (r *Reconciler) Reconcile(ctx context.Context, guildID string, cfg *memory.ServerConfig) (bool, error) {
	want := Desired(cfg)

	current, err := r.platform.CurrentNickname(ctx, guildID)
	if err != nil {
		return false, fmt.Errorf("nickname: reading current nickname in %s: %w", guildID, err)
	}
	if current == want {
		return false, nil
	}

	if err := r.platform.SetNickname(ctx, guildID, want); err != nil {
		if errors.Is(err, channels.ErrPermissionDenied) {
			r.logger.Warn("cannot change nickname, missing permissions", "guild_id", guildID, "nickname", want)
			return false, nil
		}
		return false, fmt.Errorf("nickname: renaming in %s: %w", guildID, err)
	}

	r.logger.Info("nickname updated", "guild_id", guildID, "from", current, "to", want)
	return true, nil
}

// ReconcileAll runs Reconcile for every guild the agent belongs to and
// returns how many were renamed. Per-guild failures are logged.
func (r *Reconciler) ReconcileAll(ctx context.Context) int {
	renamed := 0
	for _, guildID := range r.platform.Guilds() {
		if ctx.Err() != nil {
			break
		}
		cfg, err := r.configs.LoadServerConfig(ctx, guildID)
		if err != nil {
			r.logger.Warn("skipping guild, config unavailable", "guild_id", guildID, "error", err)
			continue
		}
		ok, err := r.Reconcile(ctx, guildID, cfg)
		if err != nil {
			r.logger.Warn("nickname reconcile failed", "guild_id", guildID, "error", err)
			continue
		}
		if ok {
			renamed++
		}
	}
	return renamed
}
