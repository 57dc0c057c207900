// Package delivery sends Evo's replies. Servers with a custom avatar get
// their reply through a channel webhook that carries the server's bot
// name and avatar; every other server gets a plain reply from the bot
// account. Each delivery uses exactly one identity and is not retried.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/sync/singleflight"

	"github.com/jholhewres/evo/pkg/evo/channels"
	"github.com/jholhewres/evo/pkg/evo/memory"
)

// Platform is what delivery needs from the chat platform.
type Platform interface {
	channels.Identity
	channels.Messenger
	channels.WebhookManager
}

// Config tunes the webhook cache.
type Config struct {
	// CacheChannels is roughly how many channel webhooks stay cached.
	CacheChannels int64 `yaml:"cache_channels"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{CacheChannels: 1000}
}

// Adapter delivers replies through a Platform.
type Adapter struct {
	platform Platform
	hooks    *ristretto.Cache
	inflight singleflight.Group
	logger   *slog.Logger
}

// New creates a delivery adapter.
func New(platform Platform, cfg Config, logger *slog.Logger) (*Adapter, error) {
	if cfg.CacheChannels <= 0 {
		cfg.CacheChannels = DefaultConfig().CacheChannels
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.CacheChannels * 10,
		MaxCost:     cfg.CacheChannels,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("delivery: creating webhook cache: %w", err)
	}
	return &Adapter{
		platform: platform,
		hooks:    cache,
		logger:   logger.With("component", "delivery"),
	}, nil
}

// Close releases the webhook cache.
func (a *Adapter) Close() {
	a.hooks.Close()
}

// Deliver sends text in reply to msg using the identity cfg asks for.
func (a *Adapter) Deliver(ctx context.Context, msg *channels.IncomingMessage, cfg *memory.ServerConfig, text string) error {
	if cfg == nil || strings.TrimSpace(cfg.CustomAvatarURL) == "" {
		if err := a.platform.Reply(ctx, msg, text); err != nil {
			return fmt.Errorf("delivery: reply in %s: %w", msg.ChannelID, err)
		}
		return nil
	}

	hook, err := a.webhookFor(ctx, msg.ChannelID)
	if err != nil {
		return err
	}

	username := cfg.BotName
	if username == "" {
		username = a.platform.SelfName()
	}
	if err := a.platform.ExecuteWebhook(ctx, hook, username, cfg.CustomAvatarURL, text); err != nil {
		// The webhook may have been deleted from the channel.
		a.hooks.Del(msg.ChannelID)
		return fmt.Errorf("delivery: webhook send in %s: %w", msg.ChannelID, err)
	}
	return nil
}

// WebhookName is the name given to webhooks Evo creates.
func WebhookName(agentName string) string {
	return agentName + "'s Webhook"
}

// webhookFor finds or creates the agent-owned webhook for a channel.
// Concurrent callers for one channel share a single lookup.
func (a *Adapter) webhookFor(ctx context.Context, channelID string) (channels.Webhook, error) {
	if v, ok := a.hooks.Get(channelID); ok {
		return v.(channels.Webhook), nil
	}

	v, err, _ := a.inflight.Do(channelID, func() (any, error) {
		hook, err := a.findOrCreate(ctx, channelID)
		if err != nil {
			return nil, err
		}
		a.hooks.Set(channelID, hook, 1)
		a.hooks.Wait()
		return hook, nil
	})
	if err != nil {
		return channels.Webhook{}, err
	}
	return v.(channels.Webhook), nil
}

func (a *Adapter) findOrCreate(ctx context.Context, channelID string) (channels.Webhook, error) {
	hooks, err := a.platform.ListWebhooks(ctx, channelID)
	if err != nil {
		return channels.Webhook{}, fmt.Errorf("delivery: listing webhooks in %s: %w", channelID, err)
	}
	self := a.platform.SelfID()
	for _, h := range hooks {
		if h.OwnerID == self && h.Token != "" {
			return h, nil
		}
	}

	created, err := a.platform.CreateWebhook(ctx, channelID, WebhookName(a.platform.SelfName()))
	if err != nil {
		return channels.Webhook{}, fmt.Errorf("delivery: creating webhook in %s: %w", channelID, err)
	}
	a.logger.Info("webhook created", "channel_id", channelID, "webhook_id", created.ID)
	return *created, nil
}
