// Package discord implements the Discord platform for Evo using discordgo.
//
// Features:
//   - Guild message intake with mention, reply and clean-text detection
//   - Replies split at the 2000 character limit
//   - Typing indicators
//   - Channel webhooks for branded replies
//   - Per-guild nickname read/write
//   - The /evo setup-status slash command
//   - Automatic reconnection via discordgo's gateway
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jholhewres/evo/pkg/evo/channels"
	"github.com/jholhewres/evo/pkg/evo/memory"
)

// Config holds Discord channel configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// RegisterCommands registers the /evo slash command on connect.
	RegisterCommands bool `yaml:"register_commands"`

	// MessageBuffer is how many incoming messages may wait for a handler.
	MessageBuffer int `yaml:"message_buffer"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RegisterCommands: true,
		MessageBuffer:    256,
	}
}

// Session is the subset of *discordgo.Session used for REST calls.
type Session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	ChannelWebhooks(channelID string, options ...discordgo.RequestOption) ([]*discordgo.Webhook, error)
	WebhookCreate(channelID, name, avatar string, options ...discordgo.RequestOption) (*discordgo.Webhook, error)
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	GuildMemberNickname(guildID, userID, nickname string, options ...discordgo.RequestOption) error
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

// ConfigLoader reads server configuration for the /evo command.
type ConfigLoader interface {
	LoadServerConfig(ctx context.Context, serverID string) (*memory.ServerConfig, error)
}

// Discord implements channels.Platform.
type Discord struct {
	cfg          Config
	dashboardURL string
	configs      ConfigLoader
	logger       *slog.Logger

	gateway *discordgo.Session
	rest    Session

	self atomic.Pointer[discordgo.User]

	messages chan *channels.IncomingMessage

	guildsMu sync.RWMutex
	guilds   map[string]struct{}

	// ownHooks holds ids of webhooks the agent owns or has posted through.
	ownHooks sync.Map

	onReady func(ctx context.Context)

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Discord channel. configs backs the /evo command and may be
// nil when commands are disabled.
func New(cfg Config, dashboardURL string, configs ConfigLoader, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MessageBuffer <= 0 {
		cfg.MessageBuffer = DefaultConfig().MessageBuffer
	}
	d := &Discord{
		cfg:          cfg,
		dashboardURL: dashboardURL,
		configs:      configs,
		logger:       logger.With("component", "discord"),
		messages:     make(chan *channels.IncomingMessage, cfg.MessageBuffer),
		guilds:       make(map[string]struct{}),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

// newWithSession builds a Discord channel over a prepared REST session.
func newWithSession(cfg Config, rest Session, self *discordgo.User, configs ConfigLoader, logger *slog.Logger) *Discord {
	d := New(cfg, "https://example.invalid", configs, logger)
	d.rest = rest
	d.self.Store(self)
	d.connected.Store(true)
	return d
}

// OnReady registers a callback fired after every gateway READY, once the
// guild list is known.
func (d *Discord) OnReady(fn func(ctx context.Context)) {
	d.onReady = fn
}

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Connect opens the Discord gateway WebSocket connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}

	d.cancel()
	d.ctx, d.cancel = context.WithCancel(ctx)

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMembers

	session.AddHandler(d.onReadyEvent)
	session.AddHandler(d.onGuildCreate)
	session.AddHandler(d.onGuildDelete)
	session.AddHandler(d.onMessageCreate)
	session.AddHandler(d.onInteractionCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}

	d.gateway = session
	d.rest = session
	d.self.Store(session.State.User)
	d.connected.Store(true)

	user := session.State.User
	d.logger.Info("discord: connected", "bot", user.Username, "id", user.ID)
	return nil
}

// Disconnect closes the Discord gateway connection.
func (d *Discord) Disconnect() error {
	d.cancel()
	if d.gateway != nil {
		if err := d.gateway.Close(); err != nil {
			d.logger.Warn("discord: closing gateway", "error", err)
		}
	}
	d.connected.Store(false)
	d.logger.Info("discord: disconnected")
	return nil
}

// Receive returns the incoming messages channel.
func (d *Discord) Receive() <-chan *channels.IncomingMessage {
	return d.messages
}

// IsConnected returns true if the bot is connected.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

// Health returns the channel health status.
func (d *Discord) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := d.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	d.guildsMu.RLock()
	guilds := len(d.guilds)
	d.guildsMu.RUnlock()
	return channels.HealthStatus{
		Connected:     d.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(d.errorCount.Load()),
		Details:       map[string]any{"guilds": guilds},
	}
}

// ---------- Identity ----------

// SelfID returns the bot user id.
func (d *Discord) SelfID() string {
	if u := d.self.Load(); u != nil {
		return u.ID
	}
	return ""
}

// SelfName returns the bot account name.
func (d *Discord) SelfName() string {
	if u := d.self.Load(); u != nil {
		return u.Username
	}
	return ""
}

// ---------- Messenger ----------

// Reply answers msg in its channel, splitting long text.
func (d *Discord) Reply(ctx context.Context, msg *channels.IncomingMessage, content string) error {
	if d.rest == nil {
		return channels.ErrChannelDisconnected
	}
	for i, chunk := range channels.SplitMessage(content, channels.MaxMessageLength) {
		send := &discordgo.MessageSend{Content: chunk}
		if i == 0 && msg.ID != "" {
			send.Reference = &discordgo.MessageReference{
				MessageID: msg.ID,
				ChannelID: msg.ChannelID,
				GuildID:   msg.GuildID,
			}
		}
		if _, err := d.rest.ChannelMessageSendComplex(msg.ChannelID, send, discordgo.WithContext(ctx)); err != nil {
			d.errorCount.Add(1)
			return wrapError(err)
		}
	}
	return nil
}

// SendTyping sends a typing indicator to the channel.
func (d *Discord) SendTyping(ctx context.Context, channelID string) error {
	if d.rest == nil {
		return channels.ErrChannelDisconnected
	}
	return wrapError(d.rest.ChannelTyping(channelID, discordgo.WithContext(ctx)))
}

// ---------- WebhookManager ----------

// ListWebhooks returns the webhooks of a channel.
func (d *Discord) ListWebhooks(ctx context.Context, channelID string) ([]channels.Webhook, error) {
	if d.rest == nil {
		return nil, channels.ErrChannelDisconnected
	}
	hooks, err := d.rest.ChannelWebhooks(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrapError(err)
	}
	self := d.SelfID()
	out := make([]channels.Webhook, 0, len(hooks))
	for _, h := range hooks {
		w := toWebhook(h)
		if w.OwnerID != "" && w.OwnerID == self {
			d.ownHooks.Store(w.ID, struct{}{})
		}
		out = append(out, w)
	}
	return out, nil
}

// CreateWebhook creates a webhook in a channel, owned by the bot.
func (d *Discord) CreateWebhook(ctx context.Context, channelID, name string) (*channels.Webhook, error) {
	if d.rest == nil {
		return nil, channels.ErrChannelDisconnected
	}
	h, err := d.rest.WebhookCreate(channelID, name, "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrapError(err)
	}
	w := toWebhook(h)
	if w.OwnerID == "" {
		w.OwnerID = d.SelfID()
	}
	d.ownHooks.Store(w.ID, struct{}{})
	return &w, nil
}

// ExecuteWebhook posts content through a webhook under a custom identity.
func (d *Discord) ExecuteWebhook(ctx context.Context, hook channels.Webhook, username, avatarURL, content string) error {
	if d.rest == nil {
		return channels.ErrChannelDisconnected
	}
	d.ownHooks.Store(hook.ID, struct{}{})
	for _, chunk := range channels.SplitMessage(content, channels.MaxMessageLength) {
		_, err := d.rest.WebhookExecute(hook.ID, hook.Token, false, &discordgo.WebhookParams{
			Content:   chunk,
			Username:  username,
			AvatarURL: avatarURL,
		}, discordgo.WithContext(ctx))
		if err != nil {
			d.errorCount.Add(1)
			return wrapError(err)
		}
	}
	return nil
}

// ---------- NicknameManager ----------

// CurrentNickname returns the bot's nickname in a guild.
func (d *Discord) CurrentNickname(ctx context.Context, guildID string) (string, error) {
	if d.gateway != nil && d.gateway.State != nil {
		if m, err := d.gateway.State.Member(guildID, d.SelfID()); err == nil {
			return m.Nick, nil
		}
	}
	if d.rest == nil {
		return "", channels.ErrChannelDisconnected
	}
	m, err := d.rest.GuildMember(guildID, d.SelfID(), discordgo.WithContext(ctx))
	if err != nil {
		return "", wrapError(err)
	}
	return m.Nick, nil
}

// SetNickname renames the bot in a guild.
func (d *Discord) SetNickname(ctx context.Context, guildID, nick string) error {
	if d.rest == nil {
		return channels.ErrChannelDisconnected
	}
	return wrapError(d.rest.GuildMemberNickname(guildID, "@me", nick, discordgo.WithContext(ctx)))
}

// Guilds lists the guilds the bot is a member of.
func (d *Discord) Guilds() []string {
	d.guildsMu.RLock()
	defer d.guildsMu.RUnlock()
	out := make([]string, 0, len(d.guilds))
	for id := range d.guilds {
		out = append(out, id)
	}
	return out
}

// ---------- Event Handlers ----------

func (d *Discord) onReadyEvent(s *discordgo.Session, r *discordgo.Ready) {
	d.self.Store(r.User)

	d.guildsMu.Lock()
	for _, g := range r.Guilds {
		d.guilds[g.ID] = struct{}{}
	}
	count := len(d.guilds)
	d.guildsMu.Unlock()

	d.logger.Info("discord: ready", "guilds", count)

	if d.cfg.RegisterCommands {
		d.registerCommands(s, r.User.ID)
	}
	if d.onReady != nil {
		go d.onReady(d.ctx)
	}
}

func (d *Discord) onGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	d.guildsMu.Lock()
	d.guilds[g.ID] = struct{}{}
	d.guildsMu.Unlock()
}

func (d *Discord) onGuildDelete(_ *discordgo.Session, g *discordgo.GuildDelete) {
	d.guildsMu.Lock()
	delete(d.guilds, g.ID)
	d.guildsMu.Unlock()
}

func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || d.ctx.Err() != nil {
		return
	}
	d.dispatch(toIncoming(m.Message, d.SelfID(), d.cleanContent(s, m.Message), d.ownsWebhook))
}

// ownsWebhook reports whether messages from webhook id are the agent's own.
func (d *Discord) ownsWebhook(id string) bool {
	_, ok := d.ownHooks.Load(id)
	return ok
}

// dispatch forwards a message to Receive without blocking the gateway.
func (d *Discord) dispatch(incoming *channels.IncomingMessage) {
	d.lastMsg.Store(time.Now())

	select {
	case d.messages <- incoming:
	default:
		d.logger.Warn("discord: message buffer full, dropping message", "msg_id", incoming.ID)
	}
}

func (d *Discord) cleanContent(s *discordgo.Session, m *discordgo.Message) string {
	if s != nil && s.State != nil {
		if clean, err := m.ContentWithMoreMentionsReplaced(s); err == nil {
			return clean
		}
	}
	return m.ContentWithMentionsReplaced()
}

// ---------- Helpers ----------

func toWebhook(h *discordgo.Webhook) channels.Webhook {
	w := channels.Webhook{ID: h.ID, Token: h.Token, ChannelID: h.ChannelID, Name: h.Name}
	if h.User != nil {
		w.OwnerID = h.User.ID
	}
	return w
}

// wrapError maps permission failures to channels.ErrPermissionDenied.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) {
		if restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeMissingPermissions {
			return fmt.Errorf("discord: %s: %w", restErr.Message.Message, channels.ErrPermissionDenied)
		}
		if restErr.Response != nil && restErr.Response.StatusCode == http.StatusForbidden {
			return fmt.Errorf("discord: forbidden: %w", channels.ErrPermissionDenied)
		}
	}
	return fmt.Errorf("discord: %w", err)
}

// Compile-time interface verification.
var _ channels.Platform = (*Discord)(nil)
