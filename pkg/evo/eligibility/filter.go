// Package eligibility decides whether Evo should answer a message.
//
// The decision walks a fixed sequence and stops at the first rejection:
// self and direct messages, then server onboarding, then addressing, then
// the designated channel. Onboarding is checked before addressing so an
// unconfigured server never causes memory reads.
package eligibility

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jholhewres/evo/pkg/evo/channels"
	"github.com/jholhewres/evo/pkg/evo/memory"
)

// Reason names why a message was accepted or rejected.
type Reason string

const (
	Accepted         Reason = "accepted"
	RejectSelf       Reason = "self"
	RejectDirect     Reason = "direct_message"
	RejectNotConfigd Reason = "not_configured"
	RejectNotAddress Reason = "not_addressed"
	RejectWrongChan  Reason = "wrong_channel"
)

// Decision is the outcome of a filter pass.
type Decision struct {
	Reason Reason

	// Addressed reports how the addressing step evaluated. It is false
	// when the pass stopped before that step.
	Addressed bool
}

// Accept reports whether the message should be answered.
func (d Decision) Accept() bool { return d.Reason == Accepted }

// Input is everything the decision depends on.
type Input struct {
	// AuthorIsAgent covers the agent's account and the webhooks it posts
	// branded replies through.
	AuthorIsAgent bool
	GuildID       string
	ChannelID     string

	ConfigExists      bool
	BotName           string
	DesignatedChannel string

	IsReplyToAgent   bool
	IsAgentMentioned bool
	Text             string
}

// Evaluate is the pure decision function.
func Evaluate(in Input) Decision {
	if in.AuthorIsAgent {
		return Decision{Reason: RejectSelf}
	}
	if in.GuildID == "" {
		return Decision{Reason: RejectDirect}
	}
	if !in.ConfigExists {
		return Decision{Reason: RejectNotConfigd}
	}

	addressed := in.IsReplyToAgent || in.IsAgentMentioned || containsFold(in.Text, in.BotName)
	if !addressed {
		return Decision{Reason: RejectNotAddress}
	}

	cfg := memory.ServerConfig{DesignatedChannel: in.DesignatedChannel}
	if cfg.RestrictsChannel() && in.DesignatedChannel != in.ChannelID {
		return Decision{Reason: RejectWrongChan, Addressed: true}
	}
	return Decision{Reason: Accepted, Addressed: true}
}

func containsFold(text, name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(name))
}

// ConfigLoader is the slice of the store the filter reads.
type ConfigLoader interface {
	LoadServerConfig(ctx context.Context, serverID string) (*memory.ServerConfig, error)
}

// Filter runs Evaluate against live messages.
type Filter struct {
	configs     ConfigLoader
	defaultName string
	logger      *slog.Logger
}

// New creates a filter. defaultName is the persona name used for servers
// that never set a bot name.
func New(configs ConfigLoader, defaultName string, logger *slog.Logger) *Filter {
	return &Filter{
		configs:     configs,
		defaultName: defaultName,
		logger:      logger.With("component", "eligibility"),
	}
}

// Check evaluates msg. The server config is returned when one was loaded
// so the caller does not read it twice.
func (f *Filter) Check(ctx context.Context, msg *channels.IncomingMessage, self channels.Identity) (Decision, *memory.ServerConfig, error) {
	in := Input{
		AuthorIsAgent:    msg.AuthorID == self.SelfID() || msg.FromAgentWebhook,
		GuildID:          msg.GuildID,
		ChannelID:        msg.ChannelID,
		IsReplyToAgent:   msg.IsReplyToAgent,
		IsAgentMentioned: msg.MentionsAgent,
		Text:             msg.Content,
	}

	// The first two steps need no store access.
	if d := Evaluate(in); d.Reason == RejectSelf || d.Reason == RejectDirect {
		return d, nil, nil
	}

	cfg, err := f.configs.LoadServerConfig(ctx, msg.GuildID)
	if err != nil {
		return Decision{}, nil, fmt.Errorf("eligibility: loading config for %s: %w", msg.GuildID, err)
	}
	if cfg != nil {
		in.ConfigExists = true
		in.BotName = cfg.BotName
		in.DesignatedChannel = cfg.DesignatedChannel
	}
	if in.BotName == "" {
		in.BotName = f.defaultName
	}

	d := Evaluate(in)
	if !d.Accept() {
		f.logger.Debug("message ignored",
			"reason", d.Reason, "guild_id", msg.GuildID, "channel_id", msg.ChannelID, "msg_id", msg.ID)
	}
	return d, cfg, nil
}
