// Package channels defines the chat-platform contract Evo depends on:
// the inbound message shape and the small set of outbound operations the
// pipeline, delivery and nickname components need. Each platform (Discord,
// the local console) implements Platform.
package channels

import (
	"context"
	"errors"
	"strings"
	"time"
)

// MaxMessageLength is the longest message a platform accepts in one send.
const MaxMessageLength = 2000

// Mention is a user referenced in a message.
type Mention struct {
	UserID      string
	DisplayName string
	IsBot       bool
}

// IncomingMessage is a message received from any platform.
type IncomingMessage struct {
	// ID is the platform message id.
	ID string

	// AuthorID and AuthorName identify the sender. AuthorName is the
	// server display name when available.
	AuthorID   string
	AuthorName string

	// GuildID is empty for direct messages.
	GuildID   string
	ChannelID string

	// Content is the raw text; CleanContent has mentions rendered as names.
	Content      string
	CleanContent string

	// IsReplyToAgent is set when the message replies to one of the agent's
	// own messages.
	IsReplyToAgent bool

	// MentionsAgent is set when the agent is explicitly mentioned.
	MentionsAgent bool

	// WebhookID is set when the message was posted through a webhook.
	// FromAgentWebhook marks webhooks the agent posts its own replies with;
	// their author is the webhook, not the agent's account.
	WebhookID        string
	FromAgentWebhook bool

	// Mentions lists every mentioned user in mention order.
	Mentions []Mention

	Timestamp time.Time
}

// Text returns the mention-stripped text, falling back to the raw content.
func (m *IncomingMessage) Text() string {
	if m.CleanContent != "" {
		return m.CleanContent
	}
	return m.Content
}

// Webhook is a channel-scoped branded identity.
type Webhook struct {
	ID        string
	Token     string
	ChannelID string
	Name      string

	// OwnerID is the user that created the webhook.
	OwnerID string
}

// Identity describes the agent's own account on the platform.
type Identity interface {
	SelfID() string
	SelfName() string
}

// Messenger sends plain replies and presence signals.
type Messenger interface {
	// Reply answers msg in its channel from the agent's own account.
	Reply(ctx context.Context, msg *IncomingMessage, content string) error

	// SendTyping shows a typing indicator in a channel.
	SendTyping(ctx context.Context, channelID string) error
}

// WebhookManager lists, creates and sends through channel webhooks.
type WebhookManager interface {
	ListWebhooks(ctx context.Context, channelID string) ([]Webhook, error)
	CreateWebhook(ctx context.Context, channelID, name string) (*Webhook, error)
	ExecuteWebhook(ctx context.Context, hook Webhook, username, avatarURL, content string) error
}

// NicknameManager reads and changes the agent's per-guild display name.
type NicknameManager interface {
	// CurrentNickname returns the agent's nickname in a guild, "" if none.
	CurrentNickname(ctx context.Context, guildID string) (string, error)

	// SetNickname renames the agent in a guild.
	SetNickname(ctx context.Context, guildID, nick string) error

	// Guilds lists every guild the agent is a member of.
	Guilds() []string
}

// Platform is everything Evo needs from a chat platform.
type Platform interface {
	Identity
	Messenger
	WebhookManager
	NicknameManager
}

// Errors.
var (
	ErrChannelDisconnected = errors.New("channel is not connected")
	ErrPermissionDenied    = errors.New("missing permissions")
)

// SplitMessage splits text into chunks no longer than maxLen bytes,
// preferring to cut at a newline in the second half of the window.
func SplitMessage(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = MaxMessageLength
	}
	if len(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		} else {
			// Avoid cutting inside a multi-byte rune.
			for cutAt > 0 && !isRuneStart(text[cutAt]) {
				cutAt--
			}
			if cutAt == 0 {
				cutAt = maxLen
			}
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// HealthStatus represents the health state of a channel.
type HealthStatus struct {
	Connected     bool
	LastMessageAt time.Time
	ErrorCount    int
	Details       map[string]any
}

// Err returns ErrChannelDisconnected when the channel is down.
func (h HealthStatus) Err() error {
	if !h.Connected {
		return ErrChannelDisconnected
	}
	return nil
}
