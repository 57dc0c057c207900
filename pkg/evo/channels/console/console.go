// Package console is an in-process platform that lets an operator talk to
// a configured server's persona from a terminal. Replies, webhook sends
// and renames are printed instead of being sent anywhere.
package console

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jholhewres/evo/pkg/evo/channels"
)

// ChannelID is the fixed channel id of console messages.
const ChannelID = "console"

// Console implements channels.Platform over an io.Writer.
type Console struct {
	out      io.Writer
	guildID  string
	selfID   string
	selfName string

	mu    sync.Mutex
	nicks map[string]string
	hooks map[string][]channels.Webhook

	seq atomic.Int64
}

// New creates a console platform that pretends to be a member of guildID.
func New(out io.Writer, guildID, selfName string) *Console {
	if selfName == "" {
		selfName = "Evo"
	}
	return &Console{
		out:      out,
		guildID:  guildID,
		selfID:   "console-agent",
		selfName: selfName,
		nicks:    make(map[string]string),
		hooks:    make(map[string][]channels.Webhook),
	}
}

// Message builds the incoming message for a line typed by userID. Words
// of the form @id are treated as mentions of user id. Every line is
// addressed to the agent.
func (c *Console) Message(userID, displayName, text string) *channels.IncomingMessage {
	msg := &channels.IncomingMessage{
		ID:            strconv.FormatInt(c.seq.Add(1), 10),
		AuthorID:      userID,
		AuthorName:    displayName,
		GuildID:       c.guildID,
		ChannelID:     ChannelID,
		Content:       text,
		CleanContent:  text,
		MentionsAgent: true,
		Timestamp:     time.Now(),
	}
	for _, word := range strings.Fields(text) {
		if !strings.HasPrefix(word, "@") || len(word) < 2 {
			continue
		}
		id := strings.TrimRight(word[1:], ".,!?;:")
		if id == "" {
			continue
		}
		msg.Mentions = append(msg.Mentions, channels.Mention{UserID: id, DisplayName: id})
	}
	return msg
}

func (c *Console) SelfID() string   { return c.selfID }
func (c *Console) SelfName() string { return c.selfName }

// Reply prints the reply under the agent's current nickname.
func (c *Console) Reply(_ context.Context, _ *channels.IncomingMessage, content string) error {
	c.mu.Lock()
	name := c.nicks[c.guildID]
	c.mu.Unlock()
	if name == "" {
		name = c.selfName
	}
	_, err := fmt.Fprintf(c.out, "%s: %s\n", name, content)
	return err
}

// SendTyping is a no-op.
func (c *Console) SendTyping(context.Context, string) error { return nil }

func (c *Console) ListWebhooks(_ context.Context, channelID string) ([]channels.Webhook, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]channels.Webhook(nil), c.hooks[channelID]...), nil
}

func (c *Console) CreateWebhook(_ context.Context, channelID, name string) (*channels.Webhook, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := channels.Webhook{
		ID:        fmt.Sprintf("console-webhook-%d", len(c.hooks[channelID])+1),
		Token:     "console",
		ChannelID: channelID,
		Name:      name,
		OwnerID:   c.selfID,
	}
	c.hooks[channelID] = append(c.hooks[channelID], h)
	return &h, nil
}

// ExecuteWebhook prints the reply under the webhook identity.
func (c *Console) ExecuteWebhook(_ context.Context, _ channels.Webhook, username, avatarURL, content string) error {
	_, err := fmt.Fprintf(c.out, "%s (avatar %s): %s\n", username, avatarURL, content)
	return err
}

func (c *Console) CurrentNickname(_ context.Context, guildID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nicks[guildID], nil
}

func (c *Console) SetNickname(_ context.Context, guildID, nick string) error {
	c.mu.Lock()
	c.nicks[guildID] = nick
	c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "* now known as %s\n", nick)
	return err
}

func (c *Console) Guilds() []string { return []string{c.guildID} }

var _ channels.Platform = (*Console)(nil)
