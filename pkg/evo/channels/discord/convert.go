package discord

import (
	"github.com/bwmarrin/discordgo"

	"github.com/jholhewres/evo/pkg/evo/channels"
)

// toIncoming converts a Discord message into the platform-neutral shape.
func toIncoming(m *discordgo.Message, selfID, cleanContent string, ownsWebhook func(id string) bool) *channels.IncomingMessage {
	incoming := &channels.IncomingMessage{
		ID:           m.ID,
		AuthorID:     m.Author.ID,
		AuthorName:   authorName(m),
		GuildID:      m.GuildID,
		ChannelID:    m.ChannelID,
		Content:      m.Content,
		CleanContent: cleanContent,
		WebhookID:    m.WebhookID,
		Timestamp:    m.Timestamp,
	}

	if m.WebhookID != "" && ownsWebhook != nil {
		incoming.FromAgentWebhook = ownsWebhook(m.WebhookID)
	}

	if ref := m.ReferencedMessage; ref != nil && ref.Author != nil && selfID != "" {
		incoming.IsReplyToAgent = ref.Author.ID == selfID
	}

	for _, u := range m.Mentions {
		if u == nil {
			continue
		}
		if u.ID == selfID {
			incoming.MentionsAgent = true
		}
		incoming.Mentions = append(incoming.Mentions, channels.Mention{
			UserID:      u.ID,
			DisplayName: userName(u),
			IsBot:       u.Bot,
		})
	}
	return incoming
}

// authorName prefers the server nickname, then the global display name.
func authorName(m *discordgo.Message) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	return userName(m.Author)
}

func userName(u *discordgo.User) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}
