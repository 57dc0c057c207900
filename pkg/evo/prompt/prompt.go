// Package prompt builds every string sent to the generation backend: the
// per-turn system instruction and user prompt, and the reflection prompts
// that maintain personal and gossip summaries.
//
// All functions are pure. The same inputs always produce the same output.
package prompt

import (
	"fmt"
	"strings"

	"github.com/jholhewres/evo/pkg/evo/memory"
	"github.com/jholhewres/evo/pkg/evo/persona"
)

// ActiveName is the name the agent answers to in a server: the server's
// configured bot name, falling back to the default persona's name.
func ActiveName(cfg *memory.ServerConfig, def persona.Personality) string {
	if cfg != nil && strings.TrimSpace(cfg.BotName) != "" {
		return cfg.BotName
	}
	if def.Name != "" {
		return def.Name
	}
	return persona.DefaultName
}

// SystemInstruction states the active name, then the effective personality,
// then the default rules one per line.
func SystemInstruction(cfg *memory.ServerConfig, def persona.Personality) string {
	personality := def.Personality
	if cfg != nil && strings.TrimSpace(cfg.PersonalityOverride) != "" {
		personality = cfg.PersonalityOverride
	}
	return fmt.Sprintf("You are %s.", ActiveName(cfg, def)) +
		"\n" + personality +
		"\n\n" + strings.Join(def.Rules(), "\n")
}

// UserPrompt embeds, in order, the personal summary about the speaker, the
// gossip others have shared about them (when any), the recent history and
// finally the new message.
func UserPrompt(mem memory.UserMemory, displayName, text string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Here is a summary of what you know about the user '%s':\n", displayName)
	b.WriteString(orPlaceholder(mem.PersonalSummary, memory.PlaceholderPersonalSummary))
	b.WriteString("\n")

	if g := strings.TrimSpace(mem.GossipSummary); g != "" && g != memory.PlaceholderGossipSummary {
		fmt.Fprintf(&b, "Here is what others in this server have said about '%s':\n", displayName)
		b.WriteString(mem.GossipSummary)
		b.WriteString("\n")
	}

	b.WriteString("Recent conversation history (user messages are prefixed with 'User:', your responses with 'AI:'):\n")
	b.WriteString(strings.Join(mem.ConversationHistory, ""))
	b.WriteString("\n")

	b.WriteString("Now, respond to this new message from the user:\n")
	b.WriteString("User: ")
	b.WriteString(text)
	b.WriteString("\n")

	return b.String()
}

// PersonalReflection asks for an updated third-person summary of the
// speaker given the latest exchange.
func PersonalReflection(userName, exchange, oldSummary string) string {
	oldSummary = orPlaceholder(oldSummary, memory.PlaceholderPersonalSummary)
	return "You are a memory assistant. Your job is to update a user summary based on a new conversation.\n" +
		fmt.Sprintf("The user's name is %s.\n", userName) +
		fmt.Sprintf("Here is the old summary of the user: --- %s ---\n", oldSummary) +
		fmt.Sprintf("Here is the latest conversation exchange: --- %s ---\n", exchange) +
		"Based on this new information, provide an updated summary of the user. " +
		"The summary should be a concise paragraph, written in the third person.\n" +
		"Keep the summary under 200 words. If no new important personal information was learned, just return the original summary.\n"
}

// GossipReflection asks for an updated summary of what people say about
// subject, given what author just said.
func GossipReflection(authorName, subjectName, message, oldGossip string) string {
	oldGossip = orPlaceholder(oldGossip, memory.PlaceholderGossipSummary)
	var b strings.Builder
	b.WriteString("You are a memory assistant. You are listening to a conversation.\n")
	fmt.Fprintf(&b, "The user '%s' just said the following about '%s':\n", authorName, subjectName)
	fmt.Fprintf(&b, "---\n%s\n---\n", message)
	fmt.Fprintf(&b, "Here is the old gossip summary you have about '%s':\n", subjectName)
	fmt.Fprintf(&b, "---\n%s\n---\n", oldGossip)
	fmt.Fprintf(&b, "Based on what '%s' said, provide an updated gossip summary for '%s'.\n", authorName, subjectName)
	b.WriteString("Keep the summary under 200 words. If no new important information was learned, just return the original summary.\n")
	return b.String()
}

func orPlaceholder(s, placeholder string) string {
	if strings.TrimSpace(s) == "" {
		return placeholder
	}
	return s
}
