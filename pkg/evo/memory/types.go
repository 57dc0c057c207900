// Package memory is Evo's typed view over the document store: per-server
// configuration written by the dashboard, and per-(server, user) memory
// records that the pipeline reads and merge-writes after every exchange.
package memory

import (
	"context"
	"errors"
	"time"
)

const (
	// MaxHistoryEntries is the number of exchanges kept per user.
	MaxHistoryEntries = 10

	// PlaceholderPersonalSummary is returned when nothing is known about a user yet.
	PlaceholderPersonalSummary = "No summary available."

	// PlaceholderGossipSummary is returned when nobody has talked about a user yet.
	PlaceholderGossipSummary = "No gossip available."

	// AllChannels is the designated-channel sentinel that allows every channel.
	AllChannels = "all"
)

// ErrServerNotFound is returned by admin operations on servers that were
// never onboarded.
var ErrServerNotFound = errors.New("memory: server not found")

// ServerConfig is the per-server configuration owned by the dashboard.
// Empty strings mean "unset".
type ServerConfig struct {
	ServerID            string    `json:"server_id"`
	BotName             string    `json:"bot_name,omitempty"`
	DesignatedChannel   string    `json:"designated_channel,omitempty"`
	PersonalityOverride string    `json:"personality_override,omitempty"`
	AIModel             string    `json:"ai_model"`
	EncryptedPrimaryKey string    `json:"-"`
	EncryptedBackupKey  string    `json:"-"`
	CustomAvatarURL     string    `json:"custom_avatar_url,omitempty"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// RestrictsChannel reports whether replies are limited to one channel.
func (c *ServerConfig) RestrictsChannel() bool {
	return c.DesignatedChannel != "" && c.DesignatedChannel != AllChannels
}

// UserMemory is what Evo remembers about one user in one server.
type UserMemory struct {
	// ConversationHistory holds the most recent exchanges, oldest first.
	ConversationHistory []string

	// PersonalSummary is a third-person paragraph about the user.
	PersonalSummary string

	// GossipSummary is what other users have said about this user.
	GossipSummary string
}

// Empty returns the record used for users with no stored memory.
func Empty() UserMemory {
	return UserMemory{
		ConversationHistory: []string{},
		PersonalSummary:     PlaceholderPersonalSummary,
		GossipSummary:       PlaceholderGossipSummary,
	}
}

// UserMemoryPatch is a partial update. Nil fields are left untouched by
// MergeUserMemory.
type UserMemoryPatch struct {
	ConversationHistory []string
	PersonalSummary     *string
	GossipSummary       *string
}

// IsEmpty reports whether the patch supplies no field.
func (p UserMemoryPatch) IsEmpty() bool {
	return p.ConversationHistory == nil && p.PersonalSummary == nil && p.GossipSummary == nil
}

// HistoryPatch replaces the conversation history.
func HistoryPatch(history []string) UserMemoryPatch {
	if history == nil {
		history = []string{}
	}
	return UserMemoryPatch{ConversationHistory: history}
}

// PersonalSummaryPatch replaces the personal summary.
func PersonalSummaryPatch(summary string) UserMemoryPatch {
	return UserMemoryPatch{PersonalSummary: &summary}
}

// GossipSummaryPatch replaces the gossip summary.
func GossipSummaryPatch(summary string) UserMemoryPatch {
	return UserMemoryPatch{GossipSummary: &summary}
}

// Store is the read/merge contract the pipeline needs from the document store.
type Store interface {
	// LoadServerConfig returns nil, nil when the server was never onboarded.
	LoadServerConfig(ctx context.Context, serverID string) (*ServerConfig, error)

	// LoadUserMemory never fails: missing or unreadable records yield Empty().
	LoadUserMemory(ctx context.Context, serverID, userID string) UserMemory

	// MergeUserMemory upserts only the fields supplied in patch.
	MergeUserMemory(ctx context.Context, serverID, userID string, patch UserMemoryPatch) error
}

// ConfigStore is the write side used by the dashboard gateway and the CLI.
type ConfigStore interface {
	LoadServerConfig(ctx context.Context, serverID string) (*ServerConfig, error)
	SaveServerConfig(ctx context.Context, cfg ServerConfig) error
	DeleteServer(ctx context.Context, serverID string) error
}
