package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jholhewres/evo/pkg/evo/database"
)

// SQLStore implements Store and ConfigStore on top of a database backend.
type SQLStore struct {
	db     *database.Backend
	logger *slog.Logger
}

// NewSQLStore creates a store over an already-migrated backend.
func NewSQLStore(db *database.Backend, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStore{db: db, logger: logger.With("component", "memory")}
}

// LoadServerConfig returns the server's configuration, or nil if absent.
func (s *SQLStore) LoadServerConfig(ctx context.Context, serverID string) (*ServerConfig, error) {
	row := s.db.DB.QueryRowContext(ctx, s.db.Rebind(`
		SELECT bot_name, designated_channel, personality_override, ai_model,
		       encrypted_api_key, encrypted_backup_api_key, custom_avatar_url, updated_at
		FROM server_configs WHERE server_id = ?`), serverID)

	var (
		botName, channel, personality, avatar sql.NullString
		updatedAt                             string
	)
	cfg := &ServerConfig{ServerID: serverID}
	err := row.Scan(&botName, &channel, &personality, &cfg.AIModel,
		&cfg.EncryptedPrimaryKey, &cfg.EncryptedBackupKey, &avatar, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory: load server config %s: %w", serverID, err)
	}

	cfg.BotName = botName.String
	cfg.DesignatedChannel = channel.String
	cfg.PersonalityOverride = personality.String
	cfg.CustomAvatarURL = avatar.String
	cfg.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return cfg, nil
}

// SaveServerConfig creates or replaces a server's configuration.
func (s *SQLStore) SaveServerConfig(ctx context.Context, cfg ServerConfig) error {
	if cfg.ServerID == "" {
		return fmt.Errorf("memory: save server config: empty server id")
	}
	_, err := s.db.DB.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO server_configs (server_id, bot_name, designated_channel, personality_override,
		                            ai_model, encrypted_api_key, encrypted_backup_api_key,
		                            custom_avatar_url, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (server_id) DO UPDATE SET
			bot_name = excluded.bot_name,
			designated_channel = excluded.designated_channel,
			personality_override = excluded.personality_override,
			ai_model = excluded.ai_model,
			encrypted_api_key = excluded.encrypted_api_key,
			encrypted_backup_api_key = excluded.encrypted_backup_api_key,
			custom_avatar_url = excluded.custom_avatar_url,
			updated_at = excluded.updated_at`),
		cfg.ServerID, nullString(cfg.BotName), nullString(cfg.DesignatedChannel),
		nullString(cfg.PersonalityOverride), cfg.AIModel, cfg.EncryptedPrimaryKey,
		cfg.EncryptedBackupKey, nullString(cfg.CustomAvatarURL), now())
	if err != nil {
		return fmt.Errorf("memory: save server config %s: %w", cfg.ServerID, err)
	}
	return nil
}

// DeleteServer removes a server's configuration and every memory record in it.
func (s *SQLStore) DeleteServer(ctx context.Context, serverID string) error {
	tx, err := s.db.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("memory: delete server %s: %w", serverID, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM server_configs WHERE server_id = ?`), serverID)
	if err != nil {
		return fmt.Errorf("memory: delete server config %s: %w", serverID, err)
	}
	if _, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM user_memories WHERE server_id = ?`), serverID); err != nil {
		return fmt.Errorf("memory: delete memories %s: %w", serverID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrServerNotFound
	}
	return tx.Commit()
}

// LoadUserMemory returns the user's memory record. Missing fields are filled
// with placeholders; read errors are logged and yield Empty().
func (s *SQLStore) LoadUserMemory(ctx context.Context, serverID, userID string) UserMemory {
	row := s.db.DB.QueryRowContext(ctx, s.db.Rebind(`
		SELECT conversation_history, personal_summary, gossip_summary
		FROM user_memories WHERE server_id = ? AND user_id = ?`), serverID, userID)

	var history, personal, gossip sql.NullString
	err := row.Scan(&history, &personal, &gossip)
	if errors.Is(err, sql.ErrNoRows) {
		return Empty()
	}
	if err != nil {
		s.logger.Warn("failed to load user memory, using empty record",
			"server_id", serverID, "user_id", userID, "error", err)
		return Empty()
	}

	mem := Empty()
	if history.Valid && history.String != "" {
		if err := json.Unmarshal([]byte(history.String), &mem.ConversationHistory); err != nil {
			s.logger.Warn("corrupt conversation history, ignoring",
				"server_id", serverID, "user_id", userID, "error", err)
			mem.ConversationHistory = []string{}
		}
	}
	if personal.Valid {
		mem.PersonalSummary = personal.String
	}
	if gossip.Valid {
		mem.GossipSummary = gossip.String
	}
	return mem
}

// MergeUserMemory upserts the supplied fields, preserving the others.
func (s *SQLStore) MergeUserMemory(ctx context.Context, serverID, userID string, patch UserMemoryPatch) error {
	if patch.IsEmpty() {
		return nil
	}

	var history sql.NullString
	if patch.ConversationHistory != nil {
		data, err := json.Marshal(patch.ConversationHistory)
		if err != nil {
			return fmt.Errorf("memory: encode history: %w", err)
		}
		history = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.DB.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO user_memories (server_id, user_id, conversation_history, personal_summary, gossip_summary, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (server_id, user_id) DO UPDATE SET
			conversation_history = COALESCE(excluded.conversation_history, user_memories.conversation_history),
			personal_summary = COALESCE(excluded.personal_summary, user_memories.personal_summary),
			gossip_summary = COALESCE(excluded.gossip_summary, user_memories.gossip_summary),
			updated_at = excluded.updated_at`),
		serverID, userID, history, nullStringPtr(patch.PersonalSummary), nullStringPtr(patch.GossipSummary), now())
	if err != nil {
		return fmt.Errorf("memory: merge %s/%s: %w", serverID, userID, err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

var (
	_ Store       = (*SQLStore)(nil)
	_ ConfigStore = (*SQLStore)(nil)
)
