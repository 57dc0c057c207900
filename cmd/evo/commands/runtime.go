package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jholhewres/evo/pkg/evo/channels"
	"github.com/jholhewres/evo/pkg/evo/config"
	"github.com/jholhewres/evo/pkg/evo/database"
	"github.com/jholhewres/evo/pkg/evo/delivery"
	"github.com/jholhewres/evo/pkg/evo/eligibility"
	"github.com/jholhewres/evo/pkg/evo/llm"
	"github.com/jholhewres/evo/pkg/evo/memory"
	"github.com/jholhewres/evo/pkg/evo/nickname"
	"github.com/jholhewres/evo/pkg/evo/persona"
	"github.com/jholhewres/evo/pkg/evo/pipeline"
	"github.com/jholhewres/evo/pkg/evo/reflection"
	"github.com/jholhewres/evo/pkg/evo/security"
)

// resolveConfig loads config from --config or discovery, falling back to
// defaults when no file exists. Returns the path that was used, if any.
func resolveConfig(cmd *cobra.Command) (*config.Config, string, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, "", fmt.Errorf("loading config: %w", err)
		}
		return cfg, configPath, nil
	}

	if found := config.FindConfigFile(); found != "" {
		cfg, err := config.Load(found)
		if err != nil {
			return nil, "", fmt.Errorf("loading config from %s: %w", found, err)
		}
		return cfg, found, nil
	}

	return config.Default(), "", nil
}

// newLogger builds the process logger from config and --verbose.
func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logger := config.NewLogger(cfg.Logging, verbose, os.Stderr)
	slog.SetDefault(logger)
	return logger
}

// runtime holds what every command that touches the store needs.
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      *database.Backend
	store   *memory.SQLStore
	cipher  *security.Cipher
	persona persona.Personality
}

// openRuntime loads config, opens the database and builds the cipher.
// The personality is only loaded when withPersona is set.
func openRuntime(ctx context.Context, cmd *cobra.Command, withPersona bool) (*runtime, error) {
	cfg, path, err := resolveConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd, cfg)
	if path != "" {
		logger.Debug("config loaded", "path", path)
	}

	rt := &runtime{cfg: cfg, logger: logger}

	if withPersona {
		p, err := persona.Load(cfg.PersonalityFile)
		if err != nil {
			return nil, fmt.Errorf("default personality is required: %w", err)
		}
		if p.Name == persona.DefaultName && cfg.Name != "" {
			p = persona.New(cfg.Name, p.Personality, p.Rules())
		}
		rt.persona = p
	}

	rt.cipher, err = newCipher(cfg, logger)
	if err != nil {
		return nil, err
	}

	rt.db, err = database.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	rt.store = memory.NewSQLStore(rt.db, logger)
	return rt, nil
}

// Close releases the database.
func (rt *runtime) Close() {
	if err := rt.db.Close(); err != nil {
		rt.logger.Warn("closing database", "error", err)
	}
}

// newCipher resolves ENCRYPTION_KEY from env, keyring or config.
func newCipher(cfg *config.Config, logger *slog.Logger) (*security.Cipher, error) {
	secret, source := security.ResolveSecret(security.SecretEncryptionKey, cfg.EncryptionKey)
	c, err := security.NewCipher(secret)
	if err != nil {
		return nil, fmt.Errorf("%w (set %s or run 'evo secrets set %s')",
			err, security.SecretEncryptionKey, security.SecretEncryptionKey)
	}
	logger.Debug("encryption key resolved", "source", source)
	return c, nil
}

// agent is the assembled message pipeline and the pieces that need
// lifecycle management around it.
type agent struct {
	pipeline  *pipeline.Pipeline
	delivery  *delivery.Adapter
	nicknames *nickname.Reconciler
}

// buildAgent wires the pipeline over a platform and a memory writer.
func buildAgent(rt *runtime, platform channels.Platform, writer memory.Writer) (*agent, error) {
	router := llm.NewRouter(rt.cfg.LLM, rt.logger)

	deliv, err := delivery.New(platform, rt.cfg.Delivery, rt.logger)
	if err != nil {
		return nil, err
	}
	nicks := nickname.New(platform, rt.store, rt.logger)

	p := pipeline.New(pipeline.Deps{
		Platform:  platform,
		Filter:    eligibility.New(rt.store, rt.persona.Name, rt.logger),
		Memory:    rt.store,
		Writer:    writer,
		Decrypter: rt.cipher,
		Engine:    llm.NewEngine(router, rt.logger),
		Deliverer: deliv,
		Reflector: reflection.New(router, rt.store, writer, rt.logger),
		Nicknames: nicks,
		Persona:   rt.persona,
		Model:     rt.cfg.LLM.DefaultModel,
		Logger:    rt.logger,
	})
	return &agent{pipeline: p, delivery: deliv, nicknames: nicks}, nil
}
