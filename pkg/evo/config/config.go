// Package config defines Evo's process configuration: the Discord
// connection, storage backend, model routing, gateway, and logging.
package config

import (
	"time"

	"github.com/jholhewres/evo/pkg/evo/channels/discord"
	"github.com/jholhewres/evo/pkg/evo/database"
	"github.com/jholhewres/evo/pkg/evo/delivery"
	"github.com/jholhewres/evo/pkg/evo/gateway"
	"github.com/jholhewres/evo/pkg/evo/llm"
	"github.com/jholhewres/evo/pkg/evo/memory"
	"github.com/jholhewres/evo/pkg/evo/persona"
)

// Config is the top-level configuration.
type Config struct {
	// Name is the agent's fallback name when no personality file names it.
	Name string `yaml:"name"`

	// DashboardURL is linked from the /evo command.
	DashboardURL string `yaml:"dashboard_url"`

	// PersonalityFile is the default personality (YAML or JSON).
	PersonalityFile string `yaml:"personality_file"`

	// EncryptionKey derives the key that protects stored API keys.
	// Prefer ENCRYPTION_KEY in the environment or the OS keyring.
	EncryptionKey string `yaml:"encryption_key"`

	Discord   discord.Config     `yaml:"discord"`
	Database  database.Config    `yaml:"database"`
	LLM       llm.Config         `yaml:"llm"`
	Gateway   gateway.Config     `yaml:"gateway"`
	Memory    memory.QueueConfig `yaml:"memory"`
	Delivery  delivery.Config    `yaml:"delivery"`
	Reconcile ReconcileConfig    `yaml:"reconcile"`
	Logging   LoggingConfig      `yaml:"logging"`
}

// ReconcileConfig configures the periodic nickname sweep.
type ReconcileConfig struct {
	// Schedule is a cron expression or descriptor ("@every 6h"). Empty disables.
	Schedule string `yaml:"schedule"`

	// JobTimeout bounds one sweep.
	JobTimeout time.Duration `yaml:"job_timeout"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// Default returns the configuration used when a field is not set.
func Default() *Config {
	return &Config{
		Name:            persona.DefaultName,
		PersonalityFile: "personality.yaml",
		Discord:         discord.DefaultConfig(),
		Database:        database.DefaultConfig(),
		LLM:             llm.DefaultConfig(),
		Gateway:         gateway.DefaultConfig(),
		Memory:          memory.DefaultQueueConfig(),
		Delivery:        delivery.DefaultConfig(),
		Reconcile: ReconcileConfig{
			Schedule:   "@every 6h",
			JobTimeout: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
