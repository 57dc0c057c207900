package commands

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/jholhewres/evo/pkg/evo/config"
	"github.com/jholhewres/evo/pkg/evo/database"
	"github.com/jholhewres/evo/pkg/evo/security"
)

// newSetupCmd creates `evo setup`, the interactive configuration wizard.
func newSetupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactive configuration wizard",
		Long: `Walk through the settings Evo needs and write config.yaml.
Secrets are stored in the OS keyring; config.yaml only references them.`,
		Args: cobra.NoArgs,
		RunE: runSetup,
	}
	cmd.Flags().StringP("output", "o", "config.yaml", "where to write the configuration")
	return cmd
}

func runSetup(cmd *cobra.Command, _ []string) error {
	out, _ := cmd.Flags().GetString("output")

	cfg := config.Default()
	if _, err := os.Stat(out); err == nil {
		existing, err := config.Load(out)
		if err != nil {
			return err
		}
		cfg = existing
	}

	var (
		backend       = string(cfg.Database.Backend)
		pgPort        = strconv.Itoa(cfg.Database.PostgreSQL.Port)
		botToken      string
		encryptionKey string
		overwrite     = true
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Evo setup").
				Description("A Discord bot that remembers. Press enter to keep a default."),
			huh.NewInput().
				Title("Default bot name").
				Value(&cfg.Name),
			huh.NewInput().
				Title("Personality file").
				Value(&cfg.PersonalityFile),
			huh.NewInput().
				Title("Dashboard URL").
				Description("Linked from the /evo command.").
				Value(&cfg.DashboardURL).
				Validate(validURL),
			huh.NewInput().
				Title("Default model").
				Value(&cfg.LLM.DefaultModel),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Database").
				Options(
					huh.NewOption("SQLite (single process)", string(database.BackendSQLite)),
					huh.NewOption("PostgreSQL", string(database.BackendPostgreSQL)),
				).
				Value(&backend),
		),
		huh.NewGroup(
			huh.NewInput().Title("SQLite path").Value(&cfg.Database.SQLite.Path),
		).WithHideFunc(func() bool { return backend != string(database.BackendSQLite) }),
		huh.NewGroup(
			huh.NewInput().Title("Host").Value(&cfg.Database.PostgreSQL.Host),
			huh.NewInput().Title("Port").Value(&pgPort).Validate(validPort),
			huh.NewInput().Title("Database").Value(&cfg.Database.PostgreSQL.Database),
			huh.NewInput().Title("User").Value(&cfg.Database.PostgreSQL.User),
		).WithHideFunc(func() bool { return backend != string(database.BackendPostgreSQL) }),
		huh.NewGroup(
			huh.NewInput().
				Title("Discord bot token").
				Description("Stored in the OS keyring. Leave empty to keep the current one.").
				EchoMode(huh.EchoModePassword).
				Value(&botToken),
			huh.NewInput().
				Title("Encryption key").
				Description("Protects stored API keys. Changing it makes existing keys unreadable.").
				EchoMode(huh.EchoModePassword).
				Value(&encryptionKey),
			huh.NewConfirm().
				Title("Enable the settings gateway?").
				Value(&cfg.Gateway.Enabled),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Write %s?", out)).
				Value(&overwrite),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil
		}
		return err
	}
	if !overwrite {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing written.")
		return nil
	}

	cfg.Database.Backend = database.BackendType(backend)
	if port, err := strconv.Atoi(pgPort); err == nil {
		cfg.Database.PostgreSQL.Port = port
	}

	for name, value := range map[string]string{
		security.SecretBotToken:      botToken,
		security.SecretEncryptionKey: encryptionKey,
	} {
		if value == "" {
			continue
		}
		if err := security.StoreKeyring(name, value); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Could not use the keyring for %s (%v); set it in the environment instead.\n", name, err)
		}
	}
	cfg.Discord.Token = "${" + security.SecretBotToken + "}"
	cfg.EncryptionKey = "${" + security.SecretEncryptionKey + "}"
	cfg.Database.PostgreSQL.Password = envReference(cfg.Database.PostgreSQL.Password, dbPasswordEnv)
	cfg.Gateway.AuthToken = envReference(cfg.Gateway.AuthToken, security.SecretGatewayToken)

	if err := config.Save(cfg, out); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s. Run 'evo health' to check it.\n", out)
	return nil
}

const dbPasswordEnv = "EVO_DB_PASSWORD"

// envReference replaces a secret that came from the environment with its
// ${VAR} reference so it is never written to disk.
func envReference(value, envVar string) string {
	if value == "" || config.IsEnvReference(value) || os.Getenv(envVar) == value {
		return "${" + envVar + "}"
	}
	return value
}

func validURL(s string) error {
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("enter a full URL, e.g. https://evo.example.com")
	}
	return nil
}

func validPort(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		return errors.New("enter a port between 1 and 65535")
	}
	return nil
}
