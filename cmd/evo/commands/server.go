package commands

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jholhewres/evo/pkg/evo/memory"
	"github.com/jholhewres/evo/pkg/evo/nickname"
	"github.com/jholhewres/evo/pkg/evo/security"
)

// newServerCmd creates `evo server`, admin access to per-server settings.
func newServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Manage per-server settings",
		Long: `Read and write the settings the dashboard normally manages.

Examples:
  evo server set 123456789012345678 --bot-name Sparky --api-key
  evo server show 123456789012345678
  evo server remove 123456789012345678`,
	}
	cmd.AddCommand(newServerSetCmd(), newServerShowCmd(), newServerRemoveCmd())
	return cmd
}

func newServerSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <server-id>",
		Short: "Create or update a server's settings",
		Args:  cobra.ExactArgs(1),
		RunE:  runServerSet,
	}
	f := cmd.Flags()
	f.String("bot-name", "", "name the bot answers to in this server")
	f.String("channel", "", `channel id to answer in, or "all"`)
	f.String("personality", "", "personality override text")
	f.String("personality-file", "", "read the personality override from a file")
	f.String("model", "", "model name, e.g. gemini-1.5-flash or claude-3-5-haiku-latest")
	f.String("avatar-url", "", "custom avatar URL (replies go through a webhook)")
	f.Bool("api-key", false, "prompt for the primary API key")
	f.Bool("backup-api-key", false, "prompt for the backup API key")
	f.Bool("clear-keys", false, "remove both API keys")
	return cmd
}

func runServerSet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openRuntime(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	serverID := args[0]
	cfg, err := rt.store.LoadServerConfig(ctx, serverID)
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = &memory.ServerConfig{ServerID: serverID}
	}

	f := cmd.Flags()
	str := func(flag string, dst *string) {
		if f.Changed(flag) {
			*dst, _ = f.GetString(flag)
		}
	}
	str("bot-name", &cfg.BotName)
	str("channel", &cfg.DesignatedChannel)
	str("personality", &cfg.PersonalityOverride)
	str("model", &cfg.AIModel)
	str("avatar-url", &cfg.CustomAvatarURL)

	if f.Changed("personality-file") {
		path, _ := f.GetString("personality-file")
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading personality: %w", err)
		}
		cfg.PersonalityOverride = string(data)
	}

	if clearKeys, _ := f.GetBool("clear-keys"); clearKeys {
		cfg.EncryptedPrimaryKey = ""
		cfg.EncryptedBackupKey = ""
	}
	for _, k := range []struct {
		flag, prompt string
		dst          *string
	}{
		{"api-key", "Primary API key: ", &cfg.EncryptedPrimaryKey},
		{"backup-api-key", "Backup API key: ", &cfg.EncryptedBackupKey},
	} {
		if ask, _ := f.GetBool(k.flag); !ask {
			continue
		}
		plain, err := security.ReadSecret(k.prompt)
		if err != nil {
			return err
		}
		if plain == "" {
			*k.dst = ""
			continue
		}
		enc, err := rt.cipher.Encrypt(plain)
		if err != nil {
			return err
		}
		*k.dst = enc
	}

	if cfg.DesignatedChannel != "" && cfg.DesignatedChannel != memory.AllChannels {
		for _, r := range cfg.DesignatedChannel {
			if r < '0' || r > '9' {
				return fmt.Errorf("channel must be a channel id or %q", memory.AllChannels)
			}
		}
	}

	if err := rt.store.SaveServerConfig(ctx, *cfg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved settings for server %s.\n", serverID)
	return nil
}

func newServerShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <server-id>",
		Short: "Show a server's settings (keys are never printed)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, cmd, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			cfg, err := rt.store.LoadServerConfig(ctx, args[0])
			if err != nil {
				return err
			}
			if cfg == nil {
				return fmt.Errorf("server %s is not configured", args[0])
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "Server\t%s\n", cfg.ServerID)
			fmt.Fprintf(w, "Bot name\t%s\n", nickname.Desired(cfg))
			fmt.Fprintf(w, "Channel\t%s\n", orDash(cfg.DesignatedChannel))
			fmt.Fprintf(w, "Model\t%s\n", orDash(cfg.AIModel))
			fmt.Fprintf(w, "Avatar\t%s\n", orDash(cfg.CustomAvatarURL))
			fmt.Fprintf(w, "Personality\t%s\n", orDash(truncate(cfg.PersonalityOverride, 60)))
			fmt.Fprintf(w, "Primary key\t%s\n", yesNo(cfg.EncryptedPrimaryKey != ""))
			fmt.Fprintf(w, "Backup key\t%s\n", yesNo(cfg.EncryptedBackupKey != ""))
			if !cfg.UpdatedAt.IsZero() {
				fmt.Fprintf(w, "Updated\t%s\n", cfg.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
}

func newServerRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <server-id>",
		Short: "Delete a server's settings and every member's memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, cmd, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			err = rt.store.DeleteServer(ctx, args[0])
			if errors.Is(err, memory.ErrServerNotFound) {
				return fmt.Errorf("server %s is not configured", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed server %s.\n", args[0])
			return nil
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "set"
	}
	return "not set"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
