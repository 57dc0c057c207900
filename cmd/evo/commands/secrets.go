package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jholhewres/evo/pkg/evo/security"
)

var knownSecrets = []string{
	security.SecretBotToken,
	security.SecretEncryptionKey,
	security.SecretGatewayToken,
}

// newSecretsCmd creates `evo secrets`, which keeps process secrets in the
// OS keyring instead of config files.
func newSecretsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Store process secrets in the OS keyring",
		Long: `Manage the secrets Evo needs to run. Environment variables take
precedence over the keyring, and the keyring over config.yaml.

Known secrets: ` + strings.Join(knownSecrets, ", "),
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <name>",
			Short: "Prompt for a secret and store it in the keyring",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				name, err := secretName(args[0])
				if err != nil {
					return err
				}
				value, err := security.ReadSecret(name + ": ")
				if err != nil {
					return err
				}
				if value == "" {
					return fmt.Errorf("empty value, nothing stored")
				}
				if err := security.StoreKeyring(name, value); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stored %s in the OS keyring.\n", name)
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <name>",
			Short: "Remove a secret from the keyring",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				name, err := secretName(args[0])
				if err != nil {
					return err
				}
				if err := security.DeleteKeyring(name); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s.\n", name)
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show where each secret resolves from",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, _, err := resolveConfig(cmd)
				if err != nil {
					return err
				}
				fallback := map[string]string{
					security.SecretBotToken:      cfg.Discord.Token,
					security.SecretEncryptionKey: cfg.EncryptionKey,
					security.SecretGatewayToken:  cfg.Gateway.AuthToken,
				}
				for _, name := range knownSecrets {
					_, source := security.ResolveSecret(name, fallback[name])
					fmt.Fprintf(cmd.OutOrStdout(), "%-20s %s\n", name, orDash(source))
				}
				return nil
			},
		},
	)
	return cmd
}

func secretName(arg string) (string, error) {
	name := strings.ToUpper(strings.TrimSpace(arg))
	for _, known := range knownSecrets {
		if name == known {
			return name, nil
		}
	}
	return "", fmt.Errorf("unknown secret %q (known: %s)", arg, strings.Join(knownSecrets, ", "))
}

// newEncryptCmd creates `evo encrypt`, which prints the stored form of an
// API key for operators who write ServerConfig rows by hand.
func newEncryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt an API key with the process encryption key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			c, err := newCipher(cfg, newLogger(cmd, cfg))
			if err != nil {
				return err
			}
			plain, err := security.ReadSecret("API key: ")
			if err != nil {
				return err
			}
			enc, err := c.Encrypt(plain)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), enc)
			return nil
		},
	}
}
