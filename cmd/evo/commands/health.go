package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/evo/pkg/evo/database"
	"github.com/jholhewres/evo/pkg/evo/persona"
	"github.com/jholhewres/evo/pkg/evo/security"
)

// newHealthCmd creates `evo health`, a preflight check of everything
// `evo serve` needs.
func newHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check configuration, secrets, database and gateway",
		Args:  cobra.NoArgs,
		RunE:  runHealth,
	}
	cmd.Flags().Bool("json", false, "output as JSON")
	return cmd
}

type healthCheck struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

func runHealth(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	var checks []healthCheck
	add := func(name string, err error, detail string) {
		c := healthCheck{Name: name, OK: err == nil, Detail: detail}
		if err != nil {
			c.Detail = err.Error()
		}
		checks = append(checks, c)
	}

	cfg, path, err := resolveConfig(cmd)
	if err != nil {
		add("config", err, "")
		return printHealth(cmd, checks)
	}
	add("config", nil, orDefault(path, "defaults"))
	logger := newLogger(cmd, cfg)

	p, err := persona.Load(cfg.PersonalityFile)
	add("personality", err, p.Name)

	_, source := security.ResolveSecret(security.SecretBotToken, cfg.Discord.Token)
	add("discord token", missing(source, security.SecretBotToken), source)

	_, err = newCipher(cfg, logger)
	_, source = security.ResolveSecret(security.SecretEncryptionKey, cfg.EncryptionKey)
	add("encryption key", err, source)

	detail := string(cfg.Database.Backend)
	db, err := database.Open(ctx, cfg.Database, logger)
	if err == nil {
		if err = db.Health.Ping(ctx); err == nil {
			detail = databaseDetail(detail, db.Health.Status(ctx))
		}
		db.Close()
	}
	add("database", err, detail)

	if cfg.Gateway.Enabled {
		add("gateway", probeGateway(ctx, cfg.Gateway.Address), cfg.Gateway.Address)
	}

	return printHealth(cmd, checks)
}

func printHealth(cmd *cobra.Command, checks []healthCheck) error {
	failed := 0
	for _, c := range checks {
		if !c.OK {
			failed++
		}
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(checks); err != nil {
			return err
		}
	} else {
		for _, c := range checks {
			mark := "ok  "
			if !c.OK {
				mark = "FAIL"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %-15s %s\n", mark, c.Name, c.Detail)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}

// databaseDetail appends the server version and open connections from a
// health status to the backend name.
func databaseDetail(backend string, status map[string]any) string {
	detail := backend
	if v, ok := status["version"].(string); ok && v != "" {
		detail += " " + v
	}
	if n, ok := status["open_conns"].(int); ok {
		detail += fmt.Sprintf(" (%d open)", n)
	}
	return detail
}

// probeGateway calls /health on a running gateway.
func probeGateway(ctx context.Context, address string) error {
	host := address
	if strings.HasPrefix(host, ":") {
		host = "127.0.0.1" + host
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+host+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("not reachable (is 'evo serve' running?): %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func missing(source, name string) error {
	if source == "" {
		return fmt.Errorf("%s not set", name)
	}
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
