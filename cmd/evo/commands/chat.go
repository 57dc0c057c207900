package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/jholhewres/evo/pkg/evo/channels/console"
	"github.com/jholhewres/evo/pkg/evo/memory"
)

// newChatCmd creates `evo chat`, a local REPL that runs messages through
// the same pipeline Discord uses.
func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to a server's persona from the terminal",
		Long: `Send messages to Evo as if you were a member of a configured server.
Memory, personas, credentials and reflection behave exactly as on Discord.
Words like @123 are treated as mentions of user 123.

Examples:
  evo chat --server 123456789012345678
  evo chat --server 123456789012345678 --user 42 --name Alice "hello!"`,
		Args: cobra.MaximumNArgs(1),
		RunE: runChat,
	}

	cmd.Flags().String("server", "", "server id whose settings and memory to use (required)")
	cmd.Flags().String("user", "console-user", "user id to speak as")
	cmd.Flags().String("name", "", "display name to speak as (default: $USER)")
	_ = cmd.MarkFlagRequired("server")
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rt, err := openRuntime(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	serverID, _ := cmd.Flags().GetString("server")
	userID, _ := cmd.Flags().GetString("user")
	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		name = os.Getenv("USER")
	}
	if name == "" {
		name = "you"
	}

	cfg, err := rt.store.LoadServerConfig(ctx, serverID)
	if err != nil {
		return err
	}
	if cfg == nil {
		return fmt.Errorf("server %s is not configured (run 'evo server set %s')", serverID, serverID)
	}

	if len(args) == 1 {
		return chatOnce(ctx, rt, cmd.OutOrStdout(), serverID, userID, name, args[0])
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          name + "> ",
		HistoryFile:     chatHistoryFile(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("starting prompt: %w", err)
	}
	defer rl.Close()

	con := console.New(rl.Stdout(), serverID, rt.persona.Name)
	ag, err := buildAgent(rt, con, memory.DirectWriter{Merger: rt.store})
	if err != nil {
		return err
	}
	defer ag.delivery.Close()

	fmt.Fprintf(rl.Stdout(), "Talking to %s in server %s. Type /quit to leave.\n", rt.persona.Name, serverID)
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}
		ag.pipeline.Handle(ctx, con.Message(userID, name, line))
		if ctx.Err() != nil {
			return nil
		}
	}
}

// chatOnce handles a single message and exits.
func chatOnce(ctx context.Context, rt *runtime, out io.Writer, serverID, userID, name, text string) error {
	con := console.New(out, serverID, rt.persona.Name)
	ag, err := buildAgent(rt, con, memory.DirectWriter{Merger: rt.store})
	if err != nil {
		return err
	}
	defer ag.delivery.Close()

	ag.pipeline.Handle(ctx, con.Message(userID, name, text))
	return ag.pipeline.Wait(ctx)
}

func chatHistoryFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	dir = filepath.Join(dir, "evo")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return ""
	}
	return filepath.Join(dir, "chat_history")
}
