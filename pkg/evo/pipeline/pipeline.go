// Package pipeline handles one incoming message from start to finish:
// eligibility, memory, prompt, generation with credential fallback,
// delivery, history, reflection and nickname upkeep.
//
// Messages are independent. Two messages from the same user may be
// handled at once; both read the same history and the later merge wins.
// That lost update is accepted in exchange for not locking per user.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jholhewres/evo/pkg/evo/channels"
	"github.com/jholhewres/evo/pkg/evo/credentials"
	"github.com/jholhewres/evo/pkg/evo/eligibility"
	"github.com/jholhewres/evo/pkg/evo/llm"
	"github.com/jholhewres/evo/pkg/evo/memory"
	"github.com/jholhewres/evo/pkg/evo/persona"
	"github.com/jholhewres/evo/pkg/evo/prompt"
	"github.com/jholhewres/evo/pkg/evo/reflection"
)

// User-visible apologies.
const (
	ApologyNoCredential = "I'm having trouble connecting to my brain right now. Please check my API key configuration on the website."
	ApologyGeneric      = "Something went very wrong while I was thinking. My apologies!"
)

// Platform is what the pipeline needs from the chat platform directly.
type Platform interface {
	channels.Identity
	channels.Messenger
}

// Deliverer sends the normalized reply.
type Deliverer interface {
	Deliver(ctx context.Context, msg *channels.IncomingMessage, cfg *memory.ServerConfig, text string) error
}

// Reflector updates summaries after a successful turn.
type Reflector interface {
	Run(ctx context.Context, turn reflection.Turn)
}

// NicknameReconciler keeps the agent's nickname in sync.
type NicknameReconciler interface {
	Reconcile(ctx context.Context, guildID string, cfg *memory.ServerConfig) (bool, error)
}

// Deps wires the pipeline's collaborators.
type Deps struct {
	Platform  Platform
	Filter    *eligibility.Filter
	Memory    memory.Store
	Writer    memory.Writer
	Decrypter credentials.Decrypter
	Engine    *llm.Engine
	Deliverer Deliverer
	Reflector Reflector
	Nicknames NicknameReconciler
	Persona   persona.Personality
	Model     string
	Logger    *slog.Logger
}

// Pipeline is the message handler.
type Pipeline struct {
	platform     Platform
	filter       *eligibility.Filter
	store        memory.Store
	writer       memory.Writer
	decrypter    credentials.Decrypter
	engine       *llm.Engine
	deliverer    Deliverer
	reflector    Reflector
	nicknames    NicknameReconciler
	persona      persona.Personality
	defaultModel string
	logger       *slog.Logger

	inflight sync.WaitGroup
}

// New creates a pipeline. Reflector and Nicknames are optional.
func New(d Deps) *Pipeline {
	model := d.Model
	if model == "" {
		model = llm.DefaultModel
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		platform:     d.Platform,
		filter:       d.Filter,
		store:        d.Memory,
		writer:       d.Writer,
		decrypter:    d.Decrypter,
		engine:       d.Engine,
		deliverer:    d.Deliverer,
		reflector:    d.Reflector,
		nicknames:    d.Nicknames,
		persona:      d.Persona,
		defaultModel: model,
		logger:       logger.With("component", "pipeline"),
	}
}

// Handle processes one message. It never panics and never returns an
// error; failures are logged and, past eligibility, answered with a single
// apology.
func (p *Pipeline) Handle(ctx context.Context, msg *channels.IncomingMessage) {
	p.inflight.Add(1)
	defer p.inflight.Done()
	p.handle(ctx, msg)
}

// Go handles msg in a new goroutine. The message counts as in flight
// before Go returns, so a following Wait covers it.
func (p *Pipeline) Go(ctx context.Context, msg *channels.IncomingMessage) {
	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		p.handle(ctx, msg)
	}()
}

func (p *Pipeline) handle(ctx context.Context, msg *channels.IncomingMessage) {
	logger := p.logger.With(
		"trace_id", uuid.NewString(),
		"guild_id", msg.GuildID,
		"channel_id", msg.ChannelID,
		"user_id", msg.AuthorID,
		"msg_id", msg.ID,
	)

	// Only accepted messages are answered, including with an apology.
	accepted := false
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while handling message", "panic", r, "accepted", accepted, "stack", string(debug.Stack()))
			if accepted {
				p.apologize(ctx, logger, msg, ApologyGeneric)
			}
		}
	}()

	decision, cfg, err := p.filter.Check(ctx, msg, p.platform)
	if err != nil {
		logger.Error("eligibility check failed", "error", err)
		return
	}
	if !decision.Accept() {
		return
	}
	accepted = true

	if err := p.platform.SendTyping(ctx, msg.ChannelID); err != nil {
		logger.Debug("typing indicator failed", "error", err)
	}

	if err := p.respond(ctx, logger, msg, cfg); err != nil {
		logger.Error("handling message failed", "error", err)
		p.apologize(ctx, logger, msg, ApologyGeneric)
	}
}

// Wait blocks until every in-flight Handle call returns or ctx expires.
func (p *Pipeline) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ModelFor returns the model a server generates with.
func (p *Pipeline) ModelFor(cfg *memory.ServerConfig) string {
	if cfg != nil && strings.TrimSpace(cfg.AIModel) != "" {
		return cfg.AIModel
	}
	return p.defaultModel
}

func (p *Pipeline) respond(ctx context.Context, logger *slog.Logger, msg *channels.IncomingMessage, cfg *memory.ServerConfig) error {
	mem := p.store.LoadUserMemory(ctx, msg.GuildID, msg.AuthorID)
	text := msg.Text()

	sys := prompt.SystemInstruction(cfg, p.persona)
	userPrompt := prompt.UserPrompt(mem, msg.AuthorName, text)

	creds := credentials.Resolve(p.decrypter, cfg.EncryptedPrimaryKey, cfg.EncryptedBackupKey)
	model := p.ModelFor(cfg)

	result, err := p.engine.Generate(ctx, creds, model, sys, userPrompt)
	if errors.Is(err, llm.ErrNoUsableCredential) {
		logger.Warn("no usable credential", "credentials", len(creds), "model", model)
		if err := p.platform.Reply(ctx, msg, ApologyNoCredential); err != nil {
			logger.Error("apology reply failed", "error", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("generating reply: %w", err)
	}

	reply := llm.Normalize(result.Text)

	if err := p.deliverer.Deliver(ctx, msg, cfg, reply); err != nil {
		return err
	}

	exchange := memory.FormatExchange(text, result.Text)
	history := memory.AppendHistory(mem.ConversationHistory, exchange)
	if err := p.writer.Enqueue(ctx, msg.GuildID, msg.AuthorID, memory.HistoryPatch(history)); err != nil {
		logger.Error("history write not queued", "error", err)
	}

	if p.reflector != nil {
		p.reflector.Run(ctx, reflection.Turn{
			ServerID:     msg.GuildID,
			AgentID:      p.platform.SelfID(),
			SpeakerID:    msg.AuthorID,
			SpeakerName:  msg.AuthorName,
			Message:      text,
			Exchange:     exchange,
			PriorSummary: mem.PersonalSummary,
			Mentions:     msg.Mentions,
			Generation:   result,
		})
	}

	if p.nicknames != nil {
		if _, err := p.nicknames.Reconcile(ctx, msg.GuildID, cfg); err != nil {
			logger.Warn("nickname reconcile failed", "error", err)
		}
	}

	logger.Info("message answered", "model", result.Model, "reply_len", len(reply), "history", len(history))
	return nil
}

func (p *Pipeline) apologize(ctx context.Context, logger *slog.Logger, msg *channels.IncomingMessage, text string) {
	if err := p.platform.Reply(ctx, msg, text); err != nil {
		logger.Error("apology reply failed", "error", err)
	}
}
