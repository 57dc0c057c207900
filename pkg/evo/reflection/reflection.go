// Package reflection keeps long-term summaries up to date. After every
// answered message it asks the model to revise the speaker's personal
// summary, then the gossip summary of each user the speaker mentioned.
//
// Jobs are best-effort: a failed job is logged and the stored summary is
// left exactly as it was.
package reflection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jholhewres/evo/pkg/evo/channels"
	"github.com/jholhewres/evo/pkg/evo/llm"
	"github.com/jholhewres/evo/pkg/evo/memory"
	"github.com/jholhewres/evo/pkg/evo/prompt"
)

// ErrEmptySummary is returned when the model answers with blank text.
var ErrEmptySummary = errors.New("reflection: model returned an empty summary")

// MemoryReader loads the current record of a user.
type MemoryReader interface {
	LoadUserMemory(ctx context.Context, serverID, userID string) memory.UserMemory
}

// Turn is a completed exchange that reflection learns from.
type Turn struct {
	ServerID string
	AgentID  string

	SpeakerID   string
	SpeakerName string

	// Message is what the speaker said, mention-stripped.
	Message string

	// Exchange is the history entry appended for this turn.
	Exchange string

	// PriorSummary is the speaker's personal summary before this turn.
	PriorSummary string

	Mentions []channels.Mention

	// Generation is the successful result of the turn. Reflection reuses
	// its credential and model.
	Generation llm.Result
}

// Scheduler runs reflection jobs for completed turns.
type Scheduler struct {
	backend llm.Backend
	reader  MemoryReader
	writer  memory.Writer
	logger  *slog.Logger
}

// New creates a scheduler. Summaries are read through reader and written
// through writer.
func New(backend llm.Backend, reader MemoryReader, writer memory.Writer, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		backend: backend,
		reader:  reader,
		writer:  writer,
		logger:  logger.With("component", "reflection"),
	}
}

// Subjects returns the distinct mentioned users that gossip is collected
// for, in mention order. The agent and the speaker are excluded.
func Subjects(mentions []channels.Mention, agentID, speakerID string) []channels.Mention {
	seen := make(map[string]bool, len(mentions))
	out := make([]channels.Mention, 0, len(mentions))
	for _, m := range mentions {
		if m.UserID == "" || m.UserID == agentID || m.UserID == speakerID || seen[m.UserID] {
			continue
		}
		seen[m.UserID] = true
		out = append(out, m)
	}
	return out
}

// Run executes the personal job, then one gossip job per subject, one
// after another. It never returns an error.
func (s *Scheduler) Run(ctx context.Context, turn Turn) {
	logger := s.logger.With("guild_id", turn.ServerID, "user_id", turn.SpeakerID)

	if err := s.updatePersonal(ctx, turn); err != nil {
		logger.Warn("personal summary not updated", "error", err)
	} else {
		logger.Debug("personal summary updated")
	}

	for _, subject := range Subjects(turn.Mentions, turn.AgentID, turn.SpeakerID) {
		if err := s.updateGossip(ctx, turn, subject); err != nil {
			logger.Warn("gossip summary not updated", "subject_id", subject.UserID, "error", err)
			continue
		}
		logger.Debug("gossip summary updated", "subject_id", subject.UserID)
	}
}

func (s *Scheduler) updatePersonal(ctx context.Context, turn Turn) error {
	p := prompt.PersonalReflection(turn.SpeakerName, turn.Exchange, turn.PriorSummary)
	summary, err := s.generate(ctx, turn, p)
	if err != nil {
		return err
	}
	return s.writer.Enqueue(ctx, turn.ServerID, turn.SpeakerID, memory.PersonalSummaryPatch(summary))
}

func (s *Scheduler) updateGossip(ctx context.Context, turn Turn, subject channels.Mention) error {
	current := s.reader.LoadUserMemory(ctx, turn.ServerID, subject.UserID)

	name := subject.DisplayName
	if name == "" {
		name = subject.UserID
	}
	p := prompt.GossipReflection(turn.SpeakerName, name, turn.Message, current.GossipSummary)
	summary, err := s.generate(ctx, turn, p)
	if err != nil {
		return err
	}
	return s.writer.Enqueue(ctx, turn.ServerID, subject.UserID, memory.GossipSummaryPatch(summary))
}

func (s *Scheduler) generate(ctx context.Context, turn Turn, p string) (string, error) {
	text, err := s.backend.Generate(ctx, llm.Request{
		Model:      turn.Generation.Model,
		Prompt:     p,
		Credential: turn.Generation.Credential,
	})
	if err != nil {
		return "", fmt.Errorf("reflection: generating: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptySummary
	}
	return text, nil
}
