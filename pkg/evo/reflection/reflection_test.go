package reflection

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/evo/pkg/evo/channels"
	"github.com/jholhewres/evo/pkg/evo/llm"
	"github.com/jholhewres/evo/pkg/evo/llm/llmtest"
	"github.com/jholhewres/evo/pkg/evo/memory"
	"github.com/jholhewres/evo/pkg/evo/memory/memorytest"
)

func newScheduler(b llm.Backend, store *memorytest.Store) *Scheduler {
	return New(b, store, memory.DirectWriter{Merger: store}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func baseTurn() Turn {
	return Turn{
		ServerID:     "g1",
		AgentID:      "bot",
		SpeakerID:    "alice",
		SpeakerName:  "Alice",
		Message:      "hi evo",
		Exchange:     "User: hi evo\nAI: hello!\n",
		PriorSummary: memory.PlaceholderPersonalSummary,
		Generation:   llm.Result{Text: "hello!", Credential: "k1", Model: "gemini-pro"},
	}
}

func TestSubjects(t *testing.T) {
	mentions := []channels.Mention{
		{UserID: "bob"}, {UserID: "bot"}, {UserID: "alice"}, {UserID: "carol"}, {UserID: "bob"},
	}
	got := Subjects(mentions, "bot", "alice")
	require.Len(t, got, 2)
	assert.Equal(t, "bob", got[0].UserID)
	assert.Equal(t, "carol", got[1].UserID)
}

func TestRun_PersonalSummaryReusesCredential(t *testing.T) {
	store := memorytest.New()
	b := llmtest.New().On("k1", llmtest.Reply{Text: "  Alice likes greetings.  "})

	newScheduler(b, store).Run(context.Background(), baseTurn())

	calls := b.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "k1", calls[0].Credential)
	assert.Equal(t, "gemini-pro", calls[0].Model)
	assert.Contains(t, calls[0].Prompt, "User: hi evo\nAI: hello!\n")

	assert.Equal(t, "Alice likes greetings.", store.Memory("g1", "alice").PersonalSummary)
}

func TestRun_GossipAttachedToSubjects(t *testing.T) {
	store := memorytest.New()
	store.PutMemory("g1", "bob", memory.UserMemory{PersonalSummary: "Bob stuff", GossipSummary: "Bob plays chess."})

	b := llmtest.New().Fallback(func(req llm.Request) (string, error) {
		switch {
		case strings.Contains(req.Prompt, "'Bob'"):
			return "Bob plays chess and jazz.", nil
		case strings.Contains(req.Prompt, "'Carol'"):
			return "Carol is new here.", nil
		default:
			return "Alice talks about friends.", nil
		}
	})

	turn := baseTurn()
	turn.Message = "@Bob loves jazz and @Carol too"
	turn.Mentions = []channels.Mention{
		{UserID: "bob", DisplayName: "Bob"},
		{UserID: "bot", DisplayName: "Evo"},
		{UserID: "carol", DisplayName: "Carol"},
	}
	newScheduler(b, store).Run(context.Background(), turn)

	calls := b.Calls()
	require.Len(t, calls, 3, "one personal job and two gossip jobs")
	assert.Contains(t, calls[1].Prompt, "Bob plays chess.", "gossip prompt carries the subject's old gossip")
	assert.Contains(t, calls[2].Prompt, memory.PlaceholderGossipSummary)

	assert.Equal(t, "Bob plays chess and jazz.", store.Memory("g1", "bob").GossipSummary)
	assert.Equal(t, "Bob stuff", store.Memory("g1", "bob").PersonalSummary)
	assert.Equal(t, "Carol is new here.", store.Memory("g1", "carol").GossipSummary)
	assert.Equal(t, memory.PlaceholderGossipSummary, store.Memory("g1", "alice").GossipSummary,
		"gossip lives on the subject, not the speaker")

	var order []string
	for _, m := range store.Merges() {
		order = append(order, m.UserID)
	}
	assert.Equal(t, []string{"alice", "bob", "carol"}, order)
}

func TestRun_FailureLeavesSummaryUntouched(t *testing.T) {
	store := memorytest.New()
	store.PutMemory("g1", "alice", memory.UserMemory{PersonalSummary: "Known facts."})
	store.PutMemory("g1", "bob", memory.UserMemory{GossipSummary: "Old gossip."})

	b := llmtest.New().Fallback(func(req llm.Request) (string, error) {
		if strings.Contains(req.Prompt, "'Bob'") {
			return "   ", nil
		}
		return "", errors.New("quota")
	})

	turn := baseTurn()
	turn.PriorSummary = "Known facts."
	turn.Mentions = []channels.Mention{{UserID: "bob", DisplayName: "Bob"}}
	newScheduler(b, store).Run(context.Background(), turn)

	assert.Empty(t, store.Merges())
	assert.Equal(t, "Known facts.", store.Memory("g1", "alice").PersonalSummary)
	assert.Equal(t, "Old gossip.", store.Memory("g1", "bob").GossipSummary)
}

func TestRun_WriteFailureIsLogged(t *testing.T) {
	store := memorytest.New()
	store.MergeErr = errors.New("disk full")
	b := llmtest.New().On("k1", llmtest.Reply{Text: "summary"})

	assert.NotPanics(t, func() {
		newScheduler(b, store).Run(context.Background(), baseTurn())
	})
}
