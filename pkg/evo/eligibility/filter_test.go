package eligibility

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/evo/pkg/evo/channels"
	"github.com/jholhewres/evo/pkg/evo/memory"
	"github.com/jholhewres/evo/pkg/evo/memory/memorytest"
)

func TestEvaluate_TruthTable(t *testing.T) {
	for mask := 0; mask < 32; mask++ {
		isReply := mask&1 != 0
		isMentioned := mask&2 != 0
		nameInText := mask&4 != 0
		mismatched := mask&8 != 0
		configExists := mask&16 != 0

		in := Input{
			GuildID:           "g1",
			ChannelID:         "456",
			ConfigExists:      configExists,
			BotName:           "Evo",
			DesignatedChannel: memory.AllChannels,
			IsReplyToAgent:    isReply,
			IsAgentMentioned:  isMentioned,
			Text:              "just chatting",
		}
		if nameInText {
			in.Text = "hey EVO what's up"
		}
		if mismatched {
			in.DesignatedChannel = "123"
		}

		var want Reason
		switch {
		case !configExists:
			want = RejectNotConfigd
		case !(isReply || isMentioned || nameInText):
			want = RejectNotAddress
		case mismatched:
			want = RejectWrongChan
		default:
			want = Accepted
		}

		t.Run(fmt.Sprintf("reply=%t mention=%t name=%t mismatch=%t config=%t",
			isReply, isMentioned, nameInText, mismatched, configExists), func(t *testing.T) {
			got := Evaluate(in)
			assert.Equal(t, want, got.Reason)
			assert.Equal(t, want == Accepted, got.Accept())
		})
	}
}

func TestEvaluate_SelfAndDirect(t *testing.T) {
	assert.Equal(t, RejectSelf, Evaluate(Input{AuthorIsAgent: true, GuildID: "g", ConfigExists: true, IsAgentMentioned: true}).Reason)
	assert.Equal(t, RejectDirect, Evaluate(Input{ConfigExists: true, IsAgentMentioned: true}).Reason)
}

func TestEvaluate_Scenarios(t *testing.T) {
	base := Input{
		GuildID:           "g1",
		ChannelID:         "any-channel",
		ConfigExists:      true,
		BotName:           "Evo",
		DesignatedChannel: "all",
		Text:              "hey evo how are you",
	}
	d := Evaluate(base)
	assert.True(t, d.Accept())
	assert.True(t, d.Addressed, "addressed via name match")

	restricted := base
	restricted.DesignatedChannel = "123"
	restricted.ChannelID = "456"
	d = Evaluate(restricted)
	assert.Equal(t, RejectWrongChan, d.Reason)
	assert.True(t, d.Addressed, "rejected even though addressed")

	unset := base
	unset.DesignatedChannel = ""
	assert.True(t, Evaluate(unset).Accept(), "unset designated channel allows all channels")
}

type fakeSelf struct{}

func (fakeSelf) SelfID() string   { return "bot" }
func (fakeSelf) SelfName() string { return "Evo" }

func newFilter(store ConfigLoader) *Filter {
	return New(store, "Evo", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFilter_UnconfiguredServerReadsNoMemory(t *testing.T) {
	store := memorytest.New()
	f := newFilter(store)

	d, cfg, err := f.Check(context.Background(), &channels.IncomingMessage{
		AuthorID: "u1", GuildID: "g1", ChannelID: "c1", Content: "evo hi", MentionsAgent: true,
	}, fakeSelf{})
	require.NoError(t, err)
	assert.Equal(t, RejectNotConfigd, d.Reason)
	assert.Nil(t, cfg)
	assert.Empty(t, store.MemoryLoads())
}

func TestFilter_UsesServerBotName(t *testing.T) {
	store := memorytest.New()
	store.PutConfig(memory.ServerConfig{ServerID: "g1", BotName: "Nova", DesignatedChannel: "all"})
	f := newFilter(store)

	msg := &channels.IncomingMessage{AuthorID: "u1", GuildID: "g1", ChannelID: "c1", Content: "nova, tell me a joke"}
	d, cfg, err := f.Check(context.Background(), msg, fakeSelf{})
	require.NoError(t, err)
	assert.True(t, d.Accept())
	require.NotNil(t, cfg)
	assert.Equal(t, "Nova", cfg.BotName)

	msg.Content = "evo, tell me a joke"
	d, _, err = f.Check(context.Background(), msg, fakeSelf{})
	require.NoError(t, err)
	assert.Equal(t, RejectNotAddress, d.Reason, "default name no longer applies once renamed")
}

func TestFilter_FallsBackToDefaultName(t *testing.T) {
	store := memorytest.New()
	store.PutConfig(memory.ServerConfig{ServerID: "g1"})
	f := newFilter(store)

	d, _, err := f.Check(context.Background(), &channels.IncomingMessage{
		AuthorID: "u1", GuildID: "g1", ChannelID: "c1", Content: "Evo?",
	}, fakeSelf{})
	require.NoError(t, err)
	assert.True(t, d.Accept())
}

func TestFilter_SelfSkipsStore(t *testing.T) {
	f := newFilter(failingLoader{})
	d, _, err := f.Check(context.Background(), &channels.IncomingMessage{AuthorID: "bot", GuildID: "g1"}, fakeSelf{})
	require.NoError(t, err)
	assert.Equal(t, RejectSelf, d.Reason)
}

func TestFilter_OwnWebhookReplyIgnored(t *testing.T) {
	store := memorytest.New()
	store.PutConfig(memory.ServerConfig{ServerID: "g1", BotName: "Evo", DesignatedChannel: "all", CustomAvatarURL: "https://a.png"})
	f := newFilter(store)

	msg := &channels.IncomingMessage{
		AuthorID:         "w1",
		GuildID:          "g1",
		ChannelID:        "c1",
		Content:          "Hi! I'm Evo, nice to meet you.",
		WebhookID:        "w1",
		FromAgentWebhook: true,
	}
	d, _, err := f.Check(context.Background(), msg, fakeSelf{})
	require.NoError(t, err)
	assert.Equal(t, RejectSelf, d.Reason)

	// Webhooks the agent does not own are ordinary authors.
	msg.FromAgentWebhook = false
	d, _, err = f.Check(context.Background(), msg, fakeSelf{})
	require.NoError(t, err)
	assert.True(t, d.Accept())
}

func TestFilter_StoreError(t *testing.T) {
	f := newFilter(failingLoader{})
	_, _, err := f.Check(context.Background(), &channels.IncomingMessage{AuthorID: "u", GuildID: "g1"}, fakeSelf{})
	assert.Error(t, err)
}

type failingLoader struct{}

func (failingLoader) LoadServerConfig(context.Context, string) (*memory.ServerConfig, error) {
	return nil, errors.New("db down")
}
