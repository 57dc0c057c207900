package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/evo/pkg/evo/channels"
	"github.com/jholhewres/evo/pkg/evo/eligibility"
	"github.com/jholhewres/evo/pkg/evo/llm"
	"github.com/jholhewres/evo/pkg/evo/llm/llmtest"
	"github.com/jholhewres/evo/pkg/evo/memory"
	"github.com/jholhewres/evo/pkg/evo/memory/memorytest"
	"github.com/jholhewres/evo/pkg/evo/persona"
	"github.com/jholhewres/evo/pkg/evo/reflection"
)

type fakePlatform struct {
	mu      sync.Mutex
	replies []string
	typing  int
}

func (f *fakePlatform) SelfID() string   { return "bot" }
func (f *fakePlatform) SelfName() string { return "Evo" }

func (f *fakePlatform) Reply(_ context.Context, _ *channels.IncomingMessage, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, content)
	return nil
}

func (f *fakePlatform) SendTyping(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing++
	return nil
}

func (f *fakePlatform) Replies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.replies...)
}

type fakeDeliverer struct {
	mu        sync.Mutex
	delivered []string
	err       error
	panicMsg  string
}

func (d *fakeDeliverer) Deliver(_ context.Context, _ *channels.IncomingMessage, _ *memory.ServerConfig, text string) error {
	if d.panicMsg != "" {
		panic(d.panicMsg)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.delivered = append(d.delivered, text)
	return nil
}

type fakeNicknames struct {
	mu     sync.Mutex
	guilds []string
}

func (n *fakeNicknames) Reconcile(_ context.Context, guildID string, _ *memory.ServerConfig) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.guilds = append(n.guilds, guildID)
	return false, nil
}

// prefixDecrypter "decrypts" values of the form "enc:<plain>".
type prefixDecrypter struct{}

func (prefixDecrypter) Decrypt(s string) string {
	if !strings.HasPrefix(s, "enc:") {
		return ""
	}
	return strings.TrimPrefix(s, "enc:")
}

type harness struct {
	store     *memorytest.Store
	backend   *llmtest.Backend
	platform  *fakePlatform
	deliverer *fakeDeliverer
	nicknames *fakeNicknames
	pipeline  *Pipeline
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		store:     memorytest.New(),
		backend:   llmtest.New(),
		platform:  &fakePlatform{},
		deliverer: &fakeDeliverer{},
		nicknames: &fakeNicknames{},
	}
	writer := memory.DirectWriter{Merger: h.store}
	def := persona.New("Evo", "You are a friendly companion.", []string{"Be brief."})

	h.pipeline = New(Deps{
		Platform:  h.platform,
		Filter:    eligibility.New(h.store, def.Name, logger),
		Memory:    h.store,
		Writer:    writer,
		Decrypter: prefixDecrypter{},
		Engine:    llm.NewEngine(h.backend, logger),
		Deliverer: h.deliverer,
		Reflector: reflection.New(h.backend, h.store, writer, logger),
		Nicknames: h.nicknames,
		Persona:   def,
		Logger:    logger,
	})
	return h
}

func (h *harness) configure(cfg memory.ServerConfig) {
	if cfg.ServerID == "" {
		cfg.ServerID = "g1"
	}
	h.store.PutConfig(cfg)
}

func message(text string) *channels.IncomingMessage {
	return &channels.IncomingMessage{
		ID:           "m1",
		AuthorID:     "alice",
		AuthorName:   "Alice",
		GuildID:      "g1",
		ChannelID:    "c1",
		Content:      text,
		CleanContent: text,
	}
}

func TestHandle_FirstMessage(t *testing.T) {
	h := newHarness(t)
	h.configure(memory.ServerConfig{DesignatedChannel: "all", EncryptedPrimaryKey: "enc:k1", AIModel: "gemini-pro"})
	h.backend.Fallback(func(req llm.Request) (string, error) {
		if strings.HasPrefix(req.Prompt, "You are a memory assistant") {
			return "Alice said hi.", nil
		}
		return "AI: Hello Alice!", nil
	})

	h.pipeline.Handle(context.Background(), message("hey evo how are you"))

	assert.Equal(t, []string{"Hello Alice!"}, h.deliverer.delivered, "normalized reply delivered")
	assert.Empty(t, h.platform.Replies())

	mem := h.store.Memory("g1", "alice")
	require.Len(t, mem.ConversationHistory, 1)
	assert.Equal(t, "User: hey evo how are you\nAI: AI: Hello Alice!\n", mem.ConversationHistory[0],
		"history keeps the raw reply")
	assert.Equal(t, "Alice said hi.", mem.PersonalSummary)

	calls := h.backend.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "You are Evo.\nYou are a friendly companion.\n\nBe brief.", calls[0].SystemInstruction)
	assert.Contains(t, calls[0].Prompt, memory.PlaceholderPersonalSummary)
	assert.Contains(t, calls[1].Prompt, mem.ConversationHistory[0], "personal reflection receives the exchange")
	assert.Equal(t, "k1", calls[1].Credential)

	assert.Equal(t, []string{"g1"}, h.nicknames.guilds)
	assert.Equal(t, 1, h.platform.typing)
}

func TestHandle_GossipForEachMention(t *testing.T) {
	h := newHarness(t)
	h.configure(memory.ServerConfig{EncryptedPrimaryKey: "enc:k1"})
	h.backend.Fallback(func(req llm.Request) (string, error) {
		switch {
		case strings.Contains(req.Prompt, "summary for 'Bob'"):
			return "Bob is a great cook.", nil
		case strings.Contains(req.Prompt, "summary for 'Carol'"):
			return "Carol runs marathons.", nil
		case strings.HasPrefix(req.Prompt, "You are a memory assistant"):
			return "Alice has friends.", nil
		}
		return "Nice!", nil
	})

	msg := message("evo, @Bob cooks and @Carol runs")
	msg.Mentions = []channels.Mention{
		{UserID: "bob", DisplayName: "Bob"},
		{UserID: "carol", DisplayName: "Carol"},
	}
	h.pipeline.Handle(context.Background(), msg)

	assert.Len(t, h.backend.Calls(), 4, "reply, personal, two gossip jobs")
	assert.Equal(t, "Bob is a great cook.", h.store.Memory("g1", "bob").GossipSummary)
	assert.Equal(t, "Carol runs marathons.", h.store.Memory("g1", "carol").GossipSummary)
	assert.Equal(t, memory.PlaceholderGossipSummary, h.store.Memory("g1", "alice").GossipSummary)
}

func TestHandle_NoCredentials(t *testing.T) {
	h := newHarness(t)
	h.configure(memory.ServerConfig{EncryptedPrimaryKey: "", EncryptedBackupKey: "undecryptable"})

	h.pipeline.Handle(context.Background(), message("evo?"))

	assert.Equal(t, []string{ApologyNoCredential}, h.platform.Replies())
	assert.Empty(t, h.backend.Calls())
	assert.Empty(t, h.store.Merges(), "no history or reflection update")
	assert.Empty(t, h.deliverer.delivered)
	assert.Empty(t, h.nicknames.guilds)
}

func TestHandle_AllCredentialsFail(t *testing.T) {
	h := newHarness(t)
	h.configure(memory.ServerConfig{EncryptedPrimaryKey: "enc:k1", EncryptedBackupKey: "enc:k2"})
	h.backend.
		On("k1", llmtest.Reply{Err: errors.New("401")}).
		On("k2", llmtest.Reply{Err: errors.New("429")})

	h.pipeline.Handle(context.Background(), message("evo?"))

	assert.Equal(t, []string{ApologyNoCredential}, h.platform.Replies())
	assert.Len(t, h.backend.Calls(), 2)
	assert.Empty(t, h.store.Merges())
}

func TestHandle_BackupCredential(t *testing.T) {
	h := newHarness(t)
	h.configure(memory.ServerConfig{EncryptedPrimaryKey: "enc:k1", EncryptedBackupKey: "enc:k2"})
	h.backend.
		On("k1", llmtest.Reply{Err: errors.New("quota")}).
		On("k2", llmtest.Reply{Text: "from backup"})

	h.pipeline.Handle(context.Background(), message("evo?"))

	assert.Equal(t, []string{"from backup"}, h.deliverer.delivered)
	calls := h.backend.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "k2", calls[2].Credential, "reflection reuses the working credential")
}

func TestHandle_BlankReplyTriesBackup(t *testing.T) {
	h := newHarness(t)
	h.configure(memory.ServerConfig{EncryptedPrimaryKey: "enc:k1", EncryptedBackupKey: "enc:k2"})
	h.backend.
		On("k1", llmtest.Reply{Text: "  \n "}).
		On("k2", llmtest.Reply{Text: "Hi there"})

	h.pipeline.Handle(context.Background(), message("evo?"))

	assert.Equal(t, []string{"Hi there"}, h.deliverer.delivered)
	assert.Empty(t, h.platform.Replies())
	calls := h.backend.Calls()
	require.GreaterOrEqual(t, len(calls), 2)
	assert.Equal(t, "k2", calls[1].Credential)
}

func TestHandle_OwnWebhookReplyIgnored(t *testing.T) {
	h := newHarness(t)
	h.configure(memory.ServerConfig{EncryptedPrimaryKey: "enc:k1", CustomAvatarURL: "https://a.png"})
	h.backend.On("k1", llmtest.Reply{Text: "Evo here again!"})

	echo := message("Hi! I'm Evo, nice to meet you.")
	echo.AuthorID = "w1"
	echo.WebhookID = "w1"
	echo.FromAgentWebhook = true
	h.pipeline.Handle(context.Background(), echo)

	assert.Empty(t, h.backend.Calls())
	assert.Empty(t, h.deliverer.delivered)
	assert.Empty(t, h.platform.Replies())
}

type panickingLoader struct{}

func (panickingLoader) LoadServerConfig(context.Context, string) (*memory.ServerConfig, error) {
	panic("store driver panic")
}

func TestHandle_PanicBeforeAcceptIsContained(t *testing.T) {
	h := newHarness(t)
	h.pipeline.filter = eligibility.New(panickingLoader{}, "Evo", slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.NotPanics(t, func() {
		h.pipeline.Handle(context.Background(), message("evo?"))
	})
	assert.Empty(t, h.platform.Replies(), "nothing is said in servers that were never accepted")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, h.pipeline.Wait(ctx))
}

func TestHandle_DeliveryFailureApologizes(t *testing.T) {
	h := newHarness(t)
	h.configure(memory.ServerConfig{EncryptedPrimaryKey: "enc:k1"})
	h.backend.On("k1", llmtest.Reply{Text: "hello"})
	h.deliverer.err = errors.New("missing access")

	h.pipeline.Handle(context.Background(), message("evo?"))

	assert.Equal(t, []string{ApologyGeneric}, h.platform.Replies())
	assert.Empty(t, h.store.Merges())
}

func TestHandle_PanicApologizesOnce(t *testing.T) {
	h := newHarness(t)
	h.configure(memory.ServerConfig{EncryptedPrimaryKey: "enc:k1"})
	h.backend.On("k1", llmtest.Reply{Text: "hello"})
	h.deliverer.panicMsg = "boom"

	assert.NotPanics(t, func() {
		h.pipeline.Handle(context.Background(), message("evo?"))
	})
	assert.Equal(t, []string{ApologyGeneric}, h.platform.Replies())
}

func TestHandle_IgnoredMessages(t *testing.T) {
	h := newHarness(t)
	h.backend.Fallback(func(llm.Request) (string, error) { return "x", nil })

	h.pipeline.Handle(context.Background(), message("evo?"))
	assert.Empty(t, h.store.MemoryLoads(), "unconfigured server reads no memory")

	h.configure(memory.ServerConfig{EncryptedPrimaryKey: "enc:k1", DesignatedChannel: "123"})
	h.pipeline.Handle(context.Background(), message("evo?"))
	h.pipeline.Handle(context.Background(), message("nobody addressed"))

	self := message("evo?")
	self.AuthorID = "bot"
	h.pipeline.Handle(context.Background(), self)

	dm := message("evo?")
	dm.GuildID = ""
	h.pipeline.Handle(context.Background(), dm)

	assert.Empty(t, h.backend.Calls())
	assert.Empty(t, h.platform.Replies())
	assert.Zero(t, h.platform.typing)
}

func TestHandle_HistoryCappedAtTen(t *testing.T) {
	h := newHarness(t)
	h.configure(memory.ServerConfig{EncryptedPrimaryKey: "enc:k1"})
	h.backend.On("k1", llmtest.Reply{Text: "ok"})

	for i := 0; i < 12; i++ {
		h.pipeline.Handle(context.Background(), message("evo "+strings.Repeat("!", i)))
	}

	hist := h.store.Memory("g1", "alice").ConversationHistory
	require.Len(t, hist, memory.MaxHistoryEntries)
	assert.Equal(t, "User: evo "+strings.Repeat("!", 11)+"\nAI: ok\n", hist[9])
	assert.Equal(t, "User: evo "+strings.Repeat("!", 2)+"\nAI: ok\n", hist[0])
}

func TestHandle_UsesDefaultModel(t *testing.T) {
	h := newHarness(t)
	h.configure(memory.ServerConfig{EncryptedPrimaryKey: "enc:k1"})
	h.backend.On("k1", llmtest.Reply{Text: "ok"})

	h.pipeline.Handle(context.Background(), message("evo"))
	assert.Equal(t, llm.DefaultModel, h.backend.Calls()[0].Model)
}

func TestGo_WaitCoversQueuedMessages(t *testing.T) {
	h := newHarness(t)
	h.configure(memory.ServerConfig{EncryptedPrimaryKey: "enc:k1"})
	h.backend.On("k1", llmtest.Reply{Text: "ok"})

	for i := 0; i < 5; i++ {
		h.pipeline.Go(context.Background(), message("evo?"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.pipeline.Wait(ctx))

	h.deliverer.mu.Lock()
	defer h.deliverer.mu.Unlock()
	assert.Len(t, h.deliverer.delivered, 5)
}

func TestWait(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, h.pipeline.Wait(ctx))
}
