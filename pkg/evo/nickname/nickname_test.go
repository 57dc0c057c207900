package nickname

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/evo/pkg/evo/channels"
	"github.com/jholhewres/evo/pkg/evo/memory"
	"github.com/jholhewres/evo/pkg/evo/memory/memorytest"
)

type fakeNicks struct {
	mu      sync.Mutex
	nicks   map[string]string
	denied  map[string]bool
	renames []string
}

func (f *fakeNicks) CurrentNickname(_ context.Context, guildID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nicks[guildID], nil
}

func (f *fakeNicks) SetNickname(_ context.Context, guildID, nick string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denied[guildID] {
		return fmt.Errorf("discord: 403: %w", channels.ErrPermissionDenied)
	}
	f.nicks[guildID] = nick
	f.renames = append(f.renames, guildID+"="+nick)
	return nil
}

func (f *fakeNicks) Guilds() []string {
	return []string{"g1", "g2", "g3"}
}

func newReconciler(p *fakeNicks, store ConfigLoader) *Reconciler {
	return New(p, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDesired(t *testing.T) {
	assert.Equal(t, "Evo", Desired(nil))
	assert.Equal(t, "Evo", Desired(&memory.ServerConfig{}))
	assert.Equal(t, "Nova", Desired(&memory.ServerConfig{BotName: "Nova"}))
}

func TestReconcile(t *testing.T) {
	p := &fakeNicks{nicks: map[string]string{"g1": "Evo"}}
	r := newReconciler(p, memorytest.New())

	renamed, err := r.Reconcile(context.Background(), "g1", &memory.ServerConfig{BotName: "Evo"})
	require.NoError(t, err)
	assert.False(t, renamed)

	renamed, err = r.Reconcile(context.Background(), "g1", &memory.ServerConfig{BotName: "Nova"})
	require.NoError(t, err)
	assert.True(t, renamed)
	assert.Equal(t, "Nova", p.nicks["g1"])
}

func TestReconcile_PermissionDeniedIsSwallowed(t *testing.T) {
	p := &fakeNicks{nicks: map[string]string{}, denied: map[string]bool{"g1": true}}
	r := newReconciler(p, memorytest.New())

	renamed, err := r.Reconcile(context.Background(), "g1", &memory.ServerConfig{BotName: "Nova"})
	assert.NoError(t, err)
	assert.False(t, renamed)
}

func TestReconcileAll(t *testing.T) {
	store := memorytest.New()
	store.PutConfig(memory.ServerConfig{ServerID: "g1", BotName: "Nova"})
	store.PutConfig(memory.ServerConfig{ServerID: "g2"})
	p := &fakeNicks{nicks: map[string]string{"g1": "", "g2": "Evo", "g3": "Old"}}

	n := newReconciler(p, store).ReconcileAll(context.Background())
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"g1=Nova", "g3=Evo"}, p.renames,
		"unconfigured servers fall back to the default name")
}

type brokenLoader struct{}

func (brokenLoader) LoadServerConfig(context.Context, string) (*memory.ServerConfig, error) {
	return nil, errors.New("db down")
}

func TestReconcileAll_SkipsUnreadableConfigs(t *testing.T) {
	p := &fakeNicks{nicks: map[string]string{}}
	assert.Zero(t, newReconciler(p, brokenLoader{}).ReconcileAll(context.Background()))
	assert.Empty(t, p.renames)
}
