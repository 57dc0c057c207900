package memory

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendHistory_CapsAtMostRecent(t *testing.T) {
	var history []string
	for i := 0; i < 25; i++ {
		entry := fmt.Sprintf("entry-%d", i)
		history = AppendHistory(history, entry)

		require.LessOrEqual(t, len(history), MaxHistoryEntries)
		assert.Equal(t, entry, history[len(history)-1])

		// The kept entries are the most recent ones, in append order.
		first := i - len(history) + 1
		for j, got := range history {
			assert.Equal(t, fmt.Sprintf("entry-%d", first+j), got)
		}
	}
	assert.Len(t, history, MaxHistoryEntries)
}

func TestAppendHistory_DoesNotModifyInput(t *testing.T) {
	in := []string{"a", "b"}
	out := AppendHistory(in, "c")
	assert.Equal(t, []string{"a", "b"}, in)
	assert.Equal(t, []string{"a", "b", "c"}, out)
}

func TestAppendHistory_FirstEntry(t *testing.T) {
	out := AppendHistory(Empty().ConversationHistory, "x")
	assert.Equal(t, []string{"x"}, out)
}

func TestFormatExchange(t *testing.T) {
	assert.Equal(t, "User: hi evo\nAI: AI: hello!\n", FormatExchange("hi evo", "AI: hello!"))
}

func TestServerConfig_RestrictsChannel(t *testing.T) {
	tests := []struct {
		channel string
		want    bool
	}{
		{"", false},
		{AllChannels, false},
		{"123", true},
	}
	for _, tt := range tests {
		cfg := ServerConfig{DesignatedChannel: tt.channel}
		assert.Equal(t, tt.want, cfg.RestrictsChannel(), tt.channel)
	}
}

func TestUserMemoryPatch_IsEmpty(t *testing.T) {
	assert.True(t, UserMemoryPatch{}.IsEmpty())
	assert.False(t, HistoryPatch(nil).IsEmpty())
	assert.False(t, PersonalSummaryPatch("").IsEmpty())
	assert.False(t, GossipSummaryPatch("x").IsEmpty())
}
