package memory

import "fmt"

// FormatExchange renders one exchange as a history entry. The raw reply is
// stored unnormalized so future prompts keep the speaker tag.
func FormatExchange(userText, rawReply string) string {
	return fmt.Sprintf("User: %s\nAI: %s\n", userText, rawReply)
}

// AppendHistory returns a new slice with entry appended and only the
// MaxHistoryEntries most recent entries kept. The input is not modified.
func AppendHistory(history []string, entry string) []string {
	out := make([]string, 0, len(history)+1)
	out = append(out, history...)
	out = append(out, entry)
	if len(out) > MaxHistoryEntries {
		out = out[len(out)-MaxHistoryEntries:]
	}
	return out
}
