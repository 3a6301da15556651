// Package composer assembles the bounded message window sent to the fallback
// responder and the compact summary shown to agents on hand-off.
package composer

import (
	"fmt"
	"strings"

	"github.com/dev2prod/concierge/internal/storage"
)

const (
	// defaultMaxTokens is the total window budget, including the system prompt.
	defaultMaxTokens = 2000
	// defaultReplyReserve is held back for the expected model reply.
	defaultReplyReserve = 500
)

// Message is one role-tagged entry in the responder window.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Window is the assembled context plus the truncation accounting callers use
// for observability: IncludedTurns + DroppedTurns equals the history length.
type Window struct {
	Messages      []Message
	IncludedTurns int
	DroppedTurns  int
	EstTokens     int
}

// Composer builds responder windows under a token budget.
type Composer struct {
	MaxTokens    int
	ReplyReserve int
}

// New creates a Composer. Non-positive arguments use the defaults
// (2000 token window, 500 reserved for the reply).
func New(maxTokens, replyReserve int) *Composer {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	if replyReserve <= 0 {
		replyReserve = defaultReplyReserve
	}
	return &Composer{MaxTokens: maxTokens, ReplyReserve: replyReserve}
}

// Build walks history newest-to-oldest, keeping turns while the running
// estimate stays under budget, and returns them oldest-first with the system
// prompt at index 0. Older turns past the budget are dropped, not summarized;
// the counts in Window make the truncation visible to callers.
func (c *Composer) Build(history []storage.Turn, systemPrompt string) Window {
	budget := c.MaxTokens - EstimateTokens(systemPrompt) - c.ReplyReserve

	var kept []Message
	used := 0
	for i := len(history) - 1; i >= 0; i-- {
		t := history[i]
		msg := Message{Role: roleFor(t.Sender), Content: t.Content}
		cost := EstimateTokens(msg.Content)
		if used+cost > budget {
			break
		}
		kept = append(kept, msg)
		used += cost
	}

	// kept is newest-first; emit oldest-first after the system prompt.
	out := make([]Message, 0, len(kept)+1)
	out = append(out, Message{Role: "system", Content: systemPrompt})
	for i := len(kept) - 1; i >= 0; i-- {
		out = append(out, kept[i])
	}

	return Window{
		Messages:      out,
		IncludedTurns: len(kept),
		DroppedTurns:  len(history) - len(kept),
		EstTokens:     EstimateTokens(systemPrompt) + used,
	}
}

func roleFor(sender string) string {
	switch sender {
	case storage.SenderUser:
		return "user"
	case storage.SenderAgent:
		// Agent replies read as assistant turns to the model.
		return "assistant"
	default:
		return "assistant"
	}
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// Summary renders a compact hand-off description of a conversation: turn
// counts, the intents seen, and the last two user turns verbatim.
func Summary(conv storage.Conversation, turns []storage.Turn) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Conversation with %s (user %d)\n", displayName(conv), conv.UserID)
	fmt.Fprintf(&sb, "Status: %s", conv.Status)
	if conv.Status == storage.StatusEscalated {
		fmt.Fprintf(&sb, " (%s, priority %s)", conv.EscalationReason, conv.Priority)
	}
	sb.WriteString("\n")
	if conv.LeadScore != "" {
		fmt.Fprintf(&sb, "Lead score: %s\n", conv.LeadScore)
	}

	userTurns := 0
	botTurns := 0
	intents := make(map[string]bool)
	var intentOrder []string
	var lastUser []storage.Turn
	for _, t := range turns {
		switch t.Sender {
		case storage.SenderUser:
			userTurns++
			lastUser = append(lastUser, t)
		case storage.SenderBot:
			botTurns++
		}
		if t.Intent != "" && t.Intent != "unknown" && !intents[t.Intent] {
			intents[t.Intent] = true
			intentOrder = append(intentOrder, t.Intent)
		}
	}

	fmt.Fprintf(&sb, "Turns: %d user / %d bot\n", userTurns, botTurns)
	if len(intentOrder) > 0 {
		fmt.Fprintf(&sb, "Detected intents: %s\n", strings.Join(intentOrder, ", "))
	}

	if n := len(lastUser); n > 0 {
		sb.WriteString("Last user messages:\n")
		start := n - 2
		if start < 0 {
			start = 0
		}
		for _, t := range lastUser[start:] {
			fmt.Fprintf(&sb, "  > %s\n", t.Content)
		}
	}

	return strings.TrimRight(sb.String(), "\n")
}

func displayName(conv storage.Conversation) string {
	if conv.Username != "" {
		return "@" + conv.Username
	}
	return "user"
}
