package composer

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dev2prod/concierge/internal/storage"
)

func turn(sender, content string) storage.Turn {
	return storage.Turn{Sender: sender, Content: content, CreatedAt: time.Now()}
}

func TestBuild_SystemPromptFirst(t *testing.T) {
	c := New(0, 0)
	history := []storage.Turn{
		turn(storage.SenderUser, "hello"),
		turn(storage.SenderBot, "hi, how can I help?"),
		turn(storage.SenderUser, "tell me about pricing"),
	}

	w := c.Build(history, "You are a helpful assistant.")

	if len(w.Messages) != 4 {
		t.Fatalf("len(Messages) = %d, want 4", len(w.Messages))
	}
	if w.Messages[0].Role != "system" {
		t.Errorf("Messages[0].Role = %q, want system", w.Messages[0].Role)
	}
	// Oldest first after the system prompt.
	if w.Messages[1].Content != "hello" || w.Messages[3].Content != "tell me about pricing" {
		t.Errorf("history order wrong: %+v", w.Messages[1:])
	}
	if w.Messages[2].Role != "assistant" {
		t.Errorf("bot turn role = %q, want assistant", w.Messages[2].Role)
	}
	if w.IncludedTurns != 3 || w.DroppedTurns != 0 {
		t.Errorf("accounting = %d included / %d dropped, want 3/0", w.IncludedTurns, w.DroppedTurns)
	}
}

func TestBuild_DropsOldestWhenOverBudget(t *testing.T) {
	// Budget 100 tokens, reserve 40, system prompt ~10 → ~50 tokens for
	// history. Each turn is ~25 tokens, so only the two newest fit.
	c := New(100, 40)
	big := strings.Repeat("x", 100)
	history := []storage.Turn{
		turn(storage.SenderUser, "old-"+big),
		turn(storage.SenderUser, "mid-"+big),
		turn(storage.SenderUser, "new-"+big),
	}

	w := c.Build(history, strings.Repeat("s", 40))

	if w.IncludedTurns != 2 || w.DroppedTurns != 1 {
		t.Fatalf("accounting = %d/%d, want 2 included, 1 dropped", w.IncludedTurns, w.DroppedTurns)
	}
	if got := w.Messages[1].Content; !strings.HasPrefix(got, "mid-") {
		t.Errorf("oldest kept turn = %q, want the middle one", got[:8])
	}
	if got := w.Messages[len(w.Messages)-1].Content; !strings.HasPrefix(got, "new-") {
		t.Errorf("last message = %q, want the newest turn", got[:8])
	}
}

func TestBuild_NeverExceedsBudget(t *testing.T) {
	c := New(200, 50)
	var history []storage.Turn
	for i := 0; i < 40; i++ {
		history = append(history, turn(storage.SenderUser, fmt.Sprintf("message number %d with some padding text", i)))
	}

	w := c.Build(history, "system prompt text")

	if w.EstTokens > c.MaxTokens-c.ReplyReserve {
		t.Errorf("EstTokens = %d, exceeds budget %d", w.EstTokens, c.MaxTokens-c.ReplyReserve)
	}
	if w.IncludedTurns+w.DroppedTurns != len(history) {
		t.Errorf("included %d + dropped %d != total %d", w.IncludedTurns, w.DroppedTurns, len(history))
	}
}

func TestBuild_TurnsLargerThanBudget(t *testing.T) {
	c := New(50, 30)
	huge := strings.Repeat("z", 4000)
	history := []storage.Turn{turn(storage.SenderUser, huge), turn(storage.SenderUser, huge)}

	w := c.Build(history, "sys")

	if w.IncludedTurns != 0 || w.DroppedTurns != 2 {
		t.Errorf("accounting = %d/%d, want 0 included, 2 dropped", w.IncludedTurns, w.DroppedTurns)
	}
	if len(w.Messages) != 1 || w.Messages[0].Role != "system" {
		t.Errorf("Messages = %+v, want system prompt only", w.Messages)
	}
}

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		if got := EstimateTokens(tc.text); got != tc.want {
			t.Errorf("EstimateTokens(%d chars) = %d, want %d", len(tc.text), got, tc.want)
		}
	}
}

func TestSummary(t *testing.T) {
	esc := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	conv := storage.Conversation{
		ID:               "c1",
		UserID:           42,
		Username:         "ada",
		Status:           storage.StatusEscalated,
		EscalationReason: "repeated low confidence",
		Priority:         "medium",
		LeadScore:        "warm",
		EscalatedAt:      &esc,
	}
	turns := []storage.Turn{
		{Sender: storage.SenderUser, Content: "hi", Intent: "greeting"},
		{Sender: storage.SenderBot, Content: "hello!"},
		{Sender: storage.SenderUser, Content: "how much is a platform build", Intent: "pricing"},
		{Sender: storage.SenderBot, Content: "depends..."},
		{Sender: storage.SenderUser, Content: "that is not helpful", Intent: "unknown"},
	}

	got := Summary(conv, turns)

	for _, want := range []string{
		"@ada",
		"escalated",
		"repeated low confidence",
		"Lead score: warm",
		"3 user / 2 bot",
		"greeting, pricing",
		"how much is a platform build",
		"that is not helpful",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Summary missing %q in:\n%s", want, got)
		}
	}
	// Only the last two user turns appear.
	if strings.Contains(strings.SplitN(got, "Last user messages", 2)[1], "> hi\n") {
		t.Errorf("Summary includes more than two user turns:\n%s", got)
	}
}
