package intake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func now() time.Time {
	return time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
}

func TestFlow_HappyPathToCompletion(t *testing.T) {
	e := NewEngine(0)

	p := e.Start(42, now())
	assert.Contains(t, p.Text, "project")
	assert.Equal(t, projectTypeChoices, p.Choices)
	require.True(t, e.Active(42))

	replies := []string{
		"DevOps & CI/CD",
		"We need a CI/CD pipeline for a 20-service platform",
		"asap",
		"150k+",
		"Jane Doe, jane@acme.com, Acme",
	}

	var last Result
	for i, reply := range replies {
		r, ok := e.Advance(42, reply)
		require.True(t, ok, "flow vanished at step %d", i)
		require.False(t, r.Invalid, "step %d rejected %q", i, reply)
		last = r
	}

	require.True(t, last.Completed)
	assert.Equal(t, "DevOps & CI/CD", last.State.ProjectType)
	assert.Equal(t, "asap", last.State.Timeline)
	assert.Equal(t, "150k+", last.State.Budget)
	assert.Equal(t, "Jane Doe", last.State.Name)
	assert.Equal(t, "jane@acme.com", last.State.Email)
	assert.Equal(t, "Acme", last.State.Company)
	assert.Equal(t, ScoreHot, last.Score)

	// Completion destroys the state.
	assert.False(t, e.Active(42))
}

func TestFlow_InvalidBudgetReprompts(t *testing.T) {
	e := NewEngine(0)
	e.Start(1, now())

	for _, reply := range []string{"Custom Software", "an app", "exploring"} {
		r, ok := e.Advance(1, reply)
		require.True(t, ok)
		require.False(t, r.Invalid)
	}

	r, ok := e.Advance(1, "a million dollars")
	require.True(t, ok)
	assert.True(t, r.Invalid)
	assert.Equal(t, budgetBands, r.Prompt.Choices, "re-prompt should repeat the budget step")

	// Still on budget; a valid band advances.
	r, ok = e.Advance(1, "15k-50k")
	require.True(t, ok)
	assert.False(t, r.Invalid)
	assert.Contains(t, r.Prompt.Text, "reach you")
}

func TestFlow_EmptyInputReprompts(t *testing.T) {
	e := NewEngine(0)
	e.Start(2, now())

	r, ok := e.Advance(2, "   ")
	require.True(t, ok)
	assert.True(t, r.Invalid)
}

func TestFlow_BudgetBandCaseInsensitive(t *testing.T) {
	e := NewEngine(0)
	e.Start(3, now())
	for _, reply := range []string{"Other", "desc", "exploring"} {
		_, _ = e.Advance(3, reply)
	}

	r, ok := e.Advance(3, "150K+")
	require.True(t, ok)
	require.False(t, r.Invalid)

	r, _ = e.Advance(3, "Solo Founder")
	require.True(t, r.Completed)
	assert.Equal(t, "150k+", r.State.Budget)
}

func TestParseContact(t *testing.T) {
	cases := []struct {
		in                   string
		name, email, company string
	}{
		{"Jane Doe, jane@acme.com, Acme", "Jane Doe", "jane@acme.com", "Acme"},
		{"Jane Doe, jane@acme.com", "Jane Doe", "jane@acme.com", ""},
		{"Jane Doe", "Jane Doe", "", ""},
		{"Jane, not-an-email, Acme", "Jane", "", "Acme"},
		{"  Jane  ,  jane@acme.com  ", "Jane", "jane@acme.com", ""},
	}
	for _, tc := range cases {
		name, email, company := parseContact(tc.in)
		assert.Equal(t, tc.name, name, "input %q", tc.in)
		assert.Equal(t, tc.email, email, "input %q", tc.in)
		assert.Equal(t, tc.company, company, "input %q", tc.in)
	}
}

func TestFlow_CancelDestroysState(t *testing.T) {
	e := NewEngine(0)
	e.Start(5, now())
	_, _ = e.Advance(5, "Other")

	require.True(t, e.Cancel(5))
	assert.False(t, e.Active(5))
	assert.False(t, e.Cancel(5), "second cancel should find nothing")
	assert.False(t, e.ConsumeExpired(5), "cancel must not read as expiry")

	// A restarted flow begins clean at step one.
	e.Start(5, now())
	r, ok := e.Advance(5, "Cloud Architecture")
	require.True(t, ok)
	assert.Contains(t, r.Prompt.Text, "about the project")
}

func TestFlow_ExpiryIsHardReset(t *testing.T) {
	e := NewEngine(50 * time.Millisecond)
	e.Start(6, now())
	_, _ = e.Advance(6, "Other")
	_, _ = e.Advance(6, "half-done description")

	require.Eventually(t, func() bool { return !e.Active(6) },
		2*time.Second, 20*time.Millisecond, "flow did not expire")

	_, ok := e.Advance(6, "exploring")
	assert.False(t, ok, "advance after expiry should report no flow")
	assert.True(t, e.ConsumeExpired(6))
	assert.False(t, e.ConsumeExpired(6), "expiry marker must clear on read")

	// No residue leaks into a restarted flow.
	e.Start(6, now())
	for _, reply := range []string{"Custom Software", "new desc", "exploring", "<15k"} {
		r, ok := e.Advance(6, reply)
		require.True(t, ok)
		require.False(t, r.Invalid)
	}
	r, _ := e.Advance(6, "Solo")
	require.True(t, r.Completed)
	assert.Equal(t, "Custom Software", r.State.ProjectType)
	assert.Equal(t, "new desc", r.State.Description)
	assert.Empty(t, r.State.Email)
}

func TestFlow_AdvanceWithoutStart(t *testing.T) {
	e := NewEngine(0)
	_, ok := e.Advance(99, "hello")
	assert.False(t, ok)
}

func TestScoreLead(t *testing.T) {
	cases := []struct {
		name string
		st   State
		want string
	}{
		{"top budget urgent with email", State{Budget: "150k+", Timeline: "urgent", Email: "a@b.c"}, ScoreHot},
		{"top budget asap with email", State{Budget: "150k+", Timeline: "asap", Email: "a@b.c"}, ScoreHot},
		{"mid budget with email", State{Budget: "50k-150k", Timeline: "exploring", Email: "a@b.c"}, ScoreWarm},
		{"top budget no contact", State{Budget: "150k+", Timeline: "exploring"}, ScoreWarm},
		{"small and slow", State{Budget: "<15k", Timeline: "exploring"}, ScoreCold},
		{"email only", State{Email: "a@b.c"}, ScoreCold},
		{"mid budget asap email", State{Budget: "50k-150k", Timeline: "asap", Email: "a@b.c"}, ScoreHot},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ScoreLead(tc.st), tc.name)
	}
}
