// Package intake runs the six-step project qualification flow. While a flow
// is active it pre-empts ordinary intent routing for that user. State lives
// in a TTL store: one hour of inactivity expires the flow entirely (hard
// reset, not resume).
package intake

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Step is the ordinal position in the flow.
type Step int

const (
	StepProjectType Step = iota
	StepDescription
	StepTimeline
	StepBudget
	StepContactInfo
	StepCompleted
)

func (s Step) String() string {
	switch s {
	case StepProjectType:
		return "project_type"
	case StepDescription:
		return "description"
	case StepTimeline:
		return "timeline"
	case StepBudget:
		return "budget"
	case StepContactInfo:
		return "contact_info"
	case StepCompleted:
		return "completed"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// State is the per-user flow record.
type State struct {
	UserID      int64
	Step        Step
	ProjectType string
	Description string
	Timeline    string
	Budget      string
	Name        string
	Email       string
	Company     string
	StartedAt   time.Time
}

// Prompt is what the bot should send for a step. Choices, when present, are
// offered as quick-reply buttons; free text is still accepted.
type Prompt struct {
	Text    string
	Choices []string
}

// Result of feeding one user reply into the flow.
type Result struct {
	// Prompt is the next thing to send: the following step's prompt, or the
	// repeated current prompt when Invalid.
	Prompt Prompt
	// Invalid means the reply failed the step's validator; the step did not
	// advance.
	Invalid bool
	// Completed means the flow just finished; State carries the collected
	// fields and Score the computed lead label.
	Completed bool
	State     State
	Score     string
}

// Budget bands, highest first. The budget step validates strictly against
// these because scoring depends on the band.
var budgetBands = []string{"150k+", "50k-150k", "15k-50k", "<15k"}

// Timeline choices. Free text is accepted; known values are canonicalized.
var timelineChoices = []string{"asap", "1-3 months", "3-6 months", "exploring"}

var projectTypeChoices = []string{"DevOps & CI/CD", "Cloud Architecture", "Custom Software", "System Integration", "Other"}

type stepSpec struct {
	step   Step
	prompt Prompt
	// apply validates and stores the reply. A non-nil error re-prompts the
	// same step.
	apply func(st *State, input string) error
}

var steps = []stepSpec{
	{
		step: StepProjectType,
		prompt: Prompt{
			Text:    "What kind of project are you planning?",
			Choices: projectTypeChoices,
		},
		apply: func(st *State, input string) error {
			if input == "" {
				return fmt.Errorf("empty project type")
			}
			st.ProjectType = input
			return nil
		},
	},
	{
		step: StepDescription,
		prompt: Prompt{
			Text: "Tell me a bit about the project — what are you building, and what problem does it solve?",
		},
		apply: func(st *State, input string) error {
			if input == "" {
				return fmt.Errorf("empty description")
			}
			st.Description = input
			return nil
		},
	},
	{
		step: StepTimeline,
		prompt: Prompt{
			Text:    "What's your timeline?",
			Choices: timelineChoices,
		},
		apply: func(st *State, input string) error {
			if input == "" {
				return fmt.Errorf("empty timeline")
			}
			st.Timeline = canonicalize(input, timelineChoices)
			return nil
		},
	},
	{
		step: StepBudget,
		prompt: Prompt{
			Text:    "What budget range are you working with?",
			Choices: budgetBands,
		},
		apply: func(st *State, input string) error {
			band := canonicalize(input, budgetBands)
			for _, b := range budgetBands {
				if band == b {
					st.Budget = band
					return nil
				}
			}
			return fmt.Errorf("unrecognized budget band %q", input)
		},
	},
	{
		step: StepContactInfo,
		prompt: Prompt{
			Text: "Last one — how can we reach you? Send your name, email, and company separated by commas (e.g. \"Jane Doe, jane@acme.com, Acme\").",
		},
		apply: func(st *State, input string) error {
			if input == "" {
				return fmt.Errorf("empty contact info")
			}
			name, email, company := parseContact(input)
			st.Name, st.Email, st.Company = name, email, company
			return nil
		},
	},
}

// parseContact splits a free-text contact line on commas. With fewer than
// two parts the whole input is treated as the name and email stays unset;
// the completion message surfaces the missing email instead of re-prompting.
func parseContact(input string) (name, email, company string) {
	parts := strings.Split(input, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) < 2 {
		return parts[0], "", ""
	}
	name = parts[0]
	if strings.Contains(parts[1], "@") {
		email = parts[1]
	}
	if len(parts) > 2 {
		company = parts[2]
	}
	return name, email, company
}

func canonicalize(input string, known []string) string {
	trimmed := strings.TrimSpace(input)
	for _, k := range known {
		if strings.EqualFold(trimmed, k) {
			return k
		}
	}
	return trimmed
}

const (
	defaultTTL  = time.Hour
	maxFlows    = 16384
)

// Engine holds active flows keyed by user id. Entries expire after the TTL
// without activity; each accepted reply rewrites the entry, refreshing it.
type Engine struct {
	states *expirable.LRU[int64, State]

	// mu guards expired/removing only; never held across LRU calls because
	// the eviction callback takes it too.
	mu       sync.Mutex
	expired  map[int64]bool
	removing map[int64]bool
}

// NewEngine creates an Engine. ttl <= 0 uses the 1 hour default.
func NewEngine(ttl time.Duration) *Engine {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	e := &Engine{
		expired:  make(map[int64]bool),
		removing: make(map[int64]bool),
	}
	e.states = expirable.NewLRU[int64, State](maxFlows, e.onEvict, ttl)
	return e
}

func (e *Engine) onEvict(userID int64, _ State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.removing[userID] {
		e.expired[userID] = true
	}
}

// Start begins (or restarts) the flow for a user and returns the first
// step's prompt. Restarting discards any previous partial state.
func (e *Engine) Start(userID int64, now time.Time) Prompt {
	e.discard(userID)
	e.clearExpired(userID)
	e.states.Add(userID, State{UserID: userID, Step: StepProjectType, StartedAt: now})
	return steps[0].prompt
}

// Active reports whether the user has a live flow.
func (e *Engine) Active(userID int64) bool {
	_, ok := e.states.Get(userID)
	return ok
}

// CurrentPrompt returns the prompt for the user's current step.
func (e *Engine) CurrentPrompt(userID int64) (Prompt, bool) {
	st, ok := e.states.Get(userID)
	if !ok {
		return Prompt{}, false
	}
	return steps[int(st.Step)].prompt, true
}

// Advance feeds one reply into the user's flow. The second return is false
// when the user has no live flow (never started, cancelled, or expired).
func (e *Engine) Advance(userID int64, input string) (Result, bool) {
	st, ok := e.states.Get(userID)
	if !ok {
		return Result{}, false
	}

	spec := steps[int(st.Step)]
	if err := spec.apply(&st, strings.TrimSpace(input)); err != nil {
		// Re-prompt the same step rather than advancing with garbage.
		return Result{Prompt: spec.prompt, Invalid: true}, true
	}

	st.Step++
	if st.Step == StepCompleted {
		e.discard(userID)
		return Result{
			Completed: true,
			State:     st,
			Score:     ScoreLead(st),
		}, true
	}

	// Rewriting the entry refreshes its TTL.
	e.states.Add(userID, st)
	return Result{Prompt: steps[int(st.Step)].prompt}, true
}

// Cancel removes the user's flow. Reports whether one existed.
func (e *Engine) Cancel(userID int64) bool {
	_, existed := e.states.Get(userID)
	e.discard(userID)
	return existed
}

// ConsumeExpired reports whether the user's flow expired since the last
// check, clearing the marker. The pipeline uses this to send the one-time
// "session expired" notice before routing the message normally.
func (e *Engine) ConsumeExpired(userID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.expired[userID] {
		delete(e.expired, userID)
		return true
	}
	return false
}

// discard removes state without marking it expired.
func (e *Engine) discard(userID int64) {
	e.mu.Lock()
	e.removing[userID] = true
	e.mu.Unlock()

	e.states.Remove(userID)

	e.mu.Lock()
	delete(e.removing, userID)
	e.mu.Unlock()
}

func (e *Engine) clearExpired(userID int64) {
	e.mu.Lock()
	delete(e.expired, userID)
	e.mu.Unlock()
}
