// Package escalate decides when a conversation leaves automated handling.
// The rule ladder is evaluated fresh on every turn; the only state carried
// between turns is the per-user consecutive-low-confidence counter.
package escalate

import (
	"strings"
	"sync"
)

// Escalation reasons, in ladder priority order.
const (
	ReasonVeryLowConfidence = "very low confidence"
	ReasonRepeatedLowConf   = "repeated low confidence"
	ReasonHighValueLead     = "high-value lead"
	ReasonFrustration       = "frustration detected"
	ReasonExplicitRequest   = "explicit request"
)

// Priorities.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

const (
	veryLowThreshold  = 0.5
	lowThreshold      = 0.7
	consecutiveNeeded = 3
)

// Decision is the per-turn verdict.
type Decision struct {
	Escalate bool
	Reason   string
	Priority string
}

// Signals carries the turn-local context feeding rules 3-5.
type Signals struct {
	// Text is the raw user message, checked for frustration keywords.
	Text string
	// ExplicitRequest is set when the user asked for a human outright.
	ExplicitRequest bool
	// LeadScore is the conversation's current lead label, if any.
	LeadScore string
	// BudgetBand is the intake budget answer, if captured.
	BudgetBand string
}

// Evaluator holds the per-user counters behind the rule ladder.
type Evaluator struct {
	mu             sync.Mutex
	lowConfStreaks map[int64]int
}

func NewEvaluator() *Evaluator {
	return &Evaluator{lowConfStreaks: make(map[int64]int)}
}

// Evaluate runs the ladder for one turn. The consecutive-low-confidence
// counter is always updated first, even when an earlier rule escalates, so
// the counter keeps tracking truth; it resets only when rule 2 itself fires
// (or on a confident turn).
func (e *Evaluator) Evaluate(userID int64, confidence float64, sig Signals) Decision {
	ruleTwo := e.bump(userID, confidence)

	// Rule 1: very low confidence.
	if confidence < veryLowThreshold {
		return Decision{Escalate: true, Reason: ReasonVeryLowConfidence, Priority: PriorityHigh}
	}

	// Rule 2: repeated low confidence.
	if ruleTwo {
		return Decision{Escalate: true, Reason: ReasonRepeatedLowConf, Priority: PriorityMedium}
	}

	// Rule 3: high-value qualified lead.
	if sig.LeadScore == "hot" && isTopBudget(sig.BudgetBand) {
		p := PriorityHigh
		if sig.BudgetBand == "150k+" {
			p = PriorityCritical
		}
		return Decision{Escalate: true, Reason: ReasonHighValueLead, Priority: p}
	}

	// Rule 4: frustration keywords.
	if DetectFrustration(sig.Text) {
		return Decision{Escalate: true, Reason: ReasonFrustration, Priority: PriorityHigh}
	}

	// Rule 5: explicit request for a human. Never suppressed by confidence.
	if sig.ExplicitRequest {
		return Decision{Escalate: true, Reason: ReasonExplicitRequest, Priority: PriorityMedium}
	}

	return Decision{}
}

// ResetUser clears the counter, used when a conversation closes.
func (e *Evaluator) ResetUser(userID int64) {
	e.reset(userID)
}

// bump is the atomic increment-and-reset: one lock covers the update, the
// threshold check, and the rule-2 reset, so concurrent handlers for the same
// user cannot double-fire or lose a turn. The reset is skipped when rule 1
// will claim the turn (confidence below veryLowThreshold): rule 2 resets
// only when rule 2 itself is the trigger.
func (e *Evaluator) bump(userID int64, confidence float64) (ruleTwoFires bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if confidence >= lowThreshold {
		delete(e.lowConfStreaks, userID)
		return false
	}
	e.lowConfStreaks[userID]++
	if confidence >= veryLowThreshold && e.lowConfStreaks[userID] >= consecutiveNeeded {
		delete(e.lowConfStreaks, userID)
		return true
	}
	return false
}

func (e *Evaluator) reset(userID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.lowConfStreaks, userID)
}

func isTopBudget(band string) bool {
	return band == "150k+" || band == "50k-150k"
}

var frustrationKeywords = []string{
	"frustrat",
	"angry",
	"annoy",
	"ridiculous",
	"useless",
	"terrible",
	"awful",
	"waste of time",
	"not helpful",
	"doesn't work",
	"does not work",
	"stupid bot",
	"wtf",
}

// DetectFrustration is a fixed keyword-containment check over normalized
// text. Any single match is sufficient; there is no weighting or fuzziness.
func DetectFrustration(text string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return false
	}
	for _, kw := range frustrationKeywords {
		if strings.Contains(normalized, kw) {
			return true
		}
	}
	return false
}
