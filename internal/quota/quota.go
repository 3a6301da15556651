// Package quota enforces per-session and per-day caps on fallback model
// calls, plus a daily system-wide spend ceiling. Counters live in storage
// keyed by (scope, period); periods roll over naturally, so there is no
// reset job — a new day or a new conversation simply reads a fresh key.
package quota

import (
	"fmt"
	"time"
)

// Verdict reasons, surfaced to the pipeline so it can pick the right
// user-facing degradation message.
const (
	ReasonSessionLimit = "session limit reached"
	ReasonDailyLimit   = "daily limit reached"
	ReasonBudget       = "daily budget exhausted"
)

// Verdict is the outcome of a quota check.
type Verdict struct {
	Allowed bool
	Reason  string
}

// Limits configure the tracker. Zero values mean "no limit" for that axis.
type Limits struct {
	SessionCalls int
	DailyCalls   int
	// DailyBudgetUSD caps system-wide model spend per calendar day (UTC).
	DailyBudgetUSD float64
}

// CounterStore is the storage surface the tracker needs.
type CounterStore interface {
	AddToCounter(scope, period string, costMillicents int64) error
	GetCounter(scope, period string) (count int, costMillicents int64, err error)
	DeleteCountersBefore(cutoff string) (int64, error)
	DeleteCounterScope(scope string) error
}

// Model pricing: 0.2 millicents per token ($0.002 per 1K tokens), blended
// over input and output since the API reports a single total.
const millicentsPerToken = 0.2

// CostMillicents converts a token count to millicents of spend.
func CostMillicents(tokens int) int64 {
	return int64(float64(tokens)*millicentsPerToken + 0.5)
}

// Tracker answers "may this user make a model call" and records usage.
type Tracker struct {
	store  CounterStore
	limits Limits
}

func New(store CounterStore, limits Limits) *Tracker {
	return &Tracker{store: store, limits: limits}
}

func sessionScope(userID int64) string { return fmt.Sprintf("user_session:%d", userID) }
func dayScope(userID int64) string     { return fmt.Sprintf("user_day:%d", userID) }

const systemScope = "system_day"

func dayPeriod(now time.Time) string { return now.UTC().Format("2006-01-02") }

// Check reports whether a model call is allowed right now. conversationID is
// the session period key: counters started under a previous conversation do
// not count against a new one.
func (t *Tracker) Check(userID int64, conversationID string, now time.Time) (Verdict, error) {
	day := dayPeriod(now)

	if t.limits.SessionCalls > 0 {
		count, _, err := t.store.GetCounter(sessionScope(userID), conversationID)
		if err != nil {
			return Verdict{}, fmt.Errorf("reading session counter: %w", err)
		}
		if count >= t.limits.SessionCalls {
			return Verdict{Allowed: false, Reason: ReasonSessionLimit}, nil
		}
	}

	if t.limits.DailyCalls > 0 {
		count, _, err := t.store.GetCounter(dayScope(userID), day)
		if err != nil {
			return Verdict{}, fmt.Errorf("reading daily counter: %w", err)
		}
		if count >= t.limits.DailyCalls {
			return Verdict{Allowed: false, Reason: ReasonDailyLimit}, nil
		}
	}

	if t.limits.DailyBudgetUSD > 0 {
		_, spent, err := t.store.GetCounter(systemScope, day)
		if err != nil {
			return Verdict{}, fmt.Errorf("reading budget counter: %w", err)
		}
		if float64(spent) >= t.limits.DailyBudgetUSD*100_000 {
			return Verdict{Allowed: false, Reason: ReasonBudget}, nil
		}
	}

	return Verdict{Allowed: true}, nil
}

// Record charges one call and its token cost against all three counters.
// Called after a successful model response; a failed call is not charged.
func (t *Tracker) Record(userID int64, conversationID string, tokens int, now time.Time) error {
	day := dayPeriod(now)
	cost := CostMillicents(tokens)

	if err := t.store.AddToCounter(sessionScope(userID), conversationID, cost); err != nil {
		return fmt.Errorf("recording session usage: %w", err)
	}
	if err := t.store.AddToCounter(dayScope(userID), day, cost); err != nil {
		return fmt.Errorf("recording daily usage: %w", err)
	}
	if err := t.store.AddToCounter(systemScope, day, cost); err != nil {
		return fmt.Errorf("recording system spend: %w", err)
	}
	return nil
}

// Usage is a point-in-time snapshot for the status surfaces.
type Usage struct {
	SessionCalls    int
	DailyCalls      int
	SystemSpentUSD  float64
	SystemBudgetUSD float64
}

func (t *Tracker) Usage(userID int64, conversationID string, now time.Time) (Usage, error) {
	day := dayPeriod(now)
	var u Usage

	count, _, err := t.store.GetCounter(sessionScope(userID), conversationID)
	if err != nil {
		return Usage{}, err
	}
	u.SessionCalls = count

	count, _, err = t.store.GetCounter(dayScope(userID), day)
	if err != nil {
		return Usage{}, err
	}
	u.DailyCalls = count

	_, spent, err := t.store.GetCounter(systemScope, day)
	if err != nil {
		return Usage{}, err
	}
	u.SystemSpentUSD = float64(spent) / 100_000
	u.SystemBudgetUSD = t.limits.DailyBudgetUSD
	return u, nil
}

// EndSession clears the user's session counters. Called when a conversation
// closes so a later conversation starts with a fresh session allowance.
func (t *Tracker) EndSession(userID int64) error {
	return t.store.DeleteCounterScope(sessionScope(userID))
}

// Prune drops daily counters older than keep days. Session counters are not
// date-keyed and are cleaned by EndSession instead.
func (t *Tracker) Prune(now time.Time, keep int) (int64, error) {
	cutoff := dayPeriod(now.AddDate(0, 0, -keep))
	return t.store.DeleteCountersBefore(cutoff)
}
