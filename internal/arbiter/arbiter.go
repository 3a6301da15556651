// Package arbiter grants exclusive ownership of escalated conversations to
// human agents. Claims are check-then-set against storage; a per-conversation
// lock serializes racing claim/release calls so exactly one of two competing
// agents wins and the loser learns who did.
package arbiter

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dev2prod/concierge/internal/storage"
)

// Outcome of a claim or release attempt. Conflicts and denials are results,
// not errors: callers report them to the requesting agent.
type Outcome int

const (
	// Claimed: the agent now owns the conversation (or already did).
	Claimed Outcome = iota
	// Conflict: another agent owns it; Owner names them.
	Conflict
	// Released: the agent gave up ownership.
	Released
	// Denied: release refused because the agent is not the owner.
	Denied
)

// Result describes what happened and, on Conflict, who owns the claim.
type Result struct {
	Outcome Outcome
	Owner   string
}

// ClaimStore is the storage surface the arbiter needs.
type ClaimStore interface {
	InsertClaim(conversationID, agentID string, at time.Time) (bool, error)
	GetClaim(conversationID string) (storage.Claim, error)
	DeleteClaim(conversationID, agentID string) (bool, error)
	DeleteClaimsBefore(cutoff time.Time) (int64, error)
}

// Arbiter arbitrates claims.
type Arbiter struct {
	store ClaimStore
	ttl   time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an Arbiter. ttl bounds how long an unreleased claim survives
// (swept by ExpireStale); <= 0 means 7 days.
func New(store ClaimStore, ttl time.Duration) *Arbiter {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Arbiter{
		store: store,
		ttl:   ttl,
		locks: make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing one conversation's claim mutations.
func (a *Arbiter) lockFor(conversationID string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		a.locks[conversationID] = l
	}
	return l
}

// Claim attempts to assign the conversation to agentID. Re-claim by the
// current owner is idempotent success.
func (a *Arbiter) Claim(conversationID, agentID string, now time.Time) (Result, error) {
	if agentID == "" {
		return Result{}, errors.New("empty agent id")
	}

	l := a.lockFor(conversationID)
	l.Lock()
	defer l.Unlock()

	inserted, err := a.store.InsertClaim(conversationID, agentID, now)
	if err != nil {
		return Result{}, fmt.Errorf("inserting claim: %w", err)
	}
	if inserted {
		return Result{Outcome: Claimed, Owner: agentID}, nil
	}

	existing, err := a.store.GetClaim(conversationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// The competing claim vanished between insert and read; with the
			// per-conversation lock held this means an external sweep, so
			// retry once.
			inserted, err = a.store.InsertClaim(conversationID, agentID, now)
			if err != nil {
				return Result{}, fmt.Errorf("re-inserting claim: %w", err)
			}
			if inserted {
				return Result{Outcome: Claimed, Owner: agentID}, nil
			}
		}
		return Result{}, fmt.Errorf("reading existing claim: %w", err)
	}

	if existing.AgentID == agentID {
		return Result{Outcome: Claimed, Owner: agentID}, nil
	}
	return Result{Outcome: Conflict, Owner: existing.AgentID}, nil
}

// Release removes the claim if agentID owns it; otherwise Denied with the
// current owner (empty when nothing is claimed).
func (a *Arbiter) Release(conversationID, agentID string) (Result, error) {
	l := a.lockFor(conversationID)
	l.Lock()
	defer l.Unlock()

	deleted, err := a.store.DeleteClaim(conversationID, agentID)
	if err != nil {
		return Result{}, fmt.Errorf("deleting claim: %w", err)
	}
	if deleted {
		return Result{Outcome: Released}, nil
	}

	existing, err := a.store.GetClaim(conversationID)
	if errors.Is(err, storage.ErrNotFound) {
		return Result{Outcome: Denied, Owner: ""}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("reading existing claim: %w", err)
	}
	return Result{Outcome: Denied, Owner: existing.AgentID}, nil
}

// Owner returns the current owner of a conversation, or "" if unclaimed.
func (a *Arbiter) Owner(conversationID string) (string, error) {
	claim, err := a.store.GetClaim(conversationID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return claim.AgentID, nil
}

// ExpireStale removes claims older than the TTL. There is no liveness or
// heartbeat signal; the TTL sweep is the only recovery path for abandoned
// claims.
func (a *Arbiter) ExpireStale(now time.Time) (int64, error) {
	return a.store.DeleteClaimsBefore(now.Add(-a.ttl))
}
