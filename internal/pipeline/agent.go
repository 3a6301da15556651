package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/dev2prod/concierge/internal/arbiter"
	"github.com/dev2prod/concierge/internal/composer"
	"github.com/dev2prod/concierge/internal/storage"
)

// ErrNotEscalated is returned when an agent operation targets a conversation
// that is not waiting for a human.
var ErrNotEscalated = errors.New("conversation is not escalated")

// ErrNotOwner is returned when an agent acts on a conversation claimed by
// someone else (or by nobody).
var ErrNotOwner = errors.New("conversation is not claimed by this agent")

// EscalationItem is one entry in the agent-facing queue.
type EscalationItem struct {
	Conversation storage.Conversation
	// Owner is the claiming agent, empty while unclaimed.
	Owner string
}

// EscalationQueue lists escalated conversations oldest first, each annotated
// with its current claim owner.
func (p *Pipeline) EscalationQueue() ([]EscalationItem, error) {
	convs, err := p.store.ListEscalated()
	if err != nil {
		return nil, fmt.Errorf("listing escalations: %w", err)
	}

	items := make([]EscalationItem, 0, len(convs))
	for _, c := range convs {
		owner, err := p.arbiter.Owner(c.ID)
		if err != nil {
			return nil, fmt.Errorf("reading claim for %s: %w", c.ID, err)
		}
		items = append(items, EscalationItem{Conversation: c, Owner: owner})
	}
	return items, nil
}

// Claim assigns an escalated conversation to an agent. On success (including
// idempotent re-claim) the hand-off summary is returned alongside the result.
func (p *Pipeline) Claim(ctx context.Context, conversationID, agentID string) (arbiter.Result, string, error) {
	conv, err := p.store.GetConversation(conversationID)
	if err != nil {
		return arbiter.Result{}, "", err
	}
	if conv.Status != storage.StatusEscalated {
		return arbiter.Result{}, "", ErrNotEscalated
	}

	res, err := p.arbiter.Claim(conversationID, agentID, p.nowFn())
	if err != nil {
		return arbiter.Result{}, "", err
	}
	if res.Outcome != arbiter.Claimed {
		return res, "", nil
	}

	p.log.Info("conversation claimed", "conversation", conversationID, "agent", agentID)
	summary, err := p.Summary(conversationID)
	if err != nil {
		return res, "", fmt.Errorf("building summary: %w", err)
	}
	return res, summary, nil
}

// Release gives up an agent's claim. With resolve the conversation closes
// (session quota and confidence counters reset); without it the bot resumes.
func (p *Pipeline) Release(ctx context.Context, conversationID, agentID string, resolve bool) (arbiter.Result, error) {
	conv, err := p.store.GetConversation(conversationID)
	if err != nil {
		return arbiter.Result{}, err
	}

	res, err := p.arbiter.Release(conversationID, agentID)
	if err != nil {
		return arbiter.Result{}, err
	}
	if res.Outcome != arbiter.Released {
		return res, nil
	}

	now := p.nowFn()
	if resolve {
		if err := p.store.SetConversationStatus(conversationID, storage.StatusClosed, now); err != nil {
			return res, fmt.Errorf("closing conversation: %w", err)
		}
		if err := p.quota.EndSession(conv.UserID); err != nil {
			p.log.Error("resetting session quota", "error", err)
		}
		p.evaluator.ResetUser(conv.UserID)
		p.notifyUser(ctx, conv.UserID, msgConversationClosed)
		p.log.Info("conversation resolved", "conversation", conversationID, "agent", agentID)
	} else {
		if err := p.store.ReopenConversation(conversationID, now); err != nil {
			return res, fmt.Errorf("reopening conversation: %w", err)
		}
		p.evaluator.ResetUser(conv.UserID)
		p.notifyUser(ctx, conv.UserID, msgBackToBot)
		p.log.Info("conversation returned to bot", "conversation", conversationID, "agent", agentID)
	}
	return res, nil
}

// AgentReply delivers an agent's message to the user. Only the claim owner
// may reply.
func (p *Pipeline) AgentReply(ctx context.Context, conversationID, agentID, text string) error {
	conv, err := p.store.GetConversation(conversationID)
	if err != nil {
		return err
	}

	owner, err := p.arbiter.Owner(conversationID)
	if err != nil {
		return fmt.Errorf("reading claim: %w", err)
	}
	if owner != agentID {
		return ErrNotOwner
	}

	if err := p.store.AppendTurn(storage.Turn{
		ID:             p.newID(),
		ConversationID: conversationID,
		Sender:         storage.SenderAgent,
		Content:        text,
		CreatedAt:      p.nowFn(),
	}); err != nil {
		return fmt.Errorf("recording agent turn: %w", err)
	}
	if err := p.store.TouchConversation(conversationID, p.nowFn()); err != nil {
		p.log.Error("touching conversation", "error", err)
	}

	// Private chats share the user's id as the chat id.
	return p.messenger.SendMessage(ctx, conv.UserID, text, nil)
}

// Summary renders the hand-off summary for a conversation.
func (p *Pipeline) Summary(conversationID string) (string, error) {
	conv, err := p.store.GetConversation(conversationID)
	if err != nil {
		return "", err
	}
	turns, err := p.store.GetRecentTurns(conversationID, 50)
	if err != nil {
		return "", fmt.Errorf("loading turns: %w", err)
	}
	return composer.Summary(conv, turns), nil
}

func (p *Pipeline) notifyUser(ctx context.Context, userID int64, text string) {
	if err := p.messenger.SendMessage(ctx, userID, text, nil); err != nil {
		p.log.Error("notifying user", "user", userID, "error", err)
	}
}
