package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dev2prod/concierge/internal/escalate"
	"github.com/dev2prod/concierge/internal/intake"
	"github.com/dev2prod/concierge/internal/intent"
	"github.com/dev2prod/concierge/internal/quota"
	"github.com/dev2prod/concierge/internal/responder"
	"github.com/dev2prod/concierge/internal/storage"
	"github.com/dev2prod/concierge/internal/telegram"
)

// HandleUpdate routes one webhook delivery. Unsupported update shapes are
// ignored without error; Telegram redelivers on non-200 so the webhook
// handler treats every return as "processed".
func (p *Pipeline) HandleUpdate(ctx context.Context, upd telegram.Update) error {
	switch {
	case upd.CallbackQuery != nil:
		return p.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil && upd.Message.From != nil && !upd.Message.From.IsBot:
		return p.handleMessage(ctx, upd.Message)
	default:
		return nil
	}
}

func (p *Pipeline) handleMessage(ctx context.Context, msg *telegram.Message) error {
	userID := msg.From.ID
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}

	conv, err := p.ensureConversation(userID, msg.From.Username)
	if err != nil {
		return fmt.Errorf("ensuring conversation: %w", err)
	}

	// One-time notice when an intake flow expired since the user's last message.
	if p.intake.ConsumeExpired(userID) {
		if err := p.messenger.SendMessage(ctx, chatID, msgIntakeExpired, nil); err != nil {
			p.log.Error("sending expiry notice", "error", err)
		}
	}

	if strings.HasPrefix(text, "/") {
		return p.handleCommand(ctx, conv, chatID, userID, text)
	}

	// An active intake flow pre-empts everything else.
	if p.intake.Active(userID) {
		return p.advanceIntake(ctx, conv, chatID, userID, text)
	}

	// While escalated, the bot stays silent and relays to the agent group.
	if conv.Status == storage.StatusEscalated {
		return p.relayToAgents(ctx, conv, text)
	}

	match := p.classifier.Classify(text)
	if err := p.recordUserTurn(conv.ID, text, match.Intent); err != nil {
		return fmt.Errorf("recording user turn: %w", err)
	}

	sig := p.signalsFor(conv, text, match)

	if match.Intent == "start_project" {
		if err := p.messenger.SendMessage(ctx, chatID, match.Reply, nil); err != nil {
			return err
		}
		return p.startIntake(ctx, chatID, userID)
	}

	if !intent.ShouldUseFallback(match) {
		// Rule matches are confident turns; the evaluator still sees them so
		// frustration and explicit requests are never masked by a canned reply.
		if d := p.evaluator.Evaluate(userID, match.Confidence, sig); d.Escalate {
			return p.escalateNow(ctx, conv, chatID, d.Reason, d.Priority)
		}
		if err := p.recordBotTurn(conv.ID, match.Reply, match.Intent, nil); err != nil {
			return err
		}
		return p.messenger.SendMessage(ctx, chatID, match.Reply, nil)
	}

	// human_handoff has no canned reply on purpose; it must never reach the
	// model path.
	if sig.ExplicitRequest {
		if d := p.evaluator.Evaluate(userID, match.Confidence, sig); d.Escalate {
			return p.escalateNow(ctx, conv, chatID, d.Reason, d.Priority)
		}
	}

	return p.respondWithModel(ctx, conv, chatID, userID, text, match, sig)
}

func (p *Pipeline) handleCommand(ctx context.Context, conv storage.Conversation, chatID, userID int64, text string) error {
	cmd := strings.ToLower(strings.Fields(text)[0])
	// Strip the @botname suffix used in group chats.
	if i := strings.Index(cmd, "@"); i > 0 {
		cmd = cmd[:i]
	}

	switch cmd {
	case "/start":
		return p.messenger.SendMessage(ctx, chatID, msgWelcome, welcomeKeyboard())
	case "/help":
		return p.messenger.SendMessage(ctx, chatID, msgHelp, nil)
	case "/cancel":
		if p.intake.Cancel(userID) {
			return p.messenger.SendMessage(ctx, chatID, msgCancelled, &telegram.ReplyKeyboardRemove{RemoveKeyboard: true})
		}
		return p.messenger.SendMessage(ctx, chatID, msgNothingToCancel, nil)
	default:
		return p.messenger.SendMessage(ctx, chatID, msgHelp, nil)
	}
}

func (p *Pipeline) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) error {
	if err := p.messenger.AnswerCallback(ctx, cb.ID, ""); err != nil {
		p.log.Error("answering callback", "error", err)
	}
	if cb.Message == nil {
		return nil
	}
	chatID := cb.Message.Chat.ID
	userID := cb.From.ID

	conv, err := p.ensureConversation(userID, cb.From.Username)
	if err != nil {
		return fmt.Errorf("ensuring conversation: %w", err)
	}

	switch cb.Data {
	case cbStartProject:
		return p.startIntake(ctx, chatID, userID)
	case cbAskQuestions:
		return p.messenger.SendMessage(ctx, chatID, msgAskAway, nil)
	case cbServices:
		return p.messenger.SendMessage(ctx, chatID, msgServicesOverview, nil)
	case cbEscalate:
		return p.escalateNow(ctx, conv, chatID, escalate.ReasonExplicitRequest, escalate.PriorityMedium)
	default:
		p.log.Warn("unknown callback data", "data", cb.Data)
		return nil
	}
}

// --- Intake ---

func (p *Pipeline) startIntake(ctx context.Context, chatID, userID int64) error {
	prompt := p.intake.Start(userID, p.nowFn())
	return p.sendPrompt(ctx, chatID, prompt)
}

func (p *Pipeline) advanceIntake(ctx context.Context, conv storage.Conversation, chatID, userID int64, text string) error {
	if err := p.recordUserTurn(conv.ID, text, "intake"); err != nil {
		return fmt.Errorf("recording user turn: %w", err)
	}

	res, ok := p.intake.Advance(userID, text)
	if !ok {
		// Expired between Active and Advance; the notice goes out next message.
		return p.messenger.SendMessage(ctx, chatID, msgIntakeExpired, nil)
	}

	if res.Invalid {
		return p.sendPromptPrefixed(ctx, chatID, msgIntakeInvalid, res.Prompt)
	}

	if !res.Completed {
		return p.sendPrompt(ctx, chatID, res.Prompt)
	}

	return p.completeIntake(ctx, conv, chatID, userID, res)
}

func (p *Pipeline) completeIntake(ctx context.Context, conv storage.Conversation, chatID, userID int64, res intake.Result) error {
	now := p.nowFn()
	st := res.State

	lead := storage.Lead{
		ID:             p.newID(),
		ConversationID: conv.ID,
		Name:           st.Name,
		Email:          st.Email,
		Company:        st.Company,
		ProjectType:    st.ProjectType,
		Description:    st.Description,
		Timeline:       st.Timeline,
		Budget:         st.Budget,
		Score:          res.Score,
		CreatedAt:      now,
	}
	if err := p.store.SaveLead(lead); err != nil {
		return fmt.Errorf("saving lead: %w", err)
	}
	if err := p.store.SetLeadScore(conv.ID, res.Score, now); err != nil {
		return fmt.Errorf("setting lead score: %w", err)
	}
	p.log.Info("lead captured", "conversation", conv.ID, "score", res.Score, "budget", st.Budget)

	thanks := fmt.Sprintf("Thanks, %s! I've passed your project details to the team.", firstName(st.Name))
	if st.Email == "" {
		thanks += " I didn't catch an email address — if you'd like a written follow-up, just send it over."
	} else {
		thanks += fmt.Sprintf(" We'll follow up at %s.", st.Email)
	}
	if err := p.messenger.SendMessage(ctx, chatID, thanks, &telegram.ReplyKeyboardRemove{RemoveKeyboard: true}); err != nil {
		return err
	}

	// A freshly qualified high-value lead goes straight to a human.
	conv.LeadScore = res.Score
	sig := escalate.Signals{LeadScore: res.Score, BudgetBand: st.Budget}
	if d := p.evaluator.Evaluate(userID, intent.RuleConfidence, sig); d.Escalate {
		return p.escalateNow(ctx, conv, chatID, d.Reason, d.Priority)
	}
	return nil
}

func (p *Pipeline) sendPrompt(ctx context.Context, chatID int64, prompt intake.Prompt) error {
	return p.sendPromptPrefixed(ctx, chatID, "", prompt)
}

func (p *Pipeline) sendPromptPrefixed(ctx context.Context, chatID int64, prefix string, prompt intake.Prompt) error {
	var markup any = &telegram.ReplyKeyboardRemove{RemoveKeyboard: true}
	if len(prompt.Choices) > 0 {
		markup = telegram.QuickReplies(prompt.Choices)
	}
	return p.messenger.SendMessage(ctx, chatID, prefix+prompt.Text, markup)
}

// --- Fallback responder ---

func (p *Pipeline) respondWithModel(ctx context.Context, conv storage.Conversation, chatID, userID int64, text string, match intent.Match, sig escalate.Signals) error {
	verdict, err := p.quota.Check(userID, conv.ID, p.nowFn())
	if err != nil {
		return fmt.Errorf("checking quota: %w", err)
	}
	if !verdict.Allowed {
		return p.denyForQuota(ctx, conv, chatID, text, sig, verdict)
	}

	// Rapid duplicate sends of the same text collapse into one model call;
	// the winner does all the side effects, joiners do nothing.
	key := fmt.Sprintf("%d:%s", userID, intent.Normalize(text))
	_, err, _ = p.sf.Do(key, func() (any, error) {
		return nil, p.generateAndReply(ctx, conv, chatID, userID, match, sig)
	})
	p.sf.Forget(key)
	return err
}

func (p *Pipeline) generateAndReply(ctx context.Context, conv storage.Conversation, chatID, userID int64, match intent.Match, sig escalate.Signals) error {
	history, err := p.store.GetRecentTurns(conv.ID, 50)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}
	win := p.composer.Build(history, p.systemPrompt)

	resp, err := p.gen.Generate(ctx, win.Messages, p.maxTokens, 0.7)
	if err != nil {
		var fatal *responder.FatalError
		if errors.As(err, &fatal) {
			p.log.Error("fallback provider rejected request", "status", fatal.Status, "error", fatal.Message)
		} else {
			p.log.Error("fallback generation failed", "error", err)
		}
		return p.messenger.SendMessage(ctx, chatID, msgGenerateFailed, nil)
	}

	if err := p.quota.Record(userID, conv.ID, resp.TokensUsed, p.nowFn()); err != nil {
		p.log.Error("recording quota usage", "error", err)
	}

	p.log.Info("fallback reply generated",
		"conversation", conv.ID,
		"tokens", resp.TokensUsed,
		"confidence", resp.Confidence,
		"latency_ms", resp.Latency.Milliseconds(),
		"included_turns", win.IncludedTurns,
		"dropped_turns", win.DroppedTurns,
	)

	if d := p.evaluator.Evaluate(userID, resp.Confidence, sig); d.Escalate {
		// The low-confidence answer is withheld; the user gets a hand-off
		// message instead.
		return p.escalateNow(ctx, conv, chatID, d.Reason, d.Priority)
	}

	if err := p.recordBotTurn(conv.ID, resp.Content, match.Intent, &resp); err != nil {
		return err
	}
	return p.messenger.SendMessage(ctx, chatID, resp.Content, nil)
}

func (p *Pipeline) denyForQuota(ctx context.Context, conv storage.Conversation, chatID int64, text string, sig escalate.Signals, verdict quota.Verdict) error {
	p.log.Info("fallback call denied", "conversation", conv.ID, "reason", verdict.Reason)

	// A blocked turn can still escalate on its own signals; the streak
	// counter is left alone because no confidence was produced.
	if sig.ExplicitRequest || escalate.DetectFrustration(text) {
		reason := escalate.ReasonExplicitRequest
		priority := escalate.PriorityMedium
		if !sig.ExplicitRequest {
			reason = escalate.ReasonFrustration
			priority = escalate.PriorityHigh
		}
		return p.escalateNow(ctx, conv, chatID, reason, priority)
	}

	msg := msgQuotaSession
	switch verdict.Reason {
	case quota.ReasonDailyLimit:
		msg = msgQuotaDaily
	case quota.ReasonBudget:
		msg = msgQuotaBudget
	}
	return p.messenger.SendMessage(ctx, chatID, msg, nil)
}

// --- Escalation ---

func (p *Pipeline) escalateNow(ctx context.Context, conv storage.Conversation, chatID int64, reason, priority string) error {
	now := p.nowFn()
	if err := p.store.EscalateConversation(conv.ID, reason, priority, now); err != nil {
		return fmt.Errorf("escalating conversation: %w", err)
	}
	p.log.Info("conversation escalated", "conversation", conv.ID, "reason", reason, "priority", priority)

	if err := p.messenger.SendMessage(ctx, chatID, msgEscalated, &telegram.ReplyKeyboardRemove{RemoveKeyboard: true}); err != nil {
		p.log.Error("notifying user of escalation", "error", err)
	}

	if p.agentChatID != 0 {
		summary, err := p.Summary(conv.ID)
		if err != nil {
			summary = fmt.Sprintf("Conversation %s escalated (%s, priority %s)", conv.ID, reason, priority)
		}
		note := fmt.Sprintf("🚨 Escalation (%s)\n\n%s\n\nClaim: conversation %s", priority, summary, conv.ID)
		if err := p.messenger.SendMessage(ctx, p.agentChatID, note, nil); err != nil {
			p.log.Error("notifying agent group", "error", err)
		}
	}
	return nil
}

func (p *Pipeline) relayToAgents(ctx context.Context, conv storage.Conversation, text string) error {
	if err := p.recordUserTurn(conv.ID, text, ""); err != nil {
		return fmt.Errorf("recording user turn: %w", err)
	}
	if p.agentChatID == 0 {
		return nil
	}
	note := fmt.Sprintf("💬 %s (conversation %s):\n%s", displayUser(conv), conv.ID, text)
	return p.messenger.SendMessage(ctx, p.agentChatID, note, nil)
}

// --- Helpers ---

// ensureConversation finds or creates the user's conversation. Closed and
// archived conversations reopen on contact; escalation state is preserved.
func (p *Pipeline) ensureConversation(userID int64, username string) (storage.Conversation, error) {
	conv, err := p.store.GetConversationByUserID(userID)
	if errors.Is(err, storage.ErrNotFound) {
		now := p.nowFn()
		conv = storage.Conversation{
			ID:        p.newID(),
			UserID:    userID,
			Username:  username,
			Status:    storage.StatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := p.store.CreateConversation(conv); err != nil {
			return storage.Conversation{}, err
		}
		p.log.Info("conversation created", "conversation", conv.ID, "user", userID)
		return conv, nil
	}
	if err != nil {
		return storage.Conversation{}, err
	}

	if conv.Status == storage.StatusClosed || conv.Status == storage.StatusArchived {
		if err := p.store.ReopenConversation(conv.ID, p.nowFn()); err != nil {
			return storage.Conversation{}, err
		}
		conv.Status = storage.StatusActive
		p.log.Info("conversation reopened", "conversation", conv.ID)
	}
	return conv, nil
}

func (p *Pipeline) signalsFor(conv storage.Conversation, text string, match intent.Match) escalate.Signals {
	sig := escalate.Signals{
		Text:            text,
		ExplicitRequest: match.Intent == "human_handoff",
		LeadScore:       conv.LeadScore,
	}
	if lead, err := p.store.GetLeadByConversation(conv.ID); err == nil {
		sig.BudgetBand = lead.Budget
	}
	return sig
}

func (p *Pipeline) recordUserTurn(conversationID, text, intentName string) error {
	return p.store.AppendTurn(storage.Turn{
		ID:             p.newID(),
		ConversationID: conversationID,
		Sender:         storage.SenderUser,
		Content:        text,
		Intent:         intentName,
		CreatedAt:      p.nowFn(),
	})
}

func (p *Pipeline) recordBotTurn(conversationID, text, intentName string, resp *responder.Response) error {
	t := storage.Turn{
		ID:             p.newID(),
		ConversationID: conversationID,
		Sender:         storage.SenderBot,
		Content:        text,
		Intent:         intentName,
		CreatedAt:      p.nowFn(),
	}
	if resp != nil {
		t.LLMUsed = true
		t.LLMTokens = resp.TokensUsed
		t.LLMConfidence = resp.Confidence
		t.LLMLatencyMS = resp.Latency.Milliseconds()
	}
	return p.store.AppendTurn(t)
}

func firstName(full string) string {
	if f := strings.Fields(full); len(f) > 0 {
		return f[0]
	}
	return "there"
}

func displayUser(conv storage.Conversation) string {
	if conv.Username != "" {
		return "@" + conv.Username
	}
	return fmt.Sprintf("user %d", conv.UserID)
}
