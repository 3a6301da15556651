// Package pipeline orchestrates one inbound message end to end: intake
// pre-emption, intent classification, canned replies, the quota-gated
// fallback responder, escalation, and the agent-side claim/reply operations.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/dev2prod/concierge/internal/arbiter"
	"github.com/dev2prod/concierge/internal/composer"
	"github.com/dev2prod/concierge/internal/escalate"
	"github.com/dev2prod/concierge/internal/intake"
	"github.com/dev2prod/concierge/internal/intent"
	"github.com/dev2prod/concierge/internal/quota"
	"github.com/dev2prod/concierge/internal/responder"
	"github.com/dev2prod/concierge/internal/storage"
)

// Messenger is the outbound chat surface.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string, markup any) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Generator produces fallback model completions.
type Generator interface {
	Generate(ctx context.Context, messages []composer.Message, maxTokens int, temperature float64) (responder.Response, error)
}

// Deps wires a Pipeline. All fields are required except AgentChatID (zero
// disables agent-group notifications) and SystemPrompt (empty uses the
// default).
type Deps struct {
	Store      *storage.Store
	Classifier *intent.Classifier
	Composer   *composer.Composer
	Generator  Generator
	Messenger  Messenger
	Evaluator  *escalate.Evaluator
	Intake     *intake.Engine
	Arbiter    *arbiter.Arbiter
	Quota      *quota.Tracker
	Logger     *slog.Logger

	AgentChatID  int64
	SystemPrompt string
	// MaxTokens caps the model reply length.
	MaxTokens int
}

type Pipeline struct {
	store      *storage.Store
	classifier *intent.Classifier
	composer   *composer.Composer
	gen        Generator
	messenger  Messenger
	evaluator  *escalate.Evaluator
	intake     *intake.Engine
	arbiter    *arbiter.Arbiter
	quota      *quota.Tracker
	log        *slog.Logger

	agentChatID  int64
	systemPrompt string
	maxTokens    int

	// sf collapses rapid duplicate sends of the same text into one model call.
	sf singleflight.Group

	nowFn func() time.Time
	newID func() string
}

func New(d Deps) *Pipeline {
	sp := d.SystemPrompt
	if sp == "" {
		sp = defaultSystemPrompt
	}
	maxTokens := d.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 500
	}
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		store:        d.Store,
		classifier:   d.Classifier,
		composer:     d.Composer,
		gen:          d.Generator,
		messenger:    d.Messenger,
		evaluator:    d.Evaluator,
		intake:       d.Intake,
		arbiter:      d.Arbiter,
		quota:        d.Quota,
		log:          log,
		agentChatID:  d.AgentChatID,
		systemPrompt: sp,
		maxTokens:    maxTokens,
		nowFn:        time.Now,
		newID:        uuid.NewString,
	}
}

// Sweep runs the periodic maintenance pass: stale agent claims and old daily
// quota counters. Intake flows expire on their own TTL store.
func (p *Pipeline) Sweep(now time.Time) {
	if n, err := p.arbiter.ExpireStale(now); err != nil {
		p.log.Error("sweeping stale claims", "error", err)
	} else if n > 0 {
		p.log.Info("expired stale agent claims", "count", n)
	}

	if n, err := p.quota.Prune(now, 30); err != nil {
		p.log.Error("pruning quota counters", "error", err)
	} else if n > 0 {
		p.log.Info("pruned old quota counters", "count", n)
	}
}
