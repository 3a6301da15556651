// Package api exposes the HTTP surfaces: the Telegram webhook, a health
// probe, and the bearer-authenticated agent endpoints, plus the MCP server
// agents can plug into their tooling.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dev2prod/concierge/internal/arbiter"
	"github.com/dev2prod/concierge/internal/pipeline"
	"github.com/dev2prod/concierge/internal/storage"
	"github.com/dev2prod/concierge/internal/telegram"
)

const maxWebhookBodySize = 1 << 20 // 1MB

// Deps holds what the handlers need.
type Deps struct {
	Pipeline *pipeline.Pipeline
	Store    *storage.Store
	// WebhookSecret, when set, must match X-Telegram-Bot-Api-Secret-Token on
	// every webhook delivery.
	WebhookSecret string
	// AgentToken protects the /agent endpoints.
	AgentToken string
	Logger     *slog.Logger
}

// NewHandler builds the full router.
func NewHandler(deps Deps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))
	r.Post("/webhook/telegram", handleWebhook(deps, log))

	r.Route("/agent", func(r chi.Router) {
		r.Use(BearerAuth(deps.AgentToken))
		r.Get("/escalations", handleEscalations(deps))
		r.Post("/claim", handleClaim(deps))
		r.Post("/release", handleRelease(deps))
		r.Post("/reply", handleReply(deps))
		r.Get("/conversations", handleConversations(deps))
		r.Get("/conversations/{id}/summary", handleSummary(deps))
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := deps.Store.AppliedMigrations(); err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "storage unavailable: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// handleWebhook always acknowledges with 200 once the secret checks out:
// Telegram redelivers on any other status, and a redelivered update would be
// processed twice.
func handleWebhook(deps Deps, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.WebhookSecret != "" {
			got := r.Header.Get("X-Telegram-Bot-Api-Secret-Token")
			if subtle.ConstantTimeCompare([]byte(got), []byte(deps.WebhookSecret)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid webhook secret")
				return
			}
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
		defer r.Body.Close()

		var upd telegram.Update
		if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid update body: %v", err)
			return
		}

		if err := deps.Pipeline.HandleUpdate(r.Context(), upd); err != nil {
			log.Error("handling update", "update_id", upd.UpdateID, "error", err)
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// --- Agent endpoints ---

type conversationJSON struct {
	ID               string `json:"id"`
	UserID           int64  `json:"user_id"`
	Username         string `json:"username,omitempty"`
	Status           string `json:"status"`
	LeadScore        string `json:"lead_score,omitempty"`
	Priority         string `json:"priority,omitempty"`
	EscalationReason string `json:"escalation_reason,omitempty"`
	EscalatedAt      string `json:"escalated_at,omitempty"`
	UpdatedAt        string `json:"updated_at"`
	ClaimedBy        string `json:"claimed_by,omitempty"`
}

func toConversationJSON(c storage.Conversation, owner string) conversationJSON {
	out := conversationJSON{
		ID:               c.ID,
		UserID:           c.UserID,
		Username:         c.Username,
		Status:           c.Status,
		LeadScore:        c.LeadScore,
		Priority:         c.Priority,
		EscalationReason: c.EscalationReason,
		UpdatedAt:        c.UpdatedAt.UTC().Format(time.RFC3339),
		ClaimedBy:        owner,
	}
	if c.EscalatedAt != nil {
		out.EscalatedAt = c.EscalatedAt.UTC().Format(time.RFC3339)
	}
	return out
}

func handleEscalations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := deps.Pipeline.EscalationQueue()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing escalations: %v", err)
			return
		}

		out := make([]conversationJSON, 0, len(items))
		for _, it := range items {
			out = append(out, toConversationJSON(it.Conversation, it.Owner))
		}
		writeJSON(w, http.StatusOK, map[string]any{"escalations": out})
	}
}

type claimRequest struct {
	ConversationID string `json:"conversation_id"`
	AgentID        string `json:"agent_id"`
}

func handleClaim(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req claimRequest
		if !decodeAgentRequest(w, r, &req.ConversationID, &req.AgentID, &req) {
			return
		}

		res, summary, err := deps.Pipeline.Claim(r.Context(), req.ConversationID, req.AgentID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, "invalid_request_error", "conversation not found")
			return
		case errors.Is(err, pipeline.ErrNotEscalated):
			httpError(w, http.StatusConflict, "invalid_request_error", "conversation is not escalated")
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "claiming: %v", err)
			return
		}

		if res.Outcome == arbiter.Conflict {
			writeJSON(w, http.StatusConflict, map[string]any{
				"claimed":    false,
				"claimed_by": res.Owner,
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"claimed": true,
			"summary": summary,
		})
	}
}

type releaseRequest struct {
	ConversationID string `json:"conversation_id"`
	AgentID        string `json:"agent_id"`
	// Resolve closes the conversation; otherwise the bot takes it back.
	Resolve bool `json:"resolve"`
}

func handleRelease(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req releaseRequest
		if !decodeAgentRequest(w, r, &req.ConversationID, &req.AgentID, &req) {
			return
		}

		res, err := deps.Pipeline.Release(r.Context(), req.ConversationID, req.AgentID, req.Resolve)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, "invalid_request_error", "conversation not found")
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "releasing: %v", err)
			return
		}

		if res.Outcome != arbiter.Released {
			writeJSON(w, http.StatusConflict, map[string]any{
				"released":   false,
				"claimed_by": res.Owner,
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"released": true})
	}
}

type replyRequest struct {
	ConversationID string `json:"conversation_id"`
	AgentID        string `json:"agent_id"`
	Text           string `json:"text"`
}

func handleReply(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req replyRequest
		if !decodeAgentRequest(w, r, &req.ConversationID, &req.AgentID, &req) {
			return
		}
		if req.Text == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		}

		err := deps.Pipeline.AgentReply(r.Context(), req.ConversationID, req.AgentID, req.Text)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, "invalid_request_error", "conversation not found")
			return
		case errors.Is(err, pipeline.ErrNotOwner):
			httpError(w, http.StatusForbidden, "invalid_request_error", "conversation is not claimed by this agent")
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "replying: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sent": true})
	}
}

func handleConversations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convs, err := deps.Store.ListConversations(50)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing conversations: %v", err)
			return
		}
		out := make([]conversationJSON, 0, len(convs))
		for _, c := range convs {
			out = append(out, toConversationJSON(c, ""))
		}
		writeJSON(w, http.StatusOK, map[string]any{"conversations": out})
	}
}

func handleSummary(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		summary, err := deps.Pipeline.Summary(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "invalid_request_error", "conversation not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "building summary: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"summary": summary})
	}
}

// decodeAgentRequest decodes the body into req and validates the two fields
// every agent call carries.
func decodeAgentRequest(w http.ResponseWriter, r *http.Request, conversationID, agentID *string, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	if *conversationID == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "conversation_id is required")
		return false
	}
	if *agentID == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "agent_id is required")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
