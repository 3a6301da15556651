package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Conversation lifecycle statuses.
const (
	StatusActive    = "active"
	StatusEscalated = "escalated"
	StatusClosed    = "closed"
	StatusArchived  = "archived"
)

// Turn sender roles.
const (
	SenderUser  = "user"
	SenderBot   = "bot"
	SenderAgent = "agent"
)

type Conversation struct {
	ID               string
	UserID           int64
	Username         string
	Status           string
	LeadScore        string
	Priority         string
	EscalationReason string
	EscalatedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Turn struct {
	ID             string
	ConversationID string
	Sender         string
	Content        string
	Intent         string
	LLMUsed        bool
	LLMTokens      int
	LLMConfidence  float64
	LLMLatencyMS   int64
	CreatedAt      time.Time
}

type Lead struct {
	ID             string
	ConversationID string
	Name           string
	Email          string
	Company        string
	ProjectType    string
	Description    string
	Timeline       string
	Budget         string
	Score          string
	CreatedAt      time.Time
}

type Claim struct {
	ConversationID string
	AgentID        string
	ClaimedAt      time.Time
}
