// Package storage defines the persistence boundary of the screening
// core. Implementations live in subpackages: postgres for production,
// memory for tests and dev mode.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/driverline/screener/internal/domain"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDecisionFinal is returned when a commit tries to change an already
// terminal screening decision. Decisions are write-once.
var ErrDecisionFinal = errors.New("screening decision already final")

// StatusUpdate carries the conversation fields committed together with
// an assistant turn.
type StatusUpdate struct {
	Status   domain.Status
	Decision domain.Decision
	IsActive bool
}

// OutcomeUpdate mutates one requirement outcome.
type OutcomeUpdate struct {
	Status         domain.OutcomeStatus
	ExtractedValue map[string]any
	EvaluatedAt    *time.Time
	TurnID         *uuid.UUID
	// IncrementFollowUps bumps the clarification counter by one.
	IncrementFollowUps bool
}

// Store is the full persistence contract used by the orchestrator.
type Store interface {
	// Conversations.
	Conversation(ctx context.Context, id uuid.UUID) (*domain.Conversation, error)
	CreateConversation(ctx context.Context, applicationID uuid.UUID) (*domain.Conversation, error)
	SetSummary(ctx context.Context, conversationID uuid.UUID, summary string) error

	// Read models behind the conversation.
	Application(ctx context.Context, id uuid.UUID) (*domain.Application, error)
	Job(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	User(ctx context.Context, id uuid.UUID) (*domain.User, error)
	JobFacts(ctx context.Context, jobID uuid.UUID) ([]domain.JobFact, error)
	Requirements(ctx context.Context, jobID uuid.UUID) ([]domain.Requirement, error)

	// Requirement outcomes, one per (conversation, requirement) pair.
	Outcomes(ctx context.Context, conversationID uuid.UUID) ([]domain.Outcome, error)
	EnsureOutcomes(ctx context.Context, conversationID uuid.UUID, requirementIDs []uuid.UUID) error
	UpdateOutcome(ctx context.Context, conversationID, requirementID uuid.UUID, upd OutcomeUpdate) error

	// Turn history, append-only.
	Turns(ctx context.Context, conversationID uuid.UUID) ([]domain.Turn, error)
	AppendTurn(ctx context.Context, conversationID uuid.UUID, sender domain.Sender, content string) (*domain.Turn, error)

	// CommitTurn atomically appends an assistant turn and, when upd is
	// non-nil, applies the status update. Either both happen or neither
	// does. A terminal decision is never overwritten.
	CommitTurn(ctx context.Context, conversationID uuid.UUID, content string, upd *StatusUpdate) (*domain.Turn, error)
}
