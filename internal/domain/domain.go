// Package domain holds the entities shared by the screening core and its
// storage layer. All identifiers are UUIDs and enum values match the
// database enums exactly.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Status is the conversation state machine state.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusOnRequirements Status = "ON_REQ"
	StatusNeedFollowUp   Status = "NEED_FOLLOW_UP"
	StatusOnJobQuestions Status = "ON_JOB_QUESTIONS"
	StatusDone           Status = "DONE"
)

// Terminal reports whether no further transitions can occur from s.
func (s Status) Terminal() bool {
	return s == StatusDone
}

// Statuses lists every state the machine can be in. Used by the
// orchestrator's startup assertion that every state has a handler.
func Statuses() []Status {
	return []Status{
		StatusPending,
		StatusOnRequirements,
		StatusNeedFollowUp,
		StatusOnJobQuestions,
		StatusDone,
	}
}

// Decision is the final screening verdict. It starts as PENDING and is
// written exactly once when the conversation reaches DONE.
type Decision string

const (
	DecisionPending      Decision = "PENDING"
	DecisionApproved     Decision = "APPROVED"
	DecisionDenied       Decision = "DENIED"
	DecisionUserCanceled Decision = "USER_CANCELED"
)

// Conversation is one screening attempt for one application.
type Conversation struct {
	ID            uuid.UUID
	ApplicationID uuid.UUID
	Status        Status
	Decision      Decision
	IsActive      bool
	Summary       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Sender tags who produced a turn.
type Sender string

const (
	SenderUser      Sender = "USER"
	SenderAssistant Sender = "ASSISTANT"
	SenderSystem    Sender = "SYSTEM"
)

// Turn is one message in a conversation. Turns are append-only and
// immutable once written.
type Turn struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Sender         Sender
	Content        string
	CreatedAt      time.Time
}

// Requirement is an immutable, job-scoped screening requirement. Criteria
// is the raw per-type payload; the criteria package decodes it into a
// typed variant.
type Requirement struct {
	ID          uuid.UUID
	JobID       uuid.UUID
	Type        string
	Description string
	Criteria    map[string]any
	Priority    int
	CreatedAt   time.Time
}

// Required reports whether the requirement is flagged required. Absent
// flags count as required.
func (r Requirement) Required() bool {
	v, ok := r.Criteria["required"]
	if !ok {
		return true
	}
	b, ok := v.(bool)
	if !ok {
		return true
	}
	return b
}

// OutcomeStatus is the evaluation state of one requirement within one
// conversation.
type OutcomeStatus string

const (
	OutcomePending OutcomeStatus = "PENDING"
	OutcomeMet     OutcomeStatus = "MET"
	OutcomeNotMet  OutcomeStatus = "NOT_MET"
)

// Terminal reports whether the outcome will not be evaluated again.
func (s OutcomeStatus) Terminal() bool {
	return s == OutcomeMet || s == OutcomeNotMet
}

// Outcome records the evaluation of one requirement for one conversation.
// Exactly one outcome exists per (conversation, requirement) pair; rows
// are created lazily when the conversation starts.
type Outcome struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	RequirementID  uuid.UUID
	Status         OutcomeStatus
	ExtractedValue map[string]any
	FollowUps      int
	EvaluatedAt    *time.Time
	TurnID         *uuid.UUID
}

// Job carries the fields of a job posting the screening core needs.
type Job struct {
	ID    uuid.UUID
	Title string
}

// JobFact is a free-form fact about a job, fed to the job-questions
// prompt so the assistant can answer candidate questions.
type JobFact struct {
	ID       uuid.UUID
	JobID    uuid.UUID
	FactType string
	Content  string
}

// Application links a candidate to a job posting.
type Application struct {
	ID     uuid.UUID
	JobID  uuid.UUID
	UserID uuid.UUID
}

// User holds the candidate fields used in prompts.
type User struct {
	ID        uuid.UUID
	FirstName string
}
