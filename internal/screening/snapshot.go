package screening

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/driverline/screener/internal/domain"
	"github.com/driverline/screener/internal/llm"
	"github.com/driverline/screener/internal/storage"
)

// Snapshot is the per-turn assembled view of everything a handler and
// its prompts need. It is rebuilt fresh on every turn and never cached
// across turns; in particular the active requirement is recomputed from
// the outcome set each time.
type Snapshot struct {
	Conversation *domain.Conversation
	FirstName    string
	JobTitle     string
	Requirements []domain.Requirement
	Outcomes     []domain.Outcome
	// Active is the requirement currently being asked about: the
	// lowest-priority one without a terminal outcome. In the terminal
	// state it is the top evaluated requirement, kept only as a
	// structural placeholder. Nil when the gating set is exhausted.
	Active *domain.Requirement
	Facts  []domain.JobFact
	// History is the full ordered turn history in completion-call form.
	History []llm.Message
}

// Pairs joins the snapshot's requirements and outcomes for the policy
// functions.
func (s *Snapshot) Pairs() []RequirementOutcome {
	return Join(s.Requirements, s.Outcomes)
}

// Assembler builds snapshots from storage.
type Assembler struct {
	store storage.Store
}

// NewAssembler returns an Assembler reading from store.
func NewAssembler(store storage.Store) *Assembler {
	return &Assembler{store: store}
}

// Assemble loads the full conversation state. It fails with
// storage.ErrNotFound when the conversation or anything it references
// is missing, and with ErrNoRequirements when the job defines no
// requirements.
func (a *Assembler) Assemble(ctx context.Context, conversationID uuid.UUID) (*Snapshot, error) {
	conv, err := a.store.Conversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", conversationID, err)
	}

	app, err := a.store.Application(ctx, conv.ApplicationID)
	if err != nil {
		return nil, fmt.Errorf("load application %s: %w", conv.ApplicationID, err)
	}

	user, err := a.store.User(ctx, app.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", app.UserID, err)
	}

	job, err := a.store.Job(ctx, app.JobID)
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", app.JobID, err)
	}

	requirements, err := a.store.Requirements(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("load requirements for job %s: %w", job.ID, err)
	}
	if len(requirements) == 0 {
		return nil, fmt.Errorf("job %s: %w", job.ID, ErrNoRequirements)
	}

	outcomes, err := a.store.Outcomes(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load outcomes: %w", err)
	}

	facts, err := a.store.JobFacts(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("load job facts: %w", err)
	}

	turns, err := a.store.Turns(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}

	snap := &Snapshot{
		Conversation: conv,
		FirstName:    user.FirstName,
		JobTitle:     job.Title,
		Requirements: requirements,
		Outcomes:     outcomes,
		Facts:        facts,
		History:      historyMessages(turns),
	}

	pairs := snap.Pairs()
	if conv.Status.Terminal() {
		snap.Active = TopEvaluated(pairs)
	} else {
		snap.Active = NextPending(pairs)
	}

	return snap, nil
}

func historyMessages(turns []domain.Turn) []llm.Message {
	messages := make([]llm.Message, 0, len(turns))
	for _, turn := range turns {
		role := llm.RoleUser
		switch turn.Sender {
		case domain.SenderAssistant:
			role = llm.RoleAssistant
		case domain.SenderSystem:
			role = llm.RoleSystem
		}
		messages = append(messages, llm.Message{Role: role, Content: turn.Content})
	}
	return messages
}
