// Package memory provides an in-memory storage.Store used by tests and
// by dev mode. It is safe for concurrent use.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driverline/screener/internal/domain"
	"github.com/driverline/screener/internal/storage"
)

// Store keeps everything in maps guarded by one mutex. Good enough for
// tests and local runs; the postgres implementation is the real one.
type Store struct {
	mu sync.RWMutex

	conversations map[uuid.UUID]*domain.Conversation
	applications  map[uuid.UUID]*domain.Application
	jobs          map[uuid.UUID]*domain.Job
	users         map[uuid.UUID]*domain.User
	requirements  map[uuid.UUID][]domain.Requirement // by job
	facts         map[uuid.UUID][]domain.JobFact     // by job
	outcomes      map[uuid.UUID][]domain.Outcome     // by conversation
	turns         map[uuid.UUID][]domain.Turn        // by conversation
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		conversations: make(map[uuid.UUID]*domain.Conversation),
		applications:  make(map[uuid.UUID]*domain.Application),
		jobs:          make(map[uuid.UUID]*domain.Job),
		users:         make(map[uuid.UUID]*domain.User),
		requirements:  make(map[uuid.UUID][]domain.Requirement),
		facts:         make(map[uuid.UUID][]domain.JobFact),
		outcomes:      make(map[uuid.UUID][]domain.Outcome),
		turns:         make(map[uuid.UUID][]domain.Turn),
	}
}

// Seed helpers used by dev mode and tests.

func (s *Store) AddJob(job domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = &job
}

func (s *Store) AddUser(user domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = &user
}

func (s *Store) AddApplication(app domain.Application) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applications[app.ID] = &app
}

func (s *Store) AddRequirement(req domain.Requirement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requirements[req.JobID] = append(s.requirements[req.JobID], req)
}

func (s *Store) AddJobFact(fact domain.JobFact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts[fact.JobID] = append(s.facts[fact.JobID], fact)
}

func (s *Store) Conversation(_ context.Context, id uuid.UUID) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *conv
	return &copied, nil
}

func (s *Store) CreateConversation(_ context.Context, applicationID uuid.UUID) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.applications[applicationID]; !ok {
		return nil, storage.ErrNotFound
	}
	now := time.Now().UTC()
	conv := &domain.Conversation{
		ID:            uuid.New(),
		ApplicationID: applicationID,
		Status:        domain.StatusPending,
		Decision:      domain.DecisionPending,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.conversations[conv.ID] = conv
	copied := *conv
	return &copied, nil
}

func (s *Store) SetSummary(_ context.Context, conversationID uuid.UUID, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return storage.ErrNotFound
	}
	conv.Summary = summary
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) Application(_ context.Context, id uuid.UUID) (*domain.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.applications[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *app
	return &copied, nil
}

func (s *Store) Job(_ context.Context, id uuid.UUID) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *Store) User(_ context.Context, id uuid.UUID) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *Store) JobFacts(_ context.Context, jobID uuid.UUID) ([]domain.JobFact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.JobFact(nil), s.facts[jobID]...), nil
}

func (s *Store) Requirements(_ context.Context, jobID uuid.UUID) ([]domain.Requirement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reqs := append([]domain.Requirement(nil), s.requirements[jobID]...)
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].Priority != reqs[j].Priority {
			return reqs[i].Priority < reqs[j].Priority
		}
		return reqs[i].ID.String() < reqs[j].ID.String()
	})
	return reqs, nil
}

func (s *Store) Outcomes(_ context.Context, conversationID uuid.UUID) ([]domain.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Outcome(nil), s.outcomes[conversationID]...), nil
}

func (s *Store) EnsureOutcomes(_ context.Context, conversationID uuid.UUID, requirementIDs []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := make(map[uuid.UUID]bool, len(s.outcomes[conversationID]))
	for _, o := range s.outcomes[conversationID] {
		existing[o.RequirementID] = true
	}
	for _, reqID := range requirementIDs {
		if existing[reqID] {
			continue
		}
		s.outcomes[conversationID] = append(s.outcomes[conversationID], domain.Outcome{
			ID:             uuid.New(),
			ConversationID: conversationID,
			RequirementID:  reqID,
			Status:         domain.OutcomePending,
		})
	}
	return nil
}

func (s *Store) UpdateOutcome(_ context.Context, conversationID, requirementID uuid.UUID, upd storage.OutcomeUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	outcomes := s.outcomes[conversationID]
	for i := range outcomes {
		if outcomes[i].RequirementID != requirementID {
			continue
		}
		outcomes[i].Status = upd.Status
		outcomes[i].ExtractedValue = upd.ExtractedValue
		outcomes[i].EvaluatedAt = upd.EvaluatedAt
		outcomes[i].TurnID = upd.TurnID
		if upd.IncrementFollowUps {
			outcomes[i].FollowUps++
		}
		return nil
	}
	return storage.ErrNotFound
}

func (s *Store) Turns(_ context.Context, conversationID uuid.UUID) ([]domain.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Turn(nil), s.turns[conversationID]...), nil
}

func (s *Store) AppendTurn(_ context.Context, conversationID uuid.UUID, sender domain.Sender, content string) (*domain.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendTurnLocked(conversationID, sender, content)
}

func (s *Store) appendTurnLocked(conversationID uuid.UUID, sender domain.Sender, content string) (*domain.Turn, error) {
	if _, ok := s.conversations[conversationID]; !ok {
		return nil, storage.ErrNotFound
	}
	turn := domain.Turn{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Sender:         sender,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	s.turns[conversationID] = append(s.turns[conversationID], turn)
	return &turn, nil
}

func (s *Store) CommitTurn(_ context.Context, conversationID uuid.UUID, content string, upd *storage.StatusUpdate) (*domain.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if upd != nil && upd.Decision != conv.Decision &&
		conv.Decision != domain.DecisionPending {
		return nil, storage.ErrDecisionFinal
	}

	turn, err := s.appendTurnLocked(conversationID, domain.SenderAssistant, content)
	if err != nil {
		return nil, err
	}

	if upd != nil {
		conv.Status = upd.Status
		conv.Decision = upd.Decision
		conv.IsActive = upd.IsActive
		conv.UpdatedAt = time.Now().UTC()
	}

	return turn, nil
}
