package screening

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driverline/screener/internal/domain"
	"github.com/driverline/screener/internal/llm"
	"github.com/driverline/screener/internal/prompts"
	"github.com/driverline/screener/internal/storage"
)

// replyChunkSize is how many runes of a locally produced reply are
// pushed per sink call. Model-generated replies stream at whatever
// granularity the provider emits.
const replyChunkSize = 24

const ambiguousAcceptReply = "Sorry, I didn't quite catch that. Are you ready to begin the screening questions? A simple yes or no works."

// Result is what one processed turn produced.
type Result struct {
	ConversationID uuid.UUID
	Reply          string
	Status         domain.Status
	Decision       domain.Decision
	Done           bool
}

type turnContext struct {
	snap     *Snapshot
	input    string
	userTurn *domain.Turn
	sink     llm.ChunkFunc
}

type turnResult struct {
	reply  string
	update *storage.StatusUpdate
	// streamed marks the reply as already pushed through the sink by
	// the handler, so the orchestrator must not push it again.
	streamed bool
}

type handlerFunc func(ctx context.Context, tc *turnContext) (*turnResult, error)

// Orchestrator drives the conversation state machine. All turns for one
// conversation are serialized; turns for different conversations run
// concurrently.
type Orchestrator struct {
	store     storage.Store
	assembler *Assembler
	evaluator *Evaluator
	intents   *IntentClassifier
	completer *Completer
	client    llm.Client
	logger    *zap.Logger

	handlers map[domain.Status]handlerFunc

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewOrchestrator wires the orchestrator. It panics when the handler
// table does not cover every conversation state, so a state added
// without a handler fails at startup instead of mid-conversation.
func NewOrchestrator(store storage.Store, client llm.Client, evaluator *Evaluator, intents *IntentClassifier, completer *Completer, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		store:     store,
		assembler: NewAssembler(store),
		evaluator: evaluator,
		intents:   intents,
		completer: completer,
		client:    client,
		logger:    logger,
		locks:     make(map[uuid.UUID]*sync.Mutex),
	}
	o.handlers = map[domain.Status]handlerFunc{
		domain.StatusPending:        o.handlePending,
		domain.StatusOnRequirements: o.handleRequirementAnswer,
		domain.StatusNeedFollowUp:   o.handleRequirementAnswer,
		domain.StatusOnJobQuestions: o.handleJobQuestions,
		domain.StatusDone:           o.handleDone,
	}
	for _, status := range domain.Statuses() {
		if _, ok := o.handlers[status]; !ok {
			panic(fmt.Sprintf("no handler registered for conversation status %s", status))
		}
	}
	return o
}

func (o *Orchestrator) lock(conversationID uuid.UUID) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[conversationID] = lock
	}
	return lock
}

// releaseLock drops the per-conversation mutex once the conversation is
// terminal, so the map does not grow with every finished screening. A
// late turn re-creates the entry and fails the closed check.
func (o *Orchestrator) releaseLock(conversationID uuid.UUID) {
	o.mu.Lock()
	delete(o.locks, conversationID)
	o.mu.Unlock()
}

// StartConversation creates a conversation for applicationID, seeds its
// requirement outcomes and sends the greeting. The greeting streams
// through sink when sink is non-nil.
func (o *Orchestrator) StartConversation(ctx context.Context, applicationID uuid.UUID, sink llm.ChunkFunc) (*Result, error) {
	ctx = context.WithoutCancel(ctx)

	app, err := o.store.Application(ctx, applicationID)
	if err != nil {
		return nil, fmt.Errorf("load application %s: %w", applicationID, err)
	}
	requirements, err := o.store.Requirements(ctx, app.JobID)
	if err != nil {
		return nil, fmt.Errorf("load requirements for job %s: %w", app.JobID, err)
	}
	if len(requirements) == 0 {
		return nil, fmt.Errorf("job %s: %w", app.JobID, ErrNoRequirements)
	}
	user, err := o.store.User(ctx, app.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", app.UserID, err)
	}
	job, err := o.store.Job(ctx, app.JobID)
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", app.JobID, err)
	}

	conv, err := o.store.CreateConversation(ctx, applicationID)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	requirementIDs := make([]uuid.UUID, 0, len(requirements))
	for _, req := range requirements {
		requirementIDs = append(requirementIDs, req.ID)
	}
	if err := o.store.EnsureOutcomes(ctx, conv.ID, requirementIDs); err != nil {
		return nil, fmt.Errorf("seed outcomes: %w", err)
	}

	pc := prompts.Context{FirstName: user.FirstName, JobTitle: job.Title}
	greeting, err := o.generate(ctx, prompts.Greeting(pc), sink)
	if err != nil {
		return nil, fmt.Errorf("generate greeting: %w", err)
	}

	if _, err := o.store.CommitTurn(ctx, conv.ID, greeting, nil); err != nil {
		return nil, fmt.Errorf("commit greeting: %w", err)
	}

	o.logger.Info("conversation started",
		zap.String("conversation_id", conv.ID.String()),
		zap.String("application_id", applicationID.String()),
		zap.Int("requirements", len(requirements)),
	)

	return &Result{
		ConversationID: conv.ID,
		Reply:          greeting,
		Status:         domain.StatusPending,
		Decision:       domain.DecisionPending,
	}, nil
}

// HandleTurn processes one candidate message. The context is detached
// from caller cancellation so a transport disconnect does not abort a
// turn already in flight. The reply streams through sink when sink is
// non-nil; the returned Result always carries the full reply.
func (o *Orchestrator) HandleTurn(ctx context.Context, conversationID uuid.UUID, content string, sink llm.ChunkFunc) (*Result, error) {
	ctx = context.WithoutCancel(ctx)

	lock := o.lock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	snap, err := o.assembler.Assemble(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if snap.Conversation.Status.Terminal() || !snap.Conversation.IsActive {
		return nil, ErrConversationClosed
	}

	userTurn, err := o.store.AppendTurn(ctx, conversationID, domain.SenderUser, content)
	if err != nil {
		return nil, fmt.Errorf("append user turn: %w", err)
	}
	snap.History = append(snap.History, llm.Message{Role: llm.RoleUser, Content: content})

	handler := o.handlers[snap.Conversation.Status]
	tr, err := handler(ctx, &turnContext{snap: snap, input: content, userTurn: userTurn, sink: sink})
	if err != nil {
		return nil, err
	}

	if !tr.streamed {
		if err := emit(sink, tr.reply); err != nil {
			o.logger.Warn("reply stream interrupted", zap.Error(err))
		}
	}

	if _, err := o.store.CommitTurn(ctx, conversationID, tr.reply, tr.update); err != nil {
		return nil, fmt.Errorf("commit turn: %w", err)
	}

	result := &Result{
		ConversationID: conversationID,
		Reply:          tr.reply,
		Status:         snap.Conversation.Status,
		Decision:       snap.Conversation.Decision,
	}
	if tr.update != nil {
		result.Status = tr.update.Status
		result.Decision = tr.update.Decision
	}
	result.Done = result.Status.Terminal()

	if result.Done {
		if err := o.completer.Finalize(ctx, snap, result.Decision, tr.reply); err != nil {
			// The decision is already committed; a failed digest only
			// loses the recruiter summary.
			o.logger.Error("summary finalization failed",
				zap.String("conversation_id", conversationID.String()),
				zap.Error(err),
			)
		}
		o.releaseLock(conversationID)
	}

	o.logger.Info("turn processed",
		zap.String("conversation_id", conversationID.String()),
		zap.String("status", string(result.Status)),
		zap.String("decision", string(result.Decision)),
	)
	return result, nil
}

// handlePending resolves the candidate's reply to the greeting: begin
// the questions or close the conversation as canceled.
func (o *Orchestrator) handlePending(ctx context.Context, tc *turnContext) (*turnResult, error) {
	accept, err := o.intents.Accept(ctx, tc.input)
	if errors.Is(err, ErrAmbiguousIntent) {
		return &turnResult{reply: ambiguousAcceptReply}, nil
	}
	if err != nil {
		return nil, err
	}

	if !accept {
		return o.finish(ctx, tc, domain.DecisionUserCanceled)
	}

	reply, err := o.generate(ctx, prompts.RequirementQuestion(o.promptContext(tc.snap), *tc.snap.Active, tc.snap.History), tc.sink)
	if err != nil {
		return nil, fmt.Errorf("generate requirement question: %w", err)
	}
	return &turnResult{
		reply:    reply,
		update:   &storage.StatusUpdate{Status: domain.StatusOnRequirements, Decision: domain.DecisionPending, IsActive: true},
		streamed: true,
	}, nil
}

// handleRequirementAnswer evaluates the candidate's answer against the
// active requirement and advances: follow up, next question, the
// job-questions phase, or a terminal decision.
func (o *Orchestrator) handleRequirementAnswer(ctx context.Context, tc *turnContext) (*turnResult, error) {
	snap := tc.snap
	if snap.Active == nil {
		// Gating set exhausted without a transition; recover by moving
		// to the phase the outcomes imply.
		return o.advance(ctx, tc)
	}
	req := *snap.Active

	eval, err := o.evaluator.Evaluate(ctx, req, tc.input)
	if err != nil {
		return nil, err
	}

	outcome := outcomeFor(snap.Outcomes, req.ID)

	if eval.NeedsClarification && outcome.FollowUps < maxFollowUps {
		upd := storage.OutcomeUpdate{Status: domain.OutcomePending, IncrementFollowUps: true}
		if eval.Value != nil {
			upd.ExtractedValue = eval.Value
		}
		if err := o.store.UpdateOutcome(ctx, snap.Conversation.ID, req.ID, upd); err != nil {
			return nil, fmt.Errorf("record follow-up: %w", err)
		}

		reply := eval.ClarificationPrompt
		streamed := false
		if reply == "" {
			reply, err = o.generate(ctx, prompts.FollowUp(o.promptContext(snap), req, snap.History), tc.sink)
			if err != nil {
				return nil, fmt.Errorf("generate follow-up: %w", err)
			}
			streamed = true
		}
		return &turnResult{
			reply:    reply,
			update:   &storage.StatusUpdate{Status: domain.StatusNeedFollowUp, Decision: domain.DecisionPending, IsActive: true},
			streamed: streamed,
		}, nil
	}

	status := eval.Status
	if eval.NeedsClarification {
		// Follow-up budget exhausted; an answer that still cannot be
		// pinned down does not satisfy the requirement.
		o.logger.Info("follow-up budget exhausted, recording not met",
			zap.String("conversation_id", snap.Conversation.ID.String()),
			zap.String("requirement_id", req.ID.String()),
		)
		status = domain.OutcomeNotMet
	}

	now := time.Now().UTC()
	if err := o.store.UpdateOutcome(ctx, snap.Conversation.ID, req.ID, storage.OutcomeUpdate{
		Status:         status,
		ExtractedValue: eval.Value,
		EvaluatedAt:    &now,
		TurnID:         &tc.userTurn.ID,
	}); err != nil {
		return nil, fmt.Errorf("record outcome: %w", err)
	}
	applyOutcome(snap, req.ID, status, eval.Value)

	if req.Required() && status == domain.OutcomeNotMet {
		return o.finish(ctx, tc, domain.DecisionDenied)
	}

	return o.advance(ctx, tc)
}

// advance moves a requirements-phase conversation to whatever the
// outcome set now implies: the next question or the job-questions
// phase.
func (o *Orchestrator) advance(ctx context.Context, tc *turnContext) (*turnResult, error) {
	snap := tc.snap
	pairs := snap.Pairs()

	if next := NextPending(pairs); next != nil {
		reply, err := o.generate(ctx, prompts.RequirementQuestion(o.promptContext(snap), *next, snap.History), tc.sink)
		if err != nil {
			return nil, fmt.Errorf("generate requirement question: %w", err)
		}
		return &turnResult{
			reply:    reply,
			update:   &storage.StatusUpdate{Status: domain.StatusOnRequirements, Decision: domain.DecisionPending, IsActive: true},
			streamed: true,
		}, nil
	}

	if GatingComplete(pairs) {
		reply, err := o.generate(ctx, prompts.JobQuestionsWelcome(o.promptContext(snap), snap.History), tc.sink)
		if err != nil {
			return nil, fmt.Errorf("generate job questions welcome: %w", err)
		}
		return &turnResult{
			reply:    reply,
			update:   &storage.StatusUpdate{Status: domain.StatusOnJobQuestions, Decision: domain.DecisionPending, IsActive: true},
			streamed: true,
		}, nil
	}

	// All gating outcomes are terminal but a required one is NOT_MET.
	return o.finish(ctx, tc, domain.DecisionDenied)
}

// handleJobQuestions answers candidate questions from the job facts
// until the candidate indicates they are done, which approves them.
func (o *Orchestrator) handleJobQuestions(ctx context.Context, tc *turnContext) (*turnResult, error) {
	keepGoing, err := o.intents.Continue(ctx, tc.input)
	if errors.Is(err, ErrAmbiguousIntent) {
		// Ambiguity in this phase almost always means the message is a
		// question, not a yes/no; answer it.
		keepGoing = true
	} else if err != nil {
		return nil, err
	}

	if !keepGoing {
		return o.finish(ctx, tc, domain.DecisionApproved)
	}

	reply, err := o.generate(ctx, prompts.JobAnswer(o.promptContext(tc.snap), tc.snap.Facts, tc.input, tc.snap.History), tc.sink)
	if err != nil {
		return nil, fmt.Errorf("generate job answer: %w", err)
	}
	return &turnResult{reply: reply, streamed: true}, nil
}

func (o *Orchestrator) handleDone(_ context.Context, _ *turnContext) (*turnResult, error) {
	return nil, ErrConversationClosed
}

// finish produces the closing narrative and the terminal status update.
// The summary digest happens after the decision commit, in HandleTurn.
func (o *Orchestrator) finish(ctx context.Context, tc *turnContext, decision domain.Decision) (*turnResult, error) {
	narrative := o.completer.Narrative(ctx, tc.snap, decision, tc.sink)
	return &turnResult{
		reply:    narrative,
		update:   &storage.StatusUpdate{Status: domain.StatusDone, Decision: decision, IsActive: false},
		streamed: true,
	}, nil
}

func (o *Orchestrator) promptContext(snap *Snapshot) prompts.Context {
	return prompts.Context{FirstName: snap.FirstName, JobTitle: snap.JobTitle}
}

// generate runs one completion, streaming through sink when present.
func (o *Orchestrator) generate(ctx context.Context, messages []llm.Message, sink llm.ChunkFunc) (string, error) {
	if sink == nil {
		return o.client.Complete(ctx, messages)
	}
	return o.client.CompleteStreaming(ctx, messages, sink)
}

// emit pushes a locally produced reply through sink in fixed-size rune
// chunks so transports see the same shape as a streamed completion.
func emit(sink llm.ChunkFunc, text string) error {
	if sink == nil || text == "" {
		return nil
	}
	runes := []rune(text)
	for start := 0; start < len(runes); start += replyChunkSize {
		end := start + replyChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		if err := sink(string(runes[start:end])); err != nil {
			return err
		}
	}
	return nil
}

func outcomeFor(outcomes []domain.Outcome, requirementID uuid.UUID) domain.Outcome {
	for _, out := range outcomes {
		if out.RequirementID == requirementID {
			return out
		}
	}
	return domain.Outcome{RequirementID: requirementID, Status: domain.OutcomePending}
}

// applyOutcome updates the in-memory snapshot copy so post-evaluation
// policy checks see the outcome just recorded.
func applyOutcome(snap *Snapshot, requirementID uuid.UUID, status domain.OutcomeStatus, value map[string]any) {
	for i := range snap.Outcomes {
		if snap.Outcomes[i].RequirementID == requirementID {
			snap.Outcomes[i].Status = status
			if value != nil {
				snap.Outcomes[i].ExtractedValue = value
			}
			return
		}
	}
	snap.Outcomes = append(snap.Outcomes, domain.Outcome{
		RequirementID:  requirementID,
		Status:         status,
		ExtractedValue: value,
	})
}
